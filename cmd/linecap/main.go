package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/linecap/internal/config"
	"github.com/yanet-platform/linecap/internal/engine"
	"github.com/yanet-platform/linecap/internal/logging"
)

var cmd Cmd

// Cmd is the command line arguments, bound 1:1 to spec.md §6.3's flag table
// plus the ambient config-file/logging flags every teacher entrypoint carries.
type Cmd struct {
	ConfigPath string

	OutputTemplate string
	StatsDisplay   bool

	RxMbufs       int
	MbufSize      string
	PoolSize      int
	BufferLength  string
	QueuesPerPort int

	DescriptorMatrix string

	BurstSize int

	RotateSecs    int
	FileSizeLimit string

	PortMaskHex string

	FlowControl bool

	LogFile string
	Verbose bool
}

var rootCmd = &cobra.Command{
	Use:           "linecap",
	Short:         "Line-rate packet capture engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(cmd)
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to an optional YAML configuration overlay")

	flags.StringVarP(&cmd.OutputTemplate, "output", "w", "", "Output filename template")
	flags.BoolVarP(&cmd.StatsDisplay, "stats", "S", false, "Enable periodic stats display")
	flags.IntVarP(&cmd.RxMbufs, "rx-mbufs", "m", 0, "Receive mbufs per queue (power of two)")
	flags.StringVarP(&cmd.MbufSize, "mbuf-size", "i", "", "Mbuf size, e.g. 2KB")
	flags.IntVarP(&cmd.PoolSize, "pool-size", "n", 0, "Staging-buffer pool size per queue")
	flags.StringVarP(&cmd.BufferLength, "buffer-length", "j", "", "Staging-buffer length, e.g. 128MB")
	flags.IntVarP(&cmd.QueuesPerPort, "queues", "q", 0, "Queues per port")
	flags.StringVarP(&cmd.DescriptorMatrix, "descriptors", "d", "", "RX descriptor count, scalar or per-port k.v,l-m.v")
	flags.IntVarP(&cmd.BurstSize, "burst", "b", 0, "Receive burst size")
	flags.IntVarP(&cmd.RotateSecs, "rotate-secs", "r", 0, "Time-rotate interval in seconds")
	flags.StringVarP(&cmd.FileSizeLimit, "file-size", "f", "", "Size-rotate threshold, e.g. 1GB")
	flags.StringVarP(&cmd.PortMaskHex, "port-mask", "p", "", "Port mask, hex")
	flags.BoolVarP(&cmd.FlowControl, "flow-control", "z", false, "Enable PAUSE-based flow control")
	flags.StringVar(&cmd.LogFile, "logs", "", "Redirect logging to the named file")
	flags.BoolVarP(&cmd.Verbose, "verbose", "v", false, "Enable debug-level logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	cfg, err := config.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyFlagOverrides(cfg, cmd); err != nil {
		return fmt.Errorf("invalid flag value: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, sync, err := logging.New(logging.Options{Verbose: cmd.Verbose, LogFile: cmd.LogFile})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer sync()

	eng, err := engine.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg, gctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return eng.Run(gctx)
	})
	wg.Go(func() error {
		sig, err := waitInterrupted(gctx)
		if sig != nil {
			log.Infow("caught signal, shutting down", "signal", sig)
			cancel()
		}
		return err
	})

	if err := wg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applyFlagOverrides overlays explicitly set cobra flags onto cfg, which
// already carries the defaults-then-YAML-overlay result of LoadConfig.
// Unset flags (zero value) leave the loaded configuration untouched.
func applyFlagOverrides(cfg *config.Config, cmd Cmd) error {
	if cmd.OutputTemplate != "" {
		cfg.OutputTemplate = cmd.OutputTemplate
	}
	if cmd.StatsDisplay {
		cfg.StatsDisplay = true
	}
	if cmd.RxMbufs != 0 {
		cfg.RxMbufs = cmd.RxMbufs
	}
	if cmd.MbufSize != "" {
		if err := cfg.MbufSize.UnmarshalText([]byte(cmd.MbufSize)); err != nil {
			return fmt.Errorf("-i %q: %w", cmd.MbufSize, err)
		}
	}
	if cmd.PoolSize != 0 {
		cfg.PoolSize = cmd.PoolSize
	}
	if cmd.BufferLength != "" {
		if err := cfg.BufferLength.UnmarshalText([]byte(cmd.BufferLength)); err != nil {
			return fmt.Errorf("-j %q: %w", cmd.BufferLength, err)
		}
	}
	if cmd.QueuesPerPort != 0 {
		cfg.QueuesPerPort = cmd.QueuesPerPort
	}
	if cmd.DescriptorMatrix != "" {
		cfg.DescriptorMatrix = cmd.DescriptorMatrix
	}
	if cmd.BurstSize != 0 {
		cfg.BurstSize = cmd.BurstSize
	}
	if cmd.RotateSecs != 0 {
		cfg.RotateSeconds = time.Duration(cmd.RotateSecs) * time.Second
	}
	if cmd.FileSizeLimit != "" {
		if err := cfg.FileSizeLimit.UnmarshalText([]byte(cmd.FileSizeLimit)); err != nil {
			return fmt.Errorf("-f %q: %w", cmd.FileSizeLimit, err)
		}
	}
	if cmd.PortMaskHex != "" {
		mask, err := strconv.ParseUint(cmd.PortMaskHex, 16, 64)
		if err != nil {
			return fmt.Errorf("-p %q: %w", cmd.PortMaskHex, err)
		}
		cfg.PortMask = mask
	}
	if cmd.FlowControl {
		cfg.FlowControl = true
	}
	if cmd.LogFile != "" {
		cfg.LogFile = cmd.LogFile
	}
	if cmd.Verbose {
		cfg.Verbose = true
	}
	return nil
}

// waitInterrupted blocks until SIGINT/SIGTERM or ctx cancellation,
// returning the signal received (nil if ctx was canceled first).
func waitInterrupted(ctx context.Context) (os.Signal, error) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		return sig, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
