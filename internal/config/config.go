// Package config implements the CLI surface of spec.md §6.3 plus an
// optional YAML overlay, following the teacher's Config/Validate/
// DefaultConfig convention.
package config

import (
	"fmt"
	"math/bits"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/linecap/internal/device"
	"github.com/yanet-platform/linecap/internal/writer"
)

// Config is the full set of tunables from spec.md §6.3, plus the
// ambient logging/config-file fields every teacher entrypoint carries.
type Config struct {
	OutputTemplate string `yaml:"output_template"` // -w
	StatsDisplay   bool   `yaml:"stats_display"`    // -S

	RxMbufs       int               `yaml:"rx_mbufs"`        // -m
	MbufSize      datasize.ByteSize `yaml:"mbuf_size"`       // -i
	PoolSize      int               `yaml:"pool_size"`       // -n
	BufferLength  datasize.ByteSize `yaml:"buffer_length"`   // -j
	QueuesPerPort int               `yaml:"queues_per_port"` // -q

	DescriptorMatrix string `yaml:"descriptor_matrix"` // -d

	BurstSize int `yaml:"burst_size"` // -b

	RotateSeconds time.Duration     `yaml:"rotate_seconds"` // -r
	FileSizeLimit datasize.ByteSize `yaml:"file_size_limit"` // -f

	PortMask uint64 `yaml:"port_mask"` // -p

	FlowControl bool `yaml:"flow_control"` // -z

	LogFile string `yaml:"log_file"` // --logs
	Verbose bool   `yaml:"verbose"`

	Snaplen int `yaml:"snaplen"`
}

// DefaultConfig returns the default configuration, matching the
// defaults called out in spec.md §6.3.
func DefaultConfig() *Config {
	return &Config{
		OutputTemplate: "capture",
		RxMbufs:        1024,
		MbufSize:       2 * datasize.KB,
		PoolSize:       4,
		BufferLength:   128 * datasize.MB,
		QueuesPerPort:  1,
		BurstSize:      128,
		PortMask:       0x1,
		Snaplen:        65535,
	}
}

// LoadConfig reads an optional YAML overlay onto DefaultConfig, the
// teacher's coordinator.LoadConfig pattern. An empty path returns the
// defaults unmodified.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration is internally consistent, returning
// the first "configuration error" found per spec.md §7.
func (c *Config) Validate() error {
	if err := writer.ValidateTemplate(c.OutputTemplate); err != nil {
		return err
	}
	if !isPow2(c.RxMbufs) {
		return fmt.Errorf("config: -m (rx mbufs) must be a power of two, got %d", c.RxMbufs)
	}
	if !isPow2(c.PoolSize) {
		return fmt.Errorf("config: -n (pool size) must be a power of two, got %d", c.PoolSize)
	}
	if c.BufferLength <= 0 || !isPow2(int(c.BufferLength)) {
		return fmt.Errorf("config: -j (buffer length) must be a positive power of two, got %s", c.BufferLength)
	}
	if c.QueuesPerPort < 1 {
		return fmt.Errorf("config: -q (queues per port) must be >= 1, got %d", c.QueuesPerPort)
	}
	if c.BurstSize < 1 {
		return fmt.Errorf("config: -b (burst size) must be >= 1, got %d", c.BurstSize)
	}
	if c.PortMask == 0 {
		return fmt.Errorf("config: -p (port mask) selects no ports")
	}
	if c.DescriptorMatrix != "" {
		if _, err := ParseDescriptorMatrix(c.DescriptorMatrix); err != nil {
			return fmt.Errorf("config: -d: %w", err)
		}
	}
	return nil
}

func isPow2(n int) bool { return n > 0 && n&(n-1) == 0 }

// Ports returns the port indices selected by PortMask, per spec.md
// §6.3's -p HEX flag.
func (c *Config) Ports() []int {
	var ports []int
	mask := c.PortMask
	for mask != 0 {
		idx := bits.TrailingZeros64(mask)
		ports = append(ports, idx)
		mask &^= 1 << idx
	}
	return ports
}

// ForPort deep-copies the base configuration so per-port worker setup
// (which resolves the descriptor matrix to a single depth) can't
// accidentally mutate shared state across ports, mirroring the
// teacher's use of mohae/deepcopy when branching a base config per
// instance.
func (c *Config) ForPort(port int) (*Config, int) {
	clone := deepcopy.Copy(*c).(Config)

	depth := device.DefaultDescriptorDepth
	if clone.DescriptorMatrix != "" {
		if m, err := ParseDescriptorMatrix(clone.DescriptorMatrix); err == nil {
			if d := m.For(port); d > 0 {
				depth = d
			}
		}
	}
	return &clone, depth
}
