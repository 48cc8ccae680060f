package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanet-platform/linecap/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.OutputTemplate = filepath.Join(dir, "capture")
	cfg.PoolSize = 2
	cfg.BufferLength = 64 * 1024
	cfg.QueuesPerPort = 1
	cfg.PortMask = 0x1
	cfg.RxMbufs = 64
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewProvisionsOnePipelinePerPortQueue(t *testing.T) {
	cfg := testConfig(t)
	cfg.PortMask = 0b11
	cfg.QueuesPerPort = 2

	e, err := New(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Len(t, e.pipelines, 4) // 2 ports x 2 queues
	assert.Len(t, e.ports, 2)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	e, err := New(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not shut down after context cancellation")
	}

	assert.NoError(t, e.Close())
}

func TestRunWritesCaptureFileOnShutdown(t *testing.T) {
	cfg := testConfig(t)
	e, err := New(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not shut down")
	}

	entries, err := os.ReadDir(filepath.Dir(cfg.OutputTemplate))
	require.NoError(t, err)
	var sawPcap bool
	for _, ent := range entries {
		if filepath.Ext(ent.Name()) == ".pcap" {
			sawPcap = true
		}
	}
	assert.True(t, sawPcap, "expected at least one .pcap file after shutdown")
}
