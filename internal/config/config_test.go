package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsNonPowerOfTwoPoolSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoolSize = 3
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyPortMask(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PortMask = 0
	assert.Error(t, cfg.Validate())
}

func TestPortsFromMask(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PortMask = 0b1011
	assert.Equal(t, []int{0, 1, 3}, cfg.Ports())
}

func TestLoadConfigOverlaysYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	content := "output_template: \"/data/cap\"\nqueues_per_port: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/cap", cfg.OutputTemplate)
	assert.Equal(t, 2, cfg.QueuesPerPort)
	assert.Equal(t, DefaultConfig().BurstSize, cfg.BurstSize, "unset fields keep their defaults")
}

func TestForPortResolvesDescriptorMatrix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DescriptorMatrix = "0.512,1-2.2048"

	portCfg0, depth0 := cfg.ForPort(0)
	_, depth1 := cfg.ForPort(1)
	_, depth2 := cfg.ForPort(2)

	assert.Equal(t, 512, depth0)
	assert.Equal(t, 2048, depth1)
	assert.Equal(t, 2048, depth2)
	assert.Equal(t, cfg.OutputTemplate, portCfg0.OutputTemplate)
}
