package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbd-testing/teststage/pkg/filesystem/plainfs"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(""))
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig().ReportsDir, cfg.ReportsDir)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultRunTimeout, cfg.RunTimeout)
	assert.Equal(t, plainfs.PlainFS{}, cfg.FileSystem)
}

func TestParseConfigYAML(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(`
reports_dir: /tmp/reports
compose_command: [docker-compose]
primary_service: server
teardown_timeout: 2m
run_timeout: 45m
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/reports", cfg.ReportsDir)
	assert.Equal(t, []string{"docker-compose"}, cfg.ComposeCommand)
	assert.Equal(t, "server", cfg.PrimaryService)
	assert.Equal(t, "nodemanager", cfg.WorkerService)
	assert.Equal(t, 2*time.Minute, cfg.TeardownTimeout)
	assert.Equal(t, 45*time.Minute, cfg.RunTimeout)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
}

func TestParseConfigJSON(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(`{"results_file": "records.bin"}`))
	require.NoError(t, err)
	assert.Equal(t, "records.bin", cfg.ResultsFile)
}

func TestParseConfigInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":       "reprots_dir: x",
		"unknown fs":        "filesystem: zfs",
		"empty compose":     "compose_command: []",
		"empty reports dir": `reports_dir: ""`,
		"zero run timeout":  "run_timeout: 0s",
		"bad yaml":          "reports_dir: [",
	}
	for name, in := range cases {
		_, err := ParseConfig(strings.NewReader(in))
		assert.Error(t, err, name)
	}
}

func TestConfigCheck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfigurationsDir = t.TempDir()
	cfg.OutputDir = t.TempDir()
	require.NoError(t, cfg.Check())

	cfg.Timeout = 0
	assert.Error(t, cfg.Check())

	cfg = DefaultConfig()
	cfg.ConfigurationsDir = "/does/not/exist"
	cfg.OutputDir = t.TempDir()
	assert.Error(t, cfg.Check())
}
