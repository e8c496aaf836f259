package main_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	main "github.com/osbuild/osbuild-storage/cmd/osbuild-storage"
	"github.com/osbuild/osbuild-storage/internal/probe"
	"github.com/osbuild/osbuild-storage/internal/udev"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "osbuild-storage.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	config, err := main.ParseConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, "auto", config.Bootloader)
	assert.Equal(t, "/var/log/installer", config.LogDir)
	assert.Equal(t, probe.DefaultTimeout, config.ProbeTimeout.Duration)
	assert.Equal(t, probe.DefaultProberCommand, config.ProberCommand)
	assert.True(t, config.Udev.Enabled)
	assert.Equal(t, udev.DefaultSettleCommand, config.Udev.SettleCommand)
	assert.Equal(t, udev.DefaultBackoff, config.Udev.Backoff.Duration)
	assert.Nil(t, config.Metrics)
	assert.Nil(t, config.Sentry)
}

func TestConfig(t *testing.T) {
	config, err := main.ParseConfig(writeConfig(t, `
log_dir = "/tmp/installer"
bootloader = "uefi"
probe_timeout = "30s"
prober_command = ["/usr/bin/probert", "--storage", "--debug"]
exclude_devices = ["/dev/loop*", "/dev/sr?"]
debug_flags = ["bpfail-full"]

[udev]
enabled = false
backoff = "250ms"

[metrics]
listen = "localhost:9100"

[sentry]
dsn = "https://key@sentry.example.com/1"
environment = "staging"
`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/installer", config.LogDir)
	assert.Equal(t, "uefi", config.Bootloader)
	assert.Equal(t, 30*time.Second, config.ProbeTimeout.Duration)
	assert.Equal(t, []string{"/usr/bin/probert", "--storage", "--debug"}, config.ProberCommand)
	assert.Equal(t, []string{"/dev/loop*", "/dev/sr?"}, config.ExcludeDevices)
	assert.Equal(t, []string{probe.DebugFailFull}, config.DebugFlags)
	assert.False(t, config.Udev.Enabled)
	assert.Equal(t, udev.DefaultSettleCommand, config.Udev.SettleCommand)
	assert.Equal(t, 250*time.Millisecond, config.Udev.Backoff.Duration)
	assert.Equal(t, "localhost:9100", config.Metrics.Listen)
	assert.Equal(t, "staging", config.Sentry.Environment)
}

func TestInvalidConfig(t *testing.T) {
	for name, content := range map[string]string{
		"syntax":         "log_dir = ",
		"bootloader":     `bootloader = "coreboot"`,
		"timeout":        `probe_timeout = "0s"`,
		"bad duration":   `probe_timeout = "soon"`,
		"debug flag":     `debug_flags = ["bpfail-everything"]`,
		"exclude":        `exclude_devices = ["/dev/[sd"]`,
		"prober command": `prober_command = []`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := main.ParseConfig(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}
