package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/osbuild-storage/internal/disk"
	"github.com/osbuild/osbuild-storage/internal/probe"
	"github.com/osbuild/osbuild-storage/internal/udev"
)

const defaultConfigPath = "/etc/osbuild-storage/osbuild-storage.toml"

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

type udevConfig struct {
	Enabled       bool     `toml:"enabled"`
	SettleCommand []string `toml:"settle_command"`
	Backoff       duration `toml:"backoff"`
}

type metricsConfig struct {
	// host:port of the /metrics listener, disabled when empty
	Listen string `toml:"listen"`
}

type sentryConfig struct {
	DSN         string `toml:"dsn"`
	Environment string `toml:"environment"`
}

type storageConfig struct {
	// probe dumps are kept here, disabled when empty
	LogDir string `toml:"log_dir"`
	// one of auto, bios, uefi, prep or none
	Bootloader     string   `toml:"bootloader"`
	ProbeTimeout   duration `toml:"probe_timeout"`
	ProberCommand  []string `toml:"prober_command"`
	MachineConfig  string   `toml:"machine_config"`
	ExcludeDevices []string `toml:"exclude_devices"`
	DebugFlags     []string `toml:"debug_flags"`

	Udev    udevConfig     `toml:"udev"`
	Metrics *metricsConfig `toml:"metrics"`
	Sentry  *sentryConfig  `toml:"sentry"`
}

var knownDebugFlags = map[string]bool{
	probe.DebugFailFull:       true,
	probe.DebugFailRestricted: true,
}

func parseConfig(file string) (*storageConfig, error) {
	// set defaults
	config := storageConfig{
		LogDir:        "/var/log/installer",
		Bootloader:    "auto",
		ProbeTimeout:  duration{probe.DefaultTimeout},
		ProberCommand: probe.DefaultProberCommand,
		Udev: udevConfig{
			Enabled:       true,
			SettleCommand: udev.DefaultSettleCommand,
			Backoff:       duration{udev.DefaultBackoff},
		},
	}

	_, err := toml.DecodeFile(file, &config)
	if err != nil {
		// A non-existing config isn't an error, use defaults in this case.
		if !os.IsNotExist(err) {
			return nil, err
		}
		logrus.Info("Configuration file not found, using defaults")
	}

	if config.Bootloader != "auto" {
		if _, err := disk.ParseBootloader(config.Bootloader); err != nil {
			return nil, err
		}
	}
	if config.ProbeTimeout.Duration <= 0 {
		return nil, fmt.Errorf("invalid probe_timeout: %s", config.ProbeTimeout)
	}
	if config.Udev.Backoff.Duration <= 0 {
		return nil, fmt.Errorf("invalid udev backoff: %s", config.Udev.Backoff)
	}
	if len(config.ProberCommand) == 0 || len(config.Udev.SettleCommand) == 0 {
		return nil, fmt.Errorf("prober_command and settle_command must not be empty")
	}
	for _, flag := range config.DebugFlags {
		if !knownDebugFlags[flag] {
			return nil, fmt.Errorf("unknown debug flag %q", flag)
		}
	}
	if _, err := disk.NewDeviceFilter(config.ExcludeDevices); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"log_dir":        config.LogDir,
		"bootloader":     config.Bootloader,
		"probe_timeout":  config.ProbeTimeout.String(),
		"prober_command": strings.Join(config.ProberCommand, " "),
		"machine_config": config.MachineConfig,
		"udev":           config.Udev.Enabled,
	}).Info("effective configuration")

	return &config, nil
}

func (c *storageConfig) bootloader() disk.Bootloader {
	if c.Bootloader == "auto" {
		return disk.DetectBootloader()
	}
	b, _ := disk.ParseBootloader(c.Bootloader)
	return b
}
