// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package config loads the device configuration: a TOML file for tunables
// and an optional INI identity file provisioned at manufacturing time.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/ini.v1"
)

const (
	HostnameKey          = "ota.hostname"
	PortKey              = "ota.port"
	PasswordKey          = "ota.password"
	CheckIntervalKey     = "ota.check_interval"
	StatusLogIntervalKey = "ota.status_log_interval"
	ErrorLogIntervalKey  = "ota.error_log_interval"
	GraceDelayKey        = "ota.restart_grace"

	WatchdogTimeoutKey       = "watchdog.timeout"
	WatchdogStatsIntervalKey = "watchdog.stats_interval"

	SensorIntervalKey  = "tasks.sensor_interval"
	MonitorIntervalKey = "tasks.monitor_interval"

	StorageDirKey   = "storage.path"
	JournalFileKey  = "storage.journal"
	IdentityFileKey = "identity.path"

	PortDefault            = 3232
	CheckIntervalDefault   = 250 * time.Millisecond
	StatusLogDefault       = time.Minute
	ErrorLogDefault        = 10 * time.Second
	GraceDelayDefault      = time.Second
	WatchdogTimeoutDefault = 10 * time.Second
	StatsIntervalDefault   = time.Minute
	SensorIntervalDefault  = 5 * time.Second
	MonitorIntervalDefault = 30 * time.Second

	StorageDefaultDir  = "/var/lib/otamgr"
	JournalDefaultFile = "journal.db"
)

// DefaultPathOrder is where NewConfig looks for the TOML file when the
// caller does not override the search paths.
var DefaultPathOrder = []string{
	"/etc/otamgr/otamgr.toml",
	"/var/lib/otamgr/otamgr.toml",
}

type Config struct {
	tree     *toml.Tree
	identity *ini.File
}

// NewConfig loads the first existing TOML file from the given paths, then
// the identity INI file it points at, if any.
func NewConfig(tomlPaths []string) (*Config, error) {
	if len(tomlPaths) == 0 {
		return nil, fmt.Errorf("config: no TOML paths provided")
	}

	var tree *toml.Tree
	for _, p := range tomlPaths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		var err error
		if tree, err = toml.LoadFile(p); err != nil {
			return nil, fmt.Errorf("config: failed to load TOML from %q: %w", p, err)
		}
		slog.Debug("loaded configuration", "path", p)
		break
	}
	if tree == nil {
		return nil, fmt.Errorf("config: none of the paths exist: %v", tomlPaths)
	}

	cfg := &Config{tree: tree}
	if path := cfg.getString(IdentityFileKey, ""); path != "" {
		identity, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to load identity file %q: %w", path, err)
		}
		cfg.identity = identity
	}

	if port := cfg.Port(); port == 0 {
		return nil, fmt.Errorf("config: %q cannot be 0", PortKey)
	}
	return cfg, nil
}

// Hostname resolves the device identity used for update announcements:
// the TOML override wins, then the provisioned identity file, then the OS
// hostname.
func (c *Config) Hostname() string {
	if v := c.getString(HostnameKey, ""); v != "" {
		return v
	}
	if c.identity != nil {
		if v := c.identity.Section("device").Key("hostname").String(); v != "" {
			return v
		}
	}
	host, err := os.Hostname()
	if err != nil {
		slog.Warn("could not determine OS hostname", "error", err)
		return ""
	}
	return host
}

// HardwareID returns the provisioned hardware identifier, if any.
func (c *Config) HardwareID() string {
	if c.identity == nil {
		return ""
	}
	return c.identity.Section("device").Key("hardware_id").String()
}

func (c *Config) Port() uint16 {
	v := c.getString(PortKey, strconv.Itoa(PortDefault))
	port, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		slog.Warn("invalid port value; using default", "value", v, "default", PortDefault)
		return PortDefault
	}
	return uint16(port)
}

func (c *Config) Password() string {
	return c.getString(PasswordKey, "")
}

func (c *Config) CheckInterval() time.Duration {
	return c.getDuration(CheckIntervalKey, CheckIntervalDefault)
}

func (c *Config) StatusLogInterval() time.Duration {
	return c.getDuration(StatusLogIntervalKey, StatusLogDefault)
}

func (c *Config) ErrorLogInterval() time.Duration {
	return c.getDuration(ErrorLogIntervalKey, ErrorLogDefault)
}

func (c *Config) RestartGrace() time.Duration {
	return c.getDuration(GraceDelayKey, GraceDelayDefault)
}

func (c *Config) WatchdogTimeout() time.Duration {
	return c.getDuration(WatchdogTimeoutKey, WatchdogTimeoutDefault)
}

func (c *Config) WatchdogStatsInterval() time.Duration {
	return c.getDuration(WatchdogStatsIntervalKey, StatsIntervalDefault)
}

func (c *Config) SensorInterval() time.Duration {
	return c.getDuration(SensorIntervalKey, SensorIntervalDefault)
}

func (c *Config) MonitorInterval() time.Duration {
	return c.getDuration(MonitorIntervalKey, MonitorIntervalDefault)
}

func (c *Config) StorageDir() string {
	return c.getString(StorageDirKey, StorageDefaultDir)
}

func (c *Config) JournalPath() string {
	return filepath.Join(c.StorageDir(), c.getString(JournalFileKey, JournalDefaultFile))
}

func (c *Config) getString(key, def string) string {
	v := c.tree.Get(key)
	if v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		slog.Warn("unexpected config value type; using default", "key", key, "default", def)
		return def
	}
}

func (c *Config) getDuration(key string, def time.Duration) time.Duration {
	v := c.getString(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in config; using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
