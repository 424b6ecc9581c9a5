// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package config loads engine settings from an ini file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/ini.v1"
)

// Config is the engine configuration. Zero values mean "use the client's
// default".
type Config struct {
	General General `ini:"general"`
}

type General struct {
	// StateDir holds the session blob and QR image.
	StateDir string `ini:"state_dir"`
	// MediaDir is where downloaded media files are stored.
	MediaDir string `ini:"media_dir"`
	// UserAgent overrides the browser User-Agent presented to the service.
	UserAgent string `ini:"user_agent"`
	// Browser picks the TLS fingerprint: chrome, firefox, safari.
	Browser string `ini:"browser"`
	// Proxy is an http://, https:// or socks5:// proxy address.
	Proxy string `ini:"proxy"`
	// ConnectTimeoutSeconds bounds every call except the sync long poll.
	ConnectTimeoutSeconds int `ini:"connect_timeout"`
	// SyncTimeoutSeconds bounds the sync-check long poll and must exceed
	// the server's hold time.
	SyncTimeoutSeconds int `ini:"sync_timeout"`
	// MaxAttempts is the rate-gate ceiling per operation window.
	MaxAttempts int `ini:"max_attempts"`
	Debug       bool `ini:"debug"`
}

// DefaultPath returns the XDG location of the config file.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "webwx", "config.ini")
}

func defaults() *Config {
	return &Config{
		General: General{
			StateDir:              filepath.Join(xdg.DataHome, "webwx"),
			MediaDir:              filepath.Join(xdg.DataHome, "webwx", "media"),
			Browser:               "chrome",
			ConnectTimeoutSeconds: 30,
			SyncTimeoutSeconds:    60,
			MaxAttempts:           10,
		},
	}
}

// Load reads the config file at path, falling back to defaults for
// anything unset. A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	file, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	if err := file.MapTo(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
