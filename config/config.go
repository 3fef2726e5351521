// Copyright 2026 The assetfetch Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Settings holds the runtime knobs of the fetch pipeline. A Settings
// value is read once at construction and treated as immutable
// afterward.
type Settings struct {
	// BandwidthKBPS is the advisory cap on fetch bandwidth in
	// kilobits per second. Zero means uncapped. The pipeline records
	// transfer volume against the cap; enforcement belongs to the
	// transport layer.
	BandwidthKBPS float64 `yaml:"bandwidth_kbps" env:"ASSETFETCH_BANDWIDTH_KBPS"`

	// DisableRangeRequests drops the Range header from HTTP fetches,
	// for servers with broken byte-range support.
	DisableRangeRequests bool `yaml:"disable_range_requests" env:"ASSETFETCH_DISABLE_RANGE_REQUESTS"`

	// DisableDecode skips the decode stage; fetched bytes still land
	// in the cache.
	DisableDecode bool `yaml:"disable_decode" env:"ASSETFETCH_DISABLE_DECODE"`

	// PipelinedHTTP selects the larger admission watermarks used when
	// the transport multiplexes requests per connection.
	PipelinedHTTP bool `yaml:"pipelined_http" env:"ASSETFETCH_PIPELINED_HTTP"`

	// AttemptTimeout is the client-side timeout on each HTTP attempt
	// when no timeout policy is supplied.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"ASSETFETCH_ATTEMPT_TIMEOUT"`
}

// Default returns Settings with production defaults.
func Default() Settings {
	return Settings{
		BandwidthKBPS:  500,
		AttemptTimeout: 30 * time.Second,
	}
}

// LoadFromFile reads Settings from a YAML file. Keys absent from the
// file keep their defaults.
func LoadFromFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config file: %w", err)
	}

	s := Default()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse config file: %w", err)
	}
	return s, nil
}

// LoadFromEnv overlays values from ASSETFETCH_* environment variables.
func (s *Settings) LoadFromEnv() error {
	if err := env.Parse(s); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// Validate validates the settings.
func (s *Settings) Validate() error {
	if s.BandwidthKBPS < 0 {
		return errors.New("config: bandwidth_kbps must not be negative")
	}
	if s.AttemptTimeout < 0 {
		return errors.New("config: attempt_timeout must not be negative")
	}
	return nil
}
