// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Pacing and serial defaults. An fps outside [1, MaxFPS] is rejected,
// by the file loader and by the control plane alike.
const (
	DefaultFPS      = 30
	MaxFPS          = 30
	DefaultBufferMS = 1000
	DefaultBaud     = 9600
	MaxBaud         = 115200
)

// SerialConfig holds the RS-485 line settings. 8N1 at 9600 baud
// unless the file says otherwise.
type SerialConfig struct {
	Device            string `yaml:"device" json:"device"`
	Baud              int    `yaml:"baud" json:"baud"`
	Parity            string `yaml:"parity" json:"parity"`
	DataBits          int    `yaml:"data_bits" json:"data_bits"`
	StopBits          int    `yaml:"stop_bits" json:"stop_bits"`
	InterPanelDelayUS int    `yaml:"interpanel_us" json:"interpanel_us"`
}

// Config is the declarative display configuration file: canvas size,
// pacing, panel list, and serial settings. No runtime state is ever
// written back.
type Config struct {
	Canvas     Canvas       `yaml:"canvas" json:"canvas"`
	FPS        int          `yaml:"fps" json:"fps"`
	BufferMS   int          `yaml:"buffer_ms" json:"buffer_ms"`
	FrameGapMS int          `yaml:"frame_gap_ms" json:"frame_gap_ms"`
	Buffered   bool         `yaml:"buffered" json:"buffered"`
	Panels     []Panel      `yaml:"panels" json:"panels"`
	Serial     SerialConfig `yaml:"serial" json:"serial"`
}

// Load reads and validates a config file. Files ending in .json or
// .jsonc are treated as JSONC (comments and trailing commas allowed);
// everything else is parsed as YAML. There is no search path: the
// caller names exactly one file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading display config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// jsonc strips comments and trailing commas; the result is
		// plain JSON, which the YAML parser accepts as a subset.
		data = jsonc.ToJSON(data)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing display config %s: %w", path, err)
	}

	if err := config.applyDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("validating display config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) applyDefaultsAndValidate() error {
	if c.FPS == 0 {
		c.FPS = DefaultFPS
	}
	if c.FPS < 1 || c.FPS > MaxFPS {
		return fmt.Errorf("fps %d outside [1, %d]", c.FPS, MaxFPS)
	}
	if c.BufferMS == 0 {
		c.BufferMS = DefaultBufferMS
	}
	if c.BufferMS < 0 {
		return fmt.Errorf("buffer_ms %d is negative", c.BufferMS)
	}
	if c.FrameGapMS < 0 {
		return fmt.Errorf("frame_gap_ms %d is negative", c.FrameGapMS)
	}

	if c.Serial.Baud == 0 {
		c.Serial.Baud = DefaultBaud
	}
	if c.Serial.Baud < 0 || c.Serial.Baud > MaxBaud {
		return fmt.Errorf("serial baud %d outside [1, %d]", c.Serial.Baud, MaxBaud)
	}
	if c.Serial.DataBits == 0 {
		c.Serial.DataBits = 8
	}
	if c.Serial.StopBits == 0 {
		c.Serial.StopBits = 1
	}
	switch strings.ToLower(c.Serial.Parity) {
	case "", "none", "n", "even", "e", "odd", "o":
	default:
		return fmt.Errorf("serial parity %q is not none/even/odd", c.Serial.Parity)
	}
	if c.Serial.InterPanelDelayUS < 0 {
		return fmt.Errorf("interpanel_us %d is negative", c.Serial.InterPanelDelayUS)
	}

	// Topology validation covers the panel set.
	_, err := New(c.Canvas, c.Panels, c.Buffered)
	return err
}

// Topology builds the validated topology described by the config.
func (c *Config) Topology() (*Topology, error) {
	return New(c.Canvas, c.Panels, c.Buffered)
}
