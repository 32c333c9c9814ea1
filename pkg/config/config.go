// Package config loads the optional YAML file of the pulse counter
// binaries. Values from the file seed the defaults of the env packages,
// command line flags still take precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML file.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Service   ServiceConfig   `yaml:"service"`
	Counter   CounterConfig   `yaml:"counter"`
	Client    ClientConfig    `yaml:"client"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// ---- DEVICE ----

// DeviceConfig selects the pulse counter device.
type DeviceConfig struct {
	URL           string `yaml:"url"`
	CallTimeoutMs int    `yaml:"call_timeout_ms"`
}

// ---- SERVICE ----

// ServiceConfig describes the counter service and where it is reachable.
type ServiceConfig struct {
	Type        string            `yaml:"type"`
	ID          string            `yaml:"id"`
	Description string            `yaml:"description"`
	Labels      map[string]string `yaml:"labels"`
	MQTT        string            `yaml:"mqtt"`
	// Listen and WSListen are pointers, an explicit "" disables them.
	Listen   *string `yaml:"listen"`
	WSListen *string `yaml:"ws_listen"`
}

// ---- COUNTER ----

// CounterConfig tunes acquisitions.
type CounterConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
	// DefaultTimeoutMs 0 waits forever, unset keeps the built-in default.
	DefaultTimeoutMs *int `yaml:"default_timeout_ms"`
}

// ---- CLIENT ----

// ClientConfig tells clients which service to use.
type ClientConfig struct {
	Registry string `yaml:"registry"`
	// Counter is TYPE/ID.
	Counter string `yaml:"counter"`
}

// ---- SIMULATOR ----

// SimulatorConfig models the simulated device.
type SimulatorConfig struct {
	Rate         float64           `yaml:"rate"`
	PinRates     map[int32]float64 `yaml:"pin_rates"`
	OverrunMs    int               `yaml:"overrun_ms"`
	Stall        bool              `yaml:"stall"`
	SerialNumber uint32            `yaml:"serial_number"`
}

// Parse decodes a YAML document, unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

// Load reads, validates and normalizes the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	Normalize(cfg)
	return cfg, nil
}
