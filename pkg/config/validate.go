package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
)

var deviceSchemes = map[string]bool{
	"serial":     true,
	"tcp":        true,
	"ws":         true,
	"wss":        true,
	"sim":        true,
	"modbus+tcp": true,
	"modbus+rtu": true,
}

var registrySchemes = map[string]bool{
	"mqtt": true,
	"tcp":  true,
	"ws":   true,
	"wss":  true,
}

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if u := cfg.Device.URL; u != "" && !strings.HasPrefix(u, "/") {
		parsed, err := url.Parse(u)
		if err != nil {
			return fmt.Errorf("device.url: %w", err)
		}
		if !deviceSchemes[parsed.Scheme] {
			return fmt.Errorf("device.url: unsupported scheme %q", parsed.Scheme)
		}
	}
	if cfg.Device.CallTimeoutMs < 0 {
		return fmt.Errorf("device.call_timeout_ms must not be negative")
	}

	if strings.Contains(cfg.Service.Type, "/") || strings.Contains(cfg.Service.ID, "/") {
		return fmt.Errorf("service.type and service.id must not contain '/'")
	}
	if u := cfg.Service.MQTT; u != "" {
		parsed, err := url.Parse(u)
		if err != nil {
			return fmt.Errorf("service.mqtt: %w", err)
		}
		switch parsed.Scheme {
		case "mqtt", "mqtts", "tcp", "ssl", "ws", "wss":
		default:
			return fmt.Errorf("service.mqtt: unsupported scheme %q", parsed.Scheme)
		}
	}

	if cfg.Counter.PollIntervalMs < 0 {
		return fmt.Errorf("counter.poll_interval_ms must not be negative")
	}
	if p := cfg.Counter.DefaultTimeoutMs; p != nil && *p < 0 {
		return fmt.Errorf("counter.default_timeout_ms must not be negative")
	}

	if u := cfg.Client.Registry; u != "" {
		parsed, err := url.Parse(u)
		if err != nil {
			return fmt.Errorf("client.registry: %w", err)
		}
		if !registrySchemes[parsed.Scheme] {
			return fmt.Errorf("client.registry: unsupported scheme %q", parsed.Scheme)
		}
	}
	if cfg.Client.Counter != "" {
		if _, err := l1.ParseControllerRef(cfg.Client.Counter); err != nil {
			return fmt.Errorf("client.counter: %w", err)
		}
	}

	sim := &cfg.Simulator
	if sim.Rate < 0 {
		return fmt.Errorf("simulator.rate must not be negative")
	}
	for pin, rate := range sim.PinRates {
		if pin < 0 || rate < 0 {
			return fmt.Errorf("simulator.pin_rates: invalid %d: %g", pin, rate)
		}
	}
	if sim.OverrunMs < 0 {
		return fmt.Errorf("simulator.overrun_ms must not be negative")
	}
	return nil
}
