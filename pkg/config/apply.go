package config

import (
	"time"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/counter"
	l0env "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l0/env"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/env/connector"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/env/controller"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/sim"
)

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ApplyDevice seeds the device options.
func (c *Config) ApplyDevice(conf *l0env.Config) {
	if c.Device.URL != "" {
		conf.DeviceURL = c.Device.URL
	}
	if c.Device.CallTimeoutMs > 0 {
		conf.CallTimeout = ms(c.Device.CallTimeoutMs)
	}
}

// ApplyService seeds the service identity and registrars.
func (c *Config) ApplyService(conf *controller.Config) {
	s := &c.Service
	if s.Type != "" {
		conf.Info.Ref.Type = s.Type
	}
	if s.ID != "" {
		conf.Info.Ref.ID = s.ID
	}
	if s.Description != "" {
		conf.Info.Meta.Description = s.Description
	}
	if len(s.Labels) > 0 {
		if conf.Info.Meta.Labels == nil {
			conf.Info.Meta.Labels = make(map[string]string)
		}
		for k, v := range s.Labels {
			conf.Info.Meta.Labels[k] = v
		}
	}
	if s.MQTT != "" {
		conf.MQTTBrokerURL = s.MQTT
	}
	if s.Listen != nil {
		conf.ListenAddr = *s.Listen
	}
	if s.WSListen != nil {
		conf.WebsocketAddr = *s.WSListen
	}
}

// ApplyCounter seeds the acquisition settings.
func (c *Config) ApplyCounter(conf *counter.Config) {
	if c.Counter.PollIntervalMs > 0 {
		conf.PollInterval = ms(c.Counter.PollIntervalMs)
	}
	if p := c.Counter.DefaultTimeoutMs; p != nil {
		conf.DefaultTimeout = ms(*p)
	}
}

// ApplyClient seeds the connector options.
func (c *Config) ApplyClient(conf *connector.Config) {
	if c.Client.Registry != "" {
		conf.RegistryURL = c.Client.Registry
	}
	if c.Client.Counter != "" {
		if ref, err := l1.ParseControllerRef(c.Client.Counter); err == nil {
			conf.Ref = ref
		}
	}
}

// ApplySimulator seeds the simulated device.
func (c *Config) ApplySimulator(conf *sim.Config) {
	s := &c.Simulator
	if s.Rate > 0 {
		conf.Rate = s.Rate
	}
	if len(s.PinRates) > 0 {
		if conf.PinRates == nil {
			conf.PinRates = make(sim.PinRates)
		}
		for pin, rate := range s.PinRates {
			conf.PinRates[pin] = rate
		}
	}
	if s.OverrunMs > 0 {
		conf.Overrun = ms(s.OverrunMs)
	}
	if s.Stall {
		conf.Stall = true
	}
	if s.SerialNumber != 0 {
		conf.SerialNumber = s.SerialNumber
	}
}

// ApplyDefaults seeds the defaults of every env package.
func (c *Config) ApplyDefaults() {
	c.ApplyDevice(l0env.Default())
	c.ApplyService(controller.Default())
	c.ApplyCounter(counter.Default())
	c.ApplyClient(connector.Default())
	c.ApplySimulator(sim.Default())
}
