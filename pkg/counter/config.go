package counter

import (
	"flag"
	"time"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/acquisition"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
)

// Config defines the behavior of the counter service.
type Config struct {
	PollInterval time.Duration
	// DefaultTimeout applies to counts asking for UseDefaultTimeout.
	// Zero keeps polling until the device finishes.
	DefaultTimeout time.Duration
}

var defaultConfig = Config{
	PollInterval:   acquisition.DefaultPollInterval,
	DefaultTimeout: 10 * time.Second,
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.DurationVar(&defaultConfig.PollInterval, "poll-interval", defaultConfig.PollInterval, "Interval of state reads while waiting for a count.")
	flag.DurationVar(&defaultConfig.DefaultTimeout, "count-timeout", defaultConfig.DefaultTimeout, "Polling timeout of counts asking for the service default, 0 waits forever.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates the default configuration.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// NewController creates the Controller on link publishing events to reg.
func (c *Config) NewController(link device.Link, reg l1.Registrar) *Controller {
	ctl := NewController(link, reg)
	ctl.Acq.PollInterval = c.PollInterval
	ctl.DefaultTimeout = c.DefaultTimeout
	return ctl
}
