package sim

import (
	"flag"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config defines the behavior of a simulated pulse counter.
type Config struct {
	// Rate is the pulse rate (Hz) on pins without an entry in PinRates.
	Rate     float64
	PinRates PinRates
	// Overrun delays the end of a count past its nominal duration.
	Overrun time.Duration
	// Stall keeps the device counting forever.
	Stall        bool
	SerialNumber uint32
}

// Defaults
const (
	DefaultRate         float64 = 1000
	DefaultSerialNumber uint32  = 0x5043
)

var defaultConfig = Config{
	Rate:         DefaultRate,
	PinRates:     PinRates{},
	SerialNumber: DefaultSerialNumber,
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.Float64Var(&defaultConfig.Rate, "sim-rate", defaultConfig.Rate, "Pulse rate (Hz) of pins without a specific rate.")
	flag.Var(&defaultConfig.PinRates, "sim-pin-rate", "Pulse rate of a pin as PIN=HZ, repeatable or comma separated.")
	flag.DurationVar(&defaultConfig.Overrun, "sim-overrun", defaultConfig.Overrun, "Extra time the device keeps counting after the requested duration.")
	flag.BoolVar(&defaultConfig.Stall, "sim-stall", defaultConfig.Stall, "Never finish counting.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates the default configuration.
func NewConfig() *Config {
	conf := defaultConfig
	conf.PinRates = defaultConfig.PinRates.clone()
	return &conf
}

// ApplyQuery overrides the config from URL query parameters
// rate, pin_rate, overrun and stall.
func (c *Config) ApplyQuery(q url.Values) error {
	if v := q.Get("rate"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate < 0 {
			return fmt.Errorf("invalid rate %q", v)
		}
		c.Rate = rate
	}
	for _, v := range q["pin_rate"] {
		if err := c.PinRates.Set(v); err != nil {
			return err
		}
	}
	if v := q.Get("overrun"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid overrun %q: %w", v, err)
		}
		c.Overrun = d
	}
	if v := q.Get("stall"); v != "" {
		stall, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid stall %q", v)
		}
		c.Stall = stall
	}
	return nil
}

// RateOf returns the pulse rate of pin.
func (c *Config) RateOf(pin int32) float64 {
	if rate, ok := c.PinRates[pin]; ok {
		return rate
	}
	return c.Rate
}

// NewDevice creates a Device.
func (c *Config) NewDevice() *Device {
	return NewDevice(*c)
}

// PinRates maps pins to pulse rates, it implements flag.Value.
type PinRates map[int32]float64

// String implements flag.Value.
func (r PinRates) String() string {
	pins := make([]int, 0, len(r))
	for pin := range r {
		pins = append(pins, int(pin))
	}
	sort.Ints(pins)
	strs := make([]string, len(pins))
	for n, pin := range pins {
		strs[n] = fmt.Sprintf("%d=%g", pin, r[int32(pin)])
	}
	return strings.Join(strs, ",")
}

// Set implements flag.Value.
func (r *PinRates) Set(s string) error {
	if *r == nil {
		*r = make(PinRates)
	}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item == "" {
			continue
		}
		kv := strings.SplitN(item, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("invalid pin rate %q, expect PIN=HZ", item)
		}
		pin, err := strconv.ParseInt(kv[0], 0, 32)
		if err != nil {
			return fmt.Errorf("invalid pin in %q", item)
		}
		rate, err := strconv.ParseFloat(kv[1], 64)
		if err != nil || rate < 0 {
			return fmt.Errorf("invalid rate in %q", item)
		}
		(*r)[int32(pin)] = rate
	}
	return nil
}

func (r PinRates) clone() PinRates {
	c := make(PinRates, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}
