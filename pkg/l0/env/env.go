// Package env opens a pulse counter from a device URL.
package env

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l0/comm"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l0/node"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/modbus"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/sim"
)

// Config provides common options to open a device.
type Config struct {
	// DeviceURL specifies the device, e.g.
	//
	//	serial:///dev/ttyACM0?baud=115200
	//	tcp://localhost:5300
	//	ws://localhost:5301/l0
	//	sim://?rate=1000&pin_rate=3=500
	//	modbus+tcp://host:502?slave=1
	//	modbus+rtu:///dev/ttyUSB0?baud=19200
	DeviceURL   string
	CallTimeout time.Duration
	// OnCountFinished is called for count-finished events of L0 devices.
	OnCountFinished func(count uint32)
}

var defaultConfig = Config{
	DeviceURL:   "sim://",
	CallTimeout: node.DefaultCallTimeout,
}

func init() {
	if val := os.Getenv("PULSE_DEVICE_URL"); val != "" {
		defaultConfig.DeviceURL = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.DeviceURL, "device", defaultConfig.DeviceURL, "Device URL (serial, tcp, ws, sim, modbus+tcp, modbus+rtu)")
	flag.DurationVar(&defaultConfig.CallTimeout, "call-timeout", defaultConfig.CallTimeout, "Timeout of a single device call")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Open opens the device.
func (c *Config) Open() (device.Conn, error) {
	return Open(c.DeviceURL, c.options())
}

func (c *Config) options() node.Options {
	return node.Options{
		CallTimeout:     c.CallTimeout,
		OnCountFinished: c.OnCountFinished,
	}
}

// MustOpen opens the device and fails on error.
func (c *Config) MustOpen() device.Conn {
	conn, err := c.Open()
	if err != nil {
		glog.Exitf("open device %s: %v", c.DeviceURL, err)
	}
	return conn
}

// Open dispatches rawurl to the transport by scheme.
func Open(rawurl string, opts node.Options) (device.Conn, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("invalid device URL: %w", err)
	}
	glog.V(1).Infof("open device %s", rawurl)
	switch {
	case u.Scheme == "sim":
		conf := sim.NewConfig()
		if err := conf.ApplyQuery(u.Query()); err != nil {
			return nil, err
		}
		return OpenSim(conf.NewDevice(), opts), nil
	case strings.HasPrefix(u.Scheme, "modbus+"):
		return modbus.Dial(rawurl)
	default:
		return node.Dial(rawurl, opts)
	}
}

// SimConn is an in-process simulated device behind the L0 link.
type SimConn struct {
	*node.Proxy
	Device *sim.Device

	cancel    context.CancelFunc
	runner    *fx.Runner
	closeOnce sync.Once
}

// OpenSim serves dev over an in-memory stream and connects a Proxy to it.
func OpenSim(dev *sim.Device, opts node.Options) *SimConn {
	host, peer := comm.Pair()
	ctx, cancel := context.WithCancel(context.Background())
	return &SimConn{
		Proxy:  node.NewProxy(host, opts),
		Device: dev,
		cancel: cancel,
		runner: fx.NewRunnerWith(ctx).Go(fx.NamedRun("sim-node", sim.NewNode(dev, peer))),
	}
}

// Close stops the simulated node and the proxy.
func (c *SimConn) Close() (err error) {
	c.closeOnce.Do(func() {
		c.cancel()
		var errs fx.AggregatedError
		errs.Add(c.runner.Wait(), c.Proxy.Close())
		err = errs.Aggregate()
	})
	return
}
