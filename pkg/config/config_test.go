package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/counter"
	l0env "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l0/env"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/env/connector"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/env/controller"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/sim"
)

const sample = `
device:
  url: /dev/ttyACM0
  call_timeout_ms: 500
service:
  type: counter
  id: bench-1
  description: bench counter
  labels:
    room: lab
    empty: ""
  mqtt: mqtt://broker:1883/lab
  listen: ""
  ws_listen: ":8080"
counter:
  poll_interval_ms: 5
  default_timeout_ms: 0
client:
  registry: tcp://bench:5310
  counter: counter/bench-1
simulator:
  rate: 250
  pin_rates:
    3: 500
  overrun_ms: 20
  serial_number: 77
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "serial:///dev/ttyACM0", cfg.Device.URL)
	require.Equal(t, map[string]string{"room": "lab"}, cfg.Service.Labels)
	require.NotNil(t, cfg.Service.Listen)
	require.Empty(t, *cfg.Service.Listen)
	require.NotNil(t, cfg.Counter.DefaultTimeoutMs)
	require.Equal(t, 0, *cfg.Counter.DefaultTimeoutMs)
	require.Equal(t, 500.0, cfg.Simulator.PinRates[3])
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device:\n  uri: sim://\n"), 0644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	neg := -1
	testCases := []struct {
		name  string
		cfg   Config
		valid bool
	}{
		{"empty", Config{}, true},
		{"sim device", Config{Device: DeviceConfig{URL: "sim://?rate=10"}}, true},
		{"modbus device", Config{Device: DeviceConfig{URL: "modbus+tcp://plc:502"}}, true},
		{"bad device scheme", Config{Device: DeviceConfig{URL: "http://host"}}, false},
		{"negative call timeout", Config{Device: DeviceConfig{CallTimeoutMs: -1}}, false},
		{"slash in type", Config{Service: ServiceConfig{Type: "a/b"}}, false},
		{"bad mqtt scheme", Config{Service: ServiceConfig{MQTT: "http://broker"}}, false},
		{"negative timeout", Config{Counter: CounterConfig{DefaultTimeoutMs: &neg}}, false},
		{"bad registry", Config{Client: ClientConfig{Registry: "udp://host"}}, false},
		{"bad counter ref", Config{Client: ClientConfig{Counter: "counter"}}, false},
		{"negative rate", Config{Simulator: SimulatorConfig{Rate: -1}}, false},
		{"negative pin rate", Config{Simulator: SimulatorConfig{PinRates: map[int32]float64{2: -5}}}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if tc.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestApply(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	Normalize(cfg)

	dev := l0env.NewConfig()
	cfg.ApplyDevice(dev)
	require.Equal(t, "serial:///dev/ttyACM0", dev.DeviceURL)
	require.Equal(t, 500*time.Millisecond, dev.CallTimeout)

	svc := controller.NewConfig()
	svc.ListenAddr = ":5310"
	cfg.ApplyService(svc)
	require.Equal(t, "counter/bench-1", svc.Info.Ref.Name())
	require.Equal(t, "lab", svc.Info.Meta.Labels["room"])
	require.Empty(t, svc.ListenAddr)
	require.Equal(t, ":8080", svc.WebsocketAddr)
	require.Equal(t, "mqtt://broker:1883/lab", svc.MQTTBrokerURL)

	ctr := counter.NewConfig()
	cfg.ApplyCounter(ctr)
	require.Equal(t, 5*time.Millisecond, ctr.PollInterval)
	require.Zero(t, ctr.DefaultTimeout)

	cli := connector.NewConfig()
	cfg.ApplyClient(cli)
	require.Equal(t, "tcp://bench:5310", cli.RegistryURL)
	require.Equal(t, "bench-1", cli.Ref.ID)

	simConf := sim.NewConfig()
	cfg.ApplySimulator(simConf)
	require.Equal(t, 250.0, simConf.Rate)
	require.Equal(t, 500.0, simConf.RateOf(3))
	require.Equal(t, 250.0, simConf.RateOf(4))
	require.Equal(t, 20*time.Millisecond, simConf.Overrun)
	require.EqualValues(t, 77, simConf.SerialNumber)
}

func TestApplyKeepsUnset(t *testing.T) {
	var cfg Config
	ctr := counter.NewConfig()
	want := *ctr
	cfg.ApplyCounter(ctr)
	require.Equal(t, want, *ctr)

	svc := controller.NewConfig()
	listen := svc.ListenAddr
	cfg.ApplyService(svc)
	require.Equal(t, listen, svc.ListenAddr)
}

func TestPathFromArgs(t *testing.T) {
	testCases := []struct {
		args []string
		path string
	}{
		{[]string{"-config", "a.yaml"}, "a.yaml"},
		{[]string{"--config=b.yaml", "-v", "2"}, "b.yaml"},
		{[]string{"-device", "sim://", "-config=c.yaml"}, "c.yaml"},
		{[]string{"--", "-config", "d.yaml"}, configPath},
		{[]string{"config", "e.yaml"}, configPath},
	}
	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			require.Equal(t, tc.path, PathFromArgs(tc.args))
		})
	}
}
