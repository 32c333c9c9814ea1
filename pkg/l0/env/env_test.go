package env

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/acquisition"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/record"
)

func TestOpenSim(t *testing.T) {
	counts := make(chan uint32, 1)
	conf := NewConfig()
	conf.DeviceURL = "sim://?rate=2000&pin_rate=5=100"
	conf.OnCountFinished = func(count uint32) { counts <- count }
	conn, err := conf.Open()
	require.NoError(t, err)
	defer conn.Close()
	require.IsType(t, &SimConn{}, conn)

	ctl := acquisition.New(conn)
	ctl.PollInterval = time.Millisecond
	count, err := ctl.CountPulses(acquisition.Request{
		Pin:      3,
		Duration: 20 * time.Millisecond,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	require.EqualValues(t, 40, count)
	select {
	case count := <-counts:
		require.EqualValues(t, 40, count)
	case <-time.After(time.Second):
		t.Fatal("count-finished event missing")
	}

	count, err = ctl.CountPulses(acquisition.Request{
		Pin:      5,
		Duration: 100 * time.Millisecond,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	require.EqualValues(t, 10, count)
}

func TestSimConnClose(t *testing.T) {
	conn, err := Open("sim://", NewConfig().options())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	_, err = conn.ReadState()
	require.True(t, errors.Is(err, device.ErrClosed))
}

func TestSimConnRecords(t *testing.T) {
	conn, err := Open("sim://", NewConfig().options())
	require.NoError(t, err)
	defer conn.Close()
	ctl := acquisition.New(conn)
	conf, err := ctl.UpdateConfig(record.Overrides{"default_pulse_pin": "7"}, true)
	require.NoError(t, err)
	require.EqualValues(t, 7, conf.DefaultPulsePin)
	require.Equal(t, 1, conn.(*SimConn).Device.Saves())
}

func TestOpenErrors(t *testing.T) {
	testCases := []struct {
		name string
		url  string
	}{
		{"bad url", "://"},
		{"bad sim rate", "sim://?rate=fast"},
		{"unknown scheme", "gopher://host"},
		{"bad modbus slave", "modbus+tcp://localhost:502?slave=300"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(tc.url, NewConfig().options())
			require.Error(t, err)
		})
	}
}
