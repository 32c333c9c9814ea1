package counter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/acquisition"
	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm/stream"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/msgs"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/record"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/sim"
)

type testStack struct {
	dev    *sim.Device
	ctl    *Controller
	conn   *stream.ControllerConn
	events chan *msgs.CountFinished
}

func newTestStack(t *testing.T, simConf sim.Config, opts ...func(*Config)) *testStack {
	reg, err := stream.Listen("127.0.0.1:0")
	require.NoError(t, err)

	s := &testStack{
		dev:    sim.NewDevice(simConf),
		events: make(chan *msgs.CountFinished, 4),
	}
	conf := NewConfig()
	conf.PollInterval = 2 * time.Millisecond
	conf.DefaultTimeout = time.Second
	for _, opt := range opts {
		opt(conf)
	}
	s.ctl = conf.NewController(s.dev, reg)

	ctx, cancel := context.WithCancel(context.Background())
	loop := fx.NewLoop()
	loop.Interval = 5 * time.Millisecond
	loop.Add(reg, s.dev, s.ctl, &comm.UnsupportedCommands{})
	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()

	conn, err := stream.NewConnector(reg.Addr().String()).Connect(ctx, l1.ControllerRef{})
	require.NoError(t, err)
	s.conn = conn.(*stream.ControllerConn)
	s.conn.Expiration = 3 * time.Second
	s.conn.OnEvent = func(msg fx.Message) {
		if ev, ok := msg.(*msgs.CountFinished); ok {
			s.events <- ev
		}
	}
	clientLoop := fx.NewLoop()
	clientLoop.Interval = 5 * time.Millisecond
	clientLoop.Add(s.conn)
	clientDone := make(chan struct{})
	go func() {
		clientLoop.Run(ctx)
		close(clientDone)
	}()

	t.Cleanup(func() {
		cancel()
		<-clientDone
		<-loopDone
		s.ctl.Wait()
	})
	return s
}

func (s *testStack) do(t *testing.T, msg fx.Message) l1.Result {
	select {
	case res := <-s.conn.DoCommand(msg).ResultChan():
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("result timeout")
	}
	return l1.Result{}
}

func (s *testStack) event(t *testing.T) *msgs.CountFinished {
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("event timeout")
	}
	return nil
}

func TestCountPulses(t *testing.T) {
	s := newTestStack(t, sim.Config{Rate: 1000})
	res := s.do(t, &msgs.CountPulses{Pin: 3, DurationMs: 50})
	require.NoError(t, res.Err)
	result := res.Msg.(*msgs.CountResult)
	require.EqualValues(t, 50, result.Count)
	require.True(t, result.ElapsedMs >= 50)

	ev := s.event(t)
	require.EqualValues(t, 50, ev.Count)
	require.EqualValues(t, 3, ev.Request.Pin)
	require.Empty(t, ev.ErrorKind)
}

func TestCountPulsesDefaults(t *testing.T) {
	s := newTestStack(t, sim.Config{Rate: 1000, PinRates: sim.PinRates{7: 2000}})
	res := s.do(t, &msgs.UpdateConfig{Overrides: map[string]string{"default_pulse_pin": "7"}})
	require.NoError(t, res.Err)
	require.EqualValues(t, 7, res.Msg.(*msgs.ConfigReply).Config.DefaultPulsePin)
	require.Equal(t, 1, s.dev.Saves())

	res = s.do(t, &msgs.CountPulses{Pin: 3, DurationMs: 20, UseDefaults: true})
	require.NoError(t, res.Err)
	require.EqualValues(t, 40, res.Msg.(*msgs.CountResult).Count)
	s.event(t)
}

func TestCountPulsesTimeouts(t *testing.T) {
	shortTimeout := func(c *Config) { c.DefaultTimeout = 50 * time.Millisecond }

	t.Run("zero polls until stopped", func(t *testing.T) {
		s := newTestStack(t, sim.Config{Rate: 1000, Stall: true}, shortTimeout)
		f := s.conn.DoCommand(&msgs.CountPulses{Pin: 3, DurationMs: 1})
		select {
		case res := <-f.ResultChan():
			t.Fatalf("count finished while the device is busy: %v", res.Err)
		case <-time.After(500 * time.Millisecond):
		}
		require.Equal(t, acquisition.PhasePolling, s.ctl.Acq.Phase())

		require.NoError(t, s.do(t, &msgs.StopCount{}).Err)
		select {
		case res := <-f.ResultChan():
			require.NoError(t, res.Err)
		case <-time.After(2 * time.Second):
			t.Fatal("result timeout")
		}
		require.Empty(t, s.event(t).ErrorKind)
	})

	t.Run("service default", func(t *testing.T) {
		s := newTestStack(t, sim.Config{Rate: 1000, Stall: true}, shortTimeout)
		res := s.do(t, &msgs.CountPulses{Pin: 3, DurationMs: 1, UseDefaultTimeout: true})
		require.True(t, errors.Is(res.Err, acquisition.ErrTimedOut))
		require.Equal(t, acquisition.KindTimedOut, s.event(t).ErrorKind)
		require.NoError(t, s.do(t, &msgs.StopCount{}).Err)
	})
}

func TestUpdateConfigSaves(t *testing.T) {
	s := newTestStack(t, sim.Config{Rate: 1000})
	res := s.do(t, &msgs.UpdateConfig{Overrides: map[string]string{"default_pulse_channel": "2"}})
	require.NoError(t, res.Err)
	require.Equal(t, 1, s.dev.Saves())

	res = s.do(t, &msgs.UpdateConfig{Overrides: map[string]string{"default_pulse_channel": "3"}, Volatile: true})
	require.NoError(t, res.Err)
	require.EqualValues(t, 3, res.Msg.(*msgs.ConfigReply).Config.DefaultPulseChannel)
	require.Equal(t, 1, s.dev.Saves())
}

func TestCountPulsesBusy(t *testing.T) {
	s := newTestStack(t, sim.Config{Rate: 1000, Stall: true})
	first := s.conn.DoCommand(&msgs.CountPulses{Pin: 3, DurationMs: 10, TimeoutMs: 300})
	for deadline := time.Now().Add(2 * time.Second); s.ctl.Acq.Phase() != acquisition.PhasePolling; {
		require.True(t, time.Now().Before(deadline), "count not started")
		time.Sleep(5 * time.Millisecond)
	}

	testCases := []struct {
		name string
		msg  fx.Message
	}{
		{"count", &msgs.CountPulses{Pin: 3, DurationMs: 10}},
		{"update state", &msgs.UpdateState{Overrides: map[string]string{"pulse_pin": "2"}}},
		{"update config", &msgs.UpdateConfig{Overrides: map[string]string{"default_pulse_pin": "2"}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := s.do(t, tc.msg)
			require.True(t, errors.Is(res.Err, acquisition.ErrAlreadyInProgress))
			require.Equal(t, acquisition.KindAlreadyInProgress, res.Err.(*msgs.CommandErr).Kind)
		})
	}

	res := s.do(t, &msgs.StateQuery{})
	require.NoError(t, res.Err)
	require.True(t, res.Msg.(*msgs.StateReply).State.PulseCountEnable)

	select {
	case res := <-first.ResultChan():
		require.True(t, errors.Is(res.Err, acquisition.ErrTimedOut))
	case <-time.After(5 * time.Second):
		t.Fatal("result timeout")
	}
	ev := s.event(t)
	require.Equal(t, acquisition.KindTimedOut, ev.ErrorKind)
	require.NotEmpty(t, ev.Error)

	res = s.do(t, &msgs.StopCount{})
	require.NoError(t, res.Err)
}

func TestRecords(t *testing.T) {
	s := newTestStack(t, sim.Config{Rate: 1000})
	res := s.do(t, &msgs.ConfigQuery{})
	require.NoError(t, res.Err)
	require.EqualValues(t, 0x10, res.Msg.(*msgs.ConfigReply).Config.I2CAddress)

	res = s.do(t, &msgs.UpdateState{Overrides: map[string]string{"pulse_direction": "falling"}})
	require.NoError(t, res.Err)
	require.Equal(t, record.Falling, res.Msg.(*msgs.StateReply).State.PulseDirection)

	res = s.do(t, &msgs.UpdateConfig{Overrides: map[string]string{"no_such_field": "1"}})
	require.Error(t, res.Err)
	require.Equal(t, 0, s.dev.Saves())
}

func TestUnsupportedCommand(t *testing.T) {
	s := newTestStack(t, sim.Config{Rate: 1000})
	res := s.do(t, &msgs.CountResult{})
	require.Error(t, res.Err)
}
