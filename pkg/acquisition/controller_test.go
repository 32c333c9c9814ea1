package acquisition

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/record"
)

var errBroken = errors.New("broken")

// recordingLink replays state reads and records every call.
type recordingLink struct {
	calls     []string
	config    []byte
	states    [][]byte
	reads     int
	failRead  int
	errs      map[string]error
	written   [][]byte
	triggered []uint32
}

func newRecordingLink(states ...record.StateRecord) *recordingLink {
	l := &recordingLink{
		config: record.EncodeConfig(record.NewConfig()),
		errs:   make(map[string]error),
	}
	for _, s := range states {
		l.states = append(l.states, record.EncodeState(s))
	}
	return l
}

func (l *recordingLink) call(op string) error {
	l.calls = append(l.calls, op)
	return l.errs[op]
}

func (l *recordingLink) ReadConfig() ([]byte, error) {
	if err := l.call(device.OpReadConfig); err != nil {
		return nil, err
	}
	return l.config, nil
}

func (l *recordingLink) WriteConfig(data []byte) error {
	if err := l.call(device.OpWriteConfig); err != nil {
		return err
	}
	l.config = data
	return nil
}

func (l *recordingLink) SaveConfig() error {
	return l.call(device.OpSaveConfig)
}

func (l *recordingLink) ReadState() ([]byte, error) {
	if err := l.call(device.OpReadState); err != nil {
		return nil, err
	}
	l.reads++
	if l.failRead != 0 && l.reads == l.failRead {
		return nil, errBroken
	}
	n := l.reads - 1
	if n >= len(l.states) {
		n = len(l.states) - 1
	}
	return l.states[n], nil
}

func (l *recordingLink) WriteState(data []byte) error {
	if err := l.call(device.OpWriteState); err != nil {
		return err
	}
	l.written = append(l.written, data)
	return nil
}

func (l *recordingLink) TriggerCount(durationMs uint32) error {
	if err := l.call(device.OpTriggerCount); err != nil {
		return err
	}
	l.triggered = append(l.triggered, durationMs)
	return nil
}

// fakeClock advances only when slept on.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestController(link device.Link) (*Controller, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := New(link)
	c.sleep = clock.Sleep
	c.now = clock.Now
	return c, clock
}

func idle() record.StateRecord {
	return record.NewState()
}

func busy() record.StateRecord {
	s := record.NewState()
	s.PulseCountEnable = true
	return s
}

func done(count uint32) record.StateRecord {
	s := record.NewState()
	s.PulseCount = count
	return s
}

func TestCountPulses(t *testing.T) {
	link := newRecordingLink(idle(), busy(), busy(), done(42))
	c, clock := newTestController(link)
	count, err := c.CountPulses(Request{
		Pin:       3,
		Channel:   1,
		Duration:  100 * time.Millisecond,
		Direction: record.Falling,
		Timeout:   time.Second,
	})
	require.NoError(t, err)
	require.EqualValues(t, 42, count)
	require.Equal(t, PhaseCompleted, c.Phase())
	require.Equal(t, []string{
		device.OpReadState,
		device.OpWriteState,
		device.OpTriggerCount,
		device.OpReadState,
		device.OpReadState,
		device.OpReadState,
	}, link.calls)
	require.Equal(t, []uint32{100}, link.triggered)
	require.Equal(t, []time.Duration{100 * time.Millisecond, DefaultPollInterval, DefaultPollInterval}, clock.sleeps)

	require.Len(t, link.written, 1)
	armed, err := record.DecodeState(link.written[0])
	require.NoError(t, err)
	require.EqualValues(t, 3, armed.PulsePin)
	require.EqualValues(t, 1, armed.PulseChannel)
	require.Equal(t, record.Falling, armed.PulseDirection)
}

func TestCountPulsesSinglePoll(t *testing.T) {
	link := newRecordingLink(idle(), done(42))
	c, clock := newTestController(link)
	count, err := c.CountPulses(Request{
		Pin:       3,
		Channel:   1,
		Duration:  10 * time.Millisecond,
		Direction: record.Rising,
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	require.EqualValues(t, 42, count)
	require.Equal(t, []string{
		device.OpReadState,
		device.OpWriteState,
		device.OpTriggerCount,
		device.OpReadState,
	}, link.calls)
	require.Equal(t, 2, link.reads)
	require.Equal(t, []uint32{10}, link.triggered)
	require.Equal(t, []time.Duration{10 * time.Millisecond}, clock.sleeps)
}

func TestCountPulsesWaitMatchesTrigger(t *testing.T) {
	link := newRecordingLink(idle(), done(5))
	c, clock := newTestController(link)
	_, err := c.CountPulses(Request{Pin: 3, Duration: 10*time.Millisecond + 750*time.Microsecond})
	require.NoError(t, err)
	require.Equal(t, []uint32{10}, link.triggered)
	require.Equal(t, []time.Duration{10 * time.Millisecond}, clock.sleeps)
}

func TestCountPulsesDefaultsToRising(t *testing.T) {
	link := newRecordingLink(idle(), done(0))
	c, _ := newTestController(link)
	_, err := c.CountPulses(Request{Pin: 1})
	require.NoError(t, err)
	armed, err := record.DecodeState(link.written[0])
	require.NoError(t, err)
	require.Equal(t, record.Rising, armed.PulseDirection)
	require.Equal(t, []uint32{0}, link.triggered)
}

func TestCountPulsesBusyGuard(t *testing.T) {
	link := newRecordingLink(busy())
	c, clock := newTestController(link)
	_, err := c.CountPulses(Request{Pin: 3, Duration: time.Second})
	require.True(t, errors.Is(err, ErrAlreadyInProgress))
	require.Equal(t, KindAlreadyInProgress, Kind(err))
	require.Equal(t, []string{device.OpReadState}, link.calls)
	require.Empty(t, link.written)
	require.Empty(t, link.triggered)
	require.Empty(t, clock.sleeps)
	require.Equal(t, PhaseFailed, c.Phase())
}

func TestCountPulsesFailures(t *testing.T) {
	testCases := []struct {
		name   string
		failOp string
		kind   error
		calls  []string
	}{
		{
			name:   "idle read",
			failOp: device.OpReadState,
			kind:   device.ErrLink,
			calls:  []string{device.OpReadState},
		},
		{
			name:   "arming",
			failOp: device.OpWriteState,
			kind:   ErrStateUpdateFailed,
			calls:  []string{device.OpReadState, device.OpWriteState},
		},
		{
			name:   "trigger",
			failOp: device.OpTriggerCount,
			kind:   ErrTriggerFailed,
			calls:  []string{device.OpReadState, device.OpWriteState, device.OpTriggerCount},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			link := newRecordingLink(idle(), done(1))
			link.errs[tc.failOp] = errBroken
			c, _ := newTestController(link)
			_, err := c.CountPulses(Request{Pin: 3, Duration: time.Millisecond})
			require.True(t, errors.Is(err, tc.kind), "%v", err)
			require.True(t, errors.Is(err, device.ErrLink), "%v", err)
			require.True(t, errors.Is(err, errBroken), "%v", err)
			var linkErr *device.LinkError
			require.True(t, errors.As(err, &linkErr))
			require.Equal(t, tc.failOp, linkErr.Op)
			require.Equal(t, tc.calls, link.calls)
			require.Equal(t, PhaseFailed, c.Phase())
		})
	}
}

func TestCountPulsesPollFailure(t *testing.T) {
	link := newRecordingLink(idle(), busy())
	link.failRead = 3
	c, _ := newTestController(link)
	_, err := c.CountPulses(Request{Pin: 3, Timeout: time.Second})
	require.True(t, errors.Is(err, device.ErrLink))
	require.Equal(t, KindLink, Kind(err))
	require.Equal(t, 3, link.reads)
}

func TestCountPulsesDecodeFailure(t *testing.T) {
	link := newRecordingLink(idle())
	link.states[0] = []byte{0x08, 0x09}
	c, _ := newTestController(link)
	_, err := c.CountPulses(Request{Pin: 3})
	require.True(t, errors.Is(err, record.ErrDecode))
	require.Equal(t, KindDecode, Kind(err))
	require.Empty(t, link.written)
}

func TestCountPulsesTimeout(t *testing.T) {
	link := newRecordingLink(idle(), busy())
	c, clock := newTestController(link)
	c.PollInterval = 10 * time.Millisecond
	timeout := 50 * time.Millisecond
	_, err := c.CountPulses(Request{Pin: 3, Duration: 20 * time.Millisecond, Timeout: timeout})
	require.True(t, errors.Is(err, ErrTimedOut))
	require.Equal(t, KindTimedOut, Kind(err))
	require.Equal(t, PhaseTimedOut, c.Phase())

	var polling time.Duration
	for _, d := range clock.sleeps[1:] {
		polling += d
	}
	require.True(t, polling > timeout)
	require.True(t, polling <= timeout+c.PollInterval)
}

func TestCountPulsesNoTimeout(t *testing.T) {
	states := []record.StateRecord{idle()}
	for i := 0; i < 1000; i++ {
		states = append(states, busy())
	}
	states = append(states, done(7))
	link := newRecordingLink(states...)
	c, clock := newTestController(link)
	count, err := c.CountPulses(Request{Pin: 3})
	require.NoError(t, err)
	require.EqualValues(t, 7, count)
	require.Len(t, clock.sleeps, 1001)
}

func TestCountPulsesInvalidRequest(t *testing.T) {
	testCases := []struct {
		name string
		req  Request
	}{
		{"direction", Request{Direction: record.Direction(9)}},
		{"negative duration", Request{Duration: -time.Millisecond}},
		{"negative timeout", Request{Timeout: -time.Second}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			link := newRecordingLink(idle())
			c, _ := newTestController(link)
			_, err := c.CountPulses(tc.req)
			require.True(t, errors.Is(err, record.ErrInvalidField))
			require.Empty(t, link.calls)
		})
	}
}

func TestUpdateConfig(t *testing.T) {
	testCases := []struct {
		name    string
		persist bool
		calls   []string
	}{
		{"persist", true, []string{device.OpReadConfig, device.OpWriteConfig, device.OpSaveConfig}},
		{"volatile", false, []string{device.OpReadConfig, device.OpWriteConfig}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			link := newRecordingLink(idle())
			c, _ := newTestController(link)
			rec, err := c.UpdateConfig(record.Overrides{"default_pulse_pin": 6}, tc.persist)
			require.NoError(t, err)
			require.EqualValues(t, 6, rec.DefaultPulsePin)
			require.Equal(t, tc.calls, link.calls)
			written, err := record.DecodeConfig(link.config)
			require.NoError(t, err)
			require.Equal(t, rec, written)
		})
	}
}

func TestUpdateConfigSaveFailure(t *testing.T) {
	link := newRecordingLink(idle())
	link.errs[device.OpSaveConfig] = errBroken
	c, _ := newTestController(link)
	_, err := c.UpdateConfig(record.Overrides{"i2c_address": 0x21}, true)
	require.True(t, errors.Is(err, ErrSaveFailed))
	require.True(t, errors.Is(err, device.ErrLink))
	require.Equal(t, KindSaveFailed, Kind(err))
	written, err := record.DecodeConfig(link.config)
	require.NoError(t, err)
	require.EqualValues(t, 0x21, written.I2CAddress)
}

func TestUpdateInvalidOverrides(t *testing.T) {
	link := newRecordingLink(idle())
	c, _ := newTestController(link)
	_, err := c.UpdateConfig(record.Overrides{"no_such_field": 1}, true)
	require.True(t, errors.Is(err, record.ErrInvalidField))
	require.Equal(t, KindInvalidField, Kind(err))
	_, err = c.UpdateState(record.Overrides{"pulse_count": 1})
	require.True(t, errors.Is(err, record.ErrInvalidField))
	require.Empty(t, link.calls)
}

func TestUpdateState(t *testing.T) {
	link := newRecordingLink(idle())
	c, _ := newTestController(link)
	rec, err := c.UpdateState(record.Overrides{"pulse_pin": "5", "pulse_direction": "change"})
	require.NoError(t, err)
	require.Equal(t, []string{device.OpReadState, device.OpWriteState}, link.calls)
	written, err := record.DecodeState(link.written[0])
	require.NoError(t, err)
	require.Equal(t, rec, written)
	require.EqualValues(t, 5, written.PulsePin)
	require.Equal(t, record.Change, written.PulseDirection)
}

func TestStopCountUnsupported(t *testing.T) {
	c, _ := newTestController(newRecordingLink(idle()))
	_, err := c.StopCount()
	require.True(t, errors.Is(err, device.ErrLink))
}

func TestKind(t *testing.T) {
	require.Equal(t, "", Kind(nil))
	require.Equal(t, "", Kind(errBroken))
	require.Equal(t, KindLink, Kind(device.Wrap(device.OpReadState, errBroken)))
	for _, kind := range []string{KindAlreadyInProgress, KindTimedOut, KindDecode, KindLink} {
		require.Equal(t, kind, Kind(KindError(kind)))
	}
	require.Nil(t, KindError("bogus"))
}
