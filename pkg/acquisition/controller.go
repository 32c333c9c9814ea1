// Package acquisition drives pulse count measurements on the device.
//
// A measurement arms the device state, triggers the hardware counter,
// waits for the nominal duration and then polls the busy flag
// (pulse_count_enable) until the device reports completion or the
// host side timeout expires.
//
// A Controller performs no locking: two measurements on the same device
// are only detected through the busy flag. Owners sharing one device
// between goroutines must serialize CountPulses themselves.
package acquisition

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/record"
)

// Phase is the progress of the current measurement.
type Phase int32

// Phases
const (
	PhaseIdle Phase = iota
	PhaseArming
	PhaseCounting
	PhasePolling
	PhaseCompleted
	PhaseTimedOut
	PhaseFailed
)

var phaseNames = [...]string{"idle", "arming", "counting", "polling", "completed", "timed-out", "failed"}

// String implements fmt.Stringer.
func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// DefaultPollInterval is the delay between two state reads while polling.
const DefaultPollInterval = 10 * time.Millisecond

const opCountPulses = "count_pulses"

// Request describes one measurement.
type Request struct {
	Pin     int32
	Channel uint32
	// Duration is the counting window, truncated to milliseconds.
	Duration  time.Duration
	Direction record.Direction
	// Timeout bounds polling after the nominal wait.
	// Zero polls until the device clears its busy flag, which blocks
	// forever if the device never does.
	Timeout time.Duration
}

// Controller runs measurements over a device Link.
type Controller struct {
	PollInterval time.Duration

	link  device.Link
	phase int32
	sleep func(time.Duration)
	now   func() time.Time
}

// New creates a Controller on link.
func New(link device.Link) *Controller {
	return &Controller{
		PollInterval: DefaultPollInterval,
		link:         link,
		sleep:        time.Sleep,
		now:          time.Now,
	}
}

// Phase returns the phase of the current or last measurement.
func (c *Controller) Phase() Phase {
	return Phase(atomic.LoadInt32(&c.phase))
}

func (c *Controller) setPhase(p Phase) {
	if old := Phase(atomic.SwapInt32(&c.phase, int32(p))); old != p && glog.V(2) {
		glog.Infof("acquisition: %s -> %s", old, p)
	}
}

// CountPulses performs a measurement and returns the pulse count.
func (c *Controller) CountPulses(req Request) (count uint32, err error) {
	if req.Direction == record.DirectionUnset {
		req.Direction = record.Rising
	}
	durationMs, err := validate(&req)
	if err != nil {
		return 0, err
	}

	c.setPhase(PhaseIdle)
	defer func() {
		switch {
		case err == nil:
			c.setPhase(PhaseCompleted)
			glog.V(1).Infof("acquisition: pin %d channel %d counted %d pulses in %v",
				req.Pin, req.Channel, count, req.Duration)
		case Kind(err) == KindTimedOut:
			c.setPhase(PhaseTimedOut)
			glog.Warningf("acquisition: %v", err)
		default:
			c.setPhase(PhaseFailed)
			glog.Errorf("acquisition: %v", err)
		}
	}()

	state, err := c.readState()
	if err != nil {
		return 0, fail(err)
	}
	if state.Busy() {
		return 0, &Error{Op: opCountPulses, Kind: ErrAlreadyInProgress}
	}

	c.setPhase(PhaseArming)
	state.PulsePin = req.Pin
	state.PulseChannel = req.Channel
	state.PulseDirection = req.Direction
	if err = c.writeState(state); err != nil {
		return 0, &Error{Op: opCountPulses, Kind: ErrStateUpdateFailed, Err: err}
	}

	c.setPhase(PhaseCounting)
	if err = c.link.TriggerCount(durationMs); err != nil {
		return 0, &Error{Op: opCountPulses, Kind: ErrTriggerFailed, Err: device.Wrap(device.OpTriggerCount, err)}
	}
	c.sleep(time.Duration(durationMs) * time.Millisecond)

	c.setPhase(PhasePolling)
	return c.poll(req.Timeout)
}

func validate(req *Request) (uint32, error) {
	if !req.Direction.IsValid() {
		return 0, &record.FieldError{Record: "request", Field: "pulse_direction", Reason: "invalid direction"}
	}
	if req.Duration < 0 || req.Duration/time.Millisecond > math.MaxUint32 {
		return 0, &record.FieldError{Record: "request", Field: "duration_ms", Reason: "out of range"}
	}
	if req.Timeout < 0 {
		return 0, &record.FieldError{Record: "request", Field: "timeout", Reason: "negative"}
	}
	return uint32(req.Duration / time.Millisecond), nil
}

// poll reads the state until the busy flag clears.
// Both exit conditions are checked on every iteration.
func (c *Controller) poll(timeout time.Duration) (uint32, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	start := c.now()
	for n := 1; ; n++ {
		state, err := c.readState()
		if err != nil {
			return 0, fail(err)
		}
		if !state.Busy() {
			glog.V(3).Infof("acquisition: completed after %d polls", n)
			return state.PulseCount, nil
		}
		if elapsed := c.now().Sub(start); timeout != 0 && elapsed > timeout {
			return 0, &Error{Op: opCountPulses, Kind: ErrTimedOut, Err: &timeoutDetail{elapsed: elapsed, polls: n}}
		}
		c.sleep(interval)
	}
}

// fail classifies read failures as link or decode errors.
func fail(err error) error {
	kind := device.ErrLink
	if Kind(err) == KindDecode {
		kind = record.ErrDecode
	}
	return &Error{Op: opCountPulses, Kind: kind, Err: err}
}

type timeoutDetail struct {
	elapsed time.Duration
	polls   int
}

func (t *timeoutDetail) Error() string {
	return fmt.Sprintf("busy after %v (%d polls)", t.elapsed, t.polls)
}

// StopCount stops a running count if the link supports it.
func (c *Controller) StopCount() (uint32, error) {
	stopper, ok := c.link.(device.Stopper)
	if !ok {
		return 0, &device.LinkError{Op: device.OpStopCount, Err: errUnsupported}
	}
	count, err := stopper.StopCount()
	return count, device.Wrap(device.OpStopCount, err)
}
