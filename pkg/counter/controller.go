// Package counter is the L1 controller owning one pulse counter device.
//
// Commands arrive through the loop as l1.CommandMsg and run in their own
// goroutine so a count blocking for seconds doesn't stall the loop.
// Counts and record updates are exclusive: a second one fails with
// acquisition.ErrAlreadyInProgress instead of queueing.
package counter

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/acquisition"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/msgs"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/record"
)

// Controller serves counter commands.
type Controller struct {
	Acq            *acquisition.Controller
	Registrar      l1.Registrar
	DefaultTimeout time.Duration

	busy    sync.Mutex
	running sync.WaitGroup
	now     func() time.Time
}

// NewController creates a Controller.
func NewController(link device.Link, reg l1.Registrar) *Controller {
	return &Controller{
		Acq:       acquisition.New(link),
		Registrar: reg,
		now:       time.Now,
	}
}

// Name implements Named.
func (c *Controller) Name() string {
	return "counter"
}

// AddToLoop implements LoopAdder.
func (c *Controller) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvControl, fx.ControlFunc(c.HandleCommand))
}

// HandleCommand is a controller dispatching commands.
func (c *Controller) HandleCommand(cc fx.ControlContext) error {
	ctx := cc.Context()
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mctx fx.MessageProcessingContext) {
		cmdMsg, ok := mctx.CurrentMessage().(*l1.CommandMsg)
		if !ok {
			return
		}
		cmd := cmdMsg.Command
		var exec func() fx.Message
		switch m := cmd.Msg().(type) {
		case *msgs.CountPulses:
			exec = func() fx.Message { return c.CountPulses(ctx, m) }
		case *msgs.StopCount:
			exec = func() fx.Message { return c.StopCount() }
		case *msgs.ConfigQuery:
			exec = func() fx.Message { return c.ConfigQuery() }
		case *msgs.StateQuery:
			exec = func() fx.Message { return c.StateQuery() }
		case *msgs.UpdateConfig:
			exec = func() fx.Message { return c.UpdateConfig(m) }
		case *msgs.UpdateState:
			exec = func() fx.Message { return c.UpdateState(m) }
		default:
			return
		}
		mctx.MessageTaken()
		c.running.Add(1)
		go func() {
			defer c.running.Done()
			if err := cmd.Done(exec()); err != nil {
				glog.Warningf("counter: reply %T: %v", cmd.Msg(), err)
			}
		}()
	}))
	return nil
}

// Wait waits for running commands.
func (c *Controller) Wait() {
	c.running.Wait()
}

func reply(msg fx.Message, err error) fx.Message {
	if err != nil {
		return msgs.NewCommandErr(err)
	}
	return msg
}

func overrides(m map[string]string) record.Overrides {
	o := make(record.Overrides, len(m))
	for k, v := range m {
		o[k] = v
	}
	return o
}

// CountPulses runs a measurement and publishes CountFinished.
func (c *Controller) CountPulses(ctx context.Context, m *msgs.CountPulses) fx.Message {
	if !c.busy.TryLock() {
		return msgs.NewCommandErr(&acquisition.Error{Op: "count_pulses", Kind: acquisition.ErrAlreadyInProgress})
	}
	defer c.busy.Unlock()

	req := m.Request()
	if m.UseDefaults {
		conf, err := c.Acq.Config()
		if err != nil {
			return msgs.NewCommandErr(err)
		}
		req.Pin, req.Channel, req.Direction = conf.DefaultPulsePin, conf.DefaultPulseChannel, conf.DefaultPulseDirection
	}
	if m.UseDefaultTimeout {
		req.Timeout = c.DefaultTimeout
	}
	start := c.now()
	count, err := c.Acq.CountPulses(req)
	elapsedMs := uint32(c.now().Sub(start) / time.Millisecond)

	event := &msgs.CountFinished{Request: m, Count: count, ElapsedMs: elapsedMs}
	if err != nil {
		event.ErrorKind, event.Error = acquisition.Kind(err), err.Error()
	}
	if c.Registrar != nil {
		if err := c.Registrar.SendEvent(ctx, event); err != nil {
			glog.Warningf("counter: publish count finished: %v", err)
		}
	}
	return reply(&msgs.CountResult{Count: count, ElapsedMs: elapsedMs}, err)
}

// StopCount aborts a running count.
func (c *Controller) StopCount() fx.Message {
	count, err := c.Acq.StopCount()
	return reply(&msgs.CountResult{Count: count}, err)
}

// ConfigQuery reads the device config.
func (c *Controller) ConfigQuery() fx.Message {
	conf, err := c.Acq.Config()
	return reply(&msgs.ConfigReply{Config: &conf}, err)
}

// StateQuery reads the device state.
func (c *Controller) StateQuery() fx.Message {
	state, err := c.Acq.State()
	return reply(&msgs.StateReply{State: &state}, err)
}

// UpdateConfig merges overrides into the device config.
func (c *Controller) UpdateConfig(m *msgs.UpdateConfig) fx.Message {
	if !c.busy.TryLock() {
		return msgs.NewCommandErr(&acquisition.Error{Op: "update_config", Kind: acquisition.ErrAlreadyInProgress})
	}
	defer c.busy.Unlock()
	conf, err := c.Acq.UpdateConfig(overrides(m.Overrides), !m.Volatile)
	return reply(&msgs.ConfigReply{Config: &conf}, err)
}

// UpdateState merges overrides into the device state.
func (c *Controller) UpdateState(m *msgs.UpdateState) fx.Message {
	if !c.busy.TryLock() {
		return msgs.NewCommandErr(&acquisition.Error{Op: "update_state", Kind: acquisition.ErrAlreadyInProgress})
	}
	defer c.busy.Unlock()
	state, err := c.Acq.UpdateState(overrides(m.Overrides))
	return reply(&msgs.StateReply{State: &state}, err)
}
