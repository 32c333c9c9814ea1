// Package sim simulates the pulse counter firmware.
//
// A Device keeps the config, its EEPROM copy and the state the way the
// firmware does, and counts pulses at a configured rate per pin. Counting
// progresses lazily with the clock: every read or Tick settles the count
// window first.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/record"
)

// MaxPulseChannel is the largest channel of the 2-bit mux address.
const MaxPulseChannel = 3

var (
	errNoPulsePin = errors.New("no pulse pin")
	errI2CAddress = errors.New("i2c address out of range")
)

// Device is a simulated pulse counter, it implements device.Link and
// device.Stopper.
type Device struct {
	Config
	CountFinishedCaster

	now    func() time.Time
	lock   sync.Mutex
	config record.ConfigRecord
	eeprom []byte
	state  record.StateRecord
	window *countWindow
	saves  int
}

type countWindow struct {
	start    time.Time
	duration time.Duration
	rate     float64
}

func (w *countWindow) count(elapsed time.Duration) uint32 {
	if elapsed > w.duration {
		elapsed = w.duration
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return uint32(w.rate * elapsed.Seconds())
}

// NewDevice creates a Device with factory defaults.
func NewDevice(conf Config) *Device {
	d := &Device{Config: conf, now: time.Now}
	d.config = record.NewConfig()
	d.config.SerialNumber = conf.SerialNumber
	d.config.BaudRate = 115200
	d.config.I2CAddress = 0x10
	d.config.MuxChannelAPin = 4
	d.config.MuxChannelBPin = 5
	d.config.DefaultPulsePin = -1
	d.config.DefaultPulseDirection = record.Rising
	d.eeprom = record.EncodeConfig(d.config)
	d.reset()
	return d
}

func (d *Device) reset() {
	d.state = record.NewState()
	d.state.PulsePin = d.config.DefaultPulsePin
	d.state.PulseChannel = d.config.DefaultPulseChannel
	d.state.PulseDirection = d.config.DefaultPulseDirection
	d.window = nil
}

// PowerCycle reloads the config from EEPROM and resets the state.
func (d *Device) PowerCycle() {
	d.lock.Lock()
	defer d.lock.Unlock()
	conf, err := record.DecodeConfig(d.eeprom)
	if err != nil {
		glog.Errorf("sim: corrupted eeprom: %v", err)
		return
	}
	d.config = conf
	d.reset()
}

// Saves returns the number of EEPROM commits.
func (d *Device) Saves() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.saves
}

// settle ends the count window if due and returns the final count.
func (d *Device) settle(now time.Time) (count uint32, finished bool) {
	w := d.window
	if w == nil || d.Stall {
		return
	}
	if now.Sub(w.start) < w.duration+d.Overrun {
		return
	}
	d.window = nil
	d.state.PulseCountEnable = false
	d.state.PulseCount = w.count(w.duration)
	return d.state.PulseCount, true
}

func (d *Device) withState(fn func(now time.Time) error) error {
	d.lock.Lock()
	now := d.now()
	count, finished := d.settle(now)
	err := fn(now)
	d.lock.Unlock()
	if finished {
		d.notify(count)
	}
	return err
}

func (d *Device) notify(count uint32) {
	glog.V(1).Infof("sim: count finished: %d", count)
	d.CountFinished(count)
}

// Tick settles the count window, the event fires from here when
// nobody reads the state.
func (d *Device) Tick() {
	d.withState(func(time.Time) error { return nil })
}

// AddToLoop implements LoopAdder.
func (d *Device) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvAcuate, fx.ControlFunc(func(fx.ControlContext) error {
		d.Tick()
		return nil
	}))
}

// ReadConfig implements device.Link.
func (d *Device) ReadConfig() ([]byte, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return record.EncodeConfig(d.config), nil
}

// WriteConfig implements device.Link.
func (d *Device) WriteConfig(data []byte) error {
	conf, err := record.DecodeConfig(data)
	if err != nil {
		return err
	}
	if a := conf.I2CAddress; a != 0 && (a < 0x08 || a > 0x77) {
		return fmt.Errorf("%w: %v", device.ErrRejected, errI2CAddress)
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	conf.SerialNumber = d.config.SerialNumber
	d.config = conf
	return nil
}

// SaveConfig implements device.Link.
func (d *Device) SaveConfig() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.eeprom = record.EncodeConfig(d.config)
	d.saves++
	return nil
}

// ReadState implements device.Link.
func (d *Device) ReadState() (data []byte, err error) {
	d.withState(func(time.Time) error {
		data = record.EncodeState(d.state)
		return nil
	})
	return
}

// WriteState implements device.Link.
// pulse_count_enable and pulse_count are owned by the device and ignored.
func (d *Device) WriteState(data []byte) error {
	st, err := record.DecodeState(data)
	if err != nil {
		return err
	}
	if st.PulseChannel > MaxPulseChannel {
		return fmt.Errorf("%w: pulse_channel %d > %d", device.ErrRejected, st.PulseChannel, MaxPulseChannel)
	}
	return d.withState(func(time.Time) error {
		d.state.PulsePin = st.PulsePin
		d.state.PulseChannel = st.PulseChannel
		d.state.PulseDirection = st.PulseDirection
		return nil
	})
}

// TriggerCount implements device.Link.
// A running count is restarted.
func (d *Device) TriggerCount(durationMs uint32) error {
	return d.withState(func(now time.Time) error {
		if d.state.PulsePin < 0 {
			return fmt.Errorf("%w: %v", device.ErrRejected, errNoPulsePin)
		}
		d.state.PulseCount = 0
		d.state.PulseCountEnable = true
		d.window = &countWindow{
			start:    now,
			duration: time.Duration(durationMs) * time.Millisecond,
			rate:     d.RateOf(d.state.PulsePin),
		}
		return nil
	})
}

// StopCount implements device.Stopper.
func (d *Device) StopCount() (count uint32, err error) {
	err = d.withState(func(now time.Time) error {
		if w := d.window; w != nil {
			d.state.PulseCount = w.count(now.Sub(w.start))
			d.window = nil
		}
		d.state.PulseCountEnable = false
		count = d.state.PulseCount
		return nil
	})
	return
}
