package acquisition

import (
	"errors"

	"github.com/golang/glog"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/record"
)

var errUnsupported = errors.New("not supported by link")

// Config reads and decodes the device config.
func (c *Controller) Config() (record.ConfigRecord, error) {
	data, err := c.link.ReadConfig()
	if err != nil {
		return record.ConfigRecord{}, device.Wrap(device.OpReadConfig, err)
	}
	return record.DecodeConfig(data)
}

// State reads and decodes the device state.
func (c *Controller) State() (record.StateRecord, error) {
	return c.readState()
}

func (c *Controller) readState() (record.StateRecord, error) {
	data, err := c.link.ReadState()
	if err != nil {
		return record.StateRecord{}, device.Wrap(device.OpReadState, err)
	}
	return record.DecodeState(data)
}

func (c *Controller) writeState(rec record.StateRecord) error {
	return device.Wrap(device.OpWriteState, c.link.WriteState(record.EncodeState(rec)))
}

// SetConfig writes rec to the device and optionally persists it.
// When the save fails the written config stays active on the device.
func (c *Controller) SetConfig(rec record.ConfigRecord, persist bool) error {
	if err := c.link.WriteConfig(record.EncodeConfig(rec)); err != nil {
		return device.Wrap(device.OpWriteConfig, err)
	}
	if !persist {
		return nil
	}
	if err := c.link.SaveConfig(); err != nil {
		return &Error{Op: "update_config", Kind: ErrSaveFailed, Err: device.Wrap(device.OpSaveConfig, err)}
	}
	return nil
}

// SetState writes the host owned fields of rec to the device.
func (c *Controller) SetState(rec record.StateRecord) error {
	return c.writeState(rec)
}

// UpdateConfig merges overrides into the current device config and
// writes the result back. Invalid overrides fail before any device call.
func (c *Controller) UpdateConfig(overrides record.Overrides, persist bool) (record.ConfigRecord, error) {
	if err := overrides.ValidateConfig(); err != nil {
		return record.ConfigRecord{}, err
	}
	rec, err := c.Config()
	if err != nil {
		return rec, err
	}
	if err = record.ApplyConfig(&rec, overrides); err != nil {
		return rec, err
	}
	if err = c.SetConfig(rec, persist); err != nil {
		return rec, err
	}
	glog.V(1).Infof("acquisition: config updated %v persist=%v", overrides.Keys(), persist)
	return rec, nil
}

// UpdateState merges overrides into the current device state and
// writes the result back. Invalid overrides fail before any device call.
func (c *Controller) UpdateState(overrides record.Overrides) (record.StateRecord, error) {
	if err := overrides.ValidateState(); err != nil {
		return record.StateRecord{}, err
	}
	rec, err := c.readState()
	if err != nil {
		return rec, err
	}
	if err = record.ApplyState(&rec, overrides); err != nil {
		return rec, err
	}
	if err = c.writeState(rec); err != nil {
		return rec, err
	}
	glog.V(1).Infof("acquisition: state updated %v", overrides.Keys())
	return rec, nil
}
