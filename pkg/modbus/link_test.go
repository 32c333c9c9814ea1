package modbus

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/require"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/acquisition"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/record"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/sim"
)

// bank serves the register map from a device.Link the way a Modbus
// gateway in front of the firmware does.
type bank struct {
	link      device.Link
	stopCount uint32
	reads     int
}

func exception(fn, code byte) error {
	return &modbus.ModbusError{FunctionCode: fn, ExceptionCode: code}
}

func deviceFailure(fn byte, err error) error {
	if errors.Is(err, device.ErrRejected) || errors.Is(err, record.ErrDecode) {
		return exception(fn, modbus.ExceptionCodeIllegalDataValue)
	}
	return exception(fn, modbus.ExceptionCodeServerDeviceFailure)
}

func (b *bank) block(base uint16) ([]byte, error) {
	switch base {
	case RegConfig:
		return b.link.ReadConfig()
	case RegState:
		return b.link.ReadState()
	}
	return nil, nil
}

func (b *bank) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	const fn = modbus.FuncCodeReadHoldingRegisters
	b.reads++
	if address >= RegStopCount && address+quantity <= RegStopCount+2 {
		value := make([]byte, 4)
		binary.BigEndian.PutUint32(value, b.stopCount)
		off := (address - RegStopCount) * 2
		return value[off : off+quantity*2], nil
	}
	base := address &^ 0xff
	if base != RegConfig && base != RegState {
		return nil, exception(fn, modbus.ExceptionCodeIllegalDataAddress)
	}
	data, err := b.block(base)
	if err != nil {
		return nil, deviceFailure(fn, err)
	}
	regs := PackBlock(data)
	off := int(address-base) * 2
	end := off + int(quantity)*2
	if end > len(regs) {
		regs = append(regs, make([]byte, end-len(regs))...)
	}
	return regs[off:end], nil
}

func (b *bank) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	const fn = modbus.FuncCodeWriteMultipleRegisters
	var err error
	switch {
	case address == RegDuration && quantity == 2:
		err = b.link.TriggerCount(binary.BigEndian.Uint32(value))
	case address == RegConfig || address == RegState:
		var data []byte
		if data, err = UnpackBlock(value); err != nil {
			return nil, exception(fn, modbus.ExceptionCodeIllegalDataValue)
		}
		if address == RegConfig {
			err = b.link.WriteConfig(data)
		} else {
			err = b.link.WriteState(data)
		}
	default:
		return nil, exception(fn, modbus.ExceptionCodeIllegalDataAddress)
	}
	if err != nil {
		return nil, deviceFailure(fn, err)
	}
	return []byte{byte(quantity >> 8), byte(quantity)}, nil
}

func (b *bank) WriteSingleRegister(address, value uint16) ([]byte, error) {
	const fn = modbus.FuncCodeWriteSingleRegister
	if address != RegCommand {
		return nil, exception(fn, modbus.ExceptionCodeIllegalDataAddress)
	}
	var err error
	switch value {
	case CommandSave:
		err = b.link.SaveConfig()
	case CommandStop:
		b.stopCount, err = b.link.(device.Stopper).StopCount()
	default:
		return nil, exception(fn, modbus.ExceptionCodeIllegalDataValue)
	}
	if err != nil {
		return nil, deviceFailure(fn, err)
	}
	return []byte{byte(value >> 8), byte(value)}, nil
}

func newTestLink(conf sim.Config) (*Link, *sim.Device, *bank) {
	dev := conf.NewDevice()
	b := &bank{link: dev}
	return NewLink(b), dev, b
}

func TestBlockPacking(t *testing.T) {
	testCases := []struct {
		name  string
		data  []byte
		value []byte
	}{
		{"empty", []byte{}, []byte{0, 0}},
		{"even", []byte{1, 2}, []byte{0, 2, 1, 2}},
		{"odd", []byte{1, 2, 3}, []byte{0, 3, 1, 2, 3, 0}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.value, PackBlock(tc.data))
			data, err := UnpackBlock(tc.value)
			require.NoError(t, err)
			require.Equal(t, tc.data, data)
		})
	}
	_, err := UnpackBlock([]byte{0, 5, 1})
	require.Error(t, err)
}

func TestLinkRecords(t *testing.T) {
	link, dev, _ := newTestLink(sim.Config{Rate: 1000})

	conf := record.NewConfig()
	conf.DefaultPulsePin = 9
	conf.MuxChannelAPin = 11
	require.NoError(t, link.WriteConfig(record.EncodeConfig(conf)))
	require.NoError(t, link.SaveConfig())
	require.Equal(t, 1, dev.Saves())

	data, err := link.ReadConfig()
	require.NoError(t, err)
	got, err := record.DecodeConfig(data)
	require.NoError(t, err)
	require.EqualValues(t, 9, got.DefaultPulsePin)
	require.EqualValues(t, 11, got.MuxChannelAPin)

	st := record.NewState()
	st.PulsePin, st.PulseChannel = 4, 3
	require.NoError(t, link.WriteState(record.EncodeState(st)))
	data, err = link.ReadState()
	require.NoError(t, err)
	gotState, err := record.DecodeState(data)
	require.NoError(t, err)
	require.EqualValues(t, 4, gotState.PulsePin)
	require.EqualValues(t, 3, gotState.PulseChannel)
}

func TestLinkRejected(t *testing.T) {
	link, _, _ := newTestLink(sim.Config{Rate: 1000})
	st := record.NewState()
	st.PulsePin, st.PulseChannel = 4, 9
	err := link.WriteState(record.EncodeState(st))
	require.True(t, errors.Is(err, device.ErrLink))
	require.True(t, errors.Is(err, device.ErrRejected))
	var linkErr *device.LinkError
	require.True(t, errors.As(err, &linkErr))
	require.Equal(t, device.OpWriteState, linkErr.Op)

	err = link.WriteConfig(make([]byte, MaxRecordLen+1))
	require.True(t, errors.Is(err, device.ErrLink))
}

func TestLinkStopCount(t *testing.T) {
	link, _, b := newTestLink(sim.Config{Rate: 1e6})
	st := record.NewState()
	st.PulsePin = 2
	require.NoError(t, link.WriteState(record.EncodeState(st)))
	require.NoError(t, link.TriggerCount(60000))
	time.Sleep(5 * time.Millisecond)
	count, err := link.StopCount()
	require.NoError(t, err)
	require.True(t, count > 0)
	require.Equal(t, b.stopCount, count)
}

func TestCountPulsesOverModbus(t *testing.T) {
	link, _, _ := newTestLink(sim.Config{Rate: 2000})
	ctl := acquisition.New(link)
	ctl.PollInterval = time.Millisecond
	count, err := ctl.CountPulses(acquisition.Request{
		Pin:      3,
		Channel:  1,
		Duration: 20 * time.Millisecond,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	require.EqualValues(t, 40, count)
}
