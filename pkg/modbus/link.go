// Package modbus exposes the pulse counter through Modbus holding registers.
//
// Register map:
//
//	0x0000       config byte length, followed by the encoded config
//	             packed big-endian, 2 bytes per register
//	0x0100       state, same layout as config
//	0x0200       command register: 1 saves the config, 2 stops counting
//	0x0210-0211  count duration in ms (u32, high word first), writing
//	             both registers starts counting
//	0x0220-0221  count captured by the last stop command
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/goburrow/modbus"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
)

// Register addresses.
const (
	RegConfig    uint16 = 0x0000
	RegState     uint16 = 0x0100
	RegCommand   uint16 = 0x0200
	RegDuration  uint16 = 0x0210
	RegStopCount uint16 = 0x0220
)

// Values of RegCommand.
const (
	CommandSave uint16 = 1
	CommandStop uint16 = 2
)

// MaxRecordLen is the largest record stored in a register block.
const MaxRecordLen = 126

// Registers is the subset of modbus.Client used by Link.
type Registers interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

var errShortRead = errors.New("short register read")

// Link implements device.Link and device.Stopper over Registers.
type Link struct {
	Regs Registers
}

// NewLink creates a Link.
func NewLink(regs Registers) *Link {
	return &Link{Regs: regs}
}

func linkErr(op string, err error) error {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) && mbErr.ExceptionCode == modbus.ExceptionCodeIllegalDataValue {
		return &device.LinkError{Op: op, Err: fmt.Errorf("%w: %w", device.ErrRejected, err)}
	}
	return &device.LinkError{Op: op, Err: err}
}

func (l *Link) readBlock(op string, base uint16) ([]byte, error) {
	head, err := l.Regs.ReadHoldingRegisters(base, 1)
	if err != nil {
		return nil, linkErr(op, err)
	}
	if len(head) < 2 {
		return nil, linkErr(op, errShortRead)
	}
	size := int(binary.BigEndian.Uint16(head))
	if size > MaxRecordLen {
		return nil, linkErr(op, fmt.Errorf("record length %d out of range", size))
	}
	if size == 0 {
		return []byte{}, nil
	}
	data, err := l.Regs.ReadHoldingRegisters(base+1, uint16((size+1)/2))
	if err != nil {
		return nil, linkErr(op, err)
	}
	if len(data) < size {
		return nil, linkErr(op, errShortRead)
	}
	return data[:size], nil
}

func (l *Link) writeBlock(op string, base uint16, data []byte) error {
	if len(data) > MaxRecordLen {
		return linkErr(op, fmt.Errorf("record length %d out of range", len(data)))
	}
	value := PackBlock(data)
	if _, err := l.Regs.WriteMultipleRegisters(base, uint16(len(value)/2), value); err != nil {
		return linkErr(op, err)
	}
	return nil
}

// PackBlock encodes a record as register bytes: length then data,
// padded to whole registers.
func PackBlock(data []byte) []byte {
	value := make([]byte, 2+len(data)+len(data)%2)
	binary.BigEndian.PutUint16(value, uint16(len(data)))
	copy(value[2:], data)
	return value
}

// UnpackBlock decodes register bytes written by PackBlock.
func UnpackBlock(value []byte) ([]byte, error) {
	if len(value) < 2 {
		return nil, errShortRead
	}
	size := int(binary.BigEndian.Uint16(value))
	if size > len(value)-2 {
		return nil, errShortRead
	}
	return value[2 : 2+size], nil
}

// ReadConfig implements device.Link.
func (l *Link) ReadConfig() ([]byte, error) {
	return l.readBlock(device.OpReadConfig, RegConfig)
}

// WriteConfig implements device.Link.
func (l *Link) WriteConfig(data []byte) error {
	return l.writeBlock(device.OpWriteConfig, RegConfig, data)
}

// SaveConfig implements device.Link.
func (l *Link) SaveConfig() error {
	if _, err := l.Regs.WriteSingleRegister(RegCommand, CommandSave); err != nil {
		return linkErr(device.OpSaveConfig, err)
	}
	return nil
}

// ReadState implements device.Link.
func (l *Link) ReadState() ([]byte, error) {
	return l.readBlock(device.OpReadState, RegState)
}

// WriteState implements device.Link.
func (l *Link) WriteState(data []byte) error {
	return l.writeBlock(device.OpWriteState, RegState, data)
}

// TriggerCount implements device.Link.
func (l *Link) TriggerCount(durationMs uint32) error {
	value := make([]byte, 4)
	binary.BigEndian.PutUint32(value, durationMs)
	if _, err := l.Regs.WriteMultipleRegisters(RegDuration, 2, value); err != nil {
		return linkErr(device.OpTriggerCount, err)
	}
	return nil
}

// StopCount implements device.Stopper.
func (l *Link) StopCount() (uint32, error) {
	if _, err := l.Regs.WriteSingleRegister(RegCommand, CommandStop); err != nil {
		return 0, linkErr(device.OpStopCount, err)
	}
	value, err := l.Regs.ReadHoldingRegisters(RegStopCount, 2)
	if err != nil {
		return 0, linkErr(device.OpStopCount, err)
	}
	if len(value) < 4 {
		return 0, linkErr(device.OpStopCount, errShortRead)
	}
	return binary.BigEndian.Uint32(value), nil
}
