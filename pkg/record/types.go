// Package record defines the config and state records stored on the
// pulse counter device and their canonical wire encoding.
package record

import (
	"fmt"
	"strings"

	"github.com/golang/protobuf/proto"
)

// Schema versions understood by this package.
const (
	ConfigVersion uint32 = 1
	StateVersion  uint32 = 1
)

// Direction selects the signal edge which is counted.
// Values match the interrupt modes of the Teensy core.
type Direction int32

// Directions
const (
	DirectionUnset Direction = 0
	Falling        Direction = 2
	Rising         Direction = 3
	Change         Direction = 4
)

var directionNames = map[Direction]string{
	DirectionUnset: "unset",
	Falling:        "falling",
	Rising:         "rising",
	Change:         "change",
}

// String implements fmt.Stringer.
func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("direction(%d)", int32(d))
}

// IsValid indicates d is a known direction, including unset.
func (d Direction) IsValid() bool {
	_, ok := directionNames[d]
	return ok
}

// ParseDirection parses a direction name or its numeric value.
func ParseDirection(s string) (Direction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, name := range directionNames {
		if name == s && d != DirectionUnset {
			return d, nil
		}
	}
	var n int32
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
		if d := Direction(n); d.IsValid() && d != DirectionUnset {
			return d, nil
		}
	}
	return DirectionUnset, fmt.Errorf("invalid direction %q", s)
}

// ConfigRecord holds the persistent settings of the device.
type ConfigRecord struct {
	Version               uint32    `protobuf:"varint,1,opt,name=version,proto3" json:"version,omitempty" yaml:"version"`
	SerialNumber          uint32    `protobuf:"varint,2,opt,name=serial_number,proto3" json:"serial_number,omitempty" yaml:"serial_number"`
	BaudRate              uint32    `protobuf:"varint,3,opt,name=baud_rate,proto3" json:"baud_rate,omitempty" yaml:"baud_rate"`
	I2CAddress            uint32    `protobuf:"varint,4,opt,name=i2c_address,proto3" json:"i2c_address,omitempty" yaml:"i2c_address"`
	MuxChannelAPin        uint32    `protobuf:"varint,5,opt,name=mux_channel_a_pin,proto3" json:"mux_channel_a_pin,omitempty" yaml:"mux_channel_a_pin"`
	MuxChannelBPin        uint32    `protobuf:"varint,6,opt,name=mux_channel_b_pin,proto3" json:"mux_channel_b_pin,omitempty" yaml:"mux_channel_b_pin"`
	DefaultPulsePin       int32     `protobuf:"varint,7,opt,name=default_pulse_pin,proto3" json:"default_pulse_pin,omitempty" yaml:"default_pulse_pin"`
	DefaultPulseChannel   uint32    `protobuf:"varint,8,opt,name=default_pulse_channel,proto3" json:"default_pulse_channel,omitempty" yaml:"default_pulse_channel"`
	DefaultPulseDirection Direction `protobuf:"varint,9,opt,name=default_pulse_direction,proto3" json:"default_pulse_direction,omitempty" yaml:"default_pulse_direction"`
}

// NewConfig creates a ConfigRecord of the current schema version.
func NewConfig() ConfigRecord {
	return ConfigRecord{Version: ConfigVersion}
}

// ProtoMessage implements proto.Message.
func (m *ConfigRecord) ProtoMessage() {}

// Reset implements proto.Message.
func (m *ConfigRecord) Reset() { *m = ConfigRecord{} }

// String implements proto.Message.
func (m *ConfigRecord) String() string { return proto.CompactTextString(m) }

// StateRecord holds the live status of the device.
// PulseCountEnable and PulseCount are owned by the device.
type StateRecord struct {
	Version          uint32    `protobuf:"varint,1,opt,name=version,proto3" json:"version,omitempty" yaml:"version"`
	PulsePin         int32     `protobuf:"varint,2,opt,name=pulse_pin,proto3" json:"pulse_pin,omitempty" yaml:"pulse_pin"`
	PulseChannel     uint32    `protobuf:"varint,3,opt,name=pulse_channel,proto3" json:"pulse_channel,omitempty" yaml:"pulse_channel"`
	PulseDirection   Direction `protobuf:"varint,4,opt,name=pulse_direction,proto3" json:"pulse_direction,omitempty" yaml:"pulse_direction"`
	PulseCountEnable bool      `protobuf:"varint,5,opt,name=pulse_count_enable,proto3" json:"pulse_count_enable,omitempty" yaml:"pulse_count_enable"`
	PulseCount       uint32    `protobuf:"varint,6,opt,name=pulse_count,proto3" json:"pulse_count,omitempty" yaml:"pulse_count"`
}

// NewState creates a StateRecord of the current schema version.
func NewState() StateRecord {
	return StateRecord{Version: StateVersion, PulsePin: -1}
}

// ProtoMessage implements proto.Message.
func (m *StateRecord) ProtoMessage() {}

// Reset implements proto.Message.
func (m *StateRecord) Reset() { *m = StateRecord{} }

// String implements proto.Message.
func (m *StateRecord) String() string { return proto.CompactTextString(m) }

// Busy indicates a pulse count is in progress on the device.
func (m *StateRecord) Busy() bool { return m.PulseCountEnable }
