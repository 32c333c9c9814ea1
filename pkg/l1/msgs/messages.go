package msgs

import (
	"errors"
	"time"

	"github.com/golang/protobuf/proto"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/acquisition"
	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/record"
)

// CommandOK is the generic reply indicating success for commands.
type CommandOK struct{}

// NewCommandOK creates a CommandOK.
func NewCommandOK() *CommandOK {
	return &CommandOK{}
}

// NewMessage implements Message.
func (m *CommandOK) NewMessage() fx.Message { return &CommandOK{} }

// TypeID implements SerializableMessage.
func (m *CommandOK) TypeID() uint32 { return CommandOKTypeID }

// Serializable implements SerializableMessage.
func (m *CommandOK) Serializable() proto.Message { return m }

// Reset implements proto.Message.
func (m *CommandOK) Reset() { *m = CommandOK{} }

// String implements proto.Message.
func (m *CommandOK) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*CommandOK) ProtoMessage() {}

// CommandErr is the generic message representing command error.
// Kind classifies the failure, see acquisition.Kind.
type CommandErr struct {
	Message string `protobuf:"bytes,1,opt,name=message,proto3" json:"message,omitempty"`
	Kind    string `protobuf:"bytes,2,opt,name=kind,proto3" json:"kind,omitempty"`
}

// NewCommandErr creates a CommandErr from an error.
func NewCommandErr(err error) *CommandErr {
	m := NewCommandErrFromMsg(err.Error())
	m.Kind = acquisition.Kind(err)
	return m
}

// NewCommandErrFromMsg creates a CommandErr.
func NewCommandErrFromMsg(message string) *CommandErr {
	return &CommandErr{Message: message}
}

// NewMessage implements Message.
func (m *CommandErr) NewMessage() fx.Message { return &CommandErr{} }

// TypeID implements SerializableMessage.
func (m *CommandErr) TypeID() uint32 { return CommandErrTypeID }

// Serializable implements SerializableMessage.
func (m *CommandErr) Serializable() proto.Message { return m }

// Reset implements proto.Message.
func (m *CommandErr) Reset() { *m = CommandErr{} }

// String implements proto.Message.
func (m *CommandErr) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*CommandErr) ProtoMessage() {}

// Error implements error.
func (m *CommandErr) Error() string { return m.Message }

// Unwrap maps Kind back to the sentinel error.
func (m *CommandErr) Unwrap() error {
	return acquisition.KindError(m.Kind)
}

// CountPulses command, replied with CountResult.
type CountPulses struct {
	Pin        int32            `protobuf:"varint,1,opt,name=pin,proto3" json:"pin,omitempty"`
	Channel    uint32           `protobuf:"varint,2,opt,name=channel,proto3" json:"channel,omitempty"`
	DurationMs uint32           `protobuf:"varint,3,opt,name=duration_ms,proto3" json:"duration_ms,omitempty"`
	Direction  record.Direction `protobuf:"varint,4,opt,name=direction,proto3" json:"direction,omitempty"`
	// TimeoutMs bounds the polling after the nominal duration, 0 polls
	// until the device finishes.
	TimeoutMs uint32 `protobuf:"varint,5,opt,name=timeout_ms,proto3" json:"timeout_ms,omitempty"`
	// UseDefaults takes pin, channel and direction from the device config.
	UseDefaults bool `protobuf:"varint,6,opt,name=use_defaults,proto3" json:"use_defaults,omitempty"`
	// UseDefaultTimeout replaces TimeoutMs by the service count timeout.
	UseDefaultTimeout bool `protobuf:"varint,7,opt,name=use_default_timeout,proto3" json:"use_default_timeout,omitempty"`
}

// Request converts the command into an acquisition request.
func (m *CountPulses) Request() acquisition.Request {
	return acquisition.Request{
		Pin:       m.Pin,
		Channel:   m.Channel,
		Duration:  time.Duration(m.DurationMs) * time.Millisecond,
		Direction: m.Direction,
		Timeout:   time.Duration(m.TimeoutMs) * time.Millisecond,
	}
}

// NewMessage implements Message.
func (m *CountPulses) NewMessage() fx.Message { return &CountPulses{} }

// TypeID implements SerializableMessage.
func (m *CountPulses) TypeID() uint32 { return CountPulsesTypeID }

// Serializable implements SerializableMessage.
func (m *CountPulses) Serializable() proto.Message { return m }

// Reset implements proto.Message.
func (m *CountPulses) Reset() { *m = CountPulses{} }

// String implements proto.Message.
func (m *CountPulses) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*CountPulses) ProtoMessage() {}

// CountResult replies CountPulses and StopCount.
type CountResult struct {
	Count     uint32 `protobuf:"varint,1,opt,name=count,proto3" json:"count"`
	ElapsedMs uint32 `protobuf:"varint,2,opt,name=elapsed_ms,proto3" json:"elapsed_ms,omitempty"`
}

// NewMessage implements Message.
func (m *CountResult) NewMessage() fx.Message { return &CountResult{} }

// TypeID implements SerializableMessage.
func (m *CountResult) TypeID() uint32 { return CountResultTypeID }

// Serializable implements SerializableMessage.
func (m *CountResult) Serializable() proto.Message { return m }

// Reset implements proto.Message.
func (m *CountResult) Reset() { *m = CountResult{} }

// String implements proto.Message.
func (m *CountResult) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*CountResult) ProtoMessage() {}

// StopCount command aborts a running count, replied with CountResult.
type StopCount struct{}

// NewMessage implements Message.
func (m *StopCount) NewMessage() fx.Message { return &StopCount{} }

// TypeID implements SerializableMessage.
func (m *StopCount) TypeID() uint32 { return StopCountTypeID }

// Serializable implements SerializableMessage.
func (m *StopCount) Serializable() proto.Message { return m }

// Reset implements proto.Message.
func (m *StopCount) Reset() { *m = StopCount{} }

// String implements proto.Message.
func (m *StopCount) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*StopCount) ProtoMessage() {}

// ConfigQuery command, replied with ConfigReply.
type ConfigQuery struct{}

// NewMessage implements Message.
func (m *ConfigQuery) NewMessage() fx.Message { return &ConfigQuery{} }

// TypeID implements SerializableMessage.
func (m *ConfigQuery) TypeID() uint32 { return ConfigQueryTypeID }

// Serializable implements SerializableMessage.
func (m *ConfigQuery) Serializable() proto.Message { return m }

// Reset implements proto.Message.
func (m *ConfigQuery) Reset() { *m = ConfigQuery{} }

// String implements proto.Message.
func (m *ConfigQuery) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*ConfigQuery) ProtoMessage() {}

// ConfigReply carries the device config.
type ConfigReply struct {
	Config *record.ConfigRecord `protobuf:"bytes,1,opt,name=config,proto3" json:"config,omitempty"`
}

// NewMessage implements Message.
func (m *ConfigReply) NewMessage() fx.Message { return &ConfigReply{} }

// TypeID implements SerializableMessage.
func (m *ConfigReply) TypeID() uint32 { return ConfigReplyTypeID }

// Serializable implements SerializableMessage.
func (m *ConfigReply) Serializable() proto.Message { return m }

// Reset implements proto.Message.
func (m *ConfigReply) Reset() { *m = ConfigReply{} }

// String implements proto.Message.
func (m *ConfigReply) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*ConfigReply) ProtoMessage() {}

// StateQuery command, replied with StateReply.
type StateQuery struct{}

// NewMessage implements Message.
func (m *StateQuery) NewMessage() fx.Message { return &StateQuery{} }

// TypeID implements SerializableMessage.
func (m *StateQuery) TypeID() uint32 { return StateQueryTypeID }

// Serializable implements SerializableMessage.
func (m *StateQuery) Serializable() proto.Message { return m }

// Reset implements proto.Message.
func (m *StateQuery) Reset() { *m = StateQuery{} }

// String implements proto.Message.
func (m *StateQuery) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*StateQuery) ProtoMessage() {}

// StateReply carries the device state.
type StateReply struct {
	State *record.StateRecord `protobuf:"bytes,1,opt,name=state,proto3" json:"state,omitempty"`
}

// NewMessage implements Message.
func (m *StateReply) NewMessage() fx.Message { return &StateReply{} }

// TypeID implements SerializableMessage.
func (m *StateReply) TypeID() uint32 { return StateReplyTypeID }

// Serializable implements SerializableMessage.
func (m *StateReply) Serializable() proto.Message { return m }

// Reset implements proto.Message.
func (m *StateReply) Reset() { *m = StateReply{} }

// String implements proto.Message.
func (m *StateReply) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*StateReply) ProtoMessage() {}

// UpdateConfig command merges field overrides into the config and
// saves it, replied with ConfigReply.
type UpdateConfig struct {
	Overrides map[string]string `protobuf:"bytes,1,rep,name=overrides,proto3" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3" json:"overrides,omitempty"`
	// Volatile skips save_config, the change is lost on reset.
	Volatile bool `protobuf:"varint,2,opt,name=volatile,proto3" json:"volatile,omitempty"`
}

// NewMessage implements Message.
func (m *UpdateConfig) NewMessage() fx.Message { return &UpdateConfig{} }

// TypeID implements SerializableMessage.
func (m *UpdateConfig) TypeID() uint32 { return UpdateConfigTypeID }

// Serializable implements SerializableMessage.
func (m *UpdateConfig) Serializable() proto.Message { return m }

// Reset implements proto.Message.
func (m *UpdateConfig) Reset() { *m = UpdateConfig{} }

// String implements proto.Message.
func (m *UpdateConfig) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*UpdateConfig) ProtoMessage() {}

// UpdateState command merges field overrides into the state,
// replied with StateReply.
type UpdateState struct {
	Overrides map[string]string `protobuf:"bytes,1,rep,name=overrides,proto3" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3" json:"overrides,omitempty"`
}

// NewMessage implements Message.
func (m *UpdateState) NewMessage() fx.Message { return &UpdateState{} }

// TypeID implements SerializableMessage.
func (m *UpdateState) TypeID() uint32 { return UpdateStateTypeID }

// Serializable implements SerializableMessage.
func (m *UpdateState) Serializable() proto.Message { return m }

// Reset implements proto.Message.
func (m *UpdateState) Reset() { *m = UpdateState{} }

// String implements proto.Message.
func (m *UpdateState) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*UpdateState) ProtoMessage() {}

// CountFinished event is published after every CountPulses command.
type CountFinished struct {
	Request   *CountPulses `protobuf:"bytes,1,opt,name=request,proto3" json:"request,omitempty"`
	Count     uint32       `protobuf:"varint,2,opt,name=count,proto3" json:"count"`
	ErrorKind string       `protobuf:"bytes,3,opt,name=error_kind,proto3" json:"error_kind,omitempty"`
	Error     string       `protobuf:"bytes,4,opt,name=error,proto3" json:"error,omitempty"`
	ElapsedMs uint32       `protobuf:"varint,5,opt,name=elapsed_ms,proto3" json:"elapsed_ms,omitempty"`
}

// NewMessage implements Message.
func (m *CountFinished) NewMessage() fx.Message { return &CountFinished{} }

// TypeID implements SerializableMessage.
func (m *CountFinished) TypeID() uint32 { return CountFinishedTypeID }

// Serializable implements SerializableMessage.
func (m *CountFinished) Serializable() proto.Message { return m }

// Reset implements proto.Message.
func (m *CountFinished) Reset() { *m = CountFinished{} }

// String implements proto.Message.
func (m *CountFinished) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*CountFinished) ProtoMessage() {}

// TypeID Groups
const (
	GroupCommand uint32 = 0x00000000
	GroupCounter uint32 = 0x00010000
	GroupCustom  uint32 = 0x7f000000 // base group id for custom messages.
)

// TypeIDs
const (
	CommandOKTypeID     uint32 = GroupCommand | TypeIDMaskReply | 0x0000
	CommandErrTypeID    uint32 = GroupCommand | TypeIDMaskReply | 0x0001
	CountPulsesTypeID   uint32 = GroupCounter | 0x0000
	CountResultTypeID   uint32 = CountPulsesTypeID | TypeIDMaskReply
	StopCountTypeID     uint32 = GroupCounter | 0x0001
	ConfigQueryTypeID   uint32 = GroupCounter | 0x0002
	ConfigReplyTypeID   uint32 = ConfigQueryTypeID | TypeIDMaskReply
	StateQueryTypeID    uint32 = GroupCounter | 0x0003
	StateReplyTypeID    uint32 = StateQueryTypeID | TypeIDMaskReply
	UpdateConfigTypeID  uint32 = GroupCounter | 0x0004
	UpdateStateTypeID   uint32 = GroupCounter | 0x0005
	CountFinishedTypeID uint32 = TypeIDKindEvent | GroupCounter | 0x0100
)

var (
	// ErrUnknownCommand indicates the command is unknown.
	ErrUnknownCommand = errors.New("unknown command")
)
