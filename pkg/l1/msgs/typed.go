package msgs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/protobuf/proto"

	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
)

// A type ID is laid out as
//
//	bit 31     kind, set for events
//	bits 16-30 group
//	bit 15     reply, commands only
//	bits 0-14  id within the group
const (
	TypeIDMaskKind  uint32 = 0x80000000
	TypeIDMaskGroup uint32 = 0x7fff0000
	TypeIDMaskID    uint32 = 0x0000ffff
	TypeIDMaskReply uint32 = 0x00008000
)

// Message kinds.
const (
	TypeIDKindCommand uint32 = 0x00000000
	TypeIDKindEvent   uint32 = 0x80000000
)

// Typed is the L1 envelope. Sequence is chosen by the sender of a
// command and copied into the reply, it is 0 for events.
type Typed struct {
	TypeId   uint32 `protobuf:"varint,1,opt,name=type_id,proto3" json:"type_id,omitempty"`
	Sequence uint32 `protobuf:"varint,2,opt,name=sequence,proto3" json:"sequence,omitempty"`
	Message  []byte `protobuf:"bytes,3,opt,name=message,proto3" json:"message,omitempty"`
}

func (p *Typed) Reset()         { *p = Typed{} }
func (p *Typed) String() string { return proto.CompactTextString(p) }
func (*Typed) ProtoMessage()    {}

// TypedMsgHandler receives decoded messages with their envelope.
type TypedMsgHandler interface {
	HandleTypedMsg(context.Context, fx.Message, *Typed) error
}

// HandleTypedMsgFunc is the func form of TypedMsgHandler.
type HandleTypedMsgFunc func(context.Context, fx.Message, *Typed) error

// HandleTypedMsg implements TypedMsgHandler.
func (f HandleTypedMsgFunc) HandleTypedMsg(ctx context.Context, msg fx.Message, typed *Typed) error {
	return f(ctx, msg, typed)
}

// ErrUnknownType is returned decoding an envelope of an unregistered type.
type ErrUnknownType struct {
	TypeID uint32
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown type: %x", e.TypeID)
}

var (
	// ErrNotSerializable is returned for messages not implementing
	// SerializableMessage.
	ErrNotSerializable = errors.New("not serializable message")
	// ErrUnsupportedCommand is replied to commands no controller took.
	ErrUnsupportedCommand = errors.New("unsupported command")
)

// SerializableMessage is a message that can travel in an envelope.
type SerializableMessage interface {
	fx.Message
	TypeID() uint32
	Serializable() proto.Message
}

// MessageTypes maps type IDs to a nil value of the message type.
var MessageTypes = map[uint32]SerializableMessage{
	CommandOKTypeID:     (*CommandOK)(nil),
	CommandErrTypeID:    (*CommandErr)(nil),
	CountPulsesTypeID:   (*CountPulses)(nil),
	CountResultTypeID:   (*CountResult)(nil),
	StopCountTypeID:     (*StopCount)(nil),
	ConfigQueryTypeID:   (*ConfigQuery)(nil),
	ConfigReplyTypeID:   (*ConfigReply)(nil),
	StateQueryTypeID:    (*StateQuery)(nil),
	StateReplyTypeID:    (*StateReply)(nil),
	UpdateConfigTypeID:  (*UpdateConfig)(nil),
	UpdateStateTypeID:   (*UpdateState)(nil),
	CountFinishedTypeID: (*CountFinished)(nil),
}

// Register adds message types from init. Registering another type
// under a taken ID panics.
func Register(msgs ...SerializableMessage) {
	for _, msg := range msgs {
		id := msg.TypeID()
		if prev, ok := MessageTypes[id]; ok && fmt.Sprintf("%T", prev) != fmt.Sprintf("%T", msg) {
			panic(fmt.Sprintf("msgs: type %x of %T already taken by %T", id, msg, prev))
		}
		MessageTypes[id] = msg
	}
}

// TypeName names a type ID for logs, e.g. "CountPulses".
func TypeName(id uint32) string {
	msg, ok := MessageTypes[id]
	if !ok {
		return fmt.Sprintf("%08x", id)
	}
	name := fmt.Sprintf("%T", msg)
	return name[strings.LastIndex(name, ".")+1:]
}

// TypedFrom wraps msg into an envelope with Sequence 0.
func TypedFrom(msg fx.Message) (*Typed, error) {
	s, ok := msg.(SerializableMessage)
	if !ok {
		return nil, ErrNotSerializable
	}
	data, err := proto.Marshal(s.Serializable())
	if err != nil {
		return nil, err
	}
	return &Typed{TypeId: s.TypeID(), Message: data}, nil
}

// DecodeTyped parses an envelope.
func DecodeTyped(data []byte) (*Typed, error) {
	typed := new(Typed)
	if err := proto.Unmarshal(data, typed); err != nil {
		return nil, err
	}
	return typed, nil
}

// Decode parses the wrapped message.
func (p Typed) Decode() (fx.Message, error) {
	zero, ok := MessageTypes[p.TypeId]
	if !ok {
		return nil, &ErrUnknownType{TypeID: p.TypeId}
	}
	msg := zero.NewMessage()
	if err := proto.Unmarshal(p.Message, msg.(SerializableMessage).Serializable()); err != nil {
		return nil, fmt.Errorf("%s: %w", TypeName(p.TypeId), err)
	}
	return msg, nil
}

// Encode serializes the envelope.
func (p Typed) Encode() ([]byte, error) {
	return proto.Marshal(&p)
}

// Kind is TypeIDKindCommand or TypeIDKindEvent.
func (p Typed) Kind() uint32 { return p.TypeId & TypeIDMaskKind }

// Group is the group bits of the type ID.
func (p Typed) Group() uint32 { return p.TypeId & TypeIDMaskGroup }

// IsCommand covers both requests and replies.
func (p Typed) IsCommand() bool { return p.Kind() == TypeIDKindCommand }

// IsReply tells a command envelope carries a reply.
func (p Typed) IsReply() bool { return p.IsCommand() && p.TypeId&TypeIDMaskReply != 0 }

// IsEvent tells the envelope carries an event.
func (p Typed) IsEvent() bool { return p.Kind() == TypeIDKindEvent }
