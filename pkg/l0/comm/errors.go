package comm

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady indicates the FIFO is not synchronized with its peer.
	ErrNotReady = errors.New("not ready")
	// ErrNoReply indicates the peer replied to a later command, all
	// earlier pending commands fail with this error.
	ErrNoReply = errors.New("no reply")
	// ErrLinkLost fails pending commands when the link re-synchronizes.
	ErrLinkLost = errors.New("link lost")
	// ErrPayloadTooLarge indicates the packet data exceeds MaxDataLen.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Reasons carried by error replies.
const (
	ReasonNone           byte = 0
	ReasonInvalidPayload byte = 1
	ReasonRejected       byte = 2
	ReasonUnknownCommand byte = 3
)

var reasonNames = map[byte]string{
	ReasonInvalidPayload: "invalid payload",
	ReasonRejected:       "rejected",
	ReasonUnknownCommand: "unknown command",
}

// CommandError is an error reply from the peer.
type CommandError struct {
	Code   byte
	Reason byte
}

// Error implements error.
func (e *CommandError) Error() string {
	if name, ok := reasonNames[e.Reason]; ok {
		return fmt.Sprintf("command 0x%02x: %s", e.Code, name)
	}
	return fmt.Sprintf("command 0x%02x: error %d", e.Code, e.Reason)
}
