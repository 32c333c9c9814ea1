// Package device defines the request/response link to the pulse counter.
//
// Every operation of a Link is a single synchronous round trip to the
// device. Records travel as opaque encoded bytes, see package record.
package device

import (
	"errors"
	"fmt"
	"io"
)

// Link is the raw command surface of the device.
type Link interface {
	// ReadConfig returns the encoded config record.
	ReadConfig() ([]byte, error)
	// WriteConfig replaces the config record (not persisted).
	WriteConfig([]byte) error
	// SaveConfig durably commits the most recently written config.
	SaveConfig() error
	// ReadState returns the encoded state record.
	ReadState() ([]byte, error)
	// WriteState replaces the host owned fields of the state record.
	WriteState([]byte) error
	// TriggerCount starts counting for about durationMs milliseconds.
	// The device clears pulse_count_enable on its own afterwards.
	TriggerCount(durationMs uint32) error
}

// Conn is a Link which owns an underlying connection.
type Conn interface {
	Link
	io.Closer
}

// Stopper is implemented by links which can stop a running count.
type Stopper interface {
	// StopCount stops counting and returns the current count.
	StopCount() (uint32, error)
}

// Ops names used in LinkError.
const (
	OpReadConfig   = "read_config"
	OpWriteConfig  = "write_config"
	OpSaveConfig   = "save_config"
	OpReadState    = "read_state"
	OpWriteState   = "write_state"
	OpTriggerCount = "trigger_count"
	OpStopCount    = "stop_count"
)

var (
	// ErrLink matches any *LinkError.
	ErrLink = errors.New("link error")
	// ErrRejected indicates the device refused the command.
	ErrRejected = errors.New("rejected by device")
	// ErrTimeout indicates no reply arrived in time.
	ErrTimeout = errors.New("reply timeout")
	// ErrClosed indicates the link is closed.
	ErrClosed = errors.New("link closed")
)

// LinkError reports a failed link operation.
type LinkError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *LinkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the cause.
func (e *LinkError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrLink) true.
func (e *LinkError) Is(target error) bool { return target == ErrLink }

// Wrap wraps a non-nil err into LinkError unless it is already one.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var linkErr *LinkError
	if errors.As(err, &linkErr) {
		return err
	}
	return &LinkError{Op: op, Err: err}
}
