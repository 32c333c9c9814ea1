package acquisition

import (
	"errors"
	"fmt"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/record"
)

var (
	// ErrAlreadyInProgress indicates the device is already counting.
	ErrAlreadyInProgress = errors.New("pulse count already in progress")
	// ErrStateUpdateFailed indicates arming the device failed.
	ErrStateUpdateFailed = errors.New("state update failed")
	// ErrTriggerFailed indicates the device didn't start counting.
	ErrTriggerFailed = errors.New("count trigger failed")
	// ErrTimedOut indicates the device didn't finish within the timeout.
	ErrTimedOut = errors.New("timed out waiting for pulse count")
	// ErrSaveFailed indicates the config was written but not persisted.
	ErrSaveFailed = errors.New("config save failed")
)

// Error ties a failure kind to its cause.
// Both Kind and Err are matched by errors.Is.
type Error struct {
	Op   string
	Kind error
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Error kinds carried across process boundaries.
const (
	KindAlreadyInProgress = "already_in_progress"
	KindStateUpdateFailed = "state_update_failed"
	KindTriggerFailed     = "trigger_failed"
	KindTimedOut          = "timed_out"
	KindSaveFailed        = "save_failed"
	KindLink              = "link"
	KindDecode            = "decode"
	KindInvalidField      = "invalid_field"
)

// kinds is ordered, the first match wins.
var kinds = []struct {
	name string
	err  error
}{
	{KindAlreadyInProgress, ErrAlreadyInProgress},
	{KindStateUpdateFailed, ErrStateUpdateFailed},
	{KindTriggerFailed, ErrTriggerFailed},
	{KindTimedOut, ErrTimedOut},
	{KindSaveFailed, ErrSaveFailed},
	{KindInvalidField, record.ErrInvalidField},
	{KindDecode, record.ErrDecode},
	{KindLink, device.ErrLink},
}

// Kind returns the tag of err, or "" if err is nil or not classified.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// KindError returns the sentinel error of a tag, or nil.
func KindError(kind string) error {
	for _, k := range kinds {
		if k.name == kind {
			return k.err
		}
	}
	return nil
}
