package node

import (
	"errors"

	"github.com/golang/glog"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l0/comm"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/record"
)

// Handler serves the command set from a device.Link.
type Handler struct {
	Link device.Link
}

// NewHandler creates a Handler on link.
func NewHandler(link device.Link) *Handler {
	return &Handler{Link: link}
}

// HandleCommand implements comm.CommandHandler.
func (h *Handler) HandleCommand(code byte, data []byte) ([]byte, byte) {
	reply, err := h.dispatch(code, data)
	if err != nil {
		reason := reasonOf(err)
		glog.V(1).Infof("l0: command 0x%02x failed (%d): %v", code, reason, err)
		return nil, reason
	}
	return reply, comm.ReasonNone
}

var errUnknownCommand = errors.New("unknown command")

func (h *Handler) dispatch(code byte, data []byte) ([]byte, error) {
	noData := func(fn func() error) ([]byte, error) {
		if len(data) != 0 {
			return nil, errBadReply
		}
		return nil, fn()
	}
	switch code {
	case CodeReadConfig:
		return h.Link.ReadConfig()
	case CodeWriteConfig:
		return nil, h.Link.WriteConfig(data)
	case CodeSaveConfig:
		return noData(h.Link.SaveConfig)
	case CodeReadState:
		return h.Link.ReadState()
	case CodeWriteState:
		return nil, h.Link.WriteState(data)
	case CodeCountPulses:
		durationMs, err := decodeU32(data)
		if err != nil {
			return nil, err
		}
		return nil, h.Link.TriggerCount(durationMs)
	case CodeStopCount:
		stopper, ok := h.Link.(device.Stopper)
		if !ok {
			return nil, errUnknownCommand
		}
		count, err := stopper.StopCount()
		if err != nil {
			return nil, err
		}
		return encodeU32(count), nil
	}
	return nil, errUnknownCommand
}

func reasonOf(err error) byte {
	switch {
	case errors.Is(err, errUnknownCommand):
		return comm.ReasonUnknownCommand
	case errors.Is(err, errBadReply), errors.Is(err, record.ErrDecode):
		return comm.ReasonInvalidPayload
	default:
		return comm.ReasonRejected
	}
}
