// Package node maps the pulse counter command set onto the L0 link.
//
// Proxy is the host side and implements device.Conn. Handler is the
// device side and serves any device.Link, which is how the simulator is
// exposed over a byte stream.
package node

import (
	"encoding/binary"
	"errors"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/device"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l0/comm"
)

// Command codes.
const (
	CodeReadConfig  byte = 0x02
	CodeWriteConfig byte = 0x04
	CodeSaveConfig  byte = 0x06
	CodeReadState   byte = 0x08
	CodeWriteState  byte = 0x0a
	CodeCountPulses byte = 0x0c
	CodeStopCount   byte = 0x0e
)

// EventCountFinished carries the final count as u32le.
const EventCountFinished byte = 0x82

// MaxPayload is the largest record carried in a reply, which spends
// one byte on the request seq.
const MaxPayload = comm.MaxDataLen - 1

var ops = map[byte]string{
	CodeReadConfig:  device.OpReadConfig,
	CodeWriteConfig: device.OpWriteConfig,
	CodeSaveConfig:  device.OpSaveConfig,
	CodeReadState:   device.OpReadState,
	CodeWriteState:  device.OpWriteState,
	CodeCountPulses: device.OpTriggerCount,
	CodeStopCount:   device.OpStopCount,
}

var (
	errPayloadTooLarge = errors.New("payload too large")
	errBadReply        = errors.New("malformed reply")
)

func encodeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func decodeU32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, errBadReply
	}
	return binary.LittleEndian.Uint32(b), nil
}
