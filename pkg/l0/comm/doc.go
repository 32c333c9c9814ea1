// Package comm implements the L0 byte link between the host and the
// pulse counter firmware.
//
// Both peers run a FIFO over a point-to-point byte stream (serial port,
// TCP socket, websocket or an in-process pipe). A FIFO synchronizes with
// its peer by exchanging sequence numbers and recovers from garbage or
// lost bytes by re-synchronizing. There is no checksum, serial parity can
// be enabled where needed.
//
// The host wraps its FIFO in a Client which matches replies to commands.
// The device side wraps its FIFO in a Responder which dispatches commands
// to a CommandHandler and emits events.
package comm
