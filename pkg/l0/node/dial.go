package node

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"golang.org/x/net/websocket"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l0/comm"
)

// DefaultBaudRate matches the firmware default.
const DefaultBaudRate = 115200

// Dial connects to a device from a URL:
//
//	serial:///dev/ttyACM0?baud=115200 (or just /dev/ttyACM0)
//	tcp://host:port
//	ws://host:port/path
func Dial(rawurl string, opts Options) (*Proxy, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	var stream io.ReadWriteCloser
	switch u.Scheme {
	case "", "serial":
		path := u.Path
		if u.Scheme == "" {
			path = rawurl
		}
		baud := DefaultBaudRate
		if v := u.Query().Get("baud"); v != "" && u.Scheme != "" {
			if baud, err = strconv.Atoi(v); err != nil || baud <= 0 {
				return nil, fmt.Errorf("invalid baud %q", v)
			}
		}
		if stream, err = OpenSerial(path, baud); err != nil {
			return nil, err
		}
		opts.ReadTimeout = true
	case "tcp":
		timeout := opts.CallTimeout
		if timeout <= 0 {
			timeout = DefaultCallTimeout
		}
		if stream, err = net.DialTimeout("tcp", u.Host, timeout); err != nil {
			return nil, err
		}
	case "ws", "wss":
		origin := "http://" + u.Host
		conn, err := websocket.Dial(u.String(), "", origin)
		if err != nil {
			return nil, err
		}
		conn.PayloadType = websocket.BinaryFrame
		stream = conn
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return NewProxy(stream, opts), nil
}

// OpenSerial opens a serial port in 8N1 with a read timeout suitable
// for FIFO.ReadTimeout.
func OpenSerial(path string, baud int) (serial.Port, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err = port.SetReadTimeout(comm.DefaultSyncTimeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// PortInfo describes a serial port.
type PortInfo struct {
	Name         string
	USB          bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListPorts enumerates the serial ports of the host.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	infos := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		infos = append(infos, PortInfo{
			Name:         p.Name,
			USB:          p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return infos, nil
}
