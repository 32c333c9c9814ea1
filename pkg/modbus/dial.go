package modbus

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/goburrow/modbus"
)

// Schemes accepted by Dial.
const (
	SchemeTCP = "modbus+tcp"
	SchemeRTU = "modbus+rtu"
)

// DefaultTimeout is the default response timeout.
const DefaultTimeout = time.Second

// Conn is a Link owning its Modbus connection.
type Conn struct {
	*Link
	closer io.Closer
}

// Close implements io.Closer.
func (c *Conn) Close() error {
	return c.closer.Close()
}

type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Dial connects to a device from a URL like
//
//	modbus+tcp://host:502?slave=1&timeout=1s
//	modbus+rtu:///dev/ttyUSB0?baud=19200&slave=1&parity=N
func Dial(rawurl string) (*Conn, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	slave, err := uintParam(q, "slave", 1, 247)
	if err != nil {
		return nil, err
	}
	timeout := DefaultTimeout
	if v := q.Get("timeout"); v != "" {
		if timeout, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", v, err)
		}
	}

	var h handler
	switch u.Scheme {
	case SchemeTCP:
		th := modbus.NewTCPClientHandler(u.Host)
		th.SlaveId = byte(slave)
		th.Timeout = timeout
		h = th
	case SchemeRTU:
		baud, err := uintParam(q, "baud", 19200, 4000000)
		if err != nil {
			return nil, err
		}
		rh := modbus.NewRTUClientHandler(u.Path)
		rh.BaudRate = int(baud)
		rh.DataBits = 8
		rh.Parity = "N"
		if p := q.Get("parity"); p != "" {
			rh.Parity = p
		}
		rh.StopBits = 1
		rh.SlaveId = byte(slave)
		rh.Timeout = timeout
		h = rh
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if err := h.Connect(); err != nil {
		return nil, err
	}
	return &Conn{Link: NewLink(modbus.NewClient(h)), closer: h}, nil
}

func uintParam(q url.Values, name string, def, max uint64) (uint64, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 0, 32)
	if err != nil || n == 0 || n > max {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}
