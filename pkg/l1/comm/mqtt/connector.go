package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/comm"
)

// DefaultDiscoverTimeout is how long Discover collects retained metas.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// Connector is the client side l1.Connector over a broker.
type Connector struct {
	DiscoverTimeout time.Duration

	options *Options
}

// NewConnector parses brokerURL, nothing is connected until used.
func NewConnector(brokerURL string) (*Connector, error) {
	opts, err := ParseURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return &Connector{DiscoverTimeout: DefaultDiscoverTimeout, options: opts}, nil
}

// ParseMeta decodes a TYPE/ID/meta topic. ok is false for other topics
// and for the empty payload left by a service going away.
func ParseMeta(topic string, payload []byte) (info l1.ControllerInfo, ok bool) {
	levels := strings.Split(topic, "/")
	if len(levels) != 3 || levels[2] != MetaSuffix || len(payload) == 0 {
		return info, false
	}
	info.Ref = l1.ControllerRef{Type: levels[0], ID: levels[1]}
	if err := json.Unmarshal(payload, &info.Meta); err != nil {
		glog.Warningf("mqtt: %s: bad meta: %v", info.Ref.Name(), err)
	}
	return info, true
}

// Discover implements l1.Connector. Retained metas arriving within
// DiscoverTimeout are collected, a service is listed once.
func (c *Connector) Discover(ctx context.Context) ([]l1.ControllerInfo, error) {
	q := NewQueue(c.options)
	token := q.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	defer q.Close()

	infoCh := make(chan l1.ControllerInfo, PacketQueueSize)
	doneCh := make(chan struct{})
	defer close(doneCh)
	sub := q.Sub("+/+/"+MetaSuffix, func(topic string, payload []byte) {
		info, ok := ParseMeta(topic, payload)
		if !ok {
			return
		}
		select {
		case infoCh <- info:
		case <-doneCh:
		}
	})
	defer sub.Close()

	wait := c.DiscoverTimeout
	if wait <= 0 {
		wait = DefaultDiscoverTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var found []l1.ControllerInfo
	seen := make(map[l1.ControllerRef]bool)
	for {
		select {
		case info := <-infoCh:
			if !seen[info.Ref] {
				seen[info.Ref] = true
				found = append(found, info)
			}
		case <-timer.C:
			return found, nil
		case <-ctx.Done():
			return found, ctx.Err()
		}
	}
}

// Connect implements l1.Connector. The connection is not checked
// against the meta topic, commands to an absent service expire.
func (c *Connector) Connect(ctx context.Context, ref l1.ControllerRef) (l1.ControllerConn, error) {
	q := NewQueue(c.options)
	token := q.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	conn := &ControllerConn{Queue: q}
	conn.Init(NewPacketReadWriter(q).ForConnector(ref))
	return conn, nil
}

// ControllerConn is comm.ControllerConn owning its broker connection.
type ControllerConn struct {
	comm.ControllerConn
	Queue *Queue
}

// Close disconnects from the broker.
func (c *ControllerConn) Close() error {
	return c.Queue.Close()
}
