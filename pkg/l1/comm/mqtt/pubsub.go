package mqtt

import (
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// Handler receives a message, topic has the queue prefix removed.
type Handler func(topic string, payload []byte)

// ConnectHandler is called on connect and on connection loss.
type ConnectHandler func(*Queue)

// Queue is a paho client scoped to a topic prefix. Several handlers may
// share a topic filter, the broker subscription lives as long as one of
// them does.
type Queue struct {
	Client       paho.Client
	TopicPrefix  string
	QoS          byte
	OnConnect    ConnectHandler
	OnDisconnect ConnectHandler

	lock sync.RWMutex
	subs map[string][]*Subscription
}

// Subscription is one handler on a topic filter.
type Subscription struct {
	// Token is set for the first handler of a filter.
	Token paho.Token

	queue   *Queue
	filter  string
	handler Handler
}

// MatchTopic reports whether topic matches an MQTT topic filter with
// "+" and "#" wildcards.
func MatchTopic(topic, filter string) bool {
	levels, patterns := strings.Split(topic, "/"), strings.Split(filter, "/")
	for n, pattern := range patterns {
		if pattern == "#" && n+1 == len(patterns) {
			return len(levels) > n
		}
		if n >= len(levels) || pattern != "+" && pattern != levels[n] {
			return false
		}
	}
	return len(levels) == len(patterns)
}

// NewQueue creates a Queue, not connected yet.
func NewQueue(opts *Options) *Queue {
	q := &Queue{
		TopicPrefix: opts.TopicPrefix,
		QoS:         opts.QoS,
		subs:        make(map[string][]*Subscription),
	}
	opts.Client.SetOnConnectHandler(q.connected)
	opts.Client.SetConnectionLostHandler(q.connectionLost)
	q.Client = paho.NewClient(opts.Client)
	return q
}

// NewQueueFromURL creates a Queue from a broker URL.
func NewQueueFromURL(brokerURL string) (*Queue, error) {
	opts, err := ParseURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return NewQueue(opts), nil
}

// Connect starts connecting, subscriptions are restored on every connect.
func (q *Queue) Connect() paho.Token {
	return q.Client.Connect()
}

// Close disconnects immediately.
func (q *Queue) Close() error {
	q.Client.Disconnect(0)
	return nil
}

// Sub adds handler on a topic filter relative to the prefix.
func (q *Queue) Sub(filter string, handler Handler) *Subscription {
	sub := &Subscription{queue: q, filter: filter, handler: handler}
	q.lock.Lock()
	first := len(q.subs[filter]) == 0
	q.subs[filter] = append(q.subs[filter], sub)
	q.lock.Unlock()

	if first {
		glog.V(2).Infof("mqtt: SUB %q", q.TopicPrefix+filter)
		sub.Token = q.Client.Subscribe(q.TopicPrefix+filter, q.QoS, q.dispatch)
	}
	return sub
}

// Pub publishes with the queue QoS, not retained.
func (q *Queue) Pub(topic string, payload []byte) paho.Token {
	return q.PubWith(topic, payload, q.QoS, false)
}

// PubWith publishes with explicit QoS and retain flag.
func (q *Queue) PubWith(topic string, payload []byte, qos byte, retain bool) paho.Token {
	return q.Client.Publish(q.TopicPrefix+topic, qos, retain, payload)
}

// Resubscribe subscribes all filters again, a clean session loses them
// on reconnect.
func (q *Queue) Resubscribe() paho.Token {
	filters := make(map[string]byte)
	q.lock.RLock()
	for filter := range q.subs {
		filters[q.TopicPrefix+filter] = q.QoS
	}
	q.lock.RUnlock()
	if len(filters) == 0 {
		return &paho.DummyToken{}
	}
	glog.V(2).Infof("mqtt: SUB %d filters", len(filters))
	return q.Client.SubscribeMultiple(filters, q.dispatch)
}

func (q *Queue) connected(paho.Client) {
	glog.Info("mqtt: connected")
	q.Resubscribe()
	if h := q.OnConnect; h != nil {
		h(q)
	}
}

func (q *Queue) connectionLost(_ paho.Client, err error) {
	glog.Warningf("mqtt: connection lost: %v", err)
	if h := q.OnDisconnect; h != nil {
		h(q)
	}
}

func (q *Queue) dispatch(_ paho.Client, msg paho.Message) {
	topic := msg.Topic()
	if !strings.HasPrefix(topic, q.TopicPrefix) {
		return
	}
	topic = topic[len(q.TopicPrefix):]
	glog.V(3).Infof("mqtt: RCV %q", topic)
	for _, h := range q.handlers(topic) {
		h(topic, msg.Payload())
	}
}

func (q *Queue) handlers(topic string) []Handler {
	q.lock.RLock()
	defer q.lock.RUnlock()
	var handlers []Handler
	for filter, subs := range q.subs {
		if !MatchTopic(topic, filter) {
			continue
		}
		for _, sub := range subs {
			handlers = append(handlers, sub.handler)
		}
	}
	return handlers
}

// Close removes the handler, the last one of a filter unsubscribes.
func (s *Subscription) Close() error {
	q := s.queue
	q.lock.Lock()
	subs := q.subs[s.filter]
	for n, sub := range subs {
		if sub == s {
			subs = append(subs[:n], subs[n+1:]...)
			break
		}
	}
	last := len(subs) == 0
	if last {
		delete(q.subs, s.filter)
	} else {
		q.subs[s.filter] = subs
	}
	q.lock.Unlock()
	if !last {
		return nil
	}
	glog.V(2).Infof("mqtt: UNSUB %q", q.TopicPrefix+s.filter)
	token := q.Client.Unsubscribe(q.TopicPrefix + s.filter)
	token.Wait()
	return token.Error()
}
