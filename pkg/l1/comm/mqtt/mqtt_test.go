package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1"
)

func TestMatchTopic(t *testing.T) {
	testCases := []struct {
		topic, pattern string
		match          bool
	}{
		{"counter/a1/meta", "+/+/meta", true},
		{"counter/a1/event", "+/+/meta", false},
		{"counter/a1/meta", "counter/#", true},
		{"counter", "counter/+", false},
		{"counter/a1/cmd", "counter/a1/cmd", true},
		{"counter/a1", "counter", false},
		{"counter", "counter/#", false},
	}
	for _, tc := range testCases {
		t.Run(tc.topic+"~"+tc.pattern, func(t *testing.T) {
			require.Equal(t, tc.match, MatchTopic(tc.topic, tc.pattern))
		})
	}
}

func TestParseURL(t *testing.T) {
	testCases := []struct {
		name   string
		url    string
		server string
		prefix string
		qos    byte
		client string
		user   string
	}{
		{"plain", "mqtt://broker:1883", "tcp://broker:1883", "", 0, "", ""},
		{"prefix", "tcp://broker:1883/lab/bench", "tcp://broker:1883", "lab/bench/", 0, "", ""},
		{"tls", "mqtts://u:p@broker:8883/lab/?qos=1&client-id=pc1", "ssl://broker:8883", "lab/", 1, "pc1", "u"},
		{"websocket", "ws://broker:9001", "ws://broker:9001", "", 0, "", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opts, err := ParseURL(tc.url)
			require.NoError(t, err)
			require.Len(t, opts.Client.Servers, 1)
			require.Equal(t, tc.server, opts.Client.Servers[0].String())
			require.Equal(t, tc.prefix, opts.TopicPrefix)
			require.Equal(t, tc.qos, opts.QoS)
			require.Equal(t, tc.client, opts.Client.ClientID)
			require.Equal(t, tc.user, opts.Client.Username)
		})
	}
}

func TestParseURLErrors(t *testing.T) {
	for _, u := range []string{"http://broker", "mqtt://broker?qos=3", "mqtt://broker?qos=x"} {
		t.Run(u, func(t *testing.T) {
			_, err := ParseURL(u)
			require.Error(t, err)
		})
	}
}

func TestParseMeta(t *testing.T) {
	ref := l1.ControllerRef{Type: "counter", ID: "a1"}
	info, ok := ParseMeta(MetaTopic(ref), []byte(`{"description":"bench","labels":{"pins":"2"}}`))
	require.True(t, ok)
	require.Equal(t, ref, info.Ref)
	require.Equal(t, "bench", info.Meta.Description)
	require.Equal(t, "2", info.Meta.Labels["pins"])

	_, ok = ParseMeta(MetaTopic(ref), nil)
	require.False(t, ok)
	_, ok = ParseMeta("counter/a1/event", []byte("{}"))
	require.False(t, ok)
}

func TestQueueHandlers(t *testing.T) {
	q, err := NewQueueFromURL("mqtt://127.0.0.1:1/lab")
	require.NoError(t, err)
	var got []string
	handler := func(name string) Handler {
		return func(topic string, payload []byte) { got = append(got, name+":"+topic) }
	}
	meta1 := q.Sub("+/+/meta", handler("meta1"))
	meta2 := q.Sub("+/+/meta", handler("meta2"))
	q.Sub("#", handler("all"))
	require.NotNil(t, meta1.Token)
	require.Nil(t, meta2.Token)

	require.Len(t, q.handlers("counter/a1/meta"), 3)
	require.Len(t, q.handlers("counter/a1/msg"), 1)

	require.NoError(t, meta2.Close())
	require.Len(t, q.handlers("counter/a1/meta"), 2)
	meta1.Close()
	require.Len(t, q.handlers("counter/a1/meta"), 1)

	for _, h := range q.handlers("counter/a1/meta") {
		h("counter/a1/meta", nil)
	}
	require.Equal(t, []string{"all:counter/a1/meta"}, got)
}

func TestReadWriterTopics(t *testing.T) {
	ref := l1.ControllerRef{Type: "pulse-counter", ID: "a1"}
	conn := NewPacketReadWriter(nil).ForConnector(ref)
	svc := NewPacketReadWriter(nil).ForController(ref)
	require.Equal(t, "pulse-counter/a1/msg", conn.SubTopic)
	require.Equal(t, "pulse-counter/a1/cmd", conn.PubTopic)
	require.Equal(t, conn.SubTopic, svc.PubTopic)
	require.Equal(t, conn.PubTopic, svc.SubTopic)
}

func TestReadWriterDrops(t *testing.T) {
	rw := NewPacketReadWriter(nil)
	for i := 0; i < PacketQueueSize+2; i++ {
		rw.receive("pulse-counter/a1/msg", []byte{byte(i)})
	}
	require.EqualValues(t, 2, rw.Dropped())
	pkt, err := rw.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, []byte{0}, pkt)
}
