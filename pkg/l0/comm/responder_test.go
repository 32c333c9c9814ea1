package comm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func runClientResponder(t *testing.T, h CommandHandler) (*Client, *Responder) {
	a, b := Pair()
	client := NewClient(NewFIFO(a))
	responder := NewResponder(NewFIFO(b), h)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		a.Close()
	})
	go client.Run(ctx)
	go responder.Run(ctx)
	readyCtx, readyCancel := context.WithTimeout(ctx, time.Second)
	defer readyCancel()
	require.NoError(t, client.WaitReady(readyCtx))
	return client, responder
}

func TestResponder(t *testing.T) {
	client, _ := runClientResponder(t, HandleCommandFunc(func(code byte, data []byte) ([]byte, byte) {
		switch code {
		case 0x02:
			return []byte{1, 2, 3}, ReasonNone
		case 0x04:
			return data, ReasonNone
		case 0x0a:
			return nil, ReasonRejected
		case 0x0e:
			return make([]byte, MaxDataLen), ReasonNone
		}
		return nil, ReasonUnknownCommand
	}))

	testCases := []struct {
		name   string
		pkt    Packet
		expect Result
	}{
		{"reply", Packet{Code: 0x02}, Result{Code: 0x02, Data: []byte{1, 2, 3}}},
		{"echo", Packet{Code: 0x04, Data: []byte{9, 8}}, Result{Code: 0x04, Data: []byte{9, 8}}},
		{"rejected", Packet{Code: 0x0a, Data: []byte{1}}, Result{Err: &CommandError{Code: 0x0a, Reason: ReasonRejected}}},
		{"unknown", Packet{Code: 0x06}, Result{Err: &CommandError{Code: 0x06, Reason: ReasonUnknownCommand}}},
		{"reply too large", Packet{Code: 0x0e}, Result{Err: &CommandError{Code: 0x0e, Reason: ReasonInvalidPayload}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			pkt := tc.pkt
			require.Equal(t, tc.expect, client.Call(ctx, &pkt))
		})
	}
}

func TestResponderNotify(t *testing.T) {
	client, responder := runClientResponder(t, HandleCommandFunc(func(byte, []byte) ([]byte, byte) {
		return nil, ReasonNone
	}))
	require.NoError(t, responder.Notify(0x02, []byte{42, 0, 0, 0}))
	select {
	case pkt := <-client.EventChan():
		require.Equal(t, byte(0x82), pkt.Code)
		require.Equal(t, []byte{42, 0, 0, 0}, pkt.Data)
	case <-time.After(time.Second):
		t.Fatal("event timeout")
	}
}

func TestCallTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	client, _ := runClientResponder(t, HandleCommandFunc(func(byte, []byte) ([]byte, byte) {
		<-block
		return nil, ReasonNone
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := client.Call(ctx, &Packet{Code: 0x08})
	require.Equal(t, context.DeadlineExceeded, r.Err)
}
