package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/acquisition"
	fx "github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/framework"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l0/node"
)

func TestServer(t *testing.T) {
	srv, err := Listen(NewDevice(Config{Rate: 1000}), "127.0.0.1:0", "127.0.0.1:0")
	require.NoError(t, err)
	loop := fx.NewLoop()
	loop.Interval = 5 * time.Millisecond
	loop.Add(srv)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	testCases := []struct {
		name string
		url  string
	}{
		{"tcp", "tcp://" + srv.Listener.Addr().String()},
		{"websocket", "ws://" + srv.WSListener.Addr().String() + DefaultWebsocketPath},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			counts := make(chan uint32, 1)
			proxy, err := node.Dial(tc.url, node.Options{
				CallTimeout:     time.Second,
				OnCountFinished: func(count uint32) { counts <- count },
			})
			require.NoError(t, err)
			defer proxy.Close()

			ctl := acquisition.New(proxy)
			ctl.PollInterval = 2 * time.Millisecond
			count, err := ctl.CountPulses(acquisition.Request{Pin: 3, Duration: 20 * time.Millisecond, Timeout: time.Second})
			require.NoError(t, err)
			require.EqualValues(t, 20, count)
			select {
			case count := <-counts:
				require.EqualValues(t, 20, count)
			case <-time.After(time.Second):
				t.Fatal("count-finished event missing")
			}
		})
	}
}
