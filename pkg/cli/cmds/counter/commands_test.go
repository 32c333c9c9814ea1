package counter

import (
	"testing"

	"github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/require"

	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/l1/msgs"
	"github.com/wheeler-microfluidics/pulse-counter-rpc/pkg/record"
)

func TestParseCount(t *testing.T) {
	testCases := []struct {
		args []string
		msg  *msgs.CountPulses
	}{
		{[]string{"100"}, &msgs.CountPulses{DurationMs: 100, UseDefaults: true, UseDefaultTimeout: true}},
		{[]string{"100", "3"}, &msgs.CountPulses{DurationMs: 100, Pin: 3, UseDefaultTimeout: true}},
		{[]string{"1000", "-1", "2", "falling", "50"},
			&msgs.CountPulses{DurationMs: 1000, Pin: -1, Channel: 2, Direction: record.Falling, TimeoutMs: 50}},
		{[]string{"1000", "3", "1", "rising", "0"},
			&msgs.CountPulses{DurationMs: 1000, Pin: 3, Channel: 1, Direction: record.Rising}},
	}
	for _, tc := range testCases {
		t.Run(tc.msg.String(), func(t *testing.T) {
			msg, err := ParseCount(tc.args)
			require.NoError(t, err)
			require.True(t, proto.Equal(tc.msg, msg), "got %v", msg)
		})
	}
}

func TestParseCountErrors(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"-5"},
		{"10", "x"},
		{"10", "3", "x"},
		{"10", "3", "1", "sideways"},
		{"10", "3", "1", "rising", "x"},
	} {
		_, err := ParseCount(args)
		require.Error(t, err, "%v", args)
	}
}

func TestParseOverrides(t *testing.T) {
	o, volatile, err := ParseOverrides([]string{"default_pulse_pin=7", "i2c_address=0x20"})
	require.NoError(t, err)
	require.False(t, volatile)
	require.Equal(t, map[string]string{"default_pulse_pin": "7", "i2c_address": "0x20"}, o)

	for _, flag := range []string{"volatile", "-n"} {
		o, volatile, err = ParseOverrides([]string{"pulse_direction=change", flag})
		require.NoError(t, err)
		require.True(t, volatile)
		require.Len(t, o, 1)
	}

	for _, args := range [][]string{nil, {"volatile"}, {"persist"}, {"novalue"}, {"=1"}} {
		_, _, err := ParseOverrides(args)
		require.Error(t, err, "%v", args)
	}
}
