package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mw-bridge/pb"
)

func TestWireName(t *testing.T) {
	cases := map[string]string{
		"ping":          "Ping",
		"walletCreate":  "WalletCreate",
		"ImageGetBlob":  "ImageGetBlob",
		"":              "",
		"x":             "X",
		"ägypten":       "Ägypten",
		"1stCommand":    "1stCommand",
		"accountSelect": "AccountSelect",
	}
	for in, want := range cases {
		assert.Equal(t, want, WireName(in), "input %q", in)
	}
}

func TestCommandTable(t *testing.T) {
	methods := Methods()
	require.Len(t, methods, 9)

	seen := map[string]bool{}
	for _, m := range methods {
		assert.False(t, seen[m.Name], "duplicate %s", m.Name)
		seen[m.Name] = true
		assert.Equal(t, WireName(m.Name), m.WireName)
	}

	d, ok := Lookup("AccountCreate")
	require.True(t, ok)
	assert.Equal(t, "accountCreate", d.Name)
	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestMethodCodecs(t *testing.T) {
	data, err := Ping.Request.Encode(&pb.PingRequest{Index: 1})
	require.NoError(t, err)

	req, err := Ping.Request.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, int32(1), req.Index)

	resp, err := Ping.Response.Decode([]byte{0x10, 0x01, 0x18, 0x01})
	require.NoError(t, err)
	assert.Equal(t, &pb.PingResponse{Index: 1, NumberOfEventsToSend: 1}, resp)
}
