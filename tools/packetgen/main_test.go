package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-socket-server/pkg/protocol"
)

func TestBuildPacket(t *testing.T) {
	tests := []struct {
		kind  string
		value string
		want  protocol.Packet
	}{
		{"byte", "0x2A", protocol.Byte(42)},
		{"int32", "-7", protocol.Int32(-7)},
		{"float32", "2.5", protocol.Float32(2.5)},
		{"str", "hello", protocol.Str("hello")},
		{"op", "3", protocol.Byte(3)},
		{"handshake", "", protocol.HandshakeRequest},
		{"handshake", "reply", protocol.HandshakeReply},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.value, func(t *testing.T) {
			p, err := buildPacket(tt.kind, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p)
		})
	}

	_, err := buildPacket("byte", "256")
	assert.Error(t, err)
	_, err = buildPacket("uint64", "1")
	assert.Error(t, err)
}

func TestRunOutput(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--type", "op", "4"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "0104")
	assert.Contains(t, out.String(), "0x01, 0x04")
	assert.Contains(t, out.String(), "GetConsumption")
}

func TestRandomPacketsRoundTrip(t *testing.T) {
	for i := 0; i < 50; i++ {
		p := randomPacket()
		data, err := protocol.Append(nil, p)
		require.NoError(t, err)
		got, err := protocol.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}
