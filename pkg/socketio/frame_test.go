package socketio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEvent(t *testing.T) {
	t.Run("fire and forget", func(t *testing.T) {
		buf, err := encodeEvent("chatMsg", map[string]string{"msg": "hi"}, -1)
		require.NoError(t, err)
		assert.Equal(t, `42["chatMsg",{"msg":"hi"}]`, string(buf))
	})

	t.Run("with ack id", func(t *testing.T) {
		buf, err := encodeEvent("joinChannel", map[string]string{"name": "c"}, 7)
		require.NoError(t, err)
		assert.Equal(t, `427["joinChannel",{"name":"c"}]`, string(buf))
	})

	t.Run("no payload", func(t *testing.T) {
		buf, err := encodeEvent("playNext", nil, -1)
		require.NoError(t, err)
		assert.Equal(t, `42["playNext"]`, string(buf))
	})
}

func TestDecodeFrame(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		f, err := decodeFrame([]byte(`0{"sid":"abc","pingInterval":25000,"pingTimeout":60000}`))
		require.NoError(t, err)
		assert.Equal(t, byte(packetOpen), f.Type)
		assert.JSONEq(t, `{"sid":"abc","pingInterval":25000,"pingTimeout":60000}`, string(f.Payload))
	})

	t.Run("ping pong close", func(t *testing.T) {
		for _, raw := range []string{"2", "3", "1"} {
			f, err := decodeFrame([]byte(raw))
			require.NoError(t, err)
			assert.Equal(t, raw[0], f.Type)
		}
	})

	t.Run("event with payload", func(t *testing.T) {
		f, err := decodeFrame([]byte(`42["chatMsg",{"username":"u","msg":"hi"}]`))
		require.NoError(t, err)
		assert.Equal(t, byte(packetMessage), f.Type)
		assert.Equal(t, byte(messageEvent), f.Message)
		assert.Equal(t, "chatMsg", f.Name)
		assert.JSONEq(t, `{"username":"u","msg":"hi"}`, string(f.Data))
		assert.EqualValues(t, -1, f.ID)
	})

	t.Run("event without payload", func(t *testing.T) {
		f, err := decodeFrame([]byte(`42["usercount"]`))
		require.NoError(t, err)
		assert.Equal(t, "usercount", f.Name)
		assert.Nil(t, f.Data)
	})

	t.Run("ack with id", func(t *testing.T) {
		f, err := decodeFrame([]byte(`4313[{"ok":true}]`))
		require.NoError(t, err)
		assert.Equal(t, byte(messageAck), f.Message)
		assert.EqualValues(t, 13, f.ID)
		assert.JSONEq(t, `{"ok":true}`, string(f.Data))
	})

	t.Run("connect", func(t *testing.T) {
		f, err := decodeFrame([]byte(`40`))
		require.NoError(t, err)
		assert.Equal(t, byte(messageConnect), f.Message)
	})

	t.Run("garbage", func(t *testing.T) {
		for _, raw := range []string{"", "9", "42{notanarray}", "42[]", "4"} {
			_, err := decodeFrame([]byte(raw))
			assert.Error(t, err, "frame %q", raw)
		}
	})
}
