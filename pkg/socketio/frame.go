package socketio

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// engine.io v3 packet types (first byte of every text frame).
const (
	packetOpen    = '0'
	packetClose   = '1'
	packetPing    = '2'
	packetPong    = '3'
	packetMessage = '4'
)

// socket.io packet types (second byte of message frames).
const (
	messageConnect    = '0'
	messageDisconnect = '1'
	messageEvent      = '2'
	messageAck        = '3'
	messageError      = '4'
)

// Event is one inbound event: a name plus its raw JSON payload.
// The payload is nil for events delivered without arguments.
type Event struct {
	Name string
	Data json.RawMessage
}

// frame is a decoded engine.io text frame. For event and ack frames the
// socket.io fields are populated; ID is -1 when the frame carries none.
type frame struct {
	Type    byte
	Message byte
	ID      int64
	Name    string
	Data    json.RawMessage
	Payload []byte
}

// handshake is the JSON body of the open frame.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int64  `json:"pingInterval"` // milliseconds
	PingTimeout  int64  `json:"pingTimeout"`  // milliseconds
}

// encodeEvent builds an outbound event frame: "42[<id>]["name",payload]".
// id < 0 means fire-and-forget (no ack requested).
func encodeEvent(name string, payload any, id int64) ([]byte, error) {
	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("socket.io: encode %q: %w", name, err)
	}
	buf := make([]byte, 0, len(body)+24)
	buf = append(buf, packetMessage, messageEvent)
	if id >= 0 {
		buf = strconv.AppendInt(buf, id, 10)
	}
	return append(buf, body...), nil
}

// decodeFrame parses one inbound text frame. Unknown message subtypes
// decode without error; callers drop what they do not handle.
func decodeFrame(data []byte) (frame, error) {
	if len(data) == 0 {
		return frame{}, fmt.Errorf("socket.io: empty frame")
	}
	f := frame{Type: data[0], ID: -1, Payload: data[1:]}
	switch f.Type {
	case packetOpen, packetClose, packetPing, packetPong:
		return f, nil
	case packetMessage:
	default:
		return frame{}, fmt.Errorf("socket.io: unknown packet type %q", f.Type)
	}
	if len(data) < 2 {
		return frame{}, fmt.Errorf("socket.io: truncated message frame")
	}
	f.Message = data[1]
	rest := data[2:]

	// Optional ack id: digits between the type bytes and the JSON body.
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.ParseInt(string(rest[:i]), 10, 64)
		if err != nil {
			return frame{}, fmt.Errorf("socket.io: bad ack id: %w", err)
		}
		f.ID = id
	}
	rest = rest[i:]

	switch f.Message {
	case messageEvent:
		var args []json.RawMessage
		if err := json.Unmarshal(rest, &args); err != nil {
			return frame{}, fmt.Errorf("socket.io: bad event body: %w", err)
		}
		if len(args) == 0 {
			return frame{}, fmt.Errorf("socket.io: event without a name")
		}
		if err := json.Unmarshal(args[0], &f.Name); err != nil {
			return frame{}, fmt.Errorf("socket.io: bad event name: %w", err)
		}
		if len(args) > 1 {
			f.Data = args[1]
		}
	case messageAck:
		var args []json.RawMessage
		if len(rest) > 0 {
			if err := json.Unmarshal(rest, &args); err != nil {
				return frame{}, fmt.Errorf("socket.io: bad ack body: %w", err)
			}
		}
		if len(args) > 0 {
			f.Data = args[0]
		}
	}
	return f, nil
}
