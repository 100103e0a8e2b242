// Package pubsub implements the framed binary wire protocol and the
// worker-side connection state machine: a persistent, bidirectional
// session used to advertise chunk availability, push targeted
// assignments and carry presence heartbeats. Transport is
// gorilla/websocket, with buger/jsonparser for hot-path field
// extraction before a frame is fully decoded.
package pubsub

import (
	"encoding/json"

	"github.com/buger/jsonparser"
)

// Method enumerates the frame methods the bus protocol carries.
type Method string

const (
	MethodConnect   Method = "connect"
	MethodSubscribe Method = "subscribe"
	MethodPublish   Method = "publish"
	MethodPresence  Method = "presence"
	MethodPing      Method = "ping"
)

// Frame is one message on the wire: a request/response envelope when ID
// is set, a server push when Push is set.
type Frame struct {
	ID     int64           `json:"id,omitempty"`
	Method Method          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *FrameError     `json:"error,omitempty"`
	Push   *PushFrame      `json:"push,omitempty"`
}

// FrameError carries a disconnect/refusal code and message.
type FrameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PushFrame is a server-initiated message: a chunk-availability
// broadcast, a targeted assignment, or a presence update.
type PushFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	Offset  uint64          `json:"offset"`
	Info    json.RawMessage `json:"info,omitempty"`
}

// Encode marshals a frame to its wire bytes.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode unmarshals a frame from wire bytes.
func Decode(b []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(b, &f)
	return f, err
}

// PeekMethod extracts just the "method" field from a raw frame without
// a full unmarshal. The hub's readPump routes every inbound frame
// through this before touching encoding/json, the way the teacher's
// websocket handlers use buger/jsonparser to dispatch hot-path
// messages ahead of a full decode.
func PeekMethod(raw []byte) (Method, bool) {
	v, err := jsonparser.GetString(raw, "method")
	if err != nil {
		return "", false
	}
	return Method(v), true
}

// PeekChannel extracts a push frame's "channel" field without a full
// decode. The client's readLoop uses it to recognize (and, when no
// consumer is attached, drop) push frames — the dominant steady-state
// traffic — before paying for the envelope unmarshal.
func PeekChannel(raw []byte) (string, bool) {
	v, err := jsonparser.GetString(raw, "push", "channel")
	if err != nil {
		return "", false
	}
	return v, true
}

// peekParam extracts one string field from a frame's params object off
// the raw bytes, for the hub's connect/subscribe handling.
func peekParam(raw []byte, field string) (string, bool) {
	v, err := jsonparser.GetString(raw, "params", field)
	if err != nil {
		return "", false
	}
	return v, true
}
