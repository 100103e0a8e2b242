package pubsub

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/gorilla/websocket"
)

// scriptedConn serves a fixed sequence of frames to ReadMessage, then
// fails with readErr, simulating a server that emits N messages and
// drops the connection.
type scriptedConn struct {
	mu     sync.Mutex
	reads  [][]byte
	writes [][]byte
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reads) == 0 {
		return 0, nil, io.EOF
	}
	b := c.reads[0]
	c.reads = c.reads[1:]
	return websocket.TextMessage, b, nil
}

func (c *scriptedConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *scriptedConn) Close() error { return nil }

func (c *scriptedConn) sentFrames(t *testing.T) []Frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, 0, len(c.writes))
	for _, raw := range c.writes {
		f, err := Decode(raw)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

// scriptedDialer hands out one scripted conn per attempt and invokes
// onExhausted once the script runs out, which tests use to cancel the
// run context.
type scriptedDialer struct {
	conns       []*scriptedConn
	dials       int
	onExhausted func()
}

func (d *scriptedDialer) Dial(url string) (Conn, error) {
	if d.dials >= len(d.conns) {
		if d.onExhausted != nil {
			d.onExhausted()
		}
		return nil, errors.New("dial refused")
	}
	c := d.conns[d.dials]
	d.dials++
	return c, nil
}

type countingAuth struct {
	refreshes atomic.Int32
}

func (a *countingAuth) Credential(ctx context.Context) (string, error) { return "node-1", nil }
func (a *countingAuth) Refresh(ctx context.Context) error {
	a.refreshes.Inc()
	return nil
}

func errorFrame(t *testing.T, code DisconnectCode) []byte {
	t.Helper()
	raw, err := Encode(Frame{Error: &FrameError{Code: int(code)}})
	require.NoError(t, err)
	return raw
}

// TestRunOnceSendsConnectThenSubscribe covers the session handshake
// order: the first frame on a fresh connection is connect carrying the
// credential, the second is the chunks-available subscribe.
func TestRunOnceSendsConnectThenSubscribe(t *testing.T) {
	conn := &scriptedConn{}
	dialer := &scriptedDialer{conns: []*scriptedConn{conn}}
	c := NewClient("ws://test/bus", dialer, &countingAuth{}, nil)

	code, err := c.runOnce(context.Background())
	require.Error(t, err, "EOF after the handshake surfaces as a transport error")
	assert.Equal(t, CodeServerError, code)

	frames := conn.sentFrames(t)
	require.GreaterOrEqual(t, len(frames), 2)
	assert.Equal(t, MethodConnect, frames[0].Method)
	assert.JSONEq(t, `{"token":"node-1"}`, string(frames[0].Params))
	assert.Equal(t, MethodSubscribe, frames[1].Method)
	assert.JSONEq(t, `{"channel":"chunks-available"}`, string(frames[1].Params))
}

// TestRunOnceDeliversPushFrames covers the receive path: server push
// frames flow into the assignment handler in emission order.
func TestRunOnceDeliversPushFrames(t *testing.T) {
	push1, err := Encode(Frame{Push: &PushFrame{Channel: "chunks-available", Data: json.RawMessage(`{"job_id":"a"}`), Offset: 1}})
	require.NoError(t, err)
	push2, err := Encode(Frame{Push: &PushFrame{Channel: "chunks-available", Data: json.RawMessage(`{"job_id":"b"}`), Offset: 2}})
	require.NoError(t, err)

	conn := &scriptedConn{reads: [][]byte{push1, push2}}
	dialer := &scriptedDialer{conns: []*scriptedConn{conn}}

	var mu sync.Mutex
	var got []uint64
	c := NewClient("ws://test/bus", dialer, &countingAuth{}, func(p PushFrame) {
		mu.Lock()
		got = append(got, p.Offset)
		mu.Unlock()
	})

	_, _ = c.runOnce(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2}, got)
}

// TestRunRefreshesCredentialOnTokenExpiredOnly covers the E4 flap
// scenario: across disconnect codes (normal, server-error,
// token-expired, server-error, normal), exactly one credential refresh
// occurs — triggered by token-expired and nothing else.
func TestRunRefreshesCredentialOnTokenExpiredOnly(t *testing.T) {
	codes := []DisconnectCode{CodeNormal, CodeServerError, CodeTokenExpired, CodeServerError, CodeNormal}
	conns := make([]*scriptedConn, len(codes))
	for i, code := range codes {
		conns[i] = &scriptedConn{reads: [][]byte{errorFrame(t, code)}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := &scriptedDialer{conns: conns, onExhausted: cancel}
	auth := &countingAuth{}
	c := NewClient("ws://test/bus", dialer, auth, nil)
	c.backoff = NewBackoff(time.Millisecond, 2*time.Millisecond)

	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, len(codes), dialer.dials, "every scripted disconnect should trigger a reconnect")
	assert.EqualValues(t, 1, auth.refreshes.Load(), "only token-expired refreshes the credential")
}

// TestBackoffResetsAfterSuccessfulSubscribe covers the attempt-counter
// contract: a session that reached subscribed state resets the backoff,
// so the next disconnect starts its delay schedule from scratch.
func TestBackoffResetsAfterSuccessfulSubscribe(t *testing.T) {
	conn := &scriptedConn{}
	dialer := &scriptedDialer{conns: []*scriptedConn{conn}}
	c := NewClient("ws://test/bus", dialer, &countingAuth{}, nil)

	c.backoff.Next()
	c.backoff.Next()
	require.Equal(t, 2, c.backoff.Attempt())

	_, _ = c.runOnce(context.Background())
	assert.Equal(t, 0, c.backoff.Attempt())
}
