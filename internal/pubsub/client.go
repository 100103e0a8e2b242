package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thrasher-corp/wowlab-fleet/internal/log"
)

// ConnState is the worker-side connection state machine: disconnected,
// connecting, awaiting auth, authenticated, subscribed, or reconnecting.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthPending
	StateAuthOK
	StateSubscribed
	StateReconnecting
)

// DefaultHeartbeat is the interval between presence pings while
// subscribed.
const DefaultHeartbeat = 20 * time.Second

// DefaultPingFactor is the ping_factor multiplier on T_beat that, absent
// any server message, triggers a local "no-ping" disconnect.
const DefaultPingFactor = 3

// Authenticator mints the credentials a connect frame carries, and is
// asked to refresh once after a token-expired disconnect.
type Authenticator interface {
	Credential(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// AssignmentHandler receives targeted chunk assignment pushes.
type AssignmentHandler func(push PushFrame)

// Dialer abstracts websocket.Dial for testability.
type Dialer interface {
	Dial(url string) (Conn, error)
}

// Conn abstracts the subset of *websocket.Conn the client needs.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type gorillaDialer struct{}

func (gorillaDialer) Dial(url string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewGorillaDialer returns the production Dialer backed by
// gorilla/websocket.
func NewGorillaDialer() Dialer { return gorillaDialer{} }

// Client is the worker's persistent logical session with the bus: it
// subscribes to chunks-available, receives targeted assignments, and
// sends presence heartbeats.
type Client struct {
	URL    string
	Dialer Dialer
	Auth   Authenticator
	OnPush AssignmentHandler

	backoff   *Backoff
	state     atomic.Int32
	reqID     atomic.Int64

	mu   sync.Mutex
	conn Conn

	lastServerMsg atomic.Int64 // unix nano
}

// NewClient constructs a Client with sensible full-jitter backoff
// bounds (D0=500ms, Dmax=30s).
func NewClient(url string, dialer Dialer, auth Authenticator, onPush AssignmentHandler) *Client {
	return &Client{
		URL:     url,
		Dialer:  dialer,
		Auth:    auth,
		OnPush:  onPush,
		backoff: NewBackoff(500*time.Millisecond, 30*time.Second),
	}
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) setState(s ConnState) {
	c.state.Store(int32(s))
}

// Run drives the connect/subscribe/heartbeat loop until ctx is canceled,
// reconnecting with full-jitter backoff on any disconnect.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		code, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Worker.Debug("pubsub session ended", "error", err)
		}

		if RequiresCredentialRefresh(code) {
			if rerr := c.Auth.Refresh(ctx); rerr != nil {
				log.Worker.Error("credential refresh failed", "error", rerr)
			}
		}

		c.setState(StateReconnecting)
		delay := c.backoff.Next()
		log.Worker.Warn("pubsub disconnected, backing off", "code", code, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce performs one connect->subscribe->serve cycle, returning the
// disconnect code that ended it.
func (c *Client) runOnce(ctx context.Context) (DisconnectCode, error) {
	c.setState(StateConnecting)
	conn, err := c.Dialer.Dial(c.URL)
	if err != nil {
		return CodeServerError, err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	c.setState(StateAuthPending)
	cred, err := c.Auth.Credential(ctx)
	if err != nil {
		return CodeInvalidToken, err
	}
	if err := c.send(Frame{ID: c.nextID(), Method: MethodConnect, Params: jsonObj("token", cred)}); err != nil {
		return CodeServerError, err
	}
	c.setState(StateAuthOK)

	if err := c.send(Frame{ID: c.nextID(), Method: MethodSubscribe, Params: jsonObj("channel", "chunks-available")}); err != nil {
		return CodeServerError, err
	}
	c.setState(StateSubscribed)
	c.backoff.Reset()
	c.touchServerMsg()

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go c.heartbeatLoop(hbCtx, conn)

	return c.readLoop(ctx, conn)
}

func (c *Client) heartbeatLoop(ctx context.Context, conn Conn) {
	t := time.NewTicker(DefaultHeartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = c.send(Frame{ID: c.nextID(), Method: MethodPresence})

			if time.Since(c.lastServerMessageTime()) > DefaultHeartbeat*DefaultPingFactor {
				conn.Close() // triggers CodeNoPing via readLoop's read error
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn Conn) (DisconnectCode, error) {
	for {
		if ctx.Err() != nil {
			return CodeNormal, ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if time.Since(c.lastServerMessageTime()) > DefaultHeartbeat*DefaultPingFactor {
				return CodeNoPing, err
			}
			return CodeServerError, err
		}
		c.touchServerMsg()

		// Push frames dominate steady-state traffic: recognize them off
		// the raw bytes and, with no consumer attached, drop them before
		// paying for the envelope decode.
		if _, ok := PeekChannel(raw); ok {
			if c.OnPush == nil {
				continue
			}
			f, err := Decode(raw)
			if err != nil {
				return CodeBadRequest, err
			}
			c.OnPush(*f.Push)
			continue
		}

		f, err := Decode(raw)
		if err != nil {
			return CodeBadRequest, err
		}
		if f.Error != nil {
			return DisconnectCode(f.Error.Code), nil
		}
	}
}

func (c *Client) send(f Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) nextID() int64 {
	return c.reqID.Add(1)
}

func (c *Client) touchServerMsg() {
	c.lastServerMsg.Store(time.Now().UnixNano())
}

func (c *Client) lastServerMessageTime() time.Time {
	return time.Unix(0, c.lastServerMsg.Load())
}

func jsonObj(key, value string) []byte {
	b, _ := json.Marshal(map[string]string{key: value})
	return b
}
