// Package wsremote is a remote.Link over the backend's websocket protocol:
// request/response frames for commands and queries, event envelopes for the
// live feed.
package wsremote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sentinal-client/internal/events"
	"sentinal-client/internal/remote"
	sentinal_errors "sentinal-client/pkg/errors"
	"sentinal-client/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// ErrRejected wraps an error reported by the remote in a response frame.
var ErrRejected = errors.New("rejected by remote")

// Uploader stores file bytes and returns their URL.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte, progress func(pct int)) (string, error)
}

// Dialer connects to the remote websocket endpoint.
type Dialer struct {
	URL      string
	Tokens   TokenSource
	Uploader Uploader
	Log      *logger.Logger
}

var _ remote.Dialer = (*Dialer)(nil)

func (d *Dialer) Connect(ctx context.Context, userID string) (remote.Link, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote url: %w", err)
	}
	token, err := d.Tokens.Token(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to mint token: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, remote.Permanent(fmt.Errorf("dial %s: %w", u.Host, ErrUnauthorized))
		}
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}

	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	c := newClient(conn, userID, d.Uploader, log)
	go c.readPump()
	go c.writePump()
	return c, nil
}

// Client is one live websocket session.
type Client struct {
	conn     *websocket.Conn
	userID   string
	uploader Uploader
	log      *logger.Logger
	send     chan []byte
	done     chan struct{}

	mu      sync.Mutex
	pending map[string]chan Response
	subs    map[int]chan events.Event
	nextSub int
	closed  bool
	cause   error
}

func newClient(conn *websocket.Conn, userID string, uploader Uploader, log *logger.Logger) *Client {
	return &Client{
		conn:     conn,
		userID:   userID,
		uploader: uploader,
		log:      log.With(zap.String("user_id", userID)),
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		pending:  make(map[string]chan Response),
		subs:     make(map[int]chan events.Event),
	}
}

// call sends a request and waits for the matching response.
func (c *Client) call(ctx context.Context, reqType string, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", reqType, err)
	}
	req := Request{Type: reqType, RequestID: uuid.NewString(), Payload: raw}
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", reqType, err)
	}

	wait := make(chan Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, sentinal_errors.ErrNotConnected
	}
	c.pending[req.RequestID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
	}()

	select {
	case c.send <- frame:
	case <-c.done:
		return nil, sentinal_errors.ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-wait:
		if !resp.OK {
			msg := resp.Error
			if msg == "" {
				msg = "unknown error"
			}
			return nil, fmt.Errorf("%s: %s: %w", reqType, msg, ErrRejected)
		}
		return resp.Payload, nil
	case <-c.done:
		return nil, sentinal_errors.ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readPump() {
	defer c.shutdown(sentinal_errors.ErrNotConnected)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Logger.Warn("websocket unexpected close", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		for _, frame := range splitFrames(message) {
			c.dispatch(frame)
		}
	}
}

func (c *Client) dispatch(frame []byte) {
	var head frameHead
	if err := json.Unmarshal(frame, &head); err != nil {
		c.log.Logger.Warn("websocket bad frame", zap.Error(err))
		return
	}
	switch {
	case head.EventType != "":
		var env events.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.log.Logger.Warn("websocket bad envelope", zap.Error(err))
			return
		}
		ev, ok, err := decodeEvent(env)
		if err != nil {
			c.log.Logger.Warn("websocket event dropped", zap.String("event_type", env.EventType), zap.Error(err))
			return
		}
		if ok {
			c.publish(ev)
		}
	case head.Type == TypeResponse:
		var resp Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			c.log.Logger.Warn("websocket bad response", zap.Error(err))
			return
		}
		c.mu.Lock()
		wait := c.pending[resp.RequestID]
		c.mu.Unlock()
		if wait != nil {
			select {
			case wait <- resp:
			default:
			}
		}
	case head.Type == "pong":
	default:
		c.log.Logger.Debug("websocket frame ignored", zap.String("type", head.Type))
	}
}

// publish fans ev out to subscribers without blocking the read pump. A
// subscriber that falls behind would miss deltas for good, so the client
// shuts down instead and the session refetches after reconnecting.
func (c *Client) publish(ev events.Event) {
	c.mu.Lock()
	overflow := false
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			overflow = true
		}
	}
	c.mu.Unlock()
	if overflow {
		c.log.Logger.Warn("subscriber full, closing link", zap.String("kind", string(ev.Kind)))
		c.shutdown(fmt.Errorf("live feed overflowed: %w", sentinal_errors.ErrNotConnected))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.shutdown(err)
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}

// shutdown marks the client closed once, closing every subscription.
func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cause = cause
	close(c.done)
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
}

// Err returns why the client stopped, or nil while it is running.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func (c *Client) Subscribe(ctx context.Context) (<-chan events.Event, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, sentinal_errors.ErrNotConnected
	}
	id := c.nextSub
	c.nextSub++
	ch := make(chan events.Event, 256)
	c.subs[id] = ch
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				close(sub)
				delete(c.subs, id)
			}
		})
	}
	return ch, cancel, nil
}

func (c *Client) Close() error {
	c.shutdown(sentinal_errors.ErrNotConnected)
	return nil
}
