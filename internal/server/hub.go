package server

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"sentinal-client/internal/session"
	"sentinal-client/internal/transport/httpdto"
	"sentinal-client/pkg/logger"
)

// Hub fans session snapshots out to stream watchers. A watcher that cannot
// keep up is dropped; a new watcher first gets the latest frame.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	source     <-chan session.Snapshot
	render     func(session.Snapshot) httpdto.StreamFrame
	logger     *logger.Logger
	last       []byte
	done       chan struct{}

	mu       sync.Mutex
	watchers int
}

func NewHub(source <-chan session.Snapshot, render func(session.Snapshot) httpdto.StreamFrame, l *logger.Logger) *Hub {
	if l == nil {
		l = logger.Nop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		source:     source,
		render:     render,
		logger:     l,
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.drop(c)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count(1)
			if h.last != nil {
				h.offer(c, h.last)
			}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case snap, ok := <-h.source:
			if !ok {
				return
			}
			payload, err := json.Marshal(httpdto.NewSuccessResponse(h.render(snap)))
			if err != nil {
				h.logger.Logger.Warn("stream_encode_failed", zap.Error(err))
				continue
			}
			h.last = payload
			for c := range h.clients {
				h.offer(c, payload)
			}
		}
	}
}

// join registers c and reports false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) offer(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.logger.Logger.Warn("stream_watcher_slow", zap.String("client_id", c.id))
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.count(-1)
}

func (h *Hub) count(delta int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchers += delta
}

// Watchers returns the number of connected watchers.
func (h *Hub) Watchers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.watchers
}
