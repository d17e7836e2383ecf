// Package hub is the viewer side of status publishing: a negotiate endpoint
// issuing access tokens and a websocket endpoint streaming every published
// snapshot to all connected viewers.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// Frame is one message pushed to viewers. Arguments always hold a single
// full snapshot; viewers replace their state for the snapshot's rowKey.
type Frame struct {
	Target    string        `json:"target"`
	Arguments []interface{} `json:"arguments"`
}

// NegotiateResponse tells a viewer where and how to connect.
type NegotiateResponse struct {
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`
}

// Options configures a Hub.
type Options struct {
	// Name is the hub path segment, e.g. "statushub".
	Name string
	// Method is the frame target, e.g. "statusupdate".
	Method string
	// BufferSize is the per-viewer frame buffer. A viewer whose buffer is
	// full misses frames.
	BufferSize int
	// TokenTTL bounds how long a negotiated token may be used to connect.
	TokenTTL time.Duration
	// PublicURL overrides the websocket base URL returned by negotiate.
	PublicURL string
}

type client struct {
	id     string
	frames chan []byte
	closed atomic.Bool
}

func (c *client) close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.frames)
	}
}

// Hub fans snapshots out to connected viewers.
type Hub struct {
	opts Options
	now  func() time.Time

	mu      sync.RWMutex
	clients map[string]*client
	tokens  map[string]time.Time

	published atomic.Int64
	dropped   atomic.Int64
}

// New creates a Hub.
func New(opts Options) *Hub {
	if opts.Name == "" {
		opts.Name = "statushub"
	}
	if opts.Method == "" {
		opts.Method = "statusupdate"
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	return &Hub{
		opts:    opts,
		now:     time.Now,
		clients: make(map[string]*client),
		tokens:  make(map[string]time.Time),
	}
}

// Register mounts the negotiate and websocket endpoints on r.
func (h *Hub) Register(r chi.Router) {
	r.Post("/negotiate", h.handleNegotiate)
	r.Get("/"+h.opts.Name, h.handleConnect)
}

// Publish sends rec to every connected viewer.
func (h *Hub) Publish(ctx context.Context, rec *model.StatusRecord) error {
	data, err := json.Marshal(Frame{Target: h.opts.Method, Arguments: []interface{}{rec}})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.closed.Load() {
			continue
		}
		select {
		case c.frames <- data:
			h.published.Add(1)
		default:
			h.dropped.Add(1)
			logger.Warnf("Hub %s: viewer %s is not keeping up, snapshot for RowKey: %s dropped", h.opts.Name, c.id, rec.RowKey)
		}
	}
	return nil
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Negotiate issues a token valid for TokenTTL.
func (h *Hub) Negotiate(baseURL string) NegotiateResponse {
	token := uuid.NewString()
	now := h.now()

	h.mu.Lock()
	for t, exp := range h.tokens {
		if now.After(exp) {
			delete(h.tokens, t)
		}
	}
	h.tokens[token] = now.Add(h.opts.TokenTTL)
	h.mu.Unlock()

	if h.opts.PublicURL != "" {
		baseURL = h.opts.PublicURL
	}
	return NegotiateResponse{
		URL:         strings.TrimSuffix(baseURL, "/") + "/" + h.opts.Name,
		AccessToken: token,
	}
}

func (h *Hub) validToken(token string) bool {
	if token == "" {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	exp, ok := h.tokens[token]
	return ok && !h.now().After(exp)
}

func (h *Hub) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	resp := h.Negotiate(scheme + "://" + r.Host)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warnf("Hub %s: failed to write negotiate response: %v", h.opts.Name, err)
	}
}

func (h *Hub) handleConnect(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if !h.validToken(token) {
		http.Error(w, "invalid or expired access token", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		logger.Warnf("Hub %s: websocket upgrade failed: %v", h.opts.Name, err)
		return
	}

	c := &client{id: uuid.NewString(), frames: make(chan []byte, h.opts.BufferSize)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	logger.Infof("Hub %s: viewer %s connected from %s", h.opts.Name, c.id, r.RemoteAddr)

	go func() {
		defer conn.Close()
		for data := range c.frames {
			if err := wsutil.WriteServerText(conn, data); err != nil {
				logger.Debugf("Hub %s: write to viewer %s failed: %v", h.opts.Name, c.id, err)
				h.remove(c)
				return
			}
		}
		_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
	}()

	go func() {
		defer h.remove(c)
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	if ok {
		logger.Infof("Hub %s: viewer %s disconnected", h.opts.Name, c.id)
	}
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
	logger.Infof("Hub %s: closed (%d frames sent, %d dropped)", h.opts.Name, h.published.Load(), h.dropped.Load())
}

var _ port.StatusPublisher = (*Hub)(nil)
