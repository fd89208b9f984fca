// Package stream relays controller notifications to websocket clients.
//
// A client connects with the controller name and optional keys:
//
//	ws://host/stream?controller=cart&key=total&key=items
//
// The server replies with a hello event, then sends one notify event per
// notification the client's watcher sees.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/herald/pkg/journal"
	"github.com/vango-dev/herald/pkg/notify"
	"github.com/vango-dev/herald/pkg/watch"
)

// EventType represents the type of stream event.
type EventType string

const (
	EventHello  EventType = "hello"
	EventNotify EventType = "notify"
	EventError  EventType = "error"
)

// Event is sent to clients as a JSON text message.
type Event struct {
	Type       EventType `json:"type"`
	Client     string    `json:"client,omitempty"`
	Controller string    `json:"controller,omitempty"`
	Key        string    `json:"key,omitempty"`
	Value      any       `json:"value,omitempty"`
	Seq        uint64    `json:"seq,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Lookup resolves a controller name to a Listenable.
type Lookup func(name string) (notify.Listenable, bool)

const (
	defaultBufferSize = 64
	writeWait         = 5 * time.Second
)

// Server manages websocket clients. Each client owns one watcher on the
// controller it asked for.
type Server struct {
	lookup     Lookup
	registry   *watch.Registry
	logger     *slog.Logger
	bufferSize int

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[uuid.UUID]*client
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry sets the watch registry clients are tracked in.
func WithRegistry(r *watch.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithBufferSize sets the per-client queue length. Events that do not fit
// are dropped and counted.
func WithBufferSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithCheckOrigin sets the origin check used during the upgrade.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// NewServer creates a stream server resolving controllers with lookup.
func NewServer(lookup Lookup, opts ...Option) *Server {
	s := &Server{
		lookup:     lookup,
		bufferSize: defaultBufferSize,
		clients:    make(map[uuid.UUID]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = watch.DefaultRegistry()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// client is one websocket connection.
type client struct {
	id         uuid.UUID
	conn       *websocket.Conn
	controller string

	out     chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// ServeHTTP upgrades the request and streams notifications until the client
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	name := q.Get("controller")
	if name == "" {
		http.Error(w, "missing controller parameter", http.StatusBadRequest)
		return
	}
	source, ok := s.lookup(name)
	if !ok {
		http.Error(w, fmt.Sprintf("controller %q not found", name), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		id:         uuid.New(),
		conn:       conn,
		controller: name,
		out:        make(chan Event, s.bufferSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	keys := queryKeys(q["key"])
	watch.BindKeyValue(ctx, source, c.enqueue,
		watch.WithRegistry(s.registry),
		watch.WithLabel("stream:"+name),
		watch.WithKeys(keys...),
		watch.WithLogger(s.logger),
	)

	select {
	case c.out <- Event{Type: EventHello, Client: c.id.String(), Controller: name}:
	default:
		c.dropped.Add(1)
	}
	go c.writeLoop(s.logger)

	s.logger.Debug("Stream client connected", slog.String("client", c.id.String()), slog.String("controller", name))

	// Keep connection alive until client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	<-c.done
	conn.Close()

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	s.logger.Debug("Stream client disconnected",
		slog.String("client", c.id.String()),
		slog.Uint64("dropped", c.dropped.Load()),
	)
}

// queryKeys converts key parameters to watch keys. A key that parses as an
// integer also matches the int key, so ?key=0 follows index 0 of a list.
func queryKeys(params []string) []any {
	keys := make([]any, 0, len(params))
	for _, k := range params {
		keys = append(keys, k)
		if n, err := strconv.Atoi(k); err == nil {
			keys = append(keys, n)
		}
	}
	return keys
}

// enqueue is the watcher callback. It never blocks the dispatch pass.
func (c *client) enqueue(key, value any) {
	ev := Event{
		Type:       EventNotify,
		Controller: c.controller,
		Value:      journal.Encodable(value),
		Seq:        c.seq.Add(1),
	}
	if key != nil {
		ev.Key = fmt.Sprint(key)
	}
	select {
	case c.out <- ev:
	default:
		c.dropped.Add(1)
	}
}

func (c *client) writeLoop(logger *slog.Logger) {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				logger.Debug("Stream write failed", slog.String("client", c.id.String()), slog.String("error", err.Error()))
				c.cancel()
				c.conn.Close()
				return
			}
		}
	}
}
