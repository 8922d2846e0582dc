package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/codavoice/coda/internal/observe"
)

// writeTimeout bounds one WebSocket send so a stalled observer cannot wedge
// its write loop.
const writeTimeout = 5 * time.Second

// DefaultAddr is the default event feed listen address.
const DefaultAddr = "localhost:8765"

// clientMessage is the inbound frame shape observers may send.
type clientMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// replayMessage is the first frame every new observer receives.
type replayMessage struct {
	Type   string     `json:"type"`
	Events []Envelope `json:"events"`
}

// ServerOption is a functional option for NewServer.
type ServerOption func(*Server)

// WithServerLogger overrides the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithServerMetrics attaches metric instruments for client accounting.
func WithServerMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// OnConnect registers a callback invoked with the client ID after an observer
// completes its handshake (replay already queued).
func OnConnect(fn func(clientID string)) ServerOption {
	return func(s *Server) {
		s.onConnect = append(s.onConnect, fn)
	}
}

// OnDisconnect registers a callback invoked with the client ID after an
// observer leaves, whether cleanly or by send failure.
func OnDisconnect(fn func(clientID string)) ServerOption {
	return func(s *Server) {
		s.onDisconnect = append(s.onDisconnect, fn)
	}
}

// Server exposes the bus over WebSocket. Every connected observer receives
// the replay buffer as a single message on connect, then each live event as
// an independent JSON message. Inbound observer messages are re-emitted on
// the bus as client_message events.
type Server struct {
	bus     *Bus
	log     *slog.Logger
	metrics *observe.Metrics

	onConnect    []func(clientID string)
	onDisconnect []func(clientID string)

	mu         sync.Mutex
	httpServer *http.Server
	boundAddr  string
	started    bool
	clients    map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewServer creates a Server over bus. Call Start to begin accepting
// observers.
func NewServer(b *Bus, opts ...ServerOption) *Server {
	s := &Server{
		bus:     b,
		log:     slog.Default(),
		clients: make(map[string]context.CancelFunc),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins listening on addr. Calling Start on a running server logs a
// warning and returns nil.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.log.Warn("event server already started", "addr", addr)
		return nil
	}
	if addr == "" {
		addr = DefaultAddr
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bus: listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.httpServer = &http.Server{Handler: mux}
	s.boundAddr = ln.Addr().String()
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("event server stopped", "error", err)
		}
	}()

	s.log.Info("event server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, or the empty string before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Stop closes all observer connections and stops accepting new ones. Calling
// Stop on a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	srv := s.httpServer
	for _, cancel := range s.clients {
		cancel()
	}
	s.mu.Unlock()

	err := srv.Shutdown(ctx)
	s.wg.Wait()
	return err
}

// ClientCount returns the current observer count.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// handleWS upgrades the connection and serves one observer until it leaves.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// The feed is an open local debug surface; any origin may connect.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	clientID := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "server stopping")
		return
	}
	s.clients[clientID] = cancel
	s.mu.Unlock()

	sub := s.bus.Subscribe()
	defer func() {
		sub.Close()
		s.mu.Lock()
		delete(s.clients, clientID)
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		if s.metrics != nil {
			s.metrics.ConnectedClients.Add(context.Background(), -1)
		}
		for _, fn := range s.onDisconnect {
			fn(clientID)
		}
		s.log.Info("observer disconnected", "client_id", clientID)
	}()

	if s.metrics != nil {
		s.metrics.ConnectedClients.Add(ctx, 1)
	}
	for _, fn := range s.onConnect {
		fn(clientID)
	}
	s.log.Info("observer connected", "client_id", clientID)

	// Replay precedes every live event, as one batch message.
	replay := sub.Replay()
	if replay == nil {
		replay = []Envelope{}
	}
	if err := s.writeJSON(ctx, conn, replayMessage{Type: TypeReplay, Events: replay}); err != nil {
		s.log.Warn("replay send failed", "client_id", clientID, "error", err)
		return
	}

	// Read loop: observer messages become client_message events.
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				cancel()
				return
			}
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.log.Warn("invalid observer message", "client_id", clientID, "error", err)
				continue
			}
			s.bus.ClientMessage(msg.Type, msg.Data)
		}
	}()

	// Write loop: forward the subscription until the observer leaves or the
	// bus stops.
	for {
		select {
		case env, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := s.writeJSON(ctx, conn, env); err != nil {
				s.log.Warn("observer send failed, dropping", "client_id", clientID, "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
