package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ventylab/mediation-core/internal/logging"
	"github.com/ventylab/mediation-core/internal/metrics"
)

// Server owns the HTTP upgrade endpoint and the client hub; it implements
// the broadcastData/sendToUser/getConnectedUsers/isUserConnected contract.
type Server struct {
	Hub      *Hub
	Auth     Authenticator
	Dispatch Dispatcher

	upgrader websocket.Upgrader
	logger   *slog.Logger

	wg sync.WaitGroup
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

func WithAuthenticator(a Authenticator) ServerOption { return func(s *Server) { s.Auth = a } }
func WithDispatcher(d Dispatcher) ServerOption       { return func(s *Server) { s.Dispatch = d } }
func WithHub(h *Hub) ServerOption                    { return func(s *Server) { s.Hub = h } }
func WithCheckOrigin(fn func(*http.Request) bool) ServerOption {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// NewServer constructs a gateway Server; Hub defaults to a fresh New() hub.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		Hub:    New(),
		logger: logging.Component("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeHTTP upgrades the connection and runs the client's auth handshake
// and read/write pumps in a managed goroutine.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.IncError(mapErrToMetric(fmt.Errorf("%w: %v", ErrUpgrade, err)))
		s.logger.Warn("gateway_upgrade_failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runClient(conn, s.Hub, s.Auth, s.Dispatch, s.logger)
	}()
}

// Broadcast fans env out to every authenticated-or-not connected socket.
func (s *Server) Broadcast(event string, data interface{}) {
	s.Hub.Broadcast(NewEnvelope(event, data))
}

// SendToUser delivers env to userId's one socket; no-op if absent.
func (s *Server) SendToUser(userID, event string, data interface{}) bool {
	return s.Hub.SendToUser(userID, NewEnvelope(event, data))
}

// GetConnectedUsers returns the userIds with a currently bound socket.
func (s *Server) GetConnectedUsers() []string { return s.Hub.GetConnectedUsers() }

// IsUserConnected reports whether userID currently has a bound socket.
func (s *Server) IsUserConnected(userID string) bool { return s.Hub.IsUserConnected(userID) }

// Shutdown closes every registered client, then waits (up to the context
// deadline) for the in-flight client goroutines to unwind.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, c := range s.Hub.Snapshot() {
		c.Close()
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
