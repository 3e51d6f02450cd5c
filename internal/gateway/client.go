package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ventylab/mediation-core/internal/metrics"
)

const (
	writeWait = 10 * time.Second
	// pingPeriod and pongWait implement the 25s ping interval / 5s pong
	// timeout pair: a missed pong within 5s of the next scheduled ping
	// drops the read deadline and the connection closes.
	pingPeriod     = 25 * time.Second
	pongWait       = pingPeriod + 5*time.Second
	maxMessageSize = 8192

	// authTimeout bounds how long an unauthenticated socket may sit idle
	// before the gateway closes it for never sending "authenticate".
	authTimeout = 10 * time.Second
)

// Dispatcher handles a decoded inbound Envelope for an authenticated client.
// The mediation service supplies the concrete implementation.
type Dispatcher interface {
	Handle(userID string, env Envelope) error
}

// runClient drives one accepted connection through the authenticate
// handshake, then the read/write pumps, until the socket closes.
func runClient(conn *websocket.Conn, hub *Hub, auth Authenticator, dispatch Dispatcher, logger *slog.Logger) {
	bufSize := hub.OutBufSize
	if bufSize <= 0 {
		bufSize = 64
	}
	cl := &Client{Out: make(chan Envelope, bufSize), Closed: make(chan struct{})}
	hub.Add(cl)
	defer hub.Remove(cl)

	conn.SetReadLimit(maxMessageSize)

	if !authenticate(conn, hub, cl, auth, logger) {
		_ = conn.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		writePump(conn, cl, logger)
		close(done)
	}()
	readPump(conn, cl, dispatch, logger)
	<-done
}

// authenticate blocks for at most authTimeout waiting for the first
// "authenticate" event; on success it binds the socket to its userId and
// replies "authenticated", on failure it replies "auth_error" and returns
// false so the caller tears the connection down.
func authenticate(conn *websocket.Conn, hub *Hub, cl *Client, auth Authenticator, logger *slog.Logger) bool {
	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		metrics.IncError(mapErrToMetric(fmt.Errorf("%w: %v", ErrConnRead, err)))
		return false
	}
	var env Envelope
	var payload AuthenticatePayload
	if err := json.Unmarshal(raw, &env); err != nil || env.Event != EventAuthenticate {
		writeAuthError(conn, "expected authenticate event")
		return false
	}
	if b, err := json.Marshal(env.Data); err == nil {
		_ = json.Unmarshal(b, &payload)
	}
	if auth == nil {
		writeAuthError(conn, "authentication unavailable")
		return false
	}
	userID, err := auth.Verify(payload.Token)
	if err != nil {
		metrics.IncError(metrics.ErrAuth)
		writeAuthError(conn, "invalid token")
		return false
	}
	if displaced := hub.BindUser(userID, cl); displaced != nil {
		displaced.Close()
		logger.Info("gateway_client_displaced", "user_id", userID)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if err := conn.WriteJSON(NewEnvelope(eventAuthenticated, nil)); err != nil {
		metrics.IncError(mapErrToMetric(fmt.Errorf("%w: %v", ErrConnWrite, err)))
		return false
	}
	logger.Info("gateway_client_authenticated", "user_id", userID)
	return true
}

func writeAuthError(conn *websocket.Conn, msg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(NewEnvelope(eventAuthError, ErrorPayload{Message: msg}))
}

func readPump(conn *websocket.Conn, cl *Client, dispatch Dispatcher, logger *slog.Logger) {
	defer cl.Close()
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				metrics.IncError(mapErrToMetric(fmt.Errorf("%w: %v", ErrConnRead, err)))
				logger.Warn("gateway_read_error", "user_id", cl.UserID, "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Warn("gateway_malformed_message", "user_id", cl.UserID, "error", err)
			continue
		}
		if env.Event == EventPing {
			select {
			case cl.Out <- NewEnvelope(EventPong, nil):
			default:
			}
			continue
		}
		if dispatch != nil {
			if err := dispatch.Handle(cl.UserID, env); err != nil {
				select {
				case cl.Out <- NewEnvelope(EventError, ErrorPayload{Message: err.Error()}):
				default:
				}
			}
		}
	}
}

func writePump(conn *websocket.Conn, cl *Client, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case env, ok := <-cl.Out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				metrics.IncError(mapErrToMetric(fmt.Errorf("%w: %v", ErrConnWrite, err)))
				logger.Warn("gateway_write_error", "user_id", cl.UserID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-cl.Closed:
			return
		}
	}
}
