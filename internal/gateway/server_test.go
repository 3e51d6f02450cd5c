package gateway

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
)

func signToken(t *testing.T, secret []byte, userID string) string {
	t.Helper()
	claims := Claims{UserID: userID}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// fakeDispatcher records every handled event for assertions.
type fakeDispatcher struct {
	mu     sync.Mutex
	events []Envelope
	users  []string
}

func (f *fakeDispatcher) Handle(userID string, env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, env)
	f.users = append(f.users, userID)
	return nil
}

func (f *fakeDispatcher) snapshot() ([]Envelope, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Envelope(nil), f.events...), append([]string(nil), f.users...)
}

func TestAuthenticate_SuccessAndEcho(t *testing.T) {
	secret := []byte("test-secret")
	disp := &fakeDispatcher{}
	srv := NewServer(WithAuthenticator(NewHMACAuthenticator(secret)), WithDispatcher(disp))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts.URL)
	defer conn.Close()

	token := signToken(t, secret, "user-1")
	if err := conn.WriteJSON(NewEnvelope(EventAuthenticate, AuthenticatePayload{Token: token})); err != nil {
		t.Fatalf("write authenticate: %v", err)
	}
	var resp Envelope
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Event != eventAuthenticated {
		t.Fatalf("event = %q, want authenticated", resp.Event)
	}

	if err := conn.WriteJSON(NewEnvelope(EventStatusRequest, nil)); err != nil {
		t.Fatalf("write status request: %v", err)
	}
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if events, _ := disp.snapshot(); len(events) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	events, users := disp.snapshot()
	if len(events) != 1 || events[0].Event != EventStatusRequest {
		t.Fatalf("expected 1 dispatched status request, got %+v", events)
	}
	if users[0] != "user-1" {
		t.Fatalf("userID = %q, want user-1", users[0])
	}
	if !srv.IsUserConnected("user-1") {
		t.Fatalf("expected user-1 connected")
	}
}

func TestAuthenticate_RejectsBadToken(t *testing.T) {
	secret := []byte("test-secret")
	srv := NewServer(WithAuthenticator(NewHMACAuthenticator(secret)))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts.URL)
	defer conn.Close()

	if err := conn.WriteJSON(NewEnvelope(EventAuthenticate, AuthenticatePayload{Token: "garbage"})); err != nil {
		t.Fatalf("write authenticate: %v", err)
	}
	var resp Envelope
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Event != eventAuthError {
		t.Fatalf("event = %q, want auth_error", resp.Event)
	}
}

func TestSendToUser_NoopWhenAbsent(t *testing.T) {
	srv := NewServer()
	if srv.SendToUser("nobody", EventNotification, "hi") {
		t.Fatalf("expected no-op for disconnected user")
	}
}

func TestSecondAuthenticate_DisplacesFirstSocket(t *testing.T) {
	secret := []byte("test-secret")
	srv := NewServer(WithAuthenticator(NewHMACAuthenticator(secret)))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn1 := dial(t, ts.URL)
	defer conn1.Close()
	token := signToken(t, secret, "user-2")
	if err := conn1.WriteJSON(NewEnvelope(EventAuthenticate, AuthenticatePayload{Token: token})); err != nil {
		t.Fatalf("write authenticate 1: %v", err)
	}
	var resp Envelope
	if err := conn1.ReadJSON(&resp); err != nil {
		t.Fatalf("read response 1: %v", err)
	}

	conn2 := dial(t, ts.URL)
	defer conn2.Close()
	if err := conn2.WriteJSON(NewEnvelope(EventAuthenticate, AuthenticatePayload{Token: token})); err != nil {
		t.Fatalf("write authenticate 2: %v", err)
	}
	if err := conn2.ReadJSON(&resp); err != nil {
		t.Fatalf("read response 2: %v", err)
	}

	// conn1 should observe its socket close after being displaced.
	_ = conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn1.ReadMessage()
	if err == nil {
		t.Fatalf("expected conn1 to be closed after displacement")
	}
}

func TestBroadcast_DeliversToAllConnectedSockets(t *testing.T) {
	secret := []byte("test-secret")
	srv := NewServer(WithAuthenticator(NewHMACAuthenticator(secret)))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts.URL)
	defer conn.Close()
	token := signToken(t, secret, "user-3")
	if err := conn.WriteJSON(NewEnvelope(EventAuthenticate, AuthenticatePayload{Token: token})); err != nil {
		t.Fatalf("write authenticate: %v", err)
	}
	var resp Envelope
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}

	srv.Broadcast(EventNotification, "hello")
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if resp.Event != EventNotification {
		t.Fatalf("event = %q, want notification", resp.Event)
	}
}
