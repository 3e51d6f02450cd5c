// Package devicelink implements the MQTT session to the physical
// ventilator: connect/reconnect with manual exponential backoff (library
// auto-reconnect disabled), telemetry subscription fan-in, and a
// single-writer command publisher built on transport.AsyncTx — the same
// shape as the teacher's serial TXWriter funneling all writes through one
// goroutine, generalized from a UART port to an MQTT client.
package devicelink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ventylab/mediation-core/internal/logging"
	"github.com/ventylab/mediation-core/internal/metrics"
	"github.com/ventylab/mediation-core/internal/transport"
)

// Status mirrors the device link's externally observable connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
	StatusReserved
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusError:
		return "ERROR"
	case StatusReserved:
		return "RESERVED"
	default:
		return "DISCONNECTED"
	}
}

// Client is the minimal MQTT surface devicelink needs; satisfied by
// *paho.mqtt.golang's client and by fakes in tests.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
}

// ClientFactory constructs a Client bound to the given options; overridden
// in tests to avoid a real network dial.
type ClientFactory func(opts *mqtt.ClientOptions) Client

var defaultFactory ClientFactory = func(opts *mqtt.ClientOptions) Client { return mqtt.NewClient(opts) }

// ErrNotConnected is returned by PublishCommand when the link is not CONNECTED.
var ErrNotConnected = errors.New("devicelink: not connected")

// Config configures the device link.
type Config struct {
	BrokerURL            string
	ClientID             string
	Username, Password   string
	DeviceID             string
	KeepAlive            time.Duration
	ConnectTimeout        time.Duration
	ReconnectBaseDelay    time.Duration
	ReconnectMaxDelay     time.Duration
	MaxReconnectAttempts  int
	Factory               ClientFactory
}

func (c *Config) withDefaults() {
	if c.KeepAlive <= 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 5 * time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 60 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.DeviceID == "" {
		c.DeviceID = "ventilab-device-001"
	}
	if c.Factory == nil {
		c.Factory = defaultFactory
	}
}

// Link owns the MQTT session to the single configured ventilator device.
type Link struct {
	cfg Config
	log *slog.Logger

	mu           sync.RWMutex
	client       Client
	status       Status
	intentional  bool
	attempts     int
	reconnectT   *time.Timer

	telemetryMu sync.RWMutex
	telemetryCb func(buf []byte)

	connectOnce  sync.Once
	connectErrCh chan error

	tx *transport.AsyncTx[[]byte]
}

func topicTelemetry(deviceID string) string { return fmt.Sprintf("ventilab/device/%s/telemetry", deviceID) }
func topicAlarm(deviceID string) string     { return fmt.Sprintf("ventilab/device/%s/alarm", deviceID) }
func topicCommand(deviceID string) string   { return fmt.Sprintf("ventilab/device/%s/command", deviceID) }

// New constructs a Link; Connect must be called to dial the broker.
func New(cfg Config) *Link {
	cfg.withDefaults()
	return &Link{cfg: cfg, log: logging.Component("devicelink"), status: StatusDisconnected}
}

// GetStatus returns the current connection status.
func (l *Link) GetStatus() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *Link) setStatus(s Status) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
	metrics.SetDeviceLinkStatus(int(s))
}

// Connect is idempotent: the first call dials and resolves on the first
// broker `connect` event, rejecting on the first error seen before that;
// later calls do not dial again and report nil if the link is CONNECTED,
// ErrNotConnected otherwise. Subsequent connects (after a reconnect)
// re-subscribe telemetry and reset the backoff counter.
func (l *Link) Connect(ctx context.Context) error {
	var firstErr error
	first := false
	l.connectOnce.Do(func() {
		first = true
		l.connectErrCh = make(chan error, 1)
		opts := mqtt.NewClientOptions().
			AddBroker(l.cfg.BrokerURL).
			SetClientID(l.cfg.ClientID).
			SetKeepAlive(l.cfg.KeepAlive).
			SetConnectTimeout(l.cfg.ConnectTimeout).
			SetAutoReconnect(false) // manual backoff per spec, library auto-reconnect disabled
		if l.cfg.Username != "" {
			opts.SetUsername(l.cfg.Username)
			opts.SetPassword(l.cfg.Password)
		}
		opts.SetConnectionLostHandler(l.onConnectionLost)

		l.mu.Lock()
		l.client = l.cfg.Factory(opts)
		l.mu.Unlock()
		l.setStatus(StatusConnecting)

		token := l.client.Connect()
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				l.setStatus(StatusError)
				l.connectErrCh <- err
				return
			}
			l.onConnected()
			l.connectErrCh <- nil
		}()
	})
	if !first {
		if l.GetStatus() == StatusConnected {
			return nil
		}
		return ErrNotConnected
	}
	select {
	case err := <-l.connectErrCh:
		firstErr = err
		// Re-arm the channel so later reconnect attempts (outside this
		// call) don't write to a channel nobody reads.
		l.connectErrCh = make(chan error, 1)
	case <-ctx.Done():
		return ctx.Err()
	}
	return firstErr
}

func (l *Link) onConnected() {
	l.mu.Lock()
	l.attempts = 0
	l.mu.Unlock()
	l.setStatus(StatusConnected)
	l.resubscribe()
	l.log.Info("devicelink_connected", "broker", l.cfg.BrokerURL, "device", l.cfg.DeviceID)
}

func (l *Link) resubscribe() {
	l.telemetryMu.RLock()
	cb := l.telemetryCb
	l.telemetryMu.RUnlock()
	if cb == nil {
		return
	}
	handler := func(_ mqtt.Client, m mqtt.Message) { cb(m.Payload()) }
	l.mu.RLock()
	client := l.client
	l.mu.RUnlock()
	if client == nil {
		return
	}
	for _, topic := range []string{topicTelemetry(l.cfg.DeviceID), topicAlarm(l.cfg.DeviceID)} {
		if tok := client.Subscribe(topic, 1, handler); tok.Wait() && tok.Error() != nil {
			l.log.Warn("devicelink_subscribe_failed", "topic", topic, "error", tok.Error())
		}
	}
}

// onConnectionLost is the paho ConnectionLostHandler. It is only invoked for
// unintentional disconnects; Disconnect() sets l.intentional first.
func (l *Link) onConnectionLost(_ mqtt.Client, err error) {
	l.mu.RLock()
	intentional := l.intentional
	l.mu.RUnlock()
	if intentional {
		return
	}
	l.log.Warn("devicelink_connection_lost", "error", err)
	l.setStatus(StatusDisconnected)
	l.scheduleReconnect()
}

// scheduleReconnect implements the manual exponential backoff: delay =
// min(base*2^(attempt-1), max), giving up after MaxReconnectAttempts.
func (l *Link) scheduleReconnect() {
	l.mu.Lock()
	l.attempts++
	attempt := l.attempts
	if attempt > l.cfg.MaxReconnectAttempts {
		l.mu.Unlock()
		l.setStatus(StatusError)
		l.log.Error("devicelink_reconnect_exhausted", "attempts", attempt-1)
		return
	}
	delay := l.cfg.ReconnectBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > l.cfg.ReconnectMaxDelay {
		delay = l.cfg.ReconnectMaxDelay
	}
	l.reconnectT = time.AfterFunc(delay, l.attemptReconnect)
	l.mu.Unlock()
	metrics.IncReconnectAttempt()
	l.log.Warn("devicelink_reconnect_scheduled", "attempt", attempt, "delay", delay)
}

func (l *Link) attemptReconnect() {
	l.mu.RLock()
	client := l.client
	l.mu.RUnlock()
	if client == nil {
		return
	}
	l.setStatus(StatusConnecting)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		l.log.Warn("devicelink_reconnect_failed", "error", err)
		l.scheduleReconnect()
		return
	}
	l.onConnected()
}

// Disconnect marks the disconnect intentional, cancels any pending
// reconnect timer, and tears down the broker session. Always resolves.
func (l *Link) Disconnect() {
	l.mu.Lock()
	l.intentional = true
	if l.reconnectT != nil {
		l.reconnectT.Stop()
	}
	client := l.client
	l.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
	if l.tx != nil {
		l.tx.Close()
	}
	l.setStatus(StatusDisconnected)
}

// SubscribeTelemetry registers cb for every frame on the telemetry and alarm
// topics, replacing any previously registered callback.
func (l *Link) SubscribeTelemetry(cb func(buf []byte)) {
	l.telemetryMu.Lock()
	l.telemetryCb = cb
	l.telemetryMu.Unlock()
	if l.GetStatus() == StatusConnected {
		l.resubscribe()
	}
}

// PublishCommand publishes an already wire-encoded command frame with QoS 1,
// retain=false, through the single-writer async publisher. It rejects
// immediately if the link is not CONNECTED.
func (l *Link) PublishCommand(buf []byte) error {
	if l.GetStatus() != StatusConnected {
		return ErrNotConnected
	}
	l.mu.Lock()
	if l.tx == nil {
		client := l.client
		l.tx = transport.NewAsyncTx(context.Background(), 256, func(payload []byte) error {
			tok := client.Publish(topicCommand(l.cfg.DeviceID), 1, false, payload)
			tok.Wait()
			return tok.Error()
		}, transport.Hooks{
			OnError: func(err error) {
				metrics.IncError(metrics.ErrMQTTPublish)
				l.log.Error("devicelink_publish_error", "error", err)
			},
		})
	}
	tx := l.tx
	l.mu.Unlock()
	return tx.Send(buf)
}
