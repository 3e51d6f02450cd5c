// Package metrics exposes the Prometheus counters and gauges for the
// mediation plane, following the shape of the teacher's metrics package:
// package-level promauto collectors, a mirrored set of lock-free local
// counters for periodic slog snapshots, and a small /metrics+/ready HTTP
// surface.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ventylab/mediation-core/internal/logging"
)

var (
	TelemetryFramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_frames_decoded_total",
		Help: "Total telemetry frames successfully decoded from the device link, by kind.",
	}, []string{"kind"})
	TelemetryFramesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_frames_rejected_total",
		Help: "Total inbound frames rejected (malformed, checksum mismatch, unknown type).",
	})
	AlarmsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alarms_raised_total",
		Help: "Total alarms raised, by type.",
	}, []string{"type"})
	CommandsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commands_published_total",
		Help: "Total validated commands published to the device.",
	})
	CommandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commands_rejected_total",
		Help: "Total commands rejected, by reason.",
	}, []string{"reason"})
	DeviceLinkReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devicelink_reconnect_attempts_total",
		Help: "Total MQTT reconnect attempts made by the device link.",
	})
	DeviceLinkStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devicelink_status",
		Help: "Device link status: 0=DISCONNECTED 1=CONNECTING 2=CONNECTED 3=ERROR 4=RESERVED.",
	})
	GatewayActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_clients",
		Help: "Current number of connected WebSocket clients, authenticated or not.",
	})
	GatewayBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_broadcast_fanout",
		Help: "Number of clients targeted in the most recent broadcast.",
	})
	GatewayDroppedSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_dropped_sends_total",
		Help: "Total client sends dropped due to backpressure.",
	})
	ReservationsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reservations_active",
		Help: "1 if a reservation is currently ACTIVE for the device, else 0.",
	})
	ReservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_expired_total",
		Help: "Total reservations auto-expired on lazy read.",
	})
	SimulationSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simulation_sessions_active",
		Help: "Current number of running per-user patient simulation sessions.",
	})
	SimulationTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simulation_ticks_total",
		Help: "Total simulation ticks emitted across all sessions.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable values to bound cardinality).
const (
	ErrMQTTConnect   = "mqtt_connect"
	ErrMQTTPublish   = "mqtt_publish"
	ErrMQTTSubscribe = "mqtt_subscribe"
	ErrWSUpgrade     = "ws_upgrade"
	ErrWSWrite       = "ws_write"
	ErrWSRead        = "ws_read"
	ErrAuth          = "auth"
	ErrStore         = "store"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap periodic slog snapshots.
var (
	localFramesDecoded  uint64
	localFramesRejected uint64
	localCommandsPub    uint64
	localCommandsRej    uint64
	localReconnects     uint64
	localDroppedSends   uint64
	localErrors         uint64
	localActiveClients  uint64
	localActiveSessions uint64
	localSimTicks       uint64
)

// Snapshot is a cheap copy of the local counters for slog.
type Snapshot struct {
	FramesDecoded  uint64
	FramesRejected uint64
	CommandsPub    uint64
	CommandsRej    uint64
	Reconnects     uint64
	DroppedSends   uint64
	Errors         uint64
	ActiveClients  uint64
	ActiveSessions uint64
	SimTicks       uint64
}

func Snap() Snapshot {
	return Snapshot{
		FramesDecoded:  atomic.LoadUint64(&localFramesDecoded),
		FramesRejected: atomic.LoadUint64(&localFramesRejected),
		CommandsPub:    atomic.LoadUint64(&localCommandsPub),
		CommandsRej:    atomic.LoadUint64(&localCommandsRej),
		Reconnects:     atomic.LoadUint64(&localReconnects),
		DroppedSends:   atomic.LoadUint64(&localDroppedSends),
		Errors:         atomic.LoadUint64(&localErrors),
		ActiveClients:  atomic.LoadUint64(&localActiveClients),
		ActiveSessions: atomic.LoadUint64(&localActiveSessions),
		SimTicks:       atomic.LoadUint64(&localSimTicks),
	}
}

func IncFrameDecoded(kind string) {
	TelemetryFramesDecoded.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localFramesDecoded, 1)
}

func IncFrameRejected() {
	TelemetryFramesRejected.Inc()
	atomic.AddUint64(&localFramesRejected, 1)
}

func IncAlarm(alarmType string) { AlarmsRaised.WithLabelValues(alarmType).Inc() }

func IncCommandPublished() {
	CommandsPublished.Inc()
	atomic.AddUint64(&localCommandsPub, 1)
}

func IncCommandRejected(reason string) {
	CommandsRejected.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localCommandsRej, 1)
}

func IncReconnectAttempt() {
	DeviceLinkReconnects.Inc()
	atomic.AddUint64(&localReconnects, 1)
}

func SetDeviceLinkStatus(n int) { DeviceLinkStatus.Set(float64(n)) }

func SetGatewayClients(n int) {
	GatewayActiveClients.Set(float64(n))
	atomic.StoreUint64(&localActiveClients, uint64(n))
}

func SetBroadcastFanout(n int) { GatewayBroadcastFanout.Set(float64(n)) }

func IncDroppedSend() {
	GatewayDroppedSends.Inc()
	atomic.AddUint64(&localDroppedSends, 1)
}

func SetReservationActive(active bool) {
	if active {
		ReservationsActive.Set(1)
	} else {
		ReservationsActive.Set(0)
	}
}

func IncReservationExpired() { ReservationsExpired.Inc() }

func SetSimulationSessions(n int) {
	SimulationSessionsActive.Set(float64(n))
	atomic.StoreUint64(&localActiveSessions, uint64(n))
}

func IncSimulationTick() {
	SimulationTicks.Inc()
	atomic.AddUint64(&localSimTicks, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers error label
// series so the first real error doesn't pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrMQTTConnect, ErrMQTTPublish, ErrMQTTSubscribe,
		ErrWSUpgrade, ErrWSWrite, ErrWSRead, ErrAuth, ErrStore,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers the function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
