package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ventylab/mediation-core/internal/devicelink"
	"github.com/ventylab/mediation-core/internal/gateway"
	"github.com/ventylab/mediation-core/internal/mediation"
	"github.com/ventylab/mediation-core/internal/metrics"
	"github.com/ventylab/mediation-core/internal/patient"
	"github.com/ventylab/mediation-core/internal/reservation"
	"github.com/ventylab/mediation-core/internal/store"
	"github.com/ventylab/mediation-core/internal/ventframe"
)

// Helper implementations moved to dedicated files: version.go, config.go,
// logger.go, metrics_logger.go, mdns.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("ventylab-mediator %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	applySafetyOverrides(cfg, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	link := devicelink.New(devicelink.Config{
		BrokerURL:            cfg.brokerURL,
		ClientID:             cfg.clientID,
		Username:             cfg.mqttUsername,
		Password:             cfg.mqttPassword,
		DeviceID:             cfg.deviceID,
		KeepAlive:            cfg.keepAlive,
		ConnectTimeout:       cfg.connectTimeout,
		ReconnectBaseDelay:   cfg.reconnectBaseDelay,
		ReconnectMaxDelay:    cfg.reconnectMaxDelay,
		MaxReconnectAttempts: cfg.maxReconnectAttempts,
	})

	hub := gateway.New()
	hub.OutBufSize = cfg.hubBuffer
	switch cfg.hubPolicy {
	case "kick":
		hub.Policy = gateway.PolicyKick
	default:
		hub.Policy = gateway.PolicyDrop
	}

	var auth gateway.Authenticator
	if cfg.jwtSecret != "" {
		auth = gateway.NewHMACAuthenticator([]byte(cfg.jwtSecret))
	} else {
		l.Warn("jwt_secret_unset", "detail", "socket authenticate will reject every client")
	}

	gwSrv := gateway.NewServer(
		gateway.WithHub(hub),
		gateway.WithAuthenticator(auth),
	)

	reservationStore := store.NewMemoryReservationStore()
	sessionStore := store.NewMemorySessionStore()
	reserveMgr := reservation.New(cfg.deviceID, reservationStore, reservation.WithBroadcaster(gwSrv))
	sessionMgr := patient.NewManager(gwSrv)

	svc := mediation.New(link, gwSrv, reserveMgr, sessionMgr, cfg.deviceID)
	dispatch := mediation.NewDispatcher(svc, reserveMgr, sessionMgr, gwSrv)
	gwSrv.Dispatch = dispatch

	api := mediation.NewAPI(svc, reserveMgr, sessionStore)

	if err := svc.Initialize(ctx); err != nil {
		l.Error("mediation_initialize_failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gwSrv)
	mux.HandleFunc("/api/simulation/status", api.HandleStatus)
	mux.HandleFunc("/api/simulation/command", api.HandleCommand)
	mux.HandleFunc("/api/simulation/reserve", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			api.HandleReserve(w, r)
		case http.MethodDelete:
			api.HandleRelease(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/simulation/session/save", api.HandleSaveSession)
	mux.HandleFunc("/api/simulation/sessions", api.HandleListSessions)

	listener, err := net.Listen("tcp", cfg.listenAddr)
	if err != nil {
		l.Error("listen_failed", "error", err, "addr", cfg.listenAddr)
		os.Exit(1)
	}
	httpSrv := &http.Server{Handler: mux}
	readyCh := make(chan struct{})
	go func() {
		close(readyCh)
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			l.Error("http_server_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-readyCh:
		case <-ctx.Done():
			return
		}
		port := portOf(listener.Addr().String())
		cleanupMDNS, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-readyCh:
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	l.Info("mediator_started", "listen", listener.Addr().String(), "device_id", cfg.deviceID, "broker", cfg.brokerURL)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = gwSrv.Shutdown(shutdownCtx)
	svc.Shutdown()
	wg.Wait()
}

// applySafetyOverrides installs any YAML-configured safety-range
// replacements before the server starts accepting commands.
func applySafetyOverrides(cfg *appConfig, l *slog.Logger) {
	o := cfg.safetyOverrides
	if o.TidalVolume == nil && o.RespiratoryRate == nil && o.PEEP == nil && o.FiO2 == nil &&
		o.PressureLimit == nil && o.InspiratoryTime == nil && o.FlowRate == nil {
		return
	}
	toRange := func(r *rangeOverride, unit string) *ventframe.SafetyRange {
		if r == nil {
			return nil
		}
		return &ventframe.SafetyRange{Lo: r.Lo, Hi: r.Hi, Unit: unit}
	}
	ventframe.ApplySafetyOverrides(ventframe.SafetyOverrides{
		TidalVolume:     toRange(o.TidalVolume, "ml"),
		RespiratoryRate: toRange(o.RespiratoryRate, "breaths/min"),
		PEEP:            toRange(o.PEEP, "cmH2O"),
		FiO2:            toRange(o.FiO2, "fraction"),
		PressureLimit:   toRange(o.PressureLimit, "cmH2O"),
		InspiratoryTime: toRange(o.InspiratoryTime, "s"),
		FlowRate:        toRange(o.FlowRate, "L/min"),
	})
	l.Info("safety_ranges_overridden")
}

func portOf(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, perr := strconv.Atoi(p); perr == nil {
			return pn
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if pn, perr := strconv.Atoi(addr[i+1:]); perr == nil {
			return pn
		}
	}
	return 0
}
