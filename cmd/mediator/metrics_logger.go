package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ventylab/mediation-core/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frames_decoded", snap.FramesDecoded,
					"frames_rejected", snap.FramesRejected,
					"commands_published", snap.CommandsPub,
					"commands_rejected", snap.CommandsRej,
					"reconnects", snap.Reconnects,
					"dropped_sends", snap.DroppedSends,
					"active_clients", snap.ActiveClients,
					"active_sessions", snap.ActiveSessions,
					"sim_ticks", snap.SimTicks,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
