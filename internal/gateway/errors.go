package gateway

import (
	"errors"

	"github.com/ventylab/mediation-core/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrUpgrade      = errors.New("ws_upgrade")
	ErrAuthTimeout  = errors.New("auth_timeout")
	ErrAuthInvalid  = errors.New("auth_invalid")
	ErrConnRead     = errors.New("conn_read")
	ErrConnWrite    = errors.New("conn_write")
)

// mapErrToMetric maps a wrapped sentinel error to a metrics label.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrUpgrade):
		return metrics.ErrWSUpgrade
	case errors.Is(err, ErrAuthTimeout), errors.Is(err, ErrAuthInvalid):
		return metrics.ErrAuth
	case errors.Is(err, ErrConnRead):
		return metrics.ErrWSRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrWSWrite
	default:
		return "other"
	}
}
