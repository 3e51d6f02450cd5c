package mediation

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ventylab/mediation-core/internal/logging"
	"github.com/ventylab/mediation-core/internal/reservation"
	"github.com/ventylab/mediation-core/internal/store"
	"github.com/ventylab/mediation-core/internal/ventframe"
)

// API exposes the five REST endpoints the core serves; authentication is
// delegated to middleware the caller installs in front of these handlers.
type API struct {
	svc      *Service
	reserve  *reservation.Manager
	sessions store.SessionStore
}

// NewAPI builds the REST handler set around an already-initialized Service.
func NewAPI(svc *Service, reserve *reservation.Manager, sessions store.SessionStore) *API {
	return &API{svc: svc, reserve: reserve, sessions: sessions}
}

// userIDFromRequest reads the caller's userId, set by the authentication
// middleware this subsystem does not implement (out of scope, §1).
func userIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleStatus implements GET /api/simulation/status.
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.svc.GetVentilatorStatus(r.Context())
	if err != nil {
		logging.Component("mediation").Error("status_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleCommand implements POST /api/simulation/command.
func (a *API) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd ventframe.VentilatorCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"errors": []string{"malformed request body"}})
		return
	}
	userID := userIDFromRequest(r)
	result, err := a.svc.SendCommand(r.Context(), userID, cmd)
	if err != nil {
		switch e := err.(type) {
		case *ValidationError:
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"success": false, "errors": e.Errors})
		case *ReservationConflictError:
			writeJSON(w, http.StatusConflict, map[string]interface{}{"success": false, "currentUser": e.CurrentUser})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleReserve implements POST /api/simulation/reserve.
func (a *API) HandleReserve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DurationMinutes int    `json:"durationMinutes"`
		Purpose         string `json:"purpose"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "malformed request body"})
		return
	}
	userID := userIDFromRequest(r)
	res, err := a.reserve.Reserve(r.Context(), userID, body.DurationMinutes, body.Purpose)
	if err != nil {
		if conflict, ok := err.(*reservation.ConflictError); ok {
			writeJSON(w, http.StatusConflict, map[string]string{"currentUser": conflict.CurrentUser})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleRelease implements DELETE /api/simulation/reserve.
func (a *API) HandleRelease(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	res, err := a.reserve.Release(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active reservation"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSaveSession implements POST /api/simulation/session/save.
func (a *API) HandleSaveSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Condition string `json:"condition"`
		TickCount int    `json:"tickCount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "malformed request body"})
		return
	}
	userID := userIDFromRequest(r)
	row, err := a.sessions.Save(r.Context(), store.SessionRow{
		ID: uuid.NewString(), UserID: userID, StartedAt: time.Now().UTC(), Condition: body.Condition, TickCount: body.TickCount,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

// HandleListSessions implements GET /api/simulation/sessions[?limit=N].
func (a *API) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	rows, err := a.sessions.List(r.Context(), userID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

