package mediation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ventylab/mediation-core/internal/gateway"
	"github.com/ventylab/mediation-core/internal/patient"
	"github.com/ventylab/mediation-core/internal/reservation"
	"github.com/ventylab/mediation-core/internal/ventframe"
)

// Dispatcher implements gateway.Dispatcher: it decodes the data field of
// each inbound socket event and routes it to the Service, the reservation
// Manager, or the per-user patient session Manager.
type Dispatcher struct {
	svc      *Service
	reserve  *reservation.Manager
	sessions *patient.Manager
	gw       Gateway
}

// NewDispatcher wires a gateway.Dispatcher around an initialized Service.
func NewDispatcher(svc *Service, reserve *reservation.Manager, sessions *patient.Manager, gw Gateway) *Dispatcher {
	return &Dispatcher{svc: svc, reserve: reserve, sessions: sessions, gw: gw}
}

// reserveRequest is the data field of an inbound ventilator:reserve event.
type reserveRequest struct {
	DurationMinutes int    `json:"durationMinutes"`
	Purpose         string `json:"purpose"`
}

// simulatorJoinRequest is the data field of an inbound simulator:join event.
type simulatorJoinRequest struct {
	Demographics patient.Demographics        `json:"demographics"`
	Condition    patient.Condition           `json:"condition"`
	Command      ventframe.VentilatorCommand `json:"command"`
}

func decodeData(env gateway.Envelope, v interface{}) error {
	b, err := json.Marshal(env.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Handle routes one decoded inbound Envelope for an authenticated userID.
// subscribe:data/unsubscribe:data are no-ops: broadcast is fire-and-forget
// to every connected socket regardless of subscription state (spec §5).
func (d *Dispatcher) Handle(userID string, env gateway.Envelope) error {
	ctx := context.Background()
	switch env.Event {
	case gateway.EventCommand:
		var cmd ventframe.VentilatorCommand
		if err := decodeData(env, &cmd); err != nil {
			return fmt.Errorf("malformed command payload: %w", err)
		}
		_, err := d.svc.SendCommand(ctx, userID, cmd)
		return err

	case gateway.EventReserve:
		var req reserveRequest
		if err := decodeData(env, &req); err != nil {
			return fmt.Errorf("malformed reserve payload: %w", err)
		}
		res, err := d.reserve.Reserve(ctx, userID, req.DurationMinutes, req.Purpose)
		if err != nil {
			return err
		}
		d.gw.SendToUser(userID, gateway.EventReserveResponse, res)
		return nil

	case gateway.EventRelease:
		_, err := d.reserve.Release(ctx, userID)
		return err

	case gateway.EventStatusRequest:
		status, err := d.svc.GetVentilatorStatus(ctx)
		if err != nil {
			return err
		}
		d.gw.SendToUser(userID, gateway.EventStatus, status)
		return nil

	case gateway.EventSimulatorJoin:
		var req simulatorJoinRequest
		if err := decodeData(env, &req); err != nil {
			return fmt.Errorf("malformed simulator:join payload: %w", err)
		}
		model := patient.NewModel(req.Demographics, req.Condition)
		d.sessions.ConfigurePatient(userID, model, req.Command)
		return nil

	case gateway.EventSimulatorLeave:
		d.sessions.StopSimulation(userID)
		return nil

	case gateway.EventSubscribeData, gateway.EventUnsubscribeData:
		return nil

	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
}
