// Package mediation implements the orchestrator (C6) that wires the
// frame codec, device link, client gateway, patient engine, and
// reservation manager together: telemetry ingestion, command dispatch,
// and composed status. Lifecycle (initialize/shutdown) and failure
// propagation follow the teacher's cmd/can-server wiring style, adapted
// from a CAN/TCP bridge to the MQTT/WebSocket ventilator bridge.
package mediation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ventylab/mediation-core/internal/devicelink"
	"github.com/ventylab/mediation-core/internal/framecodec"
	"github.com/ventylab/mediation-core/internal/metrics"
	"github.com/ventylab/mediation-core/internal/patient"
	"github.com/ventylab/mediation-core/internal/reservation"
	"github.com/ventylab/mediation-core/internal/ventframe"
)

// Gateway is the subset of the gateway server the mediation service
// drives: broadcast to all clients and addressed delivery to one.
type Gateway interface {
	Broadcast(event string, data interface{})
	SendToUser(userID, event string, data interface{}) bool
}

// Service orchestrates C1-C5 behind the five operations the REST layer
// and the gateway dispatcher call into.
type Service struct {
	link     *devicelink.Link
	gateway  Gateway
	reserve  *reservation.Manager
	sessions *patient.Manager
	deviceID string

	reading *rollingReading
	alarms  *alarmTable

	lastDataTimestampMs int64
	now                 func() time.Time
}

// New constructs a Service. link, gateway, reserve, and sessions must all
// be non-nil; deviceID names the single physical device this instance
// mediates.
func New(link *devicelink.Link, gw Gateway, reserve *reservation.Manager, sessions *patient.Manager, deviceID string) *Service {
	return &Service{
		link:     link,
		gateway:  gw,
		reserve:  reserve,
		sessions: sessions,
		deviceID: deviceID,
		reading:  &rollingReading{},
		alarms:   newAlarmTable(),
		now:      time.Now,
	}
}

// Initialize connects the device link and subscribes handleTelemetryBuffer.
func (s *Service) Initialize(ctx context.Context) error {
	s.link.SubscribeTelemetry(s.handleTelemetryBuffer)
	if err := s.link.Connect(ctx); err != nil {
		return fmt.Errorf("mediation: initialize: %w", err)
	}
	return nil
}

// Shutdown disconnects the device link and clears alarms and rolling state.
func (s *Service) Shutdown() {
	s.link.Disconnect()
	s.sessions.Shutdown()
	s.reading.reset()
	s.alarms.reset()
}

// handleTelemetryBuffer is the C2 telemetry callback: validate, decode,
// update lastDataTimestamp, then either upsert+broadcast an alarm or
// merge the frame into the rolling reading and broadcast ventilator:data.
// Malformed frames are dropped silently per the frame codec's no-throw
// contract.
func (s *Service) handleTelemetryBuffer(buf []byte) {
	frame, ok := framecodec.Decode(buf)
	if !ok {
		metrics.IncFrameRejected()
		return
	}
	s.lastDataTimestampMs = s.now().UnixMilli()

	switch frame.Kind {
	case framecodec.KindAlarm:
		metrics.IncFrameDecoded("alarm")
		al := activeAlarm{
			Type:        string(frame.Alarm.Type),
			Severity:    string(frame.Alarm.Severity),
			Message:     alarmMessage(frame.Alarm.Type),
			TimestampMs: frame.TimestampMs,
			Active:      true,
		}
		s.alarms.upsert(al)
		metrics.IncAlarm(al.Type)
		s.gateway.Broadcast("ventilator:alarm", al)
	case framecodec.KindPressure:
		metrics.IncFrameDecoded("pressure")
		s.reading.setPressure(frame.Pressure, frame.TimestampMs, s.deviceID)
		s.broadcastReading()
	case framecodec.KindFlow:
		metrics.IncFrameDecoded("flow")
		s.reading.setFlow(frame.Flow, frame.TimestampMs, s.deviceID)
		s.broadcastReading()
	case framecodec.KindVolume:
		metrics.IncFrameDecoded("volume")
		s.reading.setVolume(frame.Volume, frame.TimestampMs, s.deviceID)
		s.broadcastReading()
	}
}

func (s *Service) broadcastReading() {
	snap := s.reading.snapshot()
	s.gateway.Broadcast("ventilator:data", snap)
}

// alarmMessage renders a short human-readable string for an alarm type;
// localization is an external concern, this is the fallback default.
func alarmMessage(t ventframe.AlarmType) string {
	switch t {
	case ventframe.AlarmHighPressure:
		return "Airway pressure exceeds the configured limit"
	case ventframe.AlarmLowPressure:
		return "Airway pressure below expected minimum"
	case ventframe.AlarmHighVolume:
		return "Delivered volume exceeds the configured limit"
	case ventframe.AlarmLowVolume:
		return "Delivered volume below expected minimum"
	case ventframe.AlarmApnea:
		return "No breath detected within the apnea window"
	case ventframe.AlarmDisconnection:
		return "Patient circuit disconnection detected"
	case ventframe.AlarmPowerFailure:
		return "Device power failure"
	default:
		return "Technical fault"
	}
}

// CommandResult is the return shape of SendCommand.
type CommandResult struct {
	Success   bool     `json:"success"`
	Errors    []string `json:"errors,omitempty"`
	CommandID string   `json:"commandId,omitempty"`
}

// SendCommand validates req, rejecting on a non-empty error list; checks
// that the caller holds (or nobody holds) the active reservation; then
// publishes the encoded command. A TransportUnavailableError surfaces
// network errors from the device link.
func (s *Service) SendCommand(ctx context.Context, userID string, cmd ventframe.VentilatorCommand) (CommandResult, error) {
	if errs := ventframe.ValidationErrors(cmd); len(errs) > 0 {
		metrics.IncCommandRejected("validation")
		return CommandResult{}, &ValidationError{Errors: errs}
	}

	if current, err := s.reserve.Current(ctx); err == nil && current.UserID != userID {
		metrics.IncCommandRejected("reservation_conflict")
		return CommandResult{}, &ReservationConflictError{CurrentUser: current.UserID}
	}

	buf, valErrs := framecodec.EncodeCommand(cmd)
	if len(valErrs) > 0 {
		metrics.IncCommandRejected("validation")
		return CommandResult{}, &ValidationError{Errors: valErrs}
	}
	if err := s.link.PublishCommand(buf); err != nil {
		metrics.IncCommandRejected("transport")
		return CommandResult{}, &TransportUnavailableError{Cause: err}
	}
	metrics.IncCommandPublished()
	commandID := fmt.Sprintf("cmd-%d", s.now().UnixMilli())
	s.gateway.SendToUser(userID, "ventilator:command:ack", map[string]interface{}{"commandId": commandID})
	return CommandResult{Success: true, CommandID: commandID}, nil
}

// AcknowledgeAlarm marks the latest active alarm of the given type
// acknowledged and broadcasts ventilator:alarm with the updated record;
// the extension point the spec's design notes call for.
func (s *Service) AcknowledgeAlarm(alarmType string) bool {
	if !s.alarms.acknowledge(alarmType) {
		return false
	}
	for _, al := range s.alarms.snapshot() {
		if al.Type == alarmType {
			s.gateway.Broadcast("ventilator:alarm", al)
		}
	}
	return true
}

// Status is the composed object returned by getVentilatorStatus.
type Status struct {
	DeviceLinkStatus    string                   `json:"deviceLinkStatus"`
	Reading             readingSnapshot          `json:"reading"`
	Reservation         *reservation.Reservation `json:"reservation,omitempty"`
	LastDataTimestampMs int64                    `json:"lastDataTimestamp"`
	ActiveAlarms        []activeAlarm            `json:"activeAlarms"`
}

// GetVentilatorStatus composes MQTT status, the current reservation
// (after auto-expiry), lastDataTimestamp, and the active-alarm snapshot.
func (s *Service) GetVentilatorStatus(ctx context.Context) (Status, error) {
	var res *reservation.Reservation
	current, err := s.reserve.Current(ctx)
	switch {
	case err == nil:
		res = &current
	case errors.Is(err, reservation.ErrNotFound):
		// no active reservation; res stays nil
	default:
		return Status{}, err
	}
	return Status{
		DeviceLinkStatus:    s.link.GetStatus().String(),
		Reading:             s.reading.snapshot(),
		Reservation:         res,
		LastDataTimestampMs: s.lastDataTimestampMs,
		ActiveAlarms:        s.alarms.snapshot(),
	}, nil
}
