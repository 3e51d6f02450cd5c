package gateway

// Outbound event names (server to client).
const (
	EventData            = "ventilator:data"
	EventAlarm            = "ventilator:alarm"
	EventStatus           = "ventilator:status"
	EventCommandAck       = "ventilator:command:ack"
	EventReserveResponse  = "ventilator:reserve:response"
	EventReserved         = "ventilator:reserved"
	EventReleased         = "ventilator:released"
	EventError            = "ventilator:error"
	EventNotification     = "notification"
	EventPong             = "pong"
)

// Inbound event names (client to server).
const (
	EventAuthenticate     = "authenticate"
	EventPing             = "ping"
	EventCommand          = "ventilator:command"
	EventReserve          = "ventilator:reserve"
	EventRelease          = "ventilator:release"
	EventStatusRequest    = "ventilator:status:request"
	EventSimulatorJoin    = "simulator:join"
	EventSimulatorLeave   = "simulator:leave"
	EventSubscribeData    = "subscribe:data"
	EventUnsubscribeData  = "unsubscribe:data"
	eventAuthenticated    = "authenticated"
	eventAuthError        = "auth_error"
)

// Envelope is the wire shape for every message exchanged over the socket:
// a named event plus an arbitrary JSON payload.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// NewEnvelope builds an Envelope for event carrying data.
func NewEnvelope(event string, data interface{}) Envelope {
	return Envelope{Event: event, Data: data}
}

// AuthenticatePayload is the data field of an inbound "authenticate" event.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// ErrorPayload is the data field of an outbound "ventilator:error" or
// "auth_error" event.
type ErrorPayload struct {
	Message string `json:"message"`
}
