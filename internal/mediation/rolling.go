package mediation

import "sync"

// rollingReading is the process-singleton last-value accumulator: each
// inbound telemetry frame updates exactly one of pressure/flow/volume,
// and older values persist in the other fields until overwritten. This
// is intentional, not a bug — see the frame-loss-tolerance property.
type rollingReading struct {
	mu          sync.RWMutex
	pressure    float64
	flow        float64
	volume      float64
	timestampMs int64
	deviceID    string
	hasData     bool
}

func (r *rollingReading) setPressure(v float64, ts int64, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pressure, r.timestampMs, r.deviceID, r.hasData = v, ts, deviceID, true
}

func (r *rollingReading) setFlow(v float64, ts int64, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flow, r.timestampMs, r.deviceID, r.hasData = v, ts, deviceID, true
}

func (r *rollingReading) setVolume(v float64, ts int64, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volume, r.timestampMs, r.deviceID, r.hasData = v, ts, deviceID, true
}

// snapshot returns a copy of the current composite reading.
type readingSnapshot struct {
	Pressure    float64 `json:"pressure"`
	Flow        float64 `json:"flow"`
	Volume      float64 `json:"volume"`
	TimestampMs int64   `json:"timestamp"`
	DeviceID    string  `json:"deviceId"`
	HasData     bool    `json:"hasData"`
}

func (r *rollingReading) snapshot() readingSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return readingSnapshot{
		Pressure: r.pressure, Flow: r.flow, Volume: r.volume,
		TimestampMs: r.timestampMs, DeviceID: r.deviceID, HasData: r.hasData,
	}
}

func (r *rollingReading) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r = rollingReading{}
}

// alarmTable is the process-singleton map of alarmType -> latest active
// VentilatorAlarm.
type alarmTable struct {
	mu     sync.RWMutex
	byType map[string]activeAlarm
}

type activeAlarm struct {
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	Message      string `json:"message"`
	TimestampMs  int64  `json:"timestamp"`
	Active       bool   `json:"active"`
	Acknowledged bool   `json:"acknowledged"`
}

func newAlarmTable() *alarmTable { return &alarmTable{byType: make(map[string]activeAlarm)} }

func (a *alarmTable) upsert(al activeAlarm) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byType[al.Type] = al
}

func (a *alarmTable) acknowledge(alarmType string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	al, ok := a.byType[alarmType]
	if !ok {
		return false
	}
	al.Acknowledged = true
	a.byType[alarmType] = al
	return true
}

func (a *alarmTable) snapshot() []activeAlarm {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]activeAlarm, 0, len(a.byType))
	for _, al := range a.byType {
		out = append(out, al)
	}
	return out
}

func (a *alarmTable) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byType = make(map[string]activeAlarm)
}
