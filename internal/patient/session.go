package patient

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ventylab/mediation-core/internal/logging"
	"github.com/ventylab/mediation-core/internal/metrics"
	"github.com/ventylab/mediation-core/internal/ventframe"
)

const (
	tickInterval    = 50 * time.Millisecond
	spo2RecomputeN  = 20 // every 20 ticks == 1s at 50ms/tick
	initialSpO2     = 95.0
)

// Reading is one emitted ventilator:data sample for deviceId =
// "simulated-<userId>".
type Reading struct {
	DeviceID    string  `json:"deviceId"`
	Pressure    float64 `json:"pressure"`
	Flow        float64 `json:"flow"`
	Volume      float64 `json:"volume"`
	SpO2        float64 `json:"spo2"`
	TimestampMs int64   `json:"timestamp"`
}

// Emitter delivers a Reading to the owning userId's socket; the gateway
// server's SendToUser satisfies it.
type Emitter interface {
	SendToUser(userID, event string, data interface{}) bool
}

// Session is one running per-user simulation loop: a patient model, the
// last accepted ventilator command, and the goroutine driving it.
type Session struct {
	UserID    string
	StartedAt time.Time

	mu        sync.RWMutex
	model     Model
	cmd       ventframe.VentilatorCommand
	lastSpO2  float64
	tickCount int

	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the set of running per-user sessions: configurePatient
// creates one (displacing any prior session for the same user), and
// stopSimulation/shutdown destroys it.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	emitter  Emitter
	nowFunc  func() time.Time
}

// NewManager constructs an empty session Manager emitting readings
// through emitter.
func NewManager(emitter Emitter) *Manager {
	return &Manager{sessions: make(map[string]*Session), emitter: emitter, nowFunc: time.Now}
}

// ConfigurePatient creates (or replaces) the session for userID with the
// given model and initial command, starting its 50ms tick loop.
func (m *Manager) ConfigurePatient(userID string, model Model, cmd ventframe.VentilatorCommand) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sessions[userID]; ok {
		prev.stop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		UserID:    userID,
		StartedAt: m.nowFunc(),
		model:     model,
		cmd:       cmd,
		lastSpO2:  initialSpO2,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.sessions[userID] = s
	metrics.SetSimulationSessions(len(m.sessions))
	go s.run(ctx, m.emitter)
	return s
}

// StopSimulation stops and removes userID's session, if any.
func (m *Manager) StopSimulation(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		s.stop()
		delete(m.sessions, userID)
		metrics.SetSimulationSessions(len(m.sessions))
	}
}

// UpdateCommand replaces userID's active ventilator command, if a session
// is running for them.
func (m *Manager) UpdateCommand(userID string, cmd ventframe.VentilatorCommand) bool {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	return true
}

// Shutdown stops every running session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.stop()
		delete(m.sessions, id)
	}
	metrics.SetSimulationSessions(0)
}

func (s *Session) stop() {
	s.cancel()
	<-s.done
}

func (s *Session) run(ctx context.Context, emitter Emitter) {
	defer close(s.done)
	logging.Component("patient").Info("simulation_session_started", "user_id", s.UserID, "condition", s.model.Condition)
	rng := rand.New(rand.NewSource(int64(len(s.UserID)) + s.StartedAt.UnixNano()))
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			s.mu.Lock()
			s.tickCount++
			elapsedMs := float64(s.tickCount) * float64(tickInterval/time.Millisecond)
			tv := Evaluate(s.cmd, s.model.Mechanics, elapsedMs)
			tv = withNoise(rng, tv)
			if s.tickCount%spo2RecomputeN == 0 {
				s.lastSpO2 = stepSpO2(s.lastSpO2, s.cmd.FiO2, s.model.Condition, float64(spo2RecomputeN)*float64(tickInterval/time.Millisecond)/1000)
			}
			reading := Reading{
				DeviceID:    fmt.Sprintf("simulated-%s", s.UserID),
				Pressure:    tv.Pressure,
				Flow:        tv.Flow,
				Volume:      tv.Volume,
				SpO2:        s.lastSpO2,
				TimestampMs: tick.UnixMilli(),
			}
			s.mu.Unlock()
			metrics.IncSimulationTick()
			if emitter != nil {
				emitter.SendToUser(s.UserID, "ventilator:data", reading)
			}
		}
	}
}
