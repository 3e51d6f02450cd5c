package patient

import (
	"math"

	"github.com/ventylab/mediation-core/internal/ventframe"
)

// Phase is a point in the respiratory cycle.
type Phase string

const (
	PhaseInspiration      Phase = "INSPIRATION"
	PhaseInspiratoryPause Phase = "INSPIRATORY_PAUSE"
	PhaseExpiration       Phase = "EXPIRATION"
)

const inspiratoryPauseMs = 100

// Tick is one 50 ms sample of pressure/flow/volume produced by the cycle
// state machine, before Gaussian noise is added.
type Tick struct {
	Phase    Phase
	Pressure float64
	Flow     float64
	Volume   float64
}

// cycleState tracks the evolving volume across ticks within one
// respiratory cycle; it is reset at cycle start by the caller.
type cycleState struct {
	volumeAtPauseStart float64
}

// Evaluate computes the phase and instantaneous flow/volume/pressure for
// elapsed time tMs into a respiratory cycle, given the active command and
// mechanics. tMs is NOT normalized by the caller; Evaluate does it.
func Evaluate(cmd ventframe.VentilatorCommand, mech RespiratoryMechanics, tMs float64) Tick {
	cycleDurationMs := 60000.0 / float64(cmd.RespiratoryRate)
	t := math.Mod(tMs, cycleDurationMs)

	inspMs := 1000.0
	if cmd.InspiratoryTime != nil {
		inspMs = *cmd.InspiratoryTime * 1000
	}
	pauseEndMs := inspMs + inspiratoryPauseMs
	tv := float64(cmd.TidalVolume)
	peakFlow := (tv / 1000) / (inspMs / 60000) // L/min, peak = (TV/1000)/(Ti/60)

	var phase Phase
	var flow, volume float64

	switch {
	case t < inspMs:
		phase = PhaseInspiration
		progress := t / inspMs
		switch cmd.Mode {
		case ventframe.ModePCV, ventframe.ModePSV:
			flow = peakFlow * 1.5 * math.Exp(-progress/0.3)
			volume = tv * (1 - math.Exp(-progress/0.3)) / (1 - math.Exp(-1/0.3))
		default: // VCV, SIMV: square flow wave
			flow = peakFlow
			volume = tv * progress
		}
	case t < pauseEndMs:
		phase = PhaseInspiratoryPause
		flow = 0
		volume = tv
	default:
		phase = PhaseExpiration
		expDurationMs := cycleDurationMs - pauseEndMs
		progress := (t - pauseEndMs) / math.Max(expDurationMs, 1)
		tau := (mech.ComplianceMlPerCmH2O / 1000) * mech.ResistanceCmH2OsPerL
		tauNorm := tau / math.Max(expDurationMs/1000, 0.001)
		initialMagnitude := -peakFlow * 1.5
		flow = initialMagnitude * math.Exp(-progress/math.Max(tauNorm, 0.01))
		volume = tv * (1 - progress)
	}

	pressure := volume/mech.ComplianceMlPerCmH2O + (flow/60)*mech.ResistanceCmH2OsPerL + (float64(cmd.PEEP) + mech.IntrinsicPEEP)

	return Tick{Phase: phase, Pressure: pressure, Flow: flow, Volume: volume}
}
