package patient

import (
	"math"
	"math/rand"
	"testing"

	"github.com/ventylab/mediation-core/internal/ventframe"
)

func ti(v float64) *float64 { return &v }

func TestNewModel_HealthyDemographics(t *testing.T) {
	m := NewModel(Demographics{WeightKg: 70, HeightCm: 175, AgeYears: 45, Gender: GenderMale}, ConditionHealthy)
	if math.Abs(m.Calculated.IBWKg-70.566) > 0.1 {
		t.Fatalf("IBW = %.3f, want ~70.566 (50+0.91*(175-152.4))", m.Calculated.IBWKg)
	}
	if math.Abs(m.Calculated.BMI-22.9) > 0.2 {
		t.Fatalf("BMI = %.3f, want ~22.9", m.Calculated.BMI)
	}
	if m.Mechanics != baselineMechanics {
		t.Fatalf("expected unmodified baseline mechanics for HEALTHY under-60 normal BMI, got %+v", m.Mechanics)
	}
}

func TestNewModel_AgeAdjustment(t *testing.T) {
	m := NewModel(Demographics{WeightKg: 70, HeightCm: 175, AgeYears: 70, Gender: GenderMale}, ConditionHealthy)
	want := math.Max(75-0.5*10, 15)
	if m.Mechanics.ComplianceMlPerCmH2O != want {
		t.Fatalf("compliance = %v, want %v", m.Mechanics.ComplianceMlPerCmH2O, want)
	}
}

func TestNewModel_BMIAdjustment(t *testing.T) {
	// weight/height chosen so BMI > 30.
	m := NewModel(Demographics{WeightKg: 110, HeightCm: 170, AgeYears: 40, Gender: GenderMale}, ConditionHealthy)
	if m.Mechanics.ComplianceMlPerCmH2O >= 75 {
		t.Fatalf("expected compliance reduced for BMI>30, got %v", m.Mechanics.ComplianceMlPerCmH2O)
	}
}

func TestApplyOverlay_ARDSSevere(t *testing.T) {
	mech := applyOverlay(baselineMechanics, ConditionARDSSevere)
	if mech.ComplianceMlPerCmH2O != 15 || mech.ResistanceCmH2OsPerL != 10 {
		t.Fatalf("unexpected overlay result: %+v", mech)
	}
	if mech.FRCMl != baselineMechanics.FRCMl {
		t.Fatalf("FRC should be untouched by ARDS_SEVERE overlay")
	}
}

func TestEvaluate_FirstInspirationTick(t *testing.T) {
	cmd := ventframe.VentilatorCommand{
		Mode: ventframe.ModeVCV, TidalVolume: 500, RespiratoryRate: 12, PEEP: 5, FiO2: 0.40,
		InspiratoryTime: ti(1.0),
	}
	tv := Evaluate(cmd, baselineMechanics, 50)
	if tv.Phase != PhaseInspiration {
		t.Fatalf("phase = %v, want INSPIRATION", tv.Phase)
	}
	if math.Abs(tv.Volume-25) > 0.01 {
		t.Fatalf("volume = %v, want ~25", tv.Volume)
	}
	if tv.Flow <= 0 {
		t.Fatalf("expected positive flow during VCV inspiration, got %v", tv.Flow)
	}
}

func TestEvaluate_VolumeMonotonicDuringInspiration(t *testing.T) {
	cmd := ventframe.VentilatorCommand{Mode: ventframe.ModeVCV, TidalVolume: 500, RespiratoryRate: 12, PEEP: 5, FiO2: 0.4, InspiratoryTime: ti(1.0)}
	prev := -1.0
	for tMs := 0.0; tMs < 1000; tMs += 50 {
		tv := Evaluate(cmd, baselineMechanics, tMs)
		if tv.Volume < prev {
			t.Fatalf("volume decreased during inspiration at t=%v: prev=%v cur=%v", tMs, prev, tv.Volume)
		}
		prev = tv.Volume
	}
}

func TestEvaluate_ZeroFlowDuringPause(t *testing.T) {
	cmd := ventframe.VentilatorCommand{Mode: ventframe.ModeVCV, TidalVolume: 500, RespiratoryRate: 12, PEEP: 5, FiO2: 0.4, InspiratoryTime: ti(1.0)}
	tv := Evaluate(cmd, baselineMechanics, 1050)
	if tv.Phase != PhaseInspiratoryPause {
		t.Fatalf("phase = %v, want INSPIRATORY_PAUSE", tv.Phase)
	}
	if tv.Flow != 0 {
		t.Fatalf("flow = %v, want 0 during pause", tv.Flow)
	}
}

func TestTargetSpO2_Healthy(t *testing.T) {
	got := targetSpO2(0.40, ConditionHealthy)
	want := 88 + 15*0.19
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("target = %v, want %v", got, want)
	}
}

func TestTargetSpO2_SeverePenalty(t *testing.T) {
	got := targetSpO2(0.21, ConditionARDSSevere)
	if got != 78 {
		t.Fatalf("target = %v, want 78 (88-10)", got)
	}
}

func TestStepSpO2_ConvergesWithin2Percent(t *testing.T) {
	spo2 := 95.0
	target := targetSpO2(0.40, ConditionHealthy)
	for i := 0; i < 30; i++ {
		spo2 = stepSpO2(spo2, 0.40, ConditionHealthy, 1.0)
	}
	if math.Abs(spo2-target) > 0.02*target {
		t.Fatalf("spo2 = %v after 30s, want within 2%% of target %v", spo2, target)
	}
}

func TestGaussian_ZeroMeanRoughly(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sum := 0.0
	const n = 5000
	for i := 0; i < n; i++ {
		sum += gaussian(rng, 1.0)
	}
	mean := sum / n
	if math.Abs(mean) > 0.1 {
		t.Fatalf("mean = %v, want close to 0 over %d samples", mean, n)
	}
}
