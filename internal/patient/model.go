// Package patient implements the per-user physiology simulation loop
// (C4): demographics derivations, condition-modifier overlays, the
// respiratory-cycle phase state machine, and the SpO2 first-order lag
// model. Each session runs its own goroutine on a fixed ticker, the same
// shape as the teacher's writer.go flush ticker, generalized from a
// batch-flush interval to a 20 Hz physiology tick.
package patient

import "math"

// Gender is the demographic input to the IBW formula.
type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

// Condition enumerates the supported physiology presets; overlay values
// are in overlays.go.
type Condition string

const (
	ConditionHealthy                 Condition = "HEALTHY"
	ConditionARDSMild                Condition = "ARDS_MILD"
	ConditionARDSModerate            Condition = "ARDS_MODERATE"
	ConditionARDSSevere              Condition = "ARDS_SEVERE"
	ConditionCOPDMild                Condition = "COPD_MILD"
	ConditionCOPDModerate            Condition = "COPD_MODERATE"
	ConditionCOPDSevere              Condition = "COPD_SEVERE"
	ConditionAsthmaMild              Condition = "ASTHMA_MILD"
	ConditionAsthmaModerate          Condition = "ASTHMA_MODERATE"
	ConditionAsthmaSevere            Condition = "ASTHMA_SEVERE"
	ConditionPneumonia               Condition = "PNEUMONIA"
	ConditionPulmonaryEdema          Condition = "PULMONARY_EDEMA"
	ConditionPneumothorax            Condition = "PNEUMOTHORAX"
	ConditionObesityHypoventilation  Condition = "OBESITY_HYPOVENTILATION"
	ConditionNeuromuscular           Condition = "NEUROMUSCULAR"
	ConditionPostSurgical            Condition = "POST_SURGICAL"
)

// Demographics are the model's raw inputs.
type Demographics struct {
	WeightKg float64 `json:"weightKg"`
	HeightCm float64 `json:"heightCm"`
	AgeYears int     `json:"ageYears"`
	Gender   Gender  `json:"gender"`
}

// Calculated holds the derived demographic values.
type Calculated struct {
	IBWKg         float64
	BMI           float64
	BSA           float64
	PredictedTVLo int
	PredictedTVHi int
}

// RespiratoryMechanics holds the baseline-plus-overlay-plus-adjustment
// mechanics used by the cycle simulation.
type RespiratoryMechanics struct {
	ComplianceMlPerCmH2O float64
	ResistanceCmH2OsPerL float64
	FRCMl                float64
	IntrinsicPEEP        float64
}

// baselineMechanics is the normal baseline before any condition overlay.
var baselineMechanics = RespiratoryMechanics{ComplianceMlPerCmH2O: 75, ResistanceCmH2OsPerL: 3, FRCMl: 2400, IntrinsicPEEP: 0}

// Model is the full PatientModel: demographics, calculated values,
// mechanics, and the selected condition.
type Model struct {
	Demographics Demographics
	Calculated   Calculated
	Mechanics    RespiratoryMechanics
	Condition    Condition
}

// NewModel derives Calculated and Mechanics for the given demographics
// and condition, applying the age>60 and BMI>30 adjustments in that order
// after the condition overlay, per the spec's demographics derivations.
func NewModel(d Demographics, condition Condition) Model {
	ibw := idealBodyWeight(d)
	bmi := d.WeightKg / math.Pow(d.HeightCm/100, 2)
	bsa := 0.007184 * math.Pow(d.WeightKg, 0.425) * math.Pow(d.HeightCm, 0.725)

	mech := applyOverlay(baselineMechanics, condition)
	if d.AgeYears > 60 {
		mech.ComplianceMlPerCmH2O = math.Max(mech.ComplianceMlPerCmH2O-0.5*float64(d.AgeYears-60), 15)
	}
	if bmi > 30 {
		mech.ComplianceMlPerCmH2O = math.Max(mech.ComplianceMlPerCmH2O*(1-0.01*(bmi-30)), 15)
		mech.FRCMl = math.Max(mech.FRCMl*(1-0.01*(bmi-30)), 1500)
	}

	return Model{
		Demographics: d,
		Calculated: Calculated{
			IBWKg:         ibw,
			BMI:           bmi,
			BSA:           bsa,
			PredictedTVLo: int(math.Floor(6 * ibw)),
			PredictedTVHi: int(math.Floor(8 * ibw)),
		},
		Mechanics: mech,
		Condition: condition,
	}
}

// idealBodyWeight implements the ARDSNet formula, floored at 30 kg.
func idealBodyWeight(d Demographics) float64 {
	var ibw float64
	if d.Gender == GenderFemale {
		ibw = 45.5 + 0.91*(d.HeightCm-152.4)
	} else {
		ibw = 50 + 0.91*(d.HeightCm-152.4)
	}
	return math.Max(ibw, 30)
}
