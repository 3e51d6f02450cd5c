package patient

// overlay is a partial RespiratoryMechanics; zero fields leave the
// baseline value untouched (none of the documented overlays drive any
// field to exactly zero, so a zero-value sentinel is unambiguous here).
type overlay struct {
	compliance    float64
	resistance    float64
	frc           float64
	intrinsicPEEP float64
}

var conditionOverlays = map[Condition]overlay{
	ConditionARDSMild:               {compliance: 40, resistance: 6},
	ConditionARDSModerate:           {compliance: 25, resistance: 8},
	ConditionARDSSevere:             {compliance: 15, resistance: 10},
	ConditionCOPDMild:               {resistance: 8, intrinsicPEEP: 2},
	ConditionCOPDModerate:           {resistance: 12, intrinsicPEEP: 5},
	ConditionCOPDSevere:             {resistance: 18, intrinsicPEEP: 8},
	ConditionAsthmaMild:             {resistance: 10, intrinsicPEEP: 2},
	ConditionAsthmaModerate:         {resistance: 15, intrinsicPEEP: 4},
	ConditionAsthmaSevere:           {resistance: 25, intrinsicPEEP: 8},
	ConditionPneumonia:              {compliance: 35, resistance: 7},
	ConditionPulmonaryEdema:         {compliance: 30, resistance: 6},
	ConditionPneumothorax:           {compliance: 20, resistance: 5},
	ConditionObesityHypoventilation: {compliance: 40, frc: 1800},
	ConditionNeuromuscular:          {compliance: 60},
	ConditionPostSurgical:           {compliance: 50, resistance: 5},
}

// applyOverlay returns base with the non-zero fields of condition's
// overlay substituted in; HEALTHY and unknown conditions return base
// unchanged.
func applyOverlay(base RespiratoryMechanics, condition Condition) RespiratoryMechanics {
	ov, ok := conditionOverlays[condition]
	if !ok {
		return base
	}
	m := base
	if ov.compliance != 0 {
		m.ComplianceMlPerCmH2O = ov.compliance
	}
	if ov.resistance != 0 {
		m.ResistanceCmH2OsPerL = ov.resistance
	}
	if ov.frc != 0 {
		m.FRCMl = ov.frc
	}
	if ov.intrinsicPEEP != 0 {
		m.IntrinsicPEEP = ov.intrinsicPEEP
	}
	return m
}

// isSevere/isModerate classify a condition by its name suffix, as used by
// the SpO2 target model.
func isSevere(c Condition) bool {
	return len(c) >= len("_SEVERE") && c[len(c)-len("_SEVERE"):] == "_SEVERE"
}

func isModerate(c Condition) bool {
	return len(c) >= len("_MODERATE") && c[len(c)-len("_MODERATE"):] == "_MODERATE"
}
