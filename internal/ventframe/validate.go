package ventframe

import "fmt"

// ValidationErrors enumerates every out-of-range field on cmd, in the fixed
// field order used throughout the mediation plane: TV, RR, PEEP, FiO2,
// pressure limit, inspiratory time, flow rate. An empty slice means valid.
func ValidationErrors(cmd VentilatorCommand) []string {
	var errs []string

	if v := float64(cmd.TidalVolume); !RangeTidalVolume.contains(v) {
		errs = append(errs, outOfRange("tidalVolume", v, RangeTidalVolume))
	}
	if v := float64(cmd.RespiratoryRate); !RangeRespiratoryRate.contains(v) {
		errs = append(errs, outOfRange("respiratoryRate", v, RangeRespiratoryRate))
	}
	if v := float64(cmd.PEEP); !RangePEEP.contains(v) {
		errs = append(errs, outOfRange("peep", v, RangePEEP))
	}
	if !RangeFiO2.contains(cmd.FiO2) {
		errs = append(errs, outOfRange("fio2", cmd.FiO2, RangeFiO2))
	}
	if cmd.PressureLimit != nil {
		if v := float64(*cmd.PressureLimit); !RangePressureLimit.contains(v) {
			errs = append(errs, outOfRange("pressureLimit", v, RangePressureLimit))
		}
	}
	if cmd.InspiratoryTime != nil {
		if v := *cmd.InspiratoryTime; !RangeInspiratoryTime.contains(v) {
			errs = append(errs, outOfRange("inspiratoryTime", v, RangeInspiratoryTime))
		}
	}
	if cmd.FlowRate != nil {
		if v := *cmd.FlowRate; !RangeFlowRate.contains(v) {
			errs = append(errs, outOfRange("flowRate", v, RangeFlowRate))
		}
	}
	return errs
}

func outOfRange(name string, v float64, r SafetyRange) string {
	return fmt.Sprintf("%s %v out of range [%v,%v] %s", name, v, r.Lo, r.Hi, r.Unit)
}

// ValidateCommand reports whether cmd satisfies every safety range.
func ValidateCommand(cmd VentilatorCommand) bool {
	return len(ValidationErrors(cmd)) == 0
}
