package framecodec

import "github.com/ventylab/mediation-core/internal/ventframe"

// DecodeCommand parses a command frame encoded by EncodeCommand. It returns
// ok=false on any structural or checksum failure, by the same rules as
// Decode, but accepts TypeCommand instead of the telemetry type set.
func DecodeCommand(buf []byte) (ventframe.VentilatorCommand, bool) {
	if len(buf) < minTotalLen || len(buf) > maxTotalLen {
		return ventframe.VentilatorCommand{}, false
	}
	if buf[0] != startByte || buf[1] != TypeCommand {
		return ventframe.VentilatorCommand{}, false
	}
	length := int(buf[2])
	if len(buf) != 3+length+1 {
		return ventframe.VentilatorCommand{}, false
	}
	if checksum(buf[:len(buf)-1]) != buf[len(buf)-1] {
		return ventframe.VentilatorCommand{}, false
	}
	payload := buf[3 : 3+length]
	if len(payload) < 6 {
		return ventframe.VentilatorCommand{}, false
	}
	mode, ok := modeFromCode(payload[0])
	if !ok {
		return ventframe.VentilatorCommand{}, false
	}
	cmd := ventframe.VentilatorCommand{
		Mode:            mode,
		TidalVolume:     int(payload[1])<<8 | int(payload[2]),
		RespiratoryRate: int(payload[3]),
		PEEP:            int(payload[4]),
		FiO2:            float64(payload[5]) / 100,
	}
	rest := payload[6:]
	switch len(rest) {
	case 1:
		pl := int(rest[0])
		cmd.PressureLimit = &pl
	case 2:
		ti := float64(uint16(rest[0])<<8|uint16(rest[1])) / 10
		cmd.InspiratoryTime = &ti
	case 3:
		pl := int(rest[0])
		cmd.PressureLimit = &pl
		ti := float64(uint16(rest[1])<<8|uint16(rest[2])) / 10
		cmd.InspiratoryTime = &ti
	}
	return cmd, true
}

func modeFromCode(b byte) (ventframe.Mode, bool) {
	switch b {
	case 0x01:
		return ventframe.ModeVCV, true
	case 0x02:
		return ventframe.ModePCV, true
	case 0x03:
		return ventframe.ModeSIMV, true
	case 0x04:
		return ventframe.ModePSV, true
	default:
		return "", false
	}
}
