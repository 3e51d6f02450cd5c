// Package framecodec implements the binary wire schema shared with the
// physical ventilator: a length-prefixed, XOR-checksummed frame carrying
// pressure/flow/volume/alarm telemetry or an encoded command.
//
//	+------+------+--------+---------+----------+
//	| 0xFF | TYPE | LENGTH | PAYLOAD | CHECKSUM |
//	+------+------+--------+---------+----------+
//	   1B    1B     1B      LENGTH B     1B
//
// The shape mirrors the teacher's cannelloni-over-serial framing
// (preamble + length byte + payload + trailing checksum, resync-on-garbage),
// generalized from a CAN-UART bridge to the ventilator's own wire format.
package framecodec

import (
	"time"

	"github.com/ventylab/mediation-core/internal/ventframe"
)

const (
	startByte = 0xFF

	minTotalLen = 6
	maxTotalLen = 256
)

// Frame type codes.
const (
	TypePressure byte = 0xA1
	TypeFlow     byte = 0xA2
	TypeVolume   byte = 0xA3
	TypeAlarm    byte = 0xA4
	TypeCommand  byte = 0xB1
	TypeAck      byte = 0xB2
)

var telemetryTypes = map[byte]bool{
	TypePressure: true,
	TypeFlow:     true,
	TypeVolume:   true,
	TypeAlarm:    true,
}

// Kind discriminates a decoded Frame's payload.
type Kind int

const (
	KindPressure Kind = iota
	KindFlow
	KindVolume
	KindAlarm
)

// Frame is a decoded telemetry frame, server-timestamped on success.
type Frame struct {
	Kind        Kind
	Pressure    float64 // cmH2O, KindPressure
	Flow        float64 // L/min, KindFlow
	Volume      float64 // ml, KindVolume
	Alarm       ventframe.VentilatorAlarm // KindAlarm
	TimestampMs int64
}

// nowFunc is overridable in tests.
var nowFunc = func() int64 { return time.Now().UnixMilli() }

func checksum(buf []byte) byte {
	var c byte
	for _, b := range buf {
		c ^= b
	}
	return c
}

// Decode parses and validates a telemetry frame. It returns ok=false for any
// malformed, truncated, mistyped or checksum-failed buffer — inbound frame
// errors never panic and are always silently rejectable by the caller.
func Decode(buf []byte) (Frame, bool) {
	if len(buf) < minTotalLen || len(buf) > maxTotalLen {
		return Frame{}, false
	}
	if buf[0] != startByte {
		return Frame{}, false
	}
	length := int(buf[2])
	if len(buf) != 3+length+1 {
		return Frame{}, false
	}
	typ := buf[1]
	if !telemetryTypes[typ] {
		return Frame{}, false
	}
	want := checksum(buf[:len(buf)-1])
	if want != buf[len(buf)-1] {
		return Frame{}, false
	}
	payload := buf[3 : 3+length]
	ts := nowFunc()
	switch typ {
	case TypePressure:
		if len(payload) != 2 {
			return Frame{}, false
		}
		raw := uint16(payload[0])<<8 | uint16(payload[1])
		return Frame{Kind: KindPressure, Pressure: float64(raw) / 10, TimestampMs: ts}, true
	case TypeFlow:
		if len(payload) != 2 {
			return Frame{}, false
		}
		raw := int16(uint16(payload[0])<<8 | uint16(payload[1]))
		return Frame{Kind: KindFlow, Flow: float64(raw) / 10, TimestampMs: ts}, true
	case TypeVolume:
		if len(payload) != 2 {
			return Frame{}, false
		}
		raw := uint16(payload[0])<<8 | uint16(payload[1])
		return Frame{Kind: KindVolume, Volume: float64(raw), TimestampMs: ts}, true
	case TypeAlarm:
		if len(payload) != 2 {
			return Frame{}, false
		}
		at := ventframe.AlarmTypeFromCode(payload[0])
		sev := ventframe.SeverityFromCode(payload[1])
		return Frame{
			Kind: KindAlarm,
			Alarm: ventframe.VentilatorAlarm{
				Type:        at,
				Severity:    sev,
				TimestampMs: ts,
				Active:      true,
			},
			TimestampMs: ts,
		}, true
	default:
		return Frame{}, false
	}
}

// EncodeCommand validates cmd and, on success, returns a ready-to-publish
// command frame: [0xFF, 0xB1, len, payload..., checksum].
func EncodeCommand(cmd ventframe.VentilatorCommand) ([]byte, []string) {
	if errs := ventframe.ValidationErrors(cmd); len(errs) > 0 {
		return nil, errs
	}
	payload := encodeCommandPayload(cmd)
	buf := make([]byte, 0, 3+len(payload)+1)
	buf = append(buf, startByte, TypeCommand, byte(len(payload)))
	buf = append(buf, payload...)
	buf = append(buf, checksum(buf))
	return buf, nil
}

func encodeCommandPayload(cmd ventframe.VentilatorCommand) []byte {
	payload := []byte{
		modeCode(cmd.Mode),
		byte(cmd.TidalVolume >> 8), byte(cmd.TidalVolume),
		byte(cmd.RespiratoryRate),
		byte(cmd.PEEP),
		byte(roundFio2(cmd.FiO2)),
	}
	if cmd.PressureLimit != nil {
		payload = append(payload, byte(*cmd.PressureLimit))
	}
	if cmd.InspiratoryTime != nil {
		ti := uint16(*cmd.InspiratoryTime * 10)
		payload = append(payload, byte(ti>>8), byte(ti))
	}
	return payload
}

func roundFio2(f float64) int {
	return int(f*100 + 0.5)
}

func modeCode(m ventframe.Mode) byte {
	switch m {
	case ventframe.ModeVCV:
		return 0x01
	case ventframe.ModePCV:
		return 0x02
	case ventframe.ModeSIMV:
		return 0x03
	case ventframe.ModePSV:
		return 0x04
	default:
		return 0x00
	}
}
