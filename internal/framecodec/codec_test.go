package framecodec

import (
	"testing"

	"github.com/ventylab/mediation-core/internal/ventframe"
)

func ti(v float64) *float64 { return &v }
func pl(v int) *int         { return &v }

func sampleCommand() ventframe.VentilatorCommand {
	return ventframe.VentilatorCommand{
		Mode:            ventframe.ModeVCV,
		TidalVolume:     500,
		RespiratoryRate: 12,
		PEEP:            5,
		FiO2:            0.40,
		PressureLimit:   pl(30),
		InspiratoryTime: ti(1.0),
	}
}

func TestEncodeCommand_LiteralScenario(t *testing.T) {
	buf, errs := EncodeCommand(sampleCommand())
	if len(errs) != 0 {
		t.Fatalf("unexpected validation errors: %v", errs)
	}
	want := []byte{0xFF, 0xB1, 0x09, 0x01, 0x01, 0xF4, 0x0C, 0x05, 0x28, 0x1E, 0x00, 0x0A}
	if len(buf) != len(want)+1 {
		t.Fatalf("length = %d, want %d", len(buf), len(want)+1)
	}
	for i, b := range want {
		if buf[i] != b {
			t.Fatalf("byte %d = %#x, want %#x", i, buf[i], b)
		}
	}
	xor := byte(0)
	for _, b := range buf[:len(buf)-1] {
		xor ^= b
	}
	if buf[len(buf)-1] != xor {
		t.Fatalf("checksum %#x does not verify against frame", buf[len(buf)-1])
	}
}

func TestCommandRoundTrip(t *testing.T) {
	in := sampleCommand()
	buf, errs := EncodeCommand(in)
	if len(errs) != 0 {
		t.Fatalf("encode errors: %v", errs)
	}
	out, ok := DecodeCommand(buf)
	if !ok {
		t.Fatalf("decode failed")
	}
	if out.Mode != in.Mode || out.TidalVolume != in.TidalVolume || out.RespiratoryRate != in.RespiratoryRate ||
		out.PEEP != in.PEEP || out.FiO2 != in.FiO2 {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
	if out.PressureLimit == nil || *out.PressureLimit != *in.PressureLimit {
		t.Fatalf("pressureLimit mismatch: %+v", out.PressureLimit)
	}
	if out.InspiratoryTime == nil || *out.InspiratoryTime != *in.InspiratoryTime {
		t.Fatalf("inspiratoryTime mismatch: %+v", out.InspiratoryTime)
	}
}

func TestEncodeCommand_BoundaryAccepted(t *testing.T) {
	for _, tv := range []int{200, 800} {
		c := sampleCommand()
		c.TidalVolume = tv
		if _, errs := EncodeCommand(c); len(errs) != 0 {
			t.Fatalf("TV=%d should be accepted, got %v", tv, errs)
		}
	}
}

func TestEncodeCommand_BoundaryRejected(t *testing.T) {
	for _, tv := range []int{199, 801} {
		c := sampleCommand()
		c.TidalVolume = tv
		_, errs := EncodeCommand(c)
		if len(errs) != 1 {
			t.Fatalf("TV=%d expected single-entry error list, got %v", tv, errs)
		}
	}
}

func TestEncodeCommand_FiO2Boundary(t *testing.T) {
	for _, f := range []float64{0.21, 1.0} {
		c := sampleCommand()
		c.FiO2 = f
		if _, errs := EncodeCommand(c); len(errs) != 0 {
			t.Fatalf("FiO2=%v should be accepted, got %v", f, errs)
		}
	}
}

func TestEncodeCommand_RRBoundary(t *testing.T) {
	for _, rr := range []int{5, 40} {
		c := sampleCommand()
		c.RespiratoryRate = rr
		if _, errs := EncodeCommand(c); len(errs) != 0 {
			t.Fatalf("RR=%d should be accepted, got %v", rr, errs)
		}
	}
}

func TestDecode_ParseDispatch(t *testing.T) {
	cases := []struct {
		name string
		buf  func() []byte
		want func(Frame) bool
	}{
		{
			name: "pressure",
			buf:  func() []byte { return frameWithPayload(TypePressure, []byte{0x00, 0xC8}) },
			want: func(f Frame) bool { return f.Kind == KindPressure && f.Pressure == 20.0 },
		},
		{
			name: "flow_negative",
			buf:  func() []byte { return frameWithPayload(TypeFlow, []byte{0xFF, 0x38}) },
			want: func(f Frame) bool { return f.Kind == KindFlow && f.Flow == -20.0 },
		},
		{
			name: "volume",
			buf:  func() []byte { return frameWithPayload(TypeVolume, []byte{0x01, 0xF4}) },
			want: func(f Frame) bool { return f.Kind == KindVolume && f.Volume == 500 },
		},
		{
			name: "alarm",
			buf:  func() []byte { return frameWithPayload(TypeAlarm, []byte{0x01, 0x03}) },
			want: func(f Frame) bool {
				return f.Kind == KindAlarm && f.Alarm.Type == ventframe.AlarmHighPressure && f.Alarm.Severity == ventframe.SeverityHigh
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fr, ok := Decode(c.buf())
			if !ok {
				t.Fatalf("decode failed")
			}
			if !c.want(fr) {
				t.Fatalf("unexpected frame: %+v", fr)
			}
		})
	}
}

func TestDecode_UnknownAlarmCodeFallsBackToTechFault(t *testing.T) {
	fr, ok := Decode(frameWithPayload(TypeAlarm, []byte{0x09, 0x01}))
	if !ok {
		t.Fatalf("decode failed")
	}
	if fr.Alarm.Type != ventframe.AlarmTechFault {
		t.Fatalf("got %v, want TECHNICAL_FAULT", fr.Alarm.Type)
	}
	if fr.Alarm.Severity != ventframe.SeverityLow {
		t.Fatalf("severity mismatch for known severity code 1: %v", fr.Alarm.Severity)
	}
}

func TestDecode_RejectsBadLength(t *testing.T) {
	if _, ok := Decode([]byte{0xFF, 0xA1, 0x02, 0x00}); ok {
		t.Fatalf("expected rejection for truncated frame (length 4)")
	}
	big := make([]byte, 257)
	big[0] = 0xFF
	if _, ok := Decode(big); ok {
		t.Fatalf("expected rejection for length 257")
	}
}

func TestDecode_RejectsBadStartByte(t *testing.T) {
	buf := frameWithPayload(TypePressure, []byte{0x00, 0xC8})
	buf[0] = 0xEE
	if _, ok := Decode(buf); ok {
		t.Fatalf("expected rejection for bad start byte")
	}
}

func TestDecode_RejectsCorruptedChecksum(t *testing.T) {
	buf := frameWithPayload(TypePressure, []byte{0x00, 0xC8})
	buf[len(buf)-1] ^= 0xFF
	if _, ok := Decode(buf); ok {
		t.Fatalf("expected rejection for corrupted checksum")
	}
}

func TestDecode_RejectsUnknownType(t *testing.T) {
	buf := frameWithPayload(TypePressure, []byte{0x00, 0xC8})
	buf[1] = 0xB1 // command type, not telemetry
	buf[len(buf)-1] = checksum(buf[:len(buf)-1])
	if _, ok := Decode(buf); ok {
		t.Fatalf("expected rejection for non-telemetry type on Decode")
	}
}

// frameWithPayload builds a well-formed frame for the given type/payload,
// computing the checksum automatically — shared test helper.
func frameWithPayload(typ byte, payload []byte) []byte {
	buf := []byte{startByte, typ, byte(len(payload))}
	buf = append(buf, payload...)
	buf = append(buf, checksum(buf))
	return buf
}
