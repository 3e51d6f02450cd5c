package framecodec

import "testing"

// FuzzDecodeNeverPanics ensures the decoder rejects garbage without panicking,
// mirroring the teacher's cannelloni fuzz coverage for its own frame decoder.
func FuzzDecodeNeverPanics(f *testing.F) {
	f.Add(frameWithPayload(TypePressure, []byte{0x00, 0xC8}))
	f.Add([]byte{0xFF, 0xA4, 0x02, 0x09, 0x09, 0x00})
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = Decode(data)
	})
}

// FuzzCommandRoundTrip ensures any safety-range-respecting command survives
// encode/decode.
func FuzzCommandRoundTrip(f *testing.F) {
	f.Add(500, 12, 5, 0.40, 30, 1.0)
	f.Fuzz(func(t *testing.T, tv, rr, peep int, fio2 float64, pressureLimit int, ti float64) {
		cmd := sampleCommand()
		cmd.TidalVolume, cmd.RespiratoryRate, cmd.PEEP, cmd.FiO2 = tv, rr, peep, fio2
		cmd.PressureLimit = &pressureLimit
		cmd.InspiratoryTime = &ti
		buf, errs := EncodeCommand(cmd)
		if len(errs) > 0 {
			return
		}
		out, ok := DecodeCommand(buf)
		if !ok {
			t.Fatalf("valid command failed to decode: %+v", cmd)
		}
		if out.TidalVolume != cmd.TidalVolume || out.RespiratoryRate != cmd.RespiratoryRate || out.PEEP != cmd.PEEP {
			t.Fatalf("round trip mismatch: %+v vs %+v", out, cmd)
		}
	})
}
