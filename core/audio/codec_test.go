package audio

import (
	"bytes"
	"testing"
)

func TestMulawSilenceByteEncodesZero(t *testing.T) {
	if got := MulawEncodeSample(0); got != 0xFF {
		t.Fatalf("expected zero sample to encode as 0xFF, got 0x%02X", got)
	}
	if got := MulawDecodeSample(0xFF); got != 0 {
		t.Fatalf("expected 0xFF to decode to silence, got %d", got)
	}
}

func TestMulawRoundTripPreservesCodes(t *testing.T) {
	for code := range 256 {
		u := byte(code)
		if u == 0x7F {
			// Negative zero; canonicalised to 0xFF on re-encode.
			continue
		}
		if got := MulawEncodeSample(MulawDecodeSample(u)); got != u {
			t.Fatalf("code 0x%02X round-tripped to 0x%02X", u, got)
		}
	}
}

func TestMulawDecodeSignSymmetry(t *testing.T) {
	for code := range 256 {
		u := byte(code)
		if MulawDecodeSample(u) != -MulawDecodeSample(u^0x80) {
			t.Fatalf("code 0x%02X: expected flipping the sign bit to negate the sample", u)
		}
	}
}

func TestLinear16ConversionRoundTrip(t *testing.T) {
	mulaw := []byte{0xFF, 0x7F, 0x00, 0x80, 0xA3, 0x5C}
	if got := Linear16ToMulaw(MulawToLinear16(mulaw)); !bytes.Equal(got, mulaw) {
		t.Fatalf("expected round trip to preserve %v, got %v", mulaw, got)
	}
}

func TestMixMulawIsCommutative(t *testing.T) {
	a := []byte{0xFF, 0x12, 0x9C, 0x40}
	b := []byte{0x3B, 0xFF, 0x81, 0xC7}

	ab := MixMulaw(a, b)
	ba := MixMulaw(b, a)
	if !bytes.Equal(ab, ba) {
		t.Fatalf("expected commutative mix, got %v and %v", ab, ba)
	}
}

func TestMixMulawWithSilenceIsIdentity(t *testing.T) {
	a := []byte{0x12, 0x9C, 0x40, 0xE5}
	silence := []byte{0xFF, 0xFF, 0xFF, 0xFF}

	if got := MixMulaw(a, silence); !bytes.Equal(got, a) {
		t.Fatalf("expected mixing with silence to preserve %v, got %v", a, got)
	}
}

func TestMixMulawSaturates(t *testing.T) {
	loud := []byte{MulawEncodeSample(32000)}

	mixed := MixMulaw(loud, loud)
	if got := MulawDecodeSample(mixed[0]); got < 30000 {
		t.Fatalf("expected saturated mix to stay loud, got %d", got)
	}
}
