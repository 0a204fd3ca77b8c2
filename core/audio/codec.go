package audio

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// MulawDecodeSample expands one G.711 mu-law byte to a linear PCM sample.
func MulawDecodeSample(u byte) int16 {
	u = ^u
	t := (int(u&0x0F) << 3) + mulawBias
	t <<= (u >> 4) & 0x07
	if u&0x80 != 0 {
		return int16(mulawBias - t)
	}
	return int16(t - mulawBias)
}

// MulawEncodeSample compands one linear PCM sample to a G.711 mu-law byte.
func MulawEncodeSample(sample int16) byte {
	v := int(sample)
	var sign byte
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := 7
	for mask := 0x4000; v&mask == 0 && exponent > 0; exponent-- {
		mask >>= 1
	}
	mantissa := byte(v>>(exponent+3)) & 0x0F

	return ^(sign | byte(exponent)<<4 | mantissa)
}

// MulawToLinear16 expands mu-law audio into little-endian 16-bit linear PCM.
func MulawToLinear16(mulaw []byte) []byte {
	pcm := make([]byte, 2*len(mulaw))
	for i, u := range mulaw {
		s := MulawDecodeSample(u)
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(s >> 8)
	}
	return pcm
}

// Linear16ToMulaw compands little-endian 16-bit linear PCM into mu-law audio.
// A trailing odd byte is ignored.
func Linear16ToMulaw(pcm []byte) []byte {
	mulaw := make([]byte, len(pcm)/2)
	for i := range mulaw {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		mulaw[i] = MulawEncodeSample(s)
	}
	return mulaw
}

// MixMulaw combines two equal-length mu-law slices into one by saturating
// sample-wise addition in the linear domain. The operation is deterministic
// and commutative; saturation keeps overdriven sums from wrapping.
func MixMulaw(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	mixed := make([]byte, n)
	for i := range n {
		sum := int(MulawDecodeSample(a[i])) + int(MulawDecodeSample(b[i]))
		if sum > 32767 {
			sum = 32767
		} else if sum < -32768 {
			sum = -32768
		}
		mixed[i] = MulawEncodeSample(int16(sum))
	}
	return mixed
}
