package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripIsClose(t *testing.T) {
	// Mu-law is lossy; a round trip should land within the quantization
	// step for the sample's magnitude (coarser at higher amplitudes).
	samples := []int16{0, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000}
	for _, s := range samples {
		decoded := DecodeSample(EncodeSample(s))
		diff := int32(decoded) - int32(s)
		if diff < 0 {
			diff = -diff
		}
		step := int32(s)
		if step < 0 {
			step = -step
		}
		step = step/16 + 16
		assert.LessOrEqual(t, diff, step, "sample %d decoded to %d", s, decoded)
	}
}

func TestDecodeSampleKnownValues(t *testing.T) {
	// 0xFF is the mu-law encoding of silence.
	assert.Equal(t, int16(0), DecodeSample(0xFF))
	// Sign bit flips the decoded sample.
	assert.Equal(t, -DecodeSample(0xFF^0x80), DecodeSample(0xFF))
}

func TestMuLawToPCM16kUpsamples(t *testing.T) {
	in := []byte{0xFF, 0x80, 0x00}
	out := MuLawToPCM16k(in)
	require.Len(t, out, len(in)*4)

	// Each input byte yields the same sample twice.
	for i, b := range in {
		want := uint16(DecodeSample(b))
		assert.Equal(t, want, binary.LittleEndian.Uint16(out[i*4:i*4+2]))
		assert.Equal(t, want, binary.LittleEndian.Uint16(out[i*4+2:i*4+4]))
	}
}

func TestPCM24kToMuLaw8kDownsamples(t *testing.T) {
	// Nine samples at 24kHz become three at 8kHz.
	pcm := make([]byte, 18)
	for i := 0; i < 9; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i*1000)))
	}
	out := PCM24kToMuLaw8k(pcm)
	require.Len(t, out, 3)
	assert.Equal(t, EncodeSample(0), out[0])
	assert.Equal(t, EncodeSample(3000), out[1])
	assert.Equal(t, EncodeSample(6000), out[2])
}

func TestPCM24kToMuLaw8kOddLength(t *testing.T) {
	// A trailing odd byte is ignored rather than read out of bounds.
	out := PCM24kToMuLaw8k([]byte{0x01})
	assert.Empty(t, out)
}
