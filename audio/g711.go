// Package audio converts between the G.711 mu-law telephony format and the
// linear PCM the live model consumes and produces. The codec follows the Sun
// Microsystems G.711 reference implementation.
package audio

import "encoding/binary"

var muLawToPCMTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawToPCMTable[i] = decodeMuLawSample(byte(i))
	}
}

func decodeMuLawSample(uVal byte) int16 {
	// Mu-law stores the byte with all bits inverted.
	uVal = ^uVal

	sign := uVal & 0x80
	exponent := (uVal >> 4) & 0x07
	mantissa := uVal & 0x0F

	// Align the mantissa, add the geometric bias (0x84 after alignment),
	// shift by the exponent, then take the bias back out.
	sample := int16((int32(mantissa)<<3 + 0x84) << exponent)
	sample -= 0x84

	if sign != 0 {
		return -sample
	}
	return sample
}

// DecodeSample converts one mu-law byte to a 16-bit PCM sample.
func DecodeSample(b byte) int16 {
	return muLawToPCMTable[b]
}

// EncodeSample converts one 16-bit PCM sample to a mu-law byte.
func EncodeSample(pcm int16) byte {
	const (
		bias = 0x84 // 132
		clip = 32635
	)

	sign := (pcm >> 8) & 0x80
	if pcm < 0 {
		pcm = -pcm
	}
	if pcm > clip {
		pcm = clip
	}
	pcm += bias

	// Locate the highest set bit to derive the exponent.
	exponent := 7
	for mask := 0x4000; (pcm&int16(mask)) == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (pcm >> (exponent + 3)) & 0x0F

	ulawByte := byte(sign | (int16(exponent) << 4) | mantissa)

	// Compressed format stores the byte inverted.
	return ^ulawByte
}

// MuLawToPCM16k converts mu-law 8kHz audio to 16-bit little-endian PCM at
// 16kHz by duplicating each decoded sample. This is the input format the
// live model expects.
func MuLawToPCM16k(muLaw []byte) []byte {
	// 1 mu-law byte -> 2 PCM samples -> 4 output bytes.
	pcm := make([]byte, len(muLaw)*4)
	for i, b := range muLaw {
		sample := uint16(muLawToPCMTable[b])
		binary.LittleEndian.PutUint16(pcm[i*4:i*4+2], sample)
		binary.LittleEndian.PutUint16(pcm[i*4+2:i*4+4], sample)
	}
	return pcm
}

// PCM24kToMuLaw8k converts 16-bit little-endian PCM at 24kHz (the model's
// output format) to mu-law at 8kHz by keeping every third sample.
func PCM24kToMuLaw8k(pcm []byte) []byte {
	sampleCount := len(pcm) / 2
	muLaw := make([]byte, 0, sampleCount/3+1)
	for i := 0; i < sampleCount; i += 3 {
		offset := i * 2
		if offset+1 >= len(pcm) {
			break
		}
		sample := int16(binary.LittleEndian.Uint16(pcm[offset : offset+2]))
		muLaw = append(muLaw, EncodeSample(sample))
	}
	return muLaw
}
