package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MIMETypePCM is the mime tag attached to every outgoing transport frame.
const MIMETypePCM = "audio/pcm"

// ErrOddLength is returned by [DecodePCM16] when the buffer does not hold a
// whole number of 16-bit samples.
var ErrOddLength = errors.New("audio: PCM16 buffer has odd byte length")

// EncodePCM16 converts float samples to 16-bit signed little-endian PCM.
//
// Each sample is clamped to [-1, 1]; negative values are scaled by 32768 and
// non-negative values by 32767, then rounded to the nearest integer. NaN is
// treated as silence. The result is exactly 2 × len(samples) bytes long.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian PCM back to float samples,
// dividing negative values by 32768 and non-negative values by 32767.
//
// Re-encoding the result with [EncodePCM16] reproduces b byte for byte.
func DecodePCM16(b []byte) ([]float32, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(b))
	}
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = int16ToFloat(int16(binary.LittleEndian.Uint16(b[i*2:])))
	}
	return out, nil
}

// ToTransport encodes a binary buffer into the text-safe form embedded in
// protocol messages (standard base64 with padding).
func ToTransport(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// FromTransport reverses [ToTransport]. An empty string yields an empty buffer.
func FromTransport(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: decode transport frame: %w", err)
	}
	return b, nil
}

func floatToInt16(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

func int16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}
