package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/livetalk/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestEncodePCM16_KnownValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"half positive", 0.5, 16384},
		{"half negative", -0.5, -16384},
		{"clamp high", 1.7, 32767},
		{"clamp low", -3, -32768},
		{"nan", float32(math.NaN()), 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.EncodePCM16([]float32{tc.in}))
			if len(got) != 1 {
				t.Fatalf("got %d samples, want 1", len(got))
			}
			if got[0] != tc.want {
				t.Errorf("EncodePCM16(%v) = %d, want %d", tc.in, got[0], tc.want)
			}
		})
	}
}

func TestEncodePCM16_Length(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 7, 320} {
		if got := len(audio.EncodePCM16(make([]float32, n))); got != 2*n {
			t.Errorf("len(EncodePCM16(%d samples)) = %d, want %d", n, got, 2*n)
		}
	}
}

func TestCodec_QuantizationBound(t *testing.T) {
	t.Parallel()

	// One step at full scale is 1/32768; rounding keeps error within half a step.
	const bound = 1.0 / 32768
	for i := -1000; i <= 1000; i++ {
		x := float32(i) / 1000
		out, err := audio.DecodePCM16(audio.EncodePCM16([]float32{x}))
		if err != nil {
			t.Fatalf("DecodePCM16: %v", err)
		}
		if d := math.Abs(float64(out[0] - x)); d > bound {
			t.Fatalf("round trip of %v = %v, error %v exceeds %v", x, out[0], d, bound)
		}
	}
}

func TestCodec_ReencodeIsIdentical(t *testing.T) {
	t.Parallel()

	// Every possible 16-bit value survives decode followed by encode.
	b := make([]byte, 65536*2)
	for i := range 65536 {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(i))
	}
	samples, err := audio.DecodePCM16(b)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if got := audio.EncodePCM16(samples); !bytes.Equal(got, b) {
		t.Error("re-encoded PCM differs from input")
	}
}

func TestDecodePCM16_OddLength(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodePCM16([]byte{1, 2, 3})
	if !errors.Is(err, audio.ErrOddLength) {
		t.Errorf("err = %v, want ErrOddLength", err)
	}
}

func TestTransport_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", []byte{}},
		{"single byte", []byte{0xff}},
		{"odd length", []byte{1, 2, 3, 4, 5}},
		{"pcm", audio.EncodePCM16([]float32{0.25, -0.25, 1, -1})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := audio.FromTransport(audio.ToTransport(tc.in))
			if err != nil {
				t.Fatalf("FromTransport: %v", err)
			}
			if !bytes.Equal(got, tc.in) {
				t.Errorf("round trip = %v, want %v", got, tc.in)
			}
		})
	}
}

func TestFromTransport_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := audio.FromTransport("not base64!"); err == nil {
		t.Error("expected error for invalid transport frame")
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
}

func TestConcat(t *testing.T) {
	t.Parallel()

	got := audio.Concat([][]float32{{1, 2}, {}, {3}})
	want := []float32{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSamplesDuration(t *testing.T) {
	t.Parallel()

	if got := audio.SamplesDuration(24000, 24000); got != time.Second {
		t.Errorf("SamplesDuration = %v, want 1s", got)
	}
	if got := audio.SamplesDuration(160, 16000); got != 10*time.Millisecond {
		t.Errorf("SamplesDuration = %v, want 10ms", got)
	}
	if got := audio.SamplesDuration(100, 0); got != 0 {
		t.Errorf("SamplesDuration with zero rate = %v, want 0", got)
	}
	if got := audio.SamplesFor(20*time.Millisecond, 16000); got != 320 {
		t.Errorf("SamplesFor = %d, want 320", got)
	}
}

func TestResampler_SameRatePassThrough(t *testing.T) {
	t.Parallel()

	r, err := audio.NewResampler(16000, 16000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	in := audio.Frame{Samples: []float32{0.1, 0.2, 0.3}, SampleRate: 16000}
	out, err := r.Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.Samples) != 3 || out.SampleRate != 16000 {
		t.Errorf("Process = %+v, want unchanged frame", out)
	}
}

func TestResampler_InvalidRates(t *testing.T) {
	t.Parallel()

	if _, err := audio.NewResampler(0, 16000); err == nil {
		t.Error("expected error for zero source rate")
	}
}
