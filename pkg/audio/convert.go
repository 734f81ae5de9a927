package audio

import (
	"fmt"
	"log/slog"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// RMS returns the root-mean-square energy of samples. An empty slice has zero
// energy.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Concat joins frames into one contiguous sample buffer, preserving order.
func Concat(frames [][]float32) []float32 {
	n := 0
	for _, f := range frames {
		n += len(f)
	}
	out := make([]float32, 0, n)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// Resampler converts mono frames from one sample rate to another. When both
// rates match it is a zero-cost pass-through.
//
// A Resampler keeps filter state between calls; create one per capture stream.
// Not safe for concurrent use.
type Resampler struct {
	srcRate int
	dstRate int
	rs      resampling.Resampler
}

// NewResampler creates a [Resampler] from srcRate to dstRate Hz.
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", srcRate, dstRate)
	}
	r := &Resampler{srcRate: srcRate, dstRate: dstRate}
	if srcRate == dstRate {
		return r, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler %d -> %d: %w", srcRate, dstRate, err)
	}
	r.rs = rs

	slog.Warn("audio format mismatch: resampling capture",
		"from", formatString(srcRate),
		"to", formatString(dstRate),
	)
	return r, nil
}

// Process converts f to the destination rate. Frames whose rate differs from
// the configured source rate are returned unchanged with a warning, since
// mixing rates inside one filter would corrupt its state.
func (r *Resampler) Process(f Frame) (Frame, error) {
	if r.rs == nil || len(f.Samples) == 0 {
		if r.rs != nil {
			f.SampleRate = r.dstRate
		}
		return f, nil
	}
	if f.SampleRate != r.srcRate {
		slog.Warn("audio resampler: unexpected frame rate, passing through",
			"frame_rate", f.SampleRate,
			"expected", r.srcRate,
		)
		return f, nil
	}

	in := make([]float64, len(f.Samples))
	for i, s := range f.Samples {
		in[i] = float64(s)
	}
	out, err := r.rs.Process(in)
	if err != nil {
		return Frame{}, fmt.Errorf("audio: resample: %w", err)
	}

	samples := make([]float32, len(out))
	for i, v := range out {
		samples[i] = float32(v)
	}
	return Frame{
		Samples:    samples,
		SampleRate: r.dstRate,
		Timestamp:  f.Timestamp,
	}, nil
}

// formatString returns a human-readable string for a mono sample rate,
// e.g. "48000Hz mono".
func formatString(rate int) string {
	return fmt.Sprintf("%dHz mono", rate)
}
