package energy_test

import (
	"testing"

	"github.com/MrWong99/livetalk/pkg/provider/vad"
	"github.com/MrWong99/livetalk/pkg/provider/vad/energy"
)

func frame(level float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = level
	}
	return out
}

func TestSession_Transitions(t *testing.T) {
	t.Parallel()

	sess, err := energy.New().NewSession(vad.Config{SampleRate: 16000, SpeechThreshold: 0.01})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	steps := []struct {
		level float32
		want  vad.VADEventType
	}{
		{0.001, vad.VADSilence},
		{0.2, vad.VADSpeechStart},
		{0.2, vad.VADSpeechContinue},
		{0.01, vad.VADSpeechEnd}, // equal to threshold is not speech
		{0, vad.VADSilence},
		{0.05, vad.VADSpeechStart},
	}
	for i, step := range steps {
		ev, err := sess.ProcessFrame(frame(step.level, 160))
		if err != nil {
			t.Fatalf("step %d: ProcessFrame: %v", i, err)
		}
		if ev.Type != step.want {
			t.Errorf("step %d: level %v got %v, want %v", i, step.level, ev.Type, step.want)
		}
	}
}

func TestSession_ReportsRMS(t *testing.T) {
	t.Parallel()

	sess, _ := energy.New().NewSession(vad.Config{})
	ev, err := sess.ProcessFrame(frame(0.25, 10))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Probability < 0.2499 || ev.Probability > 0.2501 {
		t.Errorf("Probability = %v, want 0.25", ev.Probability)
	}
	if !ev.Active() {
		t.Error("0.25 RMS should be active at the default threshold")
	}
}

func TestSession_FrameSize(t *testing.T) {
	t.Parallel()

	sess, err := energy.New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 20})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := sess.ProcessFrame(frame(0, 100)); err == nil {
		t.Error("expected error for wrong frame size")
	}
	if _, err := sess.ProcessFrame(frame(0, 320)); err != nil {
		t.Errorf("ProcessFrame with 320 samples: %v", err)
	}
}

func TestSession_ResetAndClose(t *testing.T) {
	t.Parallel()

	sess, _ := energy.New().NewSession(vad.Config{})
	_, _ = sess.ProcessFrame(frame(0.5, 10))
	sess.Reset()
	ev, _ := sess.ProcessFrame(frame(0.5, 10))
	if ev.Type != vad.VADSpeechStart {
		t.Errorf("after Reset got %v, want speech_start", ev.Type)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := sess.ProcessFrame(frame(0.5, 10)); err == nil {
		t.Error("expected error after Close")
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"threshold above one", vad.Config{SpeechThreshold: 1.5}},
		{"silence above speech", vad.Config{SpeechThreshold: 0.1, SilenceThreshold: 0.2}},
		{"negative frame size", vad.Config{FrameSizeMs: -1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := energy.New().NewSession(tc.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
