package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/livetalk/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	new := mustLoad(t, sampleYAML)

	d := config.Diff(old, new)
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelOnly(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	new := mustLoad(t, sampleYAML)
	new.Server.LogLevel = config.LogWarn

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level: got changed=%v new=%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("restart required: got %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequiredSections(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	new := mustLoad(t, sampleYAML)
	new.Gate.MaxUtteranceMs = 10000
	new.Providers.S2S.Options = map[string]any{"voice": "Puck"}
	new.Server.ListenAddr = ":9001"

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "providers.s2s", "gate"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("restart required: got %v, want %v", d.RestartRequired, want)
	}
	if d.LogLevelChanged {
		t.Error("log level should be unchanged")
	}
}
