package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livetalk/internal/config"
	"github.com/MrWong99/livetalk/internal/gate"
	"github.com/MrWong99/livetalk/pkg/provider/s2s"
	s2smock "github.com/MrWong99/livetalk/pkg/provider/s2s/mock"
	"github.com/MrWong99/livetalk/pkg/provider/stt"
	sttmock "github.com/MrWong99/livetalk/pkg/provider/stt/mock"
)

func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterS2S("fake", func(config.ProviderEntry) (s2s.Provider, error) {
		return &s2smock.Provider{ProviderCapabilities: s2s.Capabilities{DefaultModel: "fake-1", OutputSampleRate: 22050}}, nil
	})
	reg.RegisterSTT("fake-stt", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})
	return reg
}

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestBuildSession(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, `
providers:
  s2s:
    name: fake
    options:
      voice: Kore
      instructions: Be brief.
  stt:
    name: fake-stt
    options:
      language: de
  stt_fallbacks:
    - name: fake-stt
      model: backup
audio:
  capture:
    sample_rate: 48000
gate:
  mode: manual
  max_utterance_ms: 15000
`)

	parts, err := buildSession(cfg, testRegistry())
	if err != nil {
		t.Fatalf("buildSession: %v", err)
	}

	lc := parts.cfg
	if lc.Session.Model != "fake-1" {
		t.Errorf("model: got %q, want provider default", lc.Session.Model)
	}
	if lc.Session.Voice != "Kore" || lc.Session.Instructions != "Be brief." {
		t.Errorf("session: got %+v", lc.Session)
	}
	if lc.OutputRate != 22050 {
		t.Errorf("output rate: got %d, want provider rate", lc.OutputRate)
	}
	if lc.InputRate != 16000 {
		t.Errorf("input rate: got %d", lc.InputRate)
	}
	if lc.Gate.Mode != gate.ModeManual || lc.Gate.MaxUtterance != 15*time.Second {
		t.Errorf("gate: got %+v", lc.Gate)
	}
	if lc.Capture == nil {
		t.Fatal("capture factory is nil")
	}
	if lc.Sink != nil {
		t.Error("sink must be left to the caller")
	}
	if len(parts.opts) != 1 {
		t.Errorf("options: got %d, want transcriber option", len(parts.opts))
	}

	var rows []string
	for _, r := range parts.summary {
		rows = append(rows, r.label+"="+r.value)
	}
	joined := strings.Join(rows, ";")
	for _, want := range []string{"Speech model=fake / fake-1", "Gate=manual", "capture 48000 Hz", "Transcriber=fake-stt → fake-stt"} {
		if !strings.Contains(joined, want) {
			t.Errorf("summary missing %q: %s", want, joined)
		}
	}
}

func TestBuildSession_ConfiguredOutputRateWins(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "providers:\n  s2s:\n    name: fake\naudio:\n  output_sample_rate: 24000\n")
	parts, err := buildSession(cfg, testRegistry())
	if err != nil {
		t.Fatalf("buildSession: %v", err)
	}
	if parts.cfg.OutputRate != 24000 {
		t.Errorf("output rate: got %d", parts.cfg.OutputRate)
	}
	if len(parts.opts) != 0 {
		t.Errorf("options: got %d, want none without stt", len(parts.opts))
	}
}

func TestBuildSession_UnknownFallback(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "providers:\n  s2s:\n    name: fake\n  stt:\n    name: fake-stt\n  stt_fallbacks:\n    - name: nope\n")
	_, err := buildSession(cfg, testRegistry())
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("got %v, want ErrProviderNotRegistered", err)
	}
}

func TestBuildSession_UnknownProvider(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "providers:\n  s2s:\n    name: nope\n")
	_, err := buildSession(cfg, testRegistry())
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("got %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if got := strings.Join(reg.Names("s2s"), ","); got != "gemini-live" {
		t.Errorf("s2s: got %s", got)
	}
	if got := strings.Join(reg.Names("stt"), ","); got != "deepgram,openai" {
		t.Errorf("stt: got %s", got)
	}

	p, err := reg.CreateS2S(config.ProviderEntry{Name: "gemini-live", Options: map[string]any{"setup_timeout": "3s"}})
	if err != nil {
		t.Fatalf("CreateS2S: %v", err)
	}
	if p.Capabilities().OutputSampleRate != 24000 {
		t.Errorf("gemini output rate: got %d", p.Capabilities().OutputSampleRate)
	}
	if _, err := reg.CreateS2S(config.ProviderEntry{Name: "gemini-live", Options: map[string]any{"setup_timeout": "soon"}}); err == nil {
		t.Error("expected error for invalid setup_timeout")
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram"}); err == nil {
		t.Error("expected error for deepgram without api key")
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "openai", APIKey: "sk-test"}); err != nil {
		t.Errorf("CreateSTT(openai): %v", err)
	}
}

func TestLoadConfig_DefaultPathMissing(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("GEMINI_API_KEY", "env-key")

	cmd := newRootCmd()
	g := &globalFlags{configPath: defaultConfigPath}
	cfg, err := loadConfig(cmd, g)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Providers.S2S.Name != config.DefaultS2SProvider {
		t.Errorf("s2s name: got %q", cfg.Providers.S2S.Name)
	}
	if cfg.Providers.S2S.APIKey != "env-key" {
		t.Errorf("api key: got %q", cfg.Providers.S2S.APIKey)
	}
}

func TestLoadConfig_ExplicitPathMissing(t *testing.T) {
	cmd := newRootCmd()
	path := filepath.Join(t.TempDir(), "missing.yaml")
	if err := cmd.PersistentFlags().Set("config", path); err != nil {
		t.Fatal(err)
	}
	g := &globalFlags{configPath: path}
	if _, err := loadConfig(cmd, g); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v, want os.ErrNotExist", err)
	}
}

func TestOptDuration(t *testing.T) {
	t.Parallel()
	if d, err := optDuration(map[string]any{"t": "250ms"}, "t"); err != nil || d != 250*time.Millisecond {
		t.Errorf("got %v, %v", d, err)
	}
	if d, err := optDuration(nil, "t"); err != nil || d != 0 {
		t.Errorf("missing key: got %v, %v", d, err)
	}
	if _, err := optDuration(map[string]any{"t": "later"}, "t"); err == nil {
		t.Error("expected parse error")
	}
}
