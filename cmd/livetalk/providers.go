package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/livetalk/internal/config"
	"github.com/MrWong99/livetalk/internal/gate"
	"github.com/MrWong99/livetalk/internal/live"
	"github.com/MrWong99/livetalk/internal/resilience"
	"github.com/MrWong99/livetalk/pkg/audio"
	"github.com/MrWong99/livetalk/pkg/audio/pipe"
	"github.com/MrWong99/livetalk/pkg/provider/s2s"
	geminilive "github.com/MrWong99/livetalk/pkg/provider/s2s/gemini"
	"github.com/MrWong99/livetalk/pkg/provider/stt"
	"github.com/MrWong99/livetalk/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/livetalk/pkg/provider/stt/openai"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		if d, err := optDuration(entry.Options, "setup_timeout"); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, geminilive.WithSetupTimeout(d))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	for _, kind := range []string{"s2s", "stt"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// sessionParts are the collaborators built from a configuration.
type sessionParts struct {
	cfg     live.Config
	opts    []live.Option
	summary []summaryRow
}

// summaryRow is one line of the startup summary.
type summaryRow struct{ label, value string }

// buildSession instantiates the providers named in cfg and assembles the
// session configuration. The capture source is opened per Start. Sink is left
// for the caller so that validate never launches a player.
func buildSession(cfg *config.Config, reg *config.Registry) (*sessionParts, error) {
	s2sEntry := cfg.Providers.S2S
	prov, err := reg.CreateS2S(s2sEntry)
	if err != nil {
		return nil, fmt.Errorf("create s2s provider %q: %w", s2sEntry.Name, err)
	}

	caps := prov.Capabilities()
	model := s2sEntry.Model
	if model == "" {
		model = caps.DefaultModel
	}

	captureRate := cfg.Audio.Capture.SampleRate
	var captureOpts []pipe.Option
	if c := cfg.Audio.Capture; c.Command != "" {
		captureOpts = append(captureOpts, pipe.WithCommand(c.Command, c.Args...))
	}
	captureOpts = append(captureOpts, pipe.WithFrameDuration(time.Duration(cfg.Audio.Capture.FrameMs)*time.Millisecond))

	p := &sessionParts{
		cfg: live.Config{
			Provider: prov,
			Session: s2s.SessionConfig{
				Model:        model,
				Voice:        config.OptString(s2sEntry.Options, "voice"),
				Instructions: config.OptString(s2sEntry.Options, "instructions"),
				Transcribe:   true,
			},
			Capture: func() (audio.Source, error) {
				return pipe.NewSource(captureRate, captureOpts...)
			},
			Gate: gate.Config{
				Mode:         cfg.Gate.Mode,
				Threshold:    cfg.Gate.Threshold,
				Silence:      cfg.Gate.Silence(),
				MaxUtterance: cfg.Gate.MaxUtterance(),
			},
			InputRate:  cfg.Audio.InputSampleRate,
			OutputRate: outputRate(cfg, prov),
		},
		summary: []summaryRow{
			{"Speech model", s2sEntry.Name + " / " + model},
			{"Gate", string(cfg.Gate.Mode)},
			{"Input rate", fmt.Sprintf("%d Hz (capture %d Hz)", cfg.Audio.InputSampleRate, captureRate)},
			{"Output rate", fmt.Sprintf("%d Hz", outputRate(cfg, prov))},
		},
	}

	if sttEntry := cfg.Providers.STT; sttEntry.Name != "" {
		tr, err := reg.CreateSTT(sttEntry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", sttEntry.Name, err)
		}
		chain := resilience.NewFailover(resilience.BreakerConfig{}, sttEntry.Name, tr)
		for _, fb := range cfg.Providers.STTFallbacks {
			ftr, err := reg.CreateSTT(fb)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
			}
			chain.Add(fb.Name, ftr)
		}
		p.opts = append(p.opts, live.WithTranscriber(chain, stt.StreamConfig{
			Language: config.OptString(sttEntry.Options, "language"),
		}))
		p.summary = append(p.summary, summaryRow{"Transcriber", chain.String()})
	} else {
		p.summary = append(p.summary, summaryRow{"Transcriber", "(service transcripts)"})
	}

	if err := prov.Validate(); err != nil {
		slog.Warn("speech provider is not usable; starting a session will fail", "provider", s2sEntry.Name,
			"err", err, "env", config.CredentialEnv[s2sEntry.Name])
	}
	return p, nil
}

// outputRate is the configured reply rate, falling back to the provider's.
func outputRate(cfg *config.Config, prov s2s.Provider) int {
	if cfg.Audio.OutputSampleRate > 0 {
		return cfg.Audio.OutputSampleRate
	}
	if r := prov.Capabilities().OutputSampleRate; r > 0 {
		return r
	}
	return live.DefaultOutputRate
}

// playbackOptions returns the pipe options for the configured player.
func playbackOptions(cfg *config.Config) []pipe.Option {
	if c := cfg.Audio.Playback; c.Command != "" {
		return []pipe.Option{pipe.WithCommand(c.Command, c.Args...)}
	}
	return nil
}

// optDuration parses a duration string such as "20s" from a provider Options
// map. A missing key yields zero.
func optDuration(opts map[string]any, key string) (time.Duration, error) {
	s := config.OptString(opts, key)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", key, err)
	}
	return d, nil
}
