// Package config provides the configuration schema, loader, and provider registry
// for livetalk.
package config

import (
	"time"

	"github.com/MrWong99/livetalk/internal/gate"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults filled in by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8089"
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
	DefaultFrameMs          = 20
	DefaultS2SProvider      = "gemini-live"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Gate      GateConfig      `yaml:"gate"`
}

// ServerConfig holds the HTTP control surface and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the status/control server (e.g., ":8089").
	// Set to "-" to disable the HTTP server.
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,max=256"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// ProvidersConfig declares which provider implementation to use for each
// remote service. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// S2S is the speech-to-speech service holding the conversation.
	S2S ProviderEntry `yaml:"s2s"`

	// STT optionally transcribes the user's utterances locally. Leave Name
	// empty to rely on the speech service's own transcriptions.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when STT fails to open a stream.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks" validate:"omitempty,dive"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini-live", "deepgram").
	Name string `yaml:"name" validate:"omitempty,max=64"`

	// APIKey is the authentication key for the provider's API. When empty, the
	// provider's environment variable is consulted by [ApplyEnv].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model" validate:"omitempty,max=128"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above (e.g., voice, instructions, language).
	Options map[string]any `yaml:"options"`
}

// AudioConfig holds the wire rates and the local capture/playback programs.
type AudioConfig struct {
	// InputSampleRate is the rate of audio sent to the speech service.
	InputSampleRate int `yaml:"input_sample_rate" validate:"omitempty,gte=8000,lte=48000"`

	// OutputSampleRate is the rate of reply audio. Zero uses the provider's
	// advertised rate.
	OutputSampleRate int `yaml:"output_sample_rate" validate:"omitempty,gte=8000,lte=48000"`

	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
}

// CaptureConfig selects the external recorder feeding the session.
type CaptureConfig struct {
	// Command is the recorder program. Empty selects the platform default.
	Command string `yaml:"command"`

	// Args are passed to Command verbatim.
	Args []string `yaml:"args"`

	// SampleRate is the rate Command produces. Zero uses the input rate;
	// anything else is resampled.
	SampleRate int `yaml:"sample_rate" validate:"omitempty,gte=8000,lte=96000"`

	// FrameMs is the length of a captured frame in milliseconds.
	FrameMs int `yaml:"frame_ms" validate:"omitempty,gte=5,lte=200"`
}

// PlaybackConfig selects the external player rendering reply audio.
type PlaybackConfig struct {
	// Command is the player program. Empty selects the platform default.
	Command string `yaml:"command"`

	// Args are passed to Command verbatim.
	Args []string `yaml:"args"`
}

// GateConfig configures the voice gate.
type GateConfig struct {
	// Mode is "auto" (silence detection) or "manual" (push-to-talk).
	Mode gate.Mode `yaml:"mode" validate:"omitempty,oneof=auto manual"`

	// Threshold is the RMS level above which a frame counts as speech.
	Threshold float64 `yaml:"threshold" validate:"omitempty,gt=0,lte=1"`

	// SilenceMs is how long the level must stay below Threshold before an
	// utterance is sent.
	SilenceMs int `yaml:"silence_ms" validate:"omitempty,gte=50,lte=10000"`

	// MaxUtteranceMs caps the length of a single utterance.
	MaxUtteranceMs int `yaml:"max_utterance_ms" validate:"omitempty,gte=1000,lte=600000"`
}

// Silence returns SilenceMs as a duration.
func (g GateConfig) Silence() time.Duration {
	return time.Duration(g.SilenceMs) * time.Millisecond
}

// MaxUtterance returns MaxUtteranceMs as a duration.
func (g GateConfig) MaxUtterance() time.Duration {
	return time.Duration(g.MaxUtteranceMs) * time.Millisecond
}

// ApplyDefaults fills zero-valued fields that have a sensible default. Gate
// tuning is left to the gate's own defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.S2S.Name == "" {
		cfg.Providers.S2S.Name = DefaultS2SProvider
	}
	if cfg.Audio.InputSampleRate == 0 {
		cfg.Audio.InputSampleRate = DefaultInputSampleRate
	}
	if cfg.Audio.Capture.SampleRate == 0 {
		cfg.Audio.Capture.SampleRate = cfg.Audio.InputSampleRate
	}
	if cfg.Audio.Capture.FrameMs == 0 {
		cfg.Audio.Capture.FrameMs = DefaultFrameMs
	}
	if cfg.Gate.Mode == "" {
		cfg.Gate.Mode = gate.ModeAuto
	}
}
