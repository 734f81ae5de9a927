package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s": {"gemini-live"},
	"stt": {"deepgram", "openai"},
}

// CredentialEnv maps provider names to the environment variables consulted,
// in order, when the entry has no api_key.
var CredentialEnv = map[string][]string{
	"gemini-live": {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"deepgram":    {"DEEPGRAM_API_KEY"},
	"openai":      {"OPENAI_API_KEY"},
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their YAML path rather than the Go field name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: validate: %w", err)
		}
		for _, e := range verrs {
			errs = append(errs, fmt.Errorf("%s %s", fieldPath(e), formatValidationMessage(e)))
		}
	}

	if cfg.Providers.S2S.Name == "" {
		errs = append(errs, errors.New("providers.s2s.name is required"))
	}
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}
	if len(cfg.Providers.STTFallbacks) > 0 && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt.name"))
	}

	g := cfg.Gate
	if g.SilenceMs > 0 && g.MaxUtteranceMs > 0 && g.MaxUtteranceMs <= g.SilenceMs {
		errs = append(errs, fmt.Errorf("gate.max_utterance_ms %d must exceed gate.silence_ms %d", g.MaxUtteranceMs, g.SilenceMs))
	}
	if g.Mode == "manual" && (g.Threshold != 0 || g.SilenceMs != 0) {
		slog.Warn("gate.threshold and gate.silence_ms are ignored in manual mode")
	}

	if len(cfg.Audio.Capture.Args) > 0 && cfg.Audio.Capture.Command == "" {
		errs = append(errs, errors.New("audio.capture.args requires audio.capture.command"))
	}
	if len(cfg.Audio.Playback.Args) > 0 && cfg.Audio.Playback.Command == "" {
		errs = append(errs, errors.New("audio.playback.args requires audio.playback.command"))
	}

	return errors.Join(errs...)
}

// ApplyEnv fills empty provider API keys from the variables listed in
// [CredentialEnv]. A still-empty key is not an error here: the provider
// reports it when a session connects.
func ApplyEnv(cfg *Config) {
	entries := []*ProviderEntry{&cfg.Providers.S2S, &cfg.Providers.STT}
	for i := range cfg.Providers.STTFallbacks {
		entries = append(entries, &cfg.Providers.STTFallbacks[i])
	}
	for _, e := range entries {
		if e.Name == "" || e.APIKey != "" {
			continue
		}
		for _, key := range CredentialEnv[e.Name] {
			if v := os.Getenv(key); v != "" {
				e.APIKey = v
				break
			}
		}
	}
}

// LoadDotEnv loads environment variables from the given .env files (".env"
// when none are named) without overriding variables that are already set.
// Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var errs []error
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("config: load %q: %w", f, err))
		}
	}
	return errors.Join(errs...)
}

// fieldPath turns a validator namespace such as "Config.gate.silence_ms" into
// the YAML path "gate.silence_ms".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
