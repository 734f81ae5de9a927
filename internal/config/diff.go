package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level can be applied to a running process; everything else is
// reported so the operator knows a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart (e.g., "providers.s2s", "gate").
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"providers.s2s", old.Providers.S2S, new.Providers.S2S},
		{"providers.stt", old.Providers.STT, new.Providers.STT},
		{"providers.stt_fallbacks", old.Providers.STTFallbacks, new.Providers.STTFallbacks},
		{"audio", old.Audio, new.Audio},
		{"gate", old.Gate, new.Gate},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
