package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Session defaults
// and the log level apply to running processes; the remaining flags tell the
// caller that a restart is needed for the change to take effect.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is set when any session default changed. New sessions
	// pick it up; running sessions keep their settings.
	SessionChanged bool
	PersonaChanged bool
	ModeChanged    bool

	CatalogChanged    bool
	ProvidersChanged  bool
	PlaybackChanged   bool
	ResilienceChanged bool
	ServerChanged     bool
}

// RestartRequired reports whether any change cannot be applied in place.
func (d ConfigDiff) RestartRequired() bool {
	return d.CatalogChanged || d.ProvidersChanged || d.PlaybackChanged ||
		d.ResilienceChanged || d.ServerChanged
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SessionChanged || d.RestartRequired()
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	o, n := old.Server, new.Server
	d.ServerChanged = o.ListenAddr != n.ListenAddr ||
		o.LogFormat != n.LogFormat ||
		!reflect.DeepEqual(o.TLS, n.TLS) ||
		!slices.Equal(o.AllowedOrigins, n.AllowedOrigins)

	d.PersonaChanged = old.Session.DefaultPersona != new.Session.DefaultPersona
	d.ModeChanged = old.Session.Mode() != new.Session.Mode()
	d.SessionChanged = d.PersonaChanged || d.ModeChanged ||
		!reflect.DeepEqual(old.Session, new.Session)

	d.CatalogChanged = old.Catalog != new.Catalog
	d.ProvidersChanged = !reflect.DeepEqual(old.Providers, new.Providers)
	d.PlaybackChanged = old.Playback != new.Playback
	d.ResilienceChanged = old.Resilience != new.Resilience

	return d
}
