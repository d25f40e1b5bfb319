package models

import "time"

// EngineConfig holds the tunable windows and limits of the incident engine,
// read from .havenconfig via Viper. Every duration that governs dedup,
// expiry, or dispatch is configuration with a documented default rather than
// a literal in the code path that uses it.
type EngineConfig struct {
	// Idempotency windows.
	SuccessWindow time.Duration `yaml:"success_window" mapstructure:"success_window"`
	FailureWindow time.Duration `yaml:"failure_window" mapstructure:"failure_window"`
	// KeyWindow buckets distinct real-world events into the same
	// idempotency key when they hit the same target within the window.
	KeyWindow time.Duration `yaml:"key_window" mapstructure:"key_window"`

	// Dispatch.
	DispatchTimeout  time.Duration `yaml:"dispatch_timeout" mapstructure:"dispatch_timeout"`
	ThrottleInterval time.Duration `yaml:"throttle_interval" mapstructure:"throttle_interval"`
	MaxSafePlaces    int           `yaml:"max_safe_places" mapstructure:"max_safe_places"`

	// Session registry.
	SessionTTL    time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`

	// Case file store.
	TombstoneTTL time.Duration `yaml:"tombstone_ttl" mapstructure:"tombstone_ttl"`

	// Extra keyword phrases merged into the built-in classifier sets.
	ExtraCriticalTerms []string `yaml:"extra_critical_terms,omitempty" mapstructure:"extra_critical_terms"`
	ExtraElevatedTerms []string `yaml:"extra_elevated_terms,omitempty" mapstructure:"extra_elevated_terms"`

	// Collaborator endpoints.
	TelephonyURL string `yaml:"telephony_url,omitempty" mapstructure:"telephony_url"`
	PlacesURL    string `yaml:"places_url,omitempty" mapstructure:"places_url"`
	ResponderNum string `yaml:"responder_number,omitempty" mapstructure:"responder_number"`

	// Audit log path, relative to the base path when not absolute.
	AuditLogPath string `yaml:"audit_log_path,omitempty" mapstructure:"audit_log_path"`
}
