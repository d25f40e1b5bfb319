// Package core contains the business logic for the Haven incident engine:
// risk classification, conversation control, and configuration.
package core

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/haven/pkg/models"
)

// Defaults for every tunable window. These are the documented reference
// values; .havenconfig overrides them.
const (
	DefaultSuccessWindow    = 12 * time.Second
	DefaultFailureWindow    = 3 * time.Second
	DefaultKeyWindow        = 10 * time.Second
	DefaultDispatchTimeout  = 6 * time.Second
	DefaultThrottleInterval = 30 * time.Second
	DefaultMaxSafePlaces    = 5
	DefaultSessionTTL       = time.Hour
	DefaultSweepInterval    = 5 * time.Minute
	DefaultTombstoneTTL     = 10 * time.Minute
)

// ConfigurationManager loads engine configuration from the .havenconfig
// file at the base path.
type ConfigurationManager interface {
	LoadConfig() (*models.EngineConfig, error)
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading the YAML configuration file.
type viperConfigManager struct {
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads
// .havenconfig relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultEngineConfig returns an EngineConfig populated with the documented
// defaults.
func DefaultEngineConfig() *models.EngineConfig {
	return &models.EngineConfig{
		SuccessWindow:    DefaultSuccessWindow,
		FailureWindow:    DefaultFailureWindow,
		KeyWindow:        DefaultKeyWindow,
		DispatchTimeout:  DefaultDispatchTimeout,
		ThrottleInterval: DefaultThrottleInterval,
		MaxSafePlaces:    DefaultMaxSafePlaces,
		SessionTTL:       DefaultSessionTTL,
		SweepInterval:    DefaultSweepInterval,
		TombstoneTTL:     DefaultTombstoneTTL,
		AuditLogPath:     "haven-audit.jsonl",
	}
}

// LoadConfig reads .havenconfig from the base path. If the file does not
// exist, the documented defaults are returned.
func (cm *viperConfigManager) LoadConfig() (*models.EngineConfig, error) {
	cfg := DefaultEngineConfig()

	v := viper.New()
	v.SetConfigName(".havenconfig")
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)

	// Set Viper defaults so missing keys fall back gracefully.
	v.SetDefault("idempotency.success_window", cfg.SuccessWindow)
	v.SetDefault("idempotency.failure_window", cfg.FailureWindow)
	v.SetDefault("idempotency.key_window", cfg.KeyWindow)
	v.SetDefault("dispatch.timeout", cfg.DispatchTimeout)
	v.SetDefault("dispatch.throttle_interval", cfg.ThrottleInterval)
	v.SetDefault("dispatch.max_safe_places", cfg.MaxSafePlaces)
	v.SetDefault("session.ttl", cfg.SessionTTL)
	v.SetDefault("session.sweep_interval", cfg.SweepInterval)
	v.SetDefault("casefile.tombstone_ttl", cfg.TombstoneTTL)
	v.SetDefault("audit.log_path", cfg.AuditLogPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading .havenconfig: %w", err)
	}

	cfg.SuccessWindow = v.GetDuration("idempotency.success_window")
	cfg.FailureWindow = v.GetDuration("idempotency.failure_window")
	cfg.KeyWindow = v.GetDuration("idempotency.key_window")
	cfg.DispatchTimeout = v.GetDuration("dispatch.timeout")
	cfg.ThrottleInterval = v.GetDuration("dispatch.throttle_interval")
	cfg.MaxSafePlaces = v.GetInt("dispatch.max_safe_places")
	cfg.SessionTTL = v.GetDuration("session.ttl")
	cfg.SweepInterval = v.GetDuration("session.sweep_interval")
	cfg.TombstoneTTL = v.GetDuration("casefile.tombstone_ttl")
	cfg.ExtraCriticalTerms = v.GetStringSlice("classifier.extra_critical_terms")
	cfg.ExtraElevatedTerms = v.GetStringSlice("classifier.extra_elevated_terms")
	cfg.TelephonyURL = v.GetString("collaborators.telephony_url")
	cfg.PlacesURL = v.GetString("collaborators.places_url")
	cfg.ResponderNum = v.GetString("collaborators.responder_number")
	cfg.AuditLogPath = v.GetString("audit.log_path")

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateConfig rejects windows that would break the gate's semantics.
func validateConfig(cfg *models.EngineConfig) error {
	if cfg.SuccessWindow <= 0 || cfg.FailureWindow <= 0 || cfg.KeyWindow <= 0 {
		return fmt.Errorf("validating config: idempotency windows must be positive")
	}
	if cfg.FailureWindow > cfg.SuccessWindow {
		return fmt.Errorf("validating config: failure_window %s exceeds success_window %s", cfg.FailureWindow, cfg.SuccessWindow)
	}
	if cfg.DispatchTimeout <= 0 {
		return fmt.Errorf("validating config: dispatch timeout must be positive")
	}
	if cfg.SessionTTL <= 0 || cfg.SweepInterval <= 0 {
		return fmt.Errorf("validating config: session ttl and sweep interval must be positive")
	}
	if cfg.MaxSafePlaces <= 0 {
		return fmt.Errorf("validating config: max_safe_places must be positive")
	}
	return nil
}
