package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ".havenconfig"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cm := NewConfigurationManager(t.TempDir())

	cfg, err := cm.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SuccessWindow != DefaultSuccessWindow {
		t.Errorf("success window = %s, want %s", cfg.SuccessWindow, DefaultSuccessWindow)
	}
	if cfg.FailureWindow != DefaultFailureWindow {
		t.Errorf("failure window = %s, want %s", cfg.FailureWindow, DefaultFailureWindow)
	}
	if cfg.DispatchTimeout != DefaultDispatchTimeout {
		t.Errorf("dispatch timeout = %s, want %s", cfg.DispatchTimeout, DefaultDispatchTimeout)
	}
	if cfg.MaxSafePlaces != DefaultMaxSafePlaces {
		t.Errorf("max safe places = %d, want %d", cfg.MaxSafePlaces, DefaultMaxSafePlaces)
	}
	if cfg.AuditLogPath != "haven-audit.jsonl" {
		t.Errorf("audit log path = %q", cfg.AuditLogPath)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
idempotency:
  success_window: 20s
  failure_window: 5s
dispatch:
  timeout: 10s
  max_safe_places: 3
classifier:
  extra_critical_terms:
    - mayday
collaborators:
  responder_number: "+15140001111"
`)

	cfg, err := NewConfigurationManager(dir).LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SuccessWindow != 20*time.Second {
		t.Errorf("success window = %s, want 20s", cfg.SuccessWindow)
	}
	if cfg.FailureWindow != 5*time.Second {
		t.Errorf("failure window = %s, want 5s", cfg.FailureWindow)
	}
	if cfg.DispatchTimeout != 10*time.Second {
		t.Errorf("dispatch timeout = %s, want 10s", cfg.DispatchTimeout)
	}
	if cfg.MaxSafePlaces != 3 {
		t.Errorf("max safe places = %d, want 3", cfg.MaxSafePlaces)
	}
	if len(cfg.ExtraCriticalTerms) != 1 || cfg.ExtraCriticalTerms[0] != "mayday" {
		t.Errorf("extra critical terms = %v", cfg.ExtraCriticalTerms)
	}
	if cfg.ResponderNum != "+15140001111" {
		t.Errorf("responder number = %q", cfg.ResponderNum)
	}
	// Keys not present keep their defaults.
	if cfg.KeyWindow != DefaultKeyWindow {
		t.Errorf("key window = %s, want default %s", cfg.KeyWindow, DefaultKeyWindow)
	}
	if cfg.SessionTTL != DefaultSessionTTL {
		t.Errorf("session ttl = %s, want default %s", cfg.SessionTTL, DefaultSessionTTL)
	}
}

func TestLoadConfigRejectsInvalidWindows(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "failure window exceeds success window",
			content: `
idempotency:
  success_window: 3s
  failure_window: 12s
`,
			wantErr: "failure_window",
		},
		{
			name: "zero dispatch timeout",
			content: `
dispatch:
  timeout: 0s
`,
			wantErr: "dispatch timeout",
		},
		{
			name: "negative session ttl",
			content: `
session:
  ttl: -1h
`,
			wantErr: "session ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			_, err := NewConfigurationManager(dir).LoadConfig()
			if err == nil {
				t.Fatal("LoadConfig accepted invalid windows")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
