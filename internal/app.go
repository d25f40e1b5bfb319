// Package internal provides the App struct that wires all components of the
// Haven incident engine together and initializes the CLI layer.
package internal

import (
	"os"
	"path/filepath"

	"github.com/valter-silva-au/haven/internal/cli"
	"github.com/valter-silva-au/haven/internal/core"
	"github.com/valter-silva-au/haven/internal/dispatch"
	"github.com/valter-silva-au/haven/internal/ingress"
	"github.com/valter-silva-au/haven/internal/observability"
	"github.com/valter-silva-au/haven/internal/storage"
	"github.com/valter-silva-au/haven/pkg/models"
)

// App holds all service dependencies for the incident engine.
type App struct {
	BasePath string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.EngineConfig

	// Storage layer
	CaseFiles storage.CaseFileManager
	Registry  storage.SessionRegistry

	// Dispatch layer
	Gate       *dispatch.Gate
	Telephony  dispatch.Telephony
	Places     dispatch.Places
	Dispatcher *dispatch.Dispatcher

	// Core services
	Classifier *core.Classifier
	Controller *core.Controller

	// Ingress
	Webhook *ingress.Handler

	// Observability
	AuditLog observability.AuditLog
}

// NewApp creates and wires all components of the incident engine.
// basePath is the directory holding .havenconfig and the audit log.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.LoadConfig()
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	// --- Observability ---
	auditPath := cfg.AuditLogPath
	if auditPath != "" && !filepath.IsAbs(auditPath) {
		auditPath = filepath.Join(basePath, auditPath)
	}
	app.AuditLog, err = observability.NewJSONLAuditLog(auditPath)
	if err != nil {
		// Non-fatal: run without a durable audit trail.
		app.AuditLog = observability.NopAuditLog()
	}

	// --- Storage layer ---
	app.CaseFiles = storage.NewCaseFileManager(cfg.TombstoneTTL,
		storage.WithCoercionLogger(&coercionLogAdapter{log: app.AuditLog}))
	app.Registry = storage.NewSessionRegistry(cfg.SessionTTL, cfg.SweepInterval)

	// --- Dispatch layer ---
	app.Gate = dispatch.NewGate(cfg.SuccessWindow, cfg.FailureWindow)
	app.Telephony = dispatch.NewHTTPTelephony(cfg.TelephonyURL)
	app.Places = dispatch.NewHTTPPlaces(cfg.PlacesURL)
	app.Dispatcher = dispatch.NewDispatcher(app.Gate, app.Telephony, app.Places, app.CaseFiles, app.AuditLog, cfg)

	// --- Core services ---
	app.Classifier = core.NewClassifier(cfg)
	app.Controller = core.NewController(app.Classifier, app.CaseFiles, app.Dispatcher,
		&eventLogAdapter{log: app.AuditLog})

	// --- Ingress ---
	app.Webhook = ingress.NewHandler(app.Controller, app.Registry)

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = cfg
	cli.CaseFiles = app.CaseFiles
	cli.Registry = app.Registry
	cli.Gate = app.Gate
	cli.Dispatcher = app.Dispatcher
	cli.Controller = app.Controller
	cli.Webhook = app.Webhook
	cli.AuditLog = app.AuditLog

	return app, nil
}

// Close releases resources held by the App, such as the audit log file
// handle.
func (a *App) Close() error {
	if a.AuditLog != nil {
		return a.AuditLog.Close()
	}
	return nil
}

// ResolveBasePath determines the data directory. It checks the HAVEN_HOME
// env var, then walks up from the current directory looking for a
// .havenconfig, falling back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv("HAVEN_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".havenconfig")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}

// --- Adapters ---

// eventLogAdapter adapts observability.AuditLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.AuditLog
}

func (a *eventLogAdapter) LogEvent(eventType, sessionID, msg string, data map[string]any) error {
	return a.log.Write(observability.AuditEntry{
		Level:     "INFO",
		Type:      eventType,
		SessionID: sessionID,
		Message:   msg,
		Data:      data,
	})
}

// coercionLogAdapter adapts observability.AuditLog to storage.CoercionLogger.
type coercionLogAdapter struct {
	log observability.AuditLog
}

func (a *coercionLogAdapter) Warn(msg string, data map[string]any) {
	sessionID, _ := data["session_id"].(string)
	_ = a.log.Write(observability.AuditEntry{
		Level:     "WARN",
		Type:      "store.coerced",
		SessionID: sessionID,
		Message:   msg,
		Data:      data,
	})
}
