package core

import (
	"context"

	"github.com/valter-silva-au/haven/pkg/models"
)

// CaseFileStore is the subset of the storage layer the controller needs.
// It is defined locally in core to avoid importing storage.
type CaseFileStore interface {
	Get(sessionID string) (*models.CaseFile, bool)
	Update(sessionID string, patch models.CaseFilePatch) (*models.CaseFile, error)
	AppendTimeline(sessionID string, ev models.TimelineEvent) (*models.CaseFile, error)
	AppendNote(sessionID string, note string) (*models.CaseFile, error)
	Delete(sessionID string) bool
}

// ActionDispatcher is the dispatch surface the controller drives. Defined
// locally in core to avoid importing dispatch.
type ActionDispatcher interface {
	NotifyContact(ctx context.Context, cf *models.CaseFile) (models.ActionRecord, error)
	EscalateToResponder(ctx context.Context, cf *models.CaseFile) (models.ActionRecord, error)
	FindSafeLocations(ctx context.Context, cf *models.CaseFile) (models.ActionRecord, []models.Place, error)
}

// EventLogger is the subset of the audit log that core services need.
// Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType, sessionID, msg string, data map[string]any) error
}

// NopEventLogger discards events. Used when auditing is disabled.
type NopEventLogger struct{}

// LogEvent implements EventLogger.
func (NopEventLogger) LogEvent(string, string, string, map[string]any) error { return nil }
