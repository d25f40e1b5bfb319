package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/haven/internal/observability"
	"github.com/valter-silva-au/haven/internal/storage"
	"github.com/valter-silva-au/haven/pkg/models"
)

// Supported action names.
const (
	ActionNotifyContact = "notify-contact"
	ActionEscalate      = "escalate-to-responder"
	ActionFindPlaces    = "find-safe-locations"
)

var (
	// ErrUnknownAction is returned for an action name outside the
	// supported set.
	ErrUnknownAction = errors.New("unknown action")
	// ErrMissingContact is returned when notify-contact has no stored
	// emergency contact to notify.
	ErrMissingContact = errors.New("no emergency contact on file")
	// ErrMissingLocation is returned when find-safe-locations has no
	// coordinates to search around.
	ErrMissingLocation = errors.New("no location on file")
	// ErrActionFailed wraps a collaborator failure or timeout.
	ErrActionFailed = errors.New("action failed")
)

// searchRadiusMeters is how far out the places lookup casts.
const searchRadiusMeters = 2000

// safePlaceTypes is the type filter sent to the places collaborator.
var safePlaceTypes = []string{
	"police", "hospital", "fire_station", "urgent_care",
	"pharmacy", "gas_station", "convenience", "supermarket",
}

// Dispatcher is the only component that causes external side effects.
// Every call goes through the idempotency gate with a bounded timeout, and
// every outcome lands on the case file and the audit log.
type Dispatcher struct {
	gate      *Gate
	telephony Telephony
	places    Places
	files     storage.CaseFileManager
	audit     observability.AuditLog
	cfg       *models.EngineConfig
	now       func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherClock overrides the dispatcher's time source. Used by tests.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(gate *Gate, telephony Telephony, places Places, files storage.CaseFileManager, audit observability.AuditLog, cfg *models.EngineConfig, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		gate:      gate,
		telephony: telephony,
		places:    places,
		files:     files,
		audit:     audit,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NotifyContact sends an alert message to the stored emergency contact,
// with the last known location attached when consented.
func (d *Dispatcher) NotifyContact(ctx context.Context, cf *models.CaseFile) (models.ActionRecord, error) {
	if cf.Contact == nil || cf.Contact.Phone == "" {
		return d.record(cf.SessionID, ActionNotifyContact, "", Result{
			Outcome: models.OutcomeFailure,
			Detail:  ErrMissingContact.Error(),
			Err:     ErrMissingContact,
		})
	}

	to := cf.Contact.Phone
	body := alertMessage(cf)
	key := IdemKey(ActionNotifyContact, to, d.now(), d.cfg.KeyWindow)

	res := d.gate.CallOnce(ctx, ActionNotifyContact, key, d.cfg.DispatchTimeout, func(ctx context.Context) (string, any, error) {
		id, err := d.telephony.SendMessage(ctx, to, body)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("sms sent to %s (id %s)", to, id), nil, nil
	})
	return d.record(cf.SessionID, ActionNotifyContact, key, res)
}

// EscalateToResponder places an outbound briefing call to the configured
// responder line.
func (d *Dispatcher) EscalateToResponder(ctx context.Context, cf *models.CaseFile) (models.ActionRecord, error) {
	to := d.cfg.ResponderNum
	if to == "" {
		return d.record(cf.SessionID, ActionEscalate, "", Result{
			Outcome: models.OutcomeFailure,
			Detail:  "no responder number configured",
			Err:     ErrActionFailed,
		})
	}
	script := briefingScript(cf)
	key := IdemKey(ActionEscalate, to, d.now(), d.cfg.KeyWindow)

	res := d.gate.CallOnce(ctx, ActionEscalate, key, d.cfg.DispatchTimeout, func(ctx context.Context) (string, any, error) {
		id, err := d.telephony.PlaceCall(ctx, to, script)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("briefing call placed to %s (id %s)", to, id), nil, nil
	})
	return d.record(cf.SessionID, ActionEscalate, key, res)
}

// FindSafeLocations queries the places collaborator around the last known
// location and returns the ranked top candidates.
func (d *Dispatcher) FindSafeLocations(ctx context.Context, cf *models.CaseFile) (models.ActionRecord, []models.Place, error) {
	if cf.Location == nil {
		rec, err := d.record(cf.SessionID, ActionFindPlaces, "", Result{
			Outcome: models.OutcomeFailure,
			Detail:  ErrMissingLocation.Error(),
			Err:     ErrMissingLocation,
		})
		return rec, nil, err
	}

	loc := *cf.Location
	target := fmt.Sprintf("%.4f,%.4f", loc.Lat, loc.Lng)
	key := IdemKey(ActionFindPlaces, target, d.now(), d.cfg.KeyWindow)

	res := d.gate.CallOnce(ctx, ActionFindPlaces, key, d.cfg.DispatchTimeout, func(ctx context.Context) (string, any, error) {
		candidates, err := d.places.Search(ctx, loc, searchRadiusMeters, safePlaceTypes)
		if err != nil {
			return "", nil, err
		}
		ranked := RankPlaces(candidates, d.cfg.MaxSafePlaces)
		return fmt.Sprintf("%d safe places found", len(ranked)), ranked, nil
	})

	rec, err := d.record(cf.SessionID, ActionFindPlaces, key, res)
	ranked, _ := res.Value.([]models.Place)
	return rec, ranked, err
}

// Dispatch invokes an action by name. This is the administrative surface
// used by the MCP server and CLI; the controller calls the typed methods.
func (d *Dispatcher) Dispatch(ctx context.Context, action, sessionID string) (models.ActionRecord, error) {
	cf, ok := d.files.Get(sessionID)
	if !ok {
		return models.ActionRecord{}, fmt.Errorf("no case file for session %q", sessionID)
	}
	switch action {
	case ActionNotifyContact:
		return d.NotifyContact(ctx, cf)
	case ActionEscalate:
		return d.EscalateToResponder(ctx, cf)
	case ActionFindPlaces:
		rec, _, err := d.FindSafeLocations(ctx, cf)
		return rec, err
	default:
		return models.ActionRecord{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// Throttled reports whether the action for this session is rate limited,
// independent of idempotency. A false return means the call is disallowed.
func (d *Dispatcher) Throttled(action, sessionID string) bool {
	return !d.gate.Throttle(action+":"+sessionID, d.cfg.ThrottleInterval)
}

// record turns a gate result into an ActionRecord, appends it and a
// matching timeline event to the case file, and writes the audit log.
// Failures are returned as errors but never swallowed from the record.
func (d *Dispatcher) record(sessionID, action, key string, res Result) (models.ActionRecord, error) {
	rec := models.ActionRecord{
		ID:             uuid.NewString(),
		Action:         action,
		IdempotencyKey: key,
		Outcome:        res.Outcome,
		Detail:         res.Detail,
		Timestamp:      d.now().UTC(),
	}

	if _, err := d.files.AppendAction(sessionID, rec); err != nil {
		// The store refused the write (erased or malformed session).
		// The side effect already happened; surface the store error.
		return rec, fmt.Errorf("recording action for %s: %w", sessionID, err)
	}
	_, _ = d.files.AppendTimeline(sessionID, models.TimelineEvent{
		Timestamp:   rec.Timestamp,
		Description: fmt.Sprintf("%s: %s (%s)", action, rec.Outcome, rec.Detail),
		Source:      models.SourceSystem,
	})

	level := "INFO"
	if res.Outcome == models.OutcomeFailure {
		level = "ERROR"
	}
	_ = d.audit.Write(observability.AuditEntry{
		Time:      rec.Timestamp,
		Level:     level,
		Type:      "action.dispatched",
		SessionID: sessionID,
		Message:   rec.Detail,
		Data: map[string]any{
			"action":          action,
			"idempotency_key": key,
			"outcome":         string(res.Outcome),
		},
	})

	if res.Outcome == models.OutcomeFailure {
		if res.Err != nil {
			return rec, fmt.Errorf("%w: %s: %v", ErrActionFailed, action, res.Err)
		}
		return rec, fmt.Errorf("%w: %s", ErrActionFailed, action)
	}
	return rec, nil
}

// alertMessage composes the SMS sent to an emergency contact.
func alertMessage(cf *models.CaseFile) string {
	msg := "Haven safety alert: your contact"
	if cf.Contact != nil && cf.Contact.Relationship != "" {
		msg += " (" + cf.Contact.Relationship + ")"
	}
	msg += " may be in danger and asked us to notify you."
	if cf.Location != nil && boolValue(cf.Consent.ShareLocation) {
		msg += fmt.Sprintf(" Last known location: %.5f,%.5f", cf.Location.Lat, cf.Location.Lng)
		if cf.Location.Address != "" {
			msg += " (" + cf.Location.Address + ")"
		}
		msg += "."
	}
	return msg
}

// briefingScript composes the text-to-speech script for the responder call.
func briefingScript(cf *models.CaseFile) string {
	script := fmt.Sprintf("Automated safety briefing for session %s. Risk level %s.", cf.SessionID, cf.RiskLevel)
	if cf.Threat != nil && cf.Threat.Description != "" {
		script += " Reported threat: " + cf.Threat.Description + "."
	}
	if cf.Location != nil {
		script += fmt.Sprintf(" Last known location %.5f, %.5f.", cf.Location.Lat, cf.Location.Lng)
	}
	if cf.CanSpeak != nil && !*cf.CanSpeak {
		script += " The user has indicated they cannot speak."
	}
	return script
}

func boolValue(b *bool) bool {
	return b != nil && *b
}
