package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valter-silva-au/haven/pkg/models"
)

// ErrInvalidSession is returned for a malformed session identifier.
var ErrInvalidSession = errors.New("invalid session id")

// Consent topics the controller may ask about.
const (
	ConsentNotifyContact = "notify_contact"
	ConsentShareLocation = "share_location"
)

// ReplyKind classifies the directive handed back to the front end. The
// front end owns the wording; the kind and message here are what the
// natural-language layer builds from.
type ReplyKind string

const (
	ReplyInform     ReplyKind = "inform"
	ReplyAskConsent ReplyKind = "ask-consent"
	ReplyActions    ReplyKind = "actions-taken"
	ReplyFallback   ReplyKind = "fallback"
	ReplyResolved   ReplyKind = "resolved"
)

// InboundEvent is one message or transcript fragment for a session, from
// any channel.
type InboundEvent struct {
	SessionID string
	Text      string
	Channel   string // voice, text, push
	Location  *models.Location
	// StandDown marks an explicit operator/user all-clear. Text that
	// merely sounds calm never sets this.
	StandDown bool
}

// ReplyDirective tells the front end what kind of reply to render.
type ReplyDirective struct {
	Kind    ReplyKind
	Message string
	Places  []models.Place
}

// Outcome is the result of handling one inbound event.
type Outcome struct {
	Reply    ReplyDirective
	CaseFile *models.CaseFile
}

// Controller orchestrates one inbound event end to end: classification,
// case file merge, policy-gated dispatch, reply.
type Controller struct {
	classifier *Classifier
	files      CaseFileStore
	dispatcher ActionDispatcher
	events     EventLogger
}

// NewController wires a Controller. events may be NopEventLogger.
func NewController(classifier *Classifier, files CaseFileStore, dispatcher ActionDispatcher, events EventLogger) *Controller {
	if events == nil {
		events = NopEventLogger{}
	}
	return &Controller{
		classifier: classifier,
		files:      files,
		dispatcher: dispatcher,
		events:     events,
	}
}

// HandleEvent processes one inbound event for a session and returns the
// reply directive plus the updated case file.
func (c *Controller) HandleEvent(ctx context.Context, ev InboundEvent) (*Outcome, error) {
	if !models.ValidSessionID(ev.SessionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSession, ev.SessionID)
	}

	cf, ok := c.files.Get(ev.SessionID)
	if !ok {
		// First event for this session creates the case file.
		created, err := c.files.Update(ev.SessionID, models.CaseFilePatch{})
		if err != nil {
			return nil, err
		}
		cf = created
	}

	if ev.Text != "" {
		if _, err := c.files.AppendTimeline(ev.SessionID, models.TimelineEvent{
			Description: fmt.Sprintf("[%s] %s", channelOrDefault(ev.Channel), ev.Text),
			Source:      models.SourceUser,
		}); err != nil {
			return nil, err
		}
	}
	if ev.Location != nil {
		if _, err := c.files.Update(ev.SessionID, models.CaseFilePatch{Location: ev.Location}); err != nil {
			return nil, err
		}
	}

	// Explicit stand-down is the only way down from critical.
	if ev.StandDown || IsStandDown(ev.Text) {
		return c.standDown(ev.SessionID)
	}

	// A pending consent question consumes the next yes/no as its answer
	// rather than feeding it to the classifier.
	if cf.PendingConsent != "" {
		if answer, ok := parseConsentAnswer(ev.Text); ok {
			return c.resolveConsent(ctx, ev.SessionID, cf.PendingConsent, answer)
		}
	}

	cls := c.classifier.Classify(ev.Text, cf.RiskLevel)
	hardTrigger := HasHardTrigger(ev.Text)
	cannotSpeak := detectCannotSpeak(ev.Text)

	patch := models.CaseFilePatch{}
	newLevel := cls.NewLevel
	patch.RiskLevel = &newLevel
	state := models.StateForRisk(newLevel)
	patch.State = &state
	if cannotSpeak {
		f := false
		patch.CanSpeak = &f
	}

	cf, err := c.files.Update(ev.SessionID, patch)
	if err != nil {
		return nil, err
	}

	return c.applyPolicy(ctx, cf, cls, hardTrigger)
}

// GetCaseFile returns the case file for a session.
func (c *Controller) GetCaseFile(sessionID string) (*models.CaseFile, bool) {
	return c.files.Get(sessionID)
}

// DeleteCaseFile erases a case file. Privacy operation.
func (c *Controller) DeleteCaseFile(sessionID string) bool {
	deleted := c.files.Delete(sessionID)
	if deleted {
		_ = c.events.LogEvent("casefile.erased", sessionID, "case file erased on request", nil)
	}
	return deleted
}

// standDown resolves the session: explicit all-clear moves any state to
// resolved and the risk level back to safe.
func (c *Controller) standDown(sessionID string) (*Outcome, error) {
	safe := models.RiskSafe
	resolved := models.StateResolved
	empty := ""
	cf, err := c.files.Update(sessionID, models.CaseFilePatch{
		RiskLevel:      &safe,
		State:          &resolved,
		PendingConsent: &empty,
	})
	if err != nil {
		return nil, err
	}
	if _, err := c.files.AppendTimeline(sessionID, models.TimelineEvent{
		Description: "explicit stand-down received; session resolved",
		Source:      models.SourceSystem,
	}); err != nil {
		return nil, err
	}
	_ = c.events.LogEvent("risk.standdown", sessionID, "session resolved by explicit stand-down", nil)
	return &Outcome{
		Reply: ReplyDirective{
			Kind:    ReplyResolved,
			Message: "Understood, standing down. I'm glad you're safe. The alert is cancelled.",
		},
		CaseFile: cf,
	}, nil
}

// resolveConsent records the answer to the pending consent question and,
// on yes, dispatches the action that was waiting on it.
func (c *Controller) resolveConsent(ctx context.Context, sessionID, topic string, granted bool) (*Outcome, error) {
	consent := &models.Consent{}
	switch topic {
	case ConsentShareLocation:
		consent.ShareLocation = &granted
	default:
		consent.NotifyContact = &granted
	}
	empty := ""
	cf, err := c.files.Update(sessionID, models.CaseFilePatch{
		Consent:        consent,
		PendingConsent: &empty,
	})
	if err != nil {
		return nil, err
	}

	if !granted {
		return &Outcome{
			Reply: ReplyDirective{
				Kind:    ReplyInform,
				Message: "Okay, I won't do that. I'm staying with you — tell me what's happening.",
			},
			CaseFile: cf,
		}, nil
	}

	rec, err := c.dispatcher.NotifyContact(ctx, cf)
	cf, _ = c.files.Get(sessionID)
	if err != nil && rec.Outcome == models.OutcomeFailure {
		return &Outcome{Reply: c.fallbackReply(cf), CaseFile: cf}, nil
	}
	return &Outcome{
		Reply: ReplyDirective{
			Kind:    ReplyActions,
			Message: "I've alerted your emergency contact with your situation and location.",
		},
		CaseFile: cf,
	}, nil
}

// applyPolicy runs the per-state policy gate and dispatches whatever the
// current risk level and consent state justify.
func (c *Controller) applyPolicy(ctx context.Context, cf *models.CaseFile, cls Classification, hardTrigger bool) (*Outcome, error) {
	sessionID := cf.SessionID
	if cls.NewLevel == models.RiskCritical || len(cls.MatchedTerms) > 0 {
		_ = c.events.LogEvent("risk.transition", sessionID, cls.Rationale, map[string]any{
			"risk_level": string(cls.NewLevel),
			"matched":    cls.MatchedTerms,
		})
	}

	switch cf.State {
	case models.StateCritical:
		return c.handleCritical(ctx, cf, hardTrigger)
	case models.StateElevated:
		return c.handleElevated(ctx, cf, hardTrigger)
	default:
		return &Outcome{
			Reply: ReplyDirective{
				Kind:    ReplyInform,
				Message: "I'm here with you. Tell me if anything changes around you.",
			},
			CaseFile: cf,
		}, nil
	}
}

// handleElevated may look up safe locations; notifying the contact needs
// consent unless a hard trigger is present.
func (c *Controller) handleElevated(ctx context.Context, cf *models.CaseFile, hardTrigger bool) (*Outcome, error) {
	var places []models.Place
	if cf.Location != nil {
		_, found, _ := c.dispatcher.FindSafeLocations(ctx, cf)
		places = found
	}

	if hardTrigger || boolValue(cf.Consent.NotifyContact) {
		rec, err := c.dispatcher.NotifyContact(ctx, cf)
		updated, _ := c.files.Get(cf.SessionID)
		if err != nil && rec.Outcome == models.OutcomeFailure {
			return &Outcome{Reply: c.fallbackReply(updated), CaseFile: updated}, nil
		}
		return &Outcome{
			Reply: ReplyDirective{
				Kind:    ReplyActions,
				Message: "I've notified your emergency contact. " + placesSentence(places),
				Places:  places,
			},
			CaseFile: updated,
		}, nil
	}

	updated, _ := c.files.Get(cf.SessionID)
	return &Outcome{
		Reply: ReplyDirective{
			Kind:    ReplyInform,
			Message: "Stay aware of your surroundings. " + placesSentence(places),
			Places:  places,
		},
		CaseFile: updated,
	}, nil
}

// handleCritical dispatches without consent only on a hard trigger or a
// user who has indicated they cannot speak; otherwise it asks exactly one
// targeted consent question before acting.
func (c *Controller) handleCritical(ctx context.Context, cf *models.CaseFile, hardTrigger bool) (*Outcome, error) {
	cannotSpeak := cf.CanSpeak != nil && !*cf.CanSpeak
	consented := boolValue(cf.Consent.NotifyContact)

	escalate := hardTrigger || cannotSpeak
	if escalate || consented {
		notifyRec, notifyErr := c.dispatcher.NotifyContact(ctx, cf)
		escalateErr := error(nil)
		if escalate {
			_, escalateErr = c.dispatcher.EscalateToResponder(ctx, cf)
		}
		updated, _ := c.files.Get(cf.SessionID)

		notifyFailed := notifyErr != nil && notifyRec.Outcome == models.OutcomeFailure
		if notifyFailed && (!escalate || escalateErr != nil) {
			return &Outcome{Reply: c.fallbackReply(updated), CaseFile: updated}, nil
		}
		msg := "Help is being arranged: your emergency contact has been alerted."
		if escalate {
			msg += " A responder line is being briefed."
		}
		if notifyFailed {
			msg = "I couldn't reach your emergency contact, but a responder line is being briefed."
		}
		return &Outcome{
			Reply:    ReplyDirective{Kind: ReplyActions, Message: msg},
			CaseFile: updated,
		}, nil
	}

	// One targeted question, then act on the answer.
	pending := ConsentNotifyContact
	updated, err := c.files.Update(cf.SessionID, models.CaseFilePatch{PendingConsent: &pending})
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Reply: ReplyDirective{
			Kind:    ReplyAskConsent,
			Message: "This sounds serious. Do you want me to alert your emergency contact with your location right now? (yes/no)",
		},
		CaseFile: updated,
	}, nil
}

// fallbackReply is the critical-state reply when an external action failed.
// It never claims success and always offers a direct alternative.
func (c *Controller) fallbackReply(cf *models.CaseFile) ReplyDirective {
	return ReplyDirective{
		Kind: ReplyFallback,
		Message: "I wasn't able to complete that alert. Please call your local " +
			"emergency number directly if you can. I'll keep retrying from here.",
	}
}

// parseConsentAnswer interprets a short reply to a pending consent
// question. Only unambiguous answers count; anything else falls through to
// normal classification.
func parseConsentAnswer(text string) (granted, ok bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	switch t {
	case "yes", "y", "yes please", "please", "do it", "ok", "okay":
		return true, true
	case "no", "n", "no thanks", "don't", "dont", "not yet":
		return false, true
	}
	return false, false
}

// detectCannotSpeak spots phrasing that indicates the user cannot talk
// safely, which in critical state substitutes for a hard trigger.
func detectCannotSpeak(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range []string{"can't talk", "cant talk", "can't speak", "cant speak", "too dangerous to talk"} {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

func boolValue(b *bool) bool {
	return b != nil && *b
}

func channelOrDefault(channel string) string {
	if channel == "" {
		return "text"
	}
	return channel
}

func placesSentence(places []models.Place) string {
	if len(places) == 0 {
		return "If you can, move toward a busy, well-lit public place."
	}
	return fmt.Sprintf("The nearest safe place is %s (%.0fm away).", places[0].Name, places[0].DistanceMeters)
}
