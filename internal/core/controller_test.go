package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/haven/internal/storage"
	"github.com/valter-silva-au/haven/pkg/models"
)

// fakeDispatcher records dispatch calls without causing side effects.
type fakeDispatcher struct {
	notifyCalls   int
	escalateCalls int
	placesCalls   int

	notifyErr   error
	escalateErr error
	places      []models.Place
}

func (d *fakeDispatcher) NotifyContact(ctx context.Context, cf *models.CaseFile) (models.ActionRecord, error) {
	d.notifyCalls++
	if d.notifyErr != nil {
		return models.ActionRecord{Action: "notify-contact", Outcome: models.OutcomeFailure}, d.notifyErr
	}
	return models.ActionRecord{Action: "notify-contact", Outcome: models.OutcomeSuccess}, nil
}

func (d *fakeDispatcher) EscalateToResponder(ctx context.Context, cf *models.CaseFile) (models.ActionRecord, error) {
	d.escalateCalls++
	if d.escalateErr != nil {
		return models.ActionRecord{Action: "escalate-to-responder", Outcome: models.OutcomeFailure}, d.escalateErr
	}
	return models.ActionRecord{Action: "escalate-to-responder", Outcome: models.OutcomeSuccess}, nil
}

func (d *fakeDispatcher) FindSafeLocations(ctx context.Context, cf *models.CaseFile) (models.ActionRecord, []models.Place, error) {
	d.placesCalls++
	return models.ActionRecord{Action: "find-safe-locations", Outcome: models.OutcomeSuccess}, d.places, nil
}

func newTestController(dispatcher *fakeDispatcher) (*Controller, CaseFileStore) {
	files := storage.NewCaseFileManager(time.Minute)
	return NewController(NewClassifier(nil), files, dispatcher, nil), files
}

func TestHandleEventInvalidSessionID(t *testing.T) {
	ctrl, _ := newTestController(&fakeDispatcher{})

	_, err := ctrl.HandleEvent(context.Background(), InboundEvent{SessionID: "bad id with spaces", Text: "hello"})
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestHandleEventCriticalAsksOneConsentQuestion(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	ctrl, _ := newTestController(dispatcher)

	out, err := ctrl.HandleEvent(context.Background(), InboundEvent{
		SessionID: "sess-1",
		Text:      "there is someone following me",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if out.CaseFile.RiskLevel != models.RiskCritical {
		t.Errorf("risk level = %s, want critical", out.CaseFile.RiskLevel)
	}
	if out.CaseFile.State != models.StateCritical {
		t.Errorf("state = %s, want critical", out.CaseFile.State)
	}
	if out.Reply.Kind != ReplyAskConsent {
		t.Errorf("reply kind = %s, want ask-consent", out.Reply.Kind)
	}
	if out.CaseFile.PendingConsent != ConsentNotifyContact {
		t.Errorf("pending consent = %q, want %q", out.CaseFile.PendingConsent, ConsentNotifyContact)
	}
	if dispatcher.notifyCalls != 0 || dispatcher.escalateCalls != 0 {
		t.Errorf("no dispatch should happen before consent, got notify=%d escalate=%d",
			dispatcher.notifyCalls, dispatcher.escalateCalls)
	}
}

func TestHandleEventConsentYesDispatchesNotify(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	ctrl, _ := newTestController(dispatcher)
	ctx := context.Background()

	if _, err := ctrl.HandleEvent(ctx, InboundEvent{SessionID: "sess-1", Text: "someone is following me"}); err != nil {
		t.Fatalf("first event: %v", err)
	}
	out, err := ctrl.HandleEvent(ctx, InboundEvent{SessionID: "sess-1", Text: "yes"})
	if err != nil {
		t.Fatalf("consent answer: %v", err)
	}

	if dispatcher.notifyCalls != 1 {
		t.Errorf("notify calls = %d, want 1", dispatcher.notifyCalls)
	}
	if out.Reply.Kind != ReplyActions {
		t.Errorf("reply kind = %s, want actions-taken", out.Reply.Kind)
	}
	if out.CaseFile.PendingConsent != "" {
		t.Errorf("pending consent not cleared: %q", out.CaseFile.PendingConsent)
	}
	if !boolValue(out.CaseFile.Consent.NotifyContact) {
		t.Errorf("consent answer not recorded on case file")
	}
}

func TestHandleEventConsentNoSuppressesDispatch(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	ctrl, _ := newTestController(dispatcher)
	ctx := context.Background()

	if _, err := ctrl.HandleEvent(ctx, InboundEvent{SessionID: "sess-1", Text: "he attacked me"}); err != nil {
		t.Fatalf("first event: %v", err)
	}
	out, err := ctrl.HandleEvent(ctx, InboundEvent{SessionID: "sess-1", Text: "no"})
	if err != nil {
		t.Fatalf("consent answer: %v", err)
	}

	if dispatcher.notifyCalls != 0 {
		t.Errorf("notify calls = %d, want 0 after refused consent", dispatcher.notifyCalls)
	}
	if out.Reply.Kind != ReplyInform {
		t.Errorf("reply kind = %s, want inform", out.Reply.Kind)
	}
	if out.CaseFile.PendingConsent != "" {
		t.Errorf("pending consent not cleared: %q", out.CaseFile.PendingConsent)
	}
	if out.CaseFile.Consent.NotifyContact == nil || *out.CaseFile.Consent.NotifyContact {
		t.Errorf("refusal not recorded on case file")
	}
	if out.CaseFile.RiskLevel != models.RiskCritical {
		t.Errorf("risk level = %s, refusing consent must not downgrade", out.CaseFile.RiskLevel)
	}
}

func TestHandleEventHardTriggerDispatchesWithoutConsent(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	ctrl, _ := newTestController(dispatcher)

	out, err := ctrl.HandleEvent(context.Background(), InboundEvent{
		SessionID: "sess-1",
		Text:      "call 911, he has a knife",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if dispatcher.notifyCalls != 1 {
		t.Errorf("notify calls = %d, want 1", dispatcher.notifyCalls)
	}
	if dispatcher.escalateCalls != 1 {
		t.Errorf("escalate calls = %d, want 1", dispatcher.escalateCalls)
	}
	if out.Reply.Kind != ReplyActions {
		t.Errorf("reply kind = %s, want actions-taken", out.Reply.Kind)
	}
}

func TestHandleEventCannotSpeakEscalates(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	ctrl, _ := newTestController(dispatcher)

	out, err := ctrl.HandleEvent(context.Background(), InboundEvent{
		SessionID: "sess-1",
		Text:      "i can't talk he is right there following me",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if out.CaseFile.CanSpeak == nil || *out.CaseFile.CanSpeak {
		t.Errorf("CanSpeak not recorded as false")
	}
	if dispatcher.escalateCalls != 1 {
		t.Errorf("escalate calls = %d, want 1", dispatcher.escalateCalls)
	}
}

func TestHandleEventCalmTextNeverDowngradesCritical(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	ctrl, files := newTestController(dispatcher)
	ctx := context.Background()

	if _, err := ctrl.HandleEvent(ctx, InboundEvent{SessionID: "sess-1", Text: "someone is following me"}); err != nil {
		t.Fatalf("first event: %v", err)
	}
	out, err := ctrl.HandleEvent(ctx, InboundEvent{SessionID: "sess-1", Text: "I'm fine now, false alarm"})
	if err != nil {
		t.Fatalf("second event: %v", err)
	}

	if out.CaseFile.RiskLevel != models.RiskCritical {
		t.Errorf("risk level = %s, calm text must not downgrade critical", out.CaseFile.RiskLevel)
	}
	cf, _ := files.Get("sess-1")
	if cf.State != models.StateCritical {
		t.Errorf("stored state = %s, want critical", cf.State)
	}
}

func TestHandleEventStandDownResolves(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	ctrl, _ := newTestController(dispatcher)
	ctx := context.Background()

	if _, err := ctrl.HandleEvent(ctx, InboundEvent{SessionID: "sess-1", Text: "he attacked me"}); err != nil {
		t.Fatalf("first event: %v", err)
	}
	out, err := ctrl.HandleEvent(ctx, InboundEvent{SessionID: "sess-1", Text: "I'm safe now, stand down"})
	if err != nil {
		t.Fatalf("stand-down event: %v", err)
	}

	if out.CaseFile.RiskLevel != models.RiskSafe {
		t.Errorf("risk level = %s, want safe after stand-down", out.CaseFile.RiskLevel)
	}
	if out.CaseFile.State != models.StateResolved {
		t.Errorf("state = %s, want resolved", out.CaseFile.State)
	}
	if out.Reply.Kind != ReplyResolved {
		t.Errorf("reply kind = %s, want resolved", out.Reply.Kind)
	}
}

func TestHandleEventExplicitStandDownFlag(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	ctrl, _ := newTestController(dispatcher)
	ctx := context.Background()

	if _, err := ctrl.HandleEvent(ctx, InboundEvent{SessionID: "sess-1", Text: "help"}); err != nil {
		t.Fatalf("first event: %v", err)
	}
	out, err := ctrl.HandleEvent(ctx, InboundEvent{SessionID: "sess-1", StandDown: true})
	if err != nil {
		t.Fatalf("stand-down event: %v", err)
	}
	if out.CaseFile.State != models.StateResolved {
		t.Errorf("state = %s, want resolved via explicit flag", out.CaseFile.State)
	}
}

func TestHandleEventElevatedSuggestsSafePlaces(t *testing.T) {
	dispatcher := &fakeDispatcher{
		places: []models.Place{{Name: "Central Police Station", Type: "police", DistanceMeters: 240}},
	}
	ctrl, _ := newTestController(dispatcher)

	out, err := ctrl.HandleEvent(context.Background(), InboundEvent{
		SessionID: "sess-1",
		Text:      "this street feels unsafe",
		Location:  &models.Location{Lat: 45.5, Lng: -73.56},
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if out.CaseFile.RiskLevel != models.RiskElevated {
		t.Errorf("risk level = %s, want elevated", out.CaseFile.RiskLevel)
	}
	if dispatcher.placesCalls != 1 {
		t.Errorf("places calls = %d, want 1", dispatcher.placesCalls)
	}
	if len(out.Reply.Places) != 1 {
		t.Fatalf("reply places = %d, want 1", len(out.Reply.Places))
	}
	if !strings.Contains(out.Reply.Message, "Central Police Station") {
		t.Errorf("reply does not mention the nearest place: %q", out.Reply.Message)
	}
	if dispatcher.notifyCalls != 0 {
		t.Errorf("elevated without consent must not notify, got %d calls", dispatcher.notifyCalls)
	}
}

func TestHandleEventElevatedWithoutLocationSkipsLookup(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	ctrl, _ := newTestController(dispatcher)

	_, err := ctrl.HandleEvent(context.Background(), InboundEvent{
		SessionID: "sess-1",
		Text:      "I'm scared",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if dispatcher.placesCalls != 0 {
		t.Errorf("places calls = %d, want 0 without a location", dispatcher.placesCalls)
	}
}

func TestHandleEventPreGrantedConsentDispatchesImmediately(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	ctrl, files := newTestController(dispatcher)

	granted := true
	if _, err := files.Update("sess-1", models.CaseFilePatch{
		Consent: &models.Consent{NotifyContact: &granted},
	}); err != nil {
		t.Fatalf("seeding consent: %v", err)
	}

	out, err := ctrl.HandleEvent(context.Background(), InboundEvent{SessionID: "sess-1", Text: "help, attacked"})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if dispatcher.notifyCalls != 1 {
		t.Errorf("notify calls = %d, want 1 with pre-granted consent", dispatcher.notifyCalls)
	}
	if out.Reply.Kind != ReplyActions {
		t.Errorf("reply kind = %s, want actions-taken", out.Reply.Kind)
	}
}

func TestHandleEventDispatchFailureFallsBack(t *testing.T) {
	dispatcher := &fakeDispatcher{
		notifyErr:   errors.New("telephony unreachable"),
		escalateErr: errors.New("telephony unreachable"),
	}
	ctrl, _ := newTestController(dispatcher)

	out, err := ctrl.HandleEvent(context.Background(), InboundEvent{SessionID: "sess-1", Text: "call 911"})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if out.Reply.Kind != ReplyFallback {
		t.Fatalf("reply kind = %s, want fallback", out.Reply.Kind)
	}
	lowered := strings.ToLower(out.Reply.Message)
	for _, claim := range []string{"has been alerted", "is being briefed", "i've alerted"} {
		if strings.Contains(lowered, claim) {
			t.Errorf("fallback reply claims success: %q", out.Reply.Message)
		}
	}
	if !strings.Contains(lowered, "emergency number") {
		t.Errorf("fallback reply does not suggest a direct alternative: %q", out.Reply.Message)
	}
}

func TestHandleEventTimelineRecordsUserText(t *testing.T) {
	ctrl, files := newTestController(&fakeDispatcher{})

	if _, err := ctrl.HandleEvent(context.Background(), InboundEvent{
		SessionID: "sess-1",
		Text:      "walking home now",
		Channel:   "voice",
	}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	cf, ok := files.Get("sess-1")
	if !ok {
		t.Fatal("case file not created")
	}
	if len(cf.Timeline) != 1 {
		t.Fatalf("timeline length = %d, want 1", len(cf.Timeline))
	}
	if cf.Timeline[0].Source != models.SourceUser {
		t.Errorf("timeline source = %s, want user", cf.Timeline[0].Source)
	}
	if !strings.Contains(cf.Timeline[0].Description, "[voice] walking home now") {
		t.Errorf("timeline description = %q", cf.Timeline[0].Description)
	}
}

func TestDeleteCaseFile(t *testing.T) {
	ctrl, files := newTestController(&fakeDispatcher{})

	if _, err := ctrl.HandleEvent(context.Background(), InboundEvent{SessionID: "sess-1", Text: "hello"}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if !ctrl.DeleteCaseFile("sess-1") {
		t.Fatal("DeleteCaseFile returned false for existing session")
	}
	if _, ok := files.Get("sess-1"); ok {
		t.Error("case file still readable after erasure")
	}
	if ctrl.DeleteCaseFile("sess-1") {
		t.Error("DeleteCaseFile returned true for erased session")
	}
}
