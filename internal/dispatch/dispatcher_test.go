package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/haven/internal/observability"
	"github.com/valter-silva-au/haven/internal/storage"
	"github.com/valter-silva-au/haven/pkg/models"
)

// fakeTelephony records outbound messages and calls.
type fakeTelephony struct {
	messages []string
	calls    []string
	err      error
}

func (f *fakeTelephony) SendMessage(ctx context.Context, to, body string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.messages = append(f.messages, to+": "+body)
	return "msg-1", nil
}

func (f *fakeTelephony) PlaceCall(ctx context.Context, to, script string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, to+": "+script)
	return "call-1", nil
}

// fakePlaces returns a fixed candidate set.
type fakePlaces struct {
	results []models.Place
	err     error
}

func (f *fakePlaces) Search(ctx context.Context, loc models.Location, radiusMeters float64, types []string) ([]models.Place, error) {
	return f.results, f.err
}

func testConfig() *models.EngineConfig {
	return &models.EngineConfig{
		SuccessWindow:    12 * time.Second,
		FailureWindow:    3 * time.Second,
		KeyWindow:        10 * time.Second,
		DispatchTimeout:  6 * time.Second,
		ThrottleInterval: 30 * time.Second,
		MaxSafePlaces:    5,
		ResponderNum:     "+15140001111",
	}
}

func newTestDispatcher(tel Telephony, places Places) (*Dispatcher, storage.CaseFileManager) {
	cfg := testConfig()
	files := storage.NewCaseFileManager(time.Minute)
	gate := NewGate(cfg.SuccessWindow, cfg.FailureWindow)
	d := NewDispatcher(gate, tel, places, files, observability.NopAuditLog(), cfg)
	return d, files
}

func seedCaseFile(t *testing.T, files storage.CaseFileManager, sessionID string) *models.CaseFile {
	t.Helper()
	phone := "+15145605707"
	name := "Dana"
	granted := true
	cf, err := files.Update(sessionID, models.CaseFilePatch{
		Contact:  &models.ContactPatch{Name: &name, Phone: &phone},
		Location: &models.Location{Lat: 45.50884, Lng: -73.56101},
		Consent:  &models.Consent{ShareLocation: &granted},
	})
	if err != nil {
		t.Fatalf("seeding case file: %v", err)
	}
	return cf
}

func TestNotifyContactRecordsSuccess(t *testing.T) {
	tel := &fakeTelephony{}
	d, files := newTestDispatcher(tel, &fakePlaces{})
	cf := seedCaseFile(t, files, "sess-1")

	rec, err := d.NotifyContact(context.Background(), cf)
	if err != nil {
		t.Fatalf("NotifyContact: %v", err)
	}
	if rec.Outcome != models.OutcomeSuccess {
		t.Errorf("outcome = %s, want success", rec.Outcome)
	}
	if rec.Action != ActionNotifyContact {
		t.Errorf("action = %q", rec.Action)
	}
	if rec.IdempotencyKey == "" {
		t.Error("record missing idempotency key")
	}
	if len(tel.messages) != 1 {
		t.Fatalf("messages sent = %d, want 1", len(tel.messages))
	}

	stored, _ := files.Get("sess-1")
	if len(stored.ActionsTaken) != 1 {
		t.Errorf("actions on case file = %d, want 1", len(stored.ActionsTaken))
	}
	if len(stored.Timeline) == 0 {
		t.Error("no timeline event recorded for the action")
	}
}

func TestNotifyContactDuplicateSuppressed(t *testing.T) {
	tel := &fakeTelephony{}
	d, files := newTestDispatcher(tel, &fakePlaces{})
	cf := seedCaseFile(t, files, "sess-1")

	if _, err := d.NotifyContact(context.Background(), cf); err != nil {
		t.Fatalf("first NotifyContact: %v", err)
	}
	rec, err := d.NotifyContact(context.Background(), cf)
	if err != nil {
		t.Fatalf("second NotifyContact: %v", err)
	}

	if rec.Outcome != models.OutcomeDuplicate {
		t.Errorf("second outcome = %s, want suppressed-duplicate", rec.Outcome)
	}
	if len(tel.messages) != 1 {
		t.Errorf("messages sent = %d, the duplicate must not re-send", len(tel.messages))
	}

	stored, _ := files.Get("sess-1")
	if len(stored.ActionsTaken) != 2 {
		t.Errorf("actions on case file = %d, both attempts must be recorded", len(stored.ActionsTaken))
	}
}

func TestNotifyContactMissingContact(t *testing.T) {
	tel := &fakeTelephony{}
	d, files := newTestDispatcher(tel, &fakePlaces{})
	cf, _ := files.Update("sess-1", models.CaseFilePatch{})

	rec, err := d.NotifyContact(context.Background(), cf)
	if !errors.Is(err, ErrActionFailed) {
		t.Errorf("err = %v, want ErrActionFailed", err)
	}
	if rec.Outcome != models.OutcomeFailure {
		t.Errorf("outcome = %s, want failure", rec.Outcome)
	}
	if len(tel.messages) != 0 {
		t.Errorf("messages sent = %d, want 0", len(tel.messages))
	}
}

func TestNotifyContactTelephonyFailure(t *testing.T) {
	tel := &fakeTelephony{err: errors.New("relay unreachable")}
	d, files := newTestDispatcher(tel, &fakePlaces{})
	cf := seedCaseFile(t, files, "sess-1")

	rec, err := d.NotifyContact(context.Background(), cf)
	if !errors.Is(err, ErrActionFailed) {
		t.Errorf("err = %v, want ErrActionFailed", err)
	}
	if rec.Outcome != models.OutcomeFailure {
		t.Errorf("outcome = %s, want failure", rec.Outcome)
	}

	// The failed attempt still lands on the case file audit trail.
	stored, _ := files.Get("sess-1")
	if len(stored.ActionsTaken) != 1 || stored.ActionsTaken[0].Outcome != models.OutcomeFailure {
		t.Errorf("failure not recorded on case file: %+v", stored.ActionsTaken)
	}
}

func TestEscalateToResponder(t *testing.T) {
	tel := &fakeTelephony{}
	d, files := newTestDispatcher(tel, &fakePlaces{})
	cf := seedCaseFile(t, files, "sess-1")

	rec, err := d.EscalateToResponder(context.Background(), cf)
	if err != nil {
		t.Fatalf("EscalateToResponder: %v", err)
	}
	if rec.Outcome != models.OutcomeSuccess {
		t.Errorf("outcome = %s, want success", rec.Outcome)
	}
	if len(tel.calls) != 1 {
		t.Fatalf("calls placed = %d, want 1", len(tel.calls))
	}
}

func TestEscalateWithoutResponderNumber(t *testing.T) {
	d, files := newTestDispatcher(&fakeTelephony{}, &fakePlaces{})
	d.cfg.ResponderNum = ""
	cf := seedCaseFile(t, files, "sess-1")

	rec, err := d.EscalateToResponder(context.Background(), cf)
	if !errors.Is(err, ErrActionFailed) {
		t.Errorf("err = %v, want ErrActionFailed", err)
	}
	if rec.Outcome != models.OutcomeFailure {
		t.Errorf("outcome = %s, want failure", rec.Outcome)
	}
}

func TestFindSafeLocationsRanksAndLimits(t *testing.T) {
	places := &fakePlaces{results: []models.Place{
		{Name: "Late Cafe", Type: "cafe", DistanceMeters: 50},
		{Name: "Corner Store", Type: "convenience", DistanceMeters: 120},
		{Name: "Gas Stop", Type: "gas_station", DistanceMeters: 90},
		{Name: "Central Police", Type: "police", DistanceMeters: 800},
		{Name: "St. Mary Hospital", Type: "hospital", DistanceMeters: 400},
		{Name: "Pharmaprix", Type: "pharmacy", DistanceMeters: 200},
		{Name: "Diner", Type: "restaurant", DistanceMeters: 30},
	}}
	d, files := newTestDispatcher(&fakeTelephony{}, places)
	cf := seedCaseFile(t, files, "sess-1")

	rec, ranked, err := d.FindSafeLocations(context.Background(), cf)
	if err != nil {
		t.Fatalf("FindSafeLocations: %v", err)
	}
	if rec.Outcome != models.OutcomeSuccess {
		t.Errorf("outcome = %s, want success", rec.Outcome)
	}
	if len(ranked) != 5 {
		t.Fatalf("ranked = %d places, want capped at 5", len(ranked))
	}

	wantOrder := []string{"St. Mary Hospital", "Central Police", "Pharmaprix", "Gas Stop", "Corner Store"}
	for i, want := range wantOrder {
		if ranked[i].Name != want {
			t.Errorf("ranked[%d] = %s, want %s", i, ranked[i].Name, want)
		}
	}
}

func TestFindSafeLocationsMissingLocation(t *testing.T) {
	d, files := newTestDispatcher(&fakeTelephony{}, &fakePlaces{})
	cf, _ := files.Update("sess-1", models.CaseFilePatch{})

	rec, ranked, err := d.FindSafeLocations(context.Background(), cf)
	if !errors.Is(err, ErrActionFailed) {
		t.Errorf("err = %v, want ErrActionFailed", err)
	}
	if rec.Outcome != models.OutcomeFailure {
		t.Errorf("outcome = %s, want failure", rec.Outcome)
	}
	if ranked != nil {
		t.Errorf("ranked = %v, want nil", ranked)
	}
}

func TestDispatchByName(t *testing.T) {
	tel := &fakeTelephony{}
	d, files := newTestDispatcher(tel, &fakePlaces{})
	seedCaseFile(t, files, "sess-1")

	if _, err := d.Dispatch(context.Background(), ActionNotifyContact, "sess-1"); err != nil {
		t.Errorf("Dispatch(notify-contact): %v", err)
	}
	if _, err := d.Dispatch(context.Background(), "self-destruct", "sess-1"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Dispatch(unknown) err = %v, want ErrUnknownAction", err)
	}
	if _, err := d.Dispatch(context.Background(), ActionNotifyContact, "never-seen"); err == nil {
		t.Error("Dispatch for unknown session succeeded")
	}
}

func TestAlertMessageRespectsLocationConsent(t *testing.T) {
	phone := "+15145605707"
	withConsent := true
	cf := &models.CaseFile{
		SessionID: "sess-1",
		Contact:   &models.Contact{Phone: phone, Relationship: "sister"},
		Location:  &models.Location{Lat: 45.50884, Lng: -73.56101},
		Consent:   models.Consent{ShareLocation: &withConsent},
	}

	msg := alertMessage(cf)
	if !strings.Contains(msg, "45.50884") {
		t.Errorf("consented alert omits location: %q", msg)
	}

	withConsent = false
	msg = alertMessage(cf)
	if strings.Contains(msg, "45.50884") {
		t.Errorf("alert leaks location without consent: %q", msg)
	}
}
