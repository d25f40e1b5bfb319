// Package storage provides the in-memory authoritative stores of the
// incident engine: the case file store and the session registry. Each store
// owns its own keyed map and synchronizes every mutation internally; callers
// only ever see deep copies.
package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valter-silva-au/haven/pkg/models"
)

var (
	// ErrInvalidSessionID is returned for malformed session identifiers.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrSessionErased is returned for writes to a session that was
	// erased and is still within its tombstone window.
	ErrSessionErased = errors.New("session erased")
)

// CoercionLogger receives warnings about values that were coerced to a safe
// default during normalization.
type CoercionLogger interface {
	Warn(msg string, data map[string]any)
}

// CaseFileManager is the authoritative store of per-session case files.
type CaseFileManager interface {
	Get(sessionID string) (*models.CaseFile, bool)
	Update(sessionID string, patch models.CaseFilePatch) (*models.CaseFile, error)
	AppendTimeline(sessionID string, ev models.TimelineEvent) (*models.CaseFile, error)
	AppendAction(sessionID string, rec models.ActionRecord) (*models.CaseFile, error)
	AppendNote(sessionID string, note string) (*models.CaseFile, error)
	Delete(sessionID string) bool
	Export(sessionID string) (*models.RedactedCaseFile, bool)
	List() []*models.CaseFile
}

// caseFileStore implements CaseFileManager with a mutex-guarded map and
// per-session entry locks, so merges for one session are serialized
// read-modify-write while distinct sessions proceed in parallel.
type caseFileStore struct {
	mu        sync.Mutex
	entries   map[string]*caseFileEntry
	tombstone map[string]time.Time

	tombstoneTTL time.Duration
	logger       CoercionLogger
	now          func() time.Time
}

type caseFileEntry struct {
	mu   sync.Mutex
	file *models.CaseFile
}

// CaseFileOption configures a case file store.
type CaseFileOption func(*caseFileStore)

// WithCoercionLogger sets the logger that receives normalization warnings.
func WithCoercionLogger(l CoercionLogger) CaseFileOption {
	return func(s *caseFileStore) { s.logger = l }
}

// WithClock overrides the store's time source. Used by tests.
func WithClock(now func() time.Time) CaseFileOption {
	return func(s *caseFileStore) { s.now = now }
}

// NewCaseFileManager creates an empty case file store. Deleted sessions are
// tombstoned for tombstoneTTL; writes within that window are rejected so a
// stray late event cannot silently resurrect an erased record.
func NewCaseFileManager(tombstoneTTL time.Duration, opts ...CaseFileOption) CaseFileManager {
	s := &caseFileStore{
		entries:      make(map[string]*caseFileEntry),
		tombstone:    make(map[string]time.Time),
		tombstoneTTL: tombstoneTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// entry returns the entry for sessionID, creating it when absent. It
// enforces the tombstone window for recreation.
func (s *caseFileStore) entry(sessionID string, create bool) (*caseFileEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if until, ok := s.tombstone[sessionID]; ok {
		if s.now().Before(until) {
			return nil, fmt.Errorf("%w: %s", ErrSessionErased, sessionID)
		}
		delete(s.tombstone, sessionID)
	}

	e, ok := s.entries[sessionID]
	if !ok {
		if !create {
			return nil, nil
		}
		now := s.now().UTC()
		e = &caseFileEntry{file: &models.CaseFile{
			SessionID: sessionID,
			RiskLevel: models.RiskSafe,
			State:     models.StateSafe,
			CreatedAt: now,
			UpdatedAt: now,
		}}
		s.entries[sessionID] = e
	}
	return e, nil
}

// Get returns a deep copy of the case file for sessionID.
func (s *caseFileStore) Get(sessionID string) (*models.CaseFile, bool) {
	if !models.ValidSessionID(sessionID) {
		return nil, false
	}
	e, err := s.entry(sessionID, false)
	if err != nil || e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Clone(), true
}

// Update normalizes the patch, deep-merges it into the stored record
// (creating one on first write), and stamps UpdatedAt. Object fields merge
// key by key; sequence fields present in the patch replace the stored
// sequence wholesale. Two concurrent updates to one session never
// interleave fields: each merge is atomic under the entry lock.
func (s *caseFileStore) Update(sessionID string, patch models.CaseFilePatch) (*models.CaseFile, error) {
	if !models.ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	e, err := s.entry(sessionID, true)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s.normalizePatch(sessionID, &patch)
	mergePatch(e.file, &patch)
	s.stamp(e.file)
	return e.file.Clone(), nil
}

// mutate runs fn against the live record under the entry lock.
func (s *caseFileStore) mutate(sessionID string, fn func(*models.CaseFile)) (*models.CaseFile, error) {
	if !models.ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	e, err := s.entry(sessionID, true)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.file)
	s.stamp(e.file)
	return e.file.Clone(), nil
}

// AppendTimeline appends one event to the session's timeline. The timeline
// is append-only; this helper exists so callers never have to round-trip
// the whole sequence through a patch.
func (s *caseFileStore) AppendTimeline(sessionID string, ev models.TimelineEvent) (*models.CaseFile, error) {
	return s.mutate(sessionID, func(cf *models.CaseFile) {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = s.now().UTC()
		}
		if !models.ValidEventSource(ev.Source) {
			s.warn("unknown timeline source coerced to system", map[string]any{
				"session_id": sessionID,
				"source":     string(ev.Source),
			})
			ev.Source = models.SourceSystem
		}
		cf.Timeline = append(cf.Timeline, ev)
	})
}

// AppendAction appends one action record to the session's audit sequence.
func (s *caseFileStore) AppendAction(sessionID string, rec models.ActionRecord) (*models.CaseFile, error) {
	return s.mutate(sessionID, func(cf *models.CaseFile) {
		if rec.Timestamp.IsZero() {
			rec.Timestamp = s.now().UTC()
		}
		cf.ActionsTaken = append(cf.ActionsTaken, rec)
	})
}

// AppendNote appends one free-form note.
func (s *caseFileStore) AppendNote(sessionID string, note string) (*models.CaseFile, error) {
	return s.mutate(sessionID, func(cf *models.CaseFile) {
		cf.Notes = append(cf.Notes, note)
	})
}

// Delete erases the case file and leaves a tombstone for the configured
// window. Returns false if no case file existed.
func (s *caseFileStore) Delete(sessionID string) bool {
	if !models.ValidSessionID(sessionID) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[sessionID]; !ok {
		return false
	}
	delete(s.entries, sessionID)
	if s.tombstoneTTL > 0 {
		s.tombstone[sessionID] = s.now().Add(s.tombstoneTTL)
	}
	return true
}

// Export returns a redacted copy of the case file for sharing outside the
// engine: phone digits are masked and coordinates are coarsened.
func (s *caseFileStore) Export(sessionID string) (*models.RedactedCaseFile, bool) {
	cf, ok := s.Get(sessionID)
	if !ok {
		return nil, false
	}
	out := &models.RedactedCaseFile{
		SessionID:    cf.SessionID,
		RiskLevel:    cf.RiskLevel,
		State:        cf.State,
		Timeline:     cf.Timeline,
		ActionsTaken: cf.ActionsTaken,
		CreatedAt:    cf.CreatedAt,
		UpdatedAt:    cf.UpdatedAt,
	}
	if cf.Contact != nil {
		out.Contact = &models.Contact{
			Name:         cf.Contact.Name,
			Phone:        maskPhone(cf.Contact.Phone),
			Relationship: cf.Contact.Relationship,
		}
	}
	if cf.Location != nil {
		out.Location = &models.Location{
			Lat:             coarsen(cf.Location.Lat),
			Lng:             coarsen(cf.Location.Lng),
			PrecisionMeters: cf.Location.PrecisionMeters,
		}
	}
	return out, true
}

// List returns deep copies of every live case file, for the dashboard and
// MCP listing. Ordering is unspecified.
func (s *caseFileStore) List() []*models.CaseFile {
	s.mu.Lock()
	entries := make([]*caseFileEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]*models.CaseFile, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.file.Clone())
		e.mu.Unlock()
	}
	return out
}

// stamp advances UpdatedAt monotonically. A clock that steps backwards
// never moves the stamp back.
func (s *caseFileStore) stamp(cf *models.CaseFile) {
	now := s.now().UTC()
	if now.After(cf.UpdatedAt) {
		cf.UpdatedAt = now
	}
}

func (s *caseFileStore) warn(msg string, data map[string]any) {
	if s.logger != nil {
		s.logger.Warn(msg, data)
	}
}

// normalizePatch coerces patch values into their stored form: phones to
// E.164, coordinates clamped into range, enum fields validated against the
// known sets with invalid values logged and replaced rather than rejected.
func (s *caseFileStore) normalizePatch(sessionID string, patch *models.CaseFilePatch) {
	if patch.RiskLevel != nil && !models.ValidRiskLevel(*patch.RiskLevel) {
		s.warn("unknown risk level coerced to safe", map[string]any{
			"session_id": sessionID,
			"risk_level": string(*patch.RiskLevel),
		})
		safe := models.RiskSafe
		patch.RiskLevel = &safe
	}
	if patch.Location != nil {
		clampLocation(patch.Location)
	}
	if patch.Contact != nil && patch.Contact.Phone != nil {
		normalized := NormalizePhone(*patch.Contact.Phone)
		patch.Contact.Phone = &normalized
	}
	for i := range patch.Timeline {
		if !models.ValidEventSource(patch.Timeline[i].Source) {
			s.warn("unknown timeline source coerced to system", map[string]any{
				"session_id": sessionID,
				"source":     string(patch.Timeline[i].Source),
			})
			patch.Timeline[i].Source = models.SourceSystem
		}
	}
}

// mergePatch applies the normalized patch onto the stored record.
func mergePatch(cf *models.CaseFile, patch *models.CaseFilePatch) {
	if patch.RiskLevel != nil {
		cf.RiskLevel = *patch.RiskLevel
	}
	if patch.State != nil {
		cf.State = *patch.State
	}
	if patch.PendingConsent != nil {
		cf.PendingConsent = *patch.PendingConsent
	}
	if patch.CanSpeak != nil {
		v := *patch.CanSpeak
		cf.CanSpeak = &v
	}
	if patch.Location != nil {
		loc := *patch.Location
		cf.Location = &loc
	}
	if patch.Contact != nil {
		if cf.Contact == nil {
			cf.Contact = &models.Contact{}
		}
		if patch.Contact.Name != nil {
			cf.Contact.Name = *patch.Contact.Name
		}
		if patch.Contact.Phone != nil {
			cf.Contact.Phone = *patch.Contact.Phone
		}
		if patch.Contact.Relationship != nil {
			cf.Contact.Relationship = *patch.Contact.Relationship
		}
	}
	if patch.Consent != nil {
		if patch.Consent.ShareLocation != nil {
			v := *patch.Consent.ShareLocation
			cf.Consent.ShareLocation = &v
		}
		if patch.Consent.NotifyContact != nil {
			v := *patch.Consent.NotifyContact
			cf.Consent.NotifyContact = &v
		}
	}
	if patch.Threat != nil {
		if cf.Threat == nil {
			cf.Threat = &models.ThreatInfo{}
		}
		if patch.Threat.Description != nil {
			cf.Threat.Description = *patch.Threat.Description
		}
		if patch.Threat.Direction != nil {
			cf.Threat.Direction = *patch.Threat.Direction
		}
		if patch.Threat.Distance != nil {
			cf.Threat.Distance = *patch.Threat.Distance
		}
	}
	// Sequences in a patch replace wholesale. Appending goes through the
	// dedicated helpers instead.
	if patch.Timeline != nil {
		cf.Timeline = append([]models.TimelineEvent(nil), patch.Timeline...)
	}
	if patch.ActionsTaken != nil {
		cf.ActionsTaken = append([]models.ActionRecord(nil), patch.ActionsTaken...)
	}
	if patch.Notes != nil {
		cf.Notes = append([]string(nil), patch.Notes...)
	}
}

// clampLocation forces coordinates into valid ranges. Out-of-range inputs
// are clamped, not rejected: a slightly bad fix is still a fix.
func clampLocation(loc *models.Location) {
	loc.Lat = clamp(loc.Lat, -90, 90)
	loc.Lng = clamp(loc.Lng, -180, 180)
	if loc.PrecisionMeters < 0 {
		loc.PrecisionMeters = 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NormalizePhone coerces a phone number to E.164. Ten-digit numbers are
// treated as NANP and prefixed with +1; eleven digits starting with 1 get a
// plus sign; anything already carrying a plus keeps its country code.
func NormalizePhone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	hasPlus := strings.HasPrefix(trimmed, "+")

	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if d == "" {
		return trimmed
	}

	switch {
	case hasPlus:
		return "+" + d
	case len(d) == 10:
		return "+1" + d
	case len(d) == 11 && strings.HasPrefix(d, "1"):
		return "+" + d
	default:
		return "+" + d
	}
}

// maskPhone keeps the last four digits of an E.164 number.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	masked := []rune(phone)
	for i := 0; i < len(masked)-4; i++ {
		if masked[i] >= '0' && masked[i] <= '9' {
			masked[i] = '*'
		}
	}
	return string(masked)
}

// coarsen rounds a coordinate to two decimal places (roughly 1 km), enough
// for an exported audit trail without pinpointing the user.
func coarsen(v float64) float64 {
	return float64(int64(v*100)) / 100
}
