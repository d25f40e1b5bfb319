package models

import "time"

// EventSource identifies who produced a timeline entry.
type EventSource string

const (
	SourceUser   EventSource = "user"
	SourceSystem EventSource = "system"
	SourceAI     EventSource = "ai"
)

// ValidEventSource reports whether the given value is a known event source.
func ValidEventSource(s EventSource) bool {
	switch s {
	case SourceUser, SourceSystem, SourceAI:
		return true
	}
	return false
}

// Location is a point with an accuracy radius. Coordinates are clamped to
// valid ranges at write time rather than rejected.
type Location struct {
	Lat             float64 `yaml:"lat" json:"lat"`
	Lng             float64 `yaml:"lng" json:"lng"`
	PrecisionMeters float64 `yaml:"precision_meters" json:"precision_meters"`
	Address         string  `yaml:"address,omitempty" json:"address,omitempty"`
}

// Contact is an emergency contact. Phone is always stored in E.164 form;
// other formats are coerced at write time.
type Contact struct {
	Name         string `yaml:"name" json:"name"`
	Phone        string `yaml:"phone" json:"phone"`
	Relationship string `yaml:"relationship,omitempty" json:"relationship,omitempty"`
}

// Consent records what the user has authorized. Nil means not yet asked.
type Consent struct {
	ShareLocation *bool `yaml:"share_location,omitempty" json:"share_location,omitempty"`
	NotifyContact *bool `yaml:"notify_contact,omitempty" json:"notify_contact,omitempty"`
}

// ThreatInfo captures what is known about the threat itself.
type ThreatInfo struct {
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Direction   string `yaml:"direction,omitempty" json:"direction,omitempty"`
	Distance    string `yaml:"distance,omitempty" json:"distance,omitempty"`
}

// TimelineEvent is one append-only entry in a case file's history.
// Insertion order is causal order within a session.
type TimelineEvent struct {
	Timestamp   time.Time   `yaml:"timestamp" json:"timestamp"`
	Description string      `yaml:"description" json:"description"`
	Source      EventSource `yaml:"source" json:"source"`
}

// ActionOutcome describes how a dispatched action concluded.
type ActionOutcome string

const (
	OutcomeSuccess ActionOutcome = "success"
	OutcomeFailure ActionOutcome = "failure"
	// OutcomeDuplicate means the idempotency gate found a fresh cached
	// result and skipped re-invocation. Not an error; kept distinct from
	// success for audit.
	OutcomeDuplicate ActionOutcome = "suppressed-duplicate"
)

// ActionRecord is the audit entry for one attempted external action.
type ActionRecord struct {
	ID             string        `yaml:"id" json:"id"`
	Action         string        `yaml:"action" json:"action"`
	IdempotencyKey string        `yaml:"idempotency_key" json:"idempotency_key"`
	Outcome        ActionOutcome `yaml:"outcome" json:"outcome"`
	Detail         string        `yaml:"detail,omitempty" json:"detail,omitempty"`
	Timestamp      time.Time     `yaml:"timestamp" json:"timestamp"`
}

// CaseFile is the authoritative per-session record of facts, consent, and
// actions taken. One exists per session; it is created on the first event
// and only removed by an explicit privacy erasure.
type CaseFile struct {
	SessionID string    `yaml:"session_id" json:"session_id"`
	RiskLevel RiskLevel `yaml:"risk_level" json:"risk_level"`

	State          SessionState `yaml:"state" json:"state"`
	PendingConsent string       `yaml:"pending_consent,omitempty" json:"pending_consent,omitempty"`

	CanSpeak *bool       `yaml:"can_speak,omitempty" json:"can_speak,omitempty"`
	Location *Location   `yaml:"location,omitempty" json:"location,omitempty"`
	Contact  *Contact    `yaml:"emergency_contact,omitempty" json:"emergency_contact,omitempty"`
	Consent  Consent     `yaml:"consent" json:"consent"`
	Threat   *ThreatInfo `yaml:"threat,omitempty" json:"threat,omitempty"`

	Timeline     []TimelineEvent `yaml:"timeline" json:"timeline"`
	ActionsTaken []ActionRecord  `yaml:"actions_taken" json:"actions_taken"`
	Notes        []string        `yaml:"notes,omitempty" json:"notes,omitempty"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// CaseFilePatch is a tagged partial update for a CaseFile. Nil fields are
// left untouched by a merge. Object fields merge key by key; sequence fields
// present in a patch replace the stored sequence wholesale — callers that
// want to append must use the store's append helpers.
type CaseFilePatch struct {
	RiskLevel      *RiskLevel    `yaml:"risk_level,omitempty" json:"risk_level,omitempty"`
	State          *SessionState `yaml:"state,omitempty" json:"state,omitempty"`
	PendingConsent *string       `yaml:"pending_consent,omitempty" json:"pending_consent,omitempty"`

	CanSpeak *bool         `yaml:"can_speak,omitempty" json:"can_speak,omitempty"`
	Location *Location     `yaml:"location,omitempty" json:"location,omitempty"`
	Contact  *ContactPatch `yaml:"emergency_contact,omitempty" json:"emergency_contact,omitempty"`
	Consent  *Consent      `yaml:"consent,omitempty" json:"consent,omitempty"`
	Threat   *ThreatPatch  `yaml:"threat,omitempty" json:"threat,omitempty"`

	Timeline     []TimelineEvent `yaml:"timeline,omitempty" json:"timeline,omitempty"`
	ActionsTaken []ActionRecord  `yaml:"actions_taken,omitempty" json:"actions_taken,omitempty"`
	Notes        []string        `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// ContactPatch is a partial update for a Contact.
type ContactPatch struct {
	Name         *string `yaml:"name,omitempty" json:"name,omitempty"`
	Phone        *string `yaml:"phone,omitempty" json:"phone,omitempty"`
	Relationship *string `yaml:"relationship,omitempty" json:"relationship,omitempty"`
}

// ThreatPatch is a partial update for a ThreatInfo.
type ThreatPatch struct {
	Description *string `yaml:"description,omitempty" json:"description,omitempty"`
	Direction   *string `yaml:"direction,omitempty" json:"direction,omitempty"`
	Distance    *string `yaml:"distance,omitempty" json:"distance,omitempty"`
}

// RedactedCaseFile is the export form of a case file with contact and
// location detail masked for sharing outside the engine.
type RedactedCaseFile struct {
	SessionID    string          `yaml:"session_id" json:"session_id"`
	RiskLevel    RiskLevel       `yaml:"risk_level" json:"risk_level"`
	State        SessionState    `yaml:"state" json:"state"`
	Contact      *Contact        `yaml:"emergency_contact,omitempty" json:"emergency_contact,omitempty"`
	Location     *Location       `yaml:"location,omitempty" json:"location,omitempty"`
	Timeline     []TimelineEvent `yaml:"timeline" json:"timeline"`
	ActionsTaken []ActionRecord  `yaml:"actions_taken" json:"actions_taken"`
	CreatedAt    time.Time       `yaml:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `yaml:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy of the case file so callers never hold a
// reference into store-owned state.
func (c *CaseFile) Clone() *CaseFile {
	if c == nil {
		return nil
	}
	out := *c
	out.CanSpeak = cloneBool(c.CanSpeak)
	if c.Location != nil {
		loc := *c.Location
		out.Location = &loc
	}
	if c.Contact != nil {
		ct := *c.Contact
		out.Contact = &ct
	}
	out.Consent = Consent{
		ShareLocation: cloneBool(c.Consent.ShareLocation),
		NotifyContact: cloneBool(c.Consent.NotifyContact),
	}
	if c.Threat != nil {
		th := *c.Threat
		out.Threat = &th
	}
	out.Timeline = append([]TimelineEvent(nil), c.Timeline...)
	out.ActionsTaken = append([]ActionRecord(nil), c.ActionsTaken...)
	out.Notes = append([]string(nil), c.Notes...)
	return &out
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
