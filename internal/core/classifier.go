package core

import (
	"sort"
	"strings"

	"github.com/valter-silva-au/haven/pkg/models"
)

// criticalTerms immediately force the risk level to critical, regardless of
// the current level.
var criticalTerms = []string{
	"help",
	"attacked",
	"attacking",
	"trapped",
	"following me",
	"followed",
	"chasing me",
	"weapon",
	"gun",
	"knife",
	"hurt me",
	"grabbed",
	"kidnap",
	"can't get away",
	"cant get away",
	"911",
	"emergency",
}

// elevatedTerms raise the level to at least elevated; they never downgrade.
var elevatedTerms = []string{
	"scared",
	"afraid",
	"suspicious",
	"unsafe",
	"nervous",
	"uncomfortable",
	"creepy",
	"lost",
	"alone",
	"dark",
	"strange man",
	"strange car",
	"being watched",
}

// hardTriggerPhrases signal explicit intent to escalate. This is a separate
// signal from the risk keyword sets: danger level and intent-to-escalate are
// different things.
var hardTriggerPhrases = []string{
	"call 911",
	"call the police",
	"call police",
	"send help",
	"get help now",
	"contact my emergency contact",
	"text my contact",
	"i can't talk",
	"i cant talk",
	"can't speak",
	"cant speak",
}

// standDownPhrases are explicit all-clear confirmations. Only these move a
// critical session down; the absence of danger keywords never does.
var standDownPhrases = []string{
	"stand down",
	"i am safe now",
	"i'm safe now",
	"im safe now",
	"cancel the alert",
	"cancel alert",
	"false alarm, stand down",
}

// Classification is the result of one classifier pass.
type Classification struct {
	NewLevel     models.RiskLevel
	Rationale    string
	MatchedTerms []string
}

// Classifier maps free text plus the current risk level to a new risk level
// with a monotonic escalation bias. It is pure: no I/O, no stored state
// beyond the configured keyword sets.
type Classifier struct {
	critical []string
	elevated []string
}

// NewClassifier builds a Classifier from the built-in keyword sets plus any
// configured extensions.
func NewClassifier(cfg *models.EngineConfig) *Classifier {
	c := &Classifier{
		critical: append([]string(nil), criticalTerms...),
		elevated: append([]string(nil), elevatedTerms...),
	}
	if cfg != nil {
		c.critical = appendLowered(c.critical, cfg.ExtraCriticalTerms)
		c.elevated = appendLowered(c.elevated, cfg.ExtraElevatedTerms)
	}
	return c
}

func appendLowered(dst []string, terms []string) []string {
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			dst = append(dst, t)
		}
	}
	return dst
}

// Classify scans text against the keyword sets and returns the new risk
// level. Escalation always wins; critical is sticky until an explicit
// stand-down, which is handled by the controller rather than here.
func (c *Classifier) Classify(text string, current models.RiskLevel) Classification {
	if !models.ValidRiskLevel(current) {
		current = models.RiskSafe
	}
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return Classification{NewLevel: current, Rationale: "no signal"}
	}

	if matched := matchTerms(lowered, c.critical); len(matched) > 0 {
		return Classification{
			NewLevel:     models.RiskCritical,
			Rationale:    "critical trigger: " + strings.Join(matched, ", "),
			MatchedTerms: matched,
		}
	}

	if matched := matchTerms(lowered, c.elevated); len(matched) > 0 {
		return Classification{
			NewLevel:     models.MaxRiskLevel(current, models.RiskElevated),
			Rationale:    "elevated trigger: " + strings.Join(matched, ", "),
			MatchedTerms: matched,
		}
	}

	if current == models.RiskCritical {
		// Hysteresis: ambiguous silence is not safety. Downgrade needs
		// an explicit stand-down, not the absence of danger keywords.
		return Classification{NewLevel: models.RiskCritical, Rationale: "holding critical pending stand-down"}
	}

	return Classification{NewLevel: current, Rationale: "no risk terms matched"}
}

// HasHardTrigger reports whether text contains an explicit escalation
// request, checked independently of the risk keyword sets.
func HasHardTrigger(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range hardTriggerPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

// IsStandDown reports whether text is an explicit all-clear confirmation.
func IsStandDown(text string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range standDownPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

// matchTerms returns the sorted, deduplicated set of terms found in lowered.
func matchTerms(lowered string, terms []string) []string {
	seen := make(map[string]bool)
	for _, term := range terms {
		if strings.Contains(lowered, term) && !seen[term] {
			seen[term] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	matched := make([]string, 0, len(seen))
	for term := range seen {
		matched = append(matched, term)
	}
	sort.Strings(matched)
	return matched
}
