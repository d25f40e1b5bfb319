package storage

import (
	"testing"
	"time"

	"github.com/valter-silva-au/haven/pkg/models"
	"pgregory.net/rapid"
)

// Feature: haven, Property: Phone Normalization Is Idempotent
// Normalizing an already-normalized phone number changes nothing.
func TestProperty_PhoneNormalizationIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		raw := rapid.StringMatching(`\+?[0-9 ()-]{0,20}`).Draw(rt, "raw")

		once := NormalizePhone(raw)
		twice := NormalizePhone(once)
		if once != twice {
			t.Fatalf("NormalizePhone not idempotent: %q -> %q -> %q", raw, once, twice)
		}
	})
}

// Feature: haven, Property: Stored Coordinates Always In Range
// No matter what coordinates a patch carries, the stored location is within
// valid latitude/longitude bounds and has non-negative precision.
func TestProperty_StoredCoordinatesInRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := NewCaseFileManager(time.Minute)
		loc := models.Location{
			Lat:             rapid.Float64Range(-1000, 1000).Draw(rt, "lat"),
			Lng:             rapid.Float64Range(-1000, 1000).Draw(rt, "lng"),
			PrecisionMeters: rapid.Float64Range(-100, 100).Draw(rt, "precision"),
		}

		cf, err := store.Update("sess-prop", models.CaseFilePatch{Location: &loc})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		got := cf.Location
		if got.Lat < -90 || got.Lat > 90 {
			t.Fatalf("stored lat %g out of range", got.Lat)
		}
		if got.Lng < -180 || got.Lng > 180 {
			t.Fatalf("stored lng %g out of range", got.Lng)
		}
		if got.PrecisionMeters < 0 {
			t.Fatalf("stored precision %g negative", got.PrecisionMeters)
		}
	})
}

// Feature: haven, Property: Merge Never Clears Absent Fields
// A patch that omits a field leaves the stored value untouched, for any
// combination of present and absent patch fields.
func TestProperty_MergeNeverClearsAbsentFields(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := NewCaseFileManager(time.Minute)

		name := rapid.StringMatching(`[A-Za-z]{1,12}`).Draw(rt, "name")
		if _, err := store.Update("sess-prop", models.CaseFilePatch{
			Contact:  &models.ContactPatch{Name: &name, Phone: strPtr("+15145605707")},
			Location: &models.Location{Lat: 45.5, Lng: -73.56},
		}); err != nil {
			t.Fatalf("seed update: %v", err)
		}

		patch := models.CaseFilePatch{}
		if rapid.Bool().Draw(rt, "setRisk") {
			patch.RiskLevel = riskPtr(riskGenerator().Draw(rt, "risk"))
		}
		if rapid.Bool().Draw(rt, "setRelationship") {
			patch.Contact = &models.ContactPatch{Relationship: strPtr("friend")}
		}
		if rapid.Bool().Draw(rt, "setConsent") {
			patch.Consent = &models.Consent{NotifyContact: boolPtr(rapid.Bool().Draw(rt, "granted"))}
		}

		cf, err := store.Update("sess-prop", patch)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if cf.Contact == nil || cf.Contact.Name != name || cf.Contact.Phone != "+15145605707" {
			t.Fatalf("merge cleared contact fields absent from the patch: %+v", cf.Contact)
		}
		if cf.Location == nil || cf.Location.Lat != 45.5 || cf.Location.Lng != -73.56 {
			t.Fatalf("merge cleared location absent from the patch: %+v", cf.Location)
		}
	})
}

func riskGenerator() *rapid.Generator[models.RiskLevel] {
	return rapid.SampledFrom([]models.RiskLevel{
		models.RiskSafe, models.RiskElevated, models.RiskCritical,
	})
}
