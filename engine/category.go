/*
category.go - Category tier resolution

PURPOSE:
  Maps a metric snapshot (or a manual override) to a category tier using
  priority-ordered threshold requirements. The resolver scans tiers from
  highest to lowest; the first tier whose requirements ALL hold wins, and
  INSTRUCTOR is the floor when none do.

REQUIREMENTS:
  Requirements are a closed typed set (RequirementKey), not loosely-typed
  string records. Numeric keys compare the snapshot metric against a decimal
  threshold; boolean keys require the flag to be set.

REASON TRACE:
  Every resolution produces an ordered (key, required, actual, met) trace for
  the chosen tier. The trace is the audit anchor operators see, and the
  basis for diffing manual vs automatic decisions.

MANUAL OVERRIDES:
  A manual override always wins. It is returned verbatim with Manual=true
  and no requirement checks are evaluated.
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REQUIREMENT MODEL - Closed key set
// =============================================================================

type RequirementKey string

const (
	ReqMinOccupancy        RequirementKey = "min_occupancy"
	ReqMinNonPrime         RequirementKey = "min_non_prime"
	ReqMinLocations        RequirementKey = "min_locations"
	ReqMinDoubleShifts     RequirementKey = "min_double_shifts"
	ReqEventParticipation  RequirementKey = "event_participation"
	ReqGuidelineCompliance RequirementKey = "guideline_compliance"
)

func (k RequirementKey) Valid() bool {
	switch k {
	case ReqMinOccupancy, ReqMinNonPrime, ReqMinLocations,
		ReqMinDoubleShifts, ReqEventParticipation, ReqGuidelineCompliance:
		return true
	}
	return false
}

// Requirement is one threshold predicate. Boolean keys use Value 1 to mean
// "required true"; numeric keys compare >= Value.
type Requirement struct {
	Key   RequirementKey
	Value decimal.Decimal
}

// CategoryRequirements holds the ordered requirement list per tier for one
// (period, discipline) combination. Tiers above INSTRUCTOR must be present;
// a missing tier is a configuration error, never a silent default.
type CategoryRequirements map[Category][]Requirement

// Validate checks that every tier above the floor carries at least one
// requirement, each with a valid key.
func (cr CategoryRequirements) Validate() error {
	if len(cr) == 0 {
		return &ConfigurationError{Kind: "requirements", Key: "empty requirement set"}
	}
	for _, cat := range CategoriesByPriority() {
		if cat == CategoryInstructor {
			continue
		}
		reqs, ok := cr[cat]
		if !ok {
			return &ConfigurationError{Kind: "requirements", Key: fmt.Sprintf("category=%s", cat)}
		}
		// An empty list would promote everyone vacuously.
		if len(reqs) == 0 {
			return &ConfigurationError{
				Kind: "requirements",
				Key:  fmt.Sprintf("category=%s has no requirements", cat),
			}
		}
		for _, r := range reqs {
			if !r.Key.Valid() {
				return &ConfigurationError{
					Kind: "requirements",
					Key:  fmt.Sprintf("category=%s key=%s", cat, r.Key),
				}
			}
		}
	}
	return nil
}

// =============================================================================
// REASON TRACE
// =============================================================================

// RequirementCheck records one evaluated predicate of the chosen tier.
type RequirementCheck struct {
	Key      RequirementKey
	Required decimal.Decimal
	Actual   decimal.Decimal
	Met      bool
}

func (c RequirementCheck) String() string {
	return fmt.Sprintf("%s: required %s, actual %s, met=%t",
		c.Key, c.Required.String(), c.Actual.String(), c.Met)
}

// =============================================================================
// RESOLVER
// =============================================================================

// ResolveCategory resolves the tier for a metric snapshot. A non-nil manual
// override short-circuits evaluation entirely.
func ResolveCategory(
	instructorID InstructorID,
	periodID PeriodID,
	metrics MetricSnapshot,
	manual *Category,
	assignedBy string,
	requirements CategoryRequirements,
) (CategoryAssignment, error) {
	if manual != nil {
		if !manual.Valid() {
			return CategoryAssignment{}, &ValidationError{
				Field:   "category",
				Message: fmt.Sprintf("unknown category %q", string(*manual)),
			}
		}
		return CategoryAssignment{
			InstructorID: instructorID,
			PeriodID:     periodID,
			Category:     *manual,
			Manual:       true,
			AssignedBy:   assignedBy,
			Snapshot:     metrics,
			UpdatedAt:    time.Now().UTC(),
		}, nil
	}

	if err := requirements.Validate(); err != nil {
		return CategoryAssignment{}, err
	}

	assignment := CategoryAssignment{
		InstructorID: instructorID,
		PeriodID:     periodID,
		Category:     CategoryInstructor,
		Snapshot:     metrics,
		UpdatedAt:    time.Now().UTC(),
	}

	for _, cat := range CategoriesByPriority() {
		if cat == CategoryInstructor {
			break
		}
		checks, allMet := evaluateRequirements(requirements[cat], metrics)
		if allMet {
			assignment.Category = cat
			assignment.Checks = checks
			return assignment, nil
		}
	}

	// Floor tier: no requirements to trace.
	return assignment, nil
}

func evaluateRequirements(reqs []Requirement, m MetricSnapshot) ([]RequirementCheck, bool) {
	checks := make([]RequirementCheck, 0, len(reqs))
	allMet := true

	for _, r := range reqs {
		actual := actualValue(r.Key, m)
		met := actual.GreaterThanOrEqual(r.Value)
		checks = append(checks, RequirementCheck{
			Key:      r.Key,
			Required: r.Value,
			Actual:   actual,
			Met:      met,
		})
		if !met {
			allMet = false
		}
	}

	return checks, allMet
}

func actualValue(key RequirementKey, m MetricSnapshot) decimal.Decimal {
	switch key {
	case ReqMinOccupancy:
		return m.Occupancy
	case ReqMinNonPrime:
		return decimal.NewFromInt(int64(m.NonPrimeCount))
	case ReqMinLocations:
		return decimal.NewFromInt(int64(m.DistinctLocations))
	case ReqMinDoubleShifts:
		return decimal.NewFromInt(int64(m.DoubleShiftCount))
	case ReqEventParticipation:
		return boolValue(m.EventParticipation)
	case ReqGuidelineCompliance:
		return boolValue(m.MeetsGuidelines)
	default:
		return decimal.Zero
	}
}

func boolValue(b bool) decimal.Decimal {
	if b {
		return decimal.NewFromInt(1)
	}
	return decimal.Zero
}
