/*
formula.go - Payment formula model and lookup

PURPOSE:
  A Formula is the declarative ruleset governing payment for a
  (period, discipline, category) key: an ordered list of typed terms
  evaluated deterministically by evaluate.go. Terms are a closed sum type
  (rate / bonus / penalty) with typed predicates, not ad hoc conditionals,
  so evaluation order and log generation stay exhaustive.

LOOKUP:
  Exact (period, discipline, category) -> (period, discipline, default) ->
  ErrFormulaNotFound. There is no implicit cross-period fallback; copying a
  period's formula set forward is an explicit administrative action (see
  payroll/duplicate.go).

TERM KINDS:
  RateTerm:    per-session rate. Base rate, optionally overridden by the
               highest matching occupancy bracket and per-studio overrides,
               then scaled by a discipline multiplier.
  BonusTerm:   additive amount when its predicate over the snapshot holds.
  PenaltyTerm: subtractive amount when its predicate holds; PerUnit
               penalties scale by the predicate's matched count (e.g. one
               deduction per non-prime session).
*/
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FORMULA
// =============================================================================

type Formula struct {
	ID           FormulaID
	PeriodID     PeriodID
	DisciplineID DisciplineID
	Category     Category // ignored when IsDefault
	IsDefault    bool
	Name         string
	Terms        []Term
}

// Key renders the lookup key for error reporting.
func (f Formula) Key() string {
	cat := string(f.Category)
	if f.IsDefault {
		cat = "default"
	}
	return fmt.Sprintf("period=%s discipline=%s category=%s", f.PeriodID, f.DisciplineID, cat)
}

// =============================================================================
// TERMS - Closed sum type
// =============================================================================

type TermKind string

const (
	TermRate    TermKind = "rate"
	TermBonus   TermKind = "bonus"
	TermPenalty TermKind = "penalty"
)

// Term is the tagged variant; exactly one of Rate/Bonus/Penalty is set,
// matching Kind.
type Term struct {
	Kind    TermKind
	Name    string
	Rate    *RateTerm
	Bonus   *BonusTerm
	Penalty *PenaltyTerm
}

// OccupancyBracket overrides the per-session rate when the snapshot
// occupancy reaches MinOccupancy. Brackets are checked highest-first.
type OccupancyBracket struct {
	MinOccupancy decimal.Decimal
	Rate         Money
}

// StudioRate overrides the per-session rate for sessions whose studio name
// contains Studio (same substring matching as the schedule classifier).
type StudioRate struct {
	Studio string
	Rate   Money
}

type RateTerm struct {
	BaseRate             Money
	Brackets             []OccupancyBracket
	StudioOverrides      []StudioRate
	DisciplineMultiplier decimal.Decimal // zero means 1
}

type BonusTerm struct {
	When   Predicate
	Amount Money
}

type PenaltyTerm struct {
	When    Predicate
	Amount  Money
	PerUnit bool // scale by the predicate's matched count
}

// =============================================================================
// PREDICATES - Typed conditions over the metric snapshot
// =============================================================================

type PredicateKind string

const (
	PredAlways                 PredicateKind = "always"
	PredOccupancyAtLeast       PredicateKind = "occupancy_at_least"
	PredOccupancyBelow         PredicateKind = "occupancy_below"
	PredEventParticipation     PredicateKind = "event_participation"
	PredGuidelineNoncompliance PredicateKind = "guideline_noncompliance"
	PredNonPrimeAtLeast        PredicateKind = "non_prime_at_least"
	PredClassCountAtLeast      PredicateKind = "class_count_at_least"
)

type Predicate struct {
	Kind  PredicateKind
	Value decimal.Decimal
}

// Eval returns whether the predicate holds, the count it matched (for
// PerUnit penalties), and a human-readable description for the audit log.
func (p Predicate) Eval(m MetricSnapshot) (met bool, matched int, desc string) {
	switch p.Kind {
	case PredAlways:
		return true, 1, "always applies"

	case PredOccupancyAtLeast:
		met = m.Occupancy.GreaterThanOrEqual(p.Value)
		return met, 1, fmt.Sprintf("occupancy %s >= %s", m.Occupancy.StringFixed(4), p.Value.String())

	case PredOccupancyBelow:
		met = m.Occupancy.LessThan(p.Value)
		return met, 1, fmt.Sprintf("occupancy %s < %s", m.Occupancy.StringFixed(4), p.Value.String())

	case PredEventParticipation:
		return m.EventParticipation, 1, fmt.Sprintf("event participation = %t", m.EventParticipation)

	case PredGuidelineNoncompliance:
		return !m.MeetsGuidelines, 1, fmt.Sprintf("meets guidelines = %t", m.MeetsGuidelines)

	case PredNonPrimeAtLeast:
		met = decimal.NewFromInt(int64(m.NonPrimeCount)).GreaterThanOrEqual(p.Value)
		return met, m.NonPrimeCount, fmt.Sprintf("non-prime sessions %d >= %s", m.NonPrimeCount, p.Value.String())

	case PredClassCountAtLeast:
		met = decimal.NewFromInt(int64(m.ClassCount)).GreaterThanOrEqual(p.Value)
		return met, m.ClassCount, fmt.Sprintf("class count %d >= %s", m.ClassCount, p.Value.String())

	default:
		return false, 0, fmt.Sprintf("unknown predicate %q", string(p.Kind))
	}
}

func (p Predicate) Known() bool {
	switch p.Kind {
	case PredAlways, PredOccupancyAtLeast, PredOccupancyBelow, PredEventParticipation,
		PredGuidelineNoncompliance, PredNonPrimeAtLeast, PredClassCountAtLeast:
		return true
	}
	return false
}

// =============================================================================
// FORMULA LOOKUP
// =============================================================================

// FormulaLookup is the read side of formula storage the resolver needs.
type FormulaLookup interface {
	// GetFormula returns the exact (period, discipline, category) formula,
	// or nil when absent. isDefault selects the default-category slot.
	GetFormula(ctx context.Context, periodID PeriodID, disciplineID DisciplineID, category Category, isDefault bool) (*Formula, error)
}

// ResolveFormula applies the lookup key precedence: exact category match
// first, then the period+discipline default. A miss on both is a
// configuration error naming the key.
func ResolveFormula(ctx context.Context, lookup FormulaLookup, periodID PeriodID, disciplineID DisciplineID, category Category) (*Formula, error) {
	f, err := lookup.GetFormula(ctx, periodID, disciplineID, category, false)
	if err != nil {
		return nil, err
	}
	if f != nil {
		return f, nil
	}

	f, err = lookup.GetFormula(ctx, periodID, disciplineID, "", true)
	if err != nil {
		return nil, err
	}
	if f != nil {
		return f, nil
	}

	return nil, &ConfigurationError{
		Kind: "formula",
		Key:  fmt.Sprintf("period=%s discipline=%s category=%s", periodID, disciplineID, category),
	}
}

// studioMatches mirrors the schedule classifier's matching rule: the
// configured key is a case-insensitive substring of the session's studio.
func studioMatches(configured, studio string) bool {
	return strings.Contains(strings.ToLower(studio), strings.ToLower(configured))
}
