/*
Package factory provides JSON to Go configuration conversion.

PURPOSE:
  Converts JSON formula, requirement, and schedule definitions into engine
  structs. This enables payment configuration without code changes - the
  admin portal can define formulas in JSON, and the factory creates the
  proper Go structs.

WHY JSON?
  - Non-developers can modify payment rules
  - Easy integration with the admin UI
  - Version control for formula definitions
  - Database storage of term configs

FORMULA JSON SCHEMA:
  {
    "id": "cycling-ambassador-2025-3",
    "period_id": "2025-3",
    "discipline_id": "cycling",
    "category": "AMBASSADOR",
    "name": "Cycling Ambassador",
    "terms": [
      {
        "kind": "rate",
        "name": "base class rate",
        "base_rate": "350",
        "brackets": [{"min_occupancy": "0.8", "rate": "420"}],
        "studio_overrides": [{"studio": "reducto", "rate": "300"}],
        "discipline_multiplier": "1.1"
      },
      {
        "kind": "bonus",
        "name": "event bonus",
        "when": {"kind": "event_participation"},
        "amount": "200"
      },
      {
        "kind": "penalty",
        "name": "low occupancy penalty",
        "when": {"kind": "occupancy_below", "value": "0.3"},
        "amount": "150"
      }
    ]
  }

  A default formula omits "category" and sets "is_default": true.

KEY FEATURES:
  - Validates JSON structure and term kinds
  - Decimal fields travel as strings to avoid float drift
  - Round-trips via ToJSON for the admin API
  - Also parses category requirement sets and non-prime schedules

SEE ALSO:
  - engine/formula.go:  Formula and Term definitions
  - engine/category.go: CategoryRequirements definition
  - engine/schedule.go: NonPrimeSchedule definition
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/siclo/payments-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// FormulaJSON is the JSON representation of a payment formula.
type FormulaJSON struct {
	ID           string     `json:"id"`
	PeriodID     string     `json:"period_id"`
	DisciplineID string     `json:"discipline_id"`
	Category     string     `json:"category,omitempty"`
	IsDefault    bool       `json:"is_default,omitempty"`
	Name         string     `json:"name"`
	Terms        []TermJSON `json:"terms"`
}

// TermJSON represents one formula term. Kind selects which of the optional
// field groups applies.
type TermJSON struct {
	Kind string `json:"kind"` // rate, bonus, penalty
	Name string `json:"name"`

	// rate fields
	BaseRate             string         `json:"base_rate,omitempty"`
	Brackets             []BracketJSON  `json:"brackets,omitempty"`
	StudioOverrides      []StudioJSON   `json:"studio_overrides,omitempty"`
	DisciplineMultiplier string         `json:"discipline_multiplier,omitempty"`

	// bonus / penalty fields
	When    *PredicateJSON `json:"when,omitempty"`
	Amount  string         `json:"amount,omitempty"`
	PerUnit bool           `json:"per_unit,omitempty"`
}

// BracketJSON represents an occupancy rate bracket.
type BracketJSON struct {
	MinOccupancy string `json:"min_occupancy"`
	Rate         string `json:"rate"`
}

// StudioJSON represents a per-studio rate override.
type StudioJSON struct {
	Studio string `json:"studio"`
	Rate   string `json:"rate"`
}

// PredicateJSON represents a bonus/penalty condition.
type PredicateJSON struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}

// RequirementsJSON maps category name to its requirement list.
type RequirementsJSON map[string][]RequirementJSON

// RequirementJSON represents one promotion requirement.
type RequirementJSON struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ScheduleJSON maps studio key to its non-prime start slots.
type ScheduleJSON map[string][]string

// =============================================================================
// FORMULA FACTORY
// =============================================================================

// FormulaFactory converts JSON configuration to engine structs.
type FormulaFactory struct{}

// NewFormulaFactory creates a new formula factory.
func NewFormulaFactory() *FormulaFactory {
	return &FormulaFactory{}
}

// ParseFormula parses a JSON string into an engine.Formula.
func (f *FormulaFactory) ParseFormula(jsonStr string) (*engine.Formula, error) {
	var fj FormulaJSON
	if err := json.Unmarshal([]byte(jsonStr), &fj); err != nil {
		return nil, fmt.Errorf("failed to parse formula JSON: %w", err)
	}
	return f.FromJSON(fj)
}

// FromJSON converts FormulaJSON to an engine.Formula.
func (f *FormulaFactory) FromJSON(fj FormulaJSON) (*engine.Formula, error) {
	formula := &engine.Formula{
		ID:           engine.FormulaID(fj.ID),
		PeriodID:     engine.PeriodID(fj.PeriodID),
		DisciplineID: engine.DisciplineID(fj.DisciplineID),
		IsDefault:    fj.IsDefault,
		Name:         fj.Name,
	}

	if !fj.IsDefault {
		cat := engine.Category(fj.Category)
		if !cat.Valid() {
			return nil, &engine.ValidationError{
				Field:   "category",
				Message: fmt.Sprintf("unknown category %q", fj.Category),
			}
		}
		formula.Category = cat
	}

	if len(fj.Terms) == 0 {
		return nil, &engine.ValidationError{
			Field:   "terms",
			Message: "formula has no terms",
		}
	}
	for i, tj := range fj.Terms {
		term, err := parseTerm(tj)
		if err != nil {
			return nil, fmt.Errorf("term %d (%s): %w", i, tj.Name, err)
		}
		formula.Terms = append(formula.Terms, term)
	}

	return formula, nil
}

// ToJSON converts an engine.Formula to FormulaJSON.
func (f *FormulaFactory) ToJSON(formula *engine.Formula) FormulaJSON {
	fj := FormulaJSON{
		ID:           string(formula.ID),
		PeriodID:     string(formula.PeriodID),
		DisciplineID: string(formula.DisciplineID),
		Category:     string(formula.Category),
		IsDefault:    formula.IsDefault,
		Name:         formula.Name,
	}
	for _, t := range formula.Terms {
		fj.Terms = append(fj.Terms, termToJSON(t))
	}
	return fj
}

// =============================================================================
// TERM PARSING
// =============================================================================

func parseTerm(tj TermJSON) (engine.Term, error) {
	term := engine.Term{Name: tj.Name}

	switch engine.TermKind(tj.Kind) {
	case engine.TermRate:
		rt, err := parseRateTerm(tj)
		if err != nil {
			return engine.Term{}, err
		}
		term.Kind = engine.TermRate
		term.Rate = rt

	case engine.TermBonus:
		when, err := parsePredicate(tj.When)
		if err != nil {
			return engine.Term{}, err
		}
		amount, err := parseMoney(tj.Amount, "amount")
		if err != nil {
			return engine.Term{}, err
		}
		term.Kind = engine.TermBonus
		term.Bonus = &engine.BonusTerm{When: when, Amount: amount}

	case engine.TermPenalty:
		when, err := parsePredicate(tj.When)
		if err != nil {
			return engine.Term{}, err
		}
		amount, err := parseMoney(tj.Amount, "amount")
		if err != nil {
			return engine.Term{}, err
		}
		term.Kind = engine.TermPenalty
		term.Penalty = &engine.PenaltyTerm{When: when, Amount: amount, PerUnit: tj.PerUnit}

	default:
		return engine.Term{}, &engine.ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("unknown term kind %q", tj.Kind),
		}
	}

	return term, nil
}

func parseRateTerm(tj TermJSON) (*engine.RateTerm, error) {
	base, err := parseMoney(tj.BaseRate, "base_rate")
	if err != nil {
		return nil, err
	}

	rt := &engine.RateTerm{BaseRate: base}

	for _, bj := range tj.Brackets {
		min, err := parseDecimal(bj.MinOccupancy, "min_occupancy")
		if err != nil {
			return nil, err
		}
		rate, err := parseMoney(bj.Rate, "rate")
		if err != nil {
			return nil, err
		}
		rt.Brackets = append(rt.Brackets, engine.OccupancyBracket{MinOccupancy: min, Rate: rate})
	}

	for _, sj := range tj.StudioOverrides {
		if sj.Studio == "" {
			return nil, &engine.ValidationError{Field: "studio", Message: "studio override without a studio key"}
		}
		rate, err := parseMoney(sj.Rate, "rate")
		if err != nil {
			return nil, err
		}
		rt.StudioOverrides = append(rt.StudioOverrides, engine.StudioRate{Studio: sj.Studio, Rate: rate})
	}

	if tj.DisciplineMultiplier != "" {
		mult, err := parseDecimal(tj.DisciplineMultiplier, "discipline_multiplier")
		if err != nil {
			return nil, err
		}
		rt.DisciplineMultiplier = mult
	}

	return rt, nil
}

func parsePredicate(pj *PredicateJSON) (engine.Predicate, error) {
	if pj == nil {
		return engine.Predicate{}, &engine.ValidationError{Field: "when", Message: "bonus/penalty term without a condition"}
	}

	p := engine.Predicate{Kind: engine.PredicateKind(pj.Kind)}
	if !p.Known() {
		return engine.Predicate{}, &engine.ValidationError{
			Field:   "when.kind",
			Message: fmt.Sprintf("unknown predicate %q", pj.Kind),
		}
	}

	if pj.Value != "" {
		v, err := parseDecimal(pj.Value, "when.value")
		if err != nil {
			return engine.Predicate{}, err
		}
		p.Value = v
	}

	return p, nil
}

func termToJSON(t engine.Term) TermJSON {
	tj := TermJSON{Kind: string(t.Kind), Name: t.Name}

	switch t.Kind {
	case engine.TermRate:
		if t.Rate == nil {
			return tj
		}
		tj.BaseRate = t.Rate.BaseRate.Value.String()
		for _, b := range t.Rate.Brackets {
			tj.Brackets = append(tj.Brackets, BracketJSON{
				MinOccupancy: b.MinOccupancy.String(),
				Rate:         b.Rate.Value.String(),
			})
		}
		for _, s := range t.Rate.StudioOverrides {
			tj.StudioOverrides = append(tj.StudioOverrides, StudioJSON{
				Studio: s.Studio,
				Rate:   s.Rate.Value.String(),
			})
		}
		if !t.Rate.DisciplineMultiplier.IsZero() {
			tj.DisciplineMultiplier = t.Rate.DisciplineMultiplier.String()
		}

	case engine.TermBonus:
		if t.Bonus == nil {
			return tj
		}
		tj.When = predicateToJSON(t.Bonus.When)
		tj.Amount = t.Bonus.Amount.Value.String()

	case engine.TermPenalty:
		if t.Penalty == nil {
			return tj
		}
		tj.When = predicateToJSON(t.Penalty.When)
		tj.Amount = t.Penalty.Amount.Value.String()
		tj.PerUnit = t.Penalty.PerUnit
	}

	return tj
}

func predicateToJSON(p engine.Predicate) *PredicateJSON {
	pj := &PredicateJSON{Kind: string(p.Kind)}
	if !p.Value.IsZero() {
		pj.Value = p.Value.String()
	}
	return pj
}

// =============================================================================
// REQUIREMENTS AND SCHEDULE PARSING
// =============================================================================

// ParseRequirements parses a JSON string into engine.CategoryRequirements
// and validates that every promotable tier is covered.
func (f *FormulaFactory) ParseRequirements(jsonStr string) (engine.CategoryRequirements, error) {
	var rj RequirementsJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return nil, fmt.Errorf("failed to parse requirements JSON: %w", err)
	}
	return f.RequirementsFromJSON(rj)
}

// RequirementsFromJSON converts RequirementsJSON to engine.CategoryRequirements.
func (f *FormulaFactory) RequirementsFromJSON(rj RequirementsJSON) (engine.CategoryRequirements, error) {
	reqs := make(engine.CategoryRequirements, len(rj))
	for catName, list := range rj {
		cat := engine.Category(catName)
		if !cat.Valid() {
			return nil, &engine.ValidationError{
				Field:   "category",
				Message: fmt.Sprintf("unknown category %q", catName),
			}
		}
		for _, item := range list {
			key := engine.RequirementKey(item.Key)
			if !key.Valid() {
				return nil, &engine.ValidationError{
					Field:   "key",
					Message: fmt.Sprintf("unknown requirement key %q", item.Key),
				}
			}
			value, err := parseDecimal(item.Value, "value")
			if err != nil {
				return nil, err
			}
			reqs[cat] = append(reqs[cat], engine.Requirement{Key: key, Value: value})
		}
	}

	if err := reqs.Validate(); err != nil {
		return nil, err
	}
	return reqs, nil
}

// RequirementsToJSON converts engine.CategoryRequirements to RequirementsJSON.
func (f *FormulaFactory) RequirementsToJSON(reqs engine.CategoryRequirements) RequirementsJSON {
	rj := make(RequirementsJSON, len(reqs))
	for cat, list := range reqs {
		items := make([]RequirementJSON, 0, len(list))
		for _, r := range list {
			items = append(items, RequirementJSON{Key: string(r.Key), Value: r.Value.String()})
		}
		rj[string(cat)] = items
	}
	return rj
}

// ParseSchedule parses a JSON string into an engine.NonPrimeSchedule.
func (f *FormulaFactory) ParseSchedule(jsonStr string) (engine.NonPrimeSchedule, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return engine.NonPrimeSchedule{}, fmt.Errorf("failed to parse schedule JSON: %w", err)
	}
	return engine.NewNonPrimeSchedule(sj), nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseMoney(s, field string) (engine.Money, error) {
	if s == "" {
		return engine.Money{}, &engine.ValidationError{Field: field, Message: "missing amount"}
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return engine.Money{}, &engine.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid decimal %q", s),
		}
	}
	return engine.Money{Value: v}, nil
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &engine.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid decimal %q", s),
		}
	}
	return v, nil
}
