/*
evaluate.go - Formula evaluation

PURPOSE:
  Evaluates a resolved formula against the metric snapshot and the period's
  class sessions, producing the base amount, bonus and penalty totals, and
  the audit log. One dispatch switch handles every term kind; an unknown
  kind is a computation error, never a silent skip.

ARITHMETIC:
  All accumulation is decimal. No rounding happens here; rounding is the
  adjustment/retention stage's job, at the final-payment step only.

AUDIT LOG:
  Every applied term appends a line naming the term, the condition that was
  evaluated, and the value applied. The log is the canonical trail surfaced
  to operators.
*/
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Evaluation is the evaluator's output, before adjustment and retention.
type Evaluation struct {
	BaseAmount Money
	Bonuses    Money
	Penalties  Money
	Log        []string
}

// Subtotal is base + bonuses - penalties.
func (e Evaluation) Subtotal() Money {
	return e.BaseAmount.Add(e.Bonuses).Sub(e.Penalties)
}

// EvaluateFormula runs every term of the formula in order.
func EvaluateFormula(f *Formula, m MetricSnapshot, sessions []ClassSession) (Evaluation, error) {
	ev := Evaluation{
		BaseAmount: ZeroMoney(),
		Bonuses:    ZeroMoney(),
		Penalties:  ZeroMoney(),
	}

	for _, term := range f.Terms {
		switch term.Kind {
		case TermRate:
			if term.Rate == nil {
				return Evaluation{}, &ComputationError{Term: term.Name, Message: "rate term missing configuration"}
			}
			applyRateTerm(&ev, term.Name, term.Rate, m, sessions)

		case TermBonus:
			if term.Bonus == nil {
				return Evaluation{}, &ComputationError{Term: term.Name, Message: "bonus term missing configuration"}
			}
			if err := applyBonusTerm(&ev, term.Name, term.Bonus, m); err != nil {
				return Evaluation{}, err
			}

		case TermPenalty:
			if term.Penalty == nil {
				return Evaluation{}, &ComputationError{Term: term.Name, Message: "penalty term missing configuration"}
			}
			if err := applyPenaltyTerm(&ev, term.Name, term.Penalty, m); err != nil {
				return Evaluation{}, err
			}

		default:
			return Evaluation{}, &ComputationError{Term: term.Name, Message: fmt.Sprintf("unknown term kind %q", term.Kind)}
		}
	}

	ev.Log = append(ev.Log, fmt.Sprintf("subtotal: base %s + bonuses %s - penalties %s = %s",
		ev.BaseAmount, ev.Bonuses, ev.Penalties, ev.Subtotal()))

	return ev, nil
}

// applyRateTerm accumulates the per-session base amount. Rate source for
// each session: base rate, then the highest matching occupancy bracket,
// then the first matching studio override, then the discipline multiplier.
func applyRateTerm(ev *Evaluation, name string, rt *RateTerm, m MetricSnapshot, sessions []ClassSession) {
	multiplier := rt.DisciplineMultiplier
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}

	termTotal := ZeroMoney()
	for _, s := range sessions {
		rate := sessionRate(rt, m, s)
		termTotal = termTotal.Add(rate.Mul(multiplier))
	}

	ev.BaseAmount = ev.BaseAmount.Add(termTotal)
	ev.Log = append(ev.Log, fmt.Sprintf("rate %q: %d sessions at occupancy %s -> %s",
		name, len(sessions), m.Occupancy.StringFixed(4), termTotal))
}

func sessionRate(rt *RateTerm, m MetricSnapshot, s ClassSession) Money {
	rate := rt.BaseRate

	// Highest bracket that the period occupancy reaches wins.
	best := decimal.NewFromInt(-1)
	for _, b := range rt.Brackets {
		if m.Occupancy.GreaterThanOrEqual(b.MinOccupancy) && b.MinOccupancy.GreaterThan(best) {
			best = b.MinOccupancy
			rate = b.Rate
		}
	}

	for _, so := range rt.StudioOverrides {
		if studioMatches(so.Studio, s.Studio) {
			rate = so.Rate
			break
		}
	}

	return rate
}

func applyBonusTerm(ev *Evaluation, name string, bt *BonusTerm, m MetricSnapshot) error {
	if !bt.When.Known() {
		return &ComputationError{Term: name, Message: fmt.Sprintf("unknown predicate %q", bt.When.Kind)}
	}

	met, _, desc := bt.When.Eval(m)
	if !met {
		ev.Log = append(ev.Log, fmt.Sprintf("bonus %q: not applied (%s)", name, desc))
		return nil
	}

	ev.Bonuses = ev.Bonuses.Add(bt.Amount)
	ev.Log = append(ev.Log, fmt.Sprintf("bonus %q: %s applied (%s)", name, bt.Amount, desc))
	return nil
}

func applyPenaltyTerm(ev *Evaluation, name string, pt *PenaltyTerm, m MetricSnapshot) error {
	if !pt.When.Known() {
		return &ComputationError{Term: name, Message: fmt.Sprintf("unknown predicate %q", pt.When.Kind)}
	}

	met, matched, desc := pt.When.Eval(m)
	if !met {
		ev.Log = append(ev.Log, fmt.Sprintf("penalty %q: not applied (%s)", name, desc))
		return nil
	}

	amount := pt.Amount
	if pt.PerUnit && matched > 1 {
		amount = amount.Mul(decimal.NewFromInt(int64(matched)))
	}

	ev.Penalties = ev.Penalties.Add(amount)
	ev.Log = append(ev.Log, fmt.Sprintf("penalty %q: %s applied (%s)", name, amount, desc))
	return nil
}
