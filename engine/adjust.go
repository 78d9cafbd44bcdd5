/*
adjust.go - Reajuste and statutory retention

PURPOSE:
  The final computation stage. Applies the optional manual adjustment
  ("reajuste") to the evaluator's subtotal, then the fixed statutory
  retention rate to the post-adjustment amount, yielding the final payment.

SEMANTICS:
  FIXED       adjusted = subtotal + value (value is signed)
  PERCENTAGE  adjusted = subtotal * (1 + value/100)
  retention   = round2(adjusted * rate)
  final       = round2(adjusted) - retention

  Retention is always computed on the pre-retention, post-adjustment amount.
  Rounding happens here and only here. Negative finals are permitted and
  logged, never clamped.
*/
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultRetentionRate is the statutory withholding applied to the adjusted
// subtotal (8%).
var DefaultRetentionRate = decimal.NewFromFloat(0.08)

// Breakdown is the fully-applied payment figures plus the stage's log lines.
type Breakdown struct {
	Subtotal        Money
	AdjustedAmount  Money
	RetentionAmount Money
	FinalPayment    Money
	Log             []string
}

// ApplyAdjustment runs the adjustment/retention stage over an evaluation.
// A nil adjustment leaves the subtotal unchanged. A non-positive rate is
// replaced by DefaultRetentionRate.
func ApplyAdjustment(ev Evaluation, adj *Adjustment, retentionRate decimal.Decimal) Breakdown {
	if retentionRate.LessThanOrEqual(decimal.Zero) {
		retentionRate = DefaultRetentionRate
	}

	subtotal := ev.Subtotal()
	adjusted := subtotal
	var log []string

	if adj != nil {
		switch adj.Mode {
		case AdjustmentPercentage:
			factor := decimal.NewFromInt(1).Add(adj.Value.Div(decimal.NewFromInt(100)))
			adjusted = subtotal.Mul(factor)
			log = append(log, fmt.Sprintf("reajuste %s%%: %s -> %s", adj.Value.String(), subtotal, adjusted))
		default:
			adjusted = subtotal.Add(Money{Value: adj.Value})
			log = append(log, fmt.Sprintf("reajuste fixed %s: %s -> %s", adj.Value.StringFixed(2), subtotal, adjusted))
		}
	}

	retention := adjusted.Mul(retentionRate).Round2()
	final := adjusted.Round2().Sub(retention)

	log = append(log, fmt.Sprintf("retention %s%%: %s on %s",
		retentionRate.Mul(decimal.NewFromInt(100)).String(), retention, adjusted))
	log = append(log, fmt.Sprintf("final payment: %s", final))

	if final.IsNegative() {
		log = append(log, fmt.Sprintf("WARNING: final payment is negative (%s)", final))
	}

	return Breakdown{
		Subtotal:        subtotal,
		AdjustedAmount:  adjusted,
		RetentionAmount: retention,
		FinalPayment:    final,
		Log:             log,
	}
}
