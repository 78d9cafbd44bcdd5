package payroll

import (
	"context"
	"fmt"
	"log"

	"github.com/siclo/payments-engine/engine"
)

// =============================================================================
// FORMULA DUPLICATION
// =============================================================================

// DuplicateResult reports a completed formula duplication.
type DuplicateResult struct {
	Message     string `json:"message"`
	CopiedCount int    `json:"copied_count"`
}

// DuplicateFormulas copies every formula from one period into another,
// replacing whatever the target period held. The replacement is atomic:
// on any failure the target keeps its prior formula set. Copies take
// fresh IDs and point at the target period; everything else carries over
// verbatim.
func (o *Orchestrator) DuplicateFormulas(ctx context.Context, sourceID, targetID engine.PeriodID) (*DuplicateResult, error) {
	if sourceID == targetID {
		return nil, engine.ErrSamePeriod
	}

	source, err := o.Store.GetPeriod(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: source %s", engine.ErrPeriodNotFound, sourceID)
	}
	target, err := o.Store.GetPeriod(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("%w: target %s", engine.ErrPeriodNotFound, targetID)
	}

	formulas, err := o.Store.ListFormulas(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if len(formulas) == 0 {
		return nil, fmt.Errorf("%w: period %s has no formulas", engine.ErrNothingToCopy, sourceID)
	}

	copies := make([]engine.Formula, len(formulas))
	for i, f := range formulas {
		c := f
		c.ID = engine.FormulaID(fmt.Sprintf("%s-copy-%s", f.ID, targetID))
		c.PeriodID = targetID
		copies[i] = c
	}

	err = o.Store.WithTx(ctx, func(tx engine.Store) error {
		return tx.ReplaceFormulas(ctx, targetID, copies)
	})
	if err != nil {
		return nil, fmt.Errorf("replace formulas for period %s: %w", targetID, err)
	}

	log.Printf("[formulas] duplicated %d formulas from period %s to %s", len(copies), sourceID, targetID)

	return &DuplicateResult{
		Message:     fmt.Sprintf("duplicated %d formulas from period %s to period %s", len(copies), source.ID, target.ID),
		CopiedCount: len(copies),
	}, nil
}
