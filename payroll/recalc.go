/*
Package payroll drives the payment engine against persisted state.

PURPOSE:
  The engine package computes; this package orchestrates. It owns the
  re-entrant recalculation protocol for one or many instructors in a
  period, formula duplication between periods, and the only writes to
  Payment / CategoryAssignment records.

STATE MACHINE (per instructor+period run):
  PENDING -> RUNNING -> SUCCEEDED | FAILED

  The run record is upserted per key; re-running replaces it. Whatever the
  outcome, the prior Payment is either fully superseded (success) or left
  untouched (failure), never partially written.

CONCURRENCY:
  At most one in-flight recalculation per (instructor, period) key. A
  second concurrent caller gets engine.ErrRecalcInFlight and should retry.
  Distinct keys are independent and safe to run in parallel.

SEE ALSO:
  - recalc.go:    single + batch recalculation
  - duplicate.go: cross-period formula duplication
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/siclo/payments-engine/engine"
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs the recalculation pipeline: aggregate metrics, resolve
// category, resolve formula, evaluate, adjust/retain, persist.
type Orchestrator struct {
	Store engine.Store

	// RetentionRate, when zero, falls back to engine.DefaultRetentionRate.
	RetentionRate decimal.Decimal

	// DoubleShiftWindow, when zero, falls back to
	// engine.DefaultDoubleShiftWindow.
	DoubleShiftWindow time.Duration

	mu       sync.Mutex
	inflight map[runKey]struct{}
}

type runKey struct {
	InstructorID engine.InstructorID
	PeriodID     engine.PeriodID
}

func NewOrchestrator(store engine.Store) *Orchestrator {
	return &Orchestrator{
		Store:    store,
		inflight: make(map[runKey]struct{}),
	}
}

// Overrides carries the optional inputs a caller may pin across a
// recalculation. Absent values preserve what the prior records hold:
// a stored manual category survives recomputation unless explicitly
// cleared, and likewise the stored reajuste.
type Overrides struct {
	ManualCategory      *engine.Category
	ClearManualCategory bool
	AssignedBy          string

	Adjustment      *engine.Adjustment
	ClearAdjustment bool
}

// Result is the structured outcome of one recalculation. Stage failures are
// reported here, not as raw errors: Err carries the structured cause for
// classification, Message the plain-language reason, and Logs whatever the
// pipeline accumulated before failing.
type Result struct {
	Success   bool
	Message   string
	PaymentID engine.PaymentID
	Logs      []string
	Err       error
}

// =============================================================================
// SINGLE RECALCULATION
// =============================================================================

// Recalculate recomputes the payment for one (instructor, period) key,
// fully superseding the prior Payment and CategoryAssignment on success.
// The returned error is non-nil only for pre-state rejections (conflict,
// unknown instructor/period); pipeline failures come back in the Result.
func (o *Orchestrator) Recalculate(ctx context.Context, instructorID engine.InstructorID, periodID engine.PeriodID, ov *Overrides) (*Result, error) {
	key := runKey{instructorID, periodID}
	if !o.acquire(key) {
		return nil, engine.ErrRecalcInFlight
	}
	defer o.release(key)

	if ov == nil {
		ov = &Overrides{}
	}

	instructor, period, err := o.validateKey(ctx, instructorID, periodID)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now().UTC()
	run := engine.RecalcRun{
		ID:           fmt.Sprintf("run-%s-%s", instructorID, periodID),
		InstructorID: instructorID,
		PeriodID:     periodID,
		Status:       engine.RunPending,
		StartedAt:    startedAt,
	}
	if err := o.Store.SaveRecalcRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run record: %w", err)
	}

	run.Status = engine.RunRunning
	if err := o.Store.SaveRecalcRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run record: %w", err)
	}

	result := o.runPipeline(ctx, instructor, period, ov)

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	if result.Success {
		run.Status = engine.RunSucceeded
	} else {
		run.Status = engine.RunFailed
		run.Error = result.Message
	}
	if err := o.Store.SaveRecalcRun(ctx, run); err != nil {
		log.Printf("[recalc] WARNING: failed to finalize run record for %s/%s: %v", instructorID, periodID, err)
	}

	return result, nil
}

func (o *Orchestrator) validateKey(ctx context.Context, instructorID engine.InstructorID, periodID engine.PeriodID) (*engine.Instructor, *engine.Period, error) {
	instructor, err := o.Store.GetInstructor(ctx, instructorID)
	if err != nil {
		return nil, nil, err
	}
	if instructor == nil {
		return nil, nil, fmt.Errorf("%w: %s", engine.ErrInstructorNotFound, instructorID)
	}

	period, err := o.Store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, nil, err
	}
	if period == nil {
		return nil, nil, fmt.Errorf("%w: %s", engine.ErrPeriodNotFound, periodID)
	}

	return instructor, period, nil
}

// runPipeline executes stages 1-6 and the atomic persist. All stage errors
// are converted into a failed Result carrying the partial log.
func (o *Orchestrator) runPipeline(ctx context.Context, instructor *engine.Instructor, period *engine.Period, ov *Overrides) *Result {
	var logs []string
	fail := func(stage string, err error) *Result {
		log.Printf("[recalc] %s/%s failed at %s: %v", instructor.ID, period.ID, stage, err)
		return &Result{
			Success: false,
			Message: fmt.Sprintf("%s: %v", stage, err),
			Logs:    logs,
			Err:     err,
		}
	}

	// External reads.
	sessions, err := o.Store.ListClassSessions(ctx, instructor.ID, period.ID)
	if err != nil {
		return fail("load class sessions", err)
	}
	facts, err := o.Store.GetComplianceFacts(ctx, instructor.ID, period.ID)
	if err != nil {
		return fail("load compliance facts", err)
	}
	schedule, err := o.Store.GetNonPrimeSchedule(ctx)
	if err != nil {
		return fail("load non-prime schedule", err)
	}

	// Stage: aggregate metrics.
	metrics := engine.Aggregate(sessions, facts, engine.AggregateOptions{
		Schedule:          schedule,
		DoubleShiftWindow: o.DoubleShiftWindow,
	})
	logs = append(logs, fmt.Sprintf("metrics for %s in period %s: %s", instructor.Name, period.ID, metrics.Summary()))

	// Stage: resolve category. A stored manual assignment survives unless
	// the caller clears or replaces it.
	manual, assignedBy, err := o.effectiveManualCategory(ctx, instructor.ID, period.ID, ov)
	if err != nil {
		return fail("load prior assignment", err)
	}

	requirements, err := o.Store.GetRequirements(ctx, period.ID, instructor.DisciplineID)
	if err != nil {
		return fail("load category requirements", err)
	}
	if manual == nil && requirements == nil {
		return fail("resolve category", &engine.ConfigurationError{
			Kind: "requirements",
			Key:  fmt.Sprintf("period=%s discipline=%s", period.ID, instructor.DisciplineID),
		})
	}

	assignment, err := engine.ResolveCategory(instructor.ID, period.ID, metrics, manual, assignedBy, requirements)
	if err != nil {
		return fail("resolve category", err)
	}
	logs = append(logs, categoryLogLine(assignment))
	for _, check := range assignment.Checks {
		logs = append(logs, "  "+check.String())
	}

	// Stage: resolve formula.
	formula, err := engine.ResolveFormula(ctx, o.Store, period.ID, instructor.DisciplineID, assignment.Category)
	if err != nil {
		return fail("resolve formula", err)
	}
	logs = append(logs, fmt.Sprintf("formula %q (%s)", formula.Name, formula.Key()))

	// Stage: evaluate.
	evaluation, err := engine.EvaluateFormula(formula, metrics, sessions)
	if err != nil {
		return fail("evaluate formula", err)
	}
	logs = append(logs, evaluation.Log...)

	// Stage: adjustment and retention.
	adjustment, err := o.effectiveAdjustment(ctx, instructor.ID, period.ID, ov)
	if err != nil {
		return fail("load prior adjustment", err)
	}
	breakdown := engine.ApplyAdjustment(evaluation, adjustment, o.RetentionRate)
	logs = append(logs, breakdown.Log...)

	// Cancellation check before the atomic commit: aborting here has no
	// observable effect.
	if err := ctx.Err(); err != nil {
		return fail("persist payment", err)
	}

	payment := engine.Payment{
		ID:              engine.PaymentIDFor(instructor.ID, period.ID),
		InstructorID:    instructor.ID,
		PeriodID:        period.ID,
		Category:        assignment.Category,
		BaseAmount:      evaluation.BaseAmount,
		Bonuses:         evaluation.Bonuses,
		Penalties:       evaluation.Penalties,
		Adjustment:      adjustment,
		Subtotal:        breakdown.Subtotal,
		AdjustedAmount:  breakdown.AdjustedAmount,
		RetentionAmount: breakdown.RetentionAmount,
		FinalPayment:    breakdown.FinalPayment,
		Status:          engine.PaymentPending,
		CalculationLog:  logs,
		CalculatedAt:    time.Now().UTC(),
	}

	err = o.Store.WithTx(ctx, func(tx engine.Store) error {
		if err := tx.SavePayment(ctx, payment); err != nil {
			return err
		}
		return tx.SaveAssignment(ctx, assignment)
	})
	if err != nil {
		return fail("persist payment", err)
	}

	logs = append(logs, fmt.Sprintf("payment %s persisted (final %s)", payment.ID, payment.FinalPayment))
	log.Printf("[recalc] %s/%s -> %s final=%s", instructor.ID, period.ID, assignment.Category, payment.FinalPayment)

	return &Result{
		Success:   true,
		Message:   fmt.Sprintf("payment recalculated: %s, final %s", assignment.Category, payment.FinalPayment),
		PaymentID: payment.ID,
		Logs:      logs,
	}
}

func (o *Orchestrator) effectiveManualCategory(ctx context.Context, instructorID engine.InstructorID, periodID engine.PeriodID, ov *Overrides) (*engine.Category, string, error) {
	if ov.ManualCategory != nil {
		return ov.ManualCategory, ov.AssignedBy, nil
	}
	if ov.ClearManualCategory {
		return nil, "", nil
	}

	prior, err := o.Store.GetAssignment(ctx, instructorID, periodID)
	if err != nil {
		return nil, "", err
	}
	if prior != nil && prior.Manual {
		cat := prior.Category
		return &cat, prior.AssignedBy, nil
	}
	return nil, "", nil
}

func (o *Orchestrator) effectiveAdjustment(ctx context.Context, instructorID engine.InstructorID, periodID engine.PeriodID, ov *Overrides) (*engine.Adjustment, error) {
	if ov.Adjustment != nil {
		return ov.Adjustment, nil
	}
	if ov.ClearAdjustment {
		return nil, nil
	}

	prior, err := o.Store.GetPayment(ctx, instructorID, periodID)
	if err != nil {
		return nil, err
	}
	if prior != nil && prior.Adjustment != nil {
		adj := *prior.Adjustment
		return &adj, nil
	}
	return nil, nil
}

func categoryLogLine(a engine.CategoryAssignment) string {
	if a.Manual {
		by := a.AssignedBy
		if by == "" {
			by = "administrator"
		}
		return fmt.Sprintf("category %s (manual override by %s)", a.Category, by)
	}
	return fmt.Sprintf("category %s (automatic, %d requirements checked)", a.Category, len(a.Checks))
}

// =============================================================================
// BATCH RECALCULATION
// =============================================================================

// BatchSummary tallies a period-wide recalculation.
type BatchSummary struct {
	SuccessCount  int `json:"success_count"`
	ErrorCount    int `json:"error_count"`
	SkippedCount  int `json:"skipped_count"`
	ReplacedCount int `json:"replaced_payments_count"`
}

// RecalculateBatch runs every active instructor in the period, continuing
// past individual failures. Inactive instructors and instructors with no
// sessions and no prior payment are skipped. ReplacedCount tallies
// successful runs that superseded an existing payment.
func (o *Orchestrator) RecalculateBatch(ctx context.Context, periodID engine.PeriodID) (*BatchSummary, error) {
	period, err := o.Store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrPeriodNotFound, periodID)
	}

	instructors, err := o.Store.ListInstructors(ctx)
	if err != nil {
		return nil, err
	}

	summary := &BatchSummary{}
	for _, instructor := range instructors {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if !instructor.Active {
			summary.SkippedCount++
			continue
		}

		sessions, err := o.Store.ListClassSessions(ctx, instructor.ID, periodID)
		if err != nil {
			summary.ErrorCount++
			continue
		}
		prior, err := o.Store.GetPayment(ctx, instructor.ID, periodID)
		if err != nil {
			summary.ErrorCount++
			continue
		}
		if len(sessions) == 0 && prior == nil {
			summary.SkippedCount++
			continue
		}

		result, err := o.Recalculate(ctx, instructor.ID, periodID, nil)
		if err != nil || !result.Success {
			if err != nil && !errors.Is(err, engine.ErrRecalcInFlight) {
				log.Printf("[recalc] batch: %s/%s rejected: %v", instructor.ID, periodID, err)
			}
			summary.ErrorCount++
			continue
		}

		summary.SuccessCount++
		if prior != nil {
			summary.ReplacedCount++
		}
	}

	log.Printf("[recalc] batch for period %s: success=%d errors=%d skipped=%d replaced=%d",
		periodID, summary.SuccessCount, summary.ErrorCount, summary.SkippedCount, summary.ReplacedCount)

	return summary, nil
}

// =============================================================================
// IN-FLIGHT KEY TRACKING
// =============================================================================

func (o *Orchestrator) acquire(key runKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inflight == nil {
		o.inflight = make(map[runKey]struct{})
	}
	if _, busy := o.inflight[key]; busy {
		return false
	}
	o.inflight[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(key runKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, key)
}
