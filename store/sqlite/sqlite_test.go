package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/siclo/payments-engine/engine"
	"github.com/siclo/payments-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_ReferenceDataRoundTrip(t *testing.T) {
	// GIVEN: A period, discipline, and instructor
	// WHEN: Saving and reading them back
	// THEN: Every field survives, and saves upsert

	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SavePeriod(ctx, engine.Period{ID: "2025-3", Number: 3, Year: 2025}); err != nil {
		t.Fatalf("Failed to save period: %v", err)
	}
	if err := s.SaveDiscipline(ctx, engine.Discipline{ID: "cycling", Name: "Cycling", Color: "#e91e63"}); err != nil {
		t.Fatalf("Failed to save discipline: %v", err)
	}
	if err := s.SaveInstructor(ctx, engine.Instructor{ID: "ins-1", Name: "Maria", DisciplineID: "cycling", Active: true}); err != nil {
		t.Fatalf("Failed to save instructor: %v", err)
	}

	period, err := s.GetPeriod(ctx, "2025-3")
	if err != nil || period == nil {
		t.Fatalf("Failed to get period: %v (got %v)", err, period)
	}
	if period.Number != 3 || period.Year != 2025 {
		t.Errorf("Period fields changed: %+v", period)
	}

	if err := s.SaveInstructor(ctx, engine.Instructor{ID: "ins-1", Name: "Maria L.", DisciplineID: "cycling", Active: false}); err != nil {
		t.Fatalf("Failed to upsert instructor: %v", err)
	}
	instructors, err := s.ListInstructors(ctx)
	if err != nil {
		t.Fatalf("Failed to list instructors: %v", err)
	}
	if len(instructors) != 1 {
		t.Fatalf("Expected 1 instructor after upsert, got %d", len(instructors))
	}
	if instructors[0].Name != "Maria L." || instructors[0].Active {
		t.Errorf("Upsert didn't replace fields: %+v", instructors[0])
	}

	missing, err := s.GetInstructor(ctx, "ins-ghost")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for unknown instructor, got %+v", missing)
	}
}

func TestSQLite_ClassSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	startsAt := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
	session := engine.ClassSession{
		ID: "s-1", InstructorID: "ins-1", PeriodID: "2025-3", DisciplineID: "cycling",
		Studio: "Siclo San Isidro", Room: "A", StartsAt: startsAt,
		Spots: 40, Reservations: 32, PaidReservations: 30,
	}
	if err := s.SaveClassSession(ctx, session); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}

	sessions, err := s.ListClassSessions(ctx, "ins-1", "2025-3")
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	got := sessions[0]
	if !got.StartsAt.Equal(startsAt) {
		t.Errorf("StartsAt changed: %s vs %s", startsAt, got.StartsAt)
	}
	if got.Studio != session.Studio || got.PaidReservations != 30 || got.Room != "A" {
		t.Errorf("Session fields changed: %+v", got)
	}
}

func TestSQLite_ComplianceFactsDefault(t *testing.T) {
	// GIVEN: No compliance import for a key
	// WHEN: Reading the facts
	// THEN: Guidelines default to met, participation to false

	ctx := context.Background()
	s := newTestStore(t)

	facts, err := s.GetComplianceFacts(ctx, "ins-1", "2025-3")
	if err != nil {
		t.Fatalf("Failed to get facts: %v", err)
	}
	if facts.EventParticipation || !facts.MeetsGuidelines {
		t.Errorf("Unexpected default facts: %+v", facts)
	}

	if err := s.SaveComplianceFacts(ctx, "ins-1", "2025-3", engine.ComplianceFacts{EventParticipation: true, MeetsGuidelines: false}); err != nil {
		t.Fatalf("Failed to save facts: %v", err)
	}
	facts, err = s.GetComplianceFacts(ctx, "ins-1", "2025-3")
	if err != nil {
		t.Fatalf("Failed to get facts: %v", err)
	}
	if !facts.EventParticipation || facts.MeetsGuidelines {
		t.Errorf("Stored facts didn't round-trip: %+v", facts)
	}
}

func TestSQLite_FormulaRoundTrip(t *testing.T) {
	// GIVEN: A formula with brackets, overrides, bonus, and penalty terms
	// WHEN: Saving and reading it back via the JSON config column
	// THEN: Terms and decimals survive exactly

	ctx := context.Background()
	s := newTestStore(t)

	formula := engine.Formula{
		ID: "f-amb", PeriodID: "2025-3", DisciplineID: "cycling",
		Category: engine.CategoryAmbassador, Name: "Cycling Ambassador",
		Terms: []engine.Term{
			{
				Kind: engine.TermRate, Name: "class rate",
				Rate: &engine.RateTerm{
					BaseRate: engine.NewMoneyFromInt(350),
					Brackets: []engine.OccupancyBracket{
						{MinOccupancy: decimal.RequireFromString("0.8"), Rate: engine.NewMoneyFromInt(420)},
					},
					StudioOverrides: []engine.StudioRate{
						{Studio: "reducto", Rate: engine.NewMoneyFromInt(300)},
					},
					DisciplineMultiplier: decimal.RequireFromString("1.1"),
				},
			},
			{
				Kind: engine.TermBonus, Name: "event bonus",
				Bonus: &engine.BonusTerm{
					When:   engine.Predicate{Kind: engine.PredEventParticipation},
					Amount: engine.NewMoneyFromInt(200),
				},
			},
			{
				Kind: engine.TermPenalty, Name: "low occupancy",
				Penalty: &engine.PenaltyTerm{
					When:    engine.Predicate{Kind: engine.PredOccupancyBelow, Value: decimal.RequireFromString("0.3")},
					Amount:  engine.NewMoneyFromInt(50),
					PerUnit: true,
				},
			},
		},
	}
	if err := s.SaveFormula(ctx, formula); err != nil {
		t.Fatalf("Failed to save formula: %v", err)
	}

	got, err := s.GetFormula(ctx, "2025-3", "cycling", engine.CategoryAmbassador, false)
	if err != nil {
		t.Fatalf("Failed to get formula: %v", err)
	}
	if got == nil {
		t.Fatal("Expected the formula back")
	}
	if len(got.Terms) != 3 {
		t.Fatalf("Expected 3 terms, got %d", len(got.Terms))
	}
	rate := got.Terms[0].Rate
	if rate == nil || !rate.BaseRate.Equal(engine.NewMoneyFromInt(350)) {
		t.Errorf("Rate term changed: %+v", got.Terms[0])
	}
	if len(rate.Brackets) != 1 || rate.Brackets[0].MinOccupancy.String() != "0.8" {
		t.Errorf("Brackets changed: %+v", rate.Brackets)
	}
	if rate.DisciplineMultiplier.String() != "1.1" {
		t.Errorf("Multiplier changed: %s", rate.DisciplineMultiplier)
	}
	penalty := got.Terms[2].Penalty
	if penalty == nil || !penalty.PerUnit || penalty.When.Value.String() != "0.3" {
		t.Errorf("Penalty term changed: %+v", got.Terms[2])
	}
}

func TestSQLite_ReplaceFormulasIsAtomicPerPeriod(t *testing.T) {
	// GIVEN: Formulas in two periods
	// WHEN: Replacing one period's set
	// THEN: Only that period changes

	ctx := context.Background()
	s := newTestStore(t)

	terms := []engine.Term{{Kind: engine.TermRate, Name: "rate", Rate: &engine.RateTerm{BaseRate: engine.NewMoneyFromInt(100)}}}
	if err := s.SaveFormula(ctx, engine.Formula{ID: "f-a", PeriodID: "2025-3", DisciplineID: "cycling", IsDefault: true, Name: "A", Terms: terms}); err != nil {
		t.Fatalf("Failed to save formula: %v", err)
	}
	if err := s.SaveFormula(ctx, engine.Formula{ID: "f-b", PeriodID: "2025-4", DisciplineID: "cycling", IsDefault: true, Name: "B", Terms: terms}); err != nil {
		t.Fatalf("Failed to save formula: %v", err)
	}

	replacement := engine.Formula{ID: "f-c", PeriodID: "2025-4", DisciplineID: "cycling", IsDefault: true, Name: "C", Terms: terms}
	if err := s.ReplaceFormulas(ctx, "2025-4", []engine.Formula{replacement}); err != nil {
		t.Fatalf("Failed to replace formulas: %v", err)
	}

	target, err := s.ListFormulas(ctx, "2025-4")
	if err != nil {
		t.Fatalf("Failed to list formulas: %v", err)
	}
	if len(target) != 1 || target[0].Name != "C" {
		t.Errorf("Expected only the replacement, got %+v", target)
	}

	other, err := s.ListFormulas(ctx, "2025-3")
	if err != nil {
		t.Fatalf("Failed to list formulas: %v", err)
	}
	if len(other) != 1 || other[0].Name != "A" {
		t.Errorf("Other period must be untouched, got %+v", other)
	}
}

func TestSQLite_RequirementsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	missing, err := s.GetRequirements(ctx, "2025-3", "cycling")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for unconfigured key, got %+v", missing)
	}

	reqs := engine.CategoryRequirements{
		engine.CategoryJuniorAmbassador: {{Key: engine.ReqMinOccupancy, Value: decimal.RequireFromString("0.4")}},
		engine.CategoryAmbassador:       {{Key: engine.ReqMinOccupancy, Value: decimal.RequireFromString("0.6")}},
		engine.CategorySeniorAmbassador: {{Key: engine.ReqMinOccupancy, Value: decimal.RequireFromString("0.85")}},
	}
	if err := s.SaveRequirements(ctx, "2025-3", "cycling", reqs); err != nil {
		t.Fatalf("Failed to save requirements: %v", err)
	}

	got, err := s.GetRequirements(ctx, "2025-3", "cycling")
	if err != nil {
		t.Fatalf("Failed to get requirements: %v", err)
	}
	senior := got[engine.CategorySeniorAmbassador]
	if len(senior) != 1 || senior[0].Value.String() != "0.85" {
		t.Errorf("Requirements changed: %+v", got)
	}
}

func TestSQLite_NonPrimeScheduleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SaveNonPrimeSlots(ctx, "San Isidro", []string{"9:00am", "1pm"}); err != nil {
		t.Fatalf("Failed to save slots: %v", err)
	}
	if err := s.SaveNonPrimeSlots(ctx, "San Isidro", []string{"07:00"}); err != nil {
		t.Fatalf("Failed to upsert slots: %v", err)
	}

	schedule, err := s.GetNonPrimeSchedule(ctx)
	if err != nil {
		t.Fatalf("Failed to get schedule: %v", err)
	}
	if !schedule.IsNonPrime("Siclo San Isidro", "07:00") {
		t.Error("Expected upserted slot to be non-prime")
	}
	if schedule.IsNonPrime("Siclo San Isidro", "09:00") {
		t.Error("Expected replaced slot to no longer match")
	}
}

func TestSQLite_PaymentRoundTripAndReplace(t *testing.T) {
	// GIVEN: A payment with an adjustment and a calculation log
	// WHEN: Saving it, then saving a replacement for the same key
	// THEN: Decimals round-trip as exact strings and only one row remains

	ctx := context.Background()
	s := newTestStore(t)

	payment := engine.Payment{
		ID:           engine.PaymentIDFor("ins-1", "2025-3"),
		InstructorID: "ins-1", PeriodID: "2025-3",
		Category:        engine.CategoryAmbassador,
		BaseAmount:      engine.Money{Value: decimal.RequireFromString("333.33")},
		Bonuses:         engine.NewMoneyFromInt(200),
		Penalties:       engine.NewMoneyFromInt(0),
		Adjustment:      &engine.Adjustment{Mode: engine.AdjustmentPercentage, Value: decimal.RequireFromString("10")},
		Subtotal:        engine.Money{Value: decimal.RequireFromString("533.33")},
		AdjustedAmount:  engine.Money{Value: decimal.RequireFromString("586.663")},
		RetentionAmount: engine.Money{Value: decimal.RequireFromString("46.93")},
		FinalPayment:    engine.Money{Value: decimal.RequireFromString("539.73")},
		Status:          engine.PaymentPending,
		CalculationLog:  []string{"base: 333.33", "bonus: event +200.00"},
		CalculatedAt:    time.Date(2025, time.March, 16, 12, 0, 0, 0, time.UTC),
	}
	if err := s.SavePayment(ctx, payment); err != nil {
		t.Fatalf("Failed to save payment: %v", err)
	}

	got, err := s.GetPayment(ctx, "ins-1", "2025-3")
	if err != nil {
		t.Fatalf("Failed to get payment: %v", err)
	}
	if got == nil {
		t.Fatal("Expected the payment back")
	}
	if got.BaseAmount.Value.String() != "333.33" {
		t.Errorf("Base amount drifted: %s", got.BaseAmount.Value)
	}
	if got.Adjustment == nil || got.Adjustment.Mode != engine.AdjustmentPercentage || got.Adjustment.Value.String() != "10" {
		t.Errorf("Adjustment changed: %+v", got.Adjustment)
	}
	if len(got.CalculationLog) != 2 {
		t.Errorf("Log changed: %+v", got.CalculationLog)
	}
	if !got.CalculatedAt.Equal(payment.CalculatedAt) {
		t.Errorf("CalculatedAt changed: %s", got.CalculatedAt)
	}

	replacement := payment
	replacement.Adjustment = nil
	replacement.FinalPayment = engine.Money{Value: decimal.RequireFromString("490.66")}
	if err := s.SavePayment(ctx, replacement); err != nil {
		t.Fatalf("Failed to save replacement: %v", err)
	}

	payments, err := s.ListPayments(ctx, "2025-3")
	if err != nil {
		t.Fatalf("Failed to list payments: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("Expected 1 payment after replace, got %d", len(payments))
	}
	if payments[0].Adjustment != nil {
		t.Errorf("Replacement should have dropped the adjustment: %+v", payments[0].Adjustment)
	}
	if payments[0].FinalPayment.Value.String() != "490.66" {
		t.Errorf("Replacement amount not stored: %s", payments[0].FinalPayment.Value)
	}
}

func TestSQLite_MarkPaymentStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	payment := engine.Payment{
		ID:           engine.PaymentIDFor("ins-1", "2025-3"),
		InstructorID: "ins-1", PeriodID: "2025-3",
		Category:   engine.CategoryInstructor,
		BaseAmount: engine.NewMoneyFromInt(100), Bonuses: engine.ZeroMoney(), Penalties: engine.ZeroMoney(),
		Subtotal: engine.NewMoneyFromInt(100), AdjustedAmount: engine.NewMoneyFromInt(100),
		RetentionAmount: engine.NewMoneyFromInt(8), FinalPayment: engine.NewMoneyFromInt(92),
		Status: engine.PaymentPending, CalculatedAt: time.Now(),
	}
	if err := s.SavePayment(ctx, payment); err != nil {
		t.Fatalf("Failed to save payment: %v", err)
	}

	if err := s.MarkPaymentStatus(ctx, payment.ID, engine.PaymentPaid); err != nil {
		t.Fatalf("Failed to mark status: %v", err)
	}
	got, err := s.GetPayment(ctx, "ins-1", "2025-3")
	if err != nil {
		t.Fatalf("Failed to get payment: %v", err)
	}
	if got.Status != engine.PaymentPaid {
		t.Errorf("Expected PAID, got %s", got.Status)
	}

	if err := s.MarkPaymentStatus(ctx, "pay-ghost", engine.PaymentPaid); !errors.Is(err, engine.ErrPaymentNotFound) {
		t.Errorf("Expected ErrPaymentNotFound, got %v", err)
	}
}

func TestSQLite_AssignmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	assignment := engine.CategoryAssignment{
		InstructorID: "ins-1", PeriodID: "2025-3",
		Category: engine.CategoryAmbassador, Manual: false,
		Snapshot: engine.MetricSnapshot{
			Occupancy:          decimal.RequireFromString("0.72"),
			ClassCount:         28,
			DistinctLocations:  2,
			DoubleShiftCount:   4,
			NonPrimeCount:      3,
			EventParticipation: true,
			MeetsGuidelines:    true,
		},
		Checks: []engine.RequirementCheck{
			{
				Key:      engine.ReqMinOccupancy,
				Required: decimal.RequireFromString("0.6"),
				Actual:   decimal.RequireFromString("0.72"),
				Met:      true,
			},
		},
	}
	if err := s.SaveAssignment(ctx, assignment); err != nil {
		t.Fatalf("Failed to save assignment: %v", err)
	}

	manual := assignment
	manual.Category = engine.CategorySeniorAmbassador
	manual.Manual = true
	manual.AssignedBy = "admin@siclo.pe"
	if err := s.SaveAssignment(ctx, manual); err != nil {
		t.Fatalf("Failed to upsert assignment: %v", err)
	}

	got, err := s.GetAssignment(ctx, "ins-1", "2025-3")
	if err != nil {
		t.Fatalf("Failed to get assignment: %v", err)
	}
	if got == nil {
		t.Fatal("Expected the assignment back")
	}
	if got.Category != engine.CategorySeniorAmbassador || !got.Manual || got.AssignedBy != "admin@siclo.pe" {
		t.Errorf("Upsert didn't replace fields: %+v", got)
	}
	if got.Snapshot.Occupancy.String() != "0.72" || got.Snapshot.ClassCount != 28 {
		t.Errorf("Snapshot changed: %+v", got.Snapshot)
	}
	if len(got.Checks) != 1 || got.Checks[0].Key != engine.ReqMinOccupancy {
		t.Errorf("Checks changed: %+v", got.Checks)
	}
}

func TestSQLite_RunUpsert(t *testing.T) {
	// GIVEN: A RUNNING recalc run
	// WHEN: Upserting the SUCCEEDED final state for the same key
	// THEN: One row remains with the final state

	ctx := context.Background()
	s := newTestStore(t)

	run := engine.RecalcRun{
		ID: "run-ins-1-2025-3", InstructorID: "ins-1", PeriodID: "2025-3",
		Status: engine.RunRunning, StartedAt: time.Date(2025, time.March, 16, 12, 0, 0, 0, time.UTC),
	}
	if err := s.SaveRecalcRun(ctx, run); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	done := run.StartedAt.Add(2 * time.Second)
	run.Status = engine.RunSucceeded
	run.CompletedAt = &done
	if err := s.SaveRecalcRun(ctx, run); err != nil {
		t.Fatalf("Failed to upsert run: %v", err)
	}

	runs, err := s.ListRecalcRuns(ctx, "2025-3")
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != engine.RunSucceeded || runs[0].CompletedAt == nil {
		t.Errorf("Expected the final state, got %+v", runs[0])
	}
}

func TestSQLite_WithTxRollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that writes a period then fails
	// WHEN: The function returns an error
	// THEN: Nothing is committed

	ctx := context.Background()
	s := newTestStore(t)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx engine.Store) error {
		if err := tx.SavePeriod(ctx, engine.Period{ID: "2025-3", Number: 3, Year: 2025}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the transaction error back, got %v", err)
	}

	period, err := s.GetPeriod(ctx, "2025-3")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if period != nil {
		t.Errorf("Expected rollback, found %+v", period)
	}
}
