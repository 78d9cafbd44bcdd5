package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/siclo/payments-engine/engine"
	"github.com/siclo/payments-engine/engine/store"
)

func testPayment(instructorID engine.InstructorID, periodID engine.PeriodID) engine.Payment {
	return engine.Payment{
		ID:           engine.PaymentIDFor(instructorID, periodID),
		InstructorID: instructorID,
		PeriodID:     periodID,
		Category:     engine.CategoryInstructor,
		BaseAmount:   engine.NewMoneyFromInt(400),
		Subtotal:     engine.NewMoneyFromInt(400),
		Status:       engine.PaymentPending,
		CalculatedAt: time.Date(2025, time.March, 16, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemory_ComplianceFactsDefault(t *testing.T) {
	// GIVEN: No compliance import for a key
	// WHEN: Reading the facts
	// THEN: Guidelines default to met, participation to false

	ctx := context.Background()
	m := store.NewMemory()

	facts, err := m.GetComplianceFacts(ctx, "ins-1", "2025-3")
	if err != nil {
		t.Fatalf("Failed to get facts: %v", err)
	}
	if facts.EventParticipation || !facts.MeetsGuidelines {
		t.Errorf("Unexpected default facts: %+v", facts)
	}

	if err := m.SaveComplianceFacts(ctx, "ins-1", "2025-3", engine.ComplianceFacts{EventParticipation: true, MeetsGuidelines: false}); err != nil {
		t.Fatalf("Failed to save facts: %v", err)
	}
	facts, err = m.GetComplianceFacts(ctx, "ins-1", "2025-3")
	if err != nil {
		t.Fatalf("Failed to get facts: %v", err)
	}
	if !facts.EventParticipation || facts.MeetsGuidelines {
		t.Errorf("Expected the stored facts back, got %+v", facts)
	}
}

func TestMemory_SavePaymentReplaces(t *testing.T) {
	// GIVEN: A payment stored for a key
	// WHEN: Saving another payment for the same key
	// THEN: The second replaces the first, never a duplicate row

	ctx := context.Background()
	m := store.NewMemory()

	first := testPayment("ins-1", "2025-3")
	if err := m.SavePayment(ctx, first); err != nil {
		t.Fatalf("Failed to save payment: %v", err)
	}

	second := first
	second.BaseAmount = engine.NewMoneyFromInt(500)
	if err := m.SavePayment(ctx, second); err != nil {
		t.Fatalf("Failed to save replacement: %v", err)
	}

	payments, err := m.ListPayments(ctx, "2025-3")
	if err != nil {
		t.Fatalf("Failed to list payments: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("Expected 1 payment, got %d", len(payments))
	}
	if !payments[0].BaseAmount.Equal(engine.NewMoneyFromInt(500)) {
		t.Errorf("Expected replacement amount 500, got %s", payments[0].BaseAmount)
	}
}

func TestMemory_MarkPaymentStatus(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	p := testPayment("ins-1", "2025-3")
	if err := m.SavePayment(ctx, p); err != nil {
		t.Fatalf("Failed to save payment: %v", err)
	}

	if err := m.MarkPaymentStatus(ctx, p.ID, engine.PaymentPaid); err != nil {
		t.Fatalf("Failed to mark status: %v", err)
	}
	got, err := m.GetPayment(ctx, "ins-1", "2025-3")
	if err != nil {
		t.Fatalf("Failed to get payment: %v", err)
	}
	if got.Status != engine.PaymentPaid {
		t.Errorf("Expected PAID, got %s", got.Status)
	}

	if err := m.MarkPaymentStatus(ctx, "pay-ghost", engine.PaymentPaid); !errors.Is(err, engine.ErrPaymentNotFound) {
		t.Errorf("Expected ErrPaymentNotFound for unknown ID, got %v", err)
	}
}

func TestMemory_WithTxCommit(t *testing.T) {
	// GIVEN: A transaction writing a payment and an assignment
	// WHEN: The function returns nil
	// THEN: Both writes are visible afterward

	ctx := context.Background()
	m := store.NewMemory()

	err := m.WithTx(ctx, func(tx engine.Store) error {
		if err := tx.SavePayment(ctx, testPayment("ins-1", "2025-3")); err != nil {
			return err
		}
		return tx.SaveAssignment(ctx, engine.CategoryAssignment{
			InstructorID: "ins-1",
			PeriodID:     "2025-3",
			Category:     engine.CategoryAmbassador,
		})
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	payment, err := m.GetPayment(ctx, "ins-1", "2025-3")
	if err != nil || payment == nil {
		t.Fatalf("Expected committed payment, got %v (err %v)", payment, err)
	}
	assignment, err := m.GetAssignment(ctx, "ins-1", "2025-3")
	if err != nil || assignment == nil {
		t.Fatalf("Expected committed assignment, got %v (err %v)", assignment, err)
	}
}

func TestMemory_WithTxRollback(t *testing.T) {
	// GIVEN: A prior payment, then a transaction that overwrites it and fails
	// WHEN: The function returns an error
	// THEN: The prior state is restored

	ctx := context.Background()
	m := store.NewMemory()

	original := testPayment("ins-1", "2025-3")
	if err := m.SavePayment(ctx, original); err != nil {
		t.Fatalf("Failed to save payment: %v", err)
	}

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx engine.Store) error {
		overwrite := original
		overwrite.BaseAmount = engine.NewMoneyFromInt(999)
		if err := tx.SavePayment(ctx, overwrite); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the transaction error back, got %v", err)
	}

	payment, err := m.GetPayment(ctx, "ins-1", "2025-3")
	if err != nil {
		t.Fatalf("Failed to get payment: %v", err)
	}
	if !payment.BaseAmount.Equal(engine.NewMoneyFromInt(400)) {
		t.Errorf("Expected rollback to 400, got %s", payment.BaseAmount)
	}
}

func TestMemory_WithTxRollbackCoversFormulas(t *testing.T) {
	// GIVEN: A period with one formula, then a failed ReplaceFormulas tx
	// WHEN: The transaction errors after the replace
	// THEN: The original formula set survives

	ctx := context.Background()
	m := store.NewMemory()

	f := engine.Formula{
		ID: "f-1", PeriodID: "2025-3", DisciplineID: "cycling", IsDefault: true, Name: "Default",
		Terms: []engine.Term{{Kind: engine.TermRate, Rate: &engine.RateTerm{BaseRate: engine.NewMoneyFromInt(100)}}},
	}
	if err := m.SaveFormula(ctx, f); err != nil {
		t.Fatalf("Failed to save formula: %v", err)
	}

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx engine.Store) error {
		if err := tx.ReplaceFormulas(ctx, "2025-3", nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the transaction error back, got %v", err)
	}

	formulas, err := m.ListFormulas(ctx, "2025-3")
	if err != nil {
		t.Fatalf("Failed to list formulas: %v", err)
	}
	if len(formulas) != 1 || formulas[0].ID != "f-1" {
		t.Errorf("Expected the original formula back, got %+v", formulas)
	}
}

func TestMemory_SaveFormulaUpsertsBySlot(t *testing.T) {
	// GIVEN: A default formula for a (period, discipline)
	// WHEN: Saving another default for the same slot
	// THEN: The slot is replaced, category slots stay independent

	ctx := context.Background()
	m := store.NewMemory()

	base := engine.Formula{
		PeriodID: "2025-3", DisciplineID: "cycling",
		Terms: []engine.Term{{Kind: engine.TermRate, Rate: &engine.RateTerm{BaseRate: engine.NewMoneyFromInt(100)}}},
	}

	d1 := base
	d1.ID, d1.IsDefault, d1.Name = "f-d1", true, "Default v1"
	d2 := base
	d2.ID, d2.IsDefault, d2.Name = "f-d2", true, "Default v2"
	amb := base
	amb.ID, amb.Category, amb.Name = "f-amb", engine.CategoryAmbassador, "Ambassador"

	for _, f := range []engine.Formula{d1, amb, d2} {
		if err := m.SaveFormula(ctx, f); err != nil {
			t.Fatalf("Failed to save formula %s: %v", f.ID, err)
		}
	}

	formulas, err := m.ListFormulas(ctx, "2025-3")
	if err != nil {
		t.Fatalf("Failed to list formulas: %v", err)
	}
	if len(formulas) != 2 {
		t.Fatalf("Expected 2 formulas (default + ambassador), got %d", len(formulas))
	}

	got, err := m.GetFormula(ctx, "2025-3", "cycling", "", true)
	if err != nil {
		t.Fatalf("Failed to get default formula: %v", err)
	}
	if got == nil || got.Name != "Default v2" {
		t.Errorf("Expected the upserted default, got %+v", got)
	}
}

func TestMemory_GetFormulaMatchesCategoryOrDefault(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	terms := []engine.Term{{Kind: engine.TermRate, Rate: &engine.RateTerm{BaseRate: engine.NewMoneyFromInt(100)}}}
	if err := m.SaveFormula(ctx, engine.Formula{ID: "f-amb", PeriodID: "2025-3", DisciplineID: "cycling", Category: engine.CategoryAmbassador, Terms: terms}); err != nil {
		t.Fatalf("Failed to save formula: %v", err)
	}

	got, err := m.GetFormula(ctx, "2025-3", "cycling", engine.CategoryAmbassador, false)
	if err != nil || got == nil {
		t.Fatalf("Expected the category formula, got %v (err %v)", got, err)
	}

	missing, err := m.GetFormula(ctx, "2025-3", "cycling", engine.CategorySeniorAmbassador, false)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for unconfigured category, got %+v", missing)
	}

	noDefault, err := m.GetFormula(ctx, "2025-3", "cycling", "", true)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if noDefault != nil {
		t.Errorf("Expected nil default, got %+v", noDefault)
	}
}

func TestMemory_RunUpsert(t *testing.T) {
	// GIVEN: A RUNNING recalc run for a key
	// WHEN: Saving a SUCCEEDED run for the same key
	// THEN: One record remains, holding the final state

	ctx := context.Background()
	m := store.NewMemory()

	run := engine.RecalcRun{
		ID: "run-ins-1-2025-3", InstructorID: "ins-1", PeriodID: "2025-3",
		Status: engine.RunRunning, StartedAt: time.Now(),
	}
	if err := m.SaveRecalcRun(ctx, run); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	done := time.Now()
	run.Status = engine.RunSucceeded
	run.CompletedAt = &done
	if err := m.SaveRecalcRun(ctx, run); err != nil {
		t.Fatalf("Failed to upsert run: %v", err)
	}

	runs, err := m.ListRecalcRuns(ctx, "2025-3")
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != engine.RunSucceeded || runs[0].CompletedAt == nil {
		t.Errorf("Expected the upserted final state, got %+v", runs[0])
	}
}
