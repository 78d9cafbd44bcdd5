/*
store.go - Persistence interfaces for the payment engine

PURPOSE:
  Defines the contract between the computation stages / orchestrator and the
  database. Different implementations can use SQLite (store/sqlite) or
  in-memory storage (engine/store, for tests).

REPLACE SEMANTICS:
  Payment and CategoryAssignment records are unique per (instructor, period)
  and are always written whole. SavePayment/SaveAssignment replace any prior
  record for the key; there are no partial update methods.

ATOMIC COMMITS:
  WithTx ensures the payment, its category assignment, and the run record
  commit together or not at all. A failed recalculation leaves the prior
  records untouched.
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// EXTERNAL READS - Collaborator data sources
// =============================================================================

// SessionSource supplies the class/reservation records for a run.
type SessionSource interface {
	ListClassSessions(ctx context.Context, instructorID InstructorID, periodID PeriodID) ([]ClassSession, error)
}

// ComplianceSource supplies event-participation and guideline-compliance
// facts. These are collaborator facts, not computed by the engine.
type ComplianceSource interface {
	GetComplianceFacts(ctx context.Context, instructorID InstructorID, periodID PeriodID) (ComplianceFacts, error)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

type InstructorStore interface {
	GetInstructor(ctx context.Context, id InstructorID) (*Instructor, error)
	ListInstructors(ctx context.Context) ([]Instructor, error)
	SaveInstructor(ctx context.Context, instructor Instructor) error
}

type PeriodStore interface {
	GetPeriod(ctx context.Context, id PeriodID) (*Period, error)
	ListPeriods(ctx context.Context) ([]Period, error)
	SavePeriod(ctx context.Context, period Period) error
}

type DisciplineStore interface {
	GetDiscipline(ctx context.Context, id DisciplineID) (*Discipline, error)
	ListDisciplines(ctx context.Context) ([]Discipline, error)
	SaveDiscipline(ctx context.Context, discipline Discipline) error
}

// =============================================================================
// CONFIGURATION - Formulas, requirements, non-prime schedule
// =============================================================================

// FormulaStore persists payment formulas. Duplication is the only bulk
// writer and is atomic: ReplaceFormulas either fully replaces the
// destination period's set or changes nothing.
type FormulaStore interface {
	FormulaLookup
	ListFormulas(ctx context.Context, periodID PeriodID) ([]Formula, error)
	SaveFormula(ctx context.Context, formula Formula) error
	ReplaceFormulas(ctx context.Context, periodID PeriodID, formulas []Formula) error
}

// RequirementsStore persists category threshold configuration per
// (period, discipline).
type RequirementsStore interface {
	GetRequirements(ctx context.Context, periodID PeriodID, disciplineID DisciplineID) (CategoryRequirements, error)
	SaveRequirements(ctx context.Context, periodID PeriodID, disciplineID DisciplineID, requirements CategoryRequirements) error
}

// ScheduleStore persists the non-prime slot configuration.
type ScheduleStore interface {
	GetNonPrimeSchedule(ctx context.Context) (NonPrimeSchedule, error)
	SaveNonPrimeSlots(ctx context.Context, studioKey string, slots []string) error
}

// =============================================================================
// RESULTS - Payments, assignments, run records
// =============================================================================

type PaymentStore interface {
	GetPayment(ctx context.Context, instructorID InstructorID, periodID PeriodID) (*Payment, error)
	ListPayments(ctx context.Context, periodID PeriodID) ([]Payment, error)
	// SavePayment writes the whole record, replacing any prior payment for
	// the same (instructor, period) key.
	SavePayment(ctx context.Context, payment Payment) error
	// MarkPaymentStatus flips status only; amounts are immutable outside
	// recalculation.
	MarkPaymentStatus(ctx context.Context, id PaymentID, status PaymentStatus) error
}

type AssignmentStore interface {
	GetAssignment(ctx context.Context, instructorID InstructorID, periodID PeriodID) (*CategoryAssignment, error)
	// SaveAssignment overwrites the (instructor, period) assignment.
	SaveAssignment(ctx context.Context, assignment CategoryAssignment) error
}

// RecalcRun is the persisted state-machine record for one recalculation of
// one (instructor, period) key. Re-runs upsert the same record.
type RecalcRun struct {
	ID           string
	InstructorID InstructorID
	PeriodID     PeriodID
	Status       RunStatus
	Error        string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

type RunStore interface {
	SaveRecalcRun(ctx context.Context, run RecalcRun) error
	ListRecalcRuns(ctx context.Context, periodID PeriodID) ([]RecalcRun, error)
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is the full persistence surface the orchestrator and API need.
type Store interface {
	SessionSource
	ComplianceSource
	InstructorStore
	PeriodStore
	DisciplineStore
	FormulaStore
	RequirementsStore
	ScheduleStore
	PaymentStore
	AssignmentStore
	RunStore

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back and nothing fn wrote is visible.
	WithTx(ctx context.Context, fn func(Store) error) error

	// SaveClassSession and SaveComplianceFacts back the import surface and
	// test fixtures; sessions are immutable once their period closes, which
	// is the import subsystem's contract, not enforced here.
	SaveClassSession(ctx context.Context, session ClassSession) error
	SaveComplianceFacts(ctx context.Context, instructorID InstructorID, periodID PeriodID, facts ComplianceFacts) error
}
