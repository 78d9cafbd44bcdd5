/*
Package engine provides the instructor payment calculation core.

PURPOSE:
  This package contains the pure computation stages that turn an instructor's
  class activity for a billing period into a payment: schedule classification,
  metric aggregation, category resolution, formula evaluation, and the
  adjustment/retention stage. Everything here is deterministic and free of
  persistence; the payroll package drives these stages and commits results.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A currency quantity backed by decimal.Decimal (no float money)
  - ClassSession: One scheduled class with capacity and reservations
  - Period: A billing cycle identified by (number, year)
  - MetricSnapshot: Derived per-instructor-per-period performance metrics
  - CategoryAssignment / Payment: The two records a recalculation replaces

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point currency errors
  2. Type Safety: Strong typing for IDs prevents mixing instructor/period IDs
  3. Auditability: Every payment carries the full calculation log that
     produced it
  4. Replace, never patch: Payment and CategoryAssignment are whole-record
     values; a recalculation fully supersedes the prior record or leaves it
     untouched

SEE ALSO:
  - metrics.go: MetricSnapshot aggregation
  - category.go: Tier resolution with requirement traces
  - formula.go: Payment formula model and lookup
  - evaluate.go: Formula evaluation
  - adjust.go: Reajuste and statutory retention
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency quantity (decimal-backed)
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int) Money {
	return Money{Value: decimal.NewFromInt(int64(value))}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(b Money) Money             { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money             { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Mul(s decimal.Decimal) Money   { return Money{Value: m.Value.Mul(s)} }
func (m Money) Div(s decimal.Decimal) Money   { return Money{Value: m.Value.Div(s)} }
func (m Money) Neg() Money                    { return Money{Value: m.Value.Neg()} }
func (m Money) IsNegative() bool              { return m.Value.IsNegative() }
func (m Money) IsZero() bool                  { return m.Value.IsZero() }
func (m Money) IsPositive() bool              { return m.Value.IsPositive() }
func (m Money) Equal(b Money) bool            { return m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool      { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool         { return m.Value.LessThan(b.Value) }
func (m Money) Round2() Money                 { return Money{Value: m.Value.Round(2)} }
func (m Money) String() string                { return m.Value.StringFixed(2) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type InstructorID string
type PeriodID string
type DisciplineID string
type FormulaID string
type PaymentID string

// PaymentIDFor derives the deterministic payment identifier for a key.
// Recalculations for the same (instructor, period) always produce the same
// ID, which is what makes the replace-don't-duplicate contract enforceable
// at the storage layer.
func PaymentIDFor(instructorID InstructorID, periodID PeriodID) PaymentID {
	return PaymentID(fmt.Sprintf("pay-%s-%s", instructorID, periodID))
}

// =============================================================================
// PERIOD - Billing cycle (number, year)
// =============================================================================

type Period struct {
	ID     PeriodID
	Number int
	Year   int
}

func (p Period) String() string {
	return fmt.Sprintf("%d/%d", p.Number, p.Year)
}

// =============================================================================
// INSTRUCTOR / DISCIPLINE
// =============================================================================

type Instructor struct {
	ID           InstructorID
	Name         string
	DisciplineID DisciplineID
	Active       bool
}

type Discipline struct {
	ID    DisciplineID
	Name  string
	Color string
}

// =============================================================================
// CLASS SESSION - One scheduled class (immutable once its period closes)
// =============================================================================

type ClassSession struct {
	ID               string
	InstructorID     InstructorID
	PeriodID         PeriodID
	DisciplineID     DisciplineID
	Studio           string
	Room             string
	StartsAt         time.Time
	Spots            int
	Reservations     int
	PaidReservations int
}

// StartSlot returns the session start time as "HH:MM", the form the schedule
// classifier and non-prime configuration use.
func (c ClassSession) StartSlot() string {
	return c.StartsAt.Format("15:04")
}

// =============================================================================
// COMPLIANCE FACTS - Sourced from collaborators, never computed here
// =============================================================================

type ComplianceFacts struct {
	EventParticipation bool
	MeetsGuidelines    bool
}

// =============================================================================
// METRIC SNAPSHOT - Derived per instructor+period, recomputed on every run
// =============================================================================

// MetricSnapshot is a value object; it is never partially updated. A
// recalculation computes a fresh snapshot from the period's sessions.
type MetricSnapshot struct {
	Occupancy          decimal.Decimal // paid reservations / spots, 0..1
	ClassCount         int
	DistinctLocations  int
	DoubleShiftCount   int // calendar days with back-to-back sessions
	NonPrimeCount      int
	EventParticipation bool
	MeetsGuidelines    bool
}

func (m MetricSnapshot) Summary() string {
	return fmt.Sprintf("occupancy=%s classes=%d locations=%d double_shifts=%d non_prime=%d event=%t guidelines=%t",
		m.Occupancy.StringFixed(4), m.ClassCount, m.DistinctLocations,
		m.DoubleShiftCount, m.NonPrimeCount, m.EventParticipation, m.MeetsGuidelines)
}

// =============================================================================
// CATEGORY - Instructor tier
// =============================================================================

type Category string

const (
	CategoryInstructor       Category = "INSTRUCTOR"
	CategoryJuniorAmbassador Category = "JUNIOR_AMBASSADOR"
	CategoryAmbassador       Category = "AMBASSADOR"
	CategorySeniorAmbassador Category = "SENIOR_AMBASSADOR"
)

// Priority returns the tier rank; higher wins. INSTRUCTOR is the floor every
// instructor holds by default.
func (c Category) Priority() int {
	switch c {
	case CategorySeniorAmbassador:
		return 3
	case CategoryAmbassador:
		return 2
	case CategoryJuniorAmbassador:
		return 1
	default:
		return 0
	}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryInstructor, CategoryJuniorAmbassador, CategoryAmbassador, CategorySeniorAmbassador:
		return true
	}
	return false
}

// CategoriesByPriority lists tiers from highest to lowest. The resolver scans
// this order and the first fully-satisfied tier wins.
func CategoriesByPriority() []Category {
	return []Category{
		CategorySeniorAmbassador,
		CategoryAmbassador,
		CategoryJuniorAmbassador,
		CategoryInstructor,
	}
}

// =============================================================================
// CATEGORY ASSIGNMENT - (instructor, period) -> tier, overwritten per run
// =============================================================================

type CategoryAssignment struct {
	InstructorID InstructorID
	PeriodID     PeriodID
	Category     Category
	Manual       bool
	AssignedBy   string // administrator identity for manual assignments
	Snapshot     MetricSnapshot
	Checks       []RequirementCheck // reason trace for automatic assignments
	UpdatedAt    time.Time
}

// =============================================================================
// ADJUSTMENT ("reajuste") - Manual per-payment correction
// =============================================================================

type AdjustmentMode string

const (
	AdjustmentFixed      AdjustmentMode = "FIXED"
	AdjustmentPercentage AdjustmentMode = "PERCENTAGE"
)

type Adjustment struct {
	Mode  AdjustmentMode
	Value decimal.Decimal // signed; percentage is expressed as e.g. 10 for +10%
}

func (a Adjustment) String() string {
	if a.Mode == AdjustmentPercentage {
		return fmt.Sprintf("%s%%", a.Value.String())
	}
	return a.Value.StringFixed(2)
}

// =============================================================================
// PAYMENT - (instructor, period) unique financial record
// =============================================================================

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

type Payment struct {
	ID           PaymentID
	InstructorID InstructorID
	PeriodID     PeriodID
	Category     Category

	BaseAmount Money
	Bonuses    Money
	Penalties  Money

	Adjustment      *Adjustment
	Subtotal        Money // base + bonuses - penalties, before adjustment
	AdjustedAmount  Money // subtotal after reajuste, before retention
	RetentionAmount Money
	FinalPayment    Money

	Status         PaymentStatus
	CalculationLog []string
	CalculatedAt   time.Time
}
