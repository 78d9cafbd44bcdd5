/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY FIELDS:
  All monetary fields travel as strings holding exact decimal values
  ("1012.00"), never floats. The admin frontend renders them verbatim.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/formula.go: FormulaJSON type
*/
package api

import (
	"time"

	"github.com/siclo/payments-engine/engine"
	"github.com/siclo/payments-engine/factory"
)

// =============================================================================
// REFERENCE DATA
// =============================================================================

// PeriodDTO represents a payment period in API responses.
type PeriodDTO struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Year   int    `json:"year"`
}

// DisciplineDTO represents a discipline in API responses.
type DisciplineDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// InstructorDTO represents an instructor in API responses.
type InstructorDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DisciplineID string `json:"discipline_id"`
	Active       bool   `json:"active"`
}

// =============================================================================
// RECALCULATION
// =============================================================================

// RecalculateRequest carries the optional overrides for a single
// recalculation. Omitted fields preserve whatever the prior records hold.
type RecalculateRequest struct {
	ManualCategory      string         `json:"manual_category,omitempty"`
	ClearManualCategory bool           `json:"clear_manual_category,omitempty"`
	AssignedBy          string         `json:"assigned_by,omitempty"`
	Adjustment          *AdjustmentDTO `json:"adjustment,omitempty"`
	ClearAdjustment     bool           `json:"clear_adjustment,omitempty"`
}

// AdjustmentDTO represents a reajuste in requests and responses.
type AdjustmentDTO struct {
	Mode  string `json:"mode"` // FIXED or PERCENTAGE
	Value string `json:"value"`
}

// RecalculateResponse reports the outcome of a single recalculation.
type RecalculateResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	PaymentID string   `json:"payment_id,omitempty"`
	Logs      []string `json:"logs,omitempty"`
}

// =============================================================================
// PAYMENTS AND ASSIGNMENTS
// =============================================================================

// PaymentDTO represents a computed payment in API responses.
type PaymentDTO struct {
	ID              string         `json:"id"`
	InstructorID    string         `json:"instructor_id"`
	PeriodID        string         `json:"period_id"`
	Category        string         `json:"category"`
	BaseAmount      string         `json:"base_amount"`
	Bonuses         string         `json:"bonuses"`
	Penalties       string         `json:"penalties"`
	Adjustment      *AdjustmentDTO `json:"adjustment,omitempty"`
	Subtotal        string         `json:"subtotal"`
	AdjustedAmount  string         `json:"adjusted_amount"`
	RetentionAmount string         `json:"retention_amount"`
	FinalPayment    string         `json:"final_payment"`
	Status          string         `json:"status"`
	CalculationLog  []string       `json:"calculation_log"`
	CalculatedAt    string         `json:"calculated_at"`
}

// MarkStatusRequest flips a payment's status.
type MarkStatusRequest struct {
	Status string `json:"status"` // PENDING or PAID
}

// AssignmentDTO represents a category assignment in API responses.
type AssignmentDTO struct {
	InstructorID string                `json:"instructor_id"`
	PeriodID     string                `json:"period_id"`
	Category     string                `json:"category"`
	Manual       bool                  `json:"manual"`
	AssignedBy   string                `json:"assigned_by,omitempty"`
	Metrics      MetricsDTO            `json:"metrics"`
	Checks       []RequirementCheckDTO `json:"checks"`
	UpdatedAt    string                `json:"updated_at"`
}

// MetricsDTO represents the aggregated period metrics.
type MetricsDTO struct {
	Occupancy          string `json:"occupancy"`
	ClassCount         int    `json:"class_count"`
	DistinctLocations  int    `json:"distinct_locations"`
	DoubleShiftCount   int    `json:"double_shift_count"`
	NonPrimeCount      int    `json:"non_prime_count"`
	EventParticipation bool   `json:"event_participation"`
	MeetsGuidelines    bool   `json:"meets_guidelines"`
}

// RequirementCheckDTO is one line of the category decision trace.
type RequirementCheckDTO struct {
	Key      string `json:"key"`
	Required string `json:"required"`
	Actual   string `json:"actual"`
	Met      bool   `json:"met"`
}

// =============================================================================
// FORMULAS AND CONFIGURATION
// =============================================================================

// DuplicateFormulasRequest names the source and target periods.
type DuplicateFormulasRequest struct {
	SourcePeriodID string `json:"source_period_id"`
	TargetPeriodID string `json:"target_period_id"`
}

// FormulaDTO wraps the factory JSON schema for API responses.
type FormulaDTO = factory.FormulaJSON

// RequirementsRequest sets the category requirements for a
// (period, discipline) key.
type RequirementsRequest struct {
	Requirements factory.RequirementsJSON `json:"requirements"`
}

// NonPrimeSlotsRequest sets the non-prime slots for one studio key.
type NonPrimeSlotsRequest struct {
	Slots []string `json:"slots"`
}

// RunDTO represents a recalculation run record.
type RunDTO struct {
	ID           string `json:"id"`
	InstructorID string `json:"instructor_id"`
	PeriodID     string `json:"period_id"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	StartedAt    string `json:"started_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

// =============================================================================
// IMPORT SURFACE
// =============================================================================

// ClassSessionRequest imports one class/reservation record.
type ClassSessionRequest struct {
	ID               string `json:"id"`
	InstructorID     string `json:"instructor_id"`
	PeriodID         string `json:"period_id"`
	DisciplineID     string `json:"discipline_id"`
	Studio           string `json:"studio"`
	Room             string `json:"room,omitempty"`
	StartsAt         string `json:"starts_at"` // RFC3339
	Spots            int    `json:"spots"`
	Reservations     int    `json:"reservations"`
	PaidReservations int    `json:"paid_reservations"`
}

// ComplianceRequest imports the collaborator compliance facts.
type ComplianceRequest struct {
	InstructorID       string `json:"instructor_id"`
	PeriodID           string `json:"period_id"`
	EventParticipation bool   `json:"event_participation"`
	MeetsGuidelines    bool   `json:"meets_guidelines"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toPaymentDTO(p engine.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:              string(p.ID),
		InstructorID:    string(p.InstructorID),
		PeriodID:        string(p.PeriodID),
		Category:        string(p.Category),
		BaseAmount:      p.BaseAmount.String(),
		Bonuses:         p.Bonuses.String(),
		Penalties:       p.Penalties.String(),
		Subtotal:        p.Subtotal.String(),
		AdjustedAmount:  p.AdjustedAmount.String(),
		RetentionAmount: p.RetentionAmount.String(),
		FinalPayment:    p.FinalPayment.String(),
		Status:          string(p.Status),
		CalculationLog:  p.CalculationLog,
		CalculatedAt:    p.CalculatedAt.Format(time.RFC3339),
	}
	if p.Adjustment != nil {
		dto.Adjustment = &AdjustmentDTO{
			Mode:  string(p.Adjustment.Mode),
			Value: p.Adjustment.Value.String(),
		}
	}
	return dto
}

func toAssignmentDTO(a engine.CategoryAssignment) AssignmentDTO {
	dto := AssignmentDTO{
		InstructorID: string(a.InstructorID),
		PeriodID:     string(a.PeriodID),
		Category:     string(a.Category),
		Manual:       a.Manual,
		AssignedBy:   a.AssignedBy,
		Metrics: MetricsDTO{
			Occupancy:          a.Snapshot.Occupancy.StringFixed(4),
			ClassCount:         a.Snapshot.ClassCount,
			DistinctLocations:  a.Snapshot.DistinctLocations,
			DoubleShiftCount:   a.Snapshot.DoubleShiftCount,
			NonPrimeCount:      a.Snapshot.NonPrimeCount,
			EventParticipation: a.Snapshot.EventParticipation,
			MeetsGuidelines:    a.Snapshot.MeetsGuidelines,
		},
		Checks:    make([]RequirementCheckDTO, 0, len(a.Checks)),
		UpdatedAt: a.UpdatedAt.Format(time.RFC3339),
	}
	for _, c := range a.Checks {
		dto.Checks = append(dto.Checks, RequirementCheckDTO{
			Key:      string(c.Key),
			Required: c.Required.String(),
			Actual:   c.Actual.String(),
			Met:      c.Met,
		})
	}
	return dto
}

func toRunDTO(r engine.RecalcRun) RunDTO {
	dto := RunDTO{
		ID:           r.ID,
		InstructorID: string(r.InstructorID),
		PeriodID:     string(r.PeriodID),
		Status:       string(r.Status),
		Error:        r.Error,
		StartedAt:    r.StartedAt.Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = r.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
