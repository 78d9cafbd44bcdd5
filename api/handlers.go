/*
handlers.go - HTTP API handlers for the instructor payment engine

PURPOSE:
  Exposes the payment engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Reference data:
    GET    /api/periods                  List periods
    POST   /api/periods                  Create/update period
    GET    /api/disciplines              List disciplines
    POST   /api/disciplines              Create/update discipline
    GET    /api/instructors              List instructors
    POST   /api/instructors              Create/update instructor
    GET    /api/instructors/{id}         Get instructor

  Recalculation:
    POST   /api/periods/{periodID}/recalculate                   Batch recalculation
    POST   /api/periods/{periodID}/recalculate/{instructorID}    Single recalculation

  Payments:
    GET    /api/periods/{periodID}/payments                 List payments
    GET    /api/periods/{periodID}/payments/{instructorID}  Payment with audit log
    POST   /api/payments/{id}/status                        Mark payment PAID/PENDING

  Categories:
    GET    /api/periods/{periodID}/categories/{instructorID}  Assignment with trace

  Configuration:
    GET    /api/periods/{periodID}/formulas        List formulas
    POST   /api/formulas                           Create/update formula from JSON
    POST   /api/formulas/duplicate                 Copy formulas across periods
    GET/PUT /api/periods/{periodID}/disciplines/{disciplineID}/requirements
    PUT    /api/schedule/non-prime/{studioKey}     Set non-prime slots
    GET    /api/schedule/non-prime                 Full schedule

  Import:
    POST   /api/sessions       Import class session
    POST   /api/compliance     Import compliance facts

  Runs:
    GET    /api/periods/{periodID}/runs   Recalculation run records

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Missing records or configuration
  - 409: Conflict (recalculation already in flight)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - payroll/recalc.go: Orchestration logic
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/siclo/payments-engine/engine"
	"github.com/siclo/payments-engine/factory"
	"github.com/siclo/payments-engine/payroll"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        engine.Store
	Orchestrator *payroll.Orchestrator
	Factory      *factory.FormulaFactory
}

// NewHandler creates a new handler over the given store.
func NewHandler(store engine.Store) *Handler {
	return &Handler{
		Store:        store,
		Orchestrator: payroll.NewOrchestrator(store),
		Factory:      factory.NewFormulaFactory(),
	}
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

// ListPeriods returns all periods.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Store.ListPeriods(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list periods", err)
		return
	}

	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = PeriodDTO{ID: string(p.ID), Number: p.Number, Year: p.Year}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePeriod creates or updates a period.
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req PeriodDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Number < 1 || req.Year < 2000 {
		writeError(w, http.StatusBadRequest, "id, number and year are required", nil)
		return
	}

	period := engine.Period{ID: engine.PeriodID(req.ID), Number: req.Number, Year: req.Year}
	if err := h.Store.SavePeriod(r.Context(), period); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save period", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListDisciplines returns all disciplines.
func (h *Handler) ListDisciplines(w http.ResponseWriter, r *http.Request) {
	disciplines, err := h.Store.ListDisciplines(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list disciplines", err)
		return
	}

	dtos := make([]DisciplineDTO, len(disciplines))
	for i, d := range disciplines {
		dtos[i] = DisciplineDTO{ID: string(d.ID), Name: d.Name, Color: d.Color}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDiscipline creates or updates a discipline.
func (h *Handler) CreateDiscipline(w http.ResponseWriter, r *http.Request) {
	var req DisciplineDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	d := engine.Discipline{ID: engine.DisciplineID(req.ID), Name: req.Name, Color: req.Color}
	if err := h.Store.SaveDiscipline(r.Context(), d); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save discipline", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListInstructors returns all instructors.
func (h *Handler) ListInstructors(w http.ResponseWriter, r *http.Request) {
	instructors, err := h.Store.ListInstructors(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list instructors", err)
		return
	}

	dtos := make([]InstructorDTO, len(instructors))
	for i, ins := range instructors {
		dtos[i] = InstructorDTO{
			ID:           string(ins.ID),
			Name:         ins.Name,
			DisciplineID: string(ins.DisciplineID),
			Active:       ins.Active,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetInstructor returns a single instructor.
func (h *Handler) GetInstructor(w http.ResponseWriter, r *http.Request) {
	id := engine.InstructorID(chi.URLParam(r, "id"))

	ins, err := h.Store.GetInstructor(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get instructor", err)
		return
	}
	if ins == nil {
		writeError(w, http.StatusNotFound, "Instructor not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, InstructorDTO{
		ID:           string(ins.ID),
		Name:         ins.Name,
		DisciplineID: string(ins.DisciplineID),
		Active:       ins.Active,
	})
}

// CreateInstructor creates or updates an instructor.
func (h *Handler) CreateInstructor(w http.ResponseWriter, r *http.Request) {
	var req InstructorDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" || req.DisciplineID == "" {
		writeError(w, http.StatusBadRequest, "id, name and discipline_id are required", nil)
		return
	}

	ins := engine.Instructor{
		ID:           engine.InstructorID(req.ID),
		Name:         req.Name,
		DisciplineID: engine.DisciplineID(req.DisciplineID),
		Active:       req.Active,
	}
	if err := h.Store.SaveInstructor(r.Context(), ins); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save instructor", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// RECALCULATION HANDLERS
// =============================================================================

// Recalculate recomputes the payment for one instructor in a period.
// POST /api/periods/{periodID}/recalculate/{instructorID}
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	periodID := engine.PeriodID(chi.URLParam(r, "periodID"))
	instructorID := engine.InstructorID(chi.URLParam(r, "instructorID"))

	var req RecalculateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	overrides, err := parseOverrides(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid overrides", err)
		return
	}

	result, err := h.Orchestrator.Recalculate(r.Context(), instructorID, periodID, overrides)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = statusForResult(result.Err)
	}
	writeJSON(w, status, RecalculateResponse{
		Success:   result.Success,
		Message:   result.Message,
		PaymentID: string(result.PaymentID),
		Logs:      result.Logs,
	})
}

// RecalculateBatch recomputes every instructor in a period.
// POST /api/periods/{periodID}/recalculate
func (h *Handler) RecalculateBatch(w http.ResponseWriter, r *http.Request) {
	periodID := engine.PeriodID(chi.URLParam(r, "periodID"))

	summary, err := h.Orchestrator.RecalculateBatch(r.Context(), periodID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func parseOverrides(req RecalculateRequest) (*payroll.Overrides, error) {
	ov := &payroll.Overrides{
		ClearManualCategory: req.ClearManualCategory,
		ClearAdjustment:     req.ClearAdjustment,
		AssignedBy:          req.AssignedBy,
	}

	if req.ManualCategory != "" {
		cat := engine.Category(req.ManualCategory)
		if !cat.Valid() {
			return nil, &engine.ValidationError{Field: "manual_category", Message: "unknown category"}
		}
		ov.ManualCategory = &cat
	}

	if req.Adjustment != nil {
		mode := engine.AdjustmentMode(req.Adjustment.Mode)
		if mode != engine.AdjustmentFixed && mode != engine.AdjustmentPercentage {
			return nil, &engine.ValidationError{Field: "adjustment.mode", Message: "mode must be FIXED or PERCENTAGE"}
		}
		value, err := decimal.NewFromString(req.Adjustment.Value)
		if err != nil {
			return nil, &engine.ValidationError{Field: "adjustment.value", Message: "invalid decimal"}
		}
		ov.Adjustment = &engine.Adjustment{Mode: mode, Value: value}
	}

	return ov, nil
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns all payments for a period.
// GET /api/periods/{periodID}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	periodID := engine.PeriodID(chi.URLParam(r, "periodID"))

	payments, err := h.Store.ListPayments(r.Context(), periodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPayment returns one payment with its full audit log.
// GET /api/periods/{periodID}/payments/{instructorID}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	periodID := engine.PeriodID(chi.URLParam(r, "periodID"))
	instructorID := engine.InstructorID(chi.URLParam(r, "instructorID"))

	payment, err := h.Store.GetPayment(r.Context(), instructorID, periodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get payment", err)
		return
	}
	if payment == nil {
		writeError(w, http.StatusNotFound, "Payment not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*payment))
}

// MarkPaymentStatus flips a payment between PENDING and PAID.
// POST /api/payments/{id}/status
func (h *Handler) MarkPaymentStatus(w http.ResponseWriter, r *http.Request) {
	id := engine.PaymentID(chi.URLParam(r, "id"))

	var req MarkStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	status := engine.PaymentStatus(req.Status)
	if status != engine.PaymentPending && status != engine.PaymentPaid {
		writeError(w, http.StatusBadRequest, "status must be PENDING or PAID", nil)
		return
	}

	if err := h.Store.MarkPaymentStatus(r.Context(), id, status); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": string(id), "status": string(status)})
}

// =============================================================================
// CATEGORY HANDLERS
// =============================================================================

// GetAssignment returns the category assignment with its decision trace.
// GET /api/periods/{periodID}/categories/{instructorID}
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	periodID := engine.PeriodID(chi.URLParam(r, "periodID"))
	instructorID := engine.InstructorID(chi.URLParam(r, "instructorID"))

	assignment, err := h.Store.GetAssignment(r.Context(), instructorID, periodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get assignment", err)
		return
	}
	if assignment == nil {
		writeError(w, http.StatusNotFound, "Category assignment not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(*assignment))
}

// =============================================================================
// FORMULA HANDLERS
// =============================================================================

// ListFormulas returns all formulas for a period.
// GET /api/periods/{periodID}/formulas
func (h *Handler) ListFormulas(w http.ResponseWriter, r *http.Request) {
	periodID := engine.PeriodID(chi.URLParam(r, "periodID"))

	formulas, err := h.Store.ListFormulas(r.Context(), periodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list formulas", err)
		return
	}

	dtos := make([]FormulaDTO, len(formulas))
	for i := range formulas {
		dtos[i] = h.Factory.ToJSON(&formulas[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateFormula creates or updates a formula from its JSON definition.
// POST /api/formulas
func (h *Handler) CreateFormula(w http.ResponseWriter, r *http.Request) {
	var req FormulaDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	formula, err := h.Factory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid formula definition", err)
		return
	}

	if err := h.Store.SaveFormula(r.Context(), *formula); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save formula", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Factory.ToJSON(formula))
}

// DuplicateFormulas copies every formula from one period to another.
// POST /api/formulas/duplicate
func (h *Handler) DuplicateFormulas(w http.ResponseWriter, r *http.Request) {
	var req DuplicateFormulasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Orchestrator.DuplicateFormulas(r.Context(),
		engine.PeriodID(req.SourcePeriodID), engine.PeriodID(req.TargetPeriodID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// REQUIREMENTS AND SCHEDULE HANDLERS
// =============================================================================

// GetRequirements returns the category thresholds for a period+discipline.
// GET /api/periods/{periodID}/disciplines/{disciplineID}/requirements
func (h *Handler) GetRequirements(w http.ResponseWriter, r *http.Request) {
	periodID := engine.PeriodID(chi.URLParam(r, "periodID"))
	disciplineID := engine.DisciplineID(chi.URLParam(r, "disciplineID"))

	reqs, err := h.Store.GetRequirements(r.Context(), periodID, disciplineID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get requirements", err)
		return
	}
	if reqs == nil {
		writeError(w, http.StatusNotFound, "No requirements configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Factory.RequirementsToJSON(reqs))
}

// SetRequirements replaces the category thresholds for a period+discipline.
// PUT /api/periods/{periodID}/disciplines/{disciplineID}/requirements
func (h *Handler) SetRequirements(w http.ResponseWriter, r *http.Request) {
	periodID := engine.PeriodID(chi.URLParam(r, "periodID"))
	disciplineID := engine.DisciplineID(chi.URLParam(r, "disciplineID"))

	var req RequirementsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reqs, err := h.Factory.RequirementsFromJSON(req.Requirements)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid requirements", err)
		return
	}

	if err := h.Store.SaveRequirements(r.Context(), periodID, disciplineID, reqs); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save requirements", err)
		return
	}
	writeJSON(w, http.StatusOK, req.Requirements)
}

// GetSchedule returns the full non-prime schedule.
// GET /api/schedule/non-prime
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.Store.GetNonPrimeSchedule(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, schedule.Studios)
}

// SetNonPrimeSlots replaces the non-prime slots for one studio key.
// PUT /api/schedule/non-prime/{studioKey}
func (h *Handler) SetNonPrimeSlots(w http.ResponseWriter, r *http.Request) {
	studioKey := chi.URLParam(r, "studioKey")

	var req NonPrimeSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Store.SaveNonPrimeSlots(r.Context(), studioKey, req.Slots); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save slots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"studio_key": studioKey, "slots": req.Slots})
}

// =============================================================================
// IMPORT HANDLERS
// =============================================================================

// ImportSession stores one class session record.
// POST /api/sessions
func (h *Handler) ImportSession(w http.ResponseWriter, r *http.Request) {
	var req ClassSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	session, err := parseSession(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session", err)
		return
	}

	if err := h.Store.SaveClassSession(r.Context(), session); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save session", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ImportCompliance stores the compliance facts for an instructor+period.
// POST /api/compliance
func (h *Handler) ImportCompliance(w http.ResponseWriter, r *http.Request) {
	var req ComplianceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.InstructorID == "" || req.PeriodID == "" {
		writeError(w, http.StatusBadRequest, "instructor_id and period_id are required", nil)
		return
	}

	facts := engine.ComplianceFacts{
		EventParticipation: req.EventParticipation,
		MeetsGuidelines:    req.MeetsGuidelines,
	}
	err := h.Store.SaveComplianceFacts(r.Context(),
		engine.InstructorID(req.InstructorID), engine.PeriodID(req.PeriodID), facts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save compliance facts", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// ListRuns returns recalculation run records for a period.
// GET /api/periods/{periodID}/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	periodID := engine.PeriodID(chi.URLParam(r, "periodID"))

	runs, err := h.Store.ListRecalcRuns(r.Context(), periodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseSession(req ClassSessionRequest) (engine.ClassSession, error) {
	if req.ID == "" || req.InstructorID == "" || req.PeriodID == "" {
		return engine.ClassSession{}, &engine.ValidationError{
			Field:   "id",
			Message: "id, instructor_id and period_id are required",
		}
	}
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		return engine.ClassSession{}, &engine.ValidationError{
			Field:   "starts_at",
			Message: "must be RFC3339",
		}
	}
	if req.Spots < 0 || req.Reservations < 0 || req.PaidReservations < 0 {
		return engine.ClassSession{}, &engine.ValidationError{
			Field:   "spots",
			Message: "counts must be non-negative",
		}
	}

	return engine.ClassSession{
		ID:               req.ID,
		InstructorID:     engine.InstructorID(req.InstructorID),
		PeriodID:         engine.PeriodID(req.PeriodID),
		DisciplineID:     engine.DisciplineID(req.DisciplineID),
		Studio:           req.Studio,
		Room:             req.Room,
		StartsAt:         startsAt,
		Spots:            req.Spots,
		Reservations:     req.Reservations,
		PaidReservations: req.PaidReservations,
	}, nil
}

// writeDomainError maps engine error classes to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsRetryable(err):
		writeError(w, http.StatusConflict, "Recalculation already in progress", err)
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

// statusForResult maps a failed pipeline result to a status code. Missing
// configuration surfaces as 404 so the admin UI can prompt for setup.
func statusForResult(err error) int {
	switch {
	case err == nil:
		return http.StatusUnprocessableEntity
	case engine.IsNotFound(err):
		return http.StatusNotFound
	case engine.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
