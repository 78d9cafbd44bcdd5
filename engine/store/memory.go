// Package store provides engine.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/siclo/payments-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex // serializes WithTx blocks

	sessions     map[recordKey][]engine.ClassSession
	facts        map[recordKey]engine.ComplianceFacts
	instructors  map[engine.InstructorID]engine.Instructor
	periods      map[engine.PeriodID]engine.Period
	disciplines  map[engine.DisciplineID]engine.Discipline
	formulas     map[engine.PeriodID][]engine.Formula
	requirements map[configKey]engine.CategoryRequirements
	schedule     map[string][]string
	payments     map[recordKey]engine.Payment
	assignments  map[recordKey]engine.CategoryAssignment
	runs         map[recordKey]engine.RecalcRun
}

type recordKey struct {
	InstructorID engine.InstructorID
	PeriodID     engine.PeriodID
}

type configKey struct {
	PeriodID     engine.PeriodID
	DisciplineID engine.DisciplineID
}

func NewMemory() *Memory {
	return &Memory{
		sessions:     make(map[recordKey][]engine.ClassSession),
		facts:        make(map[recordKey]engine.ComplianceFacts),
		instructors:  make(map[engine.InstructorID]engine.Instructor),
		periods:      make(map[engine.PeriodID]engine.Period),
		disciplines:  make(map[engine.DisciplineID]engine.Discipline),
		formulas:     make(map[engine.PeriodID][]engine.Formula),
		requirements: make(map[configKey]engine.CategoryRequirements),
		schedule:     make(map[string][]string),
		payments:     make(map[recordKey]engine.Payment),
		assignments:  make(map[recordKey]engine.CategoryAssignment),
		runs:         make(map[recordKey]engine.RecalcRun),
	}
}

// =============================================================================
// SESSIONS / COMPLIANCE FACTS
// =============================================================================

func (m *Memory) ListClassSessions(_ context.Context, instructorID engine.InstructorID, periodID engine.PeriodID) ([]engine.ClassSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := recordKey{instructorID, periodID}
	result := make([]engine.ClassSession, len(m.sessions[k]))
	copy(result, m.sessions[k])
	return result, nil
}

func (m *Memory) SaveClassSession(_ context.Context, s engine.ClassSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey{s.InstructorID, s.PeriodID}
	m.sessions[k] = append(m.sessions[k], s)
	return nil
}

func (m *Memory) GetComplianceFacts(_ context.Context, instructorID engine.InstructorID, periodID engine.PeriodID) (engine.ComplianceFacts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	facts, ok := m.facts[recordKey{instructorID, periodID}]
	if !ok {
		// Guideline compliance is asserted by exception; event
		// participation must be recorded to count.
		return engine.ComplianceFacts{MeetsGuidelines: true}, nil
	}
	return facts, nil
}

func (m *Memory) SaveComplianceFacts(_ context.Context, instructorID engine.InstructorID, periodID engine.PeriodID, facts engine.ComplianceFacts) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.facts[recordKey{instructorID, periodID}] = facts
	return nil
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (m *Memory) GetInstructor(_ context.Context, id engine.InstructorID) (*engine.Instructor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ins, ok := m.instructors[id]; ok {
		return &ins, nil
	}
	return nil, nil
}

func (m *Memory) ListInstructors(_ context.Context) ([]engine.Instructor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]engine.Instructor, 0, len(m.instructors))
	for _, ins := range m.instructors {
		result = append(result, ins)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveInstructor(_ context.Context, ins engine.Instructor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.instructors[ins.ID] = ins
	return nil
}

func (m *Memory) GetPeriod(_ context.Context, id engine.PeriodID) (*engine.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.periods[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *Memory) ListPeriods(_ context.Context) ([]engine.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]engine.Period, 0, len(m.periods))
	for _, p := range m.periods {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Year != result[j].Year {
			return result[i].Year < result[j].Year
		}
		return result[i].Number < result[j].Number
	})
	return result, nil
}

func (m *Memory) SavePeriod(_ context.Context, p engine.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.periods[p.ID] = p
	return nil
}

func (m *Memory) GetDiscipline(_ context.Context, id engine.DisciplineID) (*engine.Discipline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if d, ok := m.disciplines[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (m *Memory) ListDisciplines(_ context.Context) ([]engine.Discipline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]engine.Discipline, 0, len(m.disciplines))
	for _, d := range m.disciplines {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveDiscipline(_ context.Context, d engine.Discipline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disciplines[d.ID] = d
	return nil
}

// =============================================================================
// FORMULAS
// =============================================================================

func (m *Memory) GetFormula(_ context.Context, periodID engine.PeriodID, disciplineID engine.DisciplineID, category engine.Category, isDefault bool) (*engine.Formula, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, f := range m.formulas[periodID] {
		if f.DisciplineID != disciplineID {
			continue
		}
		if isDefault && f.IsDefault {
			result := f
			return &result, nil
		}
		if !isDefault && !f.IsDefault && f.Category == category {
			result := f
			return &result, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListFormulas(_ context.Context, periodID engine.PeriodID) ([]engine.Formula, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]engine.Formula, len(m.formulas[periodID]))
	copy(result, m.formulas[periodID])
	return result, nil
}

func (m *Memory) SaveFormula(_ context.Context, f engine.Formula) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.formulas[f.PeriodID]
	for i, cur := range existing {
		if cur.DisciplineID == f.DisciplineID && cur.IsDefault == f.IsDefault &&
			(f.IsDefault || cur.Category == f.Category) {
			existing[i] = f
			return nil
		}
	}
	m.formulas[f.PeriodID] = append(existing, f)
	return nil
}

func (m *Memory) ReplaceFormulas(_ context.Context, periodID engine.PeriodID, formulas []engine.Formula) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	replacement := make([]engine.Formula, len(formulas))
	copy(replacement, formulas)
	m.formulas[periodID] = replacement
	return nil
}

// =============================================================================
// REQUIREMENTS / SCHEDULE
// =============================================================================

func (m *Memory) GetRequirements(_ context.Context, periodID engine.PeriodID, disciplineID engine.DisciplineID) (engine.CategoryRequirements, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reqs, ok := m.requirements[configKey{periodID, disciplineID}]
	if !ok {
		return nil, nil
	}
	result := make(engine.CategoryRequirements, len(reqs))
	for cat, r := range reqs {
		result[cat] = append([]engine.Requirement(nil), r...)
	}
	return result, nil
}

func (m *Memory) SaveRequirements(_ context.Context, periodID engine.PeriodID, disciplineID engine.DisciplineID, reqs engine.CategoryRequirements) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requirements[configKey{periodID, disciplineID}] = reqs
	return nil
}

func (m *Memory) GetNonPrimeSchedule(_ context.Context) (engine.NonPrimeSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	studios := make(map[string][]string, len(m.schedule))
	for k, v := range m.schedule {
		studios[k] = append([]string(nil), v...)
	}
	return engine.NewNonPrimeSchedule(studios), nil
}

func (m *Memory) SaveNonPrimeSlots(_ context.Context, studioKey string, slots []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedule[studioKey] = append([]string(nil), slots...)
	return nil
}

// =============================================================================
// PAYMENTS / ASSIGNMENTS / RUNS
// =============================================================================

func (m *Memory) GetPayment(_ context.Context, instructorID engine.InstructorID, periodID engine.PeriodID) (*engine.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.payments[recordKey{instructorID, periodID}]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *Memory) ListPayments(_ context.Context, periodID engine.PeriodID) ([]engine.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Payment
	for k, p := range m.payments {
		if k.PeriodID == periodID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].InstructorID < result[j].InstructorID })
	return result, nil
}

func (m *Memory) SavePayment(_ context.Context, p engine.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.payments[recordKey{p.InstructorID, p.PeriodID}] = p
	return nil
}

func (m *Memory) MarkPaymentStatus(_ context.Context, id engine.PaymentID, status engine.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, p := range m.payments {
		if p.ID == id {
			p.Status = status
			m.payments[k] = p
			return nil
		}
	}
	return fmt.Errorf("payment %s: %w", id, engine.ErrPaymentNotFound)
}

func (m *Memory) GetAssignment(_ context.Context, instructorID engine.InstructorID, periodID engine.PeriodID) (*engine.CategoryAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if a, ok := m.assignments[recordKey{instructorID, periodID}]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *Memory) SaveAssignment(_ context.Context, a engine.CategoryAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.assignments[recordKey{a.InstructorID, a.PeriodID}] = a
	return nil
}

func (m *Memory) SaveRecalcRun(_ context.Context, run engine.RecalcRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[recordKey{run.InstructorID, run.PeriodID}] = run
	return nil
}

func (m *Memory) ListRecalcRuns(_ context.Context, periodID engine.PeriodID) ([]engine.RecalcRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.RecalcRun
	for k, r := range m.runs {
		if k.PeriodID == periodID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].InstructorID < result[j].InstructorID })
	return result, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx simulates a transaction with a snapshot + rollback on error.
// Transactions are serialized; fn operates on the store directly.
func (m *Memory) WithTx(_ context.Context, fn func(engine.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snapshot := m.snapshot()

	if err := fn(m); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	formulas     map[engine.PeriodID][]engine.Formula
	payments     map[recordKey]engine.Payment
	assignments  map[recordKey]engine.CategoryAssignment
	runs         map[recordKey]engine.RecalcRun
	requirements map[configKey]engine.CategoryRequirements
}

func (m *Memory) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := memorySnapshot{
		formulas:     make(map[engine.PeriodID][]engine.Formula, len(m.formulas)),
		payments:     make(map[recordKey]engine.Payment, len(m.payments)),
		assignments:  make(map[recordKey]engine.CategoryAssignment, len(m.assignments)),
		runs:         make(map[recordKey]engine.RecalcRun, len(m.runs)),
		requirements: make(map[configKey]engine.CategoryRequirements, len(m.requirements)),
	}
	for k, v := range m.formulas {
		s.formulas[k] = append([]engine.Formula(nil), v...)
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	for k, v := range m.assignments {
		s.assignments[k] = v
	}
	for k, v := range m.runs {
		s.runs[k] = v
	}
	for k, v := range m.requirements {
		s.requirements[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.formulas = s.formulas
	m.payments = s.payments
	m.assignments = s.assignments
	m.runs = s.runs
	m.requirements = s.requirements
}
