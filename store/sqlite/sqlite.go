/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements engine.Store using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

REPLACE SEMANTICS:
  payments and category_assignments carry a UNIQUE(instructor_id, period_id)
  index and are written with ON CONFLICT upserts. Recalculation therefore
  replaces the prior record for the key instead of accumulating rows.

KEY TABLES:
  periods, disciplines, instructors:  reference data
  class_sessions:                     imported class/reservation records
  compliance_facts:                   event participation and guideline flags
  formulas:                           payment formulas (config stored as JSON)
  category_requirements:              promotion thresholds per period+discipline
  non_prime_slots:                    studio -> non-prime start slots
  category_assignments:               resolved tier per instructor+period
  payments:                           full payment breakdown per instructor+period
  recalc_runs:                        recalculation state-machine records

DECIMALS:
  Monetary and ratio columns are stored as TEXT holding exact decimal
  strings, never REAL. Values round-trip through shopspring/decimal.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/siclo.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  orchestrator := payroll.NewOrchestrator(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/siclo/payments-engine/engine"
	"github.com/siclo/payments-engine/factory"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query method can
// run either standalone or inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var formulaCodec = factory.NewFormulaFactory()

// Store implements engine.Store using SQLite.
type Store struct {
	queries
	db   *sql.DB
	txMu sync.Mutex
}

var _ engine.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, queries: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Reference data
	CREATE TABLE IF NOT EXISTS periods (
		id TEXT PRIMARY KEY,
		number INTEGER NOT NULL,
		year INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS disciplines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		color TEXT
	);

	CREATE TABLE IF NOT EXISTS instructors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		discipline_id TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_instructors_discipline
		ON instructors(discipline_id);

	-- Class sessions (imported reservation data)
	CREATE TABLE IF NOT EXISTS class_sessions (
		id TEXT PRIMARY KEY,
		instructor_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		discipline_id TEXT NOT NULL,
		studio TEXT NOT NULL,
		room TEXT,
		starts_at TEXT NOT NULL,
		spots INTEGER NOT NULL,
		reservations INTEGER NOT NULL,
		paid_reservations INTEGER NOT NULL
	);

	-- Hot path: one recalculation reads exactly this slice
	CREATE INDEX IF NOT EXISTS idx_sessions_instructor_period
		ON class_sessions(instructor_id, period_id);

	-- Compliance facts (collaborator inputs, not computed here)
	CREATE TABLE IF NOT EXISTS compliance_facts (
		instructor_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		event_participation BOOLEAN NOT NULL DEFAULT FALSE,
		meets_guidelines BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (instructor_id, period_id)
	);

	-- Formulas (terms stored as JSON config)
	CREATE TABLE IF NOT EXISTS formulas (
		id TEXT PRIMARY KEY,
		period_id TEXT NOT NULL,
		discipline_id TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One formula per lookup key; the default slot uses category = ''
	CREATE UNIQUE INDEX IF NOT EXISTS idx_formulas_unique_key
		ON formulas(period_id, discipline_id, category, is_default);
	CREATE INDEX IF NOT EXISTS idx_formulas_period
		ON formulas(period_id);

	-- Category requirements per period+discipline
	CREATE TABLE IF NOT EXISTS category_requirements (
		period_id TEXT NOT NULL,
		discipline_id TEXT NOT NULL,
		requirements_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (period_id, discipline_id)
	);

	-- Non-prime schedule: studio key -> JSON list of start slots
	CREATE TABLE IF NOT EXISTS non_prime_slots (
		studio_key TEXT PRIMARY KEY,
		slots_json TEXT NOT NULL
	);

	-- Category assignments (one per instructor+period, always replaced whole)
	CREATE TABLE IF NOT EXISTS category_assignments (
		instructor_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		category TEXT NOT NULL,
		manual BOOLEAN NOT NULL DEFAULT FALSE,
		assigned_by TEXT,
		snapshot_json TEXT NOT NULL,
		checks_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (instructor_id, period_id)
	);

	-- Payments (one per instructor+period, always replaced whole)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		instructor_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		category TEXT NOT NULL,
		base_amount TEXT NOT NULL,
		bonuses TEXT NOT NULL,
		penalties TEXT NOT NULL,
		adjustment_json TEXT,
		subtotal TEXT NOT NULL,
		adjusted_amount TEXT NOT NULL,
		retention_amount TEXT NOT NULL,
		final_payment TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		log_json TEXT NOT NULL,
		calculated_at TEXT NOT NULL
	);

	-- CRITICAL: recalculation must replace, never duplicate
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_unique_key
		ON payments(instructor_id, period_id);
	CREATE INDEX IF NOT EXISTS idx_payments_period
		ON payments(period_id);
	CREATE INDEX IF NOT EXISTS idx_payments_status
		ON payments(status);

	-- Recalculation runs (state machine records, upserted per key)
	CREATE TABLE IF NOT EXISTS recalc_runs (
		id TEXT PRIMARY KEY,
		instructor_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_recalc_runs_unique
		ON recalc_runs(instructor_id, period_id);
	CREATE INDEX IF NOT EXISTS idx_recalc_runs_period
		ON recalc_runs(period_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction. Transactions
// are serialized; SQLite allows a single writer at a time anyway.
func (s *Store) WithTx(ctx context.Context, fn func(store engine.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries{db: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// ReplaceFormulas on the root store wraps itself in a transaction so the
// delete+insert pair is atomic even outside WithTx.
func (s *Store) ReplaceFormulas(ctx context.Context, periodID engine.PeriodID, formulas []engine.Formula) error {
	return s.WithTx(ctx, func(tx engine.Store) error {
		return tx.ReplaceFormulas(ctx, periodID, formulas)
	})
}

// txStore serves the full engine.Store surface against an open *sql.Tx.
type txStore struct {
	queries
}

var _ engine.Store = (*txStore)(nil)

// WithTx on a txStore runs fn against the already-open transaction.
func (t *txStore) WithTx(ctx context.Context, fn func(store engine.Store) error) error {
	return fn(t)
}

// queries holds every query method, bound to either the root DB or a
// transaction.
type queries struct {
	db dbtx
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (q queries) SavePeriod(ctx context.Context, period engine.Period) error {
	query := `
		INSERT INTO periods (id, number, year)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			year = excluded.year
	`
	_, err := q.db.ExecContext(ctx, query, period.ID, period.Number, period.Year)
	return err
}

func (q queries) GetPeriod(ctx context.Context, id engine.PeriodID) (*engine.Period, error) {
	var p engine.Period
	err := q.db.QueryRowContext(ctx,
		"SELECT id, number, year FROM periods WHERE id = ?", id,
	).Scan(&p.ID, &p.Number, &p.Year)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q queries) ListPeriods(ctx context.Context) ([]engine.Period, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, number, year FROM periods ORDER BY year, number",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []engine.Period
	for rows.Next() {
		var p engine.Period
		if err := rows.Scan(&p.ID, &p.Number, &p.Year); err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (q queries) SaveDiscipline(ctx context.Context, d engine.Discipline) error {
	query := `
		INSERT INTO disciplines (id, name, color)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			color = excluded.color
	`
	_, err := q.db.ExecContext(ctx, query, d.ID, d.Name, d.Color)
	return err
}

func (q queries) GetDiscipline(ctx context.Context, id engine.DisciplineID) (*engine.Discipline, error) {
	var d engine.Discipline
	err := q.db.QueryRowContext(ctx,
		"SELECT id, name, color FROM disciplines WHERE id = ?", id,
	).Scan(&d.ID, &d.Name, &d.Color)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (q queries) ListDisciplines(ctx context.Context) ([]engine.Discipline, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, name, color FROM disciplines ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disciplines []engine.Discipline
	for rows.Next() {
		var d engine.Discipline
		if err := rows.Scan(&d.ID, &d.Name, &d.Color); err != nil {
			return nil, err
		}
		disciplines = append(disciplines, d)
	}
	return disciplines, rows.Err()
}

func (q queries) SaveInstructor(ctx context.Context, instructor engine.Instructor) error {
	query := `
		INSERT INTO instructors (id, name, discipline_id, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			discipline_id = excluded.discipline_id,
			active = excluded.active
	`
	_, err := q.db.ExecContext(ctx, query,
		instructor.ID, instructor.Name, instructor.DisciplineID, instructor.Active,
	)
	return err
}

func (q queries) GetInstructor(ctx context.Context, id engine.InstructorID) (*engine.Instructor, error) {
	var i engine.Instructor
	err := q.db.QueryRowContext(ctx,
		"SELECT id, name, discipline_id, active FROM instructors WHERE id = ?", id,
	).Scan(&i.ID, &i.Name, &i.DisciplineID, &i.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (q queries) ListInstructors(ctx context.Context) ([]engine.Instructor, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, name, discipline_id, active FROM instructors ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instructors []engine.Instructor
	for rows.Next() {
		var i engine.Instructor
		if err := rows.Scan(&i.ID, &i.Name, &i.DisciplineID, &i.Active); err != nil {
			return nil, err
		}
		instructors = append(instructors, i)
	}
	return instructors, rows.Err()
}

// =============================================================================
// CLASS SESSIONS AND COMPLIANCE FACTS
// =============================================================================

func (q queries) SaveClassSession(ctx context.Context, session engine.ClassSession) error {
	query := `
		INSERT INTO class_sessions
		(id, instructor_id, period_id, discipline_id, studio, room, starts_at,
		 spots, reservations, paid_reservations)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			instructor_id = excluded.instructor_id,
			period_id = excluded.period_id,
			discipline_id = excluded.discipline_id,
			studio = excluded.studio,
			room = excluded.room,
			starts_at = excluded.starts_at,
			spots = excluded.spots,
			reservations = excluded.reservations,
			paid_reservations = excluded.paid_reservations
	`
	_, err := q.db.ExecContext(ctx, query,
		session.ID, session.InstructorID, session.PeriodID, session.DisciplineID,
		session.Studio, session.Room, session.StartsAt.UTC().Format(time.RFC3339),
		session.Spots, session.Reservations, session.PaidReservations,
	)
	return err
}

func (q queries) ListClassSessions(ctx context.Context, instructorID engine.InstructorID, periodID engine.PeriodID) ([]engine.ClassSession, error) {
	query := `
		SELECT id, instructor_id, period_id, discipline_id, studio, room,
		       starts_at, spots, reservations, paid_reservations
		FROM class_sessions
		WHERE instructor_id = ? AND period_id = ?
		ORDER BY starts_at ASC
	`
	rows, err := q.db.QueryContext(ctx, query, instructorID, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to query class sessions: %w", err)
	}
	defer rows.Close()

	var sessions []engine.ClassSession
	for rows.Next() {
		var (
			s        engine.ClassSession
			startsAt string
			room     sql.NullString
		)
		err := rows.Scan(
			&s.ID, &s.InstructorID, &s.PeriodID, &s.DisciplineID, &s.Studio,
			&room, &startsAt, &s.Spots, &s.Reservations, &s.PaidReservations,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan class session: %w", err)
		}
		s.Room = room.String
		s.StartsAt, _ = time.Parse(time.RFC3339, startsAt)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (q queries) SaveComplianceFacts(ctx context.Context, instructorID engine.InstructorID, periodID engine.PeriodID, facts engine.ComplianceFacts) error {
	query := `
		INSERT INTO compliance_facts (instructor_id, period_id, event_participation, meets_guidelines)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(instructor_id, period_id) DO UPDATE SET
			event_participation = excluded.event_participation,
			meets_guidelines = excluded.meets_guidelines
	`
	_, err := q.db.ExecContext(ctx, query,
		instructorID, periodID, facts.EventParticipation, facts.MeetsGuidelines,
	)
	return err
}

// GetComplianceFacts returns the stored facts, or the zero-participation
// default when none were imported for the key.
func (q queries) GetComplianceFacts(ctx context.Context, instructorID engine.InstructorID, periodID engine.PeriodID) (engine.ComplianceFacts, error) {
	var facts engine.ComplianceFacts
	err := q.db.QueryRowContext(ctx,
		"SELECT event_participation, meets_guidelines FROM compliance_facts WHERE instructor_id = ? AND period_id = ?",
		instructorID, periodID,
	).Scan(&facts.EventParticipation, &facts.MeetsGuidelines)
	if err == sql.ErrNoRows {
		return engine.ComplianceFacts{MeetsGuidelines: true}, nil
	}
	if err != nil {
		return engine.ComplianceFacts{}, err
	}
	return facts, nil
}

// =============================================================================
// FORMULAS
// =============================================================================

func (q queries) SaveFormula(ctx context.Context, formula engine.Formula) error {
	configJSON, err := json.Marshal(formulaCodec.ToJSON(&formula))
	if err != nil {
		return fmt.Errorf("failed to encode formula config: %w", err)
	}

	query := `
		INSERT INTO formulas (id, period_id, discipline_id, category, is_default, name, config_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			period_id = excluded.period_id,
			discipline_id = excluded.discipline_id,
			category = excluded.category,
			is_default = excluded.is_default,
			name = excluded.name,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`
	_, err = q.db.ExecContext(ctx, query,
		formula.ID, formula.PeriodID, formula.DisciplineID,
		string(formula.Category), formula.IsDefault, formula.Name,
		string(configJSON), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (q queries) GetFormula(ctx context.Context, periodID engine.PeriodID, disciplineID engine.DisciplineID, category engine.Category, isDefault bool) (*engine.Formula, error) {
	var configJSON string
	err := q.db.QueryRowContext(ctx,
		"SELECT config_json FROM formulas WHERE period_id = ? AND discipline_id = ? AND category = ? AND is_default = ?",
		periodID, disciplineID, string(category), isDefault,
	).Scan(&configJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeFormula(configJSON)
}

func (q queries) ListFormulas(ctx context.Context, periodID engine.PeriodID) ([]engine.Formula, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT config_json FROM formulas WHERE period_id = ? ORDER BY discipline_id, category",
		periodID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var formulas []engine.Formula
	for rows.Next() {
		var configJSON string
		if err := rows.Scan(&configJSON); err != nil {
			return nil, err
		}
		f, err := decodeFormula(configJSON)
		if err != nil {
			return nil, err
		}
		formulas = append(formulas, *f)
	}
	return formulas, rows.Err()
}

// ReplaceFormulas deletes the period's formula set and writes the new one.
// Atomicity comes from the surrounding transaction; the root Store wraps
// this in WithTx.
func (q queries) ReplaceFormulas(ctx context.Context, periodID engine.PeriodID, formulas []engine.Formula) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM formulas WHERE period_id = ?", periodID); err != nil {
		return err
	}
	for _, f := range formulas {
		if err := q.SaveFormula(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func decodeFormula(configJSON string) (*engine.Formula, error) {
	var fj factory.FormulaJSON
	if err := json.Unmarshal([]byte(configJSON), &fj); err != nil {
		return nil, fmt.Errorf("failed to decode formula config: %w", err)
	}
	return formulaCodec.FromJSON(fj)
}

// =============================================================================
// REQUIREMENTS AND SCHEDULE
// =============================================================================

func (q queries) SaveRequirements(ctx context.Context, periodID engine.PeriodID, disciplineID engine.DisciplineID, requirements engine.CategoryRequirements) error {
	reqJSON, err := json.Marshal(formulaCodec.RequirementsToJSON(requirements))
	if err != nil {
		return fmt.Errorf("failed to encode requirements: %w", err)
	}

	query := `
		INSERT INTO category_requirements (period_id, discipline_id, requirements_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(period_id, discipline_id) DO UPDATE SET
			requirements_json = excluded.requirements_json,
			updated_at = excluded.updated_at
	`
	_, err = q.db.ExecContext(ctx, query,
		periodID, disciplineID, string(reqJSON), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetRequirements returns nil (not an error) when the key has no
// configuration; the caller decides whether that is fatal.
func (q queries) GetRequirements(ctx context.Context, periodID engine.PeriodID, disciplineID engine.DisciplineID) (engine.CategoryRequirements, error) {
	var reqJSON string
	err := q.db.QueryRowContext(ctx,
		"SELECT requirements_json FROM category_requirements WHERE period_id = ? AND discipline_id = ?",
		periodID, disciplineID,
	).Scan(&reqJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rj factory.RequirementsJSON
	if err := json.Unmarshal([]byte(reqJSON), &rj); err != nil {
		return nil, fmt.Errorf("failed to decode requirements: %w", err)
	}
	return formulaCodec.RequirementsFromJSON(rj)
}

func (q queries) SaveNonPrimeSlots(ctx context.Context, studioKey string, slots []string) error {
	slotsJSON, err := json.Marshal(slots)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO non_prime_slots (studio_key, slots_json)
		VALUES (?, ?)
		ON CONFLICT(studio_key) DO UPDATE SET
			slots_json = excluded.slots_json
	`
	_, err = q.db.ExecContext(ctx, query, studioKey, string(slotsJSON))
	return err
}

func (q queries) GetNonPrimeSchedule(ctx context.Context) (engine.NonPrimeSchedule, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT studio_key, slots_json FROM non_prime_slots")
	if err != nil {
		return engine.NonPrimeSchedule{}, err
	}
	defer rows.Close()

	studios := make(map[string][]string)
	for rows.Next() {
		var key, slotsJSON string
		if err := rows.Scan(&key, &slotsJSON); err != nil {
			return engine.NonPrimeSchedule{}, err
		}
		var slots []string
		if err := json.Unmarshal([]byte(slotsJSON), &slots); err != nil {
			return engine.NonPrimeSchedule{}, fmt.Errorf("failed to decode slots for %q: %w", key, err)
		}
		studios[key] = slots
	}
	if err := rows.Err(); err != nil {
		return engine.NonPrimeSchedule{}, err
	}
	return engine.NewNonPrimeSchedule(studios), nil
}

// =============================================================================
// CATEGORY ASSIGNMENTS
// =============================================================================

func (q queries) SaveAssignment(ctx context.Context, assignment engine.CategoryAssignment) error {
	snapshotJSON, err := json.Marshal(assignment.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode metric snapshot: %w", err)
	}
	checksJSON, err := json.Marshal(assignment.Checks)
	if err != nil {
		return fmt.Errorf("failed to encode requirement checks: %w", err)
	}

	query := `
		INSERT INTO category_assignments
		(instructor_id, period_id, category, manual, assigned_by, snapshot_json, checks_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instructor_id, period_id) DO UPDATE SET
			category = excluded.category,
			manual = excluded.manual,
			assigned_by = excluded.assigned_by,
			snapshot_json = excluded.snapshot_json,
			checks_json = excluded.checks_json,
			updated_at = excluded.updated_at
	`
	_, err = q.db.ExecContext(ctx, query,
		assignment.InstructorID, assignment.PeriodID, string(assignment.Category),
		assignment.Manual, assignment.AssignedBy,
		string(snapshotJSON), string(checksJSON),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (q queries) GetAssignment(ctx context.Context, instructorID engine.InstructorID, periodID engine.PeriodID) (*engine.CategoryAssignment, error) {
	var (
		a            engine.CategoryAssignment
		assignedBy   sql.NullString
		snapshotJSON string
		checksJSON   string
		updatedAt    string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT instructor_id, period_id, category, manual, assigned_by,
		       snapshot_json, checks_json, updated_at
		FROM category_assignments
		WHERE instructor_id = ? AND period_id = ?`,
		instructorID, periodID,
	).Scan(&a.InstructorID, &a.PeriodID, &a.Category, &a.Manual, &assignedBy,
		&snapshotJSON, &checksJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.AssignedBy = assignedBy.String
	if err := json.Unmarshal([]byte(snapshotJSON), &a.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode metric snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(checksJSON), &a.Checks); err != nil {
		return nil, fmt.Errorf("failed to decode requirement checks: %w", err)
	}
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (q queries) SavePayment(ctx context.Context, payment engine.Payment) error {
	var adjustmentJSON sql.NullString
	if payment.Adjustment != nil {
		b, err := json.Marshal(payment.Adjustment)
		if err != nil {
			return fmt.Errorf("failed to encode adjustment: %w", err)
		}
		adjustmentJSON = sql.NullString{String: string(b), Valid: true}
	}
	logJSON, err := json.Marshal(payment.CalculationLog)
	if err != nil {
		return fmt.Errorf("failed to encode calculation log: %w", err)
	}

	query := `
		INSERT INTO payments
		(id, instructor_id, period_id, category, base_amount, bonuses, penalties,
		 adjustment_json, subtotal, adjusted_amount, retention_amount, final_payment,
		 status, log_json, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instructor_id, period_id) DO UPDATE SET
			id = excluded.id,
			category = excluded.category,
			base_amount = excluded.base_amount,
			bonuses = excluded.bonuses,
			penalties = excluded.penalties,
			adjustment_json = excluded.adjustment_json,
			subtotal = excluded.subtotal,
			adjusted_amount = excluded.adjusted_amount,
			retention_amount = excluded.retention_amount,
			final_payment = excluded.final_payment,
			status = excluded.status,
			log_json = excluded.log_json,
			calculated_at = excluded.calculated_at
	`
	_, err = q.db.ExecContext(ctx, query,
		payment.ID, payment.InstructorID, payment.PeriodID, string(payment.Category),
		payment.BaseAmount.Value.String(),
		payment.Bonuses.Value.String(),
		payment.Penalties.Value.String(),
		adjustmentJSON,
		payment.Subtotal.Value.String(),
		payment.AdjustedAmount.Value.String(),
		payment.RetentionAmount.Value.String(),
		payment.FinalPayment.Value.String(),
		string(payment.Status),
		string(logJSON),
		payment.CalculatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (q queries) GetPayment(ctx context.Context, instructorID engine.InstructorID, periodID engine.PeriodID) (*engine.Payment, error) {
	row := q.db.QueryRowContext(ctx, selectPayment+" WHERE instructor_id = ? AND period_id = ?",
		instructorID, periodID)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (q queries) ListPayments(ctx context.Context, periodID engine.PeriodID) ([]engine.Payment, error) {
	rows, err := q.db.QueryContext(ctx, selectPayment+" WHERE period_id = ? ORDER BY instructor_id", periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []engine.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (q queries) MarkPaymentStatus(ctx context.Context, id engine.PaymentID, status engine.PaymentStatus) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE payments SET status = ? WHERE id = ?", string(status), id,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("payment %s: %w", id, engine.ErrPaymentNotFound)
	}
	return nil
}

const selectPayment = `
	SELECT id, instructor_id, period_id, category, base_amount, bonuses, penalties,
	       adjustment_json, subtotal, adjusted_amount, retention_amount, final_payment,
	       status, log_json, calculated_at
	FROM payments`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*engine.Payment, error) {
	var (
		p              engine.Payment
		baseAmount     string
		bonuses        string
		penalties      string
		adjustmentJSON sql.NullString
		subtotal       string
		adjusted       string
		retention      string
		final          string
		logJSON        string
		calculatedAt   string
	)

	err := row.Scan(
		&p.ID, &p.InstructorID, &p.PeriodID, &p.Category,
		&baseAmount, &bonuses, &penalties, &adjustmentJSON,
		&subtotal, &adjusted, &retention, &final,
		&p.Status, &logJSON, &calculatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.BaseAmount, err = parseMoney(baseAmount); err != nil {
		return nil, err
	}
	if p.Bonuses, err = parseMoney(bonuses); err != nil {
		return nil, err
	}
	if p.Penalties, err = parseMoney(penalties); err != nil {
		return nil, err
	}
	if p.Subtotal, err = parseMoney(subtotal); err != nil {
		return nil, err
	}
	if p.AdjustedAmount, err = parseMoney(adjusted); err != nil {
		return nil, err
	}
	if p.RetentionAmount, err = parseMoney(retention); err != nil {
		return nil, err
	}
	if p.FinalPayment, err = parseMoney(final); err != nil {
		return nil, err
	}

	if adjustmentJSON.Valid && adjustmentJSON.String != "" {
		var adj engine.Adjustment
		if err := json.Unmarshal([]byte(adjustmentJSON.String), &adj); err != nil {
			return nil, fmt.Errorf("failed to decode adjustment: %w", err)
		}
		p.Adjustment = &adj
	}
	if err := json.Unmarshal([]byte(logJSON), &p.CalculationLog); err != nil {
		return nil, fmt.Errorf("failed to decode calculation log: %w", err)
	}
	p.CalculatedAt, _ = time.Parse(time.RFC3339, calculatedAt)

	return &p, nil
}

func parseMoney(s string) (engine.Money, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return engine.Money{}, fmt.Errorf("failed to parse stored amount %q: %w", s, err)
	}
	return engine.Money{Value: v}, nil
}

// =============================================================================
// RECALCULATION RUNS
// =============================================================================

func (q queries) SaveRecalcRun(ctx context.Context, run engine.RecalcRun) error {
	var completedAt sql.NullString
	if run.CompletedAt != nil {
		completedAt = sql.NullString{String: run.CompletedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	query := `
		INSERT INTO recalc_runs (id, instructor_id, period_id, status, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instructor_id, period_id) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`
	_, err := q.db.ExecContext(ctx, query,
		run.ID, run.InstructorID, run.PeriodID, string(run.Status), run.Error,
		run.StartedAt.UTC().Format(time.RFC3339), completedAt,
	)
	return err
}

func (q queries) ListRecalcRuns(ctx context.Context, periodID engine.PeriodID) ([]engine.RecalcRun, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, instructor_id, period_id, status, error, started_at, completed_at
		FROM recalc_runs
		WHERE period_id = ?
		ORDER BY started_at DESC`, periodID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []engine.RecalcRun
	for rows.Next() {
		var (
			r           engine.RecalcRun
			errMsg      sql.NullString
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.InstructorID, &r.PeriodID, &r.Status, &errMsg, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Error = errMsg.String
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
