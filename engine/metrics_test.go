package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/siclo/payments-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func session(studio string, startsAt time.Time, spots, paid int) engine.ClassSession {
	return engine.ClassSession{
		ID:               "s-" + startsAt.Format("01-02-15:04") + "-" + studio,
		InstructorID:     "ins-1",
		PeriodID:         "2025-3",
		DisciplineID:     "cycling",
		Studio:           studio,
		StartsAt:         startsAt,
		Spots:            spots,
		Reservations:     paid,
		PaidReservations: paid,
	}
}

func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.UTC)
}

func allFacts() engine.ComplianceFacts {
	return engine.ComplianceFacts{EventParticipation: true, MeetsGuidelines: true}
}

// =============================================================================
// AGGREGATION TESTS
// =============================================================================

func TestAggregate_Occupancy(t *testing.T) {
	// GIVEN: Two sessions, 30 paid of 40 spots and 10 of 40
	// WHEN: Aggregating
	// THEN: Occupancy is total paid over total spots (0.5), exact decimal

	sessions := []engine.ClassSession{
		session("Siclo San Isidro", at(3, 9, 0), 40, 30),
		session("Siclo San Isidro", at(4, 9, 0), 40, 10),
	}

	m := engine.Aggregate(sessions, allFacts(), engine.AggregateOptions{})

	if !m.Occupancy.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("expected occupancy 0.5, got %s", m.Occupancy)
	}
	if m.ClassCount != 2 {
		t.Errorf("expected 2 classes, got %d", m.ClassCount)
	}
}

func TestAggregate_ZeroSpots(t *testing.T) {
	// GIVEN: Sessions whose spots sum to zero
	// WHEN: Aggregating
	// THEN: Occupancy is zero, never a division error

	sessions := []engine.ClassSession{session("Siclo Reducto", at(3, 9, 0), 0, 0)}

	m := engine.Aggregate(sessions, allFacts(), engine.AggregateOptions{})

	if !m.Occupancy.IsZero() {
		t.Errorf("expected zero occupancy, got %s", m.Occupancy)
	}
}

func TestAggregate_NoSessions(t *testing.T) {
	// GIVEN: No sessions at all
	// WHEN: Aggregating
	// THEN: Counts are zero but compliance facts still pass through

	m := engine.Aggregate(nil, allFacts(), engine.AggregateOptions{})

	if m.ClassCount != 0 || m.DistinctLocations != 0 || m.DoubleShiftCount != 0 {
		t.Errorf("expected empty snapshot, got %s", m.Summary())
	}
	if !m.EventParticipation || !m.MeetsGuidelines {
		t.Error("compliance facts must pass through unchanged")
	}
}

func TestAggregate_DistinctLocationsCaseInsensitive(t *testing.T) {
	// GIVEN: The same studio spelled with different casing plus one other
	// WHEN: Aggregating
	// THEN: Casing variants collapse into one location

	sessions := []engine.ClassSession{
		session("Siclo San Isidro", at(3, 9, 0), 40, 20),
		session("SICLO SAN ISIDRO", at(4, 9, 0), 40, 20),
		session("Siclo Reducto", at(5, 9, 0), 40, 20),
	}

	m := engine.Aggregate(sessions, allFacts(), engine.AggregateOptions{})

	if m.DistinctLocations != 2 {
		t.Errorf("expected 2 distinct locations, got %d", m.DistinctLocations)
	}
}

func TestAggregate_DoubleShifts(t *testing.T) {
	// GIVEN: Two sessions 90 minutes apart on day 3, two sessions 5 hours
	//        apart on day 4, one lone session on day 5
	// WHEN: Aggregating with the default 2h window
	// THEN: Only day 3 counts as a double shift, and it counts once

	sessions := []engine.ClassSession{
		session("Siclo San Isidro", at(3, 9, 0), 40, 20),
		session("Siclo San Isidro", at(3, 10, 30), 40, 20),
		session("Siclo San Isidro", at(4, 9, 0), 40, 20),
		session("Siclo San Isidro", at(4, 14, 0), 40, 20),
		session("Siclo San Isidro", at(5, 9, 0), 40, 20),
	}

	m := engine.Aggregate(sessions, allFacts(), engine.AggregateOptions{})

	if m.DoubleShiftCount != 1 {
		t.Errorf("expected 1 double-shift day, got %d", m.DoubleShiftCount)
	}
}

func TestAggregate_DoubleShiftWindowConfigurable(t *testing.T) {
	// GIVEN: Sessions 5 hours apart
	// WHEN: Aggregating with a 6h window
	// THEN: The day counts

	sessions := []engine.ClassSession{
		session("Siclo San Isidro", at(4, 9, 0), 40, 20),
		session("Siclo San Isidro", at(4, 14, 0), 40, 20),
	}

	m := engine.Aggregate(sessions, allFacts(), engine.AggregateOptions{
		DoubleShiftWindow: 6 * time.Hour,
	})

	if m.DoubleShiftCount != 1 {
		t.Errorf("expected 1 double-shift day with widened window, got %d", m.DoubleShiftCount)
	}
}

func TestAggregate_NonPrimeCount(t *testing.T) {
	// GIVEN: A schedule marking 07:00 at Reducto non-prime
	// WHEN: Aggregating one matching and one non-matching session
	// THEN: Exactly the matching session counts

	schedule := engine.NewNonPrimeSchedule(map[string][]string{
		"reducto": {"07:00"},
	})
	sessions := []engine.ClassSession{
		session("Siclo Reducto", at(3, 7, 0), 40, 20),
		session("Siclo Reducto", at(3, 18, 0), 40, 20),
		session("Siclo San Isidro", at(4, 7, 0), 40, 20),
	}

	m := engine.Aggregate(sessions, allFacts(), engine.AggregateOptions{Schedule: schedule})

	if m.NonPrimeCount != 1 {
		t.Errorf("expected 1 non-prime session, got %d", m.NonPrimeCount)
	}
}
