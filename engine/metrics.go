/*
metrics.go - Per-instructor-per-period performance metrics

PURPOSE:
  Computes the MetricSnapshot that drives category resolution and formula
  bonus/penalty predicates. Pure given its inputs; the orchestrator feeds it
  the period's sessions and the externally-sourced compliance facts.

METRICS:
  Occupancy         sum(paid reservations) / sum(spots), 0 when no sessions
  ClassCount        sessions in period
  DistinctLocations unique studio names
  DoubleShiftCount  calendar days with two or more sessions starting within
                    the configured window ("dobleteo")
  NonPrimeCount     sessions the schedule classifier flags as non-prime
  Event/Guidelines  collaborator facts, passed through unchanged
*/
package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultDoubleShiftWindow is the maximum gap between consecutive class
// starts for them to count as a double shift.
const DefaultDoubleShiftWindow = 2 * time.Hour

// AggregateOptions configures metric aggregation.
type AggregateOptions struct {
	Schedule          NonPrimeSchedule
	DoubleShiftWindow time.Duration // zero means DefaultDoubleShiftWindow
}

// Aggregate computes the metric snapshot for one instructor's sessions in a
// period. All sessions are assumed pre-filtered to the (instructor, period)
// key by the caller.
func Aggregate(sessions []ClassSession, facts ComplianceFacts, opts AggregateOptions) MetricSnapshot {
	window := opts.DoubleShiftWindow
	if window <= 0 {
		window = DefaultDoubleShiftWindow
	}

	snapshot := MetricSnapshot{
		Occupancy:          decimal.Zero,
		ClassCount:         len(sessions),
		EventParticipation: facts.EventParticipation,
		MeetsGuidelines:    facts.MeetsGuidelines,
	}

	if len(sessions) == 0 {
		return snapshot
	}

	var totalPaid, totalSpots int64
	locations := make(map[string]struct{})
	startsByDay := make(map[string][]time.Time)

	for _, s := range sessions {
		totalPaid += int64(s.PaidReservations)
		totalSpots += int64(s.Spots)

		locations[strings.ToLower(strings.TrimSpace(s.Studio))] = struct{}{}

		day := s.StartsAt.Format("2006-01-02")
		startsByDay[day] = append(startsByDay[day], s.StartsAt)

		if opts.Schedule.IsNonPrime(s.Studio, s.StartSlot()) {
			snapshot.NonPrimeCount++
		}
	}

	if totalSpots > 0 {
		snapshot.Occupancy = decimal.NewFromInt(totalPaid).Div(decimal.NewFromInt(totalSpots))
	}

	snapshot.DistinctLocations = len(locations)
	snapshot.DoubleShiftCount = countDoubleShiftDays(startsByDay, window)

	return snapshot
}

// countDoubleShiftDays counts calendar days on which two or more sessions
// start within the window of each other. A day counts once regardless of how
// many back-to-back pairs it holds.
func countDoubleShiftDays(startsByDay map[string][]time.Time, window time.Duration) int {
	count := 0
	for _, starts := range startsByDay {
		if len(starts) < 2 {
			continue
		}
		sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
		for i := 1; i < len(starts); i++ {
			if starts[i].Sub(starts[i-1]) <= window {
				count++
				break
			}
		}
	}
	return count
}
