/*
schedule.go - Non-prime slot classification

PURPOSE:
  Decides whether a studio+time slot counts as "non-prime" (off-peak).
  Non-prime participation feeds both category requirements (instructors are
  rewarded for covering unpopular hours) and penalty/bonus formula terms.

MATCHING RULES:
  Studio: a configured studio key matches when it is a case-insensitive
  substring of the supplied studio name. "Reducto" matches "Siclo Reducto".
  The configured side is the short key; scheduling imports carry the long
  display name.

  Time: inputs arrive in whatever format the import produced ("9:00am",
  "09:00", "7pm"). Everything is normalized to 24-hour HH:MM before lookup.
  12am is 00:00 and 12pm is 12:00.

  Any matching studio with the slot configured wins; all configured studios
  are consulted, first hit returns true.

FAILURE MODE:
  None. Malformed times normalize best-effort; unknown studios simply don't
  match. The classifier is a pure function.
*/
package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// NON-PRIME SCHEDULE - Configuration of off-peak slots per studio
// =============================================================================

// NonPrimeSchedule maps a studio key to its non-prime start slots.
// Slot strings are normalized at lookup, so configuration may use either
// "9:00am" or "09:00".
type NonPrimeSchedule struct {
	Studios map[string][]string
}

func NewNonPrimeSchedule(studios map[string][]string) NonPrimeSchedule {
	if studios == nil {
		studios = make(map[string][]string)
	}
	return NonPrimeSchedule{Studios: studios}
}

// IsNonPrime reports whether the studio+time slot is configured as non-prime.
func (s NonPrimeSchedule) IsNonPrime(studioName, timeStr string) bool {
	slot := NormalizeTime(timeStr)
	name := strings.ToLower(studioName)

	for key, slots := range s.Studios {
		if !strings.Contains(name, strings.ToLower(key)) {
			continue
		}
		for _, configured := range slots {
			if NormalizeTime(configured) == slot {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// TIME NORMALIZATION
// =============================================================================

// NormalizeTime converts a time string to 24-hour "HH:MM". It accepts
// 12-hour inputs with a case-insensitive am/pm suffix ("9:00am", "7 PM"),
// bare hours ("9"), and already-normalized values. Malformed input yields a
// best-effort value; it never fails.
func NormalizeTime(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))

	meridiem := ""
	switch {
	case strings.HasSuffix(s, "am"):
		meridiem = "am"
		s = strings.TrimSpace(strings.TrimSuffix(s, "am"))
	case strings.HasSuffix(s, "pm"):
		meridiem = "pm"
		s = strings.TrimSpace(strings.TrimSuffix(s, "pm"))
	}

	hourStr, minStr := s, "0"
	if idx := strings.Index(s, ":"); idx >= 0 {
		hourStr, minStr = s[:idx], s[idx+1:]
	}

	hour, err := strconv.Atoi(strings.TrimSpace(hourStr))
	if err != nil {
		hour = 0
	}
	minute, err := strconv.Atoi(strings.TrimSpace(minStr))
	if err != nil {
		minute = 0
	}

	switch meridiem {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour != 12 {
			hour += 12
		}
	}

	if hour < 0 || hour > 23 {
		hour = ((hour % 24) + 24) % 24
	}
	if minute < 0 || minute > 59 {
		minute = 0
	}

	return fmt.Sprintf("%02d:%02d", hour, minute)
}
