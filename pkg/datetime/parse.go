// Package datetime provides date utilities for inferring loan progress.
package datetime

import (
	"time"
)

// DateLayout is the format expected for first-payment dates in requests.
const DateLayout = "2006-01-02"

// MustParseTime parses a date string using the given layout and panics on error.
// This is intended for use in tests where the date string is known to be valid.
func MustParseTime(layout, dateStr string) time.Time {
	t, err := time.Parse(layout, dateStr)
	if err != nil {
		panic(err)
	}
	return t
}

// ElapsedPeriods returns how many monthly payments have been completed since
// the first payment date as of the reference time. The current month only
// counts once its payment day has passed. The result is clamped to
// [0, termMonths].
func ElapsedPeriods(firstPaymentDate string, now time.Time, termMonths int) (int, error) {
	first, err := time.Parse(DateLayout, firstPaymentDate)
	if err != nil {
		return 0, err
	}

	months := (now.Year()-first.Year())*12 + int(now.Month()) - int(first.Month())
	if now.Day() < first.Day() {
		months--
	}

	if months < 0 {
		months = 0
	}
	if months > termMonths {
		months = termMonths
	}
	return months, nil
}
