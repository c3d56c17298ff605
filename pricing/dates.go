/*
dates.go - Duration and overlap arithmetic for maintenance periods

PURPOSE:
  Duration math underpinning every proration in the price calculator:
  - DayCount:    whole days between two calendar dates
  - MonthCount:  signed fractional months between two calendar dates
  - OverlapDays: days an upgrade's maintenance period overlaps what remains
                 of the purchase it extends

  All functions are pure and operate on midnight-normalized Dates, so DST
  and timezone drift cannot skew a day count.
*/
package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

// DayCount returns the number of whole days from start to end (end - start),
// rounded to the nearest day. Negative when end precedes start.
func DayCount(start, end Date) int {
	hours := end.normalize().Sub(start.normalize()).Hours()
	return int(math.Round(hours / 24))
}

// MonthCount returns the signed fractional month count from start to end.
//
// When the day-of-month matches on both ends the result is the exact integer
// month difference. Otherwise the partial first and last months contribute
// fractions computed against each month's actual length, so
// 2024-01-15 -> 2024-03-20 yields the tail of January plus all of February
// plus twenty thirty-firsts of March.
func MonthCount(start, end Date) decimal.Decimal {
	if end.Before(start) {
		return MonthCount(end, start).Neg()
	}

	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if start.Day() == end.Day() {
		return decimal.NewFromInt(int64(months))
	}

	startLen := daysInMonth(start.Year(), start.Month())
	endLen := daysInMonth(end.Year(), end.Month())

	head := decimal.NewFromInt(int64(startLen - start.Day())).
		Div(decimal.NewFromInt(int64(startLen)))
	tail := decimal.NewFromInt(int64(end.Day())).
		Div(decimal.NewFromInt(int64(endLen)))

	// months counts whole month boundaries crossed; one of them is split
	// between the head and tail fractions.
	return head.Add(tail).Add(decimal.NewFromInt(int64(months - 1)))
}

// OverlapDays returns how many days of a new maintenance period fall inside
// what remains of an old one, given the new period's start and the old
// period's (effective) end. Never negative; disjoint periods yield 0.
//
// The caller must enforce that the overlap does not exceed the new period's
// own duration - a violation there is a fatal calculation error.
func OverlapDays(newPeriodStart, oldPeriodEnd Date) int {
	days := DayCount(newPeriodStart, oldPeriodEnd)
	if days < 0 {
		return 0
	}
	return days
}
