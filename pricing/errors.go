/*
errors.go - Centralized error types for the pricing calculator

PURPOSE:
  All pricing error types in one place. Every error here is fatal for the
  single transaction being priced: the validation loop catches it, logs it
  with the transaction id, and moves on. None of these are retryable -
  the calculation is deterministic, so retrying without new data produces
  the same failure.

ERROR CATEGORIES:
  1. Input-format errors  - malformed tier string, unknown hosting value
  2. Invariant violations - non-annual on-prem billing, upgrade overlap
                            exceeding the license duration
  3. Missing data         - no pricing table for addon/deployment/date
                            (raised by the catalog resolver, defined here
                            so the whole taxonomy lives in one package)

USAGE:
  if errors.Is(err, pricing.ErrMalformedTier) { ... }
*/
package pricing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMalformedTier is returned when a tier string encodes no recognizable
	// seat count.
	ErrMalformedTier = errors.New("malformed tier string")

	// ErrUnknownHosting is returned for hosting values outside
	// Server / Data Center / Cloud.
	ErrUnknownHosting = errors.New("unknown hosting type")

	// ErrNonAnnualOnPrem is returned when a server or datacenter transaction
	// carries non-annual billing. On-prem licenses are always annual; anything
	// else indicates corrupted upstream data.
	ErrNonAnnualOnPrem = errors.New("non-annual billing on on-prem transaction")

	// ErrOverlapExceedsDuration is returned when the overlap credited from a
	// previous purchase is longer than the upgrade's own license duration.
	// This should never happen and signals upstream data corruption.
	ErrOverlapExceedsDuration = errors.New("maintenance overlap exceeds license duration")

	// ErrNoPricingFound is returned when no pricing table covers the sale
	// date for an addon/deployment pair.
	ErrNoPricingFound = errors.New("no pricing found")

	// ErrNoTierFound is returned when a seat count falls outside every tier
	// of the resolved table.
	ErrNoTierFound = errors.New("no tier matches seat count")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MalformedTierError reports the tier string that could not be parsed.
type MalformedTierError struct {
	Tier string
}

func (e *MalformedTierError) Error() string {
	return fmt.Sprintf("malformed tier string %q", e.Tier)
}

func (e *MalformedTierError) Unwrap() error { return ErrMalformedTier }

// UnknownHostingError reports an unrecognized hosting value.
type UnknownHostingError struct {
	Hosting Hosting
}

func (e *UnknownHostingError) Error() string {
	return fmt.Sprintf("unknown hosting type %q", e.Hosting)
}

func (e *UnknownHostingError) Unwrap() error { return ErrUnknownHosting }

// OverlapError reports an overlap/duration invariant violation on an upgrade.
type OverlapError struct {
	OverlapDays  int
	DurationDays int
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("overlap of %d days exceeds license duration of %d days",
		e.OverlapDays, e.DurationDays)
}

func (e *OverlapError) Unwrap() error { return ErrOverlapExceedsDuration }

// IsFatalInput returns true if the error means the transaction's own data is
// unusable (as opposed to missing reference data).
func IsFatalInput(err error) bool {
	return errors.Is(err, ErrMalformedTier) ||
		errors.Is(err, ErrUnknownHosting) ||
		errors.Is(err, ErrNonAnnualOnPrem) ||
		errors.Is(err, ErrOverlapExceedsDuration)
}
