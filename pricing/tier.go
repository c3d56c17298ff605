package pricing

import (
	"regexp"
	"strconv"
)

// =============================================================================
// TIER PARSING - Seat count from marketplace tier strings
// =============================================================================

// Marketplace tier strings come in three shapes:
//
//	"Unlimited Users"              -> UnlimitedThreshold (-1)
//	"100 Users"                    -> 100
//	"Per Unit Pricing (173 Users)" -> 173
var (
	fixedTierPattern   = regexp.MustCompile(`^(\d+) Users$`)
	perUnitTierPattern = regexp.MustCompile(`^Per Unit Pricing \((\d+) Users\)$`)
)

// ParseTier extracts the seat count from a tier string. "Unlimited Users"
// maps to UnlimitedThreshold. Anything else that doesn't match the known
// formats is a fatal input error for the transaction.
func ParseTier(tier string) (int, error) {
	if tier == "Unlimited Users" {
		return UnlimitedThreshold, nil
	}
	if m := fixedTierPattern.FindStringSubmatch(tier); m != nil {
		return strconv.Atoi(m[1])
	}
	if m := perUnitTierPattern.FindStringSubmatch(tier); m != nil {
		return strconv.Atoi(m[1])
	}
	return 0, &MalformedTierError{Tier: tier}
}
