package pricing_test

import (
	"errors"
	"testing"

	"github.com/warp/marketplace-audit/pricing"
)

func TestParseTier(t *testing.T) {
	cases := []struct {
		tier    string
		want    int
		wantErr bool
	}{
		{"Unlimited Users", pricing.UnlimitedThreshold, false},
		{"100 Users", 100, false},
		{"10 Users", 10, false},
		{"Per Unit Pricing (173 Users)", 173, false},
		{"Per Unit Pricing (1 Users)", 1, false},
		{"", 0, true},
		{"100", 0, true},
		{"Users", 0, true},
		{"100 users", 0, true},
		{"Per Unit Pricing (Unlimited Users)", 0, true},
		{"approximately 50 Users", 0, true},
	}

	for _, c := range cases {
		got, err := pricing.ParseTier(c.tier)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseTier(%q): expected error, got %d", c.tier, got)
			} else if !errors.Is(err, pricing.ErrMalformedTier) {
				t.Errorf("ParseTier(%q): error does not wrap ErrMalformedTier: %v", c.tier, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTier(%q): unexpected error: %v", c.tier, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseTier(%q) = %d, want %d", c.tier, got, c.want)
		}
	}
}
