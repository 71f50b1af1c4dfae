package credits

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DefaultFreeCredits is granted once when a balance is created
const DefaultFreeCredits int64 = 10

// Pricing maps a captured payment amount to the credits it buys
type Pricing struct {
	// Tiers is keyed by amount in cents
	Tiers map[int64]int64
	// Default applies to amounts not present in Tiers
	Default int64
}

// DefaultPricing returns the standard price table
func DefaultPricing() Pricing {
	return Pricing{
		Tiers: map[int64]int64{
			1900: 100,
			2900: 200,
			4900: 500,
		},
		Default: 100,
	}
}

// CreditsFor returns the subscription credits for an amount in cents
func (p Pricing) CreditsFor(amountCents int64) int64 {
	if credits, ok := p.Tiers[amountCents]; ok {
		return credits
	}
	return p.Default
}

// Validate checks the price table
func (p Pricing) Validate() error {
	if p.Default <= 0 {
		return fmt.Errorf("%w: default tier must grant credits, got %d", ErrInvalidAmount, p.Default)
	}
	for amount, credits := range p.Tiers {
		if amount <= 0 {
			return fmt.Errorf("%w: tier amount must be positive, got %d cents", ErrInvalidAmount, amount)
		}
		if credits <= 0 {
			return fmt.Errorf("%w: tier %s must grant credits, got %d", ErrInvalidAmount, FormatAmount(amount), credits)
		}
	}
	return nil
}

// Amounts returns the configured tier amounts in ascending order
func (p Pricing) Amounts() []int64 {
	amounts := make([]int64, 0, len(p.Tiers))
	for amount := range p.Tiers {
		amounts = append(amounts, amount)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })
	return amounts
}

// maxAmountUnits keeps units*100 + cents within int64
const maxAmountUnits = (math.MaxInt64 - 99) / 100

// ParseAmount converts a decimal currency string such as "19.00" or "19" into cents.
// At most two fractional digits are accepted.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || strings.HasPrefix(whole, "-") || strings.HasPrefix(whole, "+") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if units > maxAmountUnits {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidAmount, s)
	}
	var cents int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || strings.HasPrefix(frac, "-") || strings.HasPrefix(frac, "+") {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	return units*100 + cents, nil
}

// FormatAmount renders cents as a decimal currency string
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
