package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/credits/pkg/credits"
)

// pricingFile is the YAML layout of CREDITS_PRICING_FILE:
//
//	default: 100
//	tiers:
//	  "19.00": 100
//	  "29.00": 200
type pricingFile struct {
	Default int64            `yaml:"default"`
	Tiers   map[string]int64 `yaml:"tiers"`
}

// LoadPricing reads a price table from a YAML file
func LoadPricing(path string) (credits.Pricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return credits.Pricing{}, fmt.Errorf("failed to read pricing file: %w", err)
	}
	return ParsePricing(data)
}

// ParsePricing decodes a YAML price table. A missing default keeps the standard one.
func ParsePricing(data []byte) (credits.Pricing, error) {
	var file pricingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return credits.Pricing{}, fmt.Errorf("invalid pricing file: %w", err)
	}

	pricing := credits.Pricing{
		Tiers:   make(map[int64]int64, len(file.Tiers)),
		Default: file.Default,
	}
	if pricing.Default == 0 {
		pricing.Default = credits.DefaultPricing().Default
	}

	for amount, grant := range file.Tiers {
		cents, err := credits.ParseAmount(amount)
		if err != nil {
			return credits.Pricing{}, fmt.Errorf("invalid tier %q: %w", amount, err)
		}
		if _, dup := pricing.Tiers[cents]; dup {
			return credits.Pricing{}, fmt.Errorf("duplicate tier %s", credits.FormatAmount(cents))
		}
		pricing.Tiers[cents] = grant
	}

	if err := pricing.Validate(); err != nil {
		return credits.Pricing{}, err
	}
	return pricing, nil
}
