package naming

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// PriceTier applies to every label at least MinLength characters long
type PriceTier struct {
	MinLength int    `yaml:"min_length"`
	Price     string `yaml:"price"`
}

type PricingConfig struct {
	Tiers []PriceTier `yaml:"tiers"`
}

type tier struct {
	minLength int
	price     decimal.Decimal
}

// Pricing quotes names by label length. Tiers are sorted by descending MinLength.
type Pricing struct {
	tiers []tier
}

// DefaultPricing returns the registrar's tiers in ETH
func DefaultPricing() *Pricing {
	p, _ := NewPricing([]PriceTier{
		{MinLength: 3, Price: "0.11"},
		{MinLength: 4, Price: "0.011"},
		{MinLength: 5, Price: "0.0011"},
	})
	return p
}

func NewPricing(tiers []PriceTier) (*Pricing, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("pricing needs at least one tier")
	}

	seen := make(map[int]bool)
	parsed := make([]tier, 0, len(tiers))
	for i, t := range tiers {
		if t.MinLength < 1 {
			return nil, fmt.Errorf("tier at index %d has invalid min_length %d", i, t.MinLength)
		}
		if seen[t.MinLength] {
			return nil, fmt.Errorf("duplicate tier for min_length %d", t.MinLength)
		}
		seen[t.MinLength] = true

		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, fmt.Errorf("tier at index %d has invalid price %q: %w", i, t.Price, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("tier at index %d must have a positive price", i)
		}
		parsed = append(parsed, tier{minLength: t.MinLength, price: price})
	}

	sort.Slice(parsed, func(i, j int) bool { return parsed[i].minLength > parsed[j].minLength })
	if parsed[len(parsed)-1].minLength > 3 {
		return nil, fmt.Errorf("no tier covers 3 character names")
	}
	return &Pricing{tiers: parsed}, nil
}

// LoadPricing reads tiers from a YAML file. An empty path yields the default tiers.
func LoadPricing(path string) (*Pricing, error) {
	if path == "" {
		return DefaultPricing(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}

	var cfg PricingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}
	return NewPricing(cfg.Tiers)
}

// Quote returns the price of name. It depends only on the label length.
func (p *Pricing) Quote(name string) decimal.Decimal {
	length := len(Label(name))
	for _, t := range p.tiers {
		if length >= t.minLength {
			return t.price
		}
	}
	// shorter than every tier; ParseName never lets such a name through
	return p.tiers[len(p.tiers)-1].price
}
