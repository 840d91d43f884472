package currency

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"subtrack/internal/core"
)

// RateSource supplies the current rate table. The rates service implements
// it; tests use StaticSource.
type RateSource interface {
	Rates() Rates
	LastUpdated() time.Time
}

// StaticSource is a RateSource over a fixed table.
type StaticSource struct {
	Table     Rates
	UpdatedAt time.Time
}

func (s StaticSource) Rates() Rates           { return s.Table.Clone() }
func (s StaticSource) LastUpdated() time.Time { return s.UpdatedAt }

// Convert converts amount from one currency to another through USD.
//
// Identical currencies return amount untouched so that no rounding is
// introduced. An absent rate for a supported code uses the fallback value;
// an unsupported code yields core.ErrUnknownCurrency.
func Convert(amount decimal.Decimal, from, to core.Currency, rates Rates) (decimal.Decimal, error) {
	if from == to {
		if !from.IsValid() {
			return decimal.Zero, fmt.Errorf("convert %s: %w", from, core.ErrUnknownCurrency)
		}
		return amount, nil
	}

	usd := amount
	if from != core.USD {
		fromRate, err := rates.Lookup(from)
		if err != nil {
			return decimal.Zero, fmt.Errorf("convert from %s: %w", from, err)
		}
		usd = amount.Div(decimal.NewFromFloat(fromRate))
	}

	toRate, err := rates.Lookup(to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("convert to %s: %w", to, err)
	}
	return usd.Mul(decimal.NewFromFloat(toRate)), nil
}

// Converter binds Convert and Format to a live RateSource.
type Converter struct {
	source RateSource
}

func NewConverter(source RateSource) *Converter {
	return &Converter{source: source}
}

// Convert converts using the source's current table.
func (c *Converter) Convert(amount decimal.Decimal, from, to core.Currency) (decimal.Decimal, error) {
	return Convert(amount, from, to, c.source.Rates())
}

// ConvertAndFormat converts amount into to and returns the result along
// with its display form.
func (c *Converter) ConvertAndFormat(amount decimal.Decimal, from, to core.Currency) (decimal.Decimal, string, error) {
	converted, err := c.Convert(amount, from, to)
	if err != nil {
		return decimal.Zero, "", err
	}
	text, err := Format(converted, to)
	if err != nil {
		return decimal.Zero, "", err
	}
	return converted, text, nil
}

// Rates exposes the source's current table.
func (c *Converter) Rates() Rates {
	return c.source.Rates()
}

// LastUpdated exposes when the source's table was last refreshed.
func (c *Converter) LastUpdated() time.Time {
	return c.source.LastUpdated()
}
