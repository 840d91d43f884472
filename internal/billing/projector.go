// Package billing projects recurring billing: next billing dates,
// monthly-equivalent costs and cost rescaling when a cycle changes.
//
// Each billing cycle has its own strategy so that adding a cycle does not
// touch the callers.
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"subtrack/internal/core"
)

// CycleStrategy encapsulates the calendar and cost rules of one billing cycle.
type CycleStrategy interface {
	// Next returns the billing date one cycle after anchor.
	Next(anchor core.Date) core.Date
	// Months is the length of one cycle in months.
	Months() int
}

// MonthlyCycle adds one calendar month, clamped to the end of shorter months.
type MonthlyCycle struct{}

func (MonthlyCycle) Next(anchor core.Date) core.Date {
	return core.Date{Time: AddClampedDate(anchor.Time, 0, 1)}
}

func (MonthlyCycle) Months() int { return 1 }

// AnnualCycle adds one calendar year; Feb 29 lands on Feb 28.
type AnnualCycle struct{}

func (AnnualCycle) Next(anchor core.Date) core.Date {
	return core.Date{Time: AddClampedDate(anchor.Time, 1, 0)}
}

func (AnnualCycle) Months() int { return 12 }

var cycleStrategies = map[core.BillingCycle]CycleStrategy{
	core.Monthly: MonthlyCycle{},
	core.Annual:  AnnualCycle{},
}

// GetCycleStrategy returns the strategy registered for cycle.
func GetCycleStrategy(cycle core.BillingCycle) (CycleStrategy, error) {
	strategy, ok := cycleStrategies[cycle]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidCycle, cycle)
	}
	return strategy, nil
}

// NextBillingDate returns the date one cycle after billingDate.
func NextBillingDate(billingDate core.Date, cycle core.BillingCycle) (core.Date, error) {
	strategy, err := GetCycleStrategy(cycle)
	if err != nil {
		return core.Date{}, err
	}
	if err := billingDate.Validate(); err != nil {
		return core.Date{}, err
	}
	return strategy.Next(billingDate), nil
}

// MonthlyEquivalent normalizes cost to a per-month amount.
func MonthlyEquivalent(cost decimal.Decimal, cycle core.BillingCycle) (decimal.Decimal, error) {
	strategy, err := GetCycleStrategy(cycle)
	if err != nil {
		return decimal.Zero, err
	}
	if strategy.Months() == 1 {
		return cost, nil
	}
	return cost.Div(decimal.NewFromInt(int64(strategy.Months()))), nil
}

// SwitchCycle rescales a stored cost when the user toggles the cycle of an
// existing subscription so that the perceived spend stays the same:
// monthly->annual multiplies by 12, annual->monthly divides by 12.
func SwitchCycle(cost decimal.Decimal, from, to core.BillingCycle) (decimal.Decimal, error) {
	fromStrategy, err := GetCycleStrategy(from)
	if err != nil {
		return decimal.Zero, err
	}
	toStrategy, err := GetCycleStrategy(to)
	if err != nil {
		return decimal.Zero, err
	}
	if fromStrategy.Months() == toStrategy.Months() {
		return cost, nil
	}
	return cost.
		Mul(decimal.NewFromInt(int64(toStrategy.Months()))).
		Div(decimal.NewFromInt(int64(fromStrategy.Months()))), nil
}

// Stamp recomputes the derived NextBillingDate of s. It is the only writer of
// that field.
func Stamp(s *core.Subscription) error {
	next, err := NextBillingDate(s.BillingDate, s.BillingCycle)
	if err != nil {
		return fmt.Errorf("stamp next billing date: %w", err)
	}
	s.NextBillingDate = next
	return nil
}

// AddClampedDate adds years and months to t. When the day of month does not
// exist in the target month it is clamped to that month's last day, so
// Jan 31 + 1 month is Feb 29 in a leap year rather than Mar 2.
func AddClampedDate(t time.Time, years, months int) time.Time {
	y, m, d := t.Date()
	h, min, sec := t.Clock()

	total := int(m) - 1 + months
	newY := y + years + total/12
	newM := total % 12
	if newM < 0 {
		newM += 12
		newY--
	}
	month := time.Month(newM + 1)

	lastDay := time.Date(newY, month+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > lastDay {
		d = lastDay
	}

	return time.Date(newY, month, d, h, min, sec, t.Nanosecond(), t.Location())
}
