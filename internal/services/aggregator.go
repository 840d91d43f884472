package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"subtrack/internal/billing"
	"subtrack/internal/core"
	"subtrack/internal/currency"
	"subtrack/internal/log"
)

// DefaultRenewalWindowDays is the width of the upcoming-renewals window.
const DefaultRenewalWindowDays = 30

// statusReporter is implemented by rate sources that carry an advisory
// status, such as the rates service.
type statusReporter interface {
	Status() string
}

// Aggregator builds dashboard summaries from subscriptions and the current
// rate table.
type Aggregator struct {
	source     currency.RateSource
	conv       *currency.Converter
	windowDays int
	logger     *log.Logger
}

func NewAggregator(source currency.RateSource, windowDays int, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.Discard()
	}
	if windowDays < 0 {
		windowDays = DefaultRenewalWindowDays
	}
	return &Aggregator{
		source:     source,
		conv:       currency.NewConverter(source),
		windowDays: windowDays,
		logger:     logger.WithComponent(log.ComponentSummary),
	}
}

// Converter converts single amounts against the same rate source the
// summaries use.
func (a *Aggregator) Converter() *currency.Converter {
	return a.conv
}

// Summarize reads the rate table once so that every amount in the summary
// uses the same rates.
func (a *Aggregator) Summarize(subs []core.Subscription, reporting core.Currency, today core.Date) (core.Summary, error) {
	summary, err := Summarize(subs, a.conv.Rates(), reporting, today, a.windowDays)
	if err != nil {
		a.logger.Warn("Summary failed",
			log.FieldReportingCode, string(reporting),
			log.FieldError, err.Error())
		return core.Summary{}, err
	}

	summary.RatesUpdatedAt = a.conv.LastUpdated()
	if sr, ok := a.source.(statusReporter); ok {
		summary.RatesStatus = sr.Status()
	}

	a.logger.Debug("Summary computed",
		log.FieldReportingCode, string(reporting),
		"subscriptions", summary.SubscriptionCount,
		"renewals", len(summary.UpcomingRenewals),
		"monthly_total", summary.MonthlyTotal.String())
	return summary, nil
}

// Summarize computes the monthly total, per-category totals and upcoming
// renewals of subs in the reporting currency. Amounts are summed unrounded;
// only the final totals are formatted. A subscription in a currency missing
// from both rates and the fallback table fails the whole summary.
func Summarize(subs []core.Subscription, rates currency.Rates, reporting core.Currency, today core.Date, windowDays int) (core.Summary, error) {
	if !reporting.IsValid() {
		return core.Summary{}, fmt.Errorf("reporting currency %q: %w", reporting, core.ErrUnknownCurrency)
	}
	today = core.DateOf(today.Time)

	total := decimal.Zero
	perCategory := make(map[core.Category]decimal.Decimal, len(core.Categories()))
	byCycle := make(map[core.BillingCycle]int, len(core.BillingCycles()))
	trend := make(map[[2]int]decimal.Decimal)

	for _, sub := range subs {
		monthly, err := MonthlyCost(sub, rates, reporting)
		if err != nil {
			return core.Summary{}, err
		}

		total = total.Add(monthly)
		perCategory[sub.Category] = perCategory[sub.Category].Add(monthly)
		byCycle[sub.BillingCycle]++

		if !sub.BillingDate.IsZero() {
			key := [2]int{sub.BillingDate.Year(), int(sub.BillingDate.Month())}
			trend[key] = trend[key].Add(monthly)
		}
	}

	totalFormatted, err := currency.Format(total, reporting)
	if err != nil {
		return core.Summary{}, err
	}

	categories := make([]core.CategoryAmount, 0, len(core.Categories()))
	for _, cat := range core.Categories() {
		amount := perCategory[cat]
		formatted, err := currency.Format(amount, reporting)
		if err != nil {
			return core.Summary{}, err
		}
		categories = append(categories, core.CategoryAmount{Category: cat, Amount: amount, Formatted: formatted})
	}

	points, err := trendPoints(trend, reporting)
	if err != nil {
		return core.Summary{}, err
	}

	return core.Summary{
		ReportingCurrency:     reporting,
		Today:                 today,
		MonthlyTotal:          total,
		MonthlyTotalFormatted: totalFormatted,
		PerCategory:           categories,
		UpcomingRenewals:      UpcomingRenewals(subs, today, windowDays),
		SubscriptionCount:     len(subs),
		ByCycle:               byCycle,
		MonthlyTrend:          points,
	}, nil
}

// MonthlyCost is the monthly-equivalent cost of sub in the reporting currency.
func MonthlyCost(sub core.Subscription, rates currency.Rates, reporting core.Currency) (decimal.Decimal, error) {
	monthly, err := billing.MonthlyEquivalent(sub.Cost, sub.BillingCycle)
	if err != nil {
		return decimal.Zero, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}
	converted, err := currency.Convert(monthly, sub.Currency, reporting, rates)
	if err != nil {
		return decimal.Zero, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}
	return converted, nil
}

func trendPoints(trend map[[2]int]decimal.Decimal, reporting core.Currency) ([]core.TrendPoint, error) {
	keys := make([][2]int, 0, len(trend))
	for k := range trend {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	points := make([]core.TrendPoint, 0, len(keys))
	for _, k := range keys {
		formatted, err := currency.Format(trend[k], reporting)
		if err != nil {
			return nil, err
		}
		points = append(points, core.TrendPoint{Year: k[0], Month: k[1], Amount: trend[k], Formatted: formatted})
	}
	return points, nil
}

// UpcomingRenewals returns the subscriptions whose next billing date falls in
// [today, today+windowDays], ordered by that date. Ties keep input order.
func UpcomingRenewals(subs []core.Subscription, today core.Date, windowDays int) []core.Renewal {
	today = core.DateOf(today.Time)
	end := today.AddDays(windowDays)

	renewals := make([]core.Renewal, 0)
	for _, sub := range subs {
		if sub.NextBillingDate.IsZero() {
			continue
		}
		next := core.DateOf(sub.NextBillingDate.Time)
		if next.Before(today.Time) || next.After(end.Time) {
			continue
		}
		renewals = append(renewals, core.Renewal{
			Subscription:  sub,
			DaysUntil:     today.DaysUntil(next),
			Label:         RelativeLabel(today, next),
			CostFormatted: cycleCost(sub),
		})
	}

	sort.SliceStable(renewals, func(i, j int) bool {
		return renewals[i].DaysUntil < renewals[j].DaysUntil
	})
	return renewals
}

// cycleCost renders the cost in the subscription's own currency with its
// cycle suffix, e.g. "$9.99/mo".
func cycleCost(sub core.Subscription) string {
	formatted, err := currency.Format(sub.Cost, sub.Currency)
	if err != nil {
		formatted = sub.Cost.String() + " " + string(sub.Currency)
	}
	if sub.BillingCycle == core.Annual {
		return formatted + "/yr"
	}
	return formatted + "/mo"
}

// RelativeLabel describes date relative to today: "Today", "Tomorrow",
// "In N days" up to a week out, otherwise a short date such as "Jul 4"
// with the year added when it differs from today's.
func RelativeLabel(today, date core.Date) string {
	today = core.DateOf(today.Time)
	date = core.DateOf(date.Time)

	days := today.DaysUntil(date)
	switch {
	case days == 0:
		return "Today"
	case days == 1:
		return "Tomorrow"
	case days >= 2 && days <= 7:
		return fmt.Sprintf("In %d days", days)
	case date.Year() != today.Year():
		return date.Format("Jan 2, 2006")
	default:
		return date.Format("Jan 2")
	}
}

// Filter keeps subscriptions whose service name or payment method contains
// query (case-insensitive) and whose category matches. An empty category or
// "all" matches every category.
func Filter(subs []core.Subscription, query, category string) []core.Subscription {
	query = strings.ToLower(strings.TrimSpace(query))
	category = strings.ToLower(strings.TrimSpace(category))

	out := make([]core.Subscription, 0, len(subs))
	for _, sub := range subs {
		if category != "" && category != "all" && string(sub.Category) != category {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(sub.ServiceName), query) &&
			!strings.Contains(strings.ToLower(sub.PaymentMethod), query) {
			continue
		}
		out = append(out, sub)
	}
	return out
}
