package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryAmount is a monthly-equivalent total for one category.
type CategoryAmount struct {
	Category  Category        `json:"category"`
	Amount    decimal.Decimal `json:"amount"`
	Formatted string          `json:"formatted"`
}

// Renewal is a subscription whose next billing date falls inside the
// upcoming-renewals window.
type Renewal struct {
	Subscription  Subscription `json:"subscription"`
	DaysUntil     int          `json:"days_until"`
	Label         string       `json:"label"`
	CostFormatted string       `json:"cost_formatted"`
}

// TrendPoint is the monthly-equivalent spend of subscriptions anchored in a
// given year+month.
type TrendPoint struct {
	Year      int             `json:"year"`
	Month     int             `json:"month"` // 1-12
	Amount    decimal.Decimal `json:"amount"`
	Formatted string          `json:"formatted"`
}

// Summary is the dashboard view of a collection of subscriptions, expressed
// in a single reporting currency.
type Summary struct {
	ReportingCurrency     Currency             `json:"reporting_currency"`
	Today                 Date                 `json:"today"`
	MonthlyTotal          decimal.Decimal      `json:"monthly_total"`
	MonthlyTotalFormatted string               `json:"monthly_total_formatted"`
	PerCategory           []CategoryAmount     `json:"per_category"`
	UpcomingRenewals      []Renewal            `json:"upcoming_renewals"`
	SubscriptionCount     int                  `json:"subscription_count"`
	ByCycle               map[BillingCycle]int `json:"by_cycle"`
	MonthlyTrend          []TrendPoint         `json:"monthly_trend"`
	RatesUpdatedAt        time.Time            `json:"rates_updated_at"`
	RatesStatus           string               `json:"rates_status,omitempty"`
}
