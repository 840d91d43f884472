package amqp

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"subtrack/internal/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RenewalReminderMessage announces a subscription renewing soon
type RenewalReminderMessage struct {
	SubscriptionID  string    `json:"subscription_id"`
	ServiceName     string    `json:"service_name"`
	NextBillingDate core.Date `json:"next_billing_date"`
	Cost            string    `json:"cost"`
	Currency        string    `json:"currency"`
	CostFormatted   string    `json:"cost_formatted"`
	Label           string    `json:"label"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewRenewalReminderMessage builds a reminder from a renewal
func NewRenewalReminderMessage(r core.Renewal) *RenewalReminderMessage {
	return &RenewalReminderMessage{
		SubscriptionID:  r.Subscription.ID,
		ServiceName:     r.Subscription.ServiceName,
		NextBillingDate: r.Subscription.NextBillingDate,
		Cost:            r.Subscription.Cost.String(),
		Currency:        string(r.Subscription.Currency),
		CostFormatted:   r.CostFormatted,
		Label:           r.Label,
		Timestamp:       time.Now().UTC(),
	}
}

// DedupKey identifies one reminder per subscription and billing date
func (m *RenewalReminderMessage) DedupKey() string {
	return m.SubscriptionID + "@" + m.NextBillingDate.String()
}

func (m *RenewalReminderMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RenewalReminderMessageFromJSON(data []byte) (*RenewalReminderMessage, error) {
	var msg RenewalReminderMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RatesUpdatedMessage is broadcast after the rate table changes. Rates are
// not included; consumers fetch them from the API.
type RatesUpdatedMessage struct {
	UpdatedAt time.Time `json:"updated_at"`
	Status    string    `json:"status,omitempty"`
	RateCount int       `json:"rate_count"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRatesUpdatedMessage(updatedAt time.Time, status string, rateCount int) *RatesUpdatedMessage {
	return &RatesUpdatedMessage{
		UpdatedAt: updatedAt,
		Status:    status,
		RateCount: rateCount,
		Timestamp: time.Now().UTC(),
	}
}

func (m *RatesUpdatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RatesUpdatedMessageFromJSON(data []byte) (*RatesUpdatedMessage, error) {
	var msg RatesUpdatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
