// Package http provides the JSON API server and its handlers.
//
// This file implements utilities for parsing and validating request data:
// subscription payloads, summary parameters and conversion parameters.
package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"subtrack/internal/core"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// amountField accepts a cost sent either as a JSON string ("12,50") or as a
// JSON number (12.5).
type amountField string

func (a *amountField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	*a = amountField(strings.Trim(string(data), `"`))
	return nil
}

// SubscriptionRequest is the body of create and update requests.
type SubscriptionRequest struct {
	UserID        string      `json:"user_id"`
	ServiceName   string      `json:"service_name"`
	Cost          amountField `json:"cost"`
	Currency      string      `json:"currency"`
	BillingCycle  string      `json:"billing_cycle"`
	BillingDate   string      `json:"billing_date"`
	Category      string      `json:"category"`
	PaymentMethod string      `json:"payment_method"`
}

// ToSubscription converts the request into a domain record. Field-level
// validation beyond parsing is left to the subscription service.
func (req SubscriptionRequest) ToSubscription() (core.Subscription, error) {
	cost, err := core.ParseAmount(string(req.Cost))
	if err != nil {
		return core.Subscription{}, fmt.Errorf("cost %q: %w", string(req.Cost), err)
	}

	var billingDate core.Date
	if v := strings.TrimSpace(req.BillingDate); v != "" {
		if billingDate, err = core.ParseDate(v); err != nil {
			return core.Subscription{}, err
		}
	}

	return core.Subscription{
		UserID:        sanitizeInput(req.UserID),
		ServiceName:   sanitizeInput(req.ServiceName),
		Cost:          cost,
		Currency:      core.Currency(strings.ToUpper(sanitizeInput(req.Currency))),
		BillingCycle:  core.BillingCycle(strings.ToLower(sanitizeInput(req.BillingCycle))),
		BillingDate:   billingDate,
		Category:      core.Category(strings.ToLower(sanitizeInput(req.Category))),
		PaymentMethod: sanitizeInput(req.PaymentMethod),
	}, nil
}

// CycleRequest is the body of a billing cycle change.
type CycleRequest struct {
	BillingCycle string `json:"billing_cycle"`
}

// DecodeJSON reads at most maxBodyBytes from r and decodes them into dst.
func DecodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("request body larger than %d bytes", maxBodyBytes)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("empty request body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// SummaryParams holds the parsed query of a summary request.
type SummaryParams struct {
	Currency core.Currency
	Today    core.Date
}

// ParseSummaryParams reads currency and today from the query. An absent
// currency means fallback; an absent date means the calendar day of now in
// UTC.
func ParseSummaryParams(query url.Values, fallback core.Currency, now time.Time) (SummaryParams, error) {
	params := SummaryParams{
		Currency: fallback,
		Today:    core.DateOf(now.UTC()),
	}

	if v := strings.TrimSpace(query.Get("currency")); v != "" {
		c, err := core.ParseCurrency(v)
		if err != nil {
			return SummaryParams{}, err
		}
		params.Currency = c
	}
	if v := strings.TrimSpace(query.Get("today")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return SummaryParams{}, err
		}
		params.Today = d
	}
	return params, nil
}

// ConvertParams holds the parsed query of a conversion request.
type ConvertParams struct {
	Amount decimal.Decimal
	From   core.Currency
	To     core.Currency
}

func ParseConvertParams(query url.Values) (ConvertParams, error) {
	amount, err := core.ParseAmount(query.Get("amount"))
	if err != nil {
		return ConvertParams{}, fmt.Errorf("amount %q: %w", query.Get("amount"), err)
	}
	from, err := core.ParseCurrency(query.Get("from"))
	if err != nil {
		return ConvertParams{}, err
	}
	to, err := core.ParseCurrency(query.Get("to"))
	if err != nil {
		return ConvertParams{}, err
	}
	return ConvertParams{Amount: amount, From: from, To: to}, nil
}
