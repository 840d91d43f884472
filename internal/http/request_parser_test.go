package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtrack/internal/core"
)

func TestSubscriptionRequest_ToSubscription(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCost string
		wantErr  error
	}{
		{name: "string cost", body: `{"cost":"9.99","billing_date":"2024-05-01"}`, wantCost: "9.99"},
		{name: "comma decimal", body: `{"cost":"9,99","billing_date":"2024-05-01"}`, wantCost: "9.99"},
		{name: "number cost", body: `{"cost":12.5,"billing_date":"2024-05-01"}`, wantCost: "12.5"},
		{name: "zero cost", body: `{"cost":0,"billing_date":"2024-05-01"}`, wantCost: "0"},
		{name: "missing cost", body: `{"billing_date":"2024-05-01"}`, wantErr: core.ErrInvalidAmount},
		{name: "null cost", body: `{"cost":null}`, wantErr: core.ErrInvalidAmount},
		{name: "negative cost", body: `{"cost":-3}`, wantErr: core.ErrInvalidAmount},
		{name: "bad date", body: `{"cost":"1","billing_date":"May 1st"}`, wantErr: core.ErrInvalidDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req SubscriptionRequest
			require.NoError(t, json.Unmarshal([]byte(tt.body), &req))

			sub, err := req.ToSubscription()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.wantCost).Equal(sub.Cost), "got %s", sub.Cost)
		})
	}
}

func TestSubscriptionRequest_Normalizes(t *testing.T) {
	req := SubscriptionRequest{
		ServiceName:   "  Spotify\x00 ",
		Cost:          "10",
		Currency:      " eur ",
		BillingCycle:  "Annual",
		BillingDate:   "2024-02-29T15:04:05Z",
		Category:      "STREAMING",
		PaymentMethod: " Amex ",
	}

	sub, err := req.ToSubscription()
	require.NoError(t, err)

	assert.Equal(t, "Spotify", sub.ServiceName)
	assert.Equal(t, core.EUR, sub.Currency)
	assert.Equal(t, core.Annual, sub.BillingCycle)
	assert.Equal(t, core.Streaming, sub.Category)
	assert.Equal(t, "Amex", sub.PaymentMethod)
	assert.Equal(t, core.NewDate(2024, 2, 29), sub.BillingDate)
}

func TestDecodeJSON(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"billing_cycle":"annual"}`))
		var req CycleRequest
		require.NoError(t, DecodeJSON(r, &req))
		assert.Equal(t, "annual", req.BillingCycle)
	})

	t.Run("too large", func(t *testing.T) {
		big := `{"billing_cycle":"` + strings.Repeat("a", maxBodyBytes) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
		var req CycleRequest
		assert.Error(t, DecodeJSON(r, &req))
	})

	t.Run("empty", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		var req CycleRequest
		assert.Error(t, DecodeJSON(r, &req))
	})
}

func TestParseSummaryParams(t *testing.T) {
	now := time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		name         string
		query        url.Values
		wantCurrency core.Currency
		wantToday    core.Date
		wantErr      error
	}{
		{name: "defaults", query: url.Values{}, wantCurrency: core.USD, wantToday: core.NewDate(2024, 6, 1)},
		{name: "explicit", query: url.Values{"currency": {"btc"}, "today": {"2024-12-31"}}, wantCurrency: core.BTC, wantToday: core.NewDate(2024, 12, 31)},
		{name: "unknown currency", query: url.Values{"currency": {"ABC"}}, wantErr: core.ErrUnknownCurrency},
		{name: "bad date", query: url.Values{"today": {"31-12-2024"}}, wantErr: core.ErrInvalidDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSummaryParams(tt.query, core.USD, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCurrency, got.Currency)
			assert.Equal(t, tt.wantToday, got.Today)
		})
	}
}

func TestParseConvertParams(t *testing.T) {
	got, err := ParseConvertParams(url.Values{"amount": {"12,5"}, "from": {"usd"}, "to": {"jpy"}})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.5").Equal(got.Amount))
	assert.Equal(t, core.USD, got.From)
	assert.Equal(t, core.JPY, got.To)

	_, err = ParseConvertParams(url.Values{"amount": {""}, "from": {"usd"}, "to": {"jpy"}})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = ParseConvertParams(url.Values{"amount": {"1"}, "from": {"usd"}})
	assert.ErrorIs(t, err, core.ErrUnknownCurrency)
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "a\tb", sanitizeInput("  a\x01\tb\x1f "))
	assert.Equal(t, "", sanitizeInput("   "))
}
