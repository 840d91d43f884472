package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Monthly BillingCycle = "monthly"
	Annual  BillingCycle = "annual"
)

const (
	Streaming Category = "streaming"
	Software  Category = "software"
	Gaming    Category = "gaming"
	Other     Category = "other"
)

const dateLayout = "2006-01-02"

type (
	BillingCycle string

	Category string

	// Date is a calendar date at midnight UTC.
	Date struct {
		time.Time
	}

	// Subscription is a recurring service charge as stored by the persistence
	// collaborator. NextBillingDate is derived and written only by the billing
	// projector.
	Subscription struct {
		ID              string          `json:"id"`
		UserID          string          `json:"user_id,omitempty"`
		ServiceName     string          `json:"service_name"`
		Cost            decimal.Decimal `json:"cost"`
		Currency        Currency        `json:"currency"`
		BillingCycle    BillingCycle    `json:"billing_cycle"`
		BillingDate     Date            `json:"billing_date"`
		NextBillingDate Date            `json:"next_billing_date"`
		Category        Category        `json:"category"`
		PaymentMethod   string          `json:"payment_method"`
		CreatedAt       time.Time       `json:"created_at"`
	}
)

var (
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidCycle      = errors.New("invalid billing cycle")
	ErrInvalidCategory   = errors.New("invalid category")
	ErrUnknownCurrency   = errors.New("unknown currency")
	ErrEmptyServiceName  = errors.New("empty service name")
	ErrNotFound          = errors.New("subscription not found")
	ErrServiceNameLength = errors.New("service name too long (max 200 characters)")
)

// Categories returns every category in display order.
func Categories() []Category {
	return []Category{Streaming, Software, Gaming, Other}
}

func (c Category) IsValid() bool {
	switch c {
	case Streaming, Software, Gaming, Other:
		return true
	}
	return false
}

// BillingCycles returns every supported cycle.
func BillingCycles() []BillingCycle {
	return []BillingCycle{Monthly, Annual}
}

func (b BillingCycle) IsValid() bool {
	return b == Monthly || b == Annual
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to midnight of its calendar day, keeping the wall-clock
// date of t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidDate)
	}
	return nil
}

// DaysUntil returns the whole number of calendar days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.Sub(d.Time).Hours() / 24)
}

// AddDays returns d shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Validate checks the fields a subscription needs before it can be written.
func (s Subscription) Validate() error {
	name := strings.TrimSpace(s.ServiceName)
	if name == "" {
		return ErrEmptyServiceName
	}
	if len(name) > 200 {
		return ErrServiceNameLength
	}
	if s.Cost.IsNegative() {
		return fmt.Errorf("%w: cost must not be negative", ErrInvalidAmount)
	}
	if !s.Currency.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownCurrency, s.Currency)
	}
	if !s.BillingCycle.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidCycle, s.BillingCycle)
	}
	if !s.Category.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, s.Category)
	}
	if err := s.BillingDate.Validate(); err != nil {
		return fmt.Errorf("invalid billing date: %w", err)
	}
	return nil
}

// IsValidationError reports whether err comes from input validation rather
// than from storage or transport.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidDate, ErrInvalidAmount, ErrInvalidCycle, ErrInvalidCategory,
		ErrEmptyServiceName, ErrServiceNameLength,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
