// Package storage persists subscriptions in a local SQLite database with
// embedded schema migrations.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"subtrack/internal/core"
	"subtrack/internal/log"

	_ "modernc.org/sqlite"
)

const (
	timestampLayout = time.RFC3339Nano

	selectColumns = `id, user_id, service_name, cost, currency, billing_cycle,
		billing_date, next_billing_date, category, payment_method, created_at`
)

type SQLiteRepository struct {
	db     *sql.DB
	path   string
	logger *log.Logger
	now    func() time.Time
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// brings its schema up to date.
func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		path:   dbPath,
		logger: logger.WithComponent(log.ComponentStorage),
		now:    time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// List returns every subscription ordered by next billing date.
func (r *SQLiteRepository) List(ctx context.Context) ([]core.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM subscriptions ORDER BY next_billing_date, created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []core.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (core.Subscription, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Subscription{}, fmt.Errorf("get %s: %w", id, core.ErrNotFound)
	}
	return sub, err
}

func (r *SQLiteRepository) Create(ctx context.Context, sub core.Subscription) (core.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, service_name, cost, currency, billing_cycle,
			billing_date, next_billing_date, category, payment_method, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.ServiceName, sub.Cost.String(), string(sub.Currency),
		string(sub.BillingCycle), sub.BillingDate.String(), sub.NextBillingDate.String(),
		string(sub.Category), sub.PaymentMethod,
		sub.CreatedAt.Format(timestampLayout), now.Format(timestampLayout),
	)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}

	r.logger.InfoContext(ctx, "Subscription saved to SQLite",
		log.FieldSubscription, sub.ID,
		log.FieldService, sub.ServiceName,
		log.FieldCost, sub.Cost.String(),
		log.FieldCurrency, string(sub.Currency))
	return sub, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, sub core.Subscription) (core.Subscription, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET user_id = ?, service_name = ?, cost = ?, currency = ?,
			billing_cycle = ?, billing_date = ?, next_billing_date = ?, category = ?,
			payment_method = ?, updated_at = ?
		WHERE id = ?`,
		sub.UserID, sub.ServiceName, sub.Cost.String(), string(sub.Currency),
		string(sub.BillingCycle), sub.BillingDate.String(), sub.NextBillingDate.String(),
		string(sub.Category), sub.PaymentMethod, r.now().UTC().Format(timestampLayout),
		sub.ID,
	)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}
	if err := expectOneRow(res, sub.ID); err != nil {
		return core.Subscription{}, err
	}
	return r.Get(ctx, sub.ID)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	if err := expectOneRow(res, id); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "Subscription deleted from SQLite", log.FieldSubscription, id)
	return nil
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscription %s: %w", id, core.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(s scanner) (core.Subscription, error) {
	var (
		sub                          core.Subscription
		cost, currency, cycle, cat   string
		billingDate, next, createdAt string
	)
	err := s.Scan(&sub.ID, &sub.UserID, &sub.ServiceName, &cost, &currency, &cycle,
		&billingDate, &next, &cat, &sub.PaymentMethod, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Subscription{}, err
		}
		return core.Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}

	if sub.Cost, err = decimal.NewFromString(cost); err != nil {
		return core.Subscription{}, fmt.Errorf("subscription %s: cost %q: %w", sub.ID, cost, err)
	}
	if sub.BillingDate, err = core.ParseDate(billingDate); err != nil {
		return core.Subscription{}, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}
	if sub.NextBillingDate, err = core.ParseDate(next); err != nil {
		return core.Subscription{}, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}
	if sub.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return core.Subscription{}, fmt.Errorf("subscription %s: created_at %q: %w", sub.ID, createdAt, err)
	}
	sub.Currency = core.Currency(currency)
	sub.BillingCycle = core.BillingCycle(cycle)
	sub.Category = core.Category(cat)
	return sub, nil
}
