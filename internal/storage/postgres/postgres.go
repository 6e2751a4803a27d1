package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antonminaichev/perfume-checkout/internal/storage"
	"github.com/antonminaichev/perfume-checkout/internal/types/admin"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const uniqueViolation = "23505"

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &PostgresStorage{db: db}

	// проверяем, что БД жива
	if err := s.db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	// создаём таблицы
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already opened handle without touching the schema.
func NewWithDB(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

func (s *PostgresStorage) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS admins (
            id SERIAL PRIMARY KEY,
            login TEXT UNIQUE NOT NULL,
            password_hash TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS orders (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            number TEXT UNIQUE NOT NULL,
            provider TEXT NOT NULL,
            external_id TEXT,
            customer JSONB NOT NULL,
            items JSONB NOT NULL,
            total NUMERIC(14,2) NOT NULL,
            currency TEXT NOT NULL,
            payment_amount NUMERIC(14,2) NOT NULL,
            payment_currency TEXT NOT NULL,
            exchange_rate NUMERIC(18,8) NOT NULL,
            order_status TEXT NOT NULL,
            payment_status TEXT NOT NULL,
            capture_id TEXT,
            captured_at TIMESTAMPTZ,
            captured_amount JSONB,
            webhook_processed BOOLEAN NOT NULL DEFAULT FALSE,
            failure_code TEXT,
            failure_reason TEXT,
            refund_id TEXT,
            refunded_at TIMESTAMPTZ,
            version BIGINT NOT NULL DEFAULT 1,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS orders_provider_external_id
            ON orders (provider, external_id) WHERE external_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS orders_polling
            ON orders (updated_at) WHERE payment_status IN ('pending','approved')`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
            event_id TEXT PRIMARY KEY,
            event_type TEXT NOT NULL,
            processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func (s *PostgresStorage) CreateAdmin(ctx context.Context, a *admin.Admin) error {
	q := `INSERT INTO admins (login,password_hash,created_at) VALUES($1,$2,$3) RETURNING id`
	err := s.db.QueryRowContext(ctx, q, a.Login, a.PasswordHash, a.CreatedAt).Scan(&a.ID)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

func (s *PostgresStorage) FindAdminByLogin(ctx context.Context, login string) (*admin.Admin, error) {
	a := &admin.Admin{}
	q := `SELECT id,login,password_hash,created_at FROM admins WHERE login=$1`
	if err := s.db.QueryRowContext(ctx, q, login).
		Scan(&a.ID, &a.Login, &a.PasswordHash, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

const orderColumns = `id, number, provider, external_id, customer, items, total, currency,
    payment_amount, payment_currency, exchange_rate, order_status, payment_status,
    capture_id, captured_at, captured_amount, webhook_processed, failure_code, failure_reason,
    refund_id, refunded_at, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o                                  order.Order
		externalID, captureID, failureCode sql.NullString
		failureReason, refundID            sql.NullString
		capturedAt, refundedAt             sql.NullTime
		customer, items, capturedAmount    []byte
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.Provider, &externalID, &customer, &items, &o.Total, &o.Currency,
		&o.PaymentAmount, &o.PaymentCurrency, &o.ExchangeRate, &o.OrderStatus, &o.PaymentStatus,
		&captureID, &capturedAt, &capturedAmount, &o.Payment.WebhookProcessed, &failureCode, &failureReason,
		&refundID, &refundedAt, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	o.ExternalID = externalID.String
	o.Payment.CaptureID = captureID.String
	o.Payment.FailureCode = failureCode.String
	o.Payment.FailureReason = failureReason.String
	o.Payment.RefundID = refundID.String
	if capturedAt.Valid {
		t := capturedAt.Time
		o.Payment.CapturedAt = &t
	}
	if refundedAt.Valid {
		t := refundedAt.Time
		o.Payment.RefundedAt = &t
	}
	if len(capturedAmount) > 0 {
		o.Payment.CapturedAmount = json.RawMessage(capturedAmount)
	}
	return &o, nil
}

func (s *PostgresStorage) CreateOrder(ctx context.Context, o *order.Order) error {
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("encode customer: %w", err)
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	q := `
        INSERT INTO orders (number, provider, customer, items, total, currency,
            payment_amount, payment_currency, exchange_rate, order_status, payment_status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id, version, created_at, updated_at`
	err = s.db.QueryRowContext(ctx, q,
		o.Number, o.Provider, string(customer), string(items), o.Total, o.Currency,
		o.PaymentAmount, o.PaymentCurrency, o.ExchangeRate, o.OrderStatus, o.PaymentStatus,
	).Scan(&o.ID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

func (s *PostgresStorage) findOne(ctx context.Context, where string, args ...any) (*order.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where
	o, err := scanOrder(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return o, err
}

func (s *PostgresStorage) FindOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return s.findOne(ctx, `id = $1`, id)
}

func (s *PostgresStorage) FindOrderByNumber(ctx context.Context, number string) (*order.Order, error) {
	return s.findOne(ctx, `number = $1`, number)
}

// FindOrderByExternalID is served by the orders_provider_external_id index.
func (s *PostgresStorage) FindOrderByExternalID(ctx context.Context, provider, externalID string) (*order.Order, error) {
	return s.findOne(ctx, `provider = $1 AND external_id = $2`, provider, externalID)
}

func (s *PostgresStorage) BindExternalID(ctx context.Context, id uuid.UUID, provider, externalID string) (*order.Order, error) {
	q := `
        UPDATE orders
        SET provider = $2, external_id = $3, version = version + 1, updated_at = now()
        WHERE id = $1 AND external_id IS NULL
        RETURNING ` + orderColumns
	o, err := scanOrder(s.db.QueryRowContext(ctx, q, id, provider, externalID))
	switch {
	case err == nil:
		return o, nil
	case isUniqueViolation(err):
		return nil, storage.ErrDuplicate
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}
	current, err := s.FindOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Provider == provider && current.ExternalID == externalID {
		return current, nil
	}
	return current, storage.ErrConflict
}

// buildUpdate renders a guarded UPDATE ... RETURNING for u.
func buildUpdate(id uuid.UUID, u order.Update) (string, []any) {
	args := []any{id}
	var sets []string
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.OrderStatus != "" {
		set("order_status", u.OrderStatus)
	}
	if u.PaymentStatus != "" {
		set("payment_status", u.PaymentStatus)
	}
	if u.CaptureID != nil {
		set("capture_id", *u.CaptureID)
	}
	if u.CapturedAt != nil {
		set("captured_at", *u.CapturedAt)
	}
	if u.CapturedAmount != nil {
		set("captured_amount", string(u.CapturedAmount))
	}
	if u.WebhookProcessed != nil {
		set("webhook_processed", *u.WebhookProcessed)
	}
	if u.FailureCode != nil {
		set("failure_code", *u.FailureCode)
	}
	if u.FailureReason != nil {
		set("failure_reason", *u.FailureReason)
	}
	if u.RefundID != nil {
		set("refund_id", *u.RefundID)
	}
	if u.RefundedAt != nil {
		set("refunded_at", *u.RefundedAt)
	}
	sets = append(sets, "version = version + 1", "updated_at = now()")

	where := []string{"id = $1"}
	in := func(col string, vals []string) {
		ph := make([]string, len(vals))
		for i, v := range vals {
			args = append(args, v)
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, fmt.Sprintf("%s IN (%s)", col, strings.Join(ph, ",")))
	}
	if len(u.GuardPayment) > 0 {
		vals := make([]string, len(u.GuardPayment))
		for i, v := range u.GuardPayment {
			vals[i] = string(v)
		}
		in("payment_status", vals)
	}
	if len(u.GuardOrder) > 0 {
		vals := make([]string, len(u.GuardOrder))
		for i, v := range u.GuardOrder {
			vals[i] = string(v)
		}
		in("order_status", vals)
	}

	q := `UPDATE orders SET ` + strings.Join(sets, ", ") +
		` WHERE ` + strings.Join(where, " AND ") +
		` RETURNING ` + orderColumns
	return q, args
}

func (s *PostgresStorage) UpdateOrder(ctx context.Context, id uuid.UUID, u order.Update) (*order.Order, error) {
	q, args := buildUpdate(id, u)
	o, err := scanOrder(s.db.QueryRowContext(ctx, q, args...))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	current, err := s.FindOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, storage.ErrConflict
}

func (s *PostgresStorage) ListOrders(ctx context.Context, f order.Filter) ([]order.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.OrderStatus != "" {
		args = append(args, f.OrderStatus)
		where = append(where, fmt.Sprintf("order_status = $%d", len(args)))
	}
	if f.PaymentStatus != "" {
		args = append(args, f.PaymentStatus)
		where = append(where, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return s.queryOrders(ctx, q, args...)
}

func (s *PostgresStorage) ListOrdersForPolling(ctx context.Context, updatedBefore time.Time, limit int) ([]order.Order, error) {
	const q = `
        SELECT ` + orderColumns + `
        FROM orders
        WHERE payment_status IN ('pending','approved') AND order_status = 'pending' AND updated_at < $1
        ORDER BY updated_at
        LIMIT $2`
	return s.queryOrders(ctx, q, updatedBefore, limit)
}

func (s *PostgresStorage) queryOrders(ctx context.Context, q string, args ...any) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// DeleteOrder removes an order that never moved money: failed, or pending
// with no capture. Must agree with order.Order.Deletable.
func (s *PostgresStorage) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM orders WHERE id = $1
        AND (payment_status = 'failed' OR (payment_status = 'pending' AND COALESCE(capture_id, '') = ''))`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.FindOrderByID(ctx, id); err != nil {
		return err
	}
	return storage.ErrConflict
}

func (s *PostgresStorage) OrderSummary(ctx context.Context) (*order.Summary, error) {
	const q = `
        SELECT payment_status, order_status, payment_currency, COUNT(*), COALESCE(SUM(payment_amount),0)
        FROM orders
        GROUP BY payment_status, order_status, payment_currency`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sum := storage.NewSummary()
	for rows.Next() {
		var (
			ps       order.PaymentStatus
			os       order.OrderStatus
			currency string
			count    int64
			amount   decimal.Decimal
		)
		if err := rows.Scan(&ps, &os, &currency, &count, &amount); err != nil {
			return nil, err
		}
		storage.AddToSummary(sum, ps, os, currency, count, amount)
	}
	return sum, rows.Err()
}

func (s *PostgresStorage) EventSeen(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM webhook_events WHERE event_id = $1`, eventID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *PostgresStorage) RecordEvent(ctx context.Context, eventID, eventType string) error {
	const q = `INSERT INTO webhook_events (event_id, event_type) VALUES ($1,$2) ON CONFLICT (event_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q, eventID, eventType)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
