package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/antonminaichev/perfume-checkout/internal/storage"
	"github.com/antonminaichev/perfume-checkout/internal/types/admin"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "number", "provider", "external_id", "customer", "items", "total", "currency",
	"payment_amount", "payment_currency", "exchange_rate", "order_status", "payment_status",
	"capture_id", "captured_at", "captured_amount", "webhook_processed", "failure_code", "failure_reason",
	"refund_id", "refunded_at", "version", "created_at", "updated_at"}

func newMock(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func orderRow(id uuid.UUID, externalID any, ps string, captureID any) *sqlmock.Rows {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(columns).AddRow(
		id.String(), "PF2610161234566", "paypal", externalID,
		`{"name":"Layla","email":"layla@example.com"}`,
		`[{"productId":"oud-50","quantity":2,"unitPrice":"50"}]`,
		"100.00", "SAR", "26.67", "USD", "0.26670000", "pending", ps,
		captureID, nil, nil, false, nil, nil,
		nil, nil, int64(2), now, now,
	)
}

func TestCreateOrder(t *testing.T) {
	s, mock := newMock(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders (number, provider, customer, items, total, currency,")).
		WithArgs("PF2610161234566", "paypal", sqlmock.AnyArg(), sqlmock.AnyArg(), "100", "SAR",
			"26.67", "USD", "0.2667", "pending", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at"}).
			AddRow(id.String(), int64(1), now, now))

	o := &order.Order{
		Number:          "PF2610161234566",
		Provider:        order.ProviderPayPal,
		Customer:        order.Customer{Name: "Layla", Email: "layla@example.com"},
		Items:           []order.LineItem{{ProductID: "oud-50", Quantity: 2, UnitPrice: decimal.NewFromInt(50)}},
		Total:           decimal.NewFromInt(100),
		Currency:        "SAR",
		PaymentAmount:   decimal.RequireFromString("26.67"),
		PaymentCurrency: "USD",
		ExchangeRate:    decimal.RequireFromString("0.2667"),
		OrderStatus:     order.StatusPending,
		PaymentStatus:   order.PaymentPending,
	}
	require.NoError(t, s.CreateOrder(context.Background(), o))
	assert.Equal(t, id, o.ID)
	assert.Equal(t, int64(1), o.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderDuplicate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateOrder(context.Background(), &order.Order{Number: "PF1"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestFindOrderByExternalID(t *testing.T) {
	s, mock := newMock(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE provider = $1 AND external_id = $2")).
		WithArgs("paypal", "R1").
		WillReturnRows(orderRow(id, "R1", "pending", nil))

	o, err := s.FindOrderByExternalID(context.Background(), "paypal", "R1")
	require.NoError(t, err)
	assert.Equal(t, id, o.ID)
	assert.Equal(t, "R1", o.ExternalID)
	assert.Equal(t, "layla@example.com", o.Customer.Email)
	require.Len(t, o.Items, 1)
	assert.True(t, o.Items[0].UnitPrice.Equal(decimal.NewFromInt(50)))
	assert.True(t, o.PaymentAmount.Equal(decimal.RequireFromString("26.67")))

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE provider = $1 AND external_id = $2")).
		WithArgs("paypal", "R2").
		WillReturnRows(sqlmock.NewRows(columns))
	_, err = s.FindOrderByExternalID(context.Background(), "paypal", "R2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBindExternalID(t *testing.T) {
	id := uuid.New()

	t.Run("first bind", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND external_id IS NULL")).
			WithArgs(id.String(), "paypal", "R1").
			WillReturnRows(orderRow(id, "R1", "pending", nil))
		o, err := s.BindExternalID(context.Background(), id, "paypal", "R1")
		require.NoError(t, err)
		assert.Equal(t, "R1", o.ExternalID)
	})

	t.Run("same id again", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND external_id IS NULL")).
			WillReturnRows(sqlmock.NewRows(columns))
		mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
			WillReturnRows(orderRow(id, "R1", "pending", nil))
		_, err := s.BindExternalID(context.Background(), id, "paypal", "R1")
		assert.NoError(t, err)
	})

	t.Run("different id", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND external_id IS NULL")).
			WillReturnRows(sqlmock.NewRows(columns))
		mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
			WillReturnRows(orderRow(id, "R1", "pending", nil))
		o, err := s.BindExternalID(context.Background(), id, "paypal", "R9")
		assert.ErrorIs(t, err, storage.ErrConflict)
		assert.Equal(t, "R1", o.ExternalID)
	})
}

func TestBuildUpdate(t *testing.T) {
	id := uuid.New()
	capID := "CAP1"
	flag := true
	q, args := buildUpdate(id, order.Update{
		OrderStatus:      order.StatusConfirmed,
		PaymentStatus:    order.PaymentCompleted,
		CaptureID:        &capID,
		WebhookProcessed: &flag,
		GuardPayment:     []order.PaymentStatus{order.PaymentPending, order.PaymentApproved},
	})
	assert.Contains(t, q, "UPDATE orders SET order_status = $2, payment_status = $3, capture_id = $4, webhook_processed = $5, version = version + 1, updated_at = now()")
	assert.Contains(t, q, "WHERE id = $1 AND payment_status IN ($6,$7) RETURNING")
	assert.Equal(t, []any{id, order.StatusConfirmed, order.PaymentCompleted, "CAP1", true, "pending", "approved"}, args)
}

func TestUpdateOrder(t *testing.T) {
	id := uuid.New()
	u := order.Update{
		OrderStatus:   order.StatusConfirmed,
		PaymentStatus: order.PaymentCompleted,
		GuardPayment:  []order.PaymentStatus{order.PaymentPending, order.PaymentApproved},
	}

	t.Run("applied", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE orders SET order_status = $2, payment_status = $3")).
			WithArgs(id.String(), "confirmed", "completed", "pending", "approved").
			WillReturnRows(orderRow(id, "R1", "completed", "CAP1"))
		o, err := s.UpdateOrder(context.Background(), id, u)
		require.NoError(t, err)
		assert.Equal(t, order.PaymentCompleted, o.PaymentStatus)
		assert.Equal(t, "CAP1", o.Payment.CaptureID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guard rejected", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE orders SET")).
			WillReturnRows(sqlmock.NewRows(columns))
		mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
			WithArgs(id.String()).
			WillReturnRows(orderRow(id, "R1", "completed", "CAP1"))
		o, err := s.UpdateOrder(context.Background(), id, u)
		assert.ErrorIs(t, err, storage.ErrConflict)
		require.NotNil(t, o)
		assert.Equal(t, order.PaymentCompleted, o.PaymentStatus)
	})

	t.Run("missing", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE orders SET")).
			WillReturnRows(sqlmock.NewRows(columns))
		mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
			WillReturnRows(sqlmock.NewRows(columns))
		_, err := s.UpdateOrder(context.Background(), id, u)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestListOrders(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE payment_status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3")).
		WithArgs("completed", 20, 0).
		WillReturnRows(orderRow(uuid.New(), "R1", "completed", "CAP1"))

	out, err := s.ListOrders(context.Background(), order.Filter{PaymentStatus: order.PaymentCompleted, Limit: 20})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestDeleteOrder(t *testing.T) {
	id := uuid.New()

	t.Run("unpaid", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("AND (payment_status = 'failed' OR (payment_status = 'pending' AND COALESCE(capture_id, '') = ''))")).
			WithArgs(id.String()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, s.DeleteOrder(context.Background(), id))
	})

	t.Run("paid", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM orders")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
			WillReturnRows(orderRow(id, "R1", "completed", "CAP1"))
		assert.ErrorIs(t, s.DeleteOrder(context.Background(), id), storage.ErrConflict)
	})

	t.Run("approved", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM orders")).
			WithArgs(id.String()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
			WillReturnRows(orderRow(id, "R1", "approved", "CAP-PENDING"))
		assert.ErrorIs(t, s.DeleteOrder(context.Background(), id), storage.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrderSummary(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payment_status, order_status, payment_currency, COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"payment_status", "order_status", "payment_currency", "count", "sum"}).
			AddRow("completed", "confirmed", "USD", int64(2), "53.34").
			AddRow("refunded", "cancelled", "USD", int64(1), "10.00").
			AddRow("failed", "cancelled", "USD", int64(3), "99.00"))

	sum, err := s.OrderSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), sum.Orders)
	assert.Equal(t, int64(4), sum.ByOrderStatus[order.StatusCancelled])
	assert.Equal(t, "53.34", sum.Captured["USD"].StringFixed(2))
	assert.Equal(t, "10.00", sum.Refunded["USD"].StringFixed(2))
}

func TestAdmins(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO admins")).
		WithArgs("root", "hash", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	a := &admin.Admin{Login: "root", PasswordHash: "hash", CreatedAt: now}
	require.NoError(t, s.CreateAdmin(context.Background(), a))
	assert.Equal(t, int64(7), a.ID)

	mock.ExpectQuery(regexp.QuoteMeta("FROM admins WHERE login=$1")).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	_, err := s.FindAdminByLogin(context.Background(), "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWebhookEvents(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM webhook_events WHERE event_id = $1")).
		WithArgs("WH-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	seen, err := s.EventSeen(context.Background(), "WH-1")
	require.NoError(t, err)
	assert.False(t, seen)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO webhook_events")).
		WithArgs("WH-1", "PAYMENT.CAPTURE.COMPLETED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.RecordEvent(context.Background(), "WH-1", "PAYMENT.CAPTURE.COMPLETED"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM webhook_events")).
		WillReturnError(errors.New("conn reset"))
	_, err = s.EventSeen(context.Background(), "WH-2")
	assert.Error(t, err)
}
