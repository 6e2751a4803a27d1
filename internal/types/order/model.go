package order

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentApproved  PaymentStatus = "approved"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

const ProviderPayPal = "paypal"

var orderRank = map[OrderStatus]int{
	StatusPending:    0,
	StatusConfirmed:  1,
	StatusProcessing: 2,
	StatusShipped:    3,
	StatusDelivered:  4,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderRank[s]
	return ok || s == StatusCancelled
}

// Terminal reports whether no further order status move is allowed.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanMoveTo allows forward moves along the fulfilment chain and cancellation
// from any non-terminal state.
func (s OrderStatus) CanMoveTo(next OrderStatus) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	return orderRank[next] > orderRank[s]
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentApproved, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Open reports whether the payment can still be captured or failed.
func (s PaymentStatus) Open() bool {
	return s == PaymentPending || s == PaymentApproved
}

// Paid reports whether money has moved for the order at some point.
func (s PaymentStatus) Paid() bool {
	return s == PaymentCompleted || s == PaymentRefunded
}

type LineItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

type PaymentMeta struct {
	CaptureID        string          `json:"captureId,omitempty"`
	CapturedAt       *time.Time      `json:"capturedAt,omitempty"`
	CapturedAmount   json.RawMessage `json:"capturedAmount,omitempty"`
	WebhookProcessed bool            `json:"webhookProcessed"`
	FailureCode      string          `json:"failureCode,omitempty"`
	FailureReason    string          `json:"failureReason,omitempty"`
	RefundID         string          `json:"refundId,omitempty"`
	RefundedAt       *time.Time      `json:"refundedAt,omitempty"`
}

type Order struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	Number          string          `db:"number" json:"number"`
	Provider        string          `db:"provider" json:"provider"`
	ExternalID      string          `db:"external_id" json:"externalId,omitempty"`
	Customer        Customer        `db:"customer" json:"customer"`
	Items           []LineItem      `db:"items" json:"items"`
	Total           decimal.Decimal `db:"total" json:"total"`
	Currency        string          `db:"currency" json:"currency"`
	PaymentAmount   decimal.Decimal `db:"payment_amount" json:"paymentAmount"`
	PaymentCurrency string          `db:"payment_currency" json:"paymentCurrency"`
	ExchangeRate    decimal.Decimal `db:"exchange_rate" json:"exchangeRate"`
	OrderStatus     OrderStatus     `db:"order_status" json:"orderStatus"`
	PaymentStatus   PaymentStatus   `db:"payment_status" json:"paymentStatus"`
	Payment         PaymentMeta     `db:"payment" json:"payment"`
	Version         int64           `db:"version" json:"version"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// Captured reports the terminal-success state of the payment workflow.
func (o *Order) Captured() bool {
	return o.PaymentStatus == PaymentCompleted
}

// Deletable reports whether the order can be removed without losing track of
// money: a failed payment, or a pending one with no capture on it.
func (o *Order) Deletable() bool {
	switch o.PaymentStatus {
	case PaymentFailed:
		return true
	case PaymentPending:
		return o.Payment.CaptureID == ""
	}
	return false
}

// Update is a guarded patch. Empty fields are left untouched; the update applies
// only while the stored statuses are in the guard sets (empty guard = any).
type Update struct {
	OrderStatus   OrderStatus
	PaymentStatus PaymentStatus

	CaptureID        *string
	CapturedAt       *time.Time
	CapturedAmount   json.RawMessage
	WebhookProcessed *bool
	FailureCode      *string
	FailureReason    *string
	RefundID         *string
	RefundedAt       *time.Time

	GuardPayment []PaymentStatus
	GuardOrder   []OrderStatus
}

// Apply mutates o in place. Stores call it after the guard has been checked.
func (u Update) Apply(o *Order) {
	if u.OrderStatus != "" {
		o.OrderStatus = u.OrderStatus
	}
	if u.PaymentStatus != "" {
		o.PaymentStatus = u.PaymentStatus
	}
	if u.CaptureID != nil {
		o.Payment.CaptureID = *u.CaptureID
	}
	if u.CapturedAt != nil {
		t := *u.CapturedAt
		o.Payment.CapturedAt = &t
	}
	if u.CapturedAmount != nil {
		o.Payment.CapturedAmount = u.CapturedAmount
	}
	if u.WebhookProcessed != nil {
		o.Payment.WebhookProcessed = *u.WebhookProcessed
	}
	if u.FailureCode != nil {
		o.Payment.FailureCode = *u.FailureCode
	}
	if u.FailureReason != nil {
		o.Payment.FailureReason = *u.FailureReason
	}
	if u.RefundID != nil {
		o.Payment.RefundID = *u.RefundID
	}
	if u.RefundedAt != nil {
		t := *u.RefundedAt
		o.Payment.RefundedAt = &t
	}
}

// Allows checks the guard sets against the current statuses of o.
func (u Update) Allows(o *Order) bool {
	if len(u.GuardPayment) > 0 && !containsPayment(u.GuardPayment, o.PaymentStatus) {
		return false
	}
	if len(u.GuardOrder) > 0 && !containsOrder(u.GuardOrder, o.OrderStatus) {
		return false
	}
	return true
}

func containsPayment(set []PaymentStatus, s PaymentStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsOrder(set []OrderStatus, s OrderStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

type Filter struct {
	OrderStatus   OrderStatus
	PaymentStatus PaymentStatus
	Limit         int
	Offset        int
}

type Summary struct {
	Orders          int64                      `json:"orders"`
	ByPaymentStatus map[PaymentStatus]int64    `json:"byPaymentStatus"`
	ByOrderStatus   map[OrderStatus]int64      `json:"byOrderStatus"`
	Captured        map[string]decimal.Decimal `json:"captured"`
	Refunded        map[string]decimal.Decimal `json:"refunded"`
}
