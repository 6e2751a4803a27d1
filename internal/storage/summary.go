package storage

import (
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/shopspring/decimal"
)

// NewSummary returns an empty dashboard aggregate.
func NewSummary() *order.Summary {
	return &order.Summary{
		ByPaymentStatus: map[order.PaymentStatus]int64{},
		ByOrderStatus:   map[order.OrderStatus]int64{},
		Captured:        map[string]decimal.Decimal{},
		Refunded:        map[string]decimal.Decimal{},
	}
}

// AddToSummary folds count orders sharing the given statuses into s.
func AddToSummary(s *order.Summary, ps order.PaymentStatus, os order.OrderStatus, currency string, count int64, amount decimal.Decimal) {
	s.Orders += count
	s.ByPaymentStatus[ps] += count
	s.ByOrderStatus[os] += count
	switch ps {
	case order.PaymentCompleted:
		s.Captured[currency] = s.Captured[currency].Add(amount)
	case order.PaymentRefunded:
		s.Refunded[currency] = s.Refunded[currency].Add(amount)
	}
}
