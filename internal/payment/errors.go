package payment

import (
	"errors"
	"fmt"
)

var (
	ErrConversion         = errors.New("currency conversion failed")
	ErrLocalOrderNotFound = errors.New("no local order for payment")
	ErrOrderNotYetKnown   = errors.New("order not yet bound to payment")
	ErrNotPayable         = errors.New("order is not payable")
	ErrNotRefundable      = errors.New("order has no completed capture to refund")
	ErrInvalidSignature   = errors.New("webhook signature verification failed")
)

// Stable machine-readable codes returned to clients.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeConversion        = "CONVERSION_ERROR"
	CodeGatewayAuth       = "GATEWAY_AUTH_ERROR"
	CodeGatewayRequest    = "GATEWAY_REQUEST_ERROR"
	CodeLocalOrderMissing = "LOCAL_ORDER_NOT_FOUND"
	CodeOrderNotFound     = "ORDER_NOT_FOUND"
	CodeNotYetKnown       = "ORDER_NOT_YET_KNOWN"
	CodeNotPayable        = "ORDER_NOT_PAYABLE"
	CodeNotRefundable     = "ORDER_NOT_REFUNDABLE"
	CodeInvalidSignature  = "INVALID_SIGNATURE"
	CodeInvalidEvent      = "INVALID_EVENT"
	CodePaymentFailed     = "PAYMENT_FAILED"
	CodeInternal          = "INTERNAL_ERROR"

	// failure codes recorded on orders that never reached the gateway result
	CodeCheckoutFailed = "CHECKOUT_FAILED"
	CodeOrphaned       = "ORPHANED"
	CodeOrderExpired   = "ORDER_EXPIRED"
)

// DeniedError reports a capture the provider refused. The order has been moved
// to cancelled/failed and Code is the provider issue code kept on the order.
type DeniedError struct {
	Code   string
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("payment denied: %s: %s", e.Code, e.Reason)
	}
	return "payment denied: " + e.Code
}
