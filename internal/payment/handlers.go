package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/antonminaichev/perfume-checkout/internal/logger"
	orders "github.com/antonminaichev/perfume-checkout/internal/order"
	"github.com/antonminaichev/perfume-checkout/internal/paypal"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	wf     *Workflow
	orders *orders.Service
}

func NewHandler(wf *Workflow, svc *orders.Service) *Handler {
	return &Handler{wf: wf, orders: svc}
}

// Routes are the customer-facing checkout endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/orders", h.Checkout)
	r.Post("/orders/{remoteId}/capture", h.Capture)
	r.Get("/orders/{remoteId}", h.Status)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		logger.Log.Error("payment request failed",
			zap.String("uri", r.RequestURI),
			zap.Error(err),
		)
	}
	resp := errorResponse{Code: code, Message: Message(Language(r.Header.Get("Accept-Language")), code)}
	if status < http.StatusInternalServerError {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

// classify maps workflow errors to an HTTP status and a stable code.
func classify(err error) (int, string) {
	var (
		denied  *DeniedError
		authErr *paypal.AuthError
		reqErr  *paypal.RequestError
	)
	switch {
	case errors.As(err, &denied):
		return http.StatusBadRequest, denied.Code
	case errors.Is(err, orders.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, ErrConversion):
		return http.StatusBadRequest, CodeConversion
	case errors.Is(err, ErrLocalOrderNotFound):
		return http.StatusNotFound, CodeLocalOrderMissing
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound, CodeOrderNotFound
	case errors.Is(err, ErrOrderNotYetKnown):
		return http.StatusServiceUnavailable, CodeNotYetKnown
	case errors.Is(err, ErrNotPayable):
		return http.StatusConflict, CodeNotPayable
	case errors.Is(err, ErrNotRefundable):
		return http.StatusConflict, CodeNotRefundable
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusBadRequest, CodeInvalidSignature
	case errors.Is(err, paypal.ErrInvalidEvent):
		return http.StatusBadRequest, CodeInvalidEvent
	case errors.As(err, &authErr):
		return http.StatusBadGateway, CodeGatewayAuth
	case errors.As(err, &reqErr) && reqErr.Business():
		return http.StatusBadRequest, CodeGatewayRequest
	case errors.As(err, &reqErr) && (reqErr.Transport() || reqErr.StatusCode >= 500):
		return http.StatusBadGateway, CodeGatewayRequest
	}
	return http.StatusInternalServerError, CodeInternal
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.Join(orders.ErrValidation, err))
		return
	}
	res, err := h.wf.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	res, err := h.wf.Capture(r.Context(), chi.URLParam(r, "remoteId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Status == OutcomePending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

type statusResponse struct {
	OrderID       uuid.UUID           `json:"orderId"`
	OrderNumber   string              `json:"orderNumber"`
	State         string              `json:"state"`
	OrderStatus   order.OrderStatus   `json:"orderStatus"`
	PaymentStatus order.PaymentStatus `json:"paymentStatus"`
	CaptureID     string              `json:"captureId,omitempty"`
	FailureCode   string              `json:"failureCode,omitempty"`
	Message       string              `json:"message,omitempty"`
}

// Status lets the storefront poll a payment after the PayPal redirect.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.FindByExternalPaymentID(r.Context(), chi.URLParam(r, "remoteId"))
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			err = ErrLocalOrderNotFound
		}
		writeError(w, r, err)
		return
	}
	resp := statusResponse{
		OrderID:       o.ID,
		OrderNumber:   o.Number,
		State:         State(o),
		OrderStatus:   o.OrderStatus,
		PaymentStatus: o.PaymentStatus,
		CaptureID:     o.Payment.CaptureID,
		FailureCode:   o.Payment.FailureCode,
	}
	if resp.FailureCode != "" {
		resp.Message = Message(Language(r.Header.Get("Accept-Language")), resp.FailureCode)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	outcome, err := h.wf.HandleWebhook(r.Context(), r.Header, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]WebhookOutcome{"status": outcome})
}

type refundRequest struct {
	Reason string `json:"reason"`
}

// Refund is mounted under the admin routes.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	var req refundRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
	}
	o, err := h.wf.Refund(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
