package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const (
	EventOrderApproved    = "CHECKOUT.ORDER.APPROVED"
	EventOrderCompleted   = "CHECKOUT.ORDER.COMPLETED"
	EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
	EventCapturePending   = "PAYMENT.CAPTURE.PENDING"
	EventCaptureDeclined  = "PAYMENT.CAPTURE.DECLINED"
	EventCaptureRefunded  = "PAYMENT.CAPTURE.REFUNDED"
	EventCaptureReversed  = "PAYMENT.CAPTURE.REVERSED"
)

var ErrInvalidEvent = errors.New("paypal: invalid webhook event")

type WebhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Summary      string          `json:"summary"`
	CreateTime   string          `json:"create_time"`
	Resource     json.RawMessage `json:"resource"`
}

func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.ID == "" || ev.EventType == "" || len(ev.Resource) == 0 {
		return nil, fmt.Errorf("%w: missing id, event_type or resource", ErrInvalidEvent)
	}
	return &ev, nil
}

// EventTarget is what an event says about a remote order.
type EventTarget struct {
	RemoteOrderID string
	CaptureID     string
	RefundID      string
	CustomID      string
	Amount        Money
	Status        string
	Reason        string
}

type eventResource struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	CustomID      string         `json:"custom_id"`
	Amount        Money          `json:"amount"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	StatusDetails struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID   string `json:"order_id"`
			CaptureID string `json:"capture_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

// Target extracts the remote order id and payment details from the resource.
// Checkout events carry an order resource; payment events carry a capture or
// refund resource that points back to its order through related_ids.
func (e *WebhookEvent) Target() (*EventTarget, error) {
	var r eventResource
	if err := json.Unmarshal(e.Resource, &r); err != nil {
		return nil, fmt.Errorf("%w: resource: %v", ErrInvalidEvent, err)
	}
	t := &EventTarget{Status: r.Status, Reason: r.StatusDetails.Reason, CustomID: r.CustomID, Amount: r.Amount}

	switch e.EventType {
	case EventOrderApproved, EventOrderCompleted:
		t.RemoteOrderID = r.ID
		for _, pu := range r.PurchaseUnits {
			if t.CustomID == "" {
				t.CustomID = pu.CustomID
			}
			if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
				cp := pu.Payments.Captures[0]
				t.CaptureID = cp.ID
				t.Amount = cp.Amount
				if cp.CustomID != "" {
					t.CustomID = cp.CustomID
				}
				break
			}
		}
	case EventCaptureRefunded, EventCaptureReversed:
		t.RefundID = r.ID
		t.RemoteOrderID = r.SupplementaryData.RelatedIDs.OrderID
		t.CaptureID = r.SupplementaryData.RelatedIDs.CaptureID
	default:
		t.CaptureID = r.ID
		t.RemoteOrderID = r.SupplementaryData.RelatedIDs.OrderID
	}
	if t.RemoteOrderID == "" && t.CustomID == "" {
		return nil, fmt.Errorf("%w: no order reference in %s", ErrInvalidEvent, e.EventType)
	}
	return t, nil
}

// SignatureHeaders are the transmission headers PayPal attaches to deliveries.
type SignatureHeaders struct {
	AuthAlgo         string `json:"auth_algo"`
	CertURL          string `json:"cert_url"`
	TransmissionID   string `json:"transmission_id"`
	TransmissionSig  string `json:"transmission_sig"`
	TransmissionTime string `json:"transmission_time"`
}

func SignatureHeadersFrom(h http.Header) SignatureHeaders {
	return SignatureHeaders{
		AuthAlgo:         h.Get("Paypal-Auth-Algo"),
		CertURL:          h.Get("Paypal-Cert-Url"),
		TransmissionID:   h.Get("Paypal-Transmission-Id"),
		TransmissionSig:  h.Get("Paypal-Transmission-Sig"),
		TransmissionTime: h.Get("Paypal-Transmission-Time"),
	}
}

func (s SignatureHeaders) Complete() bool {
	return s.AuthAlgo != "" && s.CertURL != "" && s.TransmissionID != "" && s.TransmissionSig != "" && s.TransmissionTime != ""
}

type verifyRequest struct {
	SignatureHeaders
	WebhookID    string          `json:"webhook_id"`
	WebhookEvent json.RawMessage `json:"webhook_event"`
}

// VerifyWebhookSignature asks PayPal to check a delivery against webhookID.
func (c *Client) VerifyWebhookSignature(ctx context.Context, token *AccessToken, webhookID string, headers SignatureHeaders, body []byte) (bool, error) {
	if !headers.Complete() {
		return false, nil
	}
	if !json.Valid(body) {
		return false, nil
	}
	in := verifyRequest{SignatureHeaders: headers, WebhookID: webhookID, WebhookEvent: json.RawMessage(body)}
	_, raw, err := c.call(ctx, "verify webhook", http.MethodPost, "/v1/notifications/verify-webhook-signature", token, "", in)
	if err != nil {
		return false, err
	}
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, fmt.Errorf("%w: verify webhook", ErrMalformedResponse)
	}
	return out.VerificationStatus == "SUCCESS", nil
}
