package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

type OrderStatus string

const (
	OrderCreated        OrderStatus = "CREATED"
	OrderSaved          OrderStatus = "SAVED"
	OrderApproved       OrderStatus = "APPROVED"
	OrderVoided         OrderStatus = "VOIDED"
	OrderCompleted      OrderStatus = "COMPLETED"
	OrderPayerActionReq OrderStatus = "PAYER_ACTION_REQUIRED"
)

// Issue codes PayPal reports on capture.
const (
	IssueAlreadyCaptured    = "ORDER_ALREADY_CAPTURED"
	IssueNotApproved        = "ORDER_NOT_APPROVED"
	IssueInstrumentDeclined = "INSTRUMENT_DECLINED"
	IssuePayerActionReq     = "PAYER_ACTION_REQUIRED"
	IssueTransactionRefused = "TRANSACTION_REFUSED"
	IssueComplianceHold     = "COMPLIANCE_VIOLATION"
	IssueOrderExpired       = "ORDER_EXPIRED"
	IssueResourceNotFound   = "RESOURCE_NOT_FOUND"
	IssueCaptureDeclined    = "CAPTURE_DECLINED"
)

type CreateOrderRequest struct {
	Amount      Money
	ReferenceID string
	ReturnURL   string
	CancelURL   string
	BrandName   string
	Description string
}

type RemoteOrder struct {
	ID          string
	Status      OrderStatus
	ApprovalURL string
}

type link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type capture struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Amount        Money  `json:"amount"`
	CustomID      string `json:"custom_id"`
	CreateTime    string `json:"create_time"`
	StatusDetails struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id,omitempty"`
	CustomID    string `json:"custom_id,omitempty"`
	InvoiceID   string `json:"invoice_id,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      *Money `json:"amount,omitempty"`
	Payments    *struct {
		Captures []capture `json:"captures"`
	} `json:"payments,omitempty"`
}

type orderBody struct {
	ID            string         `json:"id"`
	Status        OrderStatus    `json:"status"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	Links         []link         `json:"links"`
}

type applicationContext struct {
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
	BrandName          string `json:"brand_name,omitempty"`
	UserAction         string `json:"user_action"`
	ShippingPreference string `json:"shipping_preference"`
}

type createOrderBody struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []purchaseUnit     `json:"purchase_units"`
	ApplicationContext applicationContext `json:"application_context"`
}

// CreateOrder opens a remote order with intent CAPTURE. The reference id doubles
// as the idempotency key so a retried create returns the same remote order.
func (c *Client) CreateOrder(ctx context.Context, token *AccessToken, in CreateOrderRequest) (*RemoteOrder, error) {
	amount := in.Amount
	body := createOrderBody{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: in.ReferenceID,
			CustomID:    in.ReferenceID,
			InvoiceID:   in.ReferenceID,
			Description: in.Description,
			Amount:      &amount,
		}},
		ApplicationContext: applicationContext{
			ReturnURL:          in.ReturnURL,
			CancelURL:          in.CancelURL,
			BrandName:          in.BrandName,
			UserAction:         "PAY_NOW",
			ShippingPreference: "NO_SHIPPING",
		},
	}
	_, raw, err := c.call(ctx, "create order", http.MethodPost, "/v2/checkout/orders", token, "create-"+in.ReferenceID, body)
	if err != nil {
		return nil, err
	}
	var ob orderBody
	if err := json.Unmarshal(raw, &ob); err != nil || ob.ID == "" {
		return nil, fmt.Errorf("%w: create order", ErrMalformedResponse)
	}
	ro := &RemoteOrder{ID: ob.ID, Status: ob.Status}
	for _, l := range ob.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			ro.ApprovalURL = l.Href
			break
		}
	}
	if ro.ApprovalURL == "" {
		return nil, fmt.Errorf("%w: no approval link for %s", ErrMalformedResponse, ob.ID)
	}
	return ro, nil
}

type CaptureStatus string

const (
	CaptureCompleted       CaptureStatus = "COMPLETED"
	CaptureAlreadyCaptured CaptureStatus = "ALREADY_CAPTURED"
	CapturePending         CaptureStatus = "PENDING"
	CaptureDeclined        CaptureStatus = "DECLINED"
	CaptureRejected        CaptureStatus = "REJECTED"
)

// CaptureResult is the decoded outcome of a capture attempt or of a lookup of a
// remote order. Business refusals are results, not errors.
type CaptureResult struct {
	Status      CaptureStatus
	RemoteID    string
	RemoteState OrderStatus
	CaptureID   string
	Amount      Money
	CustomID    string
	Reason      string
	IssueCode   string
	Message     string
	DebugID     string
	Raw         json.RawMessage
}

// CaptureOrder captures an approved remote order. Capturing the same remote id
// twice yields CaptureAlreadyCaptured rather than an error.
func (c *Client) CaptureOrder(ctx context.Context, token *AccessToken, remoteID string) (*CaptureResult, error) {
	path := "/v2/checkout/orders/" + url.PathEscape(remoteID) + "/capture"
	_, raw, err := c.call(ctx, "capture order", http.MethodPost, path, token, "capture-"+remoteID, nil)
	if err != nil {
		var re *RequestError
		if errors.As(err, &re) && (re.StatusCode == http.StatusUnprocessableEntity || re.StatusCode == http.StatusNotFound) {
			return rejectedCapture(remoteID, re), nil
		}
		return nil, err
	}
	return decodeCapture(remoteID, raw)
}

// GetOrder reads the current remote order, with capture details when present.
func (c *Client) GetOrder(ctx context.Context, token *AccessToken, remoteID string) (*CaptureResult, error) {
	path := "/v2/checkout/orders/" + url.PathEscape(remoteID)
	_, raw, err := c.call(ctx, "get order", http.MethodGet, path, token, "", nil)
	if err != nil {
		var re *RequestError
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			return rejectedCapture(remoteID, re), nil
		}
		return nil, err
	}
	return decodeCapture(remoteID, raw)
}

func rejectedCapture(remoteID string, re *RequestError) *CaptureResult {
	res := &CaptureResult{
		Status:    CaptureRejected,
		RemoteID:  remoteID,
		IssueCode: re.Issue,
		Message:   re.Message,
		DebugID:   re.DebugID,
		Raw:       re.Raw,
	}
	if res.IssueCode == "" {
		res.IssueCode = re.Name
	}
	if re.StatusCode == http.StatusNotFound && res.IssueCode == "" {
		res.IssueCode = IssueResourceNotFound
	}
	if res.IssueCode == IssueAlreadyCaptured {
		res.Status = CaptureAlreadyCaptured
	}
	return res
}

func decodeCapture(remoteID string, raw []byte) (*CaptureResult, error) {
	var ob orderBody
	if err := json.Unmarshal(raw, &ob); err != nil {
		return nil, fmt.Errorf("%w: order body", ErrMalformedResponse)
	}
	res := &CaptureResult{RemoteID: remoteID, RemoteState: ob.Status, Raw: json.RawMessage(raw)}
	if ob.ID != "" {
		res.RemoteID = ob.ID
	}
	var cp *capture
	for i := range ob.PurchaseUnits {
		pu := ob.PurchaseUnits[i]
		if res.CustomID == "" {
			res.CustomID = pu.CustomID
		}
		if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			cp = &pu.Payments.Captures[0]
			break
		}
	}
	if cp == nil {
		switch ob.Status {
		case OrderVoided:
			res.Status = CaptureRejected
			res.IssueCode = IssueOrderExpired
		case OrderCompleted:
			return nil, fmt.Errorf("%w: completed order %s without capture", ErrMalformedResponse, res.RemoteID)
		default:
			res.Status = CapturePending
			res.Reason = string(ob.Status)
		}
		return res, nil
	}

	res.CaptureID = cp.ID
	res.Amount = cp.Amount
	res.Reason = cp.StatusDetails.Reason
	if cp.CustomID != "" {
		res.CustomID = cp.CustomID
	}
	switch cp.Status {
	case "COMPLETED":
		res.Status = CaptureCompleted
	case "PENDING":
		res.Status = CapturePending
	case "DECLINED", "FAILED":
		res.Status = CaptureDeclined
		res.IssueCode = IssueCaptureDeclined
	case "REFUNDED", "PARTIALLY_REFUNDED":
		res.Status = CaptureCompleted
	default:
		res.Status = CaptureRejected
		res.IssueCode = cp.Status
	}
	return res, nil
}

type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Money  `json:"amount"`
}

// RefundCapture refunds a capture in full.
func (c *Client) RefundCapture(ctx context.Context, token *AccessToken, captureID, requestID string) (*Refund, error) {
	path := "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund"
	_, raw, err := c.call(ctx, "refund capture", http.MethodPost, path, token, requestID, struct{}{})
	if err != nil {
		return nil, err
	}
	var r Refund
	if err := json.Unmarshal(raw, &r); err != nil || r.ID == "" {
		return nil, fmt.Errorf("%w: refund", ErrMalformedResponse)
	}
	return &r, nil
}
