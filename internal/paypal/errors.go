package paypal

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedResponse = errors.New("paypal: malformed response")

// AuthError means the provider refused the client credentials.
type AuthError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("paypal auth rejected (%d): %s %s", e.StatusCode, e.Code, e.Description)
}

// RequestError carries a failed provider call. StatusCode is 0 for transport
// failures such as timeouts, in which case Err holds the cause.
type RequestError struct {
	Op         string
	StatusCode int
	Name       string
	Issue      string
	Message    string
	DebugID    string
	Raw        json.RawMessage
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("paypal %s: %v", e.Op, e.Err)
	}
	msg := fmt.Sprintf("paypal %s: status %d %s", e.Op, e.StatusCode, e.Name)
	if e.Issue != "" {
		msg += " (" + e.Issue + ")"
	}
	if e.DebugID != "" {
		msg += " debug_id=" + e.DebugID
	}
	return msg
}

func (e *RequestError) Unwrap() error { return e.Err }

// Transport reports a failure that never produced a provider answer.
func (e *RequestError) Transport() bool { return e.StatusCode == 0 }

// Business reports a 4xx rejection of the request itself.
func (e *RequestError) Business() bool { return e.StatusCode >= 400 && e.StatusCode < 500 }

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func decodeAPIError(op string, status int, body []byte) *RequestError {
	re := &RequestError{Op: op, StatusCode: status, Raw: json.RawMessage(body)}
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil {
		re.Name = ae.Name
		re.Message = ae.Message
		re.DebugID = ae.DebugID
		if len(ae.Details) > 0 {
			re.Issue = ae.Details[0].Issue
			if re.Message == "" {
				re.Message = ae.Details[0].Description
			}
		}
	}
	if !json.Valid(body) {
		re.Raw = nil
	}
	return re
}
