package hubspot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Kind classifies a failed API call so callers can branch without inspecting messages.
type Kind int

const (
	KindTransport Kind = iota
	KindAuthExpired
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindAuthExpired:
		return "auth_expired"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "transport"
	}
}

// APIError is returned by every Client method that fails after reaching, or trying to reach, the API.
type APIError struct {
	Status        int
	Kind          Kind
	Category      string
	Message       string
	CorrelationID string
	Endpoint      string
	Err           error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status == 0 {
		return fmt.Sprintf("hubspot %s: %s: %s", e.Endpoint, e.Kind, msg)
	}
	return fmt.Sprintf("hubspot %s: %s (status %d): %s", e.Endpoint, e.Kind, e.Status, msg)
}

func (e *APIError) Unwrap() error { return e.Err }

// KindOf returns the kind of an APIError in err's chain, or KindTransport.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransport
}

func IsAuthExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindAuthExpired
}

func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindRateLimited
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthExpired
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindTransport
	}
}

// checkResponse turns a >= 400 response into an *APIError. The body is consumed but not closed.
func checkResponse(endpoint string, resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode, Kind: kindForStatus(resp.StatusCode), Endpoint: endpoint}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message       string `json:"message"`
		Category      string `json:"category"`
		CorrelationID string `json:"correlationId"`
	}
	if err := json.Unmarshal(b, &body); err == nil {
		apiErr.Message = body.Message
		apiErr.Category = body.Category
		apiErr.CorrelationID = body.CorrelationID
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
