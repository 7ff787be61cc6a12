package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport marks network and HTTP level failures talking to a provider.
	ErrTransport = errors.New("provider transport error")

	// ErrMalformedResponse is returned when a response has no usable item list.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// HTTPError is a non-2xx response from a provider.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider API error (status %d): %s", e.StatusCode, truncate(string(e.Body), 512))
}

// Is lets callers match any HTTP failure with errors.Is(err, ErrTransport).
func (e *HTTPError) Is(target error) bool {
	return target == ErrTransport
}

// IsRateLimited reports whether err is a 429 from the provider.
func IsRateLimited(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests
}

// ErrorPayload returns the raw error payload to keep on a run summary: the
// provider's JSON error body when there is one, otherwise the error message.
func ErrorPayload(err error) json.RawMessage {
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && json.Valid(httpErr.Body) {
		return json.RawMessage(httpErr.Body)
	}
	payload, mErr := json.Marshal(map[string]string{"message": err.Error()})
	if mErr != nil {
		return nil
	}
	return payload
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
