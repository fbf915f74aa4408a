package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// UpstreamAPIError is returned for any failure talking to GitHub: transport
// errors, timeouts, non-success statuses, OAuth error bodies and malformed bodies.
type UpstreamAPIError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamAPIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "github %s failed", e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " with status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *UpstreamAPIError) Unwrap() error {
	return e.Err
}

// IsUpstreamError reports whether err is or wraps an *UpstreamAPIError.
func IsUpstreamError(err error) bool {
	var upstreamErr *UpstreamAPIError
	return errors.As(err, &upstreamErr)
}

// fromExchangeError converts errors from the oauth2 token endpoint round trip.
func fromExchangeError(err error) *UpstreamAPIError {
	upstreamErr := &UpstreamAPIError{Op: OpExchangeCode, Err: err}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil {
			upstreamErr.StatusCode = retrieveErr.Response.StatusCode
		}
		switch {
		case retrieveErr.ErrorDescription != "":
			upstreamErr.Message = retrieveErr.ErrorDescription
		case retrieveErr.ErrorCode != "":
			upstreamErr.Message = retrieveErr.ErrorCode
		}
	}

	return upstreamErr
}

// errorMessage pulls the "message" field out of a GitHub error body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
