package commerce

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a missing or invalid credential or setting.
// It is fatal for the caller and never retried.
type ConfigurationError struct {
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case len(e.Missing) > 0 && e.Reason != "":
		return fmt.Sprintf("configuration error: %s: missing %s", e.Reason, strings.Join(e.Missing, ", "))
	case len(e.Missing) > 0:
		return fmt.Sprintf("configuration error: missing %s", strings.Join(e.Missing, ", "))
	default:
		return "configuration error: " + e.Reason
	}
}

// AuthenticationError captures a failed token request. StatusCode is zero when
// the request never got a response (transport failure or timeout).
type AuthenticationError struct {
	Scope      string
	StatusCode int
	Body       string
	Reason     string
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return upstreamMessage("token request for scope "+e.Scope, e.StatusCode, e.Body, e.Reason, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// CatalogFetchError captures a failed or unparsable catalog request.
type CatalogFetchError struct {
	ListID     string
	StatusCode int
	Body       string
	Reason     string
	Err        error
}

func (e *CatalogFetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return upstreamMessage("catalog request for list "+e.ListID, e.StatusCode, e.Body, e.Reason, e.Err)
}

func (e *CatalogFetchError) Unwrap() error { return e.Err }

// ProjectionError means Project was handed a structurally invalid document.
// It signals a programming mistake, not missing catalog data.
type ProjectionError struct {
	Reason string
}

func (e *ProjectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return "projection error: " + e.Reason
}

func upstreamMessage(op string, status int, body, reason string, err error) string {
	var b strings.Builder
	b.WriteString(op)
	b.WriteString(" failed")
	if status != 0 {
		fmt.Fprintf(&b, ": status %d", status)
	}
	if reason != "" {
		b.WriteString(": ")
		b.WriteString(reason)
	}
	if err != nil {
		b.WriteString(": ")
		b.WriteString(err.Error())
	}
	if body != "" {
		b.WriteString(": ")
		b.WriteString(body)
	}
	return b.String()
}
