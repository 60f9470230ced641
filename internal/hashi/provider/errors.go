package provider

import (
	"errors"
	"fmt"
)

// ErrUnknownProvider is returned by Gateway.Complete when the requested
// provider is not present in the registry. No network call has been made.
// Callers should use errors.Is to distinguish this expected case from
// upstream failures.
var ErrUnknownProvider = errors.New("unknown AI provider")

// Category classifies an upstream failure at the point the HTTP response is
// parsed, so callers never have to re-derive the class from error text.
type Category string

const (
	// CategoryInvalidCredential means the provider rejected the API key.
	CategoryInvalidCredential Category = "invalid-credential"
	// CategoryInsufficientCredit means the account has no credit balance.
	CategoryInsufficientCredit Category = "insufficient-credit"
	// CategoryQuotaExceeded means the account hit its usage quota or is
	// being rate-limited upstream.
	CategoryQuotaExceeded Category = "quota-exceeded"
	// CategoryNetwork means the request never produced an HTTP response.
	CategoryNetwork Category = "network"
	// CategoryGeneric covers every other upstream failure.
	CategoryGeneric Category = "generic"
)

// UpstreamError describes a failed completion call, carrying the richest
// error detail the provider reported. Message and Code prefer the provider's
// nested error object over top-level fields over the bare HTTP status.
type UpstreamError struct {
	Category   Category
	Message    string
	Code       string
	HTTPStatus int
}

// Error renders the single descriptive string relayed to the operator log.
// User-facing chat replies are selected by Category instead.
func (e *UpstreamError) Error() string {
	status := "unknown"
	if e.HTTPStatus > 0 {
		status = fmt.Sprintf("%d", e.HTTPStatus)
	}
	return fmt.Sprintf("API request failed: %s (code: %s, status: %s)", e.Message, e.Code, status)
}

// AsUpstream unwraps err into an *UpstreamError when possible.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
