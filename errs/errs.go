// Package errs defines the stable, machine-readable error kinds surfaced by
// the boundary. Every failure that crosses the HTTP surface carries one of
// these kinds in the response's "error" field alongside its HTTP status.
package errs

import (
	"fmt"
	"regexp"
)

// Input / validation kinds.
const (
	KindInvalidPayload     = "invalid_payload"
	KindInvalidManifest    = "invalid_manifest"
	KindInvalidInput       = "invalid_input"
	KindInvalidInputShape  = "invalid_input_payload"
	KindInvalidReason      = "invalid_reason"
	KindInvalidLimit       = "invalid_limit"
	KindInvalidSince       = "invalid_since"
	KindInvalidSecretValue = "invalid_secret_value"
	KindInvalidUsername    = "invalid_username"
	KindInvalidPassword    = "invalid_password"
)

// Auth kinds.
const (
	KindInvalidRuntimeKeyFormat = "invalid_runtime_key_format"
	KindUnknownRuntimeKey       = "unknown_runtime_key"
	KindInvalidRuntimeKey       = "invalid_runtime_key"
	KindMissingRuntimeConfig    = "missing_runtime_config"
	KindMissingHmacSecret       = "missing_hmac_secret"
	KindInvalidTimestamp        = "invalid_timestamp"
	KindStaleTimestamp          = "stale_timestamp"
	KindInvalidBodyHash         = "invalid_body_hash"
	KindInvalidSignature        = "invalid_signature"
	KindMissingSecret           = "missing_secret"
	KindMissingAdminSession     = "missing_admin_session"
	KindInvalidAdminSession     = "invalid_admin_session"
	KindExpiredAdminSession     = "expired_admin_session"
	KindInvalidCsrfToken        = "invalid_csrf_token"
	KindInvalidBootstrapToken   = "invalid_bootstrap_token"
	KindInvalidCredentials      = "invalid_credentials"
	KindLoginLocked             = "login_locked"
	KindAdminAlreadyInitialized = "admin_already_initialized"
	KindInvalidOrExpiredCode    = "invalid_or_expired_code"
)

// Registry kinds.
const (
	KindProposalNotFound       = "proposal_not_found"
	KindAdapterNotFound        = "adapter_not_found"
	KindRevisionOutdated       = "revision_outdated"
	KindRevisionConflict       = "revision_conflict"
	KindMissingRequiredSecrets = "missing_required_secrets"
)

// Proxy kinds.
const (
	KindActionNotAllowed = "action_not_allowed"
	KindBodyTooLarge     = "body_too_large"
	KindRateLimited      = "rate_limited"
	KindHostNotAllowed   = "host_not_allowed"
	KindUpstreamError    = "upstream_error"
)

// Infrastructure kinds.
const (
	KindMissingKvBinding     = "missing_kv_binding"
	KindCorruptPairingRecord = "corrupt_pairing_record"
	KindInternal             = "internal_error"
)

// Error is the tagged failure variant every component returns. Kind is one of
// the constants above, Status is the HTTP status the router maps it to, and
// Details carries kind-specific structured context (validation errors, missing
// secret lists, upstream status codes).
type Error struct {
	Kind    string
	Status  int
	Message string
	Details map[string]interface{}
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New returns an Error with the given kind and status.
func New(kind string, status int) *Error {
	return &Error{Kind: kind, Status: status}
}

// NewMsg returns an Error carrying a human-readable message. The message is
// passed through Sanitize before it can leave the boundary.
func NewMsg(kind string, status int, msg string) *Error {
	return &Error{Kind: kind, Status: status, Message: Sanitize(msg)}
}

// WithDetail attaches one structured detail entry.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// As extracts a boundary error from err, or wraps err as internal_error.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if be, ok := err.(*Error); ok {
		return be
	}
	return NewMsg(KindInternal, 500, err.Error())
}

var secretPattern = regexp.MustCompile(`(?i)secret`)

// Sanitize replaces any substring matching /secret/i with [redacted] so
// infrastructure failures cannot leak secret material through error text.
func Sanitize(msg string) string {
	return secretPattern.ReplaceAllString(msg, "[redacted]")
}
