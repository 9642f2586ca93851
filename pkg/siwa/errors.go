package siwa

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned to clients. These are stable API values, not HTTP status codes.
const (
	// Input errors.
	ErrCodeInvalidAddress      = "INVALID_ADDRESS"
	ErrCodeMissingField        = "MISSING_FIELD"
	ErrCodeInvalidRegistry     = "INVALID_REGISTRY"
	ErrCodeUnsupportedRegistry = "UNSUPPORTED_REGISTRY"

	// ErrCodeNotRegistered indicates the oracle denies the claimed identity.
	ErrCodeNotRegistered = "NOT_REGISTERED"

	// Crypto verification errors; the client must restart the nonce flow.
	ErrCodeInvalidNonce       = "INVALID_NONCE"
	ErrCodeNonceExpired       = "NONCE_EXPIRED"
	ErrCodeNonceReplayed      = "NONCE_REPLAYED"
	ErrCodeMessageMismatch    = "MESSAGE_MISMATCH"
	ErrCodeDomainMismatch     = "DOMAIN_MISMATCH"
	ErrCodeAddressMismatch    = "ADDRESS_MISMATCH"
	ErrCodeVerificationFailed = "VERIFICATION_FAILED"
	ErrCodeInvalidReceipt     = "INVALID_RECEIPT"
	ErrCodeReceiptExpired     = "RECEIPT_EXPIRED"

	// ErrCodePolicyUnmet indicates an authentic identity that does not meet the trust bar.
	ErrCodePolicyUnmet = "POLICY_UNMET"

	// ErrCodeServerMisconfigured indicates a deployment precondition is missing.
	ErrCodeServerMisconfigured = "SERVER_MISCONFIGURED"

	// Upstream errors.
	ErrCodeOracleUnavailable = "ORACLE_UNAVAILABLE"
	ErrCodeReplayUnavailable = "REPLAY_CHECK_UNAVAILABLE"
)

// Kind groups error codes by how callers should react to them.
type Kind int

const (
	// KindInput is a malformed or missing field. Never retried.
	KindInput Kind = iota + 1
	// KindNotRegistered means the onchain precondition is unmet. The caller must register.
	KindNotRegistered
	// KindCrypto means a token, message or signature check failed. The caller must request a new nonce.
	KindCrypto
	// KindPolicy means the identity is authentic but below the trust bar.
	KindPolicy
	// KindConfiguration requires operator action.
	KindConfiguration
	// KindUpstream is an oracle or replay store failure.
	KindUpstream
)

var codeKinds = map[string]Kind{
	ErrCodeInvalidAddress:      KindInput,
	ErrCodeMissingField:        KindInput,
	ErrCodeInvalidRegistry:     KindInput,
	ErrCodeUnsupportedRegistry: KindInput,
	ErrCodeNotRegistered:       KindNotRegistered,
	ErrCodeInvalidNonce:        KindCrypto,
	ErrCodeNonceExpired:        KindCrypto,
	ErrCodeNonceReplayed:       KindCrypto,
	ErrCodeMessageMismatch:     KindCrypto,
	ErrCodeDomainMismatch:      KindCrypto,
	ErrCodeAddressMismatch:     KindCrypto,
	ErrCodeVerificationFailed:  KindCrypto,
	ErrCodeInvalidReceipt:      KindCrypto,
	ErrCodeReceiptExpired:      KindCrypto,
	ErrCodePolicyUnmet:         KindPolicy,
	ErrCodeServerMisconfigured: KindConfiguration,
	ErrCodeOracleUnavailable:   KindUpstream,
	ErrCodeReplayUnavailable:   KindUpstream,
}

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "InputError"
	case KindNotRegistered:
		return "NotRegisteredError"
	case KindCrypto:
		return "CryptoVerificationError"
	case KindPolicy:
		return "PolicyError"
	case KindConfiguration:
		return "ConfigurationError"
	case KindUpstream:
		return "UpstreamError"
	default:
		return "UnknownError"
	}
}

// HTTPStatus maps the kind to the status code used at the HTTP boundary.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInput:
		return http.StatusBadRequest
	case KindNotRegistered, KindPolicy:
		return http.StatusForbidden
	case KindCrypto:
		return http.StatusUnauthorized
	case KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is an authentication error carrying a stable code.
type Error struct {
	// Code is one of the ErrCode* values.
	Code string

	// Message is a human-readable, client-safe description.
	Message string

	// Cause is the underlying error, if any. It is never sent to clients.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target error code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Kind returns the taxonomy kind of the error code.
func (e *Error) Kind() Kind {
	if k, ok := codeKinds[e.Code]; ok {
		return k
	}
	return KindConfiguration
}

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a new Error that wraps an underlying error.
func WrapError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinel errors for use with errors.Is.
var (
	ErrInvalidAddress      = NewError(ErrCodeInvalidAddress, "address is not a valid account address")
	ErrMissingField        = NewError(ErrCodeMissingField, "required field is missing")
	ErrInvalidRegistry     = NewError(ErrCodeInvalidRegistry, "agentRegistry must be namespace:chainId:contractAddress")
	ErrUnsupportedRegistry = NewError(ErrCodeUnsupportedRegistry, "agent registry is not served by this server")
	ErrNotRegistered       = NewError(ErrCodeNotRegistered, "agent is not registered onchain")
	ErrInvalidNonce        = NewError(ErrCodeInvalidNonce, "nonce token is invalid")
	ErrNonceExpired        = NewError(ErrCodeNonceExpired, "nonce token has expired")
	ErrNonceReplayed       = NewError(ErrCodeNonceReplayed, "nonce has already been used")
	ErrMessageMismatch     = NewError(ErrCodeMessageMismatch, "message does not match the issued nonce")
	ErrDomainMismatch      = NewError(ErrCodeDomainMismatch, "message was signed for another domain")
	ErrAddressMismatch     = NewError(ErrCodeAddressMismatch, "signer does not match the claimed address")
	ErrVerificationFailed  = NewError(ErrCodeVerificationFailed, "signature verification failed")
	ErrInvalidReceipt      = NewError(ErrCodeInvalidReceipt, "receipt is invalid")
	ErrReceiptExpired      = NewError(ErrCodeReceiptExpired, "receipt has expired")
	ErrPolicyUnmet         = NewError(ErrCodePolicyUnmet, "agent does not meet the verification policy")
	ErrServerMisconfigured = NewError(ErrCodeServerMisconfigured, "Server misconfigured: SIWA secret is not set")
	ErrOracleUnavailable   = NewError(ErrCodeOracleUnavailable, "registration oracle is unavailable")
	ErrReplayUnavailable   = NewError(ErrCodeReplayUnavailable, "nonce replay check is unavailable")
)

// AsError checks if err is an Error and returns it if so.
func AsError(err error) (*Error, bool) {
	var siwaErr *Error
	if errors.As(err, &siwaErr) {
		return siwaErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an Error, or returns empty string.
func GetErrorCode(err error) string {
	if siwaErr, ok := AsError(err); ok {
		return siwaErr.Code
	}
	return ""
}

// KindOf returns the kind of err. Errors that are not *Error are treated as configuration errors.
func KindOf(err error) Kind {
	if siwaErr, ok := AsError(err); ok {
		return siwaErr.Kind()
	}
	return KindConfiguration
}
