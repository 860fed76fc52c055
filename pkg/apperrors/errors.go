// Package apperrors contains the bridge's error taxonomy and helpers to
// classify and map errors at the HTTP/JSON-RPC boundary.
package apperrors

import (
	"errors"
	"net/http"
)

// Category is a closed error taxonomy for the bridge. Every error the
// finalization engine stores in a BridgeLog, and every error returned to
// a caller, carries one of these categories.
type Category int

const (
	// CategoryNone is used when no error occurred.
	CategoryNone Category = iota
	// CategoryBadRequest covers malformed inputs: invalid address, same
	// from/to, unknown chain.
	CategoryBadRequest
	// CategoryBelowThreshold is returned when the amount is under the
	// configured minimum.
	CategoryBelowThreshold
	// CategoryUnauthorized is returned when the caller is not permitted
	// for an authorization-gated call.
	CategoryUnauthorized
	// CategoryDuplicatePending is returned when the request collides
	// with an in-flight intent.
	CategoryDuplicatePending
	// CategoryCircuitOpen is returned when admission is disabled due to
	// too many consecutive error rounds.
	CategoryCircuitOpen
	// CategoryLedgerRejected is returned when the native ledger rejects
	// a transfer or transfer_from call.
	CategoryLedgerRejected
	// CategoryRPCNoQuorum is returned when EVM providers disagree.
	CategoryRPCNoQuorum
	// CategoryRPCProviderError is returned when all EVM providers fail.
	CategoryRPCProviderError
	// CategoryGasPolicyFailure is returned when gas parameters could not
	// be refreshed within the policy window.
	CategoryGasPolicyFailure
	// CategorySigRecoveryFailed is returned when y-parity recovery does
	// not match the derived public key.
	CategorySigRecoveryFailed
	// CategoryConversionOverflow is returned when a decimals conversion
	// would lose precision or overflow.
	CategoryConversionOverflow
	// CategoryInternal covers invariant violations that must never
	// occur; treated as fatal for the current task only.
	CategoryInternal
	// CategoryBlockHeightTooLarge is returned when the native ledger
	// reports a block height that doesn't fit a u64.
	CategoryBlockHeightTooLarge
	// CategoryTransientChainError guards against thundering retries
	// onto a chain with a known-broken pending intent: admission is
	// refused while any pending log's error begins with that chain's
	// name.
	CategoryTransientChainError
)

func (c Category) String() string {
	switch c {
	case CategoryBadRequest:
		return "BadRequest"
	case CategoryBelowThreshold:
		return "BelowThreshold"
	case CategoryUnauthorized:
		return "Unauthorized"
	case CategoryDuplicatePending:
		return "DuplicatePending"
	case CategoryCircuitOpen:
		return "CircuitOpen"
	case CategoryLedgerRejected:
		return "LedgerRejected"
	case CategoryRPCNoQuorum:
		return "RpcNoQuorum"
	case CategoryRPCProviderError:
		return "RpcProviderError"
	case CategoryGasPolicyFailure:
		return "GasPolicyFailure"
	case CategorySigRecoveryFailed:
		return "SigRecoveryFailed"
	case CategoryConversionOverflow:
		return "ConversionOverflow"
	case CategoryInternal:
		return "Internal"
	case CategoryBlockHeightTooLarge:
		return "BlockHeightTooLarge"
	case CategoryTransientChainError:
		return "TransientChainError"
	default:
		return "NoError"
	}
}

// BridgeError is the concrete error type returned across the bridge's
// public surface. It carries a Category for classification plus a
// user-facing Message and the wrapped underlying error, if any.
type BridgeError struct {
	Category Category
	Message  string
	Err      error
}

func (e *BridgeError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *BridgeError) Unwrap() error { return e.Err }

// Is reports whether err is a BridgeError with the same category.
func Is(err error, cat Category) bool {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Category == cat
	}
	return false
}

func newErr(cat Category, message string, err error) error {
	return &BridgeError{Category: cat, Message: message, Err: err}
}

func BadRequest(message string, err error) error {
	return newErr(CategoryBadRequest, message, err)
}

func BelowThreshold(message string) error {
	return newErr(CategoryBelowThreshold, message, nil)
}

func Unauthorized(message string) error {
	return newErr(CategoryUnauthorized, message, nil)
}

func DuplicatePending(message string) error {
	return newErr(CategoryDuplicatePending, message, nil)
}

func CircuitOpen(message string) error {
	return newErr(CategoryCircuitOpen, message, nil)
}

func LedgerRejected(kind string, err error) error {
	return newErr(CategoryLedgerRejected, "ledger rejected: "+kind, err)
}

func RPCNoQuorum(method string) error {
	return newErr(CategoryRPCNoQuorum, "no quorum for "+method, nil)
}

func RPCProviderError(method string, err error) error {
	return newErr(CategoryRPCProviderError, "all providers failed for "+method, err)
}

func GasPolicyFailure(message string, err error) error {
	return newErr(CategoryGasPolicyFailure, message, err)
}

func SigRecoveryFailed(message string) error {
	return newErr(CategorySigRecoveryFailed, message, nil)
}

func ConversionOverflow(message string) error {
	return newErr(CategoryConversionOverflow, message, nil)
}

func Internal(err error) error {
	if err == nil {
		err = errors.New("internal invariant violation")
	}
	return newErr(CategoryInternal, "internal error", err)
}

func BlockHeightTooLarge(message string) error {
	return newErr(CategoryBlockHeightTooLarge, message, nil)
}

func TransientChainError(message string) error {
	return newErr(CategoryTransientChainError, message, nil)
}

// StatusCode returns the HTTP status code appropriate for the error's
// category, for use at the HTTP/JSON-RPC boundary.
func StatusCode(err error) int {
	var be *BridgeError
	if !errors.As(err, &be) {
		return http.StatusInternalServerError
	}
	switch be.Category {
	case CategoryBadRequest, CategoryBelowThreshold, CategoryConversionOverflow:
		return http.StatusBadRequest
	case CategoryUnauthorized:
		return http.StatusUnauthorized
	case CategoryDuplicatePending:
		return http.StatusConflict
	case CategoryCircuitOpen:
		return http.StatusServiceUnavailable
	case CategoryLedgerRejected, CategoryRPCNoQuorum, CategoryRPCProviderError, CategoryGasPolicyFailure, CategoryBlockHeightTooLarge:
		return http.StatusBadGateway
	case CategoryTransientChainError:
		return http.StatusServiceUnavailable
	case CategorySigRecoveryFailed, CategoryInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
