// Package apperr defines the error taxonomy shared by the checkout services and the
// HTTP layer.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindNotFound
	KindConflict
	KindUpstream
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind onto its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error codes surfaced to clients.
const (
	CodeInvalidAddress       = "INVALID_ADDRESS"
	CodeEmptyCart            = "EMPTY_CART"
	CodeInvalidItem          = "INVALID_ITEM"
	CodeTooManyItems         = "TOO_MANY_ITEMS"
	CodeAddressPersistFailed = "ADDRESS_PERSIST_FAILED"
	CodeOrderPersistFailed   = "ORDER_PERSIST_FAILED"
	CodeItemsPersistFailed   = "ITEMS_PERSIST_FAILED"
	CodeTotalMismatch        = "TOTAL_MISMATCH"
	CodeDiscountRejected     = "DISCOUNT_REJECTED"
	CodeInvalidOrderCode     = "INVALID_ORDER_CODE"
	CodeOrderNotFound        = "ORDER_NOT_FOUND"
	CodeOrderNotPayable      = "ORDER_NOT_PAYABLE"
	CodeGatewayError         = "PAYMENT_GATEWAY_ERROR"
	CodeInvalidPayload       = "INVALID_PAYLOAD"
	CodeSignatureMismatch    = "SIGNATURE_MISMATCH"
	CodeReconcileFailed      = "RECONCILE_FAILED"
	CodeUnauthenticated      = "UNAUTHENTICATED"
	CodeForbidden            = "FORBIDDEN"
	CodeCartPersistFailed    = "CART_PERSIST_FAILED"
	CodeDiscountLookup       = "DISCOUNT_LOOKUP_FAILED"
	CodePriceLookup          = "PRICE_LOOKUP_FAILED"
)

// Error is a classified failure carrying a stable code and an optional cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code so callers can compare against prototypes.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithDetail returns a copy of e carrying an extra detail entry.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// New constructs an error without a cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an error around cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// Validation, Conflict and friends are shorthands for the common kinds.
func Validation(code, message string) *Error { return New(KindValidation, code, message) }

func Conflict(code, message string) *Error { return New(KindConflict, code, message) }

func NotFound(code, message string) *Error { return New(KindNotFound, code, message) }

func Persistence(code, message string, cause error) *Error {
	return Wrap(KindPersistence, code, message, cause)
}

func Upstream(code, message string, cause error) *Error {
	return Wrap(KindUpstream, code, message, cause)
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the code of err, or the empty string.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}
