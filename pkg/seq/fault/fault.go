// Package fault is the error taxonomy of a sequence run. Every failure the
// engine reports carries a *Error whose Kind names what went wrong and whose
// fields hold the offending key, code, reason or tag, so a caller can build a
// message without knowing where in the run the failure happened.
package fault

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling. Branch on Kind
// rather than on Error() strings.
type Kind string

const (
	KindInvalidAddress         Kind = "InvalidAddress"
	KindTransportFailed        Kind = "TransportFailed"
	KindHTTPStatus             Kind = "HttpStatus"
	KindStoreKindUnimplemented Kind = "StoreKindUnimplemented"
	KindStoreFailed            Kind = "StoreFailed"
	KindUnsupportedFormat      Kind = "UnsupportedFormat"
	KindNotJSON                Kind = "NotJson"
	KindFieldMissing           Kind = "FieldMissing"
	KindSignatureInvalid       Kind = "SignatureInvalid"
	KindDecodeFailed           Kind = "DecodeFailed"
	KindFatal                  Kind = "Fatal"
)

// Codes shared with HTTP semantics: data problems are the caller's (400),
// configuration and missing implementations are ours (500).
const (
	CodeBadData  = 400
	CodeInternal = 500
)

// Error is the structured error of a sequence run.
//
// Only the fields relevant to Kind are set: Key and Expected for
// FieldMissing, Code and Reason for HttpStatus, Tag for UnsupportedFormat,
// Store for the store kinds, Address for InvalidAddress.
type Error struct {
	Kind     Kind
	Code     int
	Message  string
	Address  string
	Key      string
	Expected string
	Reason   string
	Tag      string
	Store    string
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another *Error of the same Kind, so errors.Is(err,
// &Error{Kind: KindSignatureInvalid}) works as a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func InvalidAddress(address string, cause error) error {
	return &Error{
		Kind:    KindInvalidAddress,
		Code:    CodeInternal,
		Message: fmt.Sprintf("unable to create url: |%s|", address),
		Address: address,
		Cause:   cause,
	}
}

func TransportFailed(cause error) error {
	msg := "transport failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: KindTransportFailed, Code: CodeInternal, Message: msg, Cause: cause}
}

func HTTPStatus(code int, reason string) error {
	return &Error{Kind: KindHTTPStatus, Code: code, Message: reason, Reason: reason}
}

func StoreKindUnimplemented(store string) error {
	return &Error{
		Kind:    KindStoreKindUnimplemented,
		Code:    CodeInternal,
		Message: fmt.Sprintf("|StoreKind| type: |%s| not implemented", store),
		Store:   store,
	}
}

func StoreFailed(store string, cause error) error {
	return &Error{
		Kind:    KindStoreFailed,
		Code:    CodeInternal,
		Message: fmt.Sprintf("store |%s| failed: %v", store, cause),
		Store:   store,
		Cause:   cause,
	}
}

func UnsupportedFormat(tag string) error {
	return &Error{
		Kind:    KindUnsupportedFormat,
		Code:    CodeInternal,
		Message: fmt.Sprintf("|DataFormat| type: |%s| not implemented", tag),
		Tag:     tag,
	}
}

func NotJSON(cause error) error {
	return &Error{Kind: KindNotJSON, Code: CodeBadData, Message: "payload is not a JSON object", Cause: cause}
}

func FieldMissing(key, expected string) error {
	return &Error{
		Kind:     KindFieldMissing,
		Code:     CodeInternal,
		Message:  fmt.Sprintf("failed to unwrap JSON key: |%s| type: |%s|", key, expected),
		Key:      key,
		Expected: expected,
	}
}

func SignatureInvalid() error {
	return &Error{Kind: KindSignatureInvalid, Code: CodeBadData, Message: "failed to verify signature"}
}

func DecodeFailed(details string, cause error) error {
	return &Error{Kind: KindDecodeFailed, Code: CodeBadData, Message: "decode failed: " + details, Cause: cause}
}

func Fatal(msg string, cause error) error {
	return &Error{Kind: KindFatal, Code: CodeInternal, Message: msg, Cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsFatal reports configuration or programming errors that retrying the run
// cannot fix.
func IsFatal(err error) bool {
	return IsKind(err, KindFatal)
}

// Describe renders err as "code: N info: message". Errors outside the
// taxonomy get code 500.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	code := CodeInternal
	var e *Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return fmt.Sprintf("code: %d info: %s", code, err.Error())
}
