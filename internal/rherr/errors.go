// Package rherr defines the error taxonomy shared by every core component.
//
// It mirrors the RhemaError enum in the original Rust implementation
// (crates/rhema-core/src/lock.rs and friends) as a small Go struct with a
// Kind tag, so callers can branch on errors.Is/errors.As instead of string
// matching, while every component still wraps with fmt.Errorf("...: %w").
package rherr

import (
	"errors"
	"fmt"
)

// Kind tags the domain-level category of an error, per spec §7.
type Kind string

const (
	KindConfig           Kind = "config_error"
	KindInvalidData      Kind = "invalid_data"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindIntegrity        Kind = "integrity"
	KindResourceExhausted Kind = "resource_exhausted"
	KindTimeout          Kind = "timeout"
	KindBackend          Kind = "backend"
	KindPermission       Kind = "permission"
	KindTransient        Kind = "transient"
)

// Error is the structured error payload every public operation returns on
// failure: a domain tag plus path/key/reason context.
type Error struct {
	Kind   Kind
	Path   string
	Key    string
	Reason string
	Code   string // optional machine-readable sub-code, e.g. "dimension_mismatch"
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Key != "" {
		msg = fmt.Sprintf("%s (key=%s)", msg, e.Key)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, rherr.Sentinel(kind)) checks via a sentinel
// wrapper; see Sentinel.
func (e *Error) Is(target error) bool {
	var k *kindSentinel
	if errors.As(target, &k) {
		return e.Kind == k.kind
	}
	return false
}

// kindSentinel lets callers write errors.Is(err, rherr.Sentinel(KindNotFound)).
type kindSentinel struct{ kind Kind }

func (k *kindSentinel) Error() string { return string(k.kind) }

// Sentinel returns a comparison target for errors.Is(err, rherr.Sentinel(kind)).
func Sentinel(k Kind) error { return &kindSentinel{kind: k} }

func new(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func Config(reason string, err error) *Error      { return new(KindConfig, reason, err) }
func InvalidData(reason string, err error) *Error { return new(KindInvalidData, reason, err) }
func NotFound(reason string, err error) *Error    { return new(KindNotFound, reason, err) }
func Conflict(reason string, err error) *Error    { return new(KindConflict, reason, err) }
func Integrity(reason string, err error) *Error   { return new(KindIntegrity, reason, err) }
func ResourceExhausted(reason string, err error) *Error {
	return new(KindResourceExhausted, reason, err)
}
func Timeout(reason string, err error) *Error    { return new(KindTimeout, reason, err) }
func Backend(reason string, err error) *Error    { return new(KindBackend, reason, err) }
func Permission(reason string, err error) *Error { return new(KindPermission, reason, err) }
func Transient(reason string, err error) *Error  { return new(KindTransient, reason, err) }

// WithPath/WithKey/WithCode return a copy of e with the field set, so call
// sites can chain: rherr.NotFound("scope missing", nil).WithPath(p)
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

func (e *Error) WithKey(key string) *Error {
	c := *e
	c.Key = key
	return &c
}

func (e *Error) WithCode(code string) *Error {
	c := *e
	c.Code = code
	return &c
}

// Of extracts the *Error from err, if any, via errors.As.
func Of(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
