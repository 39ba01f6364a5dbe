// Package core holds the cross-cutting types shared by every subsystem:
// the error taxonomy, observable events, and small request/response shapes
// that external collaborators (UI, AI bridge, RPC servers) see.
package core

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way a caller needs to branch on it (show an
// unlock prompt, retry, surface corruption) without string-matching messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidOperation
	KindIO
	KindSerialization
	KindEncryption
	KindCRDT
	KindSync
	KindMigration
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindIO:
		return "io"
	case KindSerialization:
		return "serialization"
	case KindEncryption:
		return "encryption"
	case KindCRDT:
		return "crdt"
	case KindSync:
		return "sync"
	case KindMigration:
		return "migration"
	default:
		return "unknown"
	}
}

// Error is the common envelope every subsystem returns. Component is the
// short name of the offending package ("store", "sync", "crypto", ...) and
// Entity/ID are populated for NotFound errors.
type Error struct {
	Kind      Kind
	Component string
	Entity    string
	ID        string
	Reason    string
	Err       error
}

func (e *Error) Error() string {
	if e.Entity != "" && e.ID != "" {
		return fmt.Sprintf("%s: %s %s %q", e.Component, e.Kind, e.Entity, e.ID)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, core.ErrNotebookLocked) style sentinel checks
// by comparing Kind and Reason (a target with an empty Reason matches any
// Reason of that Kind), not the formatted message. A target that is not an
// *Error is checked against the wrapped error instead.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind && (t.Reason == "" || e.Reason == t.Reason)
	}
	return errors.Is(e.Err, target)
}

func NotFound(component, entity, id string) *Error {
	return &Error{Kind: KindNotFound, Component: component, Entity: entity, ID: id}
}

// IsNotFound reports whether err (or anything it wraps) is a KindNotFound
// *Error, letting callers branch on "absent" without string-matching.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}

func Invalid(component, reason string) *Error {
	return &Error{Kind: KindInvalidOperation, Component: component, Reason: reason}
}

func IO(component string, err error) *Error {
	return &Error{Kind: KindIO, Component: component, Err: err}
}

func Serialization(component string, err error) *Error {
	return &Error{Kind: KindSerialization, Component: component, Err: err}
}

func Encryption(component, reason string, err error) *Error {
	return &Error{Kind: KindEncryption, Component: component, Reason: reason, Err: err}
}

func Sync(component, reason string, err error) *Error {
	return &Error{Kind: KindSync, Component: component, Reason: reason, Err: err}
}

// Sentinel reasons used with errors.Is via Error.Is above. Components build
// *Error values with these Reason strings rather than returning the
// sentinels directly, so callers always get full context in the message.
var (
	ErrNotebookLocked       = &Error{Kind: KindEncryption, Reason: "notebook_locked"}
	ErrLibraryLocked        = &Error{Kind: KindEncryption, Reason: "library_locked"}
	ErrInvalidPassword      = &Error{Kind: KindEncryption, Reason: "invalid_password"}
	ErrInvalidMagic         = &Error{Kind: KindEncryption, Reason: "invalid_magic"}
	ErrConflictUnresolved   = &Error{Kind: KindSync, Reason: "conflict_unresolved"}
	ErrConflictEncrypted    = &Error{Kind: KindSync, Reason: "conflict_encrypted"}
	ErrSyncAuth             = &Error{Kind: KindSync, Reason: "auth"}
	ErrSyncOffline          = &Error{Kind: KindSync, Reason: "offline"}
	ErrPreconditionFailed   = &Error{Kind: KindSync, Reason: "precondition_failed"}
)
