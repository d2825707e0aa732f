package store

import (
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ILockStore persists at most one lock descriptor per resource.
//
// Every read consults the backing medium again; implementations must not cache
// descriptors between calls because other processes may change them at any time.
// Stale and malformed descriptors are never returned: Read removes them and
// reports the resource as absent.
type ILockStore interface {
	// Read returns the valid descriptor for a resource. The boolean is false if the
	// resource is unlocked, including the case where a stale or corrupted descriptor
	// was found and removed by this call.
	Read(resource string) (desc Descriptor, found bool, err error)
	// Create stores a descriptor only if no representation exists for the resource.
	// It is the single concurrency primitive of the lock system: of any number of
	// concurrent callers at most one observes created == true.
	// No error is returned if the resource already exists.
	Create(resource string, desc Descriptor) (created bool, err error)
	// Renew advances LockedAt of a valid descriptor held by holder. It reports false
	// if the resource is unlocked, stale or held by someone else.
	Renew(resource, holder string, at time.Time) (renewed bool, err error)
	// Remove deletes the descriptor if it is held by holder. It reports true if the
	// resource is unlocked afterwards, false if it is held by a different holder.
	Remove(resource, holder string) (released bool, err error)
	// Delete removes the representation unconditionally. Deleting an absent
	// resource is not an error.
	Delete(resource string) (err error)
	// List returns every resource that currently has a representation. The result is
	// not filtered for staleness.
	List() (resources []string, err error)
	// Sweep removes every stale or malformed descriptor and returns how many were removed.
	Sweep() (removed int, err error)
}

// Options configure how a store judges descriptors.
type Options struct {
	// DefaultTimeout is the lease applied to descriptors that carry no timeout.
	DefaultTimeout time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultLeaseTimeout is the lease used when neither the caller nor the descriptor specify one.
const DefaultLeaseTimeout = 300 * time.Second

// WithDefaults returns a copy of the options with unset fields filled in.
func (o Options) WithDefaults() Options {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultLeaseTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ValidateResource checks that a resource name can be used as a file name inside the
// lock directory.
func ValidateResource(resource string) error {
	switch {
	case resource == "":
		return NewError(RetCInvalidResource, "resource name is empty")
	case resource == "." || resource == "..":
		return NewError(RetCInvalidResource, fmt.Sprintf("resource name %q is reserved", resource))
	case strings.HasPrefix(resource, "."):
		return NewError(RetCInvalidResource, fmt.Sprintf("resource name %q must not start with a dot", resource))
	case strings.ContainsAny(resource, `/\`+"\x00"):
		return NewError(RetCInvalidResource, fmt.Sprintf("resource name %q contains a path separator", resource))
	}
	return nil
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and optionally the underlying cause.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The underlying cause, if any.
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInternalError:
		errorCode = "InternalError"
	case RetCInvalidResource:
		errorCode = "InvalidResource"
	case RetCIOError:
		errorCode = "IOError"
	default:
		errorCode = "Unknown"
	}

	if e.Err != nil {
		return fmt.Sprintf("LockStoreError (code %s): %s: %v", errorCode, e.Msg, e.Err)
	}
	return fmt.Sprintf("LockStoreError (code %s): %s", errorCode, e.Msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new LockStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new LockStoreError with the given code and message wrapping err.
func WrapError(code RetCode, msg string, err error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  err,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess         RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                  // 1: Operation failed due to an internal error.
	RetCInvalidResource                // 2: The resource name cannot be stored.
	RetCIOError                        // 3: The backing medium failed.
)
