package api

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component. Wrap these with fmt.Errorf("...: %w")
// and classify with Code.
var (
	// ErrUnauthenticated is returned when a request carries no caller identity.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidArgument is returned for malformed input or missing required fields.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUpstream is returned when the aggregator or extraction service fails.
	ErrUpstream = errors.New("upstream failure")

	// ErrLoginRequired is returned when the aggregator needs the user to re-authenticate.
	ErrLoginRequired = fmt.Errorf("%w: login required", ErrUpstream)

	// ErrPersistence is returned when the store fails to read or write.
	ErrPersistence = errors.New("persistence failure")

	// ErrNotFound is returned for an unknown account, transaction or receipt.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a link write loses to an earlier link.
	ErrConflict = errors.New("conflict")
)

// Error codes returned to callers.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeInvalidArgument = "invalid_argument"
	CodeLoginRequired   = "login_required"
	CodeUpstream        = "upstream_failure"
	CodePersistence     = "persistence_failure"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeInternal        = "internal"
)

// Code maps an error to its stable caller-facing code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrLoginRequired):
		return CodeLoginRequired
	case errors.Is(err, ErrUpstream):
		return CodeUpstream
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}
