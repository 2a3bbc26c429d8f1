package types

import "errors"

var (
	// ErrUpstream indicates a transient provider-side failure.
	ErrUpstream = errors.New("tubedrift: upstream error")
	// ErrNotFound indicates the provider does not know the requested entity.
	ErrNotFound = errors.New("tubedrift: not found")
	// ErrInternal indicates an unexpected failure inside tubedrift.
	ErrInternal = errors.New("tubedrift: internal error")
	// ErrInvalidRequest indicates a request that cannot be served as given,
	// such as an empty query.
	ErrInvalidRequest = errors.New("tubedrift: invalid request")
)

// ErrorCode is the wire name of an error class.
type ErrorCode string

const (
	CodeUpstream ErrorCode = "upstream"
	CodeNotFound ErrorCode = "not_found"
	CodeInternal ErrorCode = "internal"
	CodeInvalid  ErrorCode = "invalid_request"
)

// Code classifies err. Anything not wrapping one of the known sentinels is
// internal.
func Code(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUpstream):
		return CodeUpstream
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalid
	default:
		return CodeInternal
	}
}
