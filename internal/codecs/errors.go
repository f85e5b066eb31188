// Package codecs extracts decoder configuration from codec initialization
// data and builds the derived identifiers streams are announced with: RFC
// 6381 codec strings, coded resolutions, audio parameters, and NAL unit
// framing helpers.
//
// Parse failures carry two independent classifications: whether the data
// violates its own format (ErrMalformed) or is well formed but uses a
// feature this package does not handle (ErrUnsupported), and which kind of
// data was being parsed (ParseError.Kind). Bit cursor precondition
// violations are caller bugs and stay panics; they are never reported as
// data errors.
package codecs

import (
	"errors"
	"fmt"
)

// Sentinel causes for parse failures. Callers distinguish them with
// errors.Is through any ParseError wrapping.
var (
	ErrMalformed   = errors.New("codecs: malformed data")
	ErrUnsupported = errors.New("codecs: unsupported feature")
)

// ParseError records which kind of data a parse failure concerns. It wraps
// an error chain containing ErrMalformed or ErrUnsupported.
type ParseError struct {
	Kind string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("codecs: parse %s: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func malformed(kind, detail string) error {
	return &ParseError{Kind: kind, Err: fmt.Errorf("%w: %s", ErrMalformed, detail)}
}

func unsupported(kind, detail string) error {
	return &ParseError{Kind: kind, Err: fmt.Errorf("%w: %s", ErrUnsupported, detail)}
}
