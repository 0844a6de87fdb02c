package codec

import (
	"errors"
	"fmt"
)

// FailureKind classifies a parse failure. The values are contractual: they
// appear verbatim as the reason on rejected data-flow events.
type FailureKind string

// Parse failure taxonomy.
const (
	FailureMalformedJSON        FailureKind = "malformed_json"
	FailureMissingRequiredField FailureKind = "missing_required_field"
	FailureUnsupportedAttribute FailureKind = "unsupported_attribute"
	FailureUnsupportedTopic     FailureKind = "unsupported_topic"
	FailureValueOutOfRange      FailureKind = "value_out_of_range"
)

// ParseError is a typed parse failure returned by the decoder.
// Use FailureOf (or errors.As) to recover the taxonomy kind.
type ParseError struct {
	Kind   FailureKind
	Detail string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// newParseError builds a ParseError with a formatted detail string.
func newParseError(kind FailureKind, format string, args ...any) *ParseError {
	return &ParseError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// FailureOf extracts the failure kind from a decoder error.
// Returns an empty kind for nil or foreign errors.
func FailureOf(err error) FailureKind {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
