package data

import (
	"errors"
	"fmt"
)

// ErrUnknownDiscriminator is returned when a wire value names a class that is
// not present in the Registry.
var ErrUnknownDiscriminator = errors.New("unknown payload discriminator")

// ErrMissingPayload is returned when a wire value is neither cached nor
// carries a payload.
var ErrMissingPayload = errors.New("payload is nil and id is not cached")

// ErrWrongType is returned when a value does not match the expected type.
var ErrWrongType = errors.New("wrong payload type")

// ErrMalformed is returned when the wire form cannot be parsed.
var ErrMalformed = errors.New("malformed wire payload")

// DecodeError describes a failure to decode a single wire value.
type DecodeError struct {
	// Field is the port label or record field being decoded, if known.
	Field string

	// Discriminator is the class name found on the wire value.
	Discriminator string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	msg := "decode"
	if e.Field != "" {
		msg += " field " + e.Field
	}
	if e.Discriminator != "" {
		msg += " (" + e.Discriminator + ")"
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}
