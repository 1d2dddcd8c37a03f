package types

import "errors"

var (
	// ErrInvalidMessage wraps every ValidateBasic failure of a protocol
	// message.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrUnknownMessage is returned when decoding a payload whose type tag
	// is not a protocol message.
	ErrUnknownMessage = errors.New("unknown message")
)
