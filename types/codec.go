package types

import (
	"fmt"

	"github.com/tendermint/bazaar/internal/jsontypes"
)

// EncodeMessage returns the type-tagged JSON encoding of msg.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	return jsontypes.Marshal(msg)
}

// DecodeMessage decodes a type-tagged protocol message. It does not call
// ValidateBasic; receivers do that before acting on the message.
func DecodeMessage(bz []byte) (Message, error) {
	var msg Message
	if err := jsontypes.Unmarshal(bz, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}
	return msg, nil
}
