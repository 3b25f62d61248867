package protocol

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var ErrMalformed = errors.New("malformed message")

func Encode(msg Message) ([]byte, error) {
	if msg.Kind() == InvalidKind {
		return nil, fmt.Errorf("%w: need exactly one payload", ErrMalformed)
	}
	return cbor.Marshal(msg)
}

// Decode parses a datagram. Unknown keys are skipped so that newer peers can
// add fields.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if msg.Kind() == InvalidKind {
		return Message{}, fmt.Errorf("%w: need exactly one payload", ErrMalformed)
	}
	return msg, nil
}
