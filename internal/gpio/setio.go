package gpio

import (
	"errors"

	"github.com/sweeney/pressure-regulator/internal/protocol"
)

// HandleSetIO executes a SET_IO message addressed to the local IO handler.
// It reports false for messages that are not local SET_IO commands so the
// caller can deliver them elsewhere.
func HandleSetIO(w Writer, msg protocol.Message) (bool, error) {
	if msg.Address != protocol.LocalAddress {
		return false, nil
	}
	pin, level, err := protocol.DecodeSetIO(msg.Payload)
	if errors.Is(err, protocol.ErrUnrecognized) {
		return false, nil
	}
	if err != nil {
		return true, err
	}
	return true, w.Set(int(pin), level)
}
