package wsbus

import (
	"errors"
	"fmt"

	"github.com/tendermint/bazaar/internal/bus"
)

// op identifies what a frame asks for or carries.
type op string

const (
	// client -> server
	opSend      op = "send"
	opSubscribe op = "subscribe"
	opTempQueue op = "temp"
	opClose     op = "close"

	// server -> client
	opAck     op = "ack"
	opDeliver op = "deliver"
)

// error codes carried by acks, mapped back onto the bus sentinel errors by
// the client.
const (
	codeNoSuchDestination = "no_such_destination"
	codeInvalidAddress    = "invalid_address"
	codeInvalidEnvelope   = "invalid_envelope"
	codeClosed            = "closed"
	codeInternal          = "internal"
)

// frame is the unit exchanged over a websocket connection. Requests carry a
// client-chosen ID that the server echoes in the ack; deliveries carry the
// subscription they belong to.
type frame struct {
	Op      op          `json:"op"`
	ID      uint64      `json:"id,omitempty"`
	Sub     string      `json:"sub,omitempty"`
	Address bus.Address `json:"address,omitempty"`
	Packet  *bus.Packet `json:"packet,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (f frame) validate() error {
	switch f.Op {
	case opSend:
		if f.Packet == nil {
			return errors.New("send without packet")
		}
	case opSubscribe:
		if f.Address == "" {
			return errors.New("subscribe without address")
		}
	case opClose:
		if f.Sub == "" {
			return errors.New("close without subscription")
		}
	case opTempQueue:
	case opDeliver:
		if f.Sub == "" || f.Packet == nil {
			return errors.New("incomplete delivery")
		}
	case opAck:
		if f.ID == 0 {
			return errors.New("ack without request id")
		}
	default:
		return fmt.Errorf("unknown op %q", f.Op)
	}
	return nil
}

func ackFor(req frame, err error) frame {
	ack := frame{Op: opAck, ID: req.ID}
	if err == nil {
		return ack
	}
	ack.Error = err.Error()
	switch {
	case errors.Is(err, bus.ErrNoSuchDestination):
		ack.Code = codeNoSuchDestination
	case errors.Is(err, bus.ErrInvalidAddress):
		ack.Code = codeInvalidAddress
	case errors.Is(err, bus.ErrInvalidEnvelope):
		ack.Code = codeInvalidEnvelope
	case errors.Is(err, bus.ErrClosed):
		ack.Code = codeClosed
	default:
		ack.Code = codeInternal
	}
	return ack
}

// err returns the error an ack reports, if any.
func (f frame) err() error {
	if f.Code == "" && f.Error == "" {
		return nil
	}
	var base error
	switch f.Code {
	case codeNoSuchDestination:
		base = bus.ErrNoSuchDestination
	case codeInvalidAddress:
		base = bus.ErrInvalidAddress
	case codeInvalidEnvelope:
		base = bus.ErrInvalidEnvelope
	case codeClosed:
		base = bus.ErrClosed
	default:
		return fmt.Errorf("broker: %s", f.Error)
	}
	return fmt.Errorf("%w (broker: %s)", base, f.Error)
}
