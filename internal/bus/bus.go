// Package bus defines the message bus participants and the ledger talk
// through, and provides an in-memory implementation of it.
//
// A destination is one of three kinds:
//
//	queue://<name>  point-to-point; every message is consumed by exactly one
//	                of the queue's consumers. Messages sent before any
//	                consumer subscribes are retained.
//	topic://<name>  broadcast; every subscription active when a message is
//	                published receives its own copy.
//	temp://<id>     a queue created by NewTempQueue, consumed only by its
//	                creator and removed when the creator closes it.
//
// Every envelope may carry a reply address. Receivers answer requests by
// sending to that address and never need to know who the requester is.
package bus

//go:generate ../../scripts/mockery_generate.sh Bus|Subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tendermint/bazaar/types"
)

var (
	// ErrNoSuchDestination is returned when sending to a temporary queue that
	// does not exist, typically because its owner closed it.
	ErrNoSuchDestination = errors.New("no such destination")

	// ErrInvalidAddress is returned for addresses without a known scheme or
	// with an empty name.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrClosed is returned by Subscription.Next once the subscription or the
	// bus has been closed.
	ErrClosed = errors.New("subscription closed")

	// ErrInvalidEnvelope is returned when an envelope cannot be sent as is.
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// Kind is the kind of destination an address names.
type Kind int

const (
	KindUnknown Kind = iota
	KindQueue
	KindTopic
	KindTemp
)

const (
	schemeQueue = "queue://"
	schemeTopic = "topic://"
	schemeTemp  = "temp://"
)

func (k Kind) String() string {
	switch k {
	case KindQueue:
		return "queue"
	case KindTopic:
		return "topic"
	case KindTemp:
		return "temp"
	default:
		return "unknown"
	}
}

// Address is an opaque destination on the bus.
type Address string

// Queue returns the address of the named queue.
func Queue(name string) Address { return Address(schemeQueue + name) }

// Topic returns the address of the named topic.
func Topic(name string) Address { return Address(schemeTopic + name) }

func tempAddress(id string) Address { return Address(schemeTemp + id) }

// Kind returns the kind of destination a names.
func (a Address) Kind() Kind {
	s := string(a)
	switch {
	case strings.HasPrefix(s, schemeQueue):
		return KindQueue
	case strings.HasPrefix(s, schemeTopic):
		return KindTopic
	case strings.HasPrefix(s, schemeTemp):
		return KindTemp
	default:
		return KindUnknown
	}
}

// Name returns the address without its scheme.
func (a Address) Name() string {
	if i := strings.Index(string(a), "://"); i >= 0 {
		return string(a)[i+3:]
	}
	return string(a)
}

// ValidateBasic checks that a has a known scheme and a name.
func (a Address) ValidateBasic() error {
	if a.Kind() == KindUnknown {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, string(a))
	}
	if a.Name() == "" {
		return fmt.Errorf("%w: %q has no name", ErrInvalidAddress, string(a))
	}
	return nil
}

func (a Address) String() string { return string(a) }

// Envelope is a message in transit.
type Envelope struct {
	To      Address
	ReplyTo Address
	Message types.Message
}

// ValidateBasic checks the addressing of e and that it carries a message.
// It does not validate the message itself.
func (e Envelope) ValidateBasic() error {
	if err := e.To.ValidateBasic(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if e.ReplyTo != "" {
		if err := e.ReplyTo.ValidateBasic(); err != nil {
			return fmt.Errorf("%w: reply address: %v", ErrInvalidEnvelope, err)
		}
	}
	if e.Message == nil {
		return fmt.Errorf("%w: no message", ErrInvalidEnvelope)
	}
	return nil
}

// Packet is the encoded form of an Envelope. Buses move packets rather than
// envelopes so that no message value is ever shared between a sender and its
// receivers.
type Packet struct {
	To      Address         `json:"to"`
	ReplyTo Address         `json:"reply_to,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Packet encodes e.
func (e Envelope) Packet() (Packet, error) {
	if err := e.ValidateBasic(); err != nil {
		return Packet{}, err
	}
	bz, err := types.EncodeMessage(e.Message)
	if err != nil {
		return Packet{}, fmt.Errorf("encoding %s: %w", e.Message.TypeTag(), err)
	}
	return Packet{To: e.To, ReplyTo: e.ReplyTo, Payload: bz}, nil
}

// Envelope decodes p.
func (p Packet) Envelope() (Envelope, error) {
	msg, err := types.DecodeMessage(p.Payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{To: p.To, ReplyTo: p.ReplyTo, Message: msg}, nil
}

// Bus is a message bus.
type Bus interface {
	// Send delivers env to env.To. Sending to a queue or topic that nobody
	// consumes is not an error; sending to a temporary queue that does not
	// exist is.
	Send(ctx context.Context, env Envelope) error

	// Subscribe consumes the queue or topic at addr. Several subscriptions to
	// one queue compete for its messages.
	Subscribe(ctx context.Context, addr Address) (Subscription, error)

	// NewTempQueue creates a temporary queue and returns its only
	// subscription. Closing the subscription removes the queue.
	NewTempQueue(ctx context.Context) (Subscription, error)
}

// Subscription is a stream of envelopes from one destination.
type Subscription interface {
	// Address returns the destination the subscription consumes.
	Address() Address

	// Next blocks until an envelope arrives, ctx ends, or the subscription
	// is closed, in which case it returns an error wrapping ErrClosed.
	Next(ctx context.Context) (Envelope, error)

	// Close ends the subscription. It is safe to call more than once.
	Close()
}
