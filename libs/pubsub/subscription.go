package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrUnsubscribed is returned by Err when a client unsubscribes.
	ErrUnsubscribed = errors.New("client unsubscribed")

	// ErrOutOfCapacity is returned by Err when a client is not pulling messages
	// fast enough. Note the client's subscription will be terminated.
	ErrOutOfCapacity = errors.New("client is not pulling messages fast enough")

	// ErrTerminated is returned by Next once the subscription has been
	// canceled, for whatever reason, and its buffer is drained.
	ErrTerminated = errors.New("subscription terminated")
)

// A Subscription represents a client subscription to a topic and consists
// of three things:
// 1) channel onto which messages are published
// 2) channel which is closed if a client is too slow or chooses to unsubscribe
// 3) err indicating the reason for (2)
type Subscription struct {
	id       string
	clientID string
	topic    string
	out      chan Message

	canceled   chan struct{}
	cancelOnce sync.Once
	mtx        sync.RWMutex
	err        error
}

func newSubscription(clientID, topic string, outCapacity int) *Subscription {
	return &Subscription{
		id:       uuid.NewString(),
		clientID: clientID,
		topic:    topic,
		out:      make(chan Message, outCapacity),
		canceled: make(chan struct{}),
	}
}

// ID returns the unique identifier of the subscription.
func (s *Subscription) ID() string { return s.id }

// Topic returns the topic the subscription listens on.
func (s *Subscription) Topic() string { return s.topic }

// Next blocks until a message is available, the subscription is terminated,
// or ctx ends. Messages already buffered when the subscription is canceled
// are still returned before ErrTerminated.
func (s *Subscription) Next(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.out:
		return msg, nil
	default:
	}

	select {
	case msg := <-s.out:
		return msg, nil
	case <-s.canceled:
		select {
		case msg := <-s.out:
			return msg, nil
		default:
			return Message{}, ErrTerminated
		}
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Canceled returns a channel that's closed when the subscription is
// terminated and supposed to be used in a select statement.
func (s *Subscription) Canceled() <-chan struct{} { return s.canceled }

// Err returns nil if the channel returned by Canceled is not yet closed.
// If the channel is closed, Err returns a non-nil error explaining why:
//   - ErrUnsubscribed if the subscriber choose to unsubscribe,
//   - ErrOutOfCapacity if the subscriber is not pulling messages fast enough
//     and the channel returned by Out became full,
//   - ErrServerStopped if the server shut down.
//
// After Err returns a non-nil error, successive calls to Err return the same
// error.
func (s *Subscription) Err() error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.err
}

func (s *Subscription) cancel(err error) {
	s.cancelOnce.Do(func() {
		s.mtx.Lock()
		s.err = err
		s.mtx.Unlock()
		close(s.canceled)
	})
}

// Message glues data and the topic it was published on together.
type Message struct {
	subID string
	topic string
	data  interface{}
}

// SubscriptionID returns the unique identifier for the subscription
// that produced this message.
func (msg Message) SubscriptionID() string { return msg.subID }

// Topic returns the topic the message was published on.
func (msg Message) Topic() string { return msg.topic }

// Data returns an original data published.
func (msg Message) Data() interface{} { return msg.data }
