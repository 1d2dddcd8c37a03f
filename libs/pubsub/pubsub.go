// Package pubsub implements a topic-based publish/subscribe server.
//
// Clients subscribe to a named topic and receive a copy of every message
// published on that topic after their subscription took effect. Messages are
// not retained: a topic without subscribers drops what is published to it.
//
// Publishing never blocks on a subscriber. Each subscription has a buffered
// outbound channel; when a subscriber stops pulling messages and its buffer
// fills up, the subscription is terminated with ErrOutOfCapacity:
//
//	sub, err := s.Subscribe(ctx, "participant-1", "Offers")
//	if err != nil {
//		return err
//	}
//	for {
//		msg, err := sub.Next(ctx)
//		if errors.Is(err, pubsub.ErrTerminated) {
//			return nil // unsubscribed or server stopped
//		} else if err != nil {
//			return err
//		}
//		// handle msg.Data()
//	}
package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/tendermint/bazaar/libs/log"
	"github.com/tendermint/bazaar/libs/service"
)

var (
	// ErrSubscriptionNotFound is returned when a client tries to unsubscribe
	// from not existing subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrAlreadySubscribed is returned when a client tries to subscribe twice or
	// more to the same topic.
	ErrAlreadySubscribed = errors.New("already subscribed")

	// ErrServerStopped is returned when attempting to publish or subscribe to a
	// server that has been stopped.
	ErrServerStopped = errors.New("pubsub server is stopped")
)

const defaultSubscriptionCapacity = 100

type operation int

const (
	sub operation = iota
	pub
	unsub
)

type cmd struct {
	op operation

	// sub
	sub   *Subscription
	added chan struct{}
	// unsub
	clientID string
	topic    string

	// pub
	data interface{}
}

// Server allows clients to subscribe/unsubscribe for topics and publishes
// messages to every subscriber of a topic. Commands are applied in the order
// they are received, so a message published after Subscribe returns is always
// delivered to that subscription.
type Server struct {
	service.BaseService
	logger log.Logger

	cmds     chan cmd
	cmdsCap  int
	subCap   int
	done     chan struct{}
	stopOnce sync.Once

	// check for duplicate subscriptions and answer counting queries without
	// going through the loop.
	mtx           sync.RWMutex
	subscriptions map[string]map[string]struct{} // client -> topic -> empty struct
}

// Option sets a parameter for the server.
type Option func(*Server)

// NewServer returns a new server. See the commentary on the Option functions
// for a detailed description of how to configure buffering. If no options are
// provided, the resulting server's queue is unbuffered.
func NewServer(logger log.Logger, options ...Option) *Server {
	s := &Server{
		logger:        logger,
		subCap:        defaultSubscriptionCapacity,
		done:          make(chan struct{}),
		subscriptions: make(map[string]map[string]struct{}),
	}
	s.BaseService = *service.NewBaseService(logger, "PubSub", s)

	for _, option := range options {
		option(s)
	}

	s.cmds = make(chan cmd, s.cmdsCap)

	return s
}

// BufferCapacity allows you to specify capacity for publisher's queue. This
// is the number of messages that can be published without blocking. If no
// buffer is specified, publishing is synchronous with delivery.
func BufferCapacity(cap int) Option {
	return func(s *Server) {
		if cap > 0 {
			s.cmdsCap = cap
		}
	}
}

// SubscriptionCapacity sets the size of each subscription's outbound buffer.
func SubscriptionCapacity(cap int) Option {
	return func(s *Server) {
		if cap > 0 {
			s.subCap = cap
		}
	}
}

// Subscribe creates a subscription of clientID to topic. It returns once the
// subscription is live, or an error if the context ends first, the server
// has stopped, or the client already holds a subscription to the topic.
func (s *Server) Subscribe(ctx context.Context, clientID, topic string) (*Subscription, error) {
	s.mtx.Lock()
	if _, ok := s.subscriptions[clientID][topic]; ok {
		s.mtx.Unlock()
		return nil, ErrAlreadySubscribed
	}
	if s.subscriptions[clientID] == nil {
		s.subscriptions[clientID] = make(map[string]struct{})
	}
	s.subscriptions[clientID][topic] = struct{}{}
	s.mtx.Unlock()

	subscription := newSubscription(clientID, topic, s.subCap)
	added := make(chan struct{})
	if err := s.send(ctx, cmd{op: sub, sub: subscription, added: added}); err != nil {
		s.forget(clientID, topic)
		return nil, err
	}

	// A subscription still queued when the server stops would never be
	// canceled by the shutdown, so wait for the loop to take it.
	select {
	case <-added:
		return subscription, nil
	case <-s.done:
		s.forget(clientID, topic)
		return nil, ErrServerStopped
	case <-ctx.Done():
		s.forget(clientID, topic)
		return nil, ctx.Err()
	}
}

// Unsubscribe removes the subscription of clientID to topic.
func (s *Server) Unsubscribe(ctx context.Context, clientID, topic string) error {
	s.mtx.RLock()
	_, ok := s.subscriptions[clientID][topic]
	s.mtx.RUnlock()
	if !ok {
		return ErrSubscriptionNotFound
	}

	s.forget(clientID, topic)
	return s.send(ctx, cmd{op: unsub, clientID: clientID, topic: topic})
}

// NumClients returns the number of clients holding at least one subscription.
// It is updated when Subscribe and Unsubscribe return and when a slow
// subscriber is terminated.
func (s *Server) NumClients() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.subscriptions)
}

// Publish publishes data to every current subscriber of topic.
func (s *Server) Publish(ctx context.Context, topic string, data interface{}) error {
	return s.send(ctx, cmd{op: pub, topic: topic, data: data})
}

func (s *Server) send(ctx context.Context, c cmd) error {
	select {
	case s.cmds <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrServerStopped
	}
}

func (s *Server) forget(clientID, topic string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.subscriptions[clientID], topic)
	if len(s.subscriptions[clientID]) == 0 {
		delete(s.subscriptions, clientID)
	}
}

// OnStart implements service.Service by starting the server.
func (s *Server) OnStart(ctx context.Context) error {
	go s.loop(newState())
	return nil
}

// OnStop implements service.Service by shutting down the server.
func (s *Server) OnStop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Server) loop(st *state) {
	defer st.shutdown()

	for {
		select {
		case <-s.done:
			return
		case c := <-s.cmds:
			switch c.op {
			case sub:
				st.add(c.sub)
				close(c.added)
			case unsub:
				st.remove(c.clientID, c.topic)
			case pub:
				for _, dropped := range st.deliver(c.topic, c.data) {
					s.logger.Error("subscriber too slow, subscription terminated",
						"client", dropped.clientID, "topic", dropped.topic)
					s.forget(dropped.clientID, dropped.topic)
				}
			}
		}
	}
}

// NOTE: not goroutine safe, owned by the loop.
type state struct {
	// topic -> client -> subscription
	topics map[string]map[string]*Subscription
}

func newState() *state {
	return &state{topics: make(map[string]map[string]*Subscription)}
}

func (st *state) add(s *Subscription) {
	if st.topics[s.topic] == nil {
		st.topics[s.topic] = make(map[string]*Subscription)
	}
	st.topics[s.topic][s.clientID] = s
}

func (st *state) remove(clientID, topic string) {
	s, ok := st.topics[topic][clientID]
	if !ok {
		return
	}
	s.cancel(ErrUnsubscribed)
	delete(st.topics[topic], clientID)
	if len(st.topics[topic]) == 0 {
		delete(st.topics, topic)
	}
}

// deliver hands data to every subscriber of topic and returns the
// subscriptions that were terminated because their buffer was full.
func (st *state) deliver(topic string, data interface{}) []*Subscription {
	var dropped []*Subscription
	for clientID, s := range st.topics[topic] {
		select {
		case s.out <- Message{subID: s.id, topic: topic, data: data}:
		default:
			s.cancel(ErrOutOfCapacity)
			delete(st.topics[topic], clientID)
			dropped = append(dropped, s)
		}
	}
	if len(st.topics[topic]) == 0 {
		delete(st.topics, topic)
	}
	return dropped
}

func (st *state) shutdown() {
	for _, clients := range st.topics {
		for _, s := range clients {
			s.cancel(ErrServerStopped)
		}
	}
	st.topics = nil
}
