package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tendermint/bazaar/libs/log"
	"github.com/tendermint/bazaar/libs/pubsub"
	"github.com/tendermint/bazaar/libs/service"
)

const defaultQueueCapacity = 1000

// MemBus is an in-process Bus. Queues are buffered channels shared by their
// consumers; topics are served by a pubsub.Server.
type MemBus struct {
	service.BaseService
	logger  log.Logger
	metrics *Metrics

	pubsub   *pubsub.Server
	queueCap int
	done     chan struct{}

	mtx    sync.Mutex
	queues map[Address]chan Packet
	temps  map[Address]chan Packet
}

var _ Bus = (*MemBus)(nil)

// MemBusOption sets an optional parameter on the MemBus.
type MemBusOption func(*MemBus)

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) MemBusOption {
	return func(b *MemBus) { b.metrics = metrics }
}

// QueueCapacity sets how many packets a queue holds before Send blocks.
func QueueCapacity(capacity int) MemBusOption {
	return func(b *MemBus) {
		if capacity > 0 {
			b.queueCap = capacity
		}
	}
}

// NewMemBus returns a new, unstarted in-memory bus.
func NewMemBus(logger log.Logger, options ...MemBusOption) *MemBus {
	b := &MemBus{
		logger:   logger,
		metrics:  NopMetrics(),
		queueCap: defaultQueueCapacity,
		done:     make(chan struct{}),
		queues:   make(map[Address]chan Packet),
		temps:    make(map[Address]chan Packet),
	}
	b.BaseService = *service.NewBaseService(logger, "MemBus", b)
	for _, opt := range options {
		opt(b)
	}
	b.pubsub = pubsub.NewServer(logger.With("module", "pubsub"),
		pubsub.BufferCapacity(b.queueCap))
	return b
}

// OnStart implements service.Service.
func (b *MemBus) OnStart(ctx context.Context) error {
	return b.pubsub.Start(ctx)
}

// OnStop implements service.Service.
func (b *MemBus) OnStop() {
	close(b.done)
	b.pubsub.Stop()
}

// Send implements Bus.
func (b *MemBus) Send(ctx context.Context, env Envelope) error {
	pkt, err := env.Packet()
	if err != nil {
		return err
	}
	return b.SendPacket(ctx, pkt)
}

// SendPacket delivers an already encoded envelope. The payload is not
// inspected; receivers drop packets that do not decode.
func (b *MemBus) SendPacket(ctx context.Context, pkt Packet) error {
	kind := pkt.To.Kind()
	if err := pkt.To.ValidateBasic(); err != nil {
		b.metrics.Undeliverable.With("kind", kind.String()).Add(1)
		return err
	}

	switch kind {
	case KindTopic:
		if err := b.pubsub.Publish(ctx, pkt.To.Name(), pkt); err != nil {
			b.metrics.Undeliverable.With("kind", kind.String()).Add(1)
			return fmt.Errorf("publishing to %s: %w", pkt.To, err)
		}
	case KindQueue, KindTemp:
		ch, err := b.queue(pkt.To, kind == KindQueue)
		if err != nil {
			b.metrics.Undeliverable.With("kind", kind.String()).Add(1)
			return err
		}
		select {
		case ch <- pkt:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrClosed
		}
	}

	b.metrics.Sent.With("kind", kind.String()).Add(1)
	return nil
}

// Subscribe implements Bus.
func (b *MemBus) Subscribe(ctx context.Context, addr Address) (Subscription, error) {
	if err := addr.ValidateBasic(); err != nil {
		return nil, err
	}

	switch addr.Kind() {
	case KindQueue:
		ch, _ := b.queue(addr, true)
		return b.newQueueSubscription(addr, ch, nil), nil
	case KindTopic:
		clientID := uuid.NewString()
		sub, err := b.pubsub.Subscribe(ctx, clientID, addr.Name())
		if err != nil {
			return nil, fmt.Errorf("subscribing to %s: %w", addr, err)
		}
		// every topic subscription has its own client id
		b.metrics.TopicSubscribers.Set(float64(b.pubsub.NumClients()))
		return &topicSubscription{bus: b, addr: addr, clientID: clientID, sub: sub}, nil
	default:
		return nil, fmt.Errorf("%w: cannot subscribe to %s", ErrInvalidAddress, addr)
	}
}

// NewTempQueue implements Bus.
func (b *MemBus) NewTempQueue(ctx context.Context) (Subscription, error) {
	select {
	case <-b.done:
		return nil, ErrClosed
	default:
	}

	addr := tempAddress(uuid.NewString())
	ch := make(chan Packet, b.queueCap)

	b.mtx.Lock()
	b.temps[addr] = ch
	b.metrics.TempQueues.Set(float64(len(b.temps)))
	b.mtx.Unlock()

	return b.newQueueSubscription(addr, ch, func() {
		b.mtx.Lock()
		delete(b.temps, addr)
		b.metrics.TempQueues.Set(float64(len(b.temps)))
		b.mtx.Unlock()
	}), nil
}

// queue returns the channel behind a queue or temporary queue. Named queues
// are created on first use.
func (b *MemBus) queue(addr Address, create bool) (chan Packet, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if addr.Kind() == KindTemp {
		ch, ok := b.temps[addr]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchDestination, addr)
		}
		return ch, nil
	}

	ch, ok := b.queues[addr]
	if !ok {
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchDestination, addr)
		}
		ch = make(chan Packet, b.queueCap)
		b.queues[addr] = ch
	}
	return ch, nil
}

// decode turns a packet into an envelope, logging and counting packets that
// do not decode.
func (b *MemBus) decode(pkt Packet) (Envelope, bool) {
	env, err := pkt.Envelope()
	if err != nil {
		b.metrics.Malformed.Add(1)
		b.logger.Error("dropping malformed packet", "to", pkt.To, "err", err)
		return Envelope{}, false
	}
	return env, true
}

type queueSubscription struct {
	bus     *MemBus
	addr    Address
	ch      chan Packet
	onClose func()

	closeOnce sync.Once
	closed    chan struct{}
}

func (b *MemBus) newQueueSubscription(addr Address, ch chan Packet, onClose func()) *queueSubscription {
	return &queueSubscription{
		bus:     b,
		addr:    addr,
		ch:      ch,
		onClose: onClose,
		closed:  make(chan struct{}),
	}
}

func (s *queueSubscription) Address() Address { return s.addr }

func (s *queueSubscription) Next(ctx context.Context) (Envelope, error) {
	for {
		select {
		case <-s.closed:
			return Envelope{}, ErrClosed
		case <-s.bus.done:
			return Envelope{}, fmt.Errorf("%w: bus stopped", ErrClosed)
		default:
		}

		select {
		case pkt := <-s.ch:
			if env, ok := s.bus.decode(pkt); ok {
				return env, nil
			}
		case <-s.closed:
			return Envelope{}, ErrClosed
		case <-s.bus.done:
			return Envelope{}, fmt.Errorf("%w: bus stopped", ErrClosed)
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}
}

func (s *queueSubscription) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

type topicSubscription struct {
	bus      *MemBus
	addr     Address
	clientID string
	sub      *pubsub.Subscription
}

func (s *topicSubscription) Address() Address { return s.addr }

func (s *topicSubscription) Next(ctx context.Context) (Envelope, error) {
	for {
		msg, err := s.sub.Next(ctx)
		if errors.Is(err, pubsub.ErrTerminated) {
			return Envelope{}, fmt.Errorf("%w: %v", ErrClosed, s.sub.Err())
		} else if err != nil {
			return Envelope{}, err
		}

		pkt, ok := msg.Data().(Packet)
		if !ok {
			s.bus.logger.Error("unexpected topic payload", "topic", s.addr, "type", fmt.Sprintf("%T", msg.Data()))
			continue
		}
		if env, ok := s.bus.decode(pkt); ok {
			return env, nil
		}
	}
}

func (s *topicSubscription) Close() {
	err := s.bus.pubsub.Unsubscribe(context.Background(), s.clientID, s.addr.Name())
	if err != nil && !errors.Is(err, pubsub.ErrSubscriptionNotFound) &&
		!errors.Is(err, pubsub.ErrServerStopped) {
		s.bus.logger.Error("failed to unsubscribe", "topic", s.addr, "err", err)
	}
	s.bus.metrics.TopicSubscribers.Set(float64(s.bus.pubsub.NumClients()))
}
