package wsbus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/tendermint/bazaar/internal/bus"
	"github.com/tendermint/bazaar/libs/log"
	"github.com/tendermint/bazaar/libs/service"
)

const (
	defaultSubscriptionCapacity = 1000
	closeTimeout                = 5 * time.Second
)

// Client is a bus.Bus backed by a remote broker. Requests are acknowledged
// by the broker, so Send reports the same errors a local bus would.
//
// A subscription whose buffer fills up because its consumer stopped reading
// is closed rather than stalling every other subscription on the
// connection.
type Client struct {
	service.BaseService
	logger log.Logger

	remote string
	subCap int

	conn   *websocket.Conn
	out    chan frame
	nextID uint64
	done   chan struct{}
	cancel context.CancelFunc

	mtx     sync.Mutex
	pending map[uint64]*pendingRequest
	subs    map[string]*clientSubscription
	err     error
}

type pendingRequest struct {
	reply chan frame
	// onAck runs on the read routine, under the client mutex, before any
	// later frame is processed.
	onAck func(frame)
}

var _ bus.Bus = (*Client)(nil)

// ClientOption sets an optional parameter on the Client.
type ClientOption func(*Client)

// SubscriptionCapacity sets how many undelivered envelopes each
// subscription buffers.
func SubscriptionCapacity(capacity int) ClientOption {
	return func(c *Client) {
		if capacity > 0 {
			c.subCap = capacity
		}
	}
}

// NewClient returns a client for the broker at remote, given either as
// host:port or as a ws:// URL.
func NewClient(logger log.Logger, remote string, options ...ClientOption) *Client {
	c := &Client{
		logger:  logger,
		remote:  remote,
		subCap:  defaultSubscriptionCapacity,
		out:     make(chan frame),
		done:    make(chan struct{}),
		pending: make(map[uint64]*pendingRequest),
		subs:    make(map[string]*clientSubscription),
	}
	c.BaseService = *service.NewBaseService(logger, "BusClient", c)
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.remote)
	if err != nil || u.Host == "" {
		u = &url.URL{Scheme: "ws", Host: c.remote}
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http", "tcp":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = Endpoint
	}
	return u.String(), nil
}

// OnStart implements service.Service by dialing the broker.
func (c *Client) OnStart(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dialing broker %s: %w", endpoint, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	c.conn = conn

	rctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	g, gctx := errgroup.WithContext(rctx)
	g.Go(func() error { return c.readRoutine(gctx) })
	g.Go(func() error { return c.writeRoutine(gctx) })
	go func() {
		err := g.Wait()
		c.shutdown(err)
	}()
	return nil
}

// OnStop implements service.Service.
func (c *Client) OnStop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

// shutdown fails every pending request and closes every subscription.
func (c *Client) shutdown(err error) {
	c.conn.Close()

	c.mtx.Lock()
	if err == nil {
		err = bus.ErrClosed
	} else if !errors.Is(err, bus.ErrClosed) {
		c.logger.Error("broker connection failed", "err", err)
		err = fmt.Errorf("%w: %v", bus.ErrClosed, err)
	}
	c.err = err
	subs := c.subs
	c.subs = make(map[string]*clientSubscription)
	c.mtx.Unlock()

	for _, s := range subs {
		s.terminate(err)
	}
	close(c.done)
}

// Send implements bus.Bus.
func (c *Client) Send(ctx context.Context, env bus.Envelope) error {
	pkt, err := env.Packet()
	if err != nil {
		return err
	}
	_, err = c.request(ctx, frame{Op: opSend, Packet: &pkt})
	return err
}

// Subscribe implements bus.Bus.
func (c *Client) Subscribe(ctx context.Context, addr bus.Address) (bus.Subscription, error) {
	if err := addr.ValidateBasic(); err != nil {
		return nil, err
	}
	return c.subscribe(ctx, frame{Op: opSubscribe, Address: addr})
}

// NewTempQueue implements bus.Bus.
func (c *Client) NewTempQueue(ctx context.Context) (bus.Subscription, error) {
	return c.subscribe(ctx, frame{Op: opTempQueue})
}

func (c *Client) subscribe(ctx context.Context, req frame) (bus.Subscription, error) {
	// the subscription must be registered before the ack is seen, or
	// deliveries racing the ack would be dropped
	sub := &clientSubscription{
		client: c,
		ch:     make(chan bus.Packet, c.subCap),
		closed: make(chan struct{}),
	}
	ack, err := c.requestWith(ctx, req, func(ack frame) {
		if ack.err() != nil || ack.Sub == "" {
			return
		}
		sub.id = ack.Sub
		sub.addr = ack.Address
		c.subs[ack.Sub] = sub
	})
	if err != nil {
		return nil, err
	}
	if ack.Sub == "" {
		return nil, errors.New("broker did not assign a subscription")
	}
	return sub, nil
}

func (c *Client) request(ctx context.Context, req frame) (frame, error) {
	return c.requestWith(ctx, req, nil)
}

// requestWith sends req and waits for the broker's ack.
func (c *Client) requestWith(ctx context.Context, req frame, onAck func(frame)) (frame, error) {
	req.ID = atomic.AddUint64(&c.nextID, 1)
	pr := &pendingRequest{reply: make(chan frame, 1), onAck: onAck}

	c.mtx.Lock()
	if c.err != nil {
		err := c.err
		c.mtx.Unlock()
		return frame{}, err
	}
	c.pending[req.ID] = pr
	c.mtx.Unlock()

	defer func() {
		c.mtx.Lock()
		delete(c.pending, req.ID)
		c.mtx.Unlock()
	}()

	select {
	case c.out <- req:
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-c.done:
		return frame{}, c.closedErr()
	}

	select {
	case ack := <-pr.reply:
		return ack, ack.err()
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-c.done:
		return frame{}, c.closedErr()
	}
}

func (c *Client) closedErr() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.err != nil {
		return c.err
	}
	return bus.ErrClosed
}

// readRoutine is the only reader of the connection.
func (c *Client) readRoutine(ctx context.Context) error {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return bus.ErrClosed
			}
			return err
		}
		if err := f.validate(); err != nil {
			c.logger.Error("dropping invalid frame", "op", f.Op, "err", err)
			continue
		}

		switch f.Op {
		case opAck:
			c.mtx.Lock()
			pr, ok := c.pending[f.ID]
			if ok && pr.onAck != nil {
				pr.onAck(f)
			}
			c.mtx.Unlock()
			if ok {
				pr.reply <- f
			}

		case opDeliver:
			c.mtx.Lock()
			sub, ok := c.subs[f.Sub]
			c.mtx.Unlock()
			if !ok {
				c.logger.Debug("delivery for unknown subscription", "sub", f.Sub)
				continue
			}
			sub.deliver(*f.Packet)

		default:
			c.logger.Error("unexpected frame from broker", "op", f.Op)
		}
	}
}

// writeRoutine is the only writer to the connection.
func (c *Client) writeRoutine(ctx context.Context) error {
	for {
		select {
		case f := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
			if err := c.conn.WriteJSON(f); err != nil {
				return err
			}
		case <-ctx.Done():
			// unblocks the read routine
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(defaultWriteWait))
			c.conn.Close()
			return nil
		}
	}
}

func (c *Client) forget(id string) {
	c.mtx.Lock()
	delete(c.subs, id)
	c.mtx.Unlock()
}

type clientSubscription struct {
	client *Client
	id     string
	addr   bus.Address
	ch     chan bus.Packet

	closeOnce sync.Once
	closed    chan struct{}
	mtx       sync.Mutex
	err       error
}

func (s *clientSubscription) Address() bus.Address { return s.addr }

// deliver hands pkt to the subscription without blocking the read routine.
func (s *clientSubscription) deliver(pkt bus.Packet) {
	select {
	case <-s.closed:
		return
	default:
	}

	select {
	case s.ch <- pkt:
	default:
		s.client.logger.Error("subscriber too slow, subscription terminated",
			"sub", s.id, "address", s.addr)
		s.client.forget(s.id)
		s.terminate(fmt.Errorf("%w: consumer is not pulling messages fast enough", bus.ErrClosed))
		go s.release()
	}
}

func (s *clientSubscription) Next(ctx context.Context) (bus.Envelope, error) {
	for {
		select {
		case pkt := <-s.ch:
			env, err := pkt.Envelope()
			if err != nil {
				s.client.logger.Error("dropping malformed packet", "address", s.addr, "err", err)
				continue
			}
			return env, nil
		default:
		}

		select {
		case pkt := <-s.ch:
			env, err := pkt.Envelope()
			if err != nil {
				s.client.logger.Error("dropping malformed packet", "address", s.addr, "err", err)
				continue
			}
			return env, nil
		case <-s.closed:
			return bus.Envelope{}, s.closeErr()
		case <-ctx.Done():
			return bus.Envelope{}, ctx.Err()
		}
	}
}

func (s *clientSubscription) closeErr() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.err
}

func (s *clientSubscription) terminate(err error) {
	s.closeOnce.Do(func() {
		s.mtx.Lock()
		s.err = err
		s.mtx.Unlock()
		close(s.closed)
	})
}

// release tells the broker to drop the subscription, which for a temporary
// queue deletes the queue.
func (s *clientSubscription) release() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if _, err := s.client.request(ctx, frame{Op: opClose, Sub: s.id}); err != nil &&
		!errors.Is(err, bus.ErrClosed) {
		s.client.logger.Error("failed to release subscription", "sub", s.id, "err", err)
	}
}

func (s *clientSubscription) Close() {
	var first bool
	s.closeOnce.Do(func() {
		first = true
		s.mtx.Lock()
		s.err = bus.ErrClosed
		s.mtx.Unlock()
		close(s.closed)
	})
	if !first {
		return
	}
	s.client.forget(s.id)
	s.release()
}
