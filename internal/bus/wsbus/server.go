// Package wsbus exposes a bus over websockets. A Server (the broker) owns an
// in-memory bus and serves it to remote participants and ledgers, which reach
// it through a Client implementing bus.Bus.
package wsbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/tendermint/bazaar/internal/bus"
	"github.com/tendermint/bazaar/libs/log"
	"github.com/tendermint/bazaar/libs/service"
)

const (
	// Endpoint is the HTTP path the broker serves websockets on.
	Endpoint = "/bus"

	defaultReadLimit  = 1 << 20
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultPingPeriod = (defaultPongWait * 9) / 10
	outboundCapacity  = 100
)

// ServerConfig configures the broker.
type ServerConfig struct {
	ListenAddress      string
	MaxOpenConnections int
	CORSAllowedOrigins []string
	ReadLimit          int64
}

// Server serves a bus.MemBus to websocket clients. Every client
// subscription and temporary queue lives on the server for as long as the
// client's connection does.
type Server struct {
	service.BaseService
	logger log.Logger
	cfg    ServerConfig
	bus    *bus.MemBus

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mtx      sync.Mutex
	listener net.Listener
	conns    map[*wsConn]struct{}
}

// NewServer returns a broker serving b. The caller starts and stops b.
func NewServer(logger log.Logger, b *bus.MemBus, cfg ServerConfig) *Server {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	s := &Server{
		logger: logger,
		cfg:    cfg,
		bus:    b,
		upgrader: websocket.Upgrader{
			// origins are checked by the CORS middleware when configured
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*wsConn]struct{}),
	}
	s.BaseService = *service.NewBaseService(logger, "BusServer", s)
	return s
}

// Handler returns the HTTP handler serving the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Endpoint, s.websocketHandler)

	var h http.Handler = mux
	if len(s.cfg.CORSAllowedOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet},
		}).Handler(mux)
	}
	return recoverAndLogHandler(h, s.logger)
}

// OnStart implements service.Service by listening on the configured address.
func (s *Server) OnStart(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %v: %w", s.cfg.ListenAddress, err)
	}
	if s.cfg.MaxOpenConnections > 0 {
		listener = netutil.LimitListener(listener, s.cfg.MaxOpenConnections)
	}

	s.mtx.Lock()
	s.listener = listener
	s.mtx.Unlock()

	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.logger.Info("serving bus", "addr", listener.Addr().String())
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("bus server stopped", "err", err)
		}
	}()
	return nil
}

// OnStop implements service.Service.
func (s *Server) OnStop() {
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("error shutting down bus server", "err", err)
		}
	}

	// hijacked connections are not closed by Shutdown
	s.mtx.Lock()
	for c := range s.conns {
		c.close()
	}
	s.mtx.Unlock()
}

// Addr returns the address the server listens on, or nil before it started.
func (s *Server) Addr() net.Addr {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// NumConnections returns the number of connected clients.
func (s *Server) NumConnections() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.conns)
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	wsc, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "err", err)
		return
	}
	wsc.SetReadLimit(s.cfg.ReadLimit)

	c := &wsConn{
		server: s,
		conn:   wsc,
		logger: s.logger.With("remote", r.RemoteAddr),
		out:    make(chan frame, outboundCapacity),
		subs:   make(map[string]bus.Subscription),
		done:   make(chan struct{}),
	}

	s.mtx.Lock()
	s.conns[c] = struct{}{}
	s.mtx.Unlock()

	c.logger.Info("client connected")
	err = c.run(r.Context())

	s.mtx.Lock()
	delete(s.conns, c)
	s.mtx.Unlock()

	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Error("client connection failed", "err", err)
	} else {
		c.logger.Info("client disconnected")
	}
}

// wsConn is the server side of one client connection.
type wsConn struct {
	server *Server
	conn   *websocket.Conn
	logger log.Logger
	out    chan frame

	mtx  sync.Mutex
	subs map[string]bus.Subscription

	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// run serves the connection until it fails or the server stops. All
// subscriptions the client holds are closed when it returns.
func (c *wsConn) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.close()
		return c.readRoutine(ctx, g)
	})
	g.Go(func() error {
		defer c.close()
		return c.writeRoutine(ctx)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.close()
		return nil
	})

	err := g.Wait()

	c.mtx.Lock()
	for id, sub := range c.subs {
		sub.Close()
		delete(c.subs, id)
	}
	c.mtx.Unlock()

	return err
}

func (c *wsConn) readRoutine(ctx context.Context, g *errgroup.Group) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(defaultPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(defaultPongWait))
	})

	for {
		var req frame
		if err := c.conn.ReadJSON(&req); err != nil {
			select {
			case <-c.done:
				return nil
			default:
				return err
			}
		}
		if err := req.validate(); err != nil {
			c.logger.Error("dropping invalid frame", "op", req.Op, "err", err)
			continue
		}
		ack := c.handle(ctx, g, req)
		if err := c.write(ctx, ack); err != nil {
			return nil
		}
	}
}

func (c *wsConn) handle(ctx context.Context, g *errgroup.Group, req frame) (ack frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in bus request handler",
				"op", req.Op, "err", r, "stack", string(debug.Stack()))
			ack = ackFor(req, fmt.Errorf("internal error: %v", r))
		}
	}()

	switch req.Op {
	case opSend:
		return ackFor(req, c.server.bus.SendPacket(ctx, *req.Packet))

	case opSubscribe:
		sub, err := c.server.bus.Subscribe(ctx, req.Address)
		if err != nil {
			return ackFor(req, err)
		}
		ack = ackFor(req, nil)
		ack.Sub = c.track(ctx, g, sub)
		ack.Address = sub.Address()
		return ack

	case opTempQueue:
		sub, err := c.server.bus.NewTempQueue(ctx)
		if err != nil {
			return ackFor(req, err)
		}
		ack = ackFor(req, nil)
		ack.Sub = c.track(ctx, g, sub)
		ack.Address = sub.Address()
		return ack

	case opClose:
		c.mtx.Lock()
		sub, ok := c.subs[req.Sub]
		delete(c.subs, req.Sub)
		c.mtx.Unlock()
		if ok {
			sub.Close()
		}
		return ackFor(req, nil)

	default:
		return ackFor(req, fmt.Errorf("unexpected op %q", req.Op))
	}
}

// track registers sub under a fresh id and pumps its envelopes to the
// client.
func (c *wsConn) track(ctx context.Context, g *errgroup.Group, sub bus.Subscription) string {
	id := uuid.NewString()

	c.mtx.Lock()
	c.subs[id] = sub
	c.mtx.Unlock()

	g.Go(func() error {
		for {
			env, err := sub.Next(ctx)
			if err != nil {
				return nil
			}
			pkt, err := env.Packet()
			if err != nil {
				c.logger.Error("failed to encode delivery", "sub", id, "err", err)
				continue
			}
			if err := c.write(ctx, frame{Op: opDeliver, Sub: id, Packet: &pkt}); err != nil {
				return nil
			}
		}
	})
	return id
}

func (c *wsConn) write(ctx context.Context, f frame) error {
	select {
	case c.out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return bus.ErrClosed
	}
}

// writeRoutine is the only writer to the connection.
func (c *wsConn) writeRoutine(ctx context.Context) error {
	ticker := time.NewTicker(defaultPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
			if err := c.conn.WriteJSON(f); err != nil {
				return err
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return err
			}
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(defaultWriteWait))
			return nil
		case <-c.done:
			return nil
		}
	}
}

// recoverAndLogHandler wraps an HTTP handler, adding error logging. If the
// inner handler panics, the wrapper recovers, logs and responds with a 500.
func recoverAndLogHandler(handler http.Handler, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if e := recover(); e != nil {
				logger.Error("panic in bus HTTP handler",
					"err", e, "stack", string(debug.Stack()))
				http.Error(w, fmt.Sprintf("internal server error: %v", e), http.StatusInternalServerError)
			}
		}()
		handler.ServeHTTP(w, r)
	})
}
