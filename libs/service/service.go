package service

import (
	"context"
	"errors"
	"sync"

	"github.com/tendermint/bazaar/libs/log"
)

var (
	// ErrAlreadyStopped is returned when somebody tries to start a service
	// that has already been stopped.
	ErrAlreadyStopped = errors.New("already stopped")

	// ErrAlreadyStarted is returned when somebody tries to start an already
	// running service.
	ErrAlreadyStarted = errors.New("already started")

	// ErrNotStarted is returned when somebody tries to stop a not running
	// service.
	ErrNotStarted = errors.New("not started")
)

var (
	_ Service = (*BaseService)(nil)
)

// Service defines a service that can be started, stopped, and waited on.
type Service interface {
	// Start is called to start the service, which should run until
	// the context terminates. If the service is already running, Start
	// must report an error.
	Start(context.Context) error

	// Manually terminates the service
	Stop()

	// Return true if the service is running
	IsRunning() bool

	// Wait blocks until the service is stopped.
	Wait()
}

// Implementation describes the implementation that the
// BaseService implementation wraps.
type Implementation interface {
	// Called by the Services Start Method
	OnStart(context.Context) error

	// Called when the service's context is canceled.
	OnStop()
}

/*
BaseService provides the start/stop bookkeeping shared by the bus, the ledger
and the participants. Embed it and implement OnStart and OnStop:

	type Ledger struct {
		service.BaseService
		// private fields
	}

	func NewLedger(logger log.Logger) *Ledger {
		l := &Ledger{}
		l.BaseService = *service.NewBaseService(logger, "Ledger", l)
		return l
	}

	func (l *Ledger) OnStart(ctx context.Context) error {
		// start the receive routine; it must exit when ctx is done
	}

	func (l *Ledger) OnStop() {
		// release resources
	}

OnStart and OnStop are called at most once. If OnStart returns an error the
service is not marked as started and Start may be called again. Canceling the
context passed to Start stops the service.
*/
type BaseService struct {
	logger log.Logger
	name   string
	mtx    sync.Mutex
	quit   <-chan struct{}
	cancel context.CancelFunc

	// The "subclass" of BaseService
	impl Implementation
}

// NewBaseService creates a new BaseService.
func NewBaseService(logger log.Logger, name string, impl Implementation) *BaseService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BaseService{
		logger: logger,
		name:   name,
		impl:   impl,
	}
}

// Start starts the Service and calls its OnStart method. An error will be
// returned if the service is already running or stopped.
func (bs *BaseService) Start(ctx context.Context) error {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if bs.quit != nil {
		select {
		case <-bs.quit:
			return ErrAlreadyStopped
		default:
			return ErrAlreadyStarted
		}
	}

	bs.logger.Info("starting service", "service", bs.name)
	if err := bs.impl.OnStart(ctx); err != nil {
		return err
	}

	// a separate context so that Stop and Wait work whether or not the
	// caller's context is ever canceled.
	srvCtx, cancel := context.WithCancel(context.Background())
	bs.cancel = cancel
	bs.quit = srvCtx.Done()

	go func(ctx context.Context) {
		select {
		case <-srvCtx.Done():
			// this means stop was called manually
			return
		case <-ctx.Done():
			bs.Stop()
		}

		bs.logger.Info("stopped service", "service", bs.name)
	}(ctx)

	return nil
}

// Stop manually terminates the service by calling OnStop method from
// the implementation and releases all resources related to the
// service.
func (bs *BaseService) Stop() {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if bs.quit == nil {
		return
	}

	select {
	case <-bs.quit:
		return
	default:
		bs.logger.Info("stopping service", "service", bs.name)
		bs.impl.OnStop()
		bs.cancel()
	}
}

// IsRunning returns true when the service has been started and has not
// stopped yet.
func (bs *BaseService) IsRunning() bool {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if bs.quit == nil {
		return false
	}

	select {
	case <-bs.quit:
		return false
	default:
		return true
	}
}

func (bs *BaseService) getWait() <-chan struct{} {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if bs.quit == nil {
		out := make(chan struct{})
		close(out)
		return out
	}

	return bs.quit
}

// Wait blocks until the service is stopped.
func (bs *BaseService) Wait() { <-bs.getWait() }

// String provides a human-friendly representation of the service.
func (bs *BaseService) String() string { return bs.name }
