package service

import (
	"context"
	"fmt"

	"github.com/tendermint/bazaar/libs/log"
)

// Group runs a fixed set of services as one: they are started in order and
// stopped in reverse order.
type Group struct {
	BaseService
	logger   log.Logger
	services []Service
}

// NewGroup returns a Group over services.
func NewGroup(logger log.Logger, name string, services ...Service) *Group {
	g := &Group{
		logger:   logger,
		services: services,
	}
	g.BaseService = *NewBaseService(logger, name, g)
	return g
}

// OnStart starts every service. If one fails, those already started are
// stopped before the error is returned.
func (g *Group) OnStart(ctx context.Context) error {
	for idx, srv := range g.services {
		if err := srv.Start(ctx); err != nil {
			for i := idx - 1; i >= 0; i-- {
				g.services[i].Stop()
			}
			return fmt.Errorf("starting service %d of %d: %w", idx+1, len(g.services), err)
		}
	}
	return nil
}

func (g *Group) OnStop() {
	for i := len(g.services) - 1; i >= 0; i-- {
		g.services[i].Stop()
		g.services[i].Wait()
	}
}
