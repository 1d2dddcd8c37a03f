package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/tendermint/bazaar/config"
	"github.com/tendermint/bazaar/internal/bus"
	"github.com/tendermint/bazaar/internal/bus/wsbus"
	"github.com/tendermint/bazaar/libs/log"
	"github.com/tendermint/bazaar/libs/service"
)

const shutdownTimeout = 4 * time.Second

// connectBus starts a client of the configured broker, or an in-process bus
// when no broker is configured. The returned service must be stopped by the
// caller.
func connectBus(ctx context.Context, conf *config.Config, logger log.Logger) (bus.Bus, service.Service, error) {
	if conf.Bus.Broker == "" {
		b := bus.NewMemBus(logger.With("module", "bus"),
			bus.QueueCapacity(conf.Bus.QueueCapacity),
			bus.WithMetrics(busMetrics(conf)))
		if err := b.Start(ctx); err != nil {
			return nil, nil, err
		}
		return b, b, nil
	}

	c := wsbus.NewClient(logger.With("module", "bus"), conf.Bus.Broker,
		wsbus.SubscriptionCapacity(conf.Bus.SubscriptionCapacity))
	if err := c.Start(ctx); err != nil {
		return nil, nil, err
	}
	return c, c, nil
}

func busMetrics(conf *config.Config) *bus.Metrics {
	if conf.Instrumentation.Prometheus {
		return bus.PrometheusMetrics(conf.Instrumentation.Namespace)
	}
	return bus.NopMetrics()
}

// startPrometheusServer serves the default Prometheus registry under
// /metrics until ctx is done. It does nothing unless Prometheus is enabled.
func startPrometheusServer(ctx context.Context, conf *config.InstrumentationConfig, logger log.Logger) error {
	if !conf.Prometheus {
		return nil
	}

	listener, err := net.Listen("tcp", conf.PrometheusListenAddr)
	if err != nil {
		return err
	}
	if conf.MaxOpenConnections > 0 {
		listener = netutil.LimitListener(listener, conf.MaxOpenConnections)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{MaxRequestsInFlight: conf.MaxOpenConnections},
		),
	))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("prometheus HTTP server Serve", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error("prometheus HTTP server Shutdown", "err", err)
		}
	}()

	logger.Info("serving metrics", "addr", listener.Addr())
	return nil
}
