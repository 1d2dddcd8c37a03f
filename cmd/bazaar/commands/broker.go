package commands

import (
	"github.com/spf13/cobra"

	"github.com/tendermint/bazaar/config"
	"github.com/tendermint/bazaar/internal/bus"
	"github.com/tendermint/bazaar/internal/bus/wsbus"
	"github.com/tendermint/bazaar/libs/log"
)

// MakeBrokerCommand returns the command that runs the message broker other
// processes connect to.
func MakeBrokerCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the message broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := startPrometheusServer(ctx, conf.Instrumentation, logger); err != nil {
				return err
			}

			b := bus.NewMemBus(logger.With("module", "bus"),
				bus.QueueCapacity(conf.Bus.QueueCapacity),
				bus.WithMetrics(busMetrics(conf)))
			if err := b.Start(ctx); err != nil {
				return err
			}
			defer b.Stop()

			srv, err := serveBus(cmd, conf, logger, b)
			if err != nil {
				return err
			}
			defer srv.Stop()

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().String("bus.laddr", conf.Bus.ListenAddress, "broker listen address")
	return cmd
}

func serveBus(cmd *cobra.Command, conf *config.Config, logger log.Logger, b *bus.MemBus) (*wsbus.Server, error) {
	srv := wsbus.NewServer(logger.With("module", "broker"), b, wsbus.ServerConfig{
		ListenAddress:      conf.Bus.ListenAddress,
		MaxOpenConnections: conf.Bus.MaxOpenConnections,
		CORSAllowedOrigins: conf.Bus.CORSAllowedOrigins,
	})
	if err := srv.Start(cmd.Context()); err != nil {
		return nil, err
	}
	logger.Info("broker listening", "addr", srv.Addr())
	return srv, nil
}
