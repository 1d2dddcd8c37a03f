package commands

import (
	"github.com/spf13/cobra"

	"github.com/tendermint/bazaar/config"
	"github.com/tendermint/bazaar/internal/bus"
	"github.com/tendermint/bazaar/internal/ledger"
	"github.com/tendermint/bazaar/libs/log"
)

// MakeLedgerCommand returns the command that runs the ledger. Without a
// configured broker the ledger runs its own and serves it on bus.laddr.
func MakeLedgerCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Run the ledger service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := startPrometheusServer(ctx, conf.Instrumentation, logger); err != nil {
				return err
			}

			b, busSvc, err := connectBus(ctx, conf, logger)
			if err != nil {
				return err
			}
			defer busSvc.Stop()

			if mem, ok := b.(*bus.MemBus); ok {
				srv, err := serveBus(cmd, conf, logger, mem)
				if err != nil {
					return err
				}
				defer srv.Stop()
			}

			db, err := config.DefaultDBProvider(&config.DBContext{ID: "ledger", Config: conf})
			if err != nil {
				return err
			}
			defer db.Close()

			var opts []ledger.OptionFunc
			if conf.Instrumentation.Prometheus {
				opts = append(opts, ledger.WithMetrics(ledger.PrometheusMetrics(conf.Instrumentation.Namespace)))
			}
			store := ledger.NewStore(db, conf.Ledger.FirstAccount, conf.Ledger.InitialBalance)
			l := ledger.NewLedger(logger.With("module", "ledger"), conf.Ledger, b, store, opts...)
			if err := l.Start(ctx); err != nil {
				return err
			}
			defer l.Stop()

			<-ctx.Done()
			return nil
		},
	}
	addBusFlags(cmd, conf)
	cmd.Flags().String("bus.laddr", conf.Bus.ListenAddress, "listen address of the embedded broker")
	cmd.Flags().String("db_backend", conf.DBBackend, "database backend: memdb | goleveldb")
	cmd.Flags().Bool("ledger.debit_on_transfer", conf.Ledger.DebitOnTransfer,
		"move money on transfer; when false the ledger only checks funds")
	return cmd
}
