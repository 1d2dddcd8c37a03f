package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tendermint/bazaar/config"
	"github.com/tendermint/bazaar/internal/market"
	"github.com/tendermint/bazaar/libs/log"
)

// MakeParticipantCommand returns the command that runs a participant with
// an interactive console on stdin.
func MakeParticipantCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "participant [name]",
		Short: "Run a participant and trade from the console",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if len(args) == 1 {
				conf.Participant.Name = args[0]
			}
			if conf.Participant.Name == "" {
				return errors.New("participant name is required")
			}
			if conf.Bus.Broker == "" {
				return errors.New("participant needs a broker (--bus.broker)")
			}
			if err := conf.Participant.ValidateBasic(); err != nil {
				return err
			}

			if err := startPrometheusServer(ctx, conf.Instrumentation, logger); err != nil {
				return err
			}

			b, busSvc, err := connectBus(ctx, conf, logger)
			if err != nil {
				return err
			}
			defer busSvc.Stop()

			var opts []market.OptionFunc
			if conf.Instrumentation.Prometheus {
				opts = append(opts, market.WithMetrics(market.PrometheusMetrics(
					conf.Instrumentation.Namespace, "participant", conf.Participant.Name)))
			}
			p := market.NewParticipant(logger.With("participant", conf.Participant.Name),
				conf.Participant, conf.Ledger.Queue, b, opts...)
			if err := p.Start(ctx); err != nil {
				return err
			}
			defer p.Stop()

			return newConsole(p, cmd.InOrStdin(), cmd.OutOrStdout()).run(ctx)
		},
	}
	addBusFlags(cmd, conf)
	cmd.Flags().Int64("participant.haggle_percent", conf.Participant.HagglePercent,
		"percentage of the price offered when haggling")
	cmd.Flags().Bool("participant.republish_on_change", conf.Participant.RepublishOnChange,
		"broadcast the catalog whenever it changes")
	return cmd
}
