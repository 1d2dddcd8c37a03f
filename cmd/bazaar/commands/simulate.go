package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/spf13/cobra"
	dbm "github.com/tendermint/tm-db"

	"github.com/tendermint/bazaar/config"
	"github.com/tendermint/bazaar/internal/bus"
	"github.com/tendermint/bazaar/internal/ledger"
	"github.com/tendermint/bazaar/internal/market"
	"github.com/tendermint/bazaar/libs/log"
	"github.com/tendermint/bazaar/libs/service"
)

// simulation is an in-process market: a ledger and a number of
// participants, each buying at random from the others.
type simulation struct {
	logger       log.Logger
	conf         *config.Config
	participants int
	rounds       int
	hagglePct    int
	seed         int64
}

// simulationReport summarizes a simulation run.
type simulationReport struct {
	Outcomes map[market.Outcome]int
	Errors   int
	Accounts []ledger.Account
	Total    int64
}

// MakeSimulateCommand returns the command that runs an in-process market.
func MakeSimulateCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	sim := &simulation{logger: logger, conf: conf}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a ledger and a set of trading participants in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := startPrometheusServer(cmd.Context(), conf.Instrumentation, logger); err != nil {
				return err
			}
			report, err := sim.run(cmd.Context())
			if err != nil {
				return err
			}
			report.print(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().IntVar(&sim.participants, "participants", 4, "number of participants")
	cmd.Flags().IntVar(&sim.rounds, "rounds", 10, "purchases attempted by each participant")
	cmd.Flags().IntVar(&sim.hagglePct, "haggle-rate", 20, "percentage of purchases that haggle")
	cmd.Flags().Int64Var(&sim.seed, "seed", 0, "random seed; 0 picks one from the clock")
	return cmd
}

func (s *simulation) run(ctx context.Context) (*simulationReport, error) {
	if s.participants < 2 {
		return nil, errors.New("at least two participants are required")
	}
	seed := s.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s.logger.Info("starting simulation", "participants", s.participants, "rounds", s.rounds, "seed", seed)

	var ledgerOpts []ledger.OptionFunc
	marketMetrics := market.NopMetrics()
	if s.conf.Instrumentation.Prometheus {
		ledgerOpts = append(ledgerOpts, ledger.WithMetrics(ledger.PrometheusMetrics(s.conf.Instrumentation.Namespace)))
		marketMetrics = market.PrometheusMetrics(s.conf.Instrumentation.Namespace)
	}

	b := bus.NewMemBus(s.logger.With("module", "bus"),
		bus.QueueCapacity(s.conf.Bus.QueueCapacity),
		bus.WithMetrics(busMetrics(s.conf)))
	store := ledger.NewStore(dbm.NewMemDB(), s.conf.Ledger.FirstAccount, s.conf.Ledger.InitialBalance)
	l := ledger.NewLedger(s.logger.With("module", "ledger"), s.conf.Ledger, b, store, ledgerOpts...)

	rng := rand.New(rand.NewSource(seed))
	services := []service.Service{b, l}
	participants := make([]*market.Participant, 0, s.participants)
	for i := 0; i < s.participants; i++ {
		pconf := *s.conf.Participant
		pconf.Name = fmt.Sprintf("trader-%d", i)
		goods, err := market.GenerateCatalog(rng, pconf.Name, pconf.CatalogSize, pconf.MaxPrice)
		if err != nil {
			return nil, err
		}
		p := market.NewParticipant(s.logger.With("participant", pconf.Name), &pconf, s.conf.Ledger.Queue, b,
			market.WithGoods(goods...), market.WithMetrics(marketMetrics))
		participants = append(participants, p)
		services = append(services, p)
	}

	// participants stop before the ledger and the bus they talk through
	group := service.NewGroup(s.logger, "Simulation", services...)
	if err := group.Start(ctx); err != nil {
		return nil, err
	}
	defer group.Stop()

	if err := s.announce(ctx, participants); err != nil {
		return nil, err
	}

	var (
		mtx    sync.Mutex
		report = &simulationReport{Outcomes: make(map[market.Outcome]int)}
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g := taskgroup.New(taskgroup.Trigger(cancel))
	for _, p := range participants {
		p := p
		prng := rand.New(rand.NewSource(rng.Int63()))
		g.Go(func() error {
			for i := 0; i < s.rounds; i++ {
				receipt, err := s.purchase(ctx, prng, p)
				if errors.Is(err, context.Canceled) {
					return err
				}

				mtx.Lock()
				if err != nil {
					report.Errors++
				} else {
					report.Outcomes[receipt.Outcome]++
				}
				mtx.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// A seller orders a refund before releasing the goods, and the ledger
	// consumes its queue in order, so once every participant has had a
	// balance answered all refunds are settled.
	for _, p := range participants {
		if _, err := p.Balance(ctx); err != nil {
			return nil, err
		}
	}

	accounts, err := l.Accounts()
	if err != nil {
		return nil, err
	}
	report.Accounts = accounts
	for _, a := range accounts {
		report.Total += a.Balance
	}
	return report, nil
}

// announce publishes every catalog again and waits until each participant
// has seen the offers of all the others. Topics retain nothing, so the
// catalogs sent on start miss participants that subscribed later.
func (s *simulation) announce(ctx context.Context, participants []*market.Participant) error {
	for _, p := range participants {
		if err := p.PublishCatalog(ctx); err != nil {
			return fmt.Errorf("publishing catalog of %s: %w", p.Name(), err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.conf.Participant.ReplyTimeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for _, p := range participants {
		for len(p.Offers()) < len(participants)-1 {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return fmt.Errorf("%s saw %d of %d catalogs: %w",
					p.Name(), len(p.Offers()), len(participants)-1, ctx.Err())
			}
		}
	}
	return nil
}

// purchase buys a random item from a random seller p has seen.
func (s *simulation) purchase(ctx context.Context, rng *rand.Rand, p *market.Participant) (market.Receipt, error) {
	offers := p.Offers()
	if len(offers) == 0 {
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return market.Receipt{}, ctx.Err()
		}
		return market.Receipt{}, market.ErrUnknownSeller
	}

	offer := offers[rng.Intn(len(offers))]
	goods := offer.Goods[rng.Intn(len(offer.Goods))]
	haggle := rng.Intn(100) < s.hagglePct

	receipt, err := p.Purchase(ctx, offer.Seller, goods.Name, haggle)
	if err != nil {
		s.logger.Error("purchase failed", "buyer", p.Name(), "seller", offer.Seller, "item", goods.Name, "err", err)
	}
	return receipt, err
}

func (r *simulationReport) print(w io.Writer) {
	fmt.Fprintln(w, "Purchases:")
	for _, o := range []market.Outcome{market.OutcomeConfirmed, market.OutcomeReleased, market.OutcomeUnavailable} {
		fmt.Fprintf(w, "  %-12s %d\n", o, r.Outcomes[o])
	}
	fmt.Fprintf(w, "  %-12s %d\n", "errors", r.Errors)
	fmt.Fprintln(w, "Balances:")
	for _, a := range r.Accounts {
		fmt.Fprintf(w, "  %-12s %d  %d\n", a.Owner, a.Number, a.Balance)
	}
	fmt.Fprintf(w, "  %-12s %d\n", "total", r.Total)
}
