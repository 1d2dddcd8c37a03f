package market

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/tendermint/bazaar/config"
	"github.com/tendermint/bazaar/internal/bus"
	"github.com/tendermint/bazaar/libs/log"
	"github.com/tendermint/bazaar/libs/service"
	"github.com/tendermint/bazaar/types"
)

const (
	inboxCapacity  = 100
	goodbyeTimeout = 2 * time.Second
)

// ErrStopped is returned by calls on a participant that is not running.
var ErrStopped = errors.New("participant stopped")

// source names the subscription an envelope arrived on. Each accepts its own
// set of messages.
type source int

const (
	sourceReports source = iota
	sourceOffers
	sourceSales
)

func (s source) String() string {
	switch s {
	case sourceReports:
		return "reports"
	case sourceOffers:
		return "offers"
	case sourceSales:
		return "sales"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

type inbound struct {
	source source
	env    bus.Envelope
}

// Participant is a trader on the bus. As a seller it offers a catalog on
// the offers topic and sells from it through its sale queue. As a buyer it
// purchases from other participants' catalogs.
//
// Seller state is owned by a single processing goroutine. Buyer flows
// (Purchase, Balance) run on the caller's goroutine and are serialized
// among themselves because they share one reply queue.
type Participant struct {
	service.BaseService
	logger  log.Logger
	cfg     *config.ParticipantConfig
	bus     bus.Bus
	ledger  bus.Address
	metrics *Metrics
	goods   []types.Goods

	account int64
	offers  *offerBook

	// owned by the processing goroutine once started
	seller *seller

	inbox  chan inbound
	cmds   chan func(context.Context)
	subs   []bus.Subscription
	cancel context.CancelFunc
	done   chan struct{}

	// held for the duration of a buyer flow
	replyMtx sync.Mutex
	replies  bus.Subscription
}

// OptionFunc sets an optional parameter on the Participant.
type OptionFunc func(*Participant)

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) OptionFunc {
	return func(p *Participant) { p.metrics = metrics }
}

// WithGoods sets the initial catalog, which may be empty. Without it a
// catalog is generated from the configuration.
func WithGoods(goods ...types.Goods) OptionFunc {
	return func(p *Participant) { p.goods = append([]types.Goods{}, goods...) }
}

// NewParticipant returns a new, unstarted participant. ledgerQueue names the
// queue the ledger consumes.
func NewParticipant(
	logger log.Logger,
	cfg *config.ParticipantConfig,
	ledgerQueue string,
	b bus.Bus,
	options ...OptionFunc,
) *Participant {
	p := &Participant{
		logger:  logger,
		cfg:     cfg,
		bus:     b,
		ledger:  bus.Queue(ledgerQueue),
		metrics: NopMetrics(),
		offers:  newOfferBook(),
		inbox:   make(chan inbound, inboxCapacity),
		cmds:    make(chan func(context.Context)),
		done:    make(chan struct{}),
	}
	p.BaseService = *service.NewBaseService(logger, "Participant", p)
	for _, opt := range options {
		opt(p)
	}
	return p
}

// OnStart opens (or reopens) the participant's ledger account, subscribes to
// the offers topic and its sale queue, and publishes its catalog.
func (p *Participant) OnStart(ctx context.Context) error {
	if p.goods == nil {
		goods, err := GenerateCatalog(rand.New(rand.NewSource(time.Now().UnixNano())),
			p.cfg.Name, p.cfg.CatalogSize, p.cfg.MaxPrice)
		if err != nil {
			return err
		}
		p.goods = goods
	}

	reports, err := p.bus.NewTempQueue(ctx)
	if err != nil {
		return fmt.Errorf("creating report queue: %w", err)
	}
	p.subs = append(p.subs, reports)

	if err := p.openAccount(ctx, reports); err != nil {
		p.closeSubs()
		return err
	}

	offers, err := p.bus.Subscribe(ctx, bus.Topic(p.cfg.OffersTopic))
	if err != nil {
		p.closeSubs()
		return fmt.Errorf("subscribing to offers: %w", err)
	}
	p.subs = append(p.subs, offers)

	sales, err := p.bus.Subscribe(ctx, bus.Queue(p.cfg.SaleQueue()))
	if err != nil {
		p.closeSubs()
		return fmt.Errorf("subscribing to sale queue: %w", err)
	}
	p.subs = append(p.subs, sales)

	replies, err := p.bus.NewTempQueue(ctx)
	if err != nil {
		p.closeSubs()
		return fmt.Errorf("creating reply queue: %w", err)
	}
	p.replies = replies

	p.seller = newSeller(p.logger, p.cfg.Name, p.account, p.ledger, p.goods, p.metrics)
	if err := p.publish(ctx, p.seller.broadcast()); err != nil {
		p.closeSubs()
		return err
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.pump(ctx, sourceReports, reports)
	go p.pump(ctx, sourceOffers, offers)
	go p.pump(ctx, sourceSales, sales)
	go p.processInbox(ctx)
	return nil
}

// OnStop withdraws the participant's catalog from the market and releases
// its queues. Reservations in flight are abandoned.
func (p *Participant) OnStop() {
	ctx, cancel := context.WithTimeout(context.Background(), goodbyeTimeout)
	defer cancel()
	if err := p.publish(ctx, &types.CatalogBroadcast{SellerName: p.cfg.Name}); err != nil {
		p.logger.Error("failed to withdraw catalog", "err", err)
	}

	p.cancel()
	p.closeSubs()
	<-p.done
}

// Name returns the participant's name.
func (p *Participant) Name() string { return p.cfg.Name }

// Account returns the participant's ledger account number. It is only valid
// once the participant has started.
func (p *Participant) Account() int64 { return p.account }

// Offers returns the catalogs other sellers have broadcast, sorted by seller.
func (p *Participant) Offers() []Offer { return p.offers.list() }

// Catalog returns the goods the participant currently offers.
func (p *Participant) Catalog(ctx context.Context) ([]types.Goods, error) {
	var goods []types.Goods
	err := p.exec(ctx, func(context.Context) { goods = p.seller.catalog.List() })
	return goods, err
}

// Reservations returns the goods currently reserved for buyers.
func (p *Participant) Reservations(ctx context.Context) ([]Reservation, error) {
	var list []Reservation
	err := p.exec(ctx, func(context.Context) { list = p.seller.reservations.list() })
	return list, err
}

// PublishCatalog broadcasts the participant's current catalog.
func (p *Participant) PublishCatalog(ctx context.Context) error {
	var err error
	if execErr := p.exec(ctx, func(ctx context.Context) {
		err = p.publish(ctx, p.seller.broadcast())
	}); execErr != nil {
		return execErr
	}
	return err
}

func (p *Participant) openAccount(ctx context.Context, reports bus.Subscription) error {
	err := p.bus.Send(ctx, bus.Envelope{
		To:      p.ledger,
		ReplyTo: reports.Address(),
		Message: &types.OpenAccount{ParticipantName: p.cfg.Name},
	})
	if err != nil {
		return fmt.Errorf("requesting account: %w", err)
	}

	msg, err := p.await(ctx, reports, func(msg types.Message) bool {
		_, ok := msg.(*types.AccountOpened)
		return ok
	})
	if err != nil {
		return fmt.Errorf("awaiting account: %w", err)
	}
	p.account = msg.(*types.AccountOpened).AccountNumber
	p.logger.Info("opened ledger account", "account", p.account)
	return nil
}

// exec runs fn on the processing goroutine and waits for it to return.
func (p *Participant) exec(ctx context.Context, fn func(context.Context)) error {
	ran := make(chan struct{})
	cmd := func(ctx context.Context) {
		defer close(ran)
		fn(ctx)
	}

	select {
	case p.cmds <- cmd:
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ran:
		return nil
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Participant) pump(ctx context.Context, src source, sub bus.Subscription) {
	for {
		env, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrClosed) {
				p.logger.Error("subscription failed", "source", src, "err", err)
			}
			return
		}

		select {
		case p.inbox <- inbound{source: src, env: env}:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Participant) processInbox(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("stopped processing inbox")
			return

		case fn := <-p.cmds:
			fn(ctx)

		case in := <-p.inbox:
			if err := p.handleMessage(ctx, in.source, in.env); err != nil {
				p.metrics.DroppedMessages.With("reason", dropReason(err)).Add(1)
				p.logger.Error("dropped message", "source", in.source,
					"type", typeTag(in.env.Message), "err", err)
			}
		}
	}
}

// handleMessage handles one inbound envelope. It will handle errors and any
// possible panics gracefully.
func (p *Participant) handleMessage(ctx context.Context, src source, env bus.Envelope) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("panic in processing message: %v", e)
			p.logger.Error(
				"recovering from processing message panic",
				"err", err,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := env.Message.ValidateBasic(); err != nil {
		return err
	}

	switch src {
	case sourceOffers:
		return p.handleOffer(env)
	case sourceSales:
		return p.handleSaleRequest(ctx, env)
	case sourceReports:
		return p.handleReport(ctx, env)
	default:
		return fmt.Errorf("unknown source %v", src)
	}
}

func (p *Participant) handleOffer(env bus.Envelope) error {
	msg, ok := env.Message.(*types.CatalogBroadcast)
	if !ok {
		return fmt.Errorf("%w: %T on offers topic", errUnexpectedMessage, env.Message)
	}
	if msg.SellerName == p.cfg.Name {
		return nil
	}

	p.offers.update(msg)
	p.logger.Debug("received offer", "seller", msg.SellerName, "goods", len(msg.Goods))
	return nil
}

func (p *Participant) handleSaleRequest(ctx context.Context, env bus.Envelope) error {
	msg, ok := env.Message.(*types.PurchaseRequest)
	if !ok {
		return fmt.Errorf("%w: %T on sale queue", errUnexpectedMessage, env.Message)
	}

	reply, changed, err := p.seller.handlePurchaseRequest(env.ReplyTo, msg)
	if err != nil {
		return err
	}
	if changed {
		defer p.republish(ctx)
	}
	return p.send(ctx, reply)
}

func (p *Participant) handleReport(ctx context.Context, env bus.Envelope) error {
	var (
		out    []bus.Envelope
		err    error
		offers = p.seller.catalog.Len()
	)
	switch msg := env.Message.(type) {
	case *types.ReceivedReport:
		out, err = p.seller.handleReceivedReport(msg)
	case *types.FailedReport:
		out, err = p.seller.handleFailedReport(msg)
	default:
		return fmt.Errorf("%w: %T on report queue", errUnexpectedMessage, msg)
	}
	if err != nil {
		return err
	}

	if p.seller.catalog.Len() != offers {
		defer p.republish(ctx)
	}
	for _, e := range out {
		if err := p.send(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// republish broadcasts the catalog after it changed, if so configured.
func (p *Participant) republish(ctx context.Context) {
	if !p.cfg.RepublishOnChange {
		return
	}
	if err := p.publish(ctx, p.seller.broadcast()); err != nil {
		p.logger.Error("failed to republish catalog", "err", err)
	}
}

func (p *Participant) publish(ctx context.Context, msg *types.CatalogBroadcast) error {
	return p.send(ctx, bus.Envelope{To: bus.Topic(p.cfg.OffersTopic), Message: msg})
}

func (p *Participant) send(ctx context.Context, env bus.Envelope) error {
	if err := p.bus.Send(ctx, env); err != nil {
		return fmt.Errorf("sending %s to %s: %w", env.Message.TypeTag(), env.To, err)
	}
	return nil
}

func (p *Participant) closeSubs() {
	for _, sub := range p.subs {
		sub.Close()
	}
	if p.replies != nil {
		p.replies.Close()
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidMessage):
		return "invalid"
	case errors.Is(err, errUnexpectedMessage):
		return "unexpected"
	case errors.Is(err, errNoReplyAddress):
		return "no_reply_address"
	case errors.Is(err, errNoReservation):
		return "no_reservation"
	case errors.Is(err, bus.ErrNoSuchDestination), errors.Is(err, bus.ErrClosed):
		return "send_failed"
	default:
		return "internal"
	}
}

func typeTag(msg types.Message) string {
	if msg == nil {
		return ""
	}
	return msg.TypeTag()
}
