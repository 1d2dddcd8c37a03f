package ledger

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/tendermint/bazaar/config"
	"github.com/tendermint/bazaar/internal/bus"
	"github.com/tendermint/bazaar/libs/log"
	"github.com/tendermint/bazaar/libs/service"
	"github.com/tendermint/bazaar/types"
)

var (
	errNoReplyAddress    = errors.New("no reply address")
	errUnexpectedMessage = errors.New("unexpected message")
	errNoDestination     = errors.New("receiver has no report destination")
)

// drop reasons, used as metric labels
const (
	reasonInvalid        = "invalid"
	reasonUnexpected     = "unexpected"
	reasonNoReplyAddress = "no_reply_address"
	reasonUnknownAccount = "unknown_account"
	reasonNoDestination  = "no_destination"
	reasonSendFailed     = "send_failed"
	reasonInternal       = "internal"
)

// transfer outcomes, used as metric labels
const (
	outcomeReceived = "received"
	outcomeSilent   = "silent"
	outcomeFailed   = "failed"
)

// Ledger owns the accounts and balances of all participants. It consumes
// the ledger queue and answers every request by message: it is never called
// directly by participants.
//
// Every account has a standing report destination: the reply address of the
// most recent OpenAccount from its owner. Settlement reports for transfers
// to an account go there, not to the sender of the transfer.
type Ledger struct {
	service.BaseService
	logger  log.Logger
	cfg     *config.LedgerConfig
	bus     bus.Bus
	store   *Store
	metrics *Metrics

	sub bus.Subscription

	// owned by the processing goroutine
	destinations map[int64]bus.Address
	numAccounts  int
}

// OptionFunc sets an optional parameter on the Ledger.
type OptionFunc func(*Ledger)

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) OptionFunc {
	return func(l *Ledger) { l.metrics = metrics }
}

// NewLedger returns a new, unstarted ledger keeping its accounts in store.
func NewLedger(
	logger log.Logger,
	cfg *config.LedgerConfig,
	b bus.Bus,
	store *Store,
	options ...OptionFunc,
) *Ledger {
	l := &Ledger{
		logger:       logger,
		cfg:          cfg,
		bus:          b,
		store:        store,
		metrics:      NopMetrics(),
		destinations: make(map[int64]bus.Address),
	}
	l.BaseService = *service.NewBaseService(logger, "Ledger", l)
	for _, opt := range options {
		opt(l)
	}
	return l
}

// OnStart starts consuming the ledger queue. The returned error is non-nil
// if the queue cannot be subscribed to.
func (l *Ledger) OnStart(ctx context.Context) error {
	sub, err := l.bus.Subscribe(ctx, bus.Queue(l.cfg.Queue))
	if err != nil {
		return fmt.Errorf("subscribing to ledger queue: %w", err)
	}

	accts, err := l.store.Accounts()
	if err != nil {
		sub.Close()
		return err
	}
	l.numAccounts = len(accts)
	l.metrics.Accounts.Set(float64(l.numAccounts))

	l.sub = sub
	go l.processLedgerQueue(ctx, sub)
	return nil
}

// OnStop stops consuming the ledger queue. Messages not yet consumed stay on
// the queue.
func (l *Ledger) OnStop() {
	l.sub.Close()
}

// Accounts returns every account known to the ledger.
func (l *Ledger) Accounts() ([]Account, error) {
	return l.store.Accounts()
}

func (l *Ledger) processLedgerQueue(ctx context.Context, sub bus.Subscription) {
	defer sub.Close()

	for {
		env, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrClosed) {
				l.logger.Error("ledger queue failed", "err", err)
			} else {
				l.logger.Debug("stopped listening on ledger queue; closing...")
			}
			return
		}

		if err := l.handleMessage(ctx, env); err != nil {
			l.metrics.DroppedMessages.With("reason", dropReason(err)).Add(1)
			l.logger.Error("dropped ledger message",
				"type", typeTag(env.Message), "reply_to", env.ReplyTo, "err", err)
		}
	}
}

// handleMessage handles one envelope from the ledger queue. It will handle
// errors and any possible panics gracefully; an error means the message was
// dropped without an answer.
func (l *Ledger) handleMessage(ctx context.Context, env bus.Envelope) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("panic in processing message: %v", e)
			l.logger.Error(
				"recovering from processing message panic",
				"err", err,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := env.Message.ValidateBasic(); err != nil {
		return err
	}

	switch msg := env.Message.(type) {
	case *types.OpenAccount:
		return l.handleOpenAccount(ctx, env.ReplyTo, msg)

	case *types.ShowBalance:
		return l.handleShowBalance(ctx, env.ReplyTo, msg)

	case *types.TransferOrder:
		return l.handleTransferOrder(ctx, msg)

	default:
		return fmt.Errorf("%w: %T", errUnexpectedMessage, msg)
	}
}

func (l *Ledger) handleOpenAccount(ctx context.Context, replyTo bus.Address, msg *types.OpenAccount) error {
	if replyTo == "" {
		return errNoReplyAddress
	}

	acct, created, err := l.store.Open(msg.ParticipantName)
	if err != nil {
		return err
	}
	if created {
		l.logger.Info("opened account", "owner", acct.Owner, "number", acct.Number)
		l.numAccounts++
		l.metrics.Accounts.Set(float64(l.numAccounts))
	}
	l.destinations[acct.Number] = replyTo

	return l.send(ctx, replyTo, &types.AccountOpened{AccountNumber: acct.Number})
}

func (l *Ledger) handleShowBalance(ctx context.Context, replyTo bus.Address, msg *types.ShowBalance) error {
	if replyTo == "" {
		return errNoReplyAddress
	}

	acct, err := l.store.AccountByName(msg.ParticipantName)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		l.logger.Info("balance requested for unknown participant", "owner", msg.ParticipantName)
		return l.send(ctx, replyTo, &types.BalanceReport{Unknown: true})
	case err != nil:
		return err
	}

	return l.send(ctx, replyTo, &types.BalanceReport{Balance: acct.Balance})
}

func (l *Ledger) handleTransferOrder(ctx context.Context, msg *types.TransferOrder) error {
	receiver, err := l.store.Account(msg.ReceiverAccount)
	if err != nil {
		return err
	}
	dest, ok := l.destinations[receiver.Number]
	if !ok {
		return fmt.Errorf("%w: account %d", errNoDestination, receiver.Number)
	}

	from, to, err := l.store.Transfer(msg.SenderName, msg.ReceiverAccount, msg.Amount, l.cfg.DebitOnTransfer)
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		l.metrics.Transfers.With("outcome", outcomeFailed).Add(1)
		l.logger.Info("transfer refused", "sender", from.Number, "receiver", to.Number,
			"amount", msg.Amount, "balance", from.Balance)
		return l.send(ctx, dest, types.NewFailedReport(from.Number))

	case err != nil:
		return err
	}

	l.logger.Debug("transfer executed", "sender", from.Number, "receiver", to.Number,
		"amount", msg.Amount, "silent", msg.Silent)

	if msg.Silent {
		l.metrics.Transfers.With("outcome", outcomeSilent).Add(1)
		return nil
	}
	l.metrics.Transfers.With("outcome", outcomeReceived).Add(1)
	return l.send(ctx, dest, types.NewReceivedReport(from.Number, msg.Amount))
}

func (l *Ledger) send(ctx context.Context, to bus.Address, msg types.Message) error {
	if err := l.bus.Send(ctx, bus.Envelope{To: to, Message: msg}); err != nil {
		return fmt.Errorf("sending %s to %s: %w", msg.TypeTag(), to, err)
	}
	return nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidMessage):
		return reasonInvalid
	case errors.Is(err, errUnexpectedMessage):
		return reasonUnexpected
	case errors.Is(err, errNoReplyAddress):
		return reasonNoReplyAddress
	case errors.Is(err, ErrAccountNotFound):
		return reasonUnknownAccount
	case errors.Is(err, errNoDestination):
		return reasonNoDestination
	case errors.Is(err, bus.ErrNoSuchDestination), errors.Is(err, bus.ErrClosed):
		return reasonSendFailed
	default:
		return reasonInternal
	}
}

func typeTag(msg types.Message) string {
	if msg == nil {
		return ""
	}
	return msg.TypeTag()
}
