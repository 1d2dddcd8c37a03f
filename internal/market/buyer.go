package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/tendermint/bazaar/config"
	"github.com/tendermint/bazaar/internal/bus"
	"github.com/tendermint/bazaar/types"
)

var (
	// ErrUnknownSeller is returned when purchasing from a seller that has
	// not broadcast a catalog.
	ErrUnknownSeller = errors.New("unknown seller")

	// ErrNoReply is returned when a counterpart does not answer within the
	// reply timeout.
	ErrNoReply = errors.New("no reply")

	// ErrNoAccount is returned when the ledger does not know the
	// participant.
	ErrNoAccount = errors.New("no ledger account")
)

// Outcome is how a purchase ended.
type Outcome int

const (
	// OutcomeUnavailable: the seller no longer offered the goods.
	OutcomeUnavailable Outcome = iota + 1
	// OutcomeConfirmed: the seller was paid and the goods are sold.
	OutcomeConfirmed
	// OutcomeReleased: the payment failed or fell short and the seller put
	// the goods back on offer.
	OutcomeReleased
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeReleased:
		return "released"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Receipt describes a finished purchase.
type Receipt struct {
	Seller  string
	Item    string
	Price   int64 // as reserved by the seller
	Paid    int64 // as ordered from the ledger
	Outcome Outcome
}

func (r Receipt) String() string {
	switch r.Outcome {
	case OutcomeUnavailable:
		return fmt.Sprintf("%s from %s: %v", r.Item, r.Seller, r.Outcome)
	default:
		return fmt.Sprintf("%s from %s for %d of %d: %v", r.Item, r.Seller, r.Paid, r.Price, r.Outcome)
	}
}

// Purchase buys the named item from seller. The seller reserves the item,
// the participant orders the ledger to pay the seller, and the seller
// settles once the ledger reports. With haggle set the participant pays
// only the configured percentage of the price, which the seller answers by
// releasing the goods and refunding the payment.
//
// Each wait for the seller is bounded by the reply timeout; on timeout
// ErrNoReply is returned together with what is known of the purchase.
func (p *Participant) Purchase(ctx context.Context, seller, item string, haggle bool) (Receipt, error) {
	p.replyMtx.Lock()
	defer p.replyMtx.Unlock()

	receipt := Receipt{Seller: seller, Item: item}
	if !p.IsRunning() {
		return receipt, ErrStopped
	}
	if !p.offers.hasSeller(seller) {
		return receipt, fmt.Errorf("%w %q", ErrUnknownSeller, seller)
	}

	err := p.send(ctx, bus.Envelope{
		To:      bus.Queue(config.SaleQueueName(seller)),
		ReplyTo: p.replies.Address(),
		Message: &types.PurchaseRequest{
			BuyerName:    p.cfg.Name,
			ItemName:     item,
			BuyerAccount: p.account,
		},
	})
	if err != nil {
		return receipt, p.purchaseFailed(err)
	}

	reply, err := p.await(ctx, p.replies, func(msg types.Message) bool {
		switch msg := msg.(type) {
		case *types.Unavailable:
			return msg.ItemName == item
		case *types.Reserved:
			return msg.ItemName == item && msg.SellerName == seller
		}
		return false
	})
	if err != nil {
		return receipt, p.purchaseFailed(fmt.Errorf("awaiting reservation: %w", err))
	}

	reserved, ok := reply.(*types.Reserved)
	if !ok {
		receipt.Outcome = OutcomeUnavailable
		p.metrics.Purchases.With("outcome", receipt.Outcome.String()).Add(1)
		p.logger.Info("goods unavailable", "seller", seller, "item", item)
		return receipt, nil
	}

	receipt.Price = reserved.Price
	receipt.Paid = reserved.Price
	if haggle {
		receipt.Paid = reserved.Price * p.cfg.HagglePercent / 100
	}
	p.logger.Info("goods reserved; paying", "seller", seller, "item", item,
		"price", receipt.Price, "amount", receipt.Paid, "account", reserved.SellerAccount)

	order := types.NewTransferOrder(p.cfg.Name, reserved.SellerAccount, receipt.Paid, false)
	if err := p.send(ctx, bus.Envelope{To: p.ledger, Message: order}); err != nil {
		return receipt, p.purchaseFailed(err)
	}

	reply, err = p.await(ctx, p.replies, func(msg types.Message) bool {
		switch msg := msg.(type) {
		case *types.SaleConfirmed:
			return msg.ItemName == item
		case *types.SaleReleased:
			return msg.ItemName == item
		}
		return false
	})
	if err != nil {
		return receipt, p.purchaseFailed(fmt.Errorf("awaiting settlement: %w", err))
	}

	receipt.Outcome = OutcomeReleased
	if _, ok := reply.(*types.SaleConfirmed); ok {
		receipt.Outcome = OutcomeConfirmed
	}
	p.metrics.Purchases.With("outcome", receipt.Outcome.String()).Add(1)
	p.logger.Info("purchase settled", "seller", seller, "item", item, "outcome", receipt.Outcome)
	return receipt, nil
}

// Balance asks the ledger for the participant's balance.
func (p *Participant) Balance(ctx context.Context) (int64, error) {
	p.replyMtx.Lock()
	defer p.replyMtx.Unlock()

	if !p.IsRunning() {
		return 0, ErrStopped
	}

	err := p.send(ctx, bus.Envelope{
		To:      p.ledger,
		ReplyTo: p.replies.Address(),
		Message: &types.ShowBalance{ParticipantName: p.cfg.Name},
	})
	if err != nil {
		return 0, err
	}

	reply, err := p.await(ctx, p.replies, func(msg types.Message) bool {
		_, ok := msg.(*types.BalanceReport)
		return ok
	})
	if err != nil {
		return 0, fmt.Errorf("awaiting balance: %w", err)
	}

	report := reply.(*types.BalanceReport)
	if report.Unknown {
		return 0, ErrNoAccount
	}
	return report.Balance, nil
}

// await returns the first message on sub accepted by match. Other messages
// are stale answers to earlier, timed out requests and are discarded.
func (p *Participant) await(
	ctx context.Context,
	sub bus.Subscription,
	match func(types.Message) bool,
) (types.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ReplyTimeout)
	defer cancel()

	for {
		env, err := sub.Next(ctx)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w within %v", ErrNoReply, p.cfg.ReplyTimeout)
		case err != nil:
			return nil, err
		}

		if err := env.Message.ValidateBasic(); err != nil {
			p.logger.Error("discarding invalid reply", "type", typeTag(env.Message), "err", err)
			continue
		}
		if match(env.Message) {
			return env.Message, nil
		}
		p.logger.Info("discarding stale reply", "type", typeTag(env.Message))
	}
}

func (p *Participant) purchaseFailed(err error) error {
	outcome := "error"
	if errors.Is(err, ErrNoReply) {
		outcome = "timeout"
	}
	p.metrics.Purchases.With("outcome", outcome).Add(1)
	return err
}
