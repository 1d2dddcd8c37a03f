package market

import (
	"errors"
	"fmt"

	"github.com/tendermint/bazaar/internal/bus"
	"github.com/tendermint/bazaar/libs/log"
	"github.com/tendermint/bazaar/types"
)

var (
	errNoReplyAddress    = errors.New("no reply address")
	errUnexpectedMessage = errors.New("unexpected message")
	errNoReservation     = errors.New("no reservation for account")
)

// sale outcomes, used as metric labels
const (
	saleConfirmed = "confirmed"
	saleReleased  = "released"
	saleRefunded  = "refunded"
	saleAbandoned = "abandoned"
)

// seller is the selling half of a participant. Every goods item it ever
// offered is in exactly one place: the catalog, a reservation, or sold.
// A seller is driven by a single goroutine and does no I/O of its own;
// each handler returns the envelopes to send.
type seller struct {
	logger  log.Logger
	name    string
	account int64
	ledger  bus.Address
	metrics *Metrics

	catalog      *Catalog
	reservations *reservationBook
}

func newSeller(logger log.Logger, name string, account int64, ledger bus.Address, goods []types.Goods, metrics *Metrics) *seller {
	s := &seller{
		logger:       logger,
		name:         name,
		account:      account,
		ledger:       ledger,
		metrics:      metrics,
		catalog:      NewCatalog(goods...),
		reservations: newReservationBook(),
	}
	s.updateGauges()
	return s
}

// broadcast returns the seller's full current catalog.
func (s *seller) broadcast() *types.CatalogBroadcast {
	return &types.CatalogBroadcast{SellerName: s.name, Goods: s.catalog.List()}
}

// handlePurchaseRequest reserves the requested item for the buyer if it is
// still offered. The returned envelope is the reply to the buyer, and changed
// reports whether the catalog changed. A buyer asks again only after giving
// up on its previous purchase, so a reservation it still holds is stale and
// goes back to the catalog first.
func (s *seller) handlePurchaseRequest(replyTo bus.Address, msg *types.PurchaseRequest) (reply bus.Envelope, changed bool, err error) {
	if replyTo == "" {
		return bus.Envelope{}, false, errNoReplyAddress
	}
	unavailable := bus.Envelope{To: replyTo, Message: &types.Unavailable{ItemName: msg.ItemName}}

	if stale, ok := s.reservations.takeBuyer(msg.BuyerName); ok {
		s.release(stale)
		s.metrics.Sales.With("outcome", saleAbandoned).Add(1)
		s.logger.Info("releasing stale reservation", "reservation", stale)
		changed = true
	}
	goods, ok := s.catalog.Remove(msg.ItemName)
	if !ok {
		s.logger.Info("requested goods not offered", "buyer", msg.BuyerName, "item", msg.ItemName)
		return unavailable, changed, nil
	}

	r := Reservation{
		Buyer:        msg.BuyerName,
		BuyerAccount: msg.BuyerAccount,
		ReplyTo:      replyTo,
		Goods:        goods,
	}
	if err := s.reservations.add(r); err != nil {
		// another buyer name paying from the same account
		s.catalog.Add(goods)
		s.logger.Info("refusing reservation", "reservation", r, "err", err)
		return unavailable, changed, nil
	}
	s.updateGauges()
	s.logger.Info("reserved goods", "reservation", r)

	return bus.Envelope{
		To: replyTo,
		Message: &types.Reserved{
			SellerName:    s.name,
			ItemName:      goods.Name,
			SellerAccount: s.account,
			Price:         goods.Price,
		},
	}, true, nil
}

// handleReceivedReport settles the reservation of the paying account. Full
// payment sells the goods. Underpayment releases them and refunds the
// amount received with a silent transfer. The refund is ordered before the
// buyer is told, so a balance the buyer asks for afterwards includes it.
func (s *seller) handleReceivedReport(msg *types.ReceivedReport) ([]bus.Envelope, error) {
	r, ok := s.reservations.take(msg.SenderAccount)
	if !ok {
		return nil, fmt.Errorf("%w %d", errNoReservation, msg.SenderAccount)
	}

	if msg.Amount >= r.Goods.Price {
		s.updateGauges()
		s.metrics.Sales.With("outcome", saleConfirmed).Add(1)
		s.logger.Info("sold goods", "reservation", r, "amount", msg.Amount)
		return []bus.Envelope{
			{To: r.ReplyTo, Message: &types.SaleConfirmed{ItemName: r.Goods.Name}},
		}, nil
	}

	s.release(r)
	s.metrics.Sales.With("outcome", saleRefunded).Add(1)
	s.logger.Info("underpaid; releasing goods and refunding",
		"reservation", r, "amount", msg.Amount)
	return []bus.Envelope{
		{To: s.ledger, Message: types.NewTransferOrder(s.name, r.BuyerAccount, msg.Amount, true)},
		{To: r.ReplyTo, Message: &types.SaleReleased{ItemName: r.Goods.Name}},
	}, nil
}

// handleFailedReport releases the reservation of an account whose transfer
// the ledger refused. No money moved, so nothing is refunded.
func (s *seller) handleFailedReport(msg *types.FailedReport) ([]bus.Envelope, error) {
	r, ok := s.reservations.take(msg.SenderAccount)
	if !ok {
		return nil, fmt.Errorf("%w %d", errNoReservation, msg.SenderAccount)
	}

	s.release(r)
	s.metrics.Sales.With("outcome", saleReleased).Add(1)
	s.logger.Info("payment failed; releasing goods", "reservation", r)
	return []bus.Envelope{
		{To: r.ReplyTo, Message: &types.SaleReleased{ItemName: r.Goods.Name}},
	}, nil
}

func (s *seller) release(r Reservation) {
	s.catalog.Add(r.Goods)
	s.updateGauges()
}

func (s *seller) updateGauges() {
	s.metrics.CatalogSize.Set(float64(s.catalog.Len()))
	s.metrics.Reservations.Set(float64(s.reservations.len()))
}
