package market

import (
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/tendermint/bazaar/internal/bus"
	"github.com/tendermint/bazaar/types"
)

var errAlreadyReserved = errors.New("buyer already holds a reservation")

// Reservation is goods held for a buyer between the seller's Reserved reply
// and the ledger's settlement report.
type Reservation struct {
	Buyer        string
	BuyerAccount int64
	ReplyTo      bus.Address
	Goods        types.Goods
}

func (r Reservation) MarshalZerologObject(e *zerolog.Event) {
	e.Str("buyer", r.Buyer)
	e.Int64("buyer_account", r.BuyerAccount)
	e.Str("reply_to", r.ReplyTo.String())
	e.Object("goods", r.Goods)
}

// reservationBook indexes reservations by buyer name and by buyer account.
// Ledger reports only carry the sender account, so the account index is the
// one used on settlement.
type reservationBook struct {
	byBuyer   map[string]Reservation
	byAccount map[int64]string
}

func newReservationBook() *reservationBook {
	return &reservationBook{
		byBuyer:   make(map[string]Reservation),
		byAccount: make(map[int64]string),
	}
}

func (b *reservationBook) add(r Reservation) error {
	if _, ok := b.byBuyer[r.Buyer]; ok {
		return errAlreadyReserved
	}
	if _, ok := b.byAccount[r.BuyerAccount]; ok {
		return errAlreadyReserved
	}
	b.byBuyer[r.Buyer] = r
	b.byAccount[r.BuyerAccount] = r.Buyer
	return nil
}

// take removes and returns the reservation held by the owner of account.
func (b *reservationBook) take(account int64) (Reservation, bool) {
	buyer, ok := b.byAccount[account]
	if !ok {
		return Reservation{}, false
	}
	r := b.byBuyer[buyer]
	delete(b.byBuyer, buyer)
	delete(b.byAccount, account)
	return r, true
}

// takeBuyer removes and returns the reservation held by buyer.
func (b *reservationBook) takeBuyer(buyer string) (Reservation, bool) {
	r, ok := b.byBuyer[buyer]
	if !ok {
		return Reservation{}, false
	}
	delete(b.byBuyer, buyer)
	delete(b.byAccount, r.BuyerAccount)
	return r, true
}

func (b *reservationBook) len() int { return len(b.byBuyer) }

func (b *reservationBook) list() []Reservation {
	list := make([]Reservation, 0, len(b.byBuyer))
	for _, r := range b.byBuyer {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Buyer < list[j].Buyer })
	return list
}
