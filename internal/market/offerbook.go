package market

import (
	"sort"
	"sync"

	"github.com/tendermint/bazaar/types"
)

// Offer is the last catalog a remote seller broadcast.
type Offer struct {
	Seller string
	Goods  []types.Goods
}

// offerBook is a participant's view of the other sellers' catalogs. It is
// written by the processing goroutine and read by buyer flows, so unlike the
// rest of the participant state it carries its own lock.
type offerBook struct {
	mtx    sync.RWMutex
	offers map[string][]types.Goods
}

func newOfferBook() *offerBook {
	return &offerBook{offers: make(map[string][]types.Goods)}
}

// update replaces the seller's whole catalog. An empty catalog withdraws the
// seller.
func (b *offerBook) update(msg *types.CatalogBroadcast) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if msg.IsWithdrawal() {
		delete(b.offers, msg.SellerName)
		return
	}
	goods := make([]types.Goods, len(msg.Goods))
	copy(goods, msg.Goods)
	b.offers[msg.SellerName] = types.SortGoods(goods)
}

func (b *offerBook) hasSeller(seller string) bool {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	_, ok := b.offers[seller]
	return ok
}

func (b *offerBook) len() int {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	return len(b.offers)
}

// list returns a copy of all offers sorted by seller name.
func (b *offerBook) list() []Offer {
	b.mtx.RLock()
	defer b.mtx.RUnlock()

	list := make([]Offer, 0, len(b.offers))
	for seller, goods := range b.offers {
		cp := make([]types.Goods, len(goods))
		copy(cp, goods)
		list = append(list, Offer{Seller: seller, Goods: cp})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Seller < list[j].Seller })
	return list
}
