package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/tendermint/bazaar/internal/bus"
	"github.com/tendermint/bazaar/libs/log"
	"github.com/tendermint/bazaar/types"
)

const (
	testSellerAccount = 1000000
	testLedgerQueue   = bus.Address("queue://LedgerQueue")
)

func newTestSeller(goods ...types.Goods) *seller {
	return newSeller(log.NewNopLogger(), "seller", testSellerAccount, testLedgerQueue, goods, NopMetrics())
}

func purchaseRequest(buyer string, account int64, item string) *types.PurchaseRequest {
	return &types.PurchaseRequest{BuyerName: buyer, ItemName: item, BuyerAccount: account}
}

func TestSellerPurchaseRequest(t *testing.T) {
	s := newTestSeller(types.Goods{Name: "x", Price: 400}, types.Goods{Name: "y", Price: 10})

	_, _, err := s.handlePurchaseRequest("", purchaseRequest("buyer", 1, "x"))
	assert.ErrorIs(t, err, errNoReplyAddress)

	reply, reserved, err := s.handlePurchaseRequest("temp://buyer", purchaseRequest("buyer", 1, "x"))
	require.NoError(t, err)
	require.True(t, reserved)
	assert.Equal(t, bus.Address("temp://buyer"), reply.To)
	assert.Equal(t, &types.Reserved{
		SellerName:    "seller",
		ItemName:      "x",
		SellerAccount: testSellerAccount,
		Price:         400,
	}, reply.Message)
	assert.False(t, s.catalog.Has("x"))

	// already reserved
	reply, reserved, err = s.handlePurchaseRequest("temp://other", purchaseRequest("other", 2, "x"))
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Equal(t, &types.Unavailable{ItemName: "x"}, reply.Message)

	// never offered
	_, reserved, err = s.handlePurchaseRequest("temp://other", purchaseRequest("other", 2, "nope"))
	require.NoError(t, err)
	assert.False(t, reserved)

	// a buyer asking again gave up on its reservation, which goes back on offer
	reply, changed, err := s.handlePurchaseRequest("temp://buyer2", purchaseRequest("buyer", 1, "y"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.IsType(t, &types.Reserved{}, reply.Message)
	assert.True(t, s.catalog.Has("x"))
	assert.False(t, s.catalog.Has("y"))
	require.Len(t, s.reservations.list(), 1)
	assert.Equal(t, bus.Address("temp://buyer2"), s.reservations.list()[0].ReplyTo)

	// the release alone changes the catalog
	reply, changed, err = s.handlePurchaseRequest("temp://buyer3", purchaseRequest("buyer", 1, "nope"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, &types.Unavailable{ItemName: "nope"}, reply.Message)
	assert.True(t, s.catalog.Has("y"))
	assert.Zero(t, s.reservations.len())

	// the old account no longer settles anything
	_, err = s.handleFailedReport(types.NewFailedReport(1))
	assert.ErrorIs(t, err, errNoReservation)
}

func TestSellerSettlement(t *testing.T) {
	const buyerAccount = 1000001

	testCases := map[string]struct {
		report      types.Message
		wantOut     []bus.Envelope
		wantOffered bool
	}{
		"exact payment": {
			report: types.NewReceivedReport(buyerAccount, 400),
			wantOut: []bus.Envelope{
				{To: "temp://buyer", Message: &types.SaleConfirmed{ItemName: "x"}},
			},
		},
		"overpayment": {
			report: types.NewReceivedReport(buyerAccount, 401),
			wantOut: []bus.Envelope{
				{To: "temp://buyer", Message: &types.SaleConfirmed{ItemName: "x"}},
			},
		},
		"underpayment is refunded": {
			report: types.NewReceivedReport(buyerAccount, 200),
			wantOut: []bus.Envelope{
				{To: testLedgerQueue, Message: types.NewTransferOrder("seller", buyerAccount, 200, true)},
				{To: "temp://buyer", Message: &types.SaleReleased{ItemName: "x"}},
			},
			wantOffered: true,
		},
		"failed transfer": {
			report: types.NewFailedReport(buyerAccount),
			wantOut: []bus.Envelope{
				{To: "temp://buyer", Message: &types.SaleReleased{ItemName: "x"}},
			},
			wantOffered: true,
		},
	}
	for name, tc := range testCases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			s := newTestSeller(types.Goods{Name: "x", Price: 400})
			_, reserved, err := s.handlePurchaseRequest("temp://buyer", purchaseRequest("buyer", buyerAccount, "x"))
			require.NoError(t, err)
			require.True(t, reserved)

			var out []bus.Envelope
			switch report := tc.report.(type) {
			case *types.ReceivedReport:
				out, err = s.handleReceivedReport(report)
			case *types.FailedReport:
				out, err = s.handleFailedReport(report)
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantOut, out)
			assert.Equal(t, tc.wantOffered, s.catalog.Has("x"))
			assert.Zero(t, s.reservations.len())

			// a second report for the same account finds nothing
			_, err = s.handleFailedReport(types.NewFailedReport(buyerAccount))
			assert.ErrorIs(t, err, errNoReservation)
		})
	}
}

func TestSellerProperties(t *testing.T) {
	rapid.Check(t, rapid.Run(&sellerModel{}))
}

// sellerModel checks that every item a seller ever offered is in exactly one
// place: the catalog, a reservation, or sold.
type sellerModel struct {
	seller *seller

	goods    map[string]types.Goods
	buyers   map[string]int64
	reserved map[string]string // buyer -> item
	sold     map[string]bool
}

func (m *sellerModel) Init(t *rapid.T) {
	m.goods = make(map[string]types.Goods)
	var goods []types.Goods
	n := rapid.IntRange(1, 5).Draw(t, "goods").(int)
	for i := 0; i < n; i++ {
		g := types.Goods{Name: string(rune('a' + i)), Price: rapid.Int64Range(0, 1000).Draw(t, "price").(int64)}
		m.goods[g.Name] = g
		goods = append(goods, g)
	}
	m.seller = newTestSeller(goods...)
	m.buyers = map[string]int64{"alice": 1, "bob": 2, "carol": 3}
	m.reserved = make(map[string]string)
	m.sold = make(map[string]bool)
}

func (m *sellerModel) drawBuyer(t *rapid.T) (string, int64) {
	buyer := rapid.SampledFrom([]string{"alice", "bob", "carol"}).Draw(t, "buyer").(string)
	return buyer, m.buyers[buyer]
}

func (m *sellerModel) Request(t *rapid.T) {
	buyer, account := m.drawBuyer(t)
	item := rapid.SampledFrom([]string{"a", "b", "c", "d", "e", "f"}).Draw(t, "item").(string)

	held, holding := m.reserved[buyer]
	// a held reservation is released before the request is served
	offered := m.seller.catalog.Has(item) || (holding && held == item)
	delete(m.reserved, buyer)

	reply, changed, err := m.seller.handlePurchaseRequest(bus.Address("temp://"+buyer), purchaseRequest(buyer, account, item))
	require.NoError(t, err)
	require.Equal(t, offered || holding, changed)
	if offered {
		require.IsType(t, &types.Reserved{}, reply.Message)
		m.reserved[buyer] = item
	} else {
		require.Equal(t, &types.Unavailable{ItemName: item}, reply.Message)
	}
}

func (m *sellerModel) Pay(t *rapid.T) {
	buyer, account := m.drawBuyer(t)
	amount := rapid.Int64Range(0, 1000).Draw(t, "amount").(int64)

	out, err := m.seller.handleReceivedReport(types.NewReceivedReport(account, amount))
	item, holding := m.reserved[buyer]
	if !holding {
		require.ErrorIs(t, err, errNoReservation)
		return
	}
	require.NoError(t, err)
	delete(m.reserved, buyer)

	if amount >= m.goods[item].Price {
		require.Len(t, out, 1)
		m.sold[item] = true
		return
	}
	require.Len(t, out, 2)
	refund, ok := out[0].Message.(*types.TransferOrder)
	require.True(t, ok)
	require.True(t, refund.Silent)
	require.Equal(t, amount, refund.Amount)
	require.Equal(t, account, refund.ReceiverAccount)
}

func (m *sellerModel) Fail(t *rapid.T) {
	buyer, account := m.drawBuyer(t)

	out, err := m.seller.handleFailedReport(types.NewFailedReport(account))
	if _, holding := m.reserved[buyer]; !holding {
		require.ErrorIs(t, err, errNoReservation)
		return
	}
	require.NoError(t, err)
	require.Len(t, out, 1)
	delete(m.reserved, buyer)
}

func (m *sellerModel) Check(t *rapid.T) {
	reservations := make(map[string]bool)
	for _, r := range m.seller.reservations.list() {
		require.False(t, reservations[r.Goods.Name], "%s reserved twice", r.Goods.Name)
		reservations[r.Goods.Name] = true
		require.Equal(t, m.reserved[r.Buyer], r.Goods.Name)
	}
	require.Len(t, reservations, len(m.reserved))

	for name := range m.goods {
		places := 0
		if m.seller.catalog.Has(name) {
			places++
		}
		if reservations[name] {
			places++
		}
		if m.sold[name] {
			places++
		}
		require.Equal(t, 1, places, "%s is in %d places", name, places)
	}
	require.Equal(t, len(m.goods), m.seller.catalog.Len()+len(reservations)+len(m.sold))
}
