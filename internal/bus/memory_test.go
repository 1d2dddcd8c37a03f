package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/go-kit/kit/metrics/generic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/bazaar/libs/log"
	"github.com/tendermint/bazaar/types"
)

func startMemBus(ctx context.Context, t *testing.T, opts ...MemBusOption) *MemBus {
	t.Helper()
	b := NewMemBus(log.TestingLogger(), opts...)
	require.NoError(t, b.Start(ctx))
	return b
}

func nextWithTimeout(ctx context.Context, t *testing.T, sub Subscription) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	env, err := sub.Next(ctx)
	require.NoError(t, err)
	return env
}

func TestAddress(t *testing.T) {
	testCases := []struct {
		addr  Address
		kind  Kind
		name  string
		valid bool
	}{
		{Queue("LedgerQueue"), KindQueue, "LedgerQueue", true},
		{Topic("Offers"), KindTopic, "Offers", true},
		{tempAddress("abc"), KindTemp, "abc", true},
		{Queue(""), KindQueue, "", false},
		{Address("mailto://x"), KindUnknown, "x", false},
		{Address(""), KindUnknown, "", false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.kind, tc.addr.Kind(), tc.addr)
		assert.Equal(t, tc.name, tc.addr.Name(), tc.addr)
		if tc.valid {
			assert.NoError(t, tc.addr.ValidateBasic())
		} else {
			assert.True(t, errors.Is(tc.addr.ValidateBasic(), ErrInvalidAddress))
		}
	}
}

func TestMemBusQueueRetainsMessages(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := startMemBus(ctx, t)

	// sent before anybody consumes the queue
	require.NoError(t, b.Send(ctx, Envelope{
		To:      Queue("LedgerQueue"),
		ReplyTo: Queue("aliceSaleQueue"),
		Message: &types.OpenAccount{ParticipantName: "alice"},
	}))

	sub, err := b.Subscribe(ctx, Queue("LedgerQueue"))
	require.NoError(t, err)
	defer sub.Close()

	env := nextWithTimeout(ctx, t, sub)
	assert.Equal(t, Queue("LedgerQueue"), env.To)
	assert.Equal(t, Queue("aliceSaleQueue"), env.ReplyTo)
	assert.Equal(t, &types.OpenAccount{ParticipantName: "alice"}, env.Message)
}

func TestMemBusQueueCompetingConsumers(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := startMemBus(ctx, t)

	const numMsgs = 50
	subs := make([]Subscription, 3)
	for i := range subs {
		sub, err := b.Subscribe(ctx, Queue("work"))
		require.NoError(t, err)
		defer sub.Close()
		subs[i] = sub
	}

	for i := 0; i < numMsgs; i++ {
		require.NoError(t, b.Send(ctx, Envelope{
			To:      Queue("work"),
			Message: &types.SaleConfirmed{ItemName: string(rune('a' + i%26))},
		}))
	}

	var (
		mtx      sync.Mutex
		received int
		wg       sync.WaitGroup
	)
	recvCtx, recvCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer recvCancel()
	for _, sub := range subs {
		wg.Add(1)
		go func(sub Subscription) {
			defer wg.Done()
			for {
				if _, err := sub.Next(recvCtx); err != nil {
					return
				}
				mtx.Lock()
				received++
				mtx.Unlock()
			}
		}(sub)
	}
	wg.Wait()

	assert.Equal(t, numMsgs, received, "every message is consumed exactly once")
}

func TestMemBusTopicBroadcast(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := startMemBus(ctx, t)

	subs := make([]Subscription, 3)
	for i := range subs {
		sub, err := b.Subscribe(ctx, Topic("Offers"))
		require.NoError(t, err)
		defer sub.Close()
		subs[i] = sub
	}

	catalog := &types.CatalogBroadcast{
		SellerName: "bob",
		Goods:      []types.Goods{{Name: "BO-0001", Price: 400}},
	}
	require.NoError(t, b.Send(ctx, Envelope{To: Topic("Offers"), Message: catalog}))

	var got []*types.CatalogBroadcast
	for _, sub := range subs {
		env := nextWithTimeout(ctx, t, sub)
		assert.Equal(t, catalog, env.Message)
		got = append(got, env.Message.(*types.CatalogBroadcast))
	}

	// receivers get their own copies
	got[0].Goods[0].Price = 1
	assert.EqualValues(t, 400, got[1].Goods[0].Price)
	assert.EqualValues(t, 400, catalog.Goods[0].Price)
}

func TestMemBusTopicUnsubscribe(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := startMemBus(ctx, t)

	sub, err := b.Subscribe(ctx, Topic("Offers"))
	require.NoError(t, err)
	sub.Close()

	_, err = sub.Next(ctx)
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)

	// no subscribers left, the message is dropped
	require.NoError(t, b.Send(ctx, Envelope{
		To:      Topic("Offers"),
		Message: &types.CatalogBroadcast{SellerName: "bob"},
	}))
}

func TestMemBusTopicSubscribersGauge(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := NopMetrics()
	gauge := generic.NewGauge("topic_subscribers")
	metrics.TopicSubscribers = gauge
	b := startMemBus(ctx, t, WithMetrics(metrics))
	defer b.Stop()

	a, err := b.Subscribe(ctx, Topic("Offers"))
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, Topic("Offers"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, gauge.Value())

	a.Close()
	assert.EqualValues(t, 1, gauge.Value())
}

func TestMemBusTempQueue(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := startMemBus(ctx, t)

	tmp, err := b.NewTempQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindTemp, tmp.Address().Kind())

	other, err := b.NewTempQueue(ctx)
	require.NoError(t, err)
	defer other.Close()
	assert.NotEqual(t, tmp.Address(), other.Address())

	require.NoError(t, b.Send(ctx, Envelope{
		To:      tmp.Address(),
		Message: &types.AccountOpened{AccountNumber: 1000000},
	}))
	env := nextWithTimeout(ctx, t, tmp)
	assert.Equal(t, &types.AccountOpened{AccountNumber: 1000000}, env.Message)

	tmp.Close()
	tmp.Close()

	err = b.Send(ctx, Envelope{
		To:      tmp.Address(),
		Message: &types.AccountOpened{AccountNumber: 1000000},
	})
	assert.True(t, errors.Is(err, ErrNoSuchDestination), "got %v", err)

	_, err = b.Subscribe(ctx, other.Address())
	assert.True(t, errors.Is(err, ErrInvalidAddress), "temp queues have a single consumer")
}

func TestMemBusInvalidEnvelope(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := startMemBus(ctx, t)

	for _, env := range []Envelope{
		{To: Queue("x")},
		{To: "", Message: &types.Unavailable{}},
		{To: Queue("x"), ReplyTo: "nowhere", Message: &types.Unavailable{}},
	} {
		err := b.Send(ctx, env)
		assert.True(t, errors.Is(err, ErrInvalidEnvelope), "got %v", err)
	}
}

func TestMemBusDropsMalformedPackets(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := startMemBus(ctx, t)

	sub, err := b.Subscribe(ctx, Queue("LedgerQueue"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.SendPacket(ctx, Packet{
		To:      Queue("LedgerQueue"),
		Payload: []byte(`{"type":"bazaar/Bogus","value":{}}`),
	}))
	require.NoError(t, b.Send(ctx, Envelope{
		To:      Queue("LedgerQueue"),
		Message: &types.ShowBalance{ParticipantName: "alice"},
	}))

	env := nextWithTimeout(ctx, t, sub)
	assert.Equal(t, &types.ShowBalance{ParticipantName: "alice"}, env.Message)
}

func TestMemBusStop(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := startMemBus(ctx, t)

	qsub, err := b.Subscribe(ctx, Queue("q"))
	require.NoError(t, err)
	tsub, err := b.Subscribe(ctx, Topic("t"))
	require.NoError(t, err)

	b.Stop()
	b.Wait()

	_, err = qsub.Next(ctx)
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)

	nctx, ncancel := context.WithTimeout(ctx, time.Second)
	defer ncancel()
	_, err = tsub.Next(nctx)
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)

	_, err = b.NewTempQueue(ctx)
	assert.True(t, errors.Is(err, ErrClosed))
}
