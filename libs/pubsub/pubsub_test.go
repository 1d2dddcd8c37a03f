package pubsub_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/bazaar/libs/log"
	"github.com/tendermint/bazaar/libs/pubsub"
)

const (
	clientID = "test-client"
	topic    = "Offers"
)

func newTestServer(ctx context.Context, t *testing.T, opts ...pubsub.Option) *pubsub.Server {
	t.Helper()

	s := pubsub.NewServer(log.TestingLogger(), opts...)
	require.NoError(t, s.Start(ctx))
	t.Cleanup(s.Wait)
	t.Cleanup(s.Stop)
	return s
}

func mustReceive(ctx context.Context, t *testing.T, sub *pubsub.Subscription, want interface{}) {
	t.Helper()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, want, msg.Data())
	require.Equal(t, sub.ID(), msg.SubscriptionID())
}

func TestSubscribeAndPublish(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestServer(ctx, t)

	sub, err := s.Subscribe(ctx, clientID, topic)
	require.NoError(t, err)
	require.Equal(t, 1, s.NumClients())

	require.NoError(t, s.Publish(ctx, topic, "Ka-Zar"))
	mustReceive(ctx, t, sub, "Ka-Zar")
}

func TestEverySubscriberGetsACopy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestServer(ctx, t)

	var subs []*pubsub.Subscription
	for i := 0; i < 3; i++ {
		sub, err := s.Subscribe(ctx, fmt.Sprintf("client-%d", i), topic)
		require.NoError(t, err)
		subs = append(subs, sub)
	}

	require.NoError(t, s.Publish(ctx, topic, "Aggamon"))
	for _, sub := range subs {
		mustReceive(ctx, t, sub, "Aggamon")
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestServer(ctx, t)

	offers, err := s.Subscribe(ctx, clientID, topic)
	require.NoError(t, err)
	other, err := s.Subscribe(ctx, clientID, "Other")
	require.NoError(t, err)

	require.NoError(t, s.Publish(ctx, "Other", "elsewhere"))
	require.NoError(t, s.Publish(ctx, topic, "here"))

	mustReceive(ctx, t, offers, "here")
	mustReceive(ctx, t, other, "elsewhere")
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestServer(ctx, t)
	require.NoError(t, s.Publish(ctx, topic, "nobody listens"))

	sub, err := s.Subscribe(ctx, clientID, topic)
	require.NoError(t, err)
	require.NoError(t, s.Publish(ctx, topic, "late"))
	mustReceive(ctx, t, sub, "late")
}

func TestSubscribeTwice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestServer(ctx, t)

	_, err := s.Subscribe(ctx, clientID, topic)
	require.NoError(t, err)
	_, err = s.Subscribe(ctx, clientID, topic)
	require.ErrorIs(t, err, pubsub.ErrAlreadySubscribed)
}

func TestUnsubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestServer(ctx, t)

	sub, err := s.Subscribe(ctx, clientID, topic)
	require.NoError(t, err)

	require.NoError(t, s.Unsubscribe(ctx, clientID, topic))
	require.ErrorIs(t, s.Unsubscribe(ctx, clientID, topic), pubsub.ErrSubscriptionNotFound)

	select {
	case <-sub.Canceled():
	case <-time.After(time.Second):
		t.Fatal("subscription was not canceled")
	}
	assert.ErrorIs(t, sub.Err(), pubsub.ErrUnsubscribed)

	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, pubsub.ErrTerminated)
	require.Zero(t, s.NumClients())
}

func TestSubscribeIsLiveOnReturn(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// with a buffered command queue, Subscribe must still not return before
	// the loop has taken the subscription
	s := pubsub.NewServer(log.NewNopLogger(), pubsub.BufferCapacity(10))
	require.NoError(t, s.Start(ctx))

	subs := make([]*pubsub.Subscription, 0, 5)
	for i := 0; i < 5; i++ {
		sub, err := s.Subscribe(ctx, fmt.Sprintf("client-%d", i), topic)
		require.NoError(t, err)
		subs = append(subs, sub)
	}

	s.Stop()
	s.Wait()

	for _, sub := range subs {
		select {
		case <-sub.Canceled():
		case <-time.After(time.Second):
			t.Fatal("subscription was not canceled on shutdown")
		}
		require.ErrorIs(t, sub.Err(), pubsub.ErrServerStopped)
	}

	_, err := s.Subscribe(ctx, clientID, topic)
	require.ErrorIs(t, err, pubsub.ErrServerStopped)
}

func TestSlowSubscriberIsTerminated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestServer(ctx, t, pubsub.SubscriptionCapacity(1))

	sub, err := s.Subscribe(ctx, clientID, topic)
	require.NoError(t, err)

	require.NoError(t, s.Publish(ctx, topic, "first"))
	require.NoError(t, s.Publish(ctx, topic, "overflow"))

	select {
	case <-sub.Canceled():
	case <-time.After(time.Second):
		t.Fatal("slow subscription was not canceled")
	}
	require.ErrorIs(t, sub.Err(), pubsub.ErrOutOfCapacity)

	// the buffered message is still delivered
	mustReceive(ctx, t, sub, "first")
	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, pubsub.ErrTerminated)
}

func TestStoppedServer(t *testing.T) {
	t.Cleanup(leaktest.Check(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := pubsub.NewServer(log.NewNopLogger())
	require.NoError(t, s.Start(ctx))

	sub, err := s.Subscribe(ctx, clientID, topic)
	require.NoError(t, err)

	s.Stop()
	s.Wait()

	select {
	case <-sub.Canceled():
	case <-time.After(time.Second):
		t.Fatal("subscription was not canceled on shutdown")
	}
	require.ErrorIs(t, s.Publish(ctx, topic, "x"), pubsub.ErrServerStopped)
}
