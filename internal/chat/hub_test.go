package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidehustle-chat/internal/metrics"
)

func startHub(t *testing.T, client *redis.Client, opts ...HubOption) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(client, "", zerolog.Nop(), opts...)
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.stopped
	})
	return h
}

func testEvent(convID string, version int64, participants ...string) NewMessage {
	return NewMessage{
		eventHeader: eventHeader{ConversationID: convID, Participants: participants, Version: version},
		Message:     &Message{ID: fmt.Sprintf("m-%d", version), ConversationID: convID, Seq: version, Content: "hi"},
	}
}

func receive(t *testing.T, sub *Subscription) *Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func requireNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case env := <-sub.Events():
		t.Fatalf("unexpected event %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_LocalDelivery(t *testing.T) {
	h := startHub(t, nil)
	ctx := context.Background()

	alice, err := h.Subscribe(ctx, UserTopic("alice"))
	require.NoError(t, err)
	bob, err := h.Subscribe(ctx, UserTopic("bob"))
	require.NoError(t, err)
	carol, err := h.Subscribe(ctx, UserTopic("carol"))
	require.NoError(t, err)

	h.Publish(ctx, testEvent("c1", 1, "alice", "bob"))

	for _, sub := range []*Subscription{alice, bob} {
		env := receive(t, sub)
		assert.Equal(t, EventNewMessage, env.Type)
		assert.Equal(t, "c1", env.ConversationID)
		assert.Equal(t, int64(1), env.Version)
	}
	requireNoEvent(t, carol)
}

func TestHub_DeliversOncePerSubscriber(t *testing.T) {
	h := startHub(t, nil)
	ctx := context.Background()

	sub, err := h.Subscribe(ctx, UserTopic("alice"), ConversationTopic("c1"))
	require.NoError(t, err)

	h.Publish(ctx, testEvent("c1", 1, "alice", "bob"))
	receive(t, sub)
	requireNoEvent(t, sub)
}

func TestHub_Follow(t *testing.T) {
	h := startHub(t, nil)
	ctx := context.Background()

	watcher, err := h.Subscribe(ctx)
	require.NoError(t, err)

	h.Publish(ctx, testEvent("c1", 1, "alice", "bob"))
	requireNoEvent(t, watcher)

	watcher.Follow(ctx, ConversationTopic("c1"))
	h.Publish(ctx, testEvent("c1", 2, "alice", "bob"))
	assert.Equal(t, int64(2), receive(t, watcher).Version)
}

func TestHub_PreservesPublishOrder(t *testing.T) {
	h := startHub(t, nil)
	ctx := context.Background()

	sub, err := h.Subscribe(ctx, UserTopic("alice"))
	require.NoError(t, err)

	for v := int64(1); v <= 20; v++ {
		h.Publish(ctx, testEvent("c1", v, "alice", "bob"))
	}
	for v := int64(1); v <= 20; v++ {
		assert.Equal(t, v, receive(t, sub).Version)
	}
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	h := startHub(t, nil)
	ctx := context.Background()

	slow, err := h.Subscribe(ctx, UserTopic("alice"))
	require.NoError(t, err)
	fast, err := h.Subscribe(ctx, UserTopic("bob"))
	require.NoError(t, err)

	last := int64(subscriberBuffer + 1)
	caughtUp := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range fast.Events() {
			if env.Version == last {
				close(caughtUp)
			}
		}
	}()

	for v := int64(1); v <= last; v++ {
		h.Publish(ctx, testEvent("c1", v, "alice", "bob"))
	}
	select {
	case <-caughtUp:
	case <-time.After(5 * time.Second):
		t.Fatal("fast subscriber did not receive every event")
	}

	// the slow subscriber got a full buffer, then its channel was closed
	count := 0
	for range slow.Events() {
		count++
	}
	assert.Equal(t, subscriberBuffer, count)

	fast.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fast subscriber was not closed")
	}
}

func TestHub_Stop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(nil, "", zerolog.Nop())
	go h.Run(ctx)

	sub, err := h.Subscribe(context.Background(), UserTopic("alice"))
	require.NoError(t, err)

	cancel()
	<-h.stopped

	_, ok := <-sub.Events()
	assert.False(t, ok)

	_, err = h.Subscribe(context.Background(), UserTopic("alice"))
	assert.ErrorIs(t, err, ErrHubStopped)

	// both return once the hub is gone
	sub.Close()
	h.Publish(context.Background(), testEvent("c1", 1, "alice", "bob"))
}

func TestHub_RedisBridge(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newNode := func() *Hub {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		h := startHub(t, client)
		go h.SubscribeToRedis(ctx)
		return h
	}
	nodeA, nodeB := newNode(), newNode()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DefaultRedisChannel)[DefaultRedisChannel] == 2
	}, 2*time.Second, 10*time.Millisecond)

	onA, err := nodeA.Subscribe(ctx, UserTopic("alice"))
	require.NoError(t, err)
	onB, err := nodeB.Subscribe(ctx, UserTopic("bob"))
	require.NoError(t, err)

	nodeA.Publish(ctx, testEvent("c1", 1, "alice", "bob"))

	envA := receive(t, onA)
	envB := receive(t, onB)
	assert.Equal(t, "c1", envB.ConversationID)
	assert.Equal(t, envA.Payload, envB.Payload)

	ev, err := envB.Event()
	require.NoError(t, err)
	msg, ok := ev.(NewMessage)
	require.True(t, ok)
	assert.Equal(t, "m-1", msg.Message.ID)
}

func TestHub_RedisDownFallsBackToLocal(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	h := startHub(t, client)
	ctx := context.Background()

	sub, err := h.Subscribe(ctx, UserTopic("alice"))
	require.NoError(t, err)

	mr.Close()
	h.Publish(ctx, testEvent("c1", 1, "alice", "bob"))
	assert.Equal(t, "c1", receive(t, sub).ConversationID)
}

func TestHub_SubscribeToRedisWithoutClient(t *testing.T) {
	h := NewHub(nil, "", zerolog.Nop())
	assert.NoError(t, h.SubscribeToRedis(context.Background()))
}

// attach registers a subscription without a running hub, for driving
// sequence and expire directly.
func attach(h *Hub, topics ...string) *Subscription {
	sub := &Subscription{hub: h, events: make(chan *Envelope, subscriberBuffer), topics: make(map[string]bool)}
	h.subscribers[sub] = true
	for _, topic := range topics {
		sub.topics[topic] = true
		h.add(topic, sub)
	}
	return sub
}

func envelope(t *testing.T, convID string, version int64) *Envelope {
	t.Helper()
	env, err := NewEnvelope(testEvent(convID, version, "alice", "bob"))
	require.NoError(t, err)
	return env
}

func delivered(sub *Subscription) []int64 {
	var versions []int64
	for {
		select {
		case env := <-sub.Events():
			versions = append(versions, env.Version)
		default:
			return versions
		}
	}
}

func TestHub_SequenceByVersion(t *testing.T) {
	t0 := time.Now()

	tests := []struct {
		name    string
		arrival []int64
		want    []int64
	}{
		{"in order", []int64{1, 2, 3}, []int64{1, 2, 3}},
		{"successor overtakes", []int64{1, 3, 2}, []int64{1, 2, 3}},
		{"first event overtaken", []int64{2, 1}, []int64{1, 2}},
		{"held behind several", []int64{4, 3, 2, 1}, []int64{1, 2, 3, 4}},
		{"unversioned passes through", []int64{0, 1}, []int64{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(nil, "", zerolog.Nop(), WithReorderWindow(time.Second))
			sub := attach(h, UserTopic("alice"))
			for i, v := range tt.arrival {
				h.sequence(envelope(t, "c1", v), t0.Add(time.Duration(i)*time.Millisecond))
			}
			assert.Equal(t, tt.want, delivered(sub))
		})
	}
}

func TestHub_SequenceKeepsConversationsIndependent(t *testing.T) {
	h := NewHub(nil, "", zerolog.Nop(), WithReorderWindow(time.Second))
	sub := attach(h, UserTopic("alice"))
	now := time.Now()

	h.sequence(envelope(t, "c1", 2), now)
	h.sequence(envelope(t, "c2", 1), now)

	env := <-sub.Events()
	assert.Equal(t, "c2", env.ConversationID)
	assert.Empty(t, delivered(sub))
}

func TestHub_ExpireFlushesGapAndDropsLateEvents(t *testing.T) {
	h := NewHub(nil, "", zerolog.Nop(), WithReorderWindow(time.Second))
	sub := attach(h, UserTopic("alice"))
	t0 := time.Now()
	gaps := testutil.ToFloat64(metrics.EventGaps)
	late := testutil.ToFloat64(metrics.EventsDroppedLate)

	h.sequence(envelope(t, "c1", 1), t0)
	h.sequence(envelope(t, "c1", 4), t0)
	h.sequence(envelope(t, "c1", 3), t0.Add(100*time.Millisecond))
	assert.Equal(t, []int64{1}, delivered(sub))

	h.expire(t0.Add(500 * time.Millisecond))
	assert.Empty(t, delivered(sub), "still inside the window")

	h.expire(t0.Add(time.Second))
	assert.Equal(t, []int64{3, 4}, delivered(sub))
	assert.Equal(t, gaps+1, testutil.ToFloat64(metrics.EventGaps))

	// version 2 missed its slot; delivering it now would reorder
	h.sequence(envelope(t, "c1", 2), t0.Add(2*time.Second))
	assert.Empty(t, delivered(sub))
	assert.Equal(t, late+1, testutil.ToFloat64(metrics.EventsDroppedLate))

	h.sequence(envelope(t, "c1", 5), t0.Add(2*time.Second))
	assert.Equal(t, []int64{5}, delivered(sub))
}

func TestHub_ExpireForgetsIdleConversations(t *testing.T) {
	h := NewHub(nil, "", zerolog.Nop(), WithReorderWindow(time.Second))
	t0 := time.Now()

	h.sequence(envelope(t, "c1", 1), t0)
	h.expire(t0.Add(time.Minute))
	assert.Contains(t, h.order, "c1")

	h.expire(t0.Add(orderIdleTTL))
	assert.NotContains(t, h.order, "c1")
}

func TestHub_ZeroWindowDeliversInArrivalOrder(t *testing.T) {
	h := NewHub(nil, "", zerolog.Nop(), WithReorderWindow(0))
	sub := attach(h, UserTopic("alice"))

	for _, v := range []int64{3, 1, 2} {
		h.sequence(envelope(t, "c1", v), time.Now())
	}
	assert.Equal(t, []int64{3, 1, 2}, delivered(sub))
	assert.Empty(t, h.order)
}

func TestHub_RunReleasesHeldEventAfterWindow(t *testing.T) {
	h := startHub(t, nil, WithReorderWindow(50*time.Millisecond))
	ctx := context.Background()

	sub, err := h.Subscribe(ctx, UserTopic("alice"))
	require.NoError(t, err)

	// a hub that joins mid-conversation never sees version 1
	h.Publish(ctx, testEvent("c1", 7, "alice", "bob"))
	assert.Equal(t, int64(7), receive(t, sub).Version)

	h.Publish(ctx, testEvent("c1", 8, "alice", "bob"))
	assert.Equal(t, int64(8), receive(t, sub).Version)
}
