package chat

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sidehustle-chat/internal/metrics"
)

const (
	DefaultRedisChannel  = "chat-events"
	DefaultReorderWindow = 250 * time.Millisecond
	subscriberBuffer     = 256

	// Ordering state of a conversation nobody has written to for this long is
	// forgotten.
	orderIdleTTL = 10 * time.Minute
)

var ErrHubStopped = errors.New("hub stopped")

// Hub fans committed events out to subscribers of their topics. A single Run
// goroutine owns the subscriber set. With a Redis client, events travel
// through the Redis channel so every node's subscribers see them.
//
// Nodes publish independently, so a conversation's events can reach a hub out
// of commit order. The hub delivers them by conversation version: an envelope
// that arrives ahead of its predecessor is held for up to the reorder window,
// after which the gap is given up on and observers re-fetch.
type Hub struct {
	subscribers map[*Subscription]bool
	topics      map[string]map[*Subscription]bool
	order       map[string]*conversationOrder
	window      time.Duration

	broadcast  chan *Envelope // From Redis (or local publish) -> subscribers
	register   chan *Subscription
	unregister chan *Subscription
	follow     chan followRequest
	stopped    chan struct{}

	redis   *redis.Client
	channel string
	log     zerolog.Logger
}

type HubOption func(*Hub)

// WithReorderWindow sets how long an early envelope waits for the ones before
// it. Zero delivers in arrival order.
func WithReorderWindow(d time.Duration) HubOption {
	return func(h *Hub) { h.window = d }
}

// conversationOrder is the delivery state of one conversation, owned by Run.
type conversationOrder struct {
	last    int64 // highest version delivered, 0 until the first delivery
	pending map[int64]*Envelope
	held    time.Time // arrival of the oldest pending envelope
	touched time.Time
}

type followRequest struct {
	sub   *Subscription
	topic string
}

// Subscription receives the envelopes of the topics it follows. Its channel is
// closed when the subscription is closed, when the hub stops, or when it falls
// too far behind.
type Subscription struct {
	hub    *Hub
	events chan *Envelope
	topics map[string]bool // owned by Hub.Run
}

func NewHub(redisClient *redis.Client, channel string, log zerolog.Logger, opts ...HubOption) *Hub {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	h := &Hub{
		subscribers: make(map[*Subscription]bool),
		topics:      make(map[string]map[*Subscription]bool),
		order:       make(map[string]*conversationOrder),
		window:      DefaultReorderWindow,
		broadcast:   make(chan *Envelope, 64),
		register:    make(chan *Subscription),
		unregister:  make(chan *Subscription),
		follow:      make(chan followRequest),
		stopped:     make(chan struct{}),
		redis:       redisClient,
		channel:     channel,
		log:         log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for sub := range h.subscribers {
			h.remove(sub)
		}
		close(h.stopped)
	}()

	var tick <-chan time.Time
	if h.window > 0 {
		ticker := time.NewTicker(max(h.window/2, time.Millisecond))
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-tick:
			h.expire(now)

		case sub := <-h.register:
			h.subscribers[sub] = true
			for topic := range sub.topics {
				h.add(topic, sub)
			}
			metrics.ActiveSubscribers.Inc()

		case sub := <-h.unregister:
			if h.subscribers[sub] {
				h.remove(sub)
			}

		case req := <-h.follow:
			if h.subscribers[req.sub] && !req.sub.topics[req.topic] {
				req.sub.topics[req.topic] = true
				h.add(req.topic, req.sub)
			}

		case env := <-h.broadcast:
			h.sequence(env, time.Now())
		}
	}
}

func (h *Hub) add(topic string, sub *Subscription) {
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Subscription]bool)
		h.topics[topic] = set
	}
	set[sub] = true
}

func (h *Hub) remove(sub *Subscription) {
	for topic := range sub.topics {
		if set, ok := h.topics[topic]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	delete(h.subscribers, sub)
	close(sub.events)
	metrics.ActiveSubscribers.Dec()
}

// sequence delivers env once every lower version of its conversation has been
// delivered, holding it otherwise.
func (h *Hub) sequence(env *Envelope, now time.Time) {
	if h.window <= 0 || env.Version <= 0 {
		h.deliver(env)
		return
	}

	o, ok := h.order[env.ConversationID]
	if !ok {
		o = &conversationOrder{pending: make(map[int64]*Envelope)}
		h.order[env.ConversationID] = o
	}
	o.touched = now

	switch {
	case env.Version == o.last+1:
		h.deliver(env)
		o.last = env.Version
		h.drain(o)

	case o.last > 0 && env.Version <= o.last:
		// Its successor is already out; delivering it now would reorder.
		h.log.Warn().
			Str("conversation_id", env.ConversationID).
			Int64("version", env.Version).
			Int64("delivered", o.last).
			Msg("dropping late event")
		metrics.EventsDroppedLate.Inc()

	default:
		if len(o.pending) == 0 {
			o.held = now
		}
		o.pending[env.Version] = env
	}
}

// drain delivers held envelopes that have become next in line.
func (h *Hub) drain(o *conversationOrder) {
	for {
		env, ok := o.pending[o.last+1]
		if !ok {
			return
		}
		delete(o.pending, o.last+1)
		h.deliver(env)
		o.last++
	}
}

// expire flushes envelopes held longer than the reorder window, in version
// order, and forgets idle conversations.
func (h *Hub) expire(now time.Time) {
	for id, o := range h.order {
		if len(o.pending) > 0 && now.Sub(o.held) >= h.window {
			versions := make([]int64, 0, len(o.pending))
			for v := range o.pending {
				versions = append(versions, v)
			}
			slices.Sort(versions)
			for _, v := range versions {
				h.deliver(o.pending[v])
			}
			o.last = versions[len(versions)-1]
			clear(o.pending)
			metrics.EventGaps.Inc()
		}
		if len(o.pending) == 0 && now.Sub(o.touched) >= orderIdleTTL {
			delete(h.order, id)
		}
	}
}

// deliver sends env once to every subscriber of any of its topics. Subscribers
// whose buffer is full are dropped.
func (h *Hub) deliver(env *Envelope) {
	seen := make(map[*Subscription]bool)
	for _, topic := range env.Topics() {
		for sub := range h.topics[topic] {
			if seen[sub] {
				continue
			}
			seen[sub] = true

			select {
			case sub.events <- env:
			default:
				h.log.Warn().Str("conversation_id", env.ConversationID).Msg("dropping slow subscriber")
				metrics.SubscribersDropped.Inc()
				h.remove(sub)
			}
		}
	}
}

// Subscribe registers a subscription to topics. It fails only when ctx ends or
// the hub has stopped.
func (h *Hub) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	sub := &Subscription{
		hub:    h,
		events: make(chan *Envelope, subscriberBuffer),
		topics: make(map[string]bool, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	select {
	case h.register <- sub:
		return sub, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.stopped:
		return nil, ErrHubStopped
	}
}

func (s *Subscription) Events() <-chan *Envelope {
	return s.events
}

// Follow adds topic to the subscription.
func (s *Subscription) Follow(ctx context.Context, topic string) {
	select {
	case s.hub.follow <- followRequest{sub: s, topic: topic}:
	case <-ctx.Done():
	case <-s.hub.stopped:
	}
}

func (s *Subscription) Close() {
	select {
	case s.hub.unregister <- s:
	case <-s.hub.stopped:
	}
}

// Publish hands ev to the fan-out. Failures are logged and counted, never
// returned: the write that produced ev has already committed.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	env, err := NewEnvelope(ev)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(ev.Type())).Msg("❌ encode event")
		metrics.PublishFailures.Inc()
		return
	}
	metrics.EventsPublished.WithLabelValues(string(env.Type)).Inc()

	if h.redis != nil {
		data, err := json.Marshal(env)
		if err == nil {
			err = h.redis.Publish(ctx, h.channel, data).Err()
		}
		if err == nil {
			return
		}
		// Other nodes miss this event; local subscribers still get it.
		h.log.Error().Err(err).Str("conversation_id", env.ConversationID).Msg("❌ Redis publish failed")
		metrics.PublishFailures.Inc()
	}

	h.enqueue(ctx, env)
}

func (h *Hub) enqueue(ctx context.Context, env *Envelope) {
	select {
	case h.broadcast <- env:
	case <-ctx.Done():
		metrics.PublishFailures.Inc()
	case <-h.stopped:
	}
}

// SubscribeToRedis listens for events published by any instance, this one
// included, and feeds them to local subscribers.
func (h *Hub) SubscribeToRedis(ctx context.Context) error {
	if h.redis == nil {
		return nil
	}

	pubsub := h.redis.Subscribe(ctx, h.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env := &Envelope{}
			if err := json.Unmarshal([]byte(msg.Payload), env); err != nil {
				h.log.Warn().Err(err).Msg("skipping malformed event from Redis")
				continue
			}
			h.enqueue(ctx, env)
		}
	}
}
