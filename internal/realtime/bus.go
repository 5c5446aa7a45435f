package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"support-inbox-backend/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

const (
	TableConversations = "conversations"
	TableMessages      = "messages"
)

// ChangeEvent is the typed notification delivered to subscribers for every
// committed write. Delivery is at-least-once; consumers must tolerate
// duplicates and the occasional out-of-order event across rows.
type ChangeEvent struct {
	Kind           ChangeKind              `json:"kind"`
	Table          string                  `json:"table"`
	ConversationID string                  `json:"conversationId"`
	Conversation   *model.ConversationItem `json:"conversation,omitempty"`
	Message        *model.MessageItem      `json:"message,omitempty"`
}

// ConversationChannel carries message-level changes for one conversation.
func ConversationChannel(conversationID string) string {
	return "conversation:" + conversationID
}

// InboxChannel carries conversation-level changes for every conversation on
// a page, unfiltered.
func InboxChannel(pageID string) string {
	return "inbox:" + pageID
}

// Bus publishes committed changes to Redis pub/sub and hands out
// subscriptions with an explicit created/active/closed lifecycle. It is
// owned by whichever component opens it and passed by reference; there is
// no package-level handle.
type Bus struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewBus(rdb *redis.Client, log zerolog.Logger) *Bus {
	return &Bus{rdb: rdb, log: log}
}

func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}

func (b *Bus) Publish(ctx context.Context, channel string, event ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("bus publish: marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("bus publish %s: %w", channel, err)
	}
	return nil
}

// Subscription is a live feed of change events. Close is idempotent and
// releases the underlying pub/sub connection; Events is closed afterwards.
type Subscription struct {
	pubsub *redis.PubSub
	events chan ChangeEvent
	once   sync.Once
}

// Subscribe opens a feed over the given channels. The returned subscription
// only covers changes committed after this call; callers needing current
// state must read a snapshot first (read-then-subscribe).
func (b *Bus) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("bus subscribe: at least one channel required")
	}

	pubsub := b.rdb.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("bus subscribe %v: %w", channels, err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan ChangeEvent, 64),
	}

	go func() {
		defer close(sub.events)
		for msg := range pubsub.Channel() {
			var event ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable bus event")
				continue
			}
			sub.events <- event
		}
	}()

	return sub, nil
}

func (s *Subscription) Events() <-chan ChangeEvent {
	return s.events
}

func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
