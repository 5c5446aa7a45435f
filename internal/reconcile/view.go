// Package reconcile implements the client-local merge of optimistic sends
// with the authoritative change stream. It never talks to the store; it only
// holds transient shadow copies with a bounded lifetime.
package reconcile

import (
	"errors"
	"sort"
	"sync"

	"support-inbox-backend/internal/model"
	"support-inbox-backend/internal/realtime"

	"github.com/google/uuid"
)

// SendState is the per-pending-send state machine: Pending moves to exactly
// one of Confirmed or Failed.
type SendState string

const (
	SendPending   SendState = "pending"
	SendConfirmed SendState = "confirmed"
	SendFailed    SendState = "failed"
)

var ErrDuplicatePending = errors.New("reconcile: optimistic entry already exists for id")

// echoMatchWindow bounds the timestamp-proximity fallback used when a
// canonical echo arrives before the send call returned its mid.
const echoMatchWindow = int64(10_000)

type pendingSend struct {
	localID string
	state   SendState
	mid     string
}

// View is the local message list for one open conversation. It is seeded
// with a point-in-time snapshot (read-then-subscribe), fed change events
// from the fan-out bus, and overlaid with optimistic entries for in-flight
// sends. The merge guarantees one visible entry per logical message no
// matter how sends, echoes and duplicate bus deliveries interleave.
type View struct {
	mu             sync.Mutex
	conversationID string
	messages       map[string]model.MessageItem
	pending        map[string]*pendingSend
	retiredByMID   map[string]string
}

func NewView(conversationID string, snapshot []model.MessageItem) *View {
	v := &View{
		conversationID: conversationID,
		messages:       make(map[string]model.MessageItem),
		pending:        make(map[string]*pendingSend),
		retiredByMID:   make(map[string]string),
	}
	v.Merge(snapshot)
	return v
}

// NewLocalID produces the identifier for an optimistic entry. Local ids are
// never persisted as final state.
func NewLocalID() string {
	return "local-" + uuid.NewString()
}

// AddOptimistic inserts the not-yet-confirmed entry so the agent sees their
// message immediately. At most one entry may exist per local id.
func (v *View) AddOptimistic(localID, senderID, senderName, body string, timestamp int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.pending[localID]; exists {
		return ErrDuplicatePending
	}

	v.pending[localID] = &pendingSend{localID: localID, state: SendPending}
	v.messages[localID] = model.MessageItem{
		MessageID:      localID,
		ConversationID: v.conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		Body:           body,
		Timestamp:      timestamp,
		Direction:      model.DirectionOutgoing,
		Read:           true,
	}
	return nil
}

// Confirm retires the local id in favour of the platform-assigned mid. The
// entry is re-keyed in place; when the canonical echo later arrives over the
// bus it lands on the same key instead of adding a second bubble.
func (v *View) Confirm(localID, mid string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.pending[localID]
	if !ok || p.state != SendPending {
		return
	}
	p.state = SendConfirmed
	p.mid = mid
	v.retiredByMID[mid] = localID

	if entry, ok := v.messages[localID]; ok {
		delete(v.messages, localID)
		if _, exists := v.messages[mid]; !exists {
			entry.MessageID = mid
			v.messages[mid] = entry
		}
	}
}

// Fail discards the optimistic entry; the send never happened.
func (v *View) Fail(localID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.pending[localID]
	if !ok || p.state != SendPending {
		return
	}
	p.state = SendFailed
	delete(v.messages, localID)
}

// ApplyChange ingests one event from the authoritative stream. Duplicates
// and replays are harmless: the canonical row always wins the key.
func (v *View) ApplyChange(event realtime.ChangeEvent) {
	if event.Table != realtime.TableMessages || event.Message == nil {
		return
	}
	if event.ConversationID != v.conversationID {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if event.Kind == realtime.ChangeDelete {
		delete(v.messages, event.Message.MessageID)
		return
	}
	v.absorb(*event.Message)
}

// Merge folds a fetched snapshot into the view; used by the refresher and at
// seed time. Idempotent.
func (v *View) Merge(snapshot []model.MessageItem) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, message := range snapshot {
		if message.ConversationID != v.conversationID {
			continue
		}
		v.absorb(message)
	}
}

func (v *View) absorb(message model.MessageItem) {
	// An echo of a send this view already confirmed: same key, overwrite.
	if _, ok := v.messages[message.MessageID]; ok {
		v.messages[message.MessageID] = message
		return
	}

	// An echo whose mid we learned via Confirm but whose entry was somehow
	// dropped; or one that raced ahead of the send response. Retire the
	// matching optimistic entry instead of double-rendering.
	if localID, ok := v.retiredByMID[message.MessageID]; ok {
		delete(v.messages, localID)
		v.messages[message.MessageID] = message
		return
	}
	if message.Direction == model.DirectionOutgoing {
		if localID := v.matchPending(message); localID != "" {
			p := v.pending[localID]
			p.state = SendConfirmed
			p.mid = message.MessageID
			v.retiredByMID[message.MessageID] = localID
			delete(v.messages, localID)
		}
	}

	v.messages[message.MessageID] = message
}

// matchPending finds a still-pending optimistic entry that this canonical
// outgoing message is the echo of: same body, close timestamp. Used only
// when identifiers differ because the echo outran the send response.
func (v *View) matchPending(message model.MessageItem) string {
	for localID, p := range v.pending {
		if p.state != SendPending {
			continue
		}
		entry, ok := v.messages[localID]
		if !ok {
			continue
		}
		if entry.Body != message.Body {
			continue
		}
		delta := message.Timestamp - entry.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if delta <= echoMatchWindow {
			return localID
		}
	}
	return ""
}

// Messages returns the visible list, oldest first. Ordering ties on
// timestamp break by id so rendering is stable across refreshes.
func (v *View) Messages() []model.MessageItem {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]model.MessageItem, 0, len(v.messages))
	for _, message := range v.messages {
		out = append(out, message)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out
}

// PendingState reports the state machine position for a local id.
func (v *View) PendingState(localID string) (SendState, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pending[localID]
	if !ok {
		return "", false
	}
	return p.state, true
}
