package reconcile

import (
	"context"
	"errors"
	"time"

	"support-inbox-backend/internal/platform"
	"support-inbox-backend/internal/policy"

	"github.com/rs/zerolog"
)

// SendFunc performs the actual outbound platform call and returns the
// platform-assigned message id.
type SendFunc func(ctx context.Context, body, tag string) (string, error)

// SendReceipt reports the outcome of one optimistic send.
type SendReceipt struct {
	LocalID    string
	MessageID  string
	Restricted bool
}

// Outbox drives the optimistic-send state machine for one conversation:
// synthesize the local entry, issue the send, then confirm or retract.
type Outbox struct {
	view *View
	send SendFunc
	log  zerolog.Logger
	now  func() time.Time
}

func NewOutbox(view *View, send SendFunc, log zerolog.Logger) *Outbox {
	return &Outbox{
		view: view,
		send: send,
		log:  log,
		now:  time.Now,
	}
}

// Send shows the message immediately, applies the messaging-window policy,
// performs the platform call, and reconciles the result. A platform
// rejection retracts the optimistic entry and is returned to the caller
// with the platform's reason.
func (o *Outbox) Send(ctx context.Context, agentID, agentName, body string, lastMessageAt time.Time) (SendReceipt, error) {
	now := o.now().UTC()
	decision := policy.Evaluate(lastMessageAt, now)

	tag := ""
	if decision.RequiresTag {
		tag = policy.HumanAgentTag
		o.log.Warn().
			Str("conversationId", o.view.conversationID).
			Msg("messaging window elapsed; sending with human agent tag")
	}

	localID := NewLocalID()
	if err := o.view.AddOptimistic(localID, agentID, agentName, body, now.UnixMilli()); err != nil {
		return SendReceipt{}, err
	}

	mid, err := o.send(ctx, body, tag)
	if err != nil {
		o.view.Fail(localID)

		var rejection *platform.RejectionError
		if errors.As(err, &rejection) {
			o.log.Warn().
				Str("conversationId", o.view.conversationID).
				Str("reason", rejection.Reason).
				Msg("send rejected by platform; optimistic entry retracted")
		}
		return SendReceipt{LocalID: localID}, err
	}

	o.view.Confirm(localID, mid)
	return SendReceipt{
		LocalID:    localID,
		MessageID:  mid,
		Restricted: decision.RequiresTag,
	}, nil
}
