package reconcile

import (
	"context"
	"time"

	"support-inbox-backend/internal/model"

	"github.com/rs/zerolog"
)

// FetchFunc pulls a point-in-time snapshot of the conversation's messages.
type FetchFunc func(ctx context.Context) ([]model.MessageItem, error)

// Refresher papers over eventual-consistency gaps while a chat is open: a
// bounded background loop that merges fresh snapshots into the view. It is
// scoped to the chat's lifetime through the context passed to Run, and the
// loop is serial, so there is never more than one fetch in flight.
type Refresher struct {
	view     *View
	fetch    FetchFunc
	interval time.Duration
	log      zerolog.Logger
}

func NewRefresher(view *View, fetch FetchFunc, interval time.Duration, log zerolog.Logger) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Refresher{
		view:     view,
		fetch:    fetch,
		interval: interval,
		log:      log,
	}
}

// Run blocks until ctx is canceled. Callers run it in a goroutine owned by
// whatever opened the chat and cancel the context when the chat closes.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := r.fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.log.Debug().Err(err).Msg("refresh fetch failed")
				continue
			}
			r.view.Merge(snapshot)
		}
	}
}
