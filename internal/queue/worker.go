package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"webpushrelay/internal/logging"
	"webpushrelay/internal/model"
	"webpushrelay/internal/push"
	"webpushrelay/internal/store"
)

const (
	retryDelayMS = 500
	idleSleepMS  = 50
)

// SubscriptionLookup is the slice of *store.SubscriptionStore the worker
// pool needs: fetch for dispatch, delete on a dead-subscription outcome.
type SubscriptionLookup interface {
	Get(ctx context.Context, uuid string) (model.StoredSubscription, error)
	Delete(ctx context.Context, uuid string) error
}

// Pool runs N identical claim loops draining a Store and dispatching
// through a push.Sender.
type Pool struct {
	store   *Store
	subs    SubscriptionLookup
	sender  *push.Sender
	workers int
	log     *logging.Logger

	lastActive atomic.Int64 // unix ms of the most recent loop iteration, any worker
}

func NewPool(s *Store, subs SubscriptionLookup, sender *push.Sender, workers int, log *logging.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{store: s, subs: subs, sender: sender, workers: workers, log: log}
	p.lastActive.Store(time.Now().UnixMilli())
	return p
}

// Alive reports whether some worker has completed a claim-loop iteration
// within maxAge, for use by the /health endpoint.
func (p *Pool) Alive(maxAge time.Duration) bool {
	last := time.UnixMilli(p.lastActive.Load())
	return time.Since(last) <= maxAge
}

// Run starts the worker loops and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < p.workers; i++ {
		go func() {
			p.loop(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < p.workers; i++ {
		<-done
	}
}

func (p *Pool) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.lastActive.Store(time.Now().UnixMilli())
		claimed, ok, err := p.store.Claim(ctx, time.Now().UnixMilli())
		if err != nil {
			p.log.Error("claim failed", map[string]any{"err": err})
			sleep(ctx, idleSleepMS*time.Millisecond)
			continue
		}
		if !ok {
			sleep(ctx, idleSleepMS*time.Millisecond)
			continue
		}

		if residual := claimed.Record.SendAfterMS - time.Now().UnixMilli(); residual > 0 {
			sleep(ctx, time.Duration(residual)*time.Millisecond)
		}

		p.dispatch(ctx, claimed)
	}
}

func (p *Pool) dispatch(ctx context.Context, claimed Claimed) {
	rec := claimed.Record
	sub, err := p.subs.Get(ctx, rec.UUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if derr := p.store.Complete(ctx, claimed.Seq); derr != nil {
				p.log.Error("complete after vanished subscription failed", map[string]any{"err": derr})
			}
			return
		}
		p.retryOrDrop(ctx, claimed, err)
		return
	}

	outcome, sendErr := p.sender.Send(ctx, sub.Subscription, rec.Payload)
	switch outcome {
	case push.OutcomeDelivered:
		if err := p.store.Complete(ctx, claimed.Seq); err != nil {
			p.log.Error("complete failed", map[string]any{"err": err})
		}
	case push.OutcomeDeadSubscription:
		if err := p.subs.Delete(ctx, rec.UUID); err != nil {
			p.log.Error("delete dead subscription failed", map[string]any{"err": err})
		}
		if err := p.store.Drop(ctx, claimed.Seq); err != nil {
			p.log.Error("drop dead-subscription record failed", map[string]any{"err": err})
		}
		p.log.Error("dead subscription reaped", map[string]any{"uuid": rec.UUID})
	case push.OutcomeTerminal:
		if err := p.store.Drop(ctx, claimed.Seq); err != nil {
			p.log.Error("drop terminal record failed", map[string]any{"err": err})
		}
	default:
		p.retryOrDrop(ctx, claimed, sendErr)
	}
}

func (p *Pool) retryOrDrop(ctx context.Context, claimed Claimed, cause error) {
	rec := claimed.Record
	if rec.Attempts+1 >= MaxAttempts {
		if err := p.store.Drop(ctx, claimed.Seq); err != nil {
			p.log.Error("drop after max attempts failed", map[string]any{"err": err})
		}
		p.log.Error("record dropped after max attempts", map[string]any{"uuid": rec.UUID, "cause": cause})
		return
	}
	newSendAfter := time.Now().UnixMilli() + retryDelayMS
	if err := p.store.Retry(ctx, claimed.Seq, rec, newSendAfter); err != nil {
		p.log.Error("retry requeue failed", map[string]any{"err": err})
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
