// Package commitq defers callbacks until the enclosing store transaction
// has committed. Publication of a write event must never happen before that
// event's transaction commits, and must never happen for a rollback; this
// package is where that property is enforced.
package commitq

import (
	"context"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"

	"github.com/contentwire/contentwire/store"
)

// Scheduler defers callbacks past the commit boundary of the transaction
// that encloses the scheduling call, when there is one. The resolver is an
// explicitly injected capability; a nil resolver is tolerated and degrades
// to immediate execution with a single warning.
type Scheduler struct {
	resolver store.TxResolver
	warnOnce sync.Once
}

// NewScheduler creates a scheduler backed by the given resolver capability.
func NewScheduler(resolver store.TxResolver) *Scheduler {
	return &Scheduler{resolver: resolver}
}

// Schedule runs fn after the enclosing transaction (if any) commits, plus a
// settle delay. The delay absorbs a known race where a secondary read issued
// immediately after commit can still observe slightly stale state. With no
// active transaction fn runs after the delay alone. fn is never dropped.
//
// The returned future resolves with fn's terminal error once fn has run; it
// never resolves for a rolled-back transaction.
func (s *Scheduler) Schedule(ctx context.Context, delay time.Duration, fn func() error) *future.Future[error] {
	p := future.NewPromise[error]()

	run := func() {
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			p.Set(nil, fn())
		}()
	}

	if s.resolver == nil {
		s.warnOnce.Do(func() {
			log.Warn().Msg("Transaction context unavailable, emissions run immediately after their settle delay")
		})
		run()
		return p.Future()
	}

	if tx := s.resolver.Current(ctx); tx != nil {
		tx.OnCommit(run)
	} else {
		run()
	}

	return p.Future()
}
