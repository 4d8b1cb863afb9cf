// Package emitter coordinates the bridge between store lifecycle hooks and
// the publish channel. For every configured content type and action it
// captures event state synchronously inside the hook, defers past the
// enclosing transaction's commit, optionally re-fetches fresh state, strips
// sensitive fields, and publishes one envelope per affected record.
//
// Ordering is guaranteed per event only: publication happens strictly after
// that event's transaction commits, never for a rollback. Ordering across
// distinct events for the same record is best-effort, governed by relative
// settle delays; subscribers must not assume strict serialization.
package emitter

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/contentwire/contentwire/channel"
	"github.com/contentwire/contentwire/commitq"
	"github.com/contentwire/contentwire/query"
	"github.com/contentwire/contentwire/sanitize"
	"github.com/contentwire/contentwire/store"
	"github.com/contentwire/contentwire/telemetry"
)

// Options configures a Coordinator.
type Options struct {
	Reader    store.Reader
	Scheduler *commitq.Scheduler
	Channel   channel.Channel

	// ContentSanitizer is the store's own field-permission sanitizer.
	// Optional; when absent every payload goes through manual removal only.
	ContentSanitizer store.ContentSanitizer

	// ExtraSensitiveFields extends the built-in sensitive-field fragments.
	ExtraSensitiveFields []string
}

// Coordinator orchestrates emissions per configured content type. Safe for
// concurrent hook fires; it keeps no shared mutable state across events
// other than the subscription registry.
type Coordinator struct {
	reader  store.Reader
	sched   *commitq.Scheduler
	ch      channel.Channel
	content store.ContentSanitizer
	extra   []string
	subs    *xsync.MapOf[string, *Subscription]
}

// New creates a coordinator. Reader, Scheduler, and Channel are required.
func New(opts Options) (*Coordinator, error) {
	if opts.Reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if opts.Channel == nil {
		return nil, fmt.Errorf("channel is required")
	}

	return &Coordinator{
		reader:  opts.Reader,
		sched:   opts.Scheduler,
		ch:      opts.Channel,
		content: opts.ContentSanitizer,
		extra:   opts.ExtraSensitiveFields,
		subs:    xsync.NewMapOf[string, *Subscription](),
	}, nil
}

// Add registers a subscription descriptor. Descriptors are immutable once
// added; Add is only called during process start.
func (c *Coordinator) Add(sub *Subscription) {
	c.subs.Store(sub.Model.UID, sub)
}

// Subscriptions returns the registered descriptors.
func (c *Coordinator) Subscriptions() []*Subscription {
	out := make([]*Subscription, 0)
	c.subs.Range(func(_ string, sub *Subscription) bool {
		out = append(out, sub)
		return true
	})
	return out
}

// Register wires the coordinator's handlers into the store's lifecycle hook
// surface, one set per registered subscription.
func (c *Coordinator) Register(hooks store.Hooks) {
	c.subs.Range(func(uid string, sub *Subscription) bool {
		if sub.Wants(store.ActionCreate) {
			hooks.Subscribe(uid, store.AfterCreate, c.handlerFor(sub))
			hooks.Subscribe(uid, store.AfterCreateMany, c.handlerFor(sub))
		}
		if sub.Wants(store.ActionUpdate) {
			hooks.Subscribe(uid, store.AfterUpdate, c.handlerFor(sub))
			hooks.Subscribe(uid, store.BeforeUpdateMany, c.handlerFor(sub))
			hooks.Subscribe(uid, store.AfterUpdateMany, c.handlerFor(sub))
		}
		if sub.Wants(store.ActionDelete) {
			hooks.Subscribe(uid, store.AfterDelete, c.handlerFor(sub))
		}

		log.Info().
			Str("model", uid).
			Str("singular", sub.Model.Singular).
			Msg("Registered lifecycle subscription")
		return true
	})
}

// handlerFor returns the hook handler for one subscription. The handler runs
// synchronously inside the store's write path: it must only capture state
// and schedule, and it must never let an error escape into the writer.
func (c *Coordinator) handlerFor(sub *Subscription) store.Handler {
	return func(ctx context.Context, ev *store.Event) {
		switch ev.Kind {
		case store.AfterCreate, store.AfterUpdate:
			c.captureSingle(ctx, sub, ev)
		case store.AfterCreateMany:
			c.captureBulkCreate(ctx, sub, ev)
		case store.BeforeUpdateMany:
			c.captureUpdateIntent(ctx, sub, ev)
		case store.AfterUpdateMany:
			c.captureBulkUpdate(ctx, sub, ev)
		case store.AfterDelete:
			c.captureDelete(ctx, sub, ev)
		}
	}
}

// captureSingle handles afterCreate and afterUpdate: snapshot the result,
// defer past commit, then either emit the snapshot directly or re-fetch the
// record with the configured populate and fall back to the snapshot when the
// re-fetch yields nothing.
func (c *Coordinator) captureSingle(ctx context.Context, sub *Subscription, ev *store.Event) {
	if ev.Result == nil {
		log.Debug().Str("model", sub.Model.UID).Str("kind", string(ev.Kind)).Msg("Event carried no result, skipping emission")
		telemetry.EventsSkippedTotal.Inc()
		return
	}

	action := ev.Kind.Action()
	snapshot := cloneRecord(ev.Result)
	docID := documentID(snapshot)
	captured := time.Now()
	telemetry.EventsCapturedTotal.With(sub.Model.UID, string(action)).Inc()

	refetch := !sub.Populate.IsNone() && docID != ""
	delay := time.Duration(0)
	if refetch {
		delay = sub.RefetchDelay
	}

	telemetry.PendingEmissions.Inc()
	c.sched.Schedule(ctx, delay, func() error {
		defer telemetry.PendingEmissions.Dec()

		payload := snapshot
		if refetch {
			rec, err := c.reader.FindOne(context.Background(), sub.Model.UID, docID, sub.Populate.Normalize())
			switch {
			case err != nil:
				log.Warn().Err(err).Str("model", sub.Model.UID).Str("document_id", docID).Msg("Re-fetch failed, falling back to captured snapshot")
				telemetry.RefetchFallbacksTotal.Inc()
			case rec == nil:
				log.Debug().Str("model", sub.Model.UID).Str("document_id", docID).Msg("Re-fetch returned nothing, falling back to captured snapshot")
				telemetry.RefetchFallbacksTotal.Inc()
			default:
				payload = rec
			}
		}

		return c.publishRecord(sub, action, payload, captured)
	})
}

// captureBulkCreate handles afterCreateMany: the store reports created ids
// but not full rows, so the derived read-back query re-reads them after
// commit and one envelope is emitted per row.
func (c *Coordinator) captureBulkCreate(ctx context.Context, sub *Subscription, ev *store.Event) {
	if ev.Bulk == nil || ev.Bulk.Count == 0 {
		log.Debug().Str("model", sub.Model.UID).Msg("Bulk create reported no rows, skipping emission")
		telemetry.EventsSkippedTotal.Inc()
		return
	}

	q := query.BuildReadBack(ev)
	c.scheduleBulk(ctx, sub, store.ActionCreate, q)
}

// captureUpdateIntent handles beforeUpdateMany: the before hook is the only
// point with access to the intended filter, so it is copied into the
// per-event bag for the paired after hook. The copy is deep: the store may
// reuse the filter map once the write proceeds.
//
// The before hook is also the last point where the filter still matches the
// affected rows. When the write changes a filtered field the filter stops
// matching, so their identities are snapshotted here too; the filter copy
// remains the fallback when that snapshot fails.
func (c *Coordinator) captureUpdateIntent(ctx context.Context, sub *Subscription, ev *store.Event) {
	if ev.State == nil {
		return
	}
	filters, _ := cloneValue(ev.Params.Where).(map[string]any)
	ev.State.SetUpdateFilters(filters)

	q := query.BuildReadBack(ev)
	if len(q.Filters) == 0 {
		return
	}

	rows, err := c.reader.FindMany(ctx, sub.Model.UID, q, nil)
	if err != nil {
		log.Debug().Err(err).Str("model", sub.Model.UID).Msg("Pre-write identity snapshot failed, read-back will reuse the filter")
		return
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id := documentID(row); id != "" {
			ids = append(ids, id)
		}
	}
	ev.State.SetUpdateTargets(ids)
}

// captureBulkUpdate handles afterUpdateMany: read the hand-off left by the
// paired before hook back out of the event bag, derive the read-back query,
// and emit one envelope per affected row. The pre-write identity snapshot is
// preferred; the captured filter is the fallback.
func (c *Coordinator) captureBulkUpdate(ctx context.Context, sub *Subscription, ev *store.Event) {
	if ev.State == nil {
		log.Debug().Str("model", sub.Model.UID).Msg("Bulk update carried no event state, skipping emission")
		telemetry.EventsSkippedTotal.Inc()
		return
	}

	if ids, ok := ev.State.UpdateTargets(); ok {
		if len(ids) == 0 {
			log.Debug().Str("model", sub.Model.UID).Msg("Bulk update matched no rows, skipping emission")
			telemetry.EventsSkippedTotal.Inc()
			return
		}
		members := make([]any, len(ids))
		for i, id := range ids {
			members[i] = id
		}
		c.scheduleBulk(ctx, sub, store.ActionUpdate, store.ReadQuery{
			Filters: map[string]any{"documentId": map[string]any{"$in": members}},
			Limit:   len(ids),
		})
		return
	}

	filters, ok := ev.State.UpdateFilters()
	if !ok {
		log.Debug().Str("model", sub.Model.UID).Msg("No filter captured before bulk update, skipping emission")
		telemetry.EventsSkippedTotal.Inc()
		return
	}

	scoped := *ev
	scoped.Params.Where = filters
	q := query.BuildReadBack(&scoped)
	c.scheduleBulk(ctx, sub, store.ActionUpdate, q)
}

// scheduleBulk defers a read-back query past commit and emits one envelope
// per returned row. A read-back failure aborts the whole batch; unlike the
// single-record path there is no snapshot to fall back to.
func (c *Coordinator) scheduleBulk(ctx context.Context, sub *Subscription, action store.Action, q store.ReadQuery) {
	if len(q.Filters) == 0 {
		// An unfiltered query would re-read the entire collection.
		log.Debug().Str("model", sub.Model.UID).Str("action", string(action)).Msg("Empty read-back filter, skipping bulk emission")
		telemetry.EventsSkippedTotal.Inc()
		return
	}

	captured := time.Now()
	telemetry.EventsCapturedTotal.With(sub.Model.UID, string(action)).Inc()

	telemetry.PendingEmissions.Inc()
	c.sched.Schedule(ctx, sub.BulkDelay, func() error {
		defer telemetry.PendingEmissions.Dec()

		rows, err := c.reader.FindMany(context.Background(), sub.Model.UID, q, sub.Populate.Normalize())
		if err != nil {
			log.Error().Err(err).Str("model", sub.Model.UID).Str("action", string(action)).Msg("Bulk read-back failed, aborting emission")
			telemetry.EmissionFailuresTotal.With("refetch").Inc()
			return err
		}

		for _, row := range rows {
			if err := c.publishRecord(sub, action, row, captured); err != nil {
				// Already logged and counted; keep emitting the rest.
				continue
			}
		}
		return nil
	})
}

// captureDelete handles afterDelete: the row no longer exists, so there is
// never a re-fetch. An identity-only payload goes out through the raw
// sanitize path, skipping the store's field-permission sanitizer entirely.
func (c *Coordinator) captureDelete(ctx context.Context, sub *Subscription, ev *store.Event) {
	if ev.Result == nil {
		log.Debug().Str("model", sub.Model.UID).Msg("Delete carried no result, skipping emission")
		telemetry.EventsSkippedTotal.Inc()
		return
	}

	payload := identityPayload(ev.Result)
	captured := time.Now()
	telemetry.EventsCapturedTotal.With(sub.Model.UID, string(store.ActionDelete)).Inc()

	telemetry.PendingEmissions.Inc()
	c.sched.Schedule(ctx, sub.DeleteDelay, func() error {
		defer telemetry.PendingEmissions.Dec()

		subject := sub.Model.Singular + ":" + string(store.ActionDelete)
		data := sanitize.Strip(payload, sanitize.Fields(c.extra))

		if err := c.ch.Publish(subject, data); err != nil {
			log.Error().Err(err).Str("subject", subject).Msg("Failed to publish delete emission")
			telemetry.EmissionFailuresTotal.With("publish").Inc()
			return err
		}

		telemetry.EnvelopesPublishedTotal.With(sub.Model.UID, string(store.ActionDelete)).Inc()
		telemetry.EmissionLatencySeconds.Observe(time.Since(captured).Seconds())
		return nil
	})
}

// publishRecord sanitizes one record and hands the envelope to the channel.
// The schema-aware path delegates to the store's field-permission sanitizer
// when available and silently falls back to manual removal on failure;
// configured fragments are always stripped on top.
func (c *Coordinator) publishRecord(sub *Subscription, action store.Action, record map[string]any, captured time.Time) error {
	if c.content != nil {
		out, err := c.content.SanitizeOutput(context.Background(), sub.Model.UID, record)
		if err != nil {
			log.Debug().Err(err).Str("model", sub.Model.UID).Msg("Content sanitizer failed, using manual removal")
		} else if out != nil {
			record = out
		}
	}

	data := sanitize.Strip(record, sanitize.Fields(c.extra))
	subject := sub.Model.Singular + ":" + string(action)

	env := channel.Envelope{
		Event:  subject,
		Schema: sub.Model.UID,
		Data:   data,
	}

	if err := c.ch.Publish(subject, env); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish emission")
		telemetry.EmissionFailuresTotal.With("publish").Inc()
		return err
	}

	telemetry.EnvelopesPublishedTotal.With(sub.Model.UID, string(action)).Inc()
	telemetry.EmissionLatencySeconds.Observe(time.Since(captured).Seconds())
	return nil
}

// documentID extracts the record's document id, empty when absent.
func documentID(record map[string]any) string {
	if id, ok := record["documentId"].(string); ok {
		return id
	}
	return ""
}

// identityPayload builds the delete payload: store id and document id,
// cross-populated into both fields for caller convenience when the store
// only reports one of them.
func identityPayload(record map[string]any) map[string]any {
	id, hasID := record["id"]
	docID := documentID(record)

	out := make(map[string]any, 2)
	switch {
	case hasID && docID != "":
		out["id"] = id
		out["documentId"] = docID
	case hasID:
		out["id"] = id
		out["documentId"] = fmt.Sprint(id)
	case docID != "":
		out["id"] = docID
		out["documentId"] = docID
	}
	return out
}
