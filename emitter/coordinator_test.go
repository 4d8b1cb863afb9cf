package emitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentwire/contentwire/cfg"
	"github.com/contentwire/contentwire/channel"
	"github.com/contentwire/contentwire/commitq"
	"github.com/contentwire/contentwire/populate"
	"github.com/contentwire/contentwire/store"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type publication struct {
	subject string
	payload any
}

type mockChannel struct {
	mu        sync.Mutex
	published []publication
	fail      error
}

func (c *mockChannel) Publish(subject string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.published = append(c.published, publication{subject: subject, payload: payload})
	return nil
}

func (c *mockChannel) Close() error { return nil }

func (c *mockChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func (c *mockChannel) snapshot() []publication {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]publication, len(c.published))
	copy(out, c.published)
	return out
}

type findManyCall struct {
	q        store.ReadQuery
	populate any
}

type mockReader struct {
	mu sync.Mutex

	oneResult map[string]any
	oneErr    error
	oneCalls  int
	onePop    any

	manyResult []map[string]any
	manyErr    error
	manyCalls  []findManyCall
}

func (r *mockReader) FindOne(ctx context.Context, modelUID, documentID string, pop any) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oneCalls++
	r.onePop = pop
	return r.oneResult, r.oneErr
}

func (r *mockReader) FindMany(ctx context.Context, modelUID string, q store.ReadQuery, pop any) ([]map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manyCalls = append(r.manyCalls, findManyCall{q: q, populate: pop})
	return r.manyResult, r.manyErr
}

func (r *mockReader) findManyCalls() []findManyCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]findManyCall, len(r.manyCalls))
	copy(out, r.manyCalls)
	return out
}

type recordedTx struct {
	mu        sync.Mutex
	listeners []func()
}

func (t *recordedTx) OnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *recordedTx) commit() {
	t.mu.Lock()
	listeners := t.listeners
	t.listeners = nil
	t.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

type recordedResolver struct {
	tx *recordedTx
}

func (r *recordedResolver) Current(ctx context.Context) store.Tx {
	if r.tx == nil {
		return nil
	}
	return r.tx
}

func articleSub(rawPopulate any) *Subscription {
	return &Subscription{
		Model:        store.Model{UID: "api::article.article", Singular: "article"},
		Actions:      map[store.Action]bool{store.ActionCreate: true, store.ActionUpdate: true, store.ActionDelete: true},
		Populate:     populate.Parse(rawPopulate),
		RefetchDelay: time.Millisecond,
		BulkDelay:    time.Millisecond,
		DeleteDelay:  time.Millisecond,
	}
}

func newTestCoordinator(t *testing.T, reader *mockReader, ch *mockChannel, resolver store.TxResolver) *Coordinator {
	t.Helper()
	c, err := New(Options{
		Reader:    reader,
		Scheduler: commitq.NewScheduler(resolver),
		Channel:   ch,
	})
	require.NoError(t, err)
	return c
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Reader: &mockReader{}, Scheduler: commitq.NewScheduler(nil)})
	assert.Error(t, err)
}

func TestCreateEmitsSnapshotWithoutPopulate(t *testing.T) {
	reader := &mockReader{}
	ch := &mockChannel{}
	c := newTestCoordinator(t, reader, ch, &recordedResolver{})
	sub := articleSub(nil)

	handler := c.handlerFor(sub)
	handler(context.Background(), &store.Event{
		Kind:   store.AfterCreate,
		Model:  sub.Model,
		Result: map[string]any{"id": int64(1), "documentId": "d1", "title": "hello", "password": "x"},
	})

	require.Eventually(t, func() bool { return ch.count() == 1 }, waitFor, tick)

	pub := ch.snapshot()[0]
	assert.Equal(t, "article:create", pub.subject)

	env := pub.payload.(channel.Envelope)
	assert.Equal(t, "article:create", env.Event)
	assert.Equal(t, "api::article.article", env.Schema)

	data := env.Data.(map[string]any)
	assert.Equal(t, "hello", data["title"])
	assert.NotContains(t, data, "password", "sensitive fields never leave the process")

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Zero(t, reader.oneCalls, "no populate means no re-fetch")
}

func TestUpdateRefetchesWithPopulate(t *testing.T) {
	reader := &mockReader{
		oneResult: map[string]any{
			"id": int64(1), "documentId": "d1", "title": "fresh",
			"author": map[string]any{"name": "jane", "passwordHash": "h"},
		},
	}
	ch := &mockChannel{}
	c := newTestCoordinator(t, reader, ch, &recordedResolver{})
	sub := articleSub([]any{"author"})

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:   store.AfterUpdate,
		Model:  sub.Model,
		Result: map[string]any{"id": int64(1), "documentId": "d1", "title": "stale"},
	})

	require.Eventually(t, func() bool { return ch.count() == 1 }, waitFor, tick)

	env := ch.snapshot()[0].payload.(channel.Envelope)
	data := env.Data.(map[string]any)
	assert.Equal(t, "fresh", data["title"], "re-fetched state wins over the snapshot")

	author := data["author"].(map[string]any)
	assert.Equal(t, "jane", author["name"])
	assert.NotContains(t, author, "passwordHash")

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Equal(t, 1, reader.oneCalls)
	assert.Equal(t, map[string]bool{"author": true}, reader.onePop)
}

func TestRefetchFailureFallsBackToSnapshot(t *testing.T) {
	reader := &mockReader{oneErr: errors.New("db gone")}
	ch := &mockChannel{}
	c := newTestCoordinator(t, reader, ch, &recordedResolver{})
	sub := articleSub("*")

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:   store.AfterUpdate,
		Model:  sub.Model,
		Result: map[string]any{"documentId": "d1", "title": "snapshot"},
	})

	require.Eventually(t, func() bool { return ch.count() == 1 }, waitFor, tick)

	env := ch.snapshot()[0].payload.(channel.Envelope)
	data := env.Data.(map[string]any)
	assert.Equal(t, "snapshot", data["title"])
}

func TestRefetchMissFallsBackToSnapshot(t *testing.T) {
	// FindOne returning nil, nil means the row vanished between commit and
	// re-fetch; the captured snapshot still goes out.
	reader := &mockReader{}
	ch := &mockChannel{}
	c := newTestCoordinator(t, reader, ch, &recordedResolver{})
	sub := articleSub("*")

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:   store.AfterUpdate,
		Model:  sub.Model,
		Result: map[string]any{"documentId": "d1", "title": "snapshot"},
	})

	require.Eventually(t, func() bool { return ch.count() == 1 }, waitFor, tick)
	env := ch.snapshot()[0].payload.(channel.Envelope)
	assert.Equal(t, "snapshot", env.Data.(map[string]any)["title"])
}

func TestMissingResultSkipsEmission(t *testing.T) {
	ch := &mockChannel{}
	c := newTestCoordinator(t, &mockReader{}, ch, &recordedResolver{})
	sub := articleSub(nil)

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:  store.AfterCreate,
		Model: sub.Model,
	})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, ch.count())
}

func TestSnapshotSurvivesCallerMutation(t *testing.T) {
	tx := &recordedTx{}
	ch := &mockChannel{}
	c := newTestCoordinator(t, &mockReader{}, ch, &recordedResolver{tx: tx})
	sub := articleSub(nil)

	result := map[string]any{"documentId": "d1", "title": "original"}
	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:   store.AfterCreate,
		Model:  sub.Model,
		Result: result,
	})

	// The store reuses the result map after the hook returns.
	result["title"] = "mutated"
	tx.commit()

	require.Eventually(t, func() bool { return ch.count() == 1 }, waitFor, tick)
	env := ch.snapshot()[0].payload.(channel.Envelope)
	assert.Equal(t, "original", env.Data.(map[string]any)["title"])
}

func TestEmissionWaitsForCommit(t *testing.T) {
	tx := &recordedTx{}
	ch := &mockChannel{}
	c := newTestCoordinator(t, &mockReader{}, ch, &recordedResolver{tx: tx})
	sub := articleSub(nil)

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:   store.AfterCreate,
		Model:  sub.Model,
		Result: map[string]any{"documentId": "d1"},
	})

	time.Sleep(30 * time.Millisecond)
	require.Zero(t, ch.count(), "nothing publishes before commit")

	tx.commit()
	require.Eventually(t, func() bool { return ch.count() == 1 }, waitFor, tick)
}

func TestBulkCreateEmitsPerCreatedRow(t *testing.T) {
	reader := &mockReader{
		manyResult: []map[string]any{
			{"documentId": "d1", "title": "one"},
			{"documentId": "d2", "title": "two"},
			{"documentId": "d3", "title": "three"},
		},
	}
	ch := &mockChannel{}
	c := newTestCoordinator(t, reader, ch, &recordedResolver{})
	sub := articleSub(nil)

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:  store.AfterCreateMany,
		Model: sub.Model,
		Bulk:  &store.BulkResult{Count: 3, DocumentIDs: []string{"d1", "d2", "d3"}},
	})

	require.Eventually(t, func() bool { return ch.count() == 3 }, waitFor, tick)

	calls := reader.findManyCalls()
	require.Len(t, calls, 1)
	membership := calls[0].q.Filters["documentId"].(map[string]any)
	assert.Equal(t, []any{"d1", "d2", "d3"}, membership["$in"])
	assert.Equal(t, 3, calls[0].q.Limit)

	for i, pub := range ch.snapshot() {
		assert.Equal(t, "article:create", pub.subject, "publication %d", i)
	}
}

func TestBulkCreateWithoutRowsSkips(t *testing.T) {
	reader := &mockReader{}
	ch := &mockChannel{}
	c := newTestCoordinator(t, reader, ch, &recordedResolver{})
	sub := articleSub(nil)

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:  store.AfterCreateMany,
		Model: sub.Model,
		Bulk:  &store.BulkResult{Count: 0},
	})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, ch.count())
	assert.Empty(t, reader.findManyCalls())
}

func TestBulkUpdatePairsBeforeAndAfterHooks(t *testing.T) {
	reader := &mockReader{
		manyResult: []map[string]any{
			{"documentId": "d1", "status": "published"},
			{"documentId": "d2", "status": "published"},
		},
	}
	ch := &mockChannel{}
	c := newTestCoordinator(t, reader, ch, &recordedResolver{})
	sub := articleSub(nil)
	handler := c.handlerFor(sub)

	state := &store.State{}
	filters := map[string]any{"status": "draft"}

	handler(context.Background(), &store.Event{
		Kind:   store.BeforeUpdateMany,
		Model:  sub.Model,
		Params: store.Params{Where: filters},
		State:  state,
	})

	// The write changes the filtered field: after commit the filter matches
	// nothing, so the read-back must rely on the pre-write snapshot.
	filters["status"] = "published"

	handler(context.Background(), &store.Event{
		Kind:  store.AfterUpdateMany,
		Model: sub.Model,
		Bulk:  &store.BulkResult{Count: 2},
		State: state,
	})

	require.Eventually(t, func() bool { return ch.count() == 2 }, waitFor, tick)

	calls := reader.findManyCalls()
	require.Len(t, calls, 2)

	assert.Equal(t, map[string]any{"status": "draft"}, calls[0].q.Filters,
		"before hook snapshots identities with the pre-write filter")
	assert.Equal(t, []string{"id", "documentId"}, calls[0].q.Fields)

	membership := calls[1].q.Filters["documentId"].(map[string]any)
	assert.Equal(t, []any{"d1", "d2"}, membership["$in"],
		"read-back targets the snapshotted rows, not the stale filter")
	assert.Equal(t, 2, calls[1].q.Limit)

	for _, pub := range ch.snapshot() {
		assert.Equal(t, "article:update", pub.subject)
	}
}

func TestBulkUpdateFallsBackToFilterWhenSnapshotFails(t *testing.T) {
	reader := &mockReader{manyErr: errors.New("db busy")}
	ch := &mockChannel{}
	c := newTestCoordinator(t, reader, ch, &recordedResolver{})
	sub := articleSub(nil)
	handler := c.handlerFor(sub)

	state := &store.State{}
	handler(context.Background(), &store.Event{
		Kind:   store.BeforeUpdateMany,
		Model:  sub.Model,
		Params: store.Params{Where: map[string]any{"status": "draft"}},
		State:  state,
	})

	reader.mu.Lock()
	reader.manyErr = nil
	reader.manyResult = []map[string]any{{"documentId": "d1", "status": "draft"}}
	reader.mu.Unlock()

	handler(context.Background(), &store.Event{
		Kind:  store.AfterUpdateMany,
		Model: sub.Model,
		Bulk:  &store.BulkResult{Count: 1},
		State: state,
	})

	require.Eventually(t, func() bool { return ch.count() == 1 }, waitFor, tick)

	calls := reader.findManyCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, map[string]any{"status": "draft"}, calls[1].q.Filters)
}

func TestBulkUpdateWithoutCapturedFilterSkips(t *testing.T) {
	reader := &mockReader{}
	ch := &mockChannel{}
	c := newTestCoordinator(t, reader, ch, &recordedResolver{})
	sub := articleSub(nil)

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:  store.AfterUpdateMany,
		Model: sub.Model,
		Bulk:  &store.BulkResult{Count: 2},
		State: &store.State{},
	})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, ch.count())
	assert.Empty(t, reader.findManyCalls())
}

func TestBulkUpdateEmptyFilterSkips(t *testing.T) {
	reader := &mockReader{}
	ch := &mockChannel{}
	c := newTestCoordinator(t, reader, ch, &recordedResolver{})
	sub := articleSub(nil)
	handler := c.handlerFor(sub)

	state := &store.State{}
	handler(context.Background(), &store.Event{
		Kind:  store.BeforeUpdateMany,
		Model: sub.Model,
		State: state,
	})
	handler(context.Background(), &store.Event{
		Kind:  store.AfterUpdateMany,
		Model: sub.Model,
		Bulk:  &store.BulkResult{Count: 5},
		State: state,
	})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, ch.count(), "an unfiltered read-back would re-emit the whole collection")
	assert.Empty(t, reader.findManyCalls())
}

func TestBulkReadBackFailureAbortsBatch(t *testing.T) {
	reader := &mockReader{manyErr: errors.New("db gone")}
	ch := &mockChannel{}
	c := newTestCoordinator(t, reader, ch, &recordedResolver{})
	sub := articleSub(nil)

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:  store.AfterCreateMany,
		Model: sub.Model,
		Bulk:  &store.BulkResult{Count: 2, DocumentIDs: []string{"d1", "d2"}},
	})

	require.Eventually(t, func() bool { return len(reader.findManyCalls()) == 1 }, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, ch.count())
}

func TestDeletePublishesIdentityOnly(t *testing.T) {
	reader := &mockReader{}
	ch := &mockChannel{}
	c := newTestCoordinator(t, reader, ch, &recordedResolver{})
	sub := articleSub("*")

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:   store.AfterDelete,
		Model:  sub.Model,
		Result: map[string]any{"id": int64(7), "documentId": "d7", "title": "gone", "password": "x"},
	})

	require.Eventually(t, func() bool { return ch.count() == 1 }, waitFor, tick)

	pub := ch.snapshot()[0]
	assert.Equal(t, "article:delete", pub.subject)

	payload, ok := pub.payload.(map[string]any)
	require.True(t, ok, "deletes publish a bare identity map, not an envelope")
	assert.Equal(t, map[string]any{"id": int64(7), "documentId": "d7"}, payload)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Zero(t, reader.oneCalls, "deleted rows are never re-fetched")
}

func TestDeleteCrossPopulatesIdentity(t *testing.T) {
	ch := &mockChannel{}
	c := newTestCoordinator(t, &mockReader{}, ch, &recordedResolver{})
	sub := articleSub(nil)

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:   store.AfterDelete,
		Model:  sub.Model,
		Result: map[string]any{"id": int64(7)},
	})

	require.Eventually(t, func() bool { return ch.count() == 1 }, waitFor, tick)

	payload := ch.snapshot()[0].payload.(map[string]any)
	assert.Equal(t, int64(7), payload["id"])
	assert.Equal(t, "7", payload["documentId"])
}

func TestExtraSensitiveFieldsAreStripped(t *testing.T) {
	ch := &mockChannel{}
	c, err := New(Options{
		Reader:               &mockReader{},
		Scheduler:            commitq.NewScheduler(&recordedResolver{}),
		Channel:              ch,
		ExtraSensitiveFields: []string{"internalNote"},
	})
	require.NoError(t, err)
	sub := articleSub(nil)

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:   store.AfterCreate,
		Model:  sub.Model,
		Result: map[string]any{"documentId": "d1", "title": "t", "internalNote": "hide me"},
	})

	require.Eventually(t, func() bool { return ch.count() == 1 }, waitFor, tick)
	data := ch.snapshot()[0].payload.(channel.Envelope).Data.(map[string]any)
	assert.NotContains(t, data, "internalNote")
	assert.Equal(t, "t", data["title"])
}

type mockContentSanitizer struct {
	err error
}

func (m *mockContentSanitizer) SanitizeOutput(ctx context.Context, modelUID string, data map[string]any) (map[string]any, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == "internalRank" {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func TestContentSanitizerAppliesBeforeManualStrip(t *testing.T) {
	ch := &mockChannel{}
	c, err := New(Options{
		Reader:           &mockReader{},
		Scheduler:        commitq.NewScheduler(&recordedResolver{}),
		Channel:          ch,
		ContentSanitizer: &mockContentSanitizer{},
	})
	require.NoError(t, err)
	sub := articleSub(nil)

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:   store.AfterCreate,
		Model:  sub.Model,
		Result: map[string]any{"documentId": "d1", "internalRank": 3, "password": "x", "title": "t"},
	})

	require.Eventually(t, func() bool { return ch.count() == 1 }, waitFor, tick)
	data := ch.snapshot()[0].payload.(channel.Envelope).Data.(map[string]any)
	assert.NotContains(t, data, "internalRank", "schema-aware removal applied")
	assert.NotContains(t, data, "password", "manual removal still applies on top")
	assert.Equal(t, "t", data["title"])
}

func TestContentSanitizerFailureFallsBackToManualStrip(t *testing.T) {
	ch := &mockChannel{}
	c, err := New(Options{
		Reader:           &mockReader{},
		Scheduler:        commitq.NewScheduler(&recordedResolver{}),
		Channel:          ch,
		ContentSanitizer: &mockContentSanitizer{err: errors.New("unknown model")},
	})
	require.NoError(t, err)
	sub := articleSub(nil)

	c.handlerFor(sub)(context.Background(), &store.Event{
		Kind:   store.AfterCreate,
		Model:  sub.Model,
		Result: map[string]any{"documentId": "d1", "password": "x", "title": "t"},
	})

	require.Eventually(t, func() bool { return ch.count() == 1 }, waitFor, tick)
	data := ch.snapshot()[0].payload.(channel.Envelope).Data.(map[string]any)
	assert.NotContains(t, data, "password")
	assert.Equal(t, "t", data["title"])
}

type recordedHooks struct {
	mu   sync.Mutex
	subs map[store.HookKind][]string
}

func (h *recordedHooks) Subscribe(modelUID string, kind store.HookKind, _ store.Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[store.HookKind][]string)
	}
	h.subs[kind] = append(h.subs[kind], modelUID)
}

func TestRegisterWiresOnlyWantedActions(t *testing.T) {
	c := newTestCoordinator(t, &mockReader{}, &mockChannel{}, &recordedResolver{})
	c.Add(&Subscription{
		Model:   store.Model{UID: "api::page.page", Singular: "page"},
		Actions: map[store.Action]bool{store.ActionDelete: true},
	})

	hooks := &recordedHooks{}
	c.Register(hooks)

	assert.Equal(t, []string{"api::page.page"}, hooks.subs[store.AfterDelete])
	assert.Empty(t, hooks.subs[store.AfterCreate])
	assert.Empty(t, hooks.subs[store.AfterUpdate])
	assert.Empty(t, hooks.subs[store.BeforeUpdateMany])
}

func TestSubscriptionsFromConfigDefaults(t *testing.T) {
	subs := SubscriptionsFromConfig([]cfg.SubscriptionConfiguration{
		{Model: "api::article.article", Actions: []string{"create", "delete"}, Populate: "*"},
	})

	require.Len(t, subs, 1)
	sub := subs[0]
	assert.Equal(t, "article", sub.Model.Singular, "singular derives from the UID when unset")
	assert.True(t, sub.Wants(store.ActionCreate))
	assert.False(t, sub.Wants(store.ActionUpdate))
	assert.True(t, sub.Wants(store.ActionDelete))
	assert.False(t, sub.Populate.IsNone())
	assert.Equal(t, DefaultRefetchDelay, sub.RefetchDelay)
	assert.Equal(t, DefaultBulkDelay, sub.BulkDelay)
	assert.Equal(t, DefaultDeleteDelay, sub.DeleteDelay)
}

func TestSubscriptionsFromConfigOverrides(t *testing.T) {
	subs := SubscriptionsFromConfig([]cfg.SubscriptionConfiguration{
		{
			Model:          "api::page.page",
			Singular:       "landing",
			Actions:        []string{"update"},
			RefetchDelayMS: 5,
			BulkDelayMS:    7,
			DeleteDelayMS:  9,
		},
	})

	require.Len(t, subs, 1)
	sub := subs[0]
	assert.Equal(t, "landing", sub.Model.Singular)
	assert.Equal(t, 5*time.Millisecond, sub.RefetchDelay)
	assert.Equal(t, 7*time.Millisecond, sub.BulkDelay)
	assert.Equal(t, 9*time.Millisecond, sub.DeleteDelay)
}
