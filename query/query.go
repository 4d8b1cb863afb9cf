// Package query derives read-back queries from bulk write events so that
// affected rows can be re-read individually after commit.
package query

import "github.com/contentwire/contentwire/store"

// IdentityFields is the minimal projection used when only row identity is
// needed, e.g. when snapshotting intent before a bulk update runs.
var IdentityFields = []string{"id", "documentId"}

// BuildReadBack derives the read-back query for a bulk write event.
//
// Rules, applied in order: where-style filter parameters are copied into
// Filters; the limit prefers the reported affected-row count over a
// caller-supplied limit; a bulk create overrides the filters entirely with
// an id-membership filter over the created rows (the store reports created
// ids but not full rows); a beforeUpdateMany observation is reduced to the
// identity projection so the after hook can re-derive affected rows without
// re-running the full filter twice.
func BuildReadBack(ev *store.Event) store.ReadQuery {
	q := store.ReadQuery{}

	if len(ev.Params.Where) > 0 {
		q.Filters = ev.Params.Where
	}

	if ev.Bulk != nil && ev.Bulk.Count > 0 {
		q.Limit = ev.Bulk.Count
	} else if ev.Params.Limit > 0 {
		q.Limit = ev.Params.Limit
	}

	if ev.Kind == store.AfterCreateMany && ev.Bulk != nil && len(ev.Bulk.DocumentIDs) > 0 {
		ids := make([]any, len(ev.Bulk.DocumentIDs))
		for i, id := range ev.Bulk.DocumentIDs {
			ids[i] = id
		}
		q.Filters = map[string]any{"documentId": map[string]any{"$in": ids}}
	}

	if ev.Kind == store.BeforeUpdateMany {
		q.Fields = IdentityFields
	}

	return q
}
