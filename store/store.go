package store

import "context"

// Action is the user-facing write kind a lifecycle event maps to.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// HookKind identifies one of the lifecycle hook points the store exposes.
type HookKind string

const (
	AfterCreate      HookKind = "afterCreate"
	AfterCreateMany  HookKind = "afterCreateMany"
	AfterUpdate      HookKind = "afterUpdate"
	BeforeUpdateMany HookKind = "beforeUpdateMany"
	AfterUpdateMany  HookKind = "afterUpdateMany"
	AfterDelete      HookKind = "afterDelete"
)

// Action maps a hook kind to the write action subscribers observe.
func (k HookKind) Action() Action {
	switch k {
	case AfterCreate, AfterCreateMany:
		return ActionCreate
	case AfterUpdate, BeforeUpdateMany, AfterUpdateMany:
		return ActionUpdate
	case AfterDelete:
		return ActionDelete
	}
	return ""
}

// Model identifies one content type managed by the store.
type Model struct {
	UID      string // unique type id, e.g. "api::article.article"
	Singular string // singular name used in publish subjects, e.g. "article"
}

// Params carries the write parameters a lifecycle hook observes.
// Filters and Limit are only meaningful for bulk writes.
type Params struct {
	Where    map[string]any
	Limit    int
	Fields   []string
	Populate any
}

// BulkResult summarizes a bulk write: the store reports how many rows were
// affected and, for bulk creates, the ids of the created rows.
type BulkResult struct {
	Count       int
	DocumentIDs []string
}

// Event is produced once per store write and consumed synchronously inside
// the hook. The surrounding transaction may still be open when the hook
// fires; anything needed later must be copied out before the hook returns.
type Event struct {
	Kind   HookKind
	Model  Model
	Result map[string]any // single-record result, nil for bulk writes
	Bulk   *BulkResult    // bulk summary, nil for single-record writes
	Params Params
	State  *State // per-event bag, threaded by the store across paired hooks
}

// ReadQuery is the store-native shape of a read-back query derived from a
// bulk write event. A zero ReadQuery means "everything"; callers must not
// issue it unless that is intentional.
type ReadQuery struct {
	Filters map[string]any
	Limit   int
	Fields  []string
}

// Reader is the store's read API. Failures are the caller's to absorb;
// they must never propagate back into the writer path.
type Reader interface {
	// FindOne fetches a single record by document id, nil when not found.
	FindOne(ctx context.Context, modelUID, documentID string, populate any) (map[string]any, error)
	// FindMany fetches all records matching the query.
	FindMany(ctx context.Context, modelUID string, q ReadQuery, populate any) ([]map[string]any, error)
}

// Tx is an active transaction observed through the resolver capability.
type Tx interface {
	// OnCommit registers fn to run if and when this transaction commits.
	// fn never runs on rollback.
	OnCommit(fn func())
}

// TxResolver resolves the transaction enclosing the current operation,
// nil when the operation runs outside any transaction.
type TxResolver interface {
	Current(ctx context.Context) Tx
}

// Handler consumes a lifecycle event synchronously inside the hook.
type Handler func(ctx context.Context, ev *Event)

// Hooks is the store's lifecycle hook registration surface.
type Hooks interface {
	Subscribe(modelUID string, kind HookKind, h Handler)
}

// ContentSanitizer applies the store's own field-permission rules to an
// outgoing record. Optional capability; implementations may be unavailable
// for some models.
type ContentSanitizer interface {
	SanitizeOutput(ctx context.Context, modelUID string, data map[string]any) (map[string]any, error)
}
