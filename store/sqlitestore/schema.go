package sqlitestore

import (
	"fmt"
	"sync"
)

// Relation describes a to-one relation resolvable during populate: the FK
// column on this model's table points at the target model's row id.
type Relation struct {
	Field  string // relation name exposed on records, e.g. "author"
	Target string // target model UID
	Column string // FK column on this table, e.g. "author_id"
}

// ModelSchema maps a content type UID onto its SQLite table.
type ModelSchema struct {
	UID           string
	Table         string
	PrivateFields []string // removed by the field-permission sanitizer
	Relations     []Relation
}

// schemaRegistry holds model schemas registered at process start. Reads
// dominate after startup.
type schemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]ModelSchema
}

func newSchemaRegistry() *schemaRegistry {
	return &schemaRegistry{schemas: make(map[string]ModelSchema)}
}

func (r *schemaRegistry) register(schema ModelSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schema.UID] = schema
}

func (r *schemaRegistry) get(uid string) (ModelSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, ok := r.schemas[uid]
	if !ok {
		return ModelSchema{}, fmt.Errorf("unknown model %q", uid)
	}
	return schema, nil
}
