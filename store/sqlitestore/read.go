package sqlitestore

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/contentwire/contentwire/populate"
	"github.com/contentwire/contentwire/store"
)

// FindOne fetches a single record by document id, nil when not found.
// Implements store.Reader.
func (s *Store) FindOne(ctx context.Context, modelUID, documentID string, pop any) (map[string]any, error) {
	schema, err := s.schemas.get(modelUID)
	if err != nil {
		return nil, err
	}

	rows, err := s.selectRows(ctx, schema, store.ReadQuery{
		Filters: map[string]any{"documentId": documentID},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	if err := s.applyPopulate(ctx, schema, rows, pop); err != nil {
		return nil, err
	}
	return rows[0], nil
}

// FindMany fetches all records matching the query. Implements store.Reader.
func (s *Store) FindMany(ctx context.Context, modelUID string, q store.ReadQuery, pop any) ([]map[string]any, error) {
	schema, err := s.schemas.get(modelUID)
	if err != nil {
		return nil, err
	}

	rows, err := s.selectRows(ctx, schema, q)
	if err != nil {
		return nil, err
	}

	if err := s.applyPopulate(ctx, schema, rows, pop); err != nil {
		return nil, err
	}
	return rows, nil
}

// selectRows builds and runs the SELECT for a read query.
func (s *Store) selectRows(ctx context.Context, schema ModelSchema, q store.ReadQuery) ([]map[string]any, error) {
	ds := s.dialect.From(schema.Table)

	exprs, err := filterExpressions(q.Filters)
	if err != nil {
		return nil, fmt.Errorf("bad filter for %s: %w", schema.UID, err)
	}
	if len(exprs) > 0 {
		ds = ds.Where(exprs...)
	}
	if q.Limit > 0 {
		ds = ds.Limit(uint(q.Limit))
	}
	if len(q.Fields) > 0 {
		cols := make([]any, len(q.Fields))
		for i, f := range q.Fields {
			cols[i] = goqu.C(columnName(f))
		}
		ds = ds.Select(cols...)
	}

	sqlStr, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query for %s: %w", schema.Table, err)
	}

	rows, err := s.exec(ctx).QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed for %s: %w", schema.Table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(map[string]any, len(cols))
		for i, col := range cols {
			record[fieldName(col)] = normalizeValue(values[i])
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// filterExpressions translates a filter map into goqu expressions. Supported
// shapes: direct equality, and operator maps with $in, $ne, $gt, $gte, $lt,
// $lte over a single column.
func filterExpressions(filters map[string]any) ([]exp.Expression, error) {
	exprs := make([]exp.Expression, 0, len(filters))

	for field, cond := range filters {
		col := goqu.C(columnName(field))

		ops, ok := cond.(map[string]any)
		if !ok {
			exprs = append(exprs, col.Eq(cond))
			continue
		}

		for op, val := range ops {
			switch op {
			case "$in":
				exprs = append(exprs, col.In(inValues(val)...))
			case "$ne":
				exprs = append(exprs, col.Neq(val))
			case "$gt":
				exprs = append(exprs, col.Gt(val))
			case "$gte":
				exprs = append(exprs, col.Gte(val))
			case "$lt":
				exprs = append(exprs, col.Lt(val))
			case "$lte":
				exprs = append(exprs, col.Lte(val))
			default:
				return nil, fmt.Errorf("unsupported operator %q on %q", op, field)
			}
		}
	}
	return exprs, nil
}

func inValues(val any) []any {
	switch v := val.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{val}
	}
}

// applyPopulate resolves the requested relations in place, one level deep.
func (s *Store) applyPopulate(ctx context.Context, schema ModelSchema, rows []map[string]any, pop any) error {
	if pop == nil || len(rows) == 0 {
		return nil
	}

	wanted := wantedRelations(schema, pop)
	for _, w := range wanted {
		target, err := s.schemas.get(w.relation.Target)
		if err != nil {
			return fmt.Errorf("populate %q: %w", w.relation.Field, err)
		}

		for _, row := range rows {
			fk, ok := row[w.relation.Column]
			if !ok || fk == nil {
				continue
			}

			related, err := s.selectRows(ctx, target, store.ReadQuery{
				Filters: map[string]any{"id": fk},
				Limit:   1,
				Fields:  w.fields,
			})
			if err != nil {
				return fmt.Errorf("populate %q: %w", w.relation.Field, err)
			}
			if len(related) > 0 {
				row[w.relation.Field] = related[0]
			}
		}
	}
	return nil
}

type wantedRelation struct {
	relation Relation
	fields   []string
}

// wantedRelations resolves the normalized populate argument against the
// model's relations. The wildcard marker selects every relation; a keyed
// shape selects by name, optionally projecting target fields.
func wantedRelations(schema ModelSchema, pop any) []wantedRelation {
	var out []wantedRelation

	switch p := pop.(type) {
	case string:
		if p != populate.WildcardMarker {
			return nil
		}
		for _, rel := range schema.Relations {
			out = append(out, wantedRelation{relation: rel})
		}
	case map[string]bool:
		for _, rel := range schema.Relations {
			if p[rel.Field] {
				out = append(out, wantedRelation{relation: rel})
			}
		}
	case map[string]any:
		for _, rel := range schema.Relations {
			val, ok := p[rel.Field]
			if !ok {
				continue
			}
			w := wantedRelation{relation: rel}
			if nested, ok := val.(map[string]any); ok {
				w.fields = fieldList(nested["fields"])
			}
			out = append(out, w)
		}
	}
	return out
}

func fieldList(val any) []string {
	switch v := val.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, f := range v {
			if s, ok := f.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// columnName maps a record field to its column. Records expose documentId;
// the column is document_id. Everything else passes through.
func columnName(field string) string {
	if field == "documentId" {
		return "document_id"
	}
	return field
}

// fieldName is the inverse mapping for result scanning.
func fieldName(col string) string {
	if col == "document_id" {
		return "documentId"
	}
	return col
}

// normalizeValue converts driver values into the map-payload forms the
// pipeline works with.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
