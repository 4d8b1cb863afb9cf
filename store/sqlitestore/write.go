package sqlitestore

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/contentwire/contentwire/store"
)

// Create inserts a single record and fires afterCreate. Returns the created
// record including its assigned ids.
func (s *Store) Create(ctx context.Context, modelUID string, data map[string]any) (map[string]any, error) {
	schema, err := s.schemas.get(modelUID)
	if err != nil {
		return nil, err
	}

	record, err := s.insertRow(ctx, schema, data)
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, &store.Event{
		Kind:   store.AfterCreate,
		Model:  s.modelIdentity(schema),
		Result: record,
		State:  store.NewState(),
	})
	return record, nil
}

// CreateMany inserts a batch of records and fires afterCreateMany with the
// bulk summary: the store reports created ids, not full rows.
func (s *Store) CreateMany(ctx context.Context, modelUID string, rows []map[string]any) (*store.BulkResult, error) {
	schema, err := s.schemas.get(modelUID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, data := range rows {
		record, err := s.insertRow(ctx, schema, data)
		if err != nil {
			return nil, err
		}
		ids = append(ids, record["documentId"].(string))
	}

	bulk := &store.BulkResult{Count: len(ids), DocumentIDs: ids}
	s.dispatch(ctx, &store.Event{
		Kind:  store.AfterCreateMany,
		Model: s.modelIdentity(schema),
		Bulk:  bulk,
		State: store.NewState(),
	})
	return bulk, nil
}

// Update applies changes to one record by document id and fires afterUpdate
// with the resulting record.
func (s *Store) Update(ctx context.Context, modelUID, documentID string, changes map[string]any) (map[string]any, error) {
	schema, err := s.schemas.get(modelUID)
	if err != nil {
		return nil, err
	}

	if err := s.updateWhere(ctx, schema, map[string]any{"documentId": documentID}, changes); err != nil {
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
		return nil, fmt.Errorf("record %s/%s not found", modelUID, documentID)
	}

	s.dispatch(ctx, &store.Event{
		Kind:   store.AfterUpdate,
		Model:  s.modelIdentity(schema),
		Result: rows[0],
		State:  store.NewState(),
	})
	return rows[0], nil
}

// UpdateMany applies changes to every record matching the filter. The
// beforeUpdateMany hook observes the intended filter; the afterUpdateMany
// hook observes only the affected-row count plus whatever the before hook
// left in the shared event bag.
func (s *Store) UpdateMany(ctx context.Context, modelUID string, filters, changes map[string]any) (int, error) {
	schema, err := s.schemas.get(modelUID)
	if err != nil {
		return 0, err
	}

	model := s.modelIdentity(schema)
	state := store.NewState()

	s.dispatch(ctx, &store.Event{
		Kind:   store.BeforeUpdateMany,
		Model:  model,
		Params: store.Params{Where: filters},
		State:  state,
	})

	count, err := s.updateWhereCount(ctx, schema, filters, changes)
	if err != nil {
		return 0, err
	}

	s.dispatch(ctx, &store.Event{
		Kind:  store.AfterUpdateMany,
		Model: model,
		Bulk:  &store.BulkResult{Count: count},
		State: state,
	})
	return count, nil
}

// Delete removes one record by document id and fires afterDelete with the
// record as it last existed.
func (s *Store) Delete(ctx context.Context, modelUID, documentID string) error {
	schema, err := s.schemas.get(modelUID)
	if err != nil {
		return err
	}

	rows, err := s.selectRows(ctx, schema, store.ReadQuery{
		Filters: map[string]any{"documentId": documentID},
		Limit:   1,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("record %s/%s not found", modelUID, documentID)
	}

	ds := s.dialect.Delete(schema.Table).Where(goqu.C("document_id").Eq(documentID))
	sqlStr, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx).ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete failed for %s: %w", schema.Table, err)
	}

	s.dispatch(ctx, &store.Event{
		Kind:   store.AfterDelete,
		Model:  s.modelIdentity(schema),
		Result: rows[0],
		State:  store.NewState(),
	})
	return nil
}

// insertRow inserts one record, assigning a document id when absent.
func (s *Store) insertRow(ctx context.Context, schema ModelSchema, data map[string]any) (map[string]any, error) {
	cols, err := s.tableColumns(schema.Table)
	if err != nil {
		return nil, err
	}

	docID, _ := data["documentId"].(string)
	if docID == "" {
		docID = s.docIDs.next()
	}

	rec := goqu.Record{"document_id": docID}
	for field, val := range data {
		col := columnName(field)
		if col == "document_id" || !cols[col] {
			continue
		}
		rec[col] = val
	}

	ds := s.dialect.Insert(schema.Table).Rows(rec)
	sqlStr, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}

	res, err := s.exec(ctx).ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("insert failed for %s: %w", schema.Table, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	record := make(map[string]any, len(data)+2)
	for field, val := range data {
		record[field] = val
	}
	record["id"] = id
	record["documentId"] = docID
	return record, nil
}

func (s *Store) updateWhere(ctx context.Context, schema ModelSchema, filters, changes map[string]any) error {
	_, err := s.updateWhereCount(ctx, schema, filters, changes)
	return err
}

func (s *Store) updateWhereCount(ctx context.Context, schema ModelSchema, filters, changes map[string]any) (int, error) {
	cols, err := s.tableColumns(schema.Table)
	if err != nil {
		return 0, err
	}

	rec := goqu.Record{}
	for field, val := range changes {
		col := columnName(field)
		if col == "id" || col == "document_id" || !cols[col] {
			continue
		}
		rec[col] = val
	}
	if len(rec) == 0 {
		return 0, fmt.Errorf("no updatable columns in changes for %s", schema.UID)
	}

	exprs, err := filterExpressions(filters)
	if err != nil {
		return 0, err
	}
	if len(exprs) == 0 {
		return 0, fmt.Errorf("refusing unfiltered update on %s", schema.Table)
	}

	ds := s.dialect.Update(schema.Table).Set(rec).Where(exprs...)
	sqlStr, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return 0, err
	}

	res, err := s.exec(ctx).ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("update failed for %s: %w", schema.Table, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) modelIdentity(schema ModelSchema) store.Model {
	return store.Model{UID: schema.UID, Singular: singularFromUID(schema.UID)}
}

// singularFromUID derives the singular name from a content type UID.
func singularFromUID(uid string) string {
	for i := len(uid) - 1; i >= 0; i-- {
		if uid[i] == '.' {
			return uid[i+1:]
		}
	}
	return uid
}
