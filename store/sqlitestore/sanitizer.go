package sqlitestore

import (
	"context"
)

// SanitizeOutput applies the model's field-permission rules: fields declared
// private in the schema are removed from the record, and from populated
// relation records according to their own schemas. Implements
// store.ContentSanitizer. Unknown models error, which callers treat as a
// signal to fall back to manual removal.
func (s *Store) SanitizeOutput(ctx context.Context, modelUID string, data map[string]any) (map[string]any, error) {
	schema, err := s.schemas.get(modelUID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(data))
	for k, v := range data {
		if isPrivate(schema, k) {
			continue
		}
		out[k] = v
	}

	for _, rel := range schema.Relations {
		related, ok := out[rel.Field].(map[string]any)
		if !ok {
			continue
		}
		cleaned, err := s.SanitizeOutput(ctx, rel.Target, related)
		if err != nil {
			return nil, err
		}
		out[rel.Field] = cleaned
	}

	return out, nil
}

func isPrivate(schema ModelSchema, field string) bool {
	for _, p := range schema.PrivateFields {
		if p == field {
			return true
		}
	}
	return false
}
