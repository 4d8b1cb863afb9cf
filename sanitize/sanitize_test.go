package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsIncludesBuiltins(t *testing.T) {
	fields := Fields(nil)

	require.NotEmpty(t, fields)
	assert.Contains(t, fields, "password")
	assert.Contains(t, fields, "token")
	assert.Contains(t, fields, "salt")
	assert.Contains(t, fields, "session")
}

func TestFieldsUnionsExtras(t *testing.T) {
	fields := Fields([]string{"ssn", "  TaxId  ", "password", ""})

	assert.Contains(t, fields, "ssn")
	assert.Contains(t, fields, "taxid", "extras should be lowercased and trimmed")

	count := 0
	for _, f := range fields {
		if f == "password" {
			count++
		}
	}
	assert.Equal(t, 1, count, "duplicates should collapse")
}

func TestStripRemovesSubstringMatches(t *testing.T) {
	data := map[string]any{
		"id":            1,
		"title":         "hello",
		"password":      "x",
		"passwordHash":  "y",
		"user_token":    "z",
		"resetPassword": "w",
	}

	out, ok := Strip(data, Fields(nil)).(map[string]any)
	require.True(t, ok)

	assert.Equal(t, 1, out["id"])
	assert.Equal(t, "hello", out["title"])
	assert.NotContains(t, out, "password")
	assert.NotContains(t, out, "passwordHash")
	assert.NotContains(t, out, "user_token")
	assert.NotContains(t, out, "resetPassword")
}

func TestStripRecursesIntoNestedStructures(t *testing.T) {
	data := map[string]any{
		"title": "post",
		"author": map[string]any{
			"name":     "jane",
			"password": "x",
			"sessions": []any{
				map[string]any{"cookieValue": "a", "ip": "127.0.0.1"},
			},
		},
		"comments": []map[string]any{
			{"body": "hi", "authToken": "t"},
		},
	}

	out := Strip(data, Fields(nil)).(map[string]any)

	author := out["author"].(map[string]any)
	assert.Equal(t, "jane", author["name"])
	assert.NotContains(t, author, "password")
	assert.NotContains(t, author, "sessions", "key containing 'session' is itself stripped")

	comments := out["comments"].([]any)
	first := comments[0].(map[string]any)
	assert.Equal(t, "hi", first["body"])
	assert.NotContains(t, first, "authToken")
}

func TestStripOverRemovesDeliberately(t *testing.T) {
	// Substring matching is intentionally broad: "tokenizer" contains
	// "token" and goes too.
	data := map[string]any{"tokenizer": "whitespace", "body": "x"}

	out := Strip(data, Fields(nil)).(map[string]any)
	assert.NotContains(t, out, "tokenizer")
	assert.Equal(t, "x", out["body"])
}

func TestStripPreservesInput(t *testing.T) {
	data := map[string]any{"password": "x", "title": "t"}

	Strip(data, Fields(nil))

	assert.Equal(t, "x", data["password"], "input must not be mutated")
}

func TestStripPassesScalarsThrough(t *testing.T) {
	fields := Fields(nil)

	assert.Nil(t, Strip(nil, fields))
	assert.Equal(t, 42, Strip(42, fields))
	assert.Equal(t, "password", Strip("password", fields), "values are never inspected, only keys")
}

func TestStripIsIdempotent(t *testing.T) {
	data := map[string]any{
		"id":       1,
		"password": "x",
		"nested":   map[string]any{"secretKey": "s", "ok": true},
	}
	fields := Fields(nil)

	once := Strip(data, fields)
	twice := Strip(once, fields)

	assert.Equal(t, once, twice)
}
