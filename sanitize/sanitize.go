// Package sanitize strips sensitive fields from payloads before they leave
// the process. Matching is deliberately broad: a key is removed when its
// lowercase form contains any configured fragment as a substring, which
// catches variants like passwordHash or user_token without per-deployment
// configuration. The cost is occasional over-removal (a field literally
// named "tokenizer" is stripped too); that trade is intentional and must
// not be narrowed.
package sanitize

import "strings"

// builtinFragments is the fixed set of sensitive-field fragments applied to
// every payload regardless of deployment configuration.
var builtinFragments = []string{
	"password",
	"passphrase",
	"token",
	"secret",
	"salt",
	"hash",
	"apikey",
	"authorization",
	"credential",
	"cookie",
	"session",
}

// Fields returns the effective fragment set: the built-in set unioned with
// the per-deployment extras, all lowercased. Recomputed per call; it is
// cheap and configuration can change between calls in long-running test
// harnesses.
func Fields(extra []string) []string {
	seen := make(map[string]struct{}, len(builtinFragments)+len(extra))
	out := make([]string, 0, len(builtinFragments)+len(extra))

	for _, f := range builtinFragments {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	for _, f := range extra {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// Strip returns data with every sensitive key removed, recursively, at every
// nesting level, including inside slices. Surviving values are never
// transformed. Non-map, non-slice values (and nil) pass through unchanged.
// Strip is pure and total: it never panics and never returns an error.
func Strip(data any, fragments []string) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if sensitive(key, fragments) {
				continue
			}
			out[key] = Strip(val, fragments)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = Strip(val, fragments)
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = Strip(val, fragments)
		}
		return out
	default:
		return data
	}
}

// sensitive reports whether the lowercase key contains any fragment.
func sensitive(key string, fragments []string) bool {
	lower := strings.ToLower(key)
	for _, f := range fragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}
