// Package populate translates user-facing "what related data to include"
// configuration into the store's native read shape. The configuration is
// parsed into a closed variant once at load time; nothing re-inspects raw
// config values at event time.
package populate

// Kind tags the parsed populate variant.
type Kind uint8

const (
	// None means no related data is requested and no re-fetch is needed.
	None Kind = iota
	// Wildcard requests one level of relations.
	Wildcard
	// FieldList requests a named set of relations.
	FieldList
	// Shape carries an arbitrary nested read shape, passed through as-is.
	Shape
)

// WildcardMarker is the store-native wildcard populate argument.
const WildcardMarker = "*"

// Config is a parsed populate configuration. The zero value is None.
type Config struct {
	kind   Kind
	fields []string
	shape  map[string]any
}

// Parse classifies a raw configuration value. Unrecognized values (absent
// config included) parse to None, signaling "no extra fetch needed".
func Parse(raw any) Config {
	switch v := raw.(type) {
	case string:
		if v == WildcardMarker {
			return Config{kind: Wildcard}
		}
	case bool:
		if v {
			return Config{kind: Wildcard}
		}
	case []string:
		if len(v) > 0 {
			return Config{kind: FieldList, fields: v}
		}
	case []any:
		fields := make([]string, 0, len(v))
		for _, f := range v {
			s, ok := f.(string)
			if !ok {
				return Config{}
			}
			fields = append(fields, s)
		}
		if len(fields) > 0 {
			return Config{kind: FieldList, fields: fields}
		}
	case map[string]any:
		if len(v) > 0 {
			return Config{kind: Shape, shape: v}
		}
	}
	return Config{}
}

// Kind returns the variant tag.
func (c Config) Kind() Kind { return c.kind }

// IsNone reports whether no populate was configured.
func (c Config) IsNone() bool { return c.kind == None }

// Normalize returns the store-native populate argument, nil for None.
// Pure, no failure mode.
func (c Config) Normalize() any {
	switch c.kind {
	case Wildcard:
		return WildcardMarker
	case FieldList:
		shape := make(map[string]bool, len(c.fields))
		for _, f := range c.fields {
			shape[f] = true
		}
		return shape
	case Shape:
		return c.shape
	default:
		return nil
	}
}
