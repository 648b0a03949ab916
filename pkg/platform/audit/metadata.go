package audit

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	dErrors "casetrail/pkg/domain-errors"
)

// Metadata is the open key/value payload of a record. Keys may arrive string-style
// ("proof_type") or symbol-style (":proof_type"); every lookup goes through Get so the
// key style never changes what the engine sees.
type Metadata map[string]any

// NormalizeKey strips symbol-style decoration and surrounding whitespace from a key.
func NormalizeKey(key string) string {
	return strings.TrimPrefix(strings.TrimSpace(key), ":")
}

// Get looks up key in either key style. When several raw keys normalize to key, the
// exact string-style key wins, then the symbol-style key, then the smallest raw key.
func (m Metadata) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	key = NormalizeKey(key)
	if v, ok := m[key]; ok {
		return v, true
	}
	if v, ok := m[":"+key]; ok {
		return v, true
	}
	best, found := "", false
	for k := range m {
		if NormalizeKey(k) == key && (!found || k < best) {
			best, found = k, true
		}
	}
	if !found {
		return nil, false
	}
	return m[best], true
}

// keyRank orders raw keys that normalize to the same name: exact, symbol-style, other.
func keyRank(raw, normalized string) int {
	switch raw {
	case normalized:
		return 0
	case ":" + normalized:
		return 1
	default:
		return 2
	}
}

// preferKey reports whether raw should replace current as the source of a normalized key.
func preferKey(raw, current, normalized string) bool {
	r, c := keyRank(raw, normalized), keyRank(current, normalized)
	if r != c {
		return r < c
	}
	return raw < current
}

// String returns the canonical string form of key's value. Missing, nil and blank values
// report false. Numbers render without a trailing ".0" so 123, 123.0 and "123" agree.
func (m Metadata) String(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok || v == nil {
		return "", false
	}
	s := canonical(v)
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// FirstString returns the first present value among keys.
func (m Metadata) FirstString(keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := m.String(k); ok {
			return s, true
		}
	}
	return "", false
}

// Clone returns a shallow copy with normalized keys. Colliding keys resolve the same
// way Get does. A nil map clones to an empty one.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	source := make(map[string]string, len(m))
	for k, v := range m {
		nk := NormalizeKey(k)
		if cur, exists := source[nk]; exists && !preferKey(k, cur, nk) {
			continue
		}
		source[nk] = k
		out[nk] = v
	}
	return out
}

// With returns a copy of m with the given entries set.
func (m Metadata) With(entries map[string]string) Metadata {
	out := m.Clone()
	for k, v := range entries {
		out[NormalizeKey(k)] = v
	}
	return out
}

// ToMetadata converts a caller-supplied payload into Metadata. nil becomes an empty map;
// anything that is not a map is a validation error.
func ToMetadata(v any) (Metadata, error) {
	switch m := v.(type) {
	case nil:
		return Metadata{}, nil
	case Metadata:
		return m.Clone(), nil
	case map[string]any:
		return Metadata(m).Clone(), nil
	case map[string]string:
		out := make(Metadata, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out.Clone(), nil
	default:
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("metadata must be a map, got %T", v))
	}
}

func canonical(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return formatFloat(float64(t))
	case float64:
		return formatFloat(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(v)
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Keys returns the normalized keys in sorted order.
func (m Metadata) Keys() []string {
	return slices.Sorted(maps.Keys(m.Clone()))
}
