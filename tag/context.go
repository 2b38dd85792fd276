package tag

import (
	"fmt"
	"strconv"
	"strings"
)

// Context exposes the variable bindings of the host template scope.
type Context interface {
	Lookup(name string) (any, bool)
}

// ContextFunc adapts a function to the Context interface.
type ContextFunc func(name string) (any, bool)

// Lookup calls f(name).
func (f ContextFunc) Lookup(name string) (any, bool) {
	return f(name)
}

// Bindings is a Context backed by a map. Dotted names such as "page.link"
// descend into nested maps and [n] indexes into lists, as in
// "site.data.links[0]".
type Bindings map[string]any

// Lookup resolves name against the bindings.
func (b Bindings) Lookup(name string) (any, bool) {
	var cur any = map[string]any(b)
	for part := range strings.SplitSeq(name, ".") {
		key, rest, indexed := strings.Cut(part, "[")
		var ok bool
		if key != "" || !indexed {
			if cur, ok = field(cur, key); !ok {
				return nil, false
			}
		}
		for indexed {
			var idx string
			idx, rest, indexed = strings.Cut(rest, "]")
			if !indexed {
				return nil, false
			}
			n, err := strconv.Atoi(idx)
			if err != nil {
				return nil, false
			}
			if cur, ok = element(cur, n); !ok {
				return nil, false
			}
			rest, indexed = strings.CutPrefix(rest, "[")
			if !indexed && rest != "" {
				return nil, false
			}
		}
	}
	return cur, true
}

func field(v any, key string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		v, ok := m[key]
		return v, ok
	case Bindings:
		v, ok := m[key]
		return v, ok
	case map[string]string:
		v, ok := m[key]
		return v, ok
	}
	return nil, false
}

func element(v any, n int) (any, bool) {
	switch l := v.(type) {
	case []any:
		if n < len(l) {
			return l[n], true
		}
	case []string:
		if n < len(l) {
			return l[n], true
		}
	case []map[string]any:
		if n < len(l) {
			return l[n], true
		}
	}
	return nil, false
}

// stringValue converts a bound value to a URL string. Nil means unbound.
func stringValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case *string:
		if v == nil {
			return ""
		}
		return *v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
