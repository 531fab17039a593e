// Package docop applies validated update operators to stored document
// values. Storage drivers share it so $add, $multiply, $append and
// $remove behave identically regardless of engine.
package docop

import (
	"bytes"
	"fmt"
	"time"

	"github.com/artpar/docbase/pkg/oid"
)

// Apply applies an update value to the current stored value. Operator
// maps transform the value; anything else replaces it.
func Apply(current, update any) (any, error) {
	m, ok := update.(map[string]any)
	if !ok {
		return Clone(update), nil
	}
	oper := ""
	var operand any
	unique := false
	for k, v := range m {
		switch k {
		case "$add", "$multiply", "$append", "$remove":
			oper, operand = k, v
		case "$unique":
			unique, _ = v.(bool)
		}
	}
	if oper == "" {
		return Clone(update), nil
	}
	switch oper {
	case "$add", "$multiply":
		cur, curOK := toNumber(current)
		if !curOK {
			if oper == "$multiply" {
				return current, fmt.Errorf("$multiply target is not numeric")
			}
			cur = 0
		}
		delta, ok := toNumber(operand)
		if !ok {
			return current, fmt.Errorf("%s operand is not numeric", oper)
		}
		if oper == "$add" {
			return keepIntegral(current, cur+delta), nil
		}
		return keepIntegral(current, cur*delta), nil
	case "$append":
		items, ok := operand.([]any)
		if !ok {
			items = []any{operand}
		}
		list, _ := current.([]any)
		for _, item := range items {
			if unique && contains(list, item) {
				continue
			}
			list = append(list, Clone(item))
		}
		return list, nil
	case "$remove":
		items, ok := operand.([]any)
		if !ok {
			items = []any{operand}
		}
		list, _ := current.([]any)
		var out []any
		for _, have := range list {
			if !contains(items, have) {
				out = append(out, have)
			}
		}
		return out, nil
	default:
		return current, fmt.Errorf("unknown update operator %q", oper)
	}
}

// Clone deep-copies maps and slices so stored documents never alias
// caller memory.
func Clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Clone(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Clone(item)
		}
		return out
	default:
		return v
	}
}

func contains(list []any, want any) bool {
	for _, item := range list {
		if Equal(item, want) {
			return true
		}
	}
	return false
}

// Equal compares document values loosely: numbers numerically, ids
// across string and native representations, maps and lists recursively.
func Equal(a, b any) bool {
	if af, ok := toNumber(a); ok {
		bf, ok := toNumber(b)
		return ok && af == bf
	}
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	if aid, ok := toOID(a); ok {
		bid, ok := toOID(b)
		return ok && aid == bid
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	if am, ok := a.(map[string]any); ok {
		bm, ok := b.(map[string]any)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, present := bm[k]
			if !present || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	if al, ok := a.([]any); ok {
		bl, ok := b.([]any)
		if !ok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !Equal(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	switch b.(type) {
	case map[string]any, []any, []byte:
		return false
	}
	return a == b
}

func toOID(v any) (oid.ID, bool) {
	switch id := v.(type) {
	case oid.ID:
		return id, true
	case string:
		parsed, err := oid.Parse(id)
		return parsed, err == nil
	default:
		return oid.Nil, false
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// keepIntegral keeps integer arithmetic integral when the stored value
// was integral.
func keepIntegral(prev any, result float64) any {
	if result == float64(int64(result)) {
		switch prev.(type) {
		case float32, float64:
			return result
		default:
			return int64(result)
		}
	}
	return result
}
