package memstore

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/pkg/oid"
)

// compile lowers a structured query into a document predicate. Steps AND
// together; nested lists and __or-prefixed keys form OR groups.
func compile(q *query.Query) (func(map[string]any) bool, error) {
	if q == nil {
		return func(map[string]any) bool { return true }, nil
	}
	return compileSteps(q.Steps())
}

func compileSteps(steps []any) (func(map[string]any) bool, error) {
	var preds []func(map[string]any) bool
	for _, raw := range steps {
		switch step := raw.(type) {
		case map[string]any:
			p, err := compileStep(step)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		case []any:
			p, err := compileOr(step)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		default:
			return nil, fmt.Errorf("memstore: invalid step type %T", raw)
		}
	}
	return andAll(preds), nil
}

func compileStep(step map[string]any) (func(map[string]any) bool, error) {
	var preds []func(map[string]any) bool
	for attr, raw := range step {
		if strings.HasPrefix(attr, "__or") {
			group, ok := raw.([]any)
			if !ok {
				return nil, fmt.Errorf("memstore: %q group must be a list", attr)
			}
			p, err := compileOr(group)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
			continue
		}
		p, err := compileLeaf(attr, raw)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return andAll(preds), nil
}

func compileOr(group []any) (func(map[string]any) bool, error) {
	var alts []func(map[string]any) bool
	for _, raw := range group {
		switch alt := raw.(type) {
		case map[string]any:
			p, err := compileStep(alt)
			if err != nil {
				return nil, err
			}
			alts = append(alts, p)
		case []any:
			p, err := compileSteps(alt)
			if err != nil {
				return nil, err
			}
			alts = append(alts, p)
		default:
			return nil, fmt.Errorf("memstore: invalid OR member type %T", raw)
		}
	}
	return func(doc map[string]any) bool {
		for _, alt := range alts {
			if alt(doc) {
				return true
			}
		}
		return len(alts) == 0
	}, nil
}

func compileLeaf(attr string, raw any) (func(map[string]any) bool, error) {
	oper := query.OperEq
	operand := raw
	if m, ok := raw.(map[string]any); ok && len(m) == 1 {
		for k, v := range m {
			if strings.HasPrefix(k, "$") {
				oper, operand = k, v
			}
		}
	}
	switch oper {
	case query.OperEq:
		return func(doc map[string]any) bool { return valuesEqual(doc[attr], operand) }, nil
	case query.OperNe:
		return func(doc map[string]any) bool { return !valuesEqual(doc[attr], operand) }, nil
	case query.OperGt, query.OperGte, query.OperLt, query.OperLte:
		return func(doc map[string]any) bool {
			v, present := doc[attr]
			if !present {
				return false
			}
			cmp := compareValues(v, operand)
			switch oper {
			case query.OperGt:
				return cmp > 0
			case query.OperGte:
				return cmp >= 0
			case query.OperLt:
				return cmp < 0
			default:
				return cmp <= 0
			}
		}, nil
	case query.OperBet:
		pair, ok := operand.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("memstore: $bet needs a 2-element pair")
		}
		return func(doc map[string]any) bool {
			v, present := doc[attr]
			if !present {
				return false
			}
			return compareValues(v, pair[0]) >= 0 && compareValues(v, pair[1]) < 0
		}, nil
	case query.OperIn, query.OperNin:
		list, ok := operand.([]any)
		if !ok {
			return nil, fmt.Errorf("memstore: %s needs a list", oper)
		}
		return func(doc map[string]any) bool {
			found := false
			for _, item := range list {
				if valuesEqual(doc[attr], item) {
					found = true
					break
				}
			}
			if oper == query.OperIn {
				return found
			}
			return !found
		}, nil
	case query.OperAll:
		list, ok := operand.([]any)
		if !ok {
			return nil, fmt.Errorf("memstore: $all needs a list")
		}
		return func(doc map[string]any) bool {
			have, ok := doc[attr].([]any)
			if !ok {
				return false
			}
			for _, want := range list {
				found := false
				for _, item := range have {
					if valuesEqual(item, want) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
			return true
		}, nil
	case query.OperRegex:
		pattern, ok := operand.(string)
		if !ok {
			return nil, fmt.Errorf("memstore: $regex needs a string")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("memstore: $regex: %w", err)
		}
		return func(doc map[string]any) bool {
			s, ok := doc[attr].(string)
			return ok && re.MatchString(s)
		}, nil
	default:
		return nil, fmt.Errorf("memstore: unknown operator %q", oper)
	}
}

func andAll(preds []func(map[string]any) bool) func(map[string]any) bool {
	return func(doc map[string]any) bool {
		for _, p := range preds {
			if !p(doc) {
				return false
			}
		}
		return true
	}
}

// searchMatches applies the $search special: a case-insensitive
// substring scan over every string field.
func searchMatches(q *query.Query, doc map[string]any) bool {
	if q == nil {
		return true
	}
	raw, ok := q.Special(query.SpecialSearch)
	if !ok {
		return true
	}
	needle, ok := raw.(string)
	if !ok || needle == "" {
		return true
	}
	needle = strings.ToLower(needle)
	for _, v := range doc {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

// valuesEqual compares loosely across the shapes a document value takes:
// numbers compare numerically, ids compare by hex regardless of
// string/ID representation.
func valuesEqual(a, b any) bool {
	if af, ok := toNumber(a); ok {
		if bf, ok := toNumber(b); ok {
			return af == bf
		}
		return false
	}
	if aid, ok := docOID(a); ok {
		if bid, ok := docOID(b); ok {
			return aid == bid
		}
		return false
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
		return false
	}
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	switch a.(type) {
	case map[string]any, []any:
		return false
	}
	switch b.(type) {
	case map[string]any, []any, []byte:
		return false
	}
	return a == b
}

// compareValues orders two values of the same rough shape; incomparable
// pairs order as equal.
func compareValues(a, b any) int {
	if af, ok := toNumber(a); ok {
		if bf, ok := toNumber(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}
	if aid, ok := a.(oid.ID); ok {
		if bid, ok := b.(oid.ID); ok {
			return strings.Compare(aid.Hex(), bid.Hex())
		}
	}
	return 0
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
		return float64(n), true
	default:
		return 0, false
	}
}

