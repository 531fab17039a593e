package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/artpar/docbase/pkg/oid"
)

// Comparison operators accepted in filter leaves.
const (
	OperEq    = "$eq"
	OperNe    = "$ne"
	OperGt    = "$gt"
	OperGte   = "$gte"
	OperLt    = "$lt"
	OperLte   = "$lte"
	OperBet   = "$bet"
	OperAll   = "$all"
	OperIn    = "$in"
	OperNin   = "$nin"
	OperRegex = "$regex"
)

// reindex rebuilds the attribute index from the filter tree. It runs after
// construction and after every structural mutation; every non-special leaf
// is reachable through exactly one index entry afterwards.
func (q *Query) reindex() error {
	q.index = map[string][]*Entry{}
	return q.indexSteps(q.steps, nil)
}

func (q *Query) indexSteps(steps []any, path []any) error {
	for i, raw := range steps {
		p := extendPath(path, i)
		switch step := raw.(type) {
		case map[string]any:
			if err := q.indexStep(step, p); err != nil {
				return err
			}
		case []any:
			// OR group: descendants are indexed, the group itself is not.
			if err := q.indexSteps(step, p); err != nil {
				return err
			}
		default:
			return fmt.Errorf("query: invalid step type %T at %v", raw, p)
		}
	}
	return nil
}

func (q *Query) indexStep(step map[string]any, path []any) error {
	keys := make([]string, 0, len(step))
	for k := range step {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, attr := range keys {
		v := step[attr]
		if strings.HasPrefix(attr, "__or") {
			group, ok := v.([]any)
			if !ok {
				return fmt.Errorf("query: OR group %q must be a list, got %T", attr, v)
			}
			if err := q.indexSteps(group, extendPath(path, attr)); err != nil {
				return err
			}
			continue
		}
		oper, value := OperEq, v
		if m, ok := v.(map[string]any); ok && len(m) == 1 {
			for k, operand := range m {
				if strings.HasPrefix(k, "$") {
					if err := validateOper(attr, k, operand); err != nil {
						return err
					}
					oper, value = k, operand
				}
			}
		}
		q.index[attr] = append(q.index[attr], &Entry{
			Attr:  attr,
			Oper:  oper,
			Value: value,
			path:  path,
		})
	}
	return nil
}

// validateOper checks the operand shape for a filter operator at
// index-build time, before the query ever reaches a driver.
func validateOper(attr, oper string, operand any) error {
	switch oper {
	case OperEq, OperNe:
		return nil
	case OperGt, OperGte, OperLt, OperLte:
		if !isScalar(operand) {
			return fmt.Errorf("query: operator %s on %q requires a scalar operand, got %T", oper, attr, operand)
		}
	case OperBet:
		pair, ok := operand.([]any)
		if !ok || len(pair) != 2 || !isScalar(pair[0]) || !isScalar(pair[1]) {
			return fmt.Errorf("query: operator $bet on %q requires a 2-element scalar pair", attr)
		}
	case OperAll, OperIn, OperNin:
		list, ok := operand.([]any)
		if !ok || len(list) == 0 {
			return fmt.Errorf("query: operator %s on %q requires a non-empty list", oper, attr)
		}
	case OperRegex:
		if _, ok := operand.(string); !ok {
			return fmt.Errorf("query: operator $regex on %q requires a string operand, got %T", attr, operand)
		}
	default:
		return fmt.Errorf("query: unknown operator %q on %q", oper, attr)
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		time.Time, oid.ID:
		return true
	default:
		return false
	}
}

// stepAt resolves a recorded path to the step map containing a leaf.
func (q *Query) stepAt(path []any) (map[string]any, error) {
	var cur any = q.steps
	for _, seg := range path {
		switch s := seg.(type) {
		case int:
			list, ok := cur.([]any)
			if !ok || s < 0 || s >= len(list) {
				return nil, fmt.Errorf("query: stale path index %v", path)
			}
			cur = list[s]
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("query: stale path key %v", path)
			}
			cur = m[s]
		default:
			return nil, fmt.Errorf("query: invalid path segment %T", seg)
		}
	}
	step, ok := cur.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("query: path %v does not resolve to a step", path)
	}
	return step, nil
}

// prune removes empty AND steps and empty OR groups left behind by a
// deletion, at every level of the tree.
func (q *Query) prune() {
	q.steps = pruneSteps(q.steps)
}

func pruneSteps(steps []any) []any {
	out := steps[:0]
	for _, raw := range steps {
		switch step := raw.(type) {
		case map[string]any:
			for k, v := range step {
				if !strings.HasPrefix(k, "__or") {
					continue
				}
				if group, ok := v.([]any); ok {
					group = pruneSteps(group)
					if len(group) == 0 {
						delete(step, k)
					} else {
						step[k] = group
					}
				}
			}
			if len(step) != 0 {
				out = append(out, step)
			}
		case []any:
			group := pruneSteps(step)
			if len(group) != 0 {
				out = append(out, group)
			}
		}
	}
	return out
}

func extendPath(path []any, seg any) []any {
	p := make([]any, 0, len(path)+1)
	p = append(p, path...)
	return append(p, seg)
}
