// Package query implements the structured query representation consumed by
// storage drivers: an ordered sequence of filter steps (AND-combined maps,
// OR-combined nested lists) with $-prefixed special operators held apart
// from the filter tree, and an attribute index that is the only supported
// way to read or mutate a specific filter value.
package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Special operator names recognized alongside filter steps.
const (
	SpecialSearch  = "$search"
	SpecialSort    = "$sort"
	SpecialSkip    = "$skip"
	SpecialLimit   = "$limit"
	SpecialGroup   = "$group"
	SpecialAttrs   = "$attrs"
	SpecialExtn    = "$extn"
	SpecialDeleted = "$deleted"
)

var specialNames = map[string]bool{
	SpecialSearch:  true,
	SpecialSort:    true,
	SpecialSkip:    true,
	SpecialLimit:   true,
	SpecialGroup:   true,
	SpecialAttrs:   true,
	SpecialExtn:    true,
	SpecialDeleted: true,
}

// Query is an indexed filter tree. Steps at the top level combine with AND;
// nested lists (or "__or"-prefixed keys) form OR groups. All mutation goes
// through the views returned by Get and GetOper.
type Query struct {
	steps   []any
	special map[string]any
	index   map[string][]*Entry
}

// Entry records one indexed filter leaf: the operator applied to the
// attribute, the path to the step map containing the leaf, and its value.
type Entry struct {
	Attr  string
	Oper  string
	Value any
	path  []any
}

// New builds a Query from a literal step list. Maps may mix filter
// attributes with $-prefixed special operators; the specials are extracted
// into a separate map as a side effect of construction. Nested lists form
// OR groups. The attribute index is built before New returns.
func New(steps ...any) (*Query, error) {
	q := &Query{special: map[string]any{}}
	for _, raw := range steps {
		switch step := raw.(type) {
		case map[string]any:
			filter := map[string]any{}
			for k, v := range step {
				if strings.HasPrefix(k, "$") {
					if !specialNames[k] {
						return nil, fmt.Errorf("query: unknown special operator %q", k)
					}
					q.special[k] = copyValue(v)
					continue
				}
				filter[k] = copyValue(v)
			}
			if len(filter) != 0 {
				q.steps = append(q.steps, filter)
			}
		case []any:
			q.steps = append(q.steps, copyValue(step))
		case nil:
			// Skip nil steps so callers can splice optional fragments.
		default:
			return nil, fmt.Errorf("query: invalid step type %T", raw)
		}
	}
	if err := q.reindex(); err != nil {
		return nil, err
	}
	return q, nil
}

// Must builds a Query and panics on error. Intended for literals in module
// definitions and tests, where a malformed query is a programming error.
func Must(steps ...any) *Query {
	q, err := New(steps...)
	if err != nil {
		panic(err)
	}
	return q
}

// Steps returns a deep copy of the ordered filter steps.
func (q *Query) Steps() []any {
	return copyValue(q.steps).([]any)
}

// Special returns the value of a special operator.
func (q *Query) Special(name string) (any, bool) {
	v, ok := q.special[name]
	return v, ok
}

// SetSpecial sets a special operator value.
func (q *Query) SetSpecial(name string, v any) error {
	if !specialNames[name] {
		return fmt.Errorf("query: unknown special operator %q", name)
	}
	q.special[name] = v
	return nil
}

// DeleteSpecial removes a special operator.
func (q *Query) DeleteSpecial(name string) {
	delete(q.special, name)
}

// SpecialMap returns a deep copy of all special operators, keyed by their
// $-prefixed names. Appending it to Steps() round-trips the query.
func (q *Query) SpecialMap() map[string]any {
	out := map[string]any{}
	for k, v := range q.special {
		out[k] = copyValue(v)
	}
	return out
}

// Attrs returns the sorted set of attribute names present in the index.
func (q *Query) Attrs() []string {
	names := make([]string, 0, len(q.index))
	for name := range q.index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether at least one filter leaf exists for the attribute.
func (q *Query) Has(attr string) bool {
	return len(q.index[attr]) > 0
}

// Entries returns the index entries for an attribute, in tree order.
func (q *Query) Entries(attr string) []*Entry {
	return q.index[attr]
}

// Append adds a filter map as a new top-level AND step and re-indexes.
func (q *Query) Append(step map[string]any) error {
	filter := map[string]any{}
	for k, v := range step {
		if strings.HasPrefix(k, "$") {
			if !specialNames[k] {
				return fmt.Errorf("query: unknown special operator %q", k)
			}
			q.special[k] = copyValue(v)
			continue
		}
		filter[k] = copyValue(v)
	}
	if len(filter) != 0 {
		q.steps = append(q.steps, filter)
	}
	return q.reindex()
}

// Canonical returns a deterministic serialization of the filter tree and
// special operators, suitable as a cache key. Map keys are emitted sorted.
func (q *Query) Canonical() (string, error) {
	payload := struct {
		Steps   []any          `json:"steps"`
		Special map[string]any `json:"special"`
	}{q.steps, q.special}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("query: canonical serialization: %w", err)
	}
	return string(b), nil
}

// copyValue deep-copies the literal value shapes a query tree is built
// from: maps, slices and scalars. Other types are shared by reference.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	default:
		return v
	}
}
