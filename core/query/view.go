package query

import "fmt"

// View is a live, list-like window over every filter leaf matching an
// attribute (optionally narrowed to one operator) across the whole tree.
// Writes go through the recorded tree path and trigger re-indexing, so a
// View must be re-obtained only conceptually: it always reads the current
// index.
type View struct {
	q    *Query
	attr string
	oper string
}

// Get returns a view over all leaves for attr, regardless of operator.
func (q *Query) Get(attr string) *View {
	return &View{q: q, attr: attr}
}

// GetOper returns a view over the leaves for attr using a single operator.
func (q *Query) GetOper(attr, oper string) *View {
	return &View{q: q, attr: attr, oper: oper}
}

func (v *View) entries() []*Entry {
	all := v.q.index[v.attr]
	if v.oper == "" {
		return all
	}
	var out []*Entry
	for _, e := range all {
		if e.Oper == v.oper {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of matching leaves.
func (v *View) Len() int {
	return len(v.entries())
}

// Values returns the current values of all matching leaves, in tree order.
func (v *View) Values() []any {
	entries := v.entries()
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out
}

// Value returns the value of the i-th matching leaf.
func (v *View) Value(i int) (any, error) {
	entries := v.entries()
	if i < 0 || i >= len(entries) {
		return nil, fmt.Errorf("query: view index %d out of range for %q (%d leaves)", i, v.attr, len(entries))
	}
	return entries[i].Value, nil
}

// First returns the value of the first matching leaf, or nil when none.
func (v *View) First() any {
	entries := v.entries()
	if len(entries) == 0 {
		return nil
	}
	return entries[0].Value
}

// Set writes a new value through to the tree leaf behind the i-th entry
// and re-indexes. Operator-narrowed views keep the operator wrapping.
func (v *View) Set(i int, value any) error {
	entries := v.entries()
	if i < 0 || i >= len(entries) {
		return fmt.Errorf("query: view index %d out of range for %q (%d leaves)", i, v.attr, len(entries))
	}
	return v.set(entries[i], value)
}

// SetAll fans the write out to every matching leaf.
func (v *View) SetAll(value any) error {
	for _, e := range v.entries() {
		if err := v.set(e, value); err != nil {
			return err
		}
	}
	return nil
}

func (v *View) set(e *Entry, value any) error {
	step, err := v.q.stepAt(e.path)
	if err != nil {
		return err
	}
	if e.Oper == OperEq {
		step[e.Attr] = copyValue(value)
	} else {
		if err := validateOper(e.Attr, e.Oper, value); err != nil {
			return err
		}
		step[e.Attr] = map[string]any{e.Oper: copyValue(value)}
	}
	return v.q.reindex()
}

// Delete removes the tree leaf behind the i-th entry, prunes empty groups
// and re-indexes.
func (v *View) Delete(i int) error {
	entries := v.entries()
	if i < 0 || i >= len(entries) {
		return fmt.Errorf("query: view index %d out of range for %q (%d leaves)", i, v.attr, len(entries))
	}
	return v.delete(entries[i])
}

// DeleteAll removes every matching leaf.
func (v *View) DeleteAll() error {
	for {
		entries := v.entries()
		if len(entries) == 0 {
			return nil
		}
		if err := v.delete(entries[0]); err != nil {
			return err
		}
	}
}

func (v *View) delete(e *Entry) error {
	step, err := v.q.stepAt(e.path)
	if err != nil {
		return err
	}
	delete(step, e.Attr)
	v.q.prune()
	return v.q.reindex()
}
