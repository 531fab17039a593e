// Package memstore implements the storage driver on in-process maps.
// It backs tests and small single-process deployments; the sqlite
// adapter is the persistent sibling.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/pkg/docop"
	"github.com/artpar/docbase/pkg/oid"
	"github.com/artpar/docbase/ports"
)

// deletedField marks soft-deleted documents.
const deletedField = "_deleted"

// Store holds every collection in memory. It implements both
// ports.Driver and ports.CounterStore.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[oid.ID]map[string]any

	cmu      sync.Mutex
	counters map[string]int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		collections: map[string]map[oid.ID]map[string]any{},
		counters:    map[string]int64{},
	}
}

// Acquire hands out the store itself; in-memory access needs no session
// state.
func (s *Store) Acquire(ctx context.Context) (ports.Conn, error) {
	return s, nil
}

func (s *Store) Release(conn ports.Conn) {}

func (s *Store) Close() error { return nil }

// Next implements ports.CounterStore.
func (s *Store) Next(ctx context.Context, name string) (int64, error) {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	s.counters[name]++
	return s.counters[name], nil
}

func (s *Store) Read(ctx context.Context, conn ports.Conn, args ports.ReadArgs) (*ports.ReadResults, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matcher, err := compile(args.Query)
	if err != nil {
		return nil, err
	}
	includeDeleted := deletedRequested(args.Query)

	var matched []map[string]any
	for _, doc := range s.collections[args.Collection] {
		if !includeDeleted && isDeleted(doc) {
			continue
		}
		if matcher(doc) && searchMatches(args.Query, doc) {
			matched = append(matched, cloneDoc(doc))
		}
	}

	sortDocs(args.Query, matched)
	total := int64(len(matched))

	if groupAttr, ok := groupRequested(args.Query); ok {
		groups := map[string]int64{}
		for _, doc := range matched {
			groups[fmt.Sprintf("%v", doc[groupAttr])]++
		}
		return &ports.ReadResults{Total: total, Count: 0, Groups: groups}, nil
	}

	matched = page(args.Query, matched)
	return &ports.ReadResults{
		Total: total,
		Count: int64(len(matched)),
		Docs:  matched,
	}, nil
}

func (s *Store) Create(ctx context.Context, conn ports.Conn, args ports.CreateArgs) (*ports.WriteResults, error) {
	id, ok := docOID(args.Doc["_id"])
	if !ok {
		return nil, fmt.Errorf("memstore: create requires an _id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[args.Collection]
	if !ok {
		coll = map[oid.ID]map[string]any{}
		s.collections[args.Collection] = coll
	}
	if _, exists := coll[id]; exists {
		return nil, fmt.Errorf("memstore: duplicate _id %s in %s", id.Hex(), args.Collection)
	}
	stored := cloneDoc(args.Doc)
	stored["_id"] = id
	coll[id] = stored
	return &ports.WriteResults{
		Count: 1,
		Docs:  []map[string]any{{"_id": id}},
	}, nil
}

func (s *Store) Update(ctx context.Context, conn ports.Conn, args ports.UpdateArgs) (*ports.WriteResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collections[args.Collection]

	var results ports.WriteResults
	for _, id := range args.TargetIDs {
		doc, ok := coll[id]
		if !ok {
			continue
		}
		for name, value := range args.Doc {
			if name == "_id" {
				continue
			}
			next, err := docop.Apply(doc[name], value)
			if err != nil {
				return nil, fmt.Errorf("memstore: attr %q: %w", name, err)
			}
			doc[name] = next
		}
		results.Count++
		results.Docs = append(results.Docs, map[string]any{"_id": id})
	}
	return &results, nil
}

func (s *Store) Delete(ctx context.Context, conn ports.Conn, args ports.DeleteArgs) (*ports.WriteResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collections[args.Collection]

	var results ports.WriteResults
	for _, id := range args.TargetIDs {
		doc, ok := coll[id]
		if !ok {
			continue
		}
		if args.Strategy.Hard() {
			delete(coll, id)
		} else {
			doc[deletedField] = true
		}
		results.Count++
		results.Docs = append(results.Docs, map[string]any{"_id": id})
	}
	return &results, nil
}

func (s *Store) Drop(ctx context.Context, conn ports.Conn, collection string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[collection]
	delete(s.collections, collection)
	return ok, nil
}

func isDeleted(doc map[string]any) bool {
	deleted, _ := doc[deletedField].(bool)
	return deleted
}

func deletedRequested(q *query.Query) bool {
	if q == nil {
		return false
	}
	v, ok := q.Special(query.SpecialDeleted)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func groupRequested(q *query.Query) (string, bool) {
	if q == nil {
		return "", false
	}
	v, ok := q.Special(query.SpecialGroup)
	if !ok {
		return "", false
	}
	name, ok := v.(string)
	return name, ok && name != ""
}

// sortDocs orders by the $sort special: an attribute name or a list of
// names, each optionally "-"-prefixed for descending order. Ties keep a
// stable _id order so paging is deterministic.
func sortDocs(q *query.Query, docs []map[string]any) {
	var fields []string
	if q != nil {
		if v, ok := q.Special(query.SpecialSort); ok {
			switch val := v.(type) {
			case string:
				fields = []string{val}
			case []string:
				fields = val
			case []any:
				for _, item := range val {
					if s, ok := item.(string); ok {
						fields = append(fields, s)
					}
				}
			}
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, field := range fields {
			desc := false
			if len(field) > 0 && field[0] == '-' {
				desc = true
				field = field[1:]
			}
			cmp := compareValues(docs[i][field], docs[j][field])
			if cmp == 0 {
				continue
			}
			if desc {
				return cmp > 0
			}
			return cmp < 0
		}
		iID, _ := docOID(docs[i]["_id"])
		jID, _ := docOID(docs[j]["_id"])
		return iID.Hex() < jID.Hex()
	})
}

func page(q *query.Query, docs []map[string]any) []map[string]any {
	if q == nil {
		return docs
	}
	skip := intSpecial(q, query.SpecialSkip, 0)
	if skip > len(docs) {
		skip = len(docs)
	}
	docs = docs[skip:]
	limit := intSpecial(q, query.SpecialLimit, -1)
	if limit >= 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

func intSpecial(q *query.Query, name string, fallback int) int {
	v, ok := q.Special(name)
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func docOID(v any) (oid.ID, bool) {
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

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneDoc(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneAny(item)
		}
		return out
	default:
		return v
	}
}
