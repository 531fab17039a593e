package module

import (
	"sync"
	"time"

	"github.com/artpar/docbase/core/query"
)

// CacheRule enables read-through caching for reads it matches.
type CacheRule struct {
	// Match reports whether a read qualifies; nil matches every read.
	Match func(skip SkipSet, env *Env, q *query.Query) bool

	// Period bounds entry freshness; zero means no expiry.
	Period time.Duration
}

type cacheEntry struct {
	res      *Result
	captured time.Time
	period   time.Duration
}

// cacheStore holds cached read results per module. Writes to a module
// invalidate all of its entries wholesale.
type cacheStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]cacheEntry
}

func newCacheStore() *cacheStore {
	return &cacheStore{entries: map[string]map[string]cacheEntry{}}
}

func (s *cacheStore) get(module, key string, now time.Time) (*Result, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[module][key]
	if !ok {
		return nil, time.Time{}, false
	}
	if entry.period > 0 && now.Sub(entry.captured) > entry.period {
		return nil, time.Time{}, false
	}
	return entry.res, entry.captured, true
}

func (s *cacheStore) put(module, key string, res *Result, now time.Time, period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.entries[module]
	if !ok {
		byKey = map[string]cacheEntry{}
		s.entries[module] = byKey
	}
	byKey[key] = cacheEntry{res: cloneResult(res), captured: now, period: period}
}

// invalidate drops every entry for a module.
func (s *cacheStore) invalidate(module string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, module)
}

// cacheRuleFor returns the first matching rule for a read.
func cacheRuleFor(mod *Module, call *Call) *CacheRule {
	for i := range mod.CacheRules {
		rule := &mod.CacheRules[i]
		if rule.Match == nil || rule.Match(call.Skip, call.Env, call.Query) {
			return rule
		}
	}
	return nil
}

// cloneResult deep-copies a result so cached documents never alias the
// maps handed to callers.
func cloneResult(r *Result) *Result {
	return &Result{Status: r.Status, Msg: r.Msg, Args: cloneValue(r.Args).(map[string]any)}
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item).(map[string]any)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
