package module

import (
	"sync"

	"github.com/artpar/docbase/pkg/oid"
)

// systemSet is the registry of bootstrap document ids protected from
// deletion. Bootstrap seeds it at startup; delete consults it on every
// call.
type systemSet struct {
	mu  sync.RWMutex
	ids map[string]map[oid.ID]bool
}

func newSystemSet() *systemSet {
	return &systemSet{ids: map[string]map[oid.ID]bool{}}
}

func (s *systemSet) add(module string, ids ...oid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.ids[module]
	if !ok {
		byID = map[oid.ID]bool{}
		s.ids[module] = byID
	}
	for _, id := range ids {
		byID[id] = true
	}
}

func (s *systemSet) has(module string, id oid.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids[module][id]
}

// MarkSystem registers documents as system-protected for a module.
func (c *Core) MarkSystem(module string, ids ...oid.ID) {
	c.system.add(module, ids...)
}

// IsSystem reports whether a document is system-protected.
func (c *Core) IsSystem(module string, id oid.ID) bool {
	return c.system.has(module, id)
}
