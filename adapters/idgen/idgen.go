// Package idgen provides document id generation implementations.
package idgen

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/artpar/docbase/pkg/oid"
	"github.com/artpar/docbase/ports"
)

// Random generates time-prefixed random ids.
type Random struct{}

// New generates a new id.
func (Random) New() oid.ID {
	return oid.New()
}

// Ensure interface compliance.
var _ ports.IDGenerator = Random{}

// Sequential generates deterministic ids (for testing). Ids carry the
// counter in the trailing bytes, so generation order equals sort order.
type Sequential struct {
	counter uint32
}

// NewSequential creates a sequential id generator.
func NewSequential() *Sequential {
	return &Sequential{}
}

// New generates the next sequential id.
func (s *Sequential) New() oid.ID {
	n := atomic.AddUint32(&s.counter, 1)
	var id oid.ID
	binary.BigEndian.PutUint32(id[8:], n)
	return id
}

// Reset resets the counter (for testing).
func (s *Sequential) Reset() {
	atomic.StoreUint32(&s.counter, 0)
}

// Ensure interface compliance.
var _ ports.IDGenerator = (*Sequential)(nil)
