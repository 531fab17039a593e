// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/docbase/core/attr"
	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/pkg/oid"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates document identifiers.
type IDGenerator interface {
	New() oid.ID
}

// CounterStore persists named counters for counter-pattern defaults.
type CounterStore interface {
	// Next atomically increments and returns the named counter.
	Next(ctx context.Context, name string) (int64, error)
}

// Hasher hashes and verifies stored credentials.
type Hasher interface {
	Hash(plaintext string) ([]byte, error)
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Storage Driver Port
// -----------------------------------------------------------------------------

// Conn is a driver-owned connection or session handle, acquired at call
// start and released at call end.
type Conn any

// Extn declares a foreign-key-style expansion from an id (or id list)
// attribute to another module's documents.
type Extn struct {
	// Module is the target module name.
	Module string

	// Attrs lists the target attributes to keep in the substituted
	// document; empty keeps all.
	Attrs []string

	// Force expands the target's own extensions too (second level).
	Force bool
}

// DeleteStrategy selects one cell of the delete matrix:
// {soft, hard} x {skip system docs, include system docs}.
type DeleteStrategy int

const (
	DeleteSoftSkipSys DeleteStrategy = iota
	DeleteSoftSysDocs
	DeleteHardSkipSys
	DeleteHardSysDocs
)

// Hard reports whether documents are physically removed rather than
// marked deleted.
func (s DeleteStrategy) Hard() bool {
	return s == DeleteHardSkipSys || s == DeleteHardSysDocs
}

// IncludeSys reports whether system documents are deletable under this
// strategy.
func (s DeleteStrategy) IncludeSys() bool {
	return s == DeleteSoftSysDocs || s == DeleteHardSysDocs
}

func (s DeleteStrategy) String() string {
	switch s {
	case DeleteSoftSkipSys:
		return "soft"
	case DeleteSoftSysDocs:
		return "soft_sys"
	case DeleteHardSkipSys:
		return "hard"
	case DeleteHardSysDocs:
		return "hard_sys"
	default:
		return "unknown"
	}
}

// ReadArgs describes one driver read.
type ReadArgs struct {
	Collection string
	Attrs      map[string]*attr.Type
	Extns      map[string]Extn

	// Modules maps module name to its attribute schema, so drivers can
	// coerce id-typed values of extended modules.
	Modules map[string]map[string]*attr.Type

	Query *query.Query
}

// CreateArgs describes one driver insert.
type CreateArgs struct {
	Collection string
	Attrs      map[string]*attr.Type
	Doc        map[string]any
}

// UpdateArgs describes one driver update against a resolved id set.
type UpdateArgs struct {
	Collection string
	Attrs      map[string]*attr.Type
	TargetIDs  []oid.ID
	Doc        map[string]any
}

// DeleteArgs describes one driver delete against a resolved id set.
type DeleteArgs struct {
	Collection string
	TargetIDs  []oid.ID
	Strategy   DeleteStrategy
}

// ReadResults is the driver's read response.
type ReadResults struct {
	// Total counts all documents matching the filter, ignoring paging.
	Total int64

	// Count counts the returned documents.
	Count int64

	Docs []map[string]any

	// Groups holds $group aggregation output, keyed by group value.
	Groups map[string]int64
}

// WriteResults is the driver's create/update/delete response.
type WriteResults struct {
	Count int64

	// Docs carries the affected document ids as {_id} maps.
	Docs []map[string]any
}

// Driver compiles structured queries into the engine's native form and
// performs reads and writes. Every read applies an implicit
// "not soft-deleted" filter unless the query's $deleted special is set.
type Driver interface {
	// Acquire obtains a dedicated connection for one call; Release must
	// run on every exit path.
	Acquire(ctx context.Context) (Conn, error)
	Release(conn Conn)

	Read(ctx context.Context, conn Conn, args ReadArgs) (*ReadResults, error)
	Create(ctx context.Context, conn Conn, args CreateArgs) (*WriteResults, error)
	Update(ctx context.Context, conn Conn, args UpdateArgs) (*WriteResults, error)
	Delete(ctx context.Context, conn Conn, args DeleteArgs) (*WriteResults, error)

	// Drop removes a collection entirely.
	Drop(ctx context.Context, conn Conn, collection string) (bool, error)

	Close() error
}
