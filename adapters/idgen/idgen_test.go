package idgen_test

import (
	"bytes"
	"testing"

	"github.com/artpar/docbase/adapters/idgen"
	"github.com/artpar/docbase/pkg/oid"
)

func TestRandom_New(t *testing.T) {
	g := idgen.Random{}

	id := g.New()
	if id.IsZero() {
		t.Error("expected non-zero id")
	}
	if !oid.IsValid(id.Hex()) {
		t.Errorf("id %s does not round-trip through hex", id.Hex())
	}
}

func TestRandom_New_Unique(t *testing.T) {
	g := idgen.Random{}

	seen := make(map[oid.ID]bool)
	for i := 0; i < 1000; i++ {
		id := g.New()
		if seen[id] {
			t.Errorf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestSequential_New(t *testing.T) {
	g := idgen.NewSequential()

	a := g.New()
	b := g.New()
	c := g.New()

	if a.IsZero() {
		t.Error("first id is zero")
	}
	if a == b || b == c {
		t.Error("sequential ids must differ")
	}
	if bytes.Compare(a[:], b[:]) >= 0 || bytes.Compare(b[:], c[:]) >= 0 {
		t.Errorf("ids not in generation order: %s %s %s", a, b, c)
	}
}

func TestSequential_Reset(t *testing.T) {
	g := idgen.NewSequential()

	first := g.New()
	g.New()
	g.New()

	g.Reset()

	if got := g.New(); got != first {
		t.Errorf("after reset id = %s, want %s", got, first)
	}
}

func TestSequential_ConcurrentAccess(t *testing.T) {
	g := idgen.NewSequential()

	done := make(chan bool)
	ids := make(chan oid.ID, 1000)

	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				ids <- g.New()
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
	close(ids)

	seen := make(map[oid.ID]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id: %s", id)
		}
		seen[id] = true
	}

	if len(seen) != 1000 {
		t.Errorf("expected 1000 unique ids, got %d", len(seen))
	}
}
