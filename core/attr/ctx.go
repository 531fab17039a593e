package attr

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Clock abstracts time for relative date ranges and timestamp defaults.
type Clock interface {
	Now() time.Time
}

// CounterStore persists named counters for counter-pattern defaults. Next
// atomically increments and returns the counter value.
type CounterStore interface {
	Next(ctx context.Context, name string) (int64, error)
}

// Ctx carries the call context a validation runs under: the clock, locale
// configuration, the counter collaborator, and the caller-supplied
// document for conditional defaults and counter-pattern substitution.
type Ctx struct {
	Context context.Context
	Clock   Clock

	// Locales is the configured locale set; Locale the default locale.
	Locales []string
	Locale  string

	Counters CounterStore

	// Doc is the full caller-supplied document, available to conditional
	// default predicates and {doc:...} counter substitutions.
	Doc map[string]any

	// Vars carries session-derived values for conditional defaults.
	Vars map[string]any

	Log zerolog.Logger
}

func (c *Ctx) now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock.Now()
	}
	return time.Now()
}

func (c *Ctx) context() context.Context {
	if c != nil && c.Context != nil {
		return c.Context
	}
	return context.Background()
}

func (c *Ctx) locales() []string {
	if c != nil && len(c.Locales) != 0 {
		return c.Locales
	}
	return []string{"en"}
}

func (c *Ctx) locale() string {
	if c != nil && c.Locale != "" {
		return c.Locale
	}
	return c.locales()[0]
}
