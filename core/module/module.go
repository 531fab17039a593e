// Package module implements the generic CRUD pipeline every registered
// module's calls flow through: pre-hooks, realm scoping, permission
// rewrites, argument validation, execution against the storage driver,
// on-hooks, and the cache/diff side effects.
package module

import (
	"context"
	"fmt"

	"github.com/artpar/docbase/core/attr"
	"github.com/artpar/docbase/core/permission"
	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/ports"
)

// Module is one named unit of schema, permissions, methods and hooks. A
// module with an empty Collection is a service module and persists no
// documents. The definition is fixed at registration; only cache entries
// and diff bookkeeping mutate at runtime.
type Module struct {
	Name string

	// Collection is the backing collection name; empty for service
	// modules.
	Collection string

	// Attrs maps attribute name to its schema type.
	Attrs map[string]*attr.Type

	// UniqueAttrs lists attribute combinations that must be unique
	// across the collection.
	UniqueAttrs [][]string

	// Extns declares foreign-key expansions keyed by attribute name.
	Extns map[string]ports.Extn

	// Privileges names the capabilities this module defines.
	Privileges []string

	// Methods maps method name to its specification. CRUD methods use
	// the built-in implementations unless a Handler is set.
	Methods map[string]*Method

	// CacheRules enable read-through caching for matching reads.
	CacheRules []CacheRule

	// Diff enables change recording on update.
	Diff DiffSpec

	// Proxy names a delegate module whose implementation this module
	// wraps. Dispatch consults the proxy's own methods first and falls
	// back to the delegate's.
	Proxy string

	// Hooks holds the per-verb pre/on hooks.
	Hooks Hooks

	frozen bool
}

// DiffSpec configures update diff recording. Exclude lists fields whose
// changes alone do not warrant a diff document.
type DiffSpec struct {
	Enabled bool
	Exclude []string
}

// Method specifies one callable method: its ordered permission rules,
// alternative argument sets, and transport flags.
type Method struct {
	// Permissions is the ordered rule list; the first granted rule wins.
	Permissions []permission.Rule

	// QueryArgs lists alternative required query-attribute sets; the
	// first alternative whose fields are present and valid wins.
	QueryArgs []map[string]*attr.Type

	// DocArgs lists alternative required doc-attribute sets.
	DocArgs []map[string]*attr.Type

	// Get/Post/Watch flag which transports may carry the method.
	Get   bool
	Post  bool
	Watch bool

	// Handler implements module-authored methods. CRUD methods leave it
	// nil and use the built-in pipeline implementations.
	Handler HandlerFunc
}

// HandlerFunc implements a module-authored method.
type HandlerFunc func(ctx context.Context, c *Core, mod *Module, call *Call) *Result

// Call is the mutable argument bundle one pipeline invocation operates
// on. Hooks may rewrite any of its fields.
type Call struct {
	Skip  SkipSet
	Env   *Env
	Query *query.Query
	Doc   map[string]any
}

// HookOutcome is the tagged result of a pre-hook: continue with a
// (possibly rewritten) call, or short-circuit with a final result.
type HookOutcome struct {
	result *Result
	call   *Call
}

// ContinueWith resumes the pipeline with the given call.
func ContinueWith(call *Call) HookOutcome {
	return HookOutcome{call: call}
}

// Stop short-circuits the pipeline with a final result.
func Stop(res *Result) HookOutcome {
	return HookOutcome{result: res}
}

// PreHook runs before the pipeline stages for a verb.
type PreHook func(ctx context.Context, c *Core, mod *Module, call *Call) (HookOutcome, error)

// OnHook runs after execution and may rewrite or replace the result.
type OnHook func(ctx context.Context, c *Core, mod *Module, call *Call, res *Result) (*Result, error)

// Hooks holds the per-verb hook functions; nil entries are skipped.
type Hooks struct {
	PreRead   PreHook
	OnRead    OnHook
	PreCreate PreHook
	OnCreate  OnHook
	PreUpdate PreHook
	OnUpdate  OnHook
	PreDelete PreHook
	OnDelete  OnHook
}

func (h *Hooks) pre(method string) PreHook {
	switch method {
	case "read":
		return h.PreRead
	case "create":
		return h.PreCreate
	case "update":
		return h.PreUpdate
	case "delete":
		return h.PreDelete
	default:
		return nil
	}
}

func (h *Hooks) on(method string) OnHook {
	switch method {
	case "read":
		return h.OnRead
	case "create":
		return h.OnCreate
	case "update":
		return h.OnUpdate
	case "delete":
		return h.OnDelete
	default:
		return nil
	}
}

// check validates a module definition: attribute schemas, extension and
// unique-attr references, and method argument types. On success the
// definition is frozen.
func (m *Module) check() error {
	if m.Name == "" {
		return fmt.Errorf("module requires a name")
	}
	for name, t := range m.Attrs {
		if err := t.Check(); err != nil {
			return fmt.Errorf("module %s attr %q: %w", m.Name, name, err)
		}
	}
	for _, combo := range m.UniqueAttrs {
		for _, name := range combo {
			if _, ok := m.Attrs[name]; !ok {
				return fmt.Errorf("module %s unique_attrs references unknown attr %q", m.Name, name)
			}
		}
	}
	for name := range m.Extns {
		if _, ok := m.Attrs[name]; !ok {
			return fmt.Errorf("module %s extn references unknown attr %q", m.Name, name)
		}
	}
	for methodName, spec := range m.Methods {
		if spec == nil {
			return fmt.Errorf("module %s method %q has no spec", m.Name, methodName)
		}
		for _, set := range spec.QueryArgs {
			for argName, t := range set {
				if err := t.Check(); err != nil {
					return fmt.Errorf("module %s method %q query arg %q: %w", m.Name, methodName, argName, err)
				}
			}
		}
		for _, set := range spec.DocArgs {
			for argName, t := range set {
				if err := t.Check(); err != nil {
					return fmt.Errorf("module %s method %q doc arg %q: %w", m.Name, methodName, argName, err)
				}
			}
		}
	}
	m.frozen = true
	return nil
}

func mustQuery(steps ...any) *query.Query {
	return query.Must(steps...)
}
