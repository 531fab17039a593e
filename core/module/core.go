package module

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/docbase/core/attr"
	"github.com/artpar/docbase/core/permission"
	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/ports"
)

// Config is the runtime configuration the pipeline consults.
type Config struct {
	// Locales is the full locale set; Locale the default.
	Locales []string
	Locale  string

	// Debug echoes internal error details in server_error results.
	Debug bool

	// Realm enables tenancy partitioning on every persisted module.
	Realm bool
}

// Observer receives pipeline measurements. The prometheus adapter
// implements it; tests use the no-op.
type Observer interface {
	CallStarted(module, method string)
	CallFinished(module, method string, status int, elapsed time.Duration)
	CacheHit(module string)
	CacheMiss(module string)
}

type nopObserver struct{}

func (nopObserver) CallStarted(string, string)                      {}
func (nopObserver) CallFinished(string, string, int, time.Duration) {}
func (nopObserver) CacheHit(string)                                 {}
func (nopObserver) CacheMiss(string)                                {}

// RuntimeContext bundles the collaborators every pipeline stage draws on.
type RuntimeContext struct {
	Config   Config
	Log      zerolog.Logger
	Clock    ports.Clock
	IDs      ports.IDGenerator
	Counters ports.CounterStore
	Driver   ports.Driver
	Metrics  Observer
}

// Core owns the module registry and runs the call pipeline. Modules
// register before Freeze; afterwards the registry is immutable and Call
// is safe for concurrent use.
type Core struct {
	rt *RuntimeContext

	mu      sync.RWMutex
	modules map[string]*Module
	frozen  bool

	cache  *cacheStore
	thumbs *thumbCache
	system *systemSet
}

// New builds a core around the given runtime context.
func New(rt *RuntimeContext) (*Core, error) {
	if rt == nil {
		return nil, fmt.Errorf("core requires a runtime context")
	}
	if rt.Clock == nil {
		return nil, fmt.Errorf("core requires a clock")
	}
	if rt.IDs == nil {
		return nil, fmt.Errorf("core requires an id generator")
	}
	if rt.Driver == nil {
		return nil, fmt.Errorf("core requires a storage driver")
	}
	if rt.Metrics == nil {
		rt.Metrics = nopObserver{}
	}
	return &Core{
		rt:      rt,
		modules: map[string]*Module{},
		cache:   newCacheStore(),
		thumbs:  newThumbCache(thumbCacheCap),
		system:  newSystemSet(),
	}, nil
}

// Runtime exposes the core's runtime context.
func (c *Core) Runtime() *RuntimeContext { return c.rt }

// Register adds a module definition. Registration closes at Freeze.
func (c *Core) Register(m *Module) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return fmt.Errorf("registry is frozen; cannot register %q", m.Name)
	}
	if _, dup := c.modules[m.Name]; dup {
		return fmt.Errorf("module %q already registered", m.Name)
	}
	if err := m.check(); err != nil {
		return err
	}
	c.modules[m.Name] = m
	return nil
}

// Freeze closes registration after verifying cross-module references:
// extension targets and proxy delegates must exist.
func (c *Core) Freeze() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.modules {
		for name, extn := range m.Extns {
			if _, ok := c.modules[extn.Module]; !ok {
				return fmt.Errorf("module %s extn %q targets unknown module %q", m.Name, name, extn.Module)
			}
		}
		if m.Proxy != "" {
			delegate, ok := c.modules[m.Proxy]
			if !ok {
				return fmt.Errorf("module %s proxies unknown module %q", m.Name, m.Proxy)
			}
			if delegate.Proxy != "" {
				return fmt.Errorf("module %s proxies %q, which is itself a proxy", m.Name, m.Proxy)
			}
		}
	}
	c.frozen = true
	return nil
}

// Module returns a registered module by name.
func (c *Core) Module(name string) (*Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[name]
	return m, ok
}

// Modules returns the names of all registered modules.
func (c *Core) Modules() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	return names
}

// Call runs one method through the pipeline and returns its structured
// result. Errors never escape: unexpected failures, panics included,
// convert to server_error results.
func (c *Core) Call(ctx context.Context, moduleName, method string, call *Call) (res *Result) {
	start := time.Now()
	c.rt.Metrics.CallStarted(moduleName, method)
	defer func() {
		if r := recover(); r != nil {
			c.rt.Log.Error().
				Str("module", moduleName).
				Str("method", method).
				Interface("panic", r).
				Msg("call panicked")
			res = c.serverError(moduleName, method, fmt.Errorf("panic: %v", r))
		}
		c.rt.Metrics.CallFinished(moduleName, method, res.StatusOf(), time.Since(start))
	}()

	mod, ok := c.Module(moduleName)
	if !ok {
		return notFoundResult(fmt.Sprintf("unknown module %q", moduleName))
	}
	if call == nil {
		call = &Call{}
	}
	if call.Env == nil {
		call.Env = &Env{}
	}
	if call.Query == nil {
		call.Query = mustQuery()
	}
	if call.Doc == nil {
		call.Doc = map[string]any{}
	}

	// One dedicated connection per top-level call; nested calls inherit.
	if call.Env.Conn == nil {
		conn, err := c.rt.Driver.Acquire(ctx)
		if err != nil {
			return c.serverError(moduleName, method, err)
		}
		call.Env.Conn = conn
		defer func() {
			c.rt.Driver.Release(conn)
			call.Env.Conn = nil
		}()
	}

	return c.dispatch(ctx, mod, method, call)
}

// StatusOf reads the status defensively for metric labelling.
func (r *Result) StatusOf() int {
	if r == nil {
		return 500
	}
	return r.Status
}

func (c *Core) dispatch(ctx context.Context, mod *Module, method string, call *Call) *Result {
	delegate := mod
	if mod.Proxy != "" {
		delegate, _ = c.Module(mod.Proxy)
	}

	spec := c.methodSpec(mod, delegate, method)
	if spec == nil {
		return notFoundResult(fmt.Sprintf("module %q has no method %q", mod.Name, method))
	}

	// PRE: delegate's hook first, then the proxy's own.
	if !call.Skip.Has(SkipPre) {
		for _, h := range hookChainPre(delegate, mod, method) {
			outcome, err := h(ctx, c, mod, call)
			if err != nil {
				return c.serverError(mod.Name, method, err)
			}
			if outcome.result != nil {
				return outcome.result
			}
			if outcome.call != nil {
				call = outcome.call
			}
		}
	}

	// REALM: scope persisted modules to the caller's partition. The realm
	// registry is exempt only for its own create; reads and writes on
	// realm docs stay partitioned like any other module.
	if c.rt.Config.Realm && !call.Skip.Has(SkipRealm) &&
		delegate.Collection != "" &&
		!(delegate.Name == "realm" && method == "create") {
		if err := c.applyRealm(mod, method, call); err != nil {
			return c.serverError(mod.Name, method, err)
		}
	}

	// PERMISSION: first granted rule wins; its modifiers rewrite the call.
	if !call.Skip.Has(SkipPerm) {
		call.Env.materializePrivileges(ctx, c)
		grant, ok := permission.Check(c.rt.Clock, call.Env.Session, mod.Name, spec.Permissions)
		if !ok {
			return forbiddenResult(mod.Name, method)
		}
		if err := grant.Apply(call.Query, call.Doc); err != nil {
			return c.serverError(mod.Name, method, err)
		}
	}

	// ARGS-VALIDATE: first satisfied alternative wins.
	if !call.Skip.Has(SkipArgs) {
		if res := c.validateArgs(ctx, spec, method, call); res != nil {
			return res
		}
	}

	// EXECUTE.
	var res *Result
	switch {
	case spec.Handler != nil:
		res = spec.Handler(ctx, c, mod, call)
	default:
		switch method {
		case "read":
			res = c.execRead(ctx, delegate, call)
		case "create":
			res = c.execCreate(ctx, delegate, call)
		case "update":
			res = c.execUpdate(ctx, delegate, call)
		case "delete":
			res = c.execDelete(ctx, delegate, call)
		default:
			return notFoundResult(fmt.Sprintf("module %q method %q has no implementation", mod.Name, method))
		}
	}
	if res == nil {
		res = c.serverError(mod.Name, method, fmt.Errorf("method produced no result"))
	}

	// ON: delegate's hook first, then the proxy's own.
	if !call.Skip.Has(SkipOn) && res.OK() {
		for _, h := range hookChainOn(delegate, mod, method) {
			next, err := h(ctx, c, mod, call, res)
			if err != nil {
				return c.serverError(mod.Name, method, err)
			}
			if next != nil {
				res = next
			}
		}
	}

	// Attribute projection applies after on-hooks so hooks see full docs.
	if method == "read" && res.OK() {
		projectAttrs(call.Query, res)
	}
	return res
}

// methodSpec prefers the proxy's own method table over the delegate's.
func (c *Core) methodSpec(mod, delegate *Module, method string) *Method {
	if spec, ok := mod.Methods[method]; ok {
		return spec
	}
	if delegate != mod {
		if spec, ok := delegate.Methods[method]; ok {
			return spec
		}
	}
	return nil
}

func hookChainPre(delegate, mod *Module, method string) []PreHook {
	var chain []PreHook
	if h := delegate.Hooks.pre(method); h != nil {
		chain = append(chain, h)
	}
	if mod != delegate {
		if h := mod.Hooks.pre(method); h != nil {
			chain = append(chain, h)
		}
	}
	return chain
}

func hookChainOn(delegate, mod *Module, method string) []OnHook {
	var chain []OnHook
	if h := delegate.Hooks.on(method); h != nil {
		chain = append(chain, h)
	}
	if mod != delegate {
		if h := mod.Hooks.on(method); h != nil {
			chain = append(chain, h)
		}
	}
	return chain
}

// applyRealm narrows reads and writes to the caller's realm. Creates
// stamp the realm onto the document; other verbs add a filter step.
func (c *Core) applyRealm(mod *Module, method string, call *Call) error {
	realm := call.Env.Realm
	if realm == "" {
		return fmt.Errorf("realm mode active but call has no realm")
	}
	if method == "create" {
		call.Doc["realm"] = realm
		return nil
	}
	if call.Query.Has("realm") {
		// Never let a caller widen scope past their own realm.
		v := call.Query.Get("realm")
		if err := v.SetAll(realm); err != nil {
			return err
		}
		return nil
	}
	return call.Query.Append(map[string]any{"realm": realm})
}

// projectAttrs trims result documents to the $attrs selection. The _id
// field always survives.
func projectAttrs(q *query.Query, res *Result) {
	sel, ok := q.Special(query.SpecialAttrs)
	if !ok {
		return
	}
	keep := map[string]bool{"_id": true}
	switch list := sel.(type) {
	case []string:
		for _, name := range list {
			keep[name] = true
		}
	case []any:
		for _, item := range list {
			if name, ok := item.(string); ok {
				keep[name] = true
			}
		}
	default:
		return
	}
	docs := res.Docs()
	for i, doc := range docs {
		trimmed := make(map[string]any, len(keep))
		for name := range keep {
			if v, present := doc[name]; present {
				trimmed[name] = v
			}
		}
		docs[i] = trimmed
	}
	res.Args["docs"] = docs
}

// attrCtx builds the validation context for one call.
func (c *Core) attrCtx(ctx context.Context, call *Call) *attr.Ctx {
	return &attr.Ctx{
		Context:  ctx,
		Clock:    c.rt.Clock,
		Locales:  c.rt.Config.Locales,
		Locale:   c.rt.Config.Locale,
		Counters: c.rt.Counters,
		Doc:      call.Doc,
		Vars:     call.Env.Vars,
		Log:      c.rt.Log,
	}
}
