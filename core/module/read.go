package module

import (
	"context"
	"fmt"

	"github.com/artpar/docbase/core/attr"
	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/ports"
)

func (c *Core) execRead(ctx context.Context, mod *Module, call *Call) *Result {
	if mod.Collection == "" {
		return ErrResult(400, CodeInvalidArgs,
			fmt.Sprintf("module %q persists no documents", mod.Name), nil)
	}

	rule := cacheRuleFor(mod, call)
	var cacheKey string
	if rule != nil {
		key, err := call.Query.Canonical()
		if err != nil {
			return c.serverError(mod.Name, "read", err)
		}
		cacheKey = key
		if cached, captured, hit := c.cache.get(mod.Name, cacheKey, c.rt.Clock.Now()); hit {
			c.rt.Metrics.CacheHit(mod.Name)
			res := cloneResult(cached)
			res.Args["cached_at"] = captured
			return res
		}
		c.rt.Metrics.CacheMiss(mod.Name)
	}

	extns := c.effectiveExtns(mod, call)
	results, err := c.rt.Driver.Read(ctx, call.Env.Conn, ports.ReadArgs{
		Collection: mod.Collection,
		Attrs:      mod.Attrs,
		Extns:      extns,
		Modules:    c.extnSchemas(extns),
		Query:      call.Query,
	})
	if err != nil {
		return c.serverError(mod.Name, "read", err)
	}

	docs := results.Docs
	if len(extns) > 0 {
		if err := c.resolveExtns(ctx, mod, call, extns, docs); err != nil {
			return c.serverError(mod.Name, "read", err)
		}
	}

	args := map[string]any{
		"docs":  docs,
		"count": results.Count,
		"total": results.Total,
	}
	if len(results.Groups) > 0 {
		args["groups"] = results.Groups
	}
	res := NewResult(fmt.Sprintf("read %d of %d", results.Count, results.Total), args)

	if rule != nil {
		c.cache.put(mod.Name, cacheKey, res, c.rt.Clock.Now(), rule.Period)
	}
	return res
}

// effectiveExtns selects which declared extensions this read expands.
// Without a $extn special only forced extensions apply; $extn=true selects
// all, $extn=false none, and a name list selects a subset.
func (c *Core) effectiveExtns(mod *Module, call *Call) map[string]ports.Extn {
	if call.Skip.Has(SkipExtn) || len(mod.Extns) == 0 {
		return nil
	}
	sel, declared := call.Query.Special(query.SpecialExtn)
	pick := func(names map[string]bool, all bool) map[string]ports.Extn {
		out := map[string]ports.Extn{}
		for name, extn := range mod.Extns {
			if all || names[name] {
				out[name] = extn
			}
		}
		return out
	}
	if !declared {
		forced := map[string]bool{}
		for name, extn := range mod.Extns {
			if extn.Force {
				forced[name] = true
			}
		}
		if len(forced) == 0 {
			return nil
		}
		return pick(forced, false)
	}
	switch v := sel.(type) {
	case bool:
		if !v {
			return nil
		}
		return pick(nil, true)
	case []string:
		names := map[string]bool{}
		for _, n := range v {
			names[n] = true
		}
		return pick(names, false)
	case []any:
		names := map[string]bool{}
		for _, item := range v {
			if n, ok := item.(string); ok {
				names[n] = true
			}
		}
		return pick(names, false)
	default:
		return nil
	}
}

// extnSchemas maps each extension target module to its attribute schema
// so drivers can coerce id-typed fields of substituted documents.
func (c *Core) extnSchemas(extns map[string]ports.Extn) map[string]map[string]*attr.Type {
	if len(extns) == 0 {
		return nil
	}
	out := map[string]map[string]*attr.Type{}
	for _, extn := range extns {
		if target, ok := c.Module(extn.Module); ok {
			out[extn.Module] = target.Attrs
		}
	}
	return out
}
