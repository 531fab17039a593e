package module

import (
	"context"
	"fmt"

	"github.com/artpar/docbase/core/attr"
	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/pkg/oid"
	"github.com/artpar/docbase/ports"
)

func (c *Core) execUpdate(ctx context.Context, mod *Module, call *Call) *Result {
	if mod.Collection == "" {
		return ErrResult(400, CodeInvalidArgs,
			fmt.Sprintf("module %q persists no documents", mod.Name), nil)
	}
	doc := call.Doc

	for name := range doc {
		if _, declared := mod.Attrs[name]; !declared {
			delete(doc, name)
		}
	}
	if len(doc) == 0 {
		return ErrResult(400, CodeInvalidArgs, "update carries no declared attributes", nil)
	}

	// Resolve the exact target set first so uniqueness checks and the
	// write operate on a stable id set.
	targets, res := c.preflightTargets(ctx, mod, call, "update")
	if res != nil {
		return res
	}
	if len(targets) == 0 {
		return notFoundResult(fmt.Sprintf("no %s documents match", mod.Name))
	}

	if c.touchesUnique(mod, doc) && len(targets) > 1 {
		return ErrResult(400, CodeAmbiguousUpdate,
			fmt.Sprintf("unique attributes cannot change across %d documents at once", len(targets)),
			map[string]any{"matched": len(targets)})
	}

	actx := c.attrCtx(ctx, call)
	var errs []*attr.Error
	for name, raw := range doc {
		converted, aerr := attr.Validate(attr.Params{
			Name:       name,
			Type:       mod.Attrs[name],
			Value:      raw,
			AllowOpers: true,
			AllowNone:  true,
			Ctx:        actx,
		})
		if aerr != nil {
			errs = append(errs, aerr)
			continue
		}
		if converted == nil {
			delete(doc, name)
			continue
		}
		doc[name] = converted
	}
	if len(errs) > 0 {
		return attrErrsResult(errs)
	}
	if len(doc) == 0 {
		return ErrResult(400, CodeInvalidArgs, "update carries no declared attributes", nil)
	}

	targetIDs := make([]oid.ID, len(targets))
	excludeIDs := make([]any, len(targets))
	for i, t := range targets {
		id, _ := docID(t)
		targetIDs[i] = id
		excludeIDs[i] = id
	}

	if c.touchesUnique(mod, doc) {
		merged := mergedForUnique(targets[0], doc)
		if res := c.checkUnique(ctx, mod, call, merged, excludeIDs); res != nil {
			return res
		}
	}

	results, err := c.rt.Driver.Update(ctx, call.Env.Conn, ports.UpdateArgs{
		Collection: mod.Collection,
		Attrs:      mod.Attrs,
		TargetIDs:  targetIDs,
		Doc:        doc,
	})
	if err != nil {
		return c.serverError(mod.Name, "update", err)
	}

	c.cache.invalidate(mod.Name)
	c.thumbs.invalidate(mod.Name)

	if results.Count > 0 && mod.Diff.Enabled && !call.Skip.Has(SkipDiff) {
		c.recordDiff(ctx, mod, call, targets, doc)
	}

	return NewResult(fmt.Sprintf("updated %d", results.Count), map[string]any{
		"count": results.Count,
		"docs":  results.Docs,
	})
}

// preflightTargets reads the documents the filter currently matches.
func (c *Core) preflightTargets(ctx context.Context, mod *Module, call *Call, verb string) ([]map[string]any, *Result) {
	q := mustQuery(call.Query.Steps()...)
	for name, v := range call.Query.SpecialMap() {
		if name == query.SpecialDeleted {
			if err := q.SetSpecial(name, v); err != nil {
				return nil, c.serverError(mod.Name, verb, err)
			}
		}
	}
	res := c.Call(ctx, mod.Name, "read", &Call{
		Skip:  Skips(SkipPre, SkipOn, SkipPerm, SkipArgs, SkipExtn),
		Env:   &Env{Conn: call.Env.Conn, Realm: call.Env.Realm, privilegesResolved: true},
		Query: q,
	})
	if !res.OK() {
		return nil, c.serverError(mod.Name, verb,
			fmt.Errorf("target pre-flight failed: %s", res.Msg))
	}
	return res.Docs(), nil
}

// touchesUnique reports whether the update writes any attribute that
// participates in a unique combination.
func (c *Core) touchesUnique(mod *Module, doc map[string]any) bool {
	for _, combo := range mod.UniqueAttrs {
		for _, name := range combo {
			if _, present := doc[name]; present {
				return true
			}
		}
	}
	return false
}

// mergedForUnique overlays the update's plain values onto a target
// document so partially-specified unique combinations can be checked.
// Operator-shaped values are left out; their outcome is not a literal.
func mergedForUnique(target, doc map[string]any) map[string]any {
	merged := make(map[string]any, len(target)+len(doc))
	for k, v := range target {
		merged[k] = v
	}
	for k, v := range doc {
		if m, ok := v.(map[string]any); ok && isOperShaped(m) {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	delete(merged, "_id")
	return merged
}
