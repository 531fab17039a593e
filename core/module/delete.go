package module

import (
	"context"
	"fmt"

	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/pkg/oid"
	"github.com/artpar/docbase/ports"
)

func (c *Core) execDelete(ctx context.Context, mod *Module, call *Call) *Result {
	if mod.Collection == "" {
		return ErrResult(400, CodeInvalidArgs,
			fmt.Sprintf("module %q persists no documents", mod.Name), nil)
	}
	strategy := call.Skip.deleteStrategy()

	// Hard deletes may target soft-deleted documents too.
	if strategy.Hard() {
		if _, set := call.Query.Special(query.SpecialDeleted); !set {
			if err := call.Query.SetSpecial(query.SpecialDeleted, true); err != nil {
				return c.serverError(mod.Name, "delete", err)
			}
		}
	}

	targets, res := c.preflightTargets(ctx, mod, call, "delete")
	if res != nil {
		return res
	}
	if len(targets) == 0 {
		return notFoundResult(fmt.Sprintf("no %s documents match", mod.Name))
	}

	targetIDs := make([]oid.ID, 0, len(targets))
	excluded := 0
	for _, t := range targets {
		id, ok := docID(t)
		if !ok {
			continue
		}
		if !strategy.IncludeSys() && c.system.has(mod.Name, id) {
			excluded++
			continue
		}
		targetIDs = append(targetIDs, id)
	}
	if excluded > 0 {
		c.rt.Log.Info().
			Str("module", mod.Name).
			Int("excluded", excluded).
			Int("matched", len(targets)).
			Msg("system documents excluded from delete")
	}
	if len(targetIDs) == 0 {
		return NewResult("deleted 0", map[string]any{
			"count":    int64(0),
			"docs":     []map[string]any{},
			"excluded": excluded,
		})
	}

	results, err := c.rt.Driver.Delete(ctx, call.Env.Conn, ports.DeleteArgs{
		Collection: mod.Collection,
		TargetIDs:  targetIDs,
		Strategy:   strategy,
	})
	if err != nil {
		return c.serverError(mod.Name, "delete", err)
	}

	c.cache.invalidate(mod.Name)
	c.thumbs.invalidate(mod.Name)
	args := map[string]any{
		"count": results.Count,
		"docs":  results.Docs,
	}
	if excluded > 0 {
		args["excluded"] = excluded
	}
	return NewResult(fmt.Sprintf("deleted %d", results.Count), args)
}
