package module

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/pkg/oid"
	"github.com/artpar/docbase/ports"
)

// resolveExtns substitutes referenced documents for raw ids across the
// result set. Each extension attribute resolves through one batched read
// against its target module; the per-attribute reads run concurrently and
// are all awaited before the read result proceeds. Unmatched ids
// substitute to nil.
func (c *Core) resolveExtns(ctx context.Context, mod *Module, call *Call, extns map[string]ports.Extn, docs []map[string]any) error {
	g, gctx := errgroup.WithContext(ctx)
	for name, extn := range extns {
		name, extn := name, extn
		g.Go(func() error {
			return c.resolveExtn(gctx, call, name, extn, docs)
		})
	}
	return g.Wait()
}

func (c *Core) resolveExtn(ctx context.Context, call *Call, name string, extn ports.Extn, docs []map[string]any) error {
	ids := map[oid.ID]bool{}
	for _, doc := range docs {
		for _, id := range extnIDs(doc[name]) {
			ids[id] = true
		}
	}
	if len(ids) == 0 {
		return nil
	}

	idList := make([]any, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}
	skip := Skips(SkipPre, SkipOn, SkipPerm, SkipArgs)
	q := mustQuery(map[string]any{"_id": map[string]any{"$in": idList}})
	if extn.Force {
		// Two-level expansion: let the target's own forced extensions run.
		if err := q.SetSpecial(query.SpecialExtn, true); err != nil {
			return err
		}
	} else {
		skip = skip.With(SkipExtn)
	}

	// Nested reads take their own connection so sibling resolutions can
	// run concurrently.
	res := c.Call(ctx, extn.Module, "read", &Call{
		Skip: skip,
		Env: &Env{
			Session:            call.Env.Session,
			Realm:              call.Env.Realm,
			privilegesResolved: true,
		},
		Query: q,
	})
	if !res.OK() {
		return fmt.Errorf("extn %q read against %q failed: %s", name, extn.Module, res.Msg)
	}

	byID := map[oid.ID]map[string]any{}
	for _, target := range res.Docs() {
		id, ok := docID(target)
		if !ok {
			continue
		}
		byID[id] = pruneAttrs(target, extn.Attrs)
	}

	for _, doc := range docs {
		raw, present := doc[name]
		if !present || raw == nil {
			continue
		}
		doc[name] = substitute(raw, byID)
	}
	return nil
}

// extnIDs extracts referenced ids from a raw attribute value, scalar or
// list shaped.
func extnIDs(v any) []oid.ID {
	switch val := v.(type) {
	case oid.ID:
		return []oid.ID{val}
	case string:
		if id, err := oid.Parse(val); err == nil {
			return []oid.ID{id}
		}
	case []any:
		var out []oid.ID
		for _, item := range val {
			out = append(out, extnIDs(item)...)
		}
		return out
	case []oid.ID:
		return val
	}
	return nil
}

func docID(doc map[string]any) (oid.ID, bool) {
	switch id := doc["_id"].(type) {
	case oid.ID:
		return id, true
	case string:
		parsed, err := oid.Parse(id)
		return parsed, err == nil
	default:
		return oid.Nil, false
	}
}

// pruneAttrs keeps only the selected attributes of a substituted
// document; _id always survives. Empty selection keeps everything.
func pruneAttrs(doc map[string]any, attrs []string) map[string]any {
	if len(attrs) == 0 {
		return doc
	}
	out := map[string]any{"_id": doc["_id"]}
	for _, name := range attrs {
		if v, present := doc[name]; present {
			out[name] = v
		}
	}
	return out
}

// substitute replaces an id-shaped value with its resolved document,
// preserving list shape. No match resolves to nil.
func substitute(raw any, byID map[oid.ID]map[string]any) any {
	switch val := raw.(type) {
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = substitute(item, byID)
		}
		return out
	case []oid.ID:
		out := make([]any, len(val))
		for i, id := range val {
			out[i] = substitute(id, byID)
		}
		return out
	default:
		ids := extnIDs(raw)
		if len(ids) != 1 {
			return nil
		}
		if doc, ok := byID[ids[0]]; ok {
			return doc
		}
		return nil
	}
}
