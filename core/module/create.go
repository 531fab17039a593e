package module

import (
	"context"
	"fmt"

	"github.com/artpar/docbase/core/attr"
	"github.com/artpar/docbase/ports"
)

func (c *Core) execCreate(ctx context.Context, mod *Module, call *Call) *Result {
	if mod.Collection == "" {
		return ErrResult(400, CodeInvalidArgs,
			fmt.Sprintf("module %q persists no documents", mod.Name), nil)
	}
	doc := call.Doc

	// Unknown fields never reach storage. The realm stamp survives even
	// when the module declares no realm attribute.
	for name := range doc {
		if name == "_id" || (name == "realm" && c.rt.Config.Realm) {
			continue
		}
		if _, declared := mod.Attrs[name]; !declared {
			delete(doc, name)
		}
	}

	c.stampAudit(mod, call, doc)

	actx := c.attrCtx(ctx, call)
	var errs []*attr.Error
	for name, t := range mod.Attrs {
		value := doc[name]
		if value == nil && !t.HasDefault() {
			// Absent with no default resolvable: the attribute simply
			// stays off the document.
			delete(doc, name)
			continue
		}
		converted, aerr := attr.Validate(attr.Params{
			Name:  name,
			Type:  t,
			Value: value,
			Ctx:   actx,
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

	if res := c.checkUnique(ctx, mod, call, doc, nil); res != nil {
		return res
	}

	if _, present := doc["_id"]; !present {
		doc["_id"] = c.rt.IDs.New()
	}

	results, err := c.rt.Driver.Create(ctx, call.Env.Conn, ports.CreateArgs{
		Collection: mod.Collection,
		Attrs:      mod.Attrs,
		Doc:        doc,
	})
	if err != nil {
		return c.serverError(mod.Name, "create", err)
	}

	c.cache.invalidate(mod.Name)
	c.thumbs.invalidate(mod.Name)
	return NewResult(fmt.Sprintf("created %d", results.Count), map[string]any{
		"count": results.Count,
		"docs":  results.Docs,
	})
}

// stampAudit fills the audit fields a schema declares when the caller
// did not supply them.
func (c *Core) stampAudit(mod *Module, call *Call, doc map[string]any) {
	stamp := func(name string, value any) {
		if _, declared := mod.Attrs[name]; !declared {
			return
		}
		if _, present := doc[name]; present {
			return
		}
		if value == nil {
			return
		}
		doc[name] = value
	}
	if id := call.Env.UserID(); !id.IsZero() {
		stamp("user", id)
	}
	stamp("create_time", c.rt.Clock.Now().UTC().Format("2006-01-02T15:04:05"))
	if call.Env.RemoteAddr != "" {
		stamp("host_add", call.Env.RemoteAddr)
	}
	if call.Env.UserAgent != "" {
		stamp("user_agent", call.Env.UserAgent)
	}
}

// checkUnique pre-flights every unique attribute combination with a read
// and rejects duplicates before the write reaches the driver. excludeIDs
// removes the documents being updated from consideration.
func (c *Core) checkUnique(ctx context.Context, mod *Module, call *Call, doc map[string]any, excludeIDs []any) *Result {
	for _, combo := range mod.UniqueAttrs {
		step := map[string]any{}
		complete := true
		for _, name := range combo {
			v, present := doc[name]
			if !present || v == nil {
				complete = false
				break
			}
			step[name] = v
		}
		if !complete {
			continue
		}
		if len(excludeIDs) > 0 {
			step["_id"] = map[string]any{"$nin": excludeIDs}
		}
		res := c.Call(ctx, mod.Name, "read", &Call{
			Skip:  Skips(SkipPre, SkipOn, SkipPerm, SkipArgs, SkipExtn),
			Env:   &Env{Conn: call.Env.Conn, Realm: call.Env.Realm, privilegesResolved: true},
			Query: mustQuery(step),
		})
		if !res.OK() {
			return c.serverError(mod.Name, "create",
				fmt.Errorf("uniqueness pre-flight failed: %s", res.Msg))
		}
		if res.Total() > 0 {
			return ErrResult(400, CodeDuplicateDoc,
				fmt.Sprintf("duplicate value for unique attrs %v", combo), map[string]any{
					"attrs": combo,
				})
		}
	}
	return nil
}
