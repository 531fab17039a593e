package module

import (
	"context"

	"github.com/google/go-cmp/cmp"
)

// recordDiff emits one diff-module create per updated document, carrying
// the changed field names. Diff failures log and never propagate into
// the update's own result.
func (c *Core) recordDiff(ctx context.Context, mod *Module, call *Call, targets []map[string]any, doc map[string]any) {
	if _, ok := c.Module("diff"); !ok {
		return
	}
	for _, target := range targets {
		changed := changedFields(target, doc, mod.Diff.Exclude)
		if len(changed) == 0 {
			continue
		}
		id, _ := docID(target)
		attrs := make([]any, len(changed))
		for i, name := range changed {
			attrs[i] = name
		}
		res := c.Call(ctx, "diff", "create", &Call{
			Skip: Skips(SkipPre, SkipOn, SkipPerm, SkipArgs, SkipDiff),
			Env:  &Env{Conn: call.Env.Conn, Realm: call.Env.Realm, privilegesResolved: true},
			Doc: map[string]any{
				"module": mod.Name,
				"doc_id": id,
				"attrs":  attrs,
				"user":   call.Env.UserID(),
			},
		})
		if !res.OK() {
			c.rt.Log.Warn().
				Str("module", mod.Name).
				Str("doc", id.Hex()).
				Str("msg", res.Msg).
				Msg("diff record failed")
		}
	}
}

// changedFields lists the updated attributes whose new value differs from
// the target's current value. Operator-shaped writes always count as
// changes; excluded fields never do.
func changedFields(target, doc map[string]any, exclude []string) []string {
	var changed []string
	for name, newVal := range doc {
		if contains(exclude, name) {
			continue
		}
		if m, ok := newVal.(map[string]any); ok && isOperShaped(m) {
			changed = append(changed, name)
			continue
		}
		if !cmp.Equal(target[name], newVal) {
			changed = append(changed, name)
		}
	}
	return changed
}

func isOperShaped(m map[string]any) bool {
	for key := range m {
		if len(key) > 1 && key[0] == '$' {
			return true
		}
	}
	return false
}
