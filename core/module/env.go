package module

import (
	"context"

	"github.com/artpar/docbase/core/permission"
	"github.com/artpar/docbase/pkg/oid"
	"github.com/artpar/docbase/ports"
)

// Skip-event flags. A caller opts out of named pipeline stages for one
// call by listing these in the call's skip set.
const (
	SkipPre   = "__PRE__"
	SkipOn    = "__ON__"
	SkipPerm  = "__PERM__"
	SkipArgs  = "__ARGS__"
	SkipRealm = "__REALM__"
	SkipExtn  = "__EXTN__"
	SkipDiff  = "__DIFF__"

	// SkipSoft present selects the soft-delete path; absent, hard delete.
	SkipSoft = "__SOFT__"

	// SkipSysDocs present includes system documents in a delete.
	SkipSysDocs = "__SYS_DOCS__"
)

// SkipSet names the pipeline stages bypassed for one call.
type SkipSet map[string]bool

// Skips builds a SkipSet from flags.
func Skips(flags ...string) SkipSet {
	s := make(SkipSet, len(flags))
	for _, f := range flags {
		s[f] = true
	}
	return s
}

// Has reports whether a flag is present.
func (s SkipSet) Has(flag string) bool {
	return s != nil && s[flag]
}

// With returns a copy of the set with extra flags added.
func (s SkipSet) With(flags ...string) SkipSet {
	out := make(SkipSet, len(s)+len(flags))
	for f := range s {
		out[f] = true
	}
	for _, f := range flags {
		out[f] = true
	}
	return out
}

// deleteStrategy derives the delete-matrix cell from the two skip flags.
// The mapping is fixed: __SOFT__ present selects soft deletion, and
// __SYS_DOCS__ present includes system documents.
func (s SkipSet) deleteStrategy() ports.DeleteStrategy {
	soft := s.Has(SkipSoft)
	sys := s.Has(SkipSysDocs)
	switch {
	case soft && sys:
		return ports.DeleteSoftSysDocs
	case soft:
		return ports.DeleteSoftSkipSys
	case sys:
		return ports.DeleteHardSysDocs
	default:
		return ports.DeleteHardSkipSys
	}
}

// Env carries the per-call environment: the caller's session, the
// dedicated storage connection, and remote metadata. It is read-only to
// the core except for lazy privilege materialization.
type Env struct {
	Session *permission.Session

	// Conn is the dedicated storage handle for this call, acquired at
	// call start and released on every exit path.
	Conn ports.Conn

	// Realm is the caller's tenancy partition when realm mode is active.
	Realm string

	RemoteAddr string
	UserAgent  string

	// Vars carries request-scoped values visible to conditional defaults.
	Vars map[string]any

	privilegesResolved bool
}

// UserID returns the caller's id, or the zero id for anonymous calls.
func (e *Env) UserID() oid.ID {
	if e == nil || e.Session == nil {
		return oid.Nil
	}
	return e.Session.UserID
}

// materializePrivileges merges group-derived privileges into the
// session's effective privilege map. The merge runs lazily, once per
// permission check, and stays cached on the session for the remainder of
// the request.
func (e *Env) materializePrivileges(ctx context.Context, c *Core) {
	if e == nil || e.Session == nil || e.privilegesResolved {
		return
	}
	e.privilegesResolved = true
	if len(e.Session.Groups) == 0 {
		return
	}
	groupMod, ok := c.Module("group")
	if !ok || groupMod.Collection == "" {
		return
	}
	ids := make([]any, len(e.Session.Groups))
	for i, g := range e.Session.Groups {
		ids[i] = g
	}
	res := c.Call(ctx, "group", "read", &Call{
		Skip:  Skips(SkipPre, SkipOn, SkipPerm, SkipArgs, SkipExtn),
		Env:   &Env{Conn: e.Conn, Realm: e.Realm, privilegesResolved: true},
		Query: mustQuery(map[string]any{"_id": map[string]any{"$in": ids}}),
	})
	if !res.OK() {
		c.rt.Log.Warn().
			Str("user", e.UserID().Hex()).
			Msg("group privilege materialization failed")
		return
	}
	if e.Session.Privileges == nil {
		e.Session.Privileges = map[string][]string{}
	}
	for _, doc := range res.Docs() {
		merged, ok := doc["privileges"].(map[string]any)
		if !ok {
			continue
		}
		for moduleName, privs := range merged {
			for _, p := range toStrings(privs) {
				if !contains(e.Session.Privileges[moduleName], p) {
					e.Session.Privileges[moduleName] = append(e.Session.Privileges[moduleName], p)
				}
			}
		}
	}
}

func toStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
