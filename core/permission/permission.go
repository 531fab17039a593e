// Package permission resolves a requested privilege against a session's
// privilege set and produces the query/doc rewrites the winning rule
// demands. Rules are ordered; the first granted rule wins.
package permission

import (
	"time"

	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/pkg/oid"
)

// Variable markers recognized in rule modifiers, resolved against the
// active session once per permission check.
const (
	VarUser     = "$__user"
	VarGroups   = "$__groups"
	VarDatetime = "$__datetime"
	VarDate     = "$__date"
	VarTime     = "$__time"
)

// Rule grants a privilege and carries the query and doc modifiers merged
// into the call when the rule wins.
type Rule struct {
	// Privilege names the required capability; "*" always grants.
	Privilege string

	// Query holds filter steps injected into the caller's query.
	Query []map[string]any

	// Doc holds fields forced into (or defaulted onto) the caller's doc.
	Doc []map[string]any
}

// Allow is the unconditional rule with no modifiers.
func Allow() Rule {
	return Rule{Privilege: "*"}
}

// Require grants when the named privilege is present in the session's
// resolved set for the module.
func Require(privilege string) Rule {
	return Rule{Privilege: privilege}
}

// Optional wraps a modifier value that applies only when the caller did
// not already supply the field.
type Optional struct {
	Value any
}

// Session is the permission-relevant view of the caller: identity, group
// membership and the per-module privilege sets resolved from groups.
type Session struct {
	UserID oid.ID
	Groups []oid.ID

	// Privileges maps module name to granted privilege names. An entry
	// "*" in a module's set grants every privilege of that module.
	Privileges map[string][]string
}

// Clock abstracts capture-time timestamps for variable resolution.
type Clock interface {
	Now() time.Time
}

// Grant is a winning rule with its modifiers variable-resolved.
type Grant struct {
	Rule  *Rule
	Query []map[string]any
	Doc   []map[string]any
}

// Check walks the ordered rule list and returns the first rule whose
// privilege the session holds, with modifiers resolved. Variables resolve
// once per check, never memoized across calls. The second return is false
// when no rule grants.
func Check(clock Clock, s *Session, module string, rules []Rule) (*Grant, bool) {
	for i := range rules {
		rule := &rules[i]
		if !granted(s, module, rule.Privilege) {
			continue
		}
		now := time.Now()
		if clock != nil {
			now = clock.Now()
		}
		return &Grant{
			Rule:  rule,
			Query: resolveMods(rule.Query, s, now),
			Doc:   resolveMods(rule.Doc, s, now),
		}, true
	}
	return nil, false
}

func granted(s *Session, module, privilege string) bool {
	if privilege == "*" {
		return true
	}
	if s == nil {
		return false
	}
	for _, p := range s.Privileges[module] {
		if p == "*" || p == privilege {
			return true
		}
	}
	return false
}

func resolveMods(mods []map[string]any, s *Session, now time.Time) []map[string]any {
	if len(mods) == 0 {
		return nil
	}
	out := make([]map[string]any, len(mods))
	for i, mod := range mods {
		resolved := make(map[string]any, len(mod))
		for k, v := range mod {
			resolved[k] = resolveValue(v, s, now)
		}
		out[i] = resolved
	}
	return out
}

func resolveValue(v any, s *Session, now time.Time) any {
	switch val := v.(type) {
	case string:
		switch val {
		case VarUser:
			if s == nil {
				return nil
			}
			return s.UserID
		case VarGroups:
			if s == nil {
				return nil
			}
			groups := make([]any, len(s.Groups))
			for i, g := range s.Groups {
				groups[i] = g
			}
			return groups
		case VarDatetime:
			return now.Format("2006-01-02T15:04:05")
		case VarDate:
			return now.Format("2006-01-02")
		case VarTime:
			return now.Format("15:04:05")
		}
		return val
	case Optional:
		return Optional{Value: resolveValue(val.Value, s, now)}
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = resolveValue(item, s, now)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, s, now)
		}
		return out
	default:
		return v
	}
}

// Apply merges the grant's modifiers into the caller's query and doc.
// Optional entries apply as defaults only when the field is absent, and
// any field resolving to nil is stripped rather than merged as a literal
// null.
func (g *Grant) Apply(q *query.Query, doc map[string]any) error {
	for _, mod := range g.Query {
		step := map[string]any{}
		for k, v := range mod {
			switch val := v.(type) {
			case Optional:
				if q.Has(k) || val.Value == nil {
					continue
				}
				step[k] = val.Value
			default:
				if v == nil {
					continue
				}
				step[k] = v
			}
		}
		if len(step) != 0 {
			if err := q.Append(step); err != nil {
				return err
			}
		}
	}
	for _, mod := range g.Doc {
		for k, v := range mod {
			switch val := v.(type) {
			case Optional:
				if _, present := doc[k]; present || val.Value == nil {
					continue
				}
				doc[k] = val.Value
			default:
				if v == nil {
					continue
				}
				doc[k] = v
			}
		}
	}
	return nil
}
