package attr

import (
	"fmt"
	"regexp"
	"strings"
)

var counterPlaceholder = regexp.MustCompile(`\{(counter|doc):([^}]+)\}|\{(year|month|day)\}`)

// resolveDefault resolves a value for an absent attribute following the
// documented precedence: conditional defaults (unless allowNone), counter
// pattern generation, nil passthrough when allowNone, then the static
// default. The second return reports whether any branch produced a value.
func resolveDefault(p Params) (any, bool) {
	if !p.AllowNone {
		for _, cd := range p.Type.CondDefaults {
			if cd.Cond == nil || !cd.Cond(p.Ctx) {
				continue
			}
			if cd.Func != nil {
				return cd.Func(p.Ctx), true
			}
			return deepCopy(cd.Value), true
		}
	}
	if d := p.Type.Default; d != nil && d.Counter != "" {
		return expandCounter(p, d.Counter), true
	}
	if p.AllowNone {
		return nil, true
	}
	if d := p.Type.Default; d != nil {
		if d.Func != nil {
			return d.Func(p.Ctx), true
		}
		return deepCopy(d.Value), true
	}
	return nil, false
}

// staticDefault returns the static default for the failure-policy
// fallback path, without consulting counters or conditions.
func staticDefault(t *Type) (any, bool) {
	if t.Default == nil || t.Default.Counter != "" {
		return nil, false
	}
	if t.Default.Func != nil {
		return nil, false
	}
	return deepCopy(t.Default.Value), true
}

// expandCounter renders a counter-pattern template. Counter increments go
// through the CounterStore; a failed commit is logged with the counter
// name so lost increments stay observable, and generation proceeds with
// a zero value rather than failing the caller.
func expandCounter(p Params, pattern string) string {
	now := p.Ctx.now()
	return counterPlaceholder.ReplaceAllStringFunc(pattern, func(m string) string {
		inner := strings.Trim(m, "{}")
		switch inner {
		case "year":
			return fmt.Sprintf("%04d", now.Year())
		case "month":
			return fmt.Sprintf("%02d", int(now.Month()))
		case "day":
			return fmt.Sprintf("%02d", now.Day())
		}
		parts := strings.SplitN(inner, ":", 2)
		switch parts[0] {
		case "doc":
			if p.Ctx != nil && p.Ctx.Doc != nil {
				if v, ok := p.Ctx.Doc[parts[1]]; ok {
					return fmt.Sprintf("%v", v)
				}
			}
			return ""
		case "counter":
			if p.Ctx == nil || p.Ctx.Counters == nil {
				return "0"
			}
			n, err := p.Ctx.Counters.Next(p.Ctx.context(), parts[1])
			if err != nil {
				p.Ctx.Log.Error().
					Err(err).
					Str("counter", parts[1]).
					Str("attr", p.Name).
					Msg("counter increment failed")
				return "0"
			}
			return fmt.Sprintf("%d", n)
		}
		return m
	})
}

// deepCopy copies the literal value shapes defaults are declared with, so
// a resolved default never aliases the schema's own value.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
