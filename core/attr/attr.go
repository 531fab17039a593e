// Package attr implements the typed attribute schema language: a tagged
// union of attribute kinds with per-kind arguments, defaults, and a
// recursive validate/convert algorithm. Schemas are defined once at module
// load time, checked, and never mutated afterwards.
package attr

import (
	"fmt"
	"sort"
)

// Kind identifies one branch of the attribute type union.
type Kind string

const (
	KindAny      Kind = "ANY"
	KindBool     Kind = "BOOL"
	KindInt      Kind = "INT"
	KindFloat    Kind = "FLOAT"
	KindStr      Kind = "STR"
	KindID       Kind = "ID"
	KindList     Kind = "LIST"
	KindDict     Kind = "DICT"
	KindKVDict   Kind = "KV_DICT"
	KindUnion    Kind = "UNION"
	KindLiteral  Kind = "LITERAL"
	KindFile     Kind = "FILE"
	KindDate     Kind = "DATE"
	KindTime     Kind = "TIME"
	KindDatetime Kind = "DATETIME"
	KindEmail    Kind = "EMAIL"
	KindPhone    Kind = "PHONE"
	KindIP       Kind = "IP"
	KindURI      Kind = "URI_WEB"
	KindGeo      Kind = "GEO"
	KindLocale   Kind = "LOCALE"
	KindLocales  Kind = "LOCALES"
	KindType     Kind = "TYPE"
)

// Argument names, shared across kinds.
const (
	ArgPattern           = "pattern"
	ArgRanges            = "ranges"
	ArgList              = "list"
	ArgMin               = "min"
	ArgMax               = "max"
	ArgDict              = "dict"
	ArgKey               = "key"
	ArgVal               = "val"
	ArgReq               = "req"
	ArgUnion             = "union"
	ArgLiteral           = "literal"
	ArgTypes             = "types"
	ArgType              = "type"
	ArgCodes             = "codes"
	ArgAllowedDomains    = "allowed_domains"
	ArgDisallowedDomains = "disallowed_domains"
)

// argSchemas is the fixed kind→argument table. A Type's Args keys are
// exactly these; unset optional arguments are normalized to nil.
var argSchemas = map[Kind][]string{
	KindAny:      {},
	KindBool:     {},
	KindInt:      {ArgRanges},
	KindFloat:    {ArgRanges},
	KindStr:      {ArgPattern},
	KindID:       {},
	KindList:     {ArgList, ArgMin, ArgMax},
	KindDict:     {ArgDict},
	KindKVDict:   {ArgKey, ArgVal, ArgMin, ArgMax, ArgReq},
	KindUnion:    {ArgUnion},
	KindLiteral:  {ArgLiteral},
	KindFile:     {ArgTypes},
	KindDate:     {ArgRanges},
	KindTime:     {ArgRanges},
	KindDatetime: {ArgRanges},
	KindEmail:    {ArgAllowedDomains, ArgDisallowedDomains},
	KindPhone:    {ArgCodes},
	KindIP:       {},
	KindURI:      {ArgAllowedDomains},
	KindGeo:      {},
	KindLocale:   {},
	KindLocales:  {},
	KindType:     {ArgType},
}

// Type describes the accepted shapes, constraints and defaults of one
// attribute. Recursive kinds own child Types; ownership forms a tree.
type Type struct {
	Kind Kind
	Args map[string]any

	// Default, when non-nil, resolves a value for absent input.
	Default *Default

	// CondDefaults gate defaults on a predicate over the call context.
	// They take precedence over Default and counter generation.
	CondDefaults []CondDefault

	valid bool
}

// Default describes how to produce a value for an absent attribute.
type Default struct {
	// Value is a static default, deep-copied on every resolution.
	Value any

	// Func, when set, produces the default from the call context.
	Func func(ctx *Ctx) any

	// Counter is a template generating a string default, substituting
	// caller-supplied doc values and persisted counters. Placeholders:
	// {counter:<name>}, {doc:<attr>}, {year}, {month}, {day}.
	Counter string
}

// CondDefault applies a default only when its predicate holds for the
// current call context.
type CondDefault struct {
	Cond  func(ctx *Ctx) bool
	Value any
	Func  func(ctx *Ctx) any
}

// New builds a Type for kind with the given arguments. Argument keys are
// checked against the fixed kind→argument table; unset optional arguments
// are normalized to nil entries.
func New(kind Kind, args map[string]any) (*Type, error) {
	declared, ok := argSchemas[kind]
	if !ok {
		return nil, fmt.Errorf("attr: unknown kind %q", kind)
	}
	normalized := make(map[string]any, len(declared))
	for _, name := range declared {
		normalized[name] = nil
	}
	for name, v := range args {
		if _, ok := normalized[name]; !ok {
			return nil, fmt.Errorf("attr: kind %s does not accept argument %q (accepts %v)", kind, name, declared)
		}
		normalized[name] = v
	}
	return &Type{Kind: kind, Args: normalized}, nil
}

// Check validates the schema itself: argument shapes, child types, and the
// absence of unset required arguments. On success the type is marked valid
// and must not be mutated afterwards.
func (t *Type) Check() error {
	if t == nil {
		return fmt.Errorf("attr: nil type")
	}
	declared, ok := argSchemas[t.Kind]
	if !ok {
		return fmt.Errorf("attr: unknown kind %q", t.Kind)
	}
	if t.Args == nil {
		t.Args = map[string]any{}
	}
	for name := range t.Args {
		found := false
		for _, d := range declared {
			if d == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("attr: kind %s does not accept argument %q", t.Kind, name)
		}
	}
	for _, name := range declared {
		if _, ok := t.Args[name]; !ok {
			t.Args[name] = nil
		}
	}
	if err := t.checkArgs(); err != nil {
		return err
	}
	for _, child := range t.children() {
		if err := child.Check(); err != nil {
			return err
		}
	}
	t.valid = true
	return nil
}

// Valid reports whether Check has succeeded on this type.
func (t *Type) Valid() bool {
	return t != nil && t.valid
}

// checkArgs enforces per-kind argument shape constraints.
func (t *Type) checkArgs() error {
	switch t.Kind {
	case KindList:
		members, _ := t.Args[ArgList].([]*Type)
		if len(members) == 0 {
			return fmt.Errorf("attr: LIST requires at least one member type")
		}
	case KindDict:
		dict, _ := t.Args[ArgDict].(map[string]*Type)
		if len(dict) == 0 {
			return fmt.Errorf("attr: DICT requires a key set")
		}
	case KindKVDict:
		if _, ok := t.Args[ArgKey].(*Type); !ok {
			return fmt.Errorf("attr: KV_DICT requires a key type")
		}
		if _, ok := t.Args[ArgVal].(*Type); !ok {
			return fmt.Errorf("attr: KV_DICT requires a value type")
		}
	case KindUnion:
		members, _ := t.Args[ArgUnion].([]*Type)
		if len(members) < 2 {
			return fmt.Errorf("attr: UNION requires at least two member types")
		}
	case KindLiteral:
		values, _ := t.Args[ArgLiteral].([]any)
		if len(values) == 0 {
			return fmt.Errorf("attr: LITERAL requires at least one value")
		}
	case KindType:
		name, _ := t.Args[ArgType].(string)
		if name == "" {
			return fmt.Errorf("attr: TYPE requires a registered type name")
		}
		if _, ok := lookupType(name); !ok {
			return fmt.Errorf("attr: TYPE references unregistered type %q", name)
		}
	}
	return nil
}

// children returns the child types of recursive kinds.
func (t *Type) children() []*Type {
	switch t.Kind {
	case KindList:
		members, _ := t.Args[ArgList].([]*Type)
		return members
	case KindUnion:
		members, _ := t.Args[ArgUnion].([]*Type)
		return members
	case KindDict:
		dict, _ := t.Args[ArgDict].(map[string]*Type)
		keys := make([]string, 0, len(dict))
		for k := range dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]*Type, 0, len(dict))
		for _, k := range keys {
			out = append(out, dict[k])
		}
		return out
	case KindKVDict:
		var out []*Type
		if key, ok := t.Args[ArgKey].(*Type); ok {
			out = append(out, key)
		}
		if val, ok := t.Args[ArgVal].(*Type); ok {
			out = append(out, val)
		}
		return out
	default:
		return nil
	}
}

// Members returns the element types of a LIST or the alternatives of a
// UNION; nil for other kinds.
func (t *Type) Members() []*Type {
	switch t.Kind {
	case KindList:
		members, _ := t.Args[ArgList].([]*Type)
		return members
	case KindUnion:
		members, _ := t.Args[ArgUnion].([]*Type)
		return members
	default:
		return nil
	}
}

// WithDefault returns the type with a static default attached.
func (t *Type) WithDefault(v any) *Type {
	t.Default = &Default{Value: v}
	return t
}

// WithDefaultFunc returns the type with a computed default attached.
func (t *Type) WithDefaultFunc(fn func(ctx *Ctx) any) *Type {
	t.Default = &Default{Func: fn}
	return t
}

// WithCounter returns the type with a counter-pattern default attached.
func (t *Type) WithCounter(pattern string) *Type {
	t.Default = &Default{Counter: pattern}
	return t
}

// WithCondDefault appends a conditional default.
func (t *Type) WithCondDefault(cond func(ctx *Ctx) bool, value any) *Type {
	t.CondDefaults = append(t.CondDefaults, CondDefault{Cond: cond, Value: value})
	return t
}

// HasDefault reports whether any default branch could produce a value
// for an absent attribute.
func (t *Type) HasDefault() bool {
	return t.Default != nil || len(t.CondDefaults) > 0
}

func (t *Type) String() string {
	return string(t.Kind)
}
