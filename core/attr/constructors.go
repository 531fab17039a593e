package attr

import "sync"

// Sugar constructors for schema literals in module definitions. Each
// returns an unchecked type; registration runs Check over the whole tree.

// Any accepts any non-nil value.
func Any() *Type { return mustNew(KindAny, nil) }

// Bool accepts a boolean.
func Bool() *Type { return mustNew(KindBool, nil) }

// Int accepts an integer or decimal-digit string. Optional ranges are
// half-open [min, max) intervals; a value inside any range passes.
func Int(ranges ...[2]int64) *Type {
	args := map[string]any{}
	if len(ranges) != 0 {
		args[ArgRanges] = ranges
	}
	return mustNew(KindInt, args)
}

// Float accepts a number or numeric string, with optional half-open ranges.
func Float(ranges ...[2]float64) *Type {
	args := map[string]any{}
	if len(ranges) != 0 {
		args[ArgRanges] = ranges
	}
	return mustNew(KindFloat, args)
}

// Str accepts any string.
func Str() *Type { return mustNew(KindStr, nil) }

// Pattern accepts a string fully matching the regex pattern.
func Pattern(pattern string) *Type {
	return mustNew(KindStr, map[string]any{ArgPattern: pattern})
}

// ID accepts an oid.ID, a document map (takes its _id), or a 24-hex string.
func ID() *Type { return mustNew(KindID, nil) }

// List accepts a list whose elements each match the first member type that
// validates them. Min/max length via ListBetween.
func List(members ...*Type) *Type {
	return mustNew(KindList, map[string]any{ArgList: members})
}

// ListBetween is List with length bounds; max < 0 means unbounded.
func ListBetween(min, max int, members ...*Type) *Type {
	args := map[string]any{ArgList: members, ArgMin: min}
	if max >= 0 {
		args[ArgMax] = max
	}
	return mustNew(KindList, args)
}

// Dict accepts a map with exactly the declared key set.
func Dict(dict map[string]*Type) *Type {
	return mustNew(KindDict, map[string]any{ArgDict: dict})
}

// KVDict accepts a map whose keys all match the key type and values the
// value type.
func KVDict(key, val *Type) *Type {
	return mustNew(KindKVDict, map[string]any{ArgKey: key, ArgVal: val})
}

// KVDictBetween is KVDict with key-count bounds and required keys.
func KVDictBetween(key, val *Type, min, max int, req ...string) *Type {
	args := map[string]any{ArgKey: key, ArgVal: val, ArgMin: min}
	if max >= 0 {
		args[ArgMax] = max
	}
	if len(req) != 0 {
		args[ArgReq] = req
	}
	return mustNew(KindKVDict, args)
}

// Union accepts the first member type that validates the value.
func Union(members ...*Type) *Type {
	return mustNew(KindUnion, map[string]any{ArgUnion: members})
}

// Literal accepts only the listed values.
func Literal(values ...any) *Type {
	return mustNew(KindLiteral, map[string]any{ArgLiteral: values})
}

// File accepts a file object, optionally restricted to MIME patterns
// such as "image/*".
func File(types ...string) *Type {
	args := map[string]any{}
	if len(types) != 0 {
		args[ArgTypes] = types
	}
	return mustNew(KindFile, args)
}

// Date accepts an ISO date string. Ranges may use relative offsets
// ("+7d", "-1h") resolved against the clock at validation time.
func Date(ranges ...[2]string) *Type {
	return dateKind(KindDate, ranges)
}

// Time accepts an ISO time string.
func Time(ranges ...[2]string) *Type {
	return dateKind(KindTime, ranges)
}

// Datetime accepts an ISO datetime string.
func Datetime(ranges ...[2]string) *Type {
	return dateKind(KindDatetime, ranges)
}

func dateKind(kind Kind, ranges [][2]string) *Type {
	args := map[string]any{}
	if len(ranges) != 0 {
		args[ArgRanges] = ranges
	}
	return mustNew(kind, args)
}

// Email accepts an email address, optionally restricted by domain.
func Email() *Type { return mustNew(KindEmail, nil) }

// EmailDomains accepts an email address whose domain passes the allow and
// deny lists.
func EmailDomains(allowed, disallowed []string) *Type {
	return mustNew(KindEmail, map[string]any{
		ArgAllowedDomains:    allowed,
		ArgDisallowedDomains: disallowed,
	})
}

// Phone accepts an international phone number, optionally restricted to
// country codes.
func Phone(codes ...string) *Type {
	args := map[string]any{}
	if len(codes) != 0 {
		args[ArgCodes] = codes
	}
	return mustNew(KindPhone, args)
}

// IP accepts an IPv4 or IPv6 address.
func IP() *Type { return mustNew(KindIP, nil) }

// URI accepts an http(s) URI, optionally restricted by domain.
func URI(allowedDomains ...string) *Type {
	args := map[string]any{}
	if len(allowedDomains) != 0 {
		args[ArgAllowedDomains] = allowedDomains
	}
	return mustNew(KindURI, args)
}

// Geo accepts a GeoJSON Point.
func Geo() *Type { return mustNew(KindGeo, nil) }

// Locale accepts a localized-string map keyed by the configured locale
// set; the default locale key is required and missing locales back-fill
// from it.
func Locale() *Type { return mustNew(KindLocale, nil) }

// Locales accepts one of the configured locale names.
func Locales() *Type { return mustNew(KindLocales, nil) }

// TypeOf accepts values passing the named registered validator.
func TypeOf(name string) *Type {
	return mustNew(KindType, map[string]any{ArgType: name})
}

func mustNew(kind Kind, args map[string]any) *Type {
	t, err := New(kind, args)
	if err != nil {
		panic(err)
	}
	return t
}

// TypeFunc validates and converts a value for a TYPE-extension attribute.
type TypeFunc func(ctx *Ctx, name string, value any) (any, *Error)

var (
	typesMu    sync.RWMutex
	typeFns    = map[string]TypeFunc{}
)

// RegisterType registers a named TYPE-extension validator. Registration
// happens at process start, before schemas are checked.
func RegisterType(name string, fn TypeFunc) {
	typesMu.Lock()
	defer typesMu.Unlock()
	typeFns[name] = fn
}

func lookupType(name string) (TypeFunc, bool) {
	typesMu.RLock()
	defer typesMu.RUnlock()
	fn, ok := typeFns[name]
	return fn, ok
}
