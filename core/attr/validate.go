package attr

import (
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/artpar/docbase/pkg/oid"
)

// Params carries one validation request.
type Params struct {
	// Name is the attribute name, used in error reporting.
	Name string

	// Type is the schema to validate against.
	Type *Type

	// Value is the caller-supplied value; nil means absent.
	Value any

	// AllowOpers permits update-operator maps ($add, $append, ...);
	// the operand is validated against the base type and re-wrapped.
	AllowOpers bool

	// AllowNone permits absent values to pass through as nil without
	// default resolution beyond nil passthrough. It never excuses a
	// present value that fails validation.
	AllowNone bool

	Ctx *Ctx
}

// Validate validates and converts a value against an attribute type. It
// returns either a value whose shape matches the type's kind, or exactly
// one discriminated error; never both. Defaults resolve for absent values
// in the documented precedence order. A present value that fails its kind
// degrades to the static default when one exists; otherwise the failure
// surfaces as the discriminated error.
func Validate(p Params) (any, *Error) {
	if p.Type == nil {
		return nil, invalidMsgErr(p.Name, "attribute has no type")
	}
	if p.Ctx == nil {
		p.Ctx = &Ctx{}
	}
	if !p.Type.valid {
		if err := p.Type.Check(); err != nil {
			return nil, invalidMsgErr(p.Name, err.Error())
		}
	}

	if p.AllowOpers {
		if op, ok := asOper(p.Value); ok {
			return validateOper(p, op)
		}
	}

	if p.Value == nil {
		if v, ok := resolveDefault(p); ok {
			return v, nil
		}
		return nil, missingErr(p.Name)
	}

	v, err := validateKind(p)
	if err == nil {
		return v, nil
	}
	if d, ok := staticDefault(p.Type); ok {
		return d, nil
	}
	return nil, err
}

func validateKind(p Params) (any, *Error) {
	t := p.Type
	switch t.Kind {
	case KindAny:
		return p.Value, nil
	case KindBool:
		if b, ok := p.Value.(bool); ok {
			return b, nil
		}
	case KindInt:
		return validateInt(p)
	case KindFloat:
		return validateFloat(p)
	case KindStr:
		return validateStr(p)
	case KindID:
		return validateID(p)
	case KindList:
		return validateList(p)
	case KindDict:
		return validateDict(p)
	case KindKVDict:
		return validateKVDict(p)
	case KindUnion:
		for _, member := range argTypes(t, ArgUnion) {
			if v, err := Validate(Params{Name: p.Name, Type: member, Value: p.Value, Ctx: p.Ctx}); err == nil {
				return v, nil
			}
		}
	case KindLiteral:
		values, _ := t.Args[ArgLiteral].([]any)
		for _, lit := range values {
			if reflect.DeepEqual(p.Value, lit) {
				return p.Value, nil
			}
		}
	case KindFile:
		return validateFile(p)
	case KindDate, KindTime, KindDatetime:
		return validateTemporal(p)
	case KindEmail:
		return validateEmail(p)
	case KindPhone:
		return validatePhone(p)
	case KindIP:
		if s, ok := p.Value.(string); ok && net.ParseIP(s) != nil {
			return s, nil
		}
	case KindURI:
		return validateURI(p)
	case KindGeo:
		return validateGeo(p)
	case KindLocale:
		return validateLocale(p)
	case KindLocales:
		if s, ok := p.Value.(string); ok {
			for _, loc := range p.Ctx.locales() {
				if s == loc {
					return s, nil
				}
			}
		}
	case KindType:
		name, _ := t.Args[ArgType].(string)
		if fn, ok := lookupType(name); ok {
			return fn(p.Ctx, p.Name, p.Value)
		}
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("unregistered type %q", name))
	}
	return nil, invalidErr(p.Name, t, p.Value)
}

func validateInt(p Params) (any, *Error) {
	n, ok := toInt(p.Value)
	if !ok {
		return nil, invalidErr(p.Name, p.Type, p.Value)
	}
	ranges := intRanges(p.Type)
	if len(ranges) == 0 {
		return n, nil
	}
	for _, r := range ranges {
		// Half-open interval: min inclusive, max exclusive.
		if n >= r[0] && n < r[1] {
			return n, nil
		}
	}
	return nil, invalidMsgErr(p.Name, fmt.Sprintf("%d outside declared ranges", n))
}

func validateFloat(p Params) (any, *Error) {
	f, ok := toFloat(p.Value)
	if !ok {
		return nil, invalidErr(p.Name, p.Type, p.Value)
	}
	ranges := floatRanges(p.Type)
	if len(ranges) == 0 {
		return f, nil
	}
	for _, r := range ranges {
		if f >= r[0] && f < r[1] {
			return f, nil
		}
	}
	return nil, invalidMsgErr(p.Name, fmt.Sprintf("%v outside declared ranges", f))
}

func validateStr(p Params) (any, *Error) {
	s, ok := p.Value.(string)
	if !ok {
		return nil, invalidErr(p.Name, p.Type, p.Value)
	}
	pattern, _ := p.Type.Args[ArgPattern].(string)
	if pattern == "" {
		return s, nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("invalid pattern %q", pattern))
	}
	if !re.MatchString(s) {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("%q does not match pattern %q", s, pattern))
	}
	return s, nil
}

func validateID(p Params) (any, *Error) {
	switch v := p.Value.(type) {
	case oid.ID:
		return v, nil
	case map[string]any:
		// A document handle: take its id.
		if id, ok := v["_id"]; ok {
			return validateID(Params{Name: p.Name, Type: p.Type, Value: id, Ctx: p.Ctx})
		}
	case string:
		id, err := oid.Parse(v)
		if err != nil {
			// Right shape family, impossible coercion.
			return nil, convertErr(p.Name, fmt.Sprintf("cannot convert %q to id", v))
		}
		return id, nil
	}
	return nil, invalidErr(p.Name, p.Type, p.Value)
}

func validateList(p Params) (any, *Error) {
	list, ok := p.Value.([]any)
	if !ok {
		return nil, invalidErr(p.Name, p.Type, p.Value)
	}
	if min, ok := argInt(p.Type, ArgMin); ok && len(list) < min {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("list has %d elements, minimum %d", len(list), min))
	}
	if max, ok := argInt(p.Type, ArgMax); ok && len(list) > max {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("list has %d elements, maximum %d", len(list), max))
	}
	members := argTypes(p.Type, ArgList)
	out := make([]any, len(list))
	for i, elem := range list {
		v, err := validateElem(p, members, elem)
		if err != nil {
			return nil, invalidMsgErr(p.Name, fmt.Sprintf("element %d: %s", i, err.Msg))
		}
		out[i] = v
	}
	return out, nil
}

// validateElem applies the first member type that accepts the element;
// tries are not exhaustive-ranked.
func validateElem(p Params, members []*Type, elem any) (any, *Error) {
	for _, member := range members {
		if v, err := Validate(Params{Name: p.Name, Type: member, Value: elem, Ctx: p.Ctx}); err == nil {
			return v, nil
		}
	}
	return nil, invalidMsgErr(p.Name, fmt.Sprintf("value of type %T matches no member type", elem))
}

func validateDict(p Params) (any, *Error) {
	m, ok := p.Value.(map[string]any)
	if !ok {
		return nil, invalidErr(p.Name, p.Type, p.Value)
	}
	dict, _ := p.Type.Args[ArgDict].(map[string]*Type)
	for k := range m {
		if _, ok := dict[k]; !ok {
			return nil, invalidMsgErr(p.Name, fmt.Sprintf("unknown key %q", k))
		}
	}
	out := make(map[string]any, len(dict))
	for k, child := range dict {
		v, err := Validate(Params{Name: p.Name + "." + k, Type: child, Value: m[k], Ctx: p.Ctx})
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func validateKVDict(p Params) (any, *Error) {
	m, ok := p.Value.(map[string]any)
	if !ok {
		return nil, invalidErr(p.Name, p.Type, p.Value)
	}
	if min, ok := argInt(p.Type, ArgMin); ok && len(m) < min {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("map has %d keys, minimum %d", len(m), min))
	}
	if max, ok := argInt(p.Type, ArgMax); ok && len(m) > max {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("map has %d keys, maximum %d", len(m), max))
	}
	for _, req := range argStrings(p.Type, ArgReq) {
		if _, ok := m[req]; !ok {
			return nil, invalidMsgErr(p.Name, fmt.Sprintf("required key %q absent", req))
		}
	}
	keyType, _ := p.Type.Args[ArgKey].(*Type)
	valType, _ := p.Type.Args[ArgVal].(*Type)
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, err := Validate(Params{Name: p.Name + " key", Type: keyType, Value: k, Ctx: p.Ctx}); err != nil {
			return nil, invalidMsgErr(p.Name, fmt.Sprintf("key %q: %s", k, err.Msg))
		}
		converted, err := Validate(Params{Name: p.Name + "." + k, Type: valType, Value: v, Ctx: p.Ctx})
		if err != nil {
			return nil, err
		}
		out[k] = converted
	}
	return out, nil
}

func validateFile(p Params) (any, *Error) {
	m, ok := p.Value.(map[string]any)
	if !ok {
		return nil, invalidErr(p.Name, p.Type, p.Value)
	}
	name, _ := m["name"].(string)
	mime, _ := m["type"].(string)
	if name == "" || mime == "" {
		return nil, invalidMsgErr(p.Name, "file requires name and type")
	}
	if _, ok := m["content"].([]byte); !ok {
		return nil, invalidMsgErr(p.Name, "file requires byte content")
	}
	types := argStrings(p.Type, ArgTypes)
	if len(types) != 0 && !mimeMatches(mime, types) {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("file type %q not among %v", mime, types))
	}
	return m, nil
}

// mimeMatches checks a MIME type against patterns such as "image/*".
func mimeMatches(mime string, patterns []string) bool {
	for _, pat := range patterns {
		if pat == mime {
			return true
		}
		if strings.HasSuffix(pat, "/*") && strings.HasPrefix(mime, strings.TrimSuffix(pat, "*")) {
			return true
		}
	}
	return false
}

func validateEmail(p Params) (any, *Error) {
	s, ok := p.Value.(string)
	if !ok {
		return nil, invalidErr(p.Name, p.Type, p.Value)
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("%q is not a valid email address", s))
	}
	domain := strings.ToLower(s[strings.LastIndex(s, "@")+1:])
	if allowed := argStrings(p.Type, ArgAllowedDomains); len(allowed) != 0 && !domainIn(domain, allowed) {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("email domain %q not allowed", domain))
	}
	if disallowed := argStrings(p.Type, ArgDisallowedDomains); domainIn(domain, disallowed) {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("email domain %q not allowed", domain))
	}
	return s, nil
}

var phonePattern = regexp.MustCompile(`^\+[0-9]{4,15}$`)

func validatePhone(p Params) (any, *Error) {
	s, ok := p.Value.(string)
	if !ok {
		return nil, invalidErr(p.Name, p.Type, p.Value)
	}
	if !phonePattern.MatchString(s) {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("%q is not a valid phone number", s))
	}
	codes := argStrings(p.Type, ArgCodes)
	if len(codes) == 0 {
		return s, nil
	}
	for _, code := range codes {
		if strings.HasPrefix(s, "+"+code) {
			return s, nil
		}
	}
	return nil, invalidMsgErr(p.Name, fmt.Sprintf("phone country code not among %v", codes))
}

func validateURI(p Params) (any, *Error) {
	s, ok := p.Value.(string)
	if !ok {
		return nil, invalidErr(p.Name, p.Type, p.Value)
	}
	u, err := url.ParseRequestURI(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("%q is not a valid web URI", s))
	}
	allowed := argStrings(p.Type, ArgAllowedDomains)
	if len(allowed) == 0 {
		return s, nil
	}
	host := strings.ToLower(u.Hostname())
	if domainIn(host, allowed) {
		return s, nil
	}
	return nil, invalidMsgErr(p.Name, fmt.Sprintf("URI domain %q not allowed", host))
}

func domainIn(domain string, list []string) bool {
	for _, d := range list {
		d = strings.ToLower(d)
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

func validateGeo(p Params) (any, *Error) {
	m, ok := p.Value.(map[string]any)
	if !ok {
		return nil, invalidErr(p.Name, p.Type, p.Value)
	}
	if typ, _ := m["type"].(string); typ != "Point" {
		return nil, invalidMsgErr(p.Name, "geo value must be a Point")
	}
	coords, ok := m["coordinates"].([]any)
	if !ok || len(coords) != 2 {
		return nil, invalidMsgErr(p.Name, "geo coordinates must be [longitude, latitude]")
	}
	lng, okLng := toFloat(coords[0])
	lat, okLat := toFloat(coords[1])
	if !okLng || !okLat || lng < -180 || lng > 180 || lat < -90 || lat > 90 {
		return nil, invalidMsgErr(p.Name, "geo coordinates out of bounds")
	}
	return map[string]any{"type": "Point", "coordinates": []any{lng, lat}}, nil
}

// validateLocale validates a localized-string map: keys are restricted to
// the configured locale set, the default locale is required, and missing
// locales back-fill with the default locale's value.
func validateLocale(p Params) (any, *Error) {
	m, ok := p.Value.(map[string]any)
	if !ok {
		return nil, invalidErr(p.Name, p.Type, p.Value)
	}
	locales := p.Ctx.locales()
	known := make(map[string]bool, len(locales))
	for _, loc := range locales {
		known[loc] = true
	}
	for k, v := range m {
		if !known[k] {
			return nil, invalidMsgErr(p.Name, fmt.Sprintf("unknown locale %q", k))
		}
		if _, ok := v.(string); !ok {
			return nil, invalidMsgErr(p.Name, fmt.Sprintf("locale %q value must be a string", k))
		}
	}
	def := p.Ctx.locale()
	defVal, ok := m[def]
	if !ok {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("default locale %q is required", def))
	}
	out := make(map[string]any, len(locales))
	for _, loc := range locales {
		if v, ok := m[loc]; ok {
			out[loc] = v
		} else {
			out[loc] = defVal
		}
	}
	return out, nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case float32:
		if float64(n) == float64(int64(n)) {
			return int64(n), true
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func argInt(t *Type, name string) (int, bool) {
	switch v := t.Args[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func argStrings(t *Type, name string) []string {
	switch v := t.Args[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func argTypes(t *Type, name string) []*Type {
	members, _ := t.Args[name].([]*Type)
	return members
}

func intRanges(t *Type) [][2]int64 {
	switch v := t.Args[ArgRanges].(type) {
	case [][2]int64:
		return v
	case []any:
		var out [][2]int64
		for _, item := range v {
			if pair, ok := item.([]any); ok && len(pair) == 2 {
				min, okMin := toInt(pair[0])
				max, okMax := toInt(pair[1])
				if okMin && okMax {
					out = append(out, [2]int64{min, max})
				}
			}
		}
		return out
	default:
		return nil
	}
}

func floatRanges(t *Type) [][2]float64 {
	switch v := t.Args[ArgRanges].(type) {
	case [][2]float64:
		return v
	case []any:
		var out [][2]float64
		for _, item := range v {
			if pair, ok := item.([]any); ok && len(pair) == 2 {
				min, okMin := toFloat(pair[0])
				max, okMax := toFloat(pair[1])
				if okMin && okMax {
					out = append(out, [2]float64{min, max})
				}
			}
		}
		return out
	default:
		return nil
	}
}

func stringRanges(t *Type) [][2]string {
	switch v := t.Args[ArgRanges].(type) {
	case [][2]string:
		return v
	case []any:
		var out [][2]string
		for _, item := range v {
			if pair, ok := item.([]any); ok && len(pair) == 2 {
				lo, okLo := pair[0].(string)
				hi, okHi := pair[1].(string)
				if okLo && okHi {
					out = append(out, [2]string{lo, hi})
				}
			}
		}
		return out
	default:
		return nil
	}
}
