package attr

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/docbase/pkg/oid"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeCounters struct {
	n    int64
	fail bool
}

func (c *fakeCounters) Next(_ context.Context, name string) (int64, error) {
	if c.fail {
		return 0, errors.New("counter store down")
	}
	c.n++
	return c.n, nil
}

func testCtx() *Ctx {
	return &Ctx{
		Locales: []string{"ar_AE", "en_AE"},
		Locale:  "ar_AE",
		Clock:   fixedClock{time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)},
		Log:     zerolog.Nop(),
	}
}

func validate(t *testing.T, typ *Type, value any) (any, *Error) {
	t.Helper()
	return Validate(Params{Name: "test", Type: typ, Value: value, Ctx: testCtx()})
}

func TestInt_HalfOpenRanges(t *testing.T) {
	typ := Int([2]int64{0, 10})

	// Scenario: "5" coerces to 5; 10 hits the exclusive upper bound.
	got, err := validate(t, typ, "5")
	if err != nil {
		t.Fatalf(`Validate("5") error = %v`, err)
	}
	if got != int64(5) {
		t.Errorf(`Validate("5") = %v (%T), want 5`, got, got)
	}
	if _, err := validate(t, typ, 10); err == nil || err.Code != CodeInvalid {
		t.Errorf("Validate(10) error = %v, want invalid (upper bound exclusive)", err)
	}
	if _, err := validate(t, typ, 0); err != nil {
		t.Errorf("Validate(0) error = %v, want nil (lower bound inclusive)", err)
	}
	if _, err := validate(t, typ, "5.5"); err == nil {
		t.Error(`Validate("5.5") should fail for INT`)
	}
	if _, err := validate(t, typ, 2.5); err == nil {
		t.Error("Validate(2.5) should fail for INT")
	}
}

func TestFloat(t *testing.T) {
	typ := Float([2]float64{0, 1})
	if got, err := validate(t, typ, "0.25"); err != nil || got != 0.25 {
		t.Errorf(`Validate("0.25") = %v, %v; want 0.25, nil`, got, err)
	}
	if _, err := validate(t, typ, 1.0); err == nil {
		t.Error("Validate(1.0) should fail (upper bound exclusive)")
	}
}

func TestStr_Pattern(t *testing.T) {
	typ := Pattern(`[a-z]{3,8}`)
	if _, err := validate(t, typ, "hello"); err != nil {
		t.Errorf("Validate(hello) error = %v", err)
	}
	// Pattern is an exact match, not a substring search.
	if _, err := validate(t, typ, "hello world"); err == nil {
		t.Error("Validate(hello world) should fail exact-match pattern")
	}
	if _, err := validate(t, typ, 42); err == nil {
		t.Error("Validate(42) should fail for STR")
	}
}

func TestID_ConvertVsInvalid(t *testing.T) {
	typ := ID()
	id := oid.New()

	if got, err := validate(t, typ, id); err != nil || got != id {
		t.Errorf("Validate(oid) = %v, %v", got, err)
	}
	if got, err := validate(t, typ, id.Hex()); err != nil || got != id {
		t.Errorf("Validate(hex) = %v, %v", got, err)
	}
	// A document handle contributes its _id.
	if got, err := validate(t, typ, map[string]any{"_id": id, "name": "x"}); err != nil || got != id {
		t.Errorf("Validate(doc) = %v, %v", got, err)
	}
	// Malformed string: convert, not invalid.
	if _, err := validate(t, typ, "not-hex"); err == nil || err.Code != CodeConvert {
		t.Errorf("Validate(not-hex) error = %v, want convert", err)
	}
	// Wrong shape entirely: invalid.
	if _, err := validate(t, typ, 42); err == nil || err.Code != CodeInvalid {
		t.Errorf("Validate(42) error = %v, want invalid", err)
	}
}

func TestLocale_Backfill(t *testing.T) {
	typ := Locale()
	got, err := validate(t, typ, map[string]any{"ar_AE": "x"})
	if err != nil {
		t.Fatalf("Validate error = %v", err)
	}
	want := map[string]any{"ar_AE": "x", "en_AE": "x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Validate = %v, want %v", got, want)
	}

	// Missing default locale rejects.
	if _, err := validate(t, typ, map[string]any{"en_AE": "x"}); err == nil {
		t.Error("Validate without default locale should fail")
	}
	// Unknown locale rejects.
	if _, err := validate(t, typ, map[string]any{"ar_AE": "x", "fr_FR": "y"}); err == nil {
		t.Error("Validate with unknown locale should fail")
	}
}

func TestLocales(t *testing.T) {
	typ := Locales()
	if _, err := validate(t, typ, "en_AE"); err != nil {
		t.Errorf("Validate(en_AE) error = %v", err)
	}
	if _, err := validate(t, typ, "fr_FR"); err == nil {
		t.Error("Validate(fr_FR) should fail")
	}
}

func TestList_FirstMatchWins(t *testing.T) {
	typ := List(Int(), Str())
	got, err := validate(t, typ, []any{"1", "two", 3})
	if err != nil {
		t.Fatalf("Validate error = %v", err)
	}
	// "1" matches INT first (coerced), never falls through to STR.
	want := []any{int64(1), "two", int64(3)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Validate = %v, want %v", got, want)
	}

	bounded := ListBetween(2, 3, Int())
	if _, err := validate(t, bounded, []any{1}); err == nil {
		t.Error("Validate below min length should fail")
	}
	if _, err := validate(t, bounded, []any{1, 2, 3, 4}); err == nil {
		t.Error("Validate above max length should fail")
	}
}

func TestDict_FixedKeys(t *testing.T) {
	typ := Dict(map[string]*Type{
		"lat": Float(),
		"lng": Float(),
	})
	if _, err := validate(t, typ, map[string]any{"lat": 1.0, "lng": 2.0}); err != nil {
		t.Errorf("Validate error = %v", err)
	}
	if _, err := validate(t, typ, map[string]any{"lat": 1.0, "lng": 2.0, "alt": 3.0}); err == nil {
		t.Error("Validate with unknown key should fail")
	}
	if _, err := validate(t, typ, map[string]any{"lat": 1.0}); err == nil {
		t.Error("Validate with missing required child should fail")
	}
}

func TestKVDict(t *testing.T) {
	typ := KVDictBetween(Pattern(`[a-z]+`), Int(), 1, 3, "base")
	got, err := validate(t, typ, map[string]any{"base": 1, "extra": "2"})
	if err != nil {
		t.Fatalf("Validate error = %v", err)
	}
	want := map[string]any{"base": int64(1), "extra": int64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Validate = %v, want %v", got, want)
	}
	if _, err := validate(t, typ, map[string]any{"other": 1}); err == nil {
		t.Error("Validate without required key should fail")
	}
	if _, err := validate(t, typ, map[string]any{"BASE": 1, "base": 2}); err == nil {
		t.Error("Validate with key failing key-schema should fail")
	}
	if _, err := validate(t, typ, map[string]any{}); err == nil {
		t.Error("Validate below min keys should fail")
	}
}

func TestUnion_FirstSuccess(t *testing.T) {
	typ := Union(Int(), Bool())
	if got, _ := validate(t, typ, true); got != true {
		t.Errorf("Validate(true) = %v, want true", got)
	}
	if got, _ := validate(t, typ, "7"); got != int64(7) {
		t.Errorf(`Validate("7") = %v, want 7`, got)
	}
	if _, err := validate(t, typ, []any{}); err == nil {
		t.Error("Validate([]) should fail all union members")
	}
}

func TestLiteral(t *testing.T) {
	typ := Literal("read", "write")
	if _, err := validate(t, typ, "read"); err != nil {
		t.Errorf("Validate(read) error = %v", err)
	}
	if _, err := validate(t, typ, "admin"); err == nil {
		t.Error("Validate(admin) should fail")
	}
}

func TestEmailPhoneURIGeoIP(t *testing.T) {
	if _, err := validate(t, Email(), "a@example.com"); err != nil {
		t.Errorf("email error = %v", err)
	}
	if _, err := validate(t, Email(), "not-an-email"); err == nil {
		t.Error("bad email should fail")
	}
	typ := EmailDomains([]string{"example.com"}, nil)
	if _, err := validate(t, typ, "a@other.com"); err == nil {
		t.Error("email outside allowed domains should fail")
	}

	if _, err := validate(t, Phone("971"), "+971501234567"); err != nil {
		t.Errorf("phone error = %v", err)
	}
	if _, err := validate(t, Phone("971"), "+441234567890"); err == nil {
		t.Error("phone with wrong code should fail")
	}

	if _, err := validate(t, URI(), "https://example.com/x"); err != nil {
		t.Errorf("uri error = %v", err)
	}
	if _, err := validate(t, URI("example.com"), "https://evil.com/"); err == nil {
		t.Error("uri outside allowed domains should fail")
	}

	geo := map[string]any{"type": "Point", "coordinates": []any{55.3, 25.2}}
	if _, err := validate(t, Geo(), geo); err != nil {
		t.Errorf("geo error = %v", err)
	}
	if _, err := validate(t, Geo(), map[string]any{"type": "Line"}); err == nil {
		t.Error("non-point geo should fail")
	}

	if _, err := validate(t, IP(), "10.0.0.1"); err != nil {
		t.Errorf("ip error = %v", err)
	}
	if _, err := validate(t, IP(), "999.0.0.1"); err == nil {
		t.Error("bad ip should fail")
	}
}

func TestTemporal_RelativeRanges(t *testing.T) {
	// Clock fixed at 2024-06-15T12:00:00.
	typ := Datetime([2]string{"-1h", "+1h"})
	if _, err := validate(t, typ, "2024-06-15T12:30:00"); err != nil {
		t.Errorf("within window error = %v", err)
	}
	if _, err := validate(t, typ, "2024-06-15T14:00:00"); err == nil {
		t.Error("outside window should fail")
	}

	date := Date([2]string{"2024-01-01", "2024-07-01"})
	if _, err := validate(t, date, "2024-06-15"); err != nil {
		t.Errorf("date in range error = %v", err)
	}
	// Half-open upper bound.
	if _, err := validate(t, date, "2024-07-01"); err == nil {
		t.Error("upper bound should be exclusive")
	}
	if _, err := validate(t, date, "15/06/2024"); err == nil {
		t.Error("non-ISO date should fail")
	}

	if _, err := validate(t, Time(), "23:59"); err != nil {
		t.Errorf("time error = %v", err)
	}
	if _, err := validate(t, Time(), "25:00"); err == nil {
		t.Error("invalid time should fail")
	}
}

func TestOper_AddRewrap(t *testing.T) {
	// Scenario: {$add:5} against INT validates operand, keeps shape.
	got, err := Validate(Params{
		Name: "score", Type: Int(), Value: map[string]any{"$add": 5},
		AllowOpers: true, Ctx: testCtx(),
	})
	if err != nil {
		t.Fatalf("Validate error = %v", err)
	}
	want := map[string]any{"$add": int64(5)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Validate = %#v, want %#v", got, want)
	}
}

func TestOper_AppendUnique(t *testing.T) {
	got, err := Validate(Params{
		Name: "tags", Type: List(Str()),
		Value:      map[string]any{"$append": "go", "$unique": true},
		AllowOpers: true, Ctx: testCtx(),
	})
	if err != nil {
		t.Fatalf("Validate error = %v", err)
	}
	want := map[string]any{"$append": "go", "$unique": true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Validate = %#v, want %#v", got, want)
	}
	// Invalid operand against element type.
	if _, err := Validate(Params{
		Name: "tags", Type: List(Int()),
		Value:      map[string]any{"$append": "nan"},
		AllowOpers: true, Ctx: testCtx(),
	}); err == nil {
		t.Error("append of non-member value should fail")
	}
}

func TestOper_Remove(t *testing.T) {
	got, err := Validate(Params{
		Name: "tags", Type: List(Str()),
		Value:      map[string]any{"$remove": []any{"go"}},
		AllowOpers: true, Ctx: testCtx(),
	})
	if err != nil {
		t.Fatalf("Validate error = %v", err)
	}
	want := map[string]any{"$remove": []any{"go"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Validate = %#v, want %#v", got, want)
	}
}

func TestOper_IgnoredWithoutAllowOpers(t *testing.T) {
	// Without AllowOpers the operator map is just an invalid INT value.
	if _, err := validate(t, Int(), map[string]any{"$add": 5}); err == nil {
		t.Error("operator map should not validate as plain INT")
	}
}

func TestDefaults_Precedence(t *testing.T) {
	// Static default applies for absent values.
	typ := Str().WithDefault("fallback")
	if got, err := validate(t, typ, nil); err != nil || got != "fallback" {
		t.Errorf("Validate(nil) = %v, %v; want fallback", got, err)
	}

	// Conditional default wins over static.
	cond := Str().WithDefault("static")
	cond.WithCondDefault(func(ctx *Ctx) bool { return ctx.Vars["admin"] == true }, "granted")
	ctx := testCtx()
	ctx.Vars = map[string]any{"admin": true}
	got, err := Validate(Params{Name: "t", Type: cond, Value: nil, Ctx: ctx})
	if err != nil || got != "granted" {
		t.Errorf("conditional default = %v, %v; want granted", got, err)
	}

	// AllowNone passes nil through instead of applying static defaults.
	if got, err := Validate(Params{Name: "t", Type: typ, Value: nil, AllowNone: true, Ctx: testCtx()}); err != nil || got != nil {
		t.Errorf("AllowNone Validate(nil) = %v, %v; want nil", got, err)
	}

	// Absent with neither default nor AllowNone is missing.
	if _, err := validate(t, Str(), nil); err == nil || err.Code != CodeMissing {
		t.Errorf("Validate(nil) error = %v, want missing", err)
	}

	// Deep copy: mutating the resolved default must not touch the schema.
	listDef := List(Str()).WithDefault([]any{"a"})
	v1, _ := validate(t, listDef, nil)
	v1.([]any)[0] = "mutated"
	v2, _ := validate(t, listDef, nil)
	if v2.([]any)[0] != "a" {
		t.Error("default value aliased between resolutions")
	}
}

func TestDefaults_FallbackOnInvalid(t *testing.T) {
	typ := Int().WithDefault(int64(7))
	// Invalid value degrades to the static default, not an error.
	if got, err := validate(t, typ, "nan"); err != nil || got != int64(7) {
		t.Errorf("Validate(nan) = %v, %v; want 7", got, err)
	}
	// Without a default the failure surfaces; AllowNone excuses absence
	// only, never a present value.
	if _, err := Validate(Params{Name: "t", Type: Int(), Value: "nan", AllowNone: true, Ctx: testCtx()}); err == nil || err.Code != CodeInvalid {
		t.Errorf("AllowNone Validate(nan) error = %v, want invalid", err)
	}
}

func TestCounterPattern(t *testing.T) {
	counters := &fakeCounters{}
	ctx := testCtx()
	ctx.Counters = counters
	ctx.Doc = map[string]any{"dept": "ops"}
	typ := Str().WithCounter("INV-{year}-{doc:dept}-{counter:invoice}")

	got, err := Validate(Params{Name: "number", Type: typ, Value: nil, Ctx: ctx})
	if err != nil {
		t.Fatalf("Validate error = %v", err)
	}
	if got != "INV-2024-ops-1" {
		t.Errorf("counter default = %v, want INV-2024-ops-1", got)
	}
	got, _ = Validate(Params{Name: "number", Type: typ, Value: nil, Ctx: ctx})
	if got != "INV-2024-ops-2" {
		t.Errorf("second counter default = %v, want INV-2024-ops-2", got)
	}
}

func TestCounterPattern_StoreFailure(t *testing.T) {
	// A failing counter store degrades to a zero counter; generation
	// still succeeds so the caller is never blocked on the counter.
	ctx := testCtx()
	ctx.Counters = &fakeCounters{fail: true}
	typ := Str().WithCounter("C-{counter:x}")
	got, err := Validate(Params{Name: "n", Type: typ, Value: nil, Ctx: ctx})
	if err != nil {
		t.Fatalf("Validate error = %v", err)
	}
	if got != "C-0" {
		t.Errorf("counter default = %v, want C-0", got)
	}
}

func TestIdempotence(t *testing.T) {
	cases := []struct {
		name  string
		typ   *Type
		value any
	}{
		{"int", Int(), "5"},
		{"float", Float(), "1.5"},
		{"str", Str(), "x"},
		{"locale", Locale(), map[string]any{"ar_AE": "x"}},
		{"list", List(Int()), []any{"1", 2}},
		{"geo", Geo(), map[string]any{"type": "Point", "coordinates": []any{1.0, 2.0}}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			once, err := validate(t, tt.typ, tt.value)
			if err != nil {
				t.Fatalf("first Validate error = %v", err)
			}
			twice, err := validate(t, tt.typ, once)
			if err != nil {
				t.Fatalf("second Validate error = %v", err)
			}
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("not idempotent: %#v vs %#v", once, twice)
			}
		})
	}
}

func TestTypeExtension(t *testing.T) {
	RegisterType("positive_even", func(ctx *Ctx, name string, value any) (any, *Error) {
		n, ok := toInt(value)
		if !ok || n <= 0 || n%2 != 0 {
			return nil, invalidMsgErr(name, "not a positive even number")
		}
		return n, nil
	})
	typ := TypeOf("positive_even")
	if got, err := validate(t, typ, 4); err != nil || got != int64(4) {
		t.Errorf("Validate(4) = %v, %v", got, err)
	}
	if _, err := validate(t, typ, 3); err == nil {
		t.Error("Validate(3) should fail")
	}
}

func TestNew_ArgNormalization(t *testing.T) {
	typ, err := New(KindInt, nil)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if _, ok := typ.Args[ArgRanges]; !ok {
		t.Error("unset optional arg not normalized to nil entry")
	}
	if _, err := New(KindInt, map[string]any{"bogus": 1}); err == nil {
		t.Error("New should reject undeclared args")
	}
	if _, err := New(Kind("NOPE"), nil); err == nil {
		t.Error("New should reject unknown kind")
	}
}

func TestCheck_SchemaErrors(t *testing.T) {
	bad := &Type{Kind: KindList, Args: map[string]any{ArgList: []*Type{}}}
	if err := bad.Check(); err == nil {
		t.Error("Check should reject LIST without member types")
	}
	union := &Type{Kind: KindUnion, Args: map[string]any{ArgUnion: []*Type{Int()}}}
	if err := union.Check(); err == nil {
		t.Error("Check should reject UNION with one member")
	}
	ok := List(Int())
	if err := ok.Check(); err != nil {
		t.Errorf("Check error = %v", err)
	}
	if !ok.Valid() {
		t.Error("Valid() = false after successful Check")
	}
}
