package permission

import (
	"testing"
	"time"

	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/pkg/oid"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testSession(privileges ...string) *Session {
	return &Session{
		UserID:     oid.New(),
		Groups:     []oid.ID{oid.New(), oid.New()},
		Privileges: map[string][]string{"task": privileges},
	}
}

func TestCheck_FirstGrantedRuleWins(t *testing.T) {
	rules := []Rule{
		{Privilege: "admin", Query: []map[string]any{{"scope": "all"}}},
		{Privilege: "read", Query: []map[string]any{{"user": VarUser}}},
	}

	// Session holds rule 2's privilege but not rule 1's: rule 2's mods
	// must apply, never rule 1's.
	s := testSession("read")
	grant, ok := Check(nil, s, "task", rules)
	if !ok {
		t.Fatal("Check() should grant")
	}
	if grant.Rule.Privilege != "read" {
		t.Errorf("granted rule = %q, want read", grant.Rule.Privilege)
	}
	if grant.Query[0]["user"] != s.UserID {
		t.Errorf("query mod user = %v, want %v", grant.Query[0]["user"], s.UserID)
	}

	// With both privileges, the earlier rule wins.
	grant, ok = Check(nil, testSession("admin", "read"), "task", rules)
	if !ok || grant.Rule.Privilege != "admin" {
		t.Errorf("granted rule = %v, want admin", grant)
	}
}

func TestCheck_NoGrant(t *testing.T) {
	rules := []Rule{Require("write")}
	if _, ok := Check(nil, testSession("read"), "task", rules); ok {
		t.Error("Check() should deny when no rule grants")
	}
	if _, ok := Check(nil, nil, "task", rules); ok {
		t.Error("Check() should deny for nil session")
	}
}

func TestCheck_Wildcards(t *testing.T) {
	// "*" rule always grants, even with no session.
	if _, ok := Check(nil, nil, "task", []Rule{Allow()}); !ok {
		t.Error("Allow() rule should grant unconditionally")
	}
	// "*" in the session's module set grants any privilege.
	if _, ok := Check(nil, testSession("*"), "task", []Rule{Require("manage")}); !ok {
		t.Error("wildcard privilege set should grant")
	}
}

func TestCheck_VariableResolution(t *testing.T) {
	at := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
	s := testSession("read")
	rules := []Rule{{
		Privilege: "read",
		Query: []map[string]any{{
			"user":   VarUser,
			"groups": map[string]any{"$in": VarGroups},
		}},
		Doc: []map[string]any{{
			"checked_at": VarDatetime,
			"date":       VarDate,
			"time":       VarTime,
		}},
	}}
	grant, ok := Check(fixedClock{at}, s, "task", rules)
	if !ok {
		t.Fatal("Check() should grant")
	}
	if grant.Query[0]["user"] != s.UserID {
		t.Errorf("$__user = %v, want %v", grant.Query[0]["user"], s.UserID)
	}
	in := grant.Query[0]["groups"].(map[string]any)["$in"].([]any)
	if len(in) != len(s.Groups) || in[0] != s.Groups[0] {
		t.Errorf("$__groups = %v, want %v", in, s.Groups)
	}
	if grant.Doc[0]["checked_at"] != "2024-06-15T09:30:00" {
		t.Errorf("$__datetime = %v", grant.Doc[0]["checked_at"])
	}
	if grant.Doc[0]["date"] != "2024-06-15" {
		t.Errorf("$__date = %v", grant.Doc[0]["date"])
	}
	if grant.Doc[0]["time"] != "09:30:00" {
		t.Errorf("$__time = %v", grant.Doc[0]["time"])
	}
}

func TestApply_QueryAndDocMerge(t *testing.T) {
	userID := oid.New()
	grant := &Grant{
		Query: []map[string]any{{"user": userID, "void": nil}},
		Doc:   []map[string]any{{"owner": userID, "empty": nil}},
	}
	q := query.Must(map[string]any{"status": "open"})
	doc := map[string]any{"name": "x"}
	if err := grant.Apply(q, doc); err != nil {
		t.Fatalf("Apply error = %v", err)
	}
	if got := q.Get("user").First(); got != userID {
		t.Errorf("merged query user = %v, want %v", got, userID)
	}
	// Nil-resolving fields are stripped, not merged as literal nulls.
	if q.Has("void") {
		t.Error("nil query mod should be stripped")
	}
	if doc["owner"] != userID {
		t.Errorf("merged doc owner = %v, want %v", doc["owner"], userID)
	}
	if _, ok := doc["empty"]; ok {
		t.Error("nil doc mod should be stripped")
	}
}

func TestApply_OptionalEntries(t *testing.T) {
	grant := &Grant{
		Query: []map[string]any{{"status": Optional{Value: "open"}}},
		Doc:   []map[string]any{{"priority": Optional{Value: 1}}},
	}

	// Absent fields get the defaults.
	q := query.Must()
	doc := map[string]any{}
	if err := grant.Apply(q, doc); err != nil {
		t.Fatalf("Apply error = %v", err)
	}
	if got := q.Get("status").First(); got != "open" {
		t.Errorf("optional query default = %v, want open", got)
	}
	if doc["priority"] != 1 {
		t.Errorf("optional doc default = %v, want 1", doc["priority"])
	}

	// Caller-supplied fields win over optional defaults.
	q = query.Must(map[string]any{"status": "closed"})
	doc = map[string]any{"priority": 9}
	if err := grant.Apply(q, doc); err != nil {
		t.Fatalf("Apply error = %v", err)
	}
	if got := q.Get("status").Values(); len(got) != 1 || got[0] != "closed" {
		t.Errorf("caller status overridden: %v", got)
	}
	if doc["priority"] != 9 {
		t.Errorf("caller priority overridden: %v", doc["priority"])
	}
}
