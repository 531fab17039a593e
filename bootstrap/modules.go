package bootstrap

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/docbase/core/attr"
	"github.com/artpar/docbase/core/module"
	"github.com/artpar/docbase/core/permission"
	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/pkg/oid"
	"github.com/artpar/docbase/ports"
)

// BuiltinModules returns the module set every deployment carries: user,
// group, session, setting, diff and realm. Application modules layer on
// top of these, usually via YAML manifests.
func BuiltinModules(h ports.Hasher) []*module.Module {
	return []*module.Module{
		userModule(h),
		groupModule(),
		sessionModule(h),
		settingModule(),
		diffModule(),
		realmModule(),
	}
}

func userModule(h ports.Hasher) *module.Module {
	return &module.Module{
		Name:       "user",
		Collection: "user",
		Attrs: map[string]*attr.Type{
			"name":        attr.Str(),
			"password":    attr.Str(),
			"email":       attr.Email(),
			"groups":      attr.List(attr.ID()),
			"create_time": attr.Str(),
			"host_add":    attr.Str(),
		},
		UniqueAttrs: [][]string{{"name"}},
		Privileges:  []string{"read", "read_all", "create", "update", "update_all", "delete"},
		Methods: map[string]*module.Method{
			"read": {
				Permissions: []permission.Rule{
					permission.Require("read_all"),
					{Privilege: "read", Query: []map[string]any{{"_id": permission.VarUser}}},
				},
				Get: true,
			},
			"create": {
				Permissions: []permission.Rule{permission.Require("create")},
				DocArgs: []map[string]*attr.Type{
					{"name": attr.Str(), "password": attr.Str()},
				},
				Post: true,
			},
			"update": {
				Permissions: []permission.Rule{
					permission.Require("update_all"),
					{Privilege: "update", Query: []map[string]any{{"_id": permission.VarUser}}},
				},
				Post: true,
			},
			"delete": {
				Permissions: []permission.Rule{permission.Require("delete")},
				Post:        true,
			},
		},
		Hooks: module.Hooks{
			PreCreate: hashPassword(h),
			PreUpdate: hashPassword(h),
			OnRead:    redactPassword,
		},
	}
}

// hashPassword replaces a plaintext password in the incoming doc with
// its hash. Operator-wrapped updates leave the field alone.
func hashPassword(h ports.Hasher) module.PreHook {
	return func(ctx context.Context, c *module.Core, mod *module.Module, call *module.Call) (module.HookOutcome, error) {
		if plaintext, ok := call.Doc["password"].(string); ok && plaintext != "" {
			hash, err := h.Hash(plaintext)
			if err != nil {
				return module.HookOutcome{}, err
			}
			call.Doc["password"] = string(hash)
		}
		return module.ContinueWith(call), nil
	}
}

// redactPassword strips the credential hash from read results. Callers
// needing the hash (login) skip on-hooks.
func redactPassword(ctx context.Context, c *module.Core, mod *module.Module, call *module.Call, res *module.Result) (*module.Result, error) {
	for _, doc := range res.Docs() {
		delete(doc, "password")
	}
	return res, nil
}

func groupModule() *module.Module {
	return &module.Module{
		Name:       "group",
		Collection: "group",
		Attrs: map[string]*attr.Type{
			"name":       attr.Str(),
			"privileges": attr.Any(),
		},
		UniqueAttrs: [][]string{{"name"}},
		Privileges:  []string{"read", "create", "update", "delete"},
		Methods: map[string]*module.Method{
			"read": {Permissions: []permission.Rule{permission.Require("read")}, Get: true},
			"create": {
				Permissions: []permission.Rule{permission.Require("create")},
				DocArgs:     []map[string]*attr.Type{{"name": attr.Str()}},
				Post:        true,
			},
			"update": {Permissions: []permission.Rule{permission.Require("update")}, Post: true},
			"delete": {Permissions: []permission.Rule{permission.Require("delete")}, Post: true},
		},
	}
}

func sessionModule(h ports.Hasher) *module.Module {
	return &module.Module{
		Name:       "session",
		Collection: "session",
		Attrs: map[string]*attr.Type{
			"token":       attr.Str(),
			"user":        attr.ID(),
			"groups":      attr.List(attr.ID()),
			"expiry":      attr.Str(),
			"create_time": attr.Str(),
		},
		UniqueAttrs: [][]string{{"token"}},
		Privileges:  []string{"read", "create", "delete"},
		Extns: map[string]ports.Extn{
			"user": {Module: "user", Attrs: []string{"name", "email"}},
		},
		Methods: map[string]*module.Method{
			// Sessions are only readable by their owner.
			"read": {
				Permissions: []permission.Rule{
					{Privilege: "read", Query: []map[string]any{{"user": permission.VarUser}}},
				},
				Get: true,
			},
			"create": {
				Permissions: []permission.Rule{permission.Require("create")},
				DocArgs: []map[string]*attr.Type{
					{"token": attr.Str(), "user": attr.ID()},
				},
				Post: true,
			},
			"delete": {
				Permissions: []permission.Rule{
					{Privilege: "delete", Query: []map[string]any{{"user": permission.VarUser}}},
				},
				Post: true,
			},
			// Anyone may attempt a login; the handler authenticates.
			"login": {
				Permissions: []permission.Rule{permission.Allow()},
				DocArgs: []map[string]*attr.Type{
					{"name": attr.Str(), "password": attr.Str()},
				},
				Post:    true,
				Handler: login(h),
			},
		},
	}
}

// sessionTTL bounds how long a login-issued session stays valid.
const sessionTTL = 24 * time.Hour

// login verifies a name/password pair against the stored hash and
// issues a session. Unknown names and wrong passwords fail identically
// so the response never reveals which accounts exist.
func login(h ports.Hasher) module.HandlerFunc {
	return func(ctx context.Context, c *module.Core, mod *module.Module, call *module.Call) *module.Result {
		name, _ := call.Doc["name"].(string)
		password, _ := call.Doc["password"].(string)

		denied := module.ErrResult(401, module.CodeForbidden, "invalid credentials", nil)

		res := c.Call(ctx, "user", "read", &module.Call{
			Skip:  module.Skips(module.SkipPre, module.SkipOn, module.SkipPerm, module.SkipArgs, module.SkipExtn, module.SkipRealm),
			Env:   &module.Env{Conn: call.Env.Conn},
			Query: query.Must(map[string]any{"name": name}),
		})
		if !res.OK() || res.Count() != 1 {
			return denied
		}
		user := res.Docs()[0]
		hash, _ := user["password"].(string)
		if hash == "" || !h.Compare([]byte(hash), password) {
			return denied
		}

		userID, _ := user["_id"].(oid.ID)
		now := c.Runtime().Clock.Now().UTC()
		doc := map[string]any{
			"token":  uuid.NewString(),
			"user":   userID,
			"expiry": now.Add(sessionTTL).Format("2006-01-02T15:04:05"),
		}
		if groups, ok := user["groups"].([]any); ok {
			doc["groups"] = groups
		}

		created := c.Call(ctx, "session", "create", &module.Call{
			Skip: module.Skips(module.SkipPerm, module.SkipRealm),
			Env:  &module.Env{Conn: call.Env.Conn},
			Doc:  doc,
		})
		if !created.OK() {
			return created
		}
		session := map[string]any{
			"_id":    created.Docs()[0]["_id"],
			"token":  doc["token"],
			"user":   userID,
			"expiry": doc["expiry"],
		}
		return module.NewResult("login", map[string]any{
			"docs":  []map[string]any{session},
			"count": int64(1),
		})
	}
}

func settingModule() *module.Module {
	return &module.Module{
		Name:       "setting",
		Collection: "setting",
		Attrs: map[string]*attr.Type{
			"name":  attr.Str(),
			"value": attr.Any(),
		},
		UniqueAttrs: [][]string{{"name"}},
		Privileges:  []string{"create", "update", "delete"},
		// Settings change rarely; reads are served from cache.
		CacheRules: []module.CacheRule{{Period: 5 * time.Minute}},
		Methods: map[string]*module.Method{
			"read": {Permissions: []permission.Rule{permission.Allow()}, Get: true},
			"create": {
				Permissions: []permission.Rule{permission.Require("create")},
				DocArgs: []map[string]*attr.Type{
					{"name": attr.Str(), "value": attr.Any()},
				},
				Post: true,
			},
			"update": {Permissions: []permission.Rule{permission.Require("update")}, Post: true},
			"delete": {Permissions: []permission.Rule{permission.Require("delete")}, Post: true},
		},
	}
}

func diffModule() *module.Module {
	return &module.Module{
		Name:       "diff",
		Collection: "diff",
		Attrs: map[string]*attr.Type{
			"module":      attr.Str(),
			"doc_id":      attr.ID(),
			"attrs":       attr.List(attr.Str()),
			"user":        attr.ID(),
			"create_time": attr.Str(),
		},
		Privileges: []string{"read", "create", "delete"},
		Methods: map[string]*module.Method{
			"read":   {Permissions: []permission.Rule{permission.Require("read")}, Get: true},
			"create": {Permissions: []permission.Rule{permission.Require("create")}, Post: true},
			"delete": {Permissions: []permission.Rule{permission.Require("delete")}, Post: true},
		},
	}
}

func realmModule() *module.Module {
	return &module.Module{
		Name:       "realm",
		Collection: "realm",
		Attrs: map[string]*attr.Type{
			"name":  attr.Str(),
			"title": attr.Str(),
		},
		UniqueAttrs: [][]string{{"name"}},
		Privileges:  []string{"read", "create", "update", "delete"},
		Methods: map[string]*module.Method{
			"read": {Permissions: []permission.Rule{permission.Require("read")}, Get: true},
			"create": {
				Permissions: []permission.Rule{permission.Require("create")},
				DocArgs:     []map[string]*attr.Type{{"name": attr.Str()}},
				Post:        true,
			},
			"update": {Permissions: []permission.Rule{permission.Require("update")}, Post: true},
			"delete": {Permissions: []permission.Rule{permission.Require("delete")}, Post: true},
		},
	}
}
