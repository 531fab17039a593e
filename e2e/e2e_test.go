// Package e2e exercises the assembled application end to end: bootstrap
// against SQLite, declarative modules, login, permission scoping, diff
// recording and restart persistence.
package e2e

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artpar/docbase/bootstrap"
	"github.com/artpar/docbase/config"
	"github.com/artpar/docbase/core/module"
	"github.com/artpar/docbase/core/permission"
	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/pkg/oid"
)

const articleManifest = `
name: article
collection: article
attrs:
  title:
    kind: STR
  body:
    kind: STR
  views:
    kind: INT
    default: 0
  owner:
    kind: ID
  code:
    kind: STR
    counter: "ART-{year}-{counter:article}"
unique_attrs:
  - [title]
privileges: [read, create, update, delete]
methods:
  read:
    permissions:
      - privilege: read
    get: true
  create:
    permissions:
      - privilege: create
        doc:
          - owner: $__user
    doc_args:
      - title:
          kind: STR
    post: true
  update:
    permissions:
      - privilege: update
        query:
          - owner: $__user
    post: true
  delete:
    permissions:
      - privilege: delete
    post: true
diff:
  enabled: true
`

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	modDir := filepath.Join(dir, "modules")
	if err := os.MkdirAll(modDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modDir, "article.yaml"), []byte(articleManifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return &config.Config{
		App: config.AppConfig{
			Locales: []string{"en_US"},
			Locale:  "en_US",
		},
		Storage: config.StorageConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dir, "e2e.db"),
		},
		Modules: config.ModulesConfig{Dir: modDir},
		Admin:   config.AdminConfig{Name: "admin", Password: "e2e-secret"},
		Logging: config.LoggingConfig{Level: "error", Format: "json"},
	}
}

func boot(t *testing.T, cfg *config.Config) *bootstrap.App {
	t.Helper()
	app, err := bootstrap.New(cfg)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(func() { app.Shutdown() })
	return app
}

// sessionFor logs in and rebuilds the session a transport layer would
// attach to subsequent calls.
func sessionFor(t *testing.T, app *bootstrap.App, name, password string) *permission.Session {
	t.Helper()
	ctx := context.Background()

	res := app.Core.Call(ctx, "session", "login", &module.Call{
		Doc: map[string]any{"name": name, "password": password},
	})
	if !res.OK() {
		t.Fatalf("login %s: %s", name, res)
	}
	token, _ := res.Docs()[0]["token"].(string)

	stored := app.Core.Call(ctx, "session", "read", &module.Call{
		Skip:  module.Skips(module.SkipPerm, module.SkipOn, module.SkipExtn),
		Query: query.Must(map[string]any{"token": token}),
	})
	if !stored.OK() || stored.Count() != 1 {
		t.Fatalf("read session for %s: %s", name, stored)
	}
	doc := stored.Docs()[0]

	session := &permission.Session{}
	session.UserID, _ = doc["user"].(oid.ID)
	if groups, ok := doc["groups"].([]any); ok {
		for _, g := range groups {
			if id, ok := g.(oid.ID); ok {
				session.Groups = append(session.Groups, id)
			}
		}
	}
	return session
}

func TestE2E_AdminWorkflow(t *testing.T) {
	app := boot(t, testConfig(t, t.TempDir()))
	ctx := context.Background()
	admin := sessionFor(t, app, "admin", "e2e-secret")

	// Anonymous callers cannot touch the manifest module.
	res := app.Core.Call(ctx, "article", "create", &module.Call{
		Doc: map[string]any{"title": "nope"},
	})
	if res.OK() || res.Status != 403 {
		t.Fatalf("anonymous create = %s, want 403", res)
	}

	// Creates stamp ownership and generate counter codes.
	var codes []string
	for _, title := range []string{"first", "second"} {
		res = app.Core.Call(ctx, "article", "create", &module.Call{
			Env: &module.Env{Session: admin},
			Doc: map[string]any{"title": title, "body": "draft"},
		})
		if !res.OK() {
			t.Fatalf("create %s: %s", title, res)
		}
		id, _ := res.Docs()[0]["_id"].(oid.ID)
		read := app.Core.Call(ctx, "article", "read", &module.Call{
			Env:   &module.Env{Session: admin},
			Query: query.Must(map[string]any{"_id": id}),
		})
		if !read.OK() || read.Count() != 1 {
			t.Fatalf("read back %s: %s", title, read)
		}
		doc := read.Docs()[0]
		if doc["owner"] != admin.UserID {
			t.Errorf("%s owner = %v, want the caller", title, doc["owner"])
		}
		if doc["views"] != int64(0) {
			t.Errorf("%s views = %v, want default 0", title, doc["views"])
		}
		code, _ := doc["code"].(string)
		codes = append(codes, code)
	}
	for i, code := range codes {
		if !strings.HasPrefix(code, "ART-") || !strings.HasSuffix(code, "-"+string(rune('1'+i))) {
			t.Errorf("code[%d] = %q, want ART-<year>-%d", i, code, i+1)
		}
	}

	// Duplicate titles are rejected by the unique constraint.
	res = app.Core.Call(ctx, "article", "create", &module.Call{
		Env: &module.Env{Session: admin},
		Doc: map[string]any{"title": "first"},
	})
	if res.OK() || res.Code() != module.CodeDuplicateDoc {
		t.Fatalf("duplicate create = %s, want duplicate_doc", res)
	}

	// Updates run through operators and record a diff.
	res = app.Core.Call(ctx, "article", "update", &module.Call{
		Env:   &module.Env{Session: admin},
		Query: query.Must(map[string]any{"title": "first"}),
		Doc:   map[string]any{"body": "published", "views": map[string]any{"$add": 10}},
	})
	if !res.OK() {
		t.Fatalf("update: %s", res)
	}
	read := app.Core.Call(ctx, "article", "read", &module.Call{
		Env:   &module.Env{Session: admin},
		Query: query.Must(map[string]any{"title": "first"}),
	})
	if read.Docs()[0]["views"] != int64(10) {
		t.Errorf("views after $add = %v, want 10", read.Docs()[0]["views"])
	}

	diffs := app.Core.Call(ctx, "diff", "read", &module.Call{
		Skip:  module.Skips(module.SkipPerm),
		Query: query.Must(map[string]any{"module": "article"}),
	})
	if !diffs.OK() || diffs.Count() != 1 {
		t.Fatalf("diff records = %s, want one", diffs)
	}
	changed, _ := diffs.Docs()[0]["attrs"].([]any)
	found := false
	for _, a := range changed {
		if a == "body" {
			found = true
		}
	}
	if !found {
		t.Errorf("diff attrs = %v, want body listed", changed)
	}
}

func TestE2E_PermissionScoping(t *testing.T) {
	app := boot(t, testConfig(t, t.TempDir()))
	ctx := context.Background()
	admin := sessionFor(t, app, "admin", "e2e-secret")

	// A writers group may read, create and update articles but not
	// delete them; updates are scoped to own documents by the rule.
	res := app.Core.Call(ctx, "group", "create", &module.Call{
		Env: &module.Env{Session: admin},
		Doc: map[string]any{
			"name": "writers",
			"privileges": map[string]any{
				"article": []any{"read", "create", "update"},
			},
		},
	})
	if !res.OK() {
		t.Fatalf("create writers group: %s", res)
	}
	groupID, _ := res.Docs()[0]["_id"].(oid.ID)

	res = app.Core.Call(ctx, "user", "create", &module.Call{
		Env: &module.Env{Session: admin},
		Doc: map[string]any{
			"name":     "wren",
			"password": "wren-pass",
			"groups":   []any{groupID},
		},
	})
	if !res.OK() {
		t.Fatalf("create writer account: %s", res)
	}

	writer := sessionFor(t, app, "wren", "wren-pass")

	res = app.Core.Call(ctx, "article", "create", &module.Call{
		Env: &module.Env{Session: writer},
		Doc: map[string]any{"title": "wren's notes"},
	})
	if !res.OK() {
		t.Fatalf("writer create: %s", res)
	}

	res = app.Core.Call(ctx, "article", "create", &module.Call{
		Env: &module.Env{Session: admin},
		Doc: map[string]any{"title": "editorial"},
	})
	if !res.OK() {
		t.Fatalf("admin create: %s", res)
	}

	// The writer's update is filtered to documents they own: touching
	// the admin's article matches nothing.
	res = app.Core.Call(ctx, "article", "update", &module.Call{
		Env:   &module.Env{Session: writer},
		Query: query.Must(map[string]any{"title": "editorial"}),
		Doc:   map[string]any{"body": "defaced"},
	})
	if res.OK() {
		t.Fatalf("writer updated another owner's article: %s", res)
	}

	res = app.Core.Call(ctx, "article", "update", &module.Call{
		Env:   &module.Env{Session: writer},
		Query: query.Must(map[string]any{"title": "wren's notes"}),
		Doc:   map[string]any{"body": "mine"},
	})
	if !res.OK() {
		t.Fatalf("writer update own article: %s", res)
	}

	// No delete privilege in the writers group.
	res = app.Core.Call(ctx, "article", "delete", &module.Call{
		Env:   &module.Env{Session: writer},
		Query: query.Must(map[string]any{"title": "wren's notes"}),
	})
	if res.OK() || res.Status != 403 {
		t.Fatalf("writer delete = %s, want 403", res)
	}
}

func TestE2E_RestartPersistence(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	app := boot(t, cfg)
	ctx := context.Background()
	admin := sessionFor(t, app, "admin", "e2e-secret")

	res := app.Core.Call(ctx, "article", "create", &module.Call{
		Env: &module.Env{Session: admin},
		Doc: map[string]any{"title": "survivor"},
	})
	if !res.OK() {
		t.Fatalf("create before restart: %s", res)
	}
	app.Shutdown()

	app = boot(t, cfg)
	admin = sessionFor(t, app, "admin", "e2e-secret")

	read := app.Core.Call(ctx, "article", "read", &module.Call{
		Env:   &module.Env{Session: admin},
		Query: query.Must(map[string]any{"title": "survivor"}),
	})
	if !read.OK() || read.Count() != 1 {
		t.Fatalf("read after restart: %s", read)
	}

	// The article counter resumes where it left off.
	res = app.Core.Call(ctx, "article", "create", &module.Call{
		Env: &module.Env{Session: admin},
		Doc: map[string]any{"title": "after restart"},
	})
	if !res.OK() {
		t.Fatalf("create after restart: %s", res)
	}
	codeRead := app.Core.Call(ctx, "article", "read", &module.Call{
		Env:   &module.Env{Session: admin},
		Query: query.Must(map[string]any{"title": "after restart"}),
	})
	code, _ := codeRead.Docs()[0]["code"].(string)
	if !strings.HasSuffix(code, "-2") {
		t.Errorf("counter after restart = %q, want suffix -2", code)
	}
}
