// Package bootstrap wires all dependencies and builds a frozen module
// core: storage driver, runtime context, built-in modules, YAML module
// manifests, and the first-run system documents.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artpar/docbase/adapters/clock"
	"github.com/artpar/docbase/adapters/hasher"
	"github.com/artpar/docbase/adapters/idgen"
	"github.com/artpar/docbase/adapters/memstore"
	"github.com/artpar/docbase/adapters/metrics"
	"github.com/artpar/docbase/adapters/sqlitedoc"
	"github.com/artpar/docbase/config"
	"github.com/artpar/docbase/core/module"
	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/pkg/oid"
	"github.com/artpar/docbase/ports"
)

// App is the assembled application: a frozen core plus the resources it
// owns.
type App struct {
	Logger  zerolog.Logger
	Core    *module.Core
	Metrics *metrics.Collector

	cfg    *config.Config
	holder *config.Holder
	hasher ports.Hasher
	store  io.Closer
}

// New builds the application from configuration. The returned core is
// frozen and seeded; the caller owns Shutdown.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing docbase")

	a := &App{Logger: logger, cfg: cfg, hasher: hasher.Bcrypt{}}

	driver, counters, err := a.openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	var observer module.Observer
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		observer = a.Metrics
		logger.Info().Msg("prometheus metrics enabled")
	}

	core, err := module.New(&module.RuntimeContext{
		Config: module.Config{
			Locales: cfg.App.Locales,
			Locale:  cfg.App.Locale,
			Debug:   cfg.App.Debug,
			Realm:   cfg.App.Realm,
		},
		Log:      logger,
		Clock:    clock.Real{},
		IDs:      idgen.Random{},
		Counters: counters,
		Driver:   driver,
		Metrics:  observer,
	})
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("build core: %w", err)
	}

	for _, mod := range BuiltinModules(a.hasher) {
		if err := core.Register(mod); err != nil {
			a.closeStore()
			return nil, fmt.Errorf("register %s: %w", mod.Name, err)
		}
	}

	if cfg.Modules.Dir != "" {
		mods, err := module.ParseManifestDir(cfg.Modules.Dir)
		if err != nil {
			a.closeStore()
			return nil, fmt.Errorf("load module manifests: %w", err)
		}
		for _, mod := range mods {
			if err := core.Register(mod); err != nil {
				a.closeStore()
				return nil, fmt.Errorf("register manifest module %s: %w", mod.Name, err)
			}
			logger.Info().Str("module", mod.Name).Msg("loaded declarative module")
		}
	}

	if err := core.Freeze(); err != nil {
		a.closeStore()
		return nil, fmt.Errorf("freeze core: %w", err)
	}
	a.Core = core

	if err := a.seed(context.Background(), cfg); err != nil {
		a.closeStore()
		return nil, fmt.Errorf("seed system documents: %w", err)
	}

	logger.Info().
		Int("modules", len(core.Modules())).
		Str("storage", cfg.Storage.Driver).
		Msg("docbase ready")
	return a, nil
}

// Shutdown releases the resources the app owns.
func (a *App) Shutdown() error {
	if a.holder != nil {
		a.holder.Stop()
		a.holder = nil
	}
	err := a.closeStore()
	if err != nil {
		a.Logger.Error().Err(err).Msg("storage close error")
		return err
	}
	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *App) openStorage(cfg config.StorageConfig) (ports.Driver, ports.CounterStore, error) {
	switch cfg.Driver {
	case "memory":
		store := memstore.New()
		a.store = store
		return store, store, nil
	case "sqlite":
		store, err := sqlitedoc.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		a.store = store
		a.Logger.Info().Str("path", cfg.Path).Msg("database initialized")
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// seed creates the first-run system documents: the admin group, the
// admin account, and the default realm. Seeding is idempotent; existing
// documents are re-marked as system, never rewritten.
func (a *App) seed(ctx context.Context, cfg *config.Config) error {
	groupID, err := a.seedGroup(ctx)
	if err != nil {
		return err
	}
	if err := a.seedAdmin(ctx, cfg, groupID); err != nil {
		return err
	}
	if cfg.App.Realm {
		if err := a.seedRealm(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) seedGroup(ctx context.Context) (oid.ID, error) {
	if id, ok := a.findByName(ctx, "group", "admin"); ok {
		a.Core.MarkSystem("group", id)
		return id, nil
	}

	privileges := map[string]any{}
	for _, name := range a.Core.Modules() {
		privileges[name] = []any{"*"}
	}

	res := a.Core.Call(ctx, "group", "create", &module.Call{
		Skip: module.Skips(module.SkipPerm, module.SkipRealm),
		Doc:  map[string]any{"name": "admin", "privileges": privileges},
	})
	if !res.OK() {
		return oid.Nil, fmt.Errorf("create admin group: %s", res)
	}
	id := seededID(res)
	a.Core.MarkSystem("group", id)
	a.Logger.Info().Msg("admin group created")
	return id, nil
}

func (a *App) seedAdmin(ctx context.Context, cfg *config.Config, groupID oid.ID) error {
	if id, ok := a.findByName(ctx, "user", cfg.Admin.Name); ok {
		a.Core.MarkSystem("user", id)
		return nil
	}

	password := cfg.Admin.Password
	if password == "" {
		password = uuid.NewString()
		a.Logger.Warn().
			Str("name", cfg.Admin.Name).
			Str("password", password).
			Msg("generated admin password, change it after first login")
	}
	res := a.Core.Call(ctx, "user", "create", &module.Call{
		Skip: module.Skips(module.SkipPerm, module.SkipRealm),
		Doc: map[string]any{
			"name":     cfg.Admin.Name,
			"password": password,
			"groups":   []any{groupID},
		},
	})
	if !res.OK() {
		return fmt.Errorf("create admin user: %s", res)
	}
	a.Core.MarkSystem("user", seededID(res))
	a.Logger.Info().Str("name", cfg.Admin.Name).Msg("admin account created")
	return nil
}

func (a *App) seedRealm(ctx context.Context) error {
	if id, ok := a.findByName(ctx, "realm", "default"); ok {
		a.Core.MarkSystem("realm", id)
		return nil
	}

	res := a.Core.Call(ctx, "realm", "create", &module.Call{
		Skip: module.Skips(module.SkipPerm, module.SkipRealm),
		Doc:  map[string]any{"name": "default", "title": "Default"},
	})
	if !res.OK() {
		return fmt.Errorf("create default realm: %s", res)
	}
	a.Core.MarkSystem("realm", seededID(res))
	a.Logger.Info().Msg("default realm created")
	return nil
}

func (a *App) findByName(ctx context.Context, moduleName, name string) (oid.ID, bool) {
	res := a.Core.Call(ctx, moduleName, "read", &module.Call{
		Skip:  module.Skips(module.SkipPerm, module.SkipRealm),
		Query: query.Must(map[string]any{"name": name}),
	})
	if !res.OK() || res.Count() == 0 {
		return oid.Nil, false
	}
	return seededID(res), true
}

func seededID(res *module.Result) oid.ID {
	docs := res.Docs()
	if len(docs) == 0 {
		return oid.Nil
	}
	id, _ := docs[0]["_id"].(oid.ID)
	return id
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
