// Package main is the entry point for docbase.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/artpar/docbase/bootstrap"
	"github.com/artpar/docbase/config"
	"github.com/artpar/docbase/core/module"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "docbase.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	validate := flag.Bool("validate", false, "Validate configuration and module manifests, then exit")
	hotReload := flag.Bool("hot-reload", true, "Enable hot reload of configuration")
	flag.Parse()

	if *showVersion {
		fmt.Printf("docbase %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if *validate {
		os.Exit(runValidate(*configPath))
	}

	var app *bootstrap.App
	var err error
	if *hotReload {
		app, err = bootstrap.NewWithHotReload(*configPath)
	} else {
		var cfg *config.Config
		cfg, err = config.LoadWithFallback(*configPath)
		if err == nil {
			app, err = bootstrap.New(cfg)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runValidate checks the configuration file and, when a manifest
// directory is configured, parses every declarative module in it.
func runValidate(path string) int {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}
	fmt.Printf("Configuration valid\n")
	fmt.Printf("  Storage: %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Printf("  Locales: %s (default %s)\n", strings.Join(cfg.App.Locales, ", "), cfg.App.Locale)

	if cfg.Modules.Dir == "" {
		return 0
	}
	mods, err := module.ParseManifestDir(cfg.Modules.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Module manifests invalid: %v\n", err)
		return 1
	}
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = m.Name
	}
	fmt.Printf("  Modules: %d (%s)\n", len(mods), strings.Join(names, ", "))
	return 0
}
