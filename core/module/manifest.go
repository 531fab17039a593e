package module

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/docbase/core/attr"
	"github.com/artpar/docbase/core/permission"
	"github.com/artpar/docbase/ports"
)

// Manifest is the declarative YAML form of a module: everything except
// hooks and custom handlers, which stay in code.
type Manifest struct {
	Name        string                     `yaml:"name"`
	Collection  string                     `yaml:"collection"`
	Attrs       map[string]AttrSpec        `yaml:"attrs"`
	UniqueAttrs [][]string                 `yaml:"unique_attrs"`
	Extns       map[string]ExtnSpec        `yaml:"extns"`
	Privileges  []string                   `yaml:"privileges"`
	Methods     map[string]MethodSpec      `yaml:"methods"`
	Cache       []CacheSpec                `yaml:"cache"`
	Diff        *DiffManifest              `yaml:"diff"`
	Proxy       string                     `yaml:"proxy"`
}

// AttrSpec declares one attribute: a kind plus its arguments. List and
// union members nest recursively.
type AttrSpec struct {
	Kind    string         `yaml:"kind"`
	Args    map[string]any `yaml:"args"`
	List    []AttrSpec     `yaml:"list"`
	Union   []AttrSpec     `yaml:"union"`
	Default any            `yaml:"default"`
	Counter string         `yaml:"counter"`
}

type ExtnSpec struct {
	Module string   `yaml:"module"`
	Attrs  []string `yaml:"attrs"`
	Force  bool     `yaml:"force"`
}

type MethodSpec struct {
	Permissions []PermSpec            `yaml:"permissions"`
	QueryArgs   []map[string]AttrSpec `yaml:"query_args"`
	DocArgs     []map[string]AttrSpec `yaml:"doc_args"`
	Get         bool                  `yaml:"get"`
	Post        bool                  `yaml:"post"`
	Watch       bool                  `yaml:"watch"`
}

type PermSpec struct {
	Privilege string           `yaml:"privilege"`
	Query     []map[string]any `yaml:"query"`
	Doc       []map[string]any `yaml:"doc"`
}

type CacheSpec struct {
	// Period is a Go duration string such as "5m"; empty means no expiry.
	Period string `yaml:"period"`
}

type DiffManifest struct {
	Enabled bool     `yaml:"enabled"`
	Exclude []string `yaml:"exclude"`
}

// ParseManifestFile parses one module manifest from a YAML file.
func ParseManifestFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest parses a module manifest from YAML bytes and builds the
// module definition, leaving it unregistered.
func ParseManifest(data []byte) (*Module, error) {
	var man Manifest
	if err := yaml.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	mod, err := man.build()
	if err != nil {
		return nil, fmt.Errorf("build module %q: %w", man.Name, err)
	}
	return mod, nil
}

// ParseManifestDir parses every .yaml/.yml manifest in a directory,
// recursing into subdirectories.
func ParseManifestDir(dir string) ([]*Module, error) {
	var modules []*Module
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			sub, err := ParseManifestDir(path)
			if err != nil {
				return nil, err
			}
			modules = append(modules, sub...)
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		mod, err := ParseManifestFile(path)
		if err != nil {
			return nil, err
		}
		modules = append(modules, mod)
	}
	return modules, nil
}

func (man *Manifest) build() (*Module, error) {
	if man.Name == "" {
		return nil, fmt.Errorf("manifest requires a name")
	}
	mod := &Module{
		Name:        man.Name,
		Collection:  man.Collection,
		Attrs:       map[string]*attr.Type{},
		UniqueAttrs: man.UniqueAttrs,
		Extns:       map[string]ports.Extn{},
		Privileges:  man.Privileges,
		Methods:     map[string]*Method{},
		Proxy:       man.Proxy,
	}
	for name, spec := range man.Attrs {
		t, err := spec.toType()
		if err != nil {
			return nil, fmt.Errorf("attr %q: %w", name, err)
		}
		mod.Attrs[name] = t
	}
	for name, spec := range man.Extns {
		mod.Extns[name] = ports.Extn{Module: spec.Module, Attrs: spec.Attrs, Force: spec.Force}
	}
	for name, spec := range man.Methods {
		method, err := spec.toMethod()
		if err != nil {
			return nil, fmt.Errorf("method %q: %w", name, err)
		}
		mod.Methods[name] = method
	}
	for _, spec := range man.Cache {
		rule := CacheRule{}
		if spec.Period != "" {
			period, err := time.ParseDuration(spec.Period)
			if err != nil {
				return nil, fmt.Errorf("cache period %q: %w", spec.Period, err)
			}
			rule.Period = period
		}
		mod.CacheRules = append(mod.CacheRules, rule)
	}
	if man.Diff != nil {
		mod.Diff = DiffSpec{Enabled: man.Diff.Enabled, Exclude: man.Diff.Exclude}
	}
	return mod, nil
}

func (spec AttrSpec) toType() (*attr.Type, error) {
	kind := attr.Kind(strings.ToUpper(spec.Kind))
	args := map[string]any{}
	for k, v := range spec.Args {
		args[k] = v
	}
	if len(spec.List) > 0 {
		members, err := toTypes(spec.List)
		if err != nil {
			return nil, err
		}
		args[attr.ArgList] = members
	}
	if len(spec.Union) > 0 {
		members, err := toTypes(spec.Union)
		if err != nil {
			return nil, err
		}
		args[attr.ArgUnion] = members
	}
	t, err := attr.New(kind, args)
	if err != nil {
		return nil, err
	}
	if spec.Counter != "" {
		t = t.WithCounter(spec.Counter)
	} else if spec.Default != nil {
		t = t.WithDefault(spec.Default)
	}
	return t, nil
}

func toTypes(specs []AttrSpec) ([]*attr.Type, error) {
	out := make([]*attr.Type, len(specs))
	for i, spec := range specs {
		t, err := spec.toType()
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (spec MethodSpec) toMethod() (*Method, error) {
	method := &Method{Get: spec.Get, Post: spec.Post, Watch: spec.Watch}
	for _, p := range spec.Permissions {
		method.Permissions = append(method.Permissions, permission.Rule{
			Privilege: p.Privilege,
			Query:     p.Query,
			Doc:       p.Doc,
		})
	}
	var err error
	if method.QueryArgs, err = toArgSets(spec.QueryArgs); err != nil {
		return nil, err
	}
	if method.DocArgs, err = toArgSets(spec.DocArgs); err != nil {
		return nil, err
	}
	return method, nil
}

func toArgSets(sets []map[string]AttrSpec) ([]map[string]*attr.Type, error) {
	out := make([]map[string]*attr.Type, 0, len(sets))
	for _, set := range sets {
		converted := map[string]*attr.Type{}
		for name, spec := range set {
			t, err := spec.toType()
			if err != nil {
				return nil, fmt.Errorf("arg %q: %w", name, err)
			}
			converted[name] = t
		}
		out = append(out, converted)
	}
	return out, nil
}
