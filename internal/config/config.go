// Package config implements the configuration surface (spec §6): the YAML
// document describing environments, propagation relations, and file glob
// sets, plus the separate gates file. Schema and load-time validation are
// authoritative per spec.md; the struct shape generalizes
// original_source/src/config.rs's Config/Environment (which only carried
// head_files) to the full key set.
package config

import (
	"io/ioutil"
	"os"
	"path"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultScope is used when the top-level `deployment` key is absent.
const DefaultScope = "default"

// rawConfig mirrors the YAML document shape exactly (spec §6).
type rawConfig struct {
	Deployment   string                  `yaml:"deployment"`
	Environments map[string]rawEnvConfig `yaml:"environments"`
}

type rawEnvConfig struct {
	Passed       string   `yaml:"passed"`
	Propagated   []string `yaml:"propagated"`
	Latest       []string `yaml:"latest"`
	IgnoreQueue  bool     `yaml:"ignore_queue"`
}

// EnvironmentConfig is one environment's resolved configuration (spec §3).
type EnvironmentConfig struct {
	Name            string
	IgnoreQueue     bool
	PropagatedFrom  string // "" when the environment has no upstream
	PropagatedFiles []string
	HeadFiles       []string
}

// HasUpstream reports whether this environment's `passed` relation is set.
func (e EnvironmentConfig) HasUpstream() bool { return e.PropagatedFrom != "" }

// Config is the fully loaded, validated configuration document.
type Config struct {
	Scope        string
	Environments map[string]EnvironmentConfig
}

// Load reads and validates a configuration file at path.
func Load(filePath string) (*Config, error) {
	data, err := ioutil.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "config: read file")
	}
	return Parse(data)
}

// Parse validates and builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "config: parse yaml")
	}

	scope := raw.Deployment
	if scope == "" {
		scope = DefaultScope
	}

	cfg := &Config{
		Scope:        scope,
		Environments: make(map[string]EnvironmentConfig, len(raw.Environments)),
	}
	for name, env := range raw.Environments {
		cfg.Environments[name] = EnvironmentConfig{
			Name:            name,
			IgnoreQueue:     env.IgnoreQueue,
			PropagatedFrom:  env.Passed,
			PropagatedFiles: env.Propagated,
			HeadFiles:       env.Latest,
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks that every `passed` relation resolves to a defined
// environment and that no cycle exists among `passed` relations (spec §9).
func (c *Config) validate() error {
	for name, env := range c.Environments {
		if !env.HasUpstream() {
			continue
		}
		if _, ok := c.Environments[env.PropagatedFrom]; !ok {
			return &UpstreamNotFoundError{Environment: name, Upstream: env.PropagatedFrom}
		}
	}
	for name := range c.Environments {
		if err := c.checkAcyclic(name, make(map[string]bool)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) checkAcyclic(name string, visiting map[string]bool) error {
	if visiting[name] {
		return &CyclicPassedError{Environment: name}
	}
	env, ok := c.Environments[name]
	if !ok || !env.HasUpstream() {
		return nil
	}
	visiting[name] = true
	return c.checkAcyclic(env.PropagatedFrom, visiting)
}

// Environment looks up a single environment's configuration.
func (c *Config) Environment(name string) (EnvironmentConfig, bool) {
	env, ok := c.Environments[name]
	return env, ok
}

// MatchAny reports whether path matches any of the given glob patterns
// using cepler's glob semantics (spec §4.3): case-sensitive, `*` never
// crosses `/`, a leading dot is literal. path.Match already implements
// exactly this - no third-party glob library appears anywhere in the
// example pack, so the standard library is used directly here.
func MatchAny(patterns []string, filePath string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, filePath); ok {
			return true
		}
	}
	return false
}

// Gates is the flat env -> commit-hash-or-"HEAD" mapping (spec §6).
type Gates map[string]string

// LoadGates reads a gates file. A missing file is not an error - it maps to
// an empty Gates (every environment then has no gate, i.e. reads HEAD).
func LoadGates(filePath string) (Gates, error) {
	data, err := ioutil.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Gates{}, nil
		}
		return nil, errors.Wrap(err, "config: read gates file")
	}
	var gates Gates
	if err := yaml.Unmarshal(data, &gates); err != nil {
		return nil, errors.Wrap(err, "config: parse gates yaml")
	}
	if gates == nil {
		gates = Gates{}
	}
	return gates, nil
}

// Gate returns the gate for env, or "" meaning HEAD (no gate).
func (g Gates) Gate(env string) string {
	v, ok := g[env]
	if !ok || v == "HEAD" {
		return ""
	}
	return v
}
