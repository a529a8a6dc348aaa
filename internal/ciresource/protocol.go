// Package ciresource implements the Concourse CI resource wire protocol
// (spec §6): JSON on stdin/stdout, one object per invocation. It is a thin
// shell over internal/workspace, grounded on
// original_source/src/concourse/{check,ci_in,ci_out}.rs's clone-or-pull-
// into-cache-dir orchestration. Handlebars pipeline generation and the
// generic `hook` subcommand from the same source tree are not carried
// forward - they are not named anywhere in spec.md (see SPEC_FULL.md §C).
package ciresource

import (
	"encoding/json"
	"io"
)

// Source is the resource's `source:` configuration block (spec §6).
type Source struct {
	URI         string `json:"uri"`
	Branch      string `json:"branch"`
	GatesBranch string `json:"gates_branch,omitempty"`
	GatesFile   string `json:"gates_file,omitempty"`
	PrivateKey  string `json:"private_key"`
	Environment string `json:"environment,omitempty"`
	IgnoreQueue bool   `json:"ignore_queue,omitempty"`
	Config      string `json:"config,omitempty"`
}

// configPath returns the path to the cepler config file relative to the
// repository root, defaulting to cepler.yml.
func (s Source) configPath() string {
	if s.Config == "" {
		return "cepler.yml"
	}
	return s.Config
}

// Version is one entry of the resource's version history: the full head
// commit hash that was recorded (spec §6, "trigger carries the full
// head_commit").
type Version struct {
	Trigger string `json:"trigger"`
	Version string `json:"version,omitempty"`
}

// Metadata is one key/value pair surfaced to the pipeline after in/out.
type Metadata struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CheckRequest is `check`'s stdin payload.
type CheckRequest struct {
	Source  Source   `json:"source"`
	Version *Version `json:"version,omitempty"`
}

// CheckResponse is `check`'s stdout payload: an ordered list of versions.
type CheckResponse []Version

// InParams is `in`'s params block.
type InParams struct {
	Prepare bool `json:"prepare,omitempty"`
}

// InRequest is `in`'s stdin payload.
type InRequest struct {
	Source  Source   `json:"source"`
	Version Version  `json:"version"`
	Params  InParams `json:"params,omitempty"`
}

// OutParams is `out`'s params block.
type OutParams struct {
	Repository  string `json:"repository"`
	Environment string `json:"environment,omitempty"`
}

// OutRequest is `out`'s stdin payload.
type OutRequest struct {
	Source Source    `json:"source"`
	Params OutParams `json:"params"`
}

// InOutResponse is the common stdout shape for `in` and `out`.
type InOutResponse struct {
	Version  Version    `json:"version"`
	Metadata []Metadata `json:"metadata,omitempty"`
}

func decode(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}
