// Package statedb implements the state database (spec §4.2): the
// environment -> EnvironmentState map, its on-disk YAML persistence, and
// the propagation-queue decision procedure that picks which upstream state
// a downstream environment should consume next. The algorithms here are a
// close translation of original_source/src/database.rs, which already
// implements spec.md's FileIdent/propagation-queue design almost exactly;
// Rust's sorted BTreeMap<FileIdent, FileState> becomes a Go map with a
// custom YAML marshaler that sorts keys at encode time, and VecDeque
// becomes a plain slice used as a front-pushed queue.
package statedb

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cepler-io/cepler/internal/hashid"
)

// FileIdent is the transparent `{<source>}/<path>` identifier (spec §3).
// source is either an upstream environment name or the literal "latest".
type FileIdent string

// NewFileIdent builds a FileIdent. source == "" means "latest".
func NewFileIdent(name, source string) FileIdent {
	if source == "" {
		source = "latest"
	}
	return FileIdent("{" + source + "}/" + name)
}

// Name returns the path segment of the identifier.
func (f FileIdent) Name() string {
	_, name := splitFileIdent(string(f))
	return name
}

// Source returns the source-env-or-"latest" segment.
func (f FileIdent) Source() string {
	source, _ := splitFileIdent(string(f))
	return source
}

// Inner returns the full transparent identifier string.
func (f FileIdent) Inner() string { return string(f) }

func splitFileIdent(s string) (source, name string) {
	end := strings.IndexByte(s, '}')
	if end < 0 || !strings.HasPrefix(s, "{") {
		return "", s
	}
	source = s[1:end]
	name = strings.TrimPrefix(s[end+1:], "/")
	return source, name
}

// FileState records what a single file looked like when an environment's
// state was assembled (spec §3).
type FileState struct {
	FileHash   *hashid.FileHash  `yaml:"file_hash,omitempty"`
	Dirty      bool              `yaml:"dirty,omitempty"`
	FromCommit hashid.CommitHash `yaml:"from_commit"`
	Message    string            `yaml:"message"`
}

// String renders the one-line audit form `[<short-ref>] - <message>`,
// matching original_source/src/database.rs's Display impl for FileState.
// The CLI's `ls`/`check` output prints file names and does not use it.
func (fs FileState) String() string {
	return "[" + fs.FromCommit.ShortRef() + "] - " + fs.Message
}

// FileDiff describes one file's change between two DeployState values.
type FileDiff struct {
	Ident        FileIdent
	CurrentState *FileState
	Added        bool
}

// fileMap is map[FileIdent]FileState with deterministic, sorted-by-key YAML
// encoding - the Go analogue of Rust's BTreeMap<FileIdent, FileState>.
type fileMap map[FileIdent]FileState

func (m fileMap) MarshalYAML() (interface{}, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range keys {
		var keyNode, valNode yaml.Node
		if err := keyNode.Encode(k); err != nil {
			return nil, err
		}
		if err := valNode.Encode(m[FileIdent(k)]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &keyNode, &valNode)
	}
	return node, nil
}

func (m *fileMap) UnmarshalYAML(value *yaml.Node) error {
	raw := make(map[string]FileState)
	if err := value.Decode(&raw); err != nil {
		return err
	}
	out := make(fileMap, len(raw))
	for k, v := range raw {
		out[FileIdent(k)] = v
	}
	*m = out
	return nil
}

// DeployState is the assembled view of an environment at one commit
// (spec §3).
type DeployState struct {
	HeadCommit     hashid.CommitHash  `yaml:"head_commit"`
	PropagatedHead *hashid.CommitHash `yaml:"propagated_head,omitempty"`
	AnyDirty       bool               `yaml:"any_dirty,omitempty"`
	Files          fileMap            `yaml:"files"`
}

// NewDeployState constructs an empty state rooted at headCommit.
func NewDeployState(headCommit hashid.CommitHash) *DeployState {
	return &DeployState{HeadCommit: headCommit, Files: fileMap{}}
}

// Set inserts or replaces the FileState for ident.
func (s *DeployState) Set(ident FileIdent, fs FileState) {
	if s.Files == nil {
		s.Files = fileMap{}
	}
	s.Files[ident] = fs
}

// Get returns the FileState for ident, if present.
func (s *DeployState) Get(ident FileIdent) (FileState, bool) {
	fs, ok := s.Files[ident]
	return fs, ok
}

// RecomputeAnyDirty sets AnyDirty to true iff some file is dirty.
func (s *DeployState) RecomputeAnyDirty() {
	for _, fs := range s.Files {
		if fs.Dirty {
			s.AnyDirty = true
			return
		}
	}
	s.AnyDirty = false
}

// FileNames returns the sorted list of file names (spec §4.3 `ls`).
func (s *DeployState) FileNames() []string {
	names := make([]string, 0, len(s.Files))
	for ident := range s.Files {
		names = append(names, ident.Name())
	}
	sort.Strings(names)
	return names
}

// Diff implements DeployState::diff from original_source/src/database.rs
// (spec §4.3): files present only in s are additions, files present in
// both with differing hash or either side dirty are changes, files
// present only in other are removals. Both sides absent (file_hash = nil)
// is not a diff.
func (s *DeployState) Diff(other *DeployState) []FileDiff {
	removed := make(map[FileIdent]bool, len(other.Files))
	for ident := range other.Files {
		removed[ident] = true
	}

	var diffs []FileDiff
	for ident, state := range s.Files {
		delete(removed, ident)
		lastState, ok := other.Files[ident]
		if !ok {
			diffs = append(diffs, FileDiff{Ident: ident, CurrentState: stateOrNil(state), Added: true})
			continue
		}
		if state.FileHash == nil && lastState.FileHash == nil {
			continue
		}
		if state.Dirty || lastState.Dirty || !fileHashEqual(state.FileHash, lastState.FileHash) {
			diffs = append(diffs, FileDiff{
				Ident:        ident,
				CurrentState: stateOrNil(state),
				Added:        lastState.FileHash == nil,
			})
		}
	}
	for ident := range removed {
		diffs = append(diffs, FileDiff{Ident: ident, CurrentState: nil, Added: false})
	}
	return diffs
}

func stateOrNil(fs FileState) *FileState {
	if fs.FileHash == nil {
		return nil
	}
	return &fs
}

func fileHashEqual(a, b *hashid.FileHash) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// EnvironmentState is one environment's full recorded history (spec §3).
// Version counts the total number of `current` replacements this
// environment has ever undergone - spec §4.2 requires
// set_current_environment_state to return "the number of current
// replacements observed to date", which doesn't survive queue pruning, so
// it is tracked as its own persisted counter rather than derived from
// queue length.
type EnvironmentState struct {
	Current          DeployState   `yaml:"current"`
	PropagatedFrom   string        `yaml:"propagated_from,omitempty"`
	PropagationQueue []DeployState `yaml:"propagation_queue,omitempty"`
	Version          int           `yaml:"version,omitempty"`
}
