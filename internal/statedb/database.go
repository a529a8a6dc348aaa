package statedb

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cepler-io/cepler/internal/config"
	"github.com/cepler-io/cepler/internal/hashid"
)

// stateDirName is the fixed top-level directory name (spec §4.2).
const stateDirName = ".cepler"

// FileContentReader is the minimal repository capability open_env_from_commit
// needs: reading one file's bytes as of a given commit. Declared here
// (rather than importing internal/gitrepo) so statedb does not depend on the
// repository adapter - a *gitrepo.Repo already satisfies it.
type FileContentReader interface {
	GetFileContent(commit hashid.CommitHash, path string) ([]byte, bool, error)
}

// StateDirFromConfig mirrors Database::state_dir_from_config: the state
// directory sits next to the config file, under .cepler/<scope>.
func StateDirFromConfig(scope, pathToConfig string) string {
	dir := filepath.Dir(pathToConfig)
	if dir == "." || dir == "" {
		return filepath.Join(stateDirName, scope)
	}
	return filepath.Join(dir, stateDirName, scope)
}

// Database owns the environment -> EnvironmentState map and its on-disk
// YAML representation (spec §4.2).
type Database struct {
	environments map[string]*EnvironmentState
	ignoreQueue  bool
	StateDir     string
}

// Open loads every <name>.state file under the scope directory derived from
// pathToConfig. A missing directory yields an empty database.
func Open(scope, pathToConfig string, ignoreQueue bool) (*Database, error) {
	dir := StateDirFromConfig(scope, pathToConfig)
	db := &Database{environments: map[string]*EnvironmentState{}, ignoreQueue: ignoreQueue, StateDir: dir}

	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return db, nil
		}
		return nil, errors.Wrap(err, "statedb: read state dir")
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".state") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".state")
		data, err := ioutil.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "statedb: read %s", entry.Name())
		}
		var envState EnvironmentState
		if err := yaml.Unmarshal(data, &envState); err != nil {
			return nil, errors.Wrapf(err, "statedb: parse %s", entry.Name())
		}
		db.environments[name] = &envState
	}
	return db, nil
}

// OpenEnvFromCommit builds a scoped view containing only envConfig's
// current on-disk state plus its upstream's state as read from commit's
// tree (spec §4.2, "opening with history-from-commit"). Used by the
// back-dating walk to evaluate "would this have been equivalent in the
// past?" without mutating the live database.
func OpenEnvFromCommit(
	pathToConfig string,
	ignoreQueue bool,
	scope string,
	envConfig config.EnvironmentConfig,
	commit hashid.CommitHash,
	repo FileContentReader,
	live *Database,
) (*Database, error) {
	dir := StateDirFromConfig(scope, pathToConfig)
	db := &Database{environments: map[string]*EnvironmentState{}, ignoreQueue: ignoreQueue, StateDir: dir}

	if envState, ok := live.environments[envConfig.Name]; ok {
		cloned := *envState
		db.environments[envConfig.Name] = &cloned
	}
	if envConfig.HasUpstream() {
		envFile := filepath.Join(dir, envConfig.PropagatedFrom+".state")
		data, ok, err := repo.GetFileContent(commit, filepath.ToSlash(envFile))
		if err != nil {
			return nil, err
		}
		if ok {
			var upstream EnvironmentState
			if err := yaml.Unmarshal(data, &upstream); err != nil {
				return nil, errors.Wrapf(err, "statedb: parse %s at commit", envConfig.PropagatedFrom)
			}
			db.environments[envConfig.PropagatedFrom] = &upstream
		}
	}
	return db, nil
}

// GetCurrentState returns env's current DeployState, if any.
func (db *Database) GetCurrentState(env string) *DeployState {
	if es, ok := db.environments[env]; ok {
		return &es.Current
	}
	return nil
}

// LastVersion returns the number of times env's current state has been
// replaced so far (0 if the environment has never been recorded).
func (db *Database) LastVersion(env string) int {
	if es, ok := db.environments[env]; ok {
		return es.Version
	}
	return 0
}

// SetCurrentEnvironmentState replaces env's current state, pushes the
// displaced value to the front of its propagation queue, prunes the queue,
// persists, and returns the state-file path to stage+commit and the new
// version number (spec §4.2). The path is StateDir joined with
// "<name>.state", so it is relative only when StateDir is; it is not made
// relative to the repository root.
func (db *Database) SetCurrentEnvironmentState(name string, propagatedFrom string, newState DeployState) (string, int, error) {
	newState.RecomputeAnyDirty()
	relPath := filepath.Join(db.StateDir, name+".state")

	es, ok := db.environments[name]
	if !ok {
		es = &EnvironmentState{}
		db.environments[name] = es
	} else {
		es.PropagationQueue = append([]DeployState{es.Current}, es.PropagationQueue...)
	}
	es.Current = newState
	es.PropagatedFrom = propagatedFrom
	es.Version++

	db.pruneQueue(name)
	if err := db.persist(); err != nil {
		return "", 0, err
	}
	return relPath, es.Version, nil
}

// pruneQueue implements DbState::prune_propagation_queue: after a
// replacement for env N, retain only the minimal prefix of N's queue that
// every downstream environment's propagated_head still needs (spec §4.2).
func (db *Database) pruneQueue(name string) {
	toPrune := db.environments[name]
	if toPrune == nil {
		return
	}

	keep := 0
	for downName, downState := range db.environments {
		if downName == name || downState.PropagatedFrom != name {
			continue
		}
		head := downState.Current.PropagatedHead
		if head == nil {
			continue
		}
		if head.Equal(toPrune.Current.HeadCommit) {
			continue
		}
		for idx := keep; idx < len(toPrune.PropagationQueue); idx++ {
			if toPrune.PropagationQueue[idx].HeadCommit.Equal(*head) {
				if idx+1 > keep {
					keep = idx + 1
				}
				break
			}
		}
	}
	if keep < len(toPrune.PropagationQueue) {
		toPrune.PropagationQueue = toPrune.PropagationQueue[:keep]
	}
}

// GetTargetPropagatedState implements the core decision procedure
// (spec §4.2) that turns the propagation queue into a single target state.
func (db *Database) GetTargetPropagatedState(env string, envIgnoreQueue bool, upstream string, propagatedPatterns []string) *DeployState {
	envState, envOK := db.environments[env]
	fromState, fromOK := db.environments[upstream]

	switch {
	case !envOK && !fromOK:
		return nil
	case !envOK && fromOK:
		return &fromState.Current
	case envOK && !fromOK:
		return nil
	}

	fromHead := envState.Current.PropagatedHead
	if fromHead == nil {
		return &fromState.Current
	}
	if db.ignoreQueue || envIgnoreQueue || fromHead.Equal(fromState.Current.HeadCommit) || len(fromState.PropagationQueue) == 0 {
		return &fromState.Current
	}

	ret := &fromState.Current
	for i := range fromState.PropagationQueue {
		q := &fromState.PropagationQueue[i]
		if q.HeadCommit.Equal(*fromHead) {
			break
		}
		matched := false
		for ident, qFile := range q.Files {
			name := ident.Name()
			if !config.MatchAny(propagatedPatterns, name) {
				continue
			}
			if existing, ok := findByName(envState.Current.Files, name); ok {
				if !fileHashEqual(existing.FileHash, qFile.FileHash) {
					ret = q
					matched = true
					break
				}
			} else {
				ret = q
				matched = true
				break
			}
		}
		if matched {
			continue
		}
	}
	return ret
}

func findByName(files fileMap, name string) (FileState, bool) {
	for ident, fs := range files {
		if ident.Name() == name {
			return fs, true
		}
	}
	return FileState{}, false
}

// persist implements Database::persist: the directory is removed and
// recreated, then one <name>.state file is written per environment.
// Not crash-safe by design (spec §9) - the surrounding Git commit is the
// real atomicity boundary (spec §4.1's commit_state_file).
func (db *Database) persist() error {
	_ = os.RemoveAll(db.StateDir)
	if err := os.MkdirAll(db.StateDir, 0o755); err != nil {
		return errors.Wrap(err, "statedb: create state dir")
	}

	names := make([]string, 0, len(db.environments))
	for name := range db.environments {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := yaml.Marshal(db.environments[name])
		if err != nil {
			return errors.Wrapf(err, "statedb: marshal %s", name)
		}
		data = append(data, '\n')
		path := filepath.Join(db.StateDir, name+".state")
		if err := ioutil.WriteFile(path, data, 0o644); err != nil {
			return errors.Wrapf(err, "statedb: write %s", name)
		}
	}
	return nil
}
