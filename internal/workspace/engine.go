// Package workspace implements the workspace engine (spec §4.3): assembling
// a DeployState for an environment at a given gate, diffing it against what
// is on record, materializing the workspace for downstream tooling, and
// driving recording. The overall shape (small methods on one Engine type,
// plain struct returns) follows original_source/src/workspace.rs; that
// revision predates back-dating, ls, and reproduce, so those three are
// built directly from spec.md §4.3's algorithm description in the same
// idiom.
package workspace

import (
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cepler-io/cepler/internal/config"
	"github.com/cepler-io/cepler/internal/gitrepo"
	"github.com/cepler-io/cepler/internal/hashid"
	"github.com/cepler-io/cepler/internal/statedb"
)

// StateId identifies one recorded or about-to-be-recorded deployment.
type StateId struct {
	HeadCommit hashid.CommitHash
	Version    int
}

// Engine ties the repository adapter, state database, and configuration
// together to assemble and record deployments for one cepler.yml.
type Engine struct {
	Repo         *gitrepo.Repo
	DB           *statedb.Database
	Config       *config.Config
	PathToConfig string
	IgnoreQueue  bool // global --ignore-queue override, same value the DB was opened with
	Log          *zap.SugaredLogger
}

// New builds an Engine against an already-open repository, config, and
// database triple (spec §4.3). ignoreQueue must match the value db was
// opened with.
func New(repo *gitrepo.Repo, db *statedb.Database, cfg *config.Config, pathToConfig string, ignoreQueue bool, log *zap.SugaredLogger) *Engine {
	return &Engine{Repo: repo, DB: db, Config: cfg, PathToConfig: pathToConfig, IgnoreQueue: ignoreQueue, Log: log}
}

// ignoreList returns the paths the engine never treats as environment
// content, regardless of glob config (spec §4.3): the config file itself,
// every file under the state directory, .git, and .gitignore.
func (e *Engine) ignoreList() []string {
	return []string{
		filepath.ToSlash(e.PathToConfig),
		filepath.ToSlash(e.DB.StateDir) + "/*",
		".git/*",
		".gitignore",
	}
}

func (e *Engine) isIgnored(path string) bool {
	return config.MatchAny(e.ignoreList(), path)
}

// constructEnvState implements "Constructing a DeployState" (spec §4.3).
// db is passed explicitly (rather than always e.DB) so the back-dating walk
// can reuse this against a scoped, commit-rooted database view.
func constructEnvState(repo *gitrepo.Repo, db *statedb.Database, ignoreList []string, envCfg config.EnvironmentConfig, commit hashid.CommitHash, recording bool) (*statedb.DeployState, error) {
	s := statedb.NewDeployState(commit)

	if envCfg.HasUpstream() {
		upstream := db.GetTargetPropagatedState(envCfg.Name, envCfg.IgnoreQueue, envCfg.PropagatedFrom, envCfg.PropagatedFiles)
		if upstream != nil {
			head := upstream.HeadCommit
			s.PropagatedHead = &head

			for ident, fs := range upstream.Files {
				name := ident.Name()
				if !config.MatchAny(envCfg.PropagatedFiles, name) {
					continue
				}
				newIdent := statedb.NewFileIdent(name, envCfg.PropagatedFrom)
				inherited := fs
				if recording {
					diskHash, found, err := repo.HashFile(name)
					if err != nil {
						return nil, err
					}
					entry := statedb.FileState{FromCommit: inherited.FromCommit, Message: inherited.Message}
					if !found {
						entry.Dirty = true
					} else {
						entry.FileHash = &diskHash
						entry.Dirty = !fileHashEqualPtr(&diskHash, inherited.FileHash)
					}
					s.Set(newIdent, entry)
				} else {
					s.Set(newIdent, statedb.FileState{
						FileHash:   inherited.FileHash,
						Dirty:      false,
						FromCommit: inherited.FromCommit,
						Message:    inherited.Message,
					})
				}
			}
		}
	}

	var walkErr error
	err := repo.AllFiles(commit, func(treeHash hashid.FileHash, path string) error {
		if !config.MatchAny(envCfg.HeadFiles, path) || config.MatchAny(ignoreList, path) {
			return nil
		}
		fromCommit, message, err := repo.FindLastChangedCommit(path, commit)
		if err != nil {
			return err
		}
		ident := statedb.NewFileIdent(path, "")
		if recording {
			diskHash, found, err := repo.HashFile(path)
			if err != nil {
				return err
			}
			entry := statedb.FileState{FromCommit: fromCommit, Message: message}
			if !found {
				entry.Dirty = true
			} else {
				entry.FileHash = &diskHash
				entry.Dirty = !diskHash.Equal(treeHash)
			}
			s.Set(ident, entry)
		} else {
			h := treeHash
			s.Set(ident, statedb.FileState{FileHash: &h, Dirty: false, FromCommit: fromCommit, Message: message})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, walkErr
	}

	s.RecomputeAnyDirty()
	return s, nil
}

func fileHashEqualPtr(a, b *hashid.FileHash) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// backdate implements "Back-dating the head commit" (spec §4.3): walk
// ancestors of commit, and whenever an ancestor's reconstructed state diffs
// empty against the current best, adopt it as the new best and continue;
// stop at the first ancestor that differs (or whose config/environment has
// gone away - see DESIGN.md's Open Question resolution for this case).
func (e *Engine) backdate(best *statedb.DeployState, envCfg config.EnvironmentConfig, commit hashid.CommitHash) (*statedb.DeployState, error) {
	ignoreList := e.ignoreList()

	err := e.Repo.WalkCommitsBefore(commit, func(candidate hashid.CommitHash) (bool, error) {
		data, ok, err := e.Repo.GetFileContent(candidate, e.PathToConfig)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		candidateCfg, err := config.Parse(data)
		if err != nil {
			return false, nil // unparsable historical config - stop, don't fail the whole operation
		}
		candidateEnvCfg, ok := candidateCfg.Environment(envCfg.Name)
		if !ok {
			// The environment did not exist at this point in history. Treated
			// as a non-match rather than silently skipped past (spec §9).
			return false, nil
		}

		scopedDB, err := statedb.OpenEnvFromCommit(e.PathToConfig, e.IgnoreQueue, candidateCfg.Scope, candidateEnvCfg, candidate, e.Repo, e.DB)
		if err != nil {
			return false, err
		}

		candidateState, err := constructEnvState(e.Repo, scopedDB, ignoreList, candidateEnvCfg, candidate, false)
		if err != nil {
			return false, err
		}

		if len(best.Diff(candidateState)) != 0 {
			return false, nil
		}
		best = candidateState
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return best, nil
}

// Ls implements spec §4.3's `ls`: the sorted list of file names in the
// assembled state at env's current gate.
func (e *Engine) Ls(envName string) ([]string, error) {
	s, _, err := e.assemble(envName, false)
	if err != nil {
		return nil, err
	}
	return s.FileNames(), nil
}

// Check implements spec §4.3's `check`: nil diffs (len 0) and a nil StateId
// when the assembled state matches what is on record; otherwise the next
// StateId and the diffs against the current state.
func (e *Engine) Check(envName string) (*StateId, []statedb.FileDiff, error) {
	s, envCfg, err := e.assemble(envName, false)
	if err != nil {
		return nil, nil, err
	}
	if envCfg.HasUpstream() {
		if e.DB.GetCurrentState(envCfg.PropagatedFrom) == nil {
			return nil, nil, &UpstreamNotDeployedError{Environment: envCfg.PropagatedFrom}
		}
	}

	current := e.DB.GetCurrentState(envName)
	if current != nil && len(s.Diff(current)) == 0 {
		return nil, nil, nil
	}

	var diffs []statedb.FileDiff
	if current != nil {
		diffs = s.Diff(current)
	} else {
		diffs = s.Diff(statedb.NewDeployState(hashid.CommitHash{}))
	}
	return &StateId{HeadCommit: s.HeadCommit, Version: e.DB.LastVersion(envName) + 1}, diffs, nil
}

// Prepare implements spec §4.3's `prepare`: materialize the workspace for
// env - checkout the gate's head files, clear any stale propagated files,
// then check out every upstream-target file the environment propagates.
func (e *Engine) Prepare(envName string, forceClean bool) error {
	envCfg, ok := e.Config.Environment(envName)
	if !ok {
		return &EnvNotFoundError{Environment: envName}
	}
	ignoreList := e.ignoreList()

	include := func(path string) bool { return config.MatchAny(envCfg.HeadFiles, path) }
	ignore := func(path string) bool { return config.MatchAny(ignoreList, path) }
	if err := e.Repo.CheckoutGate(include, ignore, forceClean); err != nil {
		return err
	}

	stalePropagated := func(path string) bool {
		return config.MatchAny(envCfg.PropagatedFiles, path) &&
			!config.MatchAny(envCfg.HeadFiles, path) &&
			!config.MatchAny(ignoreList, path)
	}
	if err := e.Repo.RemovePropagatedFiles(stalePropagated); err != nil {
		return err
	}

	if envCfg.HasUpstream() {
		target := e.DB.GetTargetPropagatedState(envName, envCfg.IgnoreQueue, envCfg.PropagatedFrom, envCfg.PropagatedFiles)
		if target != nil {
			for ident, fs := range target.Files {
				name := ident.Name()
				if !config.MatchAny(envCfg.PropagatedFiles, name) || config.MatchAny(envCfg.HeadFiles, name) {
					continue
				}
				if err := e.Repo.CheckoutFileFrom(name, fs.FromCommit); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Reproduce implements spec §4.3's `reproduce`: replay the currently
// recorded state file-by-file from each file's own from_commit.
func (e *Engine) Reproduce(envName string, forceClean bool) (*StateId, error) {
	current := e.DB.GetCurrentState(envName)
	if current == nil {
		return nil, errors.Errorf("workspace: environment %q has no recorded state", envName)
	}
	if forceClean {
		noop := func(string) bool { return false }
		ignoreList := e.ignoreList()
		ignore := func(path string) bool { return config.MatchAny(ignoreList, path) }
		if err := e.Repo.CheckoutGate(noop, ignore, true); err != nil {
			return nil, err
		}
	}
	for ident, fs := range current.Files {
		if err := e.Repo.CheckoutFileFrom(ident.Name(), fs.FromCommit); err != nil {
			return nil, err
		}
	}
	return &StateId{HeadCommit: current.HeadCommit, Version: e.DB.LastVersion(envName)}, nil
}

// RecordEnv implements spec §4.3's `record_env`: assemble a state in
// recording mode, push it through the database, then optionally commit,
// hard-reset, and push the result.
func (e *Engine) RecordEnv(envName string, commit, reset, push bool, gitBranch, privateKey string) (*StateId, []statedb.FileDiff, error) {
	envCfg, ok := e.Config.Environment(envName)
	if !ok {
		return nil, nil, &EnvNotFoundError{Environment: envName}
	}

	gateCommit, err := e.Repo.GateCommitHash()
	if err != nil {
		return nil, nil, err
	}

	s, err := constructEnvState(e.Repo, e.DB, e.ignoreList(), envCfg, gateCommit, true)
	if err != nil {
		return nil, nil, err
	}

	previous := e.DB.GetCurrentState(envName)
	var diffs []statedb.FileDiff
	if previous != nil {
		diffs = s.Diff(previous)
	} else {
		diffs = s.Diff(statedb.NewDeployState(hashid.CommitHash{}))
	}

	relPath, version, err := e.DB.SetCurrentEnvironmentState(envName, envCfg.PropagatedFrom, *s)
	if err != nil {
		return nil, nil, err
	}

	if commit {
		if err := e.Repo.CommitStateFile(relPath); err != nil {
			return nil, nil, err
		}
	}
	if reset {
		if err := e.Repo.CheckoutHead(); err != nil {
			return nil, nil, err
		}
	}
	if push {
		if err := e.Repo.Push(gitBranch, privateKey); err != nil {
			return nil, nil, err
		}
	}

	return &StateId{HeadCommit: s.HeadCommit, Version: version}, diffs, nil
}

// assemble constructs env's state at its current gate in non-recording
// mode and then attempts to back-date its head commit.
func (e *Engine) assemble(envName string, recording bool) (*statedb.DeployState, config.EnvironmentConfig, error) {
	envCfg, ok := e.Config.Environment(envName)
	if !ok {
		return nil, config.EnvironmentConfig{}, &EnvNotFoundError{Environment: envName}
	}

	gateCommit, err := e.Repo.GateCommitHash()
	if err != nil {
		return nil, envCfg, err
	}

	s, err := constructEnvState(e.Repo, e.DB, e.ignoreList(), envCfg, gateCommit, recording)
	if err != nil {
		return nil, envCfg, err
	}

	if !recording {
		s, err = e.backdate(s, envCfg, gateCommit)
		if err != nil {
			return nil, envCfg, errors.Wrap(err, "workspace: back-dating")
		}
	}
	return s, envCfg, nil
}
