package ciresource

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cepler-io/cepler/internal/config"
	"github.com/cepler-io/cepler/internal/gitrepo"
	"github.com/cepler-io/cepler/internal/statedb"
	"github.com/cepler-io/cepler/internal/workspace"
)

// cacheDir returns the directory the resource clones/pulls the repository
// into - one fixed path per TMPDIR, matching check.rs's
// "$TMPDIR/cepler-repo-cache" cache-and-reuse strategy.
func cacheDir() string {
	tmp := os.Getenv("TMPDIR")
	if tmp == "" {
		tmp = os.TempDir()
	}
	return filepath.Join(tmp, "cepler-repo-cache")
}

// cloneOrPull opens the cached working copy for source, cloning it fresh
// if the cache directory is empty or absent, otherwise pulling the latest
// branch state - the orchestration original_source/src/concourse/check.rs
// performs before ever touching the workspace engine.
func cloneOrPull(source Source, log *zap.SugaredLogger) (*gitrepo.Repo, string, error) {
	dir := cacheDir()
	empty := true
	if entries, err := os.ReadDir(dir); err == nil {
		empty = len(entries) == 0
	}

	if empty {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, "", errors.Wrap(err, "ciresource: create cache dir")
		}
		repo, err := gitrepo.Clone(source.URI, source.Branch, source.PrivateKey, dir, log)
		if err != nil {
			return nil, "", errors.Wrap(err, "ciresource: clone")
		}
		return repo, dir, nil
	}

	repo, err := gitrepo.Open(dir, "", log)
	if err != nil {
		return nil, "", errors.Wrap(err, "ciresource: open cache dir")
	}
	if err := repo.Pull(source.Branch, source.PrivateKey); err != nil {
		return nil, "", errors.Wrap(err, "ciresource: pull")
	}
	return repo, dir, nil
}

// openEngine wires a freshly cloned/pulled repo, its config, and its state
// database into a workspace.Engine for source.Environment.
func openEngine(repo *gitrepo.Repo, dir string, source Source, log *zap.SugaredLogger) (*workspace.Engine, error) {
	configPath := filepath.Join(dir, source.configPath())
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "ciresource: load config")
	}
	db, err := statedb.Open(cfg.Scope, configPath, source.IgnoreQueue)
	if err != nil {
		return nil, errors.Wrap(err, "ciresource: open state db")
	}
	return workspace.New(repo, db, cfg, configPath, source.IgnoreQueue, log), nil
}

// Check implements the `check` step of the CI resource protocol (spec §6).
func Check(r io.Reader, w io.Writer, log *zap.SugaredLogger) error {
	var req CheckRequest
	if err := decode(r, &req); err != nil {
		return errors.Wrap(err, "ciresource: decode check request")
	}

	var resp CheckResponse
	if req.Source.Environment == "" {
		return encode(w, resp)
	}

	repo, dir, err := cloneOrPull(req.Source, log)
	if err != nil {
		return err
	}
	engine, err := openEngine(repo, dir, req.Source, log)
	if err != nil {
		return err
	}

	stateID, _, err := engine.Check(req.Source.Environment)
	if err != nil {
		return errors.Wrap(err, "ciresource: check")
	}

	switch {
	case stateID == nil:
		if req.Version != nil {
			resp = append(resp, *req.Version)
		}
	case req.Version == nil:
		resp = append(resp, Version{Trigger: stateID.HeadCommit.String()})
	case req.Version.Trigger != stateID.HeadCommit.String():
		resp = append(resp, *req.Version, Version{Trigger: stateID.HeadCommit.String()})
	default:
		resp = append(resp, *req.Version)
	}
	return encode(w, resp)
}

// In implements the `in` step: optionally prepares the workspace for the
// version's environment and reports it back as metadata.
func In(r io.Reader, w io.Writer, log *zap.SugaredLogger) error {
	var req InRequest
	if err := decode(r, &req); err != nil {
		return errors.Wrap(err, "ciresource: decode in request")
	}

	repo, dir, err := cloneOrPull(req.Source, log)
	if err != nil {
		return err
	}
	engine, err := openEngine(repo, dir, req.Source, log)
	if err != nil {
		return err
	}

	if req.Params.Prepare && req.Source.Environment != "" {
		if err := engine.Prepare(req.Source.Environment, false); err != nil {
			return errors.Wrap(err, "ciresource: prepare")
		}
	}

	return encode(w, InOutResponse{
		Version:  req.Version,
		Metadata: []Metadata{{Name: "environment", Value: req.Source.Environment}},
	})
}

// Out implements the `out` step: records the environment's state from the
// checked-out repository at params.repository and reports the new version.
func Out(r io.Reader, w io.Writer, log *zap.SugaredLogger) error {
	var req OutRequest
	if err := decode(r, &req); err != nil {
		return errors.Wrap(err, "ciresource: decode out request")
	}

	env := req.Params.Environment
	if env == "" {
		env = req.Source.Environment
	}

	repo, err := gitrepo.Open(req.Params.Repository, "", log)
	if err != nil {
		return errors.Wrap(err, "ciresource: open repository param")
	}
	configPath := filepath.Join(req.Params.Repository, req.Source.configPath())
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "ciresource: load config")
	}
	db, err := statedb.Open(cfg.Scope, configPath, req.Source.IgnoreQueue)
	if err != nil {
		return errors.Wrap(err, "ciresource: open state db")
	}
	engine := workspace.New(repo, db, cfg, configPath, req.Source.IgnoreQueue, log)

	stateID, _, err := engine.RecordEnv(env, true, true, true, req.Source.Branch, req.Source.PrivateKey)
	if err != nil {
		return errors.Wrap(err, "ciresource: record")
	}

	return encode(w, InOutResponse{
		Version:  Version{Trigger: stateID.HeadCommit.String()},
		Metadata: []Metadata{{Name: "environment", Value: env}},
	})
}

func encode(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}
