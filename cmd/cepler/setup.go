package main

import (
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cepler-io/cepler/internal/config"
	"github.com/cepler-io/cepler/internal/gitrepo"
	"github.com/cepler-io/cepler/internal/logging"
	"github.com/cepler-io/cepler/internal/statedb"
	"github.com/cepler-io/cepler/internal/workspace"
)

// resolveGate determines the gate commit for envName from an optional
// local gates file and/or a gates branch (spec §6's separate gates file:
// "a flat mapping env -> commit-hash-or-HEAD").
func resolveGate(repo *gitrepo.Repo, envName, gatesFile, gatesBranch string) (string, error) {
	if gatesFile == "" {
		return "", nil
	}
	if gatesBranch == "" {
		gates, err := config.LoadGates(gatesFile)
		if err != nil {
			return "", err
		}
		return gates.Gate(envName), nil
	}

	data, ok, err := repo.GetFileFromBranch(gatesBranch, gatesFile)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	var gates config.Gates
	if err := yaml.Unmarshal(data, &gates); err != nil {
		return "", errors.Wrap(err, "cepler: parse gates file from branch")
	}
	return gates.Gate(envName), nil
}

// setupEngine opens (cloning first if requested) the target repository,
// resolves the gate for envName, and wires config + state database into a
// ready-to-use workspace.Engine (spec §6's global flag surface).
func setupEngine(envName string, ignoreQueue bool, gatesFile, gatesBranch string) (*workspace.Engine, error) {
	log := logging.New(verbosity)

	workDir := "."
	if cloneDir != "" {
		workDir = cloneDir
	}

	var repo *gitrepo.Repo
	var err error
	if cloneDir != "" && gitURL != "" {
		repo, err = gitrepo.Clone(gitURL, gitBranch, gitPrivateKey, cloneDir, log)
		if err != nil {
			return nil, err
		}
	} else {
		repo, err = gitrepo.Open(workDir, "", log)
		if err != nil {
			return nil, err
		}
	}

	gate, err := resolveGate(repo, envName, gatesFile, gatesBranch)
	if err != nil {
		return nil, err
	}
	if gate != "" {
		repo, err = gitrepo.Open(workDir, gate, log)
		if err != nil {
			return nil, err
		}
	}

	absConfigPath := filepath.Join(workDir, configPath)
	cfg, err := config.Load(absConfigPath)
	if err != nil {
		return nil, err
	}
	db, err := statedb.Open(cfg.Scope, absConfigPath, ignoreQueue)
	if err != nil {
		return nil, err
	}

	return workspace.New(repo, db, cfg, absConfigPath, ignoreQueue, log), nil
}
