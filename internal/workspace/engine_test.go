package workspace

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cepler-io/cepler/internal/config"
	"github.com/cepler-io/cepler/internal/gitrepo"
	"github.com/cepler-io/cepler/internal/statedb"
)

func xgit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@cepler.io",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@cepler.io",
	)
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
	return string(out)
}

func xwrite(t *testing.T, dir, path, content string) {
	t.Helper()
	full := filepath.Join(dir, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

const testConfig = `
environments:
  staging:
    latest: ["app.yml"]
`

func newTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	return newTestEngineWithConfig(t, dir, testConfig)
}

func newTestEngineWithConfig(t *testing.T, dir string, cfgText string) *Engine {
	t.Helper()
	cfg, err := config.Parse([]byte(cfgText))
	require.NoError(t, err)

	repo, err := gitrepo.Open(dir, "", nil)
	require.NoError(t, err)

	db, err := statedb.Open(cfg.Scope, filepath.Join(dir, "cepler.yml"), false)
	require.NoError(t, err)

	return New(repo, db, cfg, filepath.Join(dir, "cepler.yml"), false, nil)
}

func TestCheckLsRecordCycle(t *testing.T) {
	dir := t.TempDir()
	xgit(t, dir, "init", "-q", "-b", "main")
	xwrite(t, dir, "cepler.yml", testConfig)
	xwrite(t, dir, "app.yml", "version: 1\n")
	xgit(t, dir, "add", ".")
	xgit(t, dir, "commit", "-q", "-m", "initial")

	engine := newTestEngine(t, dir)

	names, err := engine.Ls("staging")
	require.NoError(t, err)
	require.Equal(t, []string{"app.yml"}, names)

	stateID, diffs, err := engine.Check("staging")
	require.NoError(t, err)
	require.NotNil(t, stateID)
	require.Equal(t, 1, stateID.Version)
	require.NotEmpty(t, diffs)

	recorded, recordDiffs, err := engine.RecordEnv("staging", true, false, false, "main", "")
	require.NoError(t, err)
	require.Equal(t, 1, recorded.Version)
	require.NotEmpty(t, recordDiffs)

	// re-open against the freshly persisted state and confirm check is now quiet
	engine2 := newTestEngine(t, dir)
	quietID, quietDiffs, err := engine2.Check("staging")
	require.NoError(t, err)
	require.Nil(t, quietID)
	require.Empty(t, quietDiffs)
}

const prepareConfig = `
environments:
  staging:
    latest: ["app.yml"]
  prod:
    passed: staging
    propagated: ["stale.yml"]
    latest: ["prod.yml"]
`

// TestPreparePropagatedFiles checks that prepare both removes a propagated
// file the current upstream target no longer provides and checks out the
// files it does.
func TestPreparePropagatedFiles(t *testing.T) {
	dir := t.TempDir()
	xgit(t, dir, "init", "-q", "-b", "main")
	xwrite(t, dir, "cepler.yml", prepareConfig)
	xwrite(t, dir, "app.yml", "version: 1\n")
	xwrite(t, dir, "prod.yml", "role: prod\n")
	xwrite(t, dir, "stale.yml", "leftover: true\n")
	xgit(t, dir, "add", ".")
	xgit(t, dir, "commit", "-q", "-m", "initial")

	engine := newTestEngineWithConfig(t, dir, prepareConfig)
	_, _, err := engine.RecordEnv("staging", true, false, false, "main", "")
	require.NoError(t, err)

	engine2 := newTestEngineWithConfig(t, dir, prepareConfig)
	require.NoError(t, engine2.Prepare("prod", false))

	_, err = os.Stat(filepath.Join(dir, "stale.yml"))
	require.True(t, os.IsNotExist(err), "stale.yml should have been removed by prepare")

	_, err = os.Stat(filepath.Join(dir, "prod.yml"))
	require.NoError(t, err, "prod.yml is a head file and must remain")
}

func TestCheckMissingEnvironment(t *testing.T) {
	dir := t.TempDir()
	xgit(t, dir, "init", "-q", "-b", "main")
	xwrite(t, dir, "cepler.yml", testConfig)
	xgit(t, dir, "add", ".")
	xgit(t, dir, "commit", "-q", "-m", "initial")

	engine := newTestEngine(t, dir)
	_, _, err := engine.Check("nope")
	require.Error(t, err)
	var notFound *EnvNotFoundError
	require.ErrorAs(t, err, &notFound)
}
