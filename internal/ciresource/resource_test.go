package ciresource

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func xgit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@cepler.io",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@cepler.io",
	)
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func TestCheckNoEnvironmentReturnsEmpty(t *testing.T) {
	req := CheckRequest{Source: Source{URI: "ignored", Branch: "main"}}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Check(bytes.NewReader(data), &out, nil))

	var resp CheckResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Empty(t, resp)
}

func TestCheckAgainstLocalRepo(t *testing.T) {
	srcDir := t.TempDir()
	xgit(t, srcDir, "init", "-q", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "cepler.yml"), []byte("environments:\n  staging:\n    latest: [\"app.yml\"]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "app.yml"), []byte("v: 1\n"), 0o644))
	xgit(t, srcDir, "add", ".")
	xgit(t, srcDir, "commit", "-q", "-m", "initial")

	cache := t.TempDir()
	t.Setenv("TMPDIR", cache)

	req := CheckRequest{Source: Source{URI: srcDir, Branch: "main", Environment: "staging"}}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Check(bytes.NewReader(data), &out, nil))

	var resp CheckResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Len(t, resp, 1)
	require.NotEmpty(t, resp[0].Trigger)
}
