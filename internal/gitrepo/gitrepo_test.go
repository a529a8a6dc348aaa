package gitrepo

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// xgit runs `git <args>` in dir and fails the test on error - the same
// "do-or-die shell helper" shape as the teacher's xgit (git.go), adapted to
// testify instead of the unavailable raise/errcatch machinery.
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

func newTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	xgit(t, dir, "init", "-q", "-b", "main")
	return dir
}
