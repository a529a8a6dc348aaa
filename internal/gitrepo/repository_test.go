package gitrepo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cepler-io/cepler/internal/hashid"
)

func TestAllFilesAndGetFileContent(t *testing.T) {
	dir := newTestRepo(t)
	xwrite(t, dir, "a.txt", "hello\n")
	xwrite(t, dir, "sub/b.txt", "world\n")
	xgit(t, dir, "add", ".")
	xgit(t, dir, "commit", "-q", "-m", "initial")

	r, err := Open(dir, "", nil)
	require.NoError(t, err)

	head, err := r.HeadCommitHash()
	require.NoError(t, err)

	found := map[string]hashid.FileHash{}
	require.NoError(t, r.AllFiles(head, func(h hashid.FileHash, path string) error {
		found[path] = h
		return nil
	}))
	require.Contains(t, found, "a.txt")
	require.Contains(t, found, "sub/b.txt")

	data, ok, err := r.GetFileContent(head, "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello\n", string(data))

	_, ok, err = r.GetFileContent(head, "missing.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFindLastChangedCommit(t *testing.T) {
	dir := newTestRepo(t)
	xwrite(t, dir, "f.txt", "v1\n")
	xgit(t, dir, "add", ".")
	xgit(t, dir, "commit", "-q", "-m", "v1")

	xwrite(t, dir, "unrelated.txt", "x\n")
	xgit(t, dir, "add", ".")
	xgit(t, dir, "commit", "-q", "-m", "unrelated change")

	xwrite(t, dir, "f.txt", "v2\n")
	xgit(t, dir, "add", ".")
	xgit(t, dir, "commit", "-q", "-m", "v2")

	r, err := Open(dir, "", nil)
	require.NoError(t, err)
	head, err := r.HeadCommitHash()
	require.NoError(t, err)

	last, summary, err := r.FindLastChangedCommit("f.txt", head)
	require.NoError(t, err)
	require.Equal(t, "v2", summary)
	require.True(t, last.Equal(head))

	_, _, err = r.FindLastChangedCommit("nope.txt", head)
	require.Error(t, err)
	var pnf *PathNotFoundError
	require.ErrorAs(t, err, &pnf)
}

func TestWalkCommitsBefore(t *testing.T) {
	dir := newTestRepo(t)
	xwrite(t, dir, "f.txt", "1\n")
	xgit(t, dir, "add", ".")
	xgit(t, dir, "commit", "-q", "-m", "c1")
	xwrite(t, dir, "f.txt", "2\n")
	xgit(t, dir, "add", ".")
	xgit(t, dir, "commit", "-q", "-m", "c2")
	xwrite(t, dir, "f.txt", "3\n")
	xgit(t, dir, "add", ".")
	xgit(t, dir, "commit", "-q", "-m", "c3")

	r, err := Open(dir, "", nil)
	require.NoError(t, err)
	head, err := r.HeadCommitHash()
	require.NoError(t, err)

	var ancestors []hashid.CommitHash
	err = r.WalkCommitsBefore(head, func(c hashid.CommitHash) (bool, error) {
		ancestors = append(ancestors, c)
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	require.False(t, ancestors[0].Equal(head))
}

func TestCommitStateFile(t *testing.T) {
	dir := newTestRepo(t)
	xwrite(t, dir, "README.md", "hi\n")
	xgit(t, dir, "add", ".")
	xgit(t, dir, "commit", "-q", "-m", "initial")

	r, err := Open(dir, "", nil)
	require.NoError(t, err)

	xwrite(t, dir, ".cepler/default/prod.state", "key: value\n")
	require.NoError(t, r.CommitStateFile(".cepler/default/prod.state"))

	log := xgit(t, dir, "log", "-1", "--pretty=%s %an <%ae>")
	require.True(t, strings.HasPrefix(log, "[cepler] Updated prod state Cepler <bot@cepler.io>"))
}

func TestHashFile(t *testing.T) {
	dir := newTestRepo(t)
	xwrite(t, dir, "f.txt", "hello\n")
	xgit(t, dir, "add", ".")
	xgit(t, dir, "commit", "-q", "-m", "c1")
	blobSha := strings.TrimSpace(xgit(t, dir, "rev-parse", "HEAD:f.txt"))

	r, err := Open(dir, "", nil)
	require.NoError(t, err)

	h, ok, err := r.HashFile("f.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, blobSha, h.String())

	_, ok, err = r.HashFile("missing.txt")
	require.NoError(t, err)
	require.False(t, ok)
}
