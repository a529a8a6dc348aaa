package statedb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cepler-io/cepler/internal/hashid"
)

func commitHash(t *testing.T, hex string) hashid.CommitHash {
	t.Helper()
	full := hex + "0000000000000000000000000000000000000000"
	h, err := hashid.ParseCommitHash(full[:40])
	require.NoError(t, err)
	return h
}

func fileHash(t *testing.T, hex string) hashid.FileHash {
	t.Helper()
	full := hex + "0000000000000000000000000000000000000000"
	h, err := hashid.ParseFileHash(full[:40])
	require.NoError(t, err)
	return h
}

func TestFileIdentRoundtrip(t *testing.T) {
	id := NewFileIdent("conf/app.yml", "staging")
	require.Equal(t, "conf/app.yml", id.Name())
	require.Equal(t, "staging", id.Source())
	require.Equal(t, "{staging}/conf/app.yml", id.Inner())

	latest := NewFileIdent("app.yml", "")
	require.Equal(t, "latest", latest.Source())
}

func TestDeployStateDiff(t *testing.T) {
	h1 := fileHash(t, "aaaa")
	h2 := fileHash(t, "bbbb")
	c1 := commitHash(t, "1111")

	prev := NewDeployState(c1)
	prev.Set(NewFileIdent("a.yml", ""), FileState{FileHash: &h1, FromCommit: c1, Message: "m1"})
	prev.Set(NewFileIdent("removed.yml", ""), FileState{FileHash: &h1, FromCommit: c1, Message: "m1"})

	next := NewDeployState(c1)
	next.Set(NewFileIdent("a.yml", ""), FileState{FileHash: &h2, FromCommit: c1, Message: "m2"})
	next.Set(NewFileIdent("b.yml", ""), FileState{FileHash: &h1, FromCommit: c1, Message: "m1"})

	diffs := next.Diff(prev)
	byName := map[string]FileDiff{}
	for _, d := range diffs {
		byName[d.Ident.Name()] = d
	}

	require.Contains(t, byName, "a.yml")
	require.False(t, byName["a.yml"].Added)

	require.Contains(t, byName, "b.yml")
	require.True(t, byName["b.yml"].Added)

	require.Contains(t, byName, "removed.yml")
	require.Nil(t, byName["removed.yml"].CurrentState)
}

func TestSetCurrentEnvironmentStatePersistsAndVersions(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "cepler.yml")

	db, err := Open("default", configPath, false)
	require.NoError(t, err)

	c1 := commitHash(t, "1111")
	s1 := NewDeployState(c1)
	_, v1, err := db.SetCurrentEnvironmentState("staging", "", *s1)
	require.NoError(t, err)
	require.Equal(t, 1, v1)

	c2 := commitHash(t, "2222")
	s2 := NewDeployState(c2)
	_, v2, err := db.SetCurrentEnvironmentState("staging", "", *s2)
	require.NoError(t, err)
	require.Equal(t, 2, v2)

	reopened, err := Open("default", configPath, false)
	require.NoError(t, err)
	cur := reopened.GetCurrentState("staging")
	require.NotNil(t, cur)
	require.True(t, cur.HeadCommit.Equal(c2))
	require.Equal(t, 2, reopened.LastVersion("staging"))
}

func TestGetTargetPropagatedStateNoHistory(t *testing.T) {
	db := &Database{environments: map[string]*EnvironmentState{}}
	require.Nil(t, db.GetTargetPropagatedState("prod", false, "staging", nil))

	db.environments["staging"] = &EnvironmentState{Current: *NewDeployState(commitHash(t, "aaaa"))}
	target := db.GetTargetPropagatedState("prod", false, "staging", nil)
	require.NotNil(t, target)
}

// TestGetTargetPropagatedStateWalksQueue exercises the two-environment
// scenario at the core of queue-aware propagation: testflight is recorded
// three times (advancing a.yml each time), prod has already propagated the
// first of those states, and the walk must land on the middle one - the
// oldest queued state that changed a.yml since what prod currently has -
// not jump straight to testflight's latest. Also covers pruneQueue running
// with more than one environment, since every SetCurrentEnvironmentState
// call below prunes testflight's queue against prod's current record.
func TestGetTargetPropagatedStateWalksQueue(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "cepler.yml")
	db, err := Open("default", configPath, false)
	require.NoError(t, err)

	c1, c2, c3 := commitHash(t, "1111"), commitHash(t, "2222"), commitHash(t, "3333")
	h1, h2, h3 := fileHash(t, "aaaa"), fileHash(t, "bbbb"), fileHash(t, "cccc")

	s1 := NewDeployState(c1)
	s1.Set(NewFileIdent("a.yml", ""), FileState{FileHash: &h1, FromCommit: c1, Message: "m1"})
	_, _, err = db.SetCurrentEnvironmentState("testflight", "", *s1)
	require.NoError(t, err)

	// prod propagated testflight's first state: its PropagatedHead points at
	// c1 and it has a.yml at h1.
	cProd := commitHash(t, "dddd")
	prodState := NewDeployState(cProd)
	prodState.PropagatedHead = &c1
	prodState.Set(NewFileIdent("a.yml", "testflight"), FileState{FileHash: &h1, FromCommit: c1, Message: "m1"})
	_, _, err = db.SetCurrentEnvironmentState("prod", "testflight", *prodState)
	require.NoError(t, err)

	s2 := NewDeployState(c2)
	s2.Set(NewFileIdent("a.yml", ""), FileState{FileHash: &h2, FromCommit: c2, Message: "m2"})
	_, _, err = db.SetCurrentEnvironmentState("testflight", "", *s2)
	require.NoError(t, err)

	s3 := NewDeployState(c3)
	s3.Set(NewFileIdent("a.yml", ""), FileState{FileHash: &h3, FromCommit: c3, Message: "m3"})
	_, _, err = db.SetCurrentEnvironmentState("testflight", "", *s3)
	require.NoError(t, err)

	// testflight's queue now holds [s2, s1] behind current s3; pruneQueue
	// must have kept s1 since prod's PropagatedHead still points at c1.
	require.Len(t, db.environments["testflight"].PropagationQueue, 2)

	target := db.GetTargetPropagatedState("prod", false, "testflight", []string{"a.yml"})
	require.NotNil(t, target)
	require.True(t, target.HeadCommit.Equal(c2), "expected the queue walk to land on the middle state, not the latest")

	// scenario #5: ignore_queue skips the walk and goes straight to upstream's
	// current state.
	ignoreTarget := db.GetTargetPropagatedState("prod", true, "testflight", []string{"a.yml"})
	require.NotNil(t, ignoreTarget)
	require.True(t, ignoreTarget.HeadCommit.Equal(c3))
}
