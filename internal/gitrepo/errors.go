package gitrepo

import (
	"fmt"

	"github.com/pkg/errors"
)

// RepositoryError wraps a failure of a single adapter operation with enough
// context to reconstruct what was being attempted - mirrors the teacher's
// GitError/GitSha1Error context-carrying error structs (git.go).
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("gitrepo: %s: %s", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// wrapErr attaches stack context via pkg/errors before folding the failure
// into a RepositoryError, so callers further up get both a typed error kind
// and a debuggable trace - the teacher's erraddcontext serves the same role
// in git-backup.go, built on an exception helper this pack doesn't carry.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RepositoryError{Op: op, Err: errors.WithStack(err)}
}

// GateNotFoundError is returned by Open when the supplied gate commit does
// not exist in the object database.
type GateNotFoundError struct {
	Gate string
	Err  error
}

func (e *GateNotFoundError) Error() string {
	return fmt.Sprintf("gitrepo: gate commit %q does not exist: %s", e.Gate, e.Err)
}

func (e *GateNotFoundError) Unwrap() error { return e.Err }

// RebaseConflictError is returned by Push when replaying local commits onto
// the fetched remote branch produces a conflict. Fatal - no automatic
// resolution is attempted (spec §4.1, §9). Path holds the id of the commit
// whose replay conflicted.
type RebaseConflictError struct {
	Path string
}

func (e *RebaseConflictError) Error() string {
	return fmt.Sprintf("gitrepo: rebase conflict on push (commit %q)", e.Path)
}

// PathNotFoundError is returned by FindLastChangedCommit when the path does
// not exist in the commit's tree.
type PathNotFoundError struct {
	Path   string
	Commit string
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("gitrepo: %q not present at commit %s", e.Path, e.Commit)
}
