// Package gitrepo implements the repository adapter (spec §4.1): a narrow,
// purpose-built wrapper over a single Git working copy and its object
// database, backed by libgit2 via git2go - exactly the library the teacher
// repo (lab.nexedi.com/kirr/git-backup) uses for all of its object-level
// work, and the same API original_source/src/repo.rs drives from Rust.
package gitrepo

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	git2go "github.com/libgit2/git2go/v31"
	"go.uber.org/zap"

	"github.com/cepler-io/cepler/internal/hashid"
	"github.com/cepler-io/cepler/internal/setutil"
)

// CommitAuthor is the fixed identity cepler commits state files under.
var CommitAuthor = git2go.Signature{
	Name:  "Cepler",
	Email: "bot@cepler.io",
}

// Repo is a handle onto one Git working copy. It is not safe for
// concurrent use - only one adapter operation may be in flight against a
// given working copy at a time (spec §5).
type Repo struct {
	repo *git2go.Repository
	gate *git2go.Oid // nil => HEAD is used as the gate for every read
	log  *zap.SugaredLogger
}

func remoteCallbacks(privateKey string) git2go.RemoteCallbacks {
	return git2go.RemoteCallbacks{
		CredentialsCallback: func(url, usernameFromURL string, allowedTypes git2go.CredType) (*git2go.Cred, error) {
			return git2go.NewCredSSHKeyFromMemory(usernameFromURL, "", privateKey, "")
		},
		CertificateCheckCallback: func(cert *git2go.Certificate, valid bool, hostname string) error {
			return nil
		},
	}
}

// Clone fetches url at branch into dir using an in-memory SSH private key.
func Clone(url, branch, privateKey, dir string, log *zap.SugaredLogger) (*Repo, error) {
	opts := &git2go.CloneOptions{
		CheckoutBranch: branch,
		FetchOptions: &git2go.FetchOptions{
			RemoteCallbacks: remoteCallbacks(privateKey),
		},
	}
	repo, err := git2go.Clone(url, dir, opts)
	if err != nil {
		return nil, wrapErr("clone", err)
	}
	return &Repo{repo: repo, log: log}, nil
}

// Open opens the working copy at dir and pins an optional gate commit.
// gate may be "" or "HEAD" to mean no gate (every read then uses HEAD).
func Open(dir, gate string, log *zap.SugaredLogger) (*Repo, error) {
	repo, err := git2go.OpenRepository(dir)
	if err != nil {
		return nil, wrapErr("open", err)
	}
	r := &Repo{repo: repo, log: log}
	if gate == "" || gate == "HEAD" {
		return r, nil
	}
	oid, err := git2go.NewOid(gate)
	if err != nil {
		return nil, &GateNotFoundError{Gate: gate, Err: err}
	}
	if _, err := repo.LookupCommit(oid); err != nil {
		return nil, &GateNotFoundError{Gate: gate, Err: err}
	}
	r.gate = oid
	return r, nil
}

// Pull hard-resets the working copy to origin/<branch> - no merge, no
// rebase (spec §4.1).
func (r *Repo) Pull(branch, privateKey string) error {
	remote, err := r.repo.Remotes.Lookup("origin")
	if err != nil {
		return wrapErr("pull: lookup origin", err)
	}
	fo := &git2go.FetchOptions{RemoteCallbacks: remoteCallbacks(privateKey)}
	if err := remote.Fetch([]string{branch}, fo, ""); err != nil {
		return wrapErr("pull: fetch", err)
	}
	ref, err := r.repo.References.Lookup("refs/remotes/origin/" + branch)
	if err != nil {
		return wrapErr("pull: resolve origin branch", err)
	}
	commit, err := r.repo.LookupCommit(ref.Target())
	if err != nil {
		return wrapErr("pull: lookup remote commit", err)
	}
	if err := r.repo.ResetToCommit(commit, git2go.ResetHard, &git2go.CheckoutOptions{Strategy: git2go.CheckoutForce}); err != nil {
		return wrapErr("pull: reset", err)
	}
	return nil
}

func (r *Repo) gateOid() (*git2go.Oid, error) {
	if r.gate != nil {
		return r.gate, nil
	}
	head, err := r.repo.Head()
	if err != nil {
		return nil, wrapErr("head", err)
	}
	return head.Target(), nil
}

// GateCommitHash returns the gate commit, or HEAD when no gate is set.
func (r *Repo) GateCommitHash() (hashid.CommitHash, error) {
	oid, err := r.gateOid()
	if err != nil {
		return hashid.CommitHash{}, err
	}
	return hashid.CommitHashFromOid(oid), nil
}

// HeadCommitHash returns HEAD regardless of any gate.
func (r *Repo) HeadCommitHash() (hashid.CommitHash, error) {
	head, err := r.repo.Head()
	if err != nil {
		return hashid.CommitHash{}, wrapErr("head", err)
	}
	commit, err := head.Peel(git2go.ObjectCommit)
	if err != nil {
		return hashid.CommitHash{}, wrapErr("head: peel to commit", err)
	}
	return hashid.CommitHashFromOid(commit.Id()), nil
}

// AllFiles performs a preorder tree walk over every blob reachable from
// commit, skipping directories and submodules. Symlinks are blobs.
func (r *Repo) AllFiles(commit hashid.CommitHash, visit func(hashid.FileHash, string) error) error {
	gcommit, err := r.repo.LookupCommit(commit.Oid())
	if err != nil {
		return wrapErr("all_files: lookup commit", err)
	}
	tree, err := gcommit.Tree()
	if err != nil {
		return wrapErr("all_files: resolve tree", err)
	}
	var walkErr error
	err = tree.Walk(func(dir string, entry *git2go.TreeEntry) int {
		if entry.Type != git2go.ObjectBlob {
			return 0
		}
		path := dir + entry.Name
		if walkErr = visit(hashid.FileHashFromOid(entry.Id), path); walkErr != nil {
			return -1
		}
		return 0
	})
	if err != nil {
		return wrapErr("all_files: walk", err)
	}
	return walkErr
}

// GetFileContent reads the blob at path in commit. ok is false when path is
// absent from the tree.
func (r *Repo) GetFileContent(commit hashid.CommitHash, path string) (data []byte, ok bool, err error) {
	gcommit, err := r.repo.LookupCommit(commit.Oid())
	if err != nil {
		return nil, false, wrapErr("get_file_content: lookup commit", err)
	}
	return r.fileFromCommit(gcommit, path)
}

// GetFileFromBranch resolves a local or origin/<branch> ref and reads path
// from the commit it points to.
func (r *Repo) GetFileFromBranch(branch, path string) (data []byte, ok bool, err error) {
	b, err := r.repo.LookupBranch(branch, git2go.BranchLocal)
	if err != nil {
		b, err = r.repo.LookupBranch("origin/"+branch, git2go.BranchRemote)
		if err != nil {
			return nil, false, wrapErr("get_file_from_branch: resolve branch", err)
		}
	}
	commit, err := b.Reference.Peel(git2go.ObjectCommit)
	if err != nil {
		return nil, false, wrapErr("get_file_from_branch: peel to commit", err)
	}
	gcommit, err := r.repo.LookupCommit(commit.Id())
	if err != nil {
		return nil, false, wrapErr("get_file_from_branch: lookup commit", err)
	}
	return r.fileFromCommit(gcommit, path)
}

func (r *Repo) fileFromCommit(commit *git2go.Commit, path string) ([]byte, bool, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, false, wrapErr("resolve tree", err)
	}
	entry, err := tree.EntryByPath(path)
	if err != nil {
		return nil, false, nil // not present - not an error (spec §4.1)
	}
	blob, err := r.repo.LookupBlob(entry.Id)
	if err != nil {
		return nil, false, wrapErr("lookup blob", err)
	}
	return cloneBytes(blob.Contents()), true, nil
}

// FindLastChangedCommit returns the oldest ancestor of fromCommit whose
// tree at path has the same blob id as fromCommit's tree at path (spec
// §4.1). Visits all qualifying parents in lockstep and stops the moment no
// parent preserves the blob.
func (r *Repo) FindLastChangedCommit(path string, fromCommit hashid.CommitHash) (hashid.CommitHash, string, error) {
	start, err := r.repo.LookupCommit(fromCommit.Oid())
	if err != nil {
		return hashid.CommitHash{}, "", wrapErr("find_last_changed_commit: lookup commit", err)
	}
	startTree, err := start.Tree()
	if err != nil {
		return hashid.CommitHash{}, "", wrapErr("find_last_changed_commit: resolve tree", err)
	}
	targetEntry, err := startTree.EntryByPath(path)
	if err != nil {
		return hashid.CommitHash{}, "", &PathNotFoundError{Path: path, Commit: fromCommit.ShortRef()}
	}
	target := targetEntry.Id

	seen := setutil.New(*start.Id())
	queue := []*git2go.Commit{start}

	for len(queue) > 0 {
		commit := queue[0]
		queue = queue[1:]

		anyEqual := false
		for i := uint(0); i < commit.ParentCount(); i++ {
			parent := commit.Parent(i)
			if parent == nil {
				continue
			}
			ptree, err := parent.Tree()
			if err != nil {
				continue
			}
			pentry, err := ptree.EntryByPath(path)
			if err != nil {
				continue
			}
			if pentry.Id.Equal(target) {
				anyEqual = true
				if !seen.Contains(*parent.Id()) {
					seen.Add(*parent.Id())
					queue = append(queue, parent)
				}
			}
		}
		if !anyEqual || len(queue) == 0 {
			return hashid.CommitHashFromOid(commit.Id()), commitSummary(commit), nil
		}
	}
	// unreachable: queue always has >=1 element on the first iteration
	return hashid.CommitHashFromOid(start.Id()), commitSummary(start), nil
}

// WalkCommitsBefore does a BFS over ancestors of commit (excluding commit
// itself), deduplicated by id, invoking cb for each. cb returning false
// stops the traversal.
func (r *Repo) WalkCommitsBefore(commit hashid.CommitHash, cb func(hashid.CommitHash) (bool, error)) error {
	start, err := r.repo.LookupCommit(commit.Oid())
	if err != nil {
		return wrapErr("walk_commits_before: lookup commit", err)
	}
	seen := setutil.New(*start.Id())
	queue := []*git2go.Commit{}
	for i := uint(0); i < start.ParentCount(); i++ {
		p := start.Parent(i)
		if p == nil {
			continue
		}
		if !seen.Contains(*p.Id()) {
			seen.Add(*p.Id())
			queue = append(queue, p)
		}
	}
	for len(queue) > 0 {
		commit := queue[0]
		queue = queue[1:]
		cont, err := cb(hashid.CommitHashFromOid(commit.Id()))
		if err != nil {
			return err
		}
		if !cont {
			break
		}
		for i := uint(0); i < commit.ParentCount(); i++ {
			p := commit.Parent(i)
			if p == nil {
				continue
			}
			if !seen.Contains(*p.Id()) {
				seen.Add(*p.Id())
				queue = append(queue, p)
			}
		}
	}
	return nil
}

// CheckoutFileFrom restores a single file from commit into the working
// copy. Forced; the index is not updated.
func (r *Repo) CheckoutFileFrom(path string, commit hashid.CommitHash) error {
	obj, err := r.repo.LookupCommit(commit.Oid())
	if err != nil {
		return wrapErr("checkout_file_from: lookup commit", err)
	}
	opts := &git2go.CheckoutOptions{
		Strategy: git2go.CheckoutForce,
		Paths:    []string{path},
	}
	if err := r.repo.CheckoutTree(commitTreeObject(obj), opts); err != nil {
		return wrapErr("checkout_file_from: checkout", err)
	}
	return nil
}

// commitTreeObject adapts a *git2go.Commit to the git2go.Object interface
// CheckoutTree expects.
func commitTreeObject(c *git2go.Commit) git2go.Object { return &c.Object }

// CheckoutGate sets the working copy to a partial view of the gate commit:
// remove on-disk tracked files matching include (or all tracked files when
// clean) that are not in ignore, then materialize every file of the gate
// matching include and not ignore (spec §4.3 prepare).
func (r *Repo) CheckoutGate(include, ignore func(path string) bool, clean bool) error {
	gate, err := r.gateOid()
	if err != nil {
		return err
	}
	gcommit, err := r.repo.LookupCommit(gate)
	if err != nil {
		return wrapErr("checkout_gate: lookup gate", err)
	}

	var paths []string
	err = r.AllFiles(hashid.CommitHashFromOid(gate), func(_ hashid.FileHash, path string) error {
		if !ignore(path) && include(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := r.removeMatchingFiles("checkout_gate", func(rel string) bool {
		return !ignore(rel) && (clean || include(rel))
	}); err != nil {
		return err
	}

	if len(paths) > 0 {
		opts := &git2go.CheckoutOptions{
			Strategy: git2go.CheckoutForce,
			Paths:    paths,
		}
		if err := r.repo.CheckoutTree(commitTreeObject(gcommit), opts); err != nil {
			return wrapErr("checkout_gate: checkout", err)
		}
	}
	return nil
}

// RemovePropagatedFiles deletes on-disk tracked files matching remove (spec
// §4.3 prepare's middle step: clearing stale propagated files that no longer
// appear in the new upstream target before the new ones are checked out).
func (r *Repo) RemovePropagatedFiles(remove func(path string) bool) error {
	return r.removeMatchingFiles("remove_propagated_files", remove)
}

// removeMatchingFiles walks the working copy, removing every on-disk
// tracked file for which match returns true. Untracked and git-ignored
// files are always left alone.
func (r *Repo) removeMatchingFiles(op string, match func(path string) bool) error {
	root, err := filepath.Abs(r.repo.Workdir())
	if err != nil {
		return wrapErr(op+": resolve workdir", err)
	}
	return filepath.Walk(root, func(fullPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, fullPath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !match(rel) {
			return nil
		}
		status, err := r.repo.StatusFile(rel)
		if err != nil || status == git2go.StatusWtNew || status&git2go.StatusIgnored != 0 {
			return nil // untracked/ignored by Git - leave it alone
		}
		ignoredByGit, err := r.repo.IsPathIgnored(rel)
		if err == nil && ignoredByGit {
			return nil
		}
		if rerr := os.Remove(fullPath); rerr != nil && !os.IsNotExist(rerr) {
			return wrapErr(op+": remove stale file", rerr)
		}
		return nil
	})
}

// CheckoutHead hard resets the working copy to HEAD without touching the
// index.
func (r *Repo) CheckoutHead() error {
	opts := &git2go.CheckoutOptions{Strategy: git2go.CheckoutForce}
	if err := r.repo.CheckoutHead(opts); err != nil {
		return wrapErr("checkout_head", err)
	}
	return nil
}

// CommitStateFile stages the single file at path and commits it with the
// Cepler author identity and a fixed-form subject, then re-materializes it
// into the working tree from the index (spec §4.1). path is either relative
// to the working copy root or an absolute path inside the working copy.
func (r *Repo) CommitStateFile(path string) error {
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(r.repo.Workdir(), path)
		if err != nil {
			return wrapErr("commit_state_file: relativize path", err)
		}
		path = filepath.ToSlash(rel)
	}
	index, err := r.repo.Index()
	if err != nil {
		return wrapErr("commit_state_file: open index", err)
	}
	if err := index.AddByPath(path); err != nil {
		return wrapErr("commit_state_file: stage", err)
	}
	treeID, err := index.WriteTree()
	if err != nil {
		return wrapErr("commit_state_file: write tree", err)
	}
	if err := index.Write(); err != nil {
		return wrapErr("commit_state_file: write index", err)
	}
	tree, err := r.repo.LookupTree(treeID)
	if err != nil {
		return wrapErr("commit_state_file: lookup tree", err)
	}
	headCommit, err := r.headCommit()
	if err != nil {
		return err
	}

	sig := &git2go.Signature{Name: CommitAuthor.Name, Email: CommitAuthor.Email}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	message := "[cepler] Updated " + stem + " state"
	if _, err := r.repo.CreateCommit("HEAD", sig, sig, message, tree, headCommit); err != nil {
		return wrapErr("commit_state_file: create commit", err)
	}

	checkout := &git2go.CheckoutOptions{Strategy: git2go.CheckoutForce, Paths: []string{path}}
	if err := r.repo.CheckoutIndex(nil, checkout); err != nil {
		return wrapErr("commit_state_file: checkout index", err)
	}
	return nil
}

func (r *Repo) headCommit() (*git2go.Commit, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, wrapErr("head", err)
	}
	obj, err := head.Peel(git2go.ObjectCommit)
	if err != nil {
		return nil, wrapErr("head: peel to commit", err)
	}
	commit, err := r.repo.LookupCommit(obj.Id())
	if err != nil {
		return nil, wrapErr("head: lookup commit", err)
	}
	return commit, nil
}

// Push fetches origin/<branch>, rebases HEAD onto it with fail-on-conflict
// semantics, replays each rebased commit under the Cepler signature, then
// pushes the result. Any conflict is fatal (spec §4.1, §9).
func (r *Repo) Push(branch, privateKey string) error {
	remote, err := r.repo.Remotes.Lookup("origin")
	if err != nil {
		return wrapErr("push: lookup origin", err)
	}
	fo := &git2go.FetchOptions{RemoteCallbacks: remoteCallbacks(privateKey)}
	if err := remote.Fetch([]string{branch}, fo, ""); err != nil {
		return wrapErr("push: fetch", err)
	}

	head, err := r.repo.Head()
	if err != nil {
		return wrapErr("push: head", err)
	}
	headAnnotated, err := r.repo.AnnotatedCommitFromRef(head)
	if err != nil {
		return wrapErr("push: annotate head", err)
	}

	remoteRef, err := r.repo.References.Lookup("refs/remotes/origin/" + branch)
	if err != nil {
		return wrapErr("push: resolve remote branch", err)
	}
	remoteAnnotated, err := r.repo.AnnotatedCommitFromRef(remoteRef)
	if err != nil {
		return wrapErr("push: annotate remote", err)
	}

	mergeOpts, err := git2go.DefaultMergeOptions()
	if err != nil {
		return wrapErr("push: merge options", err)
	}
	mergeOpts.FailOnConflict = true
	rebaseOpts := git2go.RebaseOptions{MergeOptions: mergeOpts}

	rebase, err := r.repo.InitRebase(headAnnotated, nil, remoteAnnotated, &rebaseOpts)
	if err != nil {
		return wrapErr("push: init rebase", err)
	}
	sig := &git2go.Signature{Name: CommitAuthor.Name, Email: CommitAuthor.Email}
	for {
		op, err := rebase.Next()
		if git2go.IsErrorCode(err, git2go.ErrorCodeIterOver) {
			break
		}
		if err != nil {
			_ = rebase.Abort()
			return wrapErr("push: rebase step", err)
		}
		idx, cerr := rebase.Index()
		if cerr == nil && idx.HasConflicts() {
			_ = rebase.Abort()
			return &RebaseConflictError{Path: op.Id.String()}
		}
		if _, err := rebase.Commit(op.Id, sig, sig, ""); err != nil {
			if git2go.IsErrorCode(err, git2go.ErrorCodeUnmerged) || git2go.IsErrorCode(err, git2go.ErrorCodeConflict) {
				_ = rebase.Abort()
				return &RebaseConflictError{Path: op.Id.String()}
			}
			_ = rebase.Abort()
			return wrapErr("push: rebase commit", err)
		}
	}
	if err := rebase.Finish(); err != nil {
		return wrapErr("push: finish rebase", err)
	}

	newHead, err := r.repo.Head()
	if err != nil {
		return wrapErr("push: head after rebase", err)
	}
	po := &git2go.PushOptions{RemoteCallbacks: remoteCallbacks(privateKey)}
	refspec := newHead.Name() + ":" + newHead.Name()
	if err := remote.Push([]string{refspec}, po); err != nil {
		return wrapErr("push: push", err)
	}
	return nil
}

// HashFile computes the FileHash for a path on disk, relative to the
// working copy root, the same way Git would hash it as a blob (symlinks
// hash their target text, not the link's target file). ok is false when
// path does not exist or is neither a regular file nor a symlink.
func (r *Repo) HashFile(path string) (hash hashid.FileHash, ok bool, err error) {
	full := filepath.Join(r.repo.Workdir(), path)
	info, lerr := os.Lstat(full)
	if lerr != nil {
		return hashid.FileHash{}, false, nil
	}

	var data []byte
	if info.Mode()&os.ModeSymlink != 0 {
		target, rerr := os.Readlink(full)
		if rerr != nil {
			return hashid.FileHash{}, false, wrapErr("hash_file: readlink", rerr)
		}
		data = []byte(target)
	} else if info.Mode().IsRegular() {
		data, lerr = ioutil.ReadFile(full)
		if lerr != nil {
			return hashid.FileHash{}, false, wrapErr("hash_file: read", lerr)
		}
	} else {
		return hashid.FileHash{}, false, nil
	}

	odb, err := r.repo.Odb()
	if err != nil {
		return hashid.FileHash{}, false, wrapErr("hash_file: odb", err)
	}
	id, err := odb.Write(data, git2go.ObjectBlob)
	if err != nil {
		return hashid.FileHash{}, false, wrapErr("hash_file: hash", err)
	}
	return hashid.FileHashFromOid(id), true, nil
}
