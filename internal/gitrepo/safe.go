package gitrepo

// git2go hands back []byte and string values that alias memory owned by the
// underlying libgit2 object; if that object is garbage-collected before the
// caller is done with the derived value, the slice/string can go stale or
// the program can crash. The teacher's internal/git package isolates this
// concern behind a small set of "clone on the way out" helpers paired with
// runtime.KeepAlive on the owning object - we follow the same discipline
// inline at each call site rather than re-wrapping git2go's whole surface,
// since cepler's adapter only touches a handful of unsafe accessors.

import (
	"runtime"

	git2go "github.com/libgit2/git2go/v31"
	"lab.nexedi.com/kirr/go123/mem"
)

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// cloneString copies s into a freshly allocated, Go-owned buffer, then casts
// it back to a string without a second copy.
func cloneString(s string) string {
	b := make([]byte, len(s))
	copy(b, s)
	return mem.String(b)
}

// commitSummary clones a commit's one-line summary before the commit can be
// collected out from under the returned string.
func commitSummary(c *git2go.Commit) string {
	s := cloneString(c.Summary())
	runtime.KeepAlive(c)
	return s
}
