// Package hashid implements the opaque content identifiers used throughout
// cepler: CommitHash and FileHash. Both wrap a git2go.Oid but are never
// shown a repository - they are comparable values that round-trip through
// YAML as plain hex strings.
package hashid

import (
	"fmt"

	git2go "github.com/libgit2/git2go/v31"
)

// ShortLen is the number of hex characters used for display purposes.
const ShortLen = 7

// CommitHash identifies a Git commit. Equality compares the full 40-hex
// object id; the type defines no ordering.
type CommitHash struct {
	oid git2go.Oid
}

// FileHash identifies the content of a file blob. Two FileHash values are
// equal iff the blobs they name are byte-identical.
type FileHash struct {
	oid git2go.Oid
}

// NullCommitHash and NullFileHash are the zero values; IsNull reports them.
var (
	NullCommitHash CommitHash
	NullFileHash   FileHash
)

// CommitHashFromOid wraps a git2go.Oid as a CommitHash.
func CommitHashFromOid(oid *git2go.Oid) CommitHash {
	return CommitHash{oid: *oid}
}

// FileHashFromOid wraps a git2go.Oid as a FileHash.
func FileHashFromOid(oid *git2go.Oid) FileHash {
	return FileHash{oid: *oid}
}

// Oid returns the underlying git2go.Oid, for handing back to git2go calls.
func (c CommitHash) Oid() *git2go.Oid { oid := c.oid; return &oid }
func (f FileHash) Oid() *git2go.Oid   { oid := f.oid; return &oid }

func (c CommitHash) String() string { return c.oid.String() }
func (f FileHash) String() string   { return f.oid.String() }

// ShortRef returns the display form: a 7-character hex prefix.
func (c CommitHash) ShortRef() string {
	s := c.oid.String()
	if len(s) <= ShortLen {
		return s
	}
	return s[:ShortLen]
}

func (c CommitHash) IsNull() bool { return c.oid.IsZero() }
func (f FileHash) IsNull() bool   { return f.oid.IsZero() }

func (c CommitHash) Equal(o CommitHash) bool { return c.oid.Equal(&o.oid) }
func (f FileHash) Equal(o FileHash) bool     { return f.oid.Equal(&o.oid) }

// ParseCommitHash parses a 40-character hex commit id.
func ParseCommitHash(s string) (CommitHash, error) {
	oid, err := git2go.NewOid(s)
	if err != nil {
		return CommitHash{}, fmt.Errorf("hashid: invalid commit hash %q: %w", s, err)
	}
	return CommitHash{oid: *oid}, nil
}

// ParseFileHash parses a 40-character hex blob id.
func ParseFileHash(s string) (FileHash, error) {
	oid, err := git2go.NewOid(s)
	if err != nil {
		return FileHash{}, fmt.Errorf("hashid: invalid file hash %q: %w", s, err)
	}
	return FileHash{oid: *oid}, nil
}

// MarshalYAML implements yaml.Marshaler so CommitHash serializes as a bare
// hex string rather than as a struct.
func (c CommitHash) MarshalYAML() (interface{}, error) {
	return c.oid.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *CommitHash) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	h, err := ParseCommitHash(s)
	if err != nil {
		return err
	}
	*c = h
	return nil
}

func (f FileHash) MarshalYAML() (interface{}, error) {
	return f.oid.String(), nil
}

func (f *FileHash) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	h, err := ParseFileHash(s)
	if err != nil {
		return err
	}
	*f = h
	return nil
}
