// Package scan implements the parallel directory walker that produces the
// file inventory fed into the wire protocol's FILE_LIST message.
package scan

import "time"

// Kind classifies a scanned filesystem entry.
type Kind uint8

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
)

// Entry is one record produced by a scan: a path relative to the scan root,
// its size, modification time, kind, and (for symlinks) target.
//
// Invariants: Path is never empty for non-root entries and uses forward
// slashes regardless of host OS; for symlinks, Size is the length of the
// target string (0 if the link is broken); the scan root itself is never
// yielded as an entry.
type Entry struct {
	Path          string
	Size          uint64
	ModTime       time.Time
	Kind          Kind
	SymlinkTarget string
	Mode          uint16 // low 12 bits of the permission mode
	Inode         uint64
	LinkCount     uint32
}

// Warning describes a non-fatal failure encountered while walking: an entry
// that could not be read. The walk continues past it.
type Warning struct {
	Path string
	Err  error
}
