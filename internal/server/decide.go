package server

import (
	"os"
	"path/filepath"
	"time"

	"github.com/julien-blanchon/sy/internal/wire"
)

// localEntry is what the handler knows about one path already present on
// disk at the destination.
type localEntry struct {
	kind    wire.EntryKind
	size    uint64
	modTime time.Time
	target  string
}

// decide implements the server's per-file verdict (spec.md's decision
// rule, mirroring the comparison ServerHandler.handle_file_list performs
// against its file_map, generalized to cover directories and symlinks
// rather than only regular-file size comparison):
//
//   - destination path absent entirely: Create
//   - destination is a directory, remote entry is a directory: Skip
//     (directories are never re-created, only mkdir'd on demand)
//   - kind mismatch (file vs directory vs symlink): Update
//   - symlink vs symlink: Update unless targets are identical, else Skip
//   - regular file vs regular file: Skip if size matches and the
//     destination's modification time is not older than the entry's;
//     otherwise Update
func decide(remote wire.FileListEntry, local localEntry, exists bool) wire.Action {
	if !exists {
		return wire.ActionCreate
	}

	remoteKind := wire.EntryRegular
	switch {
	case remote.IsDirectory():
		remoteKind = wire.EntryDirectory
	case remote.IsSymlink():
		remoteKind = wire.EntrySymlink
	}

	if remoteKind != local.kind {
		return wire.ActionUpdate
	}

	switch remoteKind {
	case wire.EntryDirectory:
		return wire.ActionSkip
	case wire.EntrySymlink:
		if remote.SymlinkTarget == local.target {
			return wire.ActionSkip
		}
		return wire.ActionUpdate
	default:
		remoteModTime := time.Unix(0, remote.ModTimeUnixNS)
		if remote.Size == local.size && !local.modTime.Before(remoteModTime) {
			return wire.ActionSkip
		}
		return wire.ActionUpdate
	}
}

// statLocal looks up the current state of path (relative to root) on disk,
// without following symlinks.
func statLocal(root, relPath string) (localEntry, bool, error) {
	full := filepath.Join(root, filepath.FromSlash(relPath))
	info, err := os.Lstat(full)
	if os.IsNotExist(err) {
		return localEntry{}, false, nil
	}
	if err != nil {
		return localEntry{}, false, err
	}

	entry := localEntry{modTime: info.ModTime(), size: uint64(info.Size())}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		entry.kind = wire.EntrySymlink
		target, err := os.Readlink(full)
		if err != nil {
			return localEntry{}, false, err
		}
		entry.target = target
	case info.IsDir():
		entry.kind = wire.EntryDirectory
	default:
		entry.kind = wire.EntryRegular
	}
	return entry, true, nil
}
