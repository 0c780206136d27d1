package server

import (
	"testing"
	"time"

	"github.com/julien-blanchon/sy/internal/wire"
)

func TestDecideCreate(t *testing.T) {
	remote := wire.FileListEntry{Path: "a.txt", Size: 10}
	if got := decide(remote, localEntry{}, false); got != wire.ActionCreate {
		t.Errorf("got %v, want ActionCreate", got)
	}
}

func TestDecideDirectoryAlwaysSkip(t *testing.T) {
	remote := wire.FileListEntry{Path: "dir", Flags: wire.FlagDirectory}
	local := localEntry{kind: wire.EntryDirectory}
	if got := decide(remote, local, true); got != wire.ActionSkip {
		t.Errorf("got %v, want ActionSkip", got)
	}
}

func TestDecideSymlinkSameTargetSkips(t *testing.T) {
	remote := wire.FileListEntry{Path: "link", Flags: wire.FlagSymlink, SymlinkTarget: "target"}
	local := localEntry{kind: wire.EntrySymlink, target: "target"}
	if got := decide(remote, local, true); got != wire.ActionSkip {
		t.Errorf("got %v, want ActionSkip", got)
	}
}

func TestDecideSymlinkDifferentTargetUpdates(t *testing.T) {
	remote := wire.FileListEntry{Path: "link", Flags: wire.FlagSymlink, SymlinkTarget: "new-target"}
	local := localEntry{kind: wire.EntrySymlink, target: "old-target"}
	if got := decide(remote, local, true); got != wire.ActionUpdate {
		t.Errorf("got %v, want ActionUpdate", got)
	}
}

func TestDecideKindMismatchUpdates(t *testing.T) {
	remote := wire.FileListEntry{Path: "a", Size: 10}
	local := localEntry{kind: wire.EntryDirectory}
	if got := decide(remote, local, true); got != wire.ActionUpdate {
		t.Errorf("got %v, want ActionUpdate", got)
	}
}

func TestDecideRegularFileSizeMismatchUpdates(t *testing.T) {
	now := time.Now()
	remote := wire.FileListEntry{Path: "a.txt", Size: 10, ModTimeUnixNS: now.UnixNano()}
	local := localEntry{kind: wire.EntryRegular, size: 5, modTime: now}
	if got := decide(remote, local, true); got != wire.ActionUpdate {
		t.Errorf("got %v, want ActionUpdate", got)
	}
}

// TestDecideRegularFileDestinationNewerSkips covers the corrected mtime
// rule: a destination mtime strictly newer than the source entry's is a
// Skip, not an Update, since only a local mtime older than the entry's
// indicates the destination is stale.
func TestDecideRegularFileDestinationNewerSkips(t *testing.T) {
	entryTime := time.Unix(1000, 0)
	localTime := entryTime.Add(time.Hour)
	remote := wire.FileListEntry{Path: "a.txt", Size: 10, ModTimeUnixNS: entryTime.UnixNano()}
	local := localEntry{kind: wire.EntryRegular, size: 10, modTime: localTime}
	if got := decide(remote, local, true); got != wire.ActionSkip {
		t.Errorf("got %v, want ActionSkip", got)
	}
}

// TestDecideRegularFileDestinationOlderUpdates covers the same rule from
// the other side: a destination mtime strictly older than the entry's
// mtime is stale and must be updated even though sizes match.
func TestDecideRegularFileDestinationOlderUpdates(t *testing.T) {
	entryTime := time.Unix(2000, 0)
	localTime := entryTime.Add(-time.Hour)
	remote := wire.FileListEntry{Path: "a.txt", Size: 10, ModTimeUnixNS: entryTime.UnixNano()}
	local := localEntry{kind: wire.EntryRegular, size: 10, modTime: localTime}
	if got := decide(remote, local, true); got != wire.ActionUpdate {
		t.Errorf("got %v, want ActionUpdate", got)
	}
}

func TestDecideRegularFileExactMatchSkips(t *testing.T) {
	now := time.Unix(5000, 0)
	remote := wire.FileListEntry{Path: "a.txt", Size: 10, ModTimeUnixNS: now.UnixNano()}
	local := localEntry{kind: wire.EntryRegular, size: 10, modTime: now}
	if got := decide(remote, local, true); got != wire.ActionSkip {
		t.Errorf("got %v, want ActionSkip", got)
	}
}
