package bisync

import (
	"time"

	"github.com/julien-blanchon/sy/internal/scan"
)

// ChangeKind classifies how one path changed relative to the last
// recorded bisync state.
type ChangeKind uint8

const (
	Unchanged ChangeKind = iota
	ChangedSource
	ChangedDest
	Conflict
	Deleted
)

// Change is one path's reconciliation verdict.
type Change struct {
	Path string
	Kind ChangeKind
}

// Reconcile compares the current scan of source and dest against the
// recorded state for this pair and classifies every path: changed only on
// one side is ChangedSource or ChangedDest (Reconcile copies no content),
// changed on both sides since the last sync
// is a Conflict the caller must resolve explicitly (sy does not guess),
// and a path recorded previously but now missing from both scans is
// reported as Deleted.
func (db *DB) Reconcile(sourceEntries, destEntries []scan.Entry) []Change {
	sourceByPath := make(map[string]scan.Entry, len(sourceEntries))
	for _, e := range sourceEntries {
		if e.Kind == scan.KindDirectory {
			continue
		}
		sourceByPath[e.Path] = e
	}
	destByPath := make(map[string]scan.Entry, len(destEntries))
	for _, e := range destEntries {
		if e.Kind == scan.KindDirectory {
			continue
		}
		destByPath[e.Path] = e
	}

	seen := make(map[string]bool)
	var changes []Change

	classify := func(path string) Change {
		seen[path] = true
		src, hasSrc := sourceByPath[path]
		dst, hasDst := destByPath[path]
		priorSrc := db.Get(path, SideSource)
		priorDst := db.Get(path, SideDest)

		if !hasSrc && !hasDst {
			return Change{Path: path, Kind: Deleted}
		}

		srcChanged := hasSrc && (priorSrc == nil || priorSrc.Size != src.Size || !priorSrc.ModTime.Equal(src.ModTime))
		dstChanged := hasDst && (priorDst == nil || priorDst.Size != dst.Size || !priorDst.ModTime.Equal(dst.ModTime))

		switch {
		case srcChanged && dstChanged:
			return Change{Path: path, Kind: Conflict}
		case srcChanged:
			return Change{Path: path, Kind: ChangedSource}
		case dstChanged:
			return Change{Path: path, Kind: ChangedDest}
		default:
			return Change{Path: path, Kind: Unchanged}
		}
	}

	for path := range sourceByPath {
		changes = append(changes, classify(path))
	}
	for path := range destByPath {
		if !seen[path] {
			changes = append(changes, classify(path))
		}
	}
	for path := range db.states {
		if !seen[path] {
			changes = append(changes, classify(path))
		}
	}

	return changes
}

// RecordSynced stores fresh state for path on both sides after a
// successful reconciliation, stamping LastSync with now.
func (db *DB) RecordSynced(path string, src, dst *scan.Entry, now time.Time) error {
	if src != nil {
		if err := db.Store(&State{Path: path, Side: SideSource, ModTime: src.ModTime, Size: src.Size, LastSync: now}); err != nil {
			return err
		}
	}
	if dst != nil {
		if err := db.Store(&State{Path: path, Side: SideDest, ModTime: dst.ModTime, Size: dst.Size, LastSync: now}); err != nil {
			return err
		}
	}
	return nil
}
