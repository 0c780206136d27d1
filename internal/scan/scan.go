package scan

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Scan walks root and returns every directory, regular file, and symlink
// reachable from it (without following symlinks), each with a path relative
// to root. The set of entries returned does not depend on the thread count
// used internally (Invariant: set(scan(root, n)) == set(scan(root, 1))).
//
// Selection between a sequential and worker-pool walk is automatic: when
// root has fewer than parallelThreshold immediate children, the walk runs
// sequentially; otherwise top-level subtrees are distributed across a
// worker pool. opts.Threads overrides this selection.
func Scan(root string, opts Options) ([]Entry, []Warning, error) {
	rootInfo, err := os.Lstat(root)
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to stat scan root")
	}
	if !rootInfo.IsDir() {
		return nil, nil, errors.New("scan root is not a directory")
	}

	children, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to read scan root")
	}

	threads := opts.Threads
	if threads == 0 && len(children) >= parallelThreshold {
		threads = opts.workerCount()
	}

	var entries []Entry
	var warnings []Warning
	if threads <= 1 {
		entries, warnings = walkSequential(root, children)
	} else {
		entries, warnings = walkParallel(root, children, threads)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, warnings, nil
}

// walkSequential walks every child of root in the calling goroutine.
func walkSequential(root string, children []os.DirEntry) ([]Entry, []Warning) {
	var entries []Entry
	var warnings []Warning
	for _, child := range children {
		childPath := filepath.Join(root, child.Name())
		walkOne(root, childPath, &entries, &warnings)
	}
	return entries, warnings
}

// walkParallel distributes each top-level child of root across a bounded
// worker pool (golang.org/x/sync/errgroup, limited to the given thread
// count), collecting results under a mutex.
func walkParallel(root string, children []os.DirEntry, threads int) ([]Entry, []Warning) {
	var mu sync.Mutex
	var entries []Entry
	var warnings []Warning

	g := new(errgroup.Group)
	g.SetLimit(threads)
	for _, child := range children {
		child := child
		g.Go(func() error {
			childPath := filepath.Join(root, child.Name())
			var localEntries []Entry
			var localWarnings []Warning
			walkOne(root, childPath, &localEntries, &localWarnings)

			mu.Lock()
			entries = append(entries, localEntries...)
			warnings = append(warnings, localWarnings...)
			mu.Unlock()
			return nil
		})
	}
	// Walk errors are reported as Warnings, not aborted goroutines, so this
	// can never actually return an error; Wait only provides synchronization.
	_ = g.Wait()
	return entries, warnings
}

// walkOne records an entry for path (relative to root) and, if path is a
// directory, recurses into it. Unreadable entries are appended to warnings
// rather than aborting the walk.
func walkOne(root, path string, entries *[]Entry, warnings *[]Warning) {
	info, err := os.Lstat(path)
	if err != nil {
		*warnings = append(*warnings, Warning{Path: path, Err: err})
		return
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		*warnings = append(*warnings, Warning{Path: path, Err: err})
		return
	}
	rel = filepath.ToSlash(rel)

	mode := uint16(info.Mode().Perm())
	if info.Mode()&os.ModeSetuid != 0 {
		mode |= 0o4000
	}
	if info.Mode()&os.ModeSetgid != 0 {
		mode |= 0o2000
	}
	if info.Mode()&os.ModeSticky != 0 {
		mode |= 0o1000
	}
	entry := Entry{
		Path:    rel,
		ModTime: info.ModTime(),
		Mode:    mode,
	}
	applyPlatformStat(&entry, info)

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		entry.Kind = KindSymlink
		target, err := os.Readlink(path)
		if err != nil {
			// A broken or unreadable symlink is still recorded, just with no
			// resolvable target and size 0, per spec: size is the target
			// string length, or 0 if broken.
			entry.SymlinkTarget = ""
			entry.Size = 0
			*warnings = append(*warnings, Warning{Path: path, Err: err})
		} else {
			entry.SymlinkTarget = target
			entry.Size = uint64(len(target))
		}
		*entries = append(*entries, entry)
	case info.IsDir():
		entry.Kind = KindDirectory
		*entries = append(*entries, entry)
		children, err := os.ReadDir(path)
		if err != nil {
			*warnings = append(*warnings, Warning{Path: path, Err: err})
			return
		}
		for _, child := range children {
			walkOne(root, filepath.Join(path, child.Name()), entries, warnings)
		}
	default:
		entry.Kind = KindRegular
		entry.Size = uint64(info.Size())
		*entries = append(*entries, entry)
	}
}
