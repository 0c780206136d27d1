// Package bisync persists per-file sync state across bidirectional sync
// runs, so a later run can tell whether a file changed on the source, the
// destination, both (a conflict), or neither since the last successful
// sync. The on-disk format and state-directory resolution are a direct
// port of the original implementation's bisync state store, kept
// text-based and line-oriented rather than moved onto a binary KV store,
// since the original format is part of what a complete port of this
// system preserves.
package bisync

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/julien-blanchon/sy/internal/syerr"
)

// FormatVersion is the current on-disk state format.
const FormatVersion = "v2"

// Side identifies which endpoint a SyncState record describes.
type Side uint8

const (
	SideSource Side = iota
	SideDest
)

func (s Side) String() string {
	if s == SideSource {
		return "source"
	}
	return "dest"
}

func sideFromString(s string) (Side, bool) {
	switch s {
	case "source":
		return SideSource, true
	case "dest":
		return SideDest, true
	default:
		return 0, false
	}
}

// State is one side's last-known metadata for one relative path.
type State struct {
	Path     string
	Side     Side
	ModTime  time.Time
	Size     uint64
	Checksum *uint64
	LastSync time.Time
}

// pair holds a path's source and destination records, either of which may
// be absent.
type pair struct {
	source *State
	dest   *State
}

// DB is a bidirectional sync state store for one source/destination pair,
// backed by a single text file under the state directory.
type DB struct {
	stateFile  string
	sourcePath string
	destPath   string
	states     map[string]*pair
}

// Open loads (or initializes) the state store for the given source and
// destination roots.
func Open(source, dest string) (*DB, error) {
	stateDir, err := stateDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, errors.Wrap(err, "unable to create bisync state directory")
	}

	hash := syncPairHash(source, dest)
	stateFile := filepath.Join(stateDir, hash+".lst")

	db := &DB{stateFile: stateFile, sourcePath: source, destPath: dest, states: make(map[string]*pair)}

	if _, err := os.Stat(stateFile); err == nil {
		if err := db.loadFromFile(); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "unable to stat bisync state file")
	}

	return db, nil
}

// stateDir resolves the bisync state directory: $XDG_CACHE_HOME/sy/bisync
// if set, otherwise $HOME/.cache/sy/bisync.
func stateDir() (string, error) {
	var cacheDir string
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		cacheDir = xdg
	} else if home := os.Getenv("HOME"); home != "" {
		cacheDir = filepath.Join(home, ".cache")
	} else {
		return "", errors.New("cannot determine cache directory: HOME not set")
	}
	return filepath.Join(cacheDir, "sy", "bisync"), nil
}

// syncPairHash derives a stable filename for a (source, dest) pair using
// the same approach as the original store: hash both paths and render the
// digest as hex. xxhash stands in for Rust's DefaultHasher, since the only
// requirement is a stable, fast, non-cryptographic digest.
func syncPairHash(source, dest string) string {
	d := xxhash.New()
	d.Write([]byte(source))
	d.Write([]byte{0})
	d.Write([]byte(dest))
	return fmt.Sprintf("%x", d.Sum64())
}

// SyncPairHash exposes the current pair's hash, useful for diagnostics.
func (db *DB) SyncPairHash() string {
	return syncPairHash(db.sourcePath, db.destPath)
}

func unescapePath(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c != '\\' || i+1 >= len(runes) {
			b.WriteRune(c)
			continue
		}
		i++
		switch runes[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteRune(runes[i])
		}
	}
	return b.String()
}

func escapePath(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 10)
	b.WriteByte('"')
	for _, c := range s {
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// loadFromFile parses the state file, supporting both the legacy 5-field
// format (where last_sync defaults to mtime) and the current 6-field
// format. Malformed lines are a hard error rather than a silently skipped
// or zero-defaulted record, since a corrupt state file should surface as
// syerr.ErrStateCorrupt-class failure rather than quietly losing history.
func (db *DB) loadFromFile() error {
	f, err := os.Open(db.stateFile)
	if err != nil {
		return errors.Wrap(err, "unable to open bisync state file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, " ", 6)
		var sideStr, mtimeStr, sizeStr, checksumStr, lastSyncStr, pathStr string
		switch len(parts) {
		case 6:
			if strings.HasPrefix(parts[4], `"`) {
				// A 5-field line whose quoted path contains a space.
				sideStr, mtimeStr, sizeStr, checksumStr, pathStr = parts[0], parts[1], parts[2], parts[3], parts[4]+" "+parts[5]
				lastSyncStr = mtimeStr
				break
			}
			sideStr, mtimeStr, sizeStr, checksumStr, lastSyncStr, pathStr = parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]
		case 5:
			sideStr, mtimeStr, sizeStr, checksumStr, pathStr = parts[0], parts[1], parts[2], parts[3], parts[4]
			lastSyncStr = mtimeStr
		default:
			return errors.Wrapf(syerr.ErrStateCorrupt, "malformed state file line %d: expected 5 or 6 fields, got %d", lineNum, len(parts))
		}

		side, ok := sideFromString(sideStr)
		if !ok {
			return errors.Wrapf(syerr.ErrStateCorrupt, "invalid side %q on line %d", sideStr, lineNum)
		}
		mtimeNS, err := strconv.ParseInt(mtimeStr, 10, 64)
		if err != nil {
			return errors.Wrapf(syerr.ErrStateCorrupt, "invalid mtime %q on line %d", mtimeStr, lineNum)
		}
		size, err := strconv.ParseUint(sizeStr, 10, 64)
		if err != nil {
			return errors.Wrapf(syerr.ErrStateCorrupt, "invalid size %q on line %d", sizeStr, lineNum)
		}
		var checksum *uint64
		if checksumStr != "-" {
			v, err := strconv.ParseUint(checksumStr, 16, 64)
			if err != nil {
				return errors.Wrapf(syerr.ErrStateCorrupt, "invalid checksum %q on line %d", checksumStr, lineNum)
			}
			checksum = &v
		}
		lastSyncNS, err := strconv.ParseInt(lastSyncStr, 10, 64)
		if err != nil {
			return errors.Wrapf(syerr.ErrStateCorrupt, "invalid last_sync %q on line %d", lastSyncStr, lineNum)
		}

		path := pathStr
		if len(pathStr) >= 2 && strings.HasPrefix(pathStr, `"`) && strings.HasSuffix(pathStr, `"`) {
			path = unescapePath(pathStr[1 : len(pathStr)-1])
		}

		state := &State{
			Path:     path,
			Side:     side,
			ModTime:  time.Unix(0, mtimeNS),
			Size:     size,
			Checksum: checksum,
			LastSync: time.Unix(0, lastSyncNS),
		}

		p := db.states[path]
		if p == nil {
			p = &pair{}
			db.states[path] = p
		}
		if side == SideSource {
			p.source = state
		} else {
			p.dest = state
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "unable to read bisync state file")
	}
	return nil
}

// saveToFile rewrites the entire state file: a header comment block
// followed by every record, sorted by path for deterministic output, then
// an atomic rename into place.
func (db *DB) saveToFile() error {
	tmp := db.stateFile + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "unable to create bisync temp state file")
	}

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# sy bisync %s\n", FormatVersion)
	fmt.Fprintf(w, "# sync_pair: %s <-> %s\n", db.sourcePath, db.destPath)
	fmt.Fprintf(w, "# last_sync: %s\n", time.Now().UTC().Format(time.RFC3339))

	paths := make([]string, 0, len(db.states))
	for p := range db.states {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		entry := db.states[p]
		if entry.source != nil {
			writeState(w, entry.source)
		}
		if entry.dest != nil {
			writeState(w, entry.dest)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "unable to write bisync state file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "unable to close bisync state file")
	}
	if err := os.Rename(tmp, db.stateFile); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "unable to finalize bisync state file")
	}
	return nil
}

func writeState(w *bufio.Writer, s *State) {
	checksumStr := "-"
	if s.Checksum != nil {
		checksumStr = fmt.Sprintf("%x", *s.Checksum)
	}
	fmt.Fprintf(w, "%s %d %d %s %d %s\n",
		s.Side, s.ModTime.UnixNano(), s.Size, checksumStr, s.LastSync.UnixNano(), escapePath(s.Path))
}

// Store records state for one (path, side) and persists the whole store.
func (db *DB) Store(s *State) error {
	p := db.states[s.Path]
	if p == nil {
		p = &pair{}
		db.states[s.Path] = p
	}
	cp := *s
	if s.Side == SideSource {
		p.source = &cp
	} else {
		p.dest = &cp
	}
	return db.saveToFile()
}

// Get retrieves the last-recorded state for (path, side), or nil if none
// is recorded.
func (db *DB) Get(path string, side Side) *State {
	p := db.states[path]
	if p == nil {
		return nil
	}
	if side == SideSource {
		return p.source
	}
	return p.dest
}

// LoadAll returns every recorded path's source and destination state.
func (db *DB) LoadAll() map[string]*State {
	out := make(map[string]*State, len(db.states)*2)
	for path, p := range db.states {
		if p.source != nil {
			out[path+"\x00source"] = p.source
		}
		if p.dest != nil {
			out[path+"\x00dest"] = p.dest
		}
	}
	return out
}

// Delete removes all recorded state for path and persists the store.
func (db *DB) Delete(path string) error {
	delete(db.states, path)
	return db.saveToFile()
}

// ClearAll removes every recorded state, used by the bisync command's
// --clear-state flag.
func (db *DB) ClearAll() error {
	db.states = make(map[string]*pair)
	return db.saveToFile()
}

// PruneStale is not yet implemented: the original store special-cases this
// as a future feature and returns zero pruned records rather than
// guessing at retention policy.
func (db *DB) PruneStale(keepSyncs int) (int, error) {
	return 0, nil
}
