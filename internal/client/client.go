// Package client drives the initiating side of a sync. For a push, the
// local tree is the source: Run scans it, sends the file list, and acts on
// the destination's decisions by creating directories and symlinks and
// streaming new or updated files (with zstd compression and, for large
// updates, rsync-style deltas). For a pull, the local tree is the
// destination instead, and the remote agent (told to act as source by the
// pull flag in its HELLO) drives that same scan-and-send logic against the
// local side's internal/server.Handler.
package client

import (
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/julien-blanchon/sy/internal/delta"
	"github.com/julien-blanchon/sy/internal/logging"
	"github.com/julien-blanchon/sy/internal/scan"
	"github.com/julien-blanchon/sy/internal/server"
	"github.com/julien-blanchon/sy/internal/session"
	"github.com/julien-blanchon/sy/internal/syerr"
	"github.com/julien-blanchon/sy/internal/wire"
)

var log = logging.Root.Sublogger("client")

// Role selects which side of the comparison the local tree plays.
type Role uint8

const (
	RolePush Role = iota
	RolePull
)

// Options configures a sync run.
type Options struct {
	Root            string
	Role            Role
	Workers         int
	CompressMinSize uint64 // files at or above this size are zstd-compressed
	DeltaMinSize    uint64 // updated files at or above this size are sent as a delta
}

const (
	defaultCompressMinSize = 4 * 1024
	defaultWorkers         = 4
)

// Stats accumulates the outcome of a sync run: per-file failures reported
// back by the peer do not abort the run, so they are collected here instead
// (spec §7).
type Stats struct {
	Failed []PathFailure
}

// PathFailure pairs a relative path with the error the peer reported for it.
type PathFailure struct {
	Path string
	Err  error
}

// Run performs one full sync against sess. For RolePush, the local root is
// the source: it scans, sends the file list, and drives transfers. For
// RolePull, the local root is the destination: the peer (spawned with the
// pull flag set in its HELLO) plays the source role instead, so Run simply
// serves the same decide/receive/apply state machine the push destination
// uses, rooted at the local path.
func Run(sess *session.Session, opts Options) (*Stats, error) {
	if opts.Role == RolePull {
		return &Stats{}, server.New(opts.Root).Serve(sess)
	}
	return RunSource(sess, opts)
}

// RunSource is the source-side driver: scan, list, decide, transfer. It is
// used both for a local `sy push` (the initiating side drives it directly)
// and for the destination-requesting side of `sy pull` (the agent process
// runs it once it sees the peer's HELLO declared the pull flag).
func RunSource(sess *session.Session, opts Options) (*Stats, error) {
	if opts.Workers == 0 {
		opts.Workers = defaultWorkers
	}
	if opts.CompressMinSize == 0 {
		opts.CompressMinSize = defaultCompressMinSize
	}
	if opts.DeltaMinSize == 0 {
		opts.DeltaMinSize = delta.MinSize
	}

	entries, warnings, err := scan.Scan(opts.Root, scan.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "unable to scan source tree")
	}
	for _, w := range warnings {
		// Scan warnings (unreadable entries) are non-fatal; the sync
		// proceeds with whatever was successfully enumerated.
		log.Warn(w.Err)
	}

	var totalSize uint64
	for _, e := range entries {
		totalSize += e.Size
	}
	log.Debugf("scanned %d entries (%s) under %s", len(entries), humanize.Bytes(totalSize), opts.Root)

	wireEntries := make([]wire.FileListEntry, len(entries))
	for i, e := range entries {
		wireEntries[i] = toWireEntry(e)
	}
	if err := sess.Send(wire.TypeFileList, &wire.FileList{Entries: wireEntries}); err != nil {
		return nil, err
	}

	var ack wire.FileListAck
	if err := sess.Receive(wire.TypeFileListAck, &ack); err != nil {
		return nil, err
	}

	var mkdirPaths []string
	var symlinks []wire.SymlinkEntry
	var fileIndices []uint32

	actionByIndex := make(map[uint32]wire.Action, len(ack.Decisions))
	for _, d := range ack.Decisions {
		actionByIndex[d.Index] = d.Action
	}

	for i, e := range entries {
		idx := uint32(i)
		action := actionByIndex[idx]
		if action == wire.ActionSkip || action == wire.ActionDelete {
			continue
		}
		switch e.Kind {
		case scan.KindDirectory:
			mkdirPaths = append(mkdirPaths, e.Path)
		case scan.KindSymlink:
			symlinks = append(symlinks, wire.SymlinkEntry{Path: e.Path, Target: e.SymlinkTarget})
		default:
			fileIndices = append(fileIndices, idx)
		}
	}

	if len(mkdirPaths) > 0 {
		if err := sess.Send(wire.TypeMkdirBatch, &wire.MkdirBatch{Paths: mkdirPaths}); err != nil {
			return nil, err
		}
		var mack wire.MkdirBatchAck
		if err := sess.Receive(wire.TypeMkdirBatchAck, &mack); err != nil {
			return nil, err
		}
	}

	if len(symlinks) > 0 {
		if err := sess.Send(wire.TypeSymlinkBatch, &wire.SymlinkBatch{Entries: symlinks}); err != nil {
			return nil, err
		}
		var sack wire.SymlinkBatchAck
		if err := sess.Receive(wire.TypeSymlinkBatchAck, &sack); err != nil {
			return nil, err
		}
	}

	stats := &Stats{}
	for _, idx := range fileIndices {
		entry := entries[idx]
		action := actionByIndex[idx]
		if err := sendFile(sess, opts, entry, idx, action); err != nil {
			if errors.Cause(err) == syerr.ErrPerFile {
				stats.Failed = append(stats.Failed, PathFailure{Path: entry.Path, Err: err})
				continue
			}
			return nil, errors.Wrapf(err, "unable to sync %s", entry.Path)
		}
	}

	return stats, nil
}

func toWireEntry(e scan.Entry) wire.FileListEntry {
	var flags uint8
	switch e.Kind {
	case scan.KindDirectory:
		flags |= wire.FlagDirectory
	case scan.KindSymlink:
		flags |= wire.FlagSymlink
	}
	if e.LinkCount > 1 {
		flags |= wire.FlagHardlink
	}
	return wire.FileListEntry{
		Path:          e.Path,
		Size:          e.Size,
		ModTimeUnixNS: e.ModTime.UnixNano(),
		Mode:          e.Mode,
		Flags:         flags,
		SymlinkTarget: e.SymlinkTarget,
		Inode:         e.Inode,
		LinkCount:     e.LinkCount,
	}
}

// sendFile transfers one regular file, choosing between a delta (when the
// file is an update at or above DeltaMinSize) and a full, optionally
// compressed transfer.
func sendFile(sess *session.Session, opts Options, entry scan.Entry, idx uint32, action wire.Action) error {
	full := filepath.Join(opts.Root, filepath.FromSlash(entry.Path))

	if action == wire.ActionUpdate && entry.Size >= opts.DeltaMinSize {
		return sendDelta(sess, opts, full, entry, idx)
	}
	return sendFull(sess, full, entry, idx, opts.CompressMinSize)
}

// sendFull streams entry's content as one or more FILE_DATA chunks, flushed
// together rather than one at a time (SendFileDataNoFlush + Flush), then
// awaits the FILE_DONE the destination sends once it has written and
// finalized the file (spec §4.3: FILE_DONE travels receiver→sender).
func sendFull(sess *session.Session, full string, entry scan.Entry, idx uint32, compressMinSize uint64) error {
	f, err := os.Open(full)
	if err != nil {
		return errors.Wrapf(syerr.ErrLocalIO, "unable to open %s: %v", full, err)
	}
	defer f.Close()

	var r io.Reader = f
	compressed := entry.Size >= compressMinSize
	flags := uint8(0)
	if compressed {
		flags |= wire.FileDataFlagCompressed
	}

	const chunkSize = 256 * 1024
	buf := make([]byte, chunkSize)
	var offset uint64

	if compressed {
		pr, pw := io.Pipe()
		enc, err := zstd.NewWriter(pw)
		if err != nil {
			return err
		}
		g := new(errgroup.Group)
		g.Go(func() error {
			_, copyErr := io.Copy(enc, f)
			closeErr := enc.Close()
			pw.CloseWithError(copyErr)
			if copyErr != nil {
				return copyErr
			}
			return closeErr
		})
		r = pr
		defer g.Wait()
	}

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if err := sess.SendFileDataNoFlush(&wire.FileData{Index: idx, Offset: offset, Flags: flags, Data: append([]byte(nil), buf[:n]...)}); err != nil {
				return err
			}
			offset += uint64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	if offset == 0 {
		// A zero-length source file never produces a read chunk above, but
		// the destination still needs one FILE_DATA to open and immediately
		// complete the file.
		if err := sess.SendFileDataNoFlush(&wire.FileData{Index: idx, Offset: 0, Flags: flags}); err != nil {
			return err
		}
	}
	if err := sess.Flush(); err != nil {
		return err
	}

	var done wire.FileDone
	if err := sess.Receive(wire.TypeFileDone, &done); err != nil {
		return err
	}
	if done.Status != wire.StatusOK {
		return errors.Wrapf(syerr.ErrPerFile, "destination reported status %d for %s", done.Status, full)
	}

	log.Debugf("sent %s (%s, compressed=%v)", full, humanize.Bytes(offset), compressed)
	return nil
}

func sendDelta(sess *session.Session, opts Options, full string, entry scan.Entry, idx uint32) error {
	blockSize := delta.BlockSize(entry.Size)
	if err := sess.Send(wire.TypeChecksumReq, &wire.ChecksumReq{Index: idx, BlockSize: uint32(blockSize)}); err != nil {
		return err
	}
	var resp wire.ChecksumResp
	if err := sess.Receive(wire.TypeChecksumResp, &resp); err != nil {
		return err
	}

	f, err := os.Open(full)
	if err != nil {
		return errors.Wrapf(syerr.ErrLocalIO, "unable to open %s: %v", full, err)
	}
	defer f.Close()

	var ops []delta.Op
	err = delta.GenerateDeltaStreaming(f, delta.FromWireChecksums(resp.Blocks), blockSize, func(op delta.Op) error {
		ops = append(ops, op)
		return nil
	})
	if err != nil {
		return err
	}

	if err := sess.Send(wire.TypeDeltaData, &wire.DeltaData{Index: idx, Ops: delta.ToWireOps(ops)}); err != nil {
		return err
	}

	var done wire.FileDone
	if err := sess.Receive(wire.TypeFileDone, &done); err != nil {
		return err
	}
	if done.Status != wire.StatusOK {
		return errors.Wrapf(syerr.ErrPerFile, "destination reported status %d for %s", done.Status, full)
	}
	return nil
}
