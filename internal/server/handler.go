// Package server implements the destination-side half of a sync: it
// receives a file list, decides what each entry needs, and applies
// directory, symlink, full-file, and delta updates against the local
// filesystem. It is grounded on the INIT/READY/DECIDED/STREAM flow that
// mutagen's rsync server and the original server/handler.rs both
// implement in spirit, generalized to sy's fuller decision rule (kind and
// mtime comparison, not just size).
package server

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/julien-blanchon/sy/internal/checksumcache"
	"github.com/julien-blanchon/sy/internal/delta"
	"github.com/julien-blanchon/sy/internal/logging"
	"github.com/julien-blanchon/sy/internal/session"
	"github.com/julien-blanchon/sy/internal/syerr"
	"github.com/julien-blanchon/sy/internal/wire"
)

var log = logging.Root.Sublogger("server")

// openFile tracks an in-progress FILE_DATA or DELTA_DATA reception.
type openFile struct {
	path     string
	tmpPath  string
	file     *os.File
	action   wire.Action
	received uint64
}

// Handler owns the destination root and the state accumulated across one
// sync session: the pending file list, each file's decided action, and any
// files currently being written.
type Handler struct {
	root    string
	entries []wire.FileListEntry
	actions map[uint32]wire.Action
	open    map[uint32]*openFile
	cache   *checksumcache.Cache
}

// New creates a handler rooted at root, which must already exist. It opens
// the on-disk checksum cache (internal/checksumcache) if a cache directory
// can be determined; a handler with no usable cache directory still works,
// it just recomputes every checksum table from scratch.
func New(root string) *Handler {
	h := &Handler{root: root, actions: make(map[uint32]wire.Action), open: make(map[uint32]*openFile)}
	path, err := checksumcache.DefaultPath()
	if err != nil {
		log.Debugf("checksum cache disabled: %v", err)
		return h
	}
	cache, err := checksumcache.Open(path)
	if err != nil {
		log.Warn(errors.Wrap(err, "unable to open checksum cache"))
		return h
	}
	h.cache = cache
	return h
}

// Serve drives the handler against sess until the peer disconnects or a
// terminal error occurs.
func (h *Handler) Serve(sess *session.Session) error {
	if h.cache != nil {
		defer h.cache.Close()
	}
	for {
		t, length, err := sess.DecodeHeader()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "unable to read frame")
		}

		if err := h.dispatch(sess, t, length); err != nil {
			_ = sess.SendError(1, err.Error())
			return errors.Wrap(err, "unable to handle frame")
		}
	}
}

func (h *Handler) dispatch(sess *session.Session, t wire.Type, length uint32) error {
	switch t {
	case wire.TypeFileList:
		var m wire.FileList
		if err := sess.DecodePayload(t, length, &m); err != nil {
			return err
		}
		return h.handleFileList(sess, m)
	case wire.TypeMkdirBatch:
		var m wire.MkdirBatch
		if err := sess.DecodePayload(t, length, &m); err != nil {
			return err
		}
		return h.handleMkdirBatch(sess, m)
	case wire.TypeSymlinkBatch:
		var m wire.SymlinkBatch
		if err := sess.DecodePayload(t, length, &m); err != nil {
			return err
		}
		return h.handleSymlinkBatch(sess, m)
	case wire.TypeFileData:
		var m wire.FileData
		if err := sess.DecodePayload(t, length, &m); err != nil {
			return err
		}
		return h.handleFileData(sess, m)
	case wire.TypeChecksumReq:
		var m wire.ChecksumReq
		if err := sess.DecodePayload(t, length, &m); err != nil {
			return err
		}
		return h.handleChecksumReq(sess, m)
	case wire.TypeDeltaData:
		var m wire.DeltaData
		if err := sess.DecodePayload(t, length, &m); err != nil {
			return err
		}
		return h.handleDeltaData(sess, m)
	default:
		return errors.Wrapf(syerr.ErrProtocolFraming, "unexpected message type %s", t)
	}
}

// handleFileList computes a Decision for every entry against the local
// tree and sends FILE_LIST_ACK.
func (h *Handler) handleFileList(sess *session.Session, list wire.FileList) error {
	h.entries = list.Entries
	decisions := make([]wire.Decision, len(list.Entries))
	for i, e := range list.Entries {
		local, exists, err := statLocal(h.root, e.Path)
		if err != nil {
			return errors.Wrapf(err, "unable to stat %s", e.Path)
		}
		action := decide(e, local, exists)
		h.actions[uint32(i)] = action
		decisions[i] = wire.Decision{Index: uint32(i), Action: action}
	}
	return sess.Send(wire.TypeFileListAck, &wire.FileListAck{Decisions: decisions})
}

// handleMkdirBatch creates each requested directory (and its parents),
// reporting per-path failures rather than aborting the batch.
func (h *Handler) handleMkdirBatch(sess *session.Session, batch wire.MkdirBatch) error {
	var created uint32
	var failed []wire.PathError
	for _, p := range batch.Paths {
		full := filepath.Join(h.root, filepath.FromSlash(p))
		if err := os.MkdirAll(full, 0755); err != nil {
			failed = append(failed, wire.PathError{Path: p, Error: err.Error()})
			continue
		}
		created++
	}
	return sess.Send(wire.TypeMkdirBatchAck, &wire.MkdirBatchAck{Created: created, Failed: failed})
}

// handleSymlinkBatch creates each requested symlink, replacing whatever
// previously existed at that path.
func (h *Handler) handleSymlinkBatch(sess *session.Session, batch wire.SymlinkBatch) error {
	var created uint32
	var failed []wire.PathError
	for _, e := range batch.Entries {
		full := filepath.Join(h.root, filepath.FromSlash(e.Path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			failed = append(failed, wire.PathError{Path: e.Path, Error: err.Error()})
			continue
		}
		_ = os.Remove(full)
		if err := os.Symlink(e.Target, full); err != nil {
			failed = append(failed, wire.PathError{Path: e.Path, Error: err.Error()})
			continue
		}
		created++
	}
	return sess.Send(wire.TypeSymlinkBatchAck, &wire.SymlinkBatchAck{Created: created, Failed: failed})
}

// handleFileData writes one chunk of a full-file transfer to a temp file
// next to the final destination, truncating at offset 0 and appending
// thereafter. The legacy FILE_DATA-as-symlink path is handled here too:
// when FileDataFlagSymlink is set, Data carries the link target as bytes
// instead of file content. Once the file's received byte count reaches its
// declared size, the temp file is closed and renamed into place and
// FILE_DONE is sent back to the sender (spec: FILE_DONE travels
// receiver→sender).
func (h *Handler) handleFileData(sess *session.Session, m wire.FileData) error {
	if m.Index >= uint32(len(h.entries)) {
		return errors.Wrapf(syerr.ErrProtocolFraming, "file data index %d out of range", m.Index)
	}
	entry := h.entries[m.Index]

	if m.IsLegacySymlink() {
		full := filepath.Join(h.root, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		_ = os.Remove(full)
		if err := os.Symlink(string(m.Data), full); err != nil {
			return err
		}
		return sess.Send(wire.TypeFileDone, &wire.FileDone{Index: m.Index, Status: wire.StatusOK})
	}

	of := h.open[m.Index]
	if of == nil {
		full := filepath.Join(h.root, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		tmp := full + ".sytmp"
		f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(entry.Mode))
		if err != nil {
			return errors.Wrapf(syerr.ErrLocalIO, "unable to create temp file for %s: %v", entry.Path, err)
		}
		of = &openFile{path: full, tmpPath: tmp, file: f, action: h.actions[m.Index]}
		h.open[m.Index] = of
	}

	if len(m.Data) > 0 {
		if _, err := of.file.WriteAt(m.Data, int64(m.Offset)); err != nil {
			return errors.Wrapf(syerr.ErrLocalIO, "unable to write %s: %v", entry.Path, err)
		}
	}
	of.received = m.Offset + uint64(len(m.Data))

	if of.received >= entry.Size {
		delete(h.open, m.Index)
		if err := of.file.Close(); err != nil {
			return errors.Wrapf(err, "unable to close temp file for %s", of.path)
		}
		if err := os.Rename(of.tmpPath, of.path); err != nil {
			_ = os.Remove(of.tmpPath)
			return errors.Wrapf(err, "unable to finalize %s", of.path)
		}
		return sess.Send(wire.TypeFileDone, &wire.FileDone{Index: m.Index, Status: wire.StatusOK})
	}
	return nil
}

// handleChecksumReq computes and returns the block checksum table for an
// existing destination file, against which the client generates the delta
// for an update. A checksum table already computed for this
// path, mtime, size, and block size is served from the on-disk cache
// instead of being recomputed.
func (h *Handler) handleChecksumReq(sess *session.Session, m wire.ChecksumReq) error {
	if m.Index >= uint32(len(h.entries)) {
		return errors.Wrapf(syerr.ErrProtocolFraming, "checksum req index %d out of range", m.Index)
	}
	entry := h.entries[m.Index]
	full := filepath.Join(h.root, filepath.FromSlash(entry.Path))

	info, err := os.Stat(full)
	if err != nil {
		return errors.Wrapf(err, "unable to stat %s for checksumming", entry.Path)
	}

	var blocks []delta.BlockChecksum
	if h.cache != nil {
		if cached, cerr := h.cache.Get(full, info.ModTime().UnixNano(), uint64(info.Size()), uint64(m.BlockSize)); cerr == nil && cached != nil {
			blocks = cached
		}
	}

	if blocks == nil {
		f, err := os.Open(full)
		if err != nil {
			return errors.Wrapf(err, "unable to open %s for checksumming", entry.Path)
		}
		blocks, err = delta.Checksums(f, uint64(m.BlockSize))
		f.Close()
		if err != nil {
			return errors.Wrapf(err, "unable to checksum %s", entry.Path)
		}
		if h.cache != nil {
			if err := h.cache.Put(full, info.ModTime().UnixNano(), uint64(info.Size()), uint64(m.BlockSize), blocks); err != nil {
				log.Debugf("unable to cache checksums for %s: %v", entry.Path, err)
			}
		}
	}

	return sess.Send(wire.TypeChecksumResp, &wire.ChecksumResp{Blocks: delta.ToWireChecksums(blocks)})
}

// handleDeltaData applies a received delta against the existing
// destination file and atomically replaces it.
func (h *Handler) handleDeltaData(sess *session.Session, m wire.DeltaData) error {
	if m.Index >= uint32(len(h.entries)) {
		return errors.Wrapf(syerr.ErrProtocolFraming, "delta data index %d out of range", m.Index)
	}
	entry := h.entries[m.Index]
	full := filepath.Join(h.root, filepath.FromSlash(entry.Path))

	base, err := os.Open(full)
	if err != nil {
		return errors.Wrapf(err, "unable to open base file %s", entry.Path)
	}
	defer base.Close()

	tmp := full + ".sytmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(entry.Mode))
	if err != nil {
		return errors.Wrapf(syerr.ErrLocalIO, "unable to create temp file for %s: %v", entry.Path, err)
	}

	if err := delta.Apply(out, base, delta.FromWireOps(m.Ops)); err != nil {
		out.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "unable to apply delta for %s", entry.Path)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "unable to close temp file for %s", entry.Path)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "unable to finalize %s", entry.Path)
	}
	return sess.Send(wire.TypeFileDone, &wire.FileDone{Index: m.Index, Status: wire.StatusOK})
}
