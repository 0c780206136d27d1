// Package checksumcache memoizes per-file block checksum tables across
// runs, keyed by path, modification time, and size, so that re-running a
// sync against an unchanged destination file doesn't recompute its rsync
// signature from scratch. It is backed by go.etcd.io/bbolt, whose
// single-writer/multi-reader transactional model matches the cache's
// concurrency contract directly: readers never block on one another, and
// every write is atomic with respect to concurrent reads.
package checksumcache

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/julien-blanchon/sy/internal/delta"
	"github.com/julien-blanchon/sy/internal/syerr"
)

var bucketName = []byte("checksums")

// Cache is a bbolt-backed store of delta.BlockChecksum tables.
type Cache struct {
	db *bolt.DB
}

// DefaultPath returns ${XDG_CACHE_HOME:-$HOME/.cache}/sy/checksums.db.
func DefaultPath() (string, error) {
	var cacheDir string
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		cacheDir = xdg
	} else if home := os.Getenv("HOME"); home != "" {
		cacheDir = filepath.Join(home, ".cache")
	} else {
		return "", errors.New("cannot determine cache directory: HOME not set")
	}
	return filepath.Join(cacheDir, "sy", "checksums.db"), nil
}

// Open opens (creating if necessary) the checksum cache at path.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "unable to create checksum cache directory")
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open checksum cache")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "unable to initialize checksum cache bucket")
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// key derives a cache key from a file's identity and size, so that any
// change to modification time or size invalidates the cached table.
func key(path string, modTimeUnixNS int64, size uint64, blockSize uint64) []byte {
	var b [8 + 8 + 8]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(modTimeUnixNS))
	binary.BigEndian.PutUint64(b[8:16], size)
	binary.BigEndian.PutUint64(b[16:24], blockSize)
	return []byte(fmt.Sprintf("%s\x00%x", path, b))
}

// Get returns the cached block table for (path, modTimeUnixNS, size,
// blockSize), or nil if nothing is cached.
func (c *Cache) Get(path string, modTimeUnixNS int64, size, blockSize uint64) ([]delta.BlockChecksum, error) {
	var blocks []delta.BlockChecksum
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		raw := b.Get(key(path, modTimeUnixNS, size, blockSize))
		if raw == nil {
			return nil
		}
		decoded, err := decodeBlocks(raw)
		if err != nil {
			return err
		}
		blocks = decoded
		return nil
	})
	return blocks, err
}

// Put stores the block table for (path, modTimeUnixNS, size, blockSize).
func (c *Cache) Put(path string, modTimeUnixNS int64, size, blockSize uint64, blocks []delta.BlockChecksum) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Put(key(path, modTimeUnixNS, size, blockSize), encodeBlocks(blocks))
	})
}

// encodeBlocks/decodeBlocks use a flat fixed-width record layout rather
// than a general-purpose serialization library: the schema is small,
// internal-only, and never needs forward compatibility across versions of
// the cache file itself (a cache miss is always safe — the table is
// simply recomputed).
func encodeBlocks(blocks []delta.BlockChecksum) []byte {
	const recordSize = 4 + 8 + 4 + 4 + delta.StrongHashSize
	out := make([]byte, 4+len(blocks)*recordSize)
	binary.BigEndian.PutUint32(out[0:4], uint32(len(blocks)))
	off := 4
	for _, b := range blocks {
		binary.BigEndian.PutUint32(out[off:off+4], b.Index)
		binary.BigEndian.PutUint64(out[off+4:off+12], b.Offset)
		binary.BigEndian.PutUint32(out[off+12:off+16], b.Size)
		binary.BigEndian.PutUint32(out[off+16:off+20], b.Weak)
		copy(out[off+20:off+20+delta.StrongHashSize], b.Strong[:])
		off += recordSize
	}
	return out
}

func decodeBlocks(raw []byte) ([]delta.BlockChecksum, error) {
	const recordSize = 4 + 8 + 4 + 4 + delta.StrongHashSize
	if len(raw) < 4 {
		return nil, errors.Wrap(syerr.ErrStateCorrupt, "checksum cache record too short")
	}
	count := binary.BigEndian.Uint32(raw[0:4])
	expected := 4 + int(count)*recordSize
	if len(raw) != expected {
		return nil, errors.Wrap(syerr.ErrStateCorrupt, "checksum cache record size mismatch")
	}

	blocks := make([]delta.BlockChecksum, count)
	off := 4
	for i := range blocks {
		blocks[i].Index = binary.BigEndian.Uint32(raw[off : off+4])
		blocks[i].Offset = binary.BigEndian.Uint64(raw[off+4 : off+12])
		blocks[i].Size = binary.BigEndian.Uint32(raw[off+12 : off+16])
		blocks[i].Weak = binary.BigEndian.Uint32(raw[off+16 : off+20])
		copy(blocks[i].Strong[:], raw[off+20:off+20+delta.StrongHashSize])
		off += recordSize
	}
	return blocks, nil
}
