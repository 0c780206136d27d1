package delta

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// OpKind distinguishes a byte-range copied from the reference file from a
// literal run of new bytes.
type OpKind uint8

const (
	OpCopy OpKind = iota
	OpData
)

// Op is one instruction in a delta: either copy Size bytes starting at
// Offset from the reference file, or write the literal bytes in Data.
type Op struct {
	Kind   OpKind
	Offset uint64
	Size   uint64
	Data   []byte
}

// maximumDataOpSize bounds how many literal bytes accumulate into a single
// OpData before being flushed, keeping memory use bounded when a source
// differs from its reference almost everywhere.
const maximumDataOpSize = 64 * 1024

// GenerateDelta compares source against the block table of a reference file
// (as produced by Checksums) and returns the sequence of Copy/Data
// operations that reconstruct source from the reference.
//
// The algorithm is the rsync matching algorithm: a rolling weak hash is
// computed over a blockSize-wide window sliding across source one byte at a
// time; whenever the weak hash matches an entry in the reference's
// weak-hash table, the strong hash of the window is compared against every
// reference block sharing that weak hash (smallest index first), and on a
// match the window's bytes are emitted as a Copy and the window jumps
// blockSize bytes ahead; otherwise the leading byte of the window is
// emitted as pending literal data and the window advances by one byte. This
// mirrors mutagen's rsync/engine.go Deltafy, generalized to emit absolute
// byte offsets into the reference rather than block-index ranges, since sy
// transmits Copy{Offset,Size} on the wire instead of a block index.
func GenerateDelta(source io.Reader, blocks []BlockChecksum, blockSize uint64) ([]Op, error) {
	if blockSize == 0 {
		return nil, errors.New("invalid block size")
	}

	weakToBlocks := make(map[uint32][]BlockChecksum, len(blocks))
	for _, b := range blocks {
		weakToBlocks[b.Weak] = append(weakToBlocks[b.Weak], b)
	}
	for _, bucket := range weakToBlocks {
		// Smallest-index tie-break: candidates are tried in ascending block
		// index order, so sort each bucket once up front.
		sortBlocksByIndex(bucket)
	}

	data, err := io.ReadAll(source)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read source")
	}

	var ops []Op
	var pending bytes.Buffer

	flushPending := func() {
		if pending.Len() == 0 {
			return
		}
		ops = append(ops, Op{Kind: OpData, Data: append([]byte(nil), pending.Bytes()...)})
		pending.Reset()
	}

	appendCopy := func(offset, size uint64) {
		if n := len(ops); n > 0 && ops[n-1].Kind == OpCopy && ops[n-1].Offset+ops[n-1].Size == offset {
			ops[n-1].Size += size
			return
		}
		ops = append(ops, Op{Kind: OpCopy, Offset: offset, Size: size})
	}

	bs := uint32(blockSize)
	n := len(data)
	i := 0

	var haveHash bool
	var hash, r1, r2 uint32

	for i < n {
		windowEnd := i + int(bs)
		if windowEnd > n {
			windowEnd = n
		}
		window := data[i:windowEnd]

		if !haveHash || len(window) != int(bs) {
			hash, r1, r2 = weakHash(window, bs)
			haveHash = len(window) == int(bs)
		}

		matched := false
		if candidates, ok := weakToBlocks[hash]; ok && len(window) > 0 {
			strong := strongHash(window)
			for _, cand := range candidates {
				if cand.Size == uint32(len(window)) && cand.Strong == strong {
					flushPending()
					appendCopy(cand.Offset, uint64(cand.Size))
					i += len(window)
					haveHash = false
					matched = true
					break
				}
			}
		}

		if matched {
			continue
		}

		pending.WriteByte(data[i])
		if pending.Len() >= maximumDataOpSize {
			flushPending()
		}

		if haveHash && i+int(bs) < n {
			hash, r1, r2 = rollWeakHash(r1, r2, data[i], data[i+int(bs)], bs)
		} else {
			haveHash = false
		}
		i++
	}

	flushPending()
	return ops, nil
}

func sortBlocksByIndex(blocks []BlockChecksum) {
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0 && blocks[j-1].Index > blocks[j].Index; j-- {
			blocks[j-1], blocks[j] = blocks[j], blocks[j-1]
		}
	}
}

// Apply reconstructs the target by executing ops against base, a seekable
// handle on the reference file, writing the result to dest.
func Apply(dest io.Writer, base io.ReadSeeker, ops []Op) error {
	for _, op := range ops {
		switch op.Kind {
		case OpCopy:
			if _, err := base.Seek(int64(op.Offset), io.SeekStart); err != nil {
				return errors.Wrap(err, "unable to seek reference file")
			}
			if _, err := io.CopyN(dest, base, int64(op.Size)); err != nil {
				return errors.Wrap(err, "unable to copy reference bytes")
			}
		case OpData:
			if _, err := dest.Write(op.Data); err != nil {
				return errors.Wrap(err, "unable to write literal bytes")
			}
		default:
			return errors.Errorf("unknown delta op kind %d", op.Kind)
		}
	}
	return nil
}
