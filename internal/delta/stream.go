package delta

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// EmitFunc receives delta operations as they are produced.
type EmitFunc func(Op) error

// GenerateDeltaStreaming is the streaming counterpart to GenerateDelta: it
// consumes source incrementally through a bounded ring buffer instead of
// buffering the whole file, emitting each Op to emit as soon as it is
// known. This is what the client driver uses for large files, so that
// delta generation has bounded memory regardless of file size, mirroring
// mutagen's Deltafy which streams through a fixed-size buffer rather than
// materializing the whole target.
func GenerateDeltaStreaming(source io.Reader, blocks []BlockChecksum, blockSize uint64, emit EmitFunc) error {
	if blockSize == 0 {
		return errors.New("invalid block size")
	}
	bs := int(blockSize)

	bufSize := 4 * bs
	if bufSize < 64*1024 {
		bufSize = 64 * 1024
	}

	weakToBlocks := make(map[uint32][]BlockChecksum, len(blocks))
	for _, b := range blocks {
		weakToBlocks[b.Weak] = append(weakToBlocks[b.Weak], b)
	}
	for _, bucket := range weakToBlocks {
		sortBlocksByIndex(bucket)
	}

	br := bufio.NewReaderSize(source, bufSize)

	var pending []byte
	var lastOp *Op
	flushPending := func() error {
		if len(pending) == 0 {
			return nil
		}
		// A held Copy covers bytes that precede the pending literal.
		if lastOp != nil {
			if err := emit(*lastOp); err != nil {
				return err
			}
			lastOp = nil
		}
		if err := emit(Op{Kind: OpData, Data: pending}); err != nil {
			return err
		}
		pending = nil
		return nil
	}

	appendCopy := func(offset, size uint64) error {
		if lastOp != nil && lastOp.Kind == OpCopy && lastOp.Offset+lastOp.Size == offset {
			lastOp.Size += size
			return nil
		}
		if lastOp != nil {
			if err := emit(*lastOp); err != nil {
				return err
			}
		}
		op := Op{Kind: OpCopy, Offset: offset, Size: size}
		lastOp = &op
		return nil
	}
	flushLastOp := func() error {
		if lastOp == nil {
			return nil
		}
		err := emit(*lastOp)
		lastOp = nil
		return err
	}

	window := make([]byte, 0, bs)
	var haveHash bool
	var hash, r1, r2 uint32

	fillWindow := func() error {
		for len(window) < bs {
			b, err := br.ReadByte()
			if err == io.EOF {
				return io.EOF
			}
			if err != nil {
				return errors.Wrap(err, "unable to read source")
			}
			window = append(window, b)
		}
		return nil
	}

	advance := func() error {
		b, err := br.ReadByte()
		if err == io.EOF {
			// No more bytes to slide in; shrink window by one from the front.
			dropped := window[0]
			window = window[1:]
			if haveHash {
				hash, r1, r2 = rollWeakHash(r1, r2, dropped, 0, uint32(bs))
				haveHash = false // window is now short; recompute fresh next time
			}
			_ = dropped
			return io.EOF
		}
		if err != nil {
			return errors.Wrap(err, "unable to read source")
		}
		dropped := window[0]
		window = append(window[1:], b)
		if haveHash {
			hash, r1, r2 = rollWeakHash(r1, r2, dropped, b, uint32(bs))
		}
		return nil
	}

	err := fillWindow()
	eof := err == io.EOF
	if err != nil && !eof {
		return err
	}

	for len(window) > 0 {
		if !haveHash {
			hash, r1, r2 = weakHash(window, uint32(bs))
			haveHash = len(window) == bs
		}

		matched := false
		if candidates, ok := weakToBlocks[hash]; ok {
			strong := strongHash(window)
			for _, cand := range candidates {
				if cand.Size == uint32(len(window)) && cand.Strong == strong {
					if err := flushPending(); err != nil {
						return err
					}
					if err := appendCopy(cand.Offset, uint64(cand.Size)); err != nil {
						return err
					}
					matched = true
					break
				}
			}
		}

		if matched {
			if eof {
				window = window[:0]
				break
			}
			window = window[:0]
			if err := fillWindow(); err == io.EOF {
				eof = true
			} else if err != nil {
				return err
			}
			haveHash = false
			continue
		}

		pending = append(pending, window[0])
		if len(pending) >= maximumDataOpSize {
			if err := flushPending(); err != nil {
				return err
			}
		}

		if eof {
			window = window[1:]
			haveHash = false
			continue
		}
		if err := advance(); err == io.EOF {
			eof = true
		} else if err != nil {
			return err
		}
	}

	if err := flushPending(); err != nil {
		return err
	}
	return flushLastOp()
}
