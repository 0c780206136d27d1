package delta

import "github.com/julien-blanchon/sy/internal/wire"

// ToWireChecksums converts a Checksums result into the wire.BlockChecksum
// slice carried by a CHECKSUM_RESP message.
func ToWireChecksums(blocks []BlockChecksum) []wire.BlockChecksum {
	out := make([]wire.BlockChecksum, len(blocks))
	for i, b := range blocks {
		out[i] = wire.BlockChecksum{
			Index:  b.Index,
			Offset: b.Offset,
			Size:   b.Size,
			Weak:   b.Weak,
			Strong: append([]byte(nil), b.Strong[:]...),
		}
	}
	return out
}

// FromWireChecksums is the inverse of ToWireChecksums, used by the side
// generating a delta against a block table received over the wire.
func FromWireChecksums(blocks []wire.BlockChecksum) []BlockChecksum {
	out := make([]BlockChecksum, len(blocks))
	for i, b := range blocks {
		var strong [StrongHashSize]byte
		copy(strong[:], b.Strong)
		out[i] = BlockChecksum{
			Index:  b.Index,
			Offset: b.Offset,
			Size:   b.Size,
			Weak:   b.Weak,
			Strong: strong,
		}
	}
	return out
}

// ToWireOps converts a GenerateDelta result into the wire.DeltaOp slice
// carried by a DELTA_DATA message.
func ToWireOps(ops []Op) []wire.DeltaOp {
	out := make([]wire.DeltaOp, len(ops))
	for i, op := range ops {
		w := wire.DeltaOp{Offset: op.Offset, Size: op.Size}
		switch op.Kind {
		case OpCopy:
			w.Kind = wire.DeltaOpCopy
		case OpData:
			w.Kind = wire.DeltaOpData
			w.Data = op.Data
			w.Size = uint64(len(op.Data))
		}
		out[i] = w
	}
	return out
}

// FromWireOps is the inverse of ToWireOps, used by the receiving side
// before calling Apply.
func FromWireOps(ops []wire.DeltaOp) []Op {
	out := make([]Op, len(ops))
	for i, w := range ops {
		op := Op{Offset: w.Offset, Size: w.Size, Data: w.Data}
		switch w.Kind {
		case wire.DeltaOpCopy:
			op.Kind = OpCopy
		case wire.DeltaOpData:
			op.Kind = OpData
		}
		out[i] = op
	}
	return out
}
