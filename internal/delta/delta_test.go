package delta

import (
	"bytes"
	"math/rand"
	"testing"
)

func reconstruct(t *testing.T, reference, source []byte) []byte {
	t.Helper()
	blockSize := BlockSize(uint64(len(reference)))
	blocks, err := Checksums(bytes.NewReader(reference), blockSize)
	if err != nil {
		t.Fatalf("Checksums: %v", err)
	}
	ops, err := GenerateDelta(bytes.NewReader(source), blocks, blockSize)
	if err != nil {
		t.Fatalf("GenerateDelta: %v", err)
	}
	var out bytes.Buffer
	if err := Apply(&out, bytes.NewReader(reference), ops); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return out.Bytes()
}

func TestRoundTripIdentical(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 4096)
	got := reconstruct(t, data, data)
	if !bytes.Equal(got, data) {
		t.Fatal("round trip of identical data changed content")
	}
}

func TestRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	reference := make([]byte, 200*1024)
	r.Read(reference)

	source := append([]byte(nil), reference...)
	// Mutate a middle region and append a trailing run of new bytes.
	for i := 90000; i < 90256; i++ {
		source[i] ^= 0xFF
	}
	source = append(source, bytes.Repeat([]byte{0x42}, 1000)...)

	got := reconstruct(t, reference, source)
	if !bytes.Equal(got, source) {
		t.Fatal("round trip of mutated data did not reproduce source")
	}
}

func TestMiddleRegionChangeProducesBoundedOps(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	reference := make([]byte, 2*1024*1024)
	r.Read(reference)
	source := append([]byte(nil), reference...)
	for i := 1024*1024 - 128; i < 1024*1024+128; i++ {
		source[i] = 0x00
	}

	blockSize := BlockSize(uint64(len(reference)))
	blocks, err := Checksums(bytes.NewReader(reference), blockSize)
	if err != nil {
		t.Fatalf("Checksums: %v", err)
	}
	ops, err := GenerateDelta(bytes.NewReader(source), blocks, blockSize)
	if err != nil {
		t.Fatalf("GenerateDelta: %v", err)
	}

	var out bytes.Buffer
	if err := Apply(&out, bytes.NewReader(reference), ops); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(out.Bytes(), source) {
		t.Fatal("reconstructed content does not match source")
	}

	var copyOps, dataOps int
	for _, op := range ops {
		switch op.Kind {
		case OpCopy:
			copyOps++
		case OpData:
			dataOps++
		}
	}
	if copyOps == 0 {
		t.Error("expected at least one Copy op for the unchanged regions")
	}
	if copyOps > 4 {
		t.Errorf("expected coalesced Copy ops, got %d", copyOps)
	}
}

func TestStreamingMatchesFullGeneration(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	reference := make([]byte, 100*1024)
	r.Read(reference)
	source := append([]byte(nil), reference...)
	for i := 50000; i < 50064; i++ {
		source[i] ^= 0xFF
	}

	blockSize := BlockSize(uint64(len(reference)))
	blocks, err := Checksums(bytes.NewReader(reference), blockSize)
	if err != nil {
		t.Fatalf("Checksums: %v", err)
	}

	var streamed []Op
	err = GenerateDeltaStreaming(bytes.NewReader(source), blocks, blockSize, func(op Op) error {
		streamed = append(streamed, op)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateDeltaStreaming: %v", err)
	}

	var out bytes.Buffer
	if err := Apply(&out, bytes.NewReader(reference), streamed); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(out.Bytes(), source) {
		t.Fatal("streaming reconstruction does not match source")
	}
}

func TestBlockSizeClampedAndPowerOfTwo(t *testing.T) {
	if got := BlockSize(0); got != 1024 {
		t.Errorf("BlockSize(0) = %d, want 1024", got)
	}
	if got := BlockSize(1 << 42); got != 1024*1024 {
		t.Errorf("BlockSize(4TiB) = %d, want 1MiB", got)
	}
	for _, size := range []uint64{1, 1000, 100000, 5000000} {
		bs := BlockSize(size)
		if bs&(bs-1) != 0 {
			t.Errorf("BlockSize(%d) = %d, not a power of two", size, bs)
		}
	}
}
