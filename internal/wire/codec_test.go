package wire

import (
	"bytes"
	"reflect"
	"testing"
)

// roundTrip encodes m under type t and decodes it into a fresh zero value of
// the same underlying type, returning the decoded value for comparison.
func roundTrip(t *testing.T, typ Type, m interface{}, fresh interface{}) interface{} {
	t.Helper()

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Encode(typ, m); err != nil {
		t.Fatalf("encode: %v", err)
	}

	dec := NewDecoder(&buf)
	if err := dec.Decode(typ, fresh); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("stream left dirty: %d bytes remaining", buf.Len())
	}
	return fresh
}

func TestHelloRoundTrip(t *testing.T) {
	m := &Hello{Version: 1, Flags: HelloFlagPull, Capabilities: []byte("zstd,delta")}
	got := roundTrip(t, TypeHello, m, &Hello{}).(*Hello)
	if !reflect.DeepEqual(m, got) {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestFileListRoundTrip(t *testing.T) {
	m := &FileList{Entries: []FileListEntry{
		{Path: "a.txt", Size: 3, ModTimeUnixNS: 123456789, Mode: 0644},
		{Path: "link", Size: 10, Flags: FlagSymlink, SymlinkTarget: "target.txt"},
		{Path: "dir", Flags: FlagDirectory},
	}}
	got := roundTrip(t, TypeFileList, m, &FileList{}).(*FileList)
	if !reflect.DeepEqual(m, got) {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestFileListAckRoundTrip(t *testing.T) {
	m := &FileListAck{Decisions: []Decision{
		{Index: 0, Action: ActionSkip},
		{Index: 1, Action: ActionCreate},
		{Index: 2, Action: ActionUpdate},
	}}
	got := roundTrip(t, TypeFileListAck, m, &FileListAck{}).(*FileListAck)
	if !reflect.DeepEqual(m, got) {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestFileDataRoundTrip(t *testing.T) {
	m := &FileData{Index: 4, Offset: 1024, Flags: FileDataFlagCompressed, Data: []byte("hi\n")}
	got := roundTrip(t, TypeFileData, m, &FileData{}).(*FileData)
	if !reflect.DeepEqual(m, got) {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestFileDoneRoundTrip(t *testing.T) {
	m := &FileDone{Index: 0, Status: StatusOK, Checksum: []byte{1, 2, 3, 4}}
	got := roundTrip(t, TypeFileDone, m, &FileDone{}).(*FileDone)
	if !reflect.DeepEqual(m, got) {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestMkdirBatchAckRoundTrip(t *testing.T) {
	m := &MkdirBatchAck{Created: 2, Failed: []PathError{{Path: "x", Error: "denied"}}}
	got := roundTrip(t, TypeMkdirBatchAck, m, &MkdirBatchAck{}).(*MkdirBatchAck)
	if !reflect.DeepEqual(m, got) {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestSymlinkBatchRoundTrip(t *testing.T) {
	m := &SymlinkBatch{Entries: []SymlinkEntry{{Path: "link", Target: "target.txt"}}}
	got := roundTrip(t, TypeSymlinkBatch, m, &SymlinkBatch{}).(*SymlinkBatch)
	if !reflect.DeepEqual(m, got) {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	req := &ChecksumReq{Index: 7, BlockSize: 4096}
	gotReq := roundTrip(t, TypeChecksumReq, req, &ChecksumReq{}).(*ChecksumReq)
	if !reflect.DeepEqual(req, gotReq) {
		t.Errorf("got %+v, want %+v", gotReq, req)
	}

	resp := &ChecksumResp{Blocks: []BlockChecksum{
		{Index: 0, Offset: 0, Size: 4096, Weak: 0xdeadbeef, Strong: bytes16(1)},
		{Index: 1, Offset: 4096, Size: 100, Weak: 0x1, Strong: bytes16(2)},
	}}
	gotResp := roundTrip(t, TypeChecksumResp, resp, &ChecksumResp{}).(*ChecksumResp)
	if !reflect.DeepEqual(resp, gotResp) {
		t.Errorf("got %+v, want %+v", gotResp, resp)
	}
}

func TestDeltaDataRoundTrip(t *testing.T) {
	m := &DeltaData{Index: 3, Flags: 0, Ops: []DeltaOp{
		{Kind: DeltaOpCopy, Offset: 0, Size: 1048576},
		{Kind: DeltaOpData, Data: []byte("patched bytes")},
		{Kind: DeltaOpCopy, Offset: 1048576 + 256, Size: 1048320},
	}}
	got := roundTrip(t, TypeDeltaData, m, &DeltaData{}).(*DeltaData)
	if !reflect.DeepEqual(m, got) {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestErrorRoundTrip(t *testing.T) {
	m := &Error{Code: 1, Message: "version mismatch"}
	got := roundTrip(t, TypeError, m, &Error{}).(*Error)
	if !reflect.DeepEqual(m, got) {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

// TestErrorSubstitutesForExpectedType verifies that an ERROR frame arriving
// in place of any expected reply is surfaced as a terminal error rather than
// a type mismatch.
func TestErrorSubstitutesForExpectedType(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Encode(TypeError, &Error{Code: 99, Message: "boom"}); err != nil {
		t.Fatalf("encode: %v", err)
	}

	dec := NewDecoder(&buf)
	var ack FileListAck
	err := dec.Decode(TypeFileListAck, &ack)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// TestTruncatedFrameIsFramingError verifies strictness: a payload that
// doesn't consume its declared length is rejected.
func TestTruncatedFrameIsFramingError(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Encode(TypeHello, &Hello{Version: 1}); err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Corrupt the length prefix to claim one extra trailing byte.
	raw := buf.Bytes()
	raw[3]++ // bump the low byte of the u32 length

	dec := NewDecoder(bytes.NewReader(raw))
	var h Hello
	if err := dec.Decode(TypeHello, &h); err == nil {
		t.Fatal("expected framing error for truncated payload, got nil")
	}
}

func bytes16(seed byte) []byte {
	b := make([]byte, 16)
	for i := range b {
		b[i] = seed
	}
	return b
}
