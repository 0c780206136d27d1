package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/julien-blanchon/sy/internal/syerr"
)

const (
	// maxFrameSize bounds the payload size of a single frame so a corrupt or
	// hostile peer cannot force unbounded memory allocation.
	maxFrameSize = 256 * 1024 * 1024
	// reusableBufferSize is the size of the staging buffer that Encoder and
	// Decoder start with. A larger frame grows the buffer, and the grown
	// buffer is kept for later calls; most frames (HELLO, acks, checksum
	// requests) fit in the initial size.
	reusableBufferSize = 64 * 1024
)

// countingReader wraps a byte slice cursor and fails decode if a message
// parse tries to read past the declared payload length.
type countingReader struct {
	buf []byte
	pos int
}

func (r *countingReader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errors.Wrap(syerr.ErrProtocolFraming, "payload underrun")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *countingReader) readN(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, errors.Wrap(syerr.ErrProtocolFraming, "payload underrun")
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *countingReader) readUint8() (uint8, error) {
	return r.readByte()
}

func (r *countingReader) readUint16() (uint16, error) {
	b, err := r.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *countingReader) readUint32() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *countingReader) readUint64() (uint64, error) {
	b, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *countingReader) readString() (string, error) {
	n, err := r.readUint16()
	if err != nil {
		return "", err
	}
	b, err := r.readN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *countingReader) readBytes() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	b, err := r.readN(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *countingReader) exhausted() bool {
	return r.pos == len(r.buf)
}

// writeBuf accumulates an encoded payload before it is framed.
type writeBuf struct {
	buf []byte
}

func (w *writeBuf) writeUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writeBuf) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writeBuf) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writeBuf) writeUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writeBuf) writeString(s string) error {
	if len(s) > 0xFFFF {
		return errors.New("string exceeds u16 length")
	}
	w.writeUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

func (w *writeBuf) writeBytes(b []byte) error {
	if uint64(len(b)) > 0xFFFFFFFF {
		return errors.New("byte blob exceeds u32 length")
	}
	w.writeUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

// Encoder writes framed messages to an underlying stream.
type Encoder struct {
	w   io.Writer
	buf []byte
}

// NewEncoder creates a framing encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: make([]byte, 0, reusableBufferSize)}
}

// Encode serializes and transmits a single frame of the given type.
func (e *Encoder) Encode(t Type, m interface{}) error {
	wb := &writeBuf{buf: e.buf[:0]}
	if err := marshalPayload(wb, t, m); err != nil {
		return errors.Wrap(err, "unable to marshal payload")
	}
	if len(wb.buf) > maxFrameSize {
		return errors.Wrap(syerr.ErrProtocolFraming, "encoded message too large to frame")
	}
	e.buf = wb.buf

	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(wb.buf)))
	header[4] = byte(t)
	if _, err := e.w.Write(header); err != nil {
		return errors.Wrap(err, "unable to write frame header")
	}
	if len(wb.buf) > 0 {
		if _, err := e.w.Write(wb.buf); err != nil {
			return errors.Wrap(err, "unable to write frame payload")
		}
	}
	return nil
}

// Decoder reads framed messages from an underlying stream.
type Decoder struct {
	r   io.Reader
	buf []byte
}

// NewDecoder creates a framing decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, buf: make([]byte, reusableBufferSize)}
}

// DecodeHeader reads the next frame's length and type without touching the
// payload. It is used by readers that need to branch on type before
// allocating a destination message.
func (d *Decoder) DecodeHeader() (Type, uint32, error) {
	var header [5]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		if err == io.EOF {
			return 0, 0, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return 0, 0, errors.Wrap(syerr.ErrProtocolFraming, "truncated frame header")
		}
		return 0, 0, errors.Wrap(err, "unable to read frame header")
	}
	length := binary.BigEndian.Uint32(header[0:4])
	if length > maxFrameSize {
		return 0, 0, errors.Wrap(syerr.ErrProtocolFraming, "frame too large")
	}
	return Type(header[4]), length, nil
}

// DecodePayload reads exactly length bytes and unmarshals them as the
// message associated with t, storing the result into m (a pointer).
func (d *Decoder) DecodePayload(t Type, length uint32, m interface{}) error {
	buf := d.buf
	if uint32(cap(buf)) < length {
		buf = make([]byte, length)
	} else {
		buf = buf[:length]
	}
	if length > 0 {
		if _, err := io.ReadFull(d.r, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return errors.Wrapf(syerr.ErrProtocolFraming, "truncated %s payload", t)
			}
			return errors.Wrap(err, "unable to read frame payload")
		}
	}
	d.buf = buf[:cap(buf)]

	cr := &countingReader{buf: buf}
	if err := unmarshalPayload(cr, t, m); err != nil {
		return errors.Wrapf(err, "unable to unmarshal %s payload", t)
	}
	if !cr.exhausted() {
		return errors.Wrapf(syerr.ErrProtocolFraming, "%s payload had %d trailing bytes", t, len(cr.buf)-cr.pos)
	}
	return nil
}

// Decode reads one full frame and unmarshals it into m, verifying that the
// frame's type matches expected.
func (d *Decoder) Decode(expected Type, m interface{}) error {
	t, length, err := d.DecodeHeader()
	if err != nil {
		return err
	}
	if t == TypeError && expected != TypeError {
		var e Error
		if derr := d.DecodePayload(TypeError, length, &e); derr != nil {
			return derr
		}
		return &syerr.RemoteError{Code: e.Code, Message: e.Message}
	}
	if t != expected {
		return errors.Wrapf(syerr.ErrProtocolFraming, "expected %s, got %s", expected, t)
	}
	return d.DecodePayload(t, length, m)
}
