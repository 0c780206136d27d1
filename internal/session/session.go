// Package session owns one duplex connection to a peer (local subprocess or
// SSH-spawned agent) and drives the HELLO handshake, after which callers
// exchange typed messages through internal/wire. This mirrors mutagen's
// message.Stream, which wraps a raw connection with typed Send/Receive and
// leaves protocol-level decisions to its caller.
package session

import (
	"bufio"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/julien-blanchon/sy/internal/syerr"
	"github.com/julien-blanchon/sy/internal/wire"
)

// ProtocolVersion is the version sy negotiates in HELLO.
const ProtocolVersion uint16 = 1

// Session is a framed, bidirectional connection to one peer. ID
// disambiguates concurrent sessions in log output; it never crosses the
// wire.
type Session struct {
	closer  io.Closer
	encoder *wire.Encoder
	decoder *wire.Decoder
	writer  *bufio.Writer
	Pull    bool
	ID      uuid.UUID
}

// Handshake sends HELLO (setting HelloFlagPull when pull is true), reads
// the peer's HELLO, and fails closed on any version mismatch rather than
// attempting to negotiate down, since sy has no notion of protocol
// capability negotiation beyond the version number.
func Handshake(rw io.ReadWriter, closer io.Closer, pull bool) (*Session, error) {
	bw := bufio.NewWriter(rw)
	enc := wire.NewEncoder(bw)
	dec := wire.NewDecoder(rw)

	var flags uint32
	if pull {
		flags = wire.HelloFlagPull
	}
	// Both peers send first, so the HELLO is written while the peer's is
	// read: on an unbuffered stream two blocking writes would wait forever.
	sent := make(chan error, 1)
	go func() {
		if err := enc.Encode(wire.TypeHello, &wire.Hello{Version: ProtocolVersion, Flags: flags}); err != nil {
			sent <- errors.Wrap(err, "unable to send hello")
			return
		}
		sent <- errors.Wrap(bw.Flush(), "unable to flush hello")
	}()

	var peerHello wire.Hello
	if err := dec.Decode(wire.TypeHello, &peerHello); err != nil {
		return nil, errors.Wrap(err, "unable to receive hello")
	}
	if err := <-sent; err != nil {
		return nil, err
	}
	if peerHello.Version != ProtocolVersion {
		return nil, errors.Wrapf(syerr.ErrVersionMismatch, "local version %d, remote version %d", ProtocolVersion, peerHello.Version)
	}

	return &Session{closer: closer, encoder: enc, decoder: dec, writer: bw, Pull: peerHello.Flags&wire.HelloFlagPull != 0, ID: uuid.New()}, nil
}

// Send encodes, writes, and flushes one message.
func (s *Session) Send(t wire.Type, m interface{}) error {
	if err := s.encoder.Encode(t, m); err != nil {
		return errors.Wrap(err, "unable to send message")
	}
	return s.Flush()
}

// SendFileDataNoFlush encodes and writes a FILE_DATA message without
// flushing the underlying writer, letting a sender pipeline several chunks
// of one file transfer before paying for a syscall per chunk. Callers must
// eventually call Flush so the peer actually receives the buffered bytes.
func (s *Session) SendFileDataNoFlush(m *wire.FileData) error {
	if err := s.encoder.Encode(wire.TypeFileData, m); err != nil {
		return errors.Wrap(err, "unable to send message")
	}
	return nil
}

// Flush forces any writes buffered by SendFileDataNoFlush to the
// underlying transport.
func (s *Session) Flush() error {
	return errors.Wrap(s.writer.Flush(), "unable to flush session writer")
}

// Receive reads and decodes one message of the expected type. A remote
// ERROR frame surfaces as a *syerr.RemoteError rather than a framing
// failure, so callers can distinguish "peer reported a problem" from
// "the connection is broken".
func (s *Session) Receive(expected wire.Type, m interface{}) error {
	if err := s.decoder.Decode(expected, m); err != nil {
		if _, ok := errors.Cause(err).(*syerr.RemoteError); ok {
			return err
		}
		return errors.Wrap(err, "unable to receive message")
	}
	return nil
}

// SendError reports a terminal error to the peer before the caller gives
// up on the session.
func (s *Session) SendError(code uint16, message string) error {
	return s.Send(wire.TypeError, &wire.Error{Code: code, Message: message})
}

// DecodeHeader exposes the next frame's type and payload length without
// committing to a destination type, so a server dispatch loop can branch
// before allocating a message.
func (s *Session) DecodeHeader() (wire.Type, uint32, error) {
	return s.decoder.DecodeHeader()
}

// DecodePayload reads and unmarshals the payload of a frame whose header
// was already consumed by DecodeHeader.
func (s *Session) DecodePayload(t wire.Type, length uint32, m interface{}) error {
	return s.decoder.DecodePayload(t, length, m)
}

// Close closes the underlying transport.
func (s *Session) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
