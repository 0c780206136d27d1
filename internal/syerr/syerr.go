// Package syerr defines the error taxonomy shared by sy's protocol, session,
// and driver layers. Each kind is a sentinel that callers can match with
// errors.Is, while the wrapping is done with github.com/pkg/errors so that
// context accumulates as an error crosses package boundaries.
package syerr

import "github.com/pkg/errors"

// Sentinel errors identifying the taxonomy described in the protocol design:
// framing errors, version mismatches, remote-reported errors, per-file
// failures, transport I/O, local I/O, and state corruption.
var (
	// ErrProtocolFraming indicates a truncated frame, unknown message type, or
	// a payload that did not consume exactly its declared length. Terminal.
	ErrProtocolFraming = errors.New("protocol framing error")

	// ErrVersionMismatch indicates the peer's HELLO advertised an
	// incompatible protocol version. Terminal, surfaced only at handshake.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrRemote wraps an ERROR frame received from the peer. Terminal for the
	// session; presented to the caller verbatim with its code.
	ErrRemote = errors.New("remote reported error")

	// ErrPerFile indicates a single file failed (non-zero FILE_DONE status).
	// Non-terminal: accumulated in stats, sync continues.
	ErrPerFile = errors.New("per-file sync failure")

	// ErrTransport indicates a lost subprocess or broken pipe. Terminal.
	ErrTransport = errors.New("transport I/O error")

	// ErrLocalIO indicates an unreadable source or unwritable destination on
	// the local filesystem.
	ErrLocalIO = errors.New("local I/O error")

	// ErrStateCorrupt indicates a malformed bisync state line or checksum
	// cache record. Terminal for the bisync driver; never silently defaulted.
	ErrStateCorrupt = errors.New("persisted state corrupt")
)

// RemoteError carries the code and message from a received ERROR frame.
type RemoteError struct {
	Code    uint16
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return errors.Errorf("remote error %d: %s", e.Code, e.Message).Error()
}

// Unwrap allows errors.Is(err, ErrRemote) to succeed for a *RemoteError.
func (e *RemoteError) Unwrap() error {
	return ErrRemote
}
