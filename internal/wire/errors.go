package wire

import "errors"

// Error kinds from spec §7. ErrDisconnected and ErrMalformed are the two
// failure modes PeerConnection.recv() can report; ErrMalformed also
// covers a tracker connection receiving invalid JSON.
var (
	// ErrDisconnected means the remote end closed the connection or the
	// socket errored - a Network failure.
	ErrDisconnected = errors.New("wire: peer disconnected")
	// ErrMalformed means a frame failed to parse as the expected
	// message shape - a Protocol failure.
	ErrMalformed = errors.New("wire: malformed message")
)
