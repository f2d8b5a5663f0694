package rtmp

// Handshaker performs the exchange that precedes chunk traffic. It works on buffers only: the caller
// reads from and writes to the transport.
type Handshaker interface {
	// Start returns the bytes to send before anything is received. A server has nothing to send.
	Start() ([]byte, error)
	// Process consumes handshake bytes from the start of in. It returns the bytes to send in reply and
	// how many bytes of in were used. ErrIncompleteHandshake means in was too short and nothing was used.
	Process(in []byte) (out []byte, n int, err error)
	// Done reports whether the handshake has completed.
	Done() bool
	// Ciphers returns the ciphers negotiated by an encrypted handshake, or nil.
	Ciphers() *CipherPair
}
