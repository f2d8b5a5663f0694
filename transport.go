package rtmp

import (
	"bufio"
	"io"
	"time"

	"github.com/torresjeff/go-rtmp/config"
	"go.uber.org/atomic"
)

// Transport is the byte stream a session runs over. net.Conn satisfies it, and so does the
// connection behind an RTMPT tunnel.
type Transport interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

type ByteCounter interface {
	ReadBytes() uint64
	WrittenBytes() uint64
}

// countingTransport buffers reads from a Transport and counts the bytes moved in each direction.
// The counters may be read from any goroutine.
type countingTransport struct {
	Transport

	reader  *bufio.Reader
	read    atomic.Uint64
	written atomic.Uint64
}

func newCountingTransport(t Transport) *countingTransport {
	return &countingTransport{
		Transport: t,
		reader:    bufio.NewReaderSize(t, config.BuffioSize),
	}
}

// Read reads whatever is available, at most len(p) bytes. Unlike io.ReadFull it does not wait for p to
// fill up, the chunk parser keeps partial input on its own.
func (c *countingTransport) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.read.Add(uint64(n))
	return n, err
}

func (c *countingTransport) Write(p []byte) (int, error) {
	n, err := c.Transport.Write(p)
	c.written.Add(uint64(n))
	return n, err
}

// ReadBytes returns the number of bytes read so far.
func (c *countingTransport) ReadBytes() uint64 {
	return c.read.Load()
}

func (c *countingTransport) WrittenBytes() uint64 {
	return c.written.Load()
}
