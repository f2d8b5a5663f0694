package rtmp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/go-rtmp/config"
	"github.com/torresjeff/go-rtmp/rand"
	"go.uber.org/zap"
)

const tunnelContentType = "application/x-fcs"

// maxTunnelBody bounds the body of a single /send request.
const maxTunnelBody = 1 << 20

// Polling interval hints, the client waits longer between /idle requests while nothing comes back.
var pollingIntervals = []byte{config.DefaultPollingInterval, 0x03, 0x05, 0x09, 0x11, 0x21}

var ErrEmptyTunnelResponse = errors.New("rtmp: tunnel response has no polling interval")

// StripPollingInterval splits an RTMPT /send, /idle or /close response into the polling interval and
// the RTMP bytes that follow it.
func StripPollingInterval(body []byte) (byte, []byte, error) {
	if len(body) == 0 {
		return 0, nil, ErrEmptyTunnelResponse
	}
	return body[0], body[1:], nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "rtmp: tunnel read timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// tunnelConn is the Transport behind one RTMPT tunnel. Bytes posted by the client are read by the
// session, bytes the session writes wait for the client's next request.
type tunnelConn struct {
	id string

	mu           sync.Mutex
	in           bytes.Buffer
	out          bytes.Buffer
	readDeadline time.Time
	pollIndex    int
	closed       bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newTunnelConn(id string) *tunnelConn {
	return &tunnelConn{
		id:     id,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (c *tunnelConn) Read(p []byte) (int, error) {
	for {
		c.mu.Lock()
		if c.in.Len() > 0 {
			n, _ := c.in.Read(p)
			c.mu.Unlock()
			return n, nil
		}
		if c.closed {
			c.mu.Unlock()
			return 0, io.EOF
		}
		deadline := c.readDeadline
		c.mu.Unlock()

		if !c.wait(deadline) {
			return 0, timeoutError{}
		}
	}
}

// wait blocks until new input arrives, the tunnel closes or deadline passes. It returns false in the
// last case.
func (c *tunnelConn) wait(deadline time.Time) bool {
	if deadline.IsZero() {
		select {
		case <-c.notify:
		case <-c.done:
		}
		return true
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-c.notify:
	case <-c.done:
	case <-timer.C:
		return false
	}
	return true
}

func (c *tunnelConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	return c.out.Write(p)
}

func (c *tunnelConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

// SetWriteDeadline is a no-op, writes are buffered until the client polls.
func (c *tunnelConn) SetWriteDeadline(time.Time) error {
	return nil
}

func (c *tunnelConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// push hands bytes posted by the client to the session.
func (c *tunnelConn) push(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return io.ErrClosedPipe
	}
	c.in.Write(data)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// poll returns the polling interval followed by everything the session wrote since the last poll.
func (c *tunnelConn) poll() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out.Len() > 0 {
		c.pollIndex = 0
	} else if c.pollIndex < len(pollingIntervals)-1 {
		c.pollIndex++
	}
	body := make([]byte, 1+c.out.Len())
	body[0] = pollingIntervals[c.pollIndex]
	copy(body[1:], c.out.Bytes())
	c.out.Reset()
	return body
}

// TunnelHandler serves RTMP over HTTP (RTMPT). Every tunnel opened with /open/1 runs a session through
// serve until the client posts /close or the session ends.
type TunnelHandler struct {
	logger *zap.Logger
	serve  func(ctx context.Context, t Transport) error

	mu      sync.Mutex
	tunnels map[string]*tunnelConn
	wg      sync.WaitGroup
}

// NewTunnelHandler returns a handler running tunnel sessions on server.
func NewTunnelHandler(logger *zap.Logger, server *Server) *TunnelHandler {
	return newTunnelHandler(logger, server.ServeTransport)
}

func newTunnelHandler(logger *zap.Logger, serve func(ctx context.Context, t Transport) error) *TunnelHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TunnelHandler{
		logger:  logger,
		serve:   serve,
		tunnels: make(map[string]*tunnelConn),
	}
}

// Len returns the number of open tunnels.
func (h *TunnelHandler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tunnels)
}

// Close closes every tunnel and waits for their sessions to end.
func (h *TunnelHandler) Close() {
	h.mu.Lock()
	for _, conn := range h.tunnels {
		_ = conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *TunnelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(path) == 2 && path[0] == "fcs" && path[1] == "ident2":
		// not an FMS edge, clients fall back to /open
		http.NotFound(w, r)
	case len(path) == 2 && path[0] == "open":
		h.open(w)
	case len(path) == 3 && (path[0] == "send" || path[0] == "idle" || path[0] == "close"):
		if _, err := strconv.ParseUint(path[2], 10, 64); err != nil {
			http.Error(w, "bad sequence number", http.StatusBadRequest)
			return
		}
		h.exchange(w, r, path[0], path[1])
	default:
		http.NotFound(w, r)
	}
}

func (h *TunnelHandler) open(w http.ResponseWriter) {
	conn := newTunnelConn(rand.GenerateTunnelID())
	h.mu.Lock()
	h.tunnels[conn.id] = conn
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		_ = h.serve(context.Background(), conn)
		_ = conn.Close()
		h.mu.Lock()
		delete(h.tunnels, conn.id)
		h.mu.Unlock()
		h.logger.Debug("tunnel closed", zap.String("tunnel", conn.id))
	}()

	h.logger.Debug("tunnel opened", zap.String("tunnel", conn.id))
	writeTunnelResponse(w, []byte(conn.id+"\n"))
}

func (h *TunnelHandler) exchange(w http.ResponseWriter, r *http.Request, command, id string) {
	h.mu.Lock()
	conn, exists := h.tunnels[id]
	h.mu.Unlock()
	if !exists {
		http.NotFound(w, r)
		return
	}

	switch command {
	case "send":
		body, err := io.ReadAll(io.LimitReader(r.Body, maxTunnelBody))
		if err != nil {
			http.Error(w, "could not read body", http.StatusBadRequest)
			return
		}
		if err := conn.push(body); err != nil {
			http.NotFound(w, r)
			return
		}
	case "close":
		_ = conn.Close()
		writeTunnelResponse(w, []byte{0})
		return
	}
	writeTunnelResponse(w, conn.poll())
}

func writeTunnelResponse(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", tunnelContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
