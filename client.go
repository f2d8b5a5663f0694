package rtmp

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/torresjeff/go-rtmp/config"
	"go.uber.org/zap"
)

var ErrInvalidScheme = errors.New("rtmp: invalid scheme in URL, want rtmp or rtmps")

const defaultTLSPort = "443"

// Endpoint is what a client needs from an rtmp:// or rtmps:// URL.
type Endpoint struct {
	Addr string
	TLS  bool
	// App is the application to connect to, StreamKey the last path element after it (possibly empty).
	App       string
	StreamKey string
	TcURL     string
}

// ParseURL splits rawURL into an Endpoint. The path must name at least the application.
func ParseURL(rawURL string) (*Endpoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse url")
	}
	endpoint := &Endpoint{}
	port := config.DefaultPort
	switch u.Scheme {
	case "rtmp":
	case "rtmps":
		endpoint.TLS = true
		port = defaultTLSPort
	default:
		return nil, errors.Wrapf(ErrInvalidScheme, "scheme %q", u.Scheme)
	}
	if u.Port() != "" {
		port = u.Port()
	}
	endpoint.Addr = net.JoinHostPort(u.Hostname(), port)

	path := strings.Split(strings.Trim(u.Path, "/"), "/")
	if path[0] == "" {
		return nil, errors.Errorf("rtmp: url %q names no application", rawURL)
	}
	if len(path) == 1 {
		endpoint.App = path[0]
	} else {
		// the stream key is the last element of the path, everything before is the application
		endpoint.App = strings.Join(path[:len(path)-1], "/")
		endpoint.StreamKey = path[len(path)-1]
	}
	endpoint.TcURL = u.Scheme + "://" + u.Host + "/" + endpoint.App
	return endpoint, nil
}

// Client is a client side connection. Command results are matched to the calls waiting for them,
// every other message goes to the dispatcher.
type Client struct {
	logger     *zap.Logger
	opts       SessionOptions
	dispatcher Dispatcher
	// TLSConfig is used for rtmps:// URLs. A nil value uses the system roots.
	TLSConfig *tls.Config

	session *Session
	runErr  chan error

	mu            sync.Mutex
	transactionID float64
	pending       map[float64]chan *Command
}

func NewClient(logger *zap.Logger, dispatcher Dispatcher, opts SessionOptions) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dispatcher == nil {
		dispatcher = nopDispatcher{}
	}
	opts.Role = RoleClient
	return &Client{
		logger:     logger,
		opts:       opts,
		dispatcher: dispatcher,
		pending:    make(map[float64]chan *Command),
	}
}

// Dial opens a connection to rawURL and connects to its application.
func (c *Client) Dial(ctx context.Context, rawURL string) (*Endpoint, error) {
	endpoint, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", endpoint.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", endpoint.Addr)
	}
	if endpoint.TLS {
		tlsConfig := c.TLSConfig
		if tlsConfig == nil {
			host, _, _ := net.SplitHostPort(endpoint.Addr)
			tlsConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
		}
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, "tls handshake")
		}
		conn = tlsConn
	}
	c.logger.Debug("connected", zap.String("addr", endpoint.Addr), zap.Bool("tls", endpoint.TLS))
	return endpoint, c.Connect(ctx, conn, endpoint.App, endpoint.TcURL)
}

// Connect runs a session over t, waits for the handshake and sends the connect command.
func (c *Client) Connect(ctx context.Context, t Transport, app, tcURL string) error {
	session, err := NewSession(c.logger, t, DispatcherFunc(c.dispatch), c.opts)
	if err != nil {
		return err
	}
	c.session = session
	c.runErr = make(chan error, 1)
	go func() {
		c.runErr <- session.Run(context.Background())
	}()

	select {
	case <-session.Connected():
	case <-session.Done():
		if err := c.wait(); err != nil {
			return err
		}
		return errors.Wrap(ErrSessionClosed, "connection closed during handshake")
	case <-ctx.Done():
		_ = session.Close()
		return ctx.Err()
	}

	result, err := c.call(ctx, NewConnectCommand(0, app, tcURL))
	if err != nil {
		return err
	}
	if result.Name != CommandResult {
		return errors.Errorf("rtmp: connect answered with %s", result.Name)
	}
	c.logger.Info("connected to application", zap.String("app", app))
	return nil
}

func (c *Client) Session() *Session {
	return c.session
}

// CreateStream opens a message stream and returns its id.
func (c *Client) CreateStream(ctx context.Context) (uint32, error) {
	result, err := c.call(ctx, NewCreateStreamCommand(0))
	if err != nil {
		return 0, err
	}
	if result.Name != CommandResult {
		return 0, errors.Errorf("rtmp: createStream answered with %s", result.Name)
	}
	streamID, err := result.StreamIDArg()
	if err != nil {
		return 0, err
	}
	reserved, err := c.session.Stream().Streams().ReserveID(streamID)
	if err != nil {
		return 0, err
	}
	if reserved != streamID {
		c.session.Stream().Streams().Release(reserved)
		return 0, errors.Wrapf(ErrInvalidStreamID, "server returned stream %d which is already in use", streamID)
	}
	return streamID, nil
}

// DeleteStream closes a stream opened by CreateStream. The server does not answer deleteStream.
func (c *Client) DeleteStream(streamID uint32) error {
	if !c.session.Stream().Streams().IsValid(streamID) {
		return errors.Wrapf(ErrInvalidStreamID, "stream %d is not open", streamID)
	}
	message, err := NewDeleteStreamCommand(streamID).Message(0)
	if err != nil {
		return err
	}
	if err := c.session.WriteMessage(message); err != nil {
		return err
	}
	c.session.Stream().Streams().Release(streamID)
	return nil
}

func (c *Client) WriteMessage(message *Message) error {
	return c.session.WriteMessage(message)
}

// Close closes the connection and returns the error the session ended with.
func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	_ = c.session.Close()
	return c.wait()
}

func (c *Client) wait() error {
	err := <-c.runErr
	c.runErr <- err
	return err
}

// call sends command with a fresh transaction id and waits for its result.
func (c *Client) call(ctx context.Context, command *Command) (*Command, error) {
	result := make(chan *Command, 1)
	c.mu.Lock()
	c.transactionID++
	command.TransactionID = c.transactionID
	c.pending[command.TransactionID] = result
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, command.TransactionID)
		c.mu.Unlock()
	}()

	message, err := command.Message(0)
	if err != nil {
		return nil, err
	}
	if err := c.session.WriteMessage(message); err != nil {
		return nil, err
	}
	select {
	case r := <-result:
		return r, nil
	case <-c.session.Done():
		return nil, errors.Wrapf(ErrSessionClosed, "waiting for %s result", command.Name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) dispatch(w MessageWriter, message *Message) error {
	if message.Type == CommandMessageAMF0 {
		if command, err := ParseCommand(message.Payload); err == nil && (command.Name == CommandResult || command.Name == CommandError) {
			c.mu.Lock()
			result, exists := c.pending[command.TransactionID]
			c.mu.Unlock()
			if exists {
				select {
				case result <- command:
				default:
					c.logger.Warn("dropped duplicate command result", zap.Float64("transaction", command.TransactionID))
				}
				return nil
			}
		}
	}
	return c.dispatcher.Dispatch(w, message)
}
