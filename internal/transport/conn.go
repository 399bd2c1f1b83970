// Package transport implements a poll-driven, non-blocking TCP client.
// A Conn carries one request/response transaction at a time: Enqueue hands
// it the request bytes and repeated calls to Poll walk it through connect,
// send and receive without ever blocking on the socket. When the peer closes
// the connection the accumulated response is passed to the registered
// completion callback exactly once.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/zap"
)

// InboundCapacity is the size of the receive buffer. One byte is always kept
// free, so at most InboundCapacity-1 response bytes are stored; anything
// beyond that is truncated.
const InboundCapacity = 4096

var (
	// ErrNotIdle is returned by Enqueue while a transaction is in flight.
	ErrNotIdle = errors.New("connection not idle")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("connection closed")
)

// CompletionFunc receives the response of a finished transaction.
// The slice is only valid for the duration of the call.
type CompletionFunc func(response []byte)

// Option configures a Conn.
type Option func(*Conn)

// WithDialer replaces the socket dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(c *Conn) {
		c.dialer = d
	}
}

// outbound holds the request bytes of the transaction in flight and the
// send cursor. It exists only from Enqueue until the transaction reaches
// StateComplete or StateError.
type outbound struct {
	data []byte
	sent int
}

// Conn is a single-transaction TCP connection state machine.
// It is not safe for concurrent use.
type Conn struct {
	host   string
	port   string
	dialer Dialer
	logger *zap.Logger

	state State
	sock  Socket
	out   *outbound
	err   error

	in       [InboundCapacity]byte
	received int

	onComplete CompletionFunc
	closed     bool
}

// Open creates an idle connection to host:port. No network activity
// happens until a request is enqueued and polled.
func Open(host, port string, logger *zap.Logger, opts ...Option) (*Conn, error) {
	if host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if port == "" {
		return nil, fmt.Errorf("port is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Conn{
		host:   host,
		port:   port,
		logger: logger.Named("tcp"),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewSocketDialer(defaultResolveTimeout)
	}

	c.logger.Debug("Initialized", zap.String("addr", c.addr()))
	return c, nil
}

// OnComplete registers the completion callback. A later call replaces the
// previous one.
func (c *Conn) OnComplete(fn CompletionFunc) {
	c.onComplete = fn
}

// State returns the current lifecycle state.
func (c *Conn) State() State { return c.state }

// Received returns the number of response bytes accumulated so far.
func (c *Conn) Received() int { return c.received }

// Enqueue copies data as the next request and moves the connection to
// StateConnecting. It fails without changing state unless the connection
// is idle.
func (c *Conn) Enqueue(data []byte) error {
	if c.closed {
		return ErrClosed
	}
	if c.state != StateIdle {
		return fmt.Errorf("%w (current: %s)", ErrNotIdle, c.state)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	c.out = &outbound{data: buf}
	c.received = 0
	c.in = [InboundCapacity]byte{}
	c.err = nil

	c.state = StateConnecting
	c.logger.Debug("Request queued", zap.Int("bytes", len(buf)))
	return nil
}

// Poll advances the state machine by at most one step. It returns true
// when a transaction completed and its callback ran during this call, and
// a non-nil error when the transaction failed. In both cases the
// connection is idle again on return. Otherwise it returns false, nil.
func (c *Conn) Poll() (bool, error) {
	switch c.state {
	case StateIdle:
		return false, nil

	case StateConnecting:
		c.logger.Debug("Connecting", zap.String("addr", c.addr()))
		sock, err := c.dialer.Dial(c.host, c.port)
		if err != nil {
			return false, c.fail(fmt.Errorf("dial %s: %w", c.addr(), err))
		}
		c.sock = sock
		c.state = StateConnected
		return false, nil

	case StateConnected:
		ok, err := c.sock.Connected()
		if err != nil {
			return false, c.fail(fmt.Errorf("connect %s: %w", c.addr(), err))
		}
		if !ok {
			return false, nil
		}
		c.logger.Debug("Connected", zap.String("addr", c.addr()))
		c.state = StateSending
		return false, nil

	case StateSending:
		done, err := c.send()
		if err != nil {
			return false, c.fail(fmt.Errorf("send: %w", err))
		}
		if done {
			c.state = StateReceiving
		}
		return false, nil

	case StateReceiving:
		done, err := c.receive()
		if err != nil {
			return false, c.fail(fmt.Errorf("receive: %w", err))
		}
		if done {
			c.in[c.received] = 0
			c.out = nil
			c.state = StateComplete
		}
		return false, nil

	case StateComplete:
		if c.onComplete != nil {
			c.onComplete(c.in[:c.received])
		}
		c.cleanup()
		c.state = StateIdle
		return true, nil

	case StateError:
		return false, c.drain()
	}

	return false, nil
}

// Close releases the socket and any queued request. It is safe to call
// more than once.
func (c *Conn) Close() error {
	c.cleanup()
	c.state = StateIdle
	if !c.closed {
		c.closed = true
		c.logger.Debug("Disposed")
	}
	return nil
}

// send writes as much of the outbound buffer as the socket accepts.
// It returns true once every byte has been written.
func (c *Conn) send() (bool, error) {
	for c.out.sent < len(c.out.data) {
		n, err := c.sock.Write(c.out.data[c.out.sent:])
		if n > 0 {
			c.out.sent += n
			c.logger.Debug("Sent",
				zap.Int("bytes", n),
				zap.Int("total", c.out.sent),
				zap.Int("len", len(c.out.data)))
		}
		if errors.Is(err, ErrWouldBlock) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

// receive performs one read into the free part of the inbound buffer.
// It returns true when the peer closed the connection or the buffer is full.
func (c *Conn) receive() (bool, error) {
	room := len(c.in) - 1 - c.received
	if room <= 0 {
		c.logger.Warn("Receive buffer full, truncating response",
			zap.Int("bytes", c.received))
		return true, nil
	}

	n, err := c.sock.Read(c.in[c.received : c.received+room])
	if n > 0 {
		c.received += n
		c.logger.Debug("Received", zap.Int("bytes", n), zap.Int("total", c.received))
	}
	switch {
	case errors.Is(err, ErrWouldBlock):
		return false, nil
	case errors.Is(err, io.EOF):
		c.logger.Debug("Connection closed by server")
		return true, nil
	case err != nil:
		return false, err
	}
	return false, nil
}

// fail records err, enters StateError and drains it immediately so the
// connection is idle for the next transaction.
func (c *Conn) fail(err error) error {
	c.err = err
	c.out = nil
	c.state = StateError
	return c.drain()
}

func (c *Conn) drain() error {
	err := c.err
	if err == nil {
		err = errors.New("transaction failed")
	}
	c.logger.Debug("Error state, cleaning up", zap.Error(err))
	c.cleanup()
	c.err = nil
	c.state = StateIdle
	return err
}

// cleanup closes the socket and drops the outbound buffer. Idempotent.
func (c *Conn) cleanup() {
	if c.sock != nil {
		if err := c.sock.Close(); err != nil {
			c.logger.Debug("Socket close failed", zap.Error(err))
		}
		c.sock = nil
	}
	c.out = nil
}

func (c *Conn) addr() string {
	return net.JoinHostPort(c.host, c.port)
}
