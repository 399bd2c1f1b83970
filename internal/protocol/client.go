// Package protocol frames sensor reports as HTTP POST requests and drives
// the transport that carries them. The response is not parsed; whatever the
// collector sends back is handed upward as opaque text once the transport
// reports completion.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/ssn1/internal/models"
	"github.com/Guliveer/ssn1/internal/transport"
)

var (
	// ErrNotIdle is returned by Submit while a request is in flight.
	ErrNotIdle = errors.New("client not idle")

	// ErrDisposed is returned when a disposed client is used or disposed again.
	ErrDisposed = errors.New("client disposed")
)

// Transport is the connection a Client drives. *transport.Conn implements it.
type Transport interface {
	Enqueue(data []byte) error
	Poll() (bool, error)
	OnComplete(fn transport.CompletionFunc)
	Close() error
}

// ResponseFunc receives the raw response text of a completed request.
type ResponseFunc func(response string)

// Client is a single-request-at-a-time HTTP client over a Transport.
// It is not safe for concurrent use.
type Client struct {
	host   string
	tcp    Transport
	logger *zap.Logger

	state       State
	response    [ResponseCapacity]byte
	responseLen int
	onResponse  ResponseFunc
	disposed    bool
}

// Open creates a Client with its own transport connection to host:port.
func Open(host, port string, logger *zap.Logger, opts ...transport.Option) (*Client, error) {
	conn, err := transport.Open(host, port, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("init transport: %w", err)
	}
	c := New(host, conn, logger)
	c.logger.Debug("Initialized", zap.String("host", host), zap.String("port", port))
	return c, nil
}

// New creates a Client over an existing transport and registers itself as
// the transport's completion target. host is used for the Host header.
func New(host string, tcp Transport, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		host:   host,
		tcp:    tcp,
		logger: logger.Named("http"),
		state:  StateIdle,
	}
	tcp.OnComplete(c.handleResponse)
	return c
}

// OnResponse registers the upward completion callback, replacing any
// previous one.
func (c *Client) OnResponse(fn ResponseFunc) {
	c.onResponse = fn
}

// State returns the current lifecycle state.
func (c *Client) State() State { return c.state }

// LastResponse returns the most recently completed response.
func (c *Client) LastResponse() string {
	return string(c.response[:c.responseLen])
}

// Submit formats one report and queues it on the transport. It fails with
// no state change if the client is busy, the request exceeds its size
// bounds, or the transport rejects it.
func (c *Client) Submit(device string, ts time.Time, temperature float64, alarm bool) error {
	if c.disposed {
		return ErrDisposed
	}
	if c.state != StateIdle {
		c.logger.Warn("Cannot send, not idle", zap.Stringer("state", c.state))
		return fmt.Errorf("%w (current: %s)", ErrNotIdle, c.state)
	}

	body, err := models.NewReport(device, ts, temperature, alarm).MarshalBody()
	if err != nil {
		return fmt.Errorf("format body: %w", err)
	}
	c.logger.Debug("JSON body", zap.ByteString("body", body))

	req, err := BuildRequest(c.host, body)
	if err != nil {
		c.logger.Error("Failed to build request", zap.Error(err))
		return err
	}

	if err := c.tcp.Enqueue(req); err != nil {
		return fmt.Errorf("queue request: %w", err)
	}

	c.logger.Debug("Sending POST request", zap.Int("bytes", len(req)))
	c.state = StateProcessing
	return nil
}

// Poll drives the transport. It returns true once a response has been
// delivered to the registered callback and a non-nil error when the
// transaction failed. Either way the client is idle again on return.
func (c *Client) Poll() (bool, error) {
	switch c.state {
	case StateIdle:
		return false, nil

	case StateProcessing:
		// A finished transport moves c to StateComplete from inside this
		// call via handleResponse; it is reported on the next Poll.
		if _, err := c.tcp.Poll(); err != nil {
			return false, c.fail(err)
		}
		return false, nil

	case StateComplete:
		if c.onResponse != nil {
			c.onResponse(c.LastResponse())
		}
		c.state = StateIdle
		return true, nil

	case StateError:
		return false, c.fail(errors.New("request failed"))
	}

	return false, nil
}

// Dispose closes the transport. A second call returns ErrDisposed.
func (c *Client) Dispose() error {
	if c.disposed {
		return ErrDisposed
	}
	c.disposed = true
	if err := c.tcp.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	c.logger.Debug("Disposed")
	return nil
}

// fail drops the request in flight. The client passes through StateError
// and is idle again before returning.
func (c *Client) fail(err error) error {
	c.state = StateError
	c.logger.Warn("Transport error", zap.Error(err))
	c.state = StateIdle
	return err
}

func (c *Client) handleResponse(resp []byte) {
	n := copy(c.response[:ResponseCapacity-1], resp)
	c.responseLen = n
	c.logger.Debug("Received response", zap.Int("bytes", len(resp)))
	c.state = StateComplete
}
