package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrWouldBlock is returned by a Socket when the operation cannot make
// progress without blocking. Callers retry on a later poll.
var ErrWouldBlock = errors.New("operation would block")

// ErrUnsupported is returned by SocketDialer on platforms without a
// non-blocking socket implementation.
var ErrUnsupported = errors.New("non-blocking sockets not supported on this platform")

// defaultResolveTimeout bounds name resolution when SocketDialer.Timeout is unset.
const defaultResolveTimeout = 5 * time.Second

// Socket is a connected-or-connecting non-blocking stream socket.
type Socket interface {
	// Connected reports whether the pending connect attempt has finished
	// without blocking. It returns false, nil while the connect is still in
	// progress and an error when it failed.
	Connected() (bool, error)

	// Write writes as much of p as the socket accepts without blocking.
	// It returns ErrWouldBlock when nothing could be written.
	Write(p []byte) (int, error)

	// Read reads available bytes into p. It returns ErrWouldBlock when no
	// data is available and io.EOF when the peer closed the connection.
	Read(p []byte) (int, error)

	Close() error
}

// Dialer resolves host:port, opens a non-blocking socket and issues a
// connect attempt. An in-progress connect is a successful Dial.
type Dialer interface {
	Dial(host, port string) (Socket, error)
}

// SocketDialer is the production Dialer. Name resolution is synchronous
// and stalls the caller for up to Timeout.
type SocketDialer struct {
	Resolver *net.Resolver
	Timeout  time.Duration
}

// NewSocketDialer creates a SocketDialer using the default resolver.
func NewSocketDialer(timeout time.Duration) *SocketDialer {
	return &SocketDialer{
		Resolver: net.DefaultResolver,
		Timeout:  timeout,
	}
}

// resolve returns the address to connect to, preferring IPv4.
func (d *SocketDialer) resolve(host, port string) (net.IP, int, error) {
	resolver := d.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	portNum, err := resolver.LookupPort(ctx, "tcp", port)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve port %q: %w", port, err)
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, 0, fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP, portNum, nil
		}
	}
	return addrs[0].IP, portNum, nil
}
