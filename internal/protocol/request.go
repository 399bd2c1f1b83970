package protocol

import (
	"errors"
	"fmt"
)

const (
	// MaxBodySize bounds the encoded JSON body.
	MaxBodySize = 512

	// MaxRequestSize bounds the full HTTP request, headers included.
	MaxRequestSize = 2048

	// ResponseCapacity is the size of the response buffer. As with the
	// transport, one byte is reserved, so responses keep at most
	// ResponseCapacity-1 bytes.
	ResponseCapacity = 4096

	requestPath = "/post"
)

var (
	ErrBodyTooLarge    = errors.New("request body too large")
	ErrRequestTooLarge = errors.New("request too large")
)

// BuildRequest frames body as an HTTP/1.1 POST to the collector.
func BuildRequest(host string, body []byte) ([]byte, error) {
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrBodyTooLarge, len(body), MaxBodySize)
	}

	head := fmt.Sprintf("POST %s HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"Content-Type: application/json\r\n"+
		"Content-Length: %d\r\n"+
		"Connection: close\r\n"+
		"\r\n", requestPath, host, len(body))

	if len(head)+len(body) > MaxRequestSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrRequestTooLarge, len(head)+len(body), MaxRequestSize)
	}

	req := make([]byte, 0, len(head)+len(body))
	req = append(req, head...)
	req = append(req, body...)
	return req, nil
}
