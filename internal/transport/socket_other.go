//go:build !linux && !darwin

package transport

// Dial always fails on platforms without the raw socket implementation.
func (d *SocketDialer) Dial(host, port string) (Socket, error) {
	return nil, ErrUnsupported
}
