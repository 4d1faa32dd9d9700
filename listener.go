package wu

import (
	"context"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// listener implements the `net.Listener`. It enables SO_REUSEADDR before
// binding and applies TCP keep-alive to every accepted connection, so that
// a restart of the dev server can rebind its port immediately even while
// old browser connections are draining.
type listener struct {
	*net.TCPListener

	s *Server
}

// newListener returns a new instance of the `listener` with the s.
func newListener(s *Server) *listener {
	return &listener{
		s: s,
	}
}

// listen listens on the TCP network address.
func (l *listener) listen(address string) error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(
					int(fd),
					unix.SOL_SOCKET,
					unix.SO_REUSEADDR,
					1,
				)
			}); err != nil {
				return err
			}

			return serr
		},
	}

	nl, err := lc.Listen(context.Background(), "tcp", address)
	if err != nil {
		return err
	}

	l.TCPListener = nl.(*net.TCPListener)

	return nil
}

// Accept implements the `net.Listener`.
func (l *listener) Accept() (net.Conn, error) {
	tc, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}

	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)

	return tc, nil
}
