//go:build linux || darwin

package channel

import (
	"net"

	"github.com/go-kit/log"
	"golang.org/x/sys/unix"

	"github.com/nt-core/netgo/internal/allocator"
	"github.com/nt-core/netgo/loop"
)

// tcpTransport is a Transport over a raw nonblocking TCP socket,
// driven directly through golang.org/x/sys/unix rather than net.Conn
// so the fd's readiness stays solely under this Event Loop's epoll/
// kqueue selector instead of also being multiplexed by the Go runtime
// netpoller.
type tcpTransport struct {
	fd     int
	local  net.Addr
	remote net.Addr
}

func (t *tcpTransport) Fd() int { return t.fd }

func (t *tcpTransport) ReadNonBlocking(buf []byte) (int, error) {
	n, err := unix.Read(t.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	if n == 0 {
		return 0, errEOF
	}
	return n, nil
}

func (t *tcpTransport) WriteNonBlocking(buf []byte) (int, error) {
	n, err := unix.Write(t.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (t *tcpTransport) Close() error { return unix.Close(t.fd) }

func (t *tcpTransport) LocalAddr() net.Addr  { return t.local }
func (t *tcpTransport) RemoteAddr() net.Addr { return t.remote }

type errEOFType struct{}

func (errEOFType) Error() string { return "EOF" }

var errEOF = errEOFType{}

// tcpListener is a ListenerTransport over a raw nonblocking listening
// socket.
type tcpListener struct {
	fd    int
	local net.Addr
}

func (l *tcpListener) Fd() int           { return l.fd }
func (l *tcpListener) Close() error      { return unix.Close(l.fd) }
func (l *tcpListener) LocalAddr() net.Addr { return l.local }

func (l *tcpListener) AcceptNonBlocking() (Transport, error) {
	nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	remote := sockaddrToTCPAddr(sa)
	return &tcpTransport{fd: nfd, local: l.local, remote: remote}, nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	default:
		return nil
	}
}

// DialTCP connects to address and returns a Channel registered with
// loopRef, already Active. The connect itself runs synchronously on
// the calling goroutine (a simplification over a full nonblocking
// EINPROGRESS handshake, acceptable since Dial is a setup-time call
// rather than a hot-path operation); every subsequent read/write goes
// through the nonblocking fd under loopRef's selector.
func DialTCP(loopRef *loop.Loop, alloc *allocator.Allocator, address string, logger log.Logger) (*Channel, error) {
	raddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, err
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := raddr.IP.To4(); ip4 != nil {
		s := &unix.SockaddrInet4{Port: raddr.Port}
		copy(s.Addr[:], ip4)
		sa = s
	} else {
		domain = unix.AF_INET6
		s := &unix.SockaddrInet6{Port: raddr.Port}
		copy(s.Addr[:], raddr.IP.To16())
		sa = s
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}

	localSA, _ := unix.Getsockname(fd)
	local := sockaddrToTCPAddr(localSA)

	transport := &tcpTransport{fd: fd, local: local, remote: raddr}
	c := New(loopRef, transport, alloc, logger)
	if err := c.Register(); err != nil {
		transport.Close()
		return nil, err
	}
	c.activate(local, raddr)
	return c, nil
}

// ListenTCP opens a listening socket at address and returns a server
// Channel registered with loopRef; onAccept is invoked, on loopRef's
// goroutine, with a fresh Channel for every accepted connection.
func ListenTCP(loopRef *loop.Loop, alloc *allocator.Allocator, address string, onAccept func(*Channel), logger log.Logger) (*Channel, error) {
	laddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, err
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := laddr.IP.To4(); ip4 != nil || laddr.IP == nil {
		s := &unix.SockaddrInet4{Port: laddr.Port}
		if ip4 != nil {
			copy(s.Addr[:], ip4)
		}
		sa = s
	} else {
		domain = unix.AF_INET6
		s := &unix.SockaddrInet6{Port: laddr.Port}
		copy(s.Addr[:], laddr.IP.To16())
		sa = s
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return nil, err
	}

	boundSA, _ := unix.Getsockname(fd)
	local := sockaddrToTCPAddr(boundSA)

	lt := &tcpListener{fd: fd, local: local}
	c := NewListener(loopRef, lt, alloc, onAccept, logger)
	if err := c.Register(); err != nil {
		lt.Close()
		return nil, err
	}
	c.activate(local, nil)
	return c, nil
}
