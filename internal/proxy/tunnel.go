package proxy

import (
	"errors"
	"log/slog"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/gbmerrall/cacheproxy/internal/parse"
)

const (
	tunnelBufSize = 8 * 1024

	// tunnelIdleMillis is how long one poll waits. A timeout does not
	// tear the tunnel down; the loop re-enters the wait.
	tunnelIdleMillis = 60_000
)

const connectEstablished = "HTTP/1.1 200 Connection established\r\n\r\n"

// handleTunnel splices opaque bytes between client and origin for
// CONNECT. It returns the byte count moved in both directions.
func (s *Server) handleTunnel(logger *slog.Logger, client net.Conn, req *parse.Request) int64 {
	port := req.Port
	if port == "" {
		port = "443"
	}

	raddr, err := net.ResolveTCPAddr("tcp4", net.JoinHostPort(req.Host, port))
	if err != nil {
		logger.Error("cannot resolve origin host", "host", req.Host, "error", err)
		return 0
	}
	origin, err := net.DialTCP("tcp4", nil, raddr)
	if err != nil {
		logger.Error("failed to connect to origin", "host", req.Host, "port", port, "error", err)
		return 0
	}
	defer origin.Close()

	if _, err := client.Write([]byte(connectEstablished)); err != nil {
		logger.Error("failed to send 200 to client", "error", err)
		return 0
	}
	logger.Info("tunnel established", "host", req.Host, "port", port)

	clientFD, err := rawFD(client)
	if err != nil {
		logger.Error("cannot obtain client descriptor", "error", err)
		return 0
	}
	originFD, err := rawFD(origin)
	if err != nil {
		logger.Error("cannot obtain origin descriptor", "error", err)
		return 0
	}

	// Readiness loop. Each iteration forwards whichever side is
	// readable; when both are, client bytes move first. Poll timeouts
	// keep the tunnel alive, shutdown ends it.
	buf := make([]byte, tunnelBufSize)
	fds := []unix.PollFd{
		{Fd: int32(clientFD), Events: unix.POLLIN},
		{Fd: int32(originFD), Events: unix.POLLIN},
	}
	var moved int64
	for s.running.Load() {
		fds[0].Revents = 0
		fds[1].Revents = 0

		n, err := unix.Poll(fds, tunnelIdleMillis)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			logger.Error("poll failed in tunnel", "error", err)
			break
		}
		if n == 0 {
			continue
		}

		if fds[0].Revents != 0 {
			n, ok := forward(client, origin, buf)
			moved += n
			if !ok {
				break
			}
		}
		if fds[1].Revents != 0 {
			n, ok := forward(origin, client, buf)
			moved += n
			if !ok {
				break
			}
		}
	}

	logger.Info("tunnel closed", "host", req.Host, "port", port, "bytes", moved)
	return moved
}

// forward moves one buffer from src to dst. It reports false when the
// tunnel should end: a zero-byte read, a read error, or a write error.
func forward(src, dst net.Conn, buf []byte) (int64, bool) {
	n, rerr := src.Read(buf)
	if n > 0 {
		if _, werr := dst.Write(buf[:n]); werr != nil {
			return int64(n), false
		}
	}
	if rerr != nil {
		return int64(n), false
	}
	return int64(n), n > 0
}

// rawFD extracts the OS descriptor backing a connection for poll(2).
// The descriptor stays owned by the runtime; it is only observed.
func rawFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, errors.New("proxy: connection does not expose a descriptor")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	fd := -1
	if cerr := rc.Control(func(f uintptr) { fd = int(f) }); cerr != nil {
		return 0, cerr
	}
	return fd, nil
}
