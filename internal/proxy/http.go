package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/gbmerrall/cacheproxy/internal/parse"
)

// handleGet serves a GET either from cache or from the origin. It
// returns the cache status and the bytes sent to the client.
//
// The origin response is not parsed: the entire byte stream up to the
// per-element ceiling is accumulated and cached as one opaque object.
func (s *Server) handleGet(logger *slog.Logger, client net.Conn, req *parse.Request) (string, int64) {
	if req.Host == "" || req.Path == "" {
		logger.Error("cannot build cache key from incomplete request")
		return "", 0
	}
	key := req.Host + req.Path

	if data, ok := s.cache.Get(key); ok {
		n, err := client.Write(data)
		if err != nil {
			logger.Error("failed to write cached response to client", "key", key, "error", err)
		}
		return "HIT", int64(n)
	}

	port := req.Port
	if port == "" {
		port = "80"
	}
	raddr, err := net.ResolveTCPAddr("tcp4", net.JoinHostPort(req.Host, port))
	if err != nil {
		logger.Error("cannot resolve origin host", "host", req.Host, "error", err)
		return "MISS", 0
	}
	origin, err := net.DialTCP("tcp4", nil, raddr)
	if err != nil {
		logger.Error("failed to connect to origin", "host", req.Host, "port", port, "error", err)
		return "MISS", 0
	}
	defer origin.Close()

	rewritten := fmt.Sprintf("GET %s %s\r\nHost: %s\r\nConnection: close\r\n\r\n", req.Path, req.Version, req.Host)
	if _, err := origin.Write([]byte(rewritten)); err != nil {
		logger.Error("failed to send request to origin", "host", req.Host, "error", err)
		return "MISS", 0
	}
	logger.Info("forwarding request to origin", "host", req.Host, "path", req.Path)

	// Stream each chunk to the client as it arrives while accumulating
	// up to the ceiling for the cache.
	buf := make([]byte, s.cfg.ElementBytes())
	total := 0
	var sent int64
	for total < len(buf) {
		n, rerr := origin.Read(buf[total:])
		if n > 0 {
			wn, werr := client.Write(buf[total : total+n])
			sent += int64(wn)
			total += n
			if werr != nil {
				logger.Error("failed to write response to client", "error", werr)
				return "MISS", sent
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				logger.Error("failed to read origin response", "host", req.Host, "error", rerr)
			}
			break
		}
	}

	if total > 0 {
		s.cache.Put(key, buf[:total])
	}
	return "MISS", sent
}
