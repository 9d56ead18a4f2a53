// Package proxy implements the caching forward proxy engine: the
// listener and accept loop, the worker pool draining the connection
// queue, and the per-connection GET and CONNECT handlers.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/gbmerrall/cacheproxy/internal/blocklist"
	"github.com/gbmerrall/cacheproxy/internal/cache"
	"github.com/gbmerrall/cacheproxy/internal/config"
	"github.com/gbmerrall/cacheproxy/internal/logging"
	"github.com/gbmerrall/cacheproxy/internal/parse"
	"github.com/gbmerrall/cacheproxy/internal/queue"
)

// maxRequestLen bounds the initial read holding the request line.
const maxRequestLen = 8192

const forbiddenResponse = "HTTP/1.1 403 Forbidden\r\nContent-Length: 0\r\n\r\n"

// Server owns the listener, the task queue and the worker pool.
type Server struct {
	logger  *slog.Logger
	cfg     *config.Config
	cache   *cache.Cache
	blocked *blocklist.Blocklist
	access  *logging.AccessLogger // nil when access logging is disabled

	queue   *queue.Queue
	running *atomic.Bool
	ln      net.Listener
	workers sync.WaitGroup
}

// NewServer assembles a Server from its collaborators. access may be
// nil.
func NewServer(logger *slog.Logger, cfg *config.Config, c *cache.Cache, b *blocklist.Blocklist, access *logging.AccessLogger) *Server {
	return &Server{
		logger:  logger,
		cfg:     cfg,
		cache:   c,
		blocked: b,
		access:  access,
		queue:   queue.New(config.QueueCapacity),
		running: atomic.NewBool(true),
	}
}

// reuseAddr sets SO_REUSEADDR before bind.
func reuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return serr
}

// Listen binds the configured port on all interfaces.
func (s *Server) Listen() error {
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp4", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("proxy: listen on port %d: %w", s.cfg.Port, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound listener address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// QueueLen reports how many accepted connections await a worker.
func (s *Server) QueueLen() int {
	return s.queue.Len()
}

// Serve spawns the worker pool and runs the accept loop. It returns
// after Shutdown once the queue has drained and every worker has
// exited.
func (s *Server) Serve() error {
	for i := 0; i < s.cfg.Threads; i++ {
		s.workers.Add(1)
		go s.worker()
	}
	s.logger.Info("proxy listening", "address", s.ln.Addr().String(), "threads", s.cfg.Threads)

	for s.running.Load() {
		conn, err := s.ln.Accept()
		if err != nil {
			if !s.running.Load() {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.queue.Enqueue(conn)
	}

	s.logger.Info("shutting down, draining queue", "queued", s.queue.Len())
	s.queue.Close()
	s.workers.Wait()
	s.logger.Info("all workers joined")
	return nil
}

// Start is Listen followed by Serve.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops the accept loop. Serve finishes the remaining queued
// connections before returning. Idempotent.
func (s *Server) Shutdown() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if s.ln != nil {
		s.ln.Close()
	}
}

// worker processes one connection at a time until the queue reports
// done.
func (s *Server) worker() {
	defer s.workers.Done()
	for {
		conn, ok := s.queue.Dequeue()
		if !ok {
			return
		}
		s.handleConn(conn)
		conn.Close()
	}
}

// handleConn reads the request head, parses the request line and
// dispatches. The client connection is closed by the caller.
func (s *Server) handleConn(conn net.Conn) {
	start := time.Now()
	connID := uuid.Must(uuid.NewV7()).String()
	logger := s.logger.With("conn_id", connID)

	buf := make([]byte, maxRequestLen)
	n, err := conn.Read(buf)
	if n == 0 {
		if err != nil && err != io.EOF {
			logger.Error("failed to read request", "error", err)
		}
		return
	}

	req, err := parse.Parse(buf[:n])
	if err != nil {
		logger.Error("failed to parse request", "error", err)
		return
	}

	if s.blocked.Blocked(req.Host) {
		logger.Warn("blocked host", "host", req.Host)
		conn.Write([]byte(forbiddenResponse))
		s.logAccess(connID, req.Method, req.Host, "BLOCKED", 0, start)
		return
	}

	switch req.Method {
	case "CONNECT":
		sent := s.handleTunnel(logger, conn, req)
		s.logAccess(connID, req.Method, net.JoinHostPort(req.Host, req.Port), "", sent, start)
	default:
		status, sent := s.handleGet(logger, conn, req)
		s.logAccess(connID, req.Method, req.Host+req.Path, status, sent, start)
	}
}

func (s *Server) logAccess(connID, method, target, cacheStatus string, bytes int64, start time.Time) {
	if s.access == nil {
		return
	}
	s.access.LogRequest(connID, method, target, cacheStatus, bytes, time.Since(start))
}
