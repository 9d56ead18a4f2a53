// Package control exposes a localhost-only HTTP interface for
// inspecting and managing a running proxy.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gbmerrall/cacheproxy/internal/cache"
	"github.com/gbmerrall/cacheproxy/internal/config"
	"github.com/gbmerrall/cacheproxy/internal/proxy"
)

// ControlAPI serves the management endpoints.
type ControlAPI struct {
	logger    *slog.Logger
	config    *config.Config
	cache     *cache.Cache
	proxy     *proxy.Server
	startTime time.Time
	server    *http.Server
	shutdown  func() // triggers graceful proxy shutdown
}

// NewControlAPI creates a ControlAPI instance.
func NewControlAPI(logger *slog.Logger, cfg *config.Config, c *cache.Cache, p *proxy.Server, shutdown func()) *ControlAPI {
	return &ControlAPI{
		logger:    logger,
		config:    cfg,
		cache:     c,
		proxy:     p,
		startTime: time.Now(),
		shutdown:  shutdown,
	}
}

// Start runs the control server. It only ever binds the loopback
// interface.
func (a *ControlAPI) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", a.config.ControlPort)
	a.logger.Info("starting control API", "address", addr)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/stats", a.handleStats)
	mux.HandleFunc("/purge/all", a.handlePurgeAll)
	mux.HandleFunc("/shutdown", a.handleShutdown)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintln(w, "cacheproxy control API")
	})

	a.server = &http.Server{Addr: addr, Handler: mux}
	return a.server.ListenAndServe()
}

// Shutdown stops the control server.
func (a *ControlAPI) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	a.logger.Info("shutting down control API")
	return a.server.Shutdown(ctx)
}

// StatsResponse is the JSON shape returned by /stats.
type StatsResponse struct {
	Cache         cache.Stats `json:"cache"`
	QueueDepth    int         `json:"queue_depth"`
	Goroutines    int         `json:"goroutines"`
	UptimeSeconds float64     `json:"uptime_seconds"`
}

func (a *ControlAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *ControlAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Cache:         a.cache.GetStats(),
		QueueDepth:    a.proxy.QueueLen(),
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: time.Since(a.startTime).Seconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (a *ControlAPI) handlePurgeAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	count := a.cache.Purge()
	a.logger.Info("cache purged via control API", "entries", count)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"purged": count})
}

func (a *ControlAPI) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "shutting down"})
	go a.shutdown()
}
