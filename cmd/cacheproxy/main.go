package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/gbmerrall/cacheproxy/internal/blocklist"
	"github.com/gbmerrall/cacheproxy/internal/cache"
	"github.com/gbmerrall/cacheproxy/internal/cli"
	"github.com/gbmerrall/cacheproxy/internal/config"
	"github.com/gbmerrall/cacheproxy/internal/control"
	"github.com/gbmerrall/cacheproxy/internal/logging"
	"github.com/gbmerrall/cacheproxy/internal/pidfile"
	"github.com/gbmerrall/cacheproxy/internal/proxy"
)

var exit = os.Exit

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}
}

func run(args []string) error {
	configPath := flag.String("config", "proxy.conf", "Path to config file")
	daemon := flag.Bool("daemon", false, "Run as a background daemon")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	if len(flag.Args()) > 0 {
		cfg, err := config.LoadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("error loading config for CLI: %w", err)
		}
		return cli.Run(cfg.ControlPort, flag.Args())
	}

	if *daemon {
		if _, err := pidfile.Read(); err == nil {
			return fmt.Errorf("cacheproxy is already running")
		}
		args := os.Args[1:]
		for i, arg := range args {
			if arg == "--daemon" || arg == "-daemon" {
				args = append(args[:i], args[i+1:]...)
				break
			}
		}
		cmd := exec.Command(os.Args[0], args...)
		cmd.SysProcAttr = getProcAttr()
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
		fmt.Printf("cacheproxy started in background with PID: %d\n", cmd.Process.Pid)
		return nil
	}

	startServer(*configPath, *logLevel)
	return nil
}

func startServer(configPath, logLevelOverride string) {
	// Signal handling comes first so a shutdown delivered during
	// startup is not lost. SIGPIPE stays ignored: writes to closed
	// client sockets surface as errors instead of killing the process.
	signal.Ignore(syscall.SIGPIPE)
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		exit(1)
		return
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if logLevelOverride != "" {
		level = logging.ParseLevel(logLevelOverride)
	}
	sink, err := logging.Open(cfg.LogFile, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open log file: %v\n", err)
		exit(1)
		return
	}
	defer sink.Close()
	logger := logging.NewLogger(sink)

	logger.Info("server starting",
		"port", cfg.Port,
		"threads", cfg.Threads,
		"cacheSizeMB", cfg.CacheSizeMB,
		"elementSizeMB", cfg.ElementSizeMB)

	blist, err := blocklist.Load(cfg.BlocklistFile)
	if err != nil {
		logger.Warn("blocklist not loaded, no domains will be blocked", "path", cfg.BlocklistFile, "error", err)
		blist = blocklist.New(nil)
	} else {
		logger.Info("blocklist loaded", "path", cfg.BlocklistFile, "entries", blist.Len())
	}

	if err := pidfile.Write(); err != nil {
		logger.Error("failed to write pidfile", "error", err)
		exit(1)
		return
	}
	defer pidfile.Remove()

	c := cache.New(logger, cfg.CacheBytes(), cfg.ElementBytes())

	var access *logging.AccessLogger
	if cfg.AccessLog.Enable {
		access = logging.NewAccessLogger(logging.AccessLoggerConfig{
			Format:        logging.AccessLogFormat(cfg.AccessLog.Format),
			StdoutEnabled: cfg.AccessLog.Stdout,
			LogFile:       cfg.AccessLog.File,
			ErrorHandler: func(err error) {
				logger.Error("access log error", "error", err)
			},
		})
		defer access.Close()
	}

	srv := proxy.NewServer(logger, cfg, c, blist, access)
	if err := srv.Listen(); err != nil {
		logging.Fatal(logger, "cannot open listening socket", "error", err)
		sink.Close()
		exit(1)
		return
	}
	fmt.Printf("Proxy server listening on %s...\n", srv.Addr())

	controlAPI := control.NewControlAPI(logger, cfg, c, srv, srv.Shutdown)
	go func() {
		if err := controlAPI.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("control API failed", "error", err)
		}
	}()

	go func() {
		sig := <-sigchan
		logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String())
		srv.Shutdown()
	}()

	if err := srv.Serve(); err != nil {
		logging.Fatal(logger, "proxy failed", "error", err)
		sink.Close()
		exit(1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := controlAPI.Shutdown(ctx); err != nil {
		logger.Error("control API shutdown failed", "error", err)
	}

	freed := c.Purge()
	logger.Info("server shut down cleanly", "freedEntries", freed)
}
