package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron"
	log "github.com/sirupsen/logrus"

	"sprintscope/backend/internal/httpapi"
)

var (
	runServer          = run
	makeRouter         = httpapi.NewRouter
	loadRuntimeConfig  = httpapi.LoadRuntimeConfigFromEnv
	logPrintf          = log.Infof
	exitProcess        = os.Exit
	signalNotify       = signal.Notify
	signalStop         = signal.Stop
	newShutdownContext = context.WithTimeout
)

const (
	shutdownTimeout = 30 * time.Second
	refreshTimeout  = 2 * time.Minute
)

func main() {
	runtimeConfig, err := loadRuntimeConfig()
	if err != nil {
		logPrintf("failed to load runtime config: %v", err)
		exitProcess(1)
		return
	}

	configureLogging(runtimeConfig.LogLevel)
	logStartupWarnings(runtimeConfig, logPrintf)
	addr := getenv("SPRINTSCOPE_ADDR", runtimeConfig.ListenAddr)

	router, err := makeRouter(runtimeConfig)
	if err != nil {
		logPrintf("failed to initialize router: %v", err)
		exitProcess(1)
		return
	}

	scheduler, err := startScheduledRefresh(runtimeConfig.RefreshSchedule, router, logPrintf)
	if err != nil {
		logPrintf("failed to start scheduled refresh: %v", err)
		exitProcess(1)
		return
	}
	if scheduler != nil {
		defer scheduler.Stop()
	}

	err = runServer(addr, router, func(server *http.Server, listener net.Listener) error {
		return server.Serve(listener)
	}, logPrintf)
	if err != nil {
		logPrintf("server failed: %v", err)
		exitProcess(1)
		return
	}
}

func configureLogging(level string) {
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func logStartupWarnings(runtimeConfig httpapi.RuntimeConfig, logger func(string, ...any)) {
	if logger == nil || !runtimeConfig.Mode.IsDevelopment() {
		return
	}

	logger("WARNING: backend is running in development mode")
	logger("WARNING: development mode enables permissive CORS defaults")
	logger("WARNING: do not expose development mode to untrusted networks")
}

type refresher interface {
	RefreshAll(ctx context.Context)
}

// startScheduledRefresh keeps loaded board snapshots warm on a cron
// schedule. A blank schedule disables it.
func startScheduledRefresh(schedule string, handler http.Handler, logger func(string, ...any)) (*cron.Cron, error) {
	if strings.TrimSpace(schedule) == "" {
		return nil, nil
	}
	target, ok := handler.(refresher)
	if !ok {
		return nil, nil
	}

	scheduler := cron.New()
	err := scheduler.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		target.RefreshAll(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}

	scheduler.Start()
	if logger != nil {
		logger("scheduled refresh enabled (%s)", schedule)
	}
	return scheduler, nil
}

func getenv(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}

	return value
}

func run(addr string, handler http.Handler, start func(*http.Server, net.Listener) error, logger func(string, ...any)) error {
	if start == nil {
		return fmt.Errorf("start function is required")
	}

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
		// Limits time to read request headers and reduces slowloris risk.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Upstream tracker calls can be slow; keep the write window wide
		// enough for a full planning load.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer func() {
		_ = listener.Close()
	}()

	if logger != nil {
		logger("sprintscope backend listening on %s", addr)
	}

	serveErr := make(chan error, 1)
	go func() {
		if startErr := start(server, listener); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
			serveErr <- startErr
			return
		}
		serveErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signalStop(quit)

	select {
	case err = <-serveErr:
		return err
	case shutdownSignal := <-quit:
		if logger != nil {
			logger("shutdown signal received (%s), draining in-flight requests", shutdownSignal)
		}
	}

	ctx, cancel := newShutdownContext(context.Background(), shutdownTimeout)
	defer cancel()

	err = server.Shutdown(ctx)
	if err != nil {
		if logger != nil {
			logger("server forced to shutdown: %v", err)
		}
	} else if logger != nil {
		logger("server exited gracefully")
	}

	err = closeResources(handler)
	if err != nil {
		if logger != nil {
			logger("resource cleanup failed: %v", err)
		}
	} else if logger != nil {
		logger("resource cleanup completed")
	}

	select {
	case err = <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		if logger != nil {
			logger("timed out waiting for server goroutine to exit: %v", ctx.Err())
		}
	}

	return nil
}

type closer interface {
	Close() error
}

func closeResources(handler http.Handler) error {
	if handler == nil {
		return nil
	}

	resourceCloser, ok := handler.(closer)
	if !ok {
		return nil
	}

	return resourceCloser.Close()
}
