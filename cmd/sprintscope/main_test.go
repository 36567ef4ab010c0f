package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"sprintscope/backend/internal/httpapi"
)

func TestGetenv(t *testing.T) {
	t.Setenv("SPRINTSCOPE_ADDR", ":9000")
	if got := getenv("SPRINTSCOPE_ADDR", ":8070"); got != ":9000" {
		t.Fatalf("expected :9000 got %s", got)
	}

	t.Setenv("SPRINTSCOPE_ADDR", "")
	if got := getenv("SPRINTSCOPE_ADDR", ":8070"); got != ":8070" {
		t.Fatalf("expected fallback got %s", got)
	}
}

func TestRun(t *testing.T) {
	handler := http.NewServeMux()
	loggerCalled := false
	addr := "127.0.0.1:0"

	if err := run(addr, handler, func(server *http.Server, _ net.Listener) error {
		if server.Addr != addr {
			t.Fatalf("unexpected server addr %s", server.Addr)
		}
		if server.Handler != handler {
			t.Fatalf("unexpected server handler")
		}
		if server.ReadHeaderTimeout != 10*time.Second {
			t.Fatalf("expected read header timeout 10s, got %v", server.ReadHeaderTimeout)
		}
		return nil
	}, func(_ string, _ ...any) {
		loggerCalled = true
	}); err != nil {
		t.Fatalf("expected run success, got %v", err)
	}
	if !loggerCalled {
		t.Fatal("expected logger callback to be called")
	}

	if err := run(addr, handler, func(_ *http.Server, _ net.Listener) error {
		return http.ErrServerClosed
	}, nil); err != nil {
		t.Fatalf("expected nil on server closed, got %v", err)
	}

	expected := errors.New("boom")
	if err := run(addr, handler, func(_ *http.Server, _ net.Listener) error {
		return expected
	}, nil); !errors.Is(err, expected) {
		t.Fatalf("expected propagated error, got %v", err)
	}

	if err := run(addr, handler, nil, nil); err == nil {
		t.Fatal("expected error for nil start function")
	}
}

func TestRunGracefulShutdownCallsCleanup(t *testing.T) {
	previousSignalNotify := signalNotify
	previousSignalStop := signalStop
	t.Cleanup(func() {
		signalNotify = previousSignalNotify
		signalStop = previousSignalStop
	})

	registeredSignalChannel := make(chan chan<- os.Signal, 1)
	signalNotify = func(c chan<- os.Signal, _ ...os.Signal) {
		registeredSignalChannel <- c
	}
	signalStop = func(chan<- os.Signal) {}

	startRelease := make(chan struct{})
	handler := &testClosableHandler{Handler: http.NewServeMux()}
	logs := make(chan string, 16)

	runErrors := make(chan error, 1)
	go func() {
		runErrors <- run("127.0.0.1:0", handler, func(_ *http.Server, _ net.Listener) error {
			<-startRelease
			return http.ErrServerClosed
		}, func(format string, args ...any) {
			logs <- fmt.Sprintf(format, args...)
		})
	}()

	signalChannel := <-registeredSignalChannel
	signalChannel <- syscall.SIGTERM
	close(startRelease)

	if err := <-runErrors; err != nil {
		t.Fatalf("expected graceful shutdown to return nil, got %v", err)
	}
	if !handler.closed {
		t.Fatal("expected handler cleanup to run on shutdown")
	}
	logEntries := drainLogChannel(logs)
	if !logsContain(logEntries, "shutdown signal received") {
		t.Fatalf("expected shutdown log message, got %v", logEntries)
	}
	if !logsContain(logEntries, "resource cleanup completed") {
		t.Fatalf("expected cleanup completion log message, got %v", logEntries)
	}
}

func TestRunReturnsServeErrorAfterShutdownSignal(t *testing.T) {
	previousSignalNotify := signalNotify
	previousSignalStop := signalStop
	t.Cleanup(func() {
		signalNotify = previousSignalNotify
		signalStop = previousSignalStop
	})

	registeredSignalChannel := make(chan chan<- os.Signal, 1)
	signalNotify = func(c chan<- os.Signal, _ ...os.Signal) {
		registeredSignalChannel <- c
	}
	signalStop = func(chan<- os.Signal) {}

	startRelease := make(chan struct{})
	expected := errors.New("serve failure")
	runErrors := make(chan error, 1)
	go func() {
		runErrors <- run("127.0.0.1:0", http.NewServeMux(), func(_ *http.Server, _ net.Listener) error {
			<-startRelease
			return expected
		}, nil)
	}()

	signalChannel := <-registeredSignalChannel
	signalChannel <- syscall.SIGINT
	close(startRelease)

	if err := <-runErrors; !errors.Is(err, expected) {
		t.Fatalf("expected serve error %v after shutdown, got %v", expected, err)
	}
}

func TestCloseResources(t *testing.T) {
	if err := closeResources(nil); err != nil {
		t.Fatalf("expected nil for nil handler, got %v", err)
	}

	if err := closeResources(http.NewServeMux()); err != nil {
		t.Fatalf("expected nil for non-closable handler, got %v", err)
	}

	expected := errors.New("close failed")
	handler := &testClosableHandler{
		Handler:  http.NewServeMux(),
		closeErr: expected,
	}
	if err := closeResources(handler); !errors.Is(err, expected) {
		t.Fatalf("expected close error %v, got %v", expected, err)
	}
	if !handler.closed {
		t.Fatal("expected close to be called on closable handler")
	}
}

func TestMainUsesRunServerAndExitHandler(t *testing.T) {
	previousRunServer := runServer
	previousMakeRouter := makeRouter
	previousLoadRuntimeConfig := loadRuntimeConfig
	previousLogPrintf := logPrintf
	previousExitProcess := exitProcess
	t.Cleanup(func() {
		runServer = previousRunServer
		makeRouter = previousMakeRouter
		loadRuntimeConfig = previousLoadRuntimeConfig
		logPrintf = previousLogPrintf
		exitProcess = previousExitProcess
	})

	loadRuntimeConfig = func() (httpapi.RuntimeConfig, error) {
		return httpapi.RuntimeConfig{Mode: httpapi.RuntimeModeProduction, ListenAddr: ":8070"}, nil
	}
	t.Setenv("SPRINTSCOPE_ADDR", ":8123")
	makeRouter = func(httpapi.RuntimeConfig) (http.Handler, error) {
		return http.NewServeMux(), nil
	}

	runCalled := false
	runServer = func(addr string, handler http.Handler, start func(*http.Server, net.Listener) error, logger func(string, ...any)) error {
		runCalled = true
		if addr != ":8123" {
			t.Fatalf("expected main to pass env addr, got %s", addr)
		}
		if handler == nil || start == nil {
			t.Fatal("expected handler and start function to be set")
		}
		return nil
	}

	exitCode := -1
	exitProcess = func(code int) {
		exitCode = code
	}
	logPrintf = func(_ string, _ ...any) {}

	main()
	if !runCalled {
		t.Fatal("expected main to call runServer")
	}
	if exitCode != -1 {
		t.Fatalf("expected no exit on success, got %d", exitCode)
	}

	runServer = func(_ string, _ http.Handler, _ func(*http.Server, net.Listener) error, _ func(string, ...any)) error {
		return errors.New("boom")
	}
	var logMessages []string
	var logMu sync.Mutex
	logPrintf = func(format string, args ...any) {
		logMu.Lock()
		defer logMu.Unlock()
		logMessages = append(logMessages, fmt.Sprintf(format, args...))
	}
	main()
	if exitCode != 1 {
		t.Fatalf("expected exit code 1 when runServer fails, got %d", exitCode)
	}
	if !logsContain(logMessages, "server failed") {
		t.Fatalf("expected log message to include server failed, got %v", logMessages)
	}
}

func TestMainHandlesBootstrapErrors(t *testing.T) {
	previousRunServer := runServer
	previousMakeRouter := makeRouter
	previousLoadRuntimeConfig := loadRuntimeConfig
	previousLogPrintf := logPrintf
	previousExitProcess := exitProcess
	t.Cleanup(func() {
		runServer = previousRunServer
		makeRouter = previousMakeRouter
		loadRuntimeConfig = previousLoadRuntimeConfig
		logPrintf = previousLogPrintf
		exitProcess = previousExitProcess
	})

	var logMessages []string
	logPrintf = func(format string, args ...any) {
		logMessages = append(logMessages, fmt.Sprintf(format, args...))
	}
	exitCode := -1
	exitProcess = func(code int) {
		exitCode = code
	}
	runServer = func(_ string, _ http.Handler, _ func(*http.Server, net.Listener) error, _ func(string, ...any)) error {
		return nil
	}

	loadRuntimeConfig = func() (httpapi.RuntimeConfig, error) {
		return httpapi.RuntimeConfig{}, errors.New("config failed")
	}
	main()
	if exitCode != 1 {
		t.Fatalf("expected exit code 1 on runtime config failure, got %d", exitCode)
	}
	if !logsContain(logMessages, "failed to load runtime config") {
		t.Fatalf("expected config failure log, got %v", logMessages)
	}

	loadRuntimeConfig = func() (httpapi.RuntimeConfig, error) {
		return httpapi.RuntimeConfig{Mode: httpapi.RuntimeModeProduction, ListenAddr: ":8070"}, nil
	}
	makeRouter = func(httpapi.RuntimeConfig) (http.Handler, error) {
		return nil, errors.New("router failed")
	}
	logMessages = []string{}
	exitCode = -1
	main()
	if exitCode != 1 {
		t.Fatalf("expected exit code 1 on router initialization failure, got %d", exitCode)
	}
	if !logsContain(logMessages, "failed to initialize router") {
		t.Fatalf("expected router failure log, got %v", logMessages)
	}

	makeRouter = func(httpapi.RuntimeConfig) (http.Handler, error) {
		return http.NewServeMux(), nil
	}
	loadRuntimeConfig = func() (httpapi.RuntimeConfig, error) {
		return httpapi.RuntimeConfig{
			Mode:            httpapi.RuntimeModeProduction,
			ListenAddr:      ":8070",
			RefreshSchedule: "not a schedule",
		}, nil
	}
	logMessages = []string{}
	exitCode = -1
	main()
	// An http.ServeMux is not refreshable, so a bad schedule is ignored.
	if exitCode != -1 {
		t.Fatalf("expected no exit for non-refreshable handler, got %d", exitCode)
	}
}

func TestLogStartupWarnings(t *testing.T) {
	logMessages := []string{}
	logger := func(format string, args ...any) {
		logMessages = append(logMessages, fmt.Sprintf(format, args...))
	}

	logStartupWarnings(httpapi.RuntimeConfig{Mode: httpapi.RuntimeModeProduction}, logger)
	if len(logMessages) != 0 {
		t.Fatalf("expected no warnings in production mode, got %v", logMessages)
	}

	logStartupWarnings(httpapi.RuntimeConfig{Mode: httpapi.RuntimeModeDevelopment}, logger)
	if !logsContain(logMessages, "development mode") {
		t.Fatalf("expected development warnings, got %v", logMessages)
	}
	if !logsContain(logMessages, "permissive CORS") {
		t.Fatalf("expected CORS warning, got %v", logMessages)
	}
}

type refreshableHandler struct {
	http.Handler
	mu       sync.Mutex
	refreshs int
}

func (h *refreshableHandler) RefreshAll(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshs++
}

func TestStartScheduledRefresh(t *testing.T) {
	if scheduler, err := startScheduledRefresh("", &refreshableHandler{Handler: http.NewServeMux()}, nil); err != nil || scheduler != nil {
		t.Fatalf("blank schedule should disable refresh, got %v %v", scheduler, err)
	}

	if scheduler, err := startScheduledRefresh("@every 1m", http.NewServeMux(), nil); err != nil || scheduler != nil {
		t.Fatalf("non-refreshable handler should disable refresh, got %v %v", scheduler, err)
	}

	if _, err := startScheduledRefresh("not a schedule", &refreshableHandler{Handler: http.NewServeMux()}, nil); err == nil {
		t.Fatal("expected error for invalid schedule")
	}

	handler := &refreshableHandler{Handler: http.NewServeMux()}
	scheduler, err := startScheduledRefresh("@every 1h", handler, func(_ string, _ ...any) {})
	if err != nil {
		t.Fatalf("start refresh: %v", err)
	}
	if scheduler == nil {
		t.Fatal("expected a running scheduler")
	}
	scheduler.Stop()
}

type testClosableHandler struct {
	http.Handler
	closeErr error
	closed   bool
}

func (h *testClosableHandler) Close() error {
	h.closed = true
	return h.closeErr
}

func logsContain(logs []string, substring string) bool {
	for _, entry := range logs {
		if strings.Contains(entry, substring) {
			return true
		}
	}

	return false
}

func drainLogChannel(logs <-chan string) []string {
	entries := make([]string, 0, 8)
	for {
		select {
		case entry := <-logs:
			entries = append(entries, entry)
		default:
			return entries
		}
	}
}
