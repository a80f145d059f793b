package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/torpydo/torpydo/poolindex"
)

func main() {
	var (
		host             = flag.String("host", "0.0.0.0", "address to listen on")
		port             = flag.Uint("port", 9000, "port to listen on")
		deprecationDelay = flag.Duration("deprecation-delay", 5*time.Minute, "how long a node may go without heartbeating before it is dropped")
		gcCycle          = flag.Duration("gc-cycle", 30*time.Second, "how often the stale-entry sweep runs")
		requestedDelay   = flag.Float64("requested-delay-floor", 10, "minimum heartbeat interval, in seconds, granted to any node")
		verbose          = flag.Bool("verbose", true, "enable info-level logging")
	)
	flag.Parse()

	logger, logFile := setupLogging(*verbose)
	defer func() { _ = logFile.Close() }()

	p := poolindex.New(*host, uint16(*port))
	p.SetLogger(logger)
	p.SetLog(*verbose)
	p.SetDeprecationDelay(*deprecationDelay)
	p.SetGarbageCollectorCycle(*gcCycle)
	p.SetRequestedDelay(*requestedDelay)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
		_ = p.Close()
	}()

	fmt.Printf("torpydo pool index listening on %s:%d\n", *host, *port)
	if err := p.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pool index error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) (*slog.Logger, *os.File) {
	logFile, err := os.OpenFile("torpydo-poolindex.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log file: %v\n", err)
		os.Exit(1)
	}
	fileLevel, stdoutLevel := slog.LevelDebug, slog.LevelInfo
	if !verbose {
		fileLevel, stdoutLevel = slog.LevelWarn, slog.LevelWarn
	}
	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: fileLevel})
	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: stdoutLevel})
	logger := slog.New(&multiHandler{handlers: []slog.Handler{fileHandler, stdoutHandler}})
	return logger, logFile
}

// multiHandler fans out slog records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}
