package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/torpydo/torpydo/node"
)

func main() {
	var (
		host           = flag.String("host", "0.0.0.0", "address to listen on")
		port           = flag.Uint("port", 9100, "port to listen on")
		poolIndexHost  = flag.String("pool-index-host", "", "PoolIndex host to heartbeat into (empty disables heartbeating)")
		poolIndexPort  = flag.Uint("pool-index-port", 9000, "PoolIndex port")
		requestedDelay = flag.Float64("requested-delay", 30, "heartbeat interval, in seconds, to request from the PoolIndex")
		verbose        = flag.Bool("verbose", true, "enable info-level logging")
	)
	flag.Parse()

	logger, logFile := setupLogging(*verbose)
	defer func() { _ = logFile.Close() }()

	n := node.New(*host, uint16(*port))
	n.SetLogger(logger)
	n.SetLog(*verbose)
	n.SetRequestedDelay(*requestedDelay)
	if *poolIndexHost != "" {
		n.SetPoolIndex(*poolIndexHost, uint16(*poolIndexPort))
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
		_ = n.Close()
	}()

	fmt.Printf("torpydo node listening on %s:%d\n", *host, *port)
	if err := n.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "node error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) (*slog.Logger, *os.File) {
	logFile, err := os.OpenFile("torpydo-node.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
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
