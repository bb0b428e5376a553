// Package main runs a development websocket feed that speaks the storefront
// realtime protocol: it acknowledges subscribe frames and streams randomized
// catalog, drop, inventory, order and analytics events.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr     string
		path     string
		interval time.Duration
		seed     uint64
		users    []string
		verbose  bool
	)

	flagSet := pflag.NewFlagSet("mockfeed", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", ":8080", "listen address")
	flagSet.StringVar(&path, "path", "/ws", "websocket endpoint path")
	flagSet.DurationVar(&interval, "interval", 500*time.Millisecond, "delay between generated events")
	flagSet.Uint64Var(&seed, "seed", 0, "random seed (0 picks one)")
	flagSet.StringSliceVar(&users, "users", []string{"u1", "u2", "u3"}, "user ids attached to orders")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if seed == 0 {
		seed = rand.Uint64()
	}
	gen := newGenerator(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), users)
	h := newHub(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle(path, h)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("mock feed listening", "addr", addr, "path", path, "seed", seed)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "err", err)
			stop()
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case now := <-ticker.C:
			if h.clientCount() == 0 {
				continue
			}
			ev, err := gen.Next(now)
			if err != nil {
				logger.Warn("generate event", "err", err)
				continue
			}
			n := h.publish(ev)
			logger.Debug("published", "type", ev.Type, "subscribers", n)
		}
	}
}
