package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/reflow-dev/reflow/pkg/devtools"
	"github.com/reflow-dev/reflow/pkg/middleware"
	"github.com/reflow-dev/reflow/pkg/reactive"
)

func devtoolsCmd() *cobra.Command {
	var (
		addr     string
		ringSize int
		demo     bool
		debug    bool
	)

	cmd := &cobra.Command{
		Use:   "devtools",
		Short: "Start the devtools server",
		Long: `Start the devtools server.

The server streams runtime instrumentation events to connected
clients and exposes Prometheus metrics.

Endpoints:
  /events      WebSocket stream of instrumentation events
  /api/events  JSON dump of recent events
  /metrics     Prometheus metrics
  /healthz     liveness probe

Examples:
  reflow devtools
  reflow devtools --addr=:7332 --demo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevtools(addr, ringSize, demo, debug)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":7331", "Address to listen on")
	cmd.Flags().IntVar(&ringSize, "ring-size", 1024, "Recent events kept for late joiners")
	cmd.Flags().BoolVar(&demo, "demo", false, "Run a demo workload that generates events")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable runtime debug mode (stack capture)")

	return cmd
}

func runDevtools(addr string, ringSize int, demo, debug bool) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	reactive.DebugMode = debug
	reactive.DefaultRegistry().Register(middleware.Prometheus(), reactive.WithToken("metrics"))

	hub := devtools.NewHub(
		devtools.WithLogger(logger),
		devtools.WithRingSize(ringSize),
	)
	reactive.SetObserver(hub)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", hub.Router())

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n  Shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	if demo {
		go runDemoWorkload(ctx)
	}

	logger.Info("devtools listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	reactive.SetObserver(nil)
	hub.Close()
	return nil
}

// runDemoWorkload drives a small reactive graph so connected clients
// have something to look at.
func runDemoWorkload(ctx context.Context) {
	temperature := reactive.NewCell(20.0, reactive.WithName("temperature"))
	humidity := reactive.NewCell(50.0, reactive.WithName("humidity"))
	comfort := reactive.NewComputed(func() string {
		t := temperature.Get()
		h := humidity.Get()
		switch {
		case t > 26 || h > 70:
			return "uncomfortable"
		case t < 18:
			return "cold"
		default:
			return "comfortable"
		}
	}, reactive.WithName("comfort"))

	watch := reactive.NewWatch[string](comfort, func(string) {}, reactive.WithName("comfort-watch"))
	defer watch.Dispose()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			temperature.Close()
			humidity.Close()
			comfort.Close()
			return
		case <-ticker.C:
			reactive.Batch(func() {
				temperature.Update(func(v float64) float64 {
					return v + rand.Float64()*2 - 1
				})
				humidity.Update(func(v float64) float64 {
					return v + rand.Float64()*4 - 2
				})
			})
		}
	}
}
