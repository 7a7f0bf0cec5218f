package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/filestore"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "keep the store open, expiring blobs and serving /metrics until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "metrics-address",
				Usage: "listen address for /metrics (overrides metrics.address)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg := loadedConfig(c)
			logger := loadedLogger(c)
			addr := cfg.Metrics.Address
			if c.IsSet("metrics-address") {
				addr = c.String("metrics-address")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withStore(c, func(s *filestore.Store) error {
				reg := prometheus.NewRegistry()
				reg.MustRegister(
					collectors.NewGoCollector(),
					collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				)
				if err := s.RegisterMetrics(reg); err != nil {
					return err
				}
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return err
				}
				logger.Info("filestore: serving metrics", slog.String("address", ln.Addr().String()))
				err = serve(ctx, ln, metricsHandler(reg), cfg.Shutdown.Timeout)
				logger.Info("filestore: shutting down")
				return err
			})
		},
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// serve runs an HTTP server on ln until ctx is done, then shuts it down
// within timeout.
func serve(ctx context.Context, ln net.Listener, h http.Handler, timeout time.Duration) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
