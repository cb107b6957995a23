package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/s0up4200/garminconnect/garmin"
)

var (
	pollInterval    time.Duration
	pollMetricsAddr string
	pollOnce        bool
)

// pollCmd represents the poll command
var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Periodically fetch the configured resources",
	Long: `Fetch poll.resources on every interval and log a summary of each.

A rate-limited poll skips the following interval. With --metrics-addr the
fetch counters are served on /metrics for Prometheus.`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)

	pollCmd.Flags().DurationVar(&pollInterval, "interval", 0, "poll interval (default from poll.interval)")
	pollCmd.Flags().StringVar(&pollMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	pollCmd.Flags().BoolVar(&pollOnce, "once", false, "poll a single time and exit")
}

func runPoll(cmd *cobra.Command, args []string) error {
	interval := cfg.Poll.Interval
	if cmd.Flags().Changed("interval") {
		if pollInterval < time.Minute {
			return fmt.Errorf("interval must be at least 1m, got %s", pollInterval)
		}
		interval = pollInterval
	}
	metricsAddr := cfg.Poll.MetricsAddr
	if pollMetricsAddr != "" {
		metricsAddr = pollMetricsAddr
	}
	if len(cfg.Poll.Resources) == 0 {
		return fmt.Errorf("no resources configured. Please set poll.resources in config")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ensureLoggedIn(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		server := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info().Str("addr", metricsAddr).Msg("Serving metrics")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop()
		return pollLoop(ctx, interval)
	})

	return g.Wait()
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

// pollLoop polls until ctx is cancelled. A rate limit costs one extra interval.
func pollLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	skip := 0
	for {
		if skip > 0 {
			skip--
			logger.Warn().Dur("interval", interval).Msg("Rate limited, skipping poll")
		} else if err := pollOnceAll(ctx); err != nil {
			if !garmin.IsTooManyRequests(err) {
				return err
			}
			skip = 1
		}

		if pollOnce {
			return nil
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("Polling stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// pollOnceAll fetches every configured resource in order. Fatal errors
// (bad credentials) stop polling; rate limits and connection failures
// are logged and retried on the next interval.
func pollOnceAll(ctx context.Context) error {
	date := time.Now()
	for _, name := range cfg.Poll.Resources {
		start := time.Now()
		payload, err := fetchResource(ctx, name, date, "")
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch {
			case garmin.IsTooManyRequests(err):
				logger.Warn().Str("resource", name).Msg("Rate limited by Garmin Connect")
				return err
			case garmin.IsAuthenticationFailed(err), garmin.IsNotAuthenticated(err):
				return err
			default:
				logger.Error().Err(err).Str("resource", name).Msg("Poll failed")
				continue
			}
		}

		logger.Info().
			Str("resource", name).
			Int("items", itemCount(payload)).
			Dur("took", time.Since(start)).
			Msg("Polled resource")
	}
	return nil
}

func itemCount(payload any) int {
	switch t := payload.(type) {
	case []any:
		return len(t)
	case []garmin.Object:
		return len(t)
	case map[string]any:
		return len(t)
	case nil:
		return 0
	default:
		return 1
	}
}
