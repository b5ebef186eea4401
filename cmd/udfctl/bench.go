package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jrepp/prism-udf/pkg/udfc"
	"github.com/jrepp/prism-udf/pkg/udfproto"
)

var (
	benchName        string
	benchConcurrency int
	benchRate        int
	benchDuration    time.Duration
	benchPayload     int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load test Call through the bridge",
	Long: `Open one session per goroutine and issue Normal calls at a limited total
rate for a fixed duration, then report throughput and latency percentiles.

Example:
  udfctl bench --name echo -n 16 -r 5000 -d 30s`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringVar(&benchName, "name", "echo", "UDF name")
	benchCmd.Flags().IntVarP(&benchConcurrency, "concurrency", "n", 8, "Concurrent sessions")
	benchCmd.Flags().IntVarP(&benchRate, "rate", "r", 1000, "Total request rate (req/sec)")
	benchCmd.Flags().DurationVarP(&benchDuration, "duration", "d", 10*time.Second, "Test duration")
	benchCmd.Flags().IntVar(&benchPayload, "payload", 64, "Input size in bytes (rounded down to 8 for sum)")
}

// benchStats collects per-call latencies
type benchStats struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  map[udfc.ErrorCode]int
	start     time.Time
}

func newBenchStats() *benchStats {
	return &benchStats{failures: make(map[udfc.ErrorCode]int), start: time.Now()}
}

func (s *benchStats) record(latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		code := udfc.GetErrorCode(err)
		if code == "" {
			code = "UNKNOWN"
		}
		s.failures[code]++
		return
	}
	s.latencies = append(s.latencies, latency)
}

func (s *benchStats) report(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Since(s.start)
	failed := 0
	for _, n := range s.failures {
		failed += n
	}
	total := len(s.latencies) + failed

	fmt.Fprintf(w, "\nBench Results\n-------------\n")
	fmt.Fprintf(w, "Duration:       %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Total Calls:    %d\n", total)
	fmt.Fprintf(w, "Successful:     %d\n", len(s.latencies))
	fmt.Fprintf(w, "Failed:         %d\n", failed)
	for code, n := range s.failures {
		fmt.Fprintf(w, "  %-18s %d\n", code, n)
	}
	fmt.Fprintf(w, "Throughput:     %.2f calls/sec\n", float64(total)/elapsed.Seconds())

	if len(s.latencies) == 0 {
		return
	}
	slices.Sort(s.latencies)
	fmt.Fprintf(w, "Latency:\n")
	fmt.Fprintf(w, "  Min:          %v\n", s.latencies[0].Round(time.Microsecond))
	fmt.Fprintf(w, "  P50:          %v\n", percentile(s.latencies, 50).Round(time.Microsecond))
	fmt.Fprintf(w, "  P95:          %v\n", percentile(s.latencies, 95).Round(time.Microsecond))
	fmt.Fprintf(w, "  P99:          %v\n", percentile(s.latencies, 99).Round(time.Microsecond))
	fmt.Fprintf(w, "  Max:          %v\n", s.latencies[len(s.latencies)-1].Round(time.Microsecond))
}

// percentile expects sorted input
func percentile(sorted []time.Duration, p int) time.Duration {
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchConcurrency < 1 || benchRate < 1 {
		return errors.New("concurrency and rate must be positive")
	}

	logger, err := setupLogging()
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := startClient(sigCtx, logger)
	if err != nil {
		return err
	}
	defer stopClient(client, logger)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Starting bench against %s (pid %d)\n", benchName, client.WorkerPID())
	fmt.Fprintf(out, "  Sessions: %d\n  Rate: %d calls/sec\n  Duration: %v\n", benchConcurrency, benchRate, benchDuration)

	input := make([]byte, benchPayload-benchPayload%8)
	limiter := rate.NewLimiter(rate.Limit(benchRate), benchConcurrency)
	stats := newBenchStats()

	ctx, cancel := context.WithTimeout(sigCtx, benchDuration)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < benchConcurrency; i++ {
		g.Go(func() error {
			return benchSession(gctx, client, i, input, limiter, stats)
		})
	}

	err = g.Wait()
	stats.report(out)
	return err
}

// benchSession issues calls until ctx ends. A session lost to a worker
// restart is set up again once the client is serving.
func benchSession(ctx context.Context, client *udfc.Client, id int, input []byte, limiter *rate.Limiter, stats *benchStats) error {
	var session *udfc.Session
	defer func() {
		if session != nil {
			client.Teardown(context.WithoutCancel(ctx), session)
		}
	}()

	var state []byte
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		if session == nil {
			s, err := client.Setup(ctx, udfc.SetupParams{Name: benchName})
			switch {
			case err == nil:
				session, state = s, nil
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, udfc.ErrWorker):
				return fmt.Errorf("session %d: %w", id, err)
			default:
				stats.record(0, err)
				continue
			}
		}

		start := time.Now()
		newState, _, err := client.Call(ctx, session, udfproto.StepNormal, state, input)
		if ctx.Err() != nil {
			return nil
		}
		stats.record(time.Since(start), err)

		switch {
		case err == nil:
			state = newState
		case errors.Is(err, udfc.ErrSessionClosed), errors.Is(err, udfc.ErrWorkerRestarting):
			session = nil
		}
	}
}
