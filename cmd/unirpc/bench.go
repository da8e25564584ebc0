package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pior/unirpc"
	"github.com/pior/unirpc/packet"
	"github.com/sony/gobreaker/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var benchCmd = &cobra.Command{
	Use:   "bench <arg>...",
	Short: "Send the same request from concurrent pooled sessions",
	Long: `Send the same request repeatedly from a pool of sessions and report
throughput, latency and pool statistics. Arguments use the same syntax
as call.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBench,
}

func init() {
	flags := benchCmd.Flags()
	flags.Duration("duration", 5*time.Second, "how long to run")
	flags.Int("concurrency", 4, "number of concurrent workers")
	flags.Int("min-pool", 1, "minimum pool size")
	flags.Int("max-pool", 4, "maximum pool size")
	flags.Duration("max-wait", 10*time.Second, "how long a worker waits for a session")
	flags.String("pool", "queue", "pool implementation: queue or puddle")
	flags.Bool("circuit-breaker", false, "guard session creation with a circuit breaker")
	flags.Bool("metrics", false, "print the client metrics in Prometheus format at the end")
}

type benchResult struct {
	ops       atomic.Int64
	failures  atomic.Int64
	latencyNs atomic.Int64
}

func runBench(cmd *cobra.Command, args []string) error {
	var reqArgs []packet.Argument
	for i, raw := range args {
		arg, err := parseArgument(raw)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		reqArgs = append(reqArgs, arg)
	}

	config := sessionConfig()
	config.Pooling = true
	config.MinPoolSize = viper.GetInt("min-pool")
	config.MaxPoolSize = viper.GetInt("max-pool")
	config.MaxWaitTime = viper.GetDuration("max-wait")
	switch viper.GetString("pool") {
	case "queue":
		config.Pool = unirpc.NewQueuePool
	case "puddle":
		config.Pool = unirpc.NewPuddlePool
	default:
		return fmt.Errorf("invalid pool %q", viper.GetString("pool"))
	}
	if viper.GetBool("circuit-breaker") {
		config.NewCircuitBreaker = unirpc.NewCircuitBreakerConfig(1, 10*time.Second, 5*time.Second)
	}

	client, err := unirpc.NewClient(config)
	if err != nil {
		return err
	}
	defer client.Close()

	duration := viper.GetDuration("duration")
	concurrency := viper.GetInt("concurrency")
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "UniRPC Benchmark\n")
	fmt.Fprintf(out, "================\n")
	fmt.Fprintf(out, "Server:      %s\n", config.Address())
	fmt.Fprintf(out, "Duration:    %v\n", duration)
	fmt.Fprintf(out, "Concurrency: %d\n", concurrency)
	fmt.Fprintf(out, "Pool:        %s (%d..%d)\n\n", viper.GetString("pool"), config.MinPoolSize, config.MaxPoolSize)

	ctx, cancel := context.WithTimeout(cmd.Context(), duration)
	defer cancel()

	var result benchResult
	var wg sync.WaitGroup
	start := time.Now()
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			benchWorker(ctx, client, reqArgs, &result)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	printBenchResult(out, &result, elapsed)
	printPoolStats(out, client)

	if viper.GetBool("metrics") {
		fmt.Fprintln(out)
		client.WriteMetrics(os.Stdout)
	}
	return nil
}

func benchWorker(ctx context.Context, client *unirpc.Client, args []packet.Argument, result *benchResult) {
	for ctx.Err() == nil {
		start := time.Now()
		err := benchOnce(ctx, client, args)
		if ctx.Err() != nil {
			return
		}

		result.ops.Add(1)
		result.latencyNs.Add(time.Since(start).Nanoseconds())
		if err != nil && unirpc.Classify(err) != unirpc.ClassServer {
			result.failures.Add(1)
		}
	}
}

func benchOnce(ctx context.Context, client *unirpc.Client, args []packet.Argument) error {
	s, err := client.Session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	_, err = s.Execute(ctx, args...)
	return err
}

func printBenchResult(w io.Writer, r *benchResult, elapsed time.Duration) {
	ops := r.ops.Load()
	var avg time.Duration
	if ops > 0 {
		avg = time.Duration(r.latencyNs.Load() / ops)
	}

	fmt.Fprintf(w, "Requests:    %d\n", ops)
	fmt.Fprintf(w, "Failures:    %d\n", r.failures.Load())
	fmt.Fprintf(w, "Throughput:  %.0f req/s\n", float64(ops)/elapsed.Seconds())
	fmt.Fprintf(w, "Avg latency: %v\n", avg)
}

func printPoolStats(w io.Writer, client *unirpc.Client) {
	for _, s := range client.AllPoolStats() {
		p := s.PoolStats
		fmt.Fprintf(w, "\nPool %s\n", s.Key)
		fmt.Fprintf(w, "  sessions: %d total, %d idle, %d active\n", p.TotalSessions, p.IdleSessions, p.ActiveSessions)
		fmt.Fprintf(w, "  acquires: %d (%d waited, %d failed)\n", p.AcquireCount, p.AcquireWaitCount, p.AcquireErrors)
		fmt.Fprintf(w, "  created %d, destroyed %d, unhealthy %d, reaped %d\n",
			p.CreatedSessions, p.DestroyedSessions, p.Unhealthy, p.Reaped)
		if s.CircuitBreakerState != gobreaker.StateClosed || s.CircuitBreakerCounts.Requests > 0 {
			fmt.Fprintf(w, "  circuit breaker: %s\n", s.CircuitBreakerState)
		}
	}
}
