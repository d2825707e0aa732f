package perf

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inove-ai/agentlock/cmd/util"
	"github.com/inove-ai/agentlock/lib/common"
	"github.com/inove-ai/agentlock/lib/lockmgr"
	"github.com/inove-ai/agentlock/lib/store"
	libutil "github.com/inove-ai/agentlock/lib/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const perfHolderPrefix = "perf-worker"

// NewPerfCmd creates the perf command
func NewPerfCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "perf",
		Short: "Contention self-test of the lock directory",
		Long: util.WrapString("Measure lock throughput on the configured lock directory and let several " +
			"workers compete for one resource. Every worker uses its own store instance, like separate " +
			"agent processes do. The test fails if two workers ever hold the lock at the same time."),
		Args: cobra.NoArgs,
		RunE: run,
	}

	key := "workers"
	cmd.Flags().Int(key, 4, util.WrapString("Number of competing workers"))
	key = "duration"
	cmd.Flags().Duration(key, 3*time.Second, util.WrapString("How long the workers compete"))
	key = "hold"
	cmd.Flags().Duration(key, time.Millisecond, util.WrapString("How long a worker holds the lock once acquired"))
	key = "resource"
	cmd.Flags().String(key, "__perf", util.WrapString("Resource used for the tests"))
	key = "skip"
	cmd.Flags().String(key, "", util.WrapString("Tests to skip (comma separated - e.g. acquire-release,renew)"))
	key = "csv"
	cmd.Flags().String(key, "", util.WrapString("Optional path to save the results as CSV"))

	return cmd
}

// perfConfig holds the settings of one perf run
type perfConfig struct {
	workers  int
	duration time.Duration
	hold     time.Duration
	resource string
	skip     []string
}

// contentionResult is the outcome of the contention test
type contentionResult struct {
	PerWorker  []int64
	Total      int64
	Violations int64
	Elapsed    time.Duration
	Latency    *libutil.LatencyHistogram
	Fairness   libutil.FairnessStats
}

func run(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf := util.GetManagerConfig()
	pc := perfConfig{
		workers:  viper.GetInt("workers"),
		duration: viper.GetDuration("duration"),
		hold:     viper.GetDuration("hold"),
		resource: viper.GetString("resource"),
	}
	if skip := viper.GetString("skip"); skip != "" {
		pc.skip = strings.Split(skip, ",")
	}
	if pc.workers < 1 {
		return fmt.Errorf("at least one worker is required")
	}
	if err := store.ValidateResource(pc.resource); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Lock performance test")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprint(out, conf.String())
	fmt.Fprintf(out, "\nWorkers: %d, Duration: %s, Hold: %s\n\n", pc.workers, pc.duration, pc.hold)

	mgr, err := util.NewLockManager(conf)
	if err != nil {
		return err
	}

	// make sure no lock of an earlier, aborted run is in the way
	mgr.ForceRelease(pc.resource)
	defer mgr.ForceRelease(pc.resource)

	results := make(map[string]testing.BenchmarkResult)

	results["acquire-release"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip(pc.skip, "acquire-release") {
			return
		}
		holder := perfHolderPrefix + "-bench"
		for i := 0; i < b.N; i++ {
			if !mgr.AcquireLock(pc.resource, holder, 0, nil) {
				b.Fatalf("cannot acquire %s", pc.resource)
			}
			mgr.ReleaseLock(pc.resource, holder)
		}
	})
	printResult(out, "acquire-release", results["acquire-release"])

	results["renew"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip(pc.skip, "renew") {
			return
		}
		holder := perfHolderPrefix + "-bench"
		defer mgr.ReleaseLock(pc.resource, holder)
		for i := 0; i < b.N; i++ {
			if !mgr.AcquireLock(pc.resource, holder, 0, nil) {
				b.Fatalf("cannot renew %s", pc.resource)
			}
		}
	})
	printResult(out, "renew", results["renew"])

	var contention *contentionResult
	if !shouldSkip(pc.skip, "contention") {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		newMgr := func() (lockmgr.ILockManager, error) { return util.NewLockManager(conf) }

		contention, err = runContention(ctx, newMgr, pc)
		if err != nil {
			return err
		}
		printContention(out, contention)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Fprintf(out, "\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, contention, conf, pc); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Fprintln(out, "Export complete")
	}

	if contention != nil && contention.Violations > 0 {
		return fmt.Errorf("mutual exclusion violated %d time(s)", contention.Violations)
	}
	return nil
}

// runContention lets pc.workers workers, each with its own lock manager, compete for
// pc.resource until pc.duration has elapsed.
func runContention(ctx context.Context, newMgr func() (lockmgr.ILockManager, error), pc perfConfig) (*contentionResult, error) {
	managers := make([]lockmgr.ILockManager, pc.workers)
	for i := range managers {
		mgr, err := newMgr()
		if err != nil {
			return nil, err
		}
		managers[i] = mgr
	}

	var (
		wg       sync.WaitGroup
		inside   atomic.Int32
		violated atomic.Int64
		latency  = libutil.NewLatencyHistogram()
		counts   = make([]int64, pc.workers)
		start    = time.Now()
		deadline = start.Add(pc.duration)
	)

	for i, mgr := range managers {
		wg.Add(1)
		go func(i int, mgr lockmgr.ILockManager) {
			defer wg.Done()
			holder := fmt.Sprintf("%s-%d", perfHolderPrefix, i)

			for {
				remaining := time.Until(deadline)
				if remaining <= 0 || ctx.Err() != nil {
					return
				}

				begin := time.Now()
				if !mgr.WaitForLock(ctx, pc.resource, holder, remaining, time.Millisecond) {
					continue
				}
				latency.AddSample(time.Since(begin))

				if inside.Add(1) != 1 {
					violated.Add(1)
				}
				time.Sleep(pc.hold)
				inside.Add(-1)

				mgr.ReleaseLock(pc.resource, holder)
				counts[i]++
			}
		}(i, mgr)
	}
	wg.Wait()

	res := &contentionResult{
		PerWorker:  counts,
		Violations: violated.Load(),
		Elapsed:    time.Since(start),
		Latency:    latency,
	}
	perWorker := make([]float64, len(counts))
	for i, c := range counts {
		res.Total += c
		perWorker[i] = float64(c)
	}
	res.Fairness = libutil.NewFairnessStats(perWorker)
	return res, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(skip []string, test string) bool {
	for _, s := range skip {
		if strings.TrimSpace(s) == test {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(out io.Writer, test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Fprintf(out, "%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Fprintf(out, "%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// printContention prints the contention test results
func printContention(out io.Writer, r *contentionResult) {
	opsPerSec := float64(r.Total) / math.Max(r.Elapsed.Seconds(), 1e-9)

	fmt.Fprintf(out, "%-20s%d acquisitions in %s\t%.0f ops/sec\n", "contention", r.Total, r.Elapsed.Round(time.Millisecond), opsPerSec)
	fmt.Fprintf(out, "  wait latency      mean %s, p50 %s, p99 %s, max %s\n",
		r.Latency.Mean(), r.Latency.Percentile(50), r.Latency.Percentile(99), r.Latency.Max())
	fmt.Fprintf(out, "  per worker        %v\n", r.PerWorker)
	fmt.Fprintf(out, "  fairness          %.2f (min %.0f, max %.0f, stddev %.1f)\n",
		r.Fairness.Fairness, r.Fairness.Min, r.Fairness.Max, r.Fairness.StdDeviation)
	fmt.Fprintf(out, "  violations        %d\n", r.Violations)
}

// writeResultsToCSV writes the benchmark and contention results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, contention *contentionResult, conf *common.ManagerConfig, pc perfConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"LockDir", "Workers", "HoldNs", "Fairness", "Violations",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	shared := []string{conf.LockDir, strconv.Itoa(pc.workers), strconv.FormatInt(pc.hold.Nanoseconds(), 10)}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
		}
		row = append(row, shared...)
		row = append(row, "", "")
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	if contention != nil && contention.Total > 0 {
		nsPerOp := float64(contention.Elapsed.Nanoseconds()) / float64(contention.Total)
		row := []string{
			"contention",
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			"false",
		}
		row = append(row, shared...)
		row = append(row, fmt.Sprintf("%.4f", contention.Fairness.Fairness), strconv.FormatInt(contention.Violations, 10))
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test contention: %v", err)
		}
	}

	return nil
}
