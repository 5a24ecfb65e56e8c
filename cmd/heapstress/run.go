package main

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/heapkit/heap"
	"github.com/vkngwrapper/heapkit/linmem"
)

var (
	strategyName string
	opCount      int
	seed         int64
	maxSize      int
	maxPages     uint
	withRealloc  bool
	noInPlace    bool
	mapped       bool
)

// addWorkloadFlags registers the flags shared by every command that runs a workload
func addWorkloadFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&opCount, "ops", 100000, "Number of operations to run")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Seed for the random workload")
	cmd.Flags().IntVar(&maxSize, "max-size", 512, "Requests are between 0 and max-size bytes")
	cmd.Flags().UintVar(&maxPages, "max-pages", linmem.DefaultMaxPages, "Maximum number of pages the linear memory may grow to")
	cmd.Flags().BoolVar(&withRealloc, "realloc", false, "Resize live blocks as part of the workload")
	cmd.Flags().BoolVar(&noInPlace, "no-in-place", false, "Disable in-place resizing in the allocator")
	cmd.Flags().BoolVar(&mapped, "mapped", false, "Reserve the linear memory with mmap instead of the Go heap")
}

func workloadOptionsFromFlags(strategy heap.Strategy) workloadOptions {
	var flags heap.CreateFlags
	if noInPlace {
		flags |= heap.CreateNoInPlaceRealloc
	}

	return workloadOptions{
		Strategy: strategy,
		Flags:    flags,
		Ops:      opCount,
		Seed:     seed,
		MaxSize:  maxSize,
		MaxPages: maxPages,
		Realloc:  withRealloc,
		Mapped:   mapped,
	}
}

func init() {
	cmd := newRunCmd()
	cmd.Flags().StringVar(&strategyName, "strategy", heap.StrategyFreeList.String(), "Allocation strategy: FreeList, BumpFreeList or SegregatedBump")
	addWorkloadFlags(cmd)
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a randomized workload against one allocation strategy",
		Long: `The run command allocates, releases and optionally resizes blocks of random
sizes and alignments, verifies that no block's contents are disturbed by any other
operation, and reports the allocator's statistics.

Example:
  heapstress run --strategy SegregatedBump --ops 50000 --realloc
  heapstress run --strategy FreeList --max-size 4096 --max-pages 64 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd)
		},
	}
	return cmd
}

func runRun(cmd *cobra.Command) error {
	strategy, err := heap.ParseStrategy(strategyName)
	if err != nil {
		return err
	}

	options := workloadOptionsFromFlags(strategy)
	memory, err := newMemory(options)
	if err != nil {
		return err
	}
	defer func() {
		_ = memory.Close()
	}()

	report, err := runWorkload(newLogger(cmd.ErrOrStderr()), memory, options)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !jsonOut {
		writeReportText(out, report)
		return nil
	}

	writer := jwriter.NewStreamingWriter(out, 4096)
	obj := writer.Object()
	report.writeJson(obj, true)
	obj.End()

	return finishJson(out, &writer)
}
