package main

import (
	"fmt"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/heapkit/heap"
)

func init() {
	cmd := newCompareCmd()
	addWorkloadFlags(cmd)
	rootCmd.AddCommand(cmd)
}

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run the same workload against every allocation strategy",
		Long: `The compare command runs one randomized workload, with the same seed, against
each allocation strategy in turn and reports how much memory each one claimed and
how fragmented its free space was at the end of the workload.

Example:
  heapstress compare --ops 20000 --realloc`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd)
		},
	}
	return cmd
}

func compareOne(cmd *cobra.Command, strategy heap.Strategy, visit func(report *workloadReport)) error {
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
		return cerrors.Wrapf(err, "%s", strategy)
	}

	visit(report)
	return nil
}

func runCompare(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	if jsonOut {
		// Nothing is written unless every strategy completes, so a failure never leaves a partial array
		reports := make([]*workloadReport, 0, len(heap.Strategies()))
		for _, strategy := range heap.Strategies() {
			err := compareOne(cmd, strategy, func(report *workloadReport) {
				reports = append(reports, report)
			})
			if err != nil {
				return err
			}
		}

		writer := jwriter.NewStreamingWriter(out, 4096)
		array := writer.Array()
		for _, report := range reports {
			obj := array.Object()
			report.writeJson(obj, false)
			obj.End()
		}
		array.End()

		return finishJson(out, &writer)
	}

	fmt.Fprintf(out, "%-16s %8s %12s %12s %8s %14s\n", "Strategy", "Pages", "Claimed", "Peak live", "OOM", "Fragmentation")
	for _, strategy := range heap.Strategies() {
		err := compareOne(cmd, strategy, func(report *workloadReport) {
			fmt.Fprintf(out, "%-16s %8d %12d %12d %8d %14.3f\n",
				strategy, report.Pages, report.Statistics.ClaimedBytes, report.PeakLiveBytes,
				report.OutOfMemory, report.Statistics.Fragmentation())
		})
		if err != nil {
			return err
		}
	}

	return nil
}
