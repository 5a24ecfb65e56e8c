package main

import (
	"fmt"
	"io"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// writeJson populates a json object with the report. If includeHeap is true, the allocator's own
// dump is nested under "Heap": the allocator's memory must still be open.
func (r *workloadReport) writeJson(json jwriter.ObjectState, includeHeap bool) {
	json.Name("Strategy").String(r.Options.Strategy.String())
	json.Name("Flags").String(r.Options.Flags.String())
	json.Name("Seed").Int(int(r.Options.Seed))
	json.Name("Ops").Int(r.Options.Ops)
	json.Name("Allocs").Int(r.Allocs)
	json.Name("Frees").Int(r.Frees)
	json.Name("Reallocs").Int(r.Reallocs)
	json.Name("OutOfMemory").Int(r.OutOfMemory)
	json.Name("PeakLiveBlocks").Int(r.PeakLiveBlocks)
	json.Name("PeakLiveBytes").Int(r.PeakLiveBytes)
	json.Name("Pages").Int(int(r.Pages))
	json.Name("ElapsedNanos").Int(int(r.Elapsed.Nanoseconds()))
	json.Name("SizeMean").Float64(r.SizeMean)
	json.Name("SizeStdDev").Float64(r.SizeStdDev)

	stats := json.Name("Statistics").Object()
	stats.Name("GrowCount").Int(r.Statistics.GrowCount)
	stats.Name("ClaimedBytes").Int(r.Statistics.ClaimedBytes)
	stats.Name("UsedBytes").Int(r.Statistics.UsedBytes())
	stats.Name("FreeBytes").Int(r.Statistics.FreeBytes)
	stats.Name("BumpBytes").Int(r.Statistics.BumpBytes)
	stats.Name("FreeBlockCount").Int(r.Statistics.FreeBlockCount)
	stats.Name("Fragmentation").Float64(r.Statistics.Fragmentation())
	stats.End()

	if includeHeap {
		// The allocator's state after every block was released
		heapObj := json.Name("Heap").Object()
		r.allocator.HeapJsonData(heapObj)
		heapObj.End()
	}
}

func finishJson(w io.Writer, writer *jwriter.Writer) error {
	if err := writer.Flush(); err != nil {
		return err
	}
	if err := writer.Error(); err != nil {
		return err
	}

	_, err := fmt.Fprintln(w)
	return err
}

func writeReportText(w io.Writer, r *workloadReport) {
	fmt.Fprintf(w, "Strategy:          %s\n", r.Options.Strategy)
	fmt.Fprintf(w, "Operations:        %d (%d allocs, %d frees, %d reallocs, %d out of memory)\n",
		r.Options.Ops, r.Allocs, r.Frees, r.Reallocs, r.OutOfMemory)
	fmt.Fprintf(w, "Peak live:         %d blocks, %d bytes\n", r.PeakLiveBlocks, r.PeakLiveBytes)
	fmt.Fprintf(w, "Request size:      mean %.1f, stddev %.1f\n", r.SizeMean, r.SizeStdDev)
	fmt.Fprintf(w, "Pages grown:       %d (%d grow calls)\n", r.Pages, r.Statistics.GrowCount)
	fmt.Fprintf(w, "Claimed bytes:     %d\n", r.Statistics.ClaimedBytes)
	fmt.Fprintf(w, "Used bytes:        %d\n", r.Statistics.UsedBytes())
	fmt.Fprintf(w, "Free bytes:        %d in %d blocks\n", r.Statistics.FreeBytes, r.Statistics.FreeBlockCount)
	fmt.Fprintf(w, "Unbumped bytes:    %d\n", r.Statistics.BumpBytes)
	fmt.Fprintf(w, "Fragmentation:     %.3f\n", r.Statistics.Fragmentation())
	fmt.Fprintf(w, "Elapsed:           %s\n", r.Elapsed)
}
