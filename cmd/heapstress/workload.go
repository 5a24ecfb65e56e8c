package main

import (
	"math/bits"
	"math/rand"
	"time"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/heapkit/heap"
	"github.com/vkngwrapper/heapkit/heapcheck"
	"github.com/vkngwrapper/heapkit/linmem"
	"github.com/vkngwrapper/heapkit/memutils"
	"golang.org/x/exp/slog"
	"gonum.org/v1/gonum/stat"
)

// validateInterval is the number of operations between full validations of the allocator
const validateInterval = 256

type workloadOptions struct {
	Strategy heap.Strategy
	Flags    heap.CreateFlags
	Ops      int
	Seed     int64
	MaxSize  int
	MaxAlign int
	MaxPages uint
	Realloc  bool
	Mapped   bool
}

type workloadReport struct {
	Options workloadOptions

	Allocs         int
	Frees          int
	Reallocs       int
	OutOfMemory    int
	PeakLiveBlocks int
	PeakLiveBytes  int
	Pages          uint
	Elapsed        time.Duration

	SizeMean   float64
	SizeStdDev float64

	// Statistics taken with the workload's blocks still live
	Statistics memutils.DetailedStatistics
	allocator  heap.Allocator
}

type block struct {
	ptr     uintptr
	layout  heap.Layout
	pattern byte
}

type workload struct {
	options   workloadOptions
	rng       *rand.Rand
	memory    linmem.Memory
	checked   *heapcheck.CheckedAllocator
	live      []block
	sizes     []float64
	report    *workloadReport
	nextColor byte
}

func newMemory(options workloadOptions) (*linmem.HostMemory, error) {
	memoryOptions := linmem.CreateOptions{MaxPages: options.MaxPages}
	if options.Mapped {
		return linmem.NewMappedHostMemory(memoryOptions)
	}

	return linmem.NewHostMemory(memoryOptions)
}

// runWorkload runs a workload against a fresh allocator on memory. The report's allocator is only
// usable until memory is closed.
func runWorkload(logger *slog.Logger, memory linmem.Memory, options workloadOptions) (*workloadReport, error) {
	if options.MaxSize < 1 {
		return nil, cerrors.Newf("max size must be at least 1, got %d", options.MaxSize)
	}

	// Only the segregated strategy serves alignments above memutils.MaxAlign
	options.MaxAlign = bits.Len(uint(memutils.MaxAlign)) - 1
	if options.Strategy == heap.StrategySegregatedBump {
		options.MaxAlign = 7
	}

	allocator, err := heap.New(logger, memory, heap.CreateOptions{Strategy: options.Strategy, Flags: options.Flags})
	if err != nil {
		return nil, err
	}

	w := &workload{
		options: options,
		rng:     rand.New(rand.NewSource(options.Seed)),
		memory:  memory,
		checked: heapcheck.New(logger, memory, allocator),
		report:  &workloadReport{Options: options, allocator: allocator},
	}

	start := time.Now()
	err = w.run()
	w.report.Elapsed = time.Since(start)
	if err != nil {
		return nil, err
	}

	return w.report, nil
}

func (w *workload) run() error {
	for i := 0; i < w.options.Ops; i++ {
		var err error

		roll := w.rng.Intn(100)
		switch {
		case len(w.live) == 0 || roll < 50:
			err = w.alloc()
		case roll < 80 || !w.options.Realloc:
			err = w.free(w.rng.Intn(len(w.live)))
		default:
			err = w.realloc(w.rng.Intn(len(w.live)))
		}
		if err != nil {
			return cerrors.Wrapf(err, "operation %d", i)
		}

		if i%validateInterval == 0 {
			err = w.checked.Validate()
			if err != nil {
				return cerrors.Wrapf(err, "validation after operation %d", i)
			}
		}
	}

	err := w.checked.Validate()
	if err != nil {
		return cerrors.Wrap(err, "final validation")
	}

	if len(w.sizes) > 1 {
		w.report.SizeMean, w.report.SizeStdDev = stat.MeanStdDev(w.sizes, nil)
	} else if len(w.sizes) == 1 {
		w.report.SizeMean = w.sizes[0]
	}
	w.report.Pages = w.memory.Pages()
	w.report.Statistics.Clear()
	w.checked.Inner().AddDetailedStatistics(&w.report.Statistics)

	for len(w.live) > 0 {
		err = w.free(len(w.live) - 1)
		if err != nil {
			return cerrors.Wrap(err, "releasing remaining blocks")
		}
	}

	if leaks := w.checked.LogLeaks(); leaks > 0 {
		return cerrors.Newf("%d blocks were still live after the workload released everything", leaks)
	}

	return nil
}

func (w *workload) layout() heap.Layout {
	return heap.Layout{
		Size:  uintptr(w.rng.Intn(w.options.MaxSize)),
		Align: 1 << w.rng.Intn(w.options.MaxAlign+1),
	}
}

func (w *workload) fill(b block) {
	data := w.memory.Bytes()
	for i := uintptr(0); i < b.layout.Size; i++ {
		data[b.ptr+i] = b.pattern ^ byte(i)
	}
}

func (w *workload) verify(b block, size uintptr) error {
	data := w.memory.Bytes()
	for i := uintptr(0); i < size; i++ {
		if data[b.ptr+i] != b.pattern^byte(i) {
			return cerrors.Newf("block at %d with layout %s was modified at offset %d", b.ptr, b.layout, i)
		}
	}

	return nil
}

func (w *workload) trackPeak() {
	w.report.PeakLiveBlocks = max(w.report.PeakLiveBlocks, w.checked.LiveCount())
	w.report.PeakLiveBytes = max(w.report.PeakLiveBytes, w.checked.LiveBytes())
}

func (w *workload) alloc() error {
	layout := w.layout()
	ptr, err := w.checked.Alloc(layout)
	if cerrors.Is(err, memutils.ErrOutOfMemory) {
		w.report.OutOfMemory++
		return nil
	} else if err != nil {
		return err
	}

	w.nextColor++
	b := block{ptr: ptr, layout: layout, pattern: w.nextColor}
	w.fill(b)
	w.live = append(w.live, b)
	w.sizes = append(w.sizes, float64(layout.Size))

	w.report.Allocs++
	w.trackPeak()
	return nil
}

func (w *workload) free(index int) error {
	b := w.live[index]
	err := w.verify(b, b.layout.Size)
	if err != nil {
		return err
	}

	err = w.checked.Dealloc(b.ptr, b.layout)
	if err != nil {
		return err
	}

	w.live[index] = w.live[len(w.live)-1]
	w.live = w.live[:len(w.live)-1]
	w.report.Frees++
	return nil
}

func (w *workload) realloc(index int) error {
	b := w.live[index]
	err := w.verify(b, b.layout.Size)
	if err != nil {
		return err
	}

	newSize := uintptr(w.rng.Intn(w.options.MaxSize))
	ptr, err := w.checked.Realloc(b.ptr, b.layout, newSize)
	if cerrors.Is(err, memutils.ErrOutOfMemory) {
		// The original block is untouched
		w.report.OutOfMemory++
		return w.verify(b, b.layout.Size)
	} else if err != nil {
		return err
	}

	resized := block{ptr: ptr, layout: heap.Layout{Size: newSize, Align: b.layout.Align}, pattern: b.pattern}
	err = w.verify(resized, min(b.layout.Size, newSize))
	if err != nil {
		return err
	}

	w.fill(resized)
	w.live[index] = resized
	w.sizes = append(w.sizes, float64(newSize))

	w.report.Reallocs++
	w.trackPeak()
	return nil
}
