package heap

import (
	"context"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/heapkit/linmem"
	"github.com/vkngwrapper/heapkit/memutils"
	"golang.org/x/exp/slog"
)

// bumpRegion is the bump pointer shared by BumpFreeListAllocator and SegregatedBumpAllocator. It hands
// out memory from [top, end) and asks the linear memory for more pages when a request does not fit.
// Both bounds are 0 until the first page is claimed.
type bumpRegion struct {
	memory linmem.Memory
	logger *slog.Logger

	top uintptr
	end uintptr

	growCount    int
	claimedBytes int
}

func (r *bumpRegion) alloc(size, align uintptr) (uintptr, error) {
	for {
		ptr := memutils.AlignUp(r.top, align)
		if ptr < r.top || ptr+size < ptr {
			return 0, cerrors.Wrapf(memutils.ErrOutOfMemory, "bump allocation of %d bytes aligned to %d overflows the address space", size, align)
		}

		if ptr+size <= r.end {
			r.top = ptr + size
			return ptr, nil
		}

		_, err := r.grow(ptr + size - r.end)
		if err != nil {
			return 0, err
		}
	}
}

// grow claims enough pages to hold byteCount more bytes past end, and reports whether the grant
// began at end. If it did not, because this is the first claim or because something else grew the
// memory in the meantime, the region restarts at the start of the grant and whatever was left in
// the old region is abandoned.
func (r *bumpRegion) grow(byteCount uintptr) (contiguous bool, err error) {
	pages := linmem.PagesFor(byteCount)
	previous := r.memory.Grow(pages)
	if previous == linmem.GrowFailed {
		r.logger.LogAttrs(context.Background(), slog.LevelDebug, "linear memory refused to grow",
			slog.Uint64("pages", uint64(pages)),
			slog.Uint64("top", uint64(r.top)),
			slog.Uint64("end", uint64(r.end)),
		)
		return false, cerrors.Wrapf(memutils.ErrOutOfMemory, "failed to grow linear memory by %d pages", pages)
	}

	start := linmem.Address(previous)
	contiguous = start == r.end && r.end != 0

	if !contiguous {
		if r.end != 0 {
			r.logger.LogAttrs(context.Background(), slog.LevelDebug, "abandoning bump region tail after non-contiguous growth",
				slog.Uint64("abandonedBytes", uint64(r.end-r.top)),
				slog.Uint64("start", uint64(start)),
			)
		}
		r.top = start
	}

	r.end = start + uintptr(pages)*linmem.PageSize
	r.growCount++
	r.claimedBytes += int(uintptr(pages) * linmem.PageSize)

	r.logger.LogAttrs(context.Background(), slog.LevelDebug, "grew linear memory",
		slog.Uint64("pages", uint64(pages)),
		slog.Uint64("start", uint64(start)),
		slog.Uint64("end", uint64(r.end)),
	)
	return contiguous, nil
}

// resizeTop moves the end of the block [ptr, top) to newEnd, claiming pages if needed, and reports
// whether it succeeded. newEnd must not be below ptr. If the block could not be resized, top is
// unchanged unless a non-contiguous grant moved the region, in which case the block is left behind
// in the abandoned tail and remains valid.
func (r *bumpRegion) resizeTop(ptr, newEnd uintptr) bool {
	if newEnd <= r.end {
		r.top = newEnd
		return true
	}

	contiguous, err := r.grow(newEnd - r.end)
	if err != nil || !contiguous {
		return false
	}

	// A contiguous grant covers newEnd
	r.top = newEnd
	return true
}

// atTop reports whether the block [ptr, ptr+size) is the most recent bump allocation
func (r *bumpRegion) atTop(ptr, size uintptr) bool {
	return r.end != 0 && ptr+size == r.top
}

func (r *bumpRegion) addStatistics(stats *memutils.Statistics) {
	stats.GrowCount += r.growCount
	stats.ClaimedBytes += r.claimedBytes
	stats.BumpBytes += int(r.end - r.top)
}

func (r *bumpRegion) validate() error {
	if r.top > r.end {
		return errors.Errorf("bump pointer %d is past the end of the claimed region %d", r.top, r.end)
	}

	if r.end%linmem.PageSize != 0 {
		return errors.Errorf("end of the claimed region %d is not page-aligned", r.end)
	}

	if r.end > linmem.Address(r.memory.Pages()) {
		return errors.Errorf("end of the claimed region %d is past the end of the linear memory", r.end)
	}

	return nil
}
