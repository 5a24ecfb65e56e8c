// Package heapcheck wraps a heap.Allocator with bookkeeping that catches the contract violations the
// allocators themselves never check for: double frees, mismatched layouts, writes past the end of a
// block, and allocator bugs that hand out misaligned or overlapping blocks.
//
// A CheckedAllocator is much slower than the allocator it wraps and is meant for tests, fuzzing, and
// the heapstress tool. Build with the debug_heap tag to add a canary after every block, and with the
// debug_init_allocs tag to fill blocks with a recognizable pattern when they are allocated and released.
package heapcheck

import (
	"context"
	"io"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/heapkit/heap"
	"github.com/vkngwrapper/heapkit/linmem"
	"github.com/vkngwrapper/heapkit/memutils"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

const (
	// CreatedFillPattern is written across every newly allocated block when InitializeAllocs is true
	CreatedFillPattern byte = 0xDC
	// DestroyedFillPattern is written across every released block when InitializeAllocs is true
	DestroyedFillPattern byte = 0xEF
)

// CheckedAllocator tracks every live block handed out by the allocator it wraps. Every method that
// detects a violation logs it at Error level and returns one of the Err* values in this package,
// wrapped with the address involved. A release or resize that is rejected never reaches the wrapped
// allocator, and the block stays live.
type CheckedAllocator struct {
	inner  heap.Allocator
	memory linmem.Memory
	logger *slog.Logger

	live      *swiss.Map[uintptr, heap.Layout]
	liveBytes int
}

// New creates a CheckedAllocator around inner. memory must be the linear memory inner allocates from.
// logger may be nil.
func New(logger *slog.Logger, memory linmem.Memory, inner heap.Allocator) *CheckedAllocator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &CheckedAllocator{
		inner:  inner,
		memory: memory,
		logger: logger,
		live:   swiss.NewMap[uintptr, heap.Layout](42),
	}
}

// Inner returns the wrapped allocator
func (c *CheckedAllocator) Inner() heap.Allocator {
	return c.inner
}

// LiveCount returns the number of blocks that have been allocated and not released
func (c *CheckedAllocator) LiveCount() int {
	return c.live.Count()
}

// LiveBytes returns the sum of the requested sizes of every live block
func (c *CheckedAllocator) LiveBytes() int {
	return c.liveBytes
}

func innerLayout(layout heap.Layout) heap.Layout {
	return heap.Layout{Size: layout.Size + memutils.DebugMargin, Align: layout.Align}
}

func (c *CheckedAllocator) violation(err error, msg string, attrs ...slog.Attr) error {
	attrs = append(attrs, slog.Any("error", err))
	c.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
	return err
}

// Alloc allocates a block from the wrapped allocator and starts tracking it. If the block the wrapped
// allocator returned fails the alignment, aliasing or bounds checks, its address is returned along with
// the error and it is not tracked.
func (c *CheckedAllocator) Alloc(layout heap.Layout) (uintptr, error) {
	err := memutils.CheckPow2(layout.Align, "layout.Align")
	if err != nil {
		return 0, err
	}

	if layout.Size > memutils.MaxRequestSize-memutils.DebugMargin {
		return 0, cerrors.Wrapf(memutils.ErrOutOfMemory, "requested size %d is too large", layout.Size)
	}

	ptr, err := c.inner.Alloc(innerLayout(layout))
	if err != nil {
		return 0, err
	}

	err = c.checkNewBlock(ptr, layout)
	if err != nil {
		return ptr, err
	}

	c.track(ptr, layout)
	c.fill(ptr, 0, layout.Size, CreatedFillPattern)
	return ptr, nil
}

func (c *CheckedAllocator) checkNewBlock(ptr uintptr, layout heap.Layout) error {
	if ptr%layout.Align != 0 {
		return c.violation(cerrors.Wrapf(ErrMisaligned, "block at %d does not satisfy alignment %d", ptr, layout.Align),
			"misaligned block", slog.Uint64("address", uint64(ptr)), slog.String("layout", layout.String()))
	}

	if c.live.Has(ptr) {
		return c.violation(cerrors.Wrapf(ErrAliased, "block at %d is already live", ptr),
			"aliased block", slog.Uint64("address", uint64(ptr)), slog.String("layout", layout.String()))
	}

	if ptr+layout.Size+memutils.DebugMargin > uintptr(len(c.memory.Bytes())) {
		return c.violation(cerrors.Wrapf(ErrAliased, "block at %d of size %d runs past the end of the linear memory", ptr, layout.Size),
			"block outside linear memory", slog.Uint64("address", uint64(ptr)), slog.String("layout", layout.String()))
	}

	return nil
}

func (c *CheckedAllocator) track(ptr uintptr, layout heap.Layout) {
	c.live.Put(ptr, layout)
	c.liveBytes += int(layout.Size)
	memutils.WriteMagicValue(c.memory.Bytes(), ptr+layout.Size)
}

func (c *CheckedAllocator) untrack(ptr uintptr, layout heap.Layout) {
	c.live.Delete(ptr)
	c.liveBytes -= int(layout.Size)
}

func (c *CheckedAllocator) fill(ptr, from, to uintptr, pattern byte) {
	if !InitializeAllocs || from >= to {
		return
	}

	data := c.memory.Bytes()
	for i := ptr + from; i < ptr+to; i++ {
		data[i] = pattern
	}
}

// checkLiveBlock verifies that ptr is live, was allocated with layout, and that its canary is intact
func (c *CheckedAllocator) checkLiveBlock(ptr uintptr, layout heap.Layout) error {
	recorded, isLive := c.live.Get(ptr)
	if !isLive {
		return c.violation(cerrors.Wrapf(ErrUnknownBlock, "block at %d", ptr),
			"release of unknown block", slog.Uint64("address", uint64(ptr)), slog.String("layout", layout.String()))
	}

	if recorded != layout {
		return c.violation(cerrors.Wrapf(ErrLayoutMismatch, "block at %d was allocated with layout %s but released with %s", ptr, recorded, layout),
			"layout mismatch", slog.Uint64("address", uint64(ptr)), slog.String("allocated", recorded.String()), slog.String("released", layout.String()))
	}

	if !memutils.ValidateMagicValue(c.memory.Bytes(), ptr+layout.Size) {
		return c.violation(cerrors.Wrapf(ErrCorruption, "block at %d with layout %s", ptr, layout),
			"corrupted block", slog.Uint64("address", uint64(ptr)), slog.String("layout", layout.String()))
	}

	return nil
}

// Dealloc releases a live block. Unlike heap.Allocator.Dealloc, it checks the block first, and returns
// an error instead of releasing it if the check fails.
func (c *CheckedAllocator) Dealloc(ptr uintptr, layout heap.Layout) error {
	err := c.checkLiveBlock(ptr, layout)
	if err != nil {
		return err
	}

	c.untrack(ptr, layout)
	c.fill(ptr, 0, layout.Size, DestroyedFillPattern)
	c.inner.Dealloc(ptr, innerLayout(layout))
	return nil
}

// Realloc resizes a live block. The block is checked first, the same way Dealloc checks it.
//
// If the wrapped allocator resized the block but the result fails the checks Alloc applies, the old
// block no longer belongs to the caller: Realloc returns the new address along with the error, and the
// new block is not tracked.
func (c *CheckedAllocator) Realloc(ptr uintptr, layout heap.Layout, newSize uintptr) (uintptr, error) {
	err := c.checkLiveBlock(ptr, layout)
	if err != nil {
		return 0, err
	}

	if newSize > memutils.MaxRequestSize-memutils.DebugMargin {
		return 0, cerrors.Wrapf(memutils.ErrOutOfMemory, "requested size %d is too large", newSize)
	}

	newPtr, err := c.inner.Realloc(ptr, innerLayout(layout), newSize+memutils.DebugMargin)
	if err != nil {
		return 0, err
	}

	newLayout := heap.Layout{Size: newSize, Align: layout.Align}
	c.untrack(ptr, layout)

	err = c.checkNewBlock(newPtr, newLayout)
	if err != nil {
		return newPtr, err
	}

	c.track(newPtr, newLayout)
	c.fill(newPtr, layout.Size, newSize, CreatedFillPattern)
	return newPtr, nil
}

type liveBlock struct {
	ptr    uintptr
	layout heap.Layout
}

func (c *CheckedAllocator) liveBlocks() []liveBlock {
	blocks := make([]liveBlock, 0, c.live.Count())
	c.live.Iter(func(ptr uintptr, layout heap.Layout) (stop bool) {
		blocks = append(blocks, liveBlock{ptr: ptr, layout: layout})
		return false
	})

	slices.SortFunc(blocks, func(a, b liveBlock) int {
		if a.ptr < b.ptr {
			return -1
		} else if a.ptr > b.ptr {
			return 1
		}
		return 0
	})

	return blocks
}

// Validate validates the wrapped allocator, then verifies that no two live blocks overlap and that
// every live block's canary is intact
func (c *CheckedAllocator) Validate() error {
	err := c.inner.Validate()
	if err != nil {
		return err
	}

	blocks := c.liveBlocks()
	for i := 1; i < len(blocks); i++ {
		previous := blocks[i-1]
		previousEnd := previous.ptr + max(previous.layout.Size+memutils.DebugMargin, 1)
		if previousEnd > blocks[i].ptr {
			return cerrors.Wrapf(ErrAliased, "block at %d with layout %s overlaps block at %d", previous.ptr, previous.layout, blocks[i].ptr)
		}
	}

	data := c.memory.Bytes()
	for _, block := range blocks {
		if !memutils.ValidateMagicValue(data, block.ptr+block.layout.Size) {
			return cerrors.Wrapf(ErrCorruption, "block at %d with layout %s", block.ptr, block.layout)
		}
	}

	return nil
}

// LogLeaks logs every live block at Error level and returns the number of live blocks
func (c *CheckedAllocator) LogLeaks() int {
	blocks := c.liveBlocks()
	for _, block := range blocks {
		c.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unreleased block",
			slog.Uint64("address", uint64(block.ptr)),
			slog.Uint64("size", uint64(block.layout.Size)),
			slog.Uint64("align", uint64(block.layout.Align)),
		)
	}

	return len(blocks)
}
