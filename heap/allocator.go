package heap

import (
	"fmt"
	"io"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/heapkit/linmem"
	"github.com/vkngwrapper/heapkit/memutils"
	"golang.org/x/exp/slog"
)

// Layout describes an allocation: its size in bytes and its alignment. Align must be a power of two.
// A block must be released with the same Layout it was allocated with.
type Layout struct {
	Size  uintptr
	Align uintptr
}

func (l Layout) String() string {
	return fmt.Sprintf("{Size: %d, Align: %d}", l.Size, l.Align)
}

// Allocator hands out blocks of a linear memory. All implementations are single-threaded: no method
// may be called while another call on the same Allocator is in progress.
//
// Blocks are identified by their address in the linear memory. The allocator keeps its bookkeeping for
// free blocks inside the free blocks themselves, so writing to a block after releasing it, releasing a
// block twice, or releasing it with a Layout other than the one it was allocated with corrupts the
// allocator. None of these are detected: wrap the allocator with heapcheck while debugging.
type Allocator interface {
	// Alloc returns the address of a block of at least layout.Size bytes aligned to layout.Align.
	// The contents of the block are unspecified. It returns memutils.ErrUnsupportedAlignment if the
	// alignment is above what the allocator can serve, and memutils.ErrOutOfMemory if the linear memory
	// could not be grown to fit the block. On error, the allocator's state is unchanged.
	Alloc(layout Layout) (uintptr, error)
	// Dealloc releases a block returned from Alloc or Realloc. layout must be the Layout the block was
	// allocated with (for a block returned from Realloc, the original alignment and the new size).
	Dealloc(ptr uintptr, layout Layout)
	// Realloc resizes a block to newSize bytes, keeping its alignment and the first min(layout.Size, newSize)
	// bytes of its contents. The returned address may be the original one. On error the original block
	// is untouched and still owned by the caller.
	Realloc(ptr uintptr, layout Layout, newSize uintptr) (uintptr, error)

	// Strategy identifies the implementation
	Strategy() Strategy
	// Validate walks the allocator's bookkeeping and returns an error describing the first broken
	// invariant it finds. It is expensive, and should not be called outside of tests and diagnostics.
	Validate() error
	// AddStatistics sums this allocator's statistics into the provided memutils.Statistics object
	AddStatistics(stats *memutils.Statistics)
	// AddDetailedStatistics sums this allocator's statistics, including every free block, into the
	// provided memutils.DetailedStatistics object
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// HeapJsonData populates a json object with information about this allocator's claimed memory and
	// free blocks
	HeapJsonData(json jwriter.ObjectState)
}

// Strategy identifies one of the allocator implementations in this package
type Strategy uint32

const (
	// StrategyFreeList selects FreeListAllocator: a single address-ordered free list with coalescing. Slowest
	// of the three, but keeps fragmentation lowest in long-running programs.
	StrategyFreeList Strategy = iota
	// StrategyBumpFreeList selects BumpFreeListAllocator: a bump pointer with an unordered free list and no
	// coalescing. Smallest and cheapest to start up, unsuitable for long-running programs.
	StrategyBumpFreeList
	// StrategySegregatedBump selects SegregatedBumpAllocator: four power-of-two size classes with O(1)
	// alloc and free, backed by a bump pointer that also serves every larger or over-aligned request and
	// never reclaims them.
	StrategySegregatedBump
)

var strategyMapping = map[Strategy]string{
	StrategyFreeList:       "FreeList",
	StrategyBumpFreeList:   "BumpFreeList",
	StrategySegregatedBump: "SegregatedBump",
}

func (s Strategy) String() string {
	str, ok := strategyMapping[s]
	if !ok {
		return fmt.Sprintf("Strategy(%d)", uint32(s))
	}
	return str
}

// ParseStrategy returns the Strategy whose String() value is name
func ParseStrategy(name string) (Strategy, error) {
	for strategy, str := range strategyMapping {
		if str == name {
			return strategy, nil
		}
	}

	return 0, cerrors.Newf("unknown allocation strategy: %q", name)
}

// Strategies returns every Strategy in this package, in declaration order
func Strategies() []Strategy {
	return []Strategy{StrategyFreeList, StrategyBumpFreeList, StrategySegregatedBump}
}

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateNoInPlaceRealloc makes Realloc always allocate a new block, copy, and release the old block,
	// instead of resizing blocks in place when the surrounding memory allows it.
	CreateNoInPlaceRealloc CreateFlags = 1 << iota
)

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	if f&CreateNoInPlaceRealloc != 0 {
		f &^= CreateNoInPlaceRealloc
		if f == 0 {
			return "CreateNoInPlaceRealloc"
		}
		return fmt.Sprintf("CreateNoInPlaceRealloc|CreateFlags(%d)", int32(f))
	}

	return fmt.Sprintf("CreateFlags(%d)", int32(f))
}

// CreateOptions contains optional settings when creating an allocator with New
type CreateOptions struct {
	// Strategy selects the allocator implementation. The zero value is StrategyFreeList.
	Strategy Strategy
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
}

// New creates an allocator of the requested strategy that claims pages from memory.
//
// logger - Receives debug messages when the allocator grows the linear memory. May be nil.
//
// memory - The linear memory blocks are allocated from. An allocator assumes nothing about pages it did
// not receive from memory.Grow itself, so several allocators may share one memory, but each allocator
// must only be used from one goroutine at a time.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, memory linmem.Memory, options CreateOptions) (Allocator, error) {
	switch options.Strategy {
	case StrategyFreeList:
		return NewFreeList(logger, memory, options.Flags), nil
	case StrategyBumpFreeList:
		return NewBumpFreeList(logger, memory, options.Flags), nil
	case StrategySegregatedBump:
		return NewSegregatedBump(logger, memory, options.Flags), nil
	default:
		return nil, cerrors.Newf("unknown allocation strategy: %s", options.Strategy)
	}
}

func loggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}
