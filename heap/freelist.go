package heap

import (
	"context"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/heapkit/linmem"
	"github.com/vkngwrapper/heapkit/memutils"
	"golang.org/x/exp/slog"
)

// FreeListAllocator keeps every free block in a single list ordered by descending address, and merges
// a released block with its free neighbours on both sides, so no two free blocks are ever adjacent.
// Allocation is first-fit from the highest address down, carving from the high end of a free block.
//
// Every block is at least memutils.MinBlockSize bytes and a multiple of memutils.BlockGranularity, and
// alignments above memutils.MaxAlign are rejected.
type FreeListAllocator struct {
	memory linmem.Memory
	logger *slog.Logger
	flags  CreateFlags

	head uintptr

	growCount    int
	claimedBytes int
}

var _ Allocator = &FreeListAllocator{}

// NewFreeList creates a FreeListAllocator that has not claimed any pages yet
func NewFreeList(logger *slog.Logger, memory linmem.Memory, flags CreateFlags) *FreeListAllocator {
	return &FreeListAllocator{
		memory: memory,
		logger: loggerOrDiscard(logger),
		flags:  flags,
		head:   endOfList,
	}
}

func (a *FreeListAllocator) Strategy() Strategy {
	return StrategyFreeList
}

func (a *FreeListAllocator) Alloc(layout Layout) (uintptr, error) {
	memutils.DebugCheckPow2(layout.Align, "layout.Align")

	if layout.Align > memutils.MaxAlign {
		return 0, unsupportedAlignment(layout)
	}

	if layout.Size > memutils.MaxRequestSize {
		return 0, requestTooLarge(layout.Size)
	}

	size := memutils.BlockSize(layout.Size)

	ptr, found := a.takeFirstFit(size)
	if !found {
		err := a.grow(size)
		if err != nil {
			return 0, err
		}

		ptr, found = a.takeFirstFit(size)
		if !found {
			return 0, cerrors.Wrapf(memutils.ErrOutOfMemory, "no free block of %d bytes after growing the linear memory", size)
		}
	}

	memutils.DebugValidate(a)
	return ptr, nil
}

func (a *FreeListAllocator) takeFirstFit(size uintptr) (uintptr, bool) {
	if a.head == endOfList {
		return 0, false
	}

	data := a.memory.Bytes()

	link := &a.head
	for cur := *link; cur != endOfList; cur = *link {
		node := nodeAt(data, cur)
		if node.size >= size {
			rest := node.size - size
			if rest >= nodeSize {
				// The low part stays in the list where it is
				node.size = rest
				return cur + rest, true
			}

			*link = node.next
			return cur, true
		}

		link = &node.next
	}

	return 0, false
}

func (a *FreeListAllocator) grow(size uintptr) error {
	pages := linmem.PagesFor(size)
	previous := a.memory.Grow(pages)
	if previous == linmem.GrowFailed {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "linear memory refused to grow",
			slog.Uint64("pages", uint64(pages)),
			slog.Int("claimedBytes", a.claimedBytes),
		)
		return cerrors.Wrapf(memutils.ErrOutOfMemory, "failed to grow linear memory by %d pages", pages)
	}

	start := linmem.Address(previous)
	granted := uintptr(pages) * linmem.PageSize
	a.growCount++
	a.claimedBytes += int(granted)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "grew linear memory",
		slog.Uint64("pages", uint64(pages)),
		slog.Uint64("start", uint64(start)),
	)

	a.release(start, granted)
	return nil
}

// release inserts [ptr, ptr+size) into the free list, merging it with the free blocks directly above
// and below it
func (a *FreeListAllocator) release(ptr, size uintptr) {
	data := a.memory.Bytes()
	end := ptr + size

	link := &a.head
	for {
		cur := *link
		if cur == endOfList {
			break
		}

		node := nodeAt(data, cur)

		if cur == end {
			// The block above starts where the released block ends: absorb it
			merged := size + node.size
			next := node.next

			if next != endOfList {
				lower := nodeAt(data, next)
				if next+lower.size == ptr {
					// ...and the block below ends where it starts: everything goes into the lower block
					lower.size += merged
					*link = next
					return
				}
			}

			freed := nodeAt(data, ptr)
			freed.next = next
			freed.size = merged
			*link = ptr
			return
		}

		if cur < ptr {
			if cur+node.size == ptr {
				node.size += size
				return
			}

			break
		}

		link = &node.next
	}

	freed := nodeAt(data, ptr)
	freed.next = *link
	freed.size = size
	*link = ptr
}

func (a *FreeListAllocator) Dealloc(ptr uintptr, layout Layout) {
	memutils.DebugCheckPow2(layout.Align, "layout.Align")

	a.release(ptr, memutils.BlockSize(layout.Size))
	memutils.DebugValidate(a)
}

func (a *FreeListAllocator) Realloc(ptr uintptr, layout Layout, newSize uintptr) (uintptr, error) {
	memutils.DebugCheckPow2(layout.Align, "layout.Align")

	if layout.Align > memutils.MaxAlign {
		return 0, unsupportedAlignment(layout)
	}

	if newSize > memutils.MaxRequestSize {
		return 0, requestTooLarge(newSize)
	}

	if a.flags&CreateNoInPlaceRealloc != 0 {
		return moveBlock(a, a.memory, ptr, layout, newSize)
	}

	oldBlockSize := memutils.BlockSize(layout.Size)
	newBlockSize := memutils.BlockSize(newSize)

	if newBlockSize <= oldBlockSize {
		if oldBlockSize-newBlockSize >= nodeSize {
			a.release(ptr+newBlockSize, oldBlockSize-newBlockSize)
		}

		memutils.DebugValidate(a)
		return ptr, nil
	}

	if a.growInPlace(ptr, oldBlockSize, newBlockSize) {
		memutils.DebugValidate(a)
		return ptr, nil
	}

	return moveBlock(a, a.memory, ptr, layout, newSize)
}

// growInPlace extends the block at ptr from oldSize to newSize bytes if the free block directly above
// it is large enough. What is left of that free block keeps its place in the list: it still ends at the
// same address, and the block below it is the live block at ptr, so it cannot become adjacent to
// another free block.
func (a *FreeListAllocator) growInPlace(ptr, oldSize, newSize uintptr) bool {
	data := a.memory.Bytes()
	target := ptr + oldSize
	needed := newSize - oldSize

	link := &a.head
	for cur := *link; cur != endOfList && cur >= target; cur = *link {
		node := nodeAt(data, cur)
		if cur != target {
			link = &node.next
			continue
		}

		if node.size < needed {
			return false
		}

		rest := node.size - needed
		next := node.next
		if rest >= nodeSize {
			remainder := nodeAt(data, cur+needed)
			remainder.next = next
			remainder.size = rest
			*link = cur + needed
		} else {
			*link = next
		}

		return true
	}

	return false
}

// Validate verifies that the free list is strictly descending, that no two free blocks overlap or
// touch, and that every free block is properly sized and lies inside the claimed memory
func (a *FreeListAllocator) Validate() error {
	data := a.memory.Bytes()
	limit := uintptr(len(data))
	maxNodes := limit / memutils.MinBlockSize

	var freeBytes uintptr
	var count uintptr
	previous := endOfList

	for cur := a.head; cur != endOfList; {
		if cur%memutils.MaxAlign != 0 {
			return errors.Errorf("free block at %d is not aligned to %d", cur, memutils.MaxAlign)
		}

		if cur >= limit || limit-cur < nodeSize {
			return errors.Errorf("free block at %d is outside the linear memory", cur)
		}

		node := nodeAt(data, cur)
		if node.size < memutils.MinBlockSize || node.size%memutils.BlockGranularity != 0 {
			return errors.Errorf("free block at %d has invalid size %d", cur, node.size)
		}

		if node.size > limit-cur {
			return errors.Errorf("free block at %d of size %d runs past the end of the linear memory", cur, node.size)
		}

		if previous != endOfList {
			if cur >= previous {
				return errors.Errorf("free block at %d follows the free block at %d, but free blocks must be in descending order", cur, previous)
			}

			if cur+node.size > previous {
				return errors.Errorf("free block at %d of size %d overlaps the free block at %d", cur, node.size, previous)
			}

			if cur+node.size == previous {
				return errors.Errorf("free block at %d of size %d is adjacent to the free block at %d but was not merged", cur, node.size, previous)
			}
		}

		count++
		if count > maxNodes {
			return errors.New("free list contains a cycle")
		}

		freeBytes += node.size
		previous = cur
		cur = node.next
	}

	if freeBytes > uintptr(a.claimedBytes) {
		return errors.Errorf("free list holds %d bytes, but only %d bytes were claimed", freeBytes, a.claimedBytes)
	}

	return nil
}

func (a *FreeListAllocator) visitFreeBlocks(visit func(addr, size uintptr)) {
	if a.head == endOfList {
		return
	}

	data := a.memory.Bytes()
	for cur := a.head; cur != endOfList; {
		node := nodeAt(data, cur)
		visit(cur, node.size)
		cur = node.next
	}
}

func (a *FreeListAllocator) AddStatistics(stats *memutils.Statistics) {
	stats.GrowCount += a.growCount
	stats.ClaimedBytes += a.claimedBytes
	a.visitFreeBlocks(func(addr, size uintptr) {
		stats.FreeBytes += int(size)
	})
}

func (a *FreeListAllocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.GrowCount += a.growCount
	stats.ClaimedBytes += a.claimedBytes
	a.visitFreeBlocks(func(addr, size uintptr) {
		stats.AddFreeBlock(int(size))
	})
}

// HeapJsonData populates a json object with information about this allocator's claimed memory and
// every block in its free list, highest address first
func (a *FreeListAllocator) HeapJsonData(json jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)
	writeHeapJson(&json, a.Strategy(), &stats)

	freeBlocks := json.Name("FreeBlocks").Array()
	defer freeBlocks.End()

	a.visitFreeBlocks(func(addr, size uintptr) {
		writeFreeBlockJson(&freeBlocks, addr, size)
	})
}
