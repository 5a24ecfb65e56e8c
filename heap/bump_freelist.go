package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/heapkit/linmem"
	"github.com/vkngwrapper/heapkit/memutils"
	"golang.org/x/exp/slog"
)

// BumpFreeListAllocator hands out new memory from a bump pointer and keeps released blocks in a single
// unordered LIFO list, tagged with their size. Released blocks are never merged, so a program that
// releases many small blocks and then asks for a large one will grow the memory even if the small
// blocks were contiguous. It is the cheapest strategy to start up and is meant for short-lived programs.
//
// Alignments above memutils.MaxAlign are rejected: a reused block is only guaranteed to be aligned to
// memutils.MaxAlign.
type BumpFreeListAllocator struct {
	flags CreateFlags

	region bumpRegion
	head   uintptr
}

var _ Allocator = &BumpFreeListAllocator{}

// NewBumpFreeList creates a BumpFreeListAllocator that has not claimed any pages yet
func NewBumpFreeList(logger *slog.Logger, memory linmem.Memory, flags CreateFlags) *BumpFreeListAllocator {
	return &BumpFreeListAllocator{
		flags: flags,
		region: bumpRegion{
			memory: memory,
			logger: loggerOrDiscard(logger),
		},
		head: endOfList,
	}
}

func (a *BumpFreeListAllocator) Strategy() Strategy {
	return StrategyBumpFreeList
}

func (a *BumpFreeListAllocator) Alloc(layout Layout) (uintptr, error) {
	memutils.DebugCheckPow2(layout.Align, "layout.Align")

	if layout.Align > memutils.MaxAlign {
		return 0, unsupportedAlignment(layout)
	}

	if layout.Size > memutils.MaxRequestSize {
		return 0, requestTooLarge(layout.Size)
	}

	size := memutils.BlockSize(layout.Size)

	ptr, found := a.takeFirstFit(size)
	if found {
		memutils.DebugValidate(a)
		return ptr, nil
	}

	ptr, err := a.region.alloc(size, memutils.MaxAlign)
	if err != nil {
		return 0, err
	}

	memutils.DebugValidate(a)
	return ptr, nil
}

func (a *BumpFreeListAllocator) takeFirstFit(size uintptr) (uintptr, bool) {
	if a.head == endOfList {
		return 0, false
	}

	data := a.region.memory.Bytes()

	link := &a.head
	for cur := *link; cur != endOfList; cur = *link {
		node := nodeAt(data, cur)
		if node.size >= size {
			*link = node.next
			return cur, true
		}

		link = &node.next
	}

	return 0, false
}

// Dealloc pushes the block onto the free list. A reused block is handed out whole, so a later request
// for fewer bytes than the block holds wastes the difference until that block is released again.
func (a *BumpFreeListAllocator) Dealloc(ptr uintptr, layout Layout) {
	memutils.DebugCheckPow2(layout.Align, "layout.Align")

	a.push(ptr, memutils.BlockSize(layout.Size))
	memutils.DebugValidate(a)
}

func (a *BumpFreeListAllocator) push(ptr, size uintptr) {
	node := nodeAt(a.region.memory.Bytes(), ptr)
	node.next = a.head
	node.size = size
	a.head = ptr
}

// Realloc resizes a block. If the block is the most recent bump allocation, it is resized in place by
// moving the bump pointer to its new end: growing claims pages as needed, and shrinking gives the tail
// back to the bump pointer. Any other block is moved to a fresh allocation, even when shrinking.
func (a *BumpFreeListAllocator) Realloc(ptr uintptr, layout Layout, newSize uintptr) (uintptr, error) {
	memutils.DebugCheckPow2(layout.Align, "layout.Align")

	if layout.Align > memutils.MaxAlign {
		return 0, unsupportedAlignment(layout)
	}

	if newSize > memutils.MaxRequestSize {
		return 0, requestTooLarge(newSize)
	}

	if a.flags&CreateNoInPlaceRealloc == 0 {
		oldBlockSize := memutils.BlockSize(layout.Size)
		newBlockSize := memutils.BlockSize(newSize)

		// The most recent bump allocation can move the bump pointer in either direction
		if a.region.atTop(ptr, oldBlockSize) && a.region.resizeTop(ptr, ptr+newBlockSize) {
			memutils.DebugValidate(a)
			return ptr, nil
		}
	}

	return moveBlock(a, a.region.memory, ptr, layout, newSize)
}

// Validate verifies the bump pointer bounds, and that every block in the free list is properly sized
// and lies below the bump pointer
func (a *BumpFreeListAllocator) Validate() error {
	err := a.region.validate()
	if err != nil {
		return err
	}

	data := a.region.memory.Bytes()
	maxNodes := uintptr(len(data)) / memutils.MinBlockSize

	var freeBytes, count uintptr
	for cur := a.head; cur != endOfList; {
		if cur%memutils.MaxAlign != 0 {
			return errors.Errorf("free block at %d is not aligned to %d", cur, memutils.MaxAlign)
		}

		if cur >= uintptr(len(data)) || uintptr(len(data))-cur < nodeSize {
			return errors.Errorf("free block at %d is outside the linear memory", cur)
		}

		node := nodeAt(data, cur)
		if node.size < memutils.MinBlockSize || node.size%memutils.BlockGranularity != 0 {
			return errors.Errorf("free block at %d has invalid size %d", cur, node.size)
		}

		if cur < a.region.end && cur+node.size > a.region.top {
			return errors.Errorf("free block at %d of size %d overlaps unallocated memory past the bump pointer %d", cur, node.size, a.region.top)
		}

		count++
		if count > maxNodes {
			return errors.New("free list contains a cycle")
		}

		freeBytes += node.size
		cur = node.next
	}

	if freeBytes > uintptr(a.region.claimedBytes) {
		return errors.Errorf("free list holds %d bytes, but only %d bytes were claimed", freeBytes, a.region.claimedBytes)
	}

	return nil
}

func (a *BumpFreeListAllocator) visitFreeBlocks(visit func(addr, size uintptr)) {
	if a.head == endOfList {
		return
	}

	data := a.region.memory.Bytes()
	for cur := a.head; cur != endOfList; {
		node := nodeAt(data, cur)
		visit(cur, node.size)
		cur = node.next
	}
}

func (a *BumpFreeListAllocator) AddStatistics(stats *memutils.Statistics) {
	a.region.addStatistics(stats)
	a.visitFreeBlocks(func(addr, size uintptr) {
		stats.FreeBytes += int(size)
	})
}

func (a *BumpFreeListAllocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.region.addStatistics(&stats.Statistics)
	a.visitFreeBlocks(func(addr, size uintptr) {
		stats.AddFreeBlock(int(size))
	})
}

// HeapJsonData populates a json object with information about this allocator's claimed memory, its
// bump pointer, and every block in its free list, most recently released first
func (a *BumpFreeListAllocator) HeapJsonData(json jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)
	writeHeapJson(&json, a.Strategy(), &stats)
	json.Name("Top").Int(int(a.region.top))
	json.Name("End").Int(int(a.region.end))

	freeBlocks := json.Name("FreeBlocks").Array()
	defer freeBlocks.End()

	a.visitFreeBlocks(func(addr, size uintptr) {
		writeFreeBlockJson(&freeBlocks, addr, size)
	})
}
