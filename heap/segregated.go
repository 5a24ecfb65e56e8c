package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/heapkit/linmem"
	"github.com/vkngwrapper/heapkit/memutils"
	"golang.org/x/exp/slog"
)

// SegregatedBumpAllocator serves requests of up to memutils.MaxBinSize bytes from memutils.BinCount
// power-of-two size classes, each with its own LIFO free list, so alloc and free are O(1). A size
// class with an empty list bumps a new block of exactly the class size.
//
// Requests larger than memutils.MaxBinSize, or aligned above memutils.MaxAlign, are bumped at their
// exact size and alignment and are never reclaimed: releasing them does nothing. This is only suitable
// for programs that allocate few large objects, or whose memory is discarded when they exit.
type SegregatedBumpAllocator struct {
	flags CreateFlags

	region bumpRegion
	bins   [memutils.BinCount]uintptr
}

var _ Allocator = &SegregatedBumpAllocator{}

// NewSegregatedBump creates a SegregatedBumpAllocator that has not claimed any pages yet
func NewSegregatedBump(logger *slog.Logger, memory linmem.Memory, flags CreateFlags) *SegregatedBumpAllocator {
	a := &SegregatedBumpAllocator{
		flags: flags,
		region: bumpRegion{
			memory: memory,
			logger: loggerOrDiscard(logger),
		},
	}

	for i := range a.bins {
		a.bins[i] = endOfList
	}

	return a
}

func (a *SegregatedBumpAllocator) Strategy() Strategy {
	return StrategySegregatedBump
}

func binFor(layout Layout) (int, bool) {
	if layout.Align > memutils.MaxAlign {
		return 0, false
	}

	return memutils.BinIndex(layout.Size)
}

func (a *SegregatedBumpAllocator) Alloc(layout Layout) (uintptr, error) {
	memutils.DebugCheckPow2(layout.Align, "layout.Align")

	if layout.Size > memutils.MaxRequestSize {
		return 0, requestTooLarge(layout.Size)
	}

	index, binned := binFor(layout)
	if !binned {
		ptr, err := a.region.alloc(max(layout.Size, memutils.MinBlockSize), max(layout.Align, memutils.MaxAlign))
		if err != nil {
			return 0, err
		}

		memutils.DebugValidate(a)
		return ptr, nil
	}

	ptr := a.bins[index]
	if ptr != endOfList {
		a.bins[index] = nodeAt(a.region.memory.Bytes(), ptr).next
		memutils.DebugValidate(a)
		return ptr, nil
	}

	ptr, err := a.region.alloc(memutils.BinSize(index), memutils.MaxAlign)
	if err != nil {
		return 0, err
	}

	memutils.DebugValidate(a)
	return ptr, nil
}

// Dealloc pushes a block onto the free list of its size class. Blocks larger than memutils.MaxBinSize
// or aligned above memutils.MaxAlign are leaked.
func (a *SegregatedBumpAllocator) Dealloc(ptr uintptr, layout Layout) {
	memutils.DebugCheckPow2(layout.Align, "layout.Align")

	index, binned := binFor(layout)
	if !binned {
		return
	}

	node := nodeAt(a.region.memory.Bytes(), ptr)
	node.next = a.bins[index]
	a.bins[index] = ptr

	memutils.DebugValidate(a)
}

func (a *SegregatedBumpAllocator) Realloc(ptr uintptr, layout Layout, newSize uintptr) (uintptr, error) {
	memutils.DebugCheckPow2(layout.Align, "layout.Align")

	if newSize > memutils.MaxRequestSize {
		return 0, requestTooLarge(newSize)
	}

	if a.flags&CreateNoInPlaceRealloc == 0 {
		oldCapacity := memutils.BinCapacity(layout.Size, layout.Align)
		if newSize <= oldCapacity {
			return ptr, nil
		}

		// Extend to the full capacity of the new size so that releasing the block into a size class
		// later cannot hand out more bytes than it holds
		newCapacity := memutils.BinCapacity(newSize, layout.Align)
		if a.region.atTop(ptr, oldCapacity) && a.region.resizeTop(ptr, ptr+newCapacity) {
			memutils.DebugValidate(a)
			return ptr, nil
		}
	}

	return moveBlock(a, a.region.memory, ptr, layout, newSize)
}

// Validate verifies the bump pointer bounds, and that every block in every size class is aligned and
// lies below the bump pointer
func (a *SegregatedBumpAllocator) Validate() error {
	err := a.region.validate()
	if err != nil {
		return err
	}

	data := a.region.memory.Bytes()
	maxNodes := uintptr(len(data)) / memutils.MinBlockSize

	var freeBytes, count uintptr
	for index, head := range a.bins {
		size := memutils.BinSize(index)

		for cur := head; cur != endOfList; {
			if cur%memutils.MaxAlign != 0 {
				return errors.Errorf("free block at %d in size class %d is not aligned to %d", cur, size, memutils.MaxAlign)
			}

			if cur >= uintptr(len(data)) || uintptr(len(data))-cur < size {
				return errors.Errorf("free block at %d in size class %d is outside the linear memory", cur, size)
			}

			if cur < a.region.end && cur+size > a.region.top {
				return errors.Errorf("free block at %d in size class %d overlaps unallocated memory past the bump pointer %d", cur, size, a.region.top)
			}

			count++
			if count > maxNodes {
				return errors.Errorf("free list for size class %d contains a cycle", size)
			}

			freeBytes += size
			cur = nodeAt(data, cur).next
		}
	}

	if freeBytes > uintptr(a.region.claimedBytes) {
		return errors.Errorf("size classes hold %d bytes, but only %d bytes were claimed", freeBytes, a.region.claimedBytes)
	}

	return nil
}

func (a *SegregatedBumpAllocator) binLength(index int) int {
	var count int
	if a.bins[index] == endOfList {
		return 0
	}

	data := a.region.memory.Bytes()
	for cur := a.bins[index]; cur != endOfList; cur = nodeAt(data, cur).next {
		count++
	}

	return count
}

func (a *SegregatedBumpAllocator) AddStatistics(stats *memutils.Statistics) {
	a.region.addStatistics(stats)
	for index := range a.bins {
		stats.FreeBytes += a.binLength(index) * int(memutils.BinSize(index))
	}
}

func (a *SegregatedBumpAllocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.region.addStatistics(&stats.Statistics)
	for index := range a.bins {
		size := int(memutils.BinSize(index))
		for i := a.binLength(index); i > 0; i-- {
			stats.AddFreeBlock(size)
		}
	}
}

// HeapJsonData populates a json object with information about this allocator's claimed memory, its
// bump pointer, and the number of free blocks in each size class
func (a *SegregatedBumpAllocator) HeapJsonData(json jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)
	writeHeapJson(&json, a.Strategy(), &stats)
	json.Name("Top").Int(int(a.region.top))
	json.Name("End").Int(int(a.region.end))

	bins := json.Name("SizeClasses").Array()
	defer bins.End()

	for index := range a.bins {
		obj := bins.Object()
		obj.Name("BlockSize").Int(int(memutils.BinSize(index)))
		obj.Name("FreeBlocks").Int(a.binLength(index))
		obj.End()
	}
}
