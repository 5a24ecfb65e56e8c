package heap_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/heapkit/heap"
	"github.com/vkngwrapper/heapkit/linmem"
	mock_linmem "github.com/vkngwrapper/heapkit/linmem/mocks"
	"github.com/vkngwrapper/heapkit/memutils"
	"go.uber.org/mock/gomock"
)

func requireStatistics(t *testing.T, allocator heap.Allocator, expected memutils.Statistics) {
	require.NoError(t, allocator.Validate())

	var stats memutils.Statistics
	allocator.AddStatistics(&stats)
	require.Equal(t, expected, stats)
}

func TestBumpFreeListLIFOReuse(t *testing.T) {
	memory := newMemory(t, 1)
	allocator := heap.NewBumpFreeList(nil, memory, 0)

	a, err := allocator.Alloc(heap.Layout{Size: 32, Align: 8})
	require.NoError(t, err)
	require.Equal(t, uintptr(0), a)

	allocator.Dealloc(a, heap.Layout{Size: 32, Align: 8})

	b, err := allocator.Alloc(heap.Layout{Size: 20, Align: 4})
	require.NoError(t, err)
	require.Equal(t, a, b)

	allocator.Dealloc(b, heap.Layout{Size: 20, Align: 4})

	// A smaller request takes the whole block
	c, err := allocator.Alloc(heap.Layout{Size: 1, Align: 1})
	require.NoError(t, err)
	require.Equal(t, a, c)

	requireStatistics(t, allocator, memutils.Statistics{
		GrowCount:    1,
		ClaimedBytes: int(linmem.PageSize),
		BumpBytes:    int(linmem.PageSize - 32),
	})
}

func TestBumpFreeListNoCoalescing(t *testing.T) {
	memory := newMemory(t, 1)
	allocator := heap.NewBumpFreeList(nil, memory, 0)
	layout := heap.Layout{Size: 16, Align: 16}

	a, err := allocator.Alloc(layout)
	require.NoError(t, err)
	b, err := allocator.Alloc(layout)
	require.NoError(t, err)
	require.Equal(t, a+16, b)

	allocator.Dealloc(a, layout)
	allocator.Dealloc(b, layout)

	// a and b are contiguous, but are never merged
	c, err := allocator.Alloc(heap.Layout{Size: 32, Align: 16})
	require.NoError(t, err)
	require.Equal(t, b+16, c)

	var stats memutils.DetailedStatistics
	stats.Clear()
	allocator.AddDetailedStatistics(&stats)
	require.Equal(t, 2, stats.FreeBlockCount)
	require.Equal(t, 32, stats.FreeBytes)
	require.Equal(t, int(linmem.PageSize-64), stats.BumpBytes)

	// Most recently released first
	d, err := allocator.Alloc(layout)
	require.NoError(t, err)
	require.Equal(t, b, d)
}

func TestBumpFreeListAlignment(t *testing.T) {
	memory := newMemory(t, 1)
	allocator := heap.NewBumpFreeList(nil, memory, 0)

	a, err := allocator.Alloc(heap.Layout{Size: 1, Align: 1})
	require.NoError(t, err)
	b, err := allocator.Alloc(heap.Layout{Size: 16, Align: 16})
	require.NoError(t, err)

	require.Equal(t, uintptr(0), a)
	require.Equal(t, uintptr(16), b)

	_, err = allocator.Alloc(heap.Layout{Size: 16, Align: 32})
	require.ErrorIs(t, err, memutils.ErrUnsupportedAlignment)

	requireStatistics(t, allocator, memutils.Statistics{
		GrowCount:    1,
		ClaimedBytes: int(linmem.PageSize),
		BumpBytes:    int(linmem.PageSize - 32),
	})
}

func TestBumpFreeListReallocAtTop(t *testing.T) {
	memory := newMemory(t, 4)
	allocator := heap.NewBumpFreeList(nil, memory, 0)

	ptr, err := allocator.Alloc(heap.Layout{Size: 16, Align: 16})
	require.NoError(t, err)

	newPtr, err := allocator.Realloc(ptr, heap.Layout{Size: 16, Align: 16}, 100)
	require.NoError(t, err)
	require.Equal(t, ptr, newPtr)
	requireStatistics(t, allocator, memutils.Statistics{
		GrowCount:    1,
		ClaimedBytes: int(linmem.PageSize),
		BumpBytes:    int(linmem.PageSize - 112),
	})

	// Shrinking gives the tail back to the bump pointer
	newPtr, err = allocator.Realloc(ptr, heap.Layout{Size: 100, Align: 16}, 16)
	require.NoError(t, err)
	require.Equal(t, ptr, newPtr)
	requireStatistics(t, allocator, memutils.Statistics{
		GrowCount:    1,
		ClaimedBytes: int(linmem.PageSize),
		BumpBytes:    int(linmem.PageSize - 16),
	})

	// Growing past the claimed pages claims more
	newPtr, err = allocator.Realloc(ptr, heap.Layout{Size: 16, Align: 16}, 2*linmem.PageSize)
	require.NoError(t, err)
	require.Equal(t, ptr, newPtr)
	require.Equal(t, uint(2), memory.Pages())
	requireStatistics(t, allocator, memutils.Statistics{
		GrowCount:    2,
		ClaimedBytes: int(2 * linmem.PageSize),
	})
}

func TestBumpFreeListReallocBelowTop(t *testing.T) {
	memory := newMemory(t, 1)
	allocator := heap.NewBumpFreeList(nil, memory, 0)

	ptr, err := allocator.Alloc(heap.Layout{Size: 16, Align: 16})
	require.NoError(t, err)
	_, err = allocator.Alloc(heap.Layout{Size: 16, Align: 16})
	require.NoError(t, err)

	data := memory.Bytes()
	for i := uintptr(0); i < 16; i++ {
		data[ptr+i] = byte(0xF0 + i)
	}

	newPtr, err := allocator.Realloc(ptr, heap.Layout{Size: 16, Align: 16}, 64)
	require.NoError(t, err)
	require.Equal(t, uintptr(32), newPtr)

	data = memory.Bytes()
	for i := uintptr(0); i < 16; i++ {
		require.Equal(t, byte(0xF0+i), data[newPtr+i])
	}

	// The old block went to the free list
	reused, err := allocator.Alloc(heap.Layout{Size: 8, Align: 8})
	require.NoError(t, err)
	require.Equal(t, ptr, reused)
}

func TestBumpFreeListReallocFailureKeepsBlock(t *testing.T) {
	memory := newMemory(t, 1)
	allocator := heap.NewBumpFreeList(nil, memory, 0)

	ptr, err := allocator.Alloc(heap.Layout{Size: 16, Align: 16})
	require.NoError(t, err)

	_, err = allocator.Realloc(ptr, heap.Layout{Size: 16, Align: 16}, 2*linmem.PageSize)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)

	requireStatistics(t, allocator, memutils.Statistics{
		GrowCount:    1,
		ClaimedBytes: int(linmem.PageSize),
		BumpBytes:    int(linmem.PageSize - 16),
	})
}

func TestBumpFreeListNonContiguousGrowth(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	memory := mock_linmem.NewMockMemory(ctrl)
	expectMemoryInspection(memory, 6)
	allocator := heap.NewBumpFreeList(nil, memory, 0)

	memory.EXPECT().Grow(uint(1)).Return(uint(0))
	first, err := allocator.Alloc(heap.Layout{Size: 16, Align: 16})
	require.NoError(t, err)
	require.Equal(t, uintptr(0), first)

	// Something else grew the memory to 5 pages in the meantime
	memory.EXPECT().Grow(uint(1)).Return(uint(5))
	second, err := allocator.Alloc(heap.Layout{Size: linmem.PageSize, Align: 16})
	require.NoError(t, err)
	require.Equal(t, linmem.Address(5), second)

	requireStatistics(t, allocator, memutils.Statistics{
		GrowCount:    2,
		ClaimedBytes: int(2 * linmem.PageSize),
	})
}
