package heap_test

import (
	"encoding/json"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/heapkit/heap"
	"github.com/vkngwrapper/heapkit/linmem"
	mock_linmem "github.com/vkngwrapper/heapkit/linmem/mocks"
	"github.com/vkngwrapper/heapkit/memutils"
	"go.uber.org/mock/gomock"
)

func newMemory(t testing.TB, maxPages uint) *linmem.HostMemory {
	memory, err := linmem.NewHostMemory(linmem.CreateOptions{MaxPages: maxPages})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, memory.Close())
	})

	return memory
}

func newAllocator(t testing.TB, memory linmem.Memory, strategy heap.Strategy) heap.Allocator {
	allocator, err := heap.New(nil, memory, heap.CreateOptions{Strategy: strategy})
	require.NoError(t, err)
	require.Equal(t, strategy, allocator.Strategy())

	return allocator
}

// expectMemoryInspection allows the size reads that validation performs after every operation in
// debug_heap builds
func expectMemoryInspection(memory *mock_linmem.MockMemory, pages uint) {
	memory.EXPECT().Pages().Return(pages).AnyTimes()
	memory.EXPECT().Bytes().Return(make([]byte, uintptr(pages)*linmem.PageSize)).AnyTimes()
}

func TestNewUnknownStrategy(t *testing.T) {
	memory := newMemory(t, 1)

	_, err := heap.New(nil, memory, heap.CreateOptions{Strategy: heap.Strategy(7)})
	require.EqualError(t, err, "unknown allocation strategy: Strategy(7)")
}

func TestParseStrategy(t *testing.T) {
	for _, strategy := range heap.Strategies() {
		parsed, err := heap.ParseStrategy(strategy.String())
		require.NoError(t, err)
		require.Equal(t, strategy, parsed)
	}

	_, err := heap.ParseStrategy("Buddy")
	require.Error(t, err)
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "None", heap.CreateFlags(0).String())
	require.Equal(t, "CreateNoInPlaceRealloc", heap.CreateNoInPlaceRealloc.String())
	require.Equal(t, "CreateNoInPlaceRealloc|CreateFlags(4)", (heap.CreateNoInPlaceRealloc | 4).String())
}

func TestRoundTripPattern(t *testing.T) {
	for _, strategy := range heap.Strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			memory := newMemory(t, 4)
			allocator := newAllocator(t, memory, strategy)

			sizes := []uintptr{0, 1, 15, 16, 17, 100, 128, 129, 4000}
			ptrs := make([]uintptr, len(sizes))

			for i, size := range sizes {
				ptr, err := allocator.Alloc(heap.Layout{Size: size, Align: 8})
				require.NoError(t, err)
				require.Zero(t, ptr%8)
				ptrs[i] = ptr

				data := memory.Bytes()
				for j := uintptr(0); j < size; j++ {
					data[ptr+j] = byte(i*31) + byte(j)
				}
			}

			for i, size := range sizes {
				data := memory.Bytes()
				for j := uintptr(0); j < size; j++ {
					require.Equal(t, byte(i*31)+byte(j), data[ptrs[i]+j])
				}

				allocator.Dealloc(ptrs[i], heap.Layout{Size: size, Align: 8})
				require.NoError(t, allocator.Validate())
			}
		})
	}
}

func TestFreshAllocatorRestartsAtSameAddress(t *testing.T) {
	for _, strategy := range heap.Strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			memory := newMemory(t, 4)
			layout := heap.Layout{Size: 48, Align: 16}

			allocator := newAllocator(t, memory, strategy)
			first, err := allocator.Alloc(layout)
			require.NoError(t, err)

			other, err := allocator.Alloc(heap.Layout{Size: 300, Align: 4})
			require.NoError(t, err)

			allocator.Dealloc(first, layout)
			allocator.Dealloc(other, heap.Layout{Size: 300, Align: 4})

			require.NoError(t, memory.Reset())
			allocator = newAllocator(t, memory, strategy)

			second, err := allocator.Alloc(layout)
			require.NoError(t, err)
			require.Equal(t, first, second)
		})
	}
}

func TestGrowthFailure(t *testing.T) {
	for _, strategy := range heap.Strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			memory := mock_linmem.NewMockMemory(ctrl)
			expectMemoryInspection(memory, 0)
			memory.EXPECT().Grow(uint(1)).Return(linmem.GrowFailed)
			memory.EXPECT().Grow(uint(3)).Return(linmem.GrowFailed)

			allocator := newAllocator(t, memory, strategy)

			_, err := allocator.Alloc(heap.Layout{Size: 16, Align: 16})
			require.ErrorIs(t, err, memutils.ErrOutOfMemory)

			_, err = allocator.Alloc(heap.Layout{Size: 2*linmem.PageSize + 1, Align: 8})
			require.ErrorIs(t, err, memutils.ErrOutOfMemory)

			var stats memutils.Statistics
			allocator.AddStatistics(&stats)
			require.Equal(t, memutils.Statistics{}, stats)
		})
	}
}

func TestRequestTooLarge(t *testing.T) {
	for _, strategy := range heap.Strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			// No growth may be attempted
			memory := mock_linmem.NewMockMemory(ctrl)
			expectMemoryInspection(memory, 0)
			allocator := newAllocator(t, memory, strategy)

			_, err := allocator.Alloc(heap.Layout{Size: ^uintptr(0) - 8, Align: 16})
			require.ErrorIs(t, err, memutils.ErrOutOfMemory)
		})
	}
}

func TestHeapJsonData(t *testing.T) {
	memory := newMemory(t, 1)
	allocator := newAllocator(t, memory, heap.StrategyFreeList)

	_, err := allocator.Alloc(heap.Layout{Size: 16, Align: 16})
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	allocator.HeapJsonData(obj)
	obj.End()
	require.NoError(t, writer.Error())

	require.JSONEq(t, `{
		"Strategy": "FreeList",
		"GrowCount": 1,
		"ClaimedBytes": 65536,
		"UsedBytes": 16,
		"FreeBytes": 65520,
		"BumpBytes": 0,
		"FreeBlockCount": 1,
		"Fragmentation": 0,
		"FreeBlocks": [{"Address": 0, "Size": 65520}]
	}`, string(writer.Bytes()))
}

func TestHeapJsonDataIsValid(t *testing.T) {
	for _, strategy := range heap.Strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			memory := newMemory(t, 1)
			allocator := newAllocator(t, memory, strategy)

			layout := heap.Layout{Size: 24, Align: 8}
			first, err := allocator.Alloc(layout)
			require.NoError(t, err)
			_, err = allocator.Alloc(layout)
			require.NoError(t, err)
			allocator.Dealloc(first, layout)

			writer := jwriter.NewWriter()
			obj := writer.Object()
			obj.Name("Name").String("heap")
			allocator.HeapJsonData(obj)
			obj.End()
			require.NoError(t, writer.Error())
			require.True(t, json.Valid(writer.Bytes()), string(writer.Bytes()))

			var decoded map[string]any
			require.NoError(t, json.Unmarshal(writer.Bytes(), &decoded))
			require.Equal(t, strategy.String(), decoded["Strategy"])
			require.Equal(t, "heap", decoded["Name"])
		})
	}
}

func TestSegregatedHeapJsonData(t *testing.T) {
	memory := newMemory(t, 1)
	allocator := newAllocator(t, memory, heap.StrategySegregatedBump)

	ptr, err := allocator.Alloc(heap.Layout{Size: 20, Align: 4})
	require.NoError(t, err)
	allocator.Dealloc(ptr, heap.Layout{Size: 20, Align: 4})

	writer := jwriter.NewWriter()
	obj := writer.Object()
	allocator.HeapJsonData(obj)
	obj.End()
	require.NoError(t, writer.Error())

	require.JSONEq(t, `{
		"Strategy": "SegregatedBump",
		"GrowCount": 1,
		"ClaimedBytes": 65536,
		"UsedBytes": 0,
		"FreeBytes": 32,
		"BumpBytes": 65504,
		"FreeBlockCount": 1,
		"Fragmentation": 0,
		"Top": 32,
		"End": 65536,
		"SizeClasses": [
			{"BlockSize": 16, "FreeBlocks": 0},
			{"BlockSize": 32, "FreeBlocks": 1},
			{"BlockSize": 64, "FreeBlocks": 0},
			{"BlockSize": 128, "FreeBlocks": 0}
		]
	}`, string(writer.Bytes()))
}
