package memutils_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/heapkit/memutils"
)

func TestDetailedStatisticsAccumulate(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()

	require.Equal(t, memutils.DetailedStatistics{
		FreeBlockSizeMin: math.MaxInt,
	}, stats)
	require.Zero(t, stats.Fragmentation())

	stats.ClaimedBytes = 65536
	stats.AddFreeBlock(1024)
	stats.AddFreeBlock(64)
	stats.AddFreeBlock(512)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			ClaimedBytes: 65536,
			FreeBytes:    1600,
		},
		FreeBlockCount:   3,
		FreeBlockSizeMin: 64,
		FreeBlockSizeMax: 1024,
	}, stats)
	require.Equal(t, 65536-1600, stats.UsedBytes())
	require.InDelta(t, 1-1024.0/1600.0, stats.Fragmentation(), 1e-9)

	var other memutils.DetailedStatistics
	other.Clear()
	other.GrowCount = 2
	other.ClaimedBytes = 131072
	other.BumpBytes = 4096
	other.AddFreeBlock(16)

	stats.AddDetailedStatistics(&other)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			GrowCount:    2,
			ClaimedBytes: 196608,
			FreeBytes:    1616,
			BumpBytes:    4096,
		},
		FreeBlockCount:   4,
		FreeBlockSizeMin: 16,
		FreeBlockSizeMax: 1024,
	}, stats)
}

func TestDetailedStatisticsSingleBlockIsNotFragmented(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	stats.AddFreeBlock(4096)

	require.Zero(t, stats.Fragmentation())
}
