package memutils

import "math"

// Statistics is a cheap summary of an allocator's claimed memory
type Statistics struct {
	// GrowCount is the number of successful page-growth requests the allocator has made
	GrowCount int
	// ClaimedBytes is the number of bytes the allocator has claimed from linear memory
	ClaimedBytes int
	// FreeBytes is the number of claimed bytes held in free chains, available for reuse
	FreeBytes int
	// BumpBytes is the number of claimed bytes past the bump pointer, never handed out yet
	BumpBytes int
}

func (s *Statistics) Clear() {
	s.GrowCount = 0
	s.ClaimedBytes = 0
	s.FreeBytes = 0
	s.BumpBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.GrowCount += other.GrowCount
	s.ClaimedBytes += other.ClaimedBytes
	s.FreeBytes += other.FreeBytes
	s.BumpBytes += other.BumpBytes
}

// UsedBytes returns the number of claimed bytes that are neither free nor past the bump pointer. This
// includes internal waste from rounding requests up to block sizes.
func (s *Statistics) UsedBytes() int {
	return s.ClaimedBytes - s.FreeBytes - s.BumpBytes
}

type DetailedStatistics struct {
	Statistics
	FreeBlockCount   int
	FreeBlockSizeMin int
	FreeBlockSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeBlockCount = 0
	s.FreeBlockSizeMin = math.MaxInt
	s.FreeBlockSizeMax = 0
}

func (s *DetailedStatistics) AddFreeBlock(size int) {
	s.FreeBlockCount++
	s.FreeBytes += size

	if size < s.FreeBlockSizeMin {
		s.FreeBlockSizeMin = size
	}

	if size > s.FreeBlockSizeMax {
		s.FreeBlockSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeBlockCount += other.FreeBlockCount

	if other.FreeBlockSizeMin < s.FreeBlockSizeMin {
		s.FreeBlockSizeMin = other.FreeBlockSizeMin
	}

	if other.FreeBlockSizeMax > s.FreeBlockSizeMax {
		s.FreeBlockSizeMax = other.FreeBlockSizeMax
	}
}

// Fragmentation returns a value between 0 and 1 describing how scattered the free bytes are: 0 when all
// free bytes are in a single block (or there are none), approaching 1 as they split into many small blocks.
func (s *DetailedStatistics) Fragmentation() float64 {
	if s.FreeBytes == 0 || s.FreeBlockCount == 0 {
		return 0
	}

	return 1 - float64(s.FreeBlockSizeMax)/float64(s.FreeBytes)
}
