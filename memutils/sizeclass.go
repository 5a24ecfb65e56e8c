package memutils

import "math/bits"

const (
	// MaxAlign is the largest alignment any allocator in heapkit serves from its free space. Requests
	// above it either fail or are routed to a bump path, depending on the allocator.
	MaxAlign uintptr = 16
	// MinBlockSize is the smallest block handed out. Every free block must be able to hold a free node,
	// and a free node is never larger than two machine words.
	MinBlockSize uintptr = 16
	// BlockGranularity is the rounding unit for block sizes. Keeping every block a multiple of it keeps
	// every block start MaxAlign-aligned when blocks are carved out of each other.
	BlockGranularity uintptr = 16

	// BinCount is the number of size classes in a segregated allocator
	BinCount = 4
	// MaxBinSize is the size of the largest size class
	MaxBinSize uintptr = MinBlockSize << (BinCount - 1)

	// MaxRequestSize is the largest size any allocator will attempt to round and serve. Anything larger
	// fails with ErrOutOfMemory before any arithmetic can overflow.
	MaxRequestSize uintptr = ^uintptr(0) >> 1
)

// BlockSize returns the number of bytes a free-list allocator actually reserves for a request of
// the given size: the size raised to MinBlockSize and rounded up to BlockGranularity.
func BlockSize(size uintptr) uintptr {
	return AlignUp(max(size, MinBlockSize), BlockGranularity)
}

// BinIndex returns the size class serving a request of the given size, and false if the request is
// larger than MaxBinSize. Class i serves blocks of BinSize(i) bytes.
func BinIndex(size uintptr) (int, bool) {
	size = max(size, MinBlockSize)
	if size > MaxBinSize {
		return 0, false
	}

	// bits.Len(size-1) is the exponent of the next power of two at or above size
	return bits.Len(uint(size-1)) - bits.Len(uint(MinBlockSize-1)), true
}

// BinSize returns the block size of a size class
func BinSize(index int) uintptr {
	return MinBlockSize << index
}

// BinCapacity returns the number of usable bytes behind a block handed out by a segregated allocator
// for the given request: the size class for binnable requests, or the request itself (raised to
// MinBlockSize) for everything served by the bump fallback.
func BinCapacity(size, align uintptr) uintptr {
	size = max(size, MinBlockSize)
	if align > MaxAlign {
		return size
	}

	index, binned := BinIndex(size)
	if !binned {
		return size
	}

	return BinSize(index)
}

// PagesFor returns the number of pages required to hold byteCount bytes, never less than one
func PagesFor(byteCount, pageSize uintptr) uintptr {
	return max(DivideRoundingUp(byteCount, pageSize), 1)
}
