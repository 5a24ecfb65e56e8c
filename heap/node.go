package heap

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/heapkit/memutils"
)

// endOfList terminates every free chain. Address 0 can be a real block when the linear memory
// reserves no pages, so it cannot double as the terminator.
const endOfList = ^uintptr(0)

// freeNode is the bookkeeping written into the first bytes of a free block. The bin chains of
// SegregatedBumpAllocator only use next; the block size is implied by the bin.
type freeNode struct {
	next uintptr
	size uintptr
}

const nodeSize = unsafe.Sizeof(freeNode{})

// A free node must fit in the smallest block
const _ = uint(memutils.MinBlockSize - nodeSize)

// nodeAt reinterprets the bytes at addr as a free node. memory must be the current contents of
// the linear memory, and addr must be the start of a block that the caller's allocator currently
// considers free (or is about to release), so it is MaxAlign-aligned and at least MinBlockSize long.
// Slicing memory panics if addr is out of range rather than reading outside the linear memory.
//
// The returned node is only valid until the block is handed to a caller and must not be retained
// across calls into the linear memory.
func nodeAt(memory []byte, addr uintptr) *freeNode {
	return (*freeNode)(unsafe.Pointer(unsafe.SliceData(memory[addr : addr+nodeSize])))
}

func unsupportedAlignment(layout Layout) error {
	return cerrors.Wrapf(memutils.ErrUnsupportedAlignment, "requested alignment %d exceeds the maximum of %d", layout.Align, memutils.MaxAlign)
}

func requestTooLarge(size uintptr) error {
	return cerrors.Wrapf(memutils.ErrOutOfMemory, "requested size %d exceeds the maximum of %d", size, memutils.MaxRequestSize)
}

// moveBlock is the Realloc fallback shared by every allocator: allocate a block for the new size,
// copy what fits, then release the old block. The old block is untouched if allocation fails.
func moveBlock(a Allocator, memory interface{ Bytes() []byte }, ptr uintptr, layout Layout, newSize uintptr) (uintptr, error) {
	newPtr, err := a.Alloc(Layout{Size: newSize, Align: layout.Align})
	if err != nil {
		return 0, err
	}

	// Alloc may have grown the memory, so fetch a fresh view
	data := memory.Bytes()
	copySize := min(layout.Size, newSize)
	copy(data[newPtr:newPtr+copySize], data[ptr:ptr+copySize])

	a.Dealloc(ptr, layout)
	return newPtr, nil
}
