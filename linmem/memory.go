//go:generate mockgen -source=memory.go -destination=mocks/memory.go

// Package linmem describes the page-granular linear memory that heapkit allocators carve blocks out of,
// and provides a host-side implementation of it.
//
// A linear memory is a single address space that starts at address 0 and can only grow, by whole pages,
// at its end. This mirrors WebAssembly linear memory: the only primitive an allocator gets is
// "grow by N pages", which reports the previous size of the memory in pages, or GrowFailed.
//
// HostMemory reserves its maximum size up front so that the bytes backing it never move while it grows.
// Allocators hold addresses rather than Go pointers, but they do reinterpret the bytes at those addresses
// and rely on the backing storage staying put between calls.
package linmem

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/heapkit/memutils"
)

const (
	// PageSize is the size in bytes of a linear memory page (64KiB)
	PageSize uintptr = 65536

	// GrowFailed is the value returned from PageGrower.Grow when the memory could not be grown
	GrowFailed = ^uint(0)

	// DefaultMaxPages is the maximum page count used when CreateOptions.MaxPages is left at 0. It is
	// equal to 128MiB.
	DefaultMaxPages uint = 2048
)

// PageGrower is the page-growth primitive consumed by every allocator.
type PageGrower interface {
	// Grow extends the memory by deltaPages whole pages and returns the page count before the call, so that
	// the first byte of the newly granted region is at address previous*PageSize. It returns GrowFailed,
	// and leaves the memory untouched, if the memory cannot grow that far. Growing by 0 pages returns the
	// current page count.
	Grow(deltaPages uint) uint
}

// Memory is a growable linear address space
type Memory interface {
	PageGrower

	// Pages returns the current size of the memory in pages
	Pages() uint
	// Bytes returns the current contents of the memory, Pages()*PageSize bytes long. Index i of the
	// returned slice is address i. The slice is only valid until the next call to Grow, but the storage
	// behind it never moves, so a later call to Bytes returns a slice over the same storage.
	Bytes() []byte
}

// CreateOptions contains optional settings when creating a HostMemory
type CreateOptions struct {
	// ReservedPages is the number of pages the memory starts out with. They model the static data a
	// module places at the bottom of its linear memory. Allocators never see these pages; they only
	// receive pages returned from Grow.
	ReservedPages uint
	// MaxPages is the size in pages that the memory may never grow past. If it is left at 0, DefaultMaxPages
	// is used.
	MaxPages uint
}

func (o CreateOptions) maxPages() uint {
	if o.MaxPages == 0 {
		return DefaultMaxPages
	}

	return o.MaxPages
}

// HostMemory is a linear memory that lives in the host process. It is used for tests, for the heapstress
// tool, and anywhere else heapkit allocators run outside a WebAssembly guest.
type HostMemory struct {
	buffer        []byte
	pages         uint
	reservedPages uint
	maxPages      uint

	// commit is called with the bytes of every newly granted region before Grow returns
	commit  func(region []byte) error
	release func(used []byte) error
	unmap   func() error
}

var _ Memory = &HostMemory{}

// NewHostMemory creates a HostMemory backed by a Go byte slice. The full MaxPages are allocated
// immediately; the runtime hands zeroed pages to the process lazily, so large unused reservations are cheap.
func NewHostMemory(options CreateOptions) (*HostMemory, error) {
	maxPages := options.maxPages()
	if options.ReservedPages > maxPages {
		return nil, cerrors.Newf("ReservedPages (%d) cannot exceed MaxPages (%d)", options.ReservedPages, maxPages)
	}

	return &HostMemory{
		buffer:        make([]byte, uintptr(maxPages)*PageSize),
		pages:         options.ReservedPages,
		reservedPages: options.ReservedPages,
		maxPages:      maxPages,
	}, nil
}

func (m *HostMemory) Grow(deltaPages uint) uint {
	previous := m.pages
	if deltaPages > m.maxPages-m.pages {
		return GrowFailed
	}

	if deltaPages == 0 {
		return previous
	}

	if m.commit != nil {
		region := m.buffer[uintptr(previous)*PageSize : uintptr(previous+deltaPages)*PageSize]
		if err := m.commit(region); err != nil {
			return GrowFailed
		}
	}

	m.pages += deltaPages
	return previous
}

func (m *HostMemory) Pages() uint {
	return m.pages
}

func (m *HostMemory) MaxPages() uint {
	return m.maxPages
}

func (m *HostMemory) Bytes() []byte {
	size := uintptr(m.pages) * PageSize
	return m.buffer[:size:size]
}

// Reset zeroes every page above the reserved pages and shrinks the memory back to ReservedPages. It
// exists so tests and benchmarks can reuse one memory across iterations: any allocator that was using the
// memory must be discarded, and calling Reset while blocks handed out from this memory are still in use
// is undefined behavior.
func (m *HostMemory) Reset() error {
	reservedSize := uintptr(m.reservedPages) * PageSize
	used := m.buffer[reservedSize : uintptr(m.pages)*PageSize]
	clear(used)

	if m.release != nil && len(used) > 0 {
		if err := m.release(used); err != nil {
			return err
		}
	}

	m.pages = m.reservedPages
	return nil
}

// Close returns the memory's storage to the operating system, if it came from there. The memory must
// not be used afterward.
func (m *HostMemory) Close() error {
	if m.unmap == nil {
		m.buffer = nil
		return nil
	}

	err := m.unmap()
	m.buffer = nil
	return err
}

// Address returns the address of the first byte of the page at pageIndex
func Address(pageIndex uint) uintptr {
	return uintptr(pageIndex) * PageSize
}

// PagesFor returns the number of pages needed to hold byteCount bytes, and never less than one
func PagesFor(byteCount uintptr) uint {
	return uint(memutils.PagesFor(byteCount, PageSize))
}
