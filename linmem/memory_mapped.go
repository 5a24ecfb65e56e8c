//go:build unix

package linmem

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// NewMappedHostMemory creates a HostMemory whose address space is reserved with an anonymous mapping
// of MaxPages pages that is inaccessible until grown into. Growing the memory makes the new pages
// readable and writable, so stray accesses past the end of the grown memory fault instead of silently
// reading zeroes. Close must be called to release the mapping.
func NewMappedHostMemory(options CreateOptions) (*HostMemory, error) {
	maxPages := options.maxPages()
	if options.ReservedPages > maxPages {
		return nil, cerrors.Newf("ReservedPages (%d) cannot exceed MaxPages (%d)", options.ReservedPages, maxPages)
	}

	buffer, err := unix.Mmap(-1, 0, int(uintptr(maxPages)*PageSize), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, cerrors.Wrapf(err, "failed to reserve %d pages of linear memory", maxPages)
	}

	memory := &HostMemory{
		buffer:        buffer,
		pages:         0,
		reservedPages: options.ReservedPages,
		maxPages:      maxPages,
		commit: func(region []byte) error {
			return unix.Mprotect(region, unix.PROT_READ|unix.PROT_WRITE)
		},
		release: func(used []byte) error {
			return unix.Mprotect(used, unix.PROT_NONE)
		},
		unmap: func() error {
			return unix.Munmap(buffer)
		},
	}

	if memory.Grow(options.ReservedPages) == GrowFailed {
		_ = unix.Munmap(buffer)
		return nil, cerrors.Newf("failed to commit %d reserved pages of linear memory", options.ReservedPages)
	}

	return memory, nil
}
