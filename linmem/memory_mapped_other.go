//go:build !unix

package linmem

// NewMappedHostMemory falls back to NewHostMemory on platforms without mmap
func NewMappedHostMemory(options CreateOptions) (*HostMemory, error) {
	return NewHostMemory(options)
}
