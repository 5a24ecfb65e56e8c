//go:build debug_init_allocs

package heapcheck

// InitializeAllocs causes every block handed out by a CheckedAllocator to be filled with
// CreatedFillPattern, and every released block with DestroyedFillPattern. If you suspect that reading
// uninitialized or released memory is causing a bug, activate this with the debug_init_allocs build tag.
const InitializeAllocs bool = true
