package heapcheck

import "github.com/pkg/errors"

// ErrUnknownBlock is returned when a block is released or resized that is not live: it was never handed
// out by the checked allocator, or it was already released
var ErrUnknownBlock error = errors.New("block is not a live allocation")

// ErrLayoutMismatch is returned when a block is released or resized with a Layout other than the one it
// was allocated with
var ErrLayoutMismatch error = errors.New("block layout does not match the layout it was allocated with")

// ErrCorruption is returned when the bytes just past the end of a block were overwritten. It can only
// be detected when heapkit is built with the debug_heap tag.
var ErrCorruption error = errors.New("memory past the end of a block was overwritten")

// ErrMisaligned is returned when the wrapped allocator hands out a block that does not satisfy the
// requested alignment
var ErrMisaligned error = errors.New("allocator returned a misaligned block")

// ErrAliased is returned when the wrapped allocator hands out a block that overlaps a live block
var ErrAliased error = errors.New("allocator returned a block that overlaps a live block")
