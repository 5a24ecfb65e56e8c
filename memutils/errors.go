package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrUnsupportedAlignment is returned when an allocation asks for an alignment above the ceiling
// supported by the allocator that received it. The allocator's state is never changed by such a request.
var ErrUnsupportedAlignment error = errors.New("requested alignment is not supported by this allocator")

// ErrOutOfMemory is returned when a request could not be satisfied from free space and the linear memory
// refused to grow, or when the request is so large that the address arithmetic would overflow.
var ErrOutOfMemory error = errors.New("linear memory could not be grown to satisfy the request")
