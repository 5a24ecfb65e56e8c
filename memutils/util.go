package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uintptr
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two. The result
// wraps around on overflow; callers that care compare it against value.
func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// DivideRoundingUp returns the number of increment-sized units needed to hold value
func DivideRoundingUp[T Number](value T, increment T) T {
	return value/increment + min(value%increment, 1)
}
