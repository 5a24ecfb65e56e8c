//go:build debug_heap

package memutils

import "encoding/binary"

const (
	// DebugMargin is the number of bytes of debug data that should be placed after allocations
	// handed out through heapkit's checked allocator
	DebugMargin uintptr = 16
	// corruptionDetectionMagicValue is a 4-byte pattern that should be copied into debug data placed after
	// allocations
	corruptionDetectionMagicValue uint32 = 0x7F84E666

	magicValueSize uintptr = 4
)

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes of data, starting at offset.
// This method no-ops unless the debug_heap build tag is present.
func WriteMagicValue(data []byte, offset uintptr) {
	dest := data[offset : offset+DebugMargin]
	for i := uintptr(0); i < DebugMargin; i += magicValueSize {
		binary.LittleEndian.PutUint32(dest[i:], corruptionDetectionMagicValue)
	}
}

// ValidateMagicValue verifies that the easy-to-identify marker written by WriteMagicValue is still present.
// It returns true if the value is still present and false otherwise.
// This method no-ops unless the debug_heap build tag is present.
func ValidateMagicValue(data []byte, offset uintptr) bool {
	source := data[offset : offset+DebugMargin]
	for i := uintptr(0); i < DebugMargin; i += magicValueSize {
		if binary.LittleEndian.Uint32(source[i:]) != corruptionDetectionMagicValue {
			return false
		}
	}

	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_heap build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_heap build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
