package device

import (
	"fmt"
	"math"
)

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that no dimension is negative and that the element
// count fits in an int.
func (s Shape) Validate() error {
	n := 1
	for i, dim := range s {
		if dim < 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be >= 0)", i, dim)
		}
		if dim != 0 && n > math.MaxInt/dim {
			return fmt.Errorf("shape %v overflows the element count at index %d", []int(s), i)
		}
		n *= dim
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// Strides calculates row-major strides: stride[i] = product of all
// dimensions after i.
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}
	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// NormalizeIndex resolves a possibly negative index on the given axis.
// ok is false when the index falls outside the axis.
func (s Shape) NormalizeIndex(axis, idx int) (int, bool) {
	if axis < 0 || axis >= len(s) {
		return 0, false
	}
	if idx < 0 {
		idx += s[axis]
	}
	if idx < 0 || idx >= s[axis] {
		return 0, false
	}
	return idx, true
}

func (s Shape) String() string {
	return fmt.Sprintf("%v", []int(s))
}
