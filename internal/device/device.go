package device

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Kind identifies the class of hardware a tensor is resident on.
type Kind int

const (
	KindCPU Kind = iota
	KindCUDA
	KindMetal
)

func (k Kind) String() string {
	switch k {
	case KindCPU:
		return "cpu"
	case KindCUDA:
		return "cuda"
	case KindMetal:
		return "mps"
	default:
		return "unknown"
	}
}

// Device is the placement token carried by every tensor.
type Device struct {
	Kind  Kind
	Index int
}

// CPU returns the host device.
func CPU() Device {
	return Device{Kind: KindCPU}
}

// String renders the device the way users write it on the command line,
// e.g. "cpu" or "cuda:1".
func (d Device) String() string {
	if d.Kind == KindCPU {
		return d.Kind.String()
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}

// DType tags the element type of a tensor. Storage is always float64;
// Int64 tensors hold integral values and are the only valid index tensors.
type DType int

const (
	Float64 DType = iota
	Int64
)

func (d DType) String() string {
	if d == Int64 {
		return "int64"
	}
	return "float64"
}

// Tensor represents a row-major n-dimensional array. The first axis is the
// batch axis.
type Tensor interface {
	// Shape returns the dimensions of the tensor. Rank 0 is a scalar.
	Shape() Shape

	DType() DType

	// Device returns where the tensor is resident.
	Device() Device

	// Backend returns the backend that allocated the tensor.
	Backend() Backend

	// Numel returns the number of elements.
	Numel() int

	// Data returns the underlying contiguous slice.
	Data() []float64

	// ToHost copies the data to a fresh Go slice.
	ToHost() []float64

	// At returns the element at the given full index.
	// It panics if the index is out of bounds.
	At(idx ...int) float64

	// Item returns the only element of a single-element tensor.
	Item() float64

	// Operations. All return new tensors and panic on invalid indices;
	// callers validate user supplied indices first.

	// Gather collects rows along axis 0.
	Gather(indices []int) Tensor

	// GatherColumns picks cols[i] from row i of a 2-D tensor,
	// returning a 1-D tensor with one value per row.
	GatherColumns(cols []int) Tensor

	// Select returns t[:, idx...], keeping the batch axis.
	Select(idx ...int) Tensor

	// Index returns t[idx...].
	Index(idx ...int) Tensor

	// Matrix returns a gonum view sharing the storage of a 2-D tensor.
	Matrix() *mat.Dense
}

// Backend creates tensors and manages device memory.
type Backend interface {
	Name() string
	Device() Device
	NewTensor(shape Shape, data []float64) Tensor

	// NewIntTensor creates an Int64 tensor, typically an index tensor.
	NewIntTensor(shape Shape, data []int) Tensor

	// GetTensor gets a zeroed tensor from the pool or creates a new one.
	GetTensor(shape Shape) Tensor

	// PutTensor returns a tensor to the pool.
	PutTensor(t Tensor)

	// Stack joins equally shaped tensors along a new leading axis.
	Stack(ts []Tensor) Tensor

	// Synchronize blocks until all queued operations are complete.
	Synchronize()
}

// Ints returns the elements of t truncated to ints.
func Ints(t Tensor) []int {
	data := t.Data()
	out := make([]int, len(data))
	for i, v := range data {
		out[i] = int(v)
	}
	return out
}
