package device

import (
	"log"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)
var _ Tensor = (*CPUTensor)(nil)

type CPUBackend struct {
	pool sync.Pool
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

func (b *CPUBackend) Device() Device {
	return CPU()
}

func (b *CPUBackend) NewTensor(shape Shape, data []float64) Tensor {
	return b.newTensor(shape, Float64, data)
}

func (b *CPUBackend) NewIntTensor(shape Shape, data []int) Tensor {
	var vals []float64
	if data != nil {
		vals = make([]float64, len(data))
		for i, v := range data {
			vals[i] = float64(v)
		}
	}
	return b.newTensor(shape, Int64, vals)
}

func (b *CPUBackend) newTensor(shape Shape, dtype DType, data []float64) *CPUTensor {
	if err := shape.Validate(); err != nil {
		log.Panicf("NewTensor: %v", err)
	}
	size := shape.NumElements()
	t := &CPUTensor{
		backend: b,
		shape:   shape.Clone(),
		dtype:   dtype,
		data:    make([]float64, size),
	}
	if data != nil {
		if len(data) != size {
			log.Panicf("NewTensor: provided data length %d does not match shape %v", len(data), shape)
		}
		copy(t.data, data)
	}
	return t
}

func (b *CPUBackend) GetTensor(shape Shape) Tensor {
	size := shape.NumElements()

	ct, _ := b.pool.Get().(*CPUTensor)
	if ct == nil || cap(ct.data) < size {
		poolMisses.Inc()
		return b.newTensor(shape, Float64, nil)
	}
	poolHits.Inc()

	ct.backend = b
	ct.shape = shape.Clone()
	ct.dtype = Float64
	ct.data = ct.data[:size]
	for i := range ct.data {
		ct.data[i] = 0
	}
	return ct
}

func (b *CPUBackend) PutTensor(t Tensor) {
	ct, ok := t.(*CPUTensor)
	if !ok || ct.backend != b {
		return // Don't pool foreign tensors
	}
	ct.shape = nil
	// Data is zeroed when retrieved by GetTensor
	b.pool.Put(ct)
}

func (b *CPUBackend) Stack(ts []Tensor) Tensor {
	if len(ts) == 0 {
		log.Panic("Stack: no tensors")
	}
	inner := ts[0].Shape()
	out := b.GetTensor(append(Shape{len(ts)}, inner...)).(*CPUTensor)
	size := inner.NumElements()
	for i, t := range ts {
		if !t.Shape().Equal(inner) {
			log.Panicf("Stack: shape mismatch at %d. Expected %v, got %v", i, inner, t.Shape())
		}
		copy(out.data[i*size:(i+1)*size], t.Data())
	}
	out.dtype = ts[0].DType()
	return out
}

func (b *CPUBackend) Synchronize() {
	// CPU is always synchronous
}

type CPUTensor struct {
	backend *CPUBackend
	data    []float64
	shape   Shape
	dtype   DType
}

func (t *CPUTensor) Shape() Shape {
	return t.shape
}

func (t *CPUTensor) DType() DType {
	return t.dtype
}

func (t *CPUTensor) Device() Device {
	return t.backend.Device()
}

func (t *CPUTensor) Backend() Backend {
	return t.backend
}

func (t *CPUTensor) Numel() int {
	return len(t.data)
}

func (t *CPUTensor) Data() []float64 {
	return t.data
}

func (t *CPUTensor) ToHost() []float64 {
	out := make([]float64, len(t.data))
	copy(out, t.data)
	return out
}

func (t *CPUTensor) offset(idx []int) int {
	if len(idx) > len(t.shape) {
		log.Panicf("index %v has more entries than tensor rank %d", idx, len(t.shape))
	}
	strides := t.shape.Strides()
	off := 0
	for axis, i := range idx {
		if i < 0 || i >= t.shape[axis] {
			log.Panicf("index %d out of bounds for axis %d with size %d", i, axis, t.shape[axis])
		}
		off += i * strides[axis]
	}
	return off
}

func (t *CPUTensor) At(idx ...int) float64 {
	if len(idx) != len(t.shape) {
		log.Panicf("At: expected %d indices, got %d", len(t.shape), len(idx))
	}
	return t.data[t.offset(idx)]
}

func (t *CPUTensor) Item() float64 {
	if len(t.data) != 1 {
		log.Panicf("Item: tensor with shape %v has %d elements", t.shape, len(t.data))
	}
	return t.data[0]
}

func (t *CPUTensor) Gather(indices []int) Tensor {
	if len(t.shape) == 0 {
		panic("Gather on a 0-d tensor")
	}
	rows := t.shape[0]
	rowSize := t.shape[1:].NumElements()

	outShape := append(Shape{len(indices)}, t.shape[1:]...)
	out := t.backend.GetTensor(outShape).(*CPUTensor)
	out.dtype = t.dtype
	for i, idx := range indices {
		if idx < 0 || idx >= rows {
			panic("Gather index out of bounds")
		}
		copy(out.data[i*rowSize:(i+1)*rowSize], t.data[idx*rowSize:(idx+1)*rowSize])
	}
	return out
}

func (t *CPUTensor) GatherColumns(cols []int) Tensor {
	if len(t.shape) != 2 {
		log.Panicf("GatherColumns: expected a 2-D tensor, got shape %v", t.shape)
	}
	rows, c := t.shape[0], t.shape[1]
	if len(cols) != rows {
		log.Panicf("GatherColumns: %d columns for %d rows", len(cols), rows)
	}

	out := t.backend.GetTensor(Shape{rows}).(*CPUTensor)
	out.dtype = t.dtype
	if rows == 0 {
		return out
	}
	if c == 0 {
		panic("GatherColumns index out of bounds")
	}
	m := t.Matrix()
	for i, col := range cols {
		if col < 0 || col >= c {
			panic("GatherColumns index out of bounds")
		}
		out.data[i] = m.At(i, col)
	}
	return out
}

func (t *CPUTensor) Select(idx ...int) Tensor {
	if len(t.shape) == 0 || len(idx) > len(t.shape)-1 {
		log.Panicf("Select: cannot apply %d indices below the batch axis of shape %v", len(idx), t.shape)
	}
	batch := t.shape[0]
	inner := t.shape[1:]
	rowSize := inner.NumElements()
	blockShape := inner[len(idx):]
	blockSize := blockShape.NumElements()

	// Offsets inside one row are identical for every example.
	sub := &CPUTensor{shape: inner}
	within := sub.offset(idx)

	out := t.backend.GetTensor(append(Shape{batch}, blockShape...)).(*CPUTensor)
	out.dtype = t.dtype
	for b := 0; b < batch; b++ {
		src := b*rowSize + within
		copy(out.data[b*blockSize:(b+1)*blockSize], t.data[src:src+blockSize])
	}
	return out
}

func (t *CPUTensor) Index(idx ...int) Tensor {
	off := t.offset(idx)
	blockShape := t.shape[len(idx):]
	size := blockShape.NumElements()

	out := t.backend.GetTensor(blockShape).(*CPUTensor)
	out.dtype = t.dtype
	copy(out.data, t.data[off:off+size])
	return out
}

func (t *CPUTensor) Matrix() *mat.Dense {
	if len(t.shape) != 2 {
		log.Panicf("Matrix: expected a 2-D tensor, got shape %v", t.shape)
	}
	return mat.NewDense(t.shape[0], t.shape[1], t.data)
}

// Equal reports whether a and b have the same shape and elements.
func Equal(a, b Tensor) bool {
	return a.Shape().Equal(b.Shape()) && floats.Equal(a.Data(), b.Data())
}
