package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCPUBackend_TensorOps(t *testing.T) {
	backend := NewCPUBackend()

	// 2 x 2 x 3
	x := backend.NewTensor(Shape{2, 2, 3}, []float64{
		0, 1, 2,
		3, 4, 5,

		6, 7, 8,
		9, 10, 11,
	})

	t.Run("At", func(t *testing.T) {
		if v := x.At(1, 0, 2); v != 8 {
			t.Errorf("At mismatch: got %f, want 8", v)
		}
		assert.Panics(t, func() { x.At(2, 0, 0) })
		assert.Panics(t, func() { x.At(0, 0) })
	})

	t.Run("Gather", func(t *testing.T) {
		g := x.Gather([]int{1, 1, 0})
		assert.Equal(t, Shape{3, 2, 3}, g.Shape())
		assert.Equal(t, []float64{
			6, 7, 8, 9, 10, 11,
			6, 7, 8, 9, 10, 11,
			0, 1, 2, 3, 4, 5,
		}, g.Data())
		assert.Panics(t, func() { x.Gather([]int{2}) })
	})

	t.Run("Select", func(t *testing.T) {
		s := x.Select(1, 2)
		assert.Equal(t, Shape{2}, s.Shape())
		assert.Equal(t, []float64{5, 11}, s.Data())

		row := x.Select(0)
		assert.Equal(t, Shape{2, 3}, row.Shape())
		assert.Equal(t, []float64{0, 1, 2, 6, 7, 8}, row.Data())

		assert.Panics(t, func() { x.Select(0, 0, 0) })
	})

	t.Run("Index", func(t *testing.T) {
		s := x.Index(1, 0)
		assert.Equal(t, Shape{3}, s.Shape())
		assert.Equal(t, []float64{6, 7, 8}, s.Data())

		scalar := x.Index(0, 1, 1)
		assert.Equal(t, 0, len(scalar.Shape()))
		assert.Equal(t, 4.0, scalar.Item())
	})

	t.Run("GatherColumns", func(t *testing.T) {
		m := backend.NewTensor(Shape{3, 2}, []float64{1, 2, 3, 4, 5, 6})
		g := m.GatherColumns([]int{1, 0, 1})
		assert.Equal(t, Shape{3}, g.Shape())
		assert.Equal(t, []float64{2, 3, 6}, g.Data())
		assert.Panics(t, func() { m.GatherColumns([]int{0}) })
		assert.Panics(t, func() { x.GatherColumns([]int{0, 0}) })
	})

	t.Run("Stack", func(t *testing.T) {
		a := backend.NewTensor(Shape{2}, []float64{1, 2})
		b := backend.NewTensor(Shape{2}, []float64{3, 4})
		s := backend.Stack([]Tensor{a, b})
		assert.Equal(t, Shape{2, 2}, s.Shape())
		assert.Equal(t, []float64{1, 2, 3, 4}, s.Data())
		assert.Panics(t, func() { backend.Stack([]Tensor{a, x}) })
	})

	t.Run("Matrix shares storage", func(t *testing.T) {
		m := backend.NewTensor(Shape{2, 2}, []float64{1, 2, 3, 4})
		m.Matrix().Set(0, 1, 42)
		assert.Equal(t, 42.0, m.At(0, 1))
	})

	t.Run("IntTensor", func(t *testing.T) {
		idx := backend.NewIntTensor(Shape{3}, []int{2, 0, 1})
		assert.Equal(t, Int64, idx.DType())
		assert.Equal(t, []int{2, 0, 1}, Ints(idx))
		assert.Equal(t, Int64, idx.Gather([]int{0}).DType())
	})

	t.Run("NewTensor length mismatch", func(t *testing.T) {
		assert.Panics(t, func() { backend.NewTensor(Shape{2, 2}, []float64{1}) })
	})
}

func TestShape(t *testing.T) {
	s := Shape{2, 3, 4}
	assert.Equal(t, 24, s.NumElements())
	assert.Equal(t, []int{12, 4, 1}, s.Strides())
	assert.Equal(t, 1, Shape{}.NumElements())
	assert.True(t, s.Equal(s.Clone()))
	assert.False(t, s.Equal(Shape{2, 3}))
	assert.Error(t, Shape{2, -1}.Validate())
	assert.Error(t, Shape{1 << 62, 4}.Validate())
	assert.Error(t, Shape{1 << 32, 1 << 32}.Validate())
	assert.NoError(t, Shape{1 << 62, 0}.Validate())
	assert.NoError(t, Shape{}.Validate())

	idx, ok := s.NormalizeIndex(1, -1)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
	_, ok = s.NormalizeIndex(2, 4)
	assert.False(t, ok)
	_, ok = s.NormalizeIndex(3, 0)
	assert.False(t, ok)
}

func TestDeviceString(t *testing.T) {
	assert.Equal(t, "cpu", CPU().String())
	assert.Equal(t, "cuda:1", Device{Kind: KindCUDA, Index: 1}.String())
	assert.Equal(t, "mps:0", Device{Kind: KindMetal}.String())
	assert.Equal(t, CPU(), NewCPUBackend().NewTensor(Shape{1}, nil).Device())
}

func TestEqual(t *testing.T) {
	b := NewCPUBackend()
	a := b.NewTensor(Shape{2}, []float64{1, 2})
	assert.True(t, Equal(a, b.NewTensor(Shape{2}, []float64{1, 2})))
	assert.False(t, Equal(a, b.NewTensor(Shape{1, 2}, []float64{1, 2})))
	assert.False(t, Equal(a, b.NewTensor(Shape{2}, []float64{1, 3})))
}
