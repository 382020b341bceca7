package attr

import (
	"testing"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeDiv(t *testing.T) {
	backend := device.NewCPUBackend()
	num := backend.NewTensor(device.Shape{3}, []float64{2, 4, 6})
	def := backend.NewTensor(device.Shape{}, []float64{1})

	t.Run("scalar quotient", func(t *testing.T) {
		got := SafeDiv(num, 2, def)
		assert.Equal(t, []float64{1, 2, 3}, got.Data())
		assert.Same(t, def, SafeDiv(num, 0, def))
	})

	t.Run("tensor quotient", func(t *testing.T) {
		q := backend.NewTensor(device.Shape{3}, []float64{2, 0, 3})
		got, err := SafeDivTensor(num, q, def)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 4, 2}, got.Data())
	})

	t.Run("per-element default", func(t *testing.T) {
		q := backend.NewTensor(device.Shape{3}, []float64{0, 0, 0})
		d := backend.NewTensor(device.Shape{3}, []float64{1, 2, 3})
		got, err := SafeDivTensor(num, q, d)
		require.NoError(t, err)
		assert.Equal(t, []float64{2, 2, 2}, got.Data())
	})

	t.Run("shape mismatch", func(t *testing.T) {
		q := backend.NewTensor(device.Shape{2}, []float64{1, 1})
		_, err := SafeDivTensor(num, q, def)
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})
}
