package attr

import (
	"testing"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestValidateInput(t *testing.T) {
	backend := device.NewCPUBackend()
	input := backend.NewTensor(device.Shape{4, 3}, nil)

	tests := []struct {
		name     string
		baseline Baseline
		draw     bool
		wantErr  error
	}{
		{"scalar", ScalarBaseline(1), false, nil},
		{"scalar from distribution", ScalarBaseline(1), true, nil},
		{"0-d tensor", TensorBaseline{backend.NewTensor(device.Shape{}, []float64{0})}, false, nil},
		{"same shape", TensorBaseline{backend.NewTensor(device.Shape{4, 3}, nil)}, false, nil},
		{"single row", TensorBaseline{backend.NewTensor(device.Shape{1, 3}, nil)}, false, nil},
		{"other batch", TensorBaseline{backend.NewTensor(device.Shape{2, 3}, nil)}, false, ErrShapeMismatch},
		{"pool", TensorBaseline{backend.NewTensor(device.Shape{10, 3}, nil)}, true, nil},
		{"pool with wrong features", TensorBaseline{backend.NewTensor(device.Shape{10, 2}, nil)}, true, ErrShapeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInput(Inputs{input}, Baselines{tt.baseline}, tt.draw)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	t.Run("length mismatch", func(t *testing.T) {
		err := ValidateInput(Inputs{input, input}, Baselines{ScalarBaseline(0)}, false)
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})
}

func TestValidateTarget(t *testing.T) {
	backend := device.NewCPUBackend()

	assert.NoError(t, ValidateTarget(3, nil))
	assert.NoError(t, ValidateTarget(3, Index(1)))
	assert.NoError(t, ValidateTarget(3, MultiIndex{1, 2}))
	assert.NoError(t, ValidateTarget(3, IndexList{0, 1, 2}))
	assert.ErrorIs(t, ValidateTarget(3, IndexList{0, 1}), ErrLengthMismatch)
	assert.ErrorIs(t, ValidateTarget(1, MultiIndexList{{0}, {1}}), ErrLengthMismatch)

	single := TensorTarget{backend.NewIntTensor(device.Shape{1}, []int{4})}
	assert.NoError(t, ValidateTarget(3, single))

	perExample := TensorTarget{backend.NewIntTensor(device.Shape{3}, []int{0, 1, 2})}
	assert.NoError(t, ValidateTarget(3, perExample))
	assert.ErrorIs(t, ValidateTarget(2, perExample), ErrLengthMismatch)
}
