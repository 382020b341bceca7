package attr

import (
	"testing"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockModule struct {
	mock.Mock
}

func (m *mockModule) Parameters() []device.Tensor {
	args := m.Called()
	params, _ := args.Get(0).([]device.Tensor)
	return params
}

// placedTensor overrides the device of a CPU tensor.
type placedTensor struct {
	device.Tensor
	dev device.Device
}

func (p placedTensor) Device() device.Device {
	return p.dev
}

func TestExtractDevice(t *testing.T) {
	backend := device.NewCPUBackend()
	on := func(d device.Device) device.Tensor {
		return placedTensor{Tensor: backend.NewTensor(device.Shape{1}, nil), dev: d}
	}
	cuda0 := device.Device{Kind: device.KindCUDA, Index: 0}
	cuda1 := device.Device{Kind: device.KindCUDA, Index: 1}
	mps := device.Device{Kind: device.KindMetal}

	t.Run("hook inputs first", func(t *testing.T) {
		m := &mockModule{}
		m.On("Parameters").Return([]device.Tensor{on(mps)})

		d, err := ExtractDevice(m, Inputs{on(cuda1)}, Inputs{on(cuda0)})
		require.NoError(t, err)
		assert.Equal(t, cuda1, d)
	})

	t.Run("then hook outputs", func(t *testing.T) {
		m := &mockModule{}
		m.On("Parameters").Return([]device.Tensor{on(mps)})

		d, err := ExtractDevice(m, nil, Inputs{on(cuda0)})
		require.NoError(t, err)
		assert.Equal(t, cuda0, d)
	})

	t.Run("then parameters", func(t *testing.T) {
		m := &mockModule{}
		m.On("Parameters").Return([]device.Tensor{on(mps), on(cuda0)})

		d, err := ExtractDevice(m, Inputs{}, nil)
		require.NoError(t, err)
		assert.Equal(t, mps, d)
		m.AssertExpectations(t)
	})

	t.Run("nothing to infer from", func(t *testing.T) {
		m := &mockModule{}
		m.On("Parameters").Return(nil)

		_, err := ExtractDevice(m, nil, Inputs{})
		assert.ErrorIs(t, err, ErrNoDevice)

		_, err = ExtractDevice(nil, nil, nil)
		assert.ErrorIs(t, err, ErrNoDevice)
	})
}
