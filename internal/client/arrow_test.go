package client

import (
	"bytes"
	"testing"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRecordBatch(t *testing.T) {
	pool := memory.NewGoAllocator()
	builder := NewRecordBatchBuilder(pool)
	backend := device.NewCPUBackend()

	t.Run("Scalar input", func(t *testing.T) {
		_, err := builder.BuildRecordBatch(backend.NewTensor(device.Shape{}, []float64{1}))
		assert.Error(t, err)
	})

	t.Run("Valid input", func(t *testing.T) {
		x := backend.NewTensor(device.Shape{2, 3}, []float64{1, 2, 3, 4, 5, 6})

		rb, err := builder.BuildRecordBatch(x)
		require.NoError(t, err)
		defer rb.Release()

		assert.Equal(t, int64(2), rb.NumRows())
		assert.Equal(t, int64(1), rb.NumCols())
		assert.Equal(t, RowColumn, rb.ColumnName(0))

		listArr := rb.Column(0).(*array.FixedSizeList)
		assert.Equal(t, 2, listArr.Len())

		values := listArr.ListValues().(*array.Float64)
		assert.Equal(t, 6, values.Len())
		assert.Equal(t, 1.0, values.Value(0))
		assert.Equal(t, 6.0, values.Value(5))

		// The record owns its data.
		x.Data()[0] = 100
		assert.Equal(t, 1.0, values.Value(0))
	})

	t.Run("Round trip keeps row shape", func(t *testing.T) {
		x := backend.NewTensor(device.Shape{2, 2, 2}, []float64{1, 2, 3, 4, 5, 6, 7, 8})
		rb, err := builder.BuildRecordBatch(x)
		require.NoError(t, err)
		defer rb.Release()

		got, err := builder.ReadTensor(rb, backend)
		require.NoError(t, err)
		assert.Equal(t, device.Shape{2, 2, 2}, got.Shape())
		assert.Equal(t, x.Data(), got.Data())
	})
}

func TestReadTensorsSlicedAndConcatenated(t *testing.T) {
	builder := NewRecordBatchBuilder(memory.NewGoAllocator())
	backend := device.NewCPUBackend()

	a, err := builder.BuildRecordBatch(backend.NewTensor(device.Shape{3, 2}, []float64{1, 2, 3, 4, 5, 6}))
	require.NoError(t, err)
	defer a.Release()
	b, err := builder.BuildRecordBatch(backend.NewTensor(device.Shape{1, 2}, []float64{7, 8}))
	require.NoError(t, err)
	defer b.Release()

	sliced := a.NewSlice(1, 3)
	defer sliced.Release()

	got, err := builder.ReadTensors([]arrow.RecordBatch{sliced, b}, backend)
	require.NoError(t, err)
	assert.Equal(t, device.Shape{3, 2}, got.Shape())
	assert.Equal(t, []float64{3, 4, 5, 6, 7, 8}, got.Data())

	c, err := builder.BuildRecordBatch(backend.NewTensor(device.Shape{1, 3}, []float64{1, 2, 3}))
	require.NoError(t, err)
	defer c.Release()
	_, err = builder.ReadTensors([]arrow.RecordBatch{a, c}, backend)
	assert.Error(t, err)
}

func TestReadTensorWithoutMetadata(t *testing.T) {
	mem := memory.NewGoAllocator()
	builder := NewRecordBatchBuilder(mem)

	lb := array.NewFixedSizeListBuilder(mem, 2, arrow.PrimitiveTypes.Float64)
	defer lb.Release()
	vb := lb.ValueBuilder().(*array.Float64Builder)
	lb.Append(true)
	vb.AppendValues([]float64{1, 2}, nil)
	arr := lb.NewArray()
	defer arr.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "embedding", Type: arr.DataType()}}, nil)
	rec := array.NewRecordBatch(schema, []arrow.Array{arr}, 1)
	defer rec.Release()

	got, err := builder.ReadTensor(rec, device.NewCPUBackend())
	require.NoError(t, err)
	assert.Equal(t, device.Shape{1, 2}, got.Shape())
}

// rowsWithShape builds a single-row record of the given width whose schema
// carries raw as the recorded row shape.
func rowsWithShape(t *testing.T, mem memory.Allocator, width int, raw string) arrow.RecordBatch {
	t.Helper()
	lb := array.NewFixedSizeListBuilder(mem, int32(width), arrow.PrimitiveTypes.Float64)
	defer lb.Release()
	vb := lb.ValueBuilder().(*array.Float64Builder)
	lb.Append(true)
	for i := 0; i < width; i++ {
		vb.Append(float64(i))
	}
	arr := lb.NewArray()
	defer arr.Release()

	md := arrow.NewMetadata([]string{shapeKey}, []string{raw})
	schema := arrow.NewSchema([]arrow.Field{{Name: RowColumn, Type: arr.DataType()}}, &md)
	return array.NewRecordBatch(schema, []arrow.Array{arr}, 1)
}

func TestReadTensorRejectsBadRowShape(t *testing.T) {
	mem := memory.NewGoAllocator()
	builder := NewRecordBatchBuilder(mem)
	backend := device.NewCPUBackend()

	for name, raw := range map[string]string{
		"negative dims":    "-1,-3",
		"scalar on wide":   "",
		"not a number":     "3,x",
		"width mismatch":   "2,2",
		"overflowing dims": "4611686018427387904,4",
	} {
		t.Run(name, func(t *testing.T) {
			rec := rowsWithShape(t, mem, 3, raw)
			defer rec.Release()
			_, err := builder.ReadTensor(rec, backend)
			assert.Error(t, err)
		})
	}

	t.Run("scalar rows", func(t *testing.T) {
		rec := rowsWithShape(t, mem, 1, "")
		defer rec.Release()
		got, err := builder.ReadTensor(rec, backend)
		require.NoError(t, err)
		assert.Equal(t, device.Shape{1}, got.Shape())
	})
}

func TestIPCRoundTrip(t *testing.T) {
	builder := NewRecordBatchBuilder(memory.NewGoAllocator())
	backend := device.NewCPUBackend()
	x := backend.NewTensor(device.Shape{2, 2}, []float64{1, 2, 3, 4})

	var buf bytes.Buffer
	require.NoError(t, builder.WriteIPC(&buf, x))

	got, err := builder.ReadIPC(&buf, backend)
	require.NoError(t, err)
	assert.Equal(t, x.Shape(), got.Shape())
	assert.Equal(t, x.Data(), got.Data())

	_, err = builder.ReadIPC(bytes.NewReader([]byte("not arrow")), backend)
	assert.Error(t, err)
}
