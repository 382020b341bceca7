package client

import (
	"io"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
)

const (
	// RowColumn holds one tensor row per record row.
	RowColumn = "row"
	// shapeKey records the trailing dimensions of each row.
	shapeKey = "quiver.row_shape"
)

// RecordBatchBuilder converts tensors to and from Arrow record batches. Axis
// 0 maps to record rows and every row is flattened into a fixed-size list.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// Schema returns the schema for rows of the given trailing shape.
func Schema(rowShape device.Shape) *arrow.Schema {
	width := rowShape.NumElements()
	dims := make([]string, len(rowShape))
	for i, d := range rowShape {
		dims[i] = strconv.Itoa(d)
	}
	md := arrow.NewMetadata([]string{shapeKey}, []string{strings.Join(dims, ",")})
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: RowColumn, Type: arrow.FixedSizeListOf(int32(width), arrow.PrimitiveTypes.Float64)},
		},
		&md,
	)
}

// BuildRecordBatch converts a tensor with at least one dimension into a
// RecordBatch. The record owns a copy of the tensor data.
func (b *RecordBatchBuilder) BuildRecordBatch(t device.Tensor) (arrow.RecordBatch, error) {
	shape := t.Shape()
	if len(shape) == 0 {
		return nil, errors.New("cannot encode a 0-d tensor as rows")
	}
	rowShape := shape[1:]
	width := rowShape.NumElements()
	if width == 0 {
		return nil, errors.Errorf("cannot encode rows of shape %v", rowShape)
	}
	numRows := shape[0]

	schema := Schema(rowShape)
	fslType := schema.Field(0).Type

	values := t.ToHost()
	valuesBuf := memory.NewBufferBytes(arrow.Float64Traits.CastToBytes(values))
	valuesData := array.NewData(arrow.PrimitiveTypes.Float64, numRows*width, []*memory.Buffer{nil, valuesBuf}, nil, 0, 0)
	defer valuesData.Release()

	fslData := array.NewData(
		fslType,
		numRows,
		[]*memory.Buffer{nil},
		[]arrow.ArrayData{valuesData},
		0,
		0,
	)
	defer fslData.Release()
	rows := array.NewFixedSizeListData(fslData)
	defer rows.Release()

	return array.NewRecordBatch(schema, []arrow.Array{rows}, int64(numRows)), nil
}

// RowShape returns the trailing dimensions recorded in the schema, falling
// back to a flat row of the list width. The recorded dimensions must be
// non-negative and multiply out to width.
func RowShape(schema *arrow.Schema, width int) (device.Shape, error) {
	md := schema.Metadata()
	idx := md.FindKey(shapeKey)
	if idx < 0 {
		return device.Shape{width}, nil
	}
	raw := md.Values()[idx]
	if raw == "" {
		if width != 1 {
			return nil, errors.Errorf("scalar row shape does not match list width %d", width)
		}
		return device.Shape{}, nil
	}
	parts := strings.Split(raw, ",")
	shape := make(device.Shape, len(parts))
	for i, p := range parts {
		d, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s metadata %q", shapeKey, raw)
		}
		shape[i] = d
	}
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid %s metadata %q", shapeKey, raw)
	}
	if shape.NumElements() != width {
		return nil, errors.Errorf("row shape %v does not match list width %d", shape, width)
	}
	return shape, nil
}

// rowValues extracts the float64 rows of a record.
func rowValues(rec arrow.RecordBatch) ([]float64, int, error) {
	col := 0
	if indices := rec.Schema().FieldIndices(RowColumn); len(indices) > 0 {
		col = indices[0]
	}
	if rec.NumCols() == 0 {
		return nil, 0, errors.New("record has no columns")
	}
	fsl, ok := rec.Column(col).(*array.FixedSizeList)
	if !ok {
		return nil, 0, errors.Errorf("column %q must be a fixed-size list, got %s", rec.ColumnName(col), rec.Column(col).DataType())
	}
	if fsl.NullN() > 0 {
		return nil, 0, errors.Errorf("column %q has %d null rows", rec.ColumnName(col), fsl.NullN())
	}
	width := int(fsl.DataType().(*arrow.FixedSizeListType).Len())
	vals, ok := fsl.ListValues().(*array.Float64)
	if !ok {
		return nil, 0, errors.Errorf("column %q must hold float64 values, got %s", rec.ColumnName(col), fsl.ListValues().DataType())
	}
	off := fsl.Data().Offset()
	n := fsl.Len()
	return vals.Float64Values()[off*width : (off+n)*width], width, nil
}

// ReadTensor converts a record produced by BuildRecordBatch back into a
// tensor allocated on backend.
func (b *RecordBatchBuilder) ReadTensor(rec arrow.RecordBatch, backend device.Backend) (device.Tensor, error) {
	return b.ReadTensors([]arrow.RecordBatch{rec}, backend)
}

// ReadTensors concatenates the rows of several records that share a schema.
func (b *RecordBatchBuilder) ReadTensors(recs []arrow.RecordBatch, backend device.Backend) (device.Tensor, error) {
	if len(recs) == 0 {
		return nil, errors.New("no record batches")
	}
	var (
		data     []float64
		rows     int
		rowShape device.Shape
	)
	for i, rec := range recs {
		vals, width, err := rowValues(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		rs, err := RowShape(rec.Schema(), width)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		if i == 0 {
			rowShape = rs
		} else if !rowShape.Equal(rs) {
			return nil, errors.Errorf("record %d has row shape %v, expected %v", i, rs, rowShape)
		}
		data = append(data, vals...)
		rows += int(rec.NumRows())
	}
	shape := append(device.Shape{rows}, rowShape...)
	return backend.NewTensor(shape, data), nil
}

// ReadIPC reads an Arrow IPC stream into a single tensor.
func (b *RecordBatchBuilder) ReadIPC(r io.Reader, backend device.Backend) (device.Tensor, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(b.mem))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create IPC reader")
	}
	defer reader.Release()

	var recs []arrow.RecordBatch
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "error reading Arrow stream")
	}
	return b.ReadTensors(recs, backend)
}

// WriteIPC writes a tensor as a single-batch Arrow IPC stream.
func (b *RecordBatchBuilder) WriteIPC(w io.Writer, t device.Tensor) error {
	rec, err := b.BuildRecordBatch(t)
	if err != nil {
		return err
	}
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(b.mem))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return errors.Wrap(err, "failed to write record")
	}
	return writer.Close()
}
