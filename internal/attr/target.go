package attr

import (
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/pkg/errors"
)

// SelectTargets extracts the target output of every example. A nil target
// returns output unchanged; otherwise the result has one value (or one
// sub-tensor for partial indices) per example.
func SelectTargets(output device.Tensor, target Target) (device.Tensor, error) {
	if target == nil {
		return output, nil
	}
	targetSelections.WithLabelValues(target.targetKind()).Inc()

	shape := output.Shape()
	if len(shape) == 0 {
		return nil, errors.Wrap(ErrShapeMismatch, "cannot select a target from a 0-d output")
	}
	numExamples := shape[0]
	dims := len(shape)

	switch v := target.(type) {
	case Index:
		return SelectColumn(output, int(v))
	case MultiIndex:
		return SelectColumn(output, v...)
	case TensorTarget:
		if v.Numel() == 1 && v.DType() == device.Int64 {
			return SelectColumn(output, int(v.Item()))
		}
		if len(v.Shape()) == 1 && v.Numel() == numExamples {
			if dims != 2 {
				return nil, errors.Wrap(ErrShapeMismatch, "output must be 2D to select tensor of targets")
			}
			if v.DType() != device.Int64 {
				return nil, errors.Wrapf(ErrInvalidTarget, "index tensor must be int64, got %v", v.DType())
			}
			return gatherColumns(output, device.Ints(v))
		}
		return nil, errors.Wrapf(ErrInvalidTarget, "tensor target dimension %v is not valid for output %v", v.Shape(), shape)
	case IndexList:
		if len(v) != numExamples {
			return nil, errors.Wrapf(ErrLengthMismatch, "target list length %d does not match output batch %d", len(v), numExamples)
		}
		if dims != 2 {
			return nil, errors.Wrap(ErrShapeMismatch, "output must be 2D to select tensor of targets")
		}
		return gatherColumns(output, v)
	case MultiIndexList:
		if len(v) != numExamples {
			return nil, errors.Wrapf(ErrLengthMismatch, "target list length %d does not match output batch %d", len(v), numExamples)
		}
		return selectPerExample(output, v)
	default:
		return nil, errors.Wrapf(ErrInvalidTarget, "target type %T is not valid", target)
	}
}

// SelectColumn returns output[:, idx...], applying the same index to every
// example. The index cannot address the batch axis.
func SelectColumn(output device.Tensor, idx ...int) (device.Tensor, error) {
	shape := output.Shape()
	if len(idx) > len(shape)-1 {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot choose target column with output shape %v", shape)
	}
	norm := make([]int, len(idx))
	for k, i := range idx {
		n, ok := shape.NormalizeIndex(k+1, i)
		if !ok {
			return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d is out of range for axis %d of output %v", i, k+1, shape)
		}
		norm[k] = n
	}
	return output.Select(norm...), nil
}

func gatherColumns(output device.Tensor, cols []int) (device.Tensor, error) {
	shape := output.Shape()
	norm := make([]int, len(cols))
	for row, c := range cols {
		n, ok := shape.NormalizeIndex(1, c)
		if !ok {
			return nil, errors.Wrapf(ErrIndexOutOfRange, "target %d of example %d is out of range for output %v", c, row, shape)
		}
		norm[row] = n
	}
	return output.GatherColumns(norm), nil
}

func selectPerExample(output device.Tensor, targets MultiIndexList) (device.Tensor, error) {
	shape := output.Shape()
	if len(targets) == 0 {
		return nil, errors.Wrap(ErrInvalidTarget, "target list is empty")
	}

	rows := make([]device.Tensor, len(targets))
	for row, tuple := range targets {
		if len(tuple) != len(targets[0]) {
			return nil, errors.Wrapf(ErrInvalidTarget, "target %d has %d indices, expected %d", row, len(tuple), len(targets[0]))
		}
		if len(tuple) > len(shape)-1 {
			return nil, errors.Wrapf(ErrShapeMismatch, "cannot choose target %v with output shape %v", tuple, shape)
		}
		idx := make([]int, 0, len(tuple)+1)
		idx = append(idx, row)
		for k, i := range tuple {
			n, ok := shape.NormalizeIndex(k+1, i)
			if !ok {
				return nil, errors.Wrapf(ErrIndexOutOfRange, "target %v of example %d is out of range for output %v", tuple, row, shape)
			}
			idx = append(idx, n)
		}
		rows[row] = output.Index(idx...)
	}
	backend := output.Backend()
	out := backend.Stack(rows)
	for _, r := range rows {
		backend.PutTensor(r)
	}
	return out, nil
}
