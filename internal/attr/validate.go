package attr

import (
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/pkg/errors"
)

// ValidateInput checks that every baseline can be compared against its input.
//
// Scalars are always valid. When drawing baselines from a distribution the
// baseline is a pool of reference examples, so only the non-batch dimensions
// must match. Otherwise the baseline must match the input exactly or have a
// batch size of one.
func ValidateInput(inputs Inputs, baselines Baselines, drawBaselineFromDistrib bool) error {
	if len(inputs) != len(baselines) {
		return errors.Wrapf(ErrLengthMismatch,
			"input and baseline must have the same dimensions, baseline has %d features whereas input has %d",
			len(baselines), len(inputs))
	}

	for i, input := range inputs {
		var tb TensorBaseline
		switch b := baselines[i].(type) {
		case ScalarBaseline:
			continue
		case TensorBaseline:
			tb = b
		default:
			return errors.Wrapf(ErrUnsupportedType, "baseline %d has type %T", i, baselines[i])
		}

		bs, is := tb.Shape(), input.Shape()
		if len(bs) == 0 {
			// 0-d tensors broadcast like scalars
			continue
		}

		if drawBaselineFromDistrib {
			if !tail(bs).Equal(tail(is)) {
				return errors.Wrapf(ErrShapeMismatch,
					"the samples in input and baseline batches must have the same shape or the baseline "+
						"corresponding to the input tensor must be a scalar, found baseline %v and input %v", bs, is)
			}
			continue
		}

		if !bs.Equal(is) && bs[0] != 1 {
			return errors.Wrapf(ErrShapeMismatch,
				"baseline can be provided as a tensor for just one input and broadcasted to the batch or input "+
					"and baseline must have the same shape or the baseline corresponding to each input tensor "+
					"must be a scalar, found baseline %v and input %v", bs, is)
		}
	}
	return nil
}

// ValidateTarget checks that per-example targets carry one entry per sample.
func ValidateTarget(numSamples int, target Target) error {
	n := -1
	switch v := target.(type) {
	case IndexList:
		n = len(v)
	case MultiIndexList:
		n = len(v)
	case TensorTarget:
		if v.Numel() > 1 {
			n = v.Shape()[0]
		}
	}
	if n >= 0 && n != numSamples {
		return errors.Wrapf(ErrLengthMismatch,
			"the number of samples provided in the input %d does not match with the number of targets %d",
			numSamples, n)
	}
	return nil
}

func tail(s device.Shape) device.Shape {
	if len(s) == 0 {
		return s
	}
	return s[1:]
}
