package attr

import (
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// SafeDiv returns num / quotient, or def when quotient is zero.
func SafeDiv(num device.Tensor, quotient float64, def device.Tensor) device.Tensor {
	if quotient == 0 {
		return def
	}
	out := num.Backend().GetTensor(num.Shape())
	dst := out.Data()
	for i, v := range num.Data() {
		dst[i] = v / quotient
	}
	return out
}

// SafeDivTensor divides num element-wise by quotient, substituting def
// wherever quotient is zero. quotient and def must either match the shape
// of num or hold a single element.
func SafeDivTensor(num, quotient, def device.Tensor) (device.Tensor, error) {
	n := num.Numel()
	q, err := broadcastTo(quotient, num, "quotient")
	if err != nil {
		return nil, err
	}
	d, err := broadcastTo(def, num, "default value")
	if err != nil {
		return nil, err
	}

	denom := make([]float64, n)
	for i := range denom {
		if q[i] != 0 {
			denom[i] = q[i]
		} else {
			denom[i] = d[i]
		}
	}

	out := num.Backend().GetTensor(num.Shape())
	floats.DivTo(out.Data(), num.Data(), denom)
	return out, nil
}

func broadcastTo(t, like device.Tensor, name string) ([]float64, error) {
	if t.Shape().Equal(like.Shape()) {
		return t.Data(), nil
	}
	if t.Numel() != 1 {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s with shape %v cannot broadcast to %v", name, t.Shape(), like.Shape())
	}
	out := make([]float64, like.Numel())
	v := t.Item()
	for i := range out {
		out[i] = v
	}
	return out, nil
}
