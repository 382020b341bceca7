// Package wire defines the CBOR payloads exchanged with the quiver service
// and converts them to and from the attr variants.
package wire

import (
	"github.com/23skdu/longbow-quiver/internal/attr"
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/pkg/errors"
)

// Tensor is a dense row-major tensor.
type Tensor struct {
	Shape []int     `cbor:"shape"`
	Data  []float64 `cbor:"data"`
	Int   bool      `cbor:"int,omitempty"`
}

// FromTensor copies t into a payload.
func FromTensor(t device.Tensor) Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape()...),
		Data:  t.ToHost(),
		Int:   t.DType() == device.Int64,
	}
}

// Decode allocates the tensor on b.
func (p Tensor) Decode(b device.Backend) (device.Tensor, error) {
	shape := device.Shape(p.Shape)
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != len(p.Data) {
		return nil, errors.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(p.Data))
	}
	if !p.Int {
		return b.NewTensor(shape, p.Data), nil
	}
	ints := make([]int, len(p.Data))
	for i, v := range p.Data {
		if v != float64(int(v)) {
			return nil, errors.Errorf("integer tensor holds non-integral value %v at %d", v, i)
		}
		ints[i] = int(v)
	}
	return b.NewIntTensor(shape, ints), nil
}

// Baseline holds exactly one of a scalar or a tensor.
type Baseline struct {
	Scalar *float64 `cbor:"scalar,omitempty"`
	Tensor *Tensor  `cbor:"tensor,omitempty"`
}

// FromBaseline encodes a baseline.
func FromBaseline(b attr.Baseline) Baseline {
	switch v := b.(type) {
	case attr.ScalarBaseline:
		s := float64(v)
		return Baseline{Scalar: &s}
	case attr.TensorBaseline:
		t := FromTensor(v.Tensor)
		return Baseline{Tensor: &t}
	}
	return Baseline{}
}

// Decode converts the payload into an attr.Baseline.
func (p Baseline) Decode(b device.Backend) (attr.Baseline, error) {
	switch {
	case p.Scalar != nil && p.Tensor != nil:
		return nil, errors.New("baseline sets both scalar and tensor")
	case p.Scalar != nil:
		return attr.ScalarBaseline(*p.Scalar), nil
	case p.Tensor != nil:
		t, err := p.Tensor.Decode(b)
		if err != nil {
			return nil, errors.Wrap(err, "baseline tensor")
		}
		return attr.TensorBaseline{Tensor: t}, nil
	}
	return nil, errors.New("baseline sets neither scalar nor tensor")
}

// Target kinds on the wire.
const (
	KindIndex          = "index"
	KindMultiIndex     = "multi_index"
	KindIndexList      = "index_list"
	KindMultiIndexList = "multi_index_list"
	KindTensor         = "tensor"
)

// Target is the tagged encoding of attr.Target. A nil *Target is no target.
type Target struct {
	Kind    string  `cbor:"kind"`
	Index   int     `cbor:"index,omitempty"`
	Indices []int   `cbor:"indices,omitempty"`
	Tuples  [][]int `cbor:"tuples,omitempty"`
	Tensor  *Tensor `cbor:"tensor,omitempty"`
}

// FromTarget encodes a target, returning nil for no target.
func FromTarget(t attr.Target) *Target {
	switch v := t.(type) {
	case attr.Index:
		return &Target{Kind: KindIndex, Index: int(v)}
	case attr.MultiIndex:
		return &Target{Kind: KindMultiIndex, Indices: []int(v)}
	case attr.IndexList:
		return &Target{Kind: KindIndexList, Indices: []int(v)}
	case attr.MultiIndexList:
		return &Target{Kind: KindMultiIndexList, Tuples: [][]int(v)}
	case attr.TensorTarget:
		p := FromTensor(v.Tensor)
		return &Target{Kind: KindTensor, Tensor: &p}
	}
	return nil
}

// Decode converts the payload into an attr.Target.
func (p *Target) Decode(b device.Backend) (attr.Target, error) {
	if p == nil {
		return nil, nil
	}
	switch p.Kind {
	case KindIndex:
		return attr.Index(p.Index), nil
	case KindMultiIndex:
		return attr.MultiIndex(p.Indices), nil
	case KindIndexList:
		return attr.IndexList(p.Indices), nil
	case KindMultiIndexList:
		return attr.MultiIndexList(p.Tuples), nil
	case KindTensor:
		if p.Tensor == nil {
			return nil, errors.Wrap(attr.ErrInvalidTarget, "tensor target without tensor")
		}
		t, err := p.Tensor.Decode(b)
		if err != nil {
			return nil, errors.Wrap(err, "target tensor")
		}
		return attr.TensorTarget{Tensor: t}, nil
	}
	return nil, errors.Wrapf(attr.ErrInvalidTarget, "unknown target kind %q", p.Kind)
}

// SelectRequest asks the service to select targets from a model output.
type SelectRequest struct {
	Output Tensor  `cbor:"output"`
	Target *Target `cbor:"target,omitempty"`
}

// ExpandRequest asks the service to expand sampling arguments.
type ExpandRequest struct {
	Inputs    []Tensor   `cbor:"inputs"`
	Baselines []Baseline `cbor:"baselines,omitempty"`
	// Pool names a registered reference pool used as the baseline of
	// every input. It takes precedence over Baselines.
	Pool            string   `cbor:"pool,omitempty"`
	ForwardArgs     []Tensor `cbor:"forward_args,omitempty"`
	Target          *Target  `cbor:"target,omitempty"`
	NSamples        int      `cbor:"n_samples"`
	DrawFromDistrib bool     `cbor:"draw_from_distrib,omitempty"`
	Seed            *uint64  `cbor:"seed,omitempty"`
}

// ExpandResponse carries the expanded arguments.
type ExpandResponse struct {
	Baselines   []Baseline `cbor:"baselines,omitempty"`
	ForwardArgs []Tensor   `cbor:"forward_args,omitempty"`
	Target      *Target    `cbor:"target,omitempty"`
}
