package attr

import (
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/pkg/errors"
)

var (
	ErrLengthMismatch  = errors.New("length mismatch")
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrUnsupportedType = errors.New("unsupported type")
	ErrInvalidTarget   = errors.New("invalid target")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrNoDevice        = errors.New("unable to extract device")
	ErrNotCallable     = errors.New("not a forward function")
)

// Inputs is the canonical tuple of input tensors.
type Inputs []device.Tensor

// Baseline is a reference value for one input: a scalar or a tensor
// broadcastable to the input.
type Baseline interface {
	isBaseline()
}

// ScalarBaseline compares an input against a constant.
type ScalarBaseline float64

// TensorBaseline compares an input against a tensor of matching shape,
// a single broadcast row, or a pool of reference rows.
type TensorBaseline struct {
	device.Tensor
}

func (ScalarBaseline) isBaseline() {}
func (TensorBaseline) isBaseline() {}

// Baselines is the canonical tuple of baselines, one per input.
type Baselines []Baseline

// Args is the canonical tuple of additional forward arguments. Elements
// may be tensors or arbitrary values passed through to the model.
type Args []any

// Target selects the output element(s) treated as the scalar output of
// each example. A nil Target selects the whole output.
type Target interface {
	targetKind() string
}

// Index selects the same column for every example.
type Index int

// MultiIndex applies the same multi-dimensional index to every example.
type MultiIndex []int

// IndexList selects one column per example.
type IndexList []int

// MultiIndexList applies a per-example multi-dimensional index.
type MultiIndexList [][]int

// TensorTarget holds either a single integer index or one index per example.
type TensorTarget struct {
	device.Tensor
}

func (Index) targetKind() string          { return "index" }
func (MultiIndex) targetKind() string     { return "multi_index" }
func (IndexList) targetKind() string      { return "index_list" }
func (MultiIndexList) targetKind() string { return "multi_index_list" }
func (TensorTarget) targetKind() string   { return "tensor" }

// TargetKind names the variant of t, "none" for nil.
func TargetKind(t Target) string {
	if t == nil {
		return "none"
	}
	return t.targetKind()
}

// Option is a value that may be absent.
type Option[T any] struct {
	value T
	set   bool
}

// Some returns a present Option holding v.
func Some[T any](v T) Option[T] {
	return Option[T]{value: v, set: true}
}

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether the option holds a value.
func (o Option[T]) IsSet() bool {
	return o.set
}

// Kwargs carries the optional arguments of a sampling attribution call.
// The ExpandAndUpdate functions return updated copies and never modify
// their argument.
type Kwargs struct {
	// Baselines holds anything FormatBaseline accepts.
	Baselines Option[any]

	// AdditionalForwardArgs holds anything FormatAdditionalForwardArgs accepts.
	AdditionalForwardArgs Option[any]

	Target Option[Target]
}
