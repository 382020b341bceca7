package attr

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ExpansionType controls how a sequence is replicated along the sampling axis.
type ExpansionType int

const (
	// Repeat concatenates whole copies: [a b] -> [a b a b].
	Repeat ExpansionType = iota + 1
	// RepeatInterleave repeats each element contiguously: [a b] -> [a a b b].
	RepeatInterleave
)

func (e ExpansionType) String() string {
	switch e {
	case Repeat:
		return "repeat"
	case RepeatInterleave:
		return "repeat_interleave"
	default:
		return fmt.Sprintf("ExpansionType(%d)", int(e))
	}
}

// Sampler is a source of uniformly distributed integers in [0, n).
// *rand.Rand from math/rand/v2 satisfies it.
type Sampler interface {
	IntN(n int) int
}

// expansionIndices returns the positions of n elements replicated nSteps times.
// Only the two declared expansion types are ever constructed, so any other
// value is a programming error.
func expansionIndices(n, nSteps int, et ExpansionType) []int {
	out := make([]int, 0, n*nSteps)
	switch et {
	case Repeat:
		for s := 0; s < nSteps; s++ {
			for i := 0; i < n; i++ {
				out = append(out, i)
			}
		}
	case RepeatInterleave:
		for i := 0; i < n; i++ {
			for s := 0; s < nSteps; s++ {
				out = append(out, i)
			}
		}
	default:
		panic(fmt.Sprintf("unsupported expansion type %v: only repeat and repeat_interleave are supported", et))
	}
	return out
}

func expandTensor(t device.Tensor, nSteps int, et ExpansionType) device.Tensor {
	if len(t.Shape()) == 0 {
		return t
	}
	return t.Gather(expansionIndices(t.Shape()[0], nSteps, et))
}

// ExpandAdditionalForwardArgs replicates every tensor argument with at least
// one dimension along axis 0. Scalars and non-tensor values pass through.
func ExpandAdditionalForwardArgs(args Args, nSteps int, et ExpansionType) Args {
	if args == nil {
		return nil
	}
	out := make(Args, len(args))
	for i, arg := range args {
		if t, ok := arg.(device.Tensor); ok {
			out[i] = expandTensor(t, nSteps, et)
			continue
		}
		out[i] = arg
	}
	expansions.WithLabelValues("forward_args", et.String()).Inc()
	return out
}

// ExpandTarget replicates per-example targets. Single targets apply to every
// example already and are returned unchanged.
func ExpandTarget(target Target, nSteps int, et ExpansionType) Target {
	switch v := target.(type) {
	case IndexList:
		idx := expansionIndices(len(v), nSteps, et)
		out := make(IndexList, len(idx))
		for k, i := range idx {
			out[k] = v[i]
		}
		expansions.WithLabelValues("target", et.String()).Inc()
		return out
	case MultiIndexList:
		idx := expansionIndices(len(v), nSteps, et)
		out := make(MultiIndexList, len(idx))
		for k, i := range idx {
			out[k] = append([]int(nil), v[i]...)
		}
		expansions.WithLabelValues("target", et.String()).Inc()
		return out
	case TensorTarget:
		if v.Numel() > 1 {
			expansions.WithLabelValues("target", et.String()).Inc()
			return TensorTarget{expandTensor(v.Tensor, nSteps, et)}
		}
	}
	return target
}

// ExpandAndUpdateBaselines expands the baselines in kw to match inputs
// replicated nSamples times with RepeatInterleave.
//
// When drawing from a distribution each tensor baseline is a pool of
// reference rows, and nSamples*batch rows are drawn from it uniformly with
// replacement using rng. Otherwise baselines with one row per example are
// interleaved; scalars and single-row baselines are left to broadcasting.
func ExpandAndUpdateBaselines(inputs Inputs, nSamples int, kw Kwargs, drawBaselineFromDistrib bool, rng Sampler) (Kwargs, error) {
	raw, ok := kw.Baselines.Get()
	if !ok {
		return kw, nil
	}

	baselines, err := FormatBaseline(raw, inputs)
	if err != nil {
		return kw, err
	}
	if err := ValidateInput(inputs, baselines, drawBaselineFromDistrib); err != nil {
		return kw, err
	}

	out := make(Baselines, len(baselines))
	if drawBaselineFromDistrib {
		if rng == nil {
			return kw, errors.New("drawing baselines from a distribution requires a random source")
		}
		bsz := 0
		if len(inputs) > 0 && len(inputs[0].Shape()) > 0 {
			bsz = inputs[0].Shape()[0]
		}
		for i, b := range baselines {
			tb, ok := b.(TensorBaseline)
			if !ok || len(tb.Shape()) == 0 {
				out[i] = b
				continue
			}
			numRef := tb.Shape()[0]
			if numRef == 0 {
				return kw, errors.Wrapf(ErrShapeMismatch, "baseline %d has no reference samples to draw from", i)
			}
			idx := make([]int, nSamples*bsz)
			for j := range idx {
				idx[j] = rng.IntN(numRef)
			}
			out[i] = TensorBaseline{tb.Gather(idx)}
			baselineDraws.Add(float64(len(idx)))
		}
		log.Debug().Int("n_samples", nSamples).Int("batch", bsz).Msg("Drew baselines from distribution")
	} else {
		for i, b := range baselines {
			tb, ok := b.(TensorBaseline)
			if ok && expandsWithInput(tb.Shape(), inputs[i].Shape()) {
				out[i] = TensorBaseline{expandTensor(tb.Tensor, nSamples, RepeatInterleave)}
				continue
			}
			out[i] = b
		}
		expansions.WithLabelValues("baselines", RepeatInterleave.String()).Inc()
	}

	kw.Baselines = Some[any](out)
	return kw, nil
}

// expandsWithInput reports whether a baseline has one row per example of a
// batch larger than one.
func expandsWithInput(baseline, input device.Shape) bool {
	if len(baseline) == 0 || len(input) == 0 {
		return false
	}
	return baseline[0] == input[0] && baseline[0] > 1
}

// ExpandAndUpdateAdditionalForwardArgs interleaves the additional forward
// arguments in kw nSamples times.
func ExpandAndUpdateAdditionalForwardArgs(nSamples int, kw Kwargs) Kwargs {
	raw, ok := kw.AdditionalForwardArgs.Get()
	if !ok {
		return kw
	}
	args := FormatAdditionalForwardArgs(raw)
	if args == nil {
		return kw
	}
	kw.AdditionalForwardArgs = Some[any](ExpandAdditionalForwardArgs(args, nSamples, RepeatInterleave))
	return kw
}

// ExpandAndUpdateTarget interleaves the target in kw nSamples times.
func ExpandAndUpdateTarget(nSamples int, kw Kwargs) Kwargs {
	target, ok := kw.Target.Get()
	if !ok {
		return kw
	}
	kw.Target = Some(ExpandTarget(target, nSamples, RepeatInterleave))
	return kw
}
