package main

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-quiver/internal/attr"
	"github.com/23skdu/longbow-quiver/internal/device"
)

type demoOptions struct {
	Batch       int
	Features    int
	Classes     int
	PoolSize    int
	NSamples    int
	Temperature float64
}

type demoResult struct {
	Device    device.Device
	Deltas    device.Tensor // normalized per-example score change, [batch]
	Baselines device.Tensor // drawn baselines, [batch*n_samples, features]
	Rows      int
}

// linearModel scores inputs against a dense weight matrix.
type linearModel struct {
	backend device.Backend
	weights device.Tensor
}

func (m *linearModel) Parameters() []device.Tensor {
	return []device.Tensor{m.weights}
}

func (m *linearModel) forward(x device.Tensor, temperature float64) device.Tensor {
	var out mat.Dense
	out.Mul(x.Matrix(), m.weights.Matrix())
	out.Scale(1/temperature, &out)
	r, c := out.Dims()
	return m.backend.NewTensor(device.Shape{r, c}, out.RawMatrix().Data)
}

func randomTensor(backend device.Backend, rng *rand.Rand, shape device.Shape) device.Tensor {
	data := make([]float64, shape.NumElements())
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return backend.NewTensor(shape, data)
}

// runDemo compares model scores on random inputs against baselines drawn
// from a random reference pool, forwarding the drawn rows when fwd is set.
func runDemo(ctx context.Context, backend device.Backend, seed uint64, opts demoOptions, fwd Forwarder) (*demoResult, error) {
	if opts.Batch <= 0 || opts.Features <= 0 || opts.Classes <= 0 || opts.PoolSize <= 0 || opts.NSamples <= 0 {
		return nil, errors.Errorf("demo sizes must be > 0: %+v", opts)
	}
	if opts.Temperature == 0 {
		opts.Temperature = 1
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	model := &linearModel{
		backend: backend,
		weights: randomTensor(backend, rng, device.Shape{opts.Features, opts.Classes}),
	}
	dev, err := attr.ExtractDevice(model, nil, nil)
	if err != nil {
		return nil, err
	}

	f, err := attr.WrapFunc(model.forward)
	if err != nil {
		return nil, err
	}

	x := randomTensor(backend, rng, device.Shape{opts.Batch, opts.Features})
	pool := randomTensor(backend, rng, device.Shape{opts.PoolSize, opts.Features})
	target := make(attr.IndexList, opts.Batch)
	for i := range target {
		target[i] = rng.IntN(opts.Classes)
	}
	if err := attr.ValidateTarget(opts.Batch, target); err != nil {
		return nil, err
	}

	kw := attr.Kwargs{
		Baselines:             attr.Some[any](pool),
		AdditionalForwardArgs: attr.Some[any](opts.Temperature),
		Target:                attr.Some[attr.Target](target),
	}
	inputs, err := attr.FormatInput(x)
	if err != nil {
		return nil, err
	}
	kw, err = attr.ExpandAndUpdateBaselines(inputs, opts.NSamples, kw, true, rng)
	if err != nil {
		return nil, err
	}
	kw = attr.ExpandAndUpdateAdditionalForwardArgs(opts.NSamples, kw)
	kw = attr.ExpandAndUpdateTarget(opts.NSamples, kw)

	rawBaselines, _ := kw.Baselines.Get()
	drawn := rawBaselines.(attr.Baselines)[0].(attr.TensorBaseline).Tensor
	args, _ := kw.AdditionalForwardArgs.Get()
	expandedTarget, _ := kw.Target.Get()

	scores, err := attr.RunForward(ctx, f, x, target, args)
	if err != nil {
		return nil, err
	}
	baselineScores, err := attr.RunForward(ctx, f, drawn, expandedTarget, args)
	if err != nil {
		return nil, err
	}

	// Drawn rows are grouped by example, n_samples at a time.
	deltas := make([]float64, opts.Batch)
	total := 0.0
	for b := range deltas {
		mean := 0.0
		for s := 0; s < opts.NSamples; s++ {
			mean += baselineScores.At(b*opts.NSamples + s)
		}
		deltas[b] = scores.At(b) - mean/float64(opts.NSamples)
		total += math.Abs(deltas[b])
	}
	zero := backend.NewTensor(device.Shape{opts.Batch}, nil)
	normalized := attr.SafeDiv(backend.NewTensor(device.Shape{opts.Batch}, deltas), total, zero)

	if fwd != nil {
		if err := fwd.Forward(ctx, drawn); err != nil {
			log.Error().Err(err).Msg("Error forwarding baselines to Longbow")
		}
	}

	return &demoResult{
		Device:    dev,
		Deltas:    normalized,
		Baselines: drawn,
		Rows:      drawn.Shape()[0],
	}, nil
}

func logDemo(res *demoResult) {
	p := message.NewPrinter(language.English)
	log.Info().
		Str("device", res.Device.String()).
		Str("rows", p.Sprintf("%d", res.Rows)).
		Msg("Drew baselines")
	for i, d := range res.Deltas.Data() {
		log.Info().Int("example", i).Str("delta", p.Sprintf("%.4f", d)).Msg("Score change over baselines")
	}
}
