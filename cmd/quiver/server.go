package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-quiver/internal/attr"
	"github.com/23skdu/longbow-quiver/internal/cache"
	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/wire"
)

var (
	rowsExpanded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_rows_expanded_total",
		Help: "The total number of rows produced by expansion requests",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quiver_request_duration_seconds",
		Help:    "Time spent processing requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})
)

const arrowStreamType = "application/vnd.apache.arrow.stream"

// Forwarder sends expanded rows to Longbow.
type Forwarder interface {
	Forward(ctx context.Context, t device.Tensor) error
}

type Server struct {
	backend   device.Backend
	pools     cache.PoolCache
	forwarder Forwarder
	builder   *client.RecordBatchBuilder
	sem       *semaphore.Weighted
	maxWeight int64
	maxRows   int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewServer creates a Server. forwarder may be nil. maxRows bounds the
// rows a single expansion may produce.
func NewServer(backend device.Backend, pools cache.PoolCache, forwarder Forwarder, maxConcurrent, maxRows int, seed uint64) *Server {
	return &Server{
		backend:   backend,
		pools:     pools,
		forwarder: forwarder,
		builder:   client.NewRecordBatchBuilder(memory.NewGoAllocator()),
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		maxWeight: int64(maxConcurrent),
		maxRows:   maxRows,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Handler returns the HTTP routes of the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/select", s.handleSelect)
	mux.HandleFunc("/expand", s.handleExpand)
	mux.HandleFunc("/expand/arrow", s.handleExpandArrow)
	mux.HandleFunc("/pools/{name}", s.handlePool)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, srv *Server) {
	log.Info().Str("addr", addr).Msg("Starting Quiver Server")
	if srv.forwarder != nil {
		log.Info().Msg("Forwarding to Longbow at specified server address")
	}

	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("quiver-server")

// observe starts a span and a duration timer for a handler.
func observe(r *http.Request, name string) (context.Context, trace.Span, func()) {
	ctx, span := tracer.Start(r.Context(), name)
	start := time.Now()
	return ctx, span, func() {
		requestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		span.End()
	}
}

// fail reports err to the client. Attribution argument errors are the
// caller's fault; anything else is ours.
func fail(w http.ResponseWriter, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	status := http.StatusInternalServerError
	for _, sentinel := range []error{
		attr.ErrLengthMismatch,
		attr.ErrShapeMismatch,
		attr.ErrUnsupportedType,
		attr.ErrInvalidTarget,
		attr.ErrIndexOutOfRange,
	} {
		if errors.Is(err, sentinel) {
			status = http.StatusBadRequest
			break
		}
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	} else {
		log.Debug().Err(err).Msg("Rejected request")
	}
	http.Error(w, err.Error(), status)
}

// acquire takes weight units of admission, capped at the semaphore size.
func (s *Server) acquire(ctx context.Context, weight int) (func(), error) {
	n := int64(weight)
	if n < 1 {
		n = 1
	}
	if n > s.maxWeight {
		n = s.maxWeight
	}
	if err := s.sem.Acquire(ctx, n); err != nil {
		return nil, err
	}
	return func() { s.sem.Release(n) }, nil
}

// expandedRows returns nSamples*batch, failing when the product exceeds
// the configured row limit.
func (s *Server) expandedRows(nSamples, batch int) (int, error) {
	if batch > 0 && nSamples > s.maxRows/batch {
		return 0, errors.Errorf("expansion of %d samples over %d rows exceeds max_rows %d", nSamples, batch, s.maxRows)
	}
	return nSamples * batch, nil
}

// sampler returns a private random source for one request.
func (s *Server) sampler(seed *uint64) *rand.Rand {
	if seed != nil {
		return rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return rand.New(rand.NewPCG(s.rng.Uint64(), s.rng.Uint64()))
}

func writeCBOR(w http.ResponseWriter, v any) {
	data, err := cbor.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("CBOR encode: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	ctx, span, done := observe(r, "handleSelect")
	defer done()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req wire.SelectRequest
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	output, err := req.Output.Decode(s.backend)
	if err != nil {
		http.Error(w, fmt.Sprintf("Bad Request (output): %v", err), http.StatusBadRequest)
		return
	}
	target, err := req.Target.Decode(s.backend)
	if err != nil {
		fail(w, span, err)
		return
	}
	span.SetAttributes(
		attribute.String("target.kind", attr.TargetKind(target)),
		attribute.String("output.shape", output.Shape().String()),
	)

	release, err := s.acquire(ctx, output.Numel())
	if err != nil {
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer release()

	selected, err := attr.SelectTargets(output, target)
	if err != nil {
		fail(w, span, err)
		return
	}
	writeCBOR(w, wire.FromTensor(selected))
	s.backend.PutTensor(selected)
	if selected != output {
		s.backend.PutTensor(output)
	}
}

// expandKwargs decodes the optional arguments of an expansion request.
func (s *Server) expandKwargs(req *wire.ExpandRequest, inputs attr.Inputs) (attr.Kwargs, error) {
	var kw attr.Kwargs

	switch {
	case req.Pool != "":
		pool, ok := s.pools.Get(req.Pool)
		if !ok {
			return kw, errors.Wrapf(errPoolNotFound, "%q", req.Pool)
		}
		baselines := make(attr.Baselines, len(inputs))
		for i := range baselines {
			baselines[i] = attr.TensorBaseline{Tensor: pool}
		}
		kw.Baselines = attr.Some[any](baselines)
	case len(req.Baselines) > 0:
		baselines := make(attr.Baselines, len(req.Baselines))
		for i, b := range req.Baselines {
			v, err := b.Decode(s.backend)
			if err != nil {
				return kw, errors.Wrapf(attr.ErrUnsupportedType, "baseline %d: %v", i, err)
			}
			baselines[i] = v
		}
		kw.Baselines = attr.Some[any](baselines)
	}

	if len(req.ForwardArgs) > 0 {
		args := make(attr.Args, len(req.ForwardArgs))
		for i, a := range req.ForwardArgs {
			t, err := a.Decode(s.backend)
			if err != nil {
				return kw, errors.Wrapf(attr.ErrUnsupportedType, "forward arg %d: %v", i, err)
			}
			args[i] = t
		}
		kw.AdditionalForwardArgs = attr.Some[any](args)
	}

	if req.Target != nil {
		target, err := req.Target.Decode(s.backend)
		if err != nil {
			return kw, err
		}
		if len(inputs) > 0 && len(inputs[0].Shape()) > 0 {
			if err := attr.ValidateTarget(inputs[0].Shape()[0], target); err != nil {
				return kw, err
			}
		}
		kw.Target = attr.Some(target)
	}
	return kw, nil
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	ctx, span, done := observe(r, "handleExpand")
	defer done()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req wire.ExpandRequest
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	if req.NSamples <= 0 {
		http.Error(w, fmt.Sprintf("n_samples must be > 0 (got %d)", req.NSamples), http.StatusBadRequest)
		return
	}

	inputs := make(attr.Inputs, len(req.Inputs))
	for i, in := range req.Inputs {
		t, err := in.Decode(s.backend)
		if err != nil {
			http.Error(w, fmt.Sprintf("Bad Request (input %d): %v", i, err), http.StatusBadRequest)
			return
		}
		inputs[i] = t
	}

	kw, err := s.expandKwargs(&req, inputs)
	if errors.Is(err, errPoolNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		fail(w, span, err)
		return
	}

	batch := 1
	if len(inputs) > 0 && len(inputs[0].Shape()) > 0 {
		batch = inputs[0].Shape()[0]
	}
	rows, err := s.expandedRows(req.NSamples, batch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	span.SetAttributes(
		attribute.Int("n_samples", req.NSamples),
		attribute.Int("batch", batch),
		attribute.Bool("draw_from_distrib", req.DrawFromDistrib),
	)

	release, err := s.acquire(ctx, rows)
	if err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer release()

	kw, err = attr.ExpandAndUpdateBaselines(inputs, req.NSamples, kw, req.DrawFromDistrib, s.sampler(req.Seed))
	if err != nil {
		fail(w, span, err)
		return
	}
	kw = attr.ExpandAndUpdateAdditionalForwardArgs(req.NSamples, kw)
	kw = attr.ExpandAndUpdateTarget(req.NSamples, kw)
	rowsExpanded.Add(float64(rows))

	var resp wire.ExpandResponse
	if raw, ok := kw.Baselines.Get(); ok {
		for _, b := range raw.(attr.Baselines) {
			resp.Baselines = append(resp.Baselines, wire.FromBaseline(b))
		}
	}
	if raw, ok := kw.AdditionalForwardArgs.Get(); ok {
		for _, a := range raw.(attr.Args) {
			resp.ForwardArgs = append(resp.ForwardArgs, wire.FromTensor(a.(device.Tensor)))
		}
	}
	if target, ok := kw.Target.Get(); ok {
		resp.Target = wire.FromTarget(target)
	}
	writeCBOR(w, resp)
}

// handleExpandArrow draws n_samples baselines per input row and streams
// them back as Arrow IPC. Without a pool the baselines are zeros.
func (s *Server) handleExpandArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span, done := observe(r, "handleExpandArrow")
	defer done()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	nSamples := 1
	if v := r.URL.Query().Get("n_samples"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, fmt.Sprintf("invalid n_samples %q", v), http.StatusBadRequest)
			return
		}
		nSamples = n
	}

	x, err := s.builder.ReadIPC(r.Body, s.backend)
	if err != nil {
		http.Error(w, fmt.Sprintf("Bad Request (Arrow): %v", err), http.StatusBadRequest)
		return
	}
	inputs := attr.Inputs{x}

	var (
		kw   attr.Kwargs
		draw bool
	)
	if name := r.URL.Query().Get("pool"); name != "" {
		pool, ok := s.pools.Get(name)
		if !ok {
			http.Error(w, fmt.Sprintf("pool %q not found", name), http.StatusNotFound)
			return
		}
		kw.Baselines = attr.Some[any](pool)
		draw = true
	} else {
		kw.Baselines = attr.Some[any](nil)
	}

	rows, err := s.expandedRows(nSamples, x.Shape()[0])
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	span.SetAttributes(attribute.Int("n_samples", nSamples), attribute.Int("rows", rows))

	release, err := s.acquire(ctx, rows)
	if err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore for arrow batch")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer release()

	kw, err = attr.ExpandAndUpdateBaselines(inputs, nSamples, kw, draw, s.sampler(nil))
	if err != nil {
		fail(w, span, err)
		return
	}
	raw, _ := kw.Baselines.Get()
	out := s.materialize(raw.(attr.Baselines)[0], append(device.Shape{rows}, x.Shape()[1:]...))
	rowsExpanded.Add(float64(rows))

	if s.forwarder != nil {
		if err := s.forwarder.Forward(ctx, out); err != nil {
			span.RecordError(err)
			log.Error().Err(err).Msg("Error forwarding baselines to Longbow")
		}
	}

	w.Header().Set("Content-Type", arrowStreamType)
	w.WriteHeader(http.StatusOK)
	if err := s.builder.WriteIPC(w, out); err != nil {
		log.Error().Err(err).Msg("Failed to write arrow stream")
	}
	s.backend.PutTensor(out)
}

// materialize returns b as a tensor of the given shape.
func (s *Server) materialize(b attr.Baseline, shape device.Shape) device.Tensor {
	switch v := b.(type) {
	case attr.TensorBaseline:
		if v.Shape().Equal(shape) {
			return v.Tensor
		}
		if v.Numel() == 1 {
			return s.fill(shape, v.Item())
		}
		return v.Tensor
	case attr.ScalarBaseline:
		return s.fill(shape, float64(v))
	}
	return s.fill(shape, 0)
}

func (s *Server) fill(shape device.Shape, v float64) device.Tensor {
	data := make([]float64, shape.NumElements())
	if v != 0 {
		for i := range data {
			data[i] = v
		}
	}
	return s.backend.NewTensor(shape, data)
}

// handlePool registers (PUT), fetches (GET) or removes (DELETE) a named
// reference pool. Pools travel as Arrow IPC streams.
func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	_, span, done := observe(r, "handlePool")
	defer done()

	name := r.PathValue("name")
	span.SetAttributes(attribute.String("pool", name))

	switch r.Method {
	case http.MethodPut:
		pool, err := s.builder.ReadIPC(r.Body, s.backend)
		if err != nil {
			http.Error(w, fmt.Sprintf("Bad Request (Arrow): %v", err), http.StatusBadRequest)
			return
		}
		s.pools.Put(name, pool)
		log.Info().Str("pool", name).Str("shape", pool.Shape().String()).Msg("Registered reference pool")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Registered %d rows", pool.Shape()[0])
	case http.MethodGet:
		pool, ok := s.pools.Get(name)
		if !ok {
			http.Error(w, fmt.Sprintf("pool %q not found", name), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", arrowStreamType)
		w.WriteHeader(http.StatusOK)
		if err := s.builder.WriteIPC(w, pool); err != nil {
			log.Error().Err(err).Msg("Failed to write arrow stream")
		}
	case http.MethodDelete:
		if !s.pools.Delete(name) {
			http.Error(w, fmt.Sprintf("pool %q not found", name), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

var errPoolNotFound = errors.New("pool not found")
