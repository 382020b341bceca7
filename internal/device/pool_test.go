package device

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getMetricValue(m prometheus.Metric) float64 {
	var metric dto.Metric
	m.Write(&metric)
	if metric.Counter != nil {
		return *metric.Counter.Value
	}
	if metric.Gauge != nil {
		return *metric.Gauge.Value
	}
	return 0
}

func TestCPUBackend_Pool(t *testing.T) {
	backend := NewCPUBackend()

	// Metrics are global, so we track deltas
	startMisses := getMetricValue(poolMisses)

	t1 := backend.GetTensor(Shape{10, 10})
	if miss := getMetricValue(poolMisses); miss-startMisses != 1 {
		t.Errorf("Expected 1 miss, got %v", miss-startMisses)
	}
	t1.Data()[0] = 123
	backend.PutTensor(t1)

	t2 := backend.GetTensor(Shape{5, 4})
	// sync.Pool may drop entries, so only verify contents
	if val := t2.At(0, 0); val != 0 {
		t.Errorf("Pooled tensor not zeroed: got %f", val)
	}
	if !t2.Shape().Equal(Shape{5, 4}) {
		t.Errorf("Pooled tensor has shape %v", t2.Shape())
	}
	if t2.Numel() != 20 {
		t.Errorf("Pooled tensor has %d elements", t2.Numel())
	}

	// Foreign tensors are ignored
	other := NewCPUBackend()
	backend.PutTensor(other.NewTensor(Shape{1}, nil))
}
