package client

import (
	"context"
	"io"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// FlightClient handles communication with a Longbow server via Apache Flight.
type FlightClient struct {
	client flight.Client
	conn   *grpc.ClientConn
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrapf(err, "dial flight server %s", addr)
	}

	return &FlightClient{
		client: flight.NewClientFromConn(conn, nil),
		conn:   conn,
	}, nil
}

// DoPut sends a RecordBatch to the given dataset on the Longbow server.
func (c *FlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return err
	}

	writer := flight.NewRecordWriter(stream)
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{datasetName},
	})

	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	// Drain put results so server-side errors surface here.
	for {
		if _, err := stream.Recv(); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}

// Putter sends record batches to a named dataset.
type Putter interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
}

// Forwarder writes tensors to a Longbow dataset behind a circuit breaker.
type Forwarder struct {
	putter  Putter
	breaker *CircuitBreaker
	builder *RecordBatchBuilder
	dataset string
}

// NewForwarder creates a Forwarder. A nil breaker never trips.
func NewForwarder(p Putter, breaker *CircuitBreaker, mem memory.Allocator, dataset string) *Forwarder {
	return &Forwarder{
		putter:  p,
		breaker: breaker,
		builder: NewRecordBatchBuilder(mem),
		dataset: dataset,
	}
}

// Forward sends the rows of t to the dataset.
func (f *Forwarder) Forward(ctx context.Context, t device.Tensor) error {
	rec, err := f.builder.BuildRecordBatch(t)
	if err != nil {
		forwardFailures.WithLabelValues("encode").Inc()
		return err
	}
	defer rec.Release()

	put := func() error { return f.putter.DoPut(ctx, f.dataset, rec) }
	if f.breaker != nil {
		err = f.breaker.Do(put)
	} else {
		err = put()
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		forwardFailures.WithLabelValues("circuit_open").Inc()
		return err
	case err != nil:
		forwardFailures.WithLabelValues("put").Inc()
		return errors.Wrapf(err, "forward %d rows to %s", rec.NumRows(), f.dataset)
	}

	rowsForwarded.Add(float64(rec.NumRows()))
	log.Debug().Int64("rows", rec.NumRows()).Str("dataset", f.dataset).Msg("Forwarded batch to Longbow")
	return nil
}
