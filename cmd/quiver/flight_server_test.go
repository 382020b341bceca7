package main

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/cache"
	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/device"
)

func startTestFlightServer(t *testing.T, backend device.Backend, pools cache.PoolCache) *client.FlightClient {
	t.Helper()
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewQuiverFlightServer(backend, pools))
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)

	fc, err := client.NewFlightClient(server.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fc.Close() })
	return fc
}

func TestFlightServer_DoPutRegistersPool(t *testing.T) {
	backend := device.NewCPUBackend()
	pools := cache.NewMapCache(backend)
	fc := startTestFlightServer(t, backend, pools)

	pool := backend.NewTensor(device.Shape{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	fwd := client.NewForwarder(fc, nil, memory.NewGoAllocator(), "flight-pool")
	require.NoError(t, fwd.Forward(context.Background(), pool))

	got, ok := pools.Get("flight-pool")
	require.True(t, ok)
	assert.Equal(t, device.Shape{2, 3}, got.Shape())
	assert.Equal(t, pool.Data(), got.Data())
}

func TestFlightServer_DoPutRejectsBadRowShape(t *testing.T) {
	backend := device.NewCPUBackend()
	pools := cache.NewMapCache(backend)
	fc := startTestFlightServer(t, backend, pools)
	mem := memory.NewGoAllocator()

	for name, raw := range map[string]string{
		"negative": "-1,-3",
		"scalar":   "",
	} {
		t.Run(name, func(t *testing.T) {
			lb := array.NewFixedSizeListBuilder(mem, 3, arrow.PrimitiveTypes.Float64)
			defer lb.Release()
			vb := lb.ValueBuilder().(*array.Float64Builder)
			lb.Append(true)
			vb.AppendValues([]float64{1, 2, 3}, nil)
			arr := lb.NewArray()
			defer arr.Release()

			md := arrow.NewMetadata([]string{"quiver.row_shape"}, []string{raw})
			schema := arrow.NewSchema([]arrow.Field{{Name: client.RowColumn, Type: arr.DataType()}}, &md)
			rec := array.NewRecordBatch(schema, []arrow.Array{arr}, 1)
			defer rec.Release()

			assert.Error(t, fc.DoPut(context.Background(), "bad-"+name, rec))
			_, ok := pools.Get("bad-" + name)
			assert.False(t, ok)
		})
	}

	// The server keeps accepting uploads.
	good := backend.NewTensor(device.Shape{1, 3}, []float64{1, 2, 3})
	require.NoError(t, client.NewForwarder(fc, nil, mem, "good").Forward(context.Background(), good))
	_, ok := pools.Get("good")
	assert.True(t, ok)
}
