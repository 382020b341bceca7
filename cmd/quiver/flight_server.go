package main

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-quiver/internal/cache"
	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/device"
)

// QuiverFlightServer accepts reference pools over Arrow Flight. The first
// element of the descriptor path names the pool.
type QuiverFlightServer struct {
	flight.BaseFlightServer
	backend device.Backend
	pools   cache.PoolCache
	alloc   memory.Allocator
}

func NewQuiverFlightServer(backend device.Backend, pools cache.PoolCache) *QuiverFlightServer {
	return &QuiverFlightServer{
		backend: backend,
		pools:   pools,
		alloc:   memory.NewGoAllocator(),
	}
}

func (s *QuiverFlightServer) DoPut(stream flight.FlightService_DoPutServer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("DoPut panicked")
			err = status.Errorf(codes.Internal, "pool upload failed: %v", r)
		}
	}()

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	path := reader.LatestFlightDescriptor().GetPath()
	if len(path) == 0 || path[0] == "" {
		return status.Error(codes.InvalidArgument, "descriptor path must name a pool")
	}
	name := path[0]

	var recs []arrow.RecordBatch
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for reader.Next() {
		rec := reader.Record()
		log.Debug().Int64("rows", rec.NumRows()).Str("pool", name).Msg("DoPut received batch")
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := reader.Err(); err != nil {
		return err
	}

	pool, err := client.NewRecordBatchBuilder(s.alloc).ReadTensors(recs, s.backend)
	if err != nil {
		return status.Error(codes.InvalidArgument, errors.Wrapf(err, "pool %q", name).Error())
	}
	s.pools.Put(name, pool)
	log.Info().Str("pool", name).Str("shape", pool.Shape().String()).Msg("Registered reference pool over Flight")
	return nil
}

func StartFlightServer(addr string, srv *QuiverFlightServer) {
	server := flight.NewFlightServer()
	server.RegisterFlightService(srv)

	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting Quiver Flight Server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
