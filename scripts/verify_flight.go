//go:build ignore

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Pushes a random reference pool to a running quiver over Flight and reads
// it back over HTTP.
//
//	go run scripts/verify_flight.go localhost:9090 http://localhost:8080
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	flightAddr := "localhost:9090"
	httpAddr := "http://localhost:8080"
	if len(os.Args) > 1 {
		flightAddr = os.Args[1]
	}
	if len(os.Args) > 2 {
		httpAddr = os.Args[2]
	}

	log.Info().Str("addr", flightAddr).Msg("Connecting to Quiver Flight Server")

	var c *client.FlightClient
	var err error
	for i := 0; i < 10; i++ {
		c, err = client.NewFlightClient(flightAddr)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Connection failed, retrying...")
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect after retries")
	}
	defer c.Close()

	backend := device.NewCPUBackend()
	rng := rand.New(rand.NewPCG(1, 2))
	data := make([]float64, 16*8)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	pool := backend.NewTensor(device.Shape{16, 8}, data)

	start := time.Now()
	fwd := client.NewForwarder(c, nil, memory.NewGoAllocator(), "verify")
	if err := fwd.Forward(context.Background(), pool); err != nil {
		log.Fatal().Err(err).Msg("DoPut failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("Pushed pool")

	resp, err := http.Get(httpAddr + "/pools/verify")
	if err != nil {
		log.Fatal().Err(err).Msg("Fetching pool failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatal().Int("status", resp.StatusCode).Msg("Pool not registered")
	}

	got, err := client.NewRecordBatchBuilder(memory.NewGoAllocator()).ReadIPC(resp.Body, backend)
	if err != nil {
		log.Fatal().Err(err).Msg("Decoding pool failed")
	}
	if !device.Equal(got, pool) {
		log.Fatal().Str("shape", got.Shape().String()).Msg("Pool mismatch")
	}

	fmt.Println("VERIFICATION PASSED")
}
