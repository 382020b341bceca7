//go:build cgo

package device

// Registers the netlib BLAS implementation (Accelerate on macOS, OpenBLAS on
// Linux) for the float64 routines behind Matrix().

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	blas64.Use(netlib.Implementation{})
	log.Debug().Msg("CGO/BLAS acceleration enabled (netlib)")
}
