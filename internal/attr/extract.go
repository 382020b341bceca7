package attr

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Module is a model component with parameters.
type Module interface {
	Parameters() []device.Tensor
}

// ExtractDevice infers the device a module runs on from the first forward
// hook input, else the first hook output, else its first parameter.
func ExtractDevice(module Module, hookInputs, hookOutputs Inputs) (device.Device, error) {
	var params []device.Tensor
	if module != nil {
		params = module.Parameters()
	}

	if len(hookInputs) == 0 && len(hookOutputs) == 0 && len(params) == 0 {
		return device.Device{}, errors.Wrapf(ErrNoDevice,
			"module %T: inputs and outputs to the forward hook and the module parameters are all empty; "+
				"the inputs may be empty because every argument to the module is passed by name", module)
	}

	if len(hookInputs) > 0 {
		return hookInputs[0].Device(), nil
	}
	if len(hookOutputs) > 0 {
		log.Debug().Str("module", moduleName(module)).Msg("No hook inputs, using hook output device")
		return hookOutputs[0].Device(), nil
	}
	log.Debug().Str("module", moduleName(module)).Msg("No hook tensors, using parameter device")
	return params[0].Device(), nil
}

func moduleName(m Module) string {
	if m == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", m)
}
