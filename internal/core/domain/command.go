package domain

import (
	"fmt"

	"github.com/berfenger/mppt2mqtt/pkg/mppt"
)

// ControllerRequest is any message that ends up as a device exchange.

type ControllerRequest interface {
	ActorRequest
	ControllerCommand() string
}

type ControllerRequestMixIn struct {
	ActorRequestMixIn
}

func (r ControllerRequestMixIn) ControllerCommand() string {
	return fmt.Sprintf("%T", r)
}

// ExecuteCommandRequest sends a validated command to the charge controller.
type ExecuteCommandRequest struct {
	ControllerRequestMixIn
	Command mppt.Command
}

func (r ExecuteCommandRequest) ControllerCommand() string {
	if r.Command == nil {
		return "nil"
	}
	return string(r.Command.Kind())
}

type ExecuteCommandResponse struct {
	ActorResponseMixIn
}

type SetLoadSwitchRequest struct {
	ControllerRequestMixIn
	On bool
}

func (r SetLoadSwitchRequest) ControllerCommand() string {
	return string(mppt.CommandSetLoadOutput)
}

type SetLoadSwitchResponse struct {
	ActorResponseMixIn
	State bool
}

// SetChargingParamRequest changes one charging parameter. The others keep
// their last written value.
type SetChargingParamRequest struct {
	ControllerRequestMixIn
	Param string
	Value int
}

func (r SetChargingParamRequest) ControllerCommand() string {
	return string(mppt.CommandSetChargingParams)
}

type SetChargingParamResponse struct {
	ActorResponseMixIn
	Params mppt.SetChargingParams
}

// ensure interface compliance
var (
	_ ControllerRequest = ExecuteCommandRequest{}
	_ ControllerRequest = SetLoadSwitchRequest{}
	_ ControllerRequest = SetChargingParamRequest{}
)
