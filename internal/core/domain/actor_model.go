package domain

import (
	"github.com/berfenger/mppt2mqtt/pkg/mppt"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_CONTROLLER   = "controller"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type GetTelemetryRequest struct {
	ActorRequestMixIn
}

type GetTelemetryResponse struct {
	ActorResponseMixIn
	// Snapshot is nil until the first successful poll
	Snapshot    *mppt.Telemetry
	// Connected is false after a poll timed out or hit an i/o error
	Connected   bool
	EnergyStale bool
	PollState   string
	LoadSwitch  *bool
	Params      mppt.SetChargingParams
}

type PollNowRequest struct {
	ActorRequestMixIn
}

type PollNowResponse struct {
	ActorResponseMixIn
	Snapshot *mppt.Telemetry
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Switches     []GenericSwitch
	InputNumbers []GenericInputNumber
	Buttons      []GenericButton
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
