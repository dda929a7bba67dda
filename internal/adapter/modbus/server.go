package modbus

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/config"
	"github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/internal/core/port"
	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// Register map.
//
// Input registers 0..9 hold telemetry fields in mppt.Field order, scaled
// by fieldScale. Fields that are disabled or not yet polled read NOT_IMPLEMENTED.
// Discrete inputs: 0 device connected, 1 energy counters pending.
// Coils: 0 load output, 1 reset energy (write only, reads false).
// Holding registers 0..3: charge current, battery type, constant voltage,
// load undervoltage.
const (
	NOT_IMPLEMENTED uint16 = 0xFFFF

	DISCRETE_DEVICE_CONNECTED = 0
	DISCRETE_ENERGY_STALE     = 1
	COIL_LOAD                 = 0
	COIL_RESET_ENERGY         = 1
	HOLDING_CHARGE_CURRENT    = 0
	HOLDING_BATTERY_TYPE      = 1
	HOLDING_CONST_VOLTAGE     = 2
	HOLDING_LOAD_UNDERVOLTAGE = 3

	inputRegisterCount   = 10
	discreteInputCount   = 2
	coilCount            = 2
	holdingRegisterCount = 4
	defaultClientTimeout = 30 * time.Second
)

var fieldScale = [inputRegisterCount]float64{10, 10, 10, 10, 10, 10, 100, 10, 1, 1}

var holdingParams = [holdingRegisterCount]string{
	domain.INPUT_NUMBER_ID_CHARGE_CURR,
	domain.INPUT_NUMBER_ID_BATT_TYPE,
	domain.INPUT_NUMBER_ID_CONST_VOLT,
	domain.INPUT_NUMBER_ID_LOAD_UV,
}

// Handler serves the register map from the controller gateway.
type Handler struct {
	gateway port.ControllerGateway
	unitId  uint8
	timeout time.Duration
	logger  *zap.Logger
}

var _ modbus.RequestHandler = (*Handler)(nil)

func NewHandler(gateway port.ControllerGateway, unitId uint8, timeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		gateway: gateway,
		unitId:  unitId,
		timeout: timeout,
		logger:  logger,
	}
}

func (h *Handler) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

func (h *Handler) checkUnit(unitId uint8) error {
	// unit 0 is broadcast
	if unitId != 0 && unitId != h.unitId {
		return modbus.ErrGWTargetFailedToRespond
	}
	return nil
}

func checkRange(addr, quantity uint16, size int) error {
	if quantity == 0 || int(addr)+int(quantity) > size {
		return modbus.ErrIllegalDataAddress
	}
	return nil
}

func (h *Handler) telemetry() (domain.GetTelemetryResponse, error) {
	ctx, cancel := h.context()
	defer cancel()
	resp, err := h.gateway.Telemetry(ctx)
	if err != nil {
		return resp, h.mapError(err)
	}
	return resp, nil
}

func (h *Handler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	if err := h.checkUnit(req.UnitId); err != nil {
		return nil, err
	}
	if err := checkRange(req.Addr, req.Quantity, inputRegisterCount); err != nil {
		return nil, err
	}
	resp, err := h.telemetry()
	if err != nil {
		return nil, err
	}

	res := make([]uint16, 0, req.Quantity)
	for i := req.Addr; i < req.Addr+req.Quantity; i++ {
		res = append(res, fieldRegister(resp.Snapshot, mppt.Field(i)))
	}
	return res, nil
}

func fieldRegister(snapshot *mppt.Telemetry, f mppt.Field) uint16 {
	if snapshot == nil {
		return NOT_IMPLEMENTED
	}
	v, ok := snapshot.Value(f)
	if !ok {
		return NOT_IMPLEMENTED
	}
	scaled := math.Round(v * fieldScale[f])
	if scaled < 0 || scaled >= float64(NOT_IMPLEMENTED) {
		return NOT_IMPLEMENTED
	}
	return uint16(scaled)
}

func (h *Handler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	if err := h.checkUnit(req.UnitId); err != nil {
		return nil, err
	}
	if err := checkRange(req.Addr, req.Quantity, discreteInputCount); err != nil {
		return nil, err
	}
	resp, err := h.telemetry()
	if err != nil {
		return nil, err
	}

	values := [discreteInputCount]bool{
		DISCRETE_DEVICE_CONNECTED: resp.Connected,
		DISCRETE_ENERGY_STALE:     resp.EnergyStale,
	}
	return values[req.Addr : req.Addr+req.Quantity], nil
}

func (h *Handler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	if err := h.checkUnit(req.UnitId); err != nil {
		return nil, err
	}
	if err := checkRange(req.Addr, req.Quantity, coilCount); err != nil {
		return nil, err
	}

	if req.IsWrite {
		ctx, cancel := h.context()
		defer cancel()
		for i, value := range req.Args {
			switch req.Addr + uint16(i) {
			case COIL_LOAD:
				if _, err := h.gateway.SetLoadSwitch(ctx, value); err != nil {
					return nil, h.mapError(err)
				}
			case COIL_RESET_ENERGY:
				if !value {
					continue
				}
				if err := h.gateway.Execute(ctx, mppt.ResetEnergy{Clear: true}); err != nil {
					return nil, h.mapError(err)
				}
			}
		}
		return nil, nil
	}

	resp, err := h.telemetry()
	if err != nil {
		return nil, err
	}
	values := [coilCount]bool{
		COIL_LOAD: resp.LoadSwitch != nil && *resp.LoadSwitch,
	}
	return values[req.Addr : req.Addr+req.Quantity], nil
}

func (h *Handler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if err := h.checkUnit(req.UnitId); err != nil {
		return nil, err
	}
	if err := checkRange(req.Addr, req.Quantity, holdingRegisterCount); err != nil {
		return nil, err
	}

	var params mppt.SetChargingParams
	if req.IsWrite {
		ctx, cancel := h.context()
		defer cancel()
		for i, value := range req.Args {
			var err error
			params, err = h.gateway.SetChargingParam(ctx, holdingParams[int(req.Addr)+i], int(value))
			if err != nil {
				return nil, h.mapError(err)
			}
		}
	} else {
		resp, err := h.telemetry()
		if err != nil {
			return nil, err
		}
		params = resp.Params
	}

	values := domain.ChargingParamValues(params)
	res := make([]uint16, 0, req.Quantity)
	for i := req.Addr; i < req.Addr+req.Quantity; i++ {
		res = append(res, uint16(values[holdingParams[i]]))
	}
	return res, nil
}

func (h *Handler) mapError(err error) error {
	h.logger.Debug("modbus: request failed", zap.Error(err))
	switch {
	case errors.Is(err, mppt.ErrInvalidParameter):
		return modbus.ErrIllegalDataValue
	default:
		return modbus.ErrServerDeviceFailure
	}
}

type Server struct {
	server *modbus.ModbusServer
	logger *zap.Logger
}

// NewServer returns a started modbus server, or nil when disabled.
func NewServer(cfg config.ModbusServerConfig, gateway port.ControllerGateway, timeout time.Duration, logger *zap.Logger) (*Server, error) {
	if !cfg.Enable {
		return nil, nil
	}
	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        cfg.URL,
		Timeout:    defaultClientTimeout,
		MaxClients: cfg.MaxClients,
	}, NewHandler(gateway, cfg.UnitId, timeout, logger))
	if err != nil {
		return nil, err
	}
	if err := server.Start(); err != nil {
		return nil, err
	}
	logger.Info("modbus: server started", zap.String("url", cfg.URL), zap.Uint8("unitId", cfg.UnitId))
	return &Server{server: server, logger: logger}, nil
}

func (s *Server) Stop() error {
	if s == nil {
		return nil
	}
	return s.server.Stop()
}
