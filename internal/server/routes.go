package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/internal/util/actorutil"
	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const requestTimeout = 10 * time.Second

type errorResponse struct {
	Error string `json:"error"`
}

type telemetryResponse struct {
	Telemetry   *mppt.Telemetry        `json:"telemetry"`
	Connected   bool                   `json:"connected"`
	EnergyStale bool                   `json:"energy_stale"`
	PollState   string                 `json:"poll_state"`
	LoadSwitch  *bool                  `json:"load_switch"`
	Params      mppt.SetChargingParams `json:"charging_params"`
}

type loadSwitchBody struct {
	On *bool `json:"on"`
}

type loadSwitchResponse struct {
	On *bool `json:"on"`
}

type chargingParamBody struct {
	Param string `json:"param"`
	Value *int   `json:"value"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)

	api := e.Group("/api")
	api.GET("/telemetry", s.TelemetryHandler)
	api.POST("/telemetry/poll", s.PollNowHandler)
	api.GET("/load_switch", s.GetLoadSwitchHandler)
	api.PUT("/load_switch", s.SetLoadSwitchHandler)
	api.POST("/actions/reset_energy", s.ResetEnergyHandler)
	api.POST("/actions/charging_params", s.ChargingParamsHandler)
	api.PUT("/charging_params", s.SetChargingParamHandler)

	if s.metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	response, err := s.gateway.Health(ctx)
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) TelemetryHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	resp, err := s.gateway.Telemetry(ctx)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, telemetryResponse{
		Telemetry:   resp.Snapshot,
		Connected:   resp.Connected,
		EnergyStale: resp.EnergyStale,
		PollState:   resp.PollState,
		LoadSwitch:  resp.LoadSwitch,
		Params:      resp.Params,
	})
}

func (s *Server) PollNowHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	snapshot, err := s.gateway.PollNow(ctx)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) GetLoadSwitchHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	resp, err := s.gateway.Telemetry(ctx)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, loadSwitchResponse{On: resp.LoadSwitch})
}

func (s *Server) SetLoadSwitchHandler(c echo.Context) error {
	var body loadSwitchBody
	if err := c.Bind(&body); err != nil || body.On == nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "body must be {\"on\": true|false}"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	state, err := s.gateway.SetLoadSwitch(ctx, *body.On)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, loadSwitchResponse{On: &state})
}

func (s *Server) ResetEnergyHandler(c echo.Context) error {
	return s.executeAction(c, domain.ACTION_RESET_ENERGY)
}

func (s *Server) ChargingParamsHandler(c echo.Context) error {
	return s.executeAction(c, domain.ACTION_SET_CHARGING_PARAMS)
}

func (s *Server) executeAction(c echo.Context, action string) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	cmd, err := actorutil.ParseAction(action, payload)
	if err != nil {
		return errorJSON(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	if err := s.gateway.Execute(ctx, cmd); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, cmd)
}

func (s *Server) SetChargingParamHandler(c echo.Context) error {
	var body chargingParamBody
	if err := c.Bind(&body); err != nil || body.Param == "" || body.Value == nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "body must be {\"param\": name, \"value\": int}"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	params, err := s.gateway.SetChargingParam(ctx, body.Param, *body.Value)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, params)
}

func errorJSON(c echo.Context, err error) error {
	return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var dispatchErr *mppt.DispatchError
	switch {
	case errors.Is(err, mppt.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, mppt.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &dispatchErr), errors.Is(err, mppt.ErrIO):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
