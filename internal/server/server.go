package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/config"
	"github.com/berfenger/mppt2mqtt/internal/core/port"

	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port           uint
	httpLog        bool
	gateway        port.ControllerGateway
	metricsHandler http.Handler
}

// NewServer builds the HTTP API. A nil metricsHandler leaves /metrics unrouted.
func NewServer(cfg config.Config, gateway port.ControllerGateway, metricsHandler http.Handler) *http.Server {
	NewServer := &Server{
		port:           cfg.Port,
		httpLog:        cfg.HttpLog,
		gateway:        gateway,
		metricsHandler: metricsHandler,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
