package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/mppt2mqtt/internal/adapter/actor"
	"github.com/berfenger/mppt2mqtt/internal/adapter/gateway"
	"github.com/berfenger/mppt2mqtt/internal/adapter/metrics"
	"github.com/berfenger/mppt2mqtt/internal/adapter/modbus"
	"github.com/berfenger/mppt2mqtt/internal/adapter/schedule"
	"github.com/berfenger/mppt2mqtt/internal/adapter/serial"
	"github.com/berfenger/mppt2mqtt/internal/config"
	"github.com/berfenger/mppt2mqtt/internal/core/actor"
	"github.com/berfenger/mppt2mqtt/internal/core/port"
	"github.com/berfenger/mppt2mqtt/internal/server"
	"github.com/berfenger/mppt2mqtt/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	prom := metrics.NewPrometheus()
	eventStream := &eventstream.EventStream{}
	sub := prom.Subscribe(eventStream)
	defer eventStream.Unsubscribe(sub)

	var mqttProv actor.MQTTActorProvider
	if cfg.MQTT.Enable {
		mqttProv = mqttActorProvider(cfg, logger)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, eventStream, transportProvider(cfg, prom, logger), prom, mqttProv, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		logger.Error("could not spawn master actor", zap.Error(err))
		return
	}

	// a command can wait behind one in-flight poll
	requestTimeout := cfg.Controller.UpdateInterval() + 2*cfg.Controller.ResponseTimeout()
	gw := gateway.NewActorGateway(ctx, pid, requestTimeout)

	modbusServer, err := modbus.NewServer(cfg.ModbusServer, gw, requestTimeout, logger)
	if err != nil {
		logger.Error("could not start modbus server", zap.Error(err))
		return
	}
	defer modbusServer.Stop()

	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	scheduler, err := schedule.NewEnergyResetScheduler(schedCtx, cfg.Schedule, requestTimeout, gw, logger)
	if err != nil {
		logger.Error("could not start scheduler", zap.Error(err))
		return
	}
	defer scheduler.Stop(schedCtx)

	server := server.NewServer(*cfg, gw, prom.Handler())
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => MPPT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("MPPT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("mppt")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel = config.ParseLogLevel(viper.GetString("log_level"))

	if err := cfg.Validate(serial.Drivers); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func transportProvider(cfg *config.Config, prom *metrics.Prometheus, logger *zap.Logger) actor.TransportProvider {
	opts := serial.Options{
		Driver:    cfg.Serial.Driver,
		Device:    cfg.Serial.Device,
		BaudRate:  cfg.Serial.BaudRate,
		ReadSlice: cfg.Serial.ReadSlice(),
	}
	return func() (port.Transport, error) {
		return serial.Open(opts, logger, prom.SerialInstrument())
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

// setConfigDefaults registers every config key. viper only unmarshals keys it
// knows about, so a key without a default is never read from the environment.
func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("serial.driver", serial.DRIVER_BUGST)
	viper.SetDefault("serial.device", config.DEFAULT_SERIAL_DEVICE)
	viper.SetDefault("serial.baud_rate", serial.DEFAULT_BAUD_RATE)
	viper.SetDefault("serial.read_slice_millis", serial.DEFAULT_READ_SLICE.Milliseconds())
	viper.SetDefault("controller.name", "")
	viper.SetDefault("controller.update_interval_millis", config.DEFAULT_UPDATE_INTERVAL_MS)
	viper.SetDefault("controller.response_timeout_millis", config.DEFAULT_RESPONSE_TIMEOUT_MS)
	viper.SetDefault("controller.verify_checksum", true)
	viper.SetDefault("controller.load_initial", false)
	viper.SetDefault("controller.sensors", []string{})
	viper.SetDefault("controller.charging_params.charge_current", 20)
	viper.SetDefault("controller.charging_params.battery_type", 1)
	viper.SetDefault("controller.charging_params.const_voltage", 1440)
	viper.SetDefault("controller.charging_params.load_undervoltage", 1100)
	viper.SetDefault("mqtt.enable", false)
	viper.SetDefault("mqtt.host", "")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", config.DEFAULT_BASE_TOPIC)
	viper.SetDefault("mqtt.ha_discovery_topic", config.DEFAULT_HA_DISCOVERY_TOPIC)
	viper.SetDefault("modbus_server.enable", false)
	viper.SetDefault("modbus_server.url", config.DEFAULT_MODBUS_SERVER_URL)
	viper.SetDefault("modbus_server.unit_id", 1)
	viper.SetDefault("modbus_server.max_clients", config.DEFAULT_MODBUS_SERVER_CLIENTS)
	viper.SetDefault("schedule.energy_reset_enable", false)
	viper.SetDefault("schedule.energy_reset_cron", config.DEFAULT_ENERGY_RESET_CRON)
	viper.SetDefault("schedule.energy_reset_reboot", false)
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}

func safePrintConfig(cfg config.Config) {
	slog.Info("Using", "config", cfg.Redacted())
}
