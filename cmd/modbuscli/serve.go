package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/modbus"
	"github.com/edgeo-scada/modbus/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a register mapping",
	Long: `Run a Modbus server (slave) holding coils, discrete inputs, holding
registers and input registers in memory.

Over TCP the server listens on --listen. With -b rtu it answers on the
serial device for the unit given by -u; frames for other units are
ignored. A seed file sets initial values, and --metrics-addr exposes
Prometheus metrics.`,
	Example: `  modbuscli serve --listen :1502
  modbuscli serve -b rtu -d /dev/ttyUSB0 -u 3 --seed seed.yaml
  modbuscli serve --hr-start 1000 --hr-count 100 --metrics-addr :9100`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("listen", "", "Listen address (tcp, tcppi)")
	f.Int("max-conns", 100, "Maximum concurrent connections")
	f.Duration("indication-timeout", 0, "Timeout waiting for a request, 0 waits forever")
	f.String("slave-id", "edgeo-modbus", "Additional data returned by Report Slave ID")
	f.String("seed", "", "YAML file with initial values")
	f.String("metrics-addr", "", "Address of the Prometheus metrics endpoint")

	tables := []struct{ prefix, key, name string }{
		{"co", "coils", "coils"},
		{"di", "discrete-inputs", "discrete inputs"},
		{"hr", "holding-registers", "holding registers"},
		{"ir", "input-registers", "input registers"},
	}
	for _, t := range tables {
		f.Int(t.prefix+"-start", 0, "First address of the "+t.name)
		f.Int(t.prefix+"-count", 10000, "Number of "+t.name)
		viper.BindPFlag("server."+t.key+".start", f.Lookup(t.prefix+"-start"))
		viper.BindPFlag("server."+t.key+".count", f.Lookup(t.prefix+"-count"))
	}

	for key, flag := range map[string]string{
		"server.listen":             "listen",
		"server.max-conns":          "max-conns",
		"server.indication-timeout": "indication-timeout",
		"server.slave-id":           "slave-id",
		"server.seed":               "seed",
		"server.metrics-addr":       "metrics-addr",
	} {
		viper.BindPFlag(key, f.Lookup(flag))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	sc := cfg.Server

	mapping, err := modbus.NewMappingStartAddress(
		sc.Coils.Start, sc.Coils.Count,
		sc.DiscreteInputs.Start, sc.DiscreteInputs.Count,
		sc.HoldingRegisters.Start, sc.HoldingRegisters.Count,
		sc.InputRegisters.Start, sc.InputRegisters.Count,
	)
	if err != nil {
		return fmt.Errorf("failed to create mapping: %w", err)
	}

	if sc.Seed != "" {
		seed, err := config.LoadSeed(sc.Seed)
		if err != nil {
			return err
		}
		if err := seed.Apply(mapping); err != nil {
			return err
		}
		outputInfo("Loaded seed %s", sc.Seed)
	}

	server, err := modbus.NewServer(mapping,
		modbus.WithBackend(cfg.BackendKind()),
		modbus.WithServerUnitID(modbus.UnitID(cfg.Unit)),
		modbus.WithMaxConnections(sc.MaxConns),
		modbus.WithIndicationTimeout(sc.IndicationTimeout),
		modbus.WithServerByteTimeout(cfg.ByteTimeout),
		modbus.WithServerResponseTimeout(cfg.Timeout),
		modbus.WithServerErrorRecovery(cfg.RecoveryMode()),
		modbus.WithSlaveID([]byte(sc.SlaveID)),
		modbus.WithServerDebug(cfg.Debug),
		modbus.WithServerLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sc.MetricsAddr != "" {
		shutdown := serveMetrics(sc.MetricsAddr, server)
		defer shutdown()
	}

	if cfg.BackendKind() == modbus.BackendRTU {
		outputInfo("Serving unit %d on %s", cfg.Unit, cfg.Serial.Device)
		err = server.ServeSerial(ctx, cfg.SerialLine())
		server.Close()
	} else {
		outputInfo("Serving %s on %s", cfg.BackendKind(), sc.Listen)
		err = server.ListenAndServeContext(ctx, sc.Listen)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server stopped: %w", err)
	}

	m := server.Metrics()
	outputSuccess("Served %d requests (%d exceptions, %d errors)",
		m.RequestsTotal.Value(), m.Exceptions.Value(), m.RequestsErrors.Value())
	return nil
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func serveMetrics(addr string, server *modbus.Server) func() {
	registry := prometheus.NewRegistry()
	registry.MustRegister(modbus.NewServerCollector(server))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()
	outputInfo("Metrics on http://%s/metrics", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
