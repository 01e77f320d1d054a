package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/modbus"
	"github.com/edgeo-scada/modbus/internal/config"
)

var (
	cfgFile string

	// Flags without a config key
	verbose   bool
	noColor   bool
	wordOrder string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "modbuscli",
	Short: "A Modbus RTU, TCP and TCP-PI command line tool",
	Long: `modbuscli talks to Modbus devices over serial lines (RTU), TCP on IPv4
and protocol independent TCP (IPv4/IPv6). It can also serve a register
mapping for tests and simulations.

Examples:
  # Read 10 holding registers from address 0
  modbuscli read hr -a 0 -c 10 -H 192.168.1.100

  # Same over an RS485 line
  modbuscli read hr -a 0 -c 10 -b rtu -d /dev/ttyUSB0 --baud 19200 --serial-mode rs485

  # Write value 1234 to register 100
  modbuscli write register -a 100 -V 1234 -H 192.168.1.100

  # Send a raw PDU
  modbuscli raw 0x42 -H 192.168.1.100

  # Scan unit IDs on a serial line
  modbuscli scan -b rtu -d /dev/ttyUSB0

  # Serve a mapping on port 1502
  modbuscli serve --listen :1502 --seed seed.yaml`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()

	// Configuration file
	pf.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.modbuscli.yaml)")

	// Connection flags
	pf.StringP("backend", "b", "tcp", "Backend: tcp, tcppi, rtu")
	pf.StringP("host", "H", "localhost", "Modbus server host (tcp, tcppi)")
	pf.IntP("port", "p", modbus.DefaultPort, "Modbus server port (tcp, tcppi)")
	pf.IntP("unit", "u", 1, "Modbus unit ID (0 broadcasts)")
	pf.DurationP("timeout", "t", modbus.DefaultResponseTimeout, "Response timeout")
	pf.Duration("byte-timeout", modbus.DefaultByteTimeout, "Inter-byte timeout, 0 disables it")
	pf.String("recovery", "none", "Error recovery: none, link, protocol, all")
	pf.Bool("debug", false, "Dump every frame in hex (with -v)")

	// Serial line flags
	pf.StringP("device", "d", "", "Serial device (rtu)")
	pf.Int("baud", 19200, "Baud rate (rtu)")
	pf.String("parity", "E", "Parity: N, E, O (rtu)")
	pf.Int("data-bits", 8, "Data bits (rtu)")
	pf.Int("stop-bits", 1, "Stop bits (rtu)")
	pf.String("serial-mode", "rs232", "Serial mode: rs232, rs485 (rtu)")
	pf.String("rts", "none", "RTS mode on RS485: none, up, down (rtu)")
	pf.Duration("rts-delay", 0, "RTS delay, 0 selects one character time (rtu)")

	// Output flags
	pf.StringP("output", "o", "table", "Output format: table, json, csv, raw")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	pf.BoolVar(&noColor, "no-color", false, "Disable color output")
	pf.StringVar(&wordOrder, "order", "ABCD", "Byte order of 32-bit values: ABCD, DCBA, BADC, CDAB")

	// Bind to viper
	for key, flag := range map[string]string{
		"backend":          "backend",
		"host":             "host",
		"port":             "port",
		"unit":             "unit",
		"timeout":          "timeout",
		"byte-timeout":     "byte-timeout",
		"recovery":         "recovery",
		"debug":            "debug",
		"output":           "output",
		"verbose":          "verbose",
		"serial.device":    "device",
		"serial.baud":      "baud",
		"serial.parity":    "parity",
		"serial.data-bits": "data-bits",
		"serial.stop-bits": "stop-bits",
		"serial.mode":      "serial-mode",
		"serial.rts":       "rts",
		"serial.rts-delay": "rts-delay",
	} {
		viper.BindPFlag(key, pf.Lookup(flag))
	}

	// Add commands
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(rawCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".modbuscli")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MODBUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// operationTimeout bounds a whole command: connect plus one transaction
// with room for a recovery retry.
func operationTimeout() time.Duration {
	return 3*cfg.Timeout + 5*time.Second
}
