package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/modbus"
)

var (
	readAddr   uint16
	readCount  uint16
	readFormat string
)

var readCmd = &cobra.Command{
	Use:     "read",
	Aliases: []string{"r"},
	Short:   "Read data from a Modbus device",
	Long:    `Read coils, discrete inputs, holding registers, or input registers from a Modbus device.`,
}

// Read coils (FC01)
var readCoilsCmd = &cobra.Command{
	Use:     "coils",
	Aliases: []string{"c", "coil"},
	Short:   "Read coils (FC01)",
	Example: `  modbuscli read coils -a 0 -c 10 -H 192.168.1.100
  modbuscli r c -a 100 -c 8 -b rtu -d /dev/ttyUSB0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return readBits("Coils", (*modbus.Client).ReadCoils)
	},
}

// Read discrete inputs (FC02)
var readDiscreteInputsCmd = &cobra.Command{
	Use:     "discrete-inputs",
	Aliases: []string{"di", "discrete"},
	Short:   "Read discrete inputs (FC02)",
	Example: `  modbuscli read discrete-inputs -a 0 -c 10 -H 192.168.1.100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return readBits("Discrete Inputs", (*modbus.Client).ReadDiscreteInputs)
	},
}

const registerFormats = `
Supported formats for -f/--format flag:
  uint16  - Unsigned 16-bit integer (default)
  int16   - Signed 16-bit integer
  uint32  - Unsigned 32-bit integer (2 registers)
  int32   - Signed 32-bit integer (2 registers)
  float32 - 32-bit floating point (2 registers)

32-bit values follow the --order flag.`

// Read holding registers (FC03)
var readHoldingRegistersCmd = &cobra.Command{
	Use:     "holding-registers",
	Aliases: []string{"hr", "holding"},
	Short:   "Read holding registers (FC03)",
	Long:    "Read holding registers using function code 03.\n" + registerFormats,
	Example: `  modbuscli read holding-registers -a 0 -c 10 -H 192.168.1.100
  modbuscli r hr -a 100 -c 4 -f float32 --order CDAB`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return readRegisters("Holding Registers", (*modbus.Client).ReadHoldingRegisters)
	},
}

// Read input registers (FC04)
var readInputRegistersCmd = &cobra.Command{
	Use:     "input-registers",
	Aliases: []string{"ir", "input"},
	Short:   "Read input registers (FC04)",
	Long:    "Read input registers using function code 04.\n" + registerFormats,
	Example: `  modbuscli read input-registers -a 0 -c 10 -H 192.168.1.100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return readRegisters("Input Registers", (*modbus.Client).ReadInputRegisters)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{readCoilsCmd, readDiscreteInputsCmd, readHoldingRegistersCmd, readInputRegistersCmd} {
		cmd.Flags().Uint16VarP(&readAddr, "address", "a", 0, "Starting address")
		cmd.Flags().Uint16VarP(&readCount, "count", "c", 1, "Number of items to read")
		readCmd.AddCommand(cmd)
	}
	readHoldingRegistersCmd.Flags().StringVarP(&readFormat, "format", "f", "uint16", "Value format")
	readInputRegistersCmd.Flags().StringVarP(&readFormat, "format", "f", "uint16", "Value format")
}

type bitReader func(*modbus.Client, context.Context, uint16, uint16) ([]bool, error)

type registerReader func(*modbus.Client, context.Context, uint16, uint16) ([]uint16, error)

func readBits(title string, read bitReader) error {
	return withClient(func(ctx context.Context, client *modbus.Client) error {
		values, err := read(client, ctx, readAddr, readCount)
		if err != nil {
			return describeError("read "+title, err)
		}
		return outputBoolValues(title, readAddr, values)
	})
}

func readRegisters(title string, read registerReader) error {
	return withClient(func(ctx context.Context, client *modbus.Client) error {
		values, err := read(client, ctx, readAddr, readCount)
		if err != nil {
			return describeError("read "+title, err)
		}
		return outputRegisterValues(title, readAddr, values, readFormat)
	})
}
