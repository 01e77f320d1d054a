package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/modbus"
)

var (
	writeAddr   uint16
	writeValues []string
	maskAnd     string
	maskOr      string
	readBack    uint16
	readBackQty uint16
)

var writeCmd = &cobra.Command{
	Use:     "write",
	Aliases: []string{"w"},
	Short:   "Write data to a Modbus device",
	Long: `Write coils or holding registers on a Modbus device.

With --unit 0 the request is broadcast: no response is awaited and
success only means the frame was sent.`,
}

// Write single coil (FC05)
var writeCoilCmd = &cobra.Command{
	Use:     "coil",
	Aliases: []string{"c"},
	Short:   "Write a single coil (FC05)",
	Example: `  modbuscli write coil -a 0 -V true -H 192.168.1.100
  modbuscli w c -a 10 -V 1`,
	RunE: runWriteCoil,
}

// Write multiple coils (FC15)
var writeCoilsCmd = &cobra.Command{
	Use:     "coils",
	Short:   "Write multiple coils (FC15)",
	Example: `  modbuscli write coils -a 0 -V 1,0,1,1 -H 192.168.1.100`,
	RunE:    runWriteCoils,
}

// Write single register (FC06)
var writeRegisterCmd = &cobra.Command{
	Use:     "register",
	Aliases: []string{"r", "reg"},
	Short:   "Write a single register (FC06)",
	Example: `  modbuscli write register -a 100 -V 1234 -H 192.168.1.100
  modbuscli w r -a 100 -V 0x04D2`,
	RunE: runWriteRegister,
}

// Write multiple registers (FC16)
var writeRegistersCmd = &cobra.Command{
	Use:     "registers",
	Aliases: []string{"regs"},
	Short:   "Write multiple registers (FC16)",
	Example: `  modbuscli write registers -a 100 -V 1,2,3,4 -H 192.168.1.100`,
	RunE:    runWriteRegisters,
}

// Mask write register (FC22)
var writeMaskCmd = &cobra.Command{
	Use:   "mask",
	Short: "Mask write a register (FC22)",
	Long: `Modify a holding register with an AND mask and an OR mask using
function code 22. The new value is (current & and) | (or & ^and).`,
	Example: `  modbuscli write mask -a 4 --and 0xF2 --or 0x25 -H 192.168.1.100`,
	RunE:    runWriteMask,
}

// Write and read registers (FC23)
var writeReadCmd = &cobra.Command{
	Use:   "write-read",
	Short: "Write then read registers in one transaction (FC23)",
	Example: `  modbuscli write write-read -a 10 -V 1,2 --read-address 0 --read-count 4 -H 192.168.1.100`,
	RunE: runWriteRead,
}

func init() {
	for _, cmd := range []*cobra.Command{writeCoilCmd, writeCoilsCmd, writeRegisterCmd, writeRegistersCmd, writeReadCmd} {
		cmd.Flags().Uint16VarP(&writeAddr, "address", "a", 0, "Starting address")
		cmd.Flags().StringSliceVarP(&writeValues, "values", "V", nil, "Values to write")
		cmd.MarkFlagRequired("values")
		writeCmd.AddCommand(cmd)
	}

	writeMaskCmd.Flags().Uint16VarP(&writeAddr, "address", "a", 0, "Register address")
	writeMaskCmd.Flags().StringVar(&maskAnd, "and", "0xFFFF", "AND mask")
	writeMaskCmd.Flags().StringVar(&maskOr, "or", "0x0000", "OR mask")
	writeCmd.AddCommand(writeMaskCmd)

	writeReadCmd.Flags().Uint16Var(&readBack, "read-address", 0, "Read starting address")
	writeReadCmd.Flags().Uint16Var(&readBackQty, "read-count", 1, "Number of registers to read")
}

func runWriteCoil(cmd *cobra.Command, args []string) error {
	if len(writeValues) == 0 {
		return fmt.Errorf("value required")
	}
	value, err := parseBoolValue(writeValues[0])
	if err != nil {
		return fmt.Errorf("invalid coil value: %w", err)
	}

	return withClient(func(ctx context.Context, client *modbus.Client) error {
		if err := client.WriteSingleCoil(ctx, writeAddr, value); err != nil {
			return describeError("write coil", err)
		}
		outputSuccess("Wrote coil %d = %v%s", writeAddr, value, broadcastNote(client))
		return nil
	})
}

func runWriteCoils(cmd *cobra.Command, args []string) error {
	values, err := parseBoolValues(writeValues)
	if err != nil {
		return fmt.Errorf("invalid coil values: %w", err)
	}
	if len(values) == 0 {
		return fmt.Errorf("at least one value required")
	}

	return withClient(func(ctx context.Context, client *modbus.Client) error {
		if err := client.WriteMultipleCoils(ctx, writeAddr, values); err != nil {
			return describeError("write coils", err)
		}
		outputSuccess("Wrote %d coils starting at address %d%s", len(values), writeAddr, broadcastNote(client))
		return nil
	})
}

func runWriteRegister(cmd *cobra.Command, args []string) error {
	if len(writeValues) == 0 {
		return fmt.Errorf("value required")
	}
	value, err := parseUint16Value(writeValues[0])
	if err != nil {
		return fmt.Errorf("invalid register value: %w", err)
	}

	return withClient(func(ctx context.Context, client *modbus.Client) error {
		if err := client.WriteSingleRegister(ctx, writeAddr, value); err != nil {
			return describeError("write register", err)
		}
		outputSuccess("Wrote register %d = %d (0x%04X)%s", writeAddr, value, value, broadcastNote(client))
		return nil
	})
}

func runWriteRegisters(cmd *cobra.Command, args []string) error {
	values, err := parseUint16Values(writeValues)
	if err != nil {
		return fmt.Errorf("invalid register values: %w", err)
	}
	if len(values) == 0 {
		return fmt.Errorf("at least one value required")
	}

	return withClient(func(ctx context.Context, client *modbus.Client) error {
		if err := client.WriteMultipleRegisters(ctx, writeAddr, values); err != nil {
			return describeError("write registers", err)
		}
		outputSuccess("Wrote %d registers starting at address %d%s", len(values), writeAddr, broadcastNote(client))
		return nil
	})
}

func runWriteMask(cmd *cobra.Command, args []string) error {
	and, err := parseUint16Value(maskAnd)
	if err != nil {
		return fmt.Errorf("invalid AND mask: %w", err)
	}
	or, err := parseUint16Value(maskOr)
	if err != nil {
		return fmt.Errorf("invalid OR mask: %w", err)
	}

	return withClient(func(ctx context.Context, client *modbus.Client) error {
		if err := client.MaskWriteRegister(ctx, writeAddr, and, or); err != nil {
			return describeError("mask write register", err)
		}
		outputSuccess("Masked register %d with AND 0x%04X OR 0x%04X%s", writeAddr, and, or, broadcastNote(client))
		return nil
	})
}

func runWriteRead(cmd *cobra.Command, args []string) error {
	values, err := parseUint16Values(writeValues)
	if err != nil {
		return fmt.Errorf("invalid register values: %w", err)
	}

	return withClient(func(ctx context.Context, client *modbus.Client) error {
		regs, err := client.WriteAndReadRegisters(ctx, writeAddr, values, readBack, readBackQty)
		if err != nil {
			return describeError("write and read registers", err)
		}
		return outputRegisterValues("Registers", readBack, regs, "uint16")
	})
}

func broadcastNote(client *modbus.Client) string {
	if client.UnitID() == modbus.BroadcastAddress {
		return " (broadcast, no response)"
	}
	return ""
}

func parseBoolValue(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value: %q", s)
}

func parseBoolValues(values []string) ([]bool, error) {
	result := make([]bool, 0, len(values))
	for _, s := range values {
		v, err := parseBoolValue(s)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

// parseUint16Value accepts decimal, 0x hex and negative int16 values.
func parseUint16Value(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 10, 16)
		if err != nil {
			return 0, err
		}
		return uint16(int16(v)), nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func parseUint16Values(values []string) ([]uint16, error) {
	result := make([]uint16, 0, len(values))
	for _, s := range values {
		v, err := parseUint16Value(s)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}
