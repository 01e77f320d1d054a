package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/modbus"
)

var infoMaxLen int

var infoCmd = &cobra.Command{
	Use:     "info",
	Aliases: []string{"probe", "ping"},
	Short:   "Get device information",
	Long: `Probe a Modbus device and report its slave ID (FC17), run status
and the round trip latency.`,
	Example: `  modbuscli info -H 192.168.1.100
  modbuscli info -b rtu -d /dev/ttyUSB0 -u 2`,
	RunE: runInfo,
}

func init() {
	infoCmd.Flags().IntVar(&infoMaxLen, "max-length", modbus.MaxPDULength, "Maximum number of slave ID bytes kept")
}

type DeviceInfo struct {
	Backend      string        `json:"backend"`
	Address      string        `json:"address"`
	UnitID       int           `json:"unit_id"`
	Connected    bool          `json:"connected"`
	Latency      time.Duration `json:"latency_ns"`
	SlaveID      int           `json:"slave_id"`
	RunStatus    string        `json:"run_status,omitempty"`
	Additional   string        `json:"additional,omitempty"`
	AdditionalHx string        `json:"additional_hex,omitempty"`
	Length       int           `json:"length"`
	Error        string        `json:"error,omitempty"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	client, err := createClient()
	if err != nil {
		return err
	}
	defer client.Close()

	info := DeviceInfo{
		Backend: client.Backend().String(),
		Address: client.Link(),
		UnitID:  cfg.Unit,
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		info.Error = err.Error()
		return outputDeviceInfo(&info)
	}
	info.Connected = true

	start := time.Now()
	data, n, err := client.ReportSlaveID(ctx, infoMaxLen)
	info.Latency = time.Since(start)
	if err != nil {
		info.Error = describeError("report slave ID", err).Error()
		return outputDeviceInfo(&info)
	}

	info.Length = n
	if len(data) > 0 {
		info.SlaveID = int(data[0])
	}
	if len(data) > 1 {
		info.RunStatus = "OFF"
		if data[1] == 0xFF {
			info.RunStatus = "ON"
		}
	}
	if len(data) > 2 {
		extra := data[2:]
		info.Additional = strings.TrimRight(string(extra), "\x00")
		info.AdditionalHx = fmt.Sprintf("% X", extra)
	}
	return outputDeviceInfo(&info)
}

func outputDeviceInfo(info *DeviceInfo) error {
	if cfg.Output == "json" {
		return printJSON(info)
	}

	fmt.Println()
	fmt.Println(color(colorBold, "Device Information"))
	fmt.Println(strings.Repeat("-", 40))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Backend:\t%s\n", info.Backend)
	fmt.Fprintf(w, "Address:\t%s\n", info.Address)
	fmt.Fprintf(w, "Unit ID:\t%d\n", info.UnitID)
	if info.Connected {
		fmt.Fprintf(w, "Connected:\t%s\n", color(colorGreen, "yes"))
	} else {
		fmt.Fprintf(w, "Connected:\t%s\n", color(colorRed, "no"))
	}
	if info.Error == "" {
		fmt.Fprintf(w, "Latency:\t%v\n", info.Latency.Round(time.Microsecond))
		fmt.Fprintf(w, "Slave ID:\t%d\n", info.SlaveID)
		if info.RunStatus != "" {
			fmt.Fprintf(w, "Run Status:\t%s\n", info.RunStatus)
		}
		if info.Additional != "" {
			fmt.Fprintf(w, "Additional:\t%s\n", info.Additional)
			fmt.Fprintf(w, "Additional (hex):\t%s\n", info.AdditionalHx)
		}
		fmt.Fprintf(w, "Response length:\t%d\n", info.Length)
	} else {
		fmt.Fprintf(w, "Error:\t%s\n", color(colorRed, info.Error))
	}
	w.Flush()
	fmt.Println()

	if info.Error != "" {
		return errors.New("device probe failed")
	}
	return nil
}
