package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/modbus"
)

var (
	scanStartUnit uint8
	scanEndUnit   uint8
	scanStartAddr uint16
	scanEndAddr   uint16
	scanTimeout   time.Duration
	scanType      string
	scanWorkers   int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Modbus units or registers",
	Long: `Probe a range of unit IDs on one link, or a range of holding register
addresses on the configured unit.

Unit scans send Report Slave ID (FC17) to every unit in turn. A unit that
answers with an exception is reported as present. Over TCP the units are
probed in parallel on --workers connections; a serial line is probed one
unit at a time.`,
	Example: `  modbuscli scan -b rtu -d /dev/ttyUSB0 --start-unit 1 --end-unit 32
  modbuscli scan --type registers -a 0 -e 200 -H 192.168.1.100`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Uint8Var(&scanStartUnit, "start-unit", 1, "Start unit ID for scanning")
	scanCmd.Flags().Uint8Var(&scanEndUnit, "end-unit", modbus.MaxRTUSlaveID, "End unit ID for scanning")
	scanCmd.Flags().Uint16VarP(&scanStartAddr, "start-addr", "a", 0, "Start address for register scanning")
	scanCmd.Flags().Uint16VarP(&scanEndAddr, "end-addr", "e", 100, "End address for register scanning")
	scanCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 200*time.Millisecond, "Response timeout for each probe")
	scanCmd.Flags().StringVar(&scanType, "type", "units", "Scan type: units, registers")
	scanCmd.Flags().IntVar(&scanWorkers, "workers", 4, "Concurrent connections for TCP unit scans")
}

type ScanResult struct {
	UnitID     uint8         `json:"unit_id"`
	Address    uint16        `json:"address,omitempty"`
	Responsive bool          `json:"responsive"`
	SlaveID    string        `json:"slave_id,omitempty"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency_ns,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanStartUnit == 0 || scanStartUnit > scanEndUnit {
		return fmt.Errorf("invalid unit range %d-%d", scanStartUnit, scanEndUnit)
	}
	if scanStartAddr > scanEndAddr {
		return fmt.Errorf("invalid address range %d-%d", scanStartAddr, scanEndAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if scanType == "units" && cfg.BackendKind() != modbus.BackendRTU && scanWorkers > 1 {
		return scanUnitsParallel(ctx)
	}

	client, err := createScanClient()
	if err != nil {
		return err
	}
	defer client.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, operationTimeout())
	err = client.Connect(connectCtx)
	connectCancel()
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	switch scanType {
	case "units":
		return scanUnits(ctx, client)
	case "registers":
		return scanRegisters(ctx, client)
	default:
		return fmt.Errorf("unknown scan type: %s", scanType)
	}
}

// createScanClient returns a client using the probe timeout.
func createScanClient() (*modbus.Client, error) {
	client, err := createClient()
	if err != nil {
		return nil, err
	}
	sec := uint32(scanTimeout / time.Second)
	usec := uint32((scanTimeout % time.Second) / time.Microsecond)
	if err := client.SetResponseTimeout(sec, usec); err != nil {
		client.Close()
		return nil, fmt.Errorf("invalid scan timeout: %w", err)
	}
	return client, nil
}

func scanUnits(ctx context.Context, client *modbus.Client) error {
	outputInfo("Scanning unit IDs %d-%d on %s...", scanStartUnit, scanEndUnit, client.Link())

	var results []ScanResult
	for uid := int(scanStartUnit); uid <= int(scanEndUnit); uid++ {
		if client.Backend() == modbus.BackendRTU && uid > modbus.MaxRTUSlaveID {
			break
		}
		result := probeUnit(ctx, client, uint8(uid))
		if result.Responsive {
			results = append(results, result)
		}
	}
	return outputScanResults("Unit Scan Results", results)
}

func scanUnitsParallel(ctx context.Context) error {
	pool, err := modbus.NewPool(createScanClient, modbus.WithPoolSize(scanWorkers))
	if err != nil {
		return err
	}
	defer pool.Close()

	outputInfo("Scanning unit IDs %d-%d on %s:%d with %d workers...",
		scanStartUnit, scanEndUnit, cfg.Host, cfg.Port, scanWorkers)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []ScanResult
		failure error
	)
	for uid := int(scanStartUnit); uid <= int(scanEndUnit); uid++ {
		wg.Add(1)
		go func(unitID uint8) {
			defer wg.Done()
			err := pool.Do(ctx, func(client *modbus.Client) error {
				result := probeUnit(ctx, client, unitID)
				if result.Responsive {
					mu.Lock()
					results = append(results, result)
					mu.Unlock()
				}
				return nil
			})
			if err != nil {
				mu.Lock()
				failure = err
				mu.Unlock()
			}
		}(uint8(uid))
	}
	wg.Wait()

	if failure != nil && len(results) == 0 {
		return fmt.Errorf("scan failed: %w", failure)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].UnitID < results[j].UnitID
	})
	return outputScanResults("Unit Scan Results", results)
}

func probeUnit(ctx context.Context, client *modbus.Client, unitID uint8) ScanResult {
	result := ScanResult{UnitID: unitID}

	start := time.Now()
	data, _, err := client.ReportSlaveIDWithUnit(ctx, modbus.UnitID(unitID), modbus.MaxPDULength)
	switch {
	case err == nil:
		result.Responsive = true
		result.Latency = time.Since(start)
		if len(data) > 2 {
			result.SlaveID = strings.TrimRight(string(data[2:]), "\x00")
		}
	case modbus.Classify(err) == modbus.ClassException:
		result.Responsive = true
		result.Latency = time.Since(start)
		result.Error = err.Error()
	default:
		result.Error = err.Error()
		// A partial frame on a shared line would corrupt the next probe.
		client.Flush()
	}
	return result
}

func scanRegisters(ctx context.Context, client *modbus.Client) error {
	outputInfo("Scanning holding registers %d-%d on unit %d...", scanStartAddr, scanEndAddr, client.UnitID())

	var results []ScanResult
	for addr := int(scanStartAddr); addr <= int(scanEndAddr); addr++ {
		_, err := client.ReadHoldingRegisters(ctx, uint16(addr), 1)
		if err == nil {
			results = append(results, ScanResult{UnitID: uint8(client.UnitID()), Address: uint16(addr), Responsive: true})
			continue
		}
		var mbErr *modbus.ModbusError
		if !errors.As(err, &mbErr) {
			return describeError("register scan", err)
		}
	}
	return outputScanResults("Register Scan Results", results)
}

func outputScanResults(title string, results []ScanResult) error {
	if cfg.Output == "json" {
		return printJSON(results)
	}

	fmt.Println()
	fmt.Println(color(colorBold, title))
	fmt.Println(strings.Repeat("-", 40))
	if len(results) == 0 {
		outputWarning("nothing found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UNIT\tADDRESS\tLATENCY\tSLAVE ID\tNOTE")
	for _, r := range results {
		latency := "-"
		if r.Latency > 0 {
			latency = r.Latency.Round(time.Microsecond).String()
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", r.UnitID, r.Address, latency, r.SlaveID, r.Error)
	}
	w.Flush()
	fmt.Println()
	outputSuccess("%d found", len(results))
	return nil
}
