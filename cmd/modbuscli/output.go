package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/edgeo-scada/modbus"
)

// Color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func color(c, s string) string {
	if noColor {
		return s
	}
	return c + s + colorReset
}

func outputSuccess(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(color(colorGreen, "OK") + " " + msg)
}

func outputWarning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, color(colorYellow, "WARN")+" "+msg)
}

func outputInfo(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(color(colorCyan, "INFO") + " " + msg)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type BoolResult struct {
	Address uint16 `json:"address"`
	Value   bool   `json:"value"`
}

type RegisterResult struct {
	Address uint16      `json:"address"`
	Raw     []uint16    `json:"raw"`
	Value   interface{} `json:"value"`
	Format  string      `json:"format"`
}

func outputBoolValues(title string, startAddr uint16, values []bool) error {
	switch cfg.Output {
	case "json":
		results := make([]BoolResult, len(values))
		for i, v := range values {
			results[i] = BoolResult{Address: startAddr + uint16(i), Value: v}
		}
		return printJSON(results)
	case "csv":
		w := csv.NewWriter(os.Stdout)
		w.Write([]string{"address", "value"})
		for i, v := range values {
			w.Write([]string{strconv.Itoa(int(startAddr) + i), bit(v)})
		}
		w.Flush()
		return w.Error()
	case "raw":
		var sb strings.Builder
		for _, v := range values {
			sb.WriteString(bit(v))
		}
		fmt.Println(sb.String())
		return nil
	}

	printTitle(title, startAddr, len(values))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tVALUE\tSTATUS")
	fmt.Fprintln(w, "-------\t-----\t------")
	for i, v := range values {
		status := color(colorRed, "OFF")
		if v {
			status = color(colorGreen, "ON")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", int(startAddr)+i, bit(v), status)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func bit(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func printTitle(title string, startAddr uint16, n int) {
	fmt.Printf("\n%s (Address %d-%d, Count: %d)\n",
		color(colorBold, title), startAddr, int(startAddr)+n-1, n)
	fmt.Println(strings.Repeat("-", 40))
}

// decodeRegisters groups registers by format. 32-bit formats consume
// two registers in the --order byte order; a trailing odd register is
// dropped.
func decodeRegisters(startAddr uint16, values []uint16, format string) ([]RegisterResult, error) {
	order, err := modbus.ParseByteOrder(wordOrder)
	if err != nil {
		return nil, err
	}

	var results []RegisterResult
	switch format {
	case "uint16", "":
		for i, v := range values {
			results = append(results, RegisterResult{startAddr + uint16(i), []uint16{v}, v, "uint16"})
		}
	case "int16":
		for i, v := range values {
			results = append(results, RegisterResult{startAddr + uint16(i), []uint16{v}, int16(v), format})
		}
	case "uint32", "int32", "float32":
		for i := 0; i+1 < len(values); i += 2 {
			regs := [2]uint16{values[i], values[i+1]}
			var v interface{}
			switch format {
			case "uint32":
				v = modbus.RegistersToUint32(regs, order)
			case "int32":
				v = modbus.RegistersToInt32(regs, order)
			default:
				v = modbus.RegistersToFloat32(regs, order)
			}
			results = append(results, RegisterResult{startAddr + uint16(i), regs[:], v, format})
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	return results, nil
}

func outputRegisterValues(title string, startAddr uint16, values []uint16, format string) error {
	results, err := decodeRegisters(startAddr, values, format)
	if err != nil {
		return err
	}

	switch cfg.Output {
	case "json":
		return printJSON(results)
	case "csv":
		w := csv.NewWriter(os.Stdout)
		w.Write([]string{"address", "hex", "value"})
		for _, r := range results {
			w.Write([]string{strconv.Itoa(int(r.Address)), hexRegisters(r.Raw), fmt.Sprint(r.Value)})
		}
		w.Flush()
		return w.Error()
	case "raw":
		for _, r := range results {
			fmt.Println(r.Value)
		}
		return nil
	}

	printTitle(title, startAddr, len(values))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tVALUE\tHEX")
	fmt.Fprintln(w, "-------\t-----\t---")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%v\t%s\n", r.Address, r.Value, hexRegisters(r.Raw))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func hexRegisters(regs []uint16) string {
	parts := make([]string, len(regs))
	for i, r := range regs {
		parts[i] = fmt.Sprintf("%04X", r)
	}
	return "0x" + strings.Join(parts, "")
}

func outputBytes(title string, data []byte) {
	if cfg.Output == "json" {
		printJSON(map[string]interface{}{"title": title, "hex": fmt.Sprintf("% X", data), "length": len(data)})
		return
	}
	fmt.Printf("%s: % X\n", title, data)
}
