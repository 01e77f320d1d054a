package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/modbus"
)

var rawNoReply bool

var rawCmd = &cobra.Command{
	Use:   "raw PDU...",
	Short: "Send a raw PDU",
	Long: `Send a PDU (function code and data, in hex) to the configured unit
without interpreting it, then print the PDU of the confirmation.

The PDU may be given as one string or as several byte arguments.`,
	Example: `  modbuscli raw 0x42 -H 192.168.1.100
  modbuscli raw 03 00 00 00 0A -b rtu -d /dev/ttyUSB0
  modbuscli raw 0600010003 -u 0 --no-reply`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRaw,
}

func init() {
	rawCmd.Flags().BoolVar(&rawNoReply, "no-reply", false, "Do not wait for a confirmation")
}

// parseHexPDU joins args and decodes them; 0x prefixes and separators
// are accepted.
func parseHexPDU(args []string) ([]byte, error) {
	var sb strings.Builder
	for _, a := range args {
		for _, part := range strings.FieldsFunc(a, func(r rune) bool { return r == ',' || r == ':' || r == ' ' }) {
			part = strings.TrimPrefix(strings.TrimPrefix(part, "0x"), "0X")
			if len(part)%2 == 1 {
				part = "0" + part
			}
			sb.WriteString(part)
		}
	}
	pdu, err := hex.DecodeString(sb.String())
	if err != nil {
		return nil, err
	}
	if len(pdu) == 0 {
		return nil, fmt.Errorf("empty PDU")
	}
	return pdu, nil
}

func runRaw(cmd *cobra.Command, args []string) error {
	pdu, err := parseHexPDU(args)
	if err != nil {
		return fmt.Errorf("invalid PDU: %w", err)
	}

	return withClient(func(ctx context.Context, client *modbus.Client) error {
		raw := append([]byte{byte(client.UnitID())}, pdu...)
		n, err := client.SendRawRequest(ctx, raw)
		if err != nil {
			return describeError("send raw request", err)
		}
		outputInfo("Sent %d bytes", n)

		if rawNoReply || client.UnitID() == modbus.BroadcastAddress {
			return nil
		}

		adu, err := client.ReceiveConfirmation(ctx)
		if err != nil {
			return describeError("receive confirmation", err)
		}
		b := client.Backend()
		resp := adu[b.HeaderLength() : len(adu)-b.ChecksumLength()]
		outputBytes("Response", resp)

		if modbus.IsExceptionResponse(resp) {
			outputWarning("%v", modbus.ParseExceptionResponse(resp))
		}
		return nil
	})
}
