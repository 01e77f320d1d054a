// Package main provides modbuscli, a Modbus RTU/TCP client and test server.
package main

import (
	"fmt"
	"os"
)

var version = "1.0.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color(colorRed, "ERROR")+" "+err.Error())
		os.Exit(1)
	}
}
