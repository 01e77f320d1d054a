package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/edgeo-scada/modbus"
)

// createClient builds a client for the configured backend.
func createClient() (*modbus.Client, error) {
	opts := []modbus.Option{
		modbus.WithUnitID(modbus.UnitID(cfg.Unit)),
		modbus.WithResponseTimeout(cfg.Timeout),
		modbus.WithByteTimeout(cfg.ByteTimeout),
		modbus.WithErrorRecovery(cfg.RecoveryMode()),
		modbus.WithDebug(cfg.Debug),
		modbus.WithLogger(logger),
	}

	var (
		client *modbus.Client
		err    error
	)
	switch cfg.BackendKind() {
	case modbus.BackendRTU:
		client, err = modbus.NewRTUClient(cfg.SerialLine(), opts...)
	case modbus.BackendTCPPI:
		client, err = modbus.NewTCPPIClient(cfg.Host, strconv.Itoa(cfg.Port), opts...)
	default:
		client, err = modbus.NewTCPClient(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

// withClient connects a client, runs fn and closes the client.
func withClient(fn func(ctx context.Context, client *modbus.Client) error) error {
	client, err := createClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	return fn(ctx, client)
}

// describeError names the error class so that a silent broadcast, a
// timeout and an exception are told apart.
func describeError(op string, err error) error {
	return fmt.Errorf("%s failed (%s): %w", op, modbus.Classify(err), err)
}
