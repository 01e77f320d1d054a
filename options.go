// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"log/slog"
	"time"
)

// DefaultFlushWindow is how long a flush keeps draining input.
const DefaultFlushWindow = 10 * time.Millisecond

// Option is a functional option for configuring the client.
type Option func(*clientOptions)

type clientOptions struct {
	// Context settings
	unitID          UnitID
	unitSet         bool
	responseTimeout time.Duration
	byteTimeout     time.Duration
	connectTimeout  time.Duration
	recovery        ErrorRecoveryMode
	flushWindow     time.Duration

	// Callbacks
	onConnect    func()
	onDisconnect func(error)

	// Logging
	logger *slog.Logger
	debug  bool
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		unitID:          1,
		responseTimeout: DefaultResponseTimeout,
		byteTimeout:     DefaultByteTimeout,
		connectTimeout:  5 * time.Second,
		flushWindow:     DefaultFlushWindow,
		logger:          slog.Default(),
	}
}

// WithUnitID sets the unit ID requests are addressed to.
func WithUnitID(id UnitID) Option {
	return func(o *clientOptions) {
		o.unitID = id
		o.unitSet = true
	}
}

// WithResponseTimeout sets the wait for the first byte of a confirmation.
func WithResponseTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.responseTimeout = d
	}
}

// WithByteTimeout sets the allowed gap between bytes of one frame. Zero
// disables the inter-byte clock.
func WithByteTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.byteTimeout = d
	}
}

// WithConnectTimeout bounds dialing a TCP server.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithErrorRecovery sets the recovery flags.
func WithErrorRecovery(mode ErrorRecoveryMode) Option {
	return func(o *clientOptions) {
		o.recovery = mode
	}
}

// WithFlushWindow sets how long a flush waits for stray bytes.
func WithFlushWindow(d time.Duration) Option {
	return func(o *clientOptions) {
		o.flushWindow = d
	}
}

// WithOnConnect sets a callback to be called when the connection is established.
func WithOnConnect(fn func()) Option {
	return func(o *clientOptions) {
		o.onConnect = fn
	}
}

// WithOnDisconnect sets a callback to be called when the connection is lost.
func WithOnDisconnect(fn func(error)) Option {
	return func(o *clientOptions) {
		o.onDisconnect = fn
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithDebug logs every ADU in hex at debug level.
func WithDebug(enable bool) Option {
	return func(o *clientOptions) {
		o.debug = enable
	}
}

// Interceptor inspects an indication before the Mapping is touched. A
// non-nil result is sent back as an exception response.
type Interceptor func(req *Request) *ModbusError

// ServerOption is a functional option for configuring the server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger            *slog.Logger
	debug             bool
	backend           Backend
	unitID            UnitID
	maxConns          int
	indicationTimeout time.Duration
	byteTimeout       time.Duration
	responseTimeout   time.Duration
	recovery          ErrorRecoveryMode
	flushWindow       time.Duration
	interceptor       Interceptor
	slaveID           []byte
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		logger:          slog.Default(),
		backend:         BackendTCP,
		unitID:          1,
		maxConns:        100,
		byteTimeout:     DefaultByteTimeout,
		responseTimeout: DefaultResponseTimeout,
		flushWindow:     DefaultFlushWindow,
		slaveID:         []byte("edgeo-modbus"),
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithServerDebug logs every ADU in hex at debug level.
func WithServerDebug(enable bool) ServerOption {
	return func(o *serverOptions) {
		o.debug = enable
	}
}

// WithBackend selects the framing the server speaks.
func WithBackend(b Backend) ServerOption {
	return func(o *serverOptions) {
		o.backend = b
	}
}

// WithServerUnitID sets the address an RTU server answers to.
func WithServerUnitID(id UnitID) ServerOption {
	return func(o *serverOptions) {
		o.unitID = id
	}
}

// WithMaxConnections sets the maximum number of concurrent connections.
func WithMaxConnections(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxConns = n
	}
}

// WithIndicationTimeout bounds the wait for the first byte of a request.
// Zero waits forever.
func WithIndicationTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.indicationTimeout = d
	}
}

// WithServerByteTimeout sets the allowed gap between bytes of a request.
func WithServerByteTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.byteTimeout = d
	}
}

// WithServerResponseTimeout sets the pause protocol recovery takes.
func WithServerResponseTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.responseTimeout = d
	}
}

// WithServerErrorRecovery sets the recovery flags of server connections.
func WithServerErrorRecovery(mode ErrorRecoveryMode) ServerOption {
	return func(o *serverOptions) {
		o.recovery = mode
	}
}

// WithInterceptor installs a validation hook run before each request.
func WithInterceptor(fn Interceptor) ServerOption {
	return func(o *serverOptions) {
		o.interceptor = fn
	}
}

// WithSlaveID sets the device specific bytes of report slave id replies.
func WithSlaveID(data []byte) ServerOption {
	return func(o *serverOptions) {
		o.slaveID = append([]byte(nil), data...)
	}
}

// PoolOption is a functional option for configuring a Pool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	size            int
	maxIdleTime     time.Duration
	healthCheckFreq time.Duration
}

func defaultPoolOptions() *poolOptions {
	return &poolOptions{
		size:        5,
		maxIdleTime: 5 * time.Minute,
	}
}

// WithPoolSize caps the number of live clients.
func WithPoolSize(size int) PoolOption {
	return func(o *poolOptions) {
		o.size = size
	}
}

// WithMaxIdleTime closes clients idle for longer than d. Zero keeps
// them forever.
func WithMaxIdleTime(d time.Duration) PoolOption {
	return func(o *poolOptions) {
		o.maxIdleTime = d
	}
}

// WithHealthCheckInterval starts a goroutine closing expired or
// disconnected idle clients every d. The default, zero, runs no
// background checker; expired clients are then dropped by Get.
func WithHealthCheckInterval(d time.Duration) PoolOption {
	return func(o *poolOptions) {
		o.healthCheckFreq = d
	}
}
