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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edgeo-scada/modbus/internal/transport"
)

// SerialConfig describes the serial line of an RTU client.
type SerialConfig struct {
	Device   string
	BaudRate int
	// Parity is "N", "E" or "O".
	Parity   string
	DataBits int
	StopBits int

	Mode SerialMode
	RTS  RTSMode
	// RTSDelay defaults to one character time.
	RTSDelay time.Duration
	// FrameDelay overrides the 3.5 character inter-frame silence.
	FrameDelay time.Duration
	// CustomRTS replaces the driver's RTS handling on RS485 lines with
	// RTS set to RTS.
	CustomRTS func(on bool)
}

func (c SerialConfig) validate() error {
	switch {
	case c.Device == "":
		return fmt.Errorf("%w: empty serial device", ErrInvalidParameter)
	case c.BaudRate <= 0:
		return fmt.Errorf("%w: baud rate %d", ErrInvalidParameter, c.BaudRate)
	case c.Parity != "N" && c.Parity != "E" && c.Parity != "O":
		return fmt.Errorf("%w: parity %q", ErrInvalidParameter, c.Parity)
	case c.DataBits < 5 || c.DataBits > 8:
		return fmt.Errorf("%w: data bits %d", ErrInvalidParameter, c.DataBits)
	case c.StopBits < 1 || c.StopBits > 2:
		return fmt.Errorf("%w: stop bits %d", ErrInvalidParameter, c.StopBits)
	case c.RTSDelay < 0 || c.FrameDelay < 0:
		return fmt.Errorf("%w: negative delay", ErrInvalidParameter)
	}
	return nil
}

func (c SerialConfig) linkConfig() transport.SerialConfig {
	return transport.SerialConfig{
		Device:     c.Device,
		BaudRate:   c.BaudRate,
		DataBits:   c.DataBits,
		StopBits:   c.StopBits,
		Parity:     c.Parity,
		RS485:      c.Mode == SerialRS485,
		RTS:        int(c.RTS),
		RTSDelay:   c.RTSDelay,
		FrameDelay: c.FrameDelay,
		CustomRTS:  c.CustomRTS,
	}
}

// Client is a Modbus master context. Requests on one Client are
// serialised: the protocol is half-duplex.
type Client struct {
	backend Backend
	addr    string
	link    transport.Link
	serial  *transport.SerialLink
	opts    *clientOptions
	metrics *Metrics
	logger  *slog.Logger

	// txMu is held for a whole transaction.
	txMu    sync.Mutex
	txIDGen TransactionIDGenerator

	mu              sync.Mutex
	conn            Transporter
	state           ConnectionState
	unitID          UnitID
	responseTimeout time.Duration
	byteTimeout     time.Duration
	recovery        ErrorRecoveryMode
	debug           bool
}

// NewTCPClient creates a client for a Modbus TCP server on IPv4. addr is
// "host:port"; the port defaults to 502.
func NewTCPClient(addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("modbus: address cannot be empty")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, fmt.Sprint(DefaultPort))
	}
	options := buildOptions(TCPSlaveID, opts)
	return newClient(BackendTCP, addr, transport.NewTCPLink(addr, options.connectTimeout), options)
}

// NewTCPPIClient creates a protocol independent TCP client. node is a
// host name or an IPv4/IPv6 address and service a port or service name.
func NewTCPPIClient(node, service string, opts ...Option) (*Client, error) {
	if node == "" {
		return nil, errors.New("modbus: node cannot be empty")
	}
	if service == "" {
		service = fmt.Sprint(DefaultPort)
	}
	options := buildOptions(TCPSlaveID, opts)
	return newClient(BackendTCPPI, net.JoinHostPort(node, service), transport.NewTCPPILink(node, service, options.connectTimeout), options)
}

// NewRTUClient creates a client on a serial line.
func NewRTUClient(cfg SerialConfig, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	options := buildOptions(1, opts)
	link := transport.NewSerialLink(cfg.linkConfig())
	c, err := newClient(BackendRTU, cfg.Device, link, options)
	if err != nil {
		return nil, err
	}
	c.serial = link
	return c, nil
}

func buildOptions(defaultUnit UnitID, opts []Option) *clientOptions {
	options := defaultOptions()
	options.unitID = defaultUnit
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func newClient(backend Backend, addr string, link transport.Link, options *clientOptions) (*Client, error) {
	if err := checkUnitID(backend, options.unitID); err != nil {
		return nil, err
	}
	if options.responseTimeout <= 0 {
		return nil, fmt.Errorf("%w: response timeout must be positive", ErrInvalidParameter)
	}
	if options.byteTimeout < 0 {
		return nil, fmt.Errorf("%w: negative byte timeout", ErrInvalidParameter)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	return &Client{
		backend:         backend,
		addr:            addr,
		link:            link,
		opts:            options,
		metrics:         NewMetrics(),
		logger:          options.logger.With(slog.String("backend", backend.String())),
		state:           StateDisconnected,
		unitID:          options.unitID,
		responseTimeout: options.responseTimeout,
		byteTimeout:     options.byteTimeout,
		recovery:        options.recovery,
		debug:           options.debug,
	}, nil
}

func checkUnitID(backend Backend, id UnitID) error {
	if backend == BackendRTU && id > MaxRTUSlaveID {
		return fmt.Errorf("%w: %d (RTU accepts 0..%d)", ErrInvalidSlaveID, id, MaxRTUSlaveID)
	}
	return nil
}

// Connect opens the underlying link.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Debug("connecting", slog.String("addr", c.link.String()))

	conn, err := c.link.Open(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.metrics.ActiveConns.Add(1)
	c.mu.Unlock()

	c.logger.Info("connected", slog.String("addr", c.link.String()))

	if c.opts.onConnect != nil {
		c.opts.onConnect()
	}
	return nil
}

// Close closes the link. A closed client may Connect again.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	wasConnected := c.state == StateConnected
	c.conn = nil
	c.state = StateDisconnected
	if wasConnected {
		c.metrics.ActiveConns.Add(-1)
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.logger.Debug("closing connection", slog.String("addr", c.link.String()))
	return conn.Close()
}

// Flush discards unread input and returns the number of bytes dropped.
func (c *Client) Flush() (int, error) {
	conn, err := c.transporter()
	if err != nil {
		return 0, err
	}
	n, err := transport.Flush(conn, c.opts.flushWindow)
	if n > 0 {
		c.logger.Debug("flushed input", slog.Int("bytes", n))
	}
	return n, err
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Metrics returns the client metrics.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Backend returns the framing of the client.
func (c *Client) Backend() Backend {
	return c.backend
}

// Address returns the server address, "host:port", or the serial
// device of an RTU client.
func (c *Client) Address() string {
	return c.addr
}

// Link describes the link with its scheme and, for serial lines, the
// line settings.
func (c *Client) Link() string {
	return c.link.String()
}

// SetUnitID sets the unit ID for subsequent requests. RTU accepts
// 0..247, TCP any value.
func (c *Client) SetUnitID(id UnitID) error {
	if err := checkUnitID(c.backend, id); err != nil {
		return err
	}
	c.mu.Lock()
	c.unitID = id
	c.mu.Unlock()
	return nil
}

// UnitID returns the current unit ID.
func (c *Client) UnitID() UnitID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unitID
}

func checkTimeout(sec, usec uint32) error {
	if usec > 999999 {
		return fmt.Errorf("%w: %d microseconds", ErrInvalidParameter, usec)
	}
	return nil
}

// SetResponseTimeout sets the wait for the first byte of a confirmation.
// (0, 0) is rejected.
func (c *Client) SetResponseTimeout(sec, usec uint32) error {
	if err := checkTimeout(sec, usec); err != nil {
		return err
	}
	if sec == 0 && usec == 0 {
		return fmt.Errorf("%w: zero response timeout", ErrInvalidParameter)
	}
	c.mu.Lock()
	c.responseTimeout = Timeout{sec, usec}.Duration()
	c.mu.Unlock()
	return nil
}

// ResponseTimeout returns the response timeout.
func (c *Client) ResponseTimeout() Timeout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return NewTimeout(c.responseTimeout)
}

// SetByteTimeout sets the allowed gap between two bytes of a frame.
// (0, 0) disables it; the response timeout then covers the whole frame.
func (c *Client) SetByteTimeout(sec, usec uint32) error {
	if err := checkTimeout(sec, usec); err != nil {
		return err
	}
	c.mu.Lock()
	c.byteTimeout = Timeout{sec, usec}.Duration()
	c.mu.Unlock()
	return nil
}

// ByteTimeout returns the byte timeout.
func (c *Client) ByteTimeout() Timeout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return NewTimeout(c.byteTimeout)
}

// SetErrorRecovery sets the recovery flags.
func (c *Client) SetErrorRecovery(mode ErrorRecoveryMode) error {
	if mode&^(ErrorRecoveryLink|ErrorRecoveryProtocol) != 0 {
		return fmt.Errorf("%w: recovery mode %d", ErrInvalidParameter, mode)
	}
	c.mu.Lock()
	c.recovery = mode
	c.mu.Unlock()
	return nil
}

// ErrorRecovery returns the recovery flags.
func (c *Client) ErrorRecovery() ErrorRecoveryMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recovery
}

// SetDebug toggles hex dumps of every ADU at debug level.
func (c *Client) SetDebug(enable bool) {
	c.mu.Lock()
	c.debug = enable
	c.mu.Unlock()
}

func (c *Client) serialLink() (*transport.SerialLink, error) {
	if c.serial == nil {
		return nil, fmt.Errorf("%w: not an RTU context", ErrInvalidParameter)
	}
	return c.serial, nil
}

// SerialMode returns the electrical mode of an RTU line.
func (c *Client) SerialMode() (SerialMode, error) {
	l, err := c.serialLink()
	if err != nil {
		return 0, err
	}
	if l.Config().RS485 {
		return SerialRS485, nil
	}
	return SerialRS232, nil
}

// SetSerialMode selects RS232 or RS485. Line settings apply when the
// link is next opened.
func (c *Client) SetSerialMode(mode SerialMode) error {
	l, err := c.serialLink()
	if err != nil {
		return err
	}
	if mode != SerialRS232 && mode != SerialRS485 {
		return fmt.Errorf("%w: serial mode %d", ErrInvalidParameter, mode)
	}
	l.Update(func(cfg *transport.SerialConfig) {
		cfg.RS485 = mode == SerialRS485
	})
	return nil
}

// RTS returns the RTS mode of an RTU line.
func (c *Client) RTS() (RTSMode, error) {
	l, err := c.serialLink()
	if err != nil {
		return 0, err
	}
	return RTSMode(l.Config().RTS), nil
}

// SetRTS sets how RTS is driven around transmissions. Only RS485 lines
// drive RTS.
func (c *Client) SetRTS(mode RTSMode) error {
	l, err := c.serialLink()
	if err != nil {
		return err
	}
	if mode < RTSNone || mode > RTSDown {
		return fmt.Errorf("%w: RTS mode %d", ErrInvalidParameter, mode)
	}
	if !l.Config().RS485 {
		return fmt.Errorf("%w: RTS requires RS485 mode", ErrInvalidParameter)
	}
	l.Update(func(cfg *transport.SerialConfig) {
		cfg.RTS = int(mode)
	})
	return nil
}

// RTSDelay returns the delay applied around RTS toggles.
func (c *Client) RTSDelay() (time.Duration, error) {
	l, err := c.serialLink()
	if err != nil {
		return 0, err
	}
	cfg := l.Config()
	if cfg.RTSDelay > 0 {
		return cfg.RTSDelay, nil
	}
	return cfg.CharTime(), nil
}

// SetRTSDelay sets the delay applied around RTS toggles.
func (c *Client) SetRTSDelay(d time.Duration) error {
	l, err := c.serialLink()
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("%w: negative RTS delay", ErrInvalidParameter)
	}
	l.Update(func(cfg *transport.SerialConfig) {
		cfg.RTSDelay = d
	})
	return nil
}

// SetCustomRTS installs fn to drive RTS around each transmission,
// following the RTS mode and delay. nil returns RTS to the driver. The
// function applies when the link is next opened.
func (c *Client) SetCustomRTS(fn func(on bool)) error {
	l, err := c.serialLink()
	if err != nil {
		return err
	}
	l.Update(func(cfg *transport.SerialConfig) {
		cfg.CustomRTS = fn
	})
	return nil
}

func (c *Client) transporter() (Transporter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// settings is a snapshot of the configuration a transaction runs with.
type settings struct {
	responseTimeout time.Duration
	byteTimeout     time.Duration
	recovery        ErrorRecoveryMode
	debug           bool
}

func (c *Client) settings() settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return settings{c.responseTimeout, c.byteTimeout, c.recovery, c.debug}
}

func (c *Client) logADU(s settings, dir string, adu []byte) {
	if s.debug {
		c.logger.Debug(dir, slog.String("adu", fmt.Sprintf("% X", adu)))
	}
}

// broadcastable reports function codes that may address unit 0.
func broadcastable(fc FunctionCode) bool {
	switch fc {
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils,
		FuncWriteMultipleRegisters, FuncMaskWriteRegister:
		return true
	}
	return false
}

// send runs a request against the current unit ID.
func (c *Client) send(ctx context.Context, pdu []byte) ([]byte, error) {
	return c.sendWithUnit(ctx, c.UnitID(), pdu)
}

func (c *Client) sendWithUnit(ctx context.Context, unitID UnitID, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("%w: empty PDU", ErrInvalidParameter)
	}
	fc := FunctionCode(pdu[0])
	if unitID == BroadcastAddress && !broadcastable(fc) {
		return nil, fmt.Errorf("%w: %s cannot be broadcast", ErrInvalidParameter, fc)
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	s := c.settings()
	rsp, err := c.transact(ctx, s, unitID, pdu)
	if err != nil && s.recovery.Has(ErrorRecoveryLink) && isLinkError(err) {
		c.logger.Warn("link failure, reconnecting",
			slog.String("addr", c.link.String()),
			slog.String("error", err.Error()))
		if rerr := c.reconnect(ctx, err); rerr != nil {
			return nil, fmt.Errorf("%w (reconnect failed: %v)", err, rerr)
		}
		rsp, err = c.transact(ctx, s, unitID, pdu)
	}
	return rsp, err
}

// transact runs one request/confirmation exchange and returns the
// confirmation PDU, or nil for broadcasts.
func (c *Client) transact(ctx context.Context, s settings, unitID UnitID, pdu []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := c.transporter()
	if err != nil {
		return nil, err
	}

	fc := FunctionCode(pdu[0])
	fm := c.metrics.ForFunction(fc)
	start := time.Now()
	c.metrics.RequestsTotal.Add(1)
	fm.Requests.Add(1)

	rsp, err := c.exchange(ctx, s, conn, unitID, pdu)
	if err != nil {
		c.metrics.RequestsErrors.Add(1)
		fm.Errors.Add(1)
		if IsTimeout(err) {
			c.metrics.Timeouts.Add(1)
		}
		return nil, err
	}

	duration := time.Since(start)
	c.metrics.RequestsSuccess.Add(1)
	c.metrics.Latency.Observe(duration)
	fm.Latency.Observe(duration)
	return rsp, nil
}

func (c *Client) exchange(ctx context.Context, s settings, conn Transporter, unitID UnitID, pdu []byte) ([]byte, error) {
	txID := c.txIDGen.Next()
	req := &Frame{
		Header: MBAPHeader{TransactionID: txID, ProtocolID: ProtocolID, UnitID: unitID},
		PDU:    pdu,
	}
	fc := FunctionCode(pdu[0])

	c.logger.Debug("sending request",
		slog.Uint64("tx_id", uint64(txID)),
		slog.Uint64("unit_id", uint64(unitID)),
		slog.String("func", fc.String()))

	if _, err := c.write(ctx, s, conn, c.backend.Encode(req)); err != nil {
		return nil, err
	}
	if unitID == BroadcastAddress {
		return nil, nil
	}

	rsp, err := c.receive(ctx, s, conn)
	if err != nil {
		return nil, c.recoverProtocol(ctx, s, conn, err)
	}

	if rsp.Header.UnitID != unitID || (c.backend != BackendRTU && rsp.Header.TransactionID != txID) {
		err = fmt.Errorf("%w: expected tx %d unit %d, got tx %d unit %d", ErrInvalidTIDOrSlave,
			txID, unitID, rsp.Header.TransactionID, rsp.Header.UnitID)
		return nil, c.recoverProtocol(ctx, s, conn, err)
	}
	if err := checkConfirmation(pdu, rsp.PDU); err != nil {
		var me *ModbusError
		if errors.As(err, &me) {
			return nil, err
		}
		return nil, c.recoverProtocol(ctx, s, conn, err)
	}

	c.logger.Debug("received response", slog.Uint64("tx_id", uint64(txID)))
	return rsp.PDU, nil
}

func (c *Client) write(ctx context.Context, s settings, conn Transporter, adu []byte) (int, error) {
	if wd, ok := conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		deadline, _ := ctx.Deadline()
		wd.SetWriteDeadline(deadline)
	}
	c.logADU(s, "send", adu)
	n, err := conn.Write(adu)
	if err != nil {
		return n, wrapReadError(err, n, len(adu))
	}
	return n, nil
}

// receive reads and decodes one confirmation under the response and
// byte timeouts.
func (c *Client) receive(ctx context.Context, s settings, conn Transporter) (*Frame, error) {
	r := &frameReader{
		t:       conn,
		backend: c.backend,
		first:   s.responseTimeout,
		between: s.byteTimeout,
	}
	if deadline, ok := ctx.Deadline(); ok {
		r.limit = deadline
	}
	adu, err := r.read(msgConfirmation)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && IsTimeout(err) {
			return nil, fmt.Errorf("%w: %w", err, ctxErr)
		}
		return nil, err
	}
	c.logADU(s, "recv", adu)
	return c.backend.Decode(adu)
}

// recoverProtocol applies protocol recovery for framing anomalies and returns
// err unchanged.
func (c *Client) recoverProtocol(ctx context.Context, s settings, conn Transporter, err error) error {
	if !s.recovery.Has(ErrorRecoveryProtocol) || Classify(err) != ClassFraming {
		return err
	}
	c.logger.Debug("protocol recovery",
		slog.Duration("sleep", s.responseTimeout),
		slog.String("error", err.Error()))
	sleepContext(ctx, s.responseTimeout)
	if n, ferr := transport.Flush(conn, c.opts.flushWindow); ferr == nil && n > 0 {
		c.logger.Debug("flushed input", slog.Int("bytes", n))
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	conn := c.conn
	wasConnected := c.state == StateConnected
	c.conn = nil
	c.state = StateDisconnected
	if wasConnected {
		c.metrics.ActiveConns.Add(-1)
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.logger.Warn("disconnected", slog.String("error", err.Error()))

	if c.opts.onDisconnect != nil {
		c.opts.onDisconnect(err)
	}
}

func (c *Client) reconnect(ctx context.Context, cause error) error {
	c.handleDisconnect(cause)
	c.metrics.Reconnections.Add(1)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.logger.Info("reconnected", slog.String("addr", c.link.String()))
	return nil
}

// SendRawRequest frames raw ([unit][function code][data...]) for the
// backend and sends it without interpretation. It returns the number of
// bytes written.
func (c *Client) SendRawRequest(ctx context.Context, raw []byte) (int, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("%w: raw request needs a unit and a function code", ErrInvalidParameter)
	}
	if len(raw)-1 > MaxPDULength {
		return 0, fmt.Errorf("%w: raw PDU of %d bytes", ErrTooManyData, len(raw)-1)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	conn, err := c.transporter()
	if err != nil {
		return 0, err
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	s := c.settings()
	req := &Frame{
		Header: MBAPHeader{TransactionID: c.txIDGen.Next(), ProtocolID: ProtocolID, UnitID: UnitID(raw[0])},
		PDU:    raw[1:],
	}
	return c.write(ctx, s, conn, c.backend.Encode(req))
}

// ReceiveConfirmation reads the next confirmation ADU, header and
// checksum included. RTU checksums are verified.
func (c *Client) ReceiveConfirmation(ctx context.Context) ([]byte, error) {
	conn, err := c.transporter()
	if err != nil {
		return nil, err
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	s := c.settings()
	r := &frameReader{
		t:       conn,
		backend: c.backend,
		first:   s.responseTimeout,
		between: s.byteTimeout,
	}
	if deadline, ok := ctx.Deadline(); ok {
		r.limit = deadline
	}
	adu, err := r.read(msgConfirmation)
	if err != nil {
		return nil, c.recoverProtocol(ctx, s, conn, err)
	}
	c.logADU(s, "recv", adu)
	if _, err := c.backend.Decode(adu); err != nil {
		return nil, c.recoverProtocol(ctx, s, conn, err)
	}
	return adu, nil
}

// ReadCoils reads coils from the server (FC01).
func (c *Client) ReadCoils(ctx context.Context, addr, qty uint16) ([]bool, error) {
	return c.ReadCoilsWithUnit(ctx, c.UnitID(), addr, qty)
}

// ReadDiscreteInputs reads discrete inputs from the server (FC02).
func (c *Client) ReadDiscreteInputs(ctx context.Context, addr, qty uint16) ([]bool, error) {
	return c.ReadDiscreteInputsWithUnit(ctx, c.UnitID(), addr, qty)
}

// ReadHoldingRegisters reads holding registers from the server (FC03).
func (c *Client) ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return c.ReadHoldingRegistersWithUnit(ctx, c.UnitID(), addr, qty)
}

// ReadInputRegisters reads input registers from the server (FC04).
func (c *Client) ReadInputRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return c.ReadInputRegistersWithUnit(ctx, c.UnitID(), addr, qty)
}

// WriteSingleCoil writes a single coil (FC05).
func (c *Client) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	resp, err := c.send(ctx, BuildWriteSingleCoilPDU(addr, value))
	if err != nil || resp == nil {
		return err
	}
	expectedValue := CoilOff
	if value {
		expectedValue = CoilOn
	}
	return ParseWriteResponse(resp, addr, expectedValue)
}

// WriteSingleRegister writes a single register (FC06).
func (c *Client) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	resp, err := c.send(ctx, BuildWriteSingleRegisterPDU(addr, value))
	if err != nil || resp == nil {
		return err
	}
	return ParseWriteResponse(resp, addr, value)
}

// WriteMultipleCoils writes multiple coils (FC15).
func (c *Client) WriteMultipleCoils(ctx context.Context, addr uint16, values []bool) error {
	pdu, err := BuildWriteMultipleCoilsPDU(addr, values)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, pdu)
	if err != nil || resp == nil {
		return err
	}
	return ParseWriteMultipleResponse(resp, addr, uint16(len(values)))
}

// WriteMultipleRegisters writes multiple registers (FC16).
func (c *Client) WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error {
	pdu, err := BuildWriteMultipleRegistersPDU(addr, values)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, pdu)
	if err != nil || resp == nil {
		return err
	}
	return ParseWriteMultipleResponse(resp, addr, uint16(len(values)))
}

// MaskWriteRegister modifies a holding register with
// (current AND andMask) OR (orMask AND NOT andMask) (FC22).
func (c *Client) MaskWriteRegister(ctx context.Context, addr, andMask, orMask uint16) error {
	resp, err := c.send(ctx, BuildMaskWriteRegisterPDU(addr, andMask, orMask))
	if err != nil || resp == nil {
		return err
	}
	return ParseMaskWriteResponse(resp, addr, andMask, orMask)
}

// WriteAndReadRegisters writes values at writeAddr then reads readQty
// registers at readAddr in one transaction (FC23).
func (c *Client) WriteAndReadRegisters(ctx context.Context, writeAddr uint16, values []uint16, readAddr, readQty uint16) ([]uint16, error) {
	pdu, err := BuildWriteAndReadRegistersPDU(writeAddr, values, readAddr, readQty)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, pdu)
	if err != nil {
		return nil, err
	}
	return ParseRegistersResponse(resp, readQty)
}

// ReportSlaveID returns at most maxLen bytes of the slave id reply
// (slave id, run indicator, device data) and the full length the
// server sent.
func (c *Client) ReportSlaveID(ctx context.Context, maxLen int) ([]byte, int, error) {
	return c.ReportSlaveIDWithUnit(ctx, c.UnitID(), maxLen)
}

// ReadCoilsWithUnit reads coils using a specific unit ID.
func (c *Client) ReadCoilsWithUnit(ctx context.Context, unitID UnitID, addr, qty uint16) ([]bool, error) {
	pdu, err := BuildReadCoilsPDU(addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.sendWithUnit(ctx, unitID, pdu)
	if err != nil {
		return nil, err
	}
	return ParseBitsResponse(resp, qty)
}

// ReadDiscreteInputsWithUnit reads discrete inputs using a specific unit ID.
func (c *Client) ReadDiscreteInputsWithUnit(ctx context.Context, unitID UnitID, addr, qty uint16) ([]bool, error) {
	pdu, err := BuildReadDiscreteInputsPDU(addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.sendWithUnit(ctx, unitID, pdu)
	if err != nil {
		return nil, err
	}
	return ParseBitsResponse(resp, qty)
}

// ReadHoldingRegistersWithUnit reads holding registers using a specific unit ID.
func (c *Client) ReadHoldingRegistersWithUnit(ctx context.Context, unitID UnitID, addr, qty uint16) ([]uint16, error) {
	pdu, err := BuildReadHoldingRegistersPDU(addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.sendWithUnit(ctx, unitID, pdu)
	if err != nil {
		return nil, err
	}
	return ParseRegistersResponse(resp, qty)
}

// ReadInputRegistersWithUnit reads input registers using a specific unit ID.
func (c *Client) ReadInputRegistersWithUnit(ctx context.Context, unitID UnitID, addr, qty uint16) ([]uint16, error) {
	pdu, err := BuildReadInputRegistersPDU(addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.sendWithUnit(ctx, unitID, pdu)
	if err != nil {
		return nil, err
	}
	return ParseRegistersResponse(resp, qty)
}

// ReportSlaveIDWithUnit is ReportSlaveID for a specific unit ID.
func (c *Client) ReportSlaveIDWithUnit(ctx context.Context, unitID UnitID, maxLen int) ([]byte, int, error) {
	if maxLen < 0 {
		return nil, 0, fmt.Errorf("%w: negative maximum length", ErrInvalidParameter)
	}
	resp, err := c.sendWithUnit(ctx, unitID, BuildReportSlaveIDPDU())
	if err != nil {
		return nil, 0, err
	}
	data, err := ParseReportSlaveIDResponse(resp)
	if err != nil {
		return nil, 0, err
	}
	total := len(data)
	if total > maxLen {
		data = data[:maxLen]
	}
	return data, total, nil
}
