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
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/edgeo-scada/modbus/internal/transport"
)

// Request is one indication received by a server.
type Request struct {
	Backend       Backend
	TransactionID uint16
	UnitID        UnitID
	PDU           []byte
}

// FunctionCode returns the function code of the request.
func (r *Request) FunctionCode() FunctionCode {
	if len(r.PDU) == 0 {
		return 0
	}
	return FunctionCode(r.PDU[0])
}

// IsBroadcast reports whether the request expects no reply.
func (r *Request) IsBroadcast() bool {
	return r.UnitID == BroadcastAddress
}

// Server is a Modbus slave answering from a Mapping.
type Server struct {
	mapping *Mapping
	opts    *serverOptions

	mu       sync.Mutex
	listener net.Listener
	conns    map[Transporter]struct{}
	closed   int32
	wg       sync.WaitGroup
	metrics  *ServerMetrics
}

// ServerMetrics holds server-side metrics.
type ServerMetrics struct {
	RequestsTotal   Counter
	RequestsSuccess Counter
	RequestsErrors  Counter
	Exceptions      Counter
	// Ignored counts RTU frames addressed to other units.
	Ignored     Counter
	ActiveConns Counter
	TotalConns  Counter
}

// NewServer creates a server answering from mapping.
func NewServer(mapping *Mapping, opts ...ServerOption) (*Server, error) {
	if mapping == nil {
		return nil, fmt.Errorf("%w: nil mapping", ErrInvalidParameter)
	}
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if err := checkUnitID(options.backend, options.unitID); err != nil {
		return nil, err
	}
	if options.indicationTimeout < 0 || options.byteTimeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", ErrInvalidParameter)
	}

	return &Server{
		mapping: mapping,
		opts:    options,
		conns:   make(map[Transporter]struct{}),
		metrics: &ServerMetrics{},
	}, nil
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *ServerMetrics {
	return s.metrics
}

// Mapping returns the data model the server answers from.
func (s *Server) Mapping() *Mapping {
	return s.mapping
}

// Backend returns the framing the server speaks.
func (s *Server) Backend() Backend {
	return s.opts.backend
}

// ListenAndServe starts the server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return s.ListenAndServeContext(context.Background(), addr)
}

// ListenAndServeContext is ListenAndServe that closes the server when
// ctx is done. TCP binds IPv4 only; TCP-PI binds any address family.
func (s *Server) ListenAndServeContext(ctx context.Context, addr string) error {
	if s.opts.backend == BackendRTU {
		return fmt.Errorf("%w: RTU servers run on a serial line, use ServeSerial", ErrInvalidParameter)
	}
	listener, err := transport.Listen(ctx, s.opts.backend == BackendTCPPI, addr)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		s.Close()
	})
	defer stop()

	return s.Serve(listener)
}

// Serve starts serving connections on the given listener.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.opts.logger.Info("server started",
		slog.String("addr", listener.Addr().String()),
		slog.String("backend", s.opts.backend.String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.opts.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		if len(s.conns) >= s.opts.maxConns {
			s.mu.Unlock()
			s.opts.logger.Warn("max connections reached, rejecting",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		s.mu.Unlock()

		transport.Configure(conn)

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.handleConn(context.Background(), conn, conn.RemoteAddr().String())
	}
}

// ServeTransport answers requests arriving on t, typically a serial
// line, until t fails or ctx is done. t is closed on return. The error
// is ctx.Err() when ctx ended the loop, nil after Close, and otherwise
// the error that stopped it.
func (s *Server) ServeTransport(ctx context.Context, t Transporter) error {
	if !s.track(t) {
		t.Close()
		return ErrConnectionClosed
	}
	stop := context.AfterFunc(ctx, func() {
		t.Close()
	})
	defer stop()

	s.opts.logger.Info("server started", slog.String("backend", s.opts.backend.String()))
	err := s.handleConn(ctx, t, "line")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ServeSerial opens the serial line described by cfg and serves it
// until ctx is done. The server must use the RTU backend.
func (s *Server) ServeSerial(ctx context.Context, cfg SerialConfig) error {
	if s.opts.backend != BackendRTU {
		return fmt.Errorf("%w: serial lines need the RTU backend", ErrInvalidParameter)
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	link := transport.NewSerialLink(cfg.linkConfig())
	conn, err := link.Open(ctx)
	if err != nil {
		return err
	}
	return s.ServeTransport(ctx, conn)
}

// track registers t and counts its handler in wg. Close takes mu
// before waiting, so no handler is added after Wait started.
func (s *Server) track(t Transporter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if atomic.LoadInt32(&s.closed) == 1 {
		return false
	}
	s.wg.Add(1)
	s.conns[t] = struct{}{}
	s.metrics.ActiveConns.Add(1)
	s.metrics.TotalConns.Add(1)
	return true
}

// Close shuts down the server gracefully.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.opts.logger.Info("server stopped")
	return err
}

// Addr returns the server's address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ActiveConnections returns the number of active connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// handleConn runs the receive/reply loop on t and returns the error
// that ended it, nil when the server was closed.
func (s *Server) handleConn(ctx context.Context, t Transporter, remote string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in connection handler",
				slog.String("remote", remote),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("modbus: connection handler panic: %v", r)
		}

		t.Close()
		s.mu.Lock()
		delete(s.conns, t)
		s.metrics.ActiveConns.Add(-1)
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.opts.logger.Debug("connection accepted", slog.String("remote", remote))

	sc := s.newConn(t, remote)
	for {
		if atomic.LoadInt32(&s.closed) == 1 {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := sc.Receive(ctx)
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				return nil
			}
			sc.logger.Debug("receive error", slog.String("error", err.Error()))
			// A TCP stream cannot resynchronise after a bad frame; a
			// serial line can.
			if isLinkError(err) || s.opts.backend != BackendRTU || Classify(err) != ClassFraming {
				return err
			}
			continue
		}

		if err := sc.Reply(req); err != nil {
			sc.logger.Debug("reply error", slog.String("error", err.Error()))
			if isLinkError(err) {
				return err
			}
		}
	}
}

// ServerConn runs the receive/reply cycle on one transport. It is not
// safe for concurrent use.
type ServerConn struct {
	s      *Server
	t      Transporter
	logger *slog.Logger
}

// NewConn returns a ServerConn on t for callers driving their own loop.
func (s *Server) NewConn(t Transporter) *ServerConn {
	return s.newConn(t, "")
}

func (s *Server) newConn(t Transporter, remote string) *ServerConn {
	logger := s.opts.logger
	if remote != "" {
		logger = logger.With(slog.String("remote", remote))
	}
	return &ServerConn{s: s, t: t, logger: logger}
}

// Receive waits for the next indication for this server. On RTU, frames
// addressed to other units are consumed and skipped.
func (sc *ServerConn) Receive(ctx context.Context) (*Request, error) {
	opts := sc.s.opts
	for {
		r := &frameReader{
			t:       sc.t,
			backend: opts.backend,
			first:   opts.indicationTimeout,
			between: opts.byteTimeout,
		}
		if deadline, ok := ctx.Deadline(); ok {
			r.limit = deadline
		}

		adu, err := r.read(msgIndication)
		if err != nil {
			return nil, sc.recoverProtocol(ctx, err)
		}
		if opts.debug {
			sc.logger.Debug("recv", slog.String("adu", fmt.Sprintf("% X", adu)))
		}

		if opts.backend == BackendRTU {
			unit := UnitID(adu[0])
			if unit != opts.unitID && unit != BroadcastAddress {
				sc.s.metrics.Ignored.Add(1)
				sc.logger.Debug("request for another unit ignored", slog.Uint64("unit_id", uint64(unit)))
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				continue
			}
		}

		f, err := opts.backend.Decode(adu)
		if err != nil {
			return nil, sc.recoverProtocol(ctx, err)
		}
		return &Request{
			Backend:       opts.backend,
			TransactionID: f.Header.TransactionID,
			UnitID:        f.Header.UnitID,
			PDU:           f.PDU,
		}, nil
	}
}

func (sc *ServerConn) recoverProtocol(ctx context.Context, err error) error {
	opts := sc.s.opts
	if !opts.recovery.Has(ErrorRecoveryProtocol) || Classify(err) != ClassFraming {
		return err
	}
	sleepContext(ctx, opts.responseTimeout)
	transport.Flush(sc.t, opts.flushWindow)
	return err
}

// Reply executes req against the Mapping and sends the response.
// Requests rejected by the Mapping are answered with an exception and
// still count as a successful reply. Broadcasts are executed silently.
func (sc *ServerConn) Reply(req *Request) error {
	if len(req.PDU) == 0 {
		return fmt.Errorf("%w: empty request", ErrInvalidParameter)
	}
	sc.s.metrics.RequestsTotal.Add(1)

	sc.logger.Debug("processing request",
		slog.Uint64("tx_id", uint64(req.TransactionID)),
		slog.Uint64("unit_id", uint64(req.UnitID)),
		slog.String("func", req.FunctionCode().String()))

	if ic := sc.s.opts.interceptor; ic != nil {
		if me := ic(req); me != nil {
			return sc.ReplyException(req, me.ExceptionCode)
		}
	}
	return sc.send(req, sc.s.processRequest(req))
}

// ReplyException answers req with the given exception code.
func (sc *ServerConn) ReplyException(req *Request, code ExceptionCode) error {
	if !code.Valid() {
		return fmt.Errorf("%w: 0x%02X", ErrInvalidExceptionCode, byte(code))
	}
	return sc.send(req, buildException(req.FunctionCode(), code))
}

func (sc *ServerConn) send(req *Request, pdu []byte) error {
	if IsExceptionResponse(pdu) {
		sc.s.metrics.Exceptions.Add(1)
	}
	if req.IsBroadcast() {
		sc.s.metrics.RequestsSuccess.Add(1)
		return nil
	}

	rsp := &Frame{
		Header: MBAPHeader{
			TransactionID: req.TransactionID,
			ProtocolID:    ProtocolID,
			UnitID:        req.UnitID,
		},
		PDU: pdu,
	}
	adu := req.Backend.Encode(rsp)
	if sc.s.opts.debug {
		sc.logger.Debug("send", slog.String("adu", fmt.Sprintf("% X", adu)))
	}
	if _, err := sc.t.Write(adu); err != nil {
		sc.s.metrics.RequestsErrors.Add(1)
		return wrapReadError(err, 0, len(adu))
	}
	sc.s.metrics.RequestsSuccess.Add(1)
	return nil
}

func buildException(fc FunctionCode, ec ExceptionCode) []byte {
	return []byte{byte(fc | exceptionBit), byte(ec)}
}

// minIndicationLength is the shortest valid PDU per function code.
func minIndicationLength(fc FunctionCode) int {
	return 1 + metaLength(byte(fc), msgIndication)
}

// processRequest builds the response PDU for req with the Mapping
// locked.
func (s *Server) processRequest(req *Request) []byte {
	pdu := req.PDU
	fc := FunctionCode(pdu[0])

	if len(pdu) < minIndicationLength(fc) {
		return s.illegal(fc, ExceptionIllegalDataValue, "request of %d bytes", len(pdu))
	}

	m := s.mapping
	m.mu.Lock()
	defer m.mu.Unlock()

	switch fc {
	case FuncReadCoils:
		return s.readBits(fc, pdu, m.startBits, m.bits)
	case FuncReadDiscreteInputs:
		return s.readBits(fc, pdu, m.startInputBits, m.inputBits)
	case FuncReadHoldingRegisters:
		return s.readRegisters(fc, pdu, m.startRegisters, m.registers)
	case FuncReadInputRegisters:
		return s.readRegisters(fc, pdu, m.startInputRegisters, m.inputRegisters)
	case FuncWriteSingleCoil:
		return s.writeSingleCoil(pdu, m)
	case FuncWriteSingleRegister:
		return s.writeSingleRegister(pdu, m)
	case FuncWriteMultipleCoils:
		return s.writeMultipleCoils(pdu, m)
	case FuncWriteMultipleRegisters:
		return s.writeMultipleRegisters(pdu, m)
	case FuncReportSlaveID:
		return s.reportSlaveID()
	case FuncMaskWriteRegister:
		return s.maskWriteRegister(pdu, m)
	case FuncWriteAndReadRegisters:
		return s.writeAndReadRegisters(pdu, m)
	default:
		return s.illegal(fc, ExceptionIllegalFunction, "unsupported function code 0x%02X", byte(fc))
	}
}

func (s *Server) illegal(fc FunctionCode, ec ExceptionCode, format string, args ...any) []byte {
	s.opts.logger.Debug("exception response",
		slog.String("func", fc.String()),
		slog.String("exception", ec.String()),
		slog.String("reason", fmt.Sprintf(format, args...)))
	return buildException(fc, ec)
}

func (s *Server) readBits(fc FunctionCode, pdu []byte, start int, table []bool) []byte {
	addr := int(binary.BigEndian.Uint16(pdu[1:3]))
	qty := int(binary.BigEndian.Uint16(pdu[3:5]))

	if qty < 1 || qty > MaxReadBits {
		return s.illegal(fc, ExceptionIllegalDataValue, "%v: %d bits", ErrTooManyData, qty)
	}
	i, ok := offset(start, len(table), addr, qty)
	if !ok {
		return s.illegal(fc, ExceptionIllegalDataAddress, "bits %d..%d", addr, addr+qty-1)
	}

	packed := PackBits(table[i : i+qty])
	resp := make([]byte, 2+len(packed))
	resp[0] = byte(fc)
	resp[1] = byte(len(packed))
	copy(resp[2:], packed)
	return resp
}

func encodeRegisters(fc FunctionCode, values []uint16) []byte {
	resp := make([]byte, 2+2*len(values))
	resp[0] = byte(fc)
	resp[1] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(resp[2+2*i:], v)
	}
	return resp
}

func (s *Server) readRegisters(fc FunctionCode, pdu []byte, start int, table []uint16) []byte {
	addr := int(binary.BigEndian.Uint16(pdu[1:3]))
	qty := int(binary.BigEndian.Uint16(pdu[3:5]))

	if qty < 1 || qty > MaxReadRegisters {
		return s.illegal(fc, ExceptionIllegalDataValue, "%v: %d registers", ErrTooManyData, qty)
	}
	i, ok := offset(start, len(table), addr, qty)
	if !ok {
		return s.illegal(fc, ExceptionIllegalDataAddress, "registers %d..%d", addr, addr+qty-1)
	}
	return encodeRegisters(fc, table[i:i+qty])
}

func (s *Server) writeSingleCoil(pdu []byte, m *Mapping) []byte {
	addr := int(binary.BigEndian.Uint16(pdu[1:3]))
	value := binary.BigEndian.Uint16(pdu[3:5])

	i, ok := offset(m.startBits, len(m.bits), addr, 1)
	if !ok {
		return s.illegal(FuncWriteSingleCoil, ExceptionIllegalDataAddress, "coil %d", addr)
	}
	switch value {
	case CoilOn:
		m.bits[i] = true
	case CoilOff:
		m.bits[i] = false
	default:
		return s.illegal(FuncWriteSingleCoil, ExceptionIllegalDataValue, "coil value 0x%04X", value)
	}
	return append([]byte(nil), pdu[:5]...)
}

func (s *Server) writeSingleRegister(pdu []byte, m *Mapping) []byte {
	addr := int(binary.BigEndian.Uint16(pdu[1:3]))

	i, ok := offset(m.startRegisters, len(m.registers), addr, 1)
	if !ok {
		return s.illegal(FuncWriteSingleRegister, ExceptionIllegalDataAddress, "register %d", addr)
	}
	m.registers[i] = binary.BigEndian.Uint16(pdu[3:5])
	return append([]byte(nil), pdu[:5]...)
}

func (s *Server) writeMultipleCoils(pdu []byte, m *Mapping) []byte {
	addr := int(binary.BigEndian.Uint16(pdu[1:3]))
	qty := int(binary.BigEndian.Uint16(pdu[3:5]))
	byteCount := int(pdu[5])

	if qty < 1 || qty > MaxWriteBits || byteCount != (qty+7)/8 || len(pdu) < 6+byteCount {
		return s.illegal(FuncWriteMultipleCoils, ExceptionIllegalDataValue,
			"%v: %d coils in %d bytes", ErrTooManyData, qty, byteCount)
	}
	i, ok := offset(m.startBits, len(m.bits), addr, qty)
	if !ok {
		return s.illegal(FuncWriteMultipleCoils, ExceptionIllegalDataAddress, "coils %d..%d", addr, addr+qty-1)
	}
	copy(m.bits[i:i+qty], UnpackBits(pdu[6:6+byteCount], qty))
	return append([]byte(nil), pdu[:5]...)
}

func (s *Server) writeMultipleRegisters(pdu []byte, m *Mapping) []byte {
	addr := int(binary.BigEndian.Uint16(pdu[1:3]))
	qty := int(binary.BigEndian.Uint16(pdu[3:5]))
	byteCount := int(pdu[5])

	if qty < 1 || qty > MaxWriteRegisters || byteCount != 2*qty || len(pdu) < 6+byteCount {
		return s.illegal(FuncWriteMultipleRegisters, ExceptionIllegalDataValue,
			"%v: %d registers in %d bytes", ErrTooManyData, qty, byteCount)
	}
	i, ok := offset(m.startRegisters, len(m.registers), addr, qty)
	if !ok {
		return s.illegal(FuncWriteMultipleRegisters, ExceptionIllegalDataAddress, "registers %d..%d", addr, addr+qty-1)
	}
	for j := 0; j < qty; j++ {
		m.registers[i+j] = binary.BigEndian.Uint16(pdu[6+2*j:])
	}
	return append([]byte(nil), pdu[:5]...)
}

// maxSlaveIDData keeps report slave id replies within one PDU.
const maxSlaveIDData = MaxPDULength - 4

func (s *Server) reportSlaveID() []byte {
	data := s.opts.slaveID
	if len(data) > maxSlaveIDData {
		data = data[:maxSlaveIDData]
	}
	resp := make([]byte, 0, 4+len(data))
	resp = append(resp, byte(FuncReportSlaveID), byte(2+len(data)), byte(s.opts.unitID), 0xFF)
	return append(resp, data...)
}

func (s *Server) maskWriteRegister(pdu []byte, m *Mapping) []byte {
	addr := int(binary.BigEndian.Uint16(pdu[1:3]))

	i, ok := offset(m.startRegisters, len(m.registers), addr, 1)
	if !ok {
		return s.illegal(FuncMaskWriteRegister, ExceptionIllegalDataAddress, "register %d", addr)
	}
	and := binary.BigEndian.Uint16(pdu[3:5])
	or := binary.BigEndian.Uint16(pdu[5:7])
	m.registers[i] = (m.registers[i] & and) | (or &^ and)
	return append([]byte(nil), pdu[:7]...)
}

func (s *Server) writeAndReadRegisters(pdu []byte, m *Mapping) []byte {
	readAddr := int(binary.BigEndian.Uint16(pdu[1:3]))
	readQty := int(binary.BigEndian.Uint16(pdu[3:5]))
	writeAddr := int(binary.BigEndian.Uint16(pdu[5:7]))
	writeQty := int(binary.BigEndian.Uint16(pdu[7:9]))
	byteCount := int(pdu[9])

	if readQty < 1 || readQty > MaxWriteAndReadReadRegisters ||
		writeQty < 1 || writeQty > MaxWriteAndReadWriteRegisters ||
		byteCount != 2*writeQty || len(pdu) < 10+byteCount {
		return s.illegal(FuncWriteAndReadRegisters, ExceptionIllegalDataValue,
			"%v: write %d read %d registers", ErrTooManyData, writeQty, readQty)
	}
	wi, wok := offset(m.startRegisters, len(m.registers), writeAddr, writeQty)
	ri, rok := offset(m.startRegisters, len(m.registers), readAddr, readQty)
	if !wok || !rok {
		return s.illegal(FuncWriteAndReadRegisters, ExceptionIllegalDataAddress,
			"write %d..%d read %d..%d", writeAddr, writeAddr+writeQty-1, readAddr, readAddr+readQty-1)
	}

	// Writes land before the read is evaluated.
	for j := 0; j < writeQty; j++ {
		m.registers[wi+j] = binary.BigEndian.Uint16(pdu[10+2*j:])
	}
	return encodeRegisters(FuncWriteAndReadRegisters, m.registers[ri:ri+readQty])
}
