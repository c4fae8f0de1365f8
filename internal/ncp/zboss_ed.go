package ncp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// Config describes the NCP link and the end device it presents.
type Config struct {
	Port     string
	BaudRate int

	// MaxPendingOps bounds concurrent asynchronous stack operations.
	MaxPendingOps int
	// ScanDuration is the beacon scan exponent used for NLME join.
	ScanDuration uint8
	// Sleepy selects a sleepy (rx-off-when-idle) end device.
	Sleepy bool
	// EDTimeout is the ZBOSS end device timeout enum (0x08 = 256 minutes).
	EDTimeout uint8

	Endpoint   uint8
	DeviceID   uint16
	InClusters []uint16
}

func (c *Config) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.MaxPendingOps <= 0 {
		c.MaxPendingOps = 2
	}
	if c.ScanDuration == 0 {
		c.ScanDuration = 5
	}
	if c.EDTimeout == 0 {
		c.EDTimeout = 0x08
	}
	if c.Endpoint == 0 {
		c.Endpoint = 1
	}
	if c.DeviceID == 0 {
		c.DeviceID = 0x0302 // HA temperature sensor
	}
}

const (
	llACKTimeout  = 500 * time.Millisecond
	llMaxRetries  = 3
	hlRespTimeout = 5 * time.Second
	joinTimeout   = 20 * time.Second
	resetIndWait  = 5 * time.Second
)

// ZBOSS is an end-device driver for a ZBOSS NCP over a serial link.
type ZBOSS struct {
	port   io.ReadWriteCloser
	reader *bufio.Reader
	logger *slog.Logger
	cfg    Config

	// HL-level request/response tracking (keyed by TSN).
	hlTSN     atomic.Uint32
	hlPending map[uint8]chan *zbossFrame
	hlMu      sync.Mutex

	// LL-level packet sequencing and ACK.
	llPktSeq uint8
	llSeqMu  sync.Mutex
	llAckCh  chan uint8
	writeMu  sync.Mutex

	zclSeq atomic.Uint32

	// ops is the pending-operation semaphore.
	ops chan struct{}

	ready     atomic.Bool
	resetting atomic.Bool
	state     atomic.Uint32
	shortAddr atomic.Uint32

	infoMu sync.RWMutex
	info   NCPInfo
	ieee   [8]byte

	handlerMu sync.RWMutex
	cb        Callbacks
	server    AttributeServer
	reporter  *Reporter

	resetIndCh chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open opens the serial port and starts the driver.
func Open(cfg Config, logger *slog.Logger) (*ZBOSS, error) {
	cfg.applyDefaults()
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("zboss ncp: open %s: %w", cfg.Port, err)
	}
	// USB CDC ACM: assert DTR/RTS for NCP firmware.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)
	return New(port, cfg, logger), nil
}

// New starts a driver on an already open link.
func New(port io.ReadWriteCloser, cfg Config, logger *slog.Logger) *ZBOSS {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	n := &ZBOSS{
		port:       port,
		reader:     bufio.NewReader(port),
		logger:     logger,
		cfg:        cfg,
		hlPending:  make(map[uint8]chan *zbossFrame),
		llAckCh:    make(chan uint8, 4),
		ops:        make(chan struct{}, cfg.MaxPendingOps),
		resetIndCh: make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	n.wg.Add(1)
	go n.readLoop()
	return n
}

// SetCallbacks installs the stack event handlers.
func (n *ZBOSS) SetCallbacks(cb Callbacks) {
	n.handlerMu.Lock()
	n.cb = cb
	n.handlerMu.Unlock()
}

// SetAttributeServer installs the handler for remote attribute access.
func (n *ZBOSS) SetAttributeServer(s AttributeServer) {
	n.handlerMu.Lock()
	n.server = s
	n.handlerMu.Unlock()
}

// SetReporter installs the reporting engine fed by Configure Reporting.
func (n *ZBOSS) SetReporter(r *Reporter) {
	n.handlerMu.Lock()
	n.reporter = r
	n.handlerMu.Unlock()
}

// SetInClusters sets the server clusters of the simple descriptor. It takes
// effect at the next Start.
func (n *ZBOSS) SetInClusters(ids []uint16) {
	n.handlerMu.Lock()
	n.cfg.InClusters = append([]uint16(nil), ids...)
	n.handlerMu.Unlock()
}

func (n *ZBOSS) callbacks() Callbacks {
	n.handlerMu.RLock()
	defer n.handlerMu.RUnlock()
	return n.cb
}

func (n *ZBOSS) nextTSN() uint8 {
	return uint8(n.hlTSN.Add(1))
}

func (n *ZBOSS) nextZCLSeq() uint8 {
	return uint8(n.zclSeq.Add(1))
}

// nextPktSeq advances the LL packet sequence (cycles 1→2→3→1).
func (n *ZBOSS) nextPktSeq() uint8 {
	n.llSeqMu.Lock()
	n.llPktSeq = n.llPktSeq%3 + 1
	seq := n.llPktSeq
	n.llSeqMu.Unlock()
	return seq
}

// --- Transport ---

// request sends an HL request and waits for the HL response. A non-OK
// status returns both the frame and an error.
func (n *ZBOSS) request(ctx context.Context, callID uint16, payload []byte) (*zbossFrame, error) {
	tsn := n.nextTSN()

	ch := make(chan *zbossFrame, 1)
	n.hlMu.Lock()
	n.hlPending[tsn] = ch
	n.hlMu.Unlock()
	defer func() {
		n.hlMu.Lock()
		delete(n.hlPending, tsn)
		n.hlMu.Unlock()
	}()

	pktSeq := n.nextPktSeq()
	raw := zbossEncodeRequest(callID, tsn, pktSeq, payload)
	cmdName := zbossCmdName(callID)

	if err := n.writeWithACK(ctx, raw, pktSeq); err != nil {
		return nil, fmt.Errorf("zboss write %s: %w", cmdName, err)
	}
	n.logger.Debug("zboss TX", "cmd", cmdName, "tsn", tsn, "payload", fmt.Sprintf("%X", payload))

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hlRespTimeout)
		defer cancel()
	}

	select {
	case resp := <-ch:
		status := zbossStatusName(resp.HL.StatusCat, resp.HL.StatusCode)
		if !resp.ok() {
			n.logger.Warn("zboss RX", "cmd", cmdName, "tsn", tsn, "status", status)
			return resp, fmt.Errorf("zboss %s: %s", cmdName, status)
		}
		n.logger.Debug("zboss RX", "cmd", cmdName, "tsn", tsn, "status", status, "payload", fmt.Sprintf("%X", resp.Payload))
		return resp, nil
	case <-ctx.Done():
		n.logger.Warn("zboss timeout", "cmd", cmdName, "tsn", tsn, "err", ctx.Err())
		return nil, ctx.Err()
	case <-n.done:
		return nil, ErrClosed
	}
}

// writeWithACK writes a raw ZBOSS frame and waits for LL ACK with retries.
func (n *ZBOSS) writeWithACK(ctx context.Context, frame []byte, pktSeq uint8) error {
	for attempt := 0; attempt <= llMaxRetries; attempt++ {
		n.writeMu.Lock()
		_, err := n.port.Write(frame)
		n.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}

		deadline := time.NewTimer(llACKTimeout)
	waitACK:
		for {
			select {
			case ackSeq := <-n.llAckCh:
				if ackSeq == pktSeq {
					deadline.Stop()
					return nil
				}
				n.logger.Debug("zboss LL stale ACK drained", "got", ackSeq, "want", pktSeq)
			case <-deadline.C:
				n.logger.Warn("zboss LL ACK timeout", "attempt", attempt+1, "pktSeq", pktSeq)
				break waitACK
			case <-ctx.Done():
				deadline.Stop()
				return ctx.Err()
			case <-n.done:
				deadline.Stop()
				return ErrClosed
			}
		}
	}
	return fmt.Errorf("zboss LL ACK timeout after %d retries", llMaxRetries+1)
}

func (n *ZBOSS) sendACK(pktSeq uint8) {
	raw := zbossEncodeACK(pktSeq)
	n.writeMu.Lock()
	_, err := n.port.Write(raw)
	n.writeMu.Unlock()
	if err != nil {
		n.logger.Error("zboss send ACK failed", "err", err)
	}
}

func (n *ZBOSS) readLoop() {
	defer n.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-n.done:
			return
		default:
		}

		raw, err := readRawZBOSSFrame(n.reader)
		if err != nil {
			select {
			case <-n.done:
				return
			default:
			}
			if err != io.EOF && !strings.Contains(err.Error(), "closed") {
				n.logger.Error("zboss read error", "err", err)
			}
			select {
			case <-time.After(backoff):
			case <-n.done:
				return
			}
			if backoff < maxBackoff {
				backoff = min(backoff*2, maxBackoff)
			}
			continue
		}
		backoff = 10 * time.Millisecond

		frame, err := zbossDecodeFrame(raw)
		if err != nil {
			n.logger.Warn("zboss decode error", "err", err)
			continue
		}

		if zbossLLIsACK(frame.LL.Flags) {
			select {
			case n.llAckCh <- zbossLLAckSeq(frame.LL.Flags):
			default:
			}
			continue
		}

		n.sendACK(zbossLLPktSeq(frame.LL.Flags))

		switch frame.HL.PacketType {
		case zbossHLResponse:
			n.hlMu.Lock()
			ch, ok := n.hlPending[frame.HL.TSN]
			n.hlMu.Unlock()
			if ok {
				select {
				case ch <- frame:
				default:
				}
			} else {
				n.logger.Warn("zboss orphaned response (too late)",
					"cmd", zbossCmdName(frame.HL.CallID),
					"tsn", frame.HL.TSN,
					"status", zbossStatusName(frame.HL.StatusCat, frame.HL.StatusCode))
			}
		case zbossHLIndication:
			n.handleIndication(frame)
		}
	}
}

// --- Indications ---

func (n *ZBOSS) handleIndication(f *zbossFrame) {
	switch f.HL.CallID {
	case zbossCmdNwkStartedInd, zbossCmdNwkRejoinedInd:
		if len(f.Payload) >= 2 {
			n.shortAddr.Store(uint32(binary.LittleEndian.Uint16(f.Payload[0:2])))
		}
		n.logger.Info("network started", "cmd", zbossCmdName(f.HL.CallID),
			"short", fmt.Sprintf("0x%04X", n.shortAddr.Load()))
		n.setState(NetworkJoined)
		// The indication carries no channel or PAN ID; ask for them off the
		// read goroutine.
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.refreshNetworkInfo()
		}()

	case zbossCmdNwkRejoinFailedInd:
		n.logger.Warn("rejoin failed", "payload", fmt.Sprintf("%X", f.Payload))
		n.setState(NetworkDown)

	case zbossCmdNwkLeaveInd:
		// Payload: ieee(8) + rejoin(1)
		if len(f.Payload) < 8 {
			return
		}
		var ieee [8]byte
		copy(ieee[:], f.Payload[0:8])
		rejoin := len(f.Payload) >= 9 && f.Payload[8] != 0
		n.infoMu.RLock()
		own := ieee == n.ieee || ieee == [8]byte{}
		n.infoMu.RUnlock()
		n.logger.Info("NwkLeaveInd", "ieee", fmt.Sprintf("%016X", reverse8(ieee)), "rejoin", rejoin, "own", own)
		if own && !rejoin {
			n.setState(NetworkDown)
		}

	case zbossCmdAPSDEDataInd:
		ind, err := parseAPSDEDataInd(f.Payload)
		if err != nil {
			n.logger.Debug("apsde data ind dropped", "err", err)
			return
		}
		// Responses go through request(), which needs this loop to deliver
		// ACKs, so serve off the read goroutine.
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.serveZCL(ind)
		}()

	case zbossCmdNCPResetInd:
		n.logger.Warn("NCPResetInd received")
		select {
		case n.resetIndCh <- struct{}{}:
		default:
		}
		if n.resetting.Load() {
			return
		}
		n.ready.Store(false)
		n.setState(NetworkDown)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.initialize(n.ctx); err != nil {
				n.logger.Error("ncp re-init after reset failed", "err", err)
			}
		}()

	default:
		n.logger.Debug("zboss unhandled indication",
			"cmd", zbossCmdName(f.HL.CallID),
			"payload", fmt.Sprintf("%X", f.Payload))
	}
}

func (n *ZBOSS) setState(s NetworkState) {
	old := NetworkState(n.state.Swap(uint32(s)))
	if old == s {
		return
	}
	cb := n.callbacks()
	if cb.StackStatus == nil {
		return
	}
	if s == NetworkJoined {
		cb.StackStatus(StatusUp)
	} else {
		cb.StackStatus(StatusDown)
	}
}

// --- Lifecycle ---

// ZBOSS NCP reset options.
const zbossResetNoOption uint8 = 0x00

// Start resets the NCP, configures the end device and fires InitComplete.
func (n *ZBOSS) Start(ctx context.Context) error {
	n.reset(ctx)
	return n.initialize(ctx)
}

// reset sends NCPReset with all three LL sequences, since after a host
// restart the NCP's expected sequence is unknown, and waits for NCPResetInd.
func (n *ZBOSS) reset(ctx context.Context) {
	n.resetting.Store(true)
	defer n.resetting.Store(false)

	tsn := n.nextTSN()
	for _, seq := range []uint8{1, 2, 3} {
		raw := zbossEncodeRequest(zbossCmdNCPReset, tsn, seq, []byte{zbossResetNoOption})
		n.writeMu.Lock()
		_, _ = n.port.Write(raw)
		n.writeMu.Unlock()
	}
	n.llSeqMu.Lock()
	n.llPktSeq = 0
	n.llSeqMu.Unlock()

	select {
	case <-n.resetIndCh:
		n.logger.Info("NCPResetInd confirmed")
	case <-time.After(resetIndWait):
		n.logger.Warn("NCPResetInd not received, proceeding anyway")
	case <-ctx.Done():
	case <-n.done:
	}
}

func (n *ZBOSS) initialize(ctx context.Context) error {
	resp, err := n.request(ctx, zbossCmdGetModuleVersion, nil)
	if err != nil {
		return fmt.Errorf("get module version: %w", err)
	}
	if len(resp.Payload) >= 12 {
		fw := binary.LittleEndian.Uint32(resp.Payload[0:4])
		stack := binary.LittleEndian.Uint32(resp.Payload[4:8])
		proto := binary.LittleEndian.Uint32(resp.Payload[8:12])
		stackStr := fmt.Sprintf("%d.%d.%d.%d", (stack>>24)&0xFF, (stack>>16)&0xFF, (stack>>8)&0xFF, stack&0xFF)
		n.infoMu.Lock()
		n.info.FWVersion = fw
		n.info.StackVersion = stackStr
		n.info.ProtocolVersion = proto
		n.infoMu.Unlock()
		n.logger.Info("NCP module version", "fw", fw, "stack", stackStr, "protocol", proto)
	}

	if _, err := n.request(ctx, zbossCmdSetZigbeeRole, []byte{zbossRoleEndDevice}); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	rxOn := uint8(1)
	if n.cfg.Sleepy {
		rxOn = 0
	}
	if _, err := n.request(ctx, zbossCmdSetRxOnWhenIdle, []byte{rxOn}); err != nil {
		return fmt.Errorf("set rx on when idle: %w", err)
	}
	if _, err := n.request(ctx, zbossCmdSetEDTimeout, []byte{n.cfg.EDTimeout}); err != nil {
		n.logger.Warn("set ED timeout", "err", err)
	}

	n.handlerMu.RLock()
	inClusters := n.cfg.InClusters
	n.handlerMu.RUnlock()
	desc := buildSimpleDescPayload(n.cfg.Endpoint, zclProfileHA, n.cfg.DeviceID, 0, inClusters, nil)
	if _, err := n.request(ctx, zbossCmdAFSetSimpleDesc, desc); err != nil {
		return fmt.Errorf("register endpoint %d: %w", n.cfg.Endpoint, err)
	}

	resp, err = n.request(ctx, zbossCmdGetLocalIEEE, []byte{0x00})
	if err != nil {
		return fmt.Errorf("get local ieee: %w", err)
	}
	// Response: mac_interface_num(1) + ieee(8)
	if len(resp.Payload) >= 9 {
		n.infoMu.Lock()
		copy(n.ieee[:], resp.Payload[1:9])
		n.info.IEEEAddr = fmt.Sprintf("%016X", reverse8(n.ieee))
		n.infoMu.Unlock()
	}

	n.ready.Store(true)
	n.logger.Info("ncp ready", "ieee", n.Info().IEEEAddr, "sleepy", n.cfg.Sleepy)
	if cb := n.callbacks(); cb.InitComplete != nil {
		cb.InitComplete()
	}
	return nil
}

// Close stops the driver and waits for its goroutines.
func (n *ZBOSS) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.cancel()
		close(n.done)
		err = n.port.Close()
	})
	n.wg.Wait()
	return err
}

// --- Stack operations ---

func (n *ZBOSS) acquire() error {
	select {
	case <-n.done:
		return ErrClosed
	default:
	}
	if !n.ready.Load() {
		return ErrNotReady
	}
	select {
	case n.ops <- struct{}{}:
		return nil
	default:
		return ErrBusy
	}
}

func (n *ZBOSS) release() { <-n.ops }

// NetworkState reports whether the device is joined.
func (n *ZBOSS) NetworkState() NetworkState {
	return NetworkState(n.state.Load())
}

// RequestActiveScan starts a beacon scan of channelMask. Results arrive via
// NetworkFound and exactly one ScanComplete.
func (n *ZBOSS) RequestActiveScan(ctx context.Context, channelMask uint32, duration uint8) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.acquire(); err != nil {
		return err
	}
	channel := maskChannel(channelMask)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.release()

		sctx, cancel := context.WithTimeout(n.ctx, hlRespTimeout+scanTime(duration))
		defer cancel()
		resp, err := n.request(sctx, zbossCmdNwkDiscovery, buildNwkDiscoveryReq(channelMask, duration))
		cb := n.callbacks()
		if err != nil {
			noBeacon := resp != nil && resp.HL.StatusCat == zbossStatusMAC && resp.HL.StatusCode == zbossMACNoBeacon
			if !noBeacon {
				if cb.ScanComplete != nil {
					cb.ScanComplete(channel, err)
				}
				return
			}
			resp = nil
		}
		var found []NetworkDescriptor
		if resp != nil {
			found = parseNetworkDescriptors(resp.Payload)
		}
		n.logger.Debug("scan complete", "channel", channel, "networks", len(found))
		if cb.NetworkFound != nil {
			for _, d := range found {
				cb.NetworkFound(d)
			}
		}
		if cb.ScanComplete != nil {
			cb.ScanComplete(channel, nil)
		}
	}()
	return nil
}

// SetSecurityState installs the preconfigured key and join policy.
func (n *ZBOSS) SetSecurityState(ctx context.Context, key [16]byte, policy uint32) error {
	if err := n.acquire(); err != nil {
		return err
	}
	defer n.release()

	ctx, cancel := context.WithTimeout(ctx, hlRespTimeout)
	defer cancel()

	if policy&PolicyPreconfiguredKey != 0 {
		buf := make([]byte, 17) // key(16) + key_seq_num(1)
		copy(buf, key[:])
		if _, err := n.request(ctx, zbossCmdSetNwkKey, buf); err != nil {
			return fmt.Errorf("set nwk key: %w", err)
		}
	}
	insecure := uint8(0)
	if policy&PolicyInsecureJoin != 0 {
		insecure = 1
	}
	buf := make([]byte, 3)
	binary.LittleEndian.PutUint16(buf[0:2], zbossTCPolicyAPSInsecureJoin)
	buf[2] = insecure
	if _, err := n.request(ctx, zbossCmdSetTCPolicy, buf); err != nil {
		return fmt.Errorf("set insecure join policy: %w", err)
	}
	return nil
}

// RequestAssociation starts an NLME join. Success is reported through
// StackStatus, a rejection through AssociationFailed.
func (n *ZBOSS) RequestAssociation(ctx context.Context, p AssociationParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.acquire(); err != nil {
		return err
	}
	n.logger.Info("associating",
		"channel", p.Channel,
		"pan_id", fmt.Sprintf("0x%04X", p.PanID),
		"ext_pan_id", fmt.Sprintf("%016X", reverse8(p.ExtPanID)),
		"update_id", p.UpdateID,
		"sleepy", p.Sleepy)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.release()

		jctx, cancel := context.WithTimeout(n.ctx, joinTimeout)
		defer cancel()
		resp, err := n.request(jctx, zbossCmdNwkNlmeJoin, buildNlmeJoinReq(p, n.cfg.ScanDuration))
		if err != nil {
			if cb := n.callbacks(); cb.AssociationFailed != nil {
				cb.AssociationFailed(err)
			}
			return
		}
		if jr, ok := parseJoinResult(resp.Payload); ok {
			n.shortAddr.Store(uint32(jr.ShortAddr))
			n.infoMu.Lock()
			n.info.Channel = jr.Channel
			n.info.PanID = p.PanID
			n.infoMu.Unlock()
		}
		n.setState(NetworkJoined)
	}()
	return nil
}

// refreshNetworkInfo reads the operating channel and PAN ID into Info.
func (n *ZBOSS) refreshNetworkInfo() {
	ctx, cancel := context.WithTimeout(n.ctx, hlRespTimeout)
	defer cancel()
	if resp, err := n.request(ctx, zbossCmdGetChannel, nil); err != nil {
		n.logger.Debug("get channel", "err", err)
	} else if len(resp.Payload) >= 2 {
		// page(1) + channel(1)
		n.infoMu.Lock()
		n.info.Channel = resp.Payload[1]
		n.infoMu.Unlock()
	}
	if resp, err := n.request(ctx, zbossCmdGetPanID, nil); err != nil {
		n.logger.Debug("get pan id", "err", err)
	} else if len(resp.Payload) >= 2 {
		n.infoMu.Lock()
		n.info.PanID = binary.LittleEndian.Uint16(resp.Payload[0:2])
		n.infoMu.Unlock()
	}
}

// RequestLeave asks the NCP to leave the network without rejoin.
func (n *ZBOSS) RequestLeave(ctx context.Context) error {
	if n.NetworkState() != NetworkJoined {
		return errors.New("ncp: not joined")
	}
	if err := n.acquire(); err != nil {
		return err
	}
	n.infoMu.RLock()
	ieee := n.ieee
	n.infoMu.RUnlock()
	short := uint16(n.shortAddr.Load())
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.release()

		lctx, cancel := context.WithTimeout(n.ctx, hlRespTimeout)
		defer cancel()
		if _, err := n.request(lctx, zbossCmdZDOMgmtLeaveReq, buildMgmtLeaveReq(short, ieee)); err != nil {
			n.logger.Warn("leave request failed", "err", err)
			if cb := n.callbacks(); cb.LeaveFailed != nil {
				cb.LeaveFailed(err)
			}
			return
		}
		n.setState(NetworkDown)
	}()
	return nil
}

// SendReport sends a Report Attributes command for cluster to the
// coordinator's endpoint 1.
func (n *ZBOSS) SendReport(ctx context.Context, cluster uint16, reports []AttributeReport) error {
	if n.NetworkState() != NetworkJoined {
		return errors.New("ncp: not joined")
	}
	frame := zclBuildReportAttributes(n.nextZCLSeq(), reports)
	payload := buildAPSDEDataReq(0x0000, 1, n.cfg.Endpoint, cluster, zclProfileHA, 30, frame)
	_, err := n.request(ctx, zbossCmdAPSDEDataReq, payload)
	return err
}

// Info returns the NCP identity and current network parameters.
func (n *ZBOSS) Info() NCPInfo {
	n.infoMu.RLock()
	info := n.info
	n.infoMu.RUnlock()
	info.ShortAddr = uint16(n.shortAddr.Load())
	return info
}

// maskChannel returns the lowest channel selected by mask.
func maskChannel(mask uint32) uint8 {
	if mask == 0 {
		return 0
	}
	return uint8(bits.TrailingZeros32(mask))
}

// scanTime approximates one channel's beacon scan: (2^d + 1) superframes of
// 15.36 ms.
func scanTime(duration uint8) time.Duration {
	if duration > 14 {
		duration = 14
	}
	return time.Duration((1<<duration)+1) * 15360 * time.Microsecond
}
