package ll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/embedble/centrald"
	"github.com/embedble/centrald/phy"
	"github.com/embedble/centrald/radio"
	"github.com/embedble/centrald/timing"
)

// Engine is the Master connection-event scheduling authority (§2.6, §4.6).
// It owns the radio exclusively; nothing above it touches radio.Driver
// directly. Exactly one Engine exists per app.Device, matching the §9
// redesign away from a global singleton context pointer.
type Engine struct {
	Driver    radio.Driver
	Clock     timing.Clock
	Log       ble.Logger
	Callbacks Callbacks

	ctx Context

	// irqFired and irqSnapshot are the only state the IRQ top-half
	// touches (§5, §9 redesign: "the IRQ must only capture event fired
	// plus an atomic snapshot of the radio status word"). On a hosted Go
	// build there is no NVIC; radio.Loopback and serialbridge deliver
	// IRQ-equivalent completion synchronously from Driver calls, so this
	// module's foreground loop reads status directly rather than through
	// a separate dispatch goroutine — there is no real interrupt context
	// to decouple from.
	irqFired    atomic.Bool
	irqSnapshot atomic.Uint32

	mu             sync.Mutex
	skippedEvents  uint16
	terminating    bool
	terminateCause uint8
}

// New constructs an Engine. Unset Callbacks fields are permitted; they are
// no-ops (§9 redesign).
func New(d radio.Driver, clk timing.Clock, log ble.Logger, cb Callbacks) *Engine {
	if log == nil {
		log = ble.GetLogger()
	}
	e := &Engine{Driver: d, Clock: clk, Log: log, Callbacks: cb}
	e.ctx.Reset()
	return e
}

// Context returns the live connection context for read-only inspection
// (e.g. by cache.Recorder). Callers must not retain it across event-loop
// iterations (§5).
func (e *Engine) Context() *Context { return &e.ctx }

// Scan blocks until an advertisement accepted by filter is found or ctx is
// cancelled.
func (e *Engine) Scan(ctx context.Context, filter AdvFilter) (ScanMatch, error) {
	e.ctx.State = StateScanning
	s := &Scanner{Driver: e.Driver, Clock: e.Clock}
	match, err := s.Scan(ctx, filter)
	if err != nil {
		return ScanMatch{}, err
	}
	e.ctx.State = StateInitiating
	return match, nil
}

// Connect transmits CONNECT_REQ for match and, on success, schedules the
// first connection event. It returns once the link has been established
// enough to begin running events — it does not itself run the event loop.
func (e *Engine) Connect(localAddr [6]byte, match ScanMatch, params ConnParams) error {
	req, err := buildConnectReq(localAddr, match, params)
	if err != nil {
		return errors.Wrap(err, "ll: build CONNECT_REQ")
	}

	if err := programInitiatorTransmitter(e.Driver, match.Channel); err != nil {
		return ble.NewError("Connect", ble.KindRadio, err)
	}

	if err := e.Driver.WriteBuffer(0, req.Encode()); err != nil {
		return ble.NewError("Connect", ble.KindRadio, err)
	}
	if err := e.Driver.TX(); err != nil {
		return ble.NewError("Connect", ble.KindRadio, err)
	}

	applyConnectReq(&e.ctx, req, e.Clock.NowUS())
	e.ctx.State = StateConnected
	e.Callbacks.connected(&e.ctx)
	return nil
}

// QueueTX stages an outgoing LL Data PDU payload (from l2cap) for the next
// connection event. It fails with ble.KindBusy if a previous payload is
// still awaiting acknowledgment.
func (e *Engine) QueueTX(llid LLID, payload []byte, moreData bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx.TxPending {
		return ble.NewError("QueueTX", ble.KindBusy, nil)
	}
	if len(payload) > MaxPDULen {
		return ble.NewError("QueueTX", ble.KindParam, errors.New("payload exceeds MaxPDULen"))
	}
	e.ctx.TxLLID = llid
	e.ctx.TxLength = copy(e.ctx.TxBuffer[:], payload)
	e.ctx.MoreData = moreData
	e.ctx.TxPending = true
	return nil
}

// Disconnect requests a local-initiated termination. It takes effect at
// the next tick (§5 cancellation: "cancellation takes effect at the next
// event-loop poll").
func (e *Engine) Disconnect() {
	e.mu.Lock()
	e.terminating = true
	e.terminateCause = ReasonLocalTerminated
	e.mu.Unlock()
}

// Run drives connection events until the link disconnects or ctx is
// cancelled. It is the single foreground goroutine per §5.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.teardown(ReasonLocalTerminated)
			return ctx.Err()
		default:
		}

		done, err := e.tick()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// tick makes one scheduling decision: wait for the next anchor (or skip
// it under the slave-latency rule), then run the connection event body.
// This is the split called out in SPEC_FULL §5 — tick is the scheduling
// decision, runConnectionEvent is the §4.6 8-step body.
func (e *Engine) tick() (done bool, err error) {
	e.mu.Lock()
	terminating, cause := e.terminating, e.terminateCause
	e.mu.Unlock()
	if terminating {
		e.teardown(cause)
		return true, nil
	}

	if e.shouldSkipEvent() {
		e.ctx.EventCounter++
		e.ctx.AnchorPointUS += e.ctx.ConnIntervalUS
		e.mu.Lock()
		e.skippedEvents++
		e.mu.Unlock()
		return false, nil
	}

	e.mu.Lock()
	e.skippedEvents = 0
	e.mu.Unlock()

	if err := e.runConnectionEvent(); err != nil {
		return false, err
	}

	if reason, disconnected := e.checkSupervision(); disconnected {
		e.teardown(reason)
		return true, nil
	}

	e.mu.Lock()
	terminating = e.terminating
	cause = e.terminateCause
	e.mu.Unlock()
	if terminating {
		e.teardown(cause)
		return true, nil
	}
	return false, nil
}

// shouldSkipEvent applies the slave-latency permitted-skip rule (§4.6 step
// 8): an event may be skipped, up to SlaveLatency in a row, only while
// nothing is pending to send and the peer signalled no more data.
func (e *Engine) shouldSkipEvent() bool {
	if e.ctx.SlaveLatency == 0 {
		return false
	}
	e.mu.Lock()
	skipped := e.skippedEvents
	e.mu.Unlock()
	if skipped >= e.ctx.SlaveLatency {
		return false
	}
	return !e.ctx.TxPending && !e.ctx.MoreData
}

// runConnectionEvent is the §4.6 8-step body.
func (e *Engine) runConnectionEvent() error {
	// Step 1: select channel, program radio.
	channel := e.ctx.advanceChannel()
	if err := e.programDataChannel(channel); err != nil {
		return ble.NewError("runConnectionEvent", ble.KindRadio, err)
	}

	// Step 2: wait for anchor.
	deadline := e.ctx.AnchorPointUS
	if e.ctx.WindowWideningUS < deadline {
		deadline -= e.ctx.WindowWideningUS
	}
	e.Clock.WaitUntilUS(deadline)

	// Step 3: transmit one LL Data PDU.
	txHeader := DataHeader{
		NESN: e.ctx.NextExpectedSeqNum,
		SN:   e.ctx.TxSeqNum,
	}
	var txPayload []byte
	if e.ctx.TxPending {
		txHeader.LLID = e.ctx.TxLLID
		txPayload = e.ctx.TxBuffer[:e.ctx.TxLength]
		txHeader.MD = e.ctx.MoreData
	} else {
		txHeader.LLID = LLIDEmptyOrContinuation
		txPayload = nil
	}

	frame := EncodeDataPDU(txHeader, txPayload)
	framed := phy.AppendCRC24(frame, e.ctx.CRCInit)
	if err := e.Driver.WriteBuffer(0, framed); err != nil {
		return ble.NewError("runConnectionEvent.tx", ble.KindRadio, err)
	}
	if err := e.Driver.TX(); err != nil {
		return ble.NewError("runConnectionEvent.tx", ble.KindRadio, err)
	}

	// Step 4: inter-frame space.
	e.Clock.DelayUS(uint32(T_IFS / time.Microsecond))

	// Step 5: receive the peer's PDU with a bounded timeout.
	rxTimeout := MinRXWindow
	if e.ctx.WinSizeUS > 0 {
		rxTimeout = time.Duration(e.ctx.WinSizeUS)*time.Microsecond + 2*time.Duration(e.ctx.WindowWideningUS)*time.Microsecond
	}
	if err := e.Driver.RX(rxTimeout); err != nil {
		return ble.NewError("runConnectionEvent.rx", ble.KindRadio, err)
	}

	irq, err := e.Driver.IRQStatus()
	if err != nil {
		return ble.NewError("runConnectionEvent.irq", ble.KindRadio, err)
	}
	e.Driver.ClearIRQStatus(irq)

	// Step 6: process received PDU.
	e.processRxResult(irq)

	// The radio is released at the end of every event.
	if err := e.Driver.Standby(); err != nil {
		return ble.NewError("runConnectionEvent.standby", ble.KindRadio, err)
	}

	// Step 7: advance.
	e.ctx.EventCounter++
	e.ctx.AnchorPointUS += e.ctx.ConnIntervalUS
	e.ctx.WindowWideningUS += 32 // §4.6 step 7 simplified model: 32us per interval elapsed
	halfInterval := e.ctx.ConnIntervalUS / 2
	if e.ctx.WindowWideningUS > halfInterval {
		e.ctx.WindowWideningUS = halfInterval
	}

	if !e.ctx.TxPending {
		e.Callbacks.txIdle()
	}

	return nil
}

func (e *Engine) programDataChannel(channel uint8) error {
	if err := e.Driver.SetFrequency(phy.FrequencyHz(channel)); err != nil {
		return err
	}
	return e.Driver.SetWhiteningSeed(phy.WhiteningSeed(channel))
}

// processRxResult implements §4.6 step 6.
func (e *Engine) processRxResult(irq radio.IRQStatus) {
	if irq.Has(radio.IRQCRCError) || irq.Has(radio.IRQRxTimeout) || !irq.Has(radio.IRQRxDone) {
		e.ctx.ConsecutiveCRCErrors++
		e.ctx.TotalCRCErrors++
		return
	}

	rx, err := e.Driver.ReadBuffer(0, 2)
	if err != nil || len(rx) < 2 {
		e.ctx.ConsecutiveCRCErrors++
		e.ctx.TotalCRCErrors++
		return
	}
	h := DecodeDataHeader([2]byte{rx[0], rx[1]})
	payload, err := e.Driver.ReadBuffer(2, h.Length)
	if err != nil {
		e.ctx.ConsecutiveCRCErrors++
		e.ctx.TotalCRCErrors++
		return
	}

	e.ctx.ConsecutiveCRCErrors = 0
	e.ctx.LastSuccessfulRxUS = e.Clock.NowUS()
	e.ctx.EverReceivedValidPDU = true

	if h.SN == e.ctx.NextExpectedSeqNum {
		e.ctx.NextExpectedSeqNum ^= 1
		e.dispatchReceived(h, payload)
	}

	if h.NESN != e.ctx.TxSeqNum {
		e.ctx.TxSeqNum ^= 1
		e.ctx.TxPending = false
	}

	e.ctx.MoreData = h.MD
}

func (e *Engine) dispatchReceived(h DataHeader, payload []byte) {
	switch h.LLID {
	case LLIDControl:
		e.dispatchControl(payload)
	case LLIDStartOrComplete, LLIDEmptyOrContinuation:
		if len(payload) > 0 {
			e.Callbacks.data(h.LLID, payload)
		}
	}
}

// dispatchControl implements the §4.6 control-PDU dispatch table.
func (e *Engine) dispatchControl(payload []byte) {
	if len(payload) == 0 {
		return
	}
	opcode := payload[0]
	switch ControlOpcode(opcode) {
	case OpTerminateInd:
		reason := uint8(0)
		if len(payload) > 1 {
			reason = payload[1]
		}
		e.mu.Lock()
		e.terminating = true
		e.terminateCause = reason
		e.mu.Unlock()
	case OpUnknownRsp:
		// Nothing outstanding to clear in this engine: control requests
		// this engine issues (FEATURE_RSP/UNKNOWN_RSP replies) are
		// fire-and-forget, not awaited.
		e.Log.Debug("ll: received LL_UNKNOWN_RSP")
	case OpFeatureReq:
		e.queueControl(EncodeFeatureRsp([8]byte{}))
	case OpVersionInd:
		// Optional per §4.6; this engine does not reply.
	default:
		e.queueControl(EncodeUnknownRsp(opcode))
		e.Callbacks.controlUnhandled(opcode)
	}
}

func (e *Engine) queueControl(body []byte) {
	if e.ctx.TxPending {
		// A data PDU is already staged; the control reply waits for the
		// next free slot rather than displacing pending application data.
		return
	}
	e.ctx.TxLLID = LLIDControl
	e.ctx.TxLength = copy(e.ctx.TxBuffer[:], body)
	e.ctx.MoreData = false
	e.ctx.TxPending = true
}

// checkSupervision implements §4.6 step 8's termination condition.
func (e *Engine) checkSupervision() (reason uint8, disconnected bool) {
	if !e.ctx.EverReceivedValidPDU && e.ctx.ConsecutiveCRCErrors > 6 {
		return ReasonSupervisionTimeout, true
	}
	now := e.Clock.NowUS()
	if now > e.ctx.LastSuccessfulRxUS && now-e.ctx.LastSuccessfulRxUS > e.ctx.SupervisionTimeoutUS {
		return ReasonSupervisionTimeout, true
	}
	return 0, false
}

func (e *Engine) teardown(reason uint8) {
	e.Driver.Standby()
	e.ctx.State = StateIdle
	e.ctx.Reset()
	e.Callbacks.disconnected(reason)
}
