package ll

// Callbacks is the typed table the application registers at init time
// (§9 redesign flag: replace ad-hoc weak-callback overrides with a typed
// table; unset callbacks are no-ops). The engine never calls a nil field —
// every invocation site checks first.
type Callbacks struct {
	// OnConnected fires once the CONNECT_REQ handshake completes and the
	// first connection event is scheduled.
	OnConnected func(ctx *Context)

	// OnDisconnected fires with the termination reason byte (0x08
	// supervision timeout, 0x13 local termination, or the reason byte a
	// peer's LL_TERMINATE_IND carried).
	OnDisconnected func(reason uint8)

	// OnDataReceived delivers an L2CAP-bound payload up the stack in wire
	// order, one LL Data PDU at a time. llid distinguishes a fragment
	// start (LLIDStartOrComplete) from a continuation
	// (LLIDEmptyOrContinuation); reassembly across MD-boundary fragments
	// happens in the l2cap layer, not here.
	OnDataReceived func(llid LLID, payload []byte)

	// OnControlUnhandled fires when a control opcode this engine does
	// not implement body-level behavior for was received and answered
	// with LL_UNKNOWN_RSP, purely for diagnostics.
	OnControlUnhandled func(opcode uint8)

	// OnTxIdle fires at the end of every connection event during which
	// no application payload is awaiting acknowledgment, giving l2cap a
	// chance to queue the next outgoing fragment via Engine.QueueTX.
	OnTxIdle func()
}

func (cb Callbacks) connected(ctx *Context) {
	if cb.OnConnected != nil {
		cb.OnConnected(ctx)
	}
}

func (cb Callbacks) disconnected(reason uint8) {
	if cb.OnDisconnected != nil {
		cb.OnDisconnected(reason)
	}
}

func (cb Callbacks) data(llid LLID, payload []byte) {
	if cb.OnDataReceived != nil {
		cb.OnDataReceived(llid, payload)
	}
}

func (cb Callbacks) controlUnhandled(opcode uint8) {
	if cb.OnControlUnhandled != nil {
		cb.OnControlUnhandled(opcode)
	}
}

func (cb Callbacks) txIdle() {
	if cb.OnTxIdle != nil {
		cb.OnTxIdle()
	}
}

// DisconnectReason values named in §7/§4.6.
const (
	ReasonSupervisionTimeout uint8 = 0x08
	ReasonLocalTerminated    uint8 = 0x13
)
