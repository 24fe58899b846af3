package l2cap

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/embedble/centrald"
	"github.com/embedble/centrald/ll"
)

// DefaultMTU is the minimum ATT_MTU every LE-U L2CAP implementation must
// support before MTU exchange (§6).
const DefaultMTU = 23

// MaxMTU is the largest ATT_MTU this stack will negotiate (§6).
const MaxMTU = 247

// Sender is the subset of ll.Engine the mux drives; satisfied by
// *ll.Engine.
type Sender interface {
	QueueTX(llid ll.LLID, payload []byte, moreData bool) error
}

// fragment is one LL-sized slice of an outgoing L2CAP SDU, tagged with the
// LLID it must carry on the air.
type fragment struct {
	llid ll.LLID
	data []byte
}

// Mux frames ATT PDUs onto CID 0x0004 and fragments/reassembles them across
// LL Data PDU boundaries (§4.7). It is wired into an ll.Engine's Callbacks
// (OnDataReceived for inbound reassembly, OnTxIdle to feed the next queued
// outbound fragment) and never touches radio.Driver directly.
type Mux struct {
	engine Sender
	log    ble.Logger

	mu       sync.Mutex
	outQueue []fragment // remaining LL-sized fragments of the SDU currently being sent

	rxBuf    []byte // accumulates an inbound SDU across continuation fragments
	rxWant   int    // total SDU length, read from the first fragment's L2CAP header
	rxActive bool

	// OnSDU fires once a complete ATT PDU addressed to CID 0x0004 has been
	// reassembled. Unset is a no-op.
	OnSDU func(payload []byte)
}

// New constructs a Mux bound to engine. Register its callbacks with the
// engine via Attach.
func New(engine Sender, log ble.Logger) *Mux {
	if log == nil {
		log = ble.GetLogger()
	}
	return &Mux{engine: engine, log: log}
}

// Attach wires m's reassembly and fragment-feed hooks into cb, preserving
// any caller-set hooks by chaining them after m's.
func (m *Mux) Attach(cb *ll.Callbacks) {
	prevData := cb.OnDataReceived
	cb.OnDataReceived = func(llid ll.LLID, payload []byte) {
		m.onData(llid, payload)
		if prevData != nil {
			prevData(llid, payload)
		}
	}
	prevIdle := cb.OnTxIdle
	cb.OnTxIdle = func() {
		m.feed()
		if prevIdle != nil {
			prevIdle()
		}
	}
}

// Send fragments payload (an ATT PDU) as an L2CAP SDU on CID 0x0004 and
// queues it for transmission. It returns before the SDU is on the air;
// OnTxIdle drains the queue one LL Data PDU per idle connection event.
// Send fails with ble.KindBusy if a previous SDU has not finished draining.
func (m *Mux) Send(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.outQueue) > 0 {
		return ble.NewError("l2cap.Send", ble.KindBusy, errors.New("previous SDU still queued"))
	}

	hdr := EncodeHeader(len(payload), CIDATT)
	sdu := make([]byte, 0, HeaderLen+len(payload))
	sdu = append(sdu, hdr[:]...)
	sdu = append(sdu, payload...)

	chunks := chunk(sdu, ll.MaxPDULen)
	m.outQueue = make([]fragment, len(chunks))
	for i, c := range chunks {
		llid := ll.LLIDEmptyOrContinuation
		if i == 0 {
			llid = ll.LLIDStartOrComplete
		}
		m.outQueue[i] = fragment{llid: llid, data: c}
	}
	return nil
}

// feed stages the next queued fragment, if any, as the engine's next
// outgoing LL Data PDU.
func (m *Mux) feed() {
	m.mu.Lock()
	if len(m.outQueue) == 0 {
		m.mu.Unlock()
		return
	}
	frag := m.outQueue[0]
	moreData := len(m.outQueue) > 1
	m.mu.Unlock()

	if err := m.engine.QueueTX(frag.llid, frag.data, moreData); err != nil {
		// A KindBusy here means the previous fragment has not yet been
		// acknowledged; feed is called again at the next idle event.
		return
	}

	m.mu.Lock()
	m.outQueue = m.outQueue[1:]
	m.mu.Unlock()
}

// onData reassembles an inbound SDU from consecutive LL Data PDU fragments
// and dispatches it once complete, discarding anything not addressed to
// CID 0x0004 (§4.7).
func (m *Mux) onData(llid ll.LLID, payload []byte) {
	m.mu.Lock()
	switch llid {
	case ll.LLIDStartOrComplete:
		length, cid, err := DecodeHeader(payload)
		if err != nil {
			m.mu.Unlock()
			m.log.Warnf("l2cap: dropping malformed SDU start: %v", err)
			return
		}
		m.rxBuf = append([]byte{}, payload[HeaderLen:]...)
		m.rxWant = length
		m.rxActive = cid == CIDATT
		if !m.rxActive {
			m.log.Debugf("l2cap: discarding frame for CID 0x%04X", cid)
		}
	case ll.LLIDEmptyOrContinuation:
		if !m.rxActive {
			m.mu.Unlock()
			return
		}
		m.rxBuf = append(m.rxBuf, payload...)
	default:
		m.mu.Unlock()
		return
	}

	complete := m.rxActive && len(m.rxBuf) >= m.rxWant
	var sdu []byte
	if complete {
		sdu = m.rxBuf[:m.rxWant]
		m.rxActive = false
		m.rxBuf = nil
		m.rxWant = 0
	}
	m.mu.Unlock()

	if complete && m.OnSDU != nil {
		m.OnSDU(sdu)
	}
}

// chunk splits data into slices of at most n bytes, preserving order. It
// always returns at least one (possibly empty) chunk so a zero-length SDU
// still produces a single fragment carrying the L2CAP header.
func chunk(data []byte, n int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for len(data) > 0 {
		end := n
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[:end])
		data = data[end:]
	}
	return out
}
