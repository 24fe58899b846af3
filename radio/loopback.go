package radio

import (
	"sync"
	"time"

	"github.com/embedble/centrald/phy"
)

// Loopback is a software Driver used by tests and by app.Device when no
// physical transceiver is attached. Two Loopback instances can be wired
// together with Pair to exchange packets the way a master and a peer would
// over the air, including injected corruption for exercising CRC-error and
// supervision-timeout paths (§8).
type Loopback struct {
	mu sync.Mutex

	freq      uint32
	syncWord  [4]byte
	crcSeed   uint32
	whitening uint8
	pkt       BLEPacketParams
	mod       ModulationParams

	txBuf [260]byte
	txLen int
	rxBuf [260]byte
	rxLen int

	irq IRQStatus

	peer *Loopback
	link chan []byte

	// Corrupt, when non-nil, is invoked on every outbound frame before
	// delivery to the peer; returning a mutated copy models an air-interface
	// bit error. Tests use this to force CRC failures deterministically.
	Corrupt func(frame []byte) []byte
}

// NewLoopback creates an idle Loopback driver.
func NewLoopback() *Loopback {
	return &Loopback{link: make(chan []byte, 4)}
}

// Pair wires two Loopback drivers so that a's TX is delivered to b's RX and
// vice versa.
func Pair(a, b *Loopback) {
	a.peer = b
	b.peer = a
}

func (l *Loopback) SetPacketTypeBLE() error { return nil }

func (l *Loopback) SetModulationParams(p ModulationParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mod = p
	return nil
}

func (l *Loopback) SetBLEPacketParams(p BLEPacketParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pkt = p
	return nil
}

func (l *Loopback) SetFrequency(hz uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.freq = hz
	return nil
}

func (l *Loopback) SetSyncWord(sw [4]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.syncWord = sw
	return nil
}

func (l *Loopback) SetCRCSeed(seed uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.crcSeed = seed
	return nil
}

func (l *Loopback) SetWhiteningSeed(seed uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.whitening = seed
	return nil
}

func (l *Loopback) WriteBuffer(offset uint8, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if int(offset)+len(data) > len(l.txBuf) {
		return &Error{Kind: KindHal, Op: "WriteBuffer"}
	}
	copy(l.txBuf[offset:], data)
	if end := int(offset) + len(data); end > l.txLen {
		l.txLen = end
	}
	return nil
}

func (l *Loopback) ReadBuffer(offset uint8, length uint8) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if int(offset)+int(length) > l.rxLen {
		return nil, &Error{Kind: KindHal, Op: "ReadBuffer"}
	}
	out := make([]byte, length)
	copy(out, l.rxBuf[offset:int(offset)+int(length)])
	return out, nil
}

func (l *Loopback) Standby() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.irq = 0
	return nil
}

func (l *Loopback) TX() error {
	l.mu.Lock()
	frame := make([]byte, l.txLen)
	copy(frame, l.txBuf[:l.txLen])
	l.txLen = 0
	peer := l.peer
	corrupt := l.Corrupt
	l.mu.Unlock()

	if corrupt != nil {
		frame = corrupt(frame)
	}

	l.mu.Lock()
	l.irq |= IRQTxDone
	l.mu.Unlock()

	if peer != nil {
		select {
		case peer.link <- frame:
		default:
		}
	}
	return nil
}

func (l *Loopback) RX(timeout time.Duration) error {
	wait := timeout
	if wait == 0 {
		wait = BusyWaitTimeout
	}
	select {
	case frame := <-l.link:
		l.mu.Lock()
		n := copy(l.rxBuf[:], frame)
		l.rxLen = n
		if len(frame) >= 3 && phy.CheckCRC24(frame, l.crcSeed) {
			l.irq |= IRQRxDone | IRQSyncValid
		} else {
			l.irq |= IRQCRCError
		}
		l.mu.Unlock()
		return nil
	case <-time.After(wait):
		l.mu.Lock()
		l.irq |= IRQRxTimeout
		l.mu.Unlock()
		return nil
	}
}

func (l *Loopback) IRQStatus() (IRQStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.irq, nil
}

func (l *Loopback) ClearIRQStatus(mask IRQStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.irq &^= mask
	return nil
}
