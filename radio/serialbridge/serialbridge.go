// Package serialbridge implements radio.Driver over a UART link to an
// external transceiver module, for hosts with no directly-addressable radio
// (§1: "a raw 2.4 GHz transceiver" is the driven peripheral; how it is
// attached — SPI register map or a UART-bridged MCU — is a platform
// concern outside the core spec). Framing and the read/write-loop split are
// carried over from the teacher's H4 transport.
package serialbridge

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/chmorgan/go-serial2/serial"
	"github.com/pkg/errors"

	"github.com/embedble/centrald/radio"
)

// opcode identifies a request on the wire. The bridge MCU is expected to
// execute the request against its local transceiver and reply with a single
// framed response carrying the same opcode.
type opcode byte

const (
	opSetPacketTypeBLE opcode = iota
	opSetModulation
	opSetPacketParams
	opSetFrequency
	opSetSyncWord
	opSetCRCSeed
	opSetWhiteningSeed
	opWriteBuffer
	opReadBuffer
	opStandby
	opTX
	opRX
	opIRQStatus
	opClearIRQStatus
)

const frameHeaderLen = 3 // opcode(1) + length(2), little-endian

// Bridge is a radio.Driver that forwards every call across a serial link
// framed as [opcode][len lo][len hi][payload...] and blocks for a matching
// response frame.
type Bridge struct {
	sp io.ReadWriteCloser

	wmu sync.Mutex

	reqCh  chan request
	respCh map[opcode]chan []byte
	rmu    sync.Mutex

	done chan struct{}
}

type request struct {
	op      opcode
	payload []byte
}

// Open opens the serial device described by opts and starts the bridge's
// read loop.
func Open(opts serial.OpenOptions) (*Bridge, error) {
	opts.MinimumReadSize = 0
	opts.InterCharacterTimeout = 100

	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open serial radio bridge")
	}

	b := &Bridge{
		sp:     sp,
		reqCh:  make(chan request),
		respCh: make(map[opcode]chan []byte),
		done:   make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

// Close shuts down the read loop and closes the underlying serial port.
func (b *Bridge) Close() error {
	select {
	case <-b.done:
		return nil
	default:
		close(b.done)
		return errors.Wrap(b.sp.Close(), "close serial radio bridge")
	}
}

func (b *Bridge) readLoop() {
	hdr := make([]byte, frameHeaderLen)
	for {
		select {
		case <-b.done:
			return
		default:
		}
		if _, err := io.ReadFull(b.sp, hdr); err != nil {
			continue
		}
		op := opcode(hdr[0])
		n := binary.LittleEndian.Uint16(hdr[1:3])
		payload := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(b.sp, payload); err != nil {
				continue
			}
		}

		b.rmu.Lock()
		ch, ok := b.respCh[op]
		b.rmu.Unlock()
		if ok {
			select {
			case ch <- payload:
			default:
			}
		}
	}
}

func (b *Bridge) call(op opcode, payload []byte, timeout time.Duration) ([]byte, error) {
	ch := make(chan []byte, 1)
	b.rmu.Lock()
	b.respCh[op] = ch
	b.rmu.Unlock()
	defer func() {
		b.rmu.Lock()
		delete(b.respCh, op)
		b.rmu.Unlock()
	}()

	frame := make([]byte, frameHeaderLen+len(payload))
	frame[0] = byte(op)
	binary.LittleEndian.PutUint16(frame[1:3], uint16(len(payload)))
	copy(frame[frameHeaderLen:], payload)

	b.wmu.Lock()
	_, err := b.sp.Write(frame)
	b.wmu.Unlock()
	if err != nil {
		return nil, &radio.Error{Kind: radio.KindHal, Op: fmt.Sprintf("write op %d", op), Err: err}
	}

	if timeout == 0 {
		timeout = radio.BusyWaitTimeout
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		return nil, &radio.Error{Kind: radio.KindHal, Op: fmt.Sprintf("op %d", op)}
	}
}

func (b *Bridge) SetPacketTypeBLE() error {
	_, err := b.call(opSetPacketTypeBLE, nil, 0)
	return err
}

func (b *Bridge) SetModulationParams(p radio.ModulationParams) error {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.BitrateKbps*1000))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.BT*1000))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.ModIndex*1000))
	_, err := b.call(opSetModulation, buf, 0)
	return err
}

func (b *Bridge) SetBLEPacketParams(p radio.BLEPacketParams) error {
	buf := []byte{p.ConnectionState, byte(p.CRCLength), p.PacketType, 0}
	if p.WhiteningOn {
		buf[3] = 1
	}
	_, err := b.call(opSetPacketParams, buf, 0)
	return err
}

func (b *Bridge) SetFrequency(hz uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, hz)
	_, err := b.call(opSetFrequency, buf, 0)
	return err
}

func (b *Bridge) SetSyncWord(sw [4]byte) error {
	_, err := b.call(opSetSyncWord, sw[:], 0)
	return err
}

func (b *Bridge) SetCRCSeed(seed uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, seed)
	_, err := b.call(opSetCRCSeed, buf, 0)
	return err
}

func (b *Bridge) SetWhiteningSeed(seed uint8) error {
	_, err := b.call(opSetWhiteningSeed, []byte{seed}, 0)
	return err
}

func (b *Bridge) WriteBuffer(offset uint8, data []byte) error {
	payload := append([]byte{offset}, data...)
	_, err := b.call(opWriteBuffer, payload, 0)
	return err
}

func (b *Bridge) ReadBuffer(offset uint8, length uint8) ([]byte, error) {
	resp, err := b.call(opReadBuffer, []byte{offset, length}, 0)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (b *Bridge) Standby() error {
	_, err := b.call(opStandby, nil, 0)
	return err
}

func (b *Bridge) TX() error {
	_, err := b.call(opTX, nil, 0)
	return err
}

func (b *Bridge) RX(timeout time.Duration) error {
	wait := timeout
	if wait == 0 {
		wait = radio.BusyWaitTimeout
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(timeout/time.Microsecond))
	_, err := b.call(opRX, buf, wait+radio.BusyWaitTimeout)
	return err
}

func (b *Bridge) IRQStatus() (radio.IRQStatus, error) {
	resp, err := b.call(opIRQStatus, nil, 0)
	if err != nil {
		return 0, err
	}
	if len(resp) < 4 {
		return 0, &radio.Error{Kind: radio.KindHal, Op: "IRQStatus"}
	}
	return radio.IRQStatus(binary.LittleEndian.Uint32(resp)), nil
}

func (b *Bridge) ClearIRQStatus(mask radio.IRQStatus) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(mask))
	_, err := b.call(opClearIRQStatus, buf, 0)
	return err
}
