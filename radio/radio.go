// Package radio defines the abstract capability the Link-Layer engine
// consumes to drive a 2.4 GHz transceiver (§4.1). It is deliberately thin:
// platform bring-up, pinmux, and SPI/UART wiring are external collaborators
// (§1) and never appear here.
package radio

import (
	"fmt"
	"time"
)

// Kind classifies a radio driver failure, kept distinct from ble.Error (§9
// Design Notes: "keep the two as distinct sum types at the driver boundary;
// lift radio errors into protocol errors at the LL engine boundary only").
type Kind int

const (
	// KindHal is a low-level transceiver I/O failure.
	KindHal Kind = iota
	// KindBusy means the transceiver is engaged and cannot take the
	// request. The drivers in this module do not return it.
	KindBusy
	// KindTimeout means a bounded wait (e.g. an RX window) elapsed with no
	// result.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindHal:
		return "Hal"
	case KindBusy:
		return "Busy"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Error is the radio-driver-boundary error domain.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("radio: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("radio: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// BusyWaitTimeout is the upper bound §4.1 places on any chip-busy wait
// before a driver call fails with KindHal.
const BusyWaitTimeout = 10 * time.Millisecond

// IRQStatus is a packed status word with at least the bits below set
// (§4.1). Drivers may report additional, ignored bits.
type IRQStatus uint32

const (
	IRQTxDone IRQStatus = 1 << iota
	IRQRxDone
	IRQSyncValid
	IRQCRCError
	IRQRxTimeout
)

func (s IRQStatus) Has(bit IRQStatus) bool { return s&bit != 0 }

// BLEPacketParams configures the BLE-specific packet framing (§4.1): a
// Master-side connection role, a fixed 3-byte CRC, standard (non-test)
// packet type, and whitening always enabled.
type BLEPacketParams struct {
	ConnectionState byte // role/connection-state tag, driver-defined encoding
	CRCLength       int  // always 3 for this stack
	PacketType      byte // standard vs. test packet
	WhiteningOn     bool
}

// ModulationParams configures 1 Mbps GFSK with BT=0.5, modulation index 0.5
// — the only PHY this stack drives (§1: BLE 4.2, no coded PHYs).
type ModulationParams struct {
	BitrateKbps  float32
	BT           float32
	ModIndex     float32
}

// DefaultModulationParams is the BT=0.5, 1 Mbps, mod-index 0.5 GFSK profile
// every connection on this stack uses.
var DefaultModulationParams = ModulationParams{BitrateKbps: 1000, BT: 0.5, ModIndex: 0.5}

// DefaultBLEPacketParams is the CRC-24, standard-packet, whitened profile
// every connection on this stack uses.
var DefaultBLEPacketParams = BLEPacketParams{CRCLength: 3, WhiteningOn: true}

// Driver is the capability the Link-Layer engine consumes. All calls are
// blocking, upper-bounded by BusyWaitTimeout unless a longer explicit
// timeout is documented (§4.1, §5 "all blocks are upper-bounded").
type Driver interface {
	// SetPacketTypeBLE selects the BLE packet-decoding mode.
	SetPacketTypeBLE() error

	// SetModulationParams programs the GFSK modulation profile.
	SetModulationParams(ModulationParams) error

	// SetBLEPacketParams programs BLE framing parameters.
	SetBLEPacketParams(BLEPacketParams) error

	// SetFrequency programs the RF carrier frequency in Hz.
	SetFrequency(hz uint32) error

	// SetSyncWord programs the 4-byte sync word — the access address,
	// byte-reversed for on-air transmission (§4.1).
	SetSyncWord(syncWord [4]byte) error

	// SetCRCSeed programs the 24-bit CRC initial value.
	SetCRCSeed(seed uint32) error

	// SetWhiteningSeed programs the 7-bit whitening LFSR seed
	// (channel | 0x40, §4.1).
	SetWhiteningSeed(seed uint8) error

	// WriteBuffer writes data into the driver's TX buffer at offset.
	WriteBuffer(offset uint8, data []byte) error

	// ReadBuffer reads length bytes from the driver's RX buffer at offset.
	ReadBuffer(offset uint8, length uint8) ([]byte, error)

	// Standby puts the radio into its idle state. Always called at the end
	// of a connection event (§3 "Radio mode ... always released").
	Standby() error

	// TX transmits the buffer previously staged with WriteBuffer and
	// blocks until TX completes or the internal HAL timeout elapses.
	TX() error

	// RX enters receive mode for up to timeout. The Loopback and
	// serialbridge drivers bound a zero timeout by BusyWaitTimeout.
	RX(timeout time.Duration) error

	// IRQStatus reports the packed status word.
	IRQStatus() (IRQStatus, error)

	// ClearIRQStatus clears the bits in mask.
	ClearIRQStatus(mask IRQStatus) error
}
