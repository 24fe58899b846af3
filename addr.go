package ble

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Addr represents a BLE device address, colon-hex formatted
// (e.g. "11:22:33:44:55:66").
type Addr interface {
	String() string
	Bytes() []byte
}

// NewAddr creates an Addr from a colon-hex string.
func NewAddr(s string) Addr {
	return addr(strings.ToLower(s))
}

// NewAddrFromBytes creates an Addr from 6 raw bytes, on-air order.
func NewAddrFromBytes(b [6]byte) Addr {
	return addr(strings.ToLower(fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		b[0], b[1], b[2], b[3], b[4], b[5])))
}

// NewStaticRandomAddr draws a random static device address: the top two
// bits of the most significant byte are forced to 11 per §3's identity
// field requirement for the local address.
func NewStaticRandomAddr() (Addr, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("read random address: %w", err)
	}
	b[5] |= 0xC0
	return NewAddrFromBytes(b), nil
}

type addr string

func (a addr) String() string {
	return string(a)
}

func (a addr) Bytes() []byte {
	hexStr := strings.ReplaceAll(a.String(), ":", "")

	out, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil
	}

	return out
}
