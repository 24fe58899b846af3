package ble

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// UUID is a 16-bit or 128-bit BLE UUID, stored little-endian as carried on
// the wire.
type UUID []byte

// UUID16 converts a uint16 (such as 0x2800) to a UUID.
func UUID16(i uint16) UUID {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, i)
	return UUID(b)
}

// Parse parses a standard-format UUID string, such as "1800" or
// "34DA3AD1-7110-41A1-B1EF-4430F509CDE7".
func Parse(s string) (UUID, error) {
	s = strings.ReplaceAll(s, "-", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if err := lenErr(len(b)); err != nil {
		return nil, err
	}
	return UUID(Reverse(b)), nil
}

func lenErr(n int) error {
	switch n {
	case 2, 16:
		return nil
	}
	return fmt.Errorf("UUIDs must have length 2 or 16, got %d", n)
}

// Len returns the length of the UUID in bytes — 2 or 16.
func (u UUID) Len() int {
	return len(u)
}

// String hex-encodes a UUID, big-endian (network display order).
func (u UUID) String() string {
	return fmt.Sprintf("%x", Reverse(u))
}

// Equal reports whether u and v represent the same UUID.
func (u UUID) Equal(v UUID) bool {
	if len(u) != len(v) {
		return false
	}
	for i := range u {
		if u[i] != v[i] {
			return false
		}
	}
	return true
}

// Reverse returns a byte-order-reversed copy of b.
func Reverse(b []byte) []byte {
	l := len(b)
	if l == 2 {
		return []byte{b[1], b[0]}
	}
	out := make([]byte, l)
	for i := 0; i < l; i++ {
		out[i] = b[l-i-1]
	}
	return out
}

// Name returns the assigned name of a well-known 16-bit UUID, or "" if
// unknown.
func Name(u UUID) string {
	return wellKnownUUID[strings.ToLower(u.String())]
}

// wellKnownUUID carries the GATT declaration, descriptor, and common
// service UUIDs ble_gatt.h names, beyond the two (Xiaomi, Nordic UART) the
// distilled spec calls out by name — the fuller catalogue makes
// gatt.SelectProfile's service-discovery fallback (§4.9) meaningful against
// real peripherals that advertise standard services.
var wellKnownUUID = map[string]string{
	"2800": "Primary Service",
	"2801": "Secondary Service",
	"2802": "Include",
	"2803": "Characteristic",
	"2901": "Characteristic User Description",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
	"2905": "Characteristic Aggregate Format",
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180f": "Battery Service",
	"180d": "Heart Rate",
	"ffe0": "Nordic UART Service",
	"fee0": "Xiaomi Mi Band Service",
}
