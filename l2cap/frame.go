// Package l2cap frames ATT PDUs onto the single fixed channel this stack
// supports (CID 0x0004) and fragments them across LL Data PDU boundaries
// (§4.7). There is no segmentation-and-reassembly beyond what the Link
// Layer's MD bit already provides: one L2CAP SDU is carried start-to-finish
// across one or more consecutive connection events.
package l2cap

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// CIDATT is the fixed channel ID that carries ATT traffic. It is the only
// CID this stack recognizes; frames addressed to any other CID are dropped.
const CIDATT = 0x0004

// HeaderLen is the size of the L2CAP basic header: Length[2B LE] | CID[2B LE].
const HeaderLen = 4

// EncodeHeader packs an L2CAP basic header for an SDU of the given length on cid.
func EncodeHeader(length int, cid uint16) [HeaderLen]byte {
	var b [HeaderLen]byte
	binary.LittleEndian.PutUint16(b[0:2], uint16(length))
	binary.LittleEndian.PutUint16(b[2:4], cid)
	return b
}

// DecodeHeader unpacks an L2CAP basic header.
func DecodeHeader(b []byte) (length int, cid uint16, err error) {
	if len(b) < HeaderLen {
		return 0, 0, errors.New("l2cap: header truncated")
	}
	length = int(binary.LittleEndian.Uint16(b[0:2]))
	cid = binary.LittleEndian.Uint16(b[2:4])
	return length, cid, nil
}
