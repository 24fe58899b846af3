package att

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// EncodeExchangeMTUReq encodes an MTU exchange request (§4.8).
func EncodeExchangeMTUReq(clientRxMTU uint16) []byte {
	b := make([]byte, 3)
	b[0] = byte(OpExchangeMTUReq)
	binary.LittleEndian.PutUint16(b[1:3], clientRxMTU)
	return b
}

// DecodeExchangeMTURsp decodes the server's negotiated MTU.
func DecodeExchangeMTURsp(pdu []byte) (uint16, error) {
	if len(pdu) < 3 || Opcode(pdu[0]) != OpExchangeMTURsp {
		return 0, errors.New("att: malformed ExchangeMTURsp")
	}
	return binary.LittleEndian.Uint16(pdu[1:3]), nil
}

// EncodeReadReq encodes a Read Request for handle.
func EncodeReadReq(handle uint16) []byte {
	b := make([]byte, 3)
	b[0] = byte(OpReadReq)
	binary.LittleEndian.PutUint16(b[1:3], handle)
	return b
}

// DecodeReadRsp strips the opcode byte from a Read Response, returning the
// attribute value.
func DecodeReadRsp(pdu []byte) ([]byte, error) {
	if len(pdu) < 1 || Opcode(pdu[0]) != OpReadRsp {
		return nil, errors.New("att: malformed ReadRsp")
	}
	return pdu[1:], nil
}

// EncodeWriteReq encodes a Write Request (acknowledged) for handle.
func EncodeWriteReq(handle uint16, value []byte) []byte {
	b := make([]byte, 3+len(value))
	b[0] = byte(OpWriteReq)
	binary.LittleEndian.PutUint16(b[1:3], handle)
	copy(b[3:], value)
	return b
}

// EncodeWriteCmd encodes a Write Command (fire-and-forget) for handle.
func EncodeWriteCmd(handle uint16, value []byte) []byte {
	b := make([]byte, 3+len(value))
	b[0] = byte(OpWriteCmd)
	binary.LittleEndian.PutUint16(b[1:3], handle)
	copy(b[3:], value)
	return b
}

// EncodeReadByTypeReq encodes a Read By Type Request over a handle range
// for a 16-bit attribute type UUID.
func EncodeReadByTypeReq(startHandle, endHandle, attrType uint16) []byte {
	b := make([]byte, 7)
	b[0] = byte(OpReadByTypeReq)
	binary.LittleEndian.PutUint16(b[1:3], startHandle)
	binary.LittleEndian.PutUint16(b[3:5], endHandle)
	binary.LittleEndian.PutUint16(b[5:7], attrType)
	return b
}

// ReadByTypeEntry is one handle/value pair returned by a Read By Type
// Response.
type ReadByTypeEntry struct {
	Handle uint16
	Value  []byte
}

// DecodeReadByTypeRsp splits a Read By Type Response into its fixed-width
// handle/value entries.
func DecodeReadByTypeRsp(pdu []byte) ([]ReadByTypeEntry, error) {
	if len(pdu) < 2 || Opcode(pdu[0]) != OpReadByTypeRsp {
		return nil, errors.New("att: malformed ReadByTypeRsp")
	}
	entryLen := int(pdu[1])
	if entryLen < 2 {
		return nil, errors.New("att: ReadByTypeRsp entry length too small")
	}
	body := pdu[2:]
	if len(body)%entryLen != 0 {
		return nil, errors.New("att: ReadByTypeRsp body not a multiple of entry length")
	}
	var entries []ReadByTypeEntry
	for len(body) > 0 {
		entries = append(entries, ReadByTypeEntry{
			Handle: binary.LittleEndian.Uint16(body[0:2]),
			Value:  body[2:entryLen],
		})
		body = body[entryLen:]
	}
	return entries, nil
}

// EncodeReadByGroupReq encodes a Read By Group Type Request, used by GATT
// primary-service discovery (attrType = 0x2800).
func EncodeReadByGroupReq(startHandle, endHandle, attrType uint16) []byte {
	b := make([]byte, 7)
	b[0] = byte(OpReadByGroupReq)
	binary.LittleEndian.PutUint16(b[1:3], startHandle)
	binary.LittleEndian.PutUint16(b[3:5], endHandle)
	binary.LittleEndian.PutUint16(b[5:7], attrType)
	return b
}

// ReadByGroupEntry is one service group entry returned by a Read By Group
// Type Response.
type ReadByGroupEntry struct {
	StartHandle uint16
	EndHandle   uint16
	Value       []byte
}

// DecodeReadByGroupRsp splits a Read By Group Type Response into its
// fixed-width group entries.
func DecodeReadByGroupRsp(pdu []byte) ([]ReadByGroupEntry, error) {
	if len(pdu) < 2 || Opcode(pdu[0]) != OpReadByGroupRsp {
		return nil, errors.New("att: malformed ReadByGroupRsp")
	}
	entryLen := int(pdu[1])
	if entryLen < 4 {
		return nil, errors.New("att: ReadByGroupRsp entry length too small")
	}
	body := pdu[2:]
	if len(body)%entryLen != 0 {
		return nil, errors.New("att: ReadByGroupRsp body not a multiple of entry length")
	}
	var entries []ReadByGroupEntry
	for len(body) > 0 {
		entries = append(entries, ReadByGroupEntry{
			StartHandle: binary.LittleEndian.Uint16(body[0:2]),
			EndHandle:   binary.LittleEndian.Uint16(body[2:4]),
			Value:       body[4:entryLen],
		})
		body = body[entryLen:]
	}
	return entries, nil
}

// EncodeHandleValueCfm encodes the confirmation an indication requires.
func EncodeHandleValueCfm() []byte {
	return []byte{byte(OpHandleValueCfm)}
}

// HandleValue is the (handle, value) pair carried by a notification or
// indication.
type HandleValue struct {
	Handle uint16
	Value  []byte
}

// DecodeHandleValue decodes the common body shape of HANDLE_VALUE_NTF and
// HANDLE_VALUE_IND.
func DecodeHandleValue(pdu []byte) (HandleValue, error) {
	if len(pdu) < 3 {
		return HandleValue{}, errors.New("att: malformed HandleValue PDU")
	}
	return HandleValue{
		Handle: binary.LittleEndian.Uint16(pdu[1:3]),
		Value:  pdu[3:],
	}, nil
}

// ErrorResponse is the decoded body of an ERROR_RSP PDU (§4.8: "carrying
// req-opcode/handle/error-code").
type ErrorResponse struct {
	RequestOpcode Opcode
	Handle        uint16
	Code          ErrorCode
}

// DecodeErrorRsp decodes an ERROR_RSP PDU.
func DecodeErrorRsp(pdu []byte) (ErrorResponse, error) {
	if len(pdu) < 5 || Opcode(pdu[0]) != OpErrorRsp {
		return ErrorResponse{}, errors.New("att: malformed ErrorRsp")
	}
	return ErrorResponse{
		RequestOpcode: Opcode(pdu[1]),
		Handle:        binary.LittleEndian.Uint16(pdu[2:4]),
		Code:          ErrorCode(pdu[4]),
	}, nil
}
