// Package att implements the Attribute Protocol client state machine
// (§4.8): MTU exchange, single-outstanding-request reads/writes, and
// asynchronous notification/indication delivery, all carried over L2CAP
// fixed channel 0x0004.
package att

import "fmt"

// Opcode identifies an ATT PDU.
type Opcode uint8

const (
	OpErrorRsp         Opcode = 0x01
	OpExchangeMTUReq   Opcode = 0x02
	OpExchangeMTURsp   Opcode = 0x03
	OpReadByTypeReq    Opcode = 0x08
	OpReadByTypeRsp    Opcode = 0x09
	OpReadReq          Opcode = 0x0A
	OpReadRsp          Opcode = 0x0B
	OpReadByGroupReq   Opcode = 0x10
	OpReadByGroupRsp   Opcode = 0x11
	OpWriteReq         Opcode = 0x12
	OpWriteRsp         Opcode = 0x13
	OpWriteCmd         Opcode = 0x52
	OpHandleValueNtf   Opcode = 0x1B
	OpHandleValueInd   Opcode = 0x1D
	OpHandleValueCfm   Opcode = 0x1E
)

func (o Opcode) String() string {
	switch o {
	case OpErrorRsp:
		return "ErrorRsp"
	case OpExchangeMTUReq:
		return "ExchangeMTUReq"
	case OpExchangeMTURsp:
		return "ExchangeMTURsp"
	case OpReadByTypeReq:
		return "ReadByTypeReq"
	case OpReadByTypeRsp:
		return "ReadByTypeRsp"
	case OpReadReq:
		return "ReadReq"
	case OpReadRsp:
		return "ReadRsp"
	case OpReadByGroupReq:
		return "ReadByGroupReq"
	case OpReadByGroupRsp:
		return "ReadByGroupRsp"
	case OpWriteReq:
		return "WriteReq"
	case OpWriteRsp:
		return "WriteRsp"
	case OpWriteCmd:
		return "WriteCmd"
	case OpHandleValueNtf:
		return "HandleValueNtf"
	case OpHandleValueInd:
		return "HandleValueInd"
	case OpHandleValueCfm:
		return "HandleValueCfm"
	default:
		return fmt.Sprintf("Opcode(0x%02X)", uint8(o))
	}
}

// ErrorCode is the remote error code carried by an ERROR_RSP PDU. The full
// catalogue (0x01-0x11) is carried here, not just the handful §4.8
// illustrates, so that Att::Protocol{code} (§7) means something to a
// caller inspecting it.
type ErrorCode uint8

const (
	ErrInvalidHandle              ErrorCode = 0x01
	ErrReadNotPermitted            ErrorCode = 0x02
	ErrWriteNotPermitted           ErrorCode = 0x03
	ErrInvalidPDU                  ErrorCode = 0x04
	ErrInsufficientAuthentication  ErrorCode = 0x05
	ErrRequestNotSupported         ErrorCode = 0x06
	ErrInvalidOffset               ErrorCode = 0x07
	ErrInsufficientAuthorization   ErrorCode = 0x08
	ErrPrepareQueueFull            ErrorCode = 0x09
	ErrAttributeNotFound           ErrorCode = 0x0A
	ErrAttributeNotLong            ErrorCode = 0x0B
	ErrInsufficientEncryptionKeySize ErrorCode = 0x0C
	ErrInvalidAttributeValueLength ErrorCode = 0x0D
	ErrUnlikelyError               ErrorCode = 0x0E
	ErrInsufficientEncryption      ErrorCode = 0x0F
	ErrUnsupportedGroupType        ErrorCode = 0x10
	ErrInsufficientResources       ErrorCode = 0x11
)

func (c ErrorCode) String() string {
	switch c {
	case ErrInvalidHandle:
		return "InvalidHandle"
	case ErrReadNotPermitted:
		return "ReadNotPermitted"
	case ErrWriteNotPermitted:
		return "WriteNotPermitted"
	case ErrInvalidPDU:
		return "InvalidPDU"
	case ErrInsufficientAuthentication:
		return "InsufficientAuthentication"
	case ErrRequestNotSupported:
		return "RequestNotSupported"
	case ErrInvalidOffset:
		return "InvalidOffset"
	case ErrInsufficientAuthorization:
		return "InsufficientAuthorization"
	case ErrPrepareQueueFull:
		return "PrepareQueueFull"
	case ErrAttributeNotFound:
		return "AttributeNotFound"
	case ErrAttributeNotLong:
		return "AttributeNotLong"
	case ErrInsufficientEncryptionKeySize:
		return "InsufficientEncryptionKeySize"
	case ErrInvalidAttributeValueLength:
		return "InvalidAttributeValueLength"
	case ErrUnlikelyError:
		return "UnlikelyError"
	case ErrInsufficientEncryption:
		return "InsufficientEncryption"
	case ErrUnsupportedGroupType:
		return "UnsupportedGroupType"
	case ErrInsufficientResources:
		return "InsufficientResources"
	default:
		return fmt.Sprintf("ErrorCode(0x%02X)", uint8(c))
	}
}

// DefaultMTU and MaxMTU bound MTU negotiation (§8: "MTU negotiation clamps
// to [23, 247]").
const (
	DefaultMTU = 23
	MaxMTU     = 247
)
