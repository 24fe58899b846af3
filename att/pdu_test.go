package att

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeMTURoundTrip(t *testing.T) {
	req := EncodeExchangeMTUReq(185)
	assert.Equal(t, OpExchangeMTUReq, Opcode(req[0]))

	rsp := append([]byte{byte(OpExchangeMTURsp)}, 0xB9, 0x00)
	mtu, err := DecodeExchangeMTURsp(rsp)
	require.NoError(t, err)
	assert.Equal(t, uint16(185), mtu)
}

func TestReadByTypeRspDecodesMultipleEntries(t *testing.T) {
	pdu := []byte{byte(OpReadByTypeRsp), 4,
		0x01, 0x00, 0x00, 0x28, // handle 1, value {0x00,0x28}
		0x05, 0x00, 0x0A, 0x18, // handle 5, value {0x0A,0x18}
	}
	entries, err := DecodeReadByTypeRsp(pdu)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint16(1), entries[0].Handle)
	assert.Equal(t, []byte{0x00, 0x28}, entries[0].Value)
	assert.Equal(t, uint16(5), entries[1].Handle)
}

func TestReadByGroupRspDecodesMultipleEntries(t *testing.T) {
	pdu := []byte{byte(OpReadByGroupRsp), 6,
		0x01, 0x00, 0x05, 0x00, 0xE0, 0xFE, // group [1,5], uuid 0xFEE0
		0x06, 0x00, 0x0C, 0x00, 0xE0, 0xFF, // group [6,12], uuid 0xFFE0
	}
	entries, err := DecodeReadByGroupRsp(pdu)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint16(1), entries[0].StartHandle)
	assert.Equal(t, uint16(5), entries[0].EndHandle)
	assert.Equal(t, []byte{0xE0, 0xFE}, entries[0].Value)
}

func TestDecodeErrorRsp(t *testing.T) {
	pdu := []byte{byte(OpErrorRsp), byte(OpWriteReq), 0x0E, 0x00, byte(ErrInvalidHandle)}
	got, err := DecodeErrorRsp(pdu)
	require.NoError(t, err)
	assert.Equal(t, OpWriteReq, got.RequestOpcode)
	assert.Equal(t, uint16(0x000E), got.Handle)
	assert.Equal(t, ErrInvalidHandle, got.Code)
}

func TestDecodeHandleValue(t *testing.T) {
	pdu := append([]byte{byte(OpHandleValueNtf)}, 0x0B, 0x00)
	pdu = append(pdu, []byte("hi")...)
	hv, err := DecodeHandleValue(pdu)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x000B), hv.Handle)
	assert.Equal(t, []byte("hi"), hv.Value)
}
