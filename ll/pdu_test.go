package ll

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataHeaderRoundTrip(t *testing.T) {
	cases := []DataHeader{
		{LLID: LLIDEmptyOrContinuation, NESN: 0, SN: 0, MD: false, Length: 0},
		{LLID: LLIDStartOrComplete, NESN: 1, SN: 0, MD: true, Length: 27},
		{LLID: LLIDControl, NESN: 1, SN: 1, MD: false, Length: 251},
	}
	for _, h := range cases {
		encoded := h.Encode()
		got := DecodeDataHeader(encoded)
		assert.Equal(t, h, got)
	}
}

func TestDataPDURoundTrip(t *testing.T) {
	payload := make([]byte, 27)
	for i := range payload {
		payload[i] = byte(i)
	}
	h := DataHeader{LLID: LLIDStartOrComplete, NESN: 1, SN: 0, MD: true}
	frame := EncodeDataPDU(h, payload)

	gotHeader, gotPayload, err := DecodeDataPDU(frame)
	require.NoError(t, err)
	assert.Equal(t, uint8(len(payload)), gotHeader.Length)
	gotHeader.Length = 0
	h.Length = 0
	assert.Equal(t, h, gotHeader)
	assert.Equal(t, payload, gotPayload)
}

func TestDataPDUMaxLength(t *testing.T) {
	payload := make([]byte, MaxPDULen)
	h := DataHeader{LLID: LLIDStartOrComplete}
	frame := EncodeDataPDU(h, payload)
	_, gotPayload, err := DecodeDataPDU(frame)
	require.NoError(t, err)
	assert.Len(t, gotPayload, MaxPDULen)
}

func TestConnectReqRoundTrip(t *testing.T) {
	req := ConnectReq{
		InitAddr:      [6]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		AdvAddr:       [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		AccessAddress: 0xAF9A1234,
		CRCInit:       0x0A0B0C,
		WinSize:       2,
		WinOffset:     0,
		Interval:      24,
		Latency:       0,
		Timeout:       400,
		ChannelMap:    [5]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x1F},
		Hop:           9,
		SCA:           0,
	}
	encoded := req.Encode()
	require.Len(t, encoded, ConnectReqLen)

	decoded, err := DecodeConnectReq(encoded)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestDecodeConnectReqRejectsWrongLength(t *testing.T) {
	_, err := DecodeConnectReq(make([]byte, 10))
	assert.Error(t, err)
}

func TestControlPDUEncoders(t *testing.T) {
	assert.Equal(t, []byte{0x02, 0x13}, EncodeTerminateInd(0x13))
	assert.Equal(t, []byte{0x07, 0x08}, EncodeUnknownRsp(0x08))

	rsp := EncodeFeatureRsp([8]byte{})
	require.Len(t, rsp, 9)
	assert.Equal(t, byte(OpFeatureRsp), rsp[0])
}
