package app

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedble/centrald"
	"github.com/embedble/centrald/att"
	"github.com/embedble/centrald/l2cap"
	"github.com/embedble/centrald/ll"
	"github.com/embedble/centrald/phy"
	"github.com/embedble/centrald/radio"
	"github.com/embedble/centrald/timing"
)

var testLocalAddr = [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

func TestNewDefaultsToIdle(t *testing.T) {
	d, err := New(testLocalAddr)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, d.State())
}

func TestConnectFailsBusyWhileAlreadyConnecting(t *testing.T) {
	d, err := New(testLocalAddr)
	require.NoError(t, err)

	block := make(chan struct{})
	d.connectAttempt = func(ctx context.Context) error {
		d.setState(StateScanning)
		<-block
		return nil
	}

	go d.Connect(context.Background())
	time.Sleep(5 * time.Millisecond)

	err = d.Connect(context.Background())
	require.Error(t, err)
	kind, ok := ble.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ble.KindBusy, kind)

	close(block)
}

func TestConnectRetriesThenEntersError(t *testing.T) {
	d, err := New(testLocalAddr)
	require.NoError(t, err)
	require.NoError(t, d.SetRetryPolicy(2, time.Millisecond))

	var attempts int
	d.connectAttempt = func(ctx context.Context) error {
		attempts++
		return ble.NewError("test", ble.KindTimeout, nil)
	}

	err = d.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial attempt + 2 retries
	assert.Equal(t, StateError, d.State())
}

func TestConnectSucceedsAfterARetry(t *testing.T) {
	d, err := New(testLocalAddr)
	require.NoError(t, err)
	require.NoError(t, d.SetRetryPolicy(3, time.Millisecond))

	var attempts int
	d.connectAttempt = func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return ble.NewError("test", ble.KindTimeout, nil)
		}
		d.setState(StateConnected)
		return nil
	}

	err = d.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, StateConnected, d.State())
}

func TestErrorCoolsDownToIdle(t *testing.T) {
	d, err := New(testLocalAddr)
	require.NoError(t, err)
	d.enterError(ble.NewError("test", ble.KindRadio, nil))
	assert.Equal(t, StateError, d.State())

	assert.Eventually(t, func() bool {
		return d.State() == StateIdle
	}, 4*time.Second, 10*time.Millisecond)
}

func TestSendTextFailsWhenNotConnected(t *testing.T) {
	d, err := New(testLocalAddr)
	require.NoError(t, err)
	err = d.SendText("hi")
	require.Error(t, err)
	kind, ok := ble.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ble.KindNotConnected, kind)
}

func TestDisconnectIsNoOpWhenIdle(t *testing.T) {
	d, err := New(testLocalAddr)
	require.NoError(t, err)
	d.Disconnect() // must not block or panic
	assert.Equal(t, StateIdle, d.State())
}

// fakeGattServer answers the Link-Layer/ATT traffic a Device generates
// during wirePostConnect/SendText the way a peripheral would, acking every
// LL Data PDU stop-and-wait style (mirroring ll/engine_test.go's fakePeer)
// and replying to ATT requests addressed to CID 0x0004.
type fakeGattServer struct {
	driver     *radio.Loopback
	crcInit    uint32
	nesn       uint8
	sn         uint8
	stop       chan struct{}
	deviceName []byte

	writes []struct {
		handle uint16
		value  []byte
	}
}

func newFakeGattServer(d *radio.Loopback, crcInit uint32, deviceName string) *fakeGattServer {
	return &fakeGattServer{driver: d, crcInit: crcInit, stop: make(chan struct{}), deviceName: []byte(deviceName)}
}

func (p *fakeGattServer) close() { close(p.stop) }

func (p *fakeGattServer) run() {
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		if err := p.driver.RX(200 * time.Millisecond); err != nil {
			continue
		}
		irq, _ := p.driver.IRQStatus()
		p.driver.ClearIRQStatus(irq)
		if !irq.Has(radio.IRQRxDone) {
			continue
		}

		hdr, err := p.driver.ReadBuffer(0, 2)
		if err != nil {
			continue
		}
		raw, _ := p.driver.ReadBuffer(0, 2+hdr[1]+3)
		if len(raw) < 5 || !phy.CheckCRC24(raw, p.crcInit) {
			continue
		}
		body := raw[:len(raw)-3]
		h := ll.DecodeDataHeader([2]byte{body[0], body[1]})
		reqPayload := body[2:]

		if h.SN == p.nesn {
			p.nesn ^= 1
		}
		if h.NESN != p.sn {
			p.sn ^= 1
		}

		var respPayload []byte
		if h.LLID == ll.LLIDStartOrComplete && len(reqPayload) > 0 {
			respPayload = p.handleSDU(reqPayload)
		}

		respHeader := ll.DataHeader{LLID: ll.LLIDEmptyOrContinuation, NESN: p.nesn, SN: p.sn}
		if respPayload != nil {
			respHeader.LLID = ll.LLIDStartOrComplete
		}
		resp := ll.EncodeDataPDU(respHeader, respPayload)
		framed := phy.AppendCRC24(resp, p.crcInit)
		p.driver.WriteBuffer(0, framed)
		p.driver.TX()
	}
}

// handleSDU decodes one L2CAP SDU carrying an ATT request and returns the
// L2CAP-framed ATT response to send back, or nil for opcodes this stub
// doesn't answer.
func (p *fakeGattServer) handleSDU(sdu []byte) []byte {
	length, cid, err := l2cap.DecodeHeader(sdu)
	if err != nil || cid != l2cap.CIDATT || len(sdu) < l2cap.HeaderLen+length {
		return nil
	}
	pdu := sdu[l2cap.HeaderLen : l2cap.HeaderLen+length]
	if len(pdu) == 0 {
		return nil
	}

	var rsp []byte
	switch att.Opcode(pdu[0]) {
	case att.OpExchangeMTUReq:
		rsp = append([]byte{byte(att.OpExchangeMTURsp)}, 23, 0)
	case att.OpReadReq:
		handle := binary.LittleEndian.Uint16(pdu[1:3])
		if handle == 0x0003 {
			rsp = append([]byte{byte(att.OpReadRsp)}, p.deviceName...)
		} else {
			rsp = []byte{byte(att.OpErrorRsp), pdu[0], pdu[1], pdu[2], byte(att.ErrInvalidHandle)}
		}
	case att.OpWriteReq:
		handle := binary.LittleEndian.Uint16(pdu[1:3])
		p.writes = append(p.writes, struct {
			handle uint16
			value  []byte
		}{handle, append([]byte{}, pdu[3:]...)})
		rsp = []byte{byte(att.OpWriteRsp)}
	default:
		return nil
	}

	hdr := l2cap.EncodeHeader(len(rsp), l2cap.CIDATT)
	return append(hdr[:], rsp...)
}

// seedConnectedEngine builds an Engine already in the Connected state atop
// a Loopback pair, the way ll/engine_test.go's newConnectedEngine does, so
// this test can exercise wirePostConnect/SendText without replaying the
// scan/CONNECT_REQ handshake.
func seedConnectedEngine(t *testing.T, deviceName string) (*Device, *fakeGattServer) {
	masterDriver := radio.NewLoopback()
	peerDriver := radio.NewLoopback()
	radio.Pair(masterDriver, peerDriver)

	crcInit := uint32(0x0A1B2C)
	peerDriver.SetCRCSeed(crcInit)
	masterDriver.SetCRCSeed(crcInit)
	peer := newFakeGattServer(peerDriver, crcInit, deviceName)
	go peer.run()

	d, err := New(testLocalAddr, OptRadio(masterDriver))
	require.NoError(t, err)

	d.engine = ll.New(d.driver, timing.NewFake(), d.log, ll.Callbacks{OnDisconnected: d.onDisconnected})
	ctx := d.engine.Context()
	ctx.Reset()
	ctx.AccessAddress = 0xAF9A1234
	ctx.CRCInit = crcInit
	ctx.HopIncrement = 7
	ctx.ChannelMap = phy.NewChannelMapAll()
	ctx.NumUsedChannels = phy.NumDataChannels
	ctx.ConnIntervalUS = 30000
	ctx.SupervisionTimeoutUS = 4000000
	ctx.WinSizeUS = 2500
	ctx.AnchorPointUS = d.engine.Clock.NowUS()
	ctx.LastSuccessfulRxUS = d.engine.Clock.NowUS()
	ctx.State = ll.StateConnected
	d.setState(StateConnecting)

	require.NoError(t, d.wirePostConnect())
	return d, peer
}

func TestDeviceConnectsAndSendsTextEndToEnd(t *testing.T) {
	d, peer := seedConnectedEngine(t, "Nordic UART test device")
	defer peer.close()
	defer d.Disconnect()

	require.Equal(t, StateConnected, d.State())
	require.NotNil(t, d.gattCli)
	assert.Contains(t, d.gattCli.Profile().String(), "Nordic")

	require.NoError(t, d.SendText("hi"))

	require.Eventually(t, func() bool {
		for _, w := range peer.writes {
			if w.handle == d.gattCli.Handles().TxCharHandle && string(w.value) == "hi" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
