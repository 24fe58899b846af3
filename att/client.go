package att

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/embedble/centrald"
)

// DefaultRequestTimeout is the per-request deadline (§4.8: "per-request
// timeout (default 1 s)").
const DefaultRequestTimeout = 1 * time.Second

// Sender is the subset of l2cap.Mux a Client drives; satisfied by
// *l2cap.Mux.
type Sender interface {
	Send(payload []byte) error
}

// pending is the one outstanding request a Client tracks at a time,
// mirroring the single in-flight command slot in the teacher's HCI
// command/response dispatch (linux/hci/controller.HCI.send).
type pending struct {
	reqOpcode Opcode
	done      chan response
}

type response struct {
	payload []byte
	err     error
}

// Client is the ATT client state machine (§4.8). It serializes requests —
// a second call while one is outstanding fails with ble.KindBusy — and
// delivers notifications/indications asynchronously via NotifyHandler and
// IndicateHandler.
type Client struct {
	sender Sender
	log    ble.Logger

	// RequestTimeout overrides DefaultRequestTimeout; zero means use the
	// default.
	RequestTimeout time.Duration

	mu      sync.Mutex
	pend    *pending
	mtu     int
	closed  bool
	closeCh chan struct{}

	// NotifyHandler delivers (handle, value) from HANDLE_VALUE_NTF.
	NotifyHandler func(handle uint16, value []byte)
	// IndicateHandler delivers (handle, value) from HANDLE_VALUE_IND,
	// after the mandatory HANDLE_VALUE_CFM has already been sent.
	IndicateHandler func(handle uint16, value []byte)
}

// New constructs a Client bound to sender, with ATT_MTU starting at the
// LE-U minimum (§6).
func New(sender Sender, log ble.Logger) *Client {
	if log == nil {
		log = ble.GetLogger()
	}
	return &Client{
		sender:  sender,
		log:     log,
		mtu:     DefaultMTU,
		closeCh: make(chan struct{}),
	}
}

// MTU returns the currently negotiated ATT_MTU.
func (c *Client) MTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

// Close aborts any outstanding request with ble.KindNotConnected (§5:
// "aborted by a connection disconnect ... fails the request with
// Disconnected"). It is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	p := c.pend
	c.mu.Unlock()

	close(c.closeCh)
	if p != nil {
		p.done <- response{err: ble.NewError("att", ble.KindNotConnected, nil)}
	}
}

// Deliver is called (from l2cap.Mux's OnSDU, or directly in tests) with
// every reassembled ATT PDU addressed to this connection.
func (c *Client) Deliver(pdu []byte) {
	if len(pdu) == 0 {
		return
	}
	switch Opcode(pdu[0]) {
	case OpHandleValueNtf:
		hv, err := DecodeHandleValue(pdu)
		if err != nil {
			c.log.Warnf("att: %v", err)
			return
		}
		if c.NotifyHandler != nil {
			c.NotifyHandler(hv.Handle, hv.Value)
		}
	case OpHandleValueInd:
		hv, err := DecodeHandleValue(pdu)
		if err != nil {
			c.log.Warnf("att: %v", err)
			return
		}
		if err := c.sender.Send(EncodeHandleValueCfm()); err != nil {
			c.log.Warnf("att: failed to confirm indication: %v", err)
		}
		if c.IndicateHandler != nil {
			c.IndicateHandler(hv.Handle, hv.Value)
		}
	case OpErrorRsp:
		c.resolve(pdu, true)
	default:
		c.resolve(pdu, false)
	}
}

// resolve completes the outstanding request if pdu answers it: either the
// expected response opcode, or (isError) an ERROR_RSP naming the request
// opcode we are waiting on.
func (c *Client) resolve(pdu []byte, isError bool) {
	c.mu.Lock()
	p := c.pend
	c.mu.Unlock()
	if p == nil {
		c.log.Debugf("att: unsolicited PDU opcode 0x%02X", pdu[0])
		return
	}

	if isError {
		errRsp, err := DecodeErrorRsp(pdu)
		if err != nil || errRsp.RequestOpcode != p.reqOpcode {
			return
		}
		p.done <- response{err: ble.NewProtocolError("att", uint8(errRsp.Code), errors.Errorf("att: %s", errRsp.Code))}
		return
	}

	if !respondsTo(p.reqOpcode, Opcode(pdu[0])) {
		return
	}
	p.done <- response{payload: pdu}
}

// respondsTo reports whether rsp is the response opcode for req.
func respondsTo(req, rsp Opcode) bool {
	switch req {
	case OpExchangeMTUReq:
		return rsp == OpExchangeMTURsp
	case OpReadReq:
		return rsp == OpReadRsp
	case OpReadByTypeReq:
		return rsp == OpReadByTypeRsp
	case OpReadByGroupReq:
		return rsp == OpReadByGroupRsp
	case OpWriteReq:
		return rsp == OpWriteRsp
	default:
		return false
	}
}

// do submits body as reqOpcode, blocks for the matching response or
// ERROR_RSP, and enforces the single-outstanding-request rule and the
// per-request timeout (§4.8, §5, §8).
func (c *Client) do(reqOpcode Opcode, body []byte) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ble.NewError("att", ble.KindNotConnected, nil)
	}
	if c.pend != nil {
		c.mu.Unlock()
		return nil, ble.NewError("att", ble.KindBusy, nil)
	}
	p := &pending{reqOpcode: reqOpcode, done: make(chan response, 1)}
	c.pend = p
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pend == p {
			c.pend = nil
		}
		c.mu.Unlock()
	}()

	if err := c.sender.Send(body); err != nil {
		return nil, err
	}

	timeout := c.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	select {
	case r := <-p.done:
		return r.payload, r.err
	case <-c.closeCh:
		return nil, ble.NewError("att", ble.KindNotConnected, nil)
	case <-time.After(timeout):
		return nil, ble.NewError("att", ble.KindTimeout, errors.Errorf("no response to %s within %s", reqOpcode, timeout))
	}
}

// ExchangeMTU negotiates ATT_MTU, clamping the agreed value to [23, 247]
// (§8) and caching it for subsequent fragmentation decisions.
func (c *Client) ExchangeMTU(clientRxMTU int) (int, error) {
	if clientRxMTU < DefaultMTU || clientRxMTU > MaxMTU {
		return 0, ble.NewError("att.ExchangeMTU", ble.KindParam, errors.New("clientRxMTU out of [23,247]"))
	}
	pdu, err := c.do(OpExchangeMTUReq, EncodeExchangeMTUReq(uint16(clientRxMTU)))
	if err != nil {
		return 0, err
	}
	serverMTU, err := DecodeExchangeMTURsp(pdu)
	if err != nil {
		return 0, ble.NewError("att.ExchangeMTU", ble.KindProtocol, err)
	}

	agreed := int(serverMTU)
	if agreed > clientRxMTU {
		agreed = clientRxMTU
	}
	if agreed < DefaultMTU {
		agreed = DefaultMTU
	}
	if agreed > MaxMTU {
		agreed = MaxMTU
	}

	c.mu.Lock()
	c.mtu = agreed
	c.mu.Unlock()
	return agreed, nil
}

// Read issues a Read Request and returns the attribute value.
func (c *Client) Read(handle uint16) ([]byte, error) {
	pdu, err := c.do(OpReadReq, EncodeReadReq(handle))
	if err != nil {
		return nil, err
	}
	value, err := DecodeReadRsp(pdu)
	if err != nil {
		return nil, ble.NewError("att.Read", ble.KindProtocol, err)
	}
	return value, nil
}

// ReadByType issues a Read By Type Request over [startHandle, endHandle].
func (c *Client) ReadByType(startHandle, endHandle, attrType uint16) ([]ReadByTypeEntry, error) {
	pdu, err := c.do(OpReadByTypeReq, EncodeReadByTypeReq(startHandle, endHandle, attrType))
	if err != nil {
		return nil, err
	}
	entries, err := DecodeReadByTypeRsp(pdu)
	if err != nil {
		return nil, ble.NewError("att.ReadByType", ble.KindProtocol, err)
	}
	return entries, nil
}

// ReadByGroupType issues a Read By Group Type Request, used for primary
// service discovery.
func (c *Client) ReadByGroupType(startHandle, endHandle, attrType uint16) ([]ReadByGroupEntry, error) {
	pdu, err := c.do(OpReadByGroupReq, EncodeReadByGroupReq(startHandle, endHandle, attrType))
	if err != nil {
		return nil, err
	}
	entries, err := DecodeReadByGroupRsp(pdu)
	if err != nil {
		return nil, ble.NewError("att.ReadByGroupType", ble.KindProtocol, err)
	}
	return entries, nil
}

// Write issues an (acknowledged) Write Request and waits for WRITE_RSP.
func (c *Client) Write(handle uint16, value []byte) error {
	_, err := c.do(OpWriteReq, EncodeWriteReq(handle, value))
	return err
}

// WriteCommand issues a fire-and-forget Write Command; there is no
// response to wait for, so the single-outstanding-request rule does not
// apply to it.
func (c *Client) WriteCommand(handle uint16, value []byte) error {
	return c.sender.Send(EncodeWriteCmd(handle, value))
}

// EnableNotifications writes 0x0001 (little-endian) to the CCCD handle,
// turning on server-initiated notifications (§4.8).
func (c *Client) EnableNotifications(cccdHandle uint16) error {
	return c.Write(cccdHandle, []byte{0x01, 0x00})
}
