package ll

import (
	"time"

	"github.com/embedble/centrald/phy"
	"github.com/embedble/centrald/radio"
)

// connTimeUnit (interval, window offset, window size) is 1.25 ms;
// timeoutTimeUnit (supervision timeout) is 10 ms (§4.5's encoded units).
const (
	connTimeUnit    = 1250 * time.Microsecond
	timeoutTimeUnit = 10 * time.Millisecond
)

// ConnParams are the connection parameters this stack offers in
// CONNECT_REQ. They are conservative values suitable for a low-duty-cycle
// text-push peripheral link.
type ConnParams struct {
	Interval           time.Duration
	Latency            uint16
	SupervisionTimeout time.Duration
	WinSize            time.Duration
}

// DefaultConnParams is a 30 ms interval, zero latency, 4 s supervision
// timeout connection request.
var DefaultConnParams = ConnParams{
	Interval:           30 * time.Millisecond,
	Latency:            0,
	SupervisionTimeout: 4 * time.Second,
	WinSize:            2500 * time.Microsecond,
}

// buildConnectReq constructs the CONNECT_REQ body for a fresh connection
// to match, generating a new access address, CRC init, and hop increment
// per §4.4/§4.5. The window offset travels in the returned request's
// WinOffset field (always 0 here), from which the first anchor point is
// computed.
func buildConnectReq(localAddr [6]byte, match ScanMatch, params ConnParams) (ConnectReq, error) {
	aa, err := phy.GenerateAccessAddress()
	if err != nil {
		return ConnectReq{}, err
	}
	crcInit, err := phy.GenerateCRCInit()
	if err != nil {
		return ConnectReq{}, err
	}
	hop, err := phy.GenerateHopIncrement()
	if err != nil {
		return ConnectReq{}, err
	}

	return ConnectReq{
		InitAddr:      localAddr,
		AdvAddr:       match.PeerAddr,
		AccessAddress: aa,
		CRCInit:       crcInit,
		WinSize:       uint8(params.WinSize / connTimeUnit),
		WinOffset:     0,
		Interval:      uint16(params.Interval / connTimeUnit),
		Latency:       params.Latency,
		Timeout:       uint16(params.SupervisionTimeout / timeoutTimeUnit),
		ChannelMap:    phy.NewChannelMapAll(),
		Hop:           hop,
		SCA:           0,
	}, nil
}

// applyConnectReq seeds ctx from a CONNECT_REQ this engine is about to
// transmit (Master role) and schedules the first anchor point (§4.5): "the
// first data-channel anchor point is set to now + 1.25ms + WinOffset*1.25ms;
// last_unmapped_channel = 0; event_counter = 0".
func applyConnectReq(ctx *Context, req ConnectReq, nowUS uint64) {
	ctx.LocalAddr = req.InitAddr
	ctx.PeerAddr = req.AdvAddr
	ctx.AccessAddress = req.AccessAddress
	ctx.CRCInit = req.CRCInit
	ctx.HopIncrement = req.Hop
	ctx.ChannelMap = phy.ChannelMap(req.ChannelMap)
	ctx.NumUsedChannels = ctx.ChannelMap.Count()
	ctx.LastUnmappedChannel = 0
	ctx.EventCounter = 0

	ctx.ConnIntervalUS = uint64(req.Interval) * uint64(connTimeUnit/time.Microsecond)
	ctx.SlaveLatency = req.Latency
	ctx.SupervisionTimeoutUS = uint64(req.Timeout) * uint64(timeoutTimeUnit/time.Microsecond)
	ctx.WinSizeUS = uint64(req.WinSize) * uint64(connTimeUnit/time.Microsecond)
	ctx.WindowWideningUS = 0

	windowOffsetUS := uint64(req.WinOffset) * uint64(connTimeUnit/time.Microsecond)
	ctx.AnchorPointUS = nowUS + uint64(connTimeUnit/time.Microsecond) + windowOffsetUS
	ctx.LastSuccessfulRxUS = nowUS

	ctx.TxSeqNum = 0
	ctx.NextExpectedSeqNum = 0
	ctx.TxPending = false
	ctx.MoreData = false

	ctx.Role = RoleMaster
	ctx.State = StateConnecting
}

// programInitiatorTransmitter configures the radio to transmit CONNECT_REQ
// on the advertising channel that carried the matched advertisement.
func programInitiatorTransmitter(d radio.Driver, channel uint8) error {
	if err := d.SetPacketTypeBLE(); err != nil {
		return err
	}
	if err := d.SetModulationParams(radio.DefaultModulationParams); err != nil {
		return err
	}
	if err := d.SetBLEPacketParams(radio.DefaultBLEPacketParams); err != nil {
		return err
	}
	aa := phy.AdvAccessAddress
	syncWord := [4]byte{byte(aa >> 24), byte(aa >> 16), byte(aa >> 8), byte(aa)}
	if err := d.SetSyncWord(syncWord); err != nil {
		return err
	}
	if err := d.SetCRCSeed(phy.AdvCRCInit); err != nil {
		return err
	}
	if err := d.SetFrequency(phy.FrequencyHz(channel)); err != nil {
		return err
	}
	return d.SetWhiteningSeed(phy.WhiteningSeed(channel))
}
