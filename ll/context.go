package ll

import (
	"time"

	"github.com/embedble/centrald/phy"
)

// Role distinguishes Master from Slave. Only Master is implemented; Slave
// is rejected at the API boundary (§3).
type Role uint8

const (
	RoleMaster Role = iota
	RoleSlave
)

// State is the connection lifecycle (§3).
type State uint8

const (
	StateIdle State = iota
	StateScanning
	StateInitiating
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateScanning:
		return "Scanning"
	case StateInitiating:
		return "Initiating"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// MaxPDULen is the largest LL Data PDU payload this stack buffers (§5:
// "buffers are fixed-size arrays sized for MTU_MAX").
const MaxPDULen = 251

// T_IFS is the fixed inter-frame space between TX_DONE and the following
// RX window (§4.6 step 4).
const T_IFS = 150 * time.Microsecond

// MinRXWindow is the RX timeout used while the peer's WinSize is not yet
// known (§4.6 step 5).
const MinRXWindow = 2 * time.Millisecond

// Context is the single large aggregate the engine owns exclusively (§3).
// It is mutated only from the foreground event loop; the IRQ top-half
// touches none of it directly.
type Context struct {
	// Identity.
	LocalAddr [6]byte
	PeerAddr  [6]byte

	// Channel state.
	AccessAddress       uint32
	CRCInit             uint32
	HopIncrement        uint8
	ChannelMap          phy.ChannelMap
	NumUsedChannels     int
	LastUnmappedChannel uint8
	CurrentChannel      uint8

	// Timing state.
	ConnIntervalUS       uint64
	SlaveLatency         uint16
	SupervisionTimeoutUS uint64
	AnchorPointUS        uint64
	EventCounter         uint32
	WindowWideningUS     uint64
	WinSizeUS            uint64

	// Flow control.
	TxSeqNum            uint8 // 1 bit
	NextExpectedSeqNum  uint8 // 1 bit
	MoreData            bool
	TxPending           bool
	TxBuffer            [MaxPDULen]byte
	TxLength            int
	TxLLID              LLID
	RxBuffer            [MaxPDULen]byte
	RxLength            int

	// Health.
	ConsecutiveCRCErrors uint32
	TotalCRCErrors       uint32
	LastRSSI             int8
	LastSuccessfulRxUS   uint64
	EverReceivedValidPDU bool

	Role  Role
	State State
}

// Reset returns the context to a fresh Idle state (§3 lifecycle: "On
// entering Idle, sequence numbers and event counter reset to zero; channel
// map resets to all-37").
func (c *Context) Reset() {
	c.AccessAddress = 0
	c.CRCInit = 0
	c.HopIncrement = 0
	c.ChannelMap = phy.NewChannelMapAll()
	c.NumUsedChannels = phy.NumDataChannels
	c.LastUnmappedChannel = 0
	c.CurrentChannel = 0

	c.ConnIntervalUS = 0
	c.SlaveLatency = 0
	c.SupervisionTimeoutUS = 0
	c.AnchorPointUS = 0
	c.EventCounter = 0
	c.WindowWideningUS = 0
	c.WinSizeUS = 0

	c.TxSeqNum = 0
	c.NextExpectedSeqNum = 0
	c.MoreData = false
	c.TxPending = false
	c.TxLength = 0
	c.RxLength = 0

	c.ConsecutiveCRCErrors = 0
	c.LastSuccessfulRxUS = 0
	c.EverReceivedValidPDU = false

	c.State = StateIdle
}

// Valid reports whether the context satisfies the Connected invariants
// (§3): a validated non-zero access address, a hop increment in range, and
// at least two used channels.
func (c *Context) Valid() bool {
	if c.AccessAddress == 0 || !phy.ValidAccessAddress(c.AccessAddress) {
		return false
	}
	if c.HopIncrement < 5 || c.HopIncrement > 16 {
		return false
	}
	return c.NumUsedChannels >= 2
}

// HopState projects the fields Channel Selection Algorithm #1 needs out of
// the context.
func (c *Context) hopState() phy.HopState {
	return phy.HopState{
		HopIncrement:        c.HopIncrement,
		LastUnmappedChannel: c.LastUnmappedChannel,
		Map:                 c.ChannelMap,
	}
}

// advanceChannel runs Channel Selection Algorithm #1 and stores the result
// as CurrentChannel, syncing LastUnmappedChannel back into the context.
func (c *Context) advanceChannel() uint8 {
	hs := c.hopState()
	ch := hs.NextChannel()
	c.LastUnmappedChannel = hs.LastUnmappedChannel
	c.CurrentChannel = ch
	return ch
}
