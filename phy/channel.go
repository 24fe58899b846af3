package phy

// NumDataChannels is the number of BLE data channels (0-36).
const NumDataChannels = 37

// AdvChannels are the three advertising channel numbers a scanner cycles
// through.
var AdvChannels = [3]uint8{37, 38, 39}

// ChannelMap is a 37-bit used-channel bitmap, packed exactly as carried in
// CONNECT_REQ: 5 bytes, bit i of byte i/8 set means data channel i is used.
type ChannelMap [5]byte

// NewChannelMapAll returns a ChannelMap with every data channel marked
// used, the default before any LL_CHANNEL_MAP_REQ narrows it.
func NewChannelMapAll() ChannelMap {
	return ChannelMap{0xFF, 0xFF, 0xFF, 0xFF, 0x1F}
}

// Used reports whether data channel ch is marked used.
func (m ChannelMap) Used(ch uint8) bool {
	return m[ch>>3]&(1<<(ch&0x07)) != 0
}

// Count returns the number of used channels in m.
func (m ChannelMap) Count() int {
	n := 0
	for ch := uint8(0); ch < NumDataChannels; ch++ {
		if m.Used(ch) {
			n++
		}
	}
	return n
}

// HopState tracks the per-connection state Channel Selection Algorithm #1
// needs across calls: the hop increment (fixed for the life of the
// connection) and the last unmapped channel produced.
type HopState struct {
	HopIncrement       uint8
	LastUnmappedChannel uint8
	Map                ChannelMap
}

// NextChannel runs Channel Selection Algorithm #1 (Core spec Vol 6, Part
// B, 4.5.8.2) and returns the next data channel to use, updating
// s.LastUnmappedChannel for the following call.
func (s *HopState) NextChannel() uint8 {
	unmapped := (s.LastUnmappedChannel + s.HopIncrement) % NumDataChannels
	s.LastUnmappedChannel = unmapped

	if s.Map.Used(unmapped) {
		return unmapped
	}

	used := s.Map.Count()
	if used == 0 {
		return unmapped
	}
	remapIndex := unmapped % uint8(used)

	count := uint8(0)
	for ch := uint8(0); ch < NumDataChannels; ch++ {
		if s.Map.Used(ch) {
			if count == remapIndex {
				return ch
			}
			count++
		}
	}
	return 0
}
