package phy

import "testing"

func TestNextChannelStaysInRangeAndAvoidsUnused(t *testing.T) {
	m := NewChannelMapAll()
	// Mark channel 3 unused so unmapped==3 forces a remap.
	m[0] &^= 1 << 3

	s := &HopState{HopIncrement: 3, Map: m}
	seen := map[uint8]bool{}
	for i := 0; i < 200; i++ {
		ch := s.NextChannel()
		if ch >= NumDataChannels {
			t.Fatalf("NextChannel returned out-of-range channel %d", ch)
		}
		if !m.Used(ch) {
			t.Fatalf("NextChannel returned unused channel %d", ch)
		}
		seen[ch] = true
	}
	if len(seen) < 2 {
		t.Fatalf("NextChannel never varied across 200 calls: %v", seen)
	}
}

func TestChannelMapCount(t *testing.T) {
	m := NewChannelMapAll()
	if got := m.Count(); got != 37 {
		t.Fatalf("Count() = %d, want 37", got)
	}
	m[4] = 0x01 // only channel 32 left used among 32-36
	if got := m.Count(); got != 33 {
		t.Fatalf("Count() after narrowing = %d, want 33", got)
	}
}
