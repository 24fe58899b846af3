package phy

// FrequencyHz returns the RF carrier frequency for a channel index (0-39:
// 0-36 are data channels on a 2 MHz grid starting at 2402 MHz, 37-39 are
// the three advertising channels).
func FrequencyHz(channel uint8) uint32 {
	switch {
	case channel <= 36:
		return 2402000000 + uint32(channel)*2000000
	case channel == 37:
		return 2402000000
	case channel == 38:
		return 2426000000
	case channel == 39:
		return 2480000000
	default:
		return 2402000000
	}
}

// WhiteningSeed returns the 7-bit whitening LFSR seed a driver programs for
// a given channel: the channel index with bit 6 forced set.
func WhiteningSeed(channel uint8) uint8 {
	return channel | 0x40
}
