package ll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildAdvPayload(structs ...[]byte) []byte {
	var out []byte
	for _, s := range structs {
		out = append(out, byte(len(s)))
		out = append(out, s...)
	}
	return out
}

func adStruct(typ byte, value ...byte) []byte {
	return append([]byte{typ}, value...)
}

func TestDecodeAdvDataNameAndFlags(t *testing.T) {
	payload := buildAdvPayload(
		adStruct(adTypeFlags, 0x06),
		adStruct(adTypeNameComplete, []byte("Nordic_UART")...),
	)

	got := DecodeAdvData(payload)
	assert.True(t, got.HasFlags)
	assert.Equal(t, uint8(0x06), got.Flags)
	assert.Equal(t, "Nordic_UART", got.LocalName)
}

func TestDecodeAdvDataServiceUUID16(t *testing.T) {
	payload := buildAdvPayload(
		adStruct(adTypeUUID16Complete, 0x0A, 0x18, 0x0D, 0x18),
	)

	got := DecodeAdvData(payload)
	assert.Equal(t, []uint16{0x180A, 0x180D}, got.ServiceUUID16)
}

func TestDecodeAdvDataTruncatedStopsWalk(t *testing.T) {
	payload := []byte{0x05, 0x01, 0x02} // declares 5 bytes, only 2 present

	got := DecodeAdvData(payload)
	assert.False(t, got.HasFlags)
	assert.Empty(t, got.LocalName)
}

func TestMatchLocalName(t *testing.T) {
	payload := buildAdvPayload(adStruct(adTypeNameShort, []byte("NordicTag")...))

	filter := MatchLocalName("Nordic")
	assert.True(t, filter([6]byte{}, payload))

	filter = MatchLocalName("Polar")
	assert.False(t, filter([6]byte{}, payload))
}

func TestMatchServiceUUID16(t *testing.T) {
	payload := buildAdvPayload(adStruct(adTypeUUID16Complete, 0x0A, 0x18))

	filter := MatchServiceUUID16(0x180A)
	assert.True(t, filter([6]byte{}, payload))

	filter = MatchServiceUUID16(0x180D)
	assert.False(t, filter([6]byte{}, payload))
}
