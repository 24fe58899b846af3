package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXiaomiPlaceholderAuthWritesFixedSequence(t *testing.T) {
	fc := &fakeAttClient{deviceName: []byte("Mi Band 4"), mtu: 23}
	c := New(fc, nil)
	c.AuthHook = XiaomiPlaceholderAuth
	require.NoError(t, c.SelectProfile())

	require.Len(t, fc.writes, 2)
	assert.Equal(t, uint16(xiaomiAuthCharHandle), fc.writes[0].handle)
	assert.Equal(t, uint16(xiaomiAuthCharHandle), fc.writes[1].handle)
}

func TestXiaomiPlaceholderAuthSkippedForOtherProfiles(t *testing.T) {
	fc := &fakeAttClient{deviceName: []byte("Nordic UART"), mtu: 23}
	c := New(fc, nil)
	c.AuthHook = XiaomiPlaceholderAuth
	require.NoError(t, c.SelectProfile())

	assert.Empty(t, fc.writes)
}
