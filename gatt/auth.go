package gatt

import "time"

// Xiaomi auth handles, obtained by packet capture/reverse engineering in
// the original firmware, not part of any public GATT profile.
const (
	xiaomiAuthCharHandle = 0x0009
	xiaomiAuthRespDelay  = 100 * time.Millisecond
)

// XiaomiPlaceholderAuth reproduces original_source's
// gatt_authenticate_xiaomi_impl verbatim: it is NOT the real Xiaomi
// Mi Band authentication handshake (which requires a computed response to
// a random challenge), only the fixed constant bytes the source sends in
// place of one. It exists so a Custom AuthHook has a concrete worked
// example to start from; callers targeting a real Xiaomi device need a
// real implementation of the reverse-engineered protocol. A no-op for any
// profile other than Xiaomi.
func XiaomiPlaceholderAuth(c *Client) error {
	if c.profile != ProfileXiaomi {
		return nil
	}

	deviceInfo := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00}
	if err := c.att.Write(xiaomiAuthCharHandle, deviceInfo); err != nil {
		return err
	}
	time.Sleep(xiaomiAuthRespDelay)

	authKey := make([]byte, 18)
	authKey[0] = 0x02
	if err := c.att.Write(xiaomiAuthCharHandle, authKey); err != nil {
		return err
	}
	time.Sleep(xiaomiAuthRespDelay)

	return nil
}
