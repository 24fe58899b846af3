package gatt

import (
	"time"

	"github.com/pkg/errors"

	"github.com/embedble/centrald"
	"github.com/embedble/centrald/att"
)

// interChunkSpacing is the pause between successive fragments of a
// text write (§4.9).
const interChunkSpacing = 20 * time.Millisecond

// AttClient is the subset of att.Client the facade drives; satisfied by
// *att.Client.
type AttClient interface {
	ExchangeMTU(clientRxMTU int) (int, error)
	Read(handle uint16) ([]byte, error)
	Write(handle uint16, value []byte) error
	ReadByType(startHandle, endHandle, attrType uint16) ([]att.ReadByTypeEntry, error)
	EnableNotifications(cccdHandle uint16) error
	MTU() int
}

// AuthHook is invoked after profile selection and before the first payload
// write, whatever profile was selected (§4.9); a hook for one profile checks
// the selected profile itself, as XiaomiPlaceholderAuth does. Absent is
// skipped.
type AuthHook func(c *Client) error

// Client is the GATT client facade layered on an ATT client (§4.9).
type Client struct {
	att     AttClient
	log     ble.Logger
	profile Profile
	handles HandleSet

	// AuthHook is invoked once, right after SelectProfile, before the
	// first Write payload. Nil is a no-op.
	AuthHook AuthHook

	// OnNotify is a slot for RX-characteristic notification values.
	// Client never calls it: notifications and indications arrive through
	// att.Client's NotifyHandler and IndicateHandler, and nothing in this
	// module routes them to OnNotify.
	OnNotify func(value []byte)
}

// New constructs a Client. Call SelectProfile before any other method.
func New(attClient AttClient, log ble.Logger) *Client {
	if log == nil {
		log = ble.GetLogger()
	}
	return &Client{att: attClient, log: log}
}

// Profile returns the profile SelectProfile resolved.
func (c *Client) Profile() Profile { return c.profile }

// Handles returns the fixed handle set for the resolved profile.
func (c *Client) Handles() HandleSet { return c.handles }

// SelectProfile implements §4.9's profile-selection algorithm: try to read
// the Device Name characteristic and match known substrings; on failure
// (or no substring match), fall back to a READ_BY_TYPE 0x2800 service
// sweep over the full handle range and match a known service UUID.
// Defaulting to Custom otherwise. Runs AuthHook, if set, once resolved.
func (c *Client) SelectProfile() error {
	profile, matched := ProfileCustom, false

	if name, err := c.att.Read(DeviceNameHandle); err == nil {
		profile, matched = ProfileFromDeviceName(name)
	} else {
		c.log.Debugf("gatt: device name read failed, falling back to service sweep: %v", err)
	}

	if !matched {
		entries, err := c.att.ReadByType(0x0001, 0xFFFF, uint16(UUIDPrimaryService))
		if err != nil {
			c.log.Debugf("gatt: service sweep failed, defaulting to Custom profile: %v", err)
		}
		for _, e := range entries {
			if len(e.Value) < 2 {
				continue
			}
			uuid := uint16(e.Value[0]) | uint16(e.Value[1])<<8
			if p, ok := ProfileFromServiceUUID(uuid); ok {
				profile = p
				break
			}
			c.log.Debugf("gatt: service %s not recognized, skipping", ble.Name(ble.UUID16(uuid)))
		}
	}

	c.profile = profile
	c.handles = ProfileTable[profile]

	if c.AuthHook != nil {
		if err := c.AuthHook(c); err != nil {
			return errors.Wrap(err, "gatt: authentication")
		}
	}
	return nil
}

// SetProfile forces the handle set to p, bypassing SelectProfile's
// device-name/service-sweep heuristic, for peers whose profile is already
// known out of band. Runs AuthHook, if set, same as SelectProfile.
func (c *Client) SetProfile(p Profile) error {
	c.profile = p
	c.handles = ProfileTable[p]
	if c.AuthHook != nil {
		if err := c.AuthHook(c); err != nil {
			return errors.Wrap(err, "gatt: authentication")
		}
	}
	return nil
}

// EnableNotifications subscribes to the resolved profile's RX
// characteristic.
func (c *Client) EnableNotifications() error {
	return c.att.EnableNotifications(c.handles.CCCDHandle)
}

// WriteText fragments s into mtu-3-byte chunks (split on byte boundaries, so
// a multi-byte UTF-8 sequence may straddle two chunks) and writes each
// to the TX characteristic via ATT Write Request, spaced 20 ms apart
// (§4.9, §8 scenario 5).
func (c *Client) WriteText(s string) error {
	chunkSize := c.att.MTU() - 3
	if chunkSize <= 0 {
		return errors.New("gatt: MTU too small for any payload")
	}

	data := []byte(s)
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		if err := c.att.Write(c.handles.TxCharHandle, data[:n]); err != nil {
			return err
		}
		data = data[n:]
		if len(data) > 0 {
			time.Sleep(interChunkSpacing)
		}
	}
	return nil
}
