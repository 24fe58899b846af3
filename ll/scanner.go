package ll

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/embedble/centrald/phy"
	"github.com/embedble/centrald/radio"
	"github.com/embedble/centrald/timing"
)

// advPDUType values this stack recognizes as connectable (§4.5).
const (
	advPDUTypeAdvInd       = 0x00
	advPDUTypeAdvDirectInd = 0x01
	advPDUTypeAdvScanInd   = 0x06
)

const scanChannelDwell = 10 * time.Millisecond

// ScanMatch is what the scanner hands the initiator once a target
// advertisement is found.
type ScanMatch struct {
	PeerAddr [6]byte
	Channel  uint8
	RSSI     int8
	Data     []byte // advertising payload following the 6-byte AdvA
}

// AdvFilter decides whether an advertising PDU matches the current scan
// target. MatchAddr builds one that matches a literal peer address;
// MatchLocalName and MatchServiceUUID16 match advertised content.
type AdvFilter func(peerAddr [6]byte, payload []byte) bool

// MatchAddr returns an AdvFilter that accepts only the given address.
func MatchAddr(target [6]byte) AdvFilter {
	return func(peerAddr [6]byte, _ []byte) bool {
		return peerAddr == target
	}
}

// Scanner drives the radio across the three advertising channels looking
// for a matching advertisement (§4.5).
type Scanner struct {
	Driver radio.Driver
	Clock  timing.Clock
}

// Scan cycles {37,38,39} at a 10 ms dwell until filter accepts an
// advertisement or ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context, filter AdvFilter) (ScanMatch, error) {
	if err := s.programAdvReceiver(phy.AdvChannels[0]); err != nil {
		return ScanMatch{}, err
	}

	chanIdx := 0
	nextSwitch := s.Clock.NowUS() + uint64(scanChannelDwell/time.Microsecond)

	for {
		select {
		case <-ctx.Done():
			return ScanMatch{}, ctx.Err()
		default:
		}

		if s.Clock.NowUS() >= nextSwitch {
			chanIdx = (chanIdx + 1) % len(phy.AdvChannels)
			ch := phy.AdvChannels[chanIdx]
			if err := s.programAdvReceiver(ch); err != nil {
				return ScanMatch{}, err
			}
			nextSwitch = s.Clock.NowUS() + uint64(scanChannelDwell/time.Microsecond)
		}

		if err := s.Driver.RX(scanChannelDwell); err != nil {
			return ScanMatch{}, &radio.Error{Kind: radio.KindHal, Op: "Scan.RX", Err: err}
		}

		irq, err := s.Driver.IRQStatus()
		if err != nil {
			return ScanMatch{}, err
		}
		if !irq.Has(radio.IRQRxDone) {
			s.Driver.ClearIRQStatus(irq)
			continue
		}
		s.Driver.ClearIRQStatus(irq)

		match, ok, err := s.tryParseMatch(phy.AdvChannels[chanIdx], filter)
		if err != nil {
			continue
		}
		if ok {
			return match, nil
		}
	}
}

func (s *Scanner) programAdvReceiver(channel uint8) error {
	if err := s.Driver.SetPacketTypeBLE(); err != nil {
		return err
	}
	if err := s.Driver.SetModulationParams(radio.DefaultModulationParams); err != nil {
		return err
	}
	if err := s.Driver.SetBLEPacketParams(radio.DefaultBLEPacketParams); err != nil {
		return err
	}
	aa := phy.AdvAccessAddress
	syncWord := [4]byte{byte(aa >> 24), byte(aa >> 16), byte(aa >> 8), byte(aa)}
	if err := s.Driver.SetSyncWord(syncWord); err != nil {
		return err
	}
	if err := s.Driver.SetCRCSeed(phy.AdvCRCInit); err != nil {
		return err
	}
	if err := s.Driver.SetFrequency(phy.FrequencyHz(channel)); err != nil {
		return err
	}
	return s.Driver.SetWhiteningSeed(phy.WhiteningSeed(channel))
}

func (s *Scanner) tryParseMatch(channel uint8, filter AdvFilter) (ScanMatch, bool, error) {
	hdr, err := s.Driver.ReadBuffer(0, 2)
	if err != nil {
		return ScanMatch{}, false, err
	}
	if len(hdr) < 2 {
		return ScanMatch{}, false, errors.New("ll: advertising PDU header too short")
	}
	pduType := hdr[0] & 0x0F
	length := hdr[1]
	if pduType != advPDUTypeAdvInd && pduType != advPDUTypeAdvDirectInd && pduType != advPDUTypeAdvScanInd {
		return ScanMatch{}, false, nil
	}
	if length < 6 {
		return ScanMatch{}, false, nil
	}
	payload, err := s.Driver.ReadBuffer(2, length)
	if err != nil {
		return ScanMatch{}, false, err
	}
	var peerAddr [6]byte
	copy(peerAddr[:], payload[0:6])
	data := payload[6:]

	if !filter(peerAddr, data) {
		return ScanMatch{}, false, nil
	}

	return ScanMatch{
		PeerAddr: peerAddr,
		Channel:  channel,
		Data:     data,
	}, true, nil
}
