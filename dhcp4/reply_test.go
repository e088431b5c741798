package dhcp4

import (
	"net"
	"net/netip"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	krolaw "github.com/krolaw/dhcp4"
)

func testRequest(t *testing.T) *Message {
	t.Helper()

	mac := net.HardwareAddr{0x52, 0x54, 0x00, 0xab, 0xcd, 0xef}
	packet := krolaw.RequestPacket(krolaw.Discover, mac, nil, []byte{0x11, 0x22, 0x33, 0x44}, true, nil)
	packet.SetGIAddr(net.IPv4(203, 0, 113, 1))
	packet.SetHops(3)
	packet.SetSecs([]byte{0, 9})

	request, err := Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	return request
}

func TestPrepareReply(t *testing.T) {
	c := qt.New(t)
	request := testRequest(t)

	var out [MaxMessageLength]byte
	for i := range out {
		out[i] = 0xee // Stale data from a previous reply.
	}

	position := PrepareReply(out[:], request)
	c.Assert(position, qt.Equals, OptionsOffset)
	SetYIAddr(out[:], netip.MustParseAddr("192.0.2.10"))
	SetSIAddr(out[:], netip.MustParseAddr("192.0.2.1"))
	position = AppendOption(out[:], position, OptionDHCPMessageType, byte(Offer))
	length := Finish(out[:], position)
	c.Assert(length, qt.Equals, OptionsOffset+4)

	reply, err := Decode(out[:length])
	c.Assert(err, qt.IsNil)
	c.Assert(reply.OpCode, qt.Equals, BootReply)
	c.Assert(reply.HardwareType, qt.Equals, request.HardwareType)
	c.Assert(reply.HardwareLength, qt.Equals, request.HardwareLength)
	c.Assert(reply.Hops, qt.Equals, byte(0))
	c.Assert(reply.Secs, qt.Equals, uint16(0))
	c.Assert(reply.XID, qt.Equals, request.XID)
	c.Assert(reply.Flags, qt.Equals, request.Flags)
	c.Assert(reply.GIAddr, qt.Equals, netip.MustParseAddr("203.0.113.1"))
	c.Assert(reply.CIAddr, qt.Equals, netip.IPv4Unspecified())
	c.Assert(reply.YIAddr, qt.Equals, netip.MustParseAddr("192.0.2.10"))
	c.Assert(reply.SIAddr, qt.Equals, netip.MustParseAddr("192.0.2.1"))
	c.Assert(reply.CHAddr, qt.Equals, request.CHAddr)
	c.Assert(reply.SName, qt.Equals, [64]byte{})
	c.Assert(reply.File, qt.Equals, [128]byte{})
	c.Assert(reply.MessageType(), qt.Equals, Offer)

	// Everything past the END option was cleared.
	for i := length; i < len(out); i++ {
		if out[i] != 0 {
			t.Fatalf("byte %d = %#x after END, want 0", i, out[i])
		}
	}
}

func TestReplyParsedByOtherImplementations(t *testing.T) {
	c := qt.New(t)
	request := testRequest(t)

	var out [MaxMessageLength]byte
	position := PrepareReply(out[:], request)
	SetYIAddr(out[:], netip.MustParseAddr("192.0.2.10"))
	position = AppendOption(out[:], position, OptionDHCPMessageType, byte(ACK))
	position = AppendOption(out[:], position, OptionSubnetMask, 255, 255, 255, 0)
	position = AppendOptionAddr(out[:], position, OptionRouter, netip.MustParseAddr("192.0.2.1"))
	position = AppendOptionAddr(out[:], position, OptionServerIdentifier, netip.MustParseAddr("192.0.2.2"))
	position = AppendOptionUint32(out[:], position, OptionIPAddressLeaseTime, 3600)
	position = AppendOptionAddr(out[:], position, OptionDomainNameServer, netip.MustParseAddr("192.0.2.53"))
	length := Finish(out[:], position)

	packet := krolaw.Packet(out[:length])
	c.Assert(packet.OpCode(), qt.Equals, krolaw.BootReply)
	c.Assert(packet.YIAddr().String(), qt.Equals, "192.0.2.10")
	c.Assert(packet.XId(), qt.DeepEquals, []byte{0x11, 0x22, 0x33, 0x44})
	options := packet.ParseOptions()
	c.Assert(options[krolaw.OptionDHCPMessageType], qt.DeepEquals, []byte{byte(krolaw.ACK)})
	c.Assert(options[krolaw.OptionSubnetMask], qt.DeepEquals, []byte{255, 255, 255, 0})
	c.Assert(options[krolaw.OptionRouter], qt.DeepEquals, []byte{192, 0, 2, 1})
	c.Assert(options[krolaw.OptionServerIdentifier], qt.DeepEquals, []byte{192, 0, 2, 2})
	c.Assert(options[krolaw.OptionIPAddressLeaseTime], qt.DeepEquals, []byte{0, 0, 0x0e, 0x10})
	c.Assert(options[krolaw.OptionDomainNameServer], qt.DeepEquals, []byte{192, 0, 2, 53})

	layer := &layers.DHCPv4{}
	err := layer.DecodeFromBytes(out[:length], gopacket.NilDecodeFeedback)
	c.Assert(err, qt.IsNil)
	c.Assert(layer.Operation, qt.Equals, layers.DHCPOpReply)
	c.Assert(layer.Xid, qt.Equals, uint32(0x11223344))
	c.Assert(layer.YourClientIP.String(), qt.Equals, "192.0.2.10")

	var types []layers.DHCPOpt
	for _, option := range layer.Options {
		types = append(types, option.Type)
	}
	c.Assert(types, qt.DeepEquals, []layers.DHCPOpt{
		layers.DHCPOptMessageType,
		layers.DHCPOptSubnetMask,
		layers.DHCPOptRouter,
		layers.DHCPOptServerID,
		layers.DHCPOptLeaseTime,
		layers.DHCPOptDNS,
	})
}

func TestAppendOptionOverflowPanics(t *testing.T) {
	out := make([]byte, OptionsOffset+3)
	qt.Assert(t, func() {
		AppendOption(out, OptionsOffset, OptionServerIdentifier, 192, 0, 2, 1)
	}, qt.PanicMatches, ".*out of range.*")
}

func TestAppendOptionTooLongPanics(t *testing.T) {
	out := make([]byte, MaxMessageLength)
	qt.Assert(t, func() {
		AppendOption(out, OptionsOffset, 43, make([]byte, 256)...)
	}, qt.PanicMatches, "dhcp4: option data longer than 255 bytes")
}
