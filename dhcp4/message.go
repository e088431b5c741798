package dhcp4

import (
	"encoding/binary"
	"net"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedPacket is returned (wrapped) by Decode for datagrams that are
// too short or do not carry the DHCP magic cookie.
var ErrMalformedPacket = errors.New("malformed DHCP packet")

// Message is a decoded DHCP message.
//
// Options holds the raw option region that follows the magic cookie. For a
// decoded message it aliases the decoded buffer, so a Message must not
// outlive the buffer it came from.
type Message struct {
	OpCode         OpCode
	HardwareType   byte
	HardwareLength byte
	Hops           byte
	XID            uint32
	Secs           uint16
	Flags          uint16

	CIAddr netip.Addr // Client address (renewing clients only)
	YIAddr netip.Addr // Address assigned to the client
	SIAddr netip.Addr // Next server (or requested server when option 54 is absent)
	GIAddr netip.Addr // Relay agent

	CHAddr [sizeCHAddr]byte
	SName  [sizeSName]byte
	File   [sizeFile]byte

	Options []byte
}

// Decode parses buffer as a DHCP message.
//
// The magic cookie is checked before any other field is read.
func Decode(buffer []byte) (*Message, error) {
	if len(buffer) < MinMessageLength {
		return nil, errors.Wrapf(ErrMalformedPacket, "%d bytes is shorter than the minimum of %d", len(buffer), MinMessageLength)
	}

	cookie := binary.BigEndian.Uint32(buffer[MagicCookieOffset:OptionsOffset])
	if cookie != MagicCookie {
		return nil, errors.Wrapf(ErrMalformedPacket, "bad magic cookie 0x%08X", cookie)
	}

	message := &Message{
		OpCode:         OpCode(buffer[offsetOp]),
		HardwareType:   buffer[offsetHType],
		HardwareLength: buffer[offsetHLen],
		Hops:           buffer[offsetHops],
		XID:            binary.BigEndian.Uint32(buffer[offsetXID:]),
		Secs:           binary.BigEndian.Uint16(buffer[offsetSecs:]),
		Flags:          binary.BigEndian.Uint16(buffer[offsetFlags:]),
		CIAddr:         readAddr(buffer, offsetCIAddr),
		YIAddr:         readAddr(buffer, offsetYIAddr),
		SIAddr:         readAddr(buffer, offsetSIAddr),
		GIAddr:         readAddr(buffer, offsetGIAddr),
		Options:        buffer[OptionsOffset:],
	}
	copy(message.CHAddr[:], buffer[offsetCHAddr:offsetCHAddr+sizeCHAddr])
	copy(message.SName[:], buffer[offsetSName:offsetSName+sizeSName])
	copy(message.File[:], buffer[offsetFile:offsetFile+sizeFile])

	return message, nil
}

// HardwareAddr returns the significant part of CHAddr (the first
// HardwareLength bytes, at most 16).
func (message *Message) HardwareAddr() net.HardwareAddr {
	length := int(message.HardwareLength)
	if length > sizeCHAddr {
		length = sizeCHAddr
	}

	return net.HardwareAddr(message.CHAddr[:length:length])
}

// HardwareAddrString renders the hardware address as upper-case,
// colon-separated hex (e.g. "52:54:00:AB:CD:EF"). This is the key used to
// look up leases.
func (message *Message) HardwareAddrString() string {
	return strings.ToUpper(message.HardwareAddr().String())
}

// OptionCursor returns a fresh cursor over the message's options.
func (message *Message) OptionCursor() *OptionCursor {
	return NewOptionCursor(message.Options, 0, len(message.Options))
}

// Option returns the data of the option with the given code. If the option
// occurs more than once, the last occurrence wins.
func (message *Message) Option(code OptionCode) (data []byte, ok bool) {
	cursor := message.OptionCursor()
	for {
		option, more := cursor.Next()
		if !more {
			return data, ok
		}
		if option.Code == code {
			data, ok = option.Data, true
		}
	}
}

// OptionAddr returns the IPv4 address carried by the given option. Options
// that are absent or not exactly 4 bytes long are reported as missing.
func (message *Message) OptionAddr(code OptionCode) (netip.Addr, bool) {
	data, ok := message.Option(code)
	if !ok || len(data) != net.IPv4len {
		return netip.Addr{}, false
	}

	return netip.AddrFrom4([4]byte(data)), true
}

// MessageType returns the message type from option 53.
//
// Messages without the option, with an option that is not exactly one byte
// long or with an unknown type code are Unclassified.
func (message *Message) MessageType() MessageType {
	data, ok := message.Option(OptionDHCPMessageType)
	if !ok || len(data) != 1 {
		return Unclassified
	}

	messageType := MessageType(data[0])
	if messageType < Discover || messageType > Inform {
		return Unclassified
	}

	return messageType
}

// EncodedLength is the number of bytes Encode writes.
func (message *Message) EncodedLength() int {
	return OptionsOffset + len(message.Options)
}

// Encode writes the message (header, magic cookie and option region, as is)
// into out and returns the number of bytes written.
func (message *Message) Encode(out []byte) (int, error) {
	length := message.EncodedLength()
	if len(out) < length {
		return 0, errors.Errorf("buffer of %d bytes cannot hold a %d byte message", len(out), length)
	}

	clear(out[:OptionsOffset])
	out[offsetOp] = byte(message.OpCode)
	out[offsetHType] = message.HardwareType
	out[offsetHLen] = message.HardwareLength
	out[offsetHops] = message.Hops
	binary.BigEndian.PutUint32(out[offsetXID:], message.XID)
	binary.BigEndian.PutUint16(out[offsetSecs:], message.Secs)
	binary.BigEndian.PutUint16(out[offsetFlags:], message.Flags)
	writeAddr(out, offsetCIAddr, message.CIAddr)
	writeAddr(out, offsetYIAddr, message.YIAddr)
	writeAddr(out, offsetSIAddr, message.SIAddr)
	writeAddr(out, offsetGIAddr, message.GIAddr)
	copy(out[offsetCHAddr:], message.CHAddr[:])
	copy(out[offsetSName:], message.SName[:])
	copy(out[offsetFile:], message.File[:])
	binary.BigEndian.PutUint32(out[MagicCookieOffset:], MagicCookie)
	copy(out[OptionsOffset:], message.Options)

	return length, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (message *Message) MarshalBinary() ([]byte, error) {
	out := make([]byte, message.EncodedLength())
	_, err := message.Encode(out)
	if err != nil {
		return nil, err
	}

	return out, nil
}

func readAddr(buffer []byte, offset int) netip.Addr {
	return netip.AddrFrom4([4]byte(buffer[offset : offset+4]))
}

// writeAddr writes addr at offset; anything other than an IPv4 address
// (including the zero Addr) is written as 0.0.0.0.
func writeAddr(buffer []byte, offset int, addr netip.Addr) {
	var raw [4]byte
	if addr.Is4() {
		raw = addr.As4()
	}
	copy(buffer[offset:offset+4], raw[:])
}
