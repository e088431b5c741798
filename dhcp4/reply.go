package dhcp4

import (
	"encoding/binary"
	"net/netip"
)

// PrepareReply starts a reply to request in out.
//
// out is zeroed, the op code is set to BootReply, htype, hlen, xid, flags,
// giaddr and chaddr are copied from the request and the magic cookie is
// written. The returned position is where the first option goes; pass it to
// AppendOption and finally to Finish.
//
// out must be at least OptionsOffset+1 bytes long. Replies are normally built
// in a MaxMessageLength buffer.
func PrepareReply(out []byte, request *Message) int {
	_ = out[OptionsOffset] // Room for at least the END option.

	clear(out)
	out[offsetOp] = byte(BootReply)
	out[offsetHType] = request.HardwareType
	out[offsetHLen] = request.HardwareLength
	binary.BigEndian.PutUint32(out[offsetXID:], request.XID)
	binary.BigEndian.PutUint16(out[offsetFlags:], request.Flags)
	writeAddr(out, offsetGIAddr, request.GIAddr)
	copy(out[offsetCHAddr:offsetCHAddr+sizeCHAddr], request.CHAddr[:])
	binary.BigEndian.PutUint32(out[MagicCookieOffset:], MagicCookie)

	return OptionsOffset
}

// SetYIAddr sets the "your address" field of a prepared reply.
func SetYIAddr(out []byte, addr netip.Addr) {
	writeAddr(out, offsetYIAddr, addr)
}

// SetSIAddr sets the "server address" field of a prepared reply.
func SetSIAddr(out []byte, addr netip.Addr) {
	writeAddr(out, offsetSIAddr, addr)
}

// AppendOption writes one option at position and returns the position after
// it.
//
// Staying within len(out) is the caller's responsibility; overflowing the
// buffer panics. At most 255 bytes of data fit in one option.
func AppendOption(out []byte, position int, code OptionCode, data ...byte) int {
	if len(data) > 255 {
		panic("dhcp4: option data longer than 255 bytes")
	}

	_ = out[position+1+len(data)]
	out[position] = byte(code)
	out[position+1] = byte(len(data))
	copy(out[position+2:], data)

	return position + 2 + len(data)
}

// AppendOptionAddr writes an option carrying a single IPv4 address.
func AppendOptionAddr(out []byte, position int, code OptionCode, addr netip.Addr) int {
	var raw [4]byte
	if addr.Is4() {
		raw = addr.As4()
	}

	return AppendOption(out, position, code, raw[:]...)
}

// AppendOptionUint32 writes an option carrying a 32-bit big-endian integer.
func AppendOptionUint32(out []byte, position int, code OptionCode, value uint32) int {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], value)

	return AppendOption(out, position, code, raw[:]...)
}

// Finish terminates the option sequence with END and returns the total length
// of the reply.
func Finish(out []byte, position int) int {
	out[position] = byte(OptionEnd)

	return position + 1
}
