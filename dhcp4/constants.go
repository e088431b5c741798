// Package dhcp4 decodes and encodes DHCPv4 (RFC 2131/2132) messages.
//
// Decoded messages alias the buffer they were decoded from, and replies are
// written directly into a caller-supplied buffer. Neither side allocates
// per-option storage.
package dhcp4

// OpCode is the BOOTP operation code (the first byte of every message).
type OpCode byte

// BOOTP operation codes.
const (
	BootRequest OpCode = 1 // From client
	BootReply   OpCode = 2 // From server
)

// String returns the name of the operation code.
func (code OpCode) String() string {
	switch code {
	case BootRequest:
		return "REQUEST"
	case BootReply:
		return "REPLY"
	default:
		return "UNKNOWN"
	}
}

// MessageType is the DHCP message type carried in option 53.
//
// The zero value, Unclassified, stands for a message with no (or no
// recognised) message type option.
type MessageType byte

// DHCP message types (RFC 2132 section 9.6).
const (
	Unclassified MessageType = 0
	Discover     MessageType = 1
	Offer        MessageType = 2
	Request      MessageType = 3
	Decline      MessageType = 4
	ACK          MessageType = 5
	NAK          MessageType = 6
	Release      MessageType = 7
	Inform       MessageType = 8
)

var messageTypeNames = [...]string{
	Unclassified: "Unclassified",
	Discover:     "Discover",
	Offer:        "Offer",
	Request:      "Request",
	Decline:      "Decline",
	ACK:          "ACK",
	NAK:          "NAK",
	Release:      "Release",
	Inform:       "Inform",
}

func (messageType MessageType) String() string {
	if int(messageType) < len(messageTypeNames) {
		return messageTypeNames[messageType]
	}

	return "Unclassified"
}

// OptionCode identifies a DHCP option.
type OptionCode byte

// Option codes understood by this package.
const (
	OptionPad                OptionCode = 0
	OptionSubnetMask         OptionCode = 1
	OptionRouter             OptionCode = 3
	OptionDomainNameServer   OptionCode = 6
	OptionRequestedIPAddress OptionCode = 50
	OptionIPAddressLeaseTime OptionCode = 51
	OptionDHCPMessageType    OptionCode = 53
	OptionServerIdentifier   OptionCode = 54
	OptionEnd                OptionCode = 255
)

// Wire layout.
const (
	// HeaderLength is the length of the fixed BOOTP header.
	HeaderLength = 236

	// MagicCookieOffset is the offset of the 4-byte magic cookie.
	MagicCookieOffset = HeaderLength

	// OptionsOffset is the offset of the first option byte.
	OptionsOffset = MagicCookieOffset + 4

	// MinMessageLength is the shortest datagram accepted by Decode: the
	// header, the cookie and at least one option byte.
	MinMessageLength = OptionsOffset + 1

	// MaxMessageLength is the capacity of the buffers used to receive
	// requests and build replies.
	MaxMessageLength = 4096

	// MagicCookie distinguishes DHCP from plain BOOTP.
	MagicCookie uint32 = 0x63825363

	// ServerPort is the UDP port servers listen on.
	ServerPort = 67

	// ClientPort is the UDP port replies are sent to.
	ClientPort = 68
)

// Field offsets within the fixed header.
const (
	offsetOp     = 0
	offsetHType  = 1
	offsetHLen   = 2
	offsetHops   = 3
	offsetXID    = 4
	offsetSecs   = 8
	offsetFlags  = 10
	offsetCIAddr = 12
	offsetYIAddr = 16
	offsetSIAddr = 20
	offsetGIAddr = 24
	offsetCHAddr = 28
	offsetSName  = 44
	offsetFile   = 108

	sizeCHAddr = 16
	sizeSName  = 64
	sizeFile   = 128
)
