package main

import (
	"context"
	"fmt"
	"net"
	"sync"

	dhcp "github.com/krolaw/dhcp4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/PentaTea/dhcpd/dhcp4"
	"github.com/PentaTea/dhcpd/leases"
)

// LeaseResolver maps a client hardware address to its lease.
type LeaseResolver interface {
	// Resolve returns the lease for hardwareAddress, or an error classified by leases.OutcomeOf.
	Resolve(ctx context.Context, hardwareAddress string) (leases.Record, error)
}

var _ LeaseResolver = &leases.Resolver{}

// All replies are broadcast to the client port, whatever the request's broadcast flag says.
var broadcastAddress = &net.UDPAddr{
	IP:   net.IPv4bcast,
	Port: dhcp4.ClientPort,
}

// Request-scoped buffers. Each datagram checks one out of each pool and returns it once the reply has been sent.
var (
	receiveBuffers = sync.Pool{
		New: func() any { return new([dhcp4.MaxMessageLength]byte) },
	}
	sendBuffers = sync.Pool{
		New: func() any { return new([dhcp4.MaxMessageLength]byte) },
	}
)

// Serve reads datagrams from the connection and answers them, one at a time, until reading fails.
//
// The connection only has to satisfy krolaw/dhcp4's ServeConn, so the interface-bound
// DHCPServerConnection and in-memory connections are interchangeable.
//
// Lease lookups see ctx's values but never its cancellation; a request read
// before the connection closes is answered in full. Close the connection to stop serving.
func (service *Service) Serve(ctx context.Context, connection dhcp.ServeConn) error {
	ctx = context.WithoutCancel(ctx)

	for {
		buffer := receiveBuffers.Get().(*[dhcp4.MaxMessageLength]byte)

		bytesRead, sourceAddress, err := connection.ReadFrom(buffer[:])
		if err != nil {
			receiveBuffers.Put(buffer)

			return err
		}

		// Datagrams that arrived on other interfaces are reported as empty.
		if bytesRead > 0 {
			service.handlePacket(ctx, connection, buffer[:bytesRead], sourceAddress)
		}

		receiveBuffers.Put(buffer)
	}
}

// Handle a single received datagram.
func (service *Service) handlePacket(ctx context.Context, connection dhcp.ServeConn, packet []byte, sourceAddress net.Addr) {
	service.metrics.packetsReceived.Inc()

	request, err := dhcp4.Decode(packet)
	if err != nil {
		// Routine on a shared broadcast segment; not worth more than a trace.
		service.metrics.packetsDropped.WithLabelValues(dropReasonMalformed).Inc()
		service.log.WithField("source", sourceAddress).Tracef("Ignoring datagram: %s", err)

		return
	}

	service.logRequest(request, sourceAddress)

	reply := sendBuffers.Get().(*[dhcp4.MaxMessageLength]byte)
	defer sendBuffers.Put(reply)

	replyLength, replyType := service.ServeDHCP(ctx, request, reply[:])
	if replyLength == 0 {
		return
	}

	_, err = connection.WriteTo(reply[:replyLength], broadcastAddress)
	if err != nil {
		service.metrics.transmitFailures.Inc()
		service.requestLog(request).Errorf("[TXN: %s] Could not send %s reply to %s: %s",
			getTransactionID(request),
			replyType,
			broadcastAddress,
			err,
		)

		return
	}

	service.metrics.repliesSent.WithLabelValues(replyType.String()).Inc()
}

// ServeDHCP handles a decoded DHCP request, writing any reply into the supplied buffer.
//
// A replyLength of 0 means no reply should be sent.
func (service *Service) ServeDHCP(ctx context.Context, request *dhcp4.Message, reply []byte) (replyLength int, replyType dhcp4.MessageType) {
	messageType := request.MessageType()

	switch messageType {
	case dhcp4.Discover:
		return service.handleDiscover(ctx, request, reply)

	case dhcp4.Request:
		return service.handleRequest(ctx, request, reply)

	case dhcp4.Release:
		return service.handleRelease(request)

	case dhcp4.Decline:
		return service.handleDecline(request)

	case dhcp4.Inform:
		return service.handleInform(request)

	case dhcp4.Offer, dhcp4.ACK, dhcp4.NAK:
		// Server-to-client messages have no business arriving on the server port.
		service.reportBrokenSoftware(request, fmt.Sprintf("sent a server-to-client %s message", messageType))

		return service.noReply(dropReasonUnclassified)

	case dhcp4.Unclassified:
		service.reportBrokenSoftware(request, "sent a message without a valid DHCP message type")

		return service.noReply(dropReasonUnclassified)
	}

	// MessageType never returns anything else.
	return service.noReply(dropReasonUnclassified)
}

// Handle a DHCP Discover packet.
func (service *Service) handleDiscover(ctx context.Context, request *dhcp4.Message, reply []byte) (int, dhcp4.MessageType) {
	transactionID := getTransactionID(request)
	clientMACAddress := request.HardwareAddrString()
	log := service.requestLog(request)

	log.Debugf("[TXN: %s] Discover message from client with MAC address %s (IP '%s').",
		transactionID,
		clientMACAddress,
		request.CIAddr,
	)

	lease, ok := service.resolveLease(ctx, request)
	if !ok {
		log.Infof("[TXN: %s] MAC address %s has no usable lease (no reply will be sent).",
			transactionID,
			clientMACAddress,
		)

		return service.noReply(dropReasonNoLease)
	}

	log.Infof("[TXN: %s] Offer IPv4 address %s to client with MAC address %s.",
		transactionID,
		lease.Address,
		clientMACAddress,
	)

	return service.replyOffer(request, lease, reply)
}

// Handle a DHCP Request packet.
func (service *Service) handleRequest(ctx context.Context, request *dhcp4.Message, reply []byte) (int, dhcp4.MessageType) {
	transactionID := getTransactionID(request)
	clientMACAddress := request.HardwareAddrString()
	log := service.requestLog(request)

	// Clients that omit the server identifier name the server in siaddr instead.
	requestedServer, ok := request.OptionAddr(dhcp4.OptionServerIdentifier)
	if !ok {
		requestedServer = request.SIAddr
	}

	// Renewing clients put their address in ciaddr rather than option 50.
	requestedIP, ok := request.OptionAddr(dhcp4.OptionRequestedIPAddress)
	if !ok {
		requestedIP = request.CIAddr
	}

	log.Debugf("[TXN: %s] Request message from client with MAC address %s for IPv4 address %s from server %s.",
		transactionID,
		clientMACAddress,
		requestedIP,
		requestedServer,
	)

	if requestedServer != service.ServiceIP {
		log.Debugf("[TXN: %s] Request is addressed to server %s, not this one (no reply will be sent).",
			transactionID,
			requestedServer,
		)

		return service.noReply(dropReasonOtherServer)
	}

	lease, ok := service.resolveLease(ctx, request)
	if !ok {
		log.Infof("[TXN: %s] MAC address %s has no usable lease; send NAK reply.",
			transactionID,
			clientMACAddress,
		)

		return service.replyNAK(request, reply)
	}

	if lease.Address != requestedIP {
		log.Infof("[TXN: %s] Client with MAC address %s requested IPv4 address %s but is assigned %s; send NAK reply.",
			transactionID,
			clientMACAddress,
			requestedIP,
			lease.Address,
		)

		return service.replyNAK(request, reply)
	}

	log.Infof("[TXN: %s] Acknowledge lease on IPv4 address %s for client with MAC address %s.",
		transactionID,
		lease.Address,
		clientMACAddress,
	)

	return service.replyACK(request, lease, reply)
}

// Handle a DHCP Release packet.
//
// Leases are static and managed outside this server, so there is nothing to release.
func (service *Service) handleRelease(request *dhcp4.Message) (int, dhcp4.MessageType) {
	service.requestLog(request).Debugf("[TXN: %s] Release message from client with MAC address %s (IP '%s'); nothing to do.",
		getTransactionID(request),
		request.HardwareAddrString(),
		request.CIAddr,
	)

	return service.noReply(dropReasonNoAction)
}

// Handle a DHCP Decline packet.
//
// The lease table is not ours to change, so a declined address stays assigned.
func (service *Service) handleDecline(request *dhcp4.Message) (int, dhcp4.MessageType) {
	log := service.requestLog(request)

	requestedIP, _ := request.OptionAddr(dhcp4.OptionRequestedIPAddress)
	log.Debugf("[TXN: %s] Decline message from client with MAC address %s for IPv4 address %s; nothing to do.",
		getTransactionID(request),
		request.HardwareAddrString(),
		requestedIP,
	)

	return service.noReply(dropReasonNoAction)
}

// Handle a DHCP Inform packet.
func (service *Service) handleInform(request *dhcp4.Message) (int, dhcp4.MessageType) {
	service.requestLog(request).Debugf("[TXN: %s] Inform message from client with MAC address %s (IP '%s'); nothing to do.",
		getTransactionID(request),
		request.HardwareAddrString(),
		request.CIAddr,
	)

	return service.noReply(dropReasonNoAction)
}

// Look up the lease for the requesting client.
//
// Store failures and invalid records are logged and otherwise treated like a missing lease.
func (service *Service) resolveLease(ctx context.Context, request *dhcp4.Message) (leases.Record, bool) {
	clientMACAddress := request.HardwareAddrString()

	lease, err := service.Leases.Resolve(ctx, clientMACAddress)
	outcome := leases.OutcomeOf(err)
	service.metrics.leaseLookups.WithLabelValues(outcome.String()).Inc()

	switch outcome {
	case leases.Found:
		return lease, true

	case leases.NotFound:
		return leases.Record{}, false

	case leases.InvalidRecord:
		var invalid *leases.InvalidRecordError
		if errors.As(err, &invalid) {
			service.requestLog(request).Errorf("[TXN: %s] Invalid lease entry for %s (%s: %s):\n%s",
				getTransactionID(request),
				clientMACAddress,
				invalid.Field,
				invalid.Err,
				invalid.Record.Dump(),
			)
		}

		return leases.Record{}, false

	default:
		service.requestLog(request).Errorf("[TXN: %s] Lease lookup for MAC address %s failed: %s",
			getTransactionID(request),
			clientMACAddress,
			err,
		)

		return leases.Record{}, false
	}
}

// No reply should be sent.
func (service *Service) noReply(reason string) (int, dhcp4.MessageType) {
	service.metrics.packetsDropped.WithLabelValues(reason).Inc()

	return 0, dhcp4.Unclassified
}

// Create an Offer reply packet (in response to Discover packet).
func (service *Service) replyOffer(request *dhcp4.Message, lease leases.Record, reply []byte) (int, dhcp4.MessageType) {
	return service.replyLease(request, dhcp4.Offer, lease, reply)
}

// Create an ACK reply packet (in response to Request packet).
func (service *Service) replyACK(request *dhcp4.Message, lease leases.Record, reply []byte) (int, dhcp4.MessageType) {
	return service.replyLease(request, dhcp4.ACK, lease, reply)
}

// Create a reply carrying the lease. Offer and ACK differ only in their message type.
func (service *Service) replyLease(request *dhcp4.Message, messageType dhcp4.MessageType, lease leases.Record, reply []byte) (int, dhcp4.MessageType) {
	position := dhcp4.PrepareReply(reply, request)
	dhcp4.SetYIAddr(reply, lease.Address)
	dhcp4.SetSIAddr(reply, service.ServiceIP)

	position = dhcp4.AppendOption(reply, position, dhcp4.OptionDHCPMessageType, byte(messageType))
	position = dhcp4.AppendOption(reply, position, dhcp4.OptionSubnetMask, lease.Netmask...)
	position = dhcp4.AppendOptionAddr(reply, position, dhcp4.OptionRouter, lease.Router)
	position = dhcp4.AppendOptionAddr(reply, position, dhcp4.OptionServerIdentifier, service.ServiceIP)
	position = dhcp4.AppendOptionUint32(reply, position, dhcp4.OptionIPAddressLeaseTime, lease.LeaseTime)
	position = dhcp4.AppendOptionAddr(reply, position, dhcp4.OptionDomainNameServer, lease.Nameserver)

	return dhcp4.Finish(reply, position), messageType
}

// Create a NAK reply packet (in response to Request packet).
func (service *Service) replyNAK(request *dhcp4.Message, reply []byte) (int, dhcp4.MessageType) {
	position := dhcp4.PrepareReply(reply, request)
	dhcp4.SetSIAddr(reply, service.ServiceIP)

	position = dhcp4.AppendOption(reply, position, dhcp4.OptionDHCPMessageType, byte(dhcp4.NAK))

	return dhcp4.Finish(reply, position), dhcp4.NAK
}

// Tell the operator that something on the network sends invalid DHCP messages.
func (service *Service) reportBrokenSoftware(request *dhcp4.Message, problem string) {
	rawType, _ := request.Option(dhcp4.OptionDHCPMessageType)

	service.requestLog(request).WithField("option53", fmt.Sprintf("%x", rawType)).Warnf(
		"[TXN: %s] BROKEN SOFTWARE NOTIFICATION: client with MAC address %s %s; no reply will be sent.",
		getTransactionID(request),
		request.HardwareAddrString(),
		problem,
	)
}

// Log the full contents of a received message (debug logging only).
func (service *Service) logRequest(request *dhcp4.Message, sourceAddress net.Addr) {
	if !service.log.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	service.log.WithFields(logrus.Fields{
		"source":  fmt.Sprint(sourceAddress),
		"op":      request.OpCode.String(),
		"htype":   request.HardwareType,
		"hlen":    request.HardwareLength,
		"hops":    request.Hops,
		"xid":     getTransactionID(request),
		"secs":    request.Secs,
		"flags":   fmt.Sprintf("0x%04X", request.Flags),
		"ciaddr":  request.CIAddr.String(),
		"yiaddr":  request.YIAddr.String(),
		"siaddr":  request.SIAddr.String(),
		"giaddr":  request.GIAddr.String(),
		"chaddr":  request.HardwareAddrString(),
		"cookie":  fmt.Sprintf("0x%08X", dhcp4.MagicCookie),
		"msgtype": request.MessageType().String(),
	}).Debug("DHCP message received.")
}

// Logger scoped to a single request.
func (service *Service) requestLog(request *dhcp4.Message) *logrus.Entry {
	return service.log.WithFields(logrus.Fields{
		"txn": getTransactionID(request),
		"mac": request.HardwareAddrString(),
	})
}

// Get the DHCP transaction Id as a string.
func getTransactionID(request *dhcp4.Message) string {
	return fmt.Sprintf("0x%08X", request.XID)
}
