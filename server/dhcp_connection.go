package main

import (
	"net"

	dhcp "github.com/krolaw/dhcp4"
	"golang.org/x/net/ipv4"
)

// DHCPServerConnection is a DHCP server connection restricted to a single network interface.
//
// Datagrams that arrive on other interfaces are reported as zero-length reads, and replies always leave through the served interface.
type DHCPServerConnection struct {
	targetInterfaceIndex int
	networkConnection    *ipv4.PacketConn
	writeControlMessage  *ipv4.ControlMessage
}

// NewDHCPServerConnection creates a new DHCP server connection.
func NewDHCPServerConnection(connection net.PacketConn, targetInterfaceIndex int) (*DHCPServerConnection, error) {
	networkConnection := ipv4.NewPacketConn(connection)
	err := networkConnection.SetControlMessage(ipv4.FlagInterface, true) // We filter by interface index.
	if err != nil {
		return nil, err
	}

	serverConnection := &DHCPServerConnection{
		targetInterfaceIndex: targetInterfaceIndex,
		networkConnection:    networkConnection,
		writeControlMessage: &ipv4.ControlMessage{
			IfIndex: targetInterfaceIndex,
		},
	}

	return serverConnection, nil
}

var _ dhcp.ServeConn = &DHCPServerConnection{}

// Close the server's underlying network connection.
func (server *DHCPServerConnection) Close() error {
	return server.networkConnection.Close()
}

// ReadFrom reads data from the underlying network connection into the specified buffer.
func (server *DHCPServerConnection) ReadFrom(buffer []byte) (bytesRead int, sourceAddress net.Addr, err error) {
	var controlMessage *ipv4.ControlMessage
	bytesRead, controlMessage, sourceAddress, err = server.networkConnection.ReadFrom(buffer)
	if controlMessage != nil && controlMessage.IfIndex != server.targetInterfaceIndex { // Filter all other interfaces
		bytesRead = 0
	}

	return
}

// WriteTo writes data from the specified buffer to the underlying network connection.
func (server *DHCPServerConnection) WriteTo(buffer []byte, destinationAddress net.Addr) (bytesWritten int, err error) {
	// Src stays unset; the kernel picks the served interface's address.
	return server.networkConnection.WriteTo(buffer, server.writeControlMessage, destinationAddress)
}
