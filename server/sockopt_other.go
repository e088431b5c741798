//go:build !linux

package main

import (
	"context"
	"fmt"
	"net"

	"github.com/PentaTea/dhcpd/dhcp4"
)

// Open the DHCP server socket.
//
// Without device binding, interface index filtering alone keeps other interfaces out.
func listenDHCP(ctx context.Context, interfaceName string) (net.PacketConn, error) {
	var listenConfig net.ListenConfig

	return listenConfig.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", dhcp4.ServerPort))
}
