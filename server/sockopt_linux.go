//go:build linux

package main

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/PentaTea/dhcpd/dhcp4"
)

// Open the DHCP server socket, bound to the named interface.
//
// DHCP is broadcast, so we listen on all addresses and rely on the device binding (and interface index filtering) instead.
func listenDHCP(ctx context.Context, interfaceName string) (net.PacketConn, error) {
	listenConfig := net.ListenConfig{
		Control: func(network string, address string, rawConnection syscall.RawConn) error {
			var socketErr error
			err := rawConnection.Control(func(fd uintptr) {
				socketErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if socketErr != nil {
					socketErr = errors.Wrap(socketErr, "cannot set SO_REUSEADDR")

					return
				}

				socketErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
				if socketErr != nil {
					socketErr = errors.Wrap(socketErr, "cannot set SO_BROADCAST")

					return
				}

				socketErr = unix.BindToDevice(int(fd), interfaceName)
				if socketErr != nil {
					socketErr = errors.Wrapf(socketErr, "cannot bind socket to network interface '%s'", interfaceName)
				}
			})
			if err != nil {
				return err
			}

			return socketErr
		},
	}

	return listenConfig.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", dhcp4.ServerPort))
}
