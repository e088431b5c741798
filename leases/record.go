// Package leases resolves hardware addresses to statically assigned leases.
//
// The lease table itself lives in an external Store (an sqlite database, a
// bolt database or the service configuration). This package only reads it,
// validates what it finds and never caches a record.
package leases

import (
	"fmt"
	"math"
	"net"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
)

// RawRecord is a lease record exactly as a Store holds it.
type RawRecord struct {
	// The assigned IPv4 address (dotted quad).
	Address string `json:"address"`

	// The router (default gateway) address (dotted quad).
	Routers string `json:"routers"`

	// The DNS server address (dotted quad).
	Nameservers string `json:"nameservers"`

	// The subnet prefix length (0-32).
	PrefixLength int64 `json:"prefixlen"`

	// The lease time, in seconds.
	LeaseTime int64 `json:"leasetime"`
}

// Dump renders every field of the record, one per line, for diagnostics.
func (raw RawRecord) Dump() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "\tAddress: %s\n", raw.Address)
	fmt.Fprintf(&builder, "\tRouters: %s\n", raw.Routers)
	fmt.Fprintf(&builder, "\tNameservers: %s\n", raw.Nameservers)
	fmt.Fprintf(&builder, "\tPrefix Length: %d\n", raw.PrefixLength)
	fmt.Fprintf(&builder, "\tLease Time: %d", raw.LeaseTime)

	return builder.String()
}

// Record is a validated lease.
type Record struct {
	Address      netip.Addr
	Router       netip.Addr
	Nameserver   netip.Addr
	PrefixLength uint8
	Netmask      net.IPMask
	LeaseTime    uint32 // Seconds
}

// Netmask returns the IPv4 netmask with the top prefixLength bits set.
func Netmask(prefixLength int) (net.IPMask, error) {
	if prefixLength < 0 || prefixLength > 32 {
		return nil, errors.Errorf("prefix length %d is outside 0-32", prefixLength)
	}

	return net.CIDRMask(prefixLength, 32), nil
}

// parseRecord validates raw. The returned error names the offending field.
func parseRecord(raw RawRecord) (Record, *fieldError) {
	var record Record
	var err error

	record.Address, err = parseIPv4(raw.Address)
	if err != nil {
		return Record{}, &fieldError{Field: "address", Err: err}
	}
	record.Router, err = parseIPv4(raw.Routers)
	if err != nil {
		return Record{}, &fieldError{Field: "routers", Err: err}
	}
	record.Nameserver, err = parseIPv4(raw.Nameservers)
	if err != nil {
		return Record{}, &fieldError{Field: "nameservers", Err: err}
	}

	if raw.PrefixLength < 0 || raw.PrefixLength > 32 {
		return Record{}, &fieldError{Field: "prefixlen", Err: errors.Errorf("prefix length %d is outside 0-32", raw.PrefixLength)}
	}
	record.PrefixLength = uint8(raw.PrefixLength)
	record.Netmask, _ = Netmask(int(raw.PrefixLength))

	if raw.LeaseTime < 0 || raw.LeaseTime > math.MaxUint32 {
		return Record{}, &fieldError{Field: "leasetime", Err: errors.Errorf("lease time %d does not fit in 32 bits", raw.LeaseTime)}
	}
	record.LeaseTime = uint32(raw.LeaseTime)

	return record, nil
}

// parseIPv4 accepts only dotted-quad IPv4 text. IPv6 (including IPv4-mapped
// IPv6) and lists of addresses are rejected.
func parseIPv4(text string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(text)
	if err != nil {
		return netip.Addr{}, err
	}
	if !addr.Is4() {
		return netip.Addr{}, errors.Errorf("%q is not an IPv4 address", text)
	}

	return addr, nil
}

type fieldError struct {
	Field string
	Err   error
}
