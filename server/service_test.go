package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/PentaTea/dhcpd/leases"
)

func newTestConfig(t *testing.T, yaml string) *viper.Viper {
	t.Helper()

	config := viper.New()
	setConfigDefaults(config)
	err := config.ReadConfig(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}

	return config
}

func TestConfigureDefaults(t *testing.T) {
	c := qt.New(t)

	service := NewService()
	err := service.configure(newTestConfig(t, `
network:
  interface: eth1
`))
	c.Assert(err, qt.IsNil)
	c.Assert(service.InterfaceName, qt.Equals, "eth1")
	c.Assert(service.ServiceIP.IsValid(), qt.IsFalse)
	c.Assert(service.LeaseDriver, qt.Equals, LeaseDriverSQLite)
	c.Assert(service.LeaseDatabase, qt.Equals, "eth1.db")
	c.Assert(service.MetricsListenAddress, qt.Equals, "")
	c.Assert(service.EnableDebugLogging, qt.IsFalse)
	c.Assert(service.StaticReservations, qt.HasLen, 0)
}

func TestConfigure(t *testing.T) {
	c := qt.New(t)

	service := NewService()
	err := service.configure(newTestConfig(t, `
debug: true
network:
  interface: eth1
  service_ip: 192.0.2.254
leases:
  driver: bolt
  path: /var/lib/dhcpd/leases.bolt
metrics:
  listen: 127.0.0.1:9167
`))
	c.Assert(err, qt.IsNil)
	c.Assert(service.EnableDebugLogging, qt.IsTrue)
	c.Assert(service.log.IsLevelEnabled(logrus.DebugLevel), qt.IsTrue)
	c.Assert(service.ServiceIP, qt.Equals, serverIdentity)
	c.Assert(service.LeaseDriver, qt.Equals, LeaseDriverBolt)
	c.Assert(service.LeaseDatabase, qt.Equals, "/var/lib/dhcpd/leases.bolt")
	c.Assert(service.MetricsListenAddress, qt.Equals, "127.0.0.1:9167")
}

func TestConfigureFromEnvironment(t *testing.T) {
	c := qt.New(t)

	t.Setenv("DHCPD_INTERFACE", "eth2")
	t.Setenv("DHCPD_SERVICE_IP", "192.0.2.254")
	t.Setenv("DHCPD_LEASE_DB", "/tmp/eth2.db")

	service := NewService()
	err := service.configure(newTestConfig(t, `
network:
  interface: eth1
`))
	c.Assert(err, qt.IsNil)
	c.Assert(service.InterfaceName, qt.Equals, "eth2")
	c.Assert(service.ServiceIP, qt.Equals, serverIdentity)
	c.Assert(service.LeaseDatabase, qt.Equals, "/tmp/eth2.db")
}

func TestConfigureStaticReservations(t *testing.T) {
	c := qt.New(t)

	service := NewService()
	err := service.configure(newTestConfig(t, `
network:
  interface: eth1
  static_reservations:
    - mac: 52:54:00:ab:cd:ef
      ipv4: 192.0.2.10
      router: 192.0.2.1
      nameserver: 192.0.2.1
      prefix_length: 24
      lease_time: 3600
    - mac: "52:54:00:00:00:07"
      ipv4: 192.0.2.17
      router: 192.0.2.1
      nameserver: 192.0.2.1
      prefix_length: 24
leases:
  driver: static
  default_lease_time: 7200
`))
	c.Assert(err, qt.IsNil)
	c.Assert(service.LeaseDriver, qt.Equals, LeaseDriverStatic)
	c.Assert(service.LeaseDatabase, qt.Equals, "")
	c.Assert(service.StaticReservations, qt.DeepEquals, map[string]leases.RawRecord{
		"52:54:00:ab:cd:ef": testLease(),
		"52:54:00:00:00:07": {
			Address:      "192.0.2.17",
			Routers:      "192.0.2.1",
			Nameservers:  "192.0.2.1",
			PrefixLength: 24,
			LeaseTime:    7200,
		},
	})

	c.Assert(service.openLeaseStore(), qt.IsNil)
	record, err := service.Leases.Resolve(context.Background(), "52:54:00:00:00:07")
	c.Assert(err, qt.IsNil)
	c.Assert(record.LeaseTime, qt.Equals, uint32(7200))
}

func TestConfigureErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		message string
	}{{
		name:    "no interface",
		yaml:    `debug: false`,
		message: `network.interface / DHCPD_INTERFACE is required`,
	}, {
		name: "bad service ip",
		yaml: `
network:
  interface: eth1
  service_ip: 2001:db8::1
`,
		message: `network.service_ip / DHCPD_SERVICE_IP \("2001:db8::1"\) is not an IPv4 address`,
	}, {
		name: "unknown driver",
		yaml: `
network:
  interface: eth1
leases:
  driver: mysql
`,
		message: `leases.driver / DHCPD_LEASE_DRIVER \("mysql"\) must be one of .*`,
	}, {
		name: "duplicate reservation",
		yaml: `
network:
  interface: eth1
  static_reservations:
    - mac: 52:54:00:ab:cd:ef
      ipv4: 192.0.2.10
    - mac: 52:54:00:ab:cd:ef
      ipv4: 192.0.2.11
`,
		message: `network.static_reservations has more than one entry for MAC address 52:54:00:ab:cd:ef`,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewService().configure(newTestConfig(t, tt.yaml))
			qt.Assert(t, err, qt.ErrorMatches, tt.message)
		})
	}
}

func TestOpenLeaseStore(t *testing.T) {
	c := qt.New(t)

	service := NewService()
	service.LeaseDriver = LeaseDriverSQLite
	service.LeaseDatabase = filepath.Join(t.TempDir(), "missing.db")
	c.Assert(service.openLeaseStore(), qt.ErrorMatches, `cannot open lease database .*`)

	path := filepath.Join(t.TempDir(), "eth1.bolt")
	c.Assert(os.WriteFile(path, nil, 0o600), qt.IsNil)
	service.LeaseDriver = LeaseDriverBolt
	service.LeaseDatabase = path
	c.Assert(service.openLeaseStore(), qt.IsNotNil)
}

func TestReadConfigFile(t *testing.T) {
	c := qt.New(t)

	// No configuration file at all is fine.
	config := viper.New()
	setConfigDefaults(config)
	config.SetConfigName("dhcpd-test-does-not-exist")
	c.Assert(readConfigFile(config), qt.IsNil)

	// An explicitly named file must be readable.
	config = viper.New()
	setConfigDefaults(config)
	config.SetConfigFile(filepath.Join(t.TempDir(), "dhcpd.yml"))
	c.Assert(readConfigFile(config), qt.ErrorMatches, `cannot read configuration file: .*`)

	path := filepath.Join(t.TempDir(), "dhcpd.yml")
	c.Assert(os.WriteFile(path, []byte("network:\n  interface: eth3\n"), 0o600), qt.IsNil)
	config = viper.New()
	setConfigDefaults(config)
	config.SetConfigFile(path)
	c.Assert(readConfigFile(config), qt.IsNil)
	c.Assert(config.GetString("network.interface"), qt.Equals, "eth3")
}
