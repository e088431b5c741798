package main

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/PentaTea/dhcpd/leases"
)

// Lease store drivers.
const (
	LeaseDriverSQLite = "sqlite"
	LeaseDriverBolt   = "bolt"
	LeaseDriverStatic = "static"
)

// Default lease time (in seconds) for static reservations that do not specify one.
const defaultLeaseTime = 24 * 60 * 60

// Service represents the state for the DHCP service.
type Service struct {
	InterfaceName string
	ServiceIP     netip.Addr

	LeaseDriver        string
	LeaseDatabase      string
	StaticReservations map[string]leases.RawRecord

	MetricsListenAddress string

	EnableDebugLogging bool

	Leases LeaseResolver

	leaseStore      leases.Store
	log             *logrus.Logger
	metrics         *serviceMetrics
	metricsRegistry *prometheus.Registry
	listeners       *ServiceListeners
	stateLock       *sync.Mutex
}

// StaticReservation is a lease declared directly in the configuration file.
type StaticReservation struct {
	MACAddress   string `mapstructure:"mac"`
	IPAddress    string `mapstructure:"ipv4"`
	Router       string `mapstructure:"router"`
	Nameserver   string `mapstructure:"nameserver"`
	PrefixLength int64  `mapstructure:"prefix_length"`
	LeaseTime    *int64 `mapstructure:"lease_time"`
}

// NewService creates new Service state.
func NewService() *Service {
	metricsRegistry := prometheus.NewRegistry()

	service := &Service{
		StaticReservations: make(map[string]leases.RawRecord),
		log:                newLogger(false),
		metrics:            newServiceMetrics(metricsRegistry),
		metricsRegistry:    metricsRegistry,
		stateLock:          &sync.Mutex{},
	}
	service.listeners = NewServiceListeners(service)

	return service
}

// Initialize the service configuration.
func (service *Service) Initialize(config *viper.Viper) error {
	setConfigDefaults(config)

	err := readConfigFile(config)
	if err != nil {
		return err
	}

	err = service.configure(config)
	if err != nil {
		return err
	}

	err = service.listeners.Initialize()
	if err != nil {
		return err
	}

	return service.openLeaseStore()
}

// Register defaults and environment variables.
func setConfigDefaults(config *viper.Viper) {
	// Defaults
	config.SetDefault("debug", false)
	config.SetDefault("leases.driver", LeaseDriverSQLite)
	config.SetDefault("leases.default_lease_time", defaultLeaseTime)
	config.SetDefault("metrics.listen", "")

	// Environment variables.
	config.BindEnv("debug", "DHCPD_DEBUG")
	config.BindEnv("network.interface", "DHCPD_INTERFACE")
	config.BindEnv("network.service_ip", "DHCPD_SERVICE_IP")
	config.BindEnv("leases.driver", "DHCPD_LEASE_DRIVER")
	config.BindEnv("leases.path", "DHCPD_LEASE_DB")
	config.BindEnv("leases.default_lease_time", "DHCPD_DEFAULT_LEASE_TIME")
	config.BindEnv("metrics.listen", "DHCPD_METRICS_LISTEN")

	config.SetConfigType("yaml")
	config.SetConfigName("dhcpd")
	config.AddConfigPath(".")
	config.AddConfigPath("/etc")
}

// Read the configuration file.
//
// The file is optional unless one was named explicitly.
func readConfigFile(config *viper.Viper) error {
	err := config.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}

	return errors.Wrap(err, "cannot read configuration file")
}

// Populate service settings from configuration.
func (service *Service) configure(config *viper.Viper) error {
	service.EnableDebugLogging = config.GetBool("debug")
	configureLogger(service.log, service.EnableDebugLogging)

	service.InterfaceName = config.GetString("network.interface")
	if len(service.InterfaceName) == 0 {
		return fmt.Errorf("network.interface / DHCPD_INTERFACE is required")
	}

	serviceIP := config.GetString("network.service_ip")
	if len(serviceIP) != 0 {
		address, err := netip.ParseAddr(serviceIP)
		if err != nil || !address.Is4() {
			return fmt.Errorf("network.service_ip / DHCPD_SERVICE_IP (%q) is not an IPv4 address", serviceIP)
		}
		service.ServiceIP = address
	}

	service.LeaseDriver = config.GetString("leases.driver")
	switch service.LeaseDriver {
	case LeaseDriverSQLite, LeaseDriverBolt:
		service.LeaseDatabase = config.GetString("leases.path")
		if len(service.LeaseDatabase) == 0 {
			service.LeaseDatabase = service.InterfaceName + ".db"
		}

	case LeaseDriverStatic:

	default:
		return fmt.Errorf("leases.driver / DHCPD_LEASE_DRIVER (%q) must be one of %q, %q or %q",
			service.LeaseDriver,
			LeaseDriverSQLite,
			LeaseDriverBolt,
			LeaseDriverStatic,
		)
	}

	err := service.configureStaticReservations(config)
	if err != nil {
		return err
	}

	service.MetricsListenAddress = config.GetString("metrics.listen")

	return nil
}

// Load static reservations from configuration.
func (service *Service) configureStaticReservations(config *viper.Viper) error {
	var staticReservations []StaticReservation
	err := config.UnmarshalKey("network.static_reservations", &staticReservations)
	if err != nil {
		return errors.Wrap(err, "network.static_reservations is invalid")
	}

	defaultLeaseTime := config.GetInt64("leases.default_lease_time")

	service.StaticReservations = make(map[string]leases.RawRecord, len(staticReservations))
	for _, reservation := range staticReservations {
		if _, exists := service.StaticReservations[reservation.MACAddress]; exists {
			return fmt.Errorf("network.static_reservations has more than one entry for MAC address %s", reservation.MACAddress)
		}

		leaseTime := defaultLeaseTime
		if reservation.LeaseTime != nil {
			leaseTime = *reservation.LeaseTime
		}

		service.StaticReservations[reservation.MACAddress] = leases.RawRecord{
			Address:      reservation.IPAddress,
			Routers:      reservation.Router,
			Nameservers:  reservation.Nameserver,
			PrefixLength: reservation.PrefixLength,
			LeaseTime:    leaseTime,
		}

		service.log.Debugf("Static IP reservation for %s: %s", reservation.MACAddress, reservation.IPAddress)
	}

	if service.LeaseDriver == LeaseDriverStatic && len(service.StaticReservations) == 0 {
		service.log.Warnf("Lease driver is %q but there are no static reservations; no client will get a reply.", LeaseDriverStatic)
	}

	return nil
}

// Open the configured lease store.
func (service *Service) openLeaseStore() error {
	var (
		store leases.Store
		err   error
	)

	switch service.LeaseDriver {
	case LeaseDriverSQLite:
		store, err = leases.OpenSQLite(service.LeaseDatabase)

	case LeaseDriverBolt:
		store, err = leases.OpenBolt(service.LeaseDatabase)

	case LeaseDriverStatic:
		store, err = leases.NewStaticStore(service.StaticReservations)

	default:
		err = fmt.Errorf("unsupported lease driver %q", service.LeaseDriver)
	}
	if err != nil {
		return err
	}

	service.log.Infof("Using %s lease store %s.", service.LeaseDriver, service.LeaseDatabase)

	service.leaseStore = store
	service.Leases = leases.NewResolver(store)

	return nil
}

// Start the service.
func (service *Service) Start(ctx context.Context) error {
	service.acquireStateLock("Start")
	defer service.releaseStateLock("Start")

	err := service.listeners.Start(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to start service listeners")
	}

	return nil
}

// Stop the service.
func (service *Service) Stop() error {
	service.acquireStateLock("Stop")
	defer service.releaseStateLock("Stop")

	err := service.listeners.Stop()
	if err != nil {
		return err
	}

	if service.leaseStore != nil {
		err = service.leaseStore.Close()
		service.leaseStore = nil
	}

	return err
}

// Errors reports listener failures after startup.
func (service *Service) Errors() <-chan error {
	return service.listeners.Errors
}

func (service *Service) acquireStateLock(reason string) {
	service.log.Tracef("Acquire state lock (%s).", reason)

	service.stateLock.Lock()
}

func (service *Service) releaseStateLock(reason string) {
	service.log.Tracef("Release state lock (%s).", reason)

	service.stateLock.Unlock()
}
