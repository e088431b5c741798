package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceListeners represents the listeners for all services.
type ServiceListeners struct {
	Errors               <-chan error
	service              *Service
	listenInterface      *net.Interface
	listenIPv4Address    netip.Addr
	dhcpServerConnection *DHCPServerConnection
	metricsServer        *http.Server
	running              bool
	runningLock          sync.Mutex
	serving              sync.WaitGroup
	errorChannel         chan error
}

// IsRunning determines whether the listeners are currently running.
func (listeners *ServiceListeners) IsRunning() bool {
	listeners.runningLock.Lock()
	defer listeners.runningLock.Unlock()

	return listeners.running
}

// NewServiceListeners creates a new ServiceListeners for the specified Service.
func NewServiceListeners(service *Service) *ServiceListeners {
	errorChannel := make(chan error, 5)

	return &ServiceListeners{
		Errors:       errorChannel,
		service:      service,
		errorChannel: errorChannel,
	}
}

// Initialize performs initialisation of the service listeners.
//
// If the service has no configured IP address, it uses the first IPv4 address bound to the interface.
func (listeners *ServiceListeners) Initialize() error {
	listeners.service.log.Infof("Initialising service listeners (bound to local network interface '%s')...",
		listeners.service.InterfaceName,
	)

	err := listeners.findListenerInterface()
	if err != nil {
		return err
	}

	err = listeners.findFirstListenerIPv4Address()
	if err != nil {
		if listeners.service.ServiceIP.IsValid() {
			listeners.service.log.Warnf("%s; continuing with configured service IP %s.", err, listeners.service.ServiceIP)

			return nil
		}

		return err
	}

	if !listeners.service.ServiceIP.IsValid() {
		listeners.service.ServiceIP = listeners.listenIPv4Address
	}

	return nil
}

// Start the service listeners.
//
// Sockets are opened before Start returns, so startup failures are reported directly.
func (listeners *ServiceListeners) Start(ctx context.Context) error {
	if listeners.listenInterface == nil {
		return fmt.Errorf("service listeners have not been initialised")
	}

	if listeners.IsRunning() {
		return fmt.Errorf("listeners are already running")
	}

	listeners.service.log.Infof("Starting service listeners (bound to local network interface '%s' / %s)...",
		listeners.service.InterfaceName,
		listeners.service.ServiceIP,
	)

	networkConnection, err := listenDHCP(ctx, listeners.service.InterfaceName)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on DHCP server port")
	}

	dhcpServerConnection, err := NewDHCPServerConnection(networkConnection, listeners.listenInterface.Index)
	if err != nil {
		networkConnection.Close()

		return errors.Wrap(err, "cannot enable interface filtering on DHCP server connection")
	}

	metricsListener, err := listeners.listenMetrics()
	if err != nil {
		dhcpServerConnection.Close()

		return err
	}

	listeners.runningLock.Lock()
	listeners.running = true
	listeners.dhcpServerConnection = dhcpServerConnection
	listeners.runningLock.Unlock()

	listeners.serving.Add(1)
	go listeners.serveDHCP(ctx, dhcpServerConnection)

	if metricsListener != nil {
		listeners.startMetrics(metricsListener)
	}

	return nil
}

// Stop the service listeners.
func (listeners *ServiceListeners) Stop() error {
	if listeners.listenInterface == nil {
		return fmt.Errorf("service listeners have not been initialised")
	}

	listeners.runningLock.Lock()
	if !listeners.running {
		listeners.runningLock.Unlock()

		return fmt.Errorf("listeners are not running")
	}
	listeners.running = false
	listeners.runningLock.Unlock()

	listeners.service.log.Infof("Stopping service listeners (bound to local network interface '%s' / %s)...",
		listeners.service.InterfaceName,
		listeners.service.ServiceIP,
	)

	var stopErr error
	if listeners.dhcpServerConnection != nil {
		stopErr = listeners.dhcpServerConnection.Close()
		listeners.dhcpServerConnection = nil
	}

	if listeners.metricsServer != nil {
		err := listeners.metricsServer.Close()
		if err != nil && stopErr == nil {
			stopErr = err
		}
	}

	listeners.serving.Wait()
	listeners.metricsServer = nil

	return stopErr
}

func (listeners *ServiceListeners) serveDHCP(ctx context.Context, connection *DHCPServerConnection) {
	defer listeners.serving.Done()

	err := listeners.service.Serve(ctx, connection)
	if listeners.IsRunning() {
		listeners.service.log.Debugf("DHCP server error: %#v", err)
		listeners.errorChannel <- errors.Wrap(err, "DHCP server stopped")

		return
	}

	listeners.service.log.Debugf("DHCP server shutdown.")
}

// Open the metrics listener, if one is configured.
func (listeners *ServiceListeners) listenMetrics() (net.Listener, error) {
	listenAddress := listeners.service.MetricsListenAddress
	if len(listenAddress) == 0 {
		return nil, nil
	}

	metricsListener, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot listen for metrics requests on %s", listenAddress)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(listeners.service.metricsRegistry, promhttp.HandlerOpts{}))
	listeners.metricsServer = &http.Server{
		Handler: mux,
	}

	return metricsListener, nil
}

// The server is handed to the goroutine so Stop can clear the field without racing it.
func (listeners *ServiceListeners) startMetrics(metricsListener net.Listener) {
	listeners.serving.Add(1)
	go listeners.serveMetrics(listeners.metricsServer, metricsListener)
}

func (listeners *ServiceListeners) serveMetrics(metricsServer *http.Server, metricsListener net.Listener) {
	defer listeners.serving.Done()

	listeners.service.log.Infof("Serving metrics on http://%s/metrics.", metricsListener.Addr())

	err := metricsServer.Serve(metricsListener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) && listeners.IsRunning() {
		listeners.errorChannel <- errors.Wrap(err, "metrics server stopped")
	}

	listeners.service.log.Debugf("Metrics server shutdown.")
}

func (listeners *ServiceListeners) findListenerInterface() error {
	listenInterface, err := net.InterfaceByName(listeners.service.InterfaceName)
	if err != nil {
		return fmt.Errorf("cannot find local network interface named '%s': %s",
			listeners.service.InterfaceName,
			err.Error(),
		)
	}
	listeners.listenInterface = listenInterface

	return nil
}

func (listeners *ServiceListeners) findFirstListenerIPv4Address() error {
	if listeners.listenInterface == nil {
		return fmt.Errorf("local network interface for service listeners has not been initialised")
	}

	addresses, err := listeners.listenInterface.Addrs()
	if err != nil {
		return err
	}

	for _, address := range addresses {
		interfaceAddress, ok := address.(*net.IPNet)
		if !ok {
			continue
		}

		addressIP, ok := netip.AddrFromSlice(interfaceAddress.IP.To4())
		if ok && addressIP.Is4() {
			listeners.listenIPv4Address = addressIP

			return nil
		}
	}

	return fmt.Errorf("cannot find an IPv4 address bound to local network interface '%s'", listeners.service.InterfaceName)
}
