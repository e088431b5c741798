package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ProductVersion is the server version, overridden at build time with -ldflags "-X main.ProductVersion=...".
var ProductVersion = "dev"

func main() {
	err := newRootCommand(viper.New()).Execute()
	if err != nil {
		os.Exit(1)
	}
}

// Create the dhcpd command.
//
// Flags take precedence over environment variables, which take precedence over the configuration file.
func newRootCommand(config *viper.Viper) *cobra.Command {
	var configFile string
	command := &cobra.Command{
		Use:   "dhcpd [INTERFACE]",
		Short: "Static-lease DHCP server",
		Long: "dhcpd answers DHCP requests on a single network interface, " +
			"handing each client the address recorded for its MAC address in a lease table.",
		Args:         cobra.MaximumNArgs(1),
		Version:      ProductVersion,
		SilenceUsage: true,
		RunE: func(command *cobra.Command, args []string) error {
			applyArguments(config, args, configFile)

			ctx, stop := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, config)
		},
	}

	flags := command.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "configuration file (default dhcpd.yml in . or /etc)")
	flags.StringP("interface", "i", "", "network interface to serve")
	flags.String("service-ip", "", "server identity (default first IPv4 address of the interface)")
	flags.BoolP("debug", "d", false, "enable debug logging")
	flags.String("lease-driver", "", "lease store driver: sqlite, bolt or static (default sqlite)")
	flags.String("lease-db", "", "lease database path (default <INTERFACE>.db)")
	flags.String("metrics-listen", "", "address for the Prometheus metrics endpoint (disabled if empty)")

	bindFlag(config, "network.interface", flags.Lookup("interface"))
	bindFlag(config, "network.service_ip", flags.Lookup("service-ip"))
	bindFlag(config, "debug", flags.Lookup("debug"))
	bindFlag(config, "leases.driver", flags.Lookup("lease-driver"))
	bindFlag(config, "leases.path", flags.Lookup("lease-db"))
	bindFlag(config, "metrics.listen", flags.Lookup("metrics-listen"))

	return command
}

// Apply the positional interface name and any explicit configuration file.
func applyArguments(config *viper.Viper, args []string, configFile string) {
	if len(args) == 1 {
		config.Set("network.interface", args[0])
	}
	if len(configFile) != 0 {
		config.SetConfigFile(configFile)
	}
}

func bindFlag(config *viper.Viper, key string, flag *pflag.Flag) {
	err := config.BindPFlag(key, flag)
	if err != nil {
		panic(err) // Only fails for a nil flag.
	}
}

// Run the server until the context is cancelled or a listener fails.
func run(ctx context.Context, config *viper.Viper) error {
	service := NewService()
	err := service.Initialize(config)
	if err != nil {
		return errors.Wrap(err, "cannot initialise DHCP server")
	}

	service.log.Infof("DHCP server %s is starting on interface '%s' (server identity %s)...",
		ProductVersion,
		service.InterfaceName,
		service.ServiceIP,
	)

	err = service.Start(ctx)
	if err != nil {
		service.leaseStore.Close()

		return err
	}

	service.log.Info("DHCP server is running.")

	select {
	case <-ctx.Done():
		service.log.Info("DHCP server is stopping...")

		return service.Stop()

	case err = <-service.Errors():
		return stopAfterListenerError(service, err)
	}
}

// The listener error is what run reports; a failure to stop is only logged.
func stopAfterListenerError(service *Service, listenerErr error) error {
	service.log.Errorf("Listener error: %s", listenerErr)

	err := service.Stop()
	if err != nil {
		service.log.Errorf("Error stopping DHCP server: %s", err)
	}

	return listenerErr
}
