// Command resdhcpd is a DHCPv4 and DHCPv6 server that only answers
// relayed or unicast requests against a reservation list: no dynamic
// pool allocation, no lease persistence across restarts.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shadowisp/resdhcp/internal/buildinfo"
	"github.com/shadowisp/resdhcp/internal/config"
	"github.com/shadowisp/resdhcp/internal/eviction"
	"github.com/shadowisp/resdhcp/internal/events"
	"github.com/shadowisp/resdhcp/internal/leasecache"
	"github.com/shadowisp/resdhcp/internal/logging"
	"github.com/shadowisp/resdhcp/internal/mgmt"
	"github.com/shadowisp/resdhcp/internal/option82"
	"github.com/shadowisp/resdhcp/internal/reload"
	"github.com/shadowisp/resdhcp/internal/worker"
)

const (
	evictionInterval = time.Hour
	opt82MaxAge      = 24 * time.Hour
	eventsQueueDepth = 1024
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("resdhcpd", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() { fmt.Fprint(os.Stderr, helpText) }

	configDir := fs.String("configdir", ".", "Sets the directory to read config files from")
	help := fs.Bool("help", false, "Prints this help information")
	fs.BoolVar(help, "h", false, "Prints this help information")
	helpConfig := fs.Bool("help-config", false, "Configuration file help")
	helpReservations := fs.Bool("help-reservations", false, "Reservations file help")
	availableExtractors := fs.Bool("available-extractors", false, "Print the list of available Option82 extractors")
	version := fs.Bool("version", false, "Print the build version")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	switch {
	case *help:
		fmt.Print(helpText)
		return 0
	case *helpConfig:
		fmt.Print(helpConfigText)
		return 0
	case *helpReservations:
		fmt.Print(helpReservationsText)
		return 0
	case *availableExtractors:
		printAvailableExtractors()
		return 0
	case *version:
		fmt.Println(buildinfo.String())
		return 0
	}

	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected arguments: %v\nRun `resdhcpd --help` for usage\n", fs.Args())
		return 1
	}

	if err := serve(*configDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func printAvailableExtractors() {
	names := make([]string, 0, len(option82.Registry))
	for name := range option82.Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println(strings.Join(names, ", "))
}

// serve loads every on-disk input, wires the core components together,
// and blocks until a worker fails or the process receives SIGINT/SIGTERM.
func serve(configDir string) error {
	configBytes, err := os.ReadFile(filepath.Join(configDir, "config.json"))
	if err != nil {
		return fmt.Errorf("unable to load config.json: %w\ncheck the file exists, or set --configdir to the folder containing config.json and ids.json", err)
	}
	cfg, err := config.LoadConfig(configBytes)
	if err != nil {
		return fmt.Errorf("unable to load config.json: %w", err)
	}

	idsBytes, err := os.ReadFile(filepath.Join(configDir, "ids.json"))
	if err != nil {
		return fmt.Errorf("unable to load ids.json: %w\ncheck the file exists, or set --configdir to the folder containing config.json and ids.json", err)
	}
	v4ServerID, v6ServerID, err := config.LoadIds(idsBytes)
	if err != nil {
		return fmt.Errorf("unable to load ids.json: %w", err)
	}
	cfg.V4ServerID = v4ServerID
	cfg.V6ServerID = v6ServerID

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("unable to build logger: %w", err)
	}
	defer log.Sync()

	reservationsPath := filepath.Join(configDir, "reservations.json")
	coordinator, err := reload.NewCoordinator(reservationsPath, log.Named("reload"))
	if err != nil {
		return fmt.Errorf("unable to load %s: %w", reservationsPath, err)
	}

	cache := leasecache.New(log.Named("leasecache"))
	sink := events.NewSink(cfg.EventsAddress, eventsQueueDepth, log.Named("events"))
	defer sink.Close()

	sweep := eviction.NewTask(cache, coordinator.Index, evictionInterval, opt82MaxAge, log.Named("eviction"))
	sweep.Start()
	defer sweep.Stop()

	stop := make(chan struct{})
	defer close(stop)
	coordinator.WatchSignal(stop)
	if err := coordinator.WatchFile(stop); err != nil {
		log.Warn("disabling reservations file watch", zap.Error(err))
	}

	deps := worker.Deps{
		Config: cfg,
		Index:  coordinator.Index,
		Cache:  cache,
		Events: sink,
		Log:    log,
	}

	v4Addr, err := net.ResolveUDPAddr("udp4", cfg.V4BindAddress)
	if err != nil {
		return fmt.Errorf("v4_bind_address %q: %w", cfg.V4BindAddress, err)
	}
	v6Addr, err := net.ResolveUDPAddr("udp6", cfg.V6BindAddress)
	if err != nil {
		return fmt.Errorf("v6_bind_address %q: %w", cfg.V6BindAddress, err)
	}

	v4, err := worker.NewV4Worker("", v4Addr, deps)
	if err != nil {
		return err
	}
	defer v4.Close()

	v6, err := worker.NewV6Worker("", v6Addr, deps)
	if err != nil {
		return err
	}
	defer v6.Close()

	group := &errgroup.Group{}
	group.Go(v4.Serve)
	group.Go(v6.Serve)

	var mgmtLn net.Listener
	if cfg.MgmtAddress != "" {
		mgmtLn, err = net.Listen("tcp", cfg.MgmtAddress)
		if err != nil {
			return fmt.Errorf("mgmt_address %q: %w", cfg.MgmtAddress, err)
		}
		defer mgmtLn.Close()
		mgmtSrv := mgmt.NewServer(coordinator, log.Named("mgmt"))
		group.Go(func() error { return mgmtSrv.Serve(mgmtLn, stop) })
	}

	log.Info("resdhcpd started",
		zap.String("v4_bind_address", cfg.V4BindAddress),
		zap.String("v6_bind_address", cfg.V6BindAddress),
		zap.String("mgmt_address", cfg.MgmtAddress),
		zap.Int("reservations", coordinator.Index().Count()))

	go waitForShutdown(log, v4, v6, mgmtLn)

	return group.Wait()
}

type closer interface{ Close() error }

// waitForShutdown closes every listener on SIGINT/SIGTERM, which in
// turn unblocks the errgroup's Serve calls so serve's group.Wait
// returns.
func waitForShutdown(log *zap.Logger, v4, v6 closer, mgmtLn net.Listener) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	v4.Close()
	v6.Close()
	if mgmtLn != nil {
		mgmtLn.Close()
	}
}

const helpText = `resdhcpd

A DHCPv4 and DHCPv6 server that only responds to relayed or unicast requests.

USAGE:
  resdhcpd [OPTIONS]

FLAGS:
  -h, --help                    Prints this help information
      --help-config             Configuration file help
      --help-reservations       Reservations file help
      --available-extractors    Print list of available Option82 extractors
      --version                 Print the build version

OPTIONS:
  --configdir PATH              Sets the directory to read config files from
`

const helpConfigText = `Option82 extractors are run in order from the config file, put the most commonly used extractors first.

config.json:
{
    "dns_v4": [
        "8.8.8.8",
        "8.8.4.4"
    ],
    "subnets_v4": [
        {
            "net": "100.100.1.0/24",
            "gateway": "100.100.1.1"
        }
    ],
    "option82_extractors": [
        "remote_only",
        "subscriber_only",
        "circuit_and_remote",
        "remote_first_12"
    ],
    "option1837_extractors": [
        "remote_only"
    ],
    "mac_extractors": [
        "client_linklayer_address",
        "peer_addr_eui64",
        "duid"
    ],
    "v4_bind_address": ":67",
    "v6_bind_address": ":547",
    "events_address": "127.0.0.1:9001",
    "mgmt_address": "127.0.0.1:9002",
    "log_level": "info",
    "mtu": 1500,
    "static_routes": [
        "10.1.0.0/24,192.168.1.1"
    ],
    "search_domains": [
        "example.com"
    ],
    "ipv6_only_wait_seconds": 300
}

ids.json:
{
    "v4": "192.168.1.1",
    "v6": "ll 00:11:22:33:44:55"
}
`

const helpReservationsText = `Reservations must contain:
 * ipv4
 * ipv6_na
 * ipv6_pd
 * At least one source for IPv4 and IPv6. Some sources can be used for both
   * mac - can be used for both
   * option82 - can be used for both
   * duid - IPv6 only

Reservations with multiple sources will be evaluated in the following order:
IPv4: mac -> option82
IPv6: duid -> option1837 -> mac -> option82

reservations.json:
[
    {
        "ipv4": "192.168.1.109",
        "ipv6_na": "2001:db8:1:2::1",
        "ipv6_pd": "2001:db8:1:3::/56",
        "mac": "00:11:22:33:44:55"
    },
    {
        "ipv4": "192.168.1.111",
        "ipv6_na": "2001:db8:1:6::1",
        "ipv6_pd": "2001:db8:1:7::/56",
        "option82": {"circuit": "99-11-22-33-44-55", "remote": "eth2:100"}
    },
    {
        "ipv4": "192.168.1.112",
        "ipv6_na": "2001:db8:1:8::1",
        "ipv6_pd": "2001:db8:1:9::/56",
        "duid": "29:30:31:32:33:34:35:36:37:38:39:40:41:42:43:44",
        "option82": {"subscriber": "subscriber:1020"}
    }
]
`
