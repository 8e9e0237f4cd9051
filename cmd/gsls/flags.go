package main

import (
	"flag"
	"fmt"
	"io"
	"net"

	"github.com/SharefulNetworks/shareful-gsls/config"
)

// parseFlags builds the node configuration. A --config file overlays the defaults and
// explicitly set flags overlay the file.
func parseFlags(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("gsls", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	defaults := config.DefaultConfig()
	var (
		configPath string
		flagged    config.Config
	)

	fs.StringVar(&configPath, "config", "", "YAML configuration file")
	for _, name := range []string{"p", "port_rest"} {
		fs.IntVar(&flagged.RESTPort, name, defaults.RESTPort, "port of the REST interface")
	}
	for _, name := range []string{"d", "port_dht"} {
		fs.IntVar(&flagged.DHTPort, name, defaults.DHTPort, "port of the DHT")
	}
	for _, name := range []string{"n", "network_interface"} {
		fs.StringVar(&flagged.ListenHost, name, defaults.ListenHost, "interface name or address to bind (empty: all)")
	}
	for _, name := range []string{"l", "log_path"} {
		fs.StringVar(&flagged.LogPath, name, defaults.LogPath, "directory for log files")
	}
	for _, name := range []string{"c", "connect_node"} {
		fs.StringVar(&flagged.ConnectNode, name, defaults.ConnectNode, "host:port of the DHT node to bootstrap from")
	}
	fs.StringVar(&flagged.DataDir, "data_dir", defaults.DataDir, "directory for persistent replicas (empty: memory)")
	fs.StringVar(&flagged.LogLevel, "log_level", defaults.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&flagged.LogJSON, "log_json", defaults.LogJSON, "log as JSON")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			fs.SetOutput(nil)
			fs.PrintDefaults()
		}
		return config.Config{}, err
	}
	if fs.NArg() > 0 {
		return config.Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := defaults
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return config.Config{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "p", "port_rest":
			cfg.RESTPort = flagged.RESTPort
		case "d", "port_dht":
			cfg.DHTPort = flagged.DHTPort
		case "n", "network_interface":
			cfg.ListenHost = flagged.ListenHost
		case "l", "log_path":
			cfg.LogPath = flagged.LogPath
		case "c", "connect_node":
			cfg.ConnectNode = flagged.ConnectNode
		case "data_dir":
			cfg.DataDir = flagged.DataDir
		case "log_level":
			cfg.LogLevel = flagged.LogLevel
		case "log_json":
			cfg.LogJSON = flagged.LogJSON
		}
	})
	return cfg, cfg.Validate()
}

// resolveHost turns the network_interface option into a bind host. It accepts an
// address, a host name or the name of a local interface.
func resolveHost(iface string) (string, error) {
	if iface == "" || net.ParseIP(iface) != nil {
		return iface, nil
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		//not an interface name; let the listener resolve it.
		return iface, nil
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return "", fmt.Errorf("interface %s: %w", iface, err)
	}
	var fallback string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipnet.IP.To4() != nil {
			return ipnet.IP.String(), nil
		}
		if fallback == "" {
			fallback = ipnet.IP.String()
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("interface %s has no addresses", iface)
	}
	return fallback, nil
}
