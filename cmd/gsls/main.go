// Command gsls runs a registry node: an overlay peer plus the REST front end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/SharefulNetworks/shareful-gsls/api/httpserver"
	"github.com/SharefulNetworks/shareful-gsls/config"
	"github.com/SharefulNetworks/shareful-gsls/dht"
	"github.com/SharefulNetworks/shareful-gsls/events"
	"github.com/SharefulNetworks/shareful-gsls/maintenance"
	"github.com/SharefulNetworks/shareful-gsls/registry"
	"github.com/SharefulNetworks/shareful-gsls/storage"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "gsls:", err)
		os.Exit(1)
	}
}

func run(args []string) error {

	//resolve configuration: defaults, then the config file, then flags.
	cfg, err := parseFlags(args)
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info(fmt.Sprintf("%s %s", config.ProductName, config.Version), "build", config.Build, "protocol", config.ProtocolVersion)
	logger.Info("configuration",
		"connect_node", cfg.ConnectNode,
		"port_rest", cfg.RESTPort,
		"port_dht", cfg.DHTPort,
		"network_interface", cfg.ListenHost,
		"log_path", cfg.LogPath,
		"data_dir", cfg.DataDir,
	)

	host, err := resolveHost(cfg.ListenHost)
	if err != nil {
		return err
	}

	//replica storage; an empty data dir keeps everything in memory.
	store, err := storage.OpenBadger(storage.BadgerOptions{Dir: cfg.DataDir, Logger: logger})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	verifier, err := registry.NewVerifier(cfg.VerificationCacheSize)
	if err != nil {
		return err
	}

	logger.Info("initializing DHT")
	node, err := dht.NewNode(dht.NodeOptions{
		Config:     cfg,
		ListenAddr: net.JoinHostPort(host, strconv.Itoa(cfg.DHTPort)),
		Store:      store,
		Validator:  verifier,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer node.Close()
	node.AddListener(events.LogListener{Logger: logger.With("component", "overlay-events")})

	//a failed first bootstrap leaves the node serving local data until the
	//reconnect scheduler gets through.
	if cfg.ConnectNode != "" {
		if err := node.Bootstrap(cfg.ConnectNode); err != nil {
			logger.Warn("initial bootstrap failed, running in degraded mode", "entry", cfg.ConnectNode, "err", err)
		}
	} else {
		logger.Info("no connect node configured, waiting for peers")
	}

	service, err := registry.New(registry.Options{Overlay: node, Verifier: verifier, Logger: logger})
	if err != nil {
		return err
	}

	srv := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               net.JoinHostPort(host, strconv.Itoa(cfg.RESTPort)),
		Log:                      logger,
		GracefulShutdownDuration: cfg.ShutdownTimeout,
	}, httpserver.NewRecordHandler(service, 2*cfg.OperationTimeout, logger))

	if cfg.ConnectNode != "" {
		scheduler := maintenance.NewScheduler(maintenance.SchedulerOptions{
			Node:         node,
			EntryAddr:    cfg.ConnectNode,
			InitialDelay: cfg.ReconnectInitialDelay,
			Interval:     cfg.ReconnectInterval,
			Logger:       logger,
		})
		scheduler.Start()
		defer scheduler.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.SetReady(true)
		return srv.ListenAndServe()
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return srv.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
