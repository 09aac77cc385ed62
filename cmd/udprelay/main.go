// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

// Command udprelay runs the broadcast relay: every chat datagram a client sends is
// relayed to all connected clients, and clients that stop answering heartbeats are dropped.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/marko-gacesa/udprelay/relay"
	"github.com/marko-gacesa/udprelay/udp"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env file: %s\n", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func command() *cli.Command {
	defaults := relay.DefaultConfig()

	return &cli.Command{
		Name:  "udprelay",
		Usage: "relay chat datagrams to every connected client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Value:   defaults.Host,
				Usage:   "address to bind",
				Sources: cli.EnvVars("UDPRELAY_HOST"),
			},
			&cli.IntFlag{
				Name:    "port",
				Value:   defaults.Port,
				Usage:   "UDP port to bind",
				Sources: cli.EnvVars("UDPRELAY_PORT"),
			},
			&cli.DurationFlag{
				Name:    "heartbeat-interval",
				Value:   defaults.HeartbeatInterval,
				Usage:   "period of the heartbeat sweep",
				Sources: cli.EnvVars("UDPRELAY_HEARTBEAT_INTERVAL"),
			},
			&cli.FloatFlag{
				Name:    "stale-factor",
				Value:   defaults.StaleFactor,
				Usage:   "silence, in heartbeat intervals, after which a client is evicted",
				Sources: cli.EnvVars("UDPRELAY_STALE_FACTOR"),
			},
			&cli.StringFlag{
				Name:    "beacon-group",
				Usage:   "multicast group (host:port) to announce the relay to; empty disables the beacon",
				Sources: cli.EnvVars("UDPRELAY_BEACON_GROUP"),
			},
			&cli.DurationFlag{
				Name:    "beacon-period",
				Value:   defaults.BeaconPeriod,
				Usage:   "period of the beacon announcements",
				Sources: cli.EnvVars("UDPRELAY_BEACON_PERIOD"),
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "address of the prometheus /metrics endpoint; empty disables it",
				Sources: cli.EnvVars("UDPRELAY_METRICS_ADDR"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				Sources: cli.EnvVars("UDPRELAY_DEBUG"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := relay.Config{
				Host:              cmd.String("host"),
				Port:              cmd.Int("port"),
				HeartbeatInterval: cmd.Duration("heartbeat-interval"),
				StaleFactor:       cmd.Float("stale-factor"),
				BeaconGroup:       cmd.String("beacon-group"),
				BeaconPeriod:      cmd.Duration("beacon-period"),
			}

			level := slog.LevelInfo
			if cmd.Bool("debug") {
				level = slog.LevelDebug
			}

			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			return run(ctx, cfg, cmd.String("metrics-addr"), log)
		},
	}
}

func run(ctx context.Context, cfg relay.Config, metricsAddr string, log *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	bindAddr, err := cfg.BindAddr()
	if err != nil {
		return err
	}

	udpServer := udp.NewServer()
	udpServer.SetHandleError(func(err error) {
		log.Warn(err.Error())
	})

	if err := udpServer.Bind(bindAddr); err != nil {
		log.With("addr", bindAddr.String(), "err", err.Error()).Error("failed to start relay")
		return err
	}
	defer udpServer.Close()

	localAddr := udpServer.LocalAddr()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []func(*relay.Server){
		relay.WithLogger(log),
		relay.WithConfig(cfg),
		relay.WithMetrics(relay.NewMetrics(registry)),
	}

	if cfg.BeaconGroup != "" {
		group, err := cfg.BeaconAddr()
		if err != nil {
			return err
		}

		sender, err := udp.NewSender(group)
		if err != nil {
			return err
		}
		defer sender.Close()

		opts = append(opts, relay.WithBeacon(sender, localAddr.Port, cfg.BeaconPeriod))
		log.With("group", group.String()).Info("relay beacon enabled")
	}

	srv := relay.NewServer(udpServer, opts...)

	log.With("addr", localAddr.String()).Info("relay listening")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.Start(ctx)
		if ctx.Err() != nil {
			// shutdown was requested
			return nil
		}
		return err
	})

	if metricsAddr != "" {
		httpServer := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			log.With("addr", metricsAddr).Info("metrics listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelFn()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}
