// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

// Command udpchat is a terminal client of udprelay. Every line read from the standard
// input is sent as "<name>: <line>", every chat line relayed by the server is printed.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/marko-gacesa/udprelay/client"
)

type options struct {
	server     string
	discover   string
	name       string
	keepAlive  time.Duration
	timestamps bool
}

const timestampLayout = "2006-01-02 15:04:05"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func command() *cli.Command {
	return &cli.Command{
		Name:  "udpchat",
		Usage: "chat through a udprelay server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "127.0.0.1:5000",
				Usage:   "relay address (host:port)",
				Sources: cli.EnvVars("UDPCHAT_SERVER"),
			},
			&cli.StringFlag{
				Name:    "discover",
				Usage:   "multicast group (host:port) on which to look for a relay instead of using --server",
				Sources: cli.EnvVars("UDPCHAT_DISCOVER"),
			},
			&cli.StringFlag{
				Name:     "name",
				Usage:    "name shown in front of your messages",
				Required: true,
				Sources:  cli.EnvVars("UDPCHAT_NAME"),
			},
			&cli.DurationFlag{
				Name:  "keep-alive",
				Usage: "period of client initiated heartbeats; zero only answers the relay's heartbeats",
			},
			&cli.BoolFlag{
				Name:    "timestamps",
				Usage:   "prefix every received line with the local time of arrival",
				Sources: cli.EnvVars("UDPCHAT_TIMESTAMPS"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			level := slog.LevelWarn
			if cmd.Bool("debug") {
				level = slog.LevelDebug
			}

			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			return run(ctx, options{
				server:     cmd.String("server"),
				discover:   cmd.String("discover"),
				name:       cmd.String("name"),
				keepAlive:  cmd.Duration("keep-alive"),
				timestamps: cmd.Bool("timestamps"),
			}, os.Stdin, os.Stdout, log)
		},
	}
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer, log *slog.Logger) error {
	serverAddr, err := resolveServer(ctx, opts)
	if err != nil {
		return err
	}

	var mxOut sync.Mutex
	printLine := func(line string) {
		if opts.timestamps {
			line = stampLine(time.Now(), line)
		}

		mxOut.Lock()
		defer mxOut.Unlock()
		fmt.Fprintln(out, line)
	}

	c, err := client.Dial(serverAddr, printLine,
		client.WithLogger(log),
		client.WithKeepAlive(opts.keepAlive))
	if err != nil {
		return err
	}

	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	// announce ourselves, so that the relay starts sending to us right away
	if err := c.Heartbeat(); err != nil {
		return err
	}

	// not part of the wait: a blocked read of the input cannot be interrupted
	go func() {
		defer cancelFn()

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			if err := c.Send(client.FormatChat(opts.name, line)); err != nil {
				log.With("err", err.Error()).Warn("failed to send message")
			}
		}
	}()

	err = c.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// stampLine prefixes the line in the "<date> <time> - <line>" form of the chat log.
func stampLine(t time.Time, line string) string {
	return t.Format(timestampLayout) + " - " + line
}

func resolveServer(ctx context.Context, opts options) (net.UDPAddr, error) {
	if opts.discover != "" {
		group, err := net.ResolveUDPAddr("udp", opts.discover)
		if err != nil {
			return net.UDPAddr{}, fmt.Errorf("invalid multicast group: %w", err)
		}

		ctx, cancelFn := context.WithTimeout(ctx, 10*time.Second)
		defer cancelFn()

		return client.Discover(ctx, *group)
	}

	addr, err := net.ResolveUDPAddr("udp", opts.server)
	if err != nil {
		return net.UDPAddr{}, fmt.Errorf("invalid server address: %w", err)
	}

	return *addr, nil
}
