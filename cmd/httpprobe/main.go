// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command httpprobe sends requests to a server through an httpconn
// client, for checking a deployment's configuration by hand.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/sigplane/httpconn"
	"github.com/sigplane/httpconn/config"
	"github.com/sigplane/httpconn/resolver"
	"github.com/sigplane/httpconn/trace"
	"github.com/urfave/cli"
)

func main() {
	ctl := newApp()
	if err := ctl.Run(os.Args); err != nil {
		fmt.Fprintln(ctl.ErrWriter, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	ctl := cli.NewApp()
	ctl.Name = "httpprobe"
	ctl.Usage = "send requests through a resilient HTTP client"
	ctl.ErrWriter = os.Stderr
	ctl.Commands = []cli.Command{
		{
			Name:   "send",
			Usage:  "send a request and print the status and body of the response",
			Action: send,
			Flags: append(commonFlags(),
				cli.StringFlag{Name: "method, X", Value: "GET", Usage: "request method"},
				cli.StringFlag{Name: "path, p", Value: "/", Usage: "absolute request path"},
				cli.StringFlag{Name: "body, d", Usage: "JSON request body"},
				cli.StringFlag{Name: "user, u", Usage: "identity to assert"},
				cli.IntFlag{Name: "count, n", Value: 1, Usage: "number of requests to send"},
			),
		},
		{
			Name:      "resolve",
			Usage:     "print the targets the server resolves to",
			ArgsUsage: "[host]",
			Action:    resolve,
			Flags:     commonFlags(),
		},
	}
	return ctl
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "YAML configuration file"},
		cli.StringFlag{Name: "server, s", Usage: "server to use instead of the configured one"},
		cli.BoolFlag{Name: "debug", Usage: "log at debug level"},
	}
}

func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := ctx.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}
	if server := ctx.String("server"); server != "" {
		cfg.Server = server
	}
	return cfg, cfg.Validate()
}

func send(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	logger, err := cfg.Logger(ctx.Bool("debug"))
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer func() { _ = logger.Sync() }()
	options, err := cfg.ClientOptions(logger)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	client, err := httpconn.NewClient(cfg.Server, options...)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer client.Close()
	worker := client.NewWorker()
	defer worker.Close()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	req := &httpconn.Request{
		Method: ctx.String("method"),
		Path:   ctx.String("path"),
		User:   ctx.String("user"),
	}
	if body := ctx.String("body"); body != "" {
		req.Body = []byte(body)
	}
	failed := 0
	for i := 0; i < max(1, ctx.Int("count")); i++ {
		req.Trail = trace.TrailID(i + 1)
		resp := worker.Send(signalCtx, req)
		fmt.Fprintf(ctx.App.Writer, "%d %s\n", resp.Status, resp.Body)
		if resp.Status >= 400 {
			failed++
		}
	}
	if failed > 0 {
		return cli.NewExitError(fmt.Sprintf("%d request(s) failed", failed), 1)
	}
	return nil
}

func resolve(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	host, port, err := httpconn.SplitServer(cfg.Server, cfg.Scheme)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if ctx.NArg() > 0 {
		host = ctx.Args().First()
	}
	policy, err := resolver.ParseAddressFamilyPolicy(cfg.AddressFamily)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	logger, err := cfg.Logger(ctx.Bool("debug"))
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer func() { _ = logger.Sync() }()
	res := resolver.NewDNSResolver(nil, policy, resolver.WithLogger(logger))
	targets, err := res.Resolve(context.Background(), host, port, cfg.MaxTargets, 0)
	if errors.Is(err, resolver.ErrNoTargets) {
		return cli.NewExitError(fmt.Sprintf("%s resolves to no usable address", host), 1)
	}
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	for _, target := range targets {
		fmt.Fprintln(ctx.App.Writer, target)
	}
	return nil
}
