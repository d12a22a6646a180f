// Copyright 2020 Acnodal Inc.
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

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"ikepool.io/internal/config"
	"ikepool.io/internal/exchange"
	"ikepool.io/internal/id"
	"ikepool.io/internal/logging"
	"ikepool.io/internal/registry"
	v1 "ikepool.io/pkg/apis/v1"
)

func main() {
	logger := logging.Init()

	port := flag.Int("port", 7472, "HTTP listening port for Prometheus metrics")
	configFile := flag.String("config", "", "path to a YAML pool configuration file")
	flag.Parse()

	reg := registry.New(logger)

	if *configFile != "" {
		doc, err := os.ReadFile(*configFile)
		if err != nil {
			logger.Log("event", "config-error", "err", err)
			os.Exit(1)
		}
		if err := config.LoadYAML(logger, reg, doc); err != nil {
			logger.Log("event", "config-error", "err", err)
			os.Exit(1)
		}
	} else {
		specs := []v1.PoolSpec{
			{Name: "roadwarriors", Range: "10.0.0.1-10.0.0.4"},
		}
		if err := config.Load(logger, reg, specs); err != nil {
			logger.Log("event", "config-error", "err", err)
			os.Exit(1)
		}
	}

	metricsServer := &http.Server{Addr: ":" + strconv.Itoa(*port), Handler: promhttp.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Log("event", "metrics-listen", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return runDemo(gCtx, logger, reg)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Log("event", "exit", "err", err)
		os.Exit(1)
	}
}

// runDemo exercises the parse -> registry.Install -> pool.Acquire ->
// pool.Release path end to end for a handful of peer identities, the
// way a real IKE state machine would call this module once per
// Configuration Payload request.
func runDemo(ctx context.Context, logger log.Logger, reg *registry.Registry) error {
	p, err := exchange.ResolvePool(reg, "roadwarriors", "10.0.0.1-10.0.0.4")
	if err != nil {
		return err
	}
	defer reg.Unreference(p)

	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		peerID, err := id.Parse([]byte("@"+name), false)
		if err != nil {
			return err
		}
		sess := &exchange.Session{Pool: p, PeerID: peerID}

		addr, err := exchange.AcquireLease(logger, sess, true)
		if err != nil {
			logger.Log("event", "demo-acquire-failed", "peer", name, "err", err)
			continue
		}
		logger.Log("event", "demo-acquired", "peer", name, "addr", addr.String())
		exchange.ReleaseLease(logger, sess)
	}
	return nil
}
