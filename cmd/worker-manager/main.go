/*
Portions Copyright (c) Microsoft Corporation.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskpool/worker-manager/pkg/auth"
	"github.com/taskpool/worker-manager/pkg/estimator"
	"github.com/taskpool/worker-manager/pkg/gateway"
	"github.com/taskpool/worker-manager/pkg/logging"
	"github.com/taskpool/worker-manager/pkg/manager"
	"github.com/taskpool/worker-manager/pkg/notify"
	"github.com/taskpool/worker-manager/pkg/providers"
	"github.com/taskpool/worker-manager/pkg/providers/azure"
	"github.com/taskpool/worker-manager/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker-manager:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath        = flag.String("config", "", "path to the provider config JSON file")
		debug             = flag.Bool("debug", false, "enable debug logging")
		provisionInterval = flag.Duration("provision-interval", manager.DefaultProvisionInterval, "interval between provisioning passes")
		scanInterval      = flag.Duration("scan-interval", manager.DefaultScanInterval, "interval between scan passes")
		scanConcurrency   = flag.Int("scan-concurrency", 0, "max concurrent worker checks per scan pass (0 for default)")
		metricsAddr       = flag.String("metrics-addr", ":8080", "address for the prometheus metrics listener (empty to disable)")
	)
	flag.Parse()
	if *configPath == "" {
		return errors.New("--config is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logging.NewLogger(*debug)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	cfg, err := auth.BuildConfig(*configPath)
	if err != nil {
		return fmt.Errorf("building config: %w", err)
	}
	log.Info("loaded config", "config", cfg.String())

	cred, err := auth.NewCredential(cfg)
	if err != nil {
		return fmt.Errorf("building credential: %w", err)
	}
	client, err := azure.NewAZClient(cfg, cred, nil)
	if err != nil {
		return fmt.Errorf("building cloud clients: %w", err)
	}

	st := store.NewMemoryStore()
	provider := azure.New(
		cfg,
		client,
		gateway.New(cfg.GatewayOptions()),
		st,
		notify.NewLogNotifier(log),
		estimator.NewSimple(log),
		log,
	)
	if err := provider.Setup(ctx); err != nil {
		return fmt.Errorf("provider setup: %w", err)
	}

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "metrics listener failed")
			}
		}()
	}

	mgr := manager.New(st, providers.NewRegistry(provider), manager.Options{
		ProvisionInterval: *provisionInterval,
		ScanInterval:      *scanInterval,
		ScanConcurrency:   *scanConcurrency,
	}, log)
	log.Info("starting worker-manager", "provisionInterval", *provisionInterval, "scanInterval", *scanInterval)
	return mgr.Run(ctx)
}
