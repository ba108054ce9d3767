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

// Package manager runs the two periodic loops of the control plane: the
// provisioning loop, which sizes pools and creates worker records, and the
// scanning loop, which reconciles every worker record against the cloud.
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/taskpool/worker-manager/pkg/api"
	"github.com/taskpool/worker-manager/pkg/estimator"
	"github.com/taskpool/worker-manager/pkg/logging"
	"github.com/taskpool/worker-manager/pkg/metrics"
	"github.com/taskpool/worker-manager/pkg/providers"
	"github.com/taskpool/worker-manager/pkg/store"
)

const (
	DefaultProvisionInterval = 60 * time.Second
	DefaultScanInterval      = 60 * time.Second

	// defaultScanConcurrency bounds the CheckWorker fan-out within one pass.
	defaultScanConcurrency = 10
)

type Options struct {
	ProvisionInterval time.Duration
	ScanInterval      time.Duration
	ScanConcurrency   int
}

func (o Options) withDefaults() Options {
	if o.ProvisionInterval <= 0 {
		o.ProvisionInterval = DefaultProvisionInterval
	}
	if o.ScanInterval <= 0 {
		o.ScanInterval = DefaultScanInterval
	}
	if o.ScanConcurrency <= 0 {
		o.ScanConcurrency = defaultScanConcurrency
	}
	return o
}

type Manager struct {
	store    store.Store
	registry providers.Registry
	opts     Options
	log      logr.Logger
}

func New(st store.Store, registry providers.Registry, opts Options, log logr.Logger) *Manager {
	return &Manager{
		store:    st,
		registry: registry,
		opts:     opts.withDefaults(),
		log:      log.WithName("manager"),
	}
}

// Run drives both loops until ctx is canceled. Each loop runs a pass
// immediately, then on its ticker. A pass error is logged, not fatal: the
// next tick retries.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.loop(ctx, "provision", m.opts.ProvisionInterval, m.ProvisionPass) })
	g.Go(func() error { return m.loop(ctx, "scan", m.opts.ScanInterval, m.ScanPass) })
	return g.Wait()
}

func (m *Manager) loop(ctx context.Context, name string, interval time.Duration, pass func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := pass(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.log.Error(err, "pass failed", "loop", name)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProvisionPass sizes every pool once. Pools owned by the null provider are
// deprovisioned instead: their previous provider cleans up pool-level state
// and the scanner reaps the remaining workers.
func (m *Manager) ProvisionPass(ctx context.Context) error {
	pools, err := m.store.ListWorkerPools(ctx)
	if err != nil {
		return fmt.Errorf("listing worker pools: %w", err)
	}
	for _, pool := range pools {
		if err := ctx.Err(); err != nil {
			return err
		}
		if pool.ProviderID == api.NullProviderID {
			m.deprovisionPool(ctx, pool)
			continue
		}
		provider := m.registry.Get(pool.ProviderID)
		if provider == nil {
			m.log.Info("pool references unknown provider, skipping",
				logging.WorkerPoolID, pool.WorkerPoolID,
				logging.ProviderID, pool.ProviderID,
			)
			continue
		}
		info, err := m.workerInfo(ctx, pool)
		if err != nil {
			m.log.Error(err, "computing worker info", logging.WorkerPoolID, pool.WorkerPoolID)
			continue
		}
		if err := provider.Provision(ctx, pool, info); err != nil {
			m.log.Error(err, "provisioning pool", logging.WorkerPoolID, pool.WorkerPoolID)
		}
	}
	return nil
}

// deprovisionPool runs Deprovision for every provider that ever owned the
// pool, then deletes the pool record once no workers remain.
func (m *Manager) deprovisionPool(ctx context.Context, pool *api.WorkerPool) {
	for _, prevID := range pool.PreviousProviderIDs {
		if provider := m.registry.Get(prevID); provider != nil {
			if err := provider.Deprovision(ctx, pool); err != nil {
				m.log.Error(err, "deprovisioning pool",
					logging.WorkerPoolID, pool.WorkerPoolID,
					logging.ProviderID, prevID,
				)
				return
			}
		}
	}
	workers, err := m.store.ListWorkersByPool(ctx, pool.WorkerPoolID)
	if err != nil {
		m.log.Error(err, "listing workers for deletion check", logging.WorkerPoolID, pool.WorkerPoolID)
		return
	}
	for _, w := range workers {
		if w.State != api.WorkerStateStopped {
			return
		}
	}
	if err := m.store.DeleteWorkerPool(ctx, pool.WorkerPoolID); err != nil && err != store.ErrNotFound {
		m.log.Error(err, "deleting drained pool", logging.WorkerPoolID, pool.WorkerPoolID)
		return
	}
	m.log.Info("deleted drained pool", logging.WorkerPoolID, pool.WorkerPoolID)
}

// workerInfo counts the pool's live capacity. Demand defaults to minCapacity;
// a fuller deployment would feed queue backlog in here.
func (m *Manager) workerInfo(ctx context.Context, pool *api.WorkerPool) (estimator.WorkerInfo, error) {
	workers, err := m.store.ListWorkersByPool(ctx, pool.WorkerPoolID)
	if err != nil {
		return estimator.WorkerInfo{}, err
	}
	info := estimator.WorkerInfo{RequestedCapacity: pool.Config.MinCapacity}
	for _, w := range workers {
		switch w.State {
		case api.WorkerStateRequested, api.WorkerStateRunning:
			info.ExistingCapacity += w.Capacity
		}
	}
	return info, nil
}

// ScanPass reconciles every worker of every provider-owned pool, fanning out
// across workers with bounded concurrency.
func (m *Manager) ScanPass(ctx context.Context) error {
	pools, err := m.store.ListWorkerPools(ctx)
	if err != nil {
		return fmt.Errorf("listing worker pools: %w", err)
	}

	started := map[string]providers.Provider{}
	for id, provider := range m.registry {
		if err := provider.ScanPrepare(ctx); err != nil {
			m.log.Error(err, "preparing scan", logging.ProviderID, id)
			continue
		}
		started[id] = provider
	}

	for _, pool := range pools {
		if err := ctx.Err(); err != nil {
			break
		}
		m.scanPool(ctx, pool, started)
	}

	for id, provider := range started {
		if err := provider.ScanCleanup(ctx); err != nil {
			m.log.Error(err, "cleaning up scan", logging.ProviderID, id)
		}
	}
	return ctx.Err()
}

func (m *Manager) scanPool(ctx context.Context, pool *api.WorkerPool, started map[string]providers.Provider) {
	workers, err := m.store.ListWorkersByPool(ctx, pool.WorkerPoolID)
	if err != nil {
		m.log.Error(err, "listing workers", logging.WorkerPoolID, pool.WorkerPoolID)
		return
	}

	timer := prometheus.NewTimer(metrics.ScanDuration.WithLabelValues(pool.ProviderID))
	defer timer.ObserveDuration()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.ScanConcurrency)
	for _, worker := range workers {
		// A worker stays with the provider that created it even after the
		// pool moves on.
		provider, ok := started[worker.ProviderID]
		if !ok {
			continue
		}
		worker := worker
		g.Go(func() error {
			if err := provider.CheckWorker(ctx, pool, worker); err != nil {
				m.log.Error(err, "checking worker",
					logging.WorkerPoolID, pool.WorkerPoolID,
					logging.WorkerID, worker.WorkerID,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
