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

// Package azure implements the worker-manager provider for Azure: per-worker
// resource pipelines (IP, NIC, VM, disks), the scanner that drives them, and
// attested-data registration.
package azure

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/taskpool/worker-manager/pkg/api"
	"github.com/taskpool/worker-manager/pkg/auth"
	"github.com/taskpool/worker-manager/pkg/estimator"
	"github.com/taskpool/worker-manager/pkg/gateway"
	"github.com/taskpool/worker-manager/pkg/logging"
	"github.com/taskpool/worker-manager/pkg/notify"
	"github.com/taskpool/worker-manager/pkg/providers"
	"github.com/taskpool/worker-manager/pkg/store"
)

const DefaultProviderID = "azure"

type Provider struct {
	providerID string
	cfg        *auth.Config
	client     *AZClient
	gateway    *gateway.Gateway
	store      store.Store
	notifier   notify.Notifier
	estimator  estimator.Estimator
	log        logr.Logger

	caPool *x509.CertPool

	// now is swappable for tests.
	now func() time.Time

	// Per-scan-pass accumulators. Written from one goroutine per worker,
	// keyed by pool; the mutex keeps per-key aggregation atomic.
	mu        sync.Mutex
	seen      map[string]int
	scanError map[string][]notify.PoolError
}

var _ providers.Provider = (*Provider)(nil)

// Option customizes a Provider; used by tests to pin the clock.
type Option func(*Provider)

// WithClock replaces the provider's time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithProviderID overrides the provider ID registered with the manager.
func WithProviderID(id string) Option {
	return func(p *Provider) { p.providerID = id }
}

func New(
	cfg *auth.Config,
	client *AZClient,
	gw *gateway.Gateway,
	st store.Store,
	notifier notify.Notifier,
	est estimator.Estimator,
	log logr.Logger,
	opts ...Option,
) *Provider {
	p := &Provider{
		providerID: DefaultProviderID,
		cfg:        cfg,
		client:     client,
		gateway:    gw,
		store:      st,
		notifier:   notifier,
		estimator:  est,
		log:        log.WithName("azure"),
		now:        time.Now,
		seen:       map[string]int{},
		scanError:  map[string][]notify.PoolError{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ID() string { return p.providerID }

// Setup loads the pinned Microsoft intermediate CA certificates. A missing or
// empty CA directory is a fatal configuration error.
func (p *Provider) Setup(_ context.Context) error {
	entries, err := os.ReadDir(p.cfg.CACertDir)
	if err != nil {
		return fmt.Errorf("reading CA cert dir %s: %w", p.cfg.CACertDir, err)
	}
	pool := x509.NewCertPool()
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		pem, err := os.ReadFile(filepath.Join(p.cfg.CACertDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading CA cert %s: %w", entry.Name(), err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("no certificates found in %s", entry.Name())
		}
		loaded++
	}
	if loaded == 0 {
		return fmt.Errorf("no CA certificates in %s", p.cfg.CACertDir)
	}
	p.caPool = pool
	p.log.Info("loaded registration CA certificates", "count", loaded, "dir", p.cfg.CACertDir)
	return nil
}

// ScanPrepare resets the per-pass seen and error accumulators.
func (p *Provider) ScanPrepare(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = map[string]int{}
	p.scanError = map[string][]notify.PoolError{}
	return nil
}

// ScanCleanup reports the pass's accumulated errors to each still-extant
// pool and logs the seen capacity totals.
func (p *Provider) ScanCleanup(ctx context.Context) error {
	p.mu.Lock()
	seen := p.seen
	scanError := p.scanError
	p.seen = map[string]int{}
	p.scanError = map[string][]notify.PoolError{}
	p.mu.Unlock()

	for poolID, capacity := range seen {
		p.log.Info(logging.EventScanSeen, logging.WorkerPoolID, poolID, "seenCapacity", capacity)
	}
	for poolID, errs := range scanError {
		if _, err := p.store.GetWorkerPool(ctx, poolID); err != nil {
			continue
		}
		for _, pe := range errs {
			pe.WorkerPoolID = poolID
			if err := p.notifier.ReportError(ctx, pe); err != nil {
				p.log.Error(err, "reporting scan error", logging.WorkerPoolID, poolID)
			}
		}
	}
	return nil
}

// seenCapacity credits a healthy worker's capacity to its pool for this pass.
func (p *Provider) seenCapacity(poolID string, capacity int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[poolID] += capacity
}

// appendScanError queues a deletion error for ScanCleanup to surface.
func (p *Provider) appendScanError(poolID string, pe notify.PoolError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scanError[poolID] = append(p.scanError[poolID], pe)
}

// reportPoolError surfaces a creation or operation error immediately.
func (p *Provider) reportPoolError(ctx context.Context, poolID string, pe notify.PoolError) {
	pe.WorkerPoolID = poolID
	if err := p.notifier.ReportError(ctx, pe); err != nil {
		p.log.Error(err, "reporting pool error", logging.WorkerPoolID, poolID)
	}
}

// Deprovision is a no-op: workers terminate themselves and the scanner reaps
// them once their VMs disappear.
func (p *Provider) Deprovision(_ context.Context, pool *api.WorkerPool) error {
	p.log.V(1).Info("deprovisioning pool", logging.WorkerPoolID, pool.WorkerPoolID)
	return nil
}
