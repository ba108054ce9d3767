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

// Package providers defines the capability interface every cloud backend
// implements. The manager only ever talks to providers through it.
package providers

import (
	"context"
	"time"

	"github.com/taskpool/worker-manager/pkg/api"
	"github.com/taskpool/worker-manager/pkg/estimator"
)

// RegistrationResult is returned to a worker that proved its identity.
type RegistrationResult struct {
	Expires      time.Time
	WorkerConfig map[string]interface{}
}

// Provider is one cloud backend. Implementations must be safe for concurrent
// use: the manager fans CheckWorker out across workers within a scan pass.
type Provider interface {
	// ID is the provider's stable identifier, referenced by pool records.
	ID() string

	// Setup performs one-time initialization; failures are fatal at startup.
	Setup(ctx context.Context) error

	// Provision creates enough empty worker records to close the pool's
	// capacity gap. The scanner drives the created records afterwards.
	Provision(ctx context.Context, pool *api.WorkerPool, info estimator.WorkerInfo) error

	// Deprovision tears down pool-level state when a pool is scheduled for
	// deletion. Workers terminate themselves and are reaped by the scanner.
	Deprovision(ctx context.Context, pool *api.WorkerPool) error

	// RegisterWorker validates the worker's identity proof and moves it to
	// running. All failures surface as an opaque signature-validation error.
	RegisterWorker(ctx context.Context, pool *api.WorkerPool, worker *api.Worker, identityProofDocument string) (*RegistrationResult, error)

	// CheckWorker classifies one worker against its live cloud resources and
	// advances its pipeline. Called once per worker per scan pass.
	CheckWorker(ctx context.Context, pool *api.WorkerPool, worker *api.Worker) error

	// RemoveWorker starts or continues teardown; it returns the worker's
	// resulting state (stopping until everything is verified gone).
	RemoveWorker(ctx context.Context, pool *api.WorkerPool, worker *api.Worker) (api.WorkerState, error)

	// ScanPrepare and ScanCleanup bracket a scan pass.
	ScanPrepare(ctx context.Context) error
	ScanCleanup(ctx context.Context) error
}

// Registry maps provider IDs to providers.
type Registry map[string]Provider

func NewRegistry(provs ...Provider) Registry {
	r := Registry{}
	for _, p := range provs {
		r[p.ID()] = p
	}
	return r
}

// Get returns the provider for id, or nil for unknown ids (including the
// null-provider sentinel).
func (r Registry) Get(id string) Provider {
	return r[id]
}
