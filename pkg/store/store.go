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

package store

import (
	"context"
	"errors"

	"github.com/taskpool/worker-manager/pkg/api"
)

var (
	ErrNotFound      = errors.New("row not found")
	ErrAlreadyExists = errors.New("row already exists")
)

// Store is the typed persistence layer for worker pools and workers.
//
// Update methods are read-modify-write: the mutator runs under a row-scoped
// transaction and concurrent updates on the same row serialize. A mutator
// returning an error aborts the update without persisting anything.
type Store interface {
	CreateWorkerPool(ctx context.Context, pool *api.WorkerPool) error
	GetWorkerPool(ctx context.Context, workerPoolID string) (*api.WorkerPool, error)
	UpdateWorkerPool(ctx context.Context, workerPoolID string, mutate func(*api.WorkerPool) error) (*api.WorkerPool, error)
	DeleteWorkerPool(ctx context.Context, workerPoolID string) error
	ListWorkerPools(ctx context.Context) ([]*api.WorkerPool, error)

	CreateWorker(ctx context.Context, worker *api.Worker) error
	GetWorker(ctx context.Context, workerPoolID, workerGroup, workerID string) (*api.Worker, error)
	UpdateWorker(ctx context.Context, workerPoolID, workerGroup, workerID string, mutate func(*api.Worker) error) (*api.Worker, error)
	DeleteWorker(ctx context.Context, workerPoolID, workerGroup, workerID string) error
	ListWorkersByPool(ctx context.Context, workerPoolID string) ([]*api.Worker, error)
}

// SwitchWorkerPoolProvider moves a pool to a new provider, pushing the old
// provider ID onto the head of previousProviderIds so in-flight workers keep
// being honored. Switching to api.NullProviderID schedules the pool for
// deletion.
func SwitchWorkerPoolProvider(ctx context.Context, s Store, workerPoolID, providerID string) (*api.WorkerPool, error) {
	return s.UpdateWorkerPool(ctx, workerPoolID, func(pool *api.WorkerPool) error {
		if pool.ProviderID == providerID {
			return nil
		}
		pool.PreviousProviderIDs = append([]string{pool.ProviderID}, pool.PreviousProviderIDs...)
		pool.ProviderID = providerID
		return nil
	})
}
