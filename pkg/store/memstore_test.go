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
	"sync"
	"testing"
	"time"

	"github.com/Pallinder/go-randomdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpool/worker-manager/pkg/api"
)

func testPool(id string) *api.WorkerPool {
	return &api.WorkerPool{
		WorkerPoolID: id,
		ProviderID:   "azure",
		Owner:        "owner@example.com",
		Config: api.WorkerPoolConfig{
			MaxCapacity: 5,
			LaunchConfigs: []api.LaunchConfig{{
				CapacityPerInstance: 1,
				Location:            "westus2",
			}},
		},
	}
}

func testWorker(poolID, id string) *api.Worker {
	return &api.Worker{
		WorkerPoolID: poolID,
		WorkerGroup:  "westus2",
		WorkerID:     id,
		ProviderID:   "azure",
		State:        api.WorkerStateRequested,
		Capacity:     1,
		Expires:      time.Now().Add(time.Hour),
		ProviderData: api.ProviderData{Azure: &api.AzureProviderData{
			Location: "westus2",
			VM:       api.VirtualMachineRef{ResourceRef: api.ResourceRef{Name: id}},
		}},
	}
}

func TestWorkerPoolCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	pool := testPool("prov/a")
	require.NoError(t, s.CreateWorkerPool(ctx, pool))
	assert.ErrorIs(t, s.CreateWorkerPool(ctx, pool), ErrAlreadyExists)

	got, err := s.GetWorkerPool(ctx, "prov/a")
	require.NoError(t, err)
	assert.Equal(t, pool.Owner, got.Owner)

	// The store hands out copies; mutating them is invisible.
	got.Owner = "hacker@example.com"
	again, err := s.GetWorkerPool(ctx, "prov/a")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", again.Owner)

	_, err = s.GetWorkerPool(ctx, "prov/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateWorkerPool(ctx, testPool("prov/b")))
	pools, err := s.ListWorkerPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "prov/a", pools[0].WorkerPoolID)
	assert.Equal(t, "prov/b", pools[1].WorkerPoolID)

	require.NoError(t, s.DeleteWorkerPool(ctx, "prov/a"))
	_, err = s.GetWorkerPool(ctx, "prov/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkerCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	w := testWorker("prov/a", "vm-one")
	require.NoError(t, s.CreateWorker(ctx, w))
	assert.ErrorIs(t, s.CreateWorker(ctx, w), ErrAlreadyExists)

	got, err := s.GetWorker(ctx, "prov/a", "westus2", "vm-one")
	require.NoError(t, err)
	assert.Equal(t, api.WorkerStateRequested, got.State)

	require.NoError(t, s.CreateWorker(ctx, testWorker("prov/a", "vm-two")))
	require.NoError(t, s.CreateWorker(ctx, testWorker("prov/other", "vm-three")))

	workers, err := s.ListWorkersByPool(ctx, "prov/a")
	require.NoError(t, err)
	require.Len(t, workers, 2)
	assert.Equal(t, "vm-one", workers[0].WorkerID)
	assert.Equal(t, "vm-two", workers[1].WorkerID)

	require.NoError(t, s.DeleteWorker(ctx, "prov/a", "westus2", "vm-one"))
	_, err = s.GetWorker(ctx, "prov/a", "westus2", "vm-one")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestUpdateWorkerSerializes: concurrent read-modify-write updates on the
// same row never lose increments.
func TestUpdateWorkerSerializes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateWorker(ctx, testWorker("prov/a", "vm-one")))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateWorker(ctx, "prov/a", "westus2", "vm-one", func(w *api.Worker) error {
				w.Capacity++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetWorker(ctx, "prov/a", "westus2", "vm-one")
	require.NoError(t, err)
	assert.Equal(t, 1+n, got.Capacity)
}

// TestUpdateWorkerAborts: a mutator error persists nothing.
func TestUpdateWorkerAborts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateWorker(ctx, testWorker("prov/a", "vm-one")))

	boom := errors.New("boom")
	_, err := s.UpdateWorker(ctx, "prov/a", "westus2", "vm-one", func(w *api.Worker) error {
		w.State = api.WorkerStateRunning
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetWorker(ctx, "prov/a", "westus2", "vm-one")
	require.NoError(t, err)
	assert.Equal(t, api.WorkerStateRequested, got.State)
}

func TestSwitchWorkerPoolProvider(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateWorkerPool(ctx, testPool("prov/a")))

	pool, err := SwitchWorkerPoolProvider(ctx, s, "prov/a", "gcp")
	require.NoError(t, err)
	assert.Equal(t, "gcp", pool.ProviderID)
	assert.Equal(t, []string{"azure"}, pool.PreviousProviderIDs)

	// Most recent first.
	pool, err = SwitchWorkerPoolProvider(ctx, s, "prov/a", api.NullProviderID)
	require.NoError(t, err)
	assert.Equal(t, api.NullProviderID, pool.ProviderID)
	assert.Equal(t, []string{"gcp", "azure"}, pool.PreviousProviderIDs)

	// Switching to the current provider is a no-op.
	pool, err = SwitchWorkerPoolProvider(ctx, s, "prov/a", api.NullProviderID)
	require.NoError(t, err)
	assert.Equal(t, []string{"gcp", "azure"}, pool.PreviousProviderIDs)
}

// TestWorkerRowLapses: rows vanish once their expiry plus grace passes.
func TestWorkerRowLapses(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	w := testWorker("prov/a", randomdata.Alphanumeric(10))
	w.Expires = time.Now().Add(-workerExpiryGrace - time.Second)
	require.NoError(t, s.CreateWorker(ctx, w))

	_, err := s.GetWorker(ctx, w.WorkerPoolID, w.WorkerGroup, w.WorkerID)
	assert.ErrorIs(t, err, ErrNotFound)

	// An update that backdates expiry lapses the row too.
	live := testWorker("prov/a", randomdata.Alphanumeric(10))
	live.Expires = time.Now().Add(time.Hour)
	require.NoError(t, s.CreateWorker(ctx, live))
	_, err = s.UpdateWorker(ctx, live.WorkerPoolID, live.WorkerGroup, live.WorkerID, func(w *api.Worker) error {
		w.Expires = time.Now().Add(-workerExpiryGrace - time.Second)
		return nil
	})
	require.NoError(t, err)
	_, err = s.GetWorker(ctx, live.WorkerPoolID, live.WorkerGroup, live.WorkerID)
	assert.ErrorIs(t, err, ErrNotFound)
}
