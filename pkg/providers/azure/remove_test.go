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

package azure_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpool/worker-manager/pkg/api"
	"github.com/taskpool/worker-manager/pkg/fake"
	"github.com/taskpool/worker-manager/pkg/notify"
)

// buildWorker drives a fresh worker through the whole provision pipeline so
// removal tests start from a fully built resource set.
func buildWorker(t *testing.T, env *testEnv, pool *api.WorkerPool) *api.Worker {
	t.Helper()
	worker := env.provisionOne(t, pool)
	for i := 0; i < 8; i++ {
		worker = env.check(t, pool, worker)
		if worker.ProviderData.Azure.VM.ID != nil {
			return worker
		}
	}
	t.Fatal("worker never finished provisioning")
	return nil
}

// TestRemoveWorkerOrdering verifies the reverse-dependency teardown: the NIC
// is not deleted until the VM is verified gone, the IP not until the NIC is,
// and the worker only becomes stopped once every resource 404s.
func TestRemoveWorkerOrdering(t *testing.T) {
	env := newTestEnv(t)
	pool := env.makePool(t)
	worker := buildWorker(t, env, pool)
	data := worker.ProviderData.Azure

	state, err := env.provider.RemoveWorker(env.ctx, pool, worker)
	require.NoError(t, err)
	assert.Equal(t, api.WorkerStateStopping, state)
	// Only the VM delete was issued on the first pass.
	assert.Equal(t, 1, env.vms.VirtualMachinesDeleteBehavior.Calls())
	assert.Zero(t, env.nics.NetworkInterfacesDeleteBehavior.Calls())
	assert.Zero(t, env.ips.PublicIPAddressesDeleteBehavior.Calls())
	assert.Nil(t, worker.ProviderData.Azure.VM.ID)

	// Pass 2: VM verified gone (404), NIC delete begins.
	state, err = env.provider.RemoveWorker(env.ctx, pool, worker)
	require.NoError(t, err)
	assert.Equal(t, api.WorkerStateStopping, state)
	assert.Equal(t, 1, env.nics.NetworkInterfacesDeleteBehavior.Calls())
	assert.Zero(t, env.ips.PublicIPAddressesDeleteBehavior.Calls())

	// Pass 3: NIC verified gone, IP delete begins.
	state, err = env.provider.RemoveWorker(env.ctx, pool, worker)
	require.NoError(t, err)
	assert.Equal(t, api.WorkerStateStopping, state)
	assert.Equal(t, 1, env.ips.PublicIPAddressesDeleteBehavior.Calls())

	// Pass 4: IP verified gone, disk deletes begin.
	state, err = env.provider.RemoveWorker(env.ctx, pool, worker)
	require.NoError(t, err)
	assert.Equal(t, api.WorkerStateStopping, state)
	assert.Equal(t, len(data.Disks), env.disks.DisksDeleteBehavior.Calls())

	// Pass 5: disks verified gone; the worker is stopped.
	state, err = env.provider.RemoveWorker(env.ctx, pool, worker)
	require.NoError(t, err)
	assert.Equal(t, api.WorkerStateStopped, state)
	assert.Equal(t, api.WorkerStateStopped, worker.State)
}

// TestRemoveWorkerStoppedIsNoop: stopped is terminal; nothing is called.
func TestRemoveWorkerStoppedIsNoop(t *testing.T) {
	env := newTestEnv(t)
	pool := env.makePool(t)
	worker := buildWorker(t, env, pool)
	worker.State = api.WorkerStateStopped

	state, err := env.provider.RemoveWorker(env.ctx, pool, worker)
	require.NoError(t, err)
	assert.Equal(t, api.WorkerStateStopped, state)
	assert.Zero(t, env.vms.VirtualMachinesDeleteBehavior.Calls())
}

// TestRemoveWorkerDeleteInFlight: a resource already Deleting is left alone;
// no second delete is issued.
func TestRemoveWorkerDeleteInFlight(t *testing.T) {
	env := newTestEnv(t)
	pool := env.makePool(t)
	worker := buildWorker(t, env, pool)

	// VM goes first.
	state, err := env.provider.RemoveWorker(env.ctx, pool, worker)
	require.NoError(t, err)
	require.Equal(t, api.WorkerStateStopping, state)

	// Re-materialize the VM in state Deleting: the cloud is already tearing
	// it down.
	vmInput := env.vms.VirtualMachinesDeleteBehavior.CalledWithInput.Pop()
	seedVM(env, vmInput.VMName, "Deleting")

	state, err = env.provider.RemoveWorker(env.ctx, pool, worker)
	require.NoError(t, err)
	assert.Equal(t, api.WorkerStateStopping, state)
	assert.Equal(t, 1, env.vms.VirtualMachinesDeleteBehavior.Calls())
	// NIC untouched: the VM is not verified gone yet.
	assert.Zero(t, env.nics.NetworkInterfacesDeleteBehavior.Calls())
}

// TestRemoveWorkerDeletionErrorQueued: a failing delete call does not fail
// the pass; it is queued as a deletion error and retried next time.
func TestRemoveWorkerDeletionErrorQueued(t *testing.T) {
	env := newTestEnv(t)
	pool := env.makePool(t)
	worker := buildWorker(t, env, pool)

	env.vms.VirtualMachinesDeleteBehavior.Error.Set(errors.New("boom"), fake.MaxCalls(1))

	state, err := env.provider.RemoveWorker(env.ctx, pool, worker)
	require.NoError(t, err)
	assert.Equal(t, api.WorkerStateStopping, state)
	// The VM id survives the failed attempt, so the retry still deletes.
	assert.NotNil(t, worker.ProviderData.Azure.VM.ID)

	// ScanCleanup surfaces the queued error to the pool's owner.
	require.NoError(t, env.provider.ScanCleanup(env.ctx))
	reported := env.notifier.Errors()
	require.Len(t, reported, 1)
	assert.Equal(t, notify.KindDeletionError, reported[0].Kind)
	assert.Equal(t, pool.WorkerPoolID, reported[0].WorkerPoolID)

	// Next pass succeeds.
	state, err = env.provider.RemoveWorker(env.ctx, pool, worker)
	require.NoError(t, err)
	assert.Equal(t, api.WorkerStateStopping, state)
	assert.Equal(t, 1, env.vms.VirtualMachinesDeleteBehavior.SuccessfulCalls())
}
