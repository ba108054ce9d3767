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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/go-logr/logr"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/taskpool/worker-manager/pkg/api"
	"github.com/taskpool/worker-manager/pkg/auth"
	"github.com/taskpool/worker-manager/pkg/estimator"
	"github.com/taskpool/worker-manager/pkg/fake"
	"github.com/taskpool/worker-manager/pkg/gateway"
	"github.com/taskpool/worker-manager/pkg/notify"
	"github.com/taskpool/worker-manager/pkg/providers/azure"
	"github.com/taskpool/worker-manager/pkg/store"
)

const testResourceGroup = "test-rg"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	errors []notify.PoolError
}

func (n *recordingNotifier) ReportError(_ context.Context, pe notify.PoolError) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, pe)
	return nil
}

func (n *recordingNotifier) Errors() []notify.PoolError {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.PoolError{}, n.errors...)
}

type testEnv struct {
	ctx      context.Context
	cfg      *auth.Config
	store    *store.MemoryStore
	vms      *fake.VirtualMachinesAPI
	nics     *fake.NetworkInterfacesAPI
	ips      *fake.PublicIPAddressesAPI
	disks    *fake.DisksAPI
	ops      *fake.OperationsAPI
	notifier *recordingNotifier
	clock    *fakeClock
	provider *azure.Provider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ctx:      context.Background(),
		store:    store.NewMemoryStore(),
		vms:      &fake.VirtualMachinesAPI{},
		nics:     &fake.NetworkInterfacesAPI{},
		ips:      &fake.PublicIPAddressesAPI{},
		disks:    &fake.DisksAPI{},
		ops:      &fake.OperationsAPI{},
		notifier: &recordingNotifier{},
		clock:    &fakeClock{t: time.Now().UTC()},
	}
	env.cfg = &auth.Config{
		ClientID:          "client",
		Secret:            "secret",
		Domain:            "tenant",
		SubscriptionID:    "subscription",
		ResourceGroupName: testResourceGroup,
		RootURL:           "https://tc.example.com",
		CACertDir:         t.TempDir(),
	}
	env.provider = azure.New(
		env.cfg,
		azure.NewAZClientFromAPI(env.vms, env.nics, env.ips, env.disks, env.ops),
		gateway.New(gateway.Options{BackoffDelay: time.Millisecond}),
		env.store,
		env.notifier,
		estimator.NewSimple(logr.Discard()),
		logr.Discard(),
		azure.WithClock(env.clock.Now),
	)
	return env
}

func (e *testEnv) makePool(t *testing.T) *api.WorkerPool {
	t.Helper()
	pool := &api.WorkerPool{
		WorkerPoolID: "test-prov/test-pool",
		ProviderID:   azure.DefaultProviderID,
		Owner:        "owner@example.com",
		Config: api.WorkerPoolConfig{
			MinCapacity: 0,
			MaxCapacity: 5,
			LaunchConfigs: []api.LaunchConfig{{
				CapacityPerInstance: 1,
				SubnetID:            "/subscriptions/subscription/resourceGroups/test-rg/providers/Microsoft.Network/virtualNetworks/vnet/subnets/default",
				Location:            "westus2",
				HardwareProfile: &armcompute.HardwareProfile{
					VMSize: lo.ToPtr(armcompute.VirtualMachineSizeTypesStandardA1),
				},
				StorageProfile: &armcompute.StorageProfile{
					OSDisk: &armcompute.OSDisk{
						Name:         lo.ToPtr("user-supplied-name"),
						CreateOption: lo.ToPtr(armcompute.DiskCreateOptionTypesFromImage),
					},
				},
				Tags: map[string]string{
					"team":       "platform",
					"created-by": "somebody-else",
				},
				WorkerConfig: map[string]interface{}{"shutdown": true},
			}},
		},
		Created:      e.clock.Now(),
		LastModified: e.clock.Now(),
	}
	require.NoError(t, e.store.CreateWorkerPool(e.ctx, pool))
	return pool
}

// provisionOne asks for one unit of capacity and returns the created worker.
func (e *testEnv) provisionOne(t *testing.T, pool *api.WorkerPool) *api.Worker {
	t.Helper()
	require.NoError(t, e.provider.Provision(e.ctx, pool, estimator.WorkerInfo{RequestedCapacity: 1}))
	workers, err := e.store.ListWorkersByPool(e.ctx, pool.WorkerPoolID)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	return workers[0]
}

func azureOperationInProgress() azure.OperationResult {
	return azure.OperationResult{Found: true, Status: "InProgress"}
}

// seedVM plants a VM in the fake cloud with the given provisioning state.
func seedVM(env *testEnv, name, provisioningState string) {
	env.vms.VirtualMachines.Store(name, armcompute.VirtualMachine{
		Name: lo.ToPtr(name),
		ID:   lo.ToPtr("/subscriptions/subscription/resourceGroups/" + testResourceGroup + "/providers/Microsoft.Compute/virtualMachines/" + name),
		Properties: &armcompute.VirtualMachineProperties{
			ProvisioningState: lo.ToPtr(provisioningState),
			VMID:              lo.ToPtr("vmid-" + name),
		},
	})
}

// check runs one scan pass over the worker and returns the persisted row.
func (e *testEnv) check(t *testing.T, pool *api.WorkerPool, worker *api.Worker) *api.Worker {
	t.Helper()
	fresh, err := e.store.GetWorker(e.ctx, worker.WorkerPoolID, worker.WorkerGroup, worker.WorkerID)
	require.NoError(t, err)
	require.NoError(t, e.provider.CheckWorker(e.ctx, pool, fresh))
	updated, err := e.store.GetWorker(e.ctx, worker.WorkerPoolID, worker.WorkerGroup, worker.WorkerID)
	require.NoError(t, err)
	return updated
}
