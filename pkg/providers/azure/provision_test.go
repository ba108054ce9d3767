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
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpool/worker-manager/pkg/api"
)

// TestProvisionPipeline walks a requested worker through every pass of the
// resource pipeline: each scan pass performs at most one step, and the
// recorded (name, operation, id) triples advance exactly as the cloud
// responds.
func TestProvisionPipeline(t *testing.T) {
	env := newTestEnv(t)
	pool := env.makePool(t)
	worker := env.provisionOne(t, pool)

	require.Equal(t, api.WorkerStateRequested, worker.State)
	data := worker.ProviderData.Azure
	require.NotNil(t, data)
	assert.True(t, api.ValidWorkerID(worker.WorkerID))
	assert.True(t, strings.HasPrefix(data.IP.Name, "pip-"))
	assert.LessOrEqual(t, len(data.IP.Name), 24)
	assert.True(t, strings.HasPrefix(data.NIC.Name, "nic-"))
	assert.LessOrEqual(t, len(data.NIC.Name), 24)
	assert.LessOrEqual(t, len(data.VM.ComputerName), 15)

	// Pass 1: IP creation begins; the operation URL is recorded.
	worker = env.check(t, pool, worker)
	data = worker.ProviderData.Azure
	assert.Nil(t, data.IP.ID)
	assert.NotEmpty(t, data.IP.Operation)
	assert.Equal(t, 1, env.ips.PublicIPAddressesCreateOrUpdateBehavior.Calls())

	// Pass 2: the IP exists; its id is recorded and the operation cleared.
	worker = env.check(t, pool, worker)
	data = worker.ProviderData.Azure
	require.NotNil(t, data.IP.ID)
	assert.Empty(t, data.IP.Operation)
	assert.Equal(t, 1, env.ips.PublicIPAddressesCreateOrUpdateBehavior.Calls())

	// Pass 3: NIC creation begins, wired to the subnet and the IP.
	worker = env.check(t, pool, worker)
	data = worker.ProviderData.Azure
	assert.Nil(t, data.NIC.ID)
	assert.NotEmpty(t, data.NIC.Operation)
	nicInput := env.nics.NetworkInterfacesCreateOrUpdateBehavior.CalledWithInput.Pop()
	ipConfigs := nicInput.Interface.Properties.IPConfigurations
	require.Len(t, ipConfigs, 1)
	assert.Equal(t, pool.Config.LaunchConfigs[0].SubnetID, lo.FromPtr(ipConfigs[0].Properties.Subnet.ID))
	assert.Equal(t, lo.FromPtr(data.IP.ID), lo.FromPtr(ipConfigs[0].Properties.PublicIPAddress.ID))
	assert.Equal(t, armnetwork.IPAllocationMethodDynamic, lo.FromPtr(ipConfigs[0].Properties.PrivateIPAllocationMethod))

	// Pass 4: the NIC exists; its id lands both on the ref and in the
	// stored VM config.
	worker = env.check(t, pool, worker)
	data = worker.ProviderData.Azure
	require.NotNil(t, data.NIC.ID)
	require.NotNil(t, data.VM.Config.Properties.NetworkProfile)
	nicRefs := data.VM.Config.Properties.NetworkProfile.NetworkInterfaces
	require.Len(t, nicRefs, 1)
	assert.Equal(t, lo.FromPtr(data.NIC.ID), lo.FromPtr(nicRefs[0].ID))

	// Pass 5: VM creation begins.
	worker = env.check(t, pool, worker)
	data = worker.ProviderData.Azure
	assert.Nil(t, data.VM.ID)
	assert.NotEmpty(t, data.VM.Operation)
	vmInput := env.vms.VirtualMachinesCreateOrUpdateBehavior.CalledWithInput.Pop()
	osProfile := vmInput.VM.Properties.OSProfile
	require.NotNil(t, osProfile)
	assert.Equal(t, data.VM.ComputerName, lo.FromPtr(osProfile.ComputerName))
	assert.Len(t, lo.FromPtr(osProfile.AdminPassword), 72)
	assert.NotEmpty(t, lo.FromPtr(osProfile.AdminUsername))

	// The admin credentials are request-only; nothing secret is persisted.
	assert.Nil(t, data.VM.Config.Properties.OSProfile)

	// customData carries the worker's identity back to it at boot.
	decoded, err := base64.StdEncoding.DecodeString(lo.FromPtr(osProfile.CustomData))
	require.NoError(t, err)
	var custom map[string]interface{}
	require.NoError(t, json.Unmarshal(decoded, &custom))
	assert.Equal(t, pool.WorkerPoolID, custom["workerPoolId"])
	assert.Equal(t, worker.WorkerGroup, custom["workerGroup"])
	assert.Equal(t, env.cfg.RootURL, custom["rootUrl"])

	// Reserved tags always win over user tags.
	assert.Equal(t, "worker-manager-azure", lo.FromPtr(vmInput.VM.Tags["created-by"]))
	assert.Equal(t, pool.WorkerPoolID, lo.FromPtr(vmInput.VM.Tags["worker-pool-id"]))
	assert.Equal(t, pool.Owner, lo.FromPtr(vmInput.VM.Tags["owner"]))
	assert.Equal(t, "platform", lo.FromPtr(vmInput.VM.Tags["team"]))

	// User-supplied disk names are stripped from the create request.
	assert.Nil(t, vmInput.VM.Properties.StorageProfile.OSDisk.Name)

	// Pass 6: the VM exists; id, vmId and the cloud-named disks are recorded.
	worker = env.check(t, pool, worker)
	data = worker.ProviderData.Azure
	require.NotNil(t, data.VM.ID)
	assert.Empty(t, data.VM.Operation)
	assert.NotEmpty(t, data.VM.VMID)
	require.NotEmpty(t, data.Disks)
	assert.Equal(t, worker.WorkerID+"-osdisk", data.Disks[0].Name)
	require.NotNil(t, data.Disks[0].ID)
	assert.Equal(t, api.WorkerStateRequested, worker.State)

	// Pass 7: nothing left to do; the worker stays requested until it
	// registers, and no creation errors were ever reported.
	worker = env.check(t, pool, worker)
	assert.Equal(t, api.WorkerStateRequested, worker.State)
	assert.Empty(t, env.notifier.Errors())
}

// TestProvisionIPFailed covers a resource landing in a failed provisioning
// state: the worker is torn down without an error report, since failures on
// fresh resources are routine.
func TestProvisionIPFailed(t *testing.T) {
	env := newTestEnv(t)
	pool := env.makePool(t)
	worker := env.provisionOne(t, pool)

	// Pass 1 begins IP creation.
	worker = env.check(t, pool, worker)

	// The cloud reports the IP as Failed.
	name := worker.ProviderData.Azure.IP.Name
	stored, ok := env.ips.PublicIPAddresses.Load(name)
	require.True(t, ok)
	ip := stored.(armnetwork.PublicIPAddress)
	ip.Properties.ProvisioningState = lo.ToPtr(armnetwork.ProvisioningStateFailed)
	env.ips.PublicIPAddresses.Store(name, ip)

	// Pass 2 sees the failure and starts teardown.
	worker = env.check(t, pool, worker)
	assert.Equal(t, api.WorkerStateStopping, worker.State)

	// Subsequent passes drive everything to verified absence.
	for i := 0; i < 4 && worker.State != api.WorkerStateStopped; i++ {
		worker = env.check(t, pool, worker)
	}
	assert.Equal(t, api.WorkerStateStopped, worker.State)
	assert.Empty(t, env.notifier.Errors())
	_, loaded := env.ips.PublicIPAddresses.Load(name)
	assert.False(t, loaded)
}

// TestProvisionResumesAfterPendingOperation covers the 404-with-operation
// branch: while the async operation is in progress nothing new is started.
func TestProvisionResumesAfterPendingOperation(t *testing.T) {
	env := newTestEnv(t)
	pool := env.makePool(t)
	worker := env.provisionOne(t, pool)

	// Pass 1 begins IP creation; then simulate the resource not being
	// visible yet while its operation is still running.
	worker = env.check(t, pool, worker)
	data := worker.ProviderData.Azure
	env.ips.PublicIPAddresses.Delete(data.IP.Name)
	env.ops.Operations.Store(data.IP.Operation, azureOperationInProgress())

	worker = env.check(t, pool, worker)
	data = worker.ProviderData.Azure
	assert.Nil(t, data.IP.ID)
	assert.NotEmpty(t, data.IP.Operation)
	// No second create was issued.
	assert.Equal(t, 1, env.ips.PublicIPAddressesCreateOrUpdateBehavior.Calls())
	assert.Equal(t, api.WorkerStateRequested, worker.State)
}
