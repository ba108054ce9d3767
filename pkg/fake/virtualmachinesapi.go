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

package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/taskpool/worker-manager/pkg/providers/azure"
)

type VirtualMachineCreateOrUpdateInput struct {
	ResourceGroupName string
	VMName            string
	VM                armcompute.VirtualMachine
}

type VirtualMachineGetInput struct {
	ResourceGroupName string
	VMName            string
}

type VirtualMachineDeleteInput struct {
	ResourceGroupName string
	VMName            string
}

type VirtualMachinesBehavior struct {
	VirtualMachinesCreateOrUpdateBehavior MockedFunction[VirtualMachineCreateOrUpdateInput, *azure.AsyncOperation]
	VirtualMachinesDeleteBehavior         MockedFunction[VirtualMachineDeleteInput, *azure.AsyncOperation]
	VirtualMachinesGetBehavior            MockedFunction[VirtualMachineGetInput, armcompute.VirtualMachine]
	VirtualMachinesInstanceViewBehavior   MockedFunction[VirtualMachineGetInput, armcompute.VirtualMachineInstanceView]

	VirtualMachines sync.Map // vm name -> armcompute.VirtualMachine
	InstanceViews   sync.Map // vm name -> armcompute.VirtualMachineInstanceView
}

// assert that the fake implements the interface
var _ azure.VirtualMachinesAPI = (*VirtualMachinesAPI)(nil)

type VirtualMachinesAPI struct {
	VirtualMachinesBehavior
}

// Reset must be called between tests otherwise tests will pollute each other.
func (c *VirtualMachinesAPI) Reset() {
	c.VirtualMachinesCreateOrUpdateBehavior.Reset()
	c.VirtualMachinesDeleteBehavior.Reset()
	c.VirtualMachinesGetBehavior.Reset()
	c.VirtualMachinesInstanceViewBehavior.Reset()
	c.VirtualMachines.Range(func(k, v any) bool {
		c.VirtualMachines.Delete(k)
		return true
	})
	c.InstanceViews.Range(func(k, v any) bool {
		c.InstanceViews.Delete(k)
		return true
	})
}

func (c *VirtualMachinesAPI) BeginCreateOrUpdate(_ context.Context, resourceGroupName, vmName string, vm armcompute.VirtualMachine) (*azure.AsyncOperation, error) {
	input := &VirtualMachineCreateOrUpdateInput{
		ResourceGroupName: resourceGroupName,
		VMName:            vmName,
		VM:                vm,
	}
	return c.VirtualMachinesCreateOrUpdateBehavior.Invoke(input, func(input *VirtualMachineCreateOrUpdateInput) (*azure.AsyncOperation, error) {
		vm := input.VM
		vm.Name = lo.ToPtr(input.VMName)
		vm.ID = lo.ToPtr(mkVirtualMachineID(input.ResourceGroupName, input.VMName))
		if vm.Properties == nil {
			vm.Properties = &armcompute.VirtualMachineProperties{}
		}
		vm.Properties.ProvisioningState = lo.ToPtr("Succeeded")
		if vm.Properties.VMID == nil {
			vm.Properties.VMID = lo.ToPtr(uuid.New().String())
		}
		// The cloud names disks the caller left unnamed.
		if sp := vm.Properties.StorageProfile; sp != nil {
			if sp.OSDisk != nil && sp.OSDisk.Name == nil {
				name := input.VMName + "-osdisk"
				sp.OSDisk.Name = lo.ToPtr(name)
				if sp.OSDisk.ManagedDisk == nil {
					sp.OSDisk.ManagedDisk = &armcompute.ManagedDiskParameters{}
				}
				sp.OSDisk.ManagedDisk.ID = lo.ToPtr(mkDiskID(input.ResourceGroupName, name))
			}
			for i, dd := range sp.DataDisks {
				if dd != nil && dd.Name == nil {
					name := fmt.Sprintf("%s-datadisk-%d", input.VMName, i)
					dd.Name = lo.ToPtr(name)
					if dd.ManagedDisk == nil {
						dd.ManagedDisk = &armcompute.ManagedDiskParameters{}
					}
					dd.ManagedDisk.ID = lo.ToPtr(mkDiskID(input.ResourceGroupName, name))
				}
			}
		}
		c.VirtualMachines.Store(input.VMName, vm)
		return &azure.AsyncOperation{URL: mkOperationURL(input.ResourceGroupName, "vm", input.VMName)}, nil
	})
}

func (c *VirtualMachinesAPI) Get(_ context.Context, resourceGroupName, vmName string) (armcompute.VirtualMachine, error) {
	input := &VirtualMachineGetInput{
		ResourceGroupName: resourceGroupName,
		VMName:            vmName,
	}
	return c.VirtualMachinesGetBehavior.Invoke(input, func(input *VirtualMachineGetInput) (armcompute.VirtualMachine, error) {
		vm, ok := c.VirtualMachines.Load(input.VMName)
		if !ok {
			return armcompute.VirtualMachine{}, notFoundError()
		}
		return vm.(armcompute.VirtualMachine), nil
	})
}

func (c *VirtualMachinesAPI) InstanceView(_ context.Context, resourceGroupName, vmName string) (armcompute.VirtualMachineInstanceView, error) {
	input := &VirtualMachineGetInput{
		ResourceGroupName: resourceGroupName,
		VMName:            vmName,
	}
	return c.VirtualMachinesInstanceViewBehavior.Invoke(input, func(input *VirtualMachineGetInput) (armcompute.VirtualMachineInstanceView, error) {
		if _, ok := c.VirtualMachines.Load(input.VMName); !ok {
			return armcompute.VirtualMachineInstanceView{}, notFoundError()
		}
		if view, ok := c.InstanceViews.Load(input.VMName); ok {
			return view.(armcompute.VirtualMachineInstanceView), nil
		}
		return armcompute.VirtualMachineInstanceView{
			Statuses: []*armcompute.InstanceViewStatus{
				{Code: lo.ToPtr("ProvisioningState/succeeded")},
				{Code: lo.ToPtr("PowerState/running")},
			},
		}, nil
	})
}

func (c *VirtualMachinesAPI) BeginDelete(_ context.Context, resourceGroupName, vmName string) (*azure.AsyncOperation, error) {
	input := &VirtualMachineDeleteInput{
		ResourceGroupName: resourceGroupName,
		VMName:            vmName,
	}
	return c.VirtualMachinesDeleteBehavior.Invoke(input, func(input *VirtualMachineDeleteInput) (*azure.AsyncOperation, error) {
		c.VirtualMachines.Delete(input.VMName)
		return &azure.AsyncOperation{URL: mkOperationURL(input.ResourceGroupName, "vm-delete", input.VMName)}, nil
	})
}
