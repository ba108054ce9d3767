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
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/samber/lo"

	"github.com/taskpool/worker-manager/pkg/providers/azure"
)

type DiskGetInput struct {
	ResourceGroupName string
	DiskName          string
}

type DiskDeleteInput struct {
	ResourceGroupName string
	DiskName          string
}

type DisksBehavior struct {
	DisksGetBehavior    MockedFunction[DiskGetInput, armcompute.Disk]
	DisksDeleteBehavior MockedFunction[DiskDeleteInput, *azure.AsyncOperation]

	Disks sync.Map // disk name -> armcompute.Disk
}

// assert that the fake implements the interface
var _ azure.DisksAPI = (*DisksAPI)(nil)

type DisksAPI struct {
	DisksBehavior
}

// Reset must be called between tests otherwise tests will pollute each other.
func (c *DisksAPI) Reset() {
	c.DisksGetBehavior.Reset()
	c.DisksDeleteBehavior.Reset()
	c.Disks.Range(func(k, v any) bool {
		c.Disks.Delete(k)
		return true
	})
}

// Put seeds a disk, the way a VM creation leaves them behind.
func (c *DisksAPI) Put(resourceGroupName, diskName string) {
	c.Disks.Store(diskName, armcompute.Disk{
		Name: lo.ToPtr(diskName),
		ID:   lo.ToPtr(mkDiskID(resourceGroupName, diskName)),
		Properties: &armcompute.DiskProperties{
			ProvisioningState: lo.ToPtr("Succeeded"),
		},
	})
}

func (c *DisksAPI) Get(_ context.Context, resourceGroupName, diskName string) (armcompute.Disk, error) {
	input := &DiskGetInput{
		ResourceGroupName: resourceGroupName,
		DiskName:          diskName,
	}
	return c.DisksGetBehavior.Invoke(input, func(input *DiskGetInput) (armcompute.Disk, error) {
		disk, ok := c.Disks.Load(input.DiskName)
		if !ok {
			return armcompute.Disk{}, notFoundError()
		}
		return disk.(armcompute.Disk), nil
	})
}

func (c *DisksAPI) BeginDelete(_ context.Context, resourceGroupName, diskName string) (*azure.AsyncOperation, error) {
	input := &DiskDeleteInput{
		ResourceGroupName: resourceGroupName,
		DiskName:          diskName,
	}
	return c.DisksDeleteBehavior.Invoke(input, func(input *DiskDeleteInput) (*azure.AsyncOperation, error) {
		c.Disks.Delete(input.DiskName)
		return &azure.AsyncOperation{URL: mkOperationURL(input.ResourceGroupName, "disk-delete", input.DiskName)}, nil
	})
}
