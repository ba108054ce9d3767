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

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork"
	"github.com/samber/lo"

	"github.com/taskpool/worker-manager/pkg/providers/azure"
)

type NetworkInterfaceCreateOrUpdateInput struct {
	ResourceGroupName string
	InterfaceName     string
	Interface         armnetwork.Interface
}

type NetworkInterfaceGetInput struct {
	ResourceGroupName string
	InterfaceName     string
}

type NetworkInterfaceDeleteInput struct {
	ResourceGroupName string
	InterfaceName     string
}

type NetworkInterfacesBehavior struct {
	NetworkInterfacesCreateOrUpdateBehavior MockedFunction[NetworkInterfaceCreateOrUpdateInput, *azure.AsyncOperation]
	NetworkInterfacesDeleteBehavior         MockedFunction[NetworkInterfaceDeleteInput, *azure.AsyncOperation]
	NetworkInterfacesGetBehavior            MockedFunction[NetworkInterfaceGetInput, armnetwork.Interface]

	NetworkInterfaces sync.Map // interface name -> armnetwork.Interface
}

// assert that the fake implements the interface
var _ azure.NetworkInterfacesAPI = (*NetworkInterfacesAPI)(nil)

type NetworkInterfacesAPI struct {
	NetworkInterfacesBehavior
}

// Reset must be called between tests otherwise tests will pollute each other.
func (c *NetworkInterfacesAPI) Reset() {
	c.NetworkInterfacesCreateOrUpdateBehavior.Reset()
	c.NetworkInterfacesDeleteBehavior.Reset()
	c.NetworkInterfacesGetBehavior.Reset()
	c.NetworkInterfaces.Range(func(k, v any) bool {
		c.NetworkInterfaces.Delete(k)
		return true
	})
}

func (c *NetworkInterfacesAPI) BeginCreateOrUpdate(_ context.Context, resourceGroupName, interfaceName string, iface armnetwork.Interface) (*azure.AsyncOperation, error) {
	input := &NetworkInterfaceCreateOrUpdateInput{
		ResourceGroupName: resourceGroupName,
		InterfaceName:     interfaceName,
		Interface:         iface,
	}
	return c.NetworkInterfacesCreateOrUpdateBehavior.Invoke(input, func(input *NetworkInterfaceCreateOrUpdateInput) (*azure.AsyncOperation, error) {
		iface := input.Interface
		iface.Name = lo.ToPtr(input.InterfaceName)
		iface.ID = lo.ToPtr(mkNetworkInterfaceID(input.ResourceGroupName, input.InterfaceName))
		if iface.Properties == nil {
			iface.Properties = &armnetwork.InterfacePropertiesFormat{}
		}
		iface.Properties.ProvisioningState = lo.ToPtr(armnetwork.ProvisioningStateSucceeded)
		c.NetworkInterfaces.Store(input.InterfaceName, iface)
		return &azure.AsyncOperation{URL: mkOperationURL(input.ResourceGroupName, "nic", input.InterfaceName)}, nil
	})
}

func (c *NetworkInterfacesAPI) Get(_ context.Context, resourceGroupName, interfaceName string) (armnetwork.Interface, error) {
	input := &NetworkInterfaceGetInput{
		ResourceGroupName: resourceGroupName,
		InterfaceName:     interfaceName,
	}
	return c.NetworkInterfacesGetBehavior.Invoke(input, func(input *NetworkInterfaceGetInput) (armnetwork.Interface, error) {
		iface, ok := c.NetworkInterfaces.Load(input.InterfaceName)
		if !ok {
			return armnetwork.Interface{}, notFoundError()
		}
		return iface.(armnetwork.Interface), nil
	})
}

func (c *NetworkInterfacesAPI) BeginDelete(_ context.Context, resourceGroupName, interfaceName string) (*azure.AsyncOperation, error) {
	input := &NetworkInterfaceDeleteInput{
		ResourceGroupName: resourceGroupName,
		InterfaceName:     interfaceName,
	}
	return c.NetworkInterfacesDeleteBehavior.Invoke(input, func(input *NetworkInterfaceDeleteInput) (*azure.AsyncOperation, error) {
		c.NetworkInterfaces.Delete(input.InterfaceName)
		return &azure.AsyncOperation{URL: mkOperationURL(input.ResourceGroupName, "nic-delete", input.InterfaceName)}, nil
	})
}
