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

type PublicIPAddressCreateOrUpdateInput struct {
	ResourceGroupName string
	PublicIPName      string
	PublicIP          armnetwork.PublicIPAddress
}

type PublicIPAddressGetInput struct {
	ResourceGroupName string
	PublicIPName      string
}

type PublicIPAddressDeleteInput struct {
	ResourceGroupName string
	PublicIPName      string
}

type PublicIPAddressesBehavior struct {
	PublicIPAddressesCreateOrUpdateBehavior MockedFunction[PublicIPAddressCreateOrUpdateInput, *azure.AsyncOperation]
	PublicIPAddressesDeleteBehavior         MockedFunction[PublicIPAddressDeleteInput, *azure.AsyncOperation]
	PublicIPAddressesGetBehavior            MockedFunction[PublicIPAddressGetInput, armnetwork.PublicIPAddress]

	PublicIPAddresses sync.Map // public IP name -> armnetwork.PublicIPAddress
}

// assert that the fake implements the interface
var _ azure.PublicIPAddressesAPI = (*PublicIPAddressesAPI)(nil)

type PublicIPAddressesAPI struct {
	PublicIPAddressesBehavior
}

// Reset must be called between tests otherwise tests will pollute each other.
func (c *PublicIPAddressesAPI) Reset() {
	c.PublicIPAddressesCreateOrUpdateBehavior.Reset()
	c.PublicIPAddressesDeleteBehavior.Reset()
	c.PublicIPAddressesGetBehavior.Reset()
	c.PublicIPAddresses.Range(func(k, v any) bool {
		c.PublicIPAddresses.Delete(k)
		return true
	})
}

func (c *PublicIPAddressesAPI) BeginCreateOrUpdate(_ context.Context, resourceGroupName, publicIPName string, ip armnetwork.PublicIPAddress) (*azure.AsyncOperation, error) {
	input := &PublicIPAddressCreateOrUpdateInput{
		ResourceGroupName: resourceGroupName,
		PublicIPName:      publicIPName,
		PublicIP:          ip,
	}
	return c.PublicIPAddressesCreateOrUpdateBehavior.Invoke(input, func(input *PublicIPAddressCreateOrUpdateInput) (*azure.AsyncOperation, error) {
		ip := input.PublicIP
		ip.Name = lo.ToPtr(input.PublicIPName)
		ip.ID = lo.ToPtr(mkPublicIPAddressID(input.ResourceGroupName, input.PublicIPName))
		if ip.Properties == nil {
			ip.Properties = &armnetwork.PublicIPAddressPropertiesFormat{}
		}
		ip.Properties.ProvisioningState = lo.ToPtr(armnetwork.ProvisioningStateSucceeded)
		c.PublicIPAddresses.Store(input.PublicIPName, ip)
		return &azure.AsyncOperation{URL: mkOperationURL(input.ResourceGroupName, "pip", input.PublicIPName)}, nil
	})
}

func (c *PublicIPAddressesAPI) Get(_ context.Context, resourceGroupName, publicIPName string) (armnetwork.PublicIPAddress, error) {
	input := &PublicIPAddressGetInput{
		ResourceGroupName: resourceGroupName,
		PublicIPName:      publicIPName,
	}
	return c.PublicIPAddressesGetBehavior.Invoke(input, func(input *PublicIPAddressGetInput) (armnetwork.PublicIPAddress, error) {
		ip, ok := c.PublicIPAddresses.Load(input.PublicIPName)
		if !ok {
			return armnetwork.PublicIPAddress{}, notFoundError()
		}
		return ip.(armnetwork.PublicIPAddress), nil
	})
}

func (c *PublicIPAddressesAPI) BeginDelete(_ context.Context, resourceGroupName, publicIPName string) (*azure.AsyncOperation, error) {
	input := &PublicIPAddressDeleteInput{
		ResourceGroupName: resourceGroupName,
		PublicIPName:      publicIPName,
	}
	return c.PublicIPAddressesDeleteBehavior.Invoke(input, func(input *PublicIPAddressDeleteInput) (*azure.AsyncOperation, error) {
		c.PublicIPAddresses.Delete(input.PublicIPName)
		return &azure.AsyncOperation{URL: mkOperationURL(input.ResourceGroupName, "pip-delete", input.PublicIPName)}, nil
	})
}
