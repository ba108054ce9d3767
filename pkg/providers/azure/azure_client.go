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

package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork"

	"github.com/taskpool/worker-manager/pkg/auth"
)

// AsyncOperation is the handle for an Azure long-running operation: the poll
// URL surfaced on the initial response. It is stored verbatim on the worker
// record and consulted by the operation poller.
type AsyncOperation struct {
	URL string `json:"url"`
}

// The *API interfaces cover exactly the ARM surface the provider consumes;
// fakes in pkg/fake implement them for tests. Begin* methods issue the
// request and return the async-operation handle without waiting for the
// operation to finish.

type VirtualMachinesAPI interface {
	Get(ctx context.Context, resourceGroupName, vmName string) (armcompute.VirtualMachine, error)
	InstanceView(ctx context.Context, resourceGroupName, vmName string) (armcompute.VirtualMachineInstanceView, error)
	BeginCreateOrUpdate(ctx context.Context, resourceGroupName, vmName string, vm armcompute.VirtualMachine) (*AsyncOperation, error)
	BeginDelete(ctx context.Context, resourceGroupName, vmName string) (*AsyncOperation, error)
}

type NetworkInterfacesAPI interface {
	Get(ctx context.Context, resourceGroupName, interfaceName string) (armnetwork.Interface, error)
	BeginCreateOrUpdate(ctx context.Context, resourceGroupName, interfaceName string, iface armnetwork.Interface) (*AsyncOperation, error)
	BeginDelete(ctx context.Context, resourceGroupName, interfaceName string) (*AsyncOperation, error)
}

type PublicIPAddressesAPI interface {
	Get(ctx context.Context, resourceGroupName, publicIPName string) (armnetwork.PublicIPAddress, error)
	BeginCreateOrUpdate(ctx context.Context, resourceGroupName, publicIPName string, ip armnetwork.PublicIPAddress) (*AsyncOperation, error)
	BeginDelete(ctx context.Context, resourceGroupName, publicIPName string) (*AsyncOperation, error)
}

type DisksAPI interface {
	Get(ctx context.Context, resourceGroupName, diskName string) (armcompute.Disk, error)
	BeginDelete(ctx context.Context, resourceGroupName, diskName string) (*AsyncOperation, error)
}

// OperationsAPI polls async-operation URLs. Found=false means the URL itself
// answered 404 (the operation record is gone).
type OperationsAPI interface {
	Poll(ctx context.Context, operationURL string) (OperationResult, error)
}

// AZClient aggregates the ARM clients the provider uses.
type AZClient struct {
	virtualMachinesClient   VirtualMachinesAPI
	networkInterfacesClient NetworkInterfacesAPI
	publicIPAddressesClient PublicIPAddressesAPI
	disksClient             DisksAPI
	operationsClient        OperationsAPI
}

func (c *AZClient) VirtualMachines() VirtualMachinesAPI     { return c.virtualMachinesClient }
func (c *AZClient) NetworkInterfaces() NetworkInterfacesAPI { return c.networkInterfacesClient }
func (c *AZClient) PublicIPAddresses() PublicIPAddressesAPI { return c.publicIPAddressesClient }
func (c *AZClient) Disks() DisksAPI                         { return c.disksClient }
func (c *AZClient) Operations() OperationsAPI               { return c.operationsClient }

func NewAZClientFromAPI(
	virtualMachinesClient VirtualMachinesAPI,
	networkInterfacesClient NetworkInterfacesAPI,
	publicIPAddressesClient PublicIPAddressesAPI,
	disksClient DisksAPI,
	operationsClient OperationsAPI,
) *AZClient {
	return &AZClient{
		virtualMachinesClient:   virtualMachinesClient,
		networkInterfacesClient: networkInterfacesClient,
		publicIPAddressesClient: publicIPAddressesClient,
		disksClient:             disksClient,
		operationsClient:        operationsClient,
	}
}

// NewAZClient builds the production client set for one subscription.
func NewAZClient(cfg *auth.Config, cred azcore.TokenCredential, opts *arm.ClientOptions) (*AZClient, error) {
	virtualMachinesClient, err := armcompute.NewVirtualMachinesClient(cfg.SubscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("creating VirtualMachinesClient: %w", err)
	}
	disksClient, err := armcompute.NewDisksClient(cfg.SubscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("creating DisksClient: %w", err)
	}
	interfacesClient, err := armnetwork.NewInterfacesClient(cfg.SubscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("creating InterfacesClient: %w", err)
	}
	publicIPClient, err := armnetwork.NewPublicIPAddressesClient(cfg.SubscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("creating PublicIPAddressesClient: %w", err)
	}
	operationsClient, err := newOperationsClient(cred, opts)
	if err != nil {
		return nil, fmt.Errorf("creating operations client: %w", err)
	}
	return NewAZClientFromAPI(
		&virtualMachinesAdapter{client: virtualMachinesClient},
		&networkInterfacesAdapter{client: interfacesClient},
		&publicIPAddressesAdapter{client: publicIPClient},
		&disksAdapter{client: disksClient},
		operationsClient,
	), nil
}
