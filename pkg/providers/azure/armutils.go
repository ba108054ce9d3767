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
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork"
)

// The adapters below put the generated ARM clients behind the narrow *API
// interfaces. Begin* calls capture the initial HTTP response so the
// Azure-AsyncOperation poll URL can be recorded on the worker; the SDK
// poller itself is discarded because progress is tracked across scan passes,
// not within one call.

// operationFromResponse extracts the async-operation handle, if any.
func operationFromResponse(resp *http.Response) *AsyncOperation {
	if resp == nil {
		return nil
	}
	if u := resp.Header.Get("Azure-AsyncOperation"); u != "" {
		return &AsyncOperation{URL: u}
	}
	if u := resp.Header.Get("Location"); u != "" {
		return &AsyncOperation{URL: u}
	}
	return nil
}

type virtualMachinesAdapter struct {
	client *armcompute.VirtualMachinesClient
}

var _ VirtualMachinesAPI = (*virtualMachinesAdapter)(nil)

func (a *virtualMachinesAdapter) Get(ctx context.Context, resourceGroupName, vmName string) (armcompute.VirtualMachine, error) {
	resp, err := a.client.Get(ctx, resourceGroupName, vmName, nil)
	if err != nil {
		return armcompute.VirtualMachine{}, err
	}
	return resp.VirtualMachine, nil
}

func (a *virtualMachinesAdapter) InstanceView(ctx context.Context, resourceGroupName, vmName string) (armcompute.VirtualMachineInstanceView, error) {
	resp, err := a.client.InstanceView(ctx, resourceGroupName, vmName, nil)
	if err != nil {
		return armcompute.VirtualMachineInstanceView{}, err
	}
	return resp.VirtualMachineInstanceView, nil
}

func (a *virtualMachinesAdapter) BeginCreateOrUpdate(ctx context.Context, resourceGroupName, vmName string, vm armcompute.VirtualMachine) (*AsyncOperation, error) {
	var raw *http.Response
	ctx = runtime.WithCaptureResponse(ctx, &raw)
	if _, err := a.client.BeginCreateOrUpdate(ctx, resourceGroupName, vmName, vm, nil); err != nil {
		return nil, err
	}
	return operationFromResponse(raw), nil
}

func (a *virtualMachinesAdapter) BeginDelete(ctx context.Context, resourceGroupName, vmName string) (*AsyncOperation, error) {
	var raw *http.Response
	ctx = runtime.WithCaptureResponse(ctx, &raw)
	if _, err := a.client.BeginDelete(ctx, resourceGroupName, vmName, nil); err != nil {
		return nil, err
	}
	return operationFromResponse(raw), nil
}

type networkInterfacesAdapter struct {
	client *armnetwork.InterfacesClient
}

var _ NetworkInterfacesAPI = (*networkInterfacesAdapter)(nil)

func (a *networkInterfacesAdapter) Get(ctx context.Context, resourceGroupName, interfaceName string) (armnetwork.Interface, error) {
	resp, err := a.client.Get(ctx, resourceGroupName, interfaceName, nil)
	if err != nil {
		return armnetwork.Interface{}, err
	}
	return resp.Interface, nil
}

func (a *networkInterfacesAdapter) BeginCreateOrUpdate(ctx context.Context, resourceGroupName, interfaceName string, iface armnetwork.Interface) (*AsyncOperation, error) {
	var raw *http.Response
	ctx = runtime.WithCaptureResponse(ctx, &raw)
	if _, err := a.client.BeginCreateOrUpdate(ctx, resourceGroupName, interfaceName, iface, nil); err != nil {
		return nil, err
	}
	return operationFromResponse(raw), nil
}

func (a *networkInterfacesAdapter) BeginDelete(ctx context.Context, resourceGroupName, interfaceName string) (*AsyncOperation, error) {
	var raw *http.Response
	ctx = runtime.WithCaptureResponse(ctx, &raw)
	if _, err := a.client.BeginDelete(ctx, resourceGroupName, interfaceName, nil); err != nil {
		return nil, err
	}
	return operationFromResponse(raw), nil
}

type publicIPAddressesAdapter struct {
	client *armnetwork.PublicIPAddressesClient
}

var _ PublicIPAddressesAPI = (*publicIPAddressesAdapter)(nil)

func (a *publicIPAddressesAdapter) Get(ctx context.Context, resourceGroupName, publicIPName string) (armnetwork.PublicIPAddress, error) {
	resp, err := a.client.Get(ctx, resourceGroupName, publicIPName, nil)
	if err != nil {
		return armnetwork.PublicIPAddress{}, err
	}
	return resp.PublicIPAddress, nil
}

func (a *publicIPAddressesAdapter) BeginCreateOrUpdate(ctx context.Context, resourceGroupName, publicIPName string, ip armnetwork.PublicIPAddress) (*AsyncOperation, error) {
	var raw *http.Response
	ctx = runtime.WithCaptureResponse(ctx, &raw)
	if _, err := a.client.BeginCreateOrUpdate(ctx, resourceGroupName, publicIPName, ip, nil); err != nil {
		return nil, err
	}
	return operationFromResponse(raw), nil
}

func (a *publicIPAddressesAdapter) BeginDelete(ctx context.Context, resourceGroupName, publicIPName string) (*AsyncOperation, error) {
	var raw *http.Response
	ctx = runtime.WithCaptureResponse(ctx, &raw)
	if _, err := a.client.BeginDelete(ctx, resourceGroupName, publicIPName, nil); err != nil {
		return nil, err
	}
	return operationFromResponse(raw), nil
}

type disksAdapter struct {
	client *armcompute.DisksClient
}

var _ DisksAPI = (*disksAdapter)(nil)

func (a *disksAdapter) Get(ctx context.Context, resourceGroupName, diskName string) (armcompute.Disk, error) {
	resp, err := a.client.Get(ctx, resourceGroupName, diskName, nil)
	if err != nil {
		return armcompute.Disk{}, err
	}
	return resp.Disk, nil
}

func (a *disksAdapter) BeginDelete(ctx context.Context, resourceGroupName, diskName string) (*AsyncOperation, error) {
	var raw *http.Response
	ctx = runtime.WithCaptureResponse(ctx, &raw)
	if _, err := a.client.BeginDelete(ctx, resourceGroupName, diskName, nil); err != nil {
		return nil, err
	}
	return operationFromResponse(raw), nil
}
