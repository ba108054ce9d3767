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

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork"
	"github.com/samber/lo"

	"github.com/taskpool/worker-manager/pkg/api"
	"github.com/taskpool/worker-manager/pkg/gateway"
)

// stepStatus is the outcome of one step-engine invocation for one resource.
type stepStatus int

const (
	// stepPending: a create or delete is in flight; check again next pass.
	stepPending stepStatus = iota
	// stepDone: the resource exists and its ID is recorded.
	stepDone
	// stepRemove: the resource failed or vanished; tear the worker down.
	stepRemove
)

// failProvisioningStates are the states in which a resource will never become
// usable.
var failProvisioningStates = map[string]struct{}{
	"Failed":       {},
	"Deleting":     {},
	"Canceled":     {},
	"Deallocating": {},
}

// deleteInFlightStates mean a deletion is already underway, so a removal pass
// has nothing to do but wait.
var deleteInFlightStates = map[string]struct{}{
	"Deleting":     {},
	"Deallocating": {},
	"Deallocated":  {},
}

func isFailProvisioningState(state string) bool {
	_, ok := failProvisioningStates[state]
	return ok
}

func isDeleteInFlightState(state string) bool {
	_, ok := deleteInFlightStates[state]
	return ok
}

// resourceOps adapts one Azure resource class to the generic step engine.
// create is nil for resources that are created implicitly (disks come with
// the VM).
type resourceOps[T any] struct {
	kind              string
	get               func(ctx context.Context, resourceGroupName, name string) (T, error)
	create            func(ctx context.Context, resourceGroupName, name string, config T) (*AsyncOperation, error)
	delete            func(ctx context.Context, resourceGroupName, name string) (*AsyncOperation, error)
	resourceID        func(T) *string
	provisioningState func(T) string
}

// provisionResource drives one resource toward existence. It is idempotent
// and resumable: cloud GETs may 404 both for "never created" and "already
// destroyed", so the stable name is the identity and the recorded operation
// URL disambiguates. At most one mutating cloud call is made per invocation.
func provisionResource[T any](
	ctx context.Context,
	p *Provider,
	pool *api.WorkerPool,
	worker *api.Worker,
	ref *api.ResourceRef,
	ops resourceOps[T],
	config T,
	modify func(T) error,
) (stepStatus, error) {
	if ref.ID != nil {
		return stepDone, nil
	}
	data := worker.ProviderData.Azure

	var resource T
	err := p.gateway.Enqueue(ctx, gateway.BucketGet, p.log, func(ctx context.Context) error {
		var err error
		resource, err = ops.get(ctx, data.ResourceGroupName, ref.Name)
		return err
	})
	switch {
	case err == nil:
		if state := ops.provisioningState(resource); isFailProvisioningState(state) {
			ref.Operation = ""
			return stepRemove, nil
		}
		id := ops.resourceID(resource)
		if id == nil {
			// Created but the id is not visible yet; try again next pass.
			return stepPending, nil
		}
		ref.ID = id
		ref.Operation = ""
		if modify != nil {
			if err := modify(resource); err != nil {
				return stepPending, err
			}
		}
		return stepDone, nil

	case gateway.IsNotFound(err):
		if ref.Operation != "" {
			if p.handleOperation(ctx, pool, ops.kind+" "+ref.Name, ref.Operation) {
				return stepPending, nil
			}
			// The operation finished (or its record is gone) yet the resource
			// still 404s: it was deleted out-of-band.
			return stepRemove, nil
		}
		if ops.create == nil {
			return stepRemove, nil
		}
		var op *AsyncOperation
		err := p.gateway.Enqueue(ctx, gateway.BucketQuery, p.log, func(ctx context.Context) error {
			var err error
			op, err = ops.create(ctx, data.ResourceGroupName, ref.Name, config)
			return err
		})
		if err != nil {
			return stepPending, err
		}
		if op != nil {
			ref.Operation = op.URL
		}
		return stepPending, nil

	default:
		return stepPending, err
	}
}

// removeResource drives one resource toward verified absence. It returns true
// only once a GET has answered 404: absence after a delete attempt is the
// deletion proof. The operation URL from beginDelete is recorded for
// diagnostics but never treated as authoritative.
func removeResource[T any](
	ctx context.Context,
	p *Provider,
	worker *api.Worker,
	ref *api.ResourceRef,
	ops resourceOps[T],
) (bool, error) {
	data := worker.ProviderData.Azure

	shouldDelete := ref.ID != nil
	if !shouldDelete {
		var resource T
		err := p.gateway.Enqueue(ctx, gateway.BucketGet, p.log, func(ctx context.Context) error {
			var err error
			resource, err = ops.get(ctx, data.ResourceGroupName, ref.Name)
			return err
		})
		switch {
		case err == nil:
			if isDeleteInFlightState(ops.provisioningState(resource)) {
				return false, nil
			}
			shouldDelete = true
		case gateway.IsNotFound(err):
			ref.Operation = ""
			ref.ID = nil
			return true, nil
		default:
			return false, err
		}
	}

	var op *AsyncOperation
	err := p.gateway.Enqueue(ctx, gateway.BucketQuery, p.log, func(ctx context.Context) error {
		var err error
		op, err = ops.delete(ctx, data.ResourceGroupName, ref.Name)
		return err
	})
	if err != nil {
		if gateway.IsNotFound(err) {
			ref.Operation = ""
			ref.ID = nil
			return true, nil
		}
		return false, err
	}
	ref.ID = nil
	if op != nil {
		ref.Operation = op.URL
	}
	return false, nil
}

func (p *Provider) vmOps() resourceOps[armcompute.VirtualMachine] {
	vms := p.client.VirtualMachines()
	return resourceOps[armcompute.VirtualMachine]{
		kind:       "vm",
		get:        vms.Get,
		create:     vms.BeginCreateOrUpdate,
		delete:     vms.BeginDelete,
		resourceID: func(vm armcompute.VirtualMachine) *string { return vm.ID },
		provisioningState: func(vm armcompute.VirtualMachine) string {
			if vm.Properties == nil {
				return ""
			}
			return lo.FromPtr(vm.Properties.ProvisioningState)
		},
	}
}

func (p *Provider) nicOps() resourceOps[armnetwork.Interface] {
	nics := p.client.NetworkInterfaces()
	return resourceOps[armnetwork.Interface]{
		kind:       "nic",
		get:        nics.Get,
		create:     nics.BeginCreateOrUpdate,
		delete:     nics.BeginDelete,
		resourceID: func(nic armnetwork.Interface) *string { return nic.ID },
		provisioningState: func(nic armnetwork.Interface) string {
			if nic.Properties == nil || nic.Properties.ProvisioningState == nil {
				return ""
			}
			return string(*nic.Properties.ProvisioningState)
		},
	}
}

func (p *Provider) ipOps() resourceOps[armnetwork.PublicIPAddress] {
	ips := p.client.PublicIPAddresses()
	return resourceOps[armnetwork.PublicIPAddress]{
		kind:       "ip",
		get:        ips.Get,
		create:     ips.BeginCreateOrUpdate,
		delete:     ips.BeginDelete,
		resourceID: func(ip armnetwork.PublicIPAddress) *string { return ip.ID },
		provisioningState: func(ip armnetwork.PublicIPAddress) string {
			if ip.Properties == nil || ip.Properties.ProvisioningState == nil {
				return ""
			}
			return string(*ip.Properties.ProvisioningState)
		},
	}
}

func (p *Provider) diskOps() resourceOps[armcompute.Disk] {
	disks := p.client.Disks()
	return resourceOps[armcompute.Disk]{
		kind:       "disk",
		get:        disks.Get,
		delete:     disks.BeginDelete,
		resourceID: func(d armcompute.Disk) *string { return d.ID },
		provisioningState: func(d armcompute.Disk) string {
			if d.Properties == nil {
				return ""
			}
			return lo.FromPtr(d.Properties.ProvisioningState)
		},
	}
}
