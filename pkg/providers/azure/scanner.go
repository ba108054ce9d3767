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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/samber/lo"

	"github.com/taskpool/worker-manager/pkg/api"
	"github.com/taskpool/worker-manager/pkg/gateway"
	"github.com/taskpool/worker-manager/pkg/logging"
	"github.com/taskpool/worker-manager/pkg/notify"
)

// okProvisioningStates are VM states in which the instance is, or is becoming,
// usable.
var okProvisioningStates = map[string]struct{}{
	"Succeeded": {},
	"Creating":  {},
	"Updating":  {},
}

// healthyPowerStates are instance-view power codes of a live worker.
var healthyPowerStates = map[string]struct{}{
	"PowerState/running":  {},
	"PowerState/starting": {},
}

const (
	// Healthy workers whose expiry drifts closer than this get extended.
	expiresRenewThreshold = 24 * time.Hour
	expiresRenewTo        = 7 * 24 * time.Hour
)

// errScanSuperseded aborts a scan persist when the row changed state while
// the pass held a stale snapshot, e.g. a worker registering between the read
// and the write. The row's newer state wins; the next pass rescans from it.
var errScanSuperseded = errors.New("worker state advanced during scan")

// CheckWorker drives one worker one step along its lifecycle: provisioning
// while requested, health checks while running, teardown when the VM has
// failed or disappeared. The updated worker row is persisted before
// returning; a transient cloud error leaves the row untouched for the next
// pass.
func (p *Provider) CheckWorker(ctx context.Context, pool *api.WorkerPool, worker *api.Worker) error {
	if worker.State == api.WorkerStateStopped {
		return nil
	}
	if worker.ProviderData.Azure == nil {
		return fmt.Errorf("worker %s/%s has no azure provider data", worker.WorkerPoolID, worker.WorkerID)
	}
	prevState := worker.State
	data := worker.ProviderData.Azure
	migrateLegacyDisk(data)

	switch {
	case worker.State == api.WorkerStateStopping:
		// Teardown already underway; keep driving it.
		if err := p.removeWorkerNow(ctx, pool, worker); err != nil {
			return err
		}
	case worker.State == api.WorkerStateRequested && data.VM.ID == nil:
		// The resource pipeline is still building; its VM step does its own
		// GET and failure classification.
		if err := p.advanceProvisioning(ctx, pool, worker); err != nil {
			return err
		}
	default:
		if err := p.checkWorkerVM(ctx, pool, worker); err != nil {
			return err
		}
	}

	now := p.now()
	worker.LastChecked = now
	if worker.State != prevState {
		worker.LastModified = now
	}
	_, err := p.store.UpdateWorker(ctx, worker.WorkerPoolID, worker.WorkerGroup, worker.WorkerID, func(w *api.Worker) error {
		if w.State != prevState {
			return errScanSuperseded
		}
		w.State = worker.State
		w.Expires = worker.Expires
		w.LastChecked = worker.LastChecked
		w.LastModified = worker.LastModified
		w.ProviderData = worker.ProviderData
		return nil
	})
	if errors.Is(err, errScanSuperseded) {
		p.log.V(1).Info("worker row advanced during scan, discarding observations",
			logging.WorkerPoolID, worker.WorkerPoolID,
			logging.WorkerID, worker.WorkerID,
		)
		return nil
	}
	return err
}

func (p *Provider) checkWorkerVM(ctx context.Context, pool *api.WorkerPool, worker *api.Worker) error {
	data := worker.ProviderData.Azure

	var vm armcompute.VirtualMachine
	err := p.gateway.Enqueue(ctx, gateway.BucketGet, p.log, func(ctx context.Context) error {
		var err error
		vm, err = p.client.VirtualMachines().Get(ctx, data.ResourceGroupName, data.VM.Name)
		return err
	})
	switch {
	case err == nil:
		return p.checkExistingVM(ctx, pool, worker, vm)
	case gateway.IsNotFound(err):
		return p.checkMissingVM(ctx, pool, worker)
	default:
		return err
	}
}

// checkExistingVM classifies a VM the cloud still knows about.
func (p *Provider) checkExistingVM(ctx context.Context, pool *api.WorkerPool, worker *api.Worker, vm armcompute.VirtualMachine) error {
	data := worker.ProviderData.Azure
	state := ""
	if vm.Properties != nil {
		state = lo.FromPtr(vm.Properties.ProvisioningState)
	}

	if isFailProvisioningState(state) {
		return p.removeWorkerNow(ctx, pool, worker)
	}
	if _, ok := okProvisioningStates[state]; !ok {
		p.reportPoolError(ctx, pool.WorkerPoolID, notify.PoolError{
			Kind:        notify.KindCreationError,
			Title:       "Creation Error",
			Description: fmt.Sprintf("vm %s is in unexpected provisioning state %q", data.VM.Name, state),
			Extra:       map[string]interface{}{logging.VMName: data.VM.Name},
		})
		return p.removeWorkerNow(ctx, pool, worker)
	}

	power, err := p.vmPowerState(ctx, data)
	if err != nil {
		if gateway.IsNotFound(err) {
			return p.checkMissingVM(ctx, pool, worker)
		}
		return err
	}
	if _, ok := healthyPowerStates[power]; !ok {
		p.reportPoolError(ctx, pool.WorkerPoolID, notify.PoolError{
			Kind:        notify.KindCreationError,
			Title:       "Creation Error",
			Description: fmt.Sprintf("vm %s is in unexpected power state %q", data.VM.Name, power),
			Extra:       map[string]interface{}{logging.VMName: data.VM.Name},
		})
		return p.removeWorkerNow(ctx, pool, worker)
	}

	// Healthy. Record the vmId while we have it; registration needs it.
	if data.VM.VMID == "" && vm.Properties != nil && vm.Properties.VMID != nil {
		data.VM.VMID = *vm.Properties.VMID
	}
	now := p.now()
	if data.TerminateAfter > 0 && now.UnixMilli() > data.TerminateAfter {
		return p.removeWorkerNow(ctx, pool, worker)
	}
	p.seenCapacity(worker.WorkerPoolID, worker.Capacity)
	if worker.Expires.Before(now.Add(expiresRenewThreshold)) {
		worker.Expires = now.Add(expiresRenewTo)
	}
	return nil
}

// advanceProvisioning runs one provision-pipeline step. A step error is a
// creation error: it is reported to the pool's owner and the worker is torn
// down.
func (p *Provider) advanceProvisioning(ctx context.Context, pool *api.WorkerPool, worker *api.Worker) error {
	removeRequested, err := p.provisionWorker(ctx, pool, worker)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.reportPoolError(ctx, pool.WorkerPoolID, notify.PoolError{
			Kind:        notify.KindCreationError,
			Title:       "Creation Error",
			Description: fmt.Sprintf("provisioning worker %s: %s", worker.WorkerID, err.Error()),
			Extra:       map[string]interface{}{logging.WorkerID: worker.WorkerID},
		})
		return p.removeWorkerNow(ctx, pool, worker)
	}
	if removeRequested {
		return p.removeWorkerNow(ctx, pool, worker)
	}
	return nil
}

// checkMissingVM handles a 404 on a VM whose creation already completed: the
// VM vanished out-of-band, so the worker is done.
func (p *Provider) checkMissingVM(ctx context.Context, pool *api.WorkerPool, worker *api.Worker) error {
	p.log.V(1).Info("vm not found for live worker, removing",
		logging.WorkerPoolID, worker.WorkerPoolID,
		logging.WorkerID, worker.WorkerID,
		logging.VMName, worker.ProviderData.Azure.VM.Name,
	)
	return p.removeWorkerNow(ctx, pool, worker)
}

func (p *Provider) vmPowerState(ctx context.Context, data *api.AzureProviderData) (string, error) {
	var view armcompute.VirtualMachineInstanceView
	err := p.gateway.Enqueue(ctx, gateway.BucketGet, p.log, func(ctx context.Context) error {
		var err error
		view, err = p.client.VirtualMachines().InstanceView(ctx, data.ResourceGroupName, data.VM.Name)
		return err
	})
	if err != nil {
		return "", err
	}
	for _, status := range view.Statuses {
		if status == nil || status.Code == nil {
			continue
		}
		if strings.HasPrefix(*status.Code, "PowerState/") {
			return *status.Code, nil
		}
	}
	return "", nil
}

func (p *Provider) removeWorkerNow(ctx context.Context, pool *api.WorkerPool, worker *api.Worker) error {
	state, err := p.RemoveWorker(ctx, pool, worker)
	if err != nil {
		return err
	}
	worker.State = state
	return nil
}

// migrateLegacyDisk upgrades rows written before multiple data disks were
// supported, where a single disk reference lived in its own field.
func migrateLegacyDisk(data *api.AzureProviderData) {
	if data.Disk != nil && len(data.Disks) == 0 {
		data.Disks = []api.ResourceRef{*data.Disk}
	}
	data.Disk = nil
}
