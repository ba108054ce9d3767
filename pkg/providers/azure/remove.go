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

	"github.com/taskpool/worker-manager/pkg/api"
	"github.com/taskpool/worker-manager/pkg/logging"
	"github.com/taskpool/worker-manager/pkg/metrics"
	"github.com/taskpool/worker-manager/pkg/notify"
)

// RemoveWorker tears a worker's resources down in reverse dependency order:
// VM first, then NIC, then IP, then the disks. A dependent resource is never
// deleted until its parent is verified gone, so the call is re-entered by
// successive scan passes until everything has vanished; only then does the
// worker become stopped. Deletion errors are collected for ScanCleanup rather
// than failing the pass.
func (p *Provider) RemoveWorker(ctx context.Context, pool *api.WorkerPool, worker *api.Worker) (api.WorkerState, error) {
	if worker.State == api.WorkerStateStopped {
		return api.WorkerStateStopped, nil
	}
	data := worker.ProviderData.Azure

	gone, err := p.removeStep(ctx, worker, "vm", &data.VM.ResourceRef, func() (bool, error) {
		return removeResource(ctx, p, worker, &data.VM.ResourceRef, p.vmOps())
	})
	if err != nil || !gone {
		return api.WorkerStateStopping, err
	}

	gone, err = p.removeStep(ctx, worker, "nic", &data.NIC, func() (bool, error) {
		return removeResource(ctx, p, worker, &data.NIC, p.nicOps())
	})
	if err != nil || !gone {
		return api.WorkerStateStopping, err
	}

	gone, err = p.removeStep(ctx, worker, "ip", &data.IP, func() (bool, error) {
		return removeResource(ctx, p, worker, &data.IP, p.ipOps())
	})
	if err != nil || !gone {
		return api.WorkerStateStopping, err
	}

	// Disks are independent of each other; drive them all each pass.
	allGone := true
	for i := range data.Disks {
		ref := &data.Disks[i]
		diskGone, err := p.removeStep(ctx, worker, "disk", ref, func() (bool, error) {
			return removeResource(ctx, p, worker, ref, p.diskOps())
		})
		if err != nil {
			return api.WorkerStateStopping, err
		}
		allGone = allGone && diskGone
	}
	if !allGone {
		return api.WorkerStateStopping, nil
	}

	now := p.now()
	worker.State = api.WorkerStateStopped
	worker.LastModified = now
	worker.LastChecked = now
	metrics.WorkersRemoved.WithLabelValues(worker.WorkerPoolID).Inc()
	p.log.Info(logging.EventWorkerRemoved,
		logging.WorkerPoolID, worker.WorkerPoolID,
		logging.WorkerID, worker.WorkerID,
	)
	return api.WorkerStateStopped, nil
}

// removeStep runs one resource removal, converting its error into a queued
// deletion report so the rest of the pass can proceed on later invocations.
func (p *Provider) removeStep(ctx context.Context, worker *api.Worker, kind string, ref *api.ResourceRef, remove func() (bool, error)) (bool, error) {
	gone, err := remove()
	if err == nil {
		return gone, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	p.appendScanError(worker.WorkerPoolID, notify.PoolError{
		Kind:        notify.KindDeletionError,
		Title:       "Deletion Error",
		Description: fmt.Sprintf("deleting %s %s for worker %s: %s", kind, ref.Name, worker.WorkerID, err.Error()),
		Extra:       map[string]interface{}{logging.Resource: ref.Name},
	})
	p.log.V(1).Info("resource deletion failed, will retry next pass",
		logging.WorkerPoolID, worker.WorkerPoolID,
		logging.WorkerID, worker.WorkerID,
		logging.Resource, ref.Name,
		"kind", kind,
		"error", err.Error(),
	)
	return false, nil
}
