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
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/google/uuid"

	"github.com/taskpool/worker-manager/pkg/api"
	"github.com/taskpool/worker-manager/pkg/estimator"
	"github.com/taskpool/worker-manager/pkg/logging"
	"github.com/taskpool/worker-manager/pkg/metrics"
	"github.com/taskpool/worker-manager/pkg/notify"
)

const (
	maxIPNameLength       = 24
	maxNICNameLength      = 24
	maxComputerNameLength = 15

	workerExpiry = 7 * 24 * time.Hour
)

// Reserved tag keys. Whatever the launch config says, these are always
// overwritten with provider-controlled values.
const (
	tagCreatedBy    = "created-by"
	tagManagedBy    = "managed-by"
	tagProviderID   = "provider-id"
	tagWorkerGroup  = "worker-group"
	tagWorkerPoolID = "worker-pool-id"
	tagRootURL      = "root-url"
	tagOwner        = "owner"
)

// Provision creates worker records to close the gap between the pool's
// existing capacity and its estimated demand. Only records are written here;
// the scanner builds the actual cloud resources on subsequent passes.
func (p *Provider) Provision(ctx context.Context, pool *api.WorkerPool, info estimator.WorkerInfo) error {
	toSpawn := p.estimator.SimpleEstimate(ctx, pool, info)
	if toSpawn <= 0 {
		return nil
	}
	if len(pool.Config.LaunchConfigs) == 0 {
		p.reportPoolError(ctx, pool.WorkerPoolID, notify.PoolError{
			Kind:        notify.KindCreationError,
			Title:       "Creation Error",
			Description: "pool needs capacity but has no launch configs",
		})
		return fmt.Errorf("pool %s has no launch configs", pool.WorkerPoolID)
	}

	spawned := 0
	for spawned < toSpawn {
		lc := pool.Config.LaunchConfigs[rand.IntN(len(pool.Config.LaunchConfigs))]
		worker := p.newWorker(pool, lc)
		if err := p.store.CreateWorker(ctx, worker); err != nil {
			return fmt.Errorf("creating worker %s: %w", worker.WorkerID, err)
		}
		metrics.WorkersRequested.WithLabelValues(pool.WorkerPoolID).Inc()
		p.log.Info(logging.EventWorkerRequested,
			logging.WorkerPoolID, pool.WorkerPoolID,
			logging.WorkerGroup, worker.WorkerGroup,
			logging.WorkerID, worker.WorkerID,
			"capacity", worker.Capacity,
		)
		spawned += worker.Capacity
	}
	return nil
}

// newWorker mints the stable resource names up front; everything the pipeline
// does later is idempotent against them.
func (p *Provider) newWorker(pool *api.WorkerPool, lc api.LaunchConfig) *api.Worker {
	now := p.now()
	vmName := mintVMName()
	capacity := lc.CapacityPerInstance
	if capacity < 1 {
		capacity = 1
	}

	data := &api.AzureProviderData{
		Location:          lc.Location,
		ResourceGroupName: p.cfg.ResourceGroupName,
		SubnetID:          lc.SubnetID,
		Tags:              p.computeTags(pool, lc),
		VM: api.VirtualMachineRef{
			ResourceRef:  api.ResourceRef{Name: vmName},
			ComputerName: mintName("", maxComputerNameLength),
			Config: &armcompute.VirtualMachine{
				Properties: &armcompute.VirtualMachineProperties{
					HardwareProfile: lc.HardwareProfile,
					StorageProfile:  lc.StorageProfile,
					OSProfile:       lc.OSProfile,
					NetworkProfile:  lc.NetworkProfile,
					BillingProfile:  lc.BillingProfile,
				},
			},
		},
		IP:           api.ResourceRef{Name: mintName("pip-", maxIPNameLength)},
		NIC:          api.ResourceRef{Name: mintName("nic-", maxNICNameLength)},
		WorkerConfig: lc.WorkerConfig,
	}
	if t := pool.Config.Lifecycle.RegistrationTimeout; t != nil {
		data.TerminateAfter = now.Add(time.Duration(*t) * time.Second).UnixMilli()
	}
	if t := pool.Config.Lifecycle.ReregistrationTimeout; t != nil {
		data.ReregistrationTimeout = *t * 1000
	}

	return &api.Worker{
		WorkerPoolID: pool.WorkerPoolID,
		WorkerGroup:  lc.Location,
		WorkerID:     vmName,
		ProviderID:   p.providerID,
		State:        api.WorkerStateRequested,
		Capacity:     capacity,
		Created:      now,
		LastModified: now,
		LastChecked:  now,
		Expires:      now.Add(workerExpiry),
		ProviderData: api.ProviderData{Azure: data},
	}
}

// computeTags merges the launch config's tags with the reserved keys, which
// always win.
func (p *Provider) computeTags(pool *api.WorkerPool, lc api.LaunchConfig) map[string]string {
	tags := make(map[string]string, len(lc.Tags)+7)
	for k, v := range lc.Tags {
		tags[k] = v
	}
	tags[tagCreatedBy] = "worker-manager-" + p.providerID
	tags[tagManagedBy] = "worker-manager"
	tags[tagProviderID] = p.providerID
	tags[tagWorkerGroup] = lc.Location
	tags[tagWorkerPoolID] = pool.WorkerPoolID
	tags[tagRootURL] = p.cfg.RootURL
	tags[tagOwner] = pool.Owner
	return tags
}

// nicerID returns a long random identifier of lowercase letters and digits,
// safe for use inside Azure resource names.
func nicerID() string {
	raw := uuid.New().String() + uuid.New().String()
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// mintVMName builds "vm-<id>-<id>", truncated to the VM name limit. The VM
// name doubles as the worker ID.
func mintVMName() string {
	name := "vm-" + nicerID() + "-" + nicerID()
	if len(name) > api.MaxWorkerIDLength {
		name = name[:api.MaxWorkerIDLength]
	}
	return strings.TrimRight(name, "-")
}

func mintName(prefix string, maxLen int) string {
	name := prefix + nicerID()
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return strings.TrimRight(name, "-")
}
