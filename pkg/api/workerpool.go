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

package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
)

// NullProviderID is the sentinel provider ID meaning the pool is scheduled
// for deletion: no new workers are provisioned and remaining workers are
// reaped as they terminate.
const NullProviderID = "null-provider"

// WorkerPool is a named set of workers sharing a config and provider.
// WorkerPoolID has the form "provisioner/type".
type WorkerPool struct {
	WorkerPoolID string `json:"workerPoolId"`
	ProviderID   string `json:"providerId"`
	Owner        string `json:"owner"`

	// PreviousProviderIDs records providers that used to own the pool, most
	// recent first. Workers created under those providers are still honored.
	PreviousProviderIDs []string `json:"previousProviderIds,omitempty"`

	Config WorkerPoolConfig `json:"config"`

	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
}

// WorkerPoolConfig is the persisted JSON configuration of a pool.
type WorkerPoolConfig struct {
	MinCapacity   int            `json:"minCapacity"`
	MaxCapacity   int            `json:"maxCapacity"`
	Lifecycle     Lifecycle      `json:"lifecycle,omitempty"`
	LaunchConfigs []LaunchConfig `json:"launchConfigs"`
}

// Lifecycle bounds how long a worker may take to (re)register. Values are in
// seconds; they are denormalized onto worker records in milliseconds.
type Lifecycle struct {
	RegistrationTimeout   *int64 `json:"registrationTimeout,omitempty"`
	ReregistrationTimeout *int64 `json:"reregistrationTimeout,omitempty"`
}

// LaunchConfig is one alternative spec for creating a worker within a pool;
// the provisioner samples uniformly from the pool's list.
type LaunchConfig struct {
	CapacityPerInstance int    `json:"capacityPerInstance"`
	SubnetID            string `json:"subnetId"`
	Location            string `json:"location"`

	HardwareProfile *armcompute.HardwareProfile `json:"hardwareProfile,omitempty"`
	StorageProfile  *armcompute.StorageProfile  `json:"storageProfile,omitempty"`
	OSProfile       *armcompute.OSProfile       `json:"osProfile,omitempty"`
	NetworkProfile  *armcompute.NetworkProfile  `json:"networkProfile,omitempty"`
	BillingProfile  *armcompute.BillingProfile  `json:"billingProfile,omitempty"`

	Tags         map[string]string      `json:"tags,omitempty"`
	WorkerConfig map[string]interface{} `json:"workerConfig,omitempty"`
}

// Validate applies the structural checks that do not need provider knowledge.
func (p *WorkerPool) Validate() error {
	if !strings.Contains(p.WorkerPoolID, "/") {
		return fmt.Errorf("workerPoolId %q is not of the form provisioner/type", p.WorkerPoolID)
	}
	if p.Config.MaxCapacity < p.Config.MinCapacity {
		return fmt.Errorf("maxCapacity %d is below minCapacity %d", p.Config.MaxCapacity, p.Config.MinCapacity)
	}
	if p.ProviderID != NullProviderID && len(p.Config.LaunchConfigs) == 0 {
		return fmt.Errorf("pool %s has no launch configs", p.WorkerPoolID)
	}
	for i, lc := range p.Config.LaunchConfigs {
		if lc.CapacityPerInstance <= 0 {
			return fmt.Errorf("launchConfigs[%d].capacityPerInstance must be positive", i)
		}
	}
	return nil
}

// DeepCopy returns a full copy of the pool via a JSON round trip.
func (p *WorkerPool) DeepCopy() *WorkerPool {
	cp, err := deepCopy(p)
	if err != nil {
		panic(fmt.Sprintf("copying worker pool %s: %s", p.WorkerPoolID, err))
	}
	return cp
}
