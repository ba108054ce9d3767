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
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
)

// WorkerState is the lifecycle state of a worker record. Transitions are
// requested -> running -> stopping -> stopped; stopped is terminal.
type WorkerState string

const (
	WorkerStateRequested WorkerState = "requested"
	WorkerStateRunning   WorkerState = "running"
	WorkerStateStopping  WorkerState = "stopping"
	WorkerStateStopped   WorkerState = "stopped"
)

const (
	// MaxWorkerIDLength is the longest worker ID (= Azure VM name) we mint.
	MaxWorkerIDLength = 38
)

var workerIDRegexp = regexp.MustCompile(`^[a-z]([-a-z0-9]*[a-z0-9])?$`)

// ValidWorkerID reports whether id is usable as an Azure VM name.
func ValidWorkerID(id string) bool {
	return len(id) <= MaxWorkerIDLength && workerIDRegexp.MatchString(id)
}

// Worker is the persistent record for one cloud worker: a VM plus its
// supporting IP address, network interface and disks.
type Worker struct {
	WorkerPoolID string      `json:"workerPoolId"`
	WorkerGroup  string      `json:"workerGroup"` // Azure location
	WorkerID     string      `json:"workerId"`    // VM name
	ProviderID   string      `json:"providerId"`
	State        WorkerState `json:"state"`
	Capacity     int         `json:"capacity"`

	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	LastChecked  time.Time `json:"lastChecked"`
	Expires      time.Time `json:"expires"`

	ProviderData ProviderData `json:"providerData"`
}

// ProviderData is a tagged variant: exactly one provider's bag is set,
// matching the provider that owns the worker.
type ProviderData struct {
	Azure *AzureProviderData `json:"azure,omitempty"`
}

// AzureProviderData tracks the Azure resources backing one worker. For each
// resource the (Name, Operation, ID) triple obeys: ID set means the resource
// exists and is fully created; Operation set with ID unset means a create or
// delete is in flight; both unset means not started or already deleted.
type AzureProviderData struct {
	Location          string            `json:"location"`
	ResourceGroupName string            `json:"resourceGroupName"`
	SubnetID          string            `json:"subnetId"`
	Tags              map[string]string `json:"tags,omitempty"`

	VM    VirtualMachineRef `json:"vm"`
	IP    ResourceRef       `json:"ip"`
	NIC   ResourceRef       `json:"nic"`
	Disks []ResourceRef     `json:"disks,omitempty"`

	// Disk is the legacy singular field; the scanner migrates it into Disks.
	Disk *ResourceRef `json:"disk,omitempty"`

	TerminateAfter        int64                  `json:"terminateAfter,omitempty"`        // epoch ms
	ReregistrationTimeout int64                  `json:"reregistrationTimeout,omitempty"` // ms
	WorkerConfig          map[string]interface{} `json:"workerConfig,omitempty"`
}

// ResourceRef is the persisted (name, operation, id) triple for one cloud
// resource. Name is assigned at worker creation and is the idempotency key
// for all cloud operations on the resource.
type ResourceRef struct {
	Name      string  `json:"name"`
	Operation string  `json:"operation,omitempty"` // async-operation poll URL
	ID        *string `json:"id,omitempty"`
}

// VirtualMachineRef extends ResourceRef with the VM-only fields.
type VirtualMachineRef struct {
	ResourceRef
	ComputerName string                     `json:"computerName,omitempty"`
	Config       *armcompute.VirtualMachine `json:"config,omitempty"`
	VMID         string                     `json:"vmId,omitempty"`
}

// DeepCopy returns a full copy of the worker via a JSON round trip. Every
// persisted field is JSON-serializable, so this is both safe and keeps the
// copy semantics identical to what the store persists.
func (w *Worker) DeepCopy() *Worker {
	cp, err := deepCopy(w)
	if err != nil {
		panic(fmt.Sprintf("copying worker %s: %s", w.WorkerID, err))
	}
	return cp
}

func deepCopy[T any](v *T) (*T, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	cp := new(T)
	if err := json.NewDecoder(&buf).Decode(cp); err != nil {
		return nil, err
	}
	return cp, nil
}
