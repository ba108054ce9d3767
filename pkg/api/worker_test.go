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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidWorkerID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{id: "vm-abc123-def456", valid: true},
		{id: "a", valid: true},
		{id: "a1", valid: true},
		{id: "vm-" + strings.Repeat("a", 35), valid: true},  // exactly 38
		{id: "vm-" + strings.Repeat("a", 36), valid: false}, // 39
		{id: "", valid: false},
		{id: "1vm", valid: false},       // must start with a letter
		{id: "vm-abc-", valid: false},   // must not end with a hyphen
		{id: "VM-ABC", valid: false},    // lowercase only
		{id: "vm_abc", valid: false},    // no underscores
		{id: "vm.abc", valid: false},    // no dots
	}
	for _, tc := range tests {
		assert.Equal(t, tc.valid, ValidWorkerID(tc.id), tc.id)
	}
}

func TestWorkerDeepCopy(t *testing.T) {
	id := "/subscriptions/s/resourceGroups/rg/providers/Microsoft.Network/publicIPAddresses/pip-x"
	w := &Worker{
		WorkerPoolID: "prov/pool",
		WorkerGroup:  "westus2",
		WorkerID:     "vm-abc",
		State:        WorkerStateRequested,
		Capacity:     1,
		ProviderData: ProviderData{Azure: &AzureProviderData{
			Location: "westus2",
			Tags:     map[string]string{"k": "v"},
			IP:       ResourceRef{Name: "pip-x", ID: &id},
			VM:       VirtualMachineRef{ResourceRef: ResourceRef{Name: "vm-abc"}},
		}},
	}

	cp := w.DeepCopy()
	require.Empty(t, cmp.Diff(w, cp))

	// The copy shares nothing with the original.
	cp.ProviderData.Azure.Tags["k"] = "changed"
	*cp.ProviderData.Azure.IP.ID = "changed"
	assert.Equal(t, "v", w.ProviderData.Azure.Tags["k"])
	assert.Equal(t, id, lo.FromPtr(w.ProviderData.Azure.IP.ID))
}

func TestWorkerPoolValidate(t *testing.T) {
	valid := &WorkerPool{
		WorkerPoolID: "prov/pool",
		ProviderID:   "azure",
		Config: WorkerPoolConfig{
			MaxCapacity:   5,
			LaunchConfigs: []LaunchConfig{{CapacityPerInstance: 1}},
		},
	}
	assert.NoError(t, valid.Validate())

	bad := valid.DeepCopy()
	bad.WorkerPoolID = "no-slash"
	assert.Error(t, bad.Validate())

	bad = valid.DeepCopy()
	bad.Config.MinCapacity = 10
	assert.Error(t, bad.Validate())

	bad = valid.DeepCopy()
	bad.Config.LaunchConfigs = nil
	assert.Error(t, bad.Validate())

	bad = valid.DeepCopy()
	bad.Config.LaunchConfigs[0].CapacityPerInstance = 0
	assert.Error(t, bad.Validate())

	// Null-provider pools are being drained and need no launch configs.
	nullPool := valid.DeepCopy()
	nullPool.ProviderID = NullProviderID
	nullPool.Config.LaunchConfigs = nil
	assert.NoError(t, nullPool.Validate())
}
