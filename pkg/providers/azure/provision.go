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
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork"
	"github.com/samber/lo"

	"github.com/taskpool/worker-manager/pkg/api"
)

// provisionWorker advances a requested worker's resource pipeline by at most
// one step: IP, then NIC, then VM. Completing a step returns; the next scan
// pass continues. removeRequested is true when a resource landed in a failed
// state and the worker must be torn down (without an error report).
func (p *Provider) provisionWorker(ctx context.Context, pool *api.WorkerPool, worker *api.Worker) (removeRequested bool, err error) {
	data := worker.ProviderData.Azure

	// Step 1: public IP.
	if data.IP.ID == nil {
		status, err := provisionResource(ctx, p, pool, worker, &data.IP, p.ipOps(), p.ipConfig(data), nil)
		if err != nil || status != stepDone {
			return status == stepRemove, err
		}
		return false, nil
	}

	// Step 2: NIC, wired to the IP and recorded into the VM config.
	if data.NIC.ID == nil {
		status, err := provisionResource(ctx, p, pool, worker, &data.NIC, p.nicOps(), p.nicConfig(data), func(nic armnetwork.Interface) error {
			return attachNIC(data, nic)
		})
		if err != nil || status != stepDone {
			return status == stepRemove, err
		}
		return false, nil
	}

	// Step 3: the VM itself. Disk names are read back after creation.
	if data.VM.ID == nil {
		vmConfig, err := p.vmConfig(pool, worker)
		if err != nil {
			return false, err
		}
		status, err := provisionResource(ctx, p, pool, worker, &data.VM.ResourceRef, p.vmOps(), vmConfig, func(vm armcompute.VirtualMachine) error {
			recordVMResults(data, vm)
			return nil
		})
		if err != nil || status != stepDone {
			return status == stepRemove, err
		}
	}
	return false, nil
}

func (p *Provider) ipConfig(data *api.AzureProviderData) armnetwork.PublicIPAddress {
	return armnetwork.PublicIPAddress{
		Location: lo.ToPtr(data.Location),
		Tags:     tagsToPtrMap(data.Tags),
		Properties: &armnetwork.PublicIPAddressPropertiesFormat{
			PublicIPAllocationMethod: lo.ToPtr(armnetwork.IPAllocationMethodDynamic),
		},
	}
}

func (p *Provider) nicConfig(data *api.AzureProviderData) armnetwork.Interface {
	return armnetwork.Interface{
		Location: lo.ToPtr(data.Location),
		Tags:     tagsToPtrMap(data.Tags),
		Properties: &armnetwork.InterfacePropertiesFormat{
			IPConfigurations: []*armnetwork.InterfaceIPConfiguration{{
				Name: lo.ToPtr("ipconfig1"),
				Properties: &armnetwork.InterfaceIPConfigurationPropertiesFormat{
					PrivateIPAllocationMethod: lo.ToPtr(armnetwork.IPAllocationMethodDynamic),
					Subnet:                    &armnetwork.Subnet{ID: lo.ToPtr(data.SubnetID)},
					PublicIPAddress:           &armnetwork.PublicIPAddress{ID: data.IP.ID},
				},
			}},
		},
	}
}

// attachNIC persists the NIC reference into the stored VM config so the later
// VM create request carries it.
func attachNIC(data *api.AzureProviderData, nic armnetwork.Interface) error {
	if nic.ID == nil {
		return fmt.Errorf("nic %s has no id", data.NIC.Name)
	}
	if data.VM.Config == nil {
		data.VM.Config = &armcompute.VirtualMachine{}
	}
	if data.VM.Config.Properties == nil {
		data.VM.Config.Properties = &armcompute.VirtualMachineProperties{}
	}
	data.VM.Config.Properties.NetworkProfile = &armcompute.NetworkProfile{
		NetworkInterfaces: []*armcompute.NetworkInterfaceReference{{
			ID: nic.ID,
			Properties: &armcompute.NetworkInterfaceReferenceProperties{
				Primary: lo.ToPtr(true),
			},
		}},
	}
	return nil
}

// vmConfig assembles the create request from the stored template. The admin
// credentials and custom data are request-only: they are generated fresh and
// never persisted.
func (p *Provider) vmConfig(pool *api.WorkerPool, worker *api.Worker) (armcompute.VirtualMachine, error) {
	data := worker.ProviderData.Azure

	vm := armcompute.VirtualMachine{}
	if data.VM.Config != nil {
		cp, err := deepCopyJSON(data.VM.Config)
		if err != nil {
			return armcompute.VirtualMachine{}, fmt.Errorf("copying vm config: %w", err)
		}
		vm = *cp
	}
	vm.Location = lo.ToPtr(data.Location)
	vm.Tags = tagsToPtrMap(data.Tags)
	if vm.Properties == nil {
		vm.Properties = &armcompute.VirtualMachineProperties{}
	}

	// Cloud-generated disk names are authoritative; user-supplied ones are
	// silently dropped.
	stripDiskNames(vm.Properties.StorageProfile)

	password, err := generateAdminPassword()
	if err != nil {
		return armcompute.VirtualMachine{}, err
	}
	customData, err := p.customData(pool, worker)
	if err != nil {
		return armcompute.VirtualMachine{}, err
	}
	if vm.Properties.OSProfile == nil {
		vm.Properties.OSProfile = &armcompute.OSProfile{}
	}
	vm.Properties.OSProfile.ComputerName = lo.ToPtr(data.VM.ComputerName)
	vm.Properties.OSProfile.AdminUsername = lo.ToPtr("wm-" + nicerID()[:13])
	vm.Properties.OSProfile.AdminPassword = lo.ToPtr(password)
	vm.Properties.OSProfile.CustomData = lo.ToPtr(customData)
	return vm, nil
}

func stripDiskNames(profile *armcompute.StorageProfile) {
	if profile == nil {
		return
	}
	if profile.OSDisk != nil {
		profile.OSDisk.Name = nil
	}
	for _, disk := range profile.DataDisks {
		if disk != nil {
			disk.Name = nil
		}
	}
}

// customData is consumed by the worker at boot to find its pool and its way
// back to registerWorker.
func (p *Provider) customData(pool *api.WorkerPool, worker *api.Worker) (string, error) {
	data := worker.ProviderData.Azure
	payload, err := json.Marshal(map[string]interface{}{
		"workerPoolId": worker.WorkerPoolID,
		"providerId":   p.providerID,
		"workerGroup":  worker.WorkerGroup,
		"rootUrl":      p.cfg.RootURL,
		"workerConfig": data.WorkerConfig,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling custom data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// recordVMResults persists what only the created VM can tell us: its vmId and
// the cloud-generated disk names (with managed-disk ids when available).
func recordVMResults(data *api.AzureProviderData, vm armcompute.VirtualMachine) {
	if vm.Properties == nil {
		return
	}
	if vm.Properties.VMID != nil {
		data.VM.VMID = *vm.Properties.VMID
	}
	profile := vm.Properties.StorageProfile
	if profile == nil {
		return
	}
	var disks []api.ResourceRef
	if profile.OSDisk != nil && profile.OSDisk.Name != nil {
		disks = append(disks, diskRef(*profile.OSDisk.Name, profile.OSDisk.ManagedDisk))
	}
	for _, dd := range profile.DataDisks {
		if dd != nil && dd.Name != nil {
			disks = append(disks, diskRef(*dd.Name, dd.ManagedDisk))
		}
	}
	data.Disks = disks
}

func diskRef(name string, managed *armcompute.ManagedDiskParameters) api.ResourceRef {
	ref := api.ResourceRef{Name: name}
	if managed != nil && managed.ID != nil && *managed.ID != "" {
		ref.ID = managed.ID
	}
	return ref
}

func tagsToPtrMap(tags map[string]string) map[string]*string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		out[k] = lo.ToPtr(v)
	}
	return out
}

func deepCopyJSON[T any](v *T) (*T, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	cp := new(T)
	if err := json.Unmarshal(raw, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

const (
	adminPasswordLength = 72

	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars   = "0123456789"
	specialChars = "!@#$%^&*()-_=+[]{}<>?"
)

// generateAdminPassword returns a 72-character password containing at least
// one character from each of the four classes. Drawing from printable class
// alphabets only means no control characters can appear.
func generateAdminPassword() (string, error) {
	classes := []string{lowerChars, upperChars, digitChars, specialChars}
	all := lowerChars + upperChars + digitChars + specialChars

	buf := make([]byte, adminPasswordLength)
	for i, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	for i := len(classes); i < adminPasswordLength; i++ {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	// Fisher-Yates so the guaranteed class characters are not predictable
	// by position.
	for i := len(buf) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		buf[i], buf[j.Int64()] = buf[j.Int64()], buf[i]
	}
	return string(buf), nil
}

func randomChar(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, err
	}
	return alphabet[n.Int64()], nil
}
