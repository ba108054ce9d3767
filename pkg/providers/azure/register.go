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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smallstep/pkcs7"

	"github.com/taskpool/worker-manager/pkg/api"
	"github.com/taskpool/worker-manager/pkg/gateway"
	"github.com/taskpool/worker-manager/pkg/logging"
	"github.com/taskpool/worker-manager/pkg/metrics"
	"github.com/taskpool/worker-manager/pkg/providers"
)

// errSignatureValidation is the only registration error callers ever see; the
// real reason is logged but kept away from the (untrusted) caller.
var errSignatureValidation = errors.New("Signature validation error")

const defaultReregistrationTimeout = 96 * time.Hour

// attestedDocument is the signed payload of the Azure attested-metadata
// endpoint, reduced to the fields registration checks.
type attestedDocument struct {
	VMID      string `json:"vmId"`
	TimeStamp struct {
		ExpiresOn string `json:"expiresOn"`
	} `json:"timeStamp"`
}

// attestedTimeLayouts covers the timestamp formats the metadata service has
// been observed to emit.
var attestedTimeLayouts = []string{
	"01/02/06 15:04:05 -0700",
	"01/02/2006 15:04:05 -0700",
	time.RFC3339,
}

// RegisterWorker verifies a worker's attested-metadata document and, on
// success, transitions the worker from requested to running and returns its
// credentials lifetime and config. Every failure mode maps to the same opaque
// error; the distinguishing detail is logged and counted instead.
func (p *Provider) RegisterWorker(ctx context.Context, pool *api.WorkerPool, worker *api.Worker, identityProofDocument string) (*providers.RegistrationResult, error) {
	result, reason, err := p.registerWorker(ctx, pool, worker, identityProofDocument)
	if err != nil {
		metrics.RegistrationErrors.WithLabelValues(reason).Inc()
		p.log.Info(logging.EventRegistrationErrorWarning,
			logging.WorkerPoolID, worker.WorkerPoolID,
			logging.WorkerID, worker.WorkerID,
			"reason", reason,
			"error", err.Error(),
		)
		return nil, errSignatureValidation
	}
	return result, nil
}

func (p *Provider) registerWorker(ctx context.Context, pool *api.WorkerPool, worker *api.Worker, identityProofDocument string) (*providers.RegistrationResult, string, error) {
	data := worker.ProviderData.Azure
	if data == nil {
		return nil, "no-provider-data", fmt.Errorf("worker %s has no azure provider data", worker.WorkerID)
	}

	raw, err := base64.StdEncoding.DecodeString(identityProofDocument)
	if err != nil {
		return nil, "invalid-document", fmt.Errorf("decoding document: %w", err)
	}
	p7, err := pkcs7.Parse(raw)
	if err != nil {
		return nil, "invalid-pkcs7", fmt.Errorf("parsing pkcs7: %w", err)
	}
	if len(p7.Certificates) != 1 {
		return nil, "unexpected-certificates", fmt.Errorf("expected exactly 1 certificate, got %d", len(p7.Certificates))
	}
	if err := p7.VerifyWithChain(p.caPool); err != nil {
		return nil, "signature-verification-failed", fmt.Errorf("verifying signature: %w", err)
	}

	var doc attestedDocument
	if err := json.Unmarshal(p7.Content, &doc); err != nil {
		return nil, "invalid-payload", fmt.Errorf("parsing attested payload: %w", err)
	}
	if doc.VMID == "" {
		return nil, "missing-vmid", errors.New("attested payload has no vmId")
	}

	// The stored vmId may be absent when registration races the first healthy
	// scan; fetch it from the cloud once.
	if data.VM.VMID == "" {
		if err := p.fetchVMID(ctx, worker); err != nil {
			return nil, "vmid-unavailable", fmt.Errorf("fetching vmId for %s: %w", data.VM.Name, err)
		}
	}
	if doc.VMID != data.VM.VMID {
		return nil, "vmid-mismatch", fmt.Errorf("document vmId %s does not match worker vmId %s", doc.VMID, data.VM.VMID)
	}

	expiresOn, err := parseAttestedTime(doc.TimeStamp.ExpiresOn)
	if err != nil {
		return nil, "invalid-timestamp", err
	}
	now := p.now()
	if !expiresOn.After(now) {
		return nil, "document-expired", fmt.Errorf("document expired at %s", expiresOn)
	}

	lifetime := defaultReregistrationTimeout
	if data.ReregistrationTimeout > 0 {
		lifetime = time.Duration(data.ReregistrationTimeout) * time.Millisecond
	}
	expires := now.Add(lifetime)

	// The requested-state check runs inside the row update so a document can
	// only ever be redeemed once.
	_, err = p.store.UpdateWorker(ctx, worker.WorkerPoolID, worker.WorkerGroup, worker.WorkerID, func(w *api.Worker) error {
		if w.State != api.WorkerStateRequested {
			return fmt.Errorf("worker is in state %s, not %s", w.State, api.WorkerStateRequested)
		}
		w.State = api.WorkerStateRunning
		w.LastModified = now
		if w.ProviderData.Azure != nil {
			w.ProviderData.Azure.VM.VMID = data.VM.VMID
			w.ProviderData.Azure.TerminateAfter = expires.UnixMilli()
		}
		return nil
	})
	if err != nil {
		return nil, "wrong-state", err
	}
	worker.State = api.WorkerStateRunning
	data.TerminateAfter = expires.UnixMilli()

	metrics.WorkersRunning.WithLabelValues(worker.WorkerPoolID).Inc()
	p.log.Info(logging.EventWorkerRunning,
		logging.WorkerPoolID, worker.WorkerPoolID,
		logging.WorkerID, worker.WorkerID,
		"expires", expires,
	)
	return &providers.RegistrationResult{
		Expires:      expires,
		WorkerConfig: data.WorkerConfig,
	}, "", nil
}

// fetchVMID reads the VM's immutable vmId from the cloud and persists it.
func (p *Provider) fetchVMID(ctx context.Context, worker *api.Worker) error {
	data := worker.ProviderData.Azure
	var vmID string
	err := p.gateway.Enqueue(ctx, gateway.BucketGet, p.log, func(ctx context.Context) error {
		vm, err := p.client.VirtualMachines().Get(ctx, data.ResourceGroupName, data.VM.Name)
		if err != nil {
			return err
		}
		if vm.Properties == nil || vm.Properties.VMID == nil || *vm.Properties.VMID == "" {
			return fmt.Errorf("vm %s reports no vmId", data.VM.Name)
		}
		vmID = *vm.Properties.VMID
		return nil
	})
	if err != nil {
		return err
	}
	data.VM.VMID = vmID
	_, err = p.store.UpdateWorker(ctx, worker.WorkerPoolID, worker.WorkerGroup, worker.WorkerID, func(w *api.Worker) error {
		if w.ProviderData.Azure != nil {
			w.ProviderData.Azure.VM.VMID = vmID
		}
		return nil
	})
	return err
}

func parseAttestedTime(value string) (time.Time, error) {
	for _, layout := range attestedTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}
