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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"

	"github.com/taskpool/worker-manager/pkg/api"
	"github.com/taskpool/worker-manager/pkg/gateway"
	"github.com/taskpool/worker-manager/pkg/logging"
	"github.com/taskpool/worker-manager/pkg/notify"
)

// OperationError is the error body an async operation may report.
type OperationError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// OperationResult is one observation of an async operation.
type OperationResult struct {
	// Found is false when the operation URL answered 404.
	Found  bool            `json:"-"`
	Status string          `json:"status,omitempty"`
	Error  *OperationError `json:"error,omitempty"`
}

const operationStatusInProgress = "InProgress"

// operationsClient polls async-operation URLs through a plain ARM pipeline;
// the URLs are absolute, so no generated client applies.
type operationsClient struct {
	pl runtime.Pipeline
}

var _ OperationsAPI = (*operationsClient)(nil)

func newOperationsClient(cred azcore.TokenCredential, opts *arm.ClientOptions) (*operationsClient, error) {
	client, err := arm.NewClient("workermanager.OperationsClient", "v1.0.0", cred, opts)
	if err != nil {
		return nil, err
	}
	return &operationsClient{pl: client.Pipeline()}, nil
}

func (c *operationsClient) Poll(ctx context.Context, operationURL string) (OperationResult, error) {
	req, err := runtime.NewRequest(ctx, http.MethodGet, operationURL)
	if err != nil {
		return OperationResult{}, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return OperationResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return OperationResult{Found: false}, nil
	}
	if !runtime.HasStatusCode(resp, http.StatusOK, http.StatusCreated, http.StatusAccepted) {
		return OperationResult{}, runtime.NewResponseError(resp)
	}
	body, err := runtime.Payload(resp)
	if err != nil {
		return OperationResult{}, err
	}
	result := OperationResult{Found: true}
	if err := json.Unmarshal(body, &result); err != nil {
		return OperationResult{}, fmt.Errorf("parsing operation status: %w", err)
	}
	return result, nil
}

// handleOperation reports whether the async operation behind operationURL is
// still in progress. Transport errors count as in-progress so the next pass
// retries; a 404 on the URL means the operation record is gone and the
// outcome must be judged from the resource itself. Operation-reported errors
// are surfaced to the pool's owner.
//
// Note the poller deliberately ignores Retry-After; buckets already pace all
// reads.
func (p *Provider) handleOperation(ctx context.Context, pool *api.WorkerPool, resource string, operationURL string) bool {
	var result OperationResult
	err := p.gateway.Enqueue(ctx, gateway.BucketOpRead, p.log, func(ctx context.Context) error {
		var err error
		result, err = p.client.Operations().Poll(ctx, operationURL)
		return err
	})
	if err != nil {
		if gateway.IsNotFound(err) {
			return false
		}
		p.log.V(1).Info("polling operation failed, treating as in progress",
			logging.WorkerPoolID, pool.WorkerPoolID,
			logging.Operation, operationURL,
			"error", err.Error(),
		)
		return true
	}
	if !result.Found {
		return false
	}
	if result.Status == operationStatusInProgress {
		return true
	}
	if result.Error != nil {
		p.reportPoolError(ctx, pool.WorkerPoolID, notify.PoolError{
			Kind:        notify.KindOperationError,
			Title:       "Operation Error",
			Description: fmt.Sprintf("operation on %s failed: %s (%s)", resource, result.Error.Message, result.Error.Code),
			Extra:       map[string]interface{}{"operation": operationURL},
		})
	}
	return false
}
