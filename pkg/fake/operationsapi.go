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

package fake

import (
	"context"
	"sync"

	"github.com/taskpool/worker-manager/pkg/providers/azure"
)

type OperationPollInput struct {
	OperationURL string
}

type OperationsBehavior struct {
	OperationsPollBehavior MockedFunction[OperationPollInput, azure.OperationResult]

	// Operations maps operation URL -> azure.OperationResult. Unknown URLs
	// poll as Succeeded, matching the common case where the operation
	// finished and its record expired.
	Operations sync.Map
}

// assert that the fake implements the interface
var _ azure.OperationsAPI = (*OperationsAPI)(nil)

type OperationsAPI struct {
	OperationsBehavior
}

// Reset must be called between tests otherwise tests will pollute each other.
func (c *OperationsAPI) Reset() {
	c.OperationsPollBehavior.Reset()
	c.Operations.Range(func(k, v any) bool {
		c.Operations.Delete(k)
		return true
	})
}

func (c *OperationsAPI) Poll(_ context.Context, operationURL string) (azure.OperationResult, error) {
	input := &OperationPollInput{OperationURL: operationURL}
	return c.OperationsPollBehavior.Invoke(input, func(input *OperationPollInput) (azure.OperationResult, error) {
		if result, ok := c.Operations.Load(input.OperationURL); ok {
			return result.(azure.OperationResult), nil
		}
		return azure.OperationResult{Found: true, Status: "Succeeded"}, nil
	})
}
