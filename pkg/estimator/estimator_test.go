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

package estimator

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"

	"github.com/taskpool/worker-manager/pkg/api"
)

func TestSimpleEstimate(t *testing.T) {
	pool := func(min, max int) *api.WorkerPool {
		return &api.WorkerPool{
			WorkerPoolID: "prov/pool",
			Config:       api.WorkerPoolConfig{MinCapacity: min, MaxCapacity: max},
		}
	}

	tests := []struct {
		name     string
		pool     *api.WorkerPool
		info     WorkerInfo
		expected int
	}{
		{name: "empty pool fills to min", pool: pool(2, 10), info: WorkerInfo{}, expected: 2},
		{name: "demand above max is clamped", pool: pool(0, 5), info: WorkerInfo{RequestedCapacity: 100}, expected: 5},
		{name: "demand below min is raised", pool: pool(3, 10), info: WorkerInfo{RequestedCapacity: 1}, expected: 3},
		{name: "existing capacity subtracts", pool: pool(0, 10), info: WorkerInfo{RequestedCapacity: 6, ExistingCapacity: 4}, expected: 2},
		{name: "overfull pool spawns nothing", pool: pool(0, 10), info: WorkerInfo{RequestedCapacity: 2, ExistingCapacity: 8}, expected: 0},
		{name: "satisfied pool spawns nothing", pool: pool(1, 10), info: WorkerInfo{RequestedCapacity: 1, ExistingCapacity: 1}, expected: 0},
	}
	est := NewSimple(logr.Discard())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, est.SimpleEstimate(context.Background(), tc.pool, tc.info))
		})
	}
}
