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

// Package estimator decides how much capacity a pool is short.
package estimator

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/taskpool/worker-manager/pkg/api"
)

// WorkerInfo summarizes a pool's demand and live workers for the estimator.
type WorkerInfo struct {
	// ExistingCapacity counts capacity of requested and running workers.
	ExistingCapacity int
	// RequestedCapacity is the capacity demanded of the pool (queue backlog
	// in the full system; the manager falls back to minCapacity).
	RequestedCapacity int
}

// Estimator computes how much capacity to add to a pool this pass.
type Estimator interface {
	SimpleEstimate(ctx context.Context, pool *api.WorkerPool, info WorkerInfo) int
}

type simple struct {
	log logr.Logger
}

func NewSimple(log logr.Logger) Estimator {
	return &simple{log: log}
}

// SimpleEstimate clamps the demanded capacity into [minCapacity, maxCapacity]
// and subtracts what already exists.
func (e *simple) SimpleEstimate(_ context.Context, pool *api.WorkerPool, info WorkerInfo) int {
	cfg := pool.Config
	desired := info.RequestedCapacity
	if desired < cfg.MinCapacity {
		desired = cfg.MinCapacity
	}
	if desired > cfg.MaxCapacity {
		desired = cfg.MaxCapacity
	}
	toSpawn := desired - info.ExistingCapacity
	if toSpawn < 0 {
		toSpawn = 0
	}
	e.log.V(1).Info("estimated capacity",
		"workerPoolId", pool.WorkerPoolID,
		"existingCapacity", info.ExistingCapacity,
		"requestedCapacity", info.RequestedCapacity,
		"toSpawn", toSpawn,
	)
	return toSpawn
}
