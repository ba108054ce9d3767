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

// Package notify carries provider-detected errors back to worker-pool owners.
package notify

import (
	"context"

	"github.com/go-logr/logr"
)

// Kind classifies a reported pool error.
type Kind string

const (
	KindCreationError  Kind = "creation-error"
	KindDeletionError  Kind = "deletion-error"
	KindOperationError Kind = "operation-error"
)

// PoolError is one error surfaced to a worker pool's owner.
type PoolError struct {
	WorkerPoolID string
	Kind         Kind
	Title        string
	Description  string
	Extra        map[string]interface{}
}

// Notifier delivers pool errors. The production system forwards these to the
// notification service; the default implementation records them in the log.
type Notifier interface {
	ReportError(ctx context.Context, pe PoolError) error
}

type logNotifier struct {
	log logr.Logger
}

func NewLogNotifier(log logr.Logger) Notifier {
	return &logNotifier{log: log}
}

func (n *logNotifier) ReportError(_ context.Context, pe PoolError) error {
	n.log.Info("worker pool error reported",
		"workerPoolId", pe.WorkerPoolID,
		"kind", string(pe.Kind),
		"title", pe.Title,
		"description", pe.Description,
		"extra", pe.Extra,
	)
	return nil
}
