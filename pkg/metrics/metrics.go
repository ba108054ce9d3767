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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "worker_manager"

var (
	CloudAPICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cloud",
		Name:      "api_calls_total",
		Help:      "Cloud API calls issued through the gateway, by bucket and outcome.",
	}, []string{"bucket", "outcome"})

	CloudAPIRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cloud",
		Name:      "api_retries_total",
		Help:      "Retries performed by the gateway, by bucket and HTTP status.",
	}, []string{"bucket", "status"})

	WorkersRequested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workers",
		Name:      "requested_total",
		Help:      "Worker records created by the provisioner.",
	}, []string{"worker_pool"})

	WorkersRunning = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workers",
		Name:      "registered_total",
		Help:      "Workers that completed identity-proof registration.",
	}, []string{"worker_pool"})

	WorkersRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workers",
		Name:      "removed_total",
		Help:      "Workers fully removed (all cloud resources verified gone).",
	}, []string{"worker_pool"})

	RegistrationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workers",
		Name:      "registration_errors_total",
		Help:      "Failed registerWorker calls, by rejection reason.",
	}, []string{"reason"})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scanner",
		Name:      "pass_duration_seconds",
		Help:      "Wall time of one full scan pass.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"provider"})
)
