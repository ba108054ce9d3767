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

package logging

// Event names form a stable structured-log schema; downstream alerting keys
// on them, so treat changes as breaking.
const (
	EventWorkerRequested          = "workerRequested"
	EventWorkerRunning            = "workerRunning"
	EventWorkerRemoved            = "workerRemoved"
	EventScanSeen                 = "scanSeen"
	EventRegistrationErrorWarning = "registrationErrorWarning"
)

const (
	// MARK: Common Keys
	// > Note: we should only define common log keys here, that we want to ensure consistency between logging occurrences
	// > No need to define every adhoc key.

	WorkerPoolID = "workerPoolId"
	WorkerGroup  = "workerGroup"
	WorkerID     = "workerId"
	ProviderID   = "providerId"
	Resource     = "resource"
	Operation    = "operation"
	VMName       = "vmName"
)
