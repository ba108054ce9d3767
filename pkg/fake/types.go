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

// Package fake provides hand-written fakes for the cloud API surface, backed
// by in-memory resource maps so multi-pass pipeline behavior can be tested
// without a cloud.
package fake

import (
	"sync/atomic"
)

// MockedFunction wraps one API method of a fake: tests may pin a canned
// Output or Error, and every invocation records its input and outcome.
// When nothing is pinned, Invoke falls through to the defaultTransformer,
// which implements the method against the fake's in-memory resources.
type MockedFunction[I any, O any] struct {
	Output          AtomicPtr[O]      // canned result; when set, the default transformer is skipped
	CalledWithInput AtomicPtrSlice[I] // inputs captured from non-erroring invocations
	Error           AtomicError       // canned error, delivered before anything else runs

	successfulCalls atomic.Int32
	failedCalls     atomic.Int32
}

// Reset clears canned outputs, captured inputs and call counts. Tests
// sharing a fake call it between cases.
func (m *MockedFunction[I, O]) Reset() {
	m.Output.Reset()
	m.CalledWithInput.Reset()
	m.Error.Reset()

	m.successfulCalls.Store(0)
	m.failedCalls.Store(0)
}

func (m *MockedFunction[I, O]) Invoke(input *I, defaultTransformer func(*I) (O, error)) (O, error) {
	err := m.Error.Get()
	if err != nil {
		m.failedCalls.Add(1)
		return *new(O), err
	}
	m.CalledWithInput.Add(input)

	if !m.Output.IsNil() {
		m.successfulCalls.Add(1)
		return *m.Output.Clone(), nil
	}
	out, err := defaultTransformer(input)
	if err != nil {
		m.failedCalls.Add(1)
	} else {
		m.successfulCalls.Add(1)
	}
	return out, err
}

func (m *MockedFunction[I, O]) Calls() int {
	return m.SuccessfulCalls() + m.FailedCalls()
}

func (m *MockedFunction[I, O]) SuccessfulCalls() int {
	return int(m.successfulCalls.Load())
}

func (m *MockedFunction[I, O]) FailedCalls() int {
	return int(m.failedCalls.Load())
}
