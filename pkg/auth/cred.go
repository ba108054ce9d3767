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

package auth

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// NewCredential builds the service-principal credential used for all ARM
// calls.
func NewCredential(cfg *Config) (azcore.TokenCredential, error) {
	cred, err := azidentity.NewClientSecretCredential(cfg.Domain, cfg.ClientID, cfg.Secret, nil)
	if err != nil {
		return nil, fmt.Errorf("creating client secret credential: %w", err)
	}
	return cred, nil
}
