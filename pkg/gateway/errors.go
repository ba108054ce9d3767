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

package gateway

import (
	"errors"
	"net/http"

	sdkerrors "github.com/Azure/azure-sdk-for-go-extensions/pkg/errors"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// StatusCode extracts the HTTP status from an Azure SDK error chain, or 0 for
// transport and non-HTTP errors.
func StatusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is an HTTP 404 from the cloud. The step
// engine treats 404 as "resource absent", never as a failure.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if StatusCode(err) == http.StatusNotFound {
		return true
	}
	return sdkerrors.IsNotFoundErr(err)
}
