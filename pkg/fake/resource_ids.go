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
	"fmt"
	"net/http"

	sdkerrors "github.com/Azure/azure-sdk-for-go-extensions/pkg/errors"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

const subscriptionID = "subscriptionID" // not important for fake

func mkVirtualMachineID(resourceGroupName, vmName string) string {
	const idFormat = "/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Compute/virtualMachines/%s"
	return fmt.Sprintf(idFormat, subscriptionID, resourceGroupName, vmName)
}

func mkNetworkInterfaceID(resourceGroupName, interfaceName string) string {
	const idFormat = "/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Network/networkInterfaces/%s"
	return fmt.Sprintf(idFormat, subscriptionID, resourceGroupName, interfaceName)
}

func mkPublicIPAddressID(resourceGroupName, publicIPName string) string {
	const idFormat = "/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Network/publicIPAddresses/%s"
	return fmt.Sprintf(idFormat, subscriptionID, resourceGroupName, publicIPName)
}

func mkDiskID(resourceGroupName, diskName string) string {
	const idFormat = "/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Compute/disks/%s"
	return fmt.Sprintf(idFormat, subscriptionID, resourceGroupName, diskName)
}

func mkOperationURL(resourceGroupName, kind, name string) string {
	const urlFormat = "https://management.azure.com/subscriptions/%s/resourceGroups/%s/operations/%s-%s"
	return fmt.Sprintf(urlFormat, subscriptionID, resourceGroupName, kind, name)
}

func notFoundError() *azcore.ResponseError {
	return &azcore.ResponseError{
		ErrorCode:  sdkerrors.ResourceNotFound,
		StatusCode: http.StatusNotFound,
	}
}
