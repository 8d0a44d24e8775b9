/*
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

package model

import "time"

// LedgerEntry is a durable record of an outstanding (or since-fulfilled)
// instance request, mirroring the instance_request table.
type LedgerEntry struct {
	ID             int64
	Tenant         int64
	InstanceType   int64 // instance_type.id
	Price          float64
	JobRunnerID    string
	RequestType    RequestType
	RequestID      string
	Subnet         int64
	RequestTime    time.Time

	// Fulfilled and CPUs are not stored columns of instance_request. The
	// ledger package does not fill them in: its fulfillment queries
	// (FulfilledCPUs, HasFulfilledOnDemand) return their results directly.
	Fulfilled bool
	CPUs      int
}
