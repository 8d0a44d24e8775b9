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

// RequestType identifies the pricing mode a Ledger entry was placed under.
type RequestType string

const (
	RequestTypeSpot     RequestType = "spot"
	RequestTypeOnDemand RequestType = "ondemand"
)

// Request is a candidate (instance-type, zone, pricing-mode) combination the
// Selector may choose to launch. It is also reused, once chosen, to carry
// the bid actually placed.
type Request struct {
	Instance     *InstanceType
	InstanceType string
	Zone         string // empty for on-demand
	AMI          string
	Count        int
	Bid          float64 // effective bid placed at request time
	OnDemand     bool
	ODP          float64 // on-demand price, carried for comparison
	Price        float64 // the price used for sorting
}

// NewOnDemandRequest builds a Request for launching i on-demand. It always
// satisfies the invariant Zone == "" && Price == ODP.
func NewOnDemandRequest(i *InstanceType) *Request {
	return &Request{
		Instance:     i,
		InstanceType: i.Type,
		Zone:         "",
		AMI:          i.AMI,
		Count:        1,
		OnDemand:     true,
		ODP:          i.OnDemand,
		Price:        i.OnDemand,
	}
}

// NewSpotRequest builds a Request for bidding on i in zone at spotPrice.
func NewSpotRequest(i *InstanceType, zone string, spotPrice float64) *Request {
	return &Request{
		Instance:     i,
		InstanceType: i.Type,
		Zone:         zone,
		AMI:          i.AMI,
		Count:        1,
		OnDemand:     false,
		ODP:          i.OnDemand,
		Price:        spotPrice,
	}
}
