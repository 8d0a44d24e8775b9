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

// InstanceType is a catalog row describing one cloud instance SKU, plus the
// per-tick spot price snapshot for every zone it has been observed in.
type InstanceType struct {
	DBID     int64
	Type     string
	CPUs     int
	Memory   float64 // GB
	Disk     float64 // GB
	OnDemand float64 // on-demand price
	AMI      string

	// Spot is refreshed once per tick by the price view: zone -> price.
	Spot map[string]float64
}

// MeetsRequirements reports whether the instance type satisfies a job's
// resource request.
func (i *InstanceType) MeetsRequirements(job *Job) bool {
	return i.CPUs >= job.ReqCPUs && i.Memory >= job.ReqMem && i.Disk >= job.ReqDisk
}
