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

// Tenant is a principal with cloud credentials and provisioning policy. It
// owns a subset of queued jobs, identified by matching Job.TenantAddress
// against CondorAddress.
type Tenant struct {
	DBID      int64
	Name      string
	AccessKey string
	SecretKey string

	VPC            string
	Subnet         string            // default subnet, used for on-demand requests
	SubnetID       int64             // subnet_mapping row id for the default subnet
	Subnets        map[string]string // zone -> subnet id, for spot requests
	SubnetsDBID    map[string]int64  // zone -> subnet_mapping row id
	SecurityGroup  string
	KeyPair        string
	PublicIP       string
	Domain         string

	MaxBidPrice float64
	BidPercent  float64 // 0..100
	Timeout     int64   // seconds; 0 disables timeout escalation
	IdleTime    int64   // seconds
	RequestRate int64   // seconds

	CondorAddress string

	// Per-tick working sets.
	Jobs     []*Job
	IdleJobs []*Job
}

// RemoveIdleJob removes job from IdleJobs, if present. It is a no-op
// otherwise. Order of remaining jobs is preserved.
func (t *Tenant) RemoveIdleJob(job *Job) {
	for i, j := range t.IdleJobs {
		if j == job {
			t.IdleJobs = append(t.IdleJobs[:i], t.IdleJobs[i+1:]...)
			return
		}
	}
}
