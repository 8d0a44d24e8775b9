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

// Package queue retrieves the global job queue from the external scheduler
// and attaches each job to its owning tenant. Modeled as a capability
// interface per Design Notes §9, the way the original factored
// BaseScheduler out from CondorScheduler, so another scheduler probe can be
// added without touching the provisioning loop.
package queue

import (
	"context"
	"time"

	"github.com/ggprovisioner/provisioner/pkg/model"
)

// Prober retrieves the full set of queued jobs across all tenants.
type Prober interface {
	GetGlobalQueue(ctx context.Context) ([]*model.Job, error)
}

// ProcessGlobalQueue attaches each job to its owning tenant by matching
// Job.TenantAddress against Tenant.CondorAddress, appending to
// Tenant.Jobs, and additionally to Tenant.IdleJobs when the job is an idle
// candidate for that tenant's configured idle_time. now is passed in rather
// than read from the clock so selection logic stays deterministic in tests.
func ProcessGlobalQueue(now time.Time, jobs []*model.Job, tenants []*model.Tenant) {
	nowUnix := now.Unix()
	for _, t := range tenants {
		for _, j := range jobs {
			if j.TenantAddress != t.CondorAddress {
				continue
			}
			t.Jobs = append(t.Jobs, j)
			if j.IsIdleCandidate(nowUnix, t.IdleTime) {
				t.IdleJobs = append(t.IdleJobs, j)
			}
		}
	}
}
