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

package reconcile_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ggprovisioner/provisioner/pkg/model"
	"github.com/ggprovisioner/provisioner/pkg/reconcile"
)

// fakeLedger is an in-memory FulfillmentStore driven entirely by per-job
// fixture maps, with no database behind it.
type fakeLedger struct {
	fulfilledCPUs      map[string]int
	fulfilledOnDemand  map[string]bool
	recentRequestCount map[string]int
	lifetimeCount      map[string]int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		fulfilledCPUs:      map[string]int{},
		fulfilledOnDemand:  map[string]bool{},
		recentRequestCount: map[string]int{},
		lifetimeCount:      map[string]int{},
	}
}

func (f *fakeLedger) FulfilledCPUs(_ context.Context, _ int64, jobRunnerID string) (int, error) {
	return f.fulfilledCPUs[jobRunnerID], nil
}

func (f *fakeLedger) HasFulfilledOnDemand(_ context.Context, _ int64, jobRunnerID string) (bool, error) {
	return f.fulfilledOnDemand[jobRunnerID], nil
}

func (f *fakeLedger) RecentRequestCount(_ context.Context, _ int64, jobRunnerID string, _ time.Duration) (int, error) {
	return f.recentRequestCount[jobRunnerID], nil
}

func (f *fakeLedger) LifetimeRequestCount(_ context.Context, _ int64, jobRunnerID string) (int, error) {
	return f.lifetimeCount[jobRunnerID], nil
}

var _ = Describe("Reconciler.Run", func() {
	var (
		store  *fakeLedger
		r      *reconcile.Reconciler
		tenant *model.Tenant
		job    *model.Job
	)

	BeforeEach(func() {
		store = newFakeLedger()
		r = reconcile.New(store, 3)
		job = &model.Job{ID: "job-1", ReqCPUs: 4}
		tenant = &model.Tenant{DBID: 1, Name: "t1", RequestRate: 300, IdleJobs: []*model.Job{job}}
	})

	// S6: a job whose fulfilled CPU count meets its request is recognized as
	// fulfilled and dropped from the idle set.
	It("drops a job once enough CPUs have been fulfilled for it (S6)", func() {
		store.fulfilledCPUs[job.ID] = 4
		r.Run(context.Background(), []*model.Tenant{tenant})
		Expect(job.Fulfilled).To(BeTrue())
		Expect(tenant.IdleJobs).To(BeEmpty())
	})

	It("drops a job once any on-demand request for it has been fulfilled, regardless of CPU sum", func() {
		store.fulfilledOnDemand[job.ID] = true
		r.Run(context.Background(), []*model.Tenant{tenant})
		Expect(job.Fulfilled).To(BeTrue())
		Expect(tenant.IdleJobs).To(BeEmpty())
	})

	It("keeps an unfulfilled job in the idle set", func() {
		r.Run(context.Background(), []*model.Tenant{tenant})
		Expect(job.Fulfilled).To(BeFalse())
		Expect(tenant.IdleJobs).To(ContainElement(job))
	})

	// S5: a job requested within the tenant's rate window is removed even
	// though it isn't yet fulfilled, to avoid re-requesting too often.
	It("removes a job requested within the tenant's rate window (S5)", func() {
		store.recentRequestCount[job.ID] = 1
		r.Run(context.Background(), []*model.Tenant{tenant})
		Expect(tenant.IdleJobs).To(BeEmpty())
	})

	It("removes a job once its lifetime request count exceeds the cap", func() {
		store.lifetimeCount[job.ID] = 4
		r.Run(context.Background(), []*model.Tenant{tenant})
		Expect(tenant.IdleJobs).To(BeEmpty())
	})

	It("keeps a job at or below the lifetime request cap", func() {
		store.lifetimeCount[job.ID] = 3
		r.Run(context.Background(), []*model.Tenant{tenant})
		Expect(tenant.IdleJobs).To(ContainElement(job))
	})
})
