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

package selector_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ggprovisioner/provisioner/pkg/ledger"
	"github.com/ggprovisioner/provisioner/pkg/model"
	"github.com/ggprovisioner/provisioner/pkg/selector"
)

// fakeStore is an in-memory ExistingRequestStore: a fixed set of open
// requests keyed by job ID, with no database behind it.
type fakeStore struct {
	open map[string][]ledger.OpenRequestKey
	err  error
}

func (f *fakeStore) OpenRequestsFor(_ context.Context, _ int64, jobRunnerID string) ([]ledger.OpenRequestKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.open[jobRunnerID], nil
}

func catalogFixture() []*model.InstanceType {
	return []*model.InstanceType{
		{DBID: 1, Type: "small.spot", CPUs: 4, Memory: 8, Disk: 20, OnDemand: 0.20,
			Spot: map[string]float64{"us-east-1a": 0.05, "us-east-1b": 0.08}},
		{DBID: 2, Type: "big.ondemand", CPUs: 4, Memory: 8, Disk: 20, OnDemand: 0.25,
			Spot: map[string]float64{"us-east-1a": 0.21}},
	}
}

var _ = Describe("Selector.Select", func() {
	var (
		store   *fakeStore
		sel     *selector.Selector
		tenant  *model.Tenant
		job     *model.Job
		catalog []*model.InstanceType
	)

	BeforeEach(func() {
		store = &fakeStore{open: map[string][]ledger.OpenRequestKey{}}
		sel = selector.New(store, 0.8, 3, 0.40)
		tenant = &model.Tenant{DBID: 1, Name: "t1", MaxBidPrice: 1.0, BidPercent: 70}
		job = &model.Job{ID: "job-1", ReqCPUs: 4, ReqMem: 8, ReqDisk: 20, ReqTime: 1000}
		catalog = catalogFixture()
	})

	// S1: the cheapest eligible spot candidate is selected when nothing
	// forces escalation to on-demand.
	It("selects the cheapest spot candidate (S1)", func() {
		sel.Select(context.Background(), time.Unix(1001, 0), tenant, job, catalog)
		Expect(job.Launch).NotTo(BeNil())
		Expect(job.Launch.OnDemand).To(BeFalse())
		Expect(job.Launch.InstanceType).To(Equal("small.spot"))
		Expect(job.Launch.Zone).To(Equal("us-east-1a"))
	})

	// S2: once the job has waited past the tenant's timeout, escalate to the
	// cheapest eligible on-demand instance regardless of spot pricing.
	It("escalates to on-demand after the tenant's timeout elapses (S2)", func() {
		tenant.Timeout = 100
		job.ReqTime = 1000
		sel.Select(context.Background(), time.Unix(1200, 0), tenant, job, catalog)
		Expect(job.Launch).NotTo(BeNil())
		Expect(job.Launch.OnDemand).To(BeTrue())
		Expect(job.OnDemand).To(BeTrue())
		Expect(job.Launch.InstanceType).To(Equal("small.spot")) // cheapest on-demand price
	})

	// S3: when the cheapest candidate's spot price is within the configured
	// proximity of its own on-demand price, escalate to on-demand rather
	// than bid close to full price for a spot instance.
	It("escalates to on-demand when the cheapest spot price is close to on-demand (S3)", func() {
		catalog = []*model.InstanceType{
			{DBID: 1, Type: "near.ondemand", CPUs: 4, Memory: 8, Disk: 20, OnDemand: 0.20,
				Spot: map[string]float64{"us-east-1a": 0.19}},
		}
		sel.Select(context.Background(), time.Unix(1001, 0), tenant, job, catalog)
		Expect(job.Launch).NotTo(BeNil())
		Expect(job.Launch.OnDemand).To(BeTrue())
	})

	// S4: a candidate already requested (same instance type + zone) is
	// skipped in favor of the next-cheapest candidate.
	It("skips a duplicate (instance type, zone) pair already outstanding (S4)", func() {
		store.open[job.ID] = []ledger.OpenRequestKey{{InstanceType: "small.spot", Zone: "us-east-1a"}}
		sel.Select(context.Background(), time.Unix(1001, 0), tenant, job, catalog)
		Expect(job.Launch).NotTo(BeNil())
		Expect(job.Launch.Zone).NotTo(Equal("us-east-1a"))
	})

	It("drops the job when too many requests are already outstanding", func() {
		store.open[job.ID] = []ledger.OpenRequestKey{
			{InstanceType: "a", Zone: "z1"},
			{InstanceType: "b", Zone: "z2"},
			{InstanceType: "c", Zone: "z3"},
		}
		tenant.IdleJobs = []*model.Job{job}
		sel.Select(context.Background(), time.Unix(1001, 0), tenant, job, catalog)
		Expect(job.Launch).To(BeNil())
		Expect(tenant.IdleJobs).To(BeEmpty())
	})

	It("assigns no launch when no instance type meets its resource request", func() {
		job.ReqCPUs = 999
		tenant.IdleJobs = []*model.Job{job}
		sel.Select(context.Background(), time.Unix(1001, 0), tenant, job, catalog)
		Expect(job.Launch).To(BeNil())
	})
})
