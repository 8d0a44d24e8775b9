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

package requester_test

import (
	"context"
	"errors"
	"text/template"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ggprovisioner/provisioner/pkg/model"
	"github.com/ggprovisioner/provisioner/pkg/requester"
)

// fakeEC2 implements cloudapi.EC2API entirely in memory, with optional
// injected failures for the tagging-retry tests.
type fakeEC2 struct {
	runInstancesIDs []string
	spotRequestIDs  []string
	createTagsErrs  []error // consumed in order, one per CreateTags call
	createTagsCalls int
}

func (f *fakeEC2) RunInstances(_ context.Context, _ *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	var instances []types.Instance
	for _, id := range f.runInstancesIDs {
		instances = append(instances, types.Instance{InstanceId: aws.String(id)})
	}
	return &ec2.RunInstancesOutput{Instances: instances}, nil
}

func (f *fakeEC2) RequestSpotInstances(_ context.Context, _ *ec2.RequestSpotInstancesInput, _ ...func(*ec2.Options)) (*ec2.RequestSpotInstancesOutput, error) {
	var reqs []types.SpotInstanceRequest
	for _, id := range f.spotRequestIDs {
		reqs = append(reqs, types.SpotInstanceRequest{SpotInstanceRequestId: aws.String(id)})
	}
	return &ec2.RequestSpotInstancesOutput{SpotInstanceRequests: reqs}, nil
}

func (f *fakeEC2) CreateTags(_ context.Context, _ *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	defer func() { f.createTagsCalls++ }()
	if f.createTagsCalls < len(f.createTagsErrs) {
		return nil, f.createTagsErrs[f.createTagsCalls]
	}
	return &ec2.CreateTagsOutput{}, nil
}

func (f *fakeEC2) DescribeSpotPriceHistory(_ context.Context, _ *ec2.DescribeSpotPriceHistoryInput, _ ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error) {
	return &ec2.DescribeSpotPriceHistoryOutput{}, nil
}

// fakeLedger records every appended entry in memory.
type fakeLedger struct {
	entries []*model.LedgerEntry
	err     error
}

func (f *fakeLedger) Append(_ context.Context, e *model.LedgerEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func newTestRequester(led *fakeLedger) *requester.Requester {
	tmpl := template.Must(template.New("cloudinit").Parse("domain={{.Domain}} cpus={{.CPUs}} ip={{.IPAddr}}"))
	r := requester.New(led, tmpl)
	r.TagRetryDelay = time.Millisecond
	return r
}

var _ = Describe("Requester.RequestAll", func() {
	var (
		led    *fakeLedger
		tenant *model.Tenant
		it     *model.InstanceType
	)

	BeforeEach(func() {
		led = &fakeLedger{}
		it = &model.InstanceType{DBID: 7, Type: "m5.large", CPUs: 4, AMI: "ami-1", OnDemand: 0.2}
		tenant = &model.Tenant{DBID: 1, Name: "t1", PublicIP: "10.0.0.1", Domain: "example.com",
			Subnets: map[string]string{"us-east-1a": "subnet-a"}, SubnetsDBID: map[string]int64{"us-east-1a": 42}}
	})

	It("appends one ledger entry per instance id returned by an on-demand launch", func() {
		job := &model.Job{ID: "job-1", ReqCPUs: 4, Launch: model.NewOnDemandRequest(it)}
		tenant.IdleJobs = []*model.Job{job}
		client := &fakeEC2{runInstancesIDs: []string{"i-1", "i-2"}}

		r := newTestRequester(led)
		r.RequestAll(context.Background(), client, tenant)

		Expect(led.entries).To(HaveLen(2))
		Expect(led.entries[0].RequestType).To(Equal(model.RequestTypeOnDemand))
		Expect(led.entries[0].JobRunnerID).To(Equal("job-1"))
	})

	It("appends one ledger entry per request id returned by a spot launch", func() {
		job := &model.Job{ID: "job-2", ReqCPUs: 4, Launch: model.NewSpotRequest(it, "us-east-1a", 0.05)}
		job.Launch.Bid = 0.07
		tenant.IdleJobs = []*model.Job{job}
		client := &fakeEC2{spotRequestIDs: []string{"sir-1"}}

		r := newTestRequester(led)
		r.RequestAll(context.Background(), client, tenant)

		Expect(led.entries).To(HaveLen(1))
		Expect(led.entries[0].RequestType).To(Equal(model.RequestTypeSpot))
		Expect(led.entries[0].Price).To(Equal(0.07))
		Expect(led.entries[0].Subnet).To(Equal(int64(42)))
	})

	It("skips jobs that are already fulfilled or have no chosen launch", func() {
		fulfilled := &model.Job{ID: "job-3", Fulfilled: true, Launch: model.NewOnDemandRequest(it)}
		noLaunch := &model.Job{ID: "job-4"}
		tenant.IdleJobs = []*model.Job{fulfilled, noLaunch}
		client := &fakeEC2{runInstancesIDs: []string{"i-1"}}

		r := newTestRequester(led)
		r.RequestAll(context.Background(), client, tenant)

		Expect(led.entries).To(BeEmpty())
	})

	It("ledgers a request even when tagging fails after exhausting retries", func() {
		job := &model.Job{ID: "job-5", ReqCPUs: 4, Launch: model.NewOnDemandRequest(it)}
		tenant.IdleJobs = []*model.Job{job}
		client := &fakeEC2{
			runInstancesIDs: []string{"i-1"},
			createTagsErrs:  []error{errors.New("throttled"), errors.New("throttled"), errors.New("throttled")},
		}

		r := newTestRequester(led)
		r.TagRetryCount = 3
		r.RequestAll(context.Background(), client, tenant)

		Expect(led.entries).To(HaveLen(1))
		Expect(client.createTagsCalls).To(Equal(3))
	})

	It("succeeds tagging after a transient failure within the retry budget", func() {
		job := &model.Job{ID: "job-6", ReqCPUs: 4, Launch: model.NewOnDemandRequest(it)}
		tenant.IdleJobs = []*model.Job{job}
		client := &fakeEC2{
			runInstancesIDs: []string{"i-1"},
			createTagsErrs:  []error{errors.New("throttled")},
		}

		r := newTestRequester(led)
		r.TagRetryCount = 3
		r.RequestAll(context.Background(), client, tenant)

		Expect(led.entries).To(HaveLen(1))
		Expect(client.createTagsCalls).To(Equal(2))
	})
})
