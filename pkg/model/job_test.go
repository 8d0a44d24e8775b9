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

package model_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ggprovisioner/provisioner/pkg/model"
)

var _ = Describe("ParseJobDescription", func() {
	It("boolean-converts \"true\" for any key kept in Extra, and keeps other values as strings", func() {
		desc := model.ParseJobDescription(`k1=v1,k2=true,k3=False`)
		Expect(desc.Extra).To(HaveKeyWithValue("k1", "v1"))
		Expect(desc.Extra).To(HaveKeyWithValue("k2", true))
		Expect(desc.Extra).To(HaveKeyWithValue("k3", "False"))
	})

	It("extracts known fields and keeps the rest in Extra", func() {
		desc := model.ParseJobDescription(`"ondemand=true,tool=blast,version=2.1,custom=x"`)
		Expect(desc.OnDemand).To(BeTrue())
		Expect(desc.Tool).To(Equal("blast"))
		Expect(desc.Version).To(Equal("2.1"))
		Expect(desc.Extra).To(HaveKeyWithValue("custom", "x"))
	})

	It("recognizes \"true\" case-insensitively for ondemand as for every other key", func() {
		desc := model.ParseJobDescription(`ondemand=TRUE`)
		Expect(desc.OnDemand).To(BeTrue())

		desc = model.ParseJobDescription(`ondemand=False`)
		Expect(desc.OnDemand).To(BeFalse())
	})

	It("skips malformed key=value pairs", func() {
		desc := model.ParseJobDescription(`good=1,malformed,another=2`)
		Expect(desc.Extra).To(HaveKeyWithValue("good", "1"))
		Expect(desc.Extra).To(HaveKeyWithValue("another", "2"))
		Expect(desc.Extra).To(HaveLen(2))
	})

	It("returns an empty description for an empty string", func() {
		desc := model.ParseJobDescription("")
		Expect(desc.OnDemand).To(BeFalse())
		Expect(desc.Extra).To(BeEmpty())
	})
})

var _ = Describe("Job.IsIdleCandidate", func() {
	It("is true for a status-1 job queued longer than idle_time", func() {
		j := &model.Job{Status: model.JobStatusIdle, ReqTime: 1000}
		Expect(j.IsIdleCandidate(1100, 50)).To(BeTrue())
	})

	It("is false for a job that hasn't waited long enough", func() {
		j := &model.Job{Status: model.JobStatusIdle, ReqTime: 1080}
		Expect(j.IsIdleCandidate(1100, 50)).To(BeFalse())
	})

	It("is false for a non-idle status even if it has waited long enough", func() {
		j := &model.Job{Status: 2, ReqTime: 1000}
		Expect(j.IsIdleCandidate(1100, 50)).To(BeFalse())
	})
})

var _ = Describe("NewJob", func() {
	It("normalizes memory and disk above 1024 to GB", func() {
		j := model.NewJob("tenant#1", "1", model.JobStatusIdle, 1000, 4, 2048, 4096, "")
		Expect(j.ReqMem).To(Equal(2.0))
		Expect(j.ReqDisk).To(Equal(4.0))
	})

	It("leaves values at or below 1024 unchanged", func() {
		j := model.NewJob("tenant#1", "1", model.JobStatusIdle, 1000, 4, 8, 20, "")
		Expect(j.ReqMem).To(Equal(8.0))
		Expect(j.ReqDisk).To(Equal(20.0))
	})

	It("seeds OnDemand from the parsed description", func() {
		j := model.NewJob("tenant#1", "1", model.JobStatusIdle, 1000, 4, 8, 20, "ondemand=true")
		Expect(j.OnDemand).To(BeTrue())
	})
})
