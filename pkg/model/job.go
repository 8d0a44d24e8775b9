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

import "strings"

// JobStatusIdle is the job-scheduler status value that marks a job as
// queued and unclaimed by any worker.
const JobStatusIdle = 1

// JobDescription is the parsed form of a job's free-form description string.
// The scheduler encodes it as a comma-separated key=value list; this type
// pulls out the fields the provisioner reads and keeps the rest for
// forward-compatibility.
type JobDescription struct {
	OnDemand bool
	Tool     string
	Version  string

	// Extra holds every key not pulled into a named field above, keyed by
	// name. A value of "true" (case-insensitive) is stored as a bool, the
	// same overflow-bag shape the original's process_job_description used;
	// every other value, including "false" and "False", is stored as the
	// raw string.
	Extra map[string]interface{}
}

// ParseJobDescription parses a comma-separated key=value string into a
// JobDescription. A value of "true" (case-insensitive) is recognized as the
// boolean true for ondemand and for every key kept in Extra; every other
// Extra value, including "false" and "False", is kept as a raw string, and
// tool and version are always kept as raw strings. Malformed "key=value"
// pairs (no "=") are skipped.
func ParseJobDescription(raw string) JobDescription {
	desc := JobDescription{Extra: map[string]interface{}{}}
	raw = strings.Trim(raw, `"`)
	if raw == "" {
		return desc
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, value := kv[0], kv[1]
		isTrue := strings.EqualFold(value, "true")

		switch key {
		case "ondemand":
			desc.OnDemand = isTrue
		case "tool":
			desc.Tool = value
		case "version":
			desc.Version = value
		default:
			if isTrue {
				desc.Extra[key] = true
			} else {
				desc.Extra[key] = value
			}
		}
	}
	return desc
}

// Job is a single unit of work read from the external job scheduler.
type Job struct {
	ID             string
	TenantAddress  string
	Status         int
	ReqTime        int64 // epoch seconds the job was queued
	ReqCPUs        int
	ReqMem         float64 // GB
	ReqDisk        float64 // GB
	Description    JobDescription

	// Mutable per-tick state.
	Fulfilled bool
	Launch    *Request
	OnDemand  bool // may be escalated by the Selector; seeded from Description.OnDemand
}

// IsIdleCandidate reports whether the job is eligible to be added to a
// tenant's idle set: queued and waiting at least idleTime seconds.
func (j *Job) IsIdleCandidate(now int64, idleTimeSeconds int64) bool {
	return j.Status == JobStatusIdle && j.ReqTime <= now-idleTimeSeconds
}

// normalizeMemoryOrDisk converts a raw scheduler value to GB. Scheduler
// values above 1024 are assumed to be reported in MB.
func normalizeMemoryOrDisk(raw float64) float64 {
	if raw > 1024 {
		return raw / 1024
	}
	return raw
}

// NewJob constructs a Job from raw scheduler fields, normalizing memory and
// disk to GB and seeding OnDemand/Tool/Version from the parsed description.
func NewJob(tenantAddress, id string, status int, reqTime int64, reqCPUs int, rawMem, rawDisk float64, descRaw string) *Job {
	desc := ParseJobDescription(descRaw)
	return &Job{
		ID:            id,
		TenantAddress: tenantAddress,
		Status:        status,
		ReqTime:       reqTime,
		ReqCPUs:       reqCPUs,
		ReqMem:        normalizeMemoryOrDisk(rawMem),
		ReqDisk:       normalizeMemoryOrDisk(rawDisk),
		Description:   desc,
		OnDemand:      desc.OnDemand,
	}
}
