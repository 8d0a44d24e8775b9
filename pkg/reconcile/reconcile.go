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

// Package reconcile runs the two-phase pass that keeps idle_jobs honest
// against the Ledger: Phase A drops jobs that are already fulfilled, Phase B
// throttles jobs that have been requested too often or too recently.
// Grounded on ignore_fulfilled_jobs and stop_over_requesting.
package reconcile

import (
	"context"
	"time"

	"github.com/ggprovisioner/provisioner/pkg/logging"
	"github.com/ggprovisioner/provisioner/pkg/model"
)

// FulfillmentStore is the slice of the Ledger Phase A and Phase B need.
// Declared here, at the consumer, so tests can fake it without a database.
type FulfillmentStore interface {
	FulfilledCPUs(ctx context.Context, tenantDBID int64, jobRunnerID string) (int, error)
	HasFulfilledOnDemand(ctx context.Context, tenantDBID int64, jobRunnerID string) (bool, error)
	RecentRequestCount(ctx context.Context, tenantDBID int64, jobRunnerID string, window time.Duration) (int, error)
	LifetimeRequestCount(ctx context.Context, tenantDBID int64, jobRunnerID string) (int, error)
}

// Reconciler consults the Ledger to decide which idle jobs should keep
// being considered for provisioning this tick.
type Reconciler struct {
	Ledger      FulfillmentStore
	MaxRequests int
}

// New builds a Reconciler.
func New(l FulfillmentStore, maxRequests int) *Reconciler {
	return &Reconciler{Ledger: l, MaxRequests: maxRequests}
}

// Run executes Phase A then Phase B for every tenant's idle_jobs in place.
// A Ledger query failure is logged and treated as "no data", matching
// spec.md §7: the Reconciler never aborts the tick.
func (r *Reconciler) Run(ctx context.Context, tenants []*model.Tenant) {
	for _, t := range tenants {
		r.phaseA(ctx, t)
	}
	for _, t := range tenants {
		r.phaseB(ctx, t)
	}
}

// phaseA marks jobs fulfilled and drops them from idle_jobs.
func (r *Reconciler) phaseA(ctx context.Context, t *model.Tenant) {
	log := logging.FromContext(ctx)

	for _, j := range append([]*model.Job(nil), t.IdleJobs...) {
		cpus, err := r.Ledger.FulfilledCPUs(ctx, t.DBID, j.ID)
		if err != nil {
			log.Error(err, "fulfilled-cpu query failed, treating as unfulfilled", "job", j.ID, "tenant", t.Name)
			cpus = 0
		}
		if cpus >= j.ReqCPUs {
			j.Fulfilled = true
		}

		hasOnDemand, err := r.Ledger.HasFulfilledOnDemand(ctx, t.DBID, j.ID)
		if err != nil {
			log.Error(err, "fulfilled-ondemand query failed, treating as unfulfilled", "job", j.ID, "tenant", t.Name)
			hasOnDemand = false
		}
		if hasOnDemand {
			j.Fulfilled = true
		}

		if j.Fulfilled {
			log.V(1).Info("removing fulfilled job from idle set", "job", j.ID, "tenant", t.Name)
			t.RemoveIdleJob(j)
		}
	}
}

// phaseB removes jobs requested too recently or too often.
func (r *Reconciler) phaseB(ctx context.Context, t *model.Tenant) {
	log := logging.FromContext(ctx)
	window := time.Duration(t.RequestRate) * time.Second

	for _, j := range append([]*model.Job(nil), t.IdleJobs...) {
		recent, err := r.Ledger.RecentRequestCount(ctx, t.DBID, j.ID, window)
		if err != nil {
			log.Error(err, "recent-request-count query failed, treating as zero", "job", j.ID, "tenant", t.Name)
			recent = 0
		}
		if recent > 0 {
			t.RemoveIdleJob(j)
			log.V(1).Info("removed job requested too recently", "job", j.ID, "tenant", t.Name)
			continue
		}

		lifetime, err := r.Ledger.LifetimeRequestCount(ctx, t.DBID, j.ID)
		if err != nil {
			log.Error(err, "lifetime-request-count query failed, treating as zero", "job", j.ID, "tenant", t.Name)
			lifetime = 0
		}
		if lifetime > r.MaxRequests {
			log.Info("too many outstanding requests, removing idle job", "job", j.ID, "tenant", t.Name)
			t.RemoveIdleJob(j)
		}
	}
}
