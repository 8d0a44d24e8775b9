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

// Package provisioner drives one tick: load tenants and jobs, reconcile
// against the Ledger, refresh the catalog and spot prices, select an
// instance for every remaining idle job, and request it. Grounded on
// Provisioner.run/load_tenants_and_jobs/manage_resources/provision_resources,
// restructured as the explicit, single-entry-point-per-tick shape the
// teacher's provisioning controller uses around its own Reconcile call.
package provisioner

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ggprovisioner/provisioner/pkg/cloudapi"
	"github.com/ggprovisioner/provisioner/pkg/ledger"
	"github.com/ggprovisioner/provisioner/pkg/logging"
	"github.com/ggprovisioner/provisioner/pkg/model"
	"github.com/ggprovisioner/provisioner/pkg/pricing"
	"github.com/ggprovisioner/provisioner/pkg/queue"
	"github.com/ggprovisioner/provisioner/pkg/reconcile"
	"github.com/ggprovisioner/provisioner/pkg/requester"
	"github.com/ggprovisioner/provisioner/pkg/selector"
)

var (
	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "provisioner",
		Name:      "tick_duration_seconds",
		Help:      "Time spent executing one provisioning tick.",
	})
	tickTenants = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "provisioner",
		Name:      "tick_tenants",
		Help:      "Number of tenants observed in the most recent tick.",
	})
	tickIdleJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "provisioner",
		Name:      "tick_idle_jobs",
		Help:      "Total idle jobs remaining after reconciliation in the most recent tick.",
	})
)

func init() {
	prometheus.MustRegister(tickDuration, tickTenants, tickIdleJobs)
}

// EC2ClientFactory builds a tenant-scoped EC2 client from its credentials.
// A function type rather than a concrete constructor so tests can substitute
// a fake without touching the real AWS SDK.
type EC2ClientFactory func(ctx context.Context, accessKey, secretKey, region string) (cloudapi.EC2API, error)

// CatalogStore is the slice of the durable store a tick needs: tenants and
// the instance-type catalog. Declared here, at the consumer, so tests can
// fake a tick without a database.
type CatalogStore interface {
	LoadTenants(ctx context.Context) ([]*model.Tenant, error)
	LoadInstanceTypes(ctx context.Context) ([]*model.InstanceType, error)
}

// Loop owns every component wired together for one tick.
type Loop struct {
	DB         CatalogStore
	Ledger     *ledger.Ledger
	Prober     queue.Prober
	Reconciler *reconcile.Reconciler
	Selector   *selector.Selector
	Requester  *requester.Requester
	NewClient  EC2ClientFactory
	Region     string
	RunRate    time.Duration
}

// Tick executes the eight steps of the provisioning decision loop, in
// order, exactly once.
func (l *Loop) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { tickDuration.Observe(time.Since(start).Seconds()) }()

	log := logging.FromContext(ctx)

	tenants, err := l.DB.LoadTenants(ctx)
	if err != nil {
		return err
	}
	tickTenants.Set(float64(len(tenants)))

	jobs, err := l.Prober.GetGlobalQueue(ctx)
	if err != nil {
		log.Error(err, "queue probe failed, continuing with no jobs this tick")
		jobs = nil
	}
	queue.ProcessGlobalQueue(start, jobs, tenants)

	l.Reconciler.Run(ctx, tenants)

	if len(tenants) == 0 {
		log.V(1).Info("no tenants this tick, skipping provisioning")
		return nil
	}

	catalog, err := l.DB.LoadInstanceTypes(ctx)
	if err != nil {
		return err
	}

	primaryClient, err := l.NewClient(ctx, tenants[0].AccessKey, tenants[0].SecretKey, l.Region)
	if err != nil {
		log.Error(err, "building pricing client from primary tenant credentials failed, skipping price refresh")
	} else if err := pricing.New(primaryClient).Refresh(ctx, catalog); err != nil {
		log.Error(err, "spot price refresh failed, continuing with stale prices")
	}

	idleJobCount := 0
	for _, t := range tenants {
		// Select can drop the current job from t.IdleJobs (too many existing
		// requests); range over a copy so that mutation doesn't shift the
		// backing array under the loop and skip or double-visit a job.
		for _, job := range append([]*model.Job(nil), t.IdleJobs...) {
			l.Selector.Select(ctx, start, t, job, catalog)
		}
		idleJobCount += len(t.IdleJobs)
	}
	tickIdleJobs.Set(float64(idleJobCount))

	for _, t := range tenants {
		client, err := l.NewClient(ctx, t.AccessKey, t.SecretKey, l.Region)
		if err != nil {
			log.Error(err, "building cloud client failed, skipping tenant's requests this tick", "tenant", t.Name)
			continue
		}
		l.Requester.RequestAll(ctx, client, t)
	}

	// Reconcile again after requesting, per spec.md §4.6, so rate and cap
	// throttling reflect the requests just placed before the next tick reads
	// idle_jobs.
	l.Reconciler.Run(ctx, tenants)

	return nil
}

// Run calls Tick repeatedly until ctx is cancelled, sleeping RunRate between
// ticks. A Tick error is logged; it never stops the loop.
func (l *Loop) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	for {
		if err := l.Tick(ctx); err != nil {
			log.Error(err, "tick failed")
		}
		select {
		case <-ctx.Done():
			log.Info("provisioner loop stopping")
			return
		case <-time.After(l.RunRate):
		}
	}
}
