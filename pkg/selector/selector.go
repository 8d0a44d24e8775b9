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

// Package selector picks exactly one instance-type/zone/pricing-mode
// combination per idle job: eligibility filter, price-sorted cross-product,
// on-demand escalation, and duplicate-request-avoiding spot pick. The
// catalog snapshot is loaded by the caller; the only I/O done here is the
// Ledger's existing-requests lookup, queried per job during the spot pick.
// Grounded step-for-step on Provisioner.select_instance_type,
// get_potential_instances, check_ondemand_needed and get_bid_price.
package selector

import (
	"context"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/ggprovisioner/provisioner/pkg/ledger"
	"github.com/ggprovisioner/provisioner/pkg/logging"
	"github.com/ggprovisioner/provisioner/pkg/model"
)

// ExistingRequestStore is the slice of the Ledger the spot-selection dedup
// walk needs. Declared here, at the consumer, so tests can fake it.
type ExistingRequestStore interface {
	OpenRequestsFor(ctx context.Context, tenantDBID int64, jobRunnerID string) ([]ledger.OpenRequestKey, error)
}

// Selector holds the tick-scoped configuration the escalation decision
// needs: the on-demand proximity threshold and the fallback bid floor.
type Selector struct {
	Ledger                 ExistingRequestStore
	OnDemandPriceThreshold float64
	MaxRequests            int
	BidFloor               float64
}

// New builds a Selector.
func New(l ExistingRequestStore, onDemandPriceThreshold float64, maxRequests int, bidFloor float64) *Selector {
	return &Selector{Ledger: l, OnDemandPriceThreshold: onDemandPriceThreshold, MaxRequests: maxRequests, BidFloor: bidFloor}
}

// eligible filters catalog to instance types that meet job's resource
// request (spec.md §4.4 Step 1).
func eligible(catalog []*model.InstanceType, job *model.Job) []*model.InstanceType {
	return lo.Filter(catalog, func(i *model.InstanceType, _ int) bool {
		return i.MeetsRequirements(job)
	})
}

// candidates builds the cross-product of eligible instance types against
// on-demand plus (if job is not on-demand-only) every observed spot zone,
// per spec.md §4.4 Step 2, then sorts ascending by price (Step 3).
func candidates(instances []*model.InstanceType, onDemandOnly bool) []*model.Request {
	var out []*model.Request
	for _, i := range instances {
		out = append(out, model.NewOnDemandRequest(i))
		if onDemandOnly {
			continue
		}
		for zone, price := range i.Spot {
			out = append(out, model.NewSpotRequest(i, zone, price))
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Price < out[b].Price })
	return out
}

// cheapestOnDemand returns the eligible instance with the lowest on-demand
// price, used by the timeout-escalation branch.
func cheapestOnDemand(instances []*model.InstanceType) *model.InstanceType {
	if len(instances) == 0 {
		return nil
	}
	best := instances[0]
	for _, i := range instances[1:] {
		if i.OnDemand < best.OnDemand {
			best = i
		}
	}
	return best
}

// Select computes and assigns job.Launch for one tenant/job pair, mutating
// tenant.IdleJobs in place when the job must be dropped (too many existing
// requests). A job with no eligible instance type is logged and left in
// tenant.IdleJobs with no Launch. It returns nothing: outcomes are
// observed via job.Launch and tenant.IdleJobs membership.
func (s *Selector) Select(ctx context.Context, now time.Time, tenant *model.Tenant, job *model.Job, catalog []*model.InstanceType) {
	log := logging.FromContext(ctx)

	eligibleInstances := eligible(catalog, job)
	if len(eligibleInstances) == 0 {
		log.Error(nil, "no eligible instance types for job", "job", job.ID, "tenant", tenant.Name)
		return
	}

	sorted := candidates(eligibleInstances, job.OnDemand)
	if len(sorted) == 0 {
		log.Error(nil, "no sorted candidates for job", "job", job.ID, "tenant", tenant.Name)
		return
	}

	if s.needsOnDemand(now, tenant, job, sorted, eligibleInstances) {
		onDemandSorted := candidates(eligibleInstances, true)
		job.Launch = onDemandSorted[0]
		log.V(1).Info("launching on-demand", "job", job.ID, "tenant", tenant.Name, "type", job.Launch.InstanceType)
		return
	}

	s.selectSpot(ctx, tenant, job, sorted)
}

// needsOnDemand evaluates the four escalation conditions from spec.md §4.4
// Step 4, in the order specified, and sets job.OnDemand / job.Launch for
// the timeout branch (which assigns immediately, per the original).
func (s *Selector) needsOnDemand(now time.Time, tenant *model.Tenant, job *model.Job, sorted []*model.Request, eligibleInstances []*model.InstanceType) bool {
	cheapest := sorted[0]

	if tenant.Timeout > 0 {
		idleSeconds := now.Unix() - job.ReqTime
		if idleSeconds > tenant.Timeout {
			if best := cheapestOnDemand(eligibleInstances); best != nil && best.OnDemand < tenant.MaxBidPrice {
				job.Launch = model.NewOnDemandRequest(best)
				job.OnDemand = true
				return true
			}
		}
	}

	if job.OnDemand {
		return true
	}

	if cheapest.OnDemand && cheapest.ODP < tenant.MaxBidPrice {
		return true
	}

	if cheapest.Price > s.OnDemandPriceThreshold*cheapest.ODP && cheapest.Price < tenant.MaxBidPrice {
		return true
	}

	return false
}

// selectSpot implements spec.md §4.4 Step 5: dedup against existing open
// requests, then walk the sorted candidates for the first affordable one.
func (s *Selector) selectSpot(ctx context.Context, tenant *model.Tenant, job *model.Job, sorted []*model.Request) {
	log := logging.FromContext(ctx)

	existing, err := s.Ledger.OpenRequestsFor(ctx, tenant.DBID, job.ID)
	if err != nil {
		log.Error(err, "existing-requests query failed, treating as none", "job", job.ID, "tenant", tenant.Name)
		existing = nil
	}
	if len(existing) >= s.MaxRequests {
		log.V(1).Info("too many requests already exist for this job", "job", job.ID, "tenant", tenant.Name)
		tenant.RemoveIdleJob(job)
		return
	}

	existingSet := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		existingSet[e.InstanceType+"|"+e.Zone] = struct{}{}
	}

	for _, candidate := range sorted {
		if _, dup := existingSet[candidate.InstanceType+"|"+candidate.Zone]; dup {
			continue
		}
		if candidate.Price < tenant.MaxBidPrice {
			candidate.Bid = s.bidPrice(tenant, candidate)
			job.Launch = candidate
			log.V(1).Info("selected spot instance", "job", job.ID, "tenant", tenant.Name, "type", candidate.InstanceType, "zone", candidate.Zone, "bid", candidate.Bid)
			return
		}
		log.Error(nil, "unable to launch request, bid exceeds max bid", "job", job.ID, "tenant", tenant.Name, "type", candidate.InstanceType, "price", candidate.Price, "max_bid", tenant.MaxBidPrice)
	}
}

// bidPrice computes bid_percent% of the candidate's on-demand price,
// falling back to the configured floor if that exceeds the tenant's cap.
// Grounded on get_bid_price (Design Notes §9 item iii).
func (s *Selector) bidPrice(tenant *model.Tenant, candidate *model.Request) float64 {
	bid := tenant.BidPercent / 100 * candidate.ODP
	if bid <= tenant.MaxBidPrice {
		return bid
	}
	return s.BidFloor
}
