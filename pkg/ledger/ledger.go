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

// Package ledger is the durable source of truth for outstanding instance
// requests. It is the single place the Reconciler and Requester go to ask
// "what have we already asked the cloud for, and did it show up". Every
// query here is parameter-bound; the original built these by string
// concatenation, which is the one thing about it this package does not
// preserve.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ggprovisioner/provisioner/pkg/model"
)

// Ledger is the durable request store backed by a shared connection pool.
type Ledger struct {
	pool *pgxpool.Pool
}

// New wraps pool as a Ledger.
func New(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Append inserts one durable record of a placed cloud request. The caller
// must have already issued the cloud request; this is the commit that makes
// the request recoverable after a crash.
func (l *Ledger) Append(ctx context.Context, e *model.LedgerEntry) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO instance_request
			(tenant, instance_type, price, job_runner_id, request_type, request_id, subnet, request_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, e.Tenant, e.InstanceType, e.Price, e.JobRunnerID, e.RequestType, e.RequestID, e.Subnet)
	if err != nil {
		return fmt.Errorf("inserting ledger entry for job %s: %w", e.JobRunnerID, err)
	}
	return nil
}

// FulfilledCPUs sums the cpus of every instance_type linked, via a
// fulfilled instance_request, to (tenantDBID, jobRunnerID). Grounded on
// ignore_fulfilled_jobs' first query.
func (l *Ledger) FulfilledCPUs(ctx context.Context, tenantDBID int64, jobRunnerID string) (int, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT instance_type.cpus
		FROM instance_request, instance_type, instance
		WHERE instance_type.id = instance_request.instance_type
		  AND instance.request_id = instance_request.id
		  AND instance_request.job_runner_id = $1
		  AND instance_request.tenant = $2
	`, jobRunnerID, tenantDBID)
	if err != nil {
		return 0, fmt.Errorf("querying fulfilled cpus for job %s: %w", jobRunnerID, err)
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var cpus int
		if err := rows.Scan(&cpus); err != nil {
			return 0, fmt.Errorf("scanning fulfilled cpu row for job %s: %w", jobRunnerID, err)
		}
		total += cpus
	}
	return total, rows.Err()
}

// HasFulfilledOnDemand reports whether any fulfilled instance_request for
// (tenantDBID, jobRunnerID) has request_type 'ondemand'. Grounded on
// ignore_fulfilled_jobs' second query.
func (l *Ledger) HasFulfilledOnDemand(ctx context.Context, tenantDBID int64, jobRunnerID string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM instance_request, instance
			WHERE instance.request_id = instance_request.id
			  AND instance_request.job_runner_id = $1
			  AND instance_request.tenant = $2
			  AND instance_request.request_type = 'ondemand'
		)
	`, jobRunnerID, tenantDBID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying fulfilled ondemand for job %s: %w", jobRunnerID, err)
	}
	return exists, nil
}

// RecentRequestCount counts instance_request rows for (tenantDBID,
// jobRunnerID) created within the last window. Grounded on
// stop_over_requesting's rate-window query.
func (l *Ledger) RecentRequestCount(ctx context.Context, tenantDBID int64, jobRunnerID string, window time.Duration) (int, error) {
	var count int
	err := l.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM instance_request
		WHERE job_runner_id = $1
		  AND tenant = $2
		  AND request_time >= now() - $3::interval
	`, jobRunnerID, tenantDBID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("querying recent request count for job %s: %w", jobRunnerID, err)
	}
	return count, nil
}

// LifetimeRequestCount counts every instance_request row ever recorded for
// (tenantDBID, jobRunnerID), regardless of age. Grounded on
// stop_over_requesting's cap query.
func (l *Ledger) LifetimeRequestCount(ctx context.Context, tenantDBID int64, jobRunnerID string) (int, error) {
	var count int
	err := l.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM instance_request
		WHERE job_runner_id = $1 AND tenant = $2
	`, jobRunnerID, tenantDBID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("querying lifetime request count for job %s: %w", jobRunnerID, err)
	}
	return count, nil
}

// OpenRequestKey identifies a (instance type, zone) pair already requested
// for a job, used by the Selector to skip duplicate candidates.
type OpenRequestKey struct {
	InstanceType string
	Zone         string
}

// OpenRequestsFor returns the (instance_type, zone) pairs of every
// outstanding request for (tenantDBID, jobRunnerID), joined against
// instance_type and subnet_mapping exactly as get_existing_requests does.
func (l *Ledger) OpenRequestsFor(ctx context.Context, tenantDBID int64, jobRunnerID string) ([]OpenRequestKey, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT instance_type.type, subnet_mapping.zone
		FROM instance_request, subnet_mapping, instance_type
		WHERE instance_request.job_runner_id = $1
		  AND instance_request.tenant = $2
		  AND instance_request.instance_type = instance_type.id
		  AND subnet_mapping.id = instance_request.subnet
	`, jobRunnerID, tenantDBID)
	if err != nil {
		return nil, fmt.Errorf("querying existing requests for job %s: %w", jobRunnerID, err)
	}
	defer rows.Close()

	var keys []OpenRequestKey
	for rows.Next() {
		var k OpenRequestKey
		if err := rows.Scan(&k.InstanceType, &k.Zone); err != nil {
			return nil, fmt.Errorf("scanning existing request row for job %s: %w", jobRunnerID, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
