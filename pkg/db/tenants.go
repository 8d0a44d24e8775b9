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

package db

import (
	"context"
	"fmt"

	"github.com/ggprovisioner/provisioner/pkg/model"
)

// LoadTenants reads every row from the tenant table, then attaches each
// tenant's per-zone subnet mapping from tenant_subnet joined against
// subnet_mapping. The per-tenant zone->subnet relationship isn't named as a
// concrete table in the external schema sketch, only as two fields on
// Tenant (subnets, subnets_db_id); a join table is the natural way to model
// "one tenant, many zone->subnet pairs" without repeating tenant columns.
func (s *Store) LoadTenants(ctx context.Context) ([]*model.Tenant, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, name, access_key, secret_key, vpc, subnet, subnet_id,
		       security_group, key_pair, public_ip, domain,
		       max_bid_price, bid_percent, timeout, idle_time, request_rate,
		       condor_address
		FROM tenant
	`)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*model.Tenant
	for rows.Next() {
		t := &model.Tenant{
			Subnets:     map[string]string{},
			SubnetsDBID: map[string]int64{},
		}
		if err := rows.Scan(
			&t.DBID, &t.Name, &t.AccessKey, &t.SecretKey, &t.VPC, &t.Subnet, &t.SubnetID,
			&t.SecurityGroup, &t.KeyPair, &t.PublicIP, &t.Domain,
			&t.MaxBidPrice, &t.BidPercent, &t.Timeout, &t.IdleTime, &t.RequestRate,
			&t.CondorAddress,
		); err != nil {
			return nil, fmt.Errorf("scanning tenant row: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenant rows: %w", err)
	}

	for _, t := range tenants {
		if err := s.loadTenantSubnets(ctx, t); err != nil {
			return nil, err
		}
	}
	return tenants, nil
}

func (s *Store) loadTenantSubnets(ctx context.Context, t *model.Tenant) error {
	rows, err := s.Pool.Query(ctx, `
		SELECT subnet_mapping.id, subnet_mapping.zone, subnet_mapping.subnet_id
		FROM tenant_subnet, subnet_mapping
		WHERE tenant_subnet.subnet_mapping_id = subnet_mapping.id
		  AND tenant_subnet.tenant_id = $1
	`, t.DBID)
	if err != nil {
		return fmt.Errorf("querying subnets for tenant %d: %w", t.DBID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var mappingID int64
		var zone, subnetID string
		if err := rows.Scan(&mappingID, &zone, &subnetID); err != nil {
			return fmt.Errorf("scanning subnet row for tenant %d: %w", t.DBID, err)
		}
		t.Subnets[zone] = subnetID
		t.SubnetsDBID[zone] = mappingID
	}
	return rows.Err()
}
