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

	"github.com/patrickmn/go-cache"

	"github.com/ggprovisioner/provisioner/pkg/model"
)

// LoadInstanceTypes returns every catalog row flagged available, grounded on
// load_instance_types' "select * from instance_type where available = True".
// Spot is left nil here; the Price View populates it once per tick. The
// catalog itself is served from an in-process cache for catalogCacheTTL to
// avoid a round trip to Postgres on every tick for data that rarely changes;
// a cache miss or expiry falls through to the query and repopulates it.
func (s *Store) LoadInstanceTypes(ctx context.Context) ([]*model.InstanceType, error) {
	if cached, ok := s.catalog.Get(catalogCacheKey); ok {
		return cached.([]*model.InstanceType), nil
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT id, type, ondemand_price, cpus, memory, disk, ami
		FROM instance_type
		WHERE available = true
	`)
	if err != nil {
		return nil, fmt.Errorf("querying instance types: %w", err)
	}
	defer rows.Close()

	var instances []*model.InstanceType
	for rows.Next() {
		i := &model.InstanceType{Spot: map[string]float64{}}
		if err := rows.Scan(&i.DBID, &i.Type, &i.OnDemand, &i.CPUs, &i.Memory, &i.Disk, &i.AMI); err != nil {
			return nil, fmt.Errorf("scanning instance type row: %w", err)
		}
		instances = append(instances, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating instance type rows: %w", err)
	}

	s.catalog.Set(catalogCacheKey, instances, cache.DefaultExpiration)
	return instances, nil
}
