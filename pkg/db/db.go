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

// Package db owns the connection pool shared by the catalog loader, the
// tenant loader and the Ledger. One pool is opened at process startup and
// lives for the process lifetime, mirroring the single DB handle the
// original provisioner kept on its configuration singleton.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/patrickmn/go-cache"
)

// catalogCacheTTL bounds how long a loaded instance-type catalog is reused
// across ticks before LoadInstanceTypes hits Postgres again. Catalog rows
// (CPU/memory/disk/on-demand price per SKU) change far less often than the
// tick rate; spot prices, which do change every tick, are refreshed
// separately by the price view and are never cached here.
const catalogCacheTTL = 5 * time.Minute

const catalogCacheKey = "catalog"

// Store wraps a pgx connection pool. All SQL in this module goes through
// parameter-bound queries; no query is ever built by string concatenation.
type Store struct {
	Pool    *pgxpool.Pool
	catalog *cache.Cache
}

// Open connects to dsn and verifies reachability with a ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{Pool: pool, catalog: cache.New(catalogCacheTTL, 2*catalogCacheTTL)}, nil
}

// Close releases the pool's connections.
func (s *Store) Close() {
	s.Pool.Close()
}
