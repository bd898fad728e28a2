// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package assign

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"evalhub.dev/evalhub/internal/pool"
	"evalhub.dev/evalhub/internal/statestore"
	statestoreTesting "evalhub.dev/evalhub/internal/statestore/testing"
)

func newEngine(t *testing.T) (*Engine, statestore.Service, func()) {
	cfg := viper.New()
	store, closer := statestoreTesting.NewStoreServiceForTesting(t, cfg)
	e := New(cfg, store)
	return e, store, func() {
		store.Close()
		closer()
	}
}

func TestSelectPrefersLowestLoad(t *testing.T) {
	assert := assert.New(t)
	e, store, closer := newEngine(t)
	defer closer()
	ctx := context.Background()

	busy := pool.NewPackage("pkg_a")
	busy.Grant(pool.NewUserKey("u9", "u9@example.com"), time.Now().Add(time.Hour).UTC())
	require.NoError(t, store.CreatePackage(ctx, busy))
	require.NoError(t, store.CreatePackage(ctx, pool.NewPackage("pkg_b")))

	p, err := e.AssignPackage(ctx, pool.NewUserKey("u1", "u1@example.com"), nil)
	assert.Nil(err)
	assert.Equal("pkg_b", p.ID)
}

func TestSelectBreaksTiesByID(t *testing.T) {
	assert := assert.New(t)
	e, store, closer := newEngine(t)
	defer closer()
	ctx := context.Background()

	require.NoError(t, store.CreatePackage(ctx, pool.NewPackage("pkg_b")))
	require.NoError(t, store.CreatePackage(ctx, pool.NewPackage("pkg_a")))
	require.NoError(t, store.CreatePackage(ctx, pool.NewPackage("pkg_c")))

	p, err := e.AssignPackage(ctx, pool.NewUserKey("u1", "u1@example.com"), nil)
	assert.Nil(err)
	assert.Equal("pkg_a", p.ID)
}

func TestFallbackWhenQuotaReached(t *testing.T) {
	assert := assert.New(t)
	e, store, closer := newEngine(t)
	defer closer()
	ctx := context.Background()

	// pkg_a is at the evaluation quota, pkg_b was already evaluated by the
	// requester. The primary pool is empty, so the quota check relaxes and
	// pkg_a is still assignable.
	a := pool.NewPackage("pkg_a")
	for i := 0; i < 3; i++ {
		a.AddEvaluator(pool.NewUserKey(fmt.Sprintf("u%d", i), fmt.Sprintf("u%d@example.com", i)))
	}
	b := pool.NewPackage("pkg_b")
	u4 := pool.NewUserKey("u4", "u4@example.com")
	b.AddEvaluator(u4)
	require.NoError(t, store.CreatePackage(ctx, a))
	require.NoError(t, store.CreatePackage(ctx, b))

	p, err := e.AssignPackage(ctx, u4, nil)
	assert.Nil(err)
	assert.Equal("pkg_a", p.ID)
}

func TestNeverReassignsEvaluatedPackage(t *testing.T) {
	assert := assert.New(t)
	e, store, closer := newEngine(t)
	defer closer()
	ctx := context.Background()

	key := pool.NewUserKey("u1", "u1@example.com")
	only := pool.NewPackage("pkg_a")
	only.AddEvaluator(key)
	require.NoError(t, store.CreatePackage(ctx, only))

	_, err := e.AssignPackage(ctx, key, nil)
	assert.NotNil(err)
	assert.Equal(codes.ResourceExhausted, status.Code(err))
}

func TestExhaustedOnEmptyPool(t *testing.T) {
	assert := assert.New(t)
	e, _, closer := newEngine(t)
	defer closer()

	_, err := e.AssignPackage(context.Background(), pool.NewUserKey("u1", "u1@example.com"), nil)
	assert.Equal(codes.ResourceExhausted, status.Code(err))
}

func TestExpiredLeaseIsRecoverable(t *testing.T) {
	assert := assert.New(t)
	e, store, closer := newEngine(t)
	defer closer()
	ctx := context.Background()

	start := time.Now().UTC()
	e.now = func() time.Time { return start }

	require.NoError(t, store.CreatePackage(ctx, pool.NewPackage("pkg_c")))

	u5 := pool.NewUserKey("u5", "u5@example.com")
	p, err := e.AssignPackage(ctx, u5, nil)
	require.NoError(t, err)
	require.Equal(t, "pkg_c", p.ID)

	// An hour in the lease is still held, so a second requester finds the
	// package carrying load but not yet reclaimable.
	e.now = func() time.Time { return start.Add(time.Hour) }
	got, err := store.GetPackage(ctx, "pkg_c")
	require.NoError(t, err)
	assert.True(got.HasLease(u5))

	// Three hours in the lease has lapsed. The next assignment sweeps it
	// and the package is granted fresh.
	e.now = func() time.Time { return start.Add(3 * time.Hour) }
	u6 := pool.NewUserKey("u6", "u6@example.com")
	p, err = e.AssignPackage(ctx, u6, nil)
	assert.Nil(err)
	assert.Equal("pkg_c", p.ID)

	got, err = store.GetPackage(ctx, "pkg_c")
	require.NoError(t, err)
	assert.False(got.HasLease(u5))
	assert.True(got.HasLease(u6))
}

func TestSweepPersistsWhenExhausted(t *testing.T) {
	assert := assert.New(t)
	e, store, closer := newEngine(t)
	defer closer()
	ctx := context.Background()

	start := time.Now().UTC()
	e.now = func() time.Time { return start }

	key := pool.NewUserKey("u1", "u1@example.com")
	p := pool.NewPackage("pkg_a")
	p.AddEvaluator(key)
	p.Grant(pool.NewUserKey("u2", "u2@example.com"), start.Add(time.Minute))
	require.NoError(t, store.CreatePackage(ctx, p))

	// u1 evaluated the only package, so the request is exhausted, but the
	// lapsed lease is still reclaimed and published.
	e.now = func() time.Time { return start.Add(time.Hour) }
	_, err := e.AssignPackage(ctx, key, nil)
	assert.Equal(codes.ResourceExhausted, status.Code(err))

	got, err := store.GetPackage(ctx, "pkg_a")
	require.NoError(t, err)
	assert.Empty(got.Leases)
}

func TestAssignPublishesSession(t *testing.T) {
	assert := assert.New(t)
	e, store, closer := newEngine(t)
	defer closer()
	ctx := context.Background()

	start := time.Now().UTC()
	e.now = func() time.Time { return start }

	require.NoError(t, store.CreatePackage(ctx, pool.NewPackage("pkg_a")))

	session := &pool.Session{
		UserID:     "u1",
		Email:      "u1@example.com",
		Background: "linguistics",
	}
	p, err := e.AssignPackage(ctx, session.Key(), session)
	require.NoError(t, err)
	assert.Equal("pkg_a", p.ID)
	assert.Equal("pkg_a", session.PackageID)
	assert.True(session.LeaseExpiry.Equal(start.Add(e.LeaseDuration())))

	got, err := store.GetSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal("pkg_a", got.PackageID)
	assert.True(got.LeaseExpiry.Equal(session.LeaseExpiry))
}

func TestLoadBalancesAcrossPool(t *testing.T) {
	assert := assert.New(t)
	e, store, closer := newEngine(t)
	defer closer()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.CreatePackage(ctx, pool.NewPackage(fmt.Sprintf("pkg_%03d", i))))
	}

	seen := map[string]int{}
	for i := 0; i < 8; i++ {
		key := pool.NewUserKey(fmt.Sprintf("u%d", i), fmt.Sprintf("u%d@example.com", i))
		p, err := e.AssignPackage(ctx, key, nil)
		require.NoError(t, err)
		seen[p.ID]++
	}

	// Eight requesters over four packages spread evenly.
	assert.Len(seen, 4)
	for id, n := range seen {
		assert.Equalf(2, n, "package %s", id)
	}
}

func TestConfiguredQuotaAndLease(t *testing.T) {
	assert := assert.New(t)
	cfg := viper.New()
	store, closer := statestoreTesting.NewStoreServiceForTesting(t, cfg)
	defer closer()
	defer store.Close()
	cfg.Set("assignment.leaseDurationHours", 6)
	cfg.Set("assignment.maxEvaluationsPerPackage", 1)
	e := New(cfg, store)
	ctx := context.Background()

	assert.Equal(6*time.Hour, e.LeaseDuration())

	a := pool.NewPackage("pkg_a")
	a.AddEvaluator(pool.NewUserKey("u9", "u9@example.com"))
	require.NoError(t, store.CreatePackage(ctx, a))
	require.NoError(t, store.CreatePackage(ctx, pool.NewPackage("pkg_b")))

	// With a quota of one, pkg_a is full and the primary pool only holds
	// pkg_b.
	p, err := e.AssignPackage(ctx, pool.NewUserKey("u1", "u1@example.com"), nil)
	assert.Nil(err)
	assert.Equal("pkg_b", p.ID)
}
