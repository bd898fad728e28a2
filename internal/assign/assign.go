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

// Package assign decides which package a requesting identity is handed.
// Selection runs against a swept snapshot of the package records, and the
// resulting lease is committed in the same guarded cycle, so two identical
// snapshots always produce the same decision and no two requests can win
// the same claim.
package assign

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"evalhub.dev/evalhub/internal/config"
	"evalhub.dev/evalhub/internal/pool"
	"evalhub.dev/evalhub/internal/statestore"
	"evalhub.dev/evalhub/internal/telemetry"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "evalhub",
		"component": "assign",
	})
	mAssignments        = telemetry.Counter("assign/assignments", "granted leases")
	mFallbackSelections = telemetry.Counter("assign/fallbackselections", "assignments made from the relaxed fallback pool")
	mExhausted          = telemetry.Counter("assign/exhausted", "assignment requests with no assignable package")
	mSweptLeases        = telemetry.Counter("assign/sweptleases", "expired leases reclaimed before selection")
)

const (
	defaultLeaseDurationHours       = 2
	defaultMaxEvaluationsPerPackage = 3
)

// Engine selects a package for a requesting identity and commits the lease.
// It holds no state of its own; every decision is a guarded
// read-sweep-select-commit cycle against the store.
type Engine struct {
	cfg   config.View
	store statestore.Service

	// now is replaceable in tests.
	now func() time.Time
}

// New returns an Engine using the given store.
func New(cfg config.View, store statestore.Service) *Engine {
	return &Engine{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

// LeaseDuration is the lifetime of a granted lease.
func (e *Engine) LeaseDuration() time.Duration {
	if h := e.cfg.GetInt("assignment.leaseDurationHours"); h > 0 {
		return time.Duration(h) * time.Hour
	}
	return defaultLeaseDurationHours * time.Hour
}

func (e *Engine) maxEvaluations() int {
	if n := e.cfg.GetInt("assignment.maxEvaluationsPerPackage"); n > 0 {
		return n
	}
	return defaultMaxEvaluationsPerPackage
}

// AssignPackage reclaims expired leases, selects the least-loaded package
// the key is eligible for, and commits the new lease. When session is not
// nil its package id and lease expiry are filled in and the record is
// published in the same commit as the lease.
//
// A ResourceExhausted error is the normal outcome when no package remains
// that the key has not already evaluated; reclaimed leases are still
// persisted in that case.
func (e *Engine) AssignPackage(ctx context.Context, key pool.UserKey, session *pool.Session) (*pool.Package, error) {
	m := e.store.NewMutex()
	if err := m.Lock(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if _, err := m.Unlock(ctx); err != nil {
			logger.WithError(err).Warning("failed to release the pool guard")
		}
	}()

	pkgs, err := e.store.ListPackages(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()
	changed, swept := sweepExpired(pkgs, now)
	if swept > 0 {
		telemetry.RecordNUnitMeasurement(ctx, mSweptLeases, int64(swept))
	}

	chosen, fallback := selectPackage(pkgs, key, e.maxEvaluations())
	if chosen == nil {
		// Publish the sweep results even though nothing was assigned so
		// reclaimed leases do not have to be rediscovered.
		if err := e.store.CommitAssignment(ctx, changed, nil); err != nil {
			return nil, err
		}
		telemetry.RecordUnitMeasurement(ctx, mExhausted)
		return nil, status.Errorf(codes.ResourceExhausted, "no assignable package for user %s", key.ID)
	}

	expiry := now.Add(e.LeaseDuration())
	chosen.Grant(key, expiry)
	changed = appendUnique(changed, chosen)

	if session != nil {
		session.PackageID = chosen.ID
		session.LeaseExpiry = expiry
	}

	if err := e.store.CommitAssignment(ctx, changed, session); err != nil {
		return nil, err
	}

	telemetry.RecordUnitMeasurement(ctx, mAssignments)
	if fallback {
		telemetry.RecordUnitMeasurement(ctx, mFallbackSelections)
		logger.WithFields(logrus.Fields{
			"user":    key.ID,
			"package": chosen.ID,
		}).Info("assigned from the fallback pool")
	}

	return chosen, nil
}

// sweepExpired drops every lease entry at or past its expiry. It returns
// the packages whose records changed and the number of entries dropped.
func sweepExpired(pkgs []*pool.Package, now time.Time) ([]*pool.Package, int) {
	var changed []*pool.Package
	swept := 0
	for _, p := range pkgs {
		before := len(p.Leases)
		if p.SweepExpired(now) {
			changed = append(changed, p)
			swept += before - len(p.Leases)
		}
	}
	return changed, swept
}

// selectPackage picks the least-loaded package the key is eligible for,
// ties broken by ascending package id. The primary pool excludes packages
// the key already leases or evaluated and packages at the evaluation
// quota. When the primary pool is empty the quota and lease checks are
// relaxed so any package the key never evaluated remains assignable.
// Returns nil when even the fallback pool is empty, and whether the
// selection came from the fallback pool.
func selectPackage(pkgs []*pool.Package, key pool.UserKey, quota int) (*pool.Package, bool) {
	ordered := make([]*pool.Package, len(pkgs))
	copy(ordered, pkgs)
	sort.Slice(ordered, func(i, j int) bool {
		li, lj := ordered[i].Load(), ordered[j].Load()
		if li != lj {
			return li < lj
		}
		return ordered[i].ID < ordered[j].ID
	})

	for _, p := range ordered {
		if p.HasLease(key) || p.HasEvaluator(key) {
			continue
		}
		if len(p.Evaluators) >= quota {
			continue
		}
		return p, false
	}

	for _, p := range ordered {
		if p.HasEvaluator(key) {
			continue
		}
		return p, true
	}

	return nil, false
}

func appendUnique(pkgs []*pool.Package, p *pool.Package) []*pool.Package {
	for _, existing := range pkgs {
		if existing == p {
			return pkgs
		}
	}
	return append(pkgs, p)
}
