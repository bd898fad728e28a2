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

package pool

import (
	"time"
)

// Package is one bundle of tasks handed out for evaluation. Leases are
// ephemeral time-bounded claims; Evaluators is the permanent history of
// identities that completed an evaluation. Evaluators only grows and never
// contains duplicates.
type Package struct {
	ID string `json:"id"`
	// Leases maps the holder to the instant the lease expires. An entry
	// whose expiry has passed is logically absent even before it is swept.
	Leases map[UserKey]time.Time `json:"assigned_to"`
	// Evaluators must never be purged; the summary reconciler correlates
	// submitted artifacts against it long after leases expire.
	Evaluators []UserKey `json:"evaluated_by"`
}

// NewPackage returns an empty package record for the given id.
func NewPackage(id string) *Package {
	return &Package{
		ID:     id,
		Leases: map[UserKey]time.Time{},
	}
}

// Load is the assignment pressure on the package: active leases plus
// completed evaluations.
func (p *Package) Load() int {
	return len(p.Leases) + len(p.Evaluators)
}

// HasLease reports whether the key holds a lease entry, regardless of the
// entry's expiry.
func (p *Package) HasLease(k UserKey) bool {
	_, ok := p.Leases[k]
	return ok
}

// HasEvaluator reports whether the key is in the package's evaluator
// history.
func (p *Package) HasEvaluator(k UserKey) bool {
	for _, e := range p.Evaluators {
		if e == k {
			return true
		}
	}
	return false
}

// AddEvaluator appends the key to the evaluator history. The append is
// idempotent; it reports whether the record changed.
func (p *Package) AddEvaluator(k UserKey) bool {
	if p.HasEvaluator(k) {
		return false
	}
	p.Evaluators = append(p.Evaluators, k)
	return true
}

// Grant inserts or refreshes the lease entry for the key.
func (p *Package) Grant(k UserKey, expiry time.Time) {
	if p.Leases == nil {
		p.Leases = map[UserKey]time.Time{}
	}
	p.Leases[k] = expiry
}

// Release drops the lease entry for the key, reporting whether one existed.
func (p *Package) Release(k UserKey) bool {
	if _, ok := p.Leases[k]; !ok {
		return false
	}
	delete(p.Leases, k)
	return true
}

// SweepExpired removes every lease whose expiry is at or before now. It
// reports whether any entry was removed.
func (p *Package) SweepExpired(now time.Time) bool {
	changed := false
	for k, expiry := range p.Leases {
		if !expiry.After(now) {
			delete(p.Leases, k)
			changed = true
		}
	}
	return changed
}
