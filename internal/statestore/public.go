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

package statestore

import (
	"context"

	"evalhub.dev/evalhub/internal/config"
	"evalhub.dev/evalhub/internal/pool"
	"evalhub.dev/evalhub/internal/telemetry"
)

// Service is a generic interface for talking to the backend holding
// package and session records.
type Service interface {
	// HealthCheck indicates if the database is reachable.
	HealthCheck(ctx context.Context) error

	// CreatePackage creates a new package record in state storage. If the id
	// already exists, it will be overwritten.
	CreatePackage(ctx context.Context, p *pool.Package) error

	// GetPackage gets the package record with the specified id. This method
	// fails if the package does not exist.
	GetPackage(ctx context.Context, id string) (*pool.Package, error)

	// ListPackages returns every package record currently indexed.
	ListPackages(ctx context.Context) ([]*pool.Package, error)

	// GetSession gets the session record for the specified user id. This
	// method fails if the session does not exist.
	GetSession(ctx context.Context, userID string) (*pool.Session, error)

	// ListSessions returns every session record currently indexed.
	ListSessions(ctx context.Context) ([]*pool.Session, error)

	// CommitAssignment publishes the given package records and, when session
	// is not nil, the session record, in one all-or-nothing write.
	CommitAssignment(ctx context.Context, changed []*pool.Package, session *pool.Session) error

	// CommitRelease publishes the given package record (may be nil) and
	// deletes the session for userID in one all-or-nothing write.
	CommitRelease(ctx context.Context, pkg *pool.Package, userID string) error

	// NewMutex returns the guard serializing every eligibility-compute and
	// commit cycle against the stores.
	NewMutex() Locker

	// Close closes the connection to the underlying storage.
	Close() error
}

// Locker is the exclusive cross-store guard. All mutations of package and
// session records must happen between Lock and Unlock.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) (bool, error)
}

// New creates a Service based on the configuration.
func New(cfg config.View) Service {
	s := newRedis(cfg)
	if cfg.GetBool(telemetry.ConfigNameEnableMetrics) {
		return &instrumentedService{
			s: s,
		}
	}
	return s
}
