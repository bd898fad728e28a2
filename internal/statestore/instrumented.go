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

	"evalhub.dev/evalhub/internal/pool"
	"evalhub.dev/evalhub/internal/telemetry"
)

var (
	mStateStoreCreatePackageCount    = telemetry.Counter("statestore/createpackagecount", "packages created")
	mStateStoreGetPackageCount       = telemetry.Counter("statestore/getpackagecount", "packages retrieved")
	mStateStoreListPackagesCount     = telemetry.Counter("statestore/listpackagescount", "package listings")
	mStateStoreGetSessionCount       = telemetry.Counter("statestore/getsessioncount", "sessions retrieved")
	mStateStoreListSessionsCount     = telemetry.Counter("statestore/listsessionscount", "session listings")
	mStateStoreCommitAssignmentCount = telemetry.Counter("statestore/commitassignmentcount", "assignment commits")
	mStateStoreCommitReleaseCount    = telemetry.Counter("statestore/commitreleasecount", "release commits")
)

// instrumentedService is a wrapper for a statestore service that provides instrumentation of the database.
type instrumentedService struct {
	s Service
}

// Close the connection to the database.
func (is *instrumentedService) Close() error {
	return is.s.Close()
}

// HealthCheck indicates if the database is reachable.
func (is *instrumentedService) HealthCheck(ctx context.Context) error {
	return is.s.HealthCheck(ctx)
}

// NewMutex returns the cross-store pool guard.
func (is *instrumentedService) NewMutex() Locker {
	return is.s.NewMutex()
}

// CreatePackage creates a new package record in state storage.
func (is *instrumentedService) CreatePackage(ctx context.Context, p *pool.Package) error {
	defer telemetry.RecordUnitMeasurement(ctx, mStateStoreCreatePackageCount)
	return is.s.CreatePackage(ctx, p)
}

// GetPackage gets the package record with the specified id from state storage.
func (is *instrumentedService) GetPackage(ctx context.Context, id string) (*pool.Package, error) {
	defer telemetry.RecordUnitMeasurement(ctx, mStateStoreGetPackageCount)
	return is.s.GetPackage(ctx, id)
}

// ListPackages returns every package record currently indexed.
func (is *instrumentedService) ListPackages(ctx context.Context) ([]*pool.Package, error) {
	defer telemetry.RecordUnitMeasurement(ctx, mStateStoreListPackagesCount)
	return is.s.ListPackages(ctx)
}

// GetSession gets the session record for the specified user id.
func (is *instrumentedService) GetSession(ctx context.Context, userID string) (*pool.Session, error) {
	defer telemetry.RecordUnitMeasurement(ctx, mStateStoreGetSessionCount)
	return is.s.GetSession(ctx, userID)
}

// ListSessions returns every session record currently indexed.
func (is *instrumentedService) ListSessions(ctx context.Context) ([]*pool.Session, error) {
	defer telemetry.RecordUnitMeasurement(ctx, mStateStoreListSessionsCount)
	return is.s.ListSessions(ctx)
}

// CommitAssignment publishes package records and the new session atomically.
func (is *instrumentedService) CommitAssignment(ctx context.Context, changed []*pool.Package, session *pool.Session) error {
	defer telemetry.RecordUnitMeasurement(ctx, mStateStoreCommitAssignmentCount)
	return is.s.CommitAssignment(ctx, changed, session)
}

// CommitRelease publishes a package record and deletes the session atomically.
func (is *instrumentedService) CommitRelease(ctx context.Context, pkg *pool.Package, userID string) error {
	defer telemetry.RecordUnitMeasurement(ctx, mStateStoreCommitReleaseCount)
	return is.s.CommitRelease(ctx, pkg, userID)
}
