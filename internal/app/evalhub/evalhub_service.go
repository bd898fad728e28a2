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

package evalhub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"evalhub.dev/evalhub/internal/assign"
	"evalhub.dev/evalhub/internal/config"
	"evalhub.dev/evalhub/internal/feedback"
	"evalhub.dev/evalhub/internal/pool"
	"evalhub.dev/evalhub/internal/statestore"
	"evalhub.dev/evalhub/internal/summary"
	"evalhub.dev/evalhub/internal/tasks"
	"evalhub.dev/evalhub/internal/telemetry"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "evalhub",
		"component": "app.evalhub",
	})
	mLogins         = telemetry.Counter("evalhub/logins", "logins")
	mResumedLogins  = telemetry.Counter("evalhub/resumedlogins", "logins resumed onto an existing lease")
	mQuits          = telemetry.Counter("evalhub/quits", "quits")
	mRatings        = telemetry.Counter("evalhub/ratings", "submitted ratings")
	mCompletions    = telemetry.Counter("evalhub/completions", "completed evaluations")
	mStaleReleases  = telemetry.Counter("evalhub/stalereleases", "stale sessions released on re-login")
)

// evalhubService implements the lease and assignment API. Every mutating
// operation is a read-mutate-commit cycle against state storage; compound
// cycles run under the store's pool guard so eligibility computation and
// the following write are atomic with respect to other requests.
type evalhubService struct {
	cfg        config.View
	store      statestore.Service
	engine     *assign.Engine
	journal    *feedback.Logger
	library    *tasks.Library
	reconciler *summary.Reconciler
}

type loginResult struct {
	PackageID string `json:"package_id"`
	Resumed   bool   `json:"resumed"`
}

// doLogin issues or re-issues a package to the user. A still-active
// session for the same identity resumes without touching any lease. A
// session for a different email, or one past its expiry, is released
// before a fresh assignment runs so the stale lease cannot linger.
func (s *evalhubService) doLogin(ctx context.Context, userID, email, background string) (*loginResult, error) {
	if userID == "" || email == "" {
		return nil, status.Error(codes.InvalidArgument, "missing user ID or email")
	}

	existing, err := s.store.GetSession(ctx, userID)
	if err != nil && status.Code(err) != codes.NotFound {
		return nil, err
	}

	now := time.Now().UTC()
	if existing != nil && existing.Email == email && existing.ActiveAt(now) {
		telemetry.RecordUnitMeasurement(ctx, mResumedLogins)
		return &loginResult{PackageID: existing.PackageID, Resumed: true}, nil
	}

	if existing != nil {
		if err := s.releaseSession(ctx, existing); err != nil {
			return nil, err
		}
		telemetry.RecordUnitMeasurement(ctx, mStaleReleases)
		logger.WithFields(logrus.Fields{
			"user":    userID,
			"package": existing.PackageID,
		}).Info("released stale session on re-login")
	}

	session := &pool.Session{
		UserID:     userID,
		Email:      email,
		Background: background,
	}
	p, err := s.engine.AssignPackage(ctx, session.Key(), session)
	if err != nil {
		return nil, err
	}

	telemetry.RecordUnitMeasurement(ctx, mLogins)
	return &loginResult{PackageID: p.ID, Resumed: false}, nil
}

// doQuit drops the user's lease without recording an evaluation. A
// missing session is a benign no-op.
func (s *evalhubService) doQuit(ctx context.Context, userID string) error {
	if userID == "" {
		return status.Error(codes.InvalidArgument, "missing user ID")
	}

	session, err := s.store.GetSession(ctx, userID)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return err
	}

	if err := s.releaseSession(ctx, session); err != nil {
		return err
	}
	telemetry.RecordUnitMeasurement(ctx, mQuits)
	return nil
}

// doSubmitRating records the user as an evaluator of the package, clears
// the lease and session, and appends the ratings to the journal. Unknown
// packages and sessions are cleaned up best-effort rather than failing
// the submission.
func (s *evalhubService) doSubmitRating(ctx context.Context, userID, email, packageID string, ratings json.RawMessage) error {
	if userID == "" || email == "" || packageID == "" {
		return status.Error(codes.InvalidArgument, "missing user ID, email or package ID")
	}

	background, err := s.finishEvaluation(ctx, userID, email, packageID, false)
	if err != nil {
		return err
	}

	// The journal write happens after the commit and outside the guard;
	// the journal is its own append-only store.
	err = s.journal.Append(&feedback.Record{
		UserID:     userID,
		Email:      email,
		PackageID:  packageID,
		Ratings:    ratings,
		Background: background,
	})
	if err != nil {
		return err
	}

	telemetry.RecordUnitMeasurement(ctx, mRatings)
	return nil
}

// doMarkComplete has the same store effect as doSubmitRating but writes
// no journal record, and an unknown package is an error.
func (s *evalhubService) doMarkComplete(ctx context.Context, userID, email, packageID string) error {
	if userID == "" || email == "" || packageID == "" {
		return status.Error(codes.InvalidArgument, "missing required fields")
	}

	if _, err := s.finishEvaluation(ctx, userID, email, packageID, true); err != nil {
		return err
	}

	telemetry.RecordUnitMeasurement(ctx, mCompletions)
	return nil
}

// finishEvaluation appends the user to the package's evaluator history,
// releases the lease, and deletes the session in one guarded commit. It
// returns the session's background for journaling. When requirePackage is
// false a missing package record still clears the session.
func (s *evalhubService) finishEvaluation(ctx context.Context, userID, email, packageID string, requirePackage bool) (string, error) {
	key := pool.NewUserKey(userID, email)

	m := s.store.NewMutex()
	if err := m.Lock(ctx); err != nil {
		return "", err
	}
	defer func() {
		if _, err := m.Unlock(ctx); err != nil {
			logger.WithError(err).Warning("failed to release the pool guard")
		}
	}()

	background := ""
	if session, err := s.store.GetSession(ctx, userID); err == nil {
		background = session.Background
	} else if status.Code(err) != codes.NotFound {
		return "", err
	}

	p, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			return "", err
		}
		if requirePackage {
			return "", err
		}
		p = nil
	}

	if p != nil {
		p.AddEvaluator(key)
		p.Release(key)
	}

	return background, s.store.CommitRelease(ctx, p, userID)
}

// releaseSession removes the session's lease entry from its package and
// deletes the session in one guarded commit. The lease key is built from
// the session's own identity, not the caller's, so a re-login under a new
// email still releases the old entry.
func (s *evalhubService) releaseSession(ctx context.Context, session *pool.Session) error {
	m := s.store.NewMutex()
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if _, err := m.Unlock(ctx); err != nil {
			logger.WithError(err).Warning("failed to release the pool guard")
		}
	}()

	p, err := s.store.GetPackage(ctx, session.PackageID)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			return err
		}
		p = nil
	}
	if p != nil {
		p.Release(session.Key())
	}

	return s.store.CommitRelease(ctx, p, session.UserID)
}

// doGetPackageTasks returns the task ids bundled in a package.
func (s *evalhubService) doGetPackageTasks(packageID string) ([]string, error) {
	return s.library.PackageTasks(packageID)
}

// doGetTask returns the task metadata bundle.
func (s *evalhubService) doGetTask(taskID string) (*tasks.Bundle, error) {
	return s.library.TaskBundle(taskID)
}

// doGenerateSummary runs the offline reconciliation and returns its
// result.
func (s *evalhubService) doGenerateSummary(ctx context.Context) (*summary.Result, error) {
	return s.reconciler.Reconcile(ctx)
}
