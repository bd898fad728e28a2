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

// Package summary reconciles the rating journal, the uploads directory
// and the session snapshot into a per-user progress report. The
// reconciler only reads engine state; it never mutates it.
package summary

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"evalhub.dev/evalhub/internal/config"
	"evalhub.dev/evalhub/internal/feedback"
	"evalhub.dev/evalhub/internal/pool"
	"evalhub.dev/evalhub/internal/set"
	"evalhub.dev/evalhub/internal/statestore"
	"evalhub.dev/evalhub/internal/tasks"
	"evalhub.dev/evalhub/internal/telemetry"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "evalhub",
		"component": "summary",
	})
	mReconcileRuns = telemetry.Counter("summary/reconcileruns", "summary reconciliations")
	mReportedUsers = telemetry.Gauge("summary/reportedusers", "users in the latest summary report")
)

const (
	defaultUploadsDirectory = "database/uploads"
	defaultOutputFile       = "database/summary.json"
	scanConcurrency         = 8
)

// PackageReport is one user's progress on one package.
type PackageReport struct {
	PackageTasks           []string `json:"package_tasks"`
	TasksDone              []string `json:"tasks_done"`
	QuestionnaireSubmitted bool     `json:"questionnaire_submitted"`
	CompleteEvaluation     bool     `json:"complete_evaluation"`
}

// UserReport aggregates one user's uploads and questionnaires across
// every package they touched.
type UserReport struct {
	UserID            string                    `json:"user_id"`
	Email             string                    `json:"email"`
	Background        string                    `json:"background"`
	EvaluatedPackages map[string]*PackageReport `json:"evaluated_packages"`
}

// Result is the reconciliation outcome returned to the caller. The full
// report is written to the configured output file.
type Result struct {
	Message   string `json:"message"`
	UserCount int    `json:"user_count"`
}

// Reconciler builds the progress report.
type Reconciler struct {
	store   statestore.Service
	journal *feedback.Logger
	library *tasks.Library
	decoder ArtifactKeyDecoder

	uploadsDir string
	outputFile string
}

// New returns a Reconciler over the given stores and the versioned pnml
// upload convention.
func New(cfg config.View, store statestore.Service, journal *feedback.Logger, library *tasks.Library) *Reconciler {
	r := &Reconciler{
		store:      store,
		journal:    journal,
		library:    library,
		decoder:    VersionedPNMLDecoder{},
		uploadsDir: cfg.GetString("content.uploadsDirectory"),
		outputFile: cfg.GetString("summary.outputFile"),
	}
	if r.uploadsDir == "" {
		r.uploadsDir = defaultUploadsDirectory
	}
	if r.outputFile == "" {
		r.outputFile = defaultOutputFile
	}
	return r
}

type uploadHit struct {
	packageID string
	taskID    string
	key       pool.UserKey
}

// Reconcile scans every task's upload directory, joins the hits with the
// rating journal and the session snapshot, writes the report to the
// output file, and returns the user count. Users with no uploads are
// omitted.
func (r *Reconciler) Reconcile(ctx context.Context) (*Result, error) {
	telemetry.RecordUnitMeasurement(ctx, mReconcileRuns)

	table, err := r.library.Table()
	if err != nil {
		return nil, err
	}

	questionnaires, err := r.readQuestionnaires()
	if err != nil {
		return nil, err
	}

	sessions, err := r.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	hits, err := r.scanUploads(ctx, table)
	if err != nil {
		return nil, err
	}

	report := r.buildReport(table, hits, questionnaires, sessions)

	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		err = errors.Wrap(err, "failed to marshal the summary report")
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	if err := os.WriteFile(r.outputFile, b, 0644); err != nil {
		err = errors.Wrapf(err, "failed to write the summary report %s", r.outputFile)
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	telemetry.SetGauge(ctx, mReportedUsers, int64(len(report)))
	logger.WithField("users", len(report)).Info("summary report written")

	return &Result{Message: "Summary generated", UserCount: len(report)}, nil
}

// readQuestionnaires indexes the rating journal by user key and package.
func (r *Reconciler) readQuestionnaires() (map[pool.UserKey]map[string]bool, error) {
	records, err := r.journal.ReadAll()
	if err != nil {
		return nil, err
	}

	submitted := map[pool.UserKey]map[string]bool{}
	for _, rec := range records {
		if rec.UserID == "" || rec.Email == "" || rec.PackageID == "" {
			logger.WithField("record", rec.ID).Warning("skipping incomplete rating record")
			continue
		}
		key := pool.NewUserKey(rec.UserID, rec.Email)
		if submitted[key] == nil {
			submitted[key] = map[string]bool{}
		}
		submitted[key][rec.PackageID] = true
	}

	return submitted, nil
}

// scanUploads walks every task's upload directory concurrently and
// decodes the owner of each artifact. Artifacts that do not follow the
// naming convention are skipped.
func (r *Reconciler) scanUploads(ctx context.Context, table map[string][]string) ([]uploadHit, error) {
	var mu sync.Mutex
	var hits []uploadHit

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)

	for packageID, taskIDs := range table {
		for _, taskID := range taskIDs {
			packageID, taskID := packageID, taskID
			g.Go(func() error {
				dir := r.uploadsDir + "/" + taskID
				entries, err := os.ReadDir(dir)
				if err != nil {
					if os.IsNotExist(err) {
						return nil
					}
					return errors.Wrapf(err, "failed to read the uploads directory %s", dir)
				}

				for _, e := range entries {
					key, ok := r.decoder.DecodeUserKey(taskID, e.Name())
					if !ok {
						continue
					}
					mu.Lock()
					hits = append(hits, uploadHit{packageID: packageID, taskID: taskID, key: key})
					mu.Unlock()
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	return hits, nil
}

func (r *Reconciler) buildReport(
	table map[string][]string,
	hits []uploadHit,
	questionnaires map[pool.UserKey]map[string]bool,
	sessions []*pool.Session,
) map[string]*UserReport {
	backgrounds := map[pool.UserKey]string{}
	for _, s := range sessions {
		backgrounds[s.Key()] = s.Background
	}

	done := map[pool.UserKey]map[string]map[string]bool{}
	for _, h := range hits {
		if done[h.key] == nil {
			done[h.key] = map[string]map[string]bool{}
		}
		if done[h.key][h.packageID] == nil {
			done[h.key][h.packageID] = map[string]bool{}
		}
		done[h.key][h.packageID][h.taskID] = true
	}

	report := map[string]*UserReport{}
	for key, packages := range done {
		user := &UserReport{
			UserID:            key.ID,
			Email:             key.Email,
			Background:        backgrounds[key],
			EvaluatedPackages: map[string]*PackageReport{},
		}

		for packageID, doneTasks := range packages {
			packageTasks := table[packageID]
			// Keep the table's task order in the report.
			tasksDone := make([]string, 0, len(doneTasks))
			for _, taskID := range packageTasks {
				if doneTasks[taskID] {
					tasksDone = append(tasksDone, taskID)
				}
			}

			submitted := questionnaires[key][packageID]
			user.EvaluatedPackages[packageID] = &PackageReport{
				PackageTasks:           packageTasks,
				TasksDone:              tasksDone,
				QuestionnaireSubmitted: submitted,
				CompleteEvaluation:     submitted && set.Equal(tasksDone, packageTasks),
			}
		}

		report[key.String()] = user
	}

	return report
}
