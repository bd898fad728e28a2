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

// Package evalhub is the service hosting the package lease and assignment
// engine behind an http API.
package evalhub

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"evalhub.dev/evalhub/internal/appmain"
	"evalhub.dev/evalhub/internal/assign"
	"evalhub.dev/evalhub/internal/config"
	"evalhub.dev/evalhub/internal/expbo"
	"evalhub.dev/evalhub/internal/feedback"
	"evalhub.dev/evalhub/internal/statestore"
	"evalhub.dev/evalhub/internal/summary"
	"evalhub.dev/evalhub/internal/tasks"
)

const defaultFeedbackFile = "database/feedback.jsonl"

// BindService creates the evalhub service and binds it to the serving
// harness.
func BindService(p *appmain.Params, b *appmain.Bindings) error {
	cfg := p.Config()

	store := statestore.New(cfg)
	if err := waitForStorage(cfg, store); err != nil {
		return errors.Wrap(err, "state storage did not become healthy")
	}
	b.AddHealthCheckFunc(store.HealthCheck)
	b.AddCloserErr(store.Close)

	journalPath := cfg.GetString("content.feedbackFile")
	if journalPath == "" {
		journalPath = defaultFeedbackFile
	}
	journal := feedback.NewLogger(journalPath)
	library := tasks.NewLibrary(cfg)

	s := &evalhubService{
		cfg:        cfg,
		store:      store,
		engine:     assign.New(cfg, store),
		journal:    journal,
		library:    library,
		reconciler: summary.New(cfg, store, journal, library),
	}
	s.registerHandlers(b)

	return nil
}

// waitForStorage retries the storage health check so the service does not
// come up before its backing store. The retry schedule is configurable
// through storage.startupBackoff.
func waitForStorage(cfg config.View, store statestore.Service) error {
	b := backoff.NewExponentialBackOff()
	if s := cfg.GetString("storage.startupBackoff"); s != "" {
		if err := expbo.UnmarshalExponentialBackOff(s, b); err != nil {
			return errors.Wrap(err, "invalid storage.startupBackoff value")
		}
	} else {
		b.MaxElapsedTime = 30 * time.Second
	}

	check := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return store.HealthCheck(ctx)
	}
	return backoff.Retry(check, b)
}
