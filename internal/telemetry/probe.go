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

package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

var (
	mHealthChecksFailed = Counter("health/failures", "failed health checks")
)

// HealthCheckEndpoint is the pattern the readiness probe is served on.
const HealthCheckEndpoint = "/healthz"

// NewHealthProbe returns a handler that reports ready only when every
// registered check passes.
func NewHealthProbe(checks func() []func(context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		for _, check := range checks() {
			if err := check(ctx); err != nil {
				RecordUnitMeasurement(ctx, mHealthChecksFailed)
				logger.WithError(err).Warning("health check failed")
				http.Error(w, fmt.Sprintf("not ready: %s", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
