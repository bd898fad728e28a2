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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupPrometheus(t *testing.T) {
	cfg := viper.New()
	cfg.Set("telemetry.prometheus.enable", true)
	cfg.Set("telemetry.prometheus.endpoint", "/metrics")
	cfg.Set("telemetry.reportingPeriod", "1m")

	mux := http.NewServeMux()
	closer, err := Setup(mux, cfg)
	require.NoError(t, err)
	defer closer()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthProbe(t *testing.T) {
	healthy := true
	checks := func() []func(context.Context) error {
		return []func(context.Context) error{
			func(context.Context) error {
				if !healthy {
					return errors.New("store unreachable")
				}
				return nil
			},
		}
	}

	probe := NewHealthProbe(checks)

	rr := httptest.NewRecorder()
	probe.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, HealthCheckEndpoint, nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	healthy = false
	rr = httptest.NewRecorder()
	probe.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, HealthCheckEndpoint, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
