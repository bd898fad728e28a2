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

// Package telemetry configures metrics reporting for the server.
package telemetry

import (
	"net/http"
	"time"

	ocPrometheus "contrib.go.opencensus.io/exporter/prometheus"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats/view"

	"evalhub.dev/evalhub/internal/config"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "evalhub",
		"component": "telemetry",
	})
)

// ConfigNameEnableMetrics indicates that metrics reporting is enabled.
const ConfigNameEnableMetrics = "telemetry.prometheus.enable"

// Setup configures the telemetry for the server. It returns a closer that
// unbinds the exporters.
func Setup(mux *http.ServeMux, cfg config.View) (func(), error) {
	reportingPeriod := cfg.GetDuration("telemetry.reportingPeriod")
	if reportingPeriod <= 0 {
		reportingPeriod = time.Minute
	}

	closer, err := bindPrometheus(mux, cfg)
	if err != nil {
		return nil, err
	}

	// Change the frequency of updates to the metrics endpoint.
	view.SetReportingPeriod(reportingPeriod)

	logger.WithFields(logrus.Fields{
		"reportingPeriod": reportingPeriod,
	}).Info("telemetry has been configured.")
	return closer, nil
}

func bindPrometheus(mux *http.ServeMux, cfg config.View) (func(), error) {
	if !cfg.GetBool(ConfigNameEnableMetrics) {
		logger.Info("Prometheus Metrics: Disabled")
		return func() {}, nil
	}

	endpoint := cfg.GetString("telemetry.prometheus.endpoint")
	if endpoint == "" {
		endpoint = "/metrics"
	}
	logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
	}).Info("Prometheus Metrics: ENABLED")

	registry := prometheus.NewRegistry()
	// Register standard prometheus instrumentation.
	err := registry.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to register prometheus collector")
	}
	err = registry.Register(prometheus.NewGoCollector())
	if err != nil {
		return nil, errors.Wrap(err, "Failed to register prometheus collector")
	}

	promExporter, err := ocPrometheus.NewExporter(
		ocPrometheus.Options{
			Namespace: "",
			Registry:  registry,
		})
	if err != nil {
		return nil, errors.Wrap(err, "Failed to initialize OpenCensus exporter to Prometheus")
	}

	view.RegisterExporter(promExporter)
	mux.Handle(endpoint, promExporter)
	return func() {
		view.UnregisterExporter(promExporter)
	}, nil
}
