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

// Package appmain contains the common application initialization code for
// evalhub servers.
package appmain

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"evalhub.dev/evalhub/internal/config"
	"evalhub.dev/evalhub/internal/logging"
	"evalhub.dev/evalhub/internal/telemetry"
)

var logger = logrus.WithFields(logrus.Fields{
	"app":       "evalhub",
	"component": "app.main",
})

const shutdownTimeout = 10 * time.Second

// RunApplication starts and runs the given application forever. For use
// in main functions to run the full application.
func RunApplication(serverName string, bindService Bind) {
	c := make(chan os.Signal, 1)
	// SIGTERM is signaled by k8s when it wants a pod to stop.
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)

	a, err := StartApplication(serverName, bindService, config.Read, net.Listen)
	if err != nil {
		logger.Fatal(err)
	}

	<-c
	err = a.Stop()
	if err != nil {
		logger.Fatal(err)
	}
	logger.Info("Application stopped successfully.")
}

// Bind is a function which starts an application, and binds it to serving.
type Bind func(p *Params, b *Bindings) error

// Params are inputs to starting an application.
type Params struct {
	config      config.View
	serviceName string
}

// Config provides the configuration for the application.
func (p *Params) Config() config.View {
	return p.config
}

// ServiceName is the name of the currently running service.
func (p *Params) ServiceName() string {
	return p.serviceName
}

// Bindings allows applications to bind various functions to the running
// server.
type Bindings struct {
	a            *App
	mux          *http.ServeMux
	healthChecks []func(context.Context) error
}

// AddHealthCheckFunc allows an application to check if it is healthy, and
// contribute to the overall server health.
func (b *Bindings) AddHealthCheckFunc(f func(context.Context) error) {
	b.healthChecks = append(b.healthChecks, f)
}

// Handle binds an http handler to the server at the given pattern.
func (b *Bindings) Handle(pattern string, handler http.Handler) {
	b.mux.Handle(pattern, handler)
}

// HandleFunc binds an http handler function to the server at the given
// pattern.
func (b *Bindings) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	b.mux.HandleFunc(pattern, handler)
}

// AddCloser specifies a function to be called on application shutdown.
// Closers are called in reverse order.
func (b *Bindings) AddCloser(c func()) {
	b.a.closers = append(b.a.closers, func() error {
		c()
		return nil
	})
}

// AddCloserErr specifies a function to be called on application shutdown.
// Closers are called in reverse order.
func (b *Bindings) AddCloserErr(c func() error) {
	b.a.closers = append(b.a.closers, c)
}

// App is used internally, and public only for apptest. Do not use, and
// use apptest instead.
type App struct {
	closers []func() error
}

// StartApplication provides more control over an application than
// RunApplication. It is for running in memory tests against your app.
func StartApplication(serverName string, bindService Bind, getCfg func() (config.View, error), listen func(network, address string) (net.Listener, error)) (*App, error) {
	a := &App{}

	cfg, err := getCfg()
	if err != nil {
		logger.WithError(err).Fatal("cannot read configuration.")
	}
	logging.ConfigureLogging(cfg)

	mux := http.NewServeMux()

	closeTelemetry, err := telemetry.Setup(mux, cfg)
	if err != nil {
		surpressedErr := a.Stop() // Don't care about additional errors stopping.
		_ = surpressedErr
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		closeTelemetry()
		return nil
	})

	p := &Params{
		config:      cfg,
		serviceName: serverName,
	}
	b := &Bindings{
		a:   a,
		mux: mux,
	}

	err = bindService(p, b)
	if err != nil {
		surpressedErr := a.Stop()
		_ = surpressedErr
		return nil, err
	}

	mux.Handle(telemetry.HealthCheckEndpoint, telemetry.NewHealthProbe(func() []func(context.Context) error {
		return b.healthChecks
	}))

	addr := fmt.Sprintf(":%d", cfg.GetInt("api."+serverName+".httpport"))
	ln, err := listen("tcp", addr)
	if err != nil {
		surpressedErr := a.Stop()
		_ = surpressedErr
		return nil, err
	}

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("http server terminated unexpectedly")
		}
	}()
	logger.WithField("address", ln.Addr().String()).Info("serving http")

	b.AddCloserErr(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	return a, nil
}

// Stop shuts down the application.
func (a *App) Stop() error {
	// Use closers in reverse order: Since dependencies are created before
	// their dependants, this helps ensure no dependencies are closed
	// unexpectedly.
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err := a.closers[i]()
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
