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

// Package config contains convenience functions for reading and managing viper configs.
package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "evalhub",
		"component": "config",
	})
)

// Read reads the evalhub config file into a viper.Viper instance. The file
// is watched for changes so deployments can adjust quotas and lease
// durations without a restart.
func Read() (View, error) {
	cfg := viper.New()
	cfg.SetConfigType("yaml")
	cfg.AddConfigPath(".")
	cfg.AddConfigPath("config")
	cfg.SetConfigName("evalhub_config")
	err := cfg.ReadInConfig()
	if err != nil {
		logger.WithError(err).Fatal("Fatal error reading config file")
	}

	cfg.WatchConfig() // Watch and re-read config file.
	cfg.OnConfigChange(func(event fsnotify.Event) {
		logger.WithFields(logrus.Fields{
			"filename":  event.Name,
			"operation": event.Op,
		}).Info("Server configuration changed.")
	})
	return cfg, err
}
