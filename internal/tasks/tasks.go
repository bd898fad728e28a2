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

// Package tasks serves the static reference content evaluators work
// against: the package to task-list table, per-task document bundles, and
// the landing instructions. All of it is deployment-supplied files; this
// package never writes.
package tasks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"evalhub.dev/evalhub/internal/config"
)

const (
	defaultTableFile        = "database/package_tasks.json"
	defaultTaskDirectory    = "tasks"
	defaultInstructionsFile = "task_instruction.md"
)

// Bundle is the task metadata handed to the evaluation UI.
type Bundle struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	TranslationFileURL string `json:"translation_file_url"`
	OriginalImageURL   string `json:"original_image_url"`
	ActivityMD         string `json:"activity_md"`
}

// Library reads task reference content from disk.
type Library struct {
	tableFile        string
	taskDir          string
	instructionsFile string
}

// NewLibrary returns a Library rooted at the configured content paths.
func NewLibrary(cfg config.View) *Library {
	l := &Library{
		tableFile:        cfg.GetString("content.taskTableFile"),
		taskDir:          cfg.GetString("content.taskDirectory"),
		instructionsFile: cfg.GetString("content.instructionsFile"),
	}
	if l.tableFile == "" {
		l.tableFile = defaultTableFile
	}
	if l.taskDir == "" {
		l.taskDir = defaultTaskDirectory
	}
	if l.instructionsFile == "" {
		l.instructionsFile = defaultInstructionsFile
	}
	return l
}

// Table returns the full package to task-list table. A missing table file
// reads as an empty table.
func (l *Library) Table() (map[string][]string, error) {
	b, err := os.ReadFile(l.tableFile)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]string{}, nil
		}
		err = errors.Wrapf(err, "failed to read the task table %s", l.tableFile)
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	table := map[string][]string{}
	if err := json.Unmarshal(b, &table); err != nil {
		err = errors.Wrapf(err, "failed to unmarshal the task table %s", l.tableFile)
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	return table, nil
}

// PackageTasks returns the task ids belonging to a package. Unknown
// packages have an empty task list rather than an error.
func (l *Library) PackageTasks(packageID string) ([]string, error) {
	table, err := l.Table()
	if err != nil {
		return nil, err
	}
	ids := table[packageID]
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// TaskBundle assembles the metadata bundle for one task from its content
// directory: the first pdf is the translation document, the first
// id*.png the original image, and the first markdown file the activity
// text.
func (l *Library) TaskBundle(taskID string) (*Bundle, error) {
	dir := filepath.Join(l.taskDir, taskID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.Errorf(codes.NotFound, "task %s not found", taskID)
		}
		err = errors.Wrapf(err, "failed to read the task directory %s", dir)
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	var translation, image, activity string
	for _, e := range entries {
		name := e.Name()
		lower := strings.ToLower(name)
		switch {
		case translation == "" && strings.HasSuffix(name, ".pdf"):
			translation = name
		case image == "" && strings.HasPrefix(lower, "id") && strings.HasSuffix(lower, ".png"):
			image = name
		case activity == "" && strings.HasSuffix(name, ".md"):
			activity = name
		}
	}

	activityText := ""
	if activity != "" {
		b, err := os.ReadFile(filepath.Join(dir, activity))
		if err != nil {
			err = errors.Wrapf(err, "failed to read the activity file for task %s", taskID)
			return nil, status.Errorf(codes.Internal, "%v", err)
		}
		activityText = string(b)
	}

	return &Bundle{
		ID:                 taskID,
		Title:              TitleForTask(taskID),
		TranslationFileURL: "/v1/tasks/" + taskID + "/" + translation,
		OriginalImageURL:   "/v1/tasks/" + taskID + "/" + image,
		ActivityMD:         activityText,
	}, nil
}

// Instructions returns the landing instructions text. A missing file is
// answered with a placeholder instead of an error.
func (l *Library) Instructions() (string, error) {
	b, err := os.ReadFile(l.instructionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "No instructions available.", nil
		}
		err = errors.Wrapf(err, "failed to read the instructions file %s", l.instructionsFile)
		return "", status.Errorf(codes.Internal, "%v", err)
	}
	return string(b), nil
}

// TitleForTask derives the display title from a task id, so
// "task_id_3_2" renders as "Task 3.2".
func TitleForTask(taskID string) string {
	return strings.ReplaceAll(strings.ReplaceAll(taskID, "task_id_", "Task "), "_", ".")
}
