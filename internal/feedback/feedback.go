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

// Package feedback persists submitted ratings as an append-only journal,
// one JSON record per line. The journal is the system of record for what
// a user actually submitted; package records only track who submitted.
package feedback

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var logger = logrus.WithFields(logrus.Fields{
	"app":       "evalhub",
	"component": "feedback",
})

// Record is one submitted rating set.
type Record struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Email       string          `json:"email"`
	PackageID   string          `json:"package_id"`
	Ratings     json.RawMessage `json:"ratings"`
	Background  string          `json:"background,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// Logger appends rating records to a JSONL file. Safe for concurrent use.
type Logger struct {
	path string

	mu sync.Mutex
}

// NewLogger returns a Logger writing to the given path. The file is
// created on first append.
func NewLogger(path string) *Logger {
	return &Logger{path: path}
}

// Path returns the journal file path.
func (l *Logger) Path() string {
	return l.path
}

// Append writes the record as one line at the end of the journal. A zero
// SubmittedAt is filled with the current time and an empty ID with a
// fresh xid.
func (l *Logger) Append(r *Record) error {
	if r.ID == "" {
		r.ID = xid.New().String()
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = time.Now().UTC()
	}

	b, err := json.Marshal(r)
	if err != nil {
		err = errors.Wrap(err, "failed to marshal the rating record")
		return status.Errorf(codes.Internal, "%v", err)
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		err = errors.Wrapf(err, "failed to open the rating journal %s", l.path)
		return status.Errorf(codes.Internal, "%v", err)
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		err = errors.Wrapf(err, "failed to append to the rating journal %s", l.path)
		return status.Errorf(codes.Internal, "%v", err)
	}

	return nil
}

// ReadAll returns every parseable record in the journal in file order.
// Malformed lines are logged and skipped rather than failing the read; a
// missing journal is an empty journal.
func (l *Logger) ReadAll() ([]*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		err = errors.Wrapf(err, "failed to open the rating journal %s", l.path)
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	defer f.Close()

	var records []*Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		r := &Record{}
		if err := json.Unmarshal(b, r); err != nil {
			logger.WithError(err).WithField("line", line).Warning("skipping malformed rating record")
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		err = errors.Wrapf(err, "failed to read the rating journal %s", l.path)
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	return records, nil
}
