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

package pool

import (
	"time"
)

// Session is the single active work claim for a user. At most one session
// exists per user id at any time; the session mirrors the lease the user
// holds on PackageID.
type Session struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	Background  string    `json:"background"`
	PackageID   string    `json:"package_id"`
	LeaseExpiry time.Time `json:"locked_until"`
}

// Key returns the composite identity the session belongs to.
func (s *Session) Key() UserKey {
	return UserKey{ID: s.UserID, Email: s.Email}
}

// ActiveAt reports whether the session's lease is still running at the
// given instant.
func (s *Session) ActiveAt(now time.Time) bool {
	return s.LeaseExpiry.After(now)
}
