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

// Package pool defines the records the lease and session stores operate on:
// evaluation packages, their leases and evaluator history, and user sessions.
package pool

import (
	"fmt"
	"strings"
)

// UserKey is the composite identity used for every eligibility and
// deduplication check. Two keys are equal iff both the user id and the
// email match exactly, so UserKey values can be compared with == and used
// directly as map keys.
type UserKey struct {
	ID    string
	Email string
}

// NewUserKey returns the key for the given identity.
func NewUserKey(id, email string) UserKey {
	return UserKey{ID: id, Email: email}
}

// String renders the key in its serialized "id|email" form.
func (k UserKey) String() string {
	return k.ID + "|" + k.Email
}

// ParseUserKey parses the serialized "id|email" form. The email may itself
// contain '|' characters; only the first separator is significant.
func ParseUserKey(s string) (UserKey, error) {
	i := strings.Index(s, "|")
	if i < 0 {
		return UserKey{}, fmt.Errorf("malformed user key %q", s)
	}
	return UserKey{ID: s[:i], Email: s[i+1:]}, nil
}

// MarshalText serializes the key so it can be used as a JSON object key.
// The stored form matches the serialized layout consumed by external
// tooling, while in-memory code keeps the structured type.
func (k UserKey) MarshalText() ([]byte, error) {
	if k.ID == "" {
		return nil, fmt.Errorf("user key has empty id")
	}
	return []byte(k.String()), nil
}

// UnmarshalText parses the serialized form.
func (k *UserKey) UnmarshalText(b []byte) error {
	parsed, err := ParseUserKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
