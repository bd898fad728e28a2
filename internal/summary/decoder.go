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

package summary

import (
	"strings"

	"evalhub.dev/evalhub/internal/pool"
)

// ArtifactKeyDecoder recovers the owning user key from an uploaded
// artifact's filename. Implementations are specific to one upload naming
// convention; the reconciler does not care which one is in use.
type ArtifactKeyDecoder interface {
	// DecodeUserKey returns the user key encoded in the filename, or
	// false when the name does not follow the convention.
	DecodeUserKey(taskID, filename string) (pool.UserKey, bool)
}

// VersionedPNMLDecoder decodes upload names of the form
// taskid_userid_safeemail[_non_Sound]_vN.pnml, where the email is escaped
// with _at_ and _dot_. The user id may itself contain underscores; the
// email boundary is found by looking for the first suffix carrying both
// escape markers.
type VersionedPNMLDecoder struct{}

// DecodeUserKey implements ArtifactKeyDecoder.
func (VersionedPNMLDecoder) DecodeUserKey(taskID, filename string) (pool.UserKey, bool) {
	if !strings.HasSuffix(filename, ".pnml") {
		return pool.UserKey{}, false
	}

	name := strings.TrimSuffix(filename, ".pnml")
	name = strings.ReplaceAll(name, "_non_Sound", "")

	prefix := taskID + "_"
	if !strings.HasPrefix(name, prefix) {
		return pool.UserKey{}, false
	}
	rest := strings.TrimPrefix(name, prefix)

	// Strip the version suffix.
	v := strings.LastIndex(rest, "_v")
	if v < 0 {
		return pool.UserKey{}, false
	}
	rest = rest[:v]

	parts := strings.Split(rest, "_")
	for i := 1; i < len(parts); i++ {
		maybeEmail := strings.Join(parts[i:], "_")
		if strings.Contains(maybeEmail, "_at_") && strings.Contains(maybeEmail, "_dot_") {
			email := strings.ReplaceAll(maybeEmail, "_at_", "@")
			email = strings.ReplaceAll(email, "_dot_", ".")
			return pool.UserKey{
				ID:    strings.Join(parts[:i], "_"),
				Email: email,
			}, true
		}
	}

	return pool.UserKey{}, false
}
