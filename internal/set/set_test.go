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

package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDifference(t *testing.T) {
	a := []string{"t1", "t2", "t3"}
	b := []string{"t2"}
	assert.ElementsMatch(t, []string{"t1", "t3"}, Difference(a, b))
	assert.Empty(t, Difference(b, a))
}

func TestIntersection(t *testing.T) {
	a := []string{"t1", "t2", "t3"}
	b := []string{"t3", "t4", "t1"}
	assert.ElementsMatch(t, []string{"t1", "t3"}, Intersection(a, b))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal([]string{"t1", "t2"}, []string{"t2", "t1"}))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal([]string{"t1"}, []string{"t1", "t2"}))
	assert.False(t, Equal([]string{"t1", "t3"}, []string{"t1", "t2"}))
}
