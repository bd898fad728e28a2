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

package tasks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newLibrary(t *testing.T) (*Library, string) {
	root := t.TempDir()
	cfg := viper.New()
	cfg.Set("content.taskTableFile", filepath.Join(root, "package_tasks.json"))
	cfg.Set("content.taskDirectory", filepath.Join(root, "tasks"))
	cfg.Set("content.instructionsFile", filepath.Join(root, "task_instruction.md"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tasks"), 0755))
	return NewLibrary(cfg), root
}

func TestPackageTasks(t *testing.T) {
	assert := assert.New(t)
	l, root := newLibrary(t)

	// No table file yet means every package has an empty task list.
	ids, err := l.PackageTasks("pkg_001")
	assert.Nil(err)
	assert.Empty(ids)

	table := `{"pkg_001": ["task_id_1_1", "task_id_1_2"], "pkg_002": []}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "package_tasks.json"), []byte(table), 0644))

	ids, err = l.PackageTasks("pkg_001")
	assert.Nil(err)
	assert.Equal([]string{"task_id_1_1", "task_id_1_2"}, ids)

	ids, err = l.PackageTasks("pkg_unknown")
	assert.Nil(err)
	assert.Empty(ids)
}

func TestTaskBundle(t *testing.T) {
	assert := assert.New(t)
	l, root := newLibrary(t)

	dir := filepath.Join(root, "tasks", "task_id_3_2")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "translation.pdf"), []byte("pdf"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ID_3_2.png"), []byte("png"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "activity.md"), []byte("# Compare the nets"), 0644))

	b, err := l.TaskBundle("task_id_3_2")
	assert.Nil(err)
	assert.Equal("task_id_3_2", b.ID)
	assert.Equal("Task 3.2", b.Title)
	assert.Equal("/v1/tasks/task_id_3_2/translation.pdf", b.TranslationFileURL)
	assert.Equal("/v1/tasks/task_id_3_2/ID_3_2.png", b.OriginalImageURL)
	assert.Equal("# Compare the nets", b.ActivityMD)

	_, err = l.TaskBundle("task_id_9_9")
	assert.Equal(codes.NotFound, status.Code(err))
}

func TestInstructions(t *testing.T) {
	assert := assert.New(t)
	l, root := newLibrary(t)

	text, err := l.Instructions()
	assert.Nil(err)
	assert.Equal("No instructions available.", text)

	require.NoError(t, os.WriteFile(filepath.Join(root, "task_instruction.md"), []byte("# Welcome"), 0644))
	text, err = l.Instructions()
	assert.Nil(err)
	assert.Equal("# Welcome", text)
}

func TestTitleForTask(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("Task 3.2", TitleForTask("task_id_3_2"))
	assert.Equal("Task 10.1", TitleForTask("task_id_10_1"))
}
