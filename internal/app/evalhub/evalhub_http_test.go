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

package evalhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalhub.dev/evalhub/internal/appmain/apptest"
	"evalhub.dev/evalhub/internal/pool"
	"evalhub.dev/evalhub/internal/statestore"
	statestoreTesting "evalhub.dev/evalhub/internal/statestore/testing"
)

func startServer(t *testing.T) (string, *viper.Viper) {
	root := t.TempDir()
	cfg := viper.New()
	cfg.Set("content.taskTableFile", filepath.Join(root, "package_tasks.json"))
	cfg.Set("content.taskDirectory", filepath.Join(root, "tasks"))
	cfg.Set("content.uploadsDirectory", filepath.Join(root, "uploads"))
	cfg.Set("content.feedbackFile", filepath.Join(root, "feedback.jsonl"))
	cfg.Set("summary.outputFile", filepath.Join(root, "summary.json"))

	closer := statestoreTesting.New(t, cfg)
	t.Cleanup(closer)

	table := `{"pkg_001": ["task_id_1_1"]}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "package_tasks.json"), []byte(table), 0644))

	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	cfg.Set(fmt.Sprintf("api.%s.httpport", apptest.ServiceName), port)

	apptest.TestApp(t, cfg, ln, BindService)

	return fmt.Sprintf("http://localhost:%d", port), cfg
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, map[string]interface{}) {
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()

	decoded := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestServeEndToEnd(t *testing.T) {
	assert := assert.New(t)
	base, cfg := startServer(t)

	store := statestore.New(cfg)
	defer store.Close()
	require.NoError(t, store.CreatePackage(context.Background(), pool.NewPackage("pkg_001")))

	// Health probe.
	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)

	// Login grants a package.
	resp, body := postJSON(t, base+"/v1/login", map[string]string{
		"user_id": "u1", "email": "u1@example.com", "background": "linguistics",
	})
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(true, body["success"])
	assert.Equal("pkg_001", body["package_id"])
	assert.Equal(false, body["resumed"])

	// A second login resumes.
	resp, body = postJSON(t, base+"/v1/login", map[string]string{
		"user_id": "u1", "email": "u1@example.com",
	})
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(true, body["resumed"])

	// A malformed login is rejected.
	resp, body = postJSON(t, base+"/v1/login", map[string]string{"user_id": "u2"})
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
	assert.Equal(false, body["success"])

	// Package task listing.
	httpResp, err := http.Get(base + "/v1/packages/pkg_001/tasks")
	require.NoError(t, err)
	listing := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&listing))
	httpResp.Body.Close()
	assert.Equal([]interface{}{"task_id_1_1"}, listing["tasks"])

	// Instructions fall back to the placeholder.
	httpResp, err = http.Get(base + "/v1/instructions")
	require.NoError(t, err)
	httpResp.Body.Close()
	assert.Equal(http.StatusOK, httpResp.StatusCode)

	// An unknown task is a 404.
	httpResp, err = http.Get(base + "/v1/tasks/task_id_9_9")
	require.NoError(t, err)
	httpResp.Body.Close()
	assert.Equal(http.StatusNotFound, httpResp.StatusCode)

	// Submitting the rating releases the lease so the pool drains to
	// exhaustion for this user.
	resp, _ = postJSON(t, base+"/v1/submit-rating", map[string]interface{}{
		"user_id": "u1", "email": "u1@example.com", "package_id": "pkg_001",
		"ratings": map[string]int{"q1": 4},
	})
	assert.Equal(http.StatusOK, resp.StatusCode)

	resp, body = postJSON(t, base+"/v1/login", map[string]string{
		"user_id": "u1", "email": "u1@example.com",
	})
	assert.Equal(http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(false, body["success"])

	// The admin summary reflects the journaled questionnaire.
	httpResp, err = http.Get(base + "/v1/admin/summary")
	require.NoError(t, err)
	result := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&result))
	httpResp.Body.Close()
	assert.Equal("Summary generated", result["message"])
}
