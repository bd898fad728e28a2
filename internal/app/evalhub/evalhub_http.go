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
	"encoding/json"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"evalhub.dev/evalhub/internal/appmain"
)

type loginRequest struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Background string `json:"background"`
}

type quitRequest struct {
	UserID string `json:"user_id"`
}

type submitRatingRequest struct {
	UserID    string          `json:"user_id"`
	Email     string          `json:"email"`
	PackageID string          `json:"package_id"`
	Ratings   json.RawMessage `json:"ratings"`
}

type markCompleteRequest struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	PackageID string `json:"package_id"`
}

func (s *evalhubService) registerHandlers(b *appmain.Bindings) {
	b.HandleFunc("POST /v1/login", s.handleLogin)
	b.HandleFunc("POST /v1/quit", s.handleQuit)
	b.HandleFunc("POST /v1/submit-rating", s.handleSubmitRating)
	b.HandleFunc("POST /v1/mark-complete", s.handleMarkComplete)
	b.HandleFunc("GET /v1/packages/{id}/tasks", s.handlePackageTasks)
	b.HandleFunc("GET /v1/tasks/{id}", s.handleTask)
	b.HandleFunc("GET /v1/instructions", s.handleInstructions)
	b.HandleFunc("GET /v1/admin/summary", s.handleSummary)
}

func (s *evalhubService) handleLogin(w http.ResponseWriter, r *http.Request) {
	req := &loginRequest{}
	if !decodeRequest(w, r, req) {
		return
	}
	result, err := s.doLogin(r.Context(), req.UserID, req.Email, req.Background)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"success":    true,
		"package_id": result.PackageID,
		"resumed":    result.Resumed,
	})
}

func (s *evalhubService) handleQuit(w http.ResponseWriter, r *http.Request) {
	req := &quitRequest{}
	if !decodeRequest(w, r, req) {
		return
	}
	if err := s.doQuit(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"success": true})
}

func (s *evalhubService) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	req := &submitRatingRequest{}
	if !decodeRequest(w, r, req) {
		return
	}
	if err := s.doSubmitRating(r.Context(), req.UserID, req.Email, req.PackageID, req.Ratings); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"success": true})
}

func (s *evalhubService) handleMarkComplete(w http.ResponseWriter, r *http.Request) {
	req := &markCompleteRequest{}
	if !decodeRequest(w, r, req) {
		return
	}
	if err := s.doMarkComplete(r.Context(), req.UserID, req.Email, req.PackageID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": "Evaluation marked complete",
	})
}

func (s *evalhubService) handlePackageTasks(w http.ResponseWriter, r *http.Request) {
	ids, err := s.doGetPackageTasks(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
		"tasks":   ids,
	})
}

func (s *evalhubService) handleTask(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.doGetTask(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, bundle)
}

func (s *evalhubService) handleInstructions(w http.ResponseWriter, r *http.Request) {
	text, err := s.library.Instructions()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	if _, err := w.Write([]byte(text)); err != nil {
		logger.WithError(err).Warning("failed to write the instructions response")
	}
}

func (s *evalhubService) handleSummary(w http.ResponseWriter, r *http.Request) {
	result, err := s.doGenerateSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"message":    result.Message,
		"user_count": result.UserCount,
	})
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, status.Error(codes.InvalidArgument, "invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Warning("failed to write the response")
	}
}

// writeError maps the taxonomy onto http statuses the same way a grpc
// gateway would.
func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	werr := json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   st.Message(),
	})
	if werr != nil {
		logger.WithError(werr).Warning("failed to write the error response")
	}
}
