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

package statestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"evalhub.dev/evalhub/internal/pool"
)

func sessionKey(userID string) string {
	return "session:" + userID
}

// GetSession gets the session record for the specified user id from state
// storage. This method fails if the session does not exist.
func (rb *redisBackend) GetSession(ctx context.Context, userID string) (*pool.Session, error) {
	redisConn, err := rb.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer handleConnectionClose(&redisConn)

	value, err := redis.Bytes(redisConn.Do("GET", sessionKey(userID)))
	if err != nil {
		// Return NotFound if redigo did not find the session in storage.
		if err == redis.ErrNil {
			msg := fmt.Sprintf("Session for user: %s not found", userID)
			return nil, status.Error(codes.NotFound, msg)
		}

		err = errors.Wrapf(err, "failed to get the session from state storage, user: %s", userID)
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	s := &pool.Session{}
	err = json.Unmarshal(value, s)
	if err != nil {
		err = errors.Wrapf(err, "failed to unmarshal the session record, user: %s", userID)
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	return s, nil
}

// ListSessions returns every session record currently indexed. Records
// deleted between the index read and the value read are silently ignored.
func (rb *redisBackend) ListSessions(ctx context.Context) ([]*pool.Session, error) {
	redisConn, err := rb.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer handleConnectionClose(&redisConn)

	ids, err := redis.Strings(redisConn.Do("SMEMBERS", allSessions))
	if err != nil {
		err = errors.Wrap(err, "failed to list indexed session ids")
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	queryParams := make([]interface{}, len(ids))
	for i, id := range ids {
		queryParams[i] = sessionKey(id)
	}

	values, err := redis.ByteSlices(redisConn.Do("MGET", queryParams...))
	if err != nil {
		err = errors.Wrapf(err, "failed to lookup sessions %v", ids)
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	r := make([]*pool.Session, 0, len(ids))
	for i, b := range values {
		if b == nil {
			continue
		}
		s := &pool.Session{}
		err = json.Unmarshal(b, s)
		if err != nil {
			err = errors.Wrapf(err, "failed to unmarshal session from redis, key %s", ids[i])
			return nil, status.Errorf(codes.Internal, "%v", err)
		}
		r = append(r, s)
	}

	return r, nil
}
