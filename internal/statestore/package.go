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

func packageKey(id string) string {
	return "pkg:" + id
}

// CreatePackage creates a new package record in state storage. If the id
// already exists, it will be overwritten.
func (rb *redisBackend) CreatePackage(ctx context.Context, p *pool.Package) error {
	redisConn, err := rb.connect(ctx)
	if err != nil {
		return err
	}
	defer handleConnectionClose(&redisConn)

	value, err := json.Marshal(p)
	if err != nil {
		err = errors.Wrapf(err, "failed to marshal the package record, id: %s", p.ID)
		return status.Errorf(codes.Internal, "%v", err)
	}

	err = redisConn.Send("MULTI")
	if err != nil {
		return status.Errorf(codes.Internal, "error starting redis multi: %v", err)
	}
	err = redisConn.Send("SET", packageKey(p.ID), value)
	if err != nil {
		return status.Errorf(codes.Internal, "error sending package set: %v", err)
	}
	err = redisConn.Send("SADD", allPackages, p.ID)
	if err != nil {
		return status.Errorf(codes.Internal, "error sending package index add: %v", err)
	}
	_, err = redisConn.Do("EXEC")
	if err != nil {
		err = errors.Wrapf(err, "failed to set the value for package, id: %s", p.ID)
		return status.Errorf(codes.Internal, "%v", err)
	}

	return nil
}

// GetPackage gets the package record with the specified id from state
// storage. This method fails if the package does not exist.
func (rb *redisBackend) GetPackage(ctx context.Context, id string) (*pool.Package, error) {
	redisConn, err := rb.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer handleConnectionClose(&redisConn)

	value, err := redis.Bytes(redisConn.Do("GET", packageKey(id)))
	if err != nil {
		// Return NotFound if redigo did not find the package in storage.
		if err == redis.ErrNil {
			msg := fmt.Sprintf("Package id: %s not found", id)
			return nil, status.Error(codes.NotFound, msg)
		}

		err = errors.Wrapf(err, "failed to get the package from state storage, id: %s", id)
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	p := &pool.Package{}
	err = json.Unmarshal(value, p)
	if err != nil {
		err = errors.Wrapf(err, "failed to unmarshal the package record, id: %s", id)
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	return p, nil
}

// ListPackages returns every package record currently indexed. Records
// deleted between the index read and the value read are silently ignored.
func (rb *redisBackend) ListPackages(ctx context.Context) ([]*pool.Package, error) {
	redisConn, err := rb.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer handleConnectionClose(&redisConn)

	ids, err := redis.Strings(redisConn.Do("SMEMBERS", allPackages))
	if err != nil {
		err = errors.Wrap(err, "failed to list indexed package ids")
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	queryParams := make([]interface{}, len(ids))
	for i, id := range ids {
		queryParams[i] = packageKey(id)
	}

	values, err := redis.ByteSlices(redisConn.Do("MGET", queryParams...))
	if err != nil {
		err = errors.Wrapf(err, "failed to lookup packages %v", ids)
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	r := make([]*pool.Package, 0, len(ids))
	for i, b := range values {
		if b == nil {
			continue
		}
		p := &pool.Package{}
		err = json.Unmarshal(b, p)
		if err != nil {
			err = errors.Wrapf(err, "failed to unmarshal package from redis, key %s", ids[i])
			return nil, status.Errorf(codes.Internal, "%v", err)
		}
		r = append(r, p)
	}

	return r, nil
}

// CommitAssignment publishes the given package records and, when session is
// not nil, the session record, in one MULTI/EXEC so a storage failure
// leaves both stores in their prior state.
func (rb *redisBackend) CommitAssignment(ctx context.Context, changed []*pool.Package, session *pool.Session) error {
	if len(changed) == 0 && session == nil {
		return nil
	}

	redisConn, err := rb.connect(ctx)
	if err != nil {
		return err
	}
	defer handleConnectionClose(&redisConn)

	err = redisConn.Send("MULTI")
	if err != nil {
		return status.Errorf(codes.Internal, "error starting redis multi: %v", err)
	}

	for _, p := range changed {
		var value []byte
		value, err = json.Marshal(p)
		if err != nil {
			err = errors.Wrapf(err, "failed to marshal the package record, id: %s", p.ID)
			return status.Errorf(codes.Internal, "%v", err)
		}
		err = redisConn.Send("SET", packageKey(p.ID), value)
		if err != nil {
			return status.Errorf(codes.Internal, "error sending package set: %v", err)
		}
	}

	if session != nil {
		var value []byte
		value, err = json.Marshal(session)
		if err != nil {
			err = errors.Wrapf(err, "failed to marshal the session record, user: %s", session.UserID)
			return status.Errorf(codes.Internal, "%v", err)
		}
		err = redisConn.Send("SET", sessionKey(session.UserID), value)
		if err != nil {
			return status.Errorf(codes.Internal, "error sending session set: %v", err)
		}
		err = redisConn.Send("SADD", allSessions, session.UserID)
		if err != nil {
			return status.Errorf(codes.Internal, "error sending session index add: %v", err)
		}
	}

	_, err = redisConn.Do("EXEC")
	if err != nil {
		err = errors.Wrap(err, "failed to commit assignment")
		return status.Errorf(codes.Internal, "%v", err)
	}

	return nil
}

// CommitRelease publishes the given package record (may be nil when the
// package is unknown) and deletes the session for userID in one MULTI/EXEC.
func (rb *redisBackend) CommitRelease(ctx context.Context, pkg *pool.Package, userID string) error {
	redisConn, err := rb.connect(ctx)
	if err != nil {
		return err
	}
	defer handleConnectionClose(&redisConn)

	err = redisConn.Send("MULTI")
	if err != nil {
		return status.Errorf(codes.Internal, "error starting redis multi: %v", err)
	}

	if pkg != nil {
		var value []byte
		value, err = json.Marshal(pkg)
		if err != nil {
			err = errors.Wrapf(err, "failed to marshal the package record, id: %s", pkg.ID)
			return status.Errorf(codes.Internal, "%v", err)
		}
		err = redisConn.Send("SET", packageKey(pkg.ID), value)
		if err != nil {
			return status.Errorf(codes.Internal, "error sending package set: %v", err)
		}
	}

	err = redisConn.Send("DEL", sessionKey(userID))
	if err != nil {
		return status.Errorf(codes.Internal, "error sending session delete: %v", err)
	}
	err = redisConn.Send("SREM", allSessions, userID)
	if err != nil {
		return status.Errorf(codes.Internal, "error sending session index remove: %v", err)
	}

	_, err = redisConn.Do("EXEC")
	if err != nil {
		err = errors.Wrapf(err, "failed to commit release for user %s", userID)
		return status.Errorf(codes.Internal, "%v", err)
	}

	return nil
}
