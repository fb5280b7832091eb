/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redsync/redsync"
	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
	provide "github.com/provideplatform/provide-go/api"
	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/common"
)

const sessionLockExpiry = time.Second * 30
const sessionLockRetryDelay = time.Millisecond * 250
const sessionLockTries = 40

// Snapshot model; the durable copy of a session used for resumption across calls
type Snapshot struct {
	provide.Model
	UpdatedAt time.Time `json:"updated_at"`

	ExternalSessionID string `sql:"not null" gorm:"unique_index" json:"external_session_id"`
	MSISDN            string `sql:"not null" gorm:"column:msisdn;index" json:"msisdn"`
	ServiceCode       string `json:"service_code"`
	State             string `sql:"not null" json:"state"`
	UserInput         string `json:"user_input"`
	Data              string `json:"data"`
	Version           uint64 `json:"version"`
}

// TableName for the snapshot model
func (Snapshot) TableName() string {
	return "ussd_sessions"
}

// BeforeCreate assigns the snapshot id
func (s *Snapshot) BeforeCreate(scope *gorm.Scope) error {
	if s.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	return scope.SetColumn("ID", id)
}

func (s *Snapshot) session() (*Session, error) {
	data := map[string]interface{}{}
	if s.Data != "" {
		if err := json.Unmarshal([]byte(s.Data), &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal data of session snapshot %s; %s", s.ExternalSessionID, err.Error())
		}
	}
	return &Session{
		ExternalSessionID: s.ExternalSessionID,
		MSISDN:            s.MSISDN,
		ServiceCode:       s.ServiceCode,
		State:             s.State,
		UserInput:         s.UserInput,
		Data:              data,
		Version:           s.Version,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}, nil
}

// Store persists live sessions in the shared cache and snapshots them durably
type Store struct {
	cache     cache.Cache
	db        *gorm.DB
	ttl       time.Duration
	replayTTL time.Duration
	mutexes   *redsync.Redsync
}

// NewStore initializes a session store; step locking is disabled when pool is nil
func NewStore(c cache.Cache, db *gorm.DB, cfg *common.Config, pool redsync.Pool) *Store {
	s := &Store{
		cache:     c,
		db:        db,
		ttl:       cfg.SessionTTL,
		replayTTL: cfg.ReplayTTL,
	}
	if pool != nil {
		s.mutexes = redsync.New([]redsync.Pool{pool})
	}
	return s
}

// SessionKey is the cache key of the live session for a correlation id
func SessionKey(correlationID string) string {
	return cache.StringKey(cache.PointerSession, correlationID)
}

// Resolve returns the live session for a correlation id, or nil
func (s *Store) Resolve(correlationID string) (*Session, error) {
	sess := &Session{}
	err := cache.GetJSON(s.cache, SessionKey(correlationID), sess)
	if err == common.ErrCachedDataNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// CreateOrUpdate advances the live session for a correlation id, creating it
// when absent. A nil data map keeps the accumulated data; a non-nil map
// replaces it.
func (s *Store) CreateOrUpdate(correlationID, msisdn, serviceCode, input, state string, data map[string]interface{}) (*Session, error) {
	sess, err := s.Resolve(correlationID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if sess == nil {
		sess = &Session{
			ExternalSessionID: correlationID,
			MSISDN:            msisdn,
			ServiceCode:       serviceCode,
			Data:              map[string]interface{}{},
			CreatedAt:         now,
		}
	}
	if data != nil {
		sess.Data = data
	}

	sess.State = state
	sess.UserInput = input
	sess.Version++
	sess.UpdatedAt = now
	return sess, nil
}

// Persist writes the live session with a fresh ttl and upserts its durable snapshot
func (s *Store) Persist(sess *Session) error {
	if err := cache.SetJSON(s.cache, SessionKey(sess.ExternalSessionID), sess, s.ttl); err != nil {
		return err
	}

	data, err := json.Marshal(sess.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal data of session %s; %s", sess.ExternalSessionID, err.Error())
	}

	snapshot := &Snapshot{}
	result := s.db.Where("external_session_id = ?", sess.ExternalSessionID).First(snapshot)
	if result.Error != nil && !result.RecordNotFound() {
		return fmt.Errorf("failed to resolve snapshot of session %s; %s", sess.ExternalSessionID, result.Error.Error())
	}

	snapshot.ExternalSessionID = sess.ExternalSessionID
	snapshot.MSISDN = sess.MSISDN
	snapshot.ServiceCode = sess.ServiceCode
	snapshot.State = sess.State
	snapshot.UserInput = sess.UserInput
	snapshot.Data = string(data)
	snapshot.Version = sess.Version

	if s.db.NewRecord(snapshot) {
		result = s.db.Create(snapshot)
	} else {
		result = s.db.Save(snapshot)
	}
	if result.Error != nil {
		return fmt.Errorf("failed to persist snapshot of session %s; %s", sess.ExternalSessionID, result.Error.Error())
	}

	common.Log.Debugf("persisted session %s at state %s (version %d)", sess.ExternalSessionID, sess.State, sess.Version)
	return nil
}

// LastForSubscriber returns the most recent durable snapshot for a subscriber, or nil
func (s *Store) LastForSubscriber(msisdn string) (*Session, error) {
	snapshot := &Snapshot{}
	result := s.db.Where("msisdn = ?", msisdn).Order("updated_at desc").First(snapshot)
	if result.RecordNotFound() {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to resolve last session for %s; %s", msisdn, result.Error.Error())
	}
	return snapshot.session()
}

// FindSnapshot returns the durable snapshot of a session, or nil
func (s *Store) FindSnapshot(correlationID string) (*Session, error) {
	snapshot := &Snapshot{}
	result := s.db.Where("external_session_id = ?", correlationID).First(snapshot)
	if result.RecordNotFound() {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to resolve snapshot of session %s; %s", correlationID, result.Error.Error())
	}
	return snapshot.session()
}

// Lock serializes processing of a call step; the returned func releases the lock
func (s *Store) Lock(correlationID string) (func(), error) {
	if s.mutexes == nil {
		return func() {}, nil
	}

	mutex := s.mutexes.NewMutex(
		fmt.Sprintf("ussd.session.lock.%s", correlationID),
		redsync.SetExpiry(sessionLockExpiry),
		redsync.SetTries(sessionLockTries),
		redsync.SetRetryDelay(sessionLockRetryDelay),
	)
	if err := mutex.Lock(); err != nil {
		return nil, fmt.Errorf("failed to lock session %s; %s", correlationID, err.Error())
	}

	return func() {
		if !mutex.Unlock() {
			common.Log.Warningf("failed to release lock on session %s", correlationID)
		}
	}, nil
}

// CachedResponse returns the response already rendered for a correlation id and raw input
func (s *Store) CachedResponse(correlationID, rawInput string) (string, bool) {
	resp, err := s.cache.Get(cache.StringKey(cache.PointerResponse, correlationID, rawInput))
	if err != nil {
		return "", false
	}
	return resp, true
}

// CacheResponse records the rendered response so a redelivered request is answered without advancing the session
func (s *Store) CacheResponse(correlationID, rawInput, response string) error {
	return s.cache.Set(cache.StringKey(cache.PointerResponse, correlationID, rawInput), response, s.replayTTL)
}
