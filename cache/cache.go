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

package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/provideplatform/ussd/common"
)

// Cache is the shared key-value store written by asynchronous producers and
// read by the request path
type Cache interface {
	// Get returns common.ErrCachedDataNotFound when the key is absent
	Get(key string) (string, error)
	// Set writes the value; a zero ttl persists the key without expiry
	Set(key, value string, ttl time.Duration) error
	Expire(key string, ttl time.Duration) error
	Delete(key string) error
}

// RedisCache is the redis implementation of Cache
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to redis using the given options
func NewRedisCache(opts *redis.Options) (*RedisCache, error) {
	client := redis.NewClient(opts)
	if err := client.Ping().Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s; %s", opts.Addr, err.Error())
	}

	common.Log.Debugf("connected to redis at %s", opts.Addr)
	return &RedisCache{
		client: client,
	}, nil
}

// Get a cached value
func (r *RedisCache) Get(key string) (string, error) {
	val, err := r.client.Get(key).Result()
	if err == redis.Nil {
		return "", common.ErrCachedDataNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cache key %s; %s", key, err.Error())
	}
	return val, nil
}

// Set a cached value
func (r *RedisCache) Set(key, value string, ttl time.Duration) error {
	if err := r.client.Set(key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %s; %s", key, err.Error())
	}
	return nil
}

// Expire resets the ttl of a cached value
func (r *RedisCache) Expire(key string, ttl time.Duration) error {
	return r.client.Expire(key, ttl).Err()
}

// Delete a cached value
func (r *RedisCache) Delete(key string) error {
	return r.client.Del(key).Err()
}

// Close the underlying client
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// GetJSON reads a cached value and unmarshals it into dst
func GetJSON(c Cache, key string, dst interface{}) error {
	raw, err := c.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to unmarshal cached value for key %s; %s", key, err.Error())
	}
	return nil
}

// SetJSON marshals v and writes it to the cache
func SetJSON(c Cache, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value for cache key %s; %s", key, err.Error())
	}
	return c.Set(key, string(raw), ttl)
}
