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

package gateway

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = time.Minute * 10
const limiterSweepInterval = 512

// SubscriberLimiter applies a token bucket per subscriber and periodically
// evicts idle buckets
type SubscriberLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets map[string]*bucket
	hits    uint64
	idleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSubscriberLimiter returns nil, which allows everything, unless rps and burst are positive
func NewSubscriberLimiter(rps float64, burst int) *SubscriberLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &SubscriberLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: map[string]*bucket{},
		idleTTL: limiterIdleTTL,
	}
}

// Allow reports whether the subscriber may make a request at now
func (l *SubscriberLimiter) Allow(subscriber string, now time.Time) bool {
	if l == nil {
		return true
	}
	subscriber = strings.TrimSpace(subscriber)
	if subscriber == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[subscriber]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[subscriber] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%limiterSweepInterval == 0 {
		cutoff := now.Add(-l.idleTTL)
		for key, b := range l.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(l.buckets, key)
			}
		}
	}

	return allowed
}
