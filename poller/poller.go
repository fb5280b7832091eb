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

package poller

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/common"
)

// Target is polled until it yields a ready value; errors abort polling
type Target func() (interface{}, error)

// MaxRetryReachedError is returned when a target did not yield a ready value
// within the retry budget or before the context deadline
type MaxRetryReachedError struct {
	// Target describes what was awaited
	Target string
	// Observations holds every non-ready value seen, in attempt order
	Observations []interface{}

	cause error
}

func (e *MaxRetryReachedError) Error() string {
	msg := fmt.Sprintf("max retries reached after %d attempt(s) awaiting %s", len(e.Observations), e.Target)
	if e.cause != nil {
		msg = fmt.Sprintf("%s; %s", msg, e.cause.Error())
	}
	return msg
}

// Unwrap returns the context error when polling was cut short by the deadline
func (e *MaxRetryReachedError) Unwrap() error {
	return e.cause
}

// IsReady reports whether a polled value is ready. Nil, empty strings, empty
// slices, zero numbers and false are not ready; any map, including an empty
// one, is ready since producers write an empty map to mean "no data".
func IsReady(val interface{}) bool {
	if val == nil {
		return false
	}

	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Map:
		return true
	case reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	}

	return true
}

// WaitFor polls target at a fixed interval for at most maxRetries attempts
func WaitFor(ctx context.Context, label string, target Target, interval time.Duration, maxRetries int) (interface{}, error) {
	observations := make([]interface{}, 0, maxRetries)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		val, err := target()
		if err != nil {
			return nil, err
		}
		if IsReady(val) {
			return val, nil
		}

		observations = append(observations, val)
		common.Log.Tracef("awaiting %s; attempt %d of %d not ready", label, attempt, maxRetries)

		if attempt == maxRetries {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &MaxRetryReachedError{
				Target:       label,
				Observations: observations,
				cause:        ctx.Err(),
			}
		case <-timer.C:
		}
	}

	return nil, &MaxRetryReachedError{
		Target:       label,
		Observations: observations,
	}
}

// WaitForCache polls the shared cache until key holds a non-empty value
func WaitForCache(ctx context.Context, c cache.Cache, key string, interval time.Duration, maxRetries int) (string, error) {
	val, err := WaitFor(ctx, fmt.Sprintf("cache key %s", key), func() (interface{}, error) {
		raw, err := c.Get(key)
		if err == common.ErrCachedDataNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return raw, nil
	}, interval, maxRetries)
	if err != nil {
		return "", err
	}
	return val.(string), nil
}
