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

package common

import (
	"errors"
	"fmt"
)

// ErrCachedDataNotFound is returned when a value expected in the shared cache
// has not been written by its producer
var ErrCachedDataNotFound = errors.New("cached data not found")

// ErrAccountNotFound is returned when no account exists for a subscriber
var ErrAccountNotFound = errors.New("account not found")

// InitializationError is returned when required startup state is absent;
// the process must not serve requests after observing one
type InitializationError struct {
	Reason string
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization failed; %s", e.Reason)
}
