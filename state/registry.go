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

package state

import (
	"context"
	"fmt"

	"github.com/jinzhu/gorm"
	"github.com/provideplatform/ussd/account"
	"github.com/provideplatform/ussd/store"
)

// Context is the explicit input to guards and actions for one transition
type Context struct {
	Ctx context.Context

	// Input is the normalized latest input
	Input   string
	Session *store.Session
	Account *account.Account
	DB      *gorm.DB

	// RestartOnEmptyInput sends empty input on an existing session back to the
	// entry state; set for providers correlating calls by subscriber
	RestartOnEmptyInput bool
}

// Guard decides whether a transition may be taken; guards do not mutate state
type Guard interface {
	Check(c *Context) (bool, error)
}

// Action performs a side effect of a taken transition
type Action interface {
	Execute(c *Context) error
}

// GuardFunc adapts a function to Guard
type GuardFunc func(c *Context) (bool, error)

// Check calls f(c)
func (f GuardFunc) Check(c *Context) (bool, error) {
	return f(c)
}

// ActionFunc adapts a function to Action
type ActionFunc func(c *Context) error

// Execute calls f(c)
func (f ActionFunc) Execute(c *Context) error {
	return f(c)
}

// Registry maps stable names used by the menu graph to guards and actions
type Registry struct {
	guards  map[string]Guard
	actions map[string]Action
}

// NewRegistry initializes an empty registry
func NewRegistry() *Registry {
	return &Registry{
		guards:  map[string]Guard{},
		actions: map[string]Action{},
	}
}

// RegisterGuard registers a named guard; duplicate names panic
func (r *Registry) RegisterGuard(name string, g Guard) {
	if _, exists := r.guards[name]; exists {
		panic(fmt.Sprintf("guard %s registered twice", name))
	}
	r.guards[name] = g
}

// RegisterAction registers a named action; duplicate names panic
func (r *Registry) RegisterAction(name string, a Action) {
	if _, exists := r.actions[name]; exists {
		panic(fmt.Sprintf("action %s registered twice", name))
	}
	r.actions[name] = a
}

// Guard returns the named guard
func (r *Registry) Guard(name string) (Guard, bool) {
	g, ok := r.guards[name]
	return g, ok
}

// Action returns the named action
func (r *Registry) Action(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}
