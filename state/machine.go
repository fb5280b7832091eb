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
	"fmt"
	"strings"

	"github.com/provideplatform/ussd/account"
	"github.com/provideplatform/ussd/common"
)

var requiredStates = []string{
	StateInitialLanguageSelection,
	StateInitialPinEntry,
	StateStart,
	StatePinBlocked,
	StateInvalidMenuOption,
	StateInvalidInput,
}

type namedGuard struct {
	name  string
	guard Guard
}

type namedAction struct {
	name   string
	action Action
}

type boundTransition struct {
	*Transition
	guards  []namedGuard
	actions []namedAction
}

// Machine computes next states over a validated menu graph
type Machine struct {
	states       map[string]*State
	ordered      []*State
	transitions  map[string][]*boundTransition
	nonResumable map[string]bool
}

// New validates the graph against the registry and binds every guard and
// action by name; any unknown name fails construction
func New(graph *Graph, registry *Registry) (*Machine, error) {
	m := &Machine{
		states:       map[string]*State{},
		ordered:      make([]*State, 0, len(graph.States)),
		transitions:  map[string][]*boundTransition{},
		nonResumable: map[string]bool{},
	}

	problems := make([]string, 0)

	for _, st := range graph.States {
		if _, exists := m.states[st.Name]; exists {
			problems = append(problems, fmt.Sprintf("duplicate state %s", st.Name))
			continue
		}
		if st.DisplayKey == "" {
			st.DisplayKey = fmt.Sprintf("ussd.%s", st.Name)
		}
		m.states[st.Name] = st
		m.ordered = append(m.ordered, st)
	}

	for _, st := range m.ordered {
		if st.Parent != "" {
			if _, ok := m.states[st.Parent]; !ok {
				problems = append(problems, fmt.Sprintf("unknown parent %s of state %s", st.Parent, st.Name))
			}
		}
	}

	for _, name := range requiredStates {
		if _, ok := m.states[name]; !ok {
			problems = append(problems, fmt.Sprintf("missing required state %s", name))
		}
	}

	for _, name := range graph.NonResumableStates {
		if _, ok := m.states[name]; !ok {
			problems = append(problems, fmt.Sprintf("unknown non-resumable state %s", name))
		}
		m.nonResumable[name] = true
	}

	for _, t := range graph.Transitions {
		label := fmt.Sprintf("%s -> %s", t.Source, t.Destination)
		if _, ok := m.states[t.Source]; !ok {
			problems = append(problems, fmt.Sprintf("unknown source state in transition %s", label))
		}
		if _, ok := m.states[t.Destination]; !ok {
			problems = append(problems, fmt.Sprintf("unknown destination state in transition %s", label))
		}

		bound := &boundTransition{Transition: t}
		for _, name := range t.Guards {
			g, ok := registry.Guard(name)
			if !ok {
				problems = append(problems, fmt.Sprintf("unknown guard %s in transition %s", name, label))
				continue
			}
			bound.guards = append(bound.guards, namedGuard{name: name, guard: g})
		}
		for _, name := range t.Actions {
			a, ok := registry.Action(name)
			if !ok {
				problems = append(problems, fmt.Sprintf("unknown action %s in transition %s", name, label))
				continue
			}
			bound.actions = append(bound.actions, namedAction{name: name, action: a})
		}
		m.transitions[t.Source] = append(m.transitions[t.Source], bound)
	}

	if len(problems) > 0 {
		return nil, &common.InitializationError{Reason: fmt.Sprintf("invalid menu graph; %s", strings.Join(problems, "; "))}
	}

	common.Log.Debugf("initialized menu graph with %d state(s) and %d transition(s)", len(m.ordered), len(graph.Transitions))
	return m, nil
}

// State returns the named state
func (m *Machine) State(name string) (*State, bool) {
	st, ok := m.states[name]
	return st, ok
}

// States returns every state in declaration order
func (m *Machine) States() []*State {
	return m.ordered
}

// Transitions returns the outgoing transitions of a state in evaluation order
func (m *Machine) Transitions(source string) []*Transition {
	bound := m.transitions[source]
	transitions := make([]*Transition, len(bound))
	for i, t := range bound {
		transitions[i] = t.Transition
	}
	return transitions
}

// EntryState returns the state a fresh call starts in
func (m *Machine) EntryState(acct *account.Account) string {
	if acct == nil {
		return StateInitialLanguageSelection
	}
	if acct.PinIsBlocked() {
		return StatePinBlocked
	}
	if !acct.HasValidPin() {
		return StateInitialPinEntry
	}
	return StateStart
}

// IsResumable returns true if a call interrupted in the named state may be resumed
func (m *Machine) IsResumable(name string) bool {
	st, ok := m.states[name]
	if !ok {
		return false
	}
	return !m.nonResumable[name] && !st.IsTerminal()
}

// ResumeState returns the menu a caller re-dialing into an interrupted call
// lands on: the parent of the interrupted state, or the state itself when it
// has no parent
func (m *Machine) ResumeState(last string) (string, bool) {
	if !m.IsResumable(last) {
		return "", false
	}
	if parent := m.states[last].Parent; parent != "" {
		return parent, true
	}
	return last, true
}

// Reachable returns true if the named state can be reached from another by
// following transitions and back navigation
func (m *Machine) Reachable(from, to string) bool {
	if _, ok := m.states[from]; !ok {
		return false
	}
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if name == to {
			return true
		}
		next := make([]string, 0, len(m.transitions[name])+1)
		for _, t := range m.transitions[name] {
			next = append(next, t.Destination)
		}
		if parent := m.states[name].Parent; parent != "" {
			next = append(next, parent)
		}
		for _, n := range next {
			if _, ok := m.states[n]; ok && !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false
}

// Advance computes the next state for the call described by c, running the
// actions of the first transition whose input matches and whose guards all pass
func (m *Machine) Advance(c *Context) (string, error) {
	if c.Account != nil && c.Account.PinIsBlocked() {
		return StatePinBlocked, nil
	}

	c.Input = LatestInput(c.Input)
	if c.Session == nil {
		return m.EntryState(c.Account), nil
	}
	if c.Input == "" {
		if c.RestartOnEmptyInput {
			return m.EntryState(c.Account), nil
		}
		return StateInvalidInput, nil
	}

	current, ok := m.states[c.Session.State]
	if !ok {
		common.Log.Warningf("session %s is in unknown state %s", c.Session.ExternalSessionID, c.Session.State)
		return m.EntryState(c.Account), nil
	}

	if c.Input == InputBack && current.Parent != "" {
		return current.Parent, nil
	}

	for _, t := range m.transitions[current.Name] {
		if !t.matches(c.Input) {
			continue
		}

		passed, err := m.checkGuards(c, t)
		if err != nil {
			return "", err
		}
		if !passed {
			continue
		}

		for _, a := range t.actions {
			if err := a.action.Execute(c); err != nil {
				return "", fmt.Errorf("action %s failed in transition %s -> %s; %w", a.name, t.Source, t.Destination, err)
			}
		}

		common.Log.Debugf("session %s transitioned %s -> %s", c.Session.ExternalSessionID, t.Source, t.Destination)
		return t.Destination, nil
	}

	return StateInvalidMenuOption, nil
}

func (m *Machine) checkGuards(c *Context, t *boundTransition) (bool, error) {
	for _, g := range t.guards {
		ok, err := g.guard.Check(c)
		if err != nil {
			return false, fmt.Errorf("guard %s failed in transition %s -> %s; %w", g.name, t.Source, t.Destination, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
