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
	"io/ioutil"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	StateInitialLanguageSelection = "initial_language_selection"
	StateInitialPinEntry          = "initial_pin_entry"
	StateStart                    = "start"
	StatePinBlocked               = "exit_pin_blocked"
	StateInvalidMenuOption        = "exit_invalid_menu_option"
	StateInvalidInput             = "exit_invalid_input"
)

// InputAny matches every input
const InputAny = "*"

// InputBack navigates to the parent state
const InputBack = "0"

const inputSeparator = "*"

const terminalStatePrefix = "exit"

// State is a node of the menu graph
type State struct {
	Name       string `yaml:"name" json:"name"`
	DisplayKey string `yaml:"display_key" json:"display_key"`
	Parent     string `yaml:"parent,omitempty" json:"parent,omitempty"`
}

// IsTerminal returns true if the state ends the call
func (s *State) IsTerminal() bool {
	return strings.HasPrefix(s.Name, terminalStatePrefix)
}

// Transition is an edge of the menu graph, evaluated in declaration order
type Transition struct {
	Source      string   `yaml:"source" json:"source"`
	InputMatch  string   `yaml:"input_match,omitempty" json:"input_match,omitempty"`
	Guards      []string `yaml:"guards,omitempty" json:"guards,omitempty"`
	Actions     []string `yaml:"actions,omitempty" json:"actions,omitempty"`
	Destination string   `yaml:"destination" json:"destination"`
}

// matches returns true if the transition applies to the normalized input
func (t *Transition) matches(input string) bool {
	return t.InputMatch == "" || t.InputMatch == InputAny || t.InputMatch == input
}

// Graph is the declarative menu graph
type Graph struct {
	States             []*State      `yaml:"states"`
	Transitions        []*Transition `yaml:"transitions"`
	NonResumableStates []string      `yaml:"non_resumable_states"`
}

// LoadGraph reads a menu graph from a yaml (or json) file
func LoadGraph(path string) (*Graph, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read menu graph %s; %s", path, err.Error())
	}
	return ParseGraph(raw)
}

// ParseGraph parses a yaml (or json) menu graph
func ParseGraph(raw []byte) (*Graph, error) {
	graph := &Graph{}
	if err := yaml.Unmarshal(raw, graph); err != nil {
		return nil, fmt.Errorf("failed to parse menu graph; %s", err.Error())
	}
	return graph, nil
}

// LatestInput returns the most recent selection from an accumulated input
// trail such as "1*2*3"
func LatestInput(raw string) string {
	parts := strings.Split(strings.TrimSpace(raw), inputSeparator)
	return strings.TrimSpace(parts[len(parts)-1])
}
