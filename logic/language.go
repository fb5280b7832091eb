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

package logic

import (
	"strconv"

	"github.com/provideplatform/ussd/account"
	"github.com/provideplatform/ussd/common"
	"github.com/provideplatform/ussd/state"
	"github.com/provideplatform/ussd/store"
	"github.com/provideplatform/ussd/tasks"
)

// navigation inputs that are never menu selections
var reservedInputs = []string{"00", "11", "22"}

func registerLanguage(r *state.Registry, d *Dependencies) {
	r.RegisterGuard("is_valid_language_selection", state.GuardFunc(d.isValidLanguageSelection))
	r.RegisterAction("save_preferred_language_selection", state.ActionFunc(d.savePreferredLanguageSelection))
	r.RegisterAction("change_preferred_language", state.ActionFunc(d.changePreferredLanguage))
}

// menuSelection parses a 1-based menu selection bounded by size
func menuSelection(input string, size int) (int, bool) {
	if common.ContainsString(reservedInputs, input) {
		return 0, false
	}
	idx, err := strconv.Atoi(input)
	if err != nil || idx < 1 || idx > size {
		return 0, false
	}
	return idx, true
}

func (d *Dependencies) selectedLanguage(c *state.Context) (string, bool) {
	idx, ok := menuSelection(c.Input, len(d.Languages))
	if !ok {
		return "", false
	}
	return d.Languages[idx-1].Code, true
}

func (d *Dependencies) isValidLanguageSelection(c *state.Context) (bool, error) {
	_, ok := d.selectedLanguage(c)
	return ok, nil
}

func (d *Dependencies) savePreferredLanguageSelection(c *state.Context) error {
	code, _ := d.selectedLanguage(c)
	c.Session.Set(store.DataPreferredLanguage, code)
	return nil
}

func (d *Dependencies) changePreferredLanguage(c *state.Context) error {
	acct, err := requireAccount(c)
	if err != nil {
		return err
	}

	code, _ := d.selectedLanguage(c)
	prefs := &account.Preferences{PreferredLanguage: code}
	if err := account.CachePreferences(d.Cache, acct.BlockchainAddress, prefs); err != nil {
		return err
	}
	return tasks.UpsertPreferences(d.Dispatcher, acct.BlockchainAddress, prefs)
}
