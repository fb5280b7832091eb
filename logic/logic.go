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
	"fmt"

	"github.com/provideplatform/ussd/account"
	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/common"
	"github.com/provideplatform/ussd/state"
	"github.com/provideplatform/ussd/store"
	"github.com/provideplatform/ussd/tasks"
	"github.com/provideplatform/ussd/translation"
)

// Dependencies are the collaborators shared by every guard and action
type Dependencies struct {
	Config     *common.Config
	Cache      cache.Cache
	Dispatcher tasks.Dispatcher
	Notifier   *tasks.Notifier
	Catalog    *translation.Catalog
	Languages  []translation.Language
}

// NewRegistry returns a registry holding every guard and action
func NewRegistry(deps *Dependencies) *state.Registry {
	r := state.NewRegistry()
	Register(r, deps)
	return r
}

// Register adds every guard and action to r
func Register(r *state.Registry, deps *Dependencies) {
	registerLanguage(r, deps)
	registerSurvey(r, deps)
	registerPin(r, deps)
	registerTransaction(r, deps)
	registerTokens(r, deps)
	registerMetadata(r, deps)
	registerGuardianship(r, deps)
}

func requireAccount(c *state.Context) (*account.Account, error) {
	if c.Account == nil {
		return nil, fmt.Errorf("no account for session %s", c.Session.ExternalSessionID)
	}
	return c.Account, nil
}

func (d *Dependencies) language(c *state.Context) string {
	if c.Account == nil {
		return d.Catalog.Resolve(c.Session.GetString(store.DataPreferredLanguage))
	}
	return d.Catalog.Resolve(c.Account.PreferredLanguage(d.Cache, d.Catalog.Fallback()))
}

func (d *Dependencies) normalizePhoneNumber(input string) (string, bool) {
	phone, err := account.NormalizePhoneNumber(input, d.Config.Region)
	if err != nil {
		common.Log.Debugf("rejected phone number input; %s", err.Error())
		return "", false
	}
	return phone, true
}
