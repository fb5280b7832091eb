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
	"strings"

	"github.com/provideplatform/ussd/account"
	"github.com/provideplatform/ussd/common"
	"github.com/provideplatform/ussd/state"
	"github.com/provideplatform/ussd/store"
	"github.com/provideplatform/ussd/tasks"
)

const unknownName = "Unknown"

// surveyStates maps each onboarding survey state to the session key it collects
var surveyStates = map[string]string{
	"enter_full_name":             store.DataFullName,
	"survey_gender_selection":     store.DataGender,
	"economic_activity_selection": store.DataEconomicActivity,
	"monthly_expenditure_query":   store.DataMonthlyExpenditure,
}

func registerSurvey(r *state.Registry, d *Dependencies) {
	r.RegisterGuard("is_valid_village_selection", state.GuardFunc(isValidVillageSelection))
	r.RegisterGuard("is_valid_economic_activity_selection", state.GuardFunc(isValidEconomicActivitySelection))
	r.RegisterGuard("is_valid_monthly_expenditure_answer", state.GuardFunc(isValidMonthlyExpenditureAnswer))
	r.RegisterGuard("is_valid_expenditure_band_selection", state.GuardFunc(isValidExpenditureBandSelection))

	r.RegisterAction("save_village_selection", state.ActionFunc(d.saveVillageSelection))
	r.RegisterAction("save_survey_entry", state.ActionFunc(saveSurveyEntry))
	r.RegisterAction("process_account_creation", state.ActionFunc(d.processAccountCreation))
}

func isValidVillageSelection(c *state.Context) (bool, error) {
	_, ok := menuSelection(c.Input, len(account.Villages))
	return ok, nil
}

func isValidEconomicActivitySelection(c *state.Context) (bool, error) {
	_, ok := account.EconomicActivities[c.Input]
	return ok, nil
}

func isValidMonthlyExpenditureAnswer(c *state.Context) (bool, error) {
	_, ok := account.MonthlyExpenditures[c.Input]
	return ok, nil
}

func isValidExpenditureBandSelection(c *state.Context) (bool, error) {
	band, ok := account.ExpenditureBands[c.Session.State]
	if !ok {
		return false, nil
	}
	_, ok = band[c.Input]
	return ok, nil
}

func (d *Dependencies) saveVillageSelection(c *state.Context) error {
	idx, ok := menuSelection(c.Input, len(account.Villages))
	if !ok {
		return fmt.Errorf("invalid village selection %q", c.Input)
	}
	village := account.Villages[idx-1]
	if err := account.CacheVillage(d.Cache, c.Session.MSISDN, village); err != nil {
		return err
	}
	c.Session.Set(store.DataSelectedVillage, village)
	return nil
}

func saveSurveyEntry(c *state.Context) error {
	key, ok := surveyStates[c.Session.State]
	if !ok {
		return fmt.Errorf("state %s does not collect a survey entry", c.Session.State)
	}

	val := strings.TrimSpace(c.Input)
	switch key {
	case store.DataGender:
		idx, ok := menuSelection(c.Input, len(genders))
		if !ok {
			return fmt.Errorf("invalid gender selection %q", c.Input)
		}
		val = genders[idx-1]
	case store.DataEconomicActivity:
		val = account.EconomicActivities[c.Input]
	case store.DataMonthlyExpenditure:
		val = account.MonthlyExpenditures[c.Input]
	}
	c.Session.Set(key, val)
	return nil
}

// splitFullName returns the given and family names of a full name
func splitFullName(fullName string) (string, string) {
	names := strings.Fields(fullName)
	switch len(names) {
	case 0:
		return unknownName, unknownName
	case 1:
		return names[0], unknownName
	}
	return names[0], strings.Join(names[1:], " ")
}

// processAccountCreation requests an account for the caller; when the
// onboarding survey was answered the profile and survey response go with it
func (d *Dependencies) processAccountCreation(c *state.Context) error {
	req := &tasks.AccountCreationRequest{
		PhoneNumber:       c.Session.MSISDN,
		PreferredLanguage: c.Session.GetString(store.DataPreferredLanguage),
	}

	if band, ok := account.ExpenditureBands[c.Session.State]; ok {
		village := c.Session.GetString(store.DataSelectedVillage)
		if village == "" {
			village = account.CachedVillage(d.Cache, c.Session.MSISDN)
		}
		givenName, familyName := splitFullName(c.Session.GetString(store.DataFullName))

		req.Village = village
		req.Person = &account.PersonMetadata{
			GivenName:  givenName,
			FamilyName: familyName,
			Gender:     c.Session.GetString(store.DataGender),
			Location:   village,
			Products:   []string{},
		}

		resp := &account.SurveyResponse{
			PhoneNumber:        c.Session.MSISDN,
			Village:            common.StringOrNil(village),
			Gender:             common.StringOrNil(c.Session.GetString(store.DataGender)),
			EconomicActivity:   common.StringOrNil(c.Session.GetString(store.DataEconomicActivity)),
			MonthlyExpenditure: common.StringOrNil(c.Session.GetString(store.DataMonthlyExpenditure)),
			ExpenditureBand:    common.StringOrNil(band[c.Input]),
		}
		if err := resp.Save(c.DB); err != nil {
			return err
		}
	}

	_, err := tasks.CreateAccount(d.Dispatcher, d.Cache, d.Config, req)
	return err
}
