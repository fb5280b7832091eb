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

package account

import (
	"fmt"

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/common"
	provide "github.com/provideplatform/provide-go/api"
)

// Villages are offered in menu order during onboarding
var Villages = []string{
	"Batoufam",
	"Bameka",
	"Fondjomokwet",
	"Other",
	"Foreke-Dschang",
	"Koutaba",
}

// VillageTokens maps a village to the community token its accounts are locked to
var VillageTokens = map[string]string{
	"Batoufam":     "MBIP",
	"Bameka":       "MUN",
	"Fondjomokwet": "MBA",
}

// EconomicActivities maps survey menu options to activity codes; codes are
// translated under helpers at display time
var EconomicActivities = map[string]string{
	"1":  "agricultural_production",
	"2":  "service_provision",
	"3":  "commerce",
	"15": "other",
}

// MonthlyExpenditures maps survey menu options to expenditure ranges
var MonthlyExpenditures = map[string]string{
	"1": "0-20000",
	"2": "20000-35000",
	"3": "More than 35000",
}

// ExpenditureBands maps each band state to its menu options
var ExpenditureBands = map[string]map[string]string{
	"twenty_thousand_band": {
		"1": "0-10000",
		"2": "10000-15000",
		"3": "15000-20000",
	},
	"thirty_five_thousand_band": {
		"1": "20000-25000",
		"2": "25000-30000",
		"3": "30000-35000",
	},
	"above_thirty_five_thousand_band": {
		"1": "35000-40000",
		"2": "40000-45000",
		"3": "45000-50000",
	},
}

// SurveyResponse is the onboarding survey answered by a subscriber before their account is created
type SurveyResponse struct {
	provide.Model

	PhoneNumber        string  `sql:"not null" gorm:"unique_index" json:"phone_number"`
	Village            *string `json:"village,omitempty"`
	Gender             *string `json:"gender,omitempty"`
	EconomicActivity   *string `json:"economic_activity,omitempty"`
	MonthlyExpenditure *string `json:"monthly_expenditure,omitempty"`
	ExpenditureBand    *string `json:"expenditure_band,omitempty"`
}

// BeforeCreate assigns the survey response id
func (s *SurveyResponse) BeforeCreate(scope *gorm.Scope) error {
	if s.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	return scope.SetColumn("ID", id)
}

// FindSurveyResponse returns the survey response of a subscriber, or nil
func FindSurveyResponse(db *gorm.DB, phoneNumber string) (*SurveyResponse, error) {
	resp := &SurveyResponse{}
	result := db.Where("phone_number = ?", phoneNumber).First(resp)
	if result.RecordNotFound() {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query survey response; %s", result.Error.Error())
	}
	return resp, nil
}

// Create the survey response
func (s *SurveyResponse) Create(db *gorm.DB) bool {
	if !s.validate() {
		return false
	}

	if db.NewRecord(s) {
		result := db.Create(s)
		rowsAffected := result.RowsAffected
		errors := result.GetErrors()
		if len(errors) > 0 {
			for _, err := range errors {
				s.Errors = append(s.Errors, &provide.Error{
					Message: common.StringOrNil(err.Error()),
				})
			}
		}
		if !db.NewRecord(s) {
			success := rowsAffected > 0
			if success {
				common.Log.Debugf("recorded survey response %s for %s", s.ID, s.PhoneNumber)
			}
			return success
		}
	}

	return false
}

// Save creates the survey response, replacing the answers of an earlier
// onboarding attempt by the same subscriber
func (s *SurveyResponse) Save(db *gorm.DB) error {
	existing, err := FindSurveyResponse(db, s.PhoneNumber)
	if err != nil {
		return err
	}
	if existing == nil {
		if !s.Create(db) {
			if len(s.Errors) > 0 {
				return fmt.Errorf("failed to record survey response for %s; %s", s.PhoneNumber, *s.Errors[0].Message)
			}
			return fmt.Errorf("failed to record survey response for %s", s.PhoneNumber)
		}
		return nil
	}

	result := db.Model(&SurveyResponse{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
		"village":             s.Village,
		"gender":              s.Gender,
		"economic_activity":   s.EconomicActivity,
		"monthly_expenditure": s.MonthlyExpenditure,
		"expenditure_band":    s.ExpenditureBand,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update survey response for %s; %s", s.PhoneNumber, result.Error.Error())
	}
	s.ID = existing.ID
	s.CreatedAt = existing.CreatedAt
	return nil
}

func (s *SurveyResponse) validate() bool {
	s.Errors = make([]*provide.Error, 0)

	if s.PhoneNumber == "" {
		s.Errors = append(s.Errors, &provide.Error{
			Message: common.StringOrNil("phone number required"),
		})
	}

	return len(s.Errors) == 0
}

// CacheVillage records the village a subscriber selected during onboarding
func CacheVillage(c cache.Cache, phoneNumber, village string) error {
	return c.Set(cache.StringKey(cache.PointerAccountVillage, phoneNumber), village, 0)
}

// CachedVillage returns the village a subscriber selected during onboarding, or ""
func CachedVillage(c cache.Cache, phoneNumber string) string {
	village, _ := c.Get(cache.StringKey(cache.PointerAccountVillage, phoneNumber))
	return village
}
